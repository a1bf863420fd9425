package sigacq

import (
	"fmt"
	"net"
	"time"

	"go.bug.st/serial"
)

// ProgressFunc reports the fraction [0,1] of a bulk transfer completed so
// far. Implementations must return quickly: they run on the transport
// goroutine and eat into the exchange's timeout budget.
type ProgressFunc func(fraction float64)

// Transport is the byte-stream connection to one instrument. It knows
// nothing about framing; the Conversation layer builds request/response
// exchanges on top of it.
type Transport interface {
	// Write sends raw bytes to the instrument.
	Write(p []byte) (int, error)

	// ReadOne polls for a single byte without blocking longer than the
	// transport's internal poll granularity. It reports ok=false when no
	// byte is currently available.
	ReadOne() (b byte, ok bool)

	// ReadN reads up to len(p) bytes in one bounded pass, calling progress
	// (if non-nil) as data arrives with the fraction of len(p) read so far.
	// It returns the number of bytes actually read, which may be short; the
	// caller owns retry and timeout policy.
	ReadN(p []byte, progress ProgressFunc) int

	Close() error
}

// transportPollInterval bounds how long a single ReadOne or ReadN pass may
// block waiting for the device.
const transportPollInterval = 250 * time.Microsecond

// TCPTransport adapts a net.Conn to the Transport contract.
type TCPTransport struct {
	conn net.Conn
}

// NewTCPTransport dials addr (host:port) and returns the connected transport.
func NewTCPTransport(addr string) (*TCPTransport, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not connect to instrument at %s: %w", addr, err)
	}
	return &TCPTransport{conn: conn}, nil
}

func (t *TCPTransport) Write(p []byte) (int, error) {
	return t.conn.Write(p)
}

func (t *TCPTransport) ReadOne() (byte, bool) {
	var buf [1]byte
	t.conn.SetReadDeadline(time.Now().Add(transportPollInterval))
	n, _ := t.conn.Read(buf[:])
	return buf[0], n == 1
}

func (t *TCPTransport) ReadN(p []byte, progress ProgressFunc) int {
	total := 0
	for total < len(p) {
		t.conn.SetReadDeadline(time.Now().Add(transportPollInterval))
		n, err := t.conn.Read(p[total:])
		total += n
		if progress != nil && n > 0 {
			progress(float64(total) / float64(len(p)))
		}
		if err != nil {
			break // deadline passes and hard errors both end this pass
		}
	}
	return total
}

func (t *TCPTransport) Close() error {
	return t.conn.Close()
}

// SerialTransport talks to an instrument over a local serial port (or a USB
// CDC-ACM device that presents as one).
type SerialTransport struct {
	port serial.Port
}

// NewSerialTransport opens the named port at the given baud rate.
func NewSerialTransport(portname string, baud int) (*SerialTransport, error) {
	mode := &serial.Mode{BaudRate: baud}
	port, err := serial.Open(portname, mode)
	if err != nil {
		return nil, fmt.Errorf("could not open serial port %s: %w", portname, err)
	}
	return &SerialTransport{port: port}, nil
}

func (t *SerialTransport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

func (t *SerialTransport) ReadOne() (byte, bool) {
	var buf [1]byte
	t.port.SetReadTimeout(transportPollInterval)
	n, _ := t.port.Read(buf[:])
	return buf[0], n == 1
}

func (t *SerialTransport) ReadN(p []byte, progress ProgressFunc) int {
	total := 0
	for total < len(p) {
		t.port.SetReadTimeout(transportPollInterval)
		n, err := t.port.Read(p[total:])
		if n > 0 {
			total += n
			if progress != nil {
				progress(float64(total) / float64(len(p)))
			}
		}
		if err != nil || n == 0 {
			break
		}
	}
	return total
}

func (t *SerialTransport) Close() error {
	return t.port.Close()
}
