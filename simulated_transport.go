package sigacq

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// SimHandler produces the full wire response (echo line, body, prompt) for
// one command line received by a simulated instrument.
type SimHandler func(cmd string) []byte

// SimTransport is an in-memory Transport backed by a scripted device. Each
// complete CRLF-terminated command is passed to the handler and the reply
// bytes are queued for the host to read. It stands in for real hardware in
// tests and in the demo acquisition mode.
type SimTransport struct {
	mu      sync.Mutex
	tx      []byte // bytes written by the host, not yet forming a full line
	rx      []byte // bytes queued for the host to read
	handler SimHandler

	// ChunkLimit caps the bytes returned by a single ReadN pass, to mimic a
	// slow link and force multiple progress callbacks. Zero means no limit.
	ChunkLimit int
}

// NewSimTransport creates a transport connected to the given scripted device.
func NewSimTransport(handler SimHandler) *SimTransport {
	return &SimTransport{handler: handler}
}

func (t *SimTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tx = append(t.tx, p...)
	for {
		idx := strings.Index(string(t.tx), "\r\n")
		if idx < 0 {
			return len(p), nil
		}
		cmd := string(t.tx[:idx])
		t.tx = t.tx[idx+2:]
		t.rx = append(t.rx, t.handler(cmd)...)
	}
}

func (t *SimTransport) ReadOne() (byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.rx) == 0 {
		return 0, false
	}
	b := t.rx[0]
	t.rx = t.rx[1:]
	return b, true
}

func (t *SimTransport) ReadN(p []byte, progress ProgressFunc) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := copy(p, t.rx)
	if t.ChunkLimit > 0 && n > t.ChunkLimit {
		n = t.ChunkLimit
	}
	t.rx = t.rx[n:]
	if progress != nil && n > 0 {
		progress(float64(n) / float64(len(p)))
	}
	return n
}

func (t *SimTransport) Close() error { return nil }

// SimSpectrumDevice scripts the console protocol of a spectrum analyzer:
// version/info queries, sweep and rbw get/set, and the scanraw binary sweep
// download. Fault-injection knobs let tests exercise the defensive paths of
// the conversation engine and the acquisition routine.
type SimSpectrumDevice struct {
	Model     string // reported on the "info" line
	Firmware  string
	DbmOffset float64 // offset the device bakes into scanraw values

	sweepStart, sweepStop int64
	rbwKHz                int64

	// Signal returns the power in dBm to report for sample i of n.
	Signal func(i, n int) float64

	// Fault injection.
	EchoSuffix         string // appended to every echoed command line
	DropOpenBracket    bool
	DropCloseBracket   bool
	CorruptPointMarker bool // write '?' instead of 'x' on the first point
	TruncatePayload    int  // if >0, send only this many payload bytes
	RejectSweepSet     bool // respond to "sweep start/stop" with a usage line
	SilentAfterEcho    bool // echo the command, then never answer
}

// NewSimSpectrumDevice returns a device with sane defaults: the "ULTRA"
// model personality, a flat noise floor, and one strong tone mid-span.
func NewSimSpectrumDevice() *SimSpectrumDevice {
	return &SimSpectrumDevice{
		Model:      "tinySA ULTRA",
		Firmware:   "tinySA4_v1.4-143-simulated",
		DbmOffset:  174,
		sweepStart: 100_000_000,
		sweepStop:  200_000_000,
		rbwKHz:     600,
		Signal: func(i, n int) float64 {
			if i == n/2 {
				return -20
			}
			return -90
		},
	}
}

// Handle implements SimHandler.
func (d *SimSpectrumDevice) Handle(cmd string) []byte {
	echo := cmd + d.EchoSuffix + "\r\n"
	if d.SilentAfterEcho {
		return []byte(echo)
	}
	if d.TruncatePayload > 0 && strings.HasPrefix(cmd, "scanraw") {
		// A stalled device: part of the payload, then nothing more.
		fields := strings.Fields(cmd)
		n, _ := strconv.Atoi(fields[len(fields)-1])
		return append([]byte(echo), d.scanrawPayload(n)...)
	}
	body := d.respond(cmd)
	return []byte(echo + body + responseTrailer)
}

func (d *SimSpectrumDevice) respond(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return ""
	}
	switch fields[0] {
	case "version":
		return d.Firmware + "\r\n"
	case "info":
		return d.Model + "\r\n"
	case "sweep":
		if len(fields) == 3 {
			if d.RejectSweepSet {
				return "usage: sweep {start|stop|center|span|cw} {freq(Hz)}\r\n"
			}
			v, _ := strconv.ParseInt(fields[2], 10, 64)
			if fields[1] == "start" {
				d.sweepStart = v
			} else {
				d.sweepStop = v
			}
			return ""
		}
		return fmt.Sprintf("%d %d 450\r\n", d.sweepStart, d.sweepStop)
	case "rbw":
		if len(fields) == 2 {
			v, _ := strconv.ParseInt(fields[1], 10, 64)
			d.rbwKHz = v
			return ""
		}
		return fmt.Sprintf("usage: rbw {auto|%%f(kHz)}\r\n%dkHz\r\n", d.rbwKHz)
	case "scanraw":
		n := 0
		if len(fields) == 4 {
			n, _ = strconv.Atoi(fields[3])
		}
		return string(d.scanrawPayload(n)) + "\r\n"
	}
	return ""
}

// scanrawPayload builds '{' + n*('x', low, high) + '}' with the configured
// faults applied.
func (d *SimSpectrumDevice) scanrawPayload(n int) []byte {
	payload := make([]byte, 0, 3*n+2)
	if !d.DropOpenBracket {
		payload = append(payload, '{')
	} else {
		payload = append(payload, '(')
	}
	for i := 0; i < n; i++ {
		marker := byte('x')
		if d.CorruptPointMarker && i == 0 {
			marker = '?'
		}
		raw := uint16((d.Signal(i, n) + d.DbmOffset) * 32)
		payload = append(payload, marker, byte(raw&0xff), byte(raw>>8))
	}
	if !d.DropCloseBracket {
		payload = append(payload, '}')
	} else {
		payload = append(payload, ')')
	}
	if d.TruncatePayload > 0 && len(payload) > d.TruncatePayload {
		payload = payload[:d.TruncatePayload]
	}
	return payload
}
