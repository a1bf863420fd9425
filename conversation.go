package sigacq

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sigacq/sigacq/internal/relock"
)

// Wire framing constants shared by the line and binary protocols. The
// trailer is the console prompt the instrument prints after every response.
const (
	responseTrailer = "ch> "
	responseEOL     = "\r\n"
	maxResponseSize = 100 * 1024
)

// DefaultExchangeTimeout is the wall-clock budget for one full exchange.
// A sweep may have to finish before the device starts answering, so this is
// generous.
const DefaultExchangeTimeout = 10 * time.Second

// Failure modes of an exchange. Both are recoverable: the caller skips this
// cycle and may re-issue the request.
var (
	// ErrTimeout means no byte arrived within the timeout window.
	ErrTimeout = errors.New("conversation: timeout waiting for instrument response")

	// ErrResponseTooLong means the response exceeded the maximum byte budget.
	ErrResponseTooLong = errors.New("conversation: response exceeded maximum size")
)

// Conversation implements the request/response protocol spoken over one
// instrument's byte transport: an ASCII line protocol and a length-framed
// binary protocol, both delimited by the device prompt.
//
// All exchanges on one instrument are serialized by a re-entrant lock, so a
// progress callback that fires mid-download may itself converse without
// deadlocking. Parallel conversations from separate goroutines block until
// the current exchange finishes.
type Conversation struct {
	transport Transport
	exchange  relock.Mutex

	// Timeout is the absolute wall-clock limit for one exchange.
	Timeout time.Duration

	// MaxResponse caps the total bytes accepted in the header/footer and
	// line-protocol phases.
	MaxResponse int

	trailer string
	eol     string
}

// NewConversation wraps a transport in a conversation engine with the
// default prompt framing and timeout.
func NewConversation(t Transport) *Conversation {
	return &Conversation{
		transport:   t,
		Timeout:     DefaultExchangeTimeout,
		MaxResponse: maxResponseSize,
		trailer:     responseTrailer,
		eol:         responseEOL,
	}
}

// SendCommand writes the command plus CRLF without waiting for a response.
func (c *Conversation) SendCommand(cmd string) error {
	c.exchange.Lock()
	defer c.exchange.Unlock()
	if _, err := c.transport.Write([]byte(cmd + c.eol)); err != nil {
		return fmt.Errorf("conversation: send %q: %w", cmd, err)
	}
	return nil
}

// converseString sends cmd and accumulates the raw response until the
// trailer prompt appears at the tail of the buffer, the byte budget is
// exceeded, or the timeout elapses. The accumulated text (without any
// interpretation) is returned even alongside an error, so callers can
// salvage what arrived.
func (c *Conversation) converseString(cmd string) (string, error) {
	c.exchange.Lock()
	defer c.exchange.Unlock()

	if _, err := c.transport.Write([]byte(cmd + c.eol)); err != nil {
		return "", fmt.Errorf("conversation: send %q: %w", cmd, err)
	}

	var sb strings.Builder
	deadline := time.Now().Add(c.Timeout)
	for {
		b, ok := c.transport.ReadOne()
		if !ok {
			if time.Now().After(deadline) {
				return sb.String(), ErrTimeout
			}
			time.Sleep(transportPollInterval)
			continue
		}
		sb.WriteByte(b)
		if sb.Len() > c.MaxResponse {
			return sb.String(), fmt.Errorf("%w (%d bytes)", ErrResponseTooLong, sb.Len())
		}
		if strings.HasSuffix(sb.String(), c.trailer) {
			return sb.String(), nil
		}
	}
}

// ConverseLine sends cmd and returns the single-line result. The first
// response line is expected to echo the command; a mismatch is logged as a
// warning but the exchange continues, since some firmware revisions prepend
// noise. Trailing carriage returns are stripped.
func (c *Conversation) ConverseLine(cmd string) (string, error) {
	raw, err := c.converseString(cmd)
	if err != nil {
		return "", err
	}
	lines := splitResponseLines(strings.TrimSuffix(raw, c.trailer))
	if len(lines) == 0 || lines[0] != cmd {
		echoed := ""
		if len(lines) > 0 {
			echoed = lines[0]
		}
		ProblemLogger.Printf("unexpected response %q to command %q", echoed, cmd)
	}
	if len(lines) < 2 {
		return "", nil
	}
	return lines[1], nil
}

// ConverseMultiple sends cmd and returns every non-empty line after the
// echoed first one, in order. More than one returned line for a set-style
// command usually means the device rejected the value; the caller decides
// how to treat that.
func (c *Conversation) ConverseMultiple(cmd string) ([]string, error) {
	raw, err := c.converseString(cmd)
	if err != nil {
		return nil, err
	}
	lines := splitResponseLines(strings.TrimSuffix(raw, c.trailer))
	var result []string
	for i, line := range lines {
		if i == 0 {
			if line != cmd {
				ProblemLogger.Printf("unexpected response %q to command %q", line, cmd)
			}
			continue
		}
		if line != "" {
			result = append(result, line)
		}
	}
	return result, nil
}

// binaryPhase names the three stages of a length-framed binary response.
type binaryPhase int

const (
	phaseHeader binaryPhase = iota
	phasePayload
	phaseFooter
)

// ConverseBinary sends cmd and reads a length-framed binary response:
// a header line terminated by EOL (validated as a prefix match of the sent
// command), exactly length raw payload bytes, then the usual trailer
// prompt. The progress callback, if non-nil, is invoked as payload bytes
// arrive.
//
// It returns the payload and the count of payload bytes actually read. On
// timeout or budget overrun the count may be short; callers must treat any
// shortfall as a failed acquisition, never as partial success.
func (c *Conversation) ConverseBinary(cmd string, length int, progress ProgressFunc) ([]byte, int, error) {
	c.exchange.Lock()
	defer c.exchange.Unlock()

	if _, err := c.transport.Write([]byte(cmd + c.eol)); err != nil {
		return nil, 0, fmt.Errorf("conversation: send %q: %w", cmd, err)
	}

	data := make([]byte, length)
	dataRead := 0
	framingBytes := 0
	var accum strings.Builder
	phase := phaseHeader
	deadline := time.Now().Add(c.Timeout)

	for {
		switch phase {
		case phaseHeader, phaseFooter:
			b, ok := c.transport.ReadOne()
			if !ok {
				if time.Now().After(deadline) {
					return data[:dataRead], dataRead, ErrTimeout
				}
				time.Sleep(transportPollInterval)
				continue
			}
			framingBytes++
			if framingBytes > c.MaxResponse {
				return data[:dataRead], dataRead,
					fmt.Errorf("%w (%d framing bytes)", ErrResponseTooLong, framingBytes)
			}
			accum.WriteByte(b)
			if phase == phaseHeader {
				if strings.HasSuffix(accum.String(), c.eol) {
					header := accum.String()
					if !strings.HasPrefix(header, cmd) {
						ProblemLogger.Printf("unexpected response %q to command %q",
							strings.TrimRight(header, "\r\n"), cmd)
					}
					accum.Reset()
					phase = phasePayload
				}
			} else if strings.HasSuffix(accum.String(), c.trailer) {
				return data, dataRead, nil
			}

		case phasePayload:
			// The transport reports progress against the slice it was
			// handed; rescale so callers always see the fraction of the
			// whole payload.
			var cb ProgressFunc
			if progress != nil {
				already, remaining := dataRead, length-dataRead
				cb = func(f float64) {
					progress((float64(already) + f*float64(remaining)) / float64(length))
				}
			}
			n := c.transport.ReadN(data[dataRead:], cb)
			dataRead += n
			if dataRead >= length {
				phase = phaseFooter
			} else if time.Now().After(deadline) {
				return data[:dataRead], dataRead, ErrTimeout
			} else if n == 0 {
				time.Sleep(transportPollInterval)
			}
		}
	}
}

// splitResponseLines breaks a raw response on newlines and strips trailing
// carriage returns, mirroring how the line protocol is consumed.
func splitResponseLines(raw string) []string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	return lines
}
