package sigacq

import (
	"bytes"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// captureProblems redirects ProblemLogger into a buffer for one test.
func captureProblems(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	saved := ProblemLogger
	ProblemLogger = log.New(&buf, "", 0)
	t.Cleanup(func() { ProblemLogger = saved })
	return &buf
}

func newTestConversation(dev *SimSpectrumDevice) (*Conversation, *SimTransport) {
	tr := NewSimTransport(dev.Handle)
	c := NewConversation(tr)
	c.Timeout = 100 * time.Millisecond
	return c, tr
}

func TestConverseLine(t *testing.T) {
	dev := NewSimSpectrumDevice()
	c, _ := newTestConversation(dev)

	version, err := c.ConverseLine("version")
	assert.NoError(t, err)
	assert.Equal(t, dev.Firmware, version)

	model, err := c.ConverseLine("info")
	assert.NoError(t, err)
	assert.Equal(t, dev.Model, model)
}

// TestEchoMismatch feeds the line protocol a response whose first line does
// not echo the command. The call must still return the line after it, with a
// warning logged, not fail.
func TestEchoMismatch(t *testing.T) {
	problems := captureProblems(t)
	dev := NewSimSpectrumDevice()
	dev.EchoSuffix = " <weird response>"
	c, _ := newTestConversation(dev)

	version, err := c.ConverseLine("version")
	assert.NoError(t, err)
	assert.Equal(t, dev.Firmware, version)
	assert.Contains(t, problems.String(), "unexpected response")
}

func TestConverseMultiple(t *testing.T) {
	dev := NewSimSpectrumDevice()
	c, _ := newTestConversation(dev)

	lines, err := c.ConverseMultiple("rbw")
	assert.NoError(t, err)
	if assert.Len(t, lines, 2) {
		assert.Contains(t, lines[0], "usage")
		assert.Equal(t, "600kHz", lines[1])
	}

	// A rejected set-style command comes back with an extra line.
	dev.RejectSweepSet = true
	lines, err = c.ConverseMultiple("sweep start 1000000")
	assert.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestConverseLineTimeout(t *testing.T) {
	dev := NewSimSpectrumDevice()
	dev.SilentAfterEcho = true
	c, _ := newTestConversation(dev)
	c.Timeout = 30 * time.Millisecond

	_, err := c.ConverseLine("version")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("ConverseLine on a silent device returned %v, want ErrTimeout", err)
	}
}

func TestResponseTooLong(t *testing.T) {
	dev := NewSimSpectrumDevice()
	c, _ := newTestConversation(dev)
	c.MaxResponse = 8 // far below any full response

	_, err := c.ConverseLine("version")
	if !errors.Is(err, ErrResponseTooLong) {
		t.Errorf("oversized response returned %v, want ErrResponseTooLong", err)
	}
}

func TestConverseBinary(t *testing.T) {
	dev := NewSimSpectrumDevice()
	c, tr := newTestConversation(dev)
	tr.ChunkLimit = 7 // force several payload passes and progress callbacks

	const n = 50
	want := 3*n + 2
	var fractions []float64
	data, nread, err := c.ConverseBinary("scanraw 100000000 200000000 50", want,
		func(f float64) { fractions = append(fractions, f) })
	assert.NoError(t, err)
	assert.Equal(t, want, nread)
	assert.Equal(t, byte('{'), data[0])
	assert.Equal(t, byte('}'), data[want-1])
	assert.NotEmpty(t, fractions)
	// Fractions report the whole payload, not the current transport pass:
	// they never run backwards and the final callback covers everything.
	prev := 0.0
	for _, f := range fractions {
		assert.Greater(t, f, 0.0)
		assert.GreaterOrEqual(t, f, prev)
		prev = f
	}
	assert.Equal(t, 1.0, fractions[len(fractions)-1])
}

// TestConverseBinaryShortRead delivers only part of the requested payload
// before the device goes quiet. The reported count must be the bytes
// actually read, with a timeout failure.
func TestConverseBinaryShortRead(t *testing.T) {
	dev := NewSimSpectrumDevice()
	dev.TruncatePayload = 10
	c, _ := newTestConversation(dev)
	c.Timeout = 30 * time.Millisecond

	data, nread, err := c.ConverseBinary("scanraw 100000000 200000000 6", 20, nil)
	assert.Equal(t, 10, nread)
	assert.Len(t, data, 10)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("short binary read returned %v, want ErrTimeout", err)
	}
}

// TestConverseBinaryHeaderMismatch checks that a header line that is not a
// prefix of the command logs a warning but the payload still downloads.
func TestConverseBinaryHeaderMismatch(t *testing.T) {
	problems := captureProblems(t)
	dev := NewSimSpectrumDevice()
	dev.EchoSuffix = "!"
	c, _ := newTestConversation(dev)

	const n = 10
	want := 3*n + 2
	_, nread, err := c.ConverseBinary("scanraw 100000000 200000000 10", want, nil)
	assert.NoError(t, err)
	assert.Equal(t, want, nread)
	assert.Contains(t, problems.String(), "unexpected response")
}

// TestNestedConversation issues a command from within a progress callback.
// The re-entrant exchange lock must let the nested call proceed on the same
// goroutine instead of deadlocking.
func TestNestedConversation(t *testing.T) {
	dev := NewSimSpectrumDevice()
	c, tr := newTestConversation(dev)
	tr.ChunkLimit = 16

	const n = 20
	want := 3*n + 2
	nested := false
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, nread, err := c.ConverseBinary("scanraw 100000000 200000000 20", want,
			func(float64) {
				if !nested {
					nested = true
					assert.NoError(t, c.SendCommand("pause"))
				}
			})
		assert.NoError(t, err)
		assert.Equal(t, want, nread)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested conversation deadlocked")
	}
	assert.True(t, nested)
}
