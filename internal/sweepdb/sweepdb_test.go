package sweepdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDummyConnection(t *testing.T) {
	db := DummyConnection()
	assert.False(t, db.IsConnected())

	// All operations on a dummy connection are no-ops, never panics or blocks.
	db.RecordSweep(&SweepMessage{ID: NewSweepID(), Channel: "CH1", Start: time.Now()})
	db.RecordSweep(nil)
	db.Disconnect()
	db.Wait()

	var nildb *Connection
	assert.False(t, nildb.IsConnected())
	nildb.RecordSweep(&SweepMessage{})
}

func TestSweepIDs(t *testing.T) {
	a, b := NewSweepID(), NewSweepID()
	assert.Len(t, a, 26)
	assert.NotEqual(t, a, b)
}
