// Package relock provides a re-entrant mutex keyed on goroutine identity.
// A goroutine that already holds the lock may lock it again without
// deadlocking; each Lock must be balanced by an Unlock. It exists so a
// progress callback fired in the middle of an instrument exchange can start
// a nested exchange on the same instrument.
package relock

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// Mutex is a re-entrant mutual exclusion lock. The zero value is unlocked.
type Mutex struct {
	mu    sync.Mutex
	owner atomic.Int64 // goroutine ID of the holder, 0 when unheld
	depth int          // recursion depth, guarded by holding mu
}

// Lock locks m. If the calling goroutine already holds m, the recursion
// depth is increased instead of blocking.
func (m *Mutex) Lock() {
	id := goid()
	if m.owner.Load() == id {
		m.depth++
		return
	}
	m.mu.Lock()
	m.owner.Store(id)
	m.depth = 1
}

// Unlock undoes one Lock by the holding goroutine. Unlocking a Mutex held
// by another goroutine (or not held at all) is a programming error and
// panics.
func (m *Mutex) Unlock() {
	id := goid()
	if m.owner.Load() != id {
		panic("relock: Unlock of mutex not held by this goroutine")
	}
	m.depth--
	if m.depth == 0 {
		m.owner.Store(0)
		m.mu.Unlock()
	}
}

// goid returns the current goroutine's ID by parsing the first line of the
// stack trace, which reads "goroutine N [running]:". There is no public
// runtime API for this.
func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return -1
	}
	id, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
