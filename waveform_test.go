package sigacq

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSequenceSetFIFO pushes numbered capture sets from one goroutine while
// another drains, and checks that capture order survives the queue.
func TestSequenceSetFIFO(t *testing.T) {
	ins := &AnyInstrument{name: "sim"}
	ch := NewSpectrumChannel(ins, "CH1", "#ffff00", 0)

	const total = 2000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			w := &UniformWaveform{Scale: 1, StartSeconds: int64(i)}
			ins.EnqueueSequenceSet(SequenceSet{ch: w})
		}
	}()

	var got []int64
	for len(got) < total {
		set, ok := ins.PopSequenceSet()
		if !ok {
			continue
		}
		sec, _ := set[ch].StartTime()
		got = append(got, sec)
	}
	wg.Wait()

	for i, sec := range got {
		if sec != int64(i) {
			t.Fatalf("capture %d drained out of order: got sequence number %d", i, sec)
		}
	}
	_, ok := ins.PopSequenceSet()
	assert.False(t, ok)
	assert.Equal(t, 0, ins.PendingCount())
}

func TestUniformWaveformAxes(t *testing.T) {
	w := &UniformWaveform{
		Scale:             100_000,
		Phase:             100_000_000,
		StartSeconds:      1700000000,
		StartFemtoseconds: 250_000_000_000_000,
		Samples:           make([]float32, 1000),
	}
	assert.Equal(t, 1000, w.Len())
	assert.Equal(t, int64(100_000_000), w.XAt(0))
	assert.Equal(t, int64(100_000_000+999*100_000), w.XAt(999))
	sec, fs := w.StartTime()
	assert.Equal(t, int64(1700000000), sec)
	assert.Less(t, fs, FemtosecondsPerSecond)
}

func TestSparseWaveformAppend(t *testing.T) {
	w := &SparseWaveform[Symbol]{Scale: 1}
	w.Append(10, 5, Symbol{Type: SymbolPreamble})
	w.Append(15, 3, Symbol{Type: SymbolSync})
	assert.Equal(t, 2, w.Len())
	assert.Equal(t, []int64{10, 15}, w.Offsets)
	assert.Equal(t, []int64{5, 3}, w.Durations)
	assert.Equal(t, SymbolSync, w.Samples[1].Type)
}

// TestTriggerStateMachine covers the one-shot disarm rule: only a
// successful acquisition may disarm, and only in one-shot mode.
func TestTriggerStateMachine(t *testing.T) {
	ins := &AnyInstrument{name: "sim"}

	ins.Start()
	assert.True(t, ins.TriggerArmed())
	ins.disarmAfterOneShot() // free-running: stays armed
	assert.True(t, ins.TriggerArmed())

	ins.StartSingleTrigger()
	ins.disarmAfterOneShot()
	assert.False(t, ins.TriggerArmed())

	ins.ForceTrigger()
	assert.True(t, ins.TriggerArmed())
	ins.Stop()
	assert.False(t, ins.TriggerArmed())
}
