package sigacq

// Waveform is one captured record of any sample layout: a fixed-spacing
// uniform record or a sparse record with explicit per-entry timing.
// X positions are expressed in ticks of Timescale, offset by TriggerPhase.
type Waveform interface {
	// Timescale is the X-unit step per sample tick (e.g. Hz per bin for a
	// spectrum sweep, fs per sample for a time-domain capture).
	Timescale() int64
	// TriggerPhase is the X value of tick zero.
	TriggerPhase() int64
	// StartTime is the wall-clock capture time, split into whole seconds
	// and femtoseconds within that second.
	StartTime() (seconds int64, femtoseconds int64)
	// Len is the number of samples or sparse entries.
	Len() int
}

// UniformWaveform is a capture with fixed sample spacing.
//
// Ownership: the producer (acquisition routine or decoder) may mutate the
// waveform only until it is handed into a SequenceSet; after that it must
// be treated as immutable.
type UniformWaveform struct {
	Scale             int64 // X units per sample
	Phase             int64 // X value of sample 0
	StartSeconds      int64
	StartFemtoseconds int64
	Samples           []float32
}

func (w *UniformWaveform) Timescale() int64    { return w.Scale }
func (w *UniformWaveform) TriggerPhase() int64 { return w.Phase }
func (w *UniformWaveform) StartTime() (int64, int64) {
	return w.StartSeconds, w.StartFemtoseconds
}
func (w *UniformWaveform) Len() int { return len(w.Samples) }

// XAt returns the X-axis position of sample i.
func (w *UniformWaveform) XAt(i int) int64 {
	return w.Phase + int64(i)*w.Scale
}

// SparseWaveform holds entries with explicit (offset, duration) timing in
// timescale ticks, as produced by protocol decoders. Entries are immutable
// once appended.
type SparseWaveform[T any] struct {
	Scale             int64
	Phase             int64
	StartSeconds      int64
	StartFemtoseconds int64
	Offsets           []int64
	Durations         []int64
	Samples           []T
}

func (w *SparseWaveform[T]) Timescale() int64    { return w.Scale }
func (w *SparseWaveform[T]) TriggerPhase() int64 { return w.Phase }
func (w *SparseWaveform[T]) StartTime() (int64, int64) {
	return w.StartSeconds, w.StartFemtoseconds
}
func (w *SparseWaveform[T]) Len() int { return len(w.Samples) }

// Append adds one entry at the given offset and duration (timescale ticks).
func (w *SparseWaveform[T]) Append(offset, duration int64, v T) {
	w.Offsets = append(w.Offsets, offset)
	w.Durations = append(w.Durations, duration)
	w.Samples = append(w.Samples, v)
}

// SequenceSet is one atomic cross-channel capture instant: each enabled
// channel mapped to the waveform captured for it. Handing a waveform into a
// SequenceSet transfers ownership; producers must not touch it afterward.
type SequenceSet map[*Channel]Waveform
