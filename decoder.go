package sigacq

import (
	"fmt"
	"math"
)

// SymbolType tags one decoded protocol element.
type SymbolType int

const (
	SymbolError SymbolType = iota
	SymbolPreamble
	SymbolSync
	SymbolCommand
	SymbolAddress
	SymbolLength
	SymbolStop
)

func (st SymbolType) String() string {
	switch st {
	case SymbolError:
		return "ERR"
	case SymbolPreamble:
		return "PREAMBLE"
	case SymbolSync:
		return "SYNC"
	case SymbolCommand:
		return "CMD"
	case SymbolAddress:
		return "ADDR"
	case SymbolLength:
		return "LEN"
	case SymbolStop:
		return "STOP"
	}
	return "?"
}

// Symbol is one decoded element: a type tag plus payload word. Symbols are
// immutable once emitted into the sparse output waveform.
type Symbol struct {
	Type SymbolType
	Data uint32
}

// Text renders a display label for the symbol.
func (s Symbol) Text() string {
	switch s.Type {
	case SymbolCommand:
		return fmt.Sprintf("CMD %x", s.Data)
	case SymbolAddress:
		return fmt.Sprintf("ADDR %05x", s.Data)
	case SymbolLength:
		return fmt.Sprintf("LEN %02x", s.Data)
	default:
		return s.Type.String()
	}
}

// auxField describes one fixed-width bit field of a frame, in decode order.
type auxField struct {
	typ   SymbolType
	nbits int
}

var auxFields = []auxField{
	{SymbolCommand, 4},
	{SymbolAddress, 20},
	{SymbolLength, 8},
}

// clockRecovery estimates the half-bit period from the most recent several
// edge intervals rather than assuming a fixed rate.
type clockRecovery struct {
	intervals []float64 // in half-bit units
}

const clockWindow = 8

func (c *clockRecovery) add(halfBits float64) {
	c.intervals = append(c.intervals, halfBits)
	if len(c.intervals) > clockWindow {
		c.intervals = c.intervals[1:]
	}
}

func (c *clockRecovery) estimate() float64 {
	if len(c.intervals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range c.intervals {
		sum += v
	}
	return sum / float64(len(c.intervals))
}

// AuxBusDecoder decodes an auxiliary side-channel bus from a captured
// analog waveform. Frames are Manchester coded: a preamble of half-bit
// transitions, a two-bit-time sync gap ended by a rising sync bit, then
// command (4 bits), address (20) and length (8) fields with a mid-cell
// transition per bit, closed by two bit-times of silence.
//
// Every stretch of the burst that cannot be decoded produces an explicit
// Error symbol, so the output covers the burst without gaps.
type AuxBusDecoder struct {
	// Threshold is the logic decision level. Zero means derive the midpoint
	// of the waveform's extremes.
	Threshold float32

	// MinPreambleTransitions qualifies a burst as a frame start.
	MinPreambleTransitions int
}

// NewAuxBusDecoder returns a decoder with the standard framing parameters.
func NewAuxBusDecoder() *AuxBusDecoder {
	return &AuxBusDecoder{MinPreambleTransitions: 8}
}

// findRisingEdge scans forward from index `from` (exclusive) for a
// low-to-high crossing of thr. It reports ok=false if none exists before
// the end of the waveform, the terminal condition for decoding.
func findRisingEdge(samples []float32, thr float32, from int) (int, bool) {
	for i := from + 1; i < len(samples); i++ {
		if samples[i-1] < thr && samples[i] >= thr {
			return i, true
		}
	}
	return 0, false
}

// findFallingEdge is the high-to-low counterpart of findRisingEdge.
func findFallingEdge(samples []float32, thr float32, from int) (int, bool) {
	for i := from + 1; i < len(samples); i++ {
		if samples[i-1] >= thr && samples[i] < thr {
			return i, true
		}
	}
	return 0, false
}

// findEdge scans for the next crossing of either polarity.
func findEdge(samples []float32, thr float32, from int) (pos int, rising bool, ok bool) {
	for i := from + 1; i < len(samples); i++ {
		if samples[i-1] < thr && samples[i] >= thr {
			return i, true, true
		}
		if samples[i-1] >= thr && samples[i] < thr {
			return i, false, true
		}
	}
	return 0, false, false
}

// Decode walks the capture sample by sample and emits the symbol sequence.
// Offsets and durations are in ticks of the input's timescale.
func (d *AuxBusDecoder) Decode(w *UniformWaveform) *SparseWaveform[Symbol] {
	out := &SparseWaveform[Symbol]{
		Scale:             w.Scale,
		Phase:             w.Phase,
		StartSeconds:      w.StartSeconds,
		StartFemtoseconds: w.StartFemtoseconds,
	}
	samples := w.Samples
	if len(samples) < 2 {
		return out
	}

	thr := d.Threshold
	if thr == 0 {
		lo, hi := samples[0], samples[0]
		for _, s := range samples {
			if s < lo {
				lo = s
			}
			if s > hi {
				hi = s
			}
		}
		if lo == hi {
			return out // no signal at all
		}
		thr = (lo + hi) / 2
	}

	emit := func(typ SymbolType, data uint32, start, end int) {
		// Projected positions can land past the capture on truncated
		// waveforms, or behind the span start on framing violations; clamp
		// so spans always stay monotone and non-overlapping.
		if start > len(samples) {
			start = len(samples)
		}
		if end > len(samples) {
			end = len(samples)
		}
		if end < start {
			end = start
		}
		out.Append(int64(start), int64(end-start), Symbol{Type: typ, Data: data})
	}

	pos := 0
scanning:
	for {
		// Idle: wait for an edge of the frame's starting polarity.
		burstStart, ok := findRisingEdge(samples, thr, pos)
		if !ok {
			return out
		}

		// Preamble: count transitions spaced one half-bit apart, feeding the
		// clock recovery, until the sync gap shows up.
		var clk clockRecovery
		transitions := 1
		lastPre := burstStart
		cur := burstStart
		var gapEdge int
		var gapRising bool
		for {
			p, rising, edgeOK := findEdge(samples, thr, cur)
			if !edgeOK {
				emit(SymbolError, uint32(transitions), burstStart, len(samples))
				return out
			}
			interval := float64(p - cur)
			est := clk.estimate()
			if est == 0 {
				// First interval seeds the half-bit estimate.
				clk.add(interval)
				transitions++
				cur = p
				continue
			}
			if interval > 2.5*est {
				// Sync gap: preamble ended at cur.
				if transitions < d.MinPreambleTransitions {
					emit(SymbolError, uint32(transitions), burstStart, p)
					pos = p - 1
					continue scanning
				}
				lastPre = cur
				gapEdge, gapRising = p, rising
				break
			}
			if interval < 0.5*est || interval > 1.5*est {
				// A transition that fits no half-bit slot: not a preamble.
				emit(SymbolError, uint32(transitions), burstStart, p)
				pos = p - 1
				continue scanning
			}
			clk.add(interval)
			transitions++
			cur = p
		}

		h := clk.estimate()
		emit(SymbolPreamble, uint32(transitions), burstStart, lastPre)

		// Sync: the gap must last two bit-times and end in a rising sync bit.
		gap := float64(gapEdge - lastPre)
		if !gapRising || gap < 3.5*h || gap > 4.5*h {
			emit(SymbolError, 0, lastPre, gapEdge)
			pos = gapEdge - 1
			continue scanning
		}
		syncEnd := gapEdge + int(math.Round(h))
		emit(SymbolSync, 1, lastPre, syncEnd)

		// Data fields: sample at bit centers computed from the running
		// clock estimate, accumulating MSB first.
		prevMid := gapEdge
		idx := gapEdge
		t := syncEnd
		for _, f := range auxFields {
			fieldStart := t
			var word uint32
			for b := 0; b < f.nbits; b++ {
				mid := float64(t) + h
				midPos, midRising, found := 0, false, false
				searchFrom := idx
				for {
					p, rising, edgeOK := findEdge(samples, thr, searchFrom)
					if !edgeOK {
						break
					}
					if float64(p) < mid-0.5*h {
						// Cell-boundary transition between equal bits.
						searchFrom = p
						continue
					}
					if float64(p) <= mid+0.5*h {
						midPos, midRising, found = p, rising, true
					}
					break
				}
				if !found {
					// The expected mid-cell edge never came: emit an explicit
					// Error covering the broken field and resynchronize.
					end := int(mid + h)
					emit(SymbolError, word, fieldStart, end)
					pos = end - 1
					continue scanning
				}
				word <<= 1
				if midRising {
					word |= 1
				}
				clk.add(float64(midPos-prevMid) / 2)
				h = clk.estimate()
				prevMid = midPos
				idx = midPos
				t = midPos + int(math.Round(h))
			}
			emit(f.typ, word, fieldStart, t)
		}

		// Stop: two bit-times with no transitions close the frame.
		stopStart := t
		stopLen := int(math.Round(4 * h))
		if p, _, edgeOK := findEdge(samples, thr, idx); edgeOK &&
			float64(p) < float64(stopStart)+3.5*h {
			// The offending edge may sit inside the already-emitted field
			// span; never let the error span reach back over it.
			end := p
			if end <= stopStart {
				end = stopStart + 1
			}
			emit(SymbolError, 0, stopStart, end)
			pos = end - 1
			continue scanning
		}
		emit(SymbolStop, 0, stopStart, stopStart+stopLen)
		pos = stopStart + stopLen
		if pos >= len(samples)-1 {
			return out
		}
	}
}
