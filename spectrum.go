package sigacq

import (
	"fmt"
	"log"
	"math"
	"strings"
	"time"
)

// SpectrumModel distinguishes the supported analyzer hardware generations.
type SpectrumModel int

const (
	ModelStandard SpectrumModel = iota
	ModelUltra
)

// spectrumLimits holds the per-model instrument limits and calibration.
// Each model's parameter set is independent and complete.
type spectrumLimits struct {
	freqMin   int64
	freqMax   int64
	rbwMin    int64 // Hz
	rbwMax    int64 // Hz
	dbmOffset float32
}

var spectrumLimitTable = map[SpectrumModel]spectrumLimits{
	ModelStandard: {
		freqMin: 0,
		// Doc says 350 MHz, but might be higher: let the device decide.
		freqMax:   6_000_000_000,
		rbwMin:    1,
		rbwMax:    600_000,
		dbmOffset: 128,
	},
	ModelUltra: {
		freqMin: 0,
		// Doc says 6 GHz, but sweeps run up to ~12 GHz: let the device decide.
		freqMax:   13_000_000_000,
		rbwMin:    200,
		rbwMax:    850_000,
		dbmOffset: 174,
	},
}

// Binary scanraw payload markers: '{' + N x ('x', low, high) + '}'.
const (
	scanOpenBracket  = '{'
	scanCloseBracket = '}'
	scanPointMarker  = 'x'
)

// decodeScanPoint converts one 16-bit magnitude into dBm:
// ((high<<8)+low)/32 - modelOffset.
func decodeScanPoint(low, high byte, offset float32) float32 {
	return float32((uint16(high)<<8)+uint16(low))/32 - offset
}

// SpectrumAnalyzer drives a console-protocol spectrum analyzer: it owns the
// sweep configuration cache, the single spectrum channel, and the
// acquisition routine that turns scanraw payloads into waveforms.
type SpectrumAnalyzer struct {
	AnyInstrument
	conv *Conversation

	model  SpectrumModel
	limits spectrumLimits

	sweepStart  int64
	sweepStop   int64
	sampleDepth int
	rbw         int64 // Hz

	// Peak search configuration for the post-acquisition pass.
	PeakMaxCount   int
	PeakSeparation int64 // Hz
}

// NewSpectrumAnalyzer connects to the analyzer behind conv, identifies the
// model, and sets up the spectrum channel with instrument defaults.
func NewSpectrumAnalyzer(conv *Conversation) (*SpectrumAnalyzer, error) {
	sa := &SpectrumAnalyzer{
		conv:           conv,
		sampleDepth:    1000,
		PeakMaxCount:   10,
		PeakSeparation: 1_000_000,
	}

	version, err := sa.conv.ConverseLine("version")
	if err != nil || version == "" {
		return nil, fmt.Errorf("could not connect to spectrum analyzer: %w", err)
	}
	sa.vendor = "tinySA"
	sa.fwVersion = version
	log.Printf("Version = %s", sa.fwVersion)

	// Model is the first line of the info command response.
	model, err := sa.conv.ConverseLine("info")
	if err != nil {
		return nil, fmt.Errorf("could not identify analyzer model: %w", err)
	}
	sa.AnyInstrument.model = model
	log.Printf("Model = %s", model)
	if strings.Contains(model, "ULTRA") {
		sa.model = ModelUltra
	} else {
		sa.model = ModelStandard
	}
	sa.limits = spectrumLimitTable[sa.model]
	sa.name = model

	NewSpectrumChannel(&sa.AnyInstrument, "CH1", "#ffff00", 0)

	// Cache the device's current span and rbw.
	if err := sa.converseSweep(false); err != nil {
		return nil, err
	}
	if sa.rbw, err = sa.converseRbw(false, 0); err != nil {
		return nil, err
	}
	return sa, nil
}

// converseSweep reads back the configured sweep range, optionally pushing
// new start/stop values first. The device clamps out-of-range values; the
// cache always ends up holding what the device accepted.
func (sa *SpectrumAnalyzer) converseSweep(push bool) error {
	if push {
		for _, cmd := range []string{
			fmt.Sprintf("sweep start %d", sa.sweepStart),
			fmt.Sprintf("sweep stop %d", sa.sweepStop),
		} {
			lines, err := sa.conv.ConverseMultiple(cmd)
			if err != nil {
				return err
			}
			if len(lines) > 0 {
				// Value was rejected.
				ProblemLogger.Printf("error sending %q: %q", cmd, lines[0])
			}
		}
	}
	lines, err := sa.conv.ConverseMultiple("sweep")
	if err != nil {
		return err
	}
	if len(lines) < 1 {
		return fmt.Errorf("sweep query returned no lines")
	}
	// Format is "<start> <stop> <points>".
	var start, stop int64
	if _, err := fmt.Sscanf(lines[0], "%d %d", &start, &stop); err != nil {
		return fmt.Errorf("could not parse sweep response %q: %w", lines[0], err)
	}
	sa.sweepStart, sa.sweepStop = start, stop
	return nil
}

// converseRbw reads back the configured resolution bandwidth in Hz,
// optionally pushing a new value (in kHz, as the console expects) first.
func (sa *SpectrumAnalyzer) converseRbw(push bool, kHz int64) (int64, error) {
	if push {
		lines, err := sa.conv.ConverseMultiple(fmt.Sprintf("rbw %d", kHz))
		if err != nil {
			return 0, err
		}
		if len(lines) > 0 {
			ProblemLogger.Printf("error sending rbw value %d: %q", kHz, lines[0])
		}
	}
	lines, err := sa.conv.ConverseMultiple("rbw")
	if err != nil {
		return 0, err
	}
	if len(lines) < 2 {
		ProblemLogger.Printf("rbw query returned only %d lines", len(lines))
		return 0, nil
	}
	// First line is usage text; the value is on the second line.
	var rbwKHz int64
	if _, err := fmt.Sscanf(lines[1], "%dkHz", &rbwKHz); err != nil {
		return 0, fmt.Errorf("could not parse rbw response %q: %w", lines[1], err)
	}
	return rbwKHz * 1000, nil
}

// AcquireData runs one complete acquisition: a scanraw binary download,
// payload decode into a uniform waveform, peak search, and publication of a
// SequenceSet across the enabled channels. On any failure nothing is
// published, trigger state is untouched, and the error is returned for the
// caller's polling loop to note and retry next cycle.
func (sa *SpectrumAnalyzer) AcquireData() error {
	nsamples := sa.sampleDepth
	if nsamples <= 0 {
		return fmt.Errorf("cannot sweep with sample depth %d", nsamples)
	}
	command := fmt.Sprintf("scanraw %d %d %d", sa.sweepStart, sa.sweepStop, nsamples)

	// Data format is '{' + ('x' low high) * points + '}'.
	toRead := nsamples*3 + 2
	data, nread, err := sa.conv.ConverseBinary(command, toRead, func(fraction float64) {
		sa.ChannelsDownloadStatusUpdate(0, fraction)
	})
	if err != nil {
		return fmt.Errorf("sweep download failed: %w", err)
	}
	if nread != toRead {
		return fmt.Errorf("sweep download returned %d bytes, expected %d; ignoring capture",
			nread, toRead)
	}

	tstart := float64(time.Now().UnixNano()) / 1e9
	wave := &UniformWaveform{
		Scale:             (sa.sweepStop - sa.sweepStart) / int64(nsamples),
		Phase:             sa.sweepStart,
		StartSeconds:      int64(math.Floor(tstart)),
		StartFemtoseconds: int64((tstart - math.Floor(tstart)) * float64(FemtosecondsPerSecond)),
		Samples:           make([]float32, nsamples),
	}

	// Bracket sentinels guard against firmware framing quirks, but a
	// mismatch is not worth dropping otherwise-good data.
	if data[0] != scanOpenBracket {
		ProblemLogger.Printf("invalid opening byte %#02x", data[0])
	}
	if data[toRead-1] != scanCloseBracket {
		ProblemLogger.Printf("invalid closing byte %#02x", data[toRead-1])
	}

	for j := 0; j < nsamples; j++ {
		if marker := data[1+3*j]; marker != scanPointMarker {
			ProblemLogger.Printf("invalid point header byte %#02x at sample %d", marker, j)
		}
		wave.Samples[j] = decodeScanPoint(data[2+3*j], data[3+3*j], sa.limits.dbmOffset)
	}

	// Ownership of wave transfers into the SequenceSet below; no more writes.
	if ch := sa.Channel(0); ch != nil {
		ch.SetPeaks(FindPeaks(wave, sa.PeakMaxCount, sa.PeakSeparation))
	}

	set := SequenceSet{}
	for _, ch := range sa.Channels() {
		if ch.IsEnabled() {
			set[ch] = wave
		}
	}
	sa.EnqueueSequenceSet(set)

	sa.disarmAfterOneShot()
	sa.ChannelsDownloadFinished()
	return nil
}

// PollTrigger always reports ready: the analyzer free-runs and AcquireData
// blocks for the sweep itself.
func (sa *SpectrumAnalyzer) PollTrigger() bool { return true }

// SampleDepths lists the supported sweep point counts.
func (sa *SpectrumAnalyzer) SampleDepths() []int {
	return []int{51, 101, 145, 290, 500, 1000, 3000, 10000, 30000}
}

func (sa *SpectrumAnalyzer) SampleDepth() int { return sa.sampleDepth }

// SetSampleDepth sets the sweep point count. The instrument accepts
// arbitrary positive counts; non-positive values (a typo'd config, say) are
// ignored with a warning rather than poisoning the next acquisition.
func (sa *SpectrumAnalyzer) SetSampleDepth(depth int) {
	if depth <= 0 {
		ProblemLogger.Printf("ignoring invalid sample depth %d", depth)
		return
	}
	sa.sampleDepth = depth
}

func (sa *SpectrumAnalyzer) ResolutionBandwidth() int64 { return sa.rbw }

// SetResolutionBandwidth clamps rbw (Hz) to the model's limits, pushes it in
// kHz as the console expects, and caches what the device accepted.
func (sa *SpectrumAnalyzer) SetResolutionBandwidth(rbw int64) error {
	if rbw < sa.limits.rbwMin {
		rbw = sa.limits.rbwMin
	}
	if rbw > sa.limits.rbwMax {
		rbw = sa.limits.rbwMax
	}
	actual, err := sa.converseRbw(true, rbw/1000)
	if err != nil {
		return err
	}
	sa.rbw = actual
	return nil
}

func (sa *SpectrumAnalyzer) Span() int64 { return sa.sweepStop - sa.sweepStart }

// SetSpan recenters the sweep on the current center frequency with the given
// span, clamped to model limits, and reads back what the device accepted.
func (sa *SpectrumAnalyzer) SetSpan(span int64) error {
	center := sa.CenterFrequency()
	return sa.pushSweep(center-span/2, center+span/2)
}

func (sa *SpectrumAnalyzer) CenterFrequency() int64 {
	return (sa.sweepStop + sa.sweepStart) / 2
}

// SetCenterFrequency moves the sweep keeping the current span.
func (sa *SpectrumAnalyzer) SetCenterFrequency(freq int64) error {
	span := sa.Span()
	return sa.pushSweep(freq-span/2, freq+span/2)
}

func (sa *SpectrumAnalyzer) SweepRange() (start, stop int64) {
	return sa.sweepStart, sa.sweepStop
}

func (sa *SpectrumAnalyzer) pushSweep(start, stop int64) error {
	if start < sa.limits.freqMin {
		start = sa.limits.freqMin
	}
	if stop > sa.limits.freqMax {
		stop = sa.limits.freqMax
	}
	sa.sweepStart, sa.sweepStop = start, stop
	return sa.converseSweep(true)
}
