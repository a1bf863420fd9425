package sigacq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestAnalyzer(t *testing.T, dev *SimSpectrumDevice) *SpectrumAnalyzer {
	t.Helper()
	c, _ := newTestConversation(dev)
	sa, err := NewSpectrumAnalyzer(c)
	if err != nil {
		t.Fatalf("NewSpectrumAnalyzer: %v", err)
	}
	return sa
}

func TestAnalyzerBringup(t *testing.T) {
	dev := NewSimSpectrumDevice()
	sa := newTestAnalyzer(t, dev)

	assert.Equal(t, ModelUltra, sa.model)
	assert.Equal(t, float32(174), sa.limits.dbmOffset)
	assert.Equal(t, dev.Firmware, sa.FwVersion())
	start, stop := sa.SweepRange()
	assert.Equal(t, int64(100_000_000), start)
	assert.Equal(t, int64(200_000_000), stop)
	assert.Equal(t, int64(600_000), sa.ResolutionBandwidth())
	assert.Equal(t, 1000, sa.SampleDepth())

	chans := sa.Channels()
	if assert.Len(t, chans, 1) {
		assert.True(t, chans[0].IsPhysical())
		streams := chans[0].Streams()
		if assert.Len(t, streams, 1) {
			assert.Equal(t, UnitDBM, streams[0].YUnit())
		}
	}
}

func TestAnalyzerModelStandard(t *testing.T) {
	dev := NewSimSpectrumDevice()
	dev.Model = "tinySA"
	dev.DbmOffset = 128
	sa := newTestAnalyzer(t, dev)
	assert.Equal(t, ModelStandard, sa.model)
	assert.Equal(t, float32(128), sa.limits.dbmOffset)
	assert.Equal(t, int64(600_000), sa.limits.rbwMax)
}

// TestDecodeScanPoint verifies the dBm decode is bit-exact for both
// documented model calibration offsets.
func TestDecodeScanPoint(t *testing.T) {
	var tests = []struct {
		low, high byte
		offset    float32
		want      float32
	}{
		{0x40, 0x0A, 128, -46},      // 0x0A40 = 2624; 2624/32 - 128
		{0x40, 0x0A, 174, -92},      // same raw word, ultra offset
		{0x41, 0x0A, 128, -45.96875},// fractional: 2625/32 - 128
		{0x00, 0x00, 128, -128},
		{0xFF, 0xFF, 174, 65535.0/32 - 174},
	}
	for _, test := range tests {
		got := decodeScanPoint(test.low, test.high, test.offset)
		if got != test.want {
			t.Errorf("decodeScanPoint(%#02x, %#02x, %v) = %v, want %v",
				test.low, test.high, test.offset, got, test.want)
		}
	}
}

func TestAcquireData(t *testing.T) {
	dev := NewSimSpectrumDevice()
	sa := newTestAnalyzer(t, dev)
	sa.SetSampleDepth(100)
	ch := sa.Channel(0)
	ch.AddRef()
	sa.StartSingleTrigger()

	assert.NoError(t, sa.AcquireData())
	assert.False(t, sa.TriggerArmed(), "one-shot trigger must disarm after success")
	assert.Equal(t, DownloadFinished, ch.DownloadState())

	set, ok := sa.PopSequenceSet()
	if !ok {
		t.Fatal("no SequenceSet published after a successful acquisition")
	}
	w, ok := set[ch].(*UniformWaveform)
	if !ok {
		t.Fatal("published waveform is not uniform")
	}
	assert.Equal(t, 100, w.Len())
	assert.Equal(t, int64(1_000_000), w.Timescale()) // (stop-start)/N
	assert.Equal(t, int64(100_000_000), w.TriggerPhase())
	sec, fs := w.StartTime()
	assert.Greater(t, sec, int64(0))
	assert.GreaterOrEqual(t, fs, int64(0))
	assert.Less(t, fs, FemtosecondsPerSecond)

	// The simulated device reports a -90 dBm floor with a -20 dBm tone
	// mid-span; the decode is exact for these values.
	assert.Equal(t, float32(-90), w.Samples[0])
	assert.Equal(t, float32(-20), w.Samples[50])

	peaks := ch.Peaks()
	if assert.NotEmpty(t, peaks) {
		assert.Equal(t, w.XAt(50), peaks[0].X)
		assert.Equal(t, float32(-20), peaks[0].Y)
	}
}

// TestAcquireDataShortRead cuts the payload off partway. The acquisition
// must fail, publish nothing, and leave the trigger armed.
func TestAcquireDataShortRead(t *testing.T) {
	dev := NewSimSpectrumDevice()
	sa := newTestAnalyzer(t, dev)
	dev.TruncatePayload = 10
	sa.conv.Timeout = 30 * time.Millisecond
	sa.SetSampleDepth(6) // expects 3*6+2 = 20 bytes
	sa.Channel(0).AddRef()
	sa.StartSingleTrigger()

	err := sa.AcquireData()
	assert.Error(t, err)
	assert.True(t, sa.TriggerArmed(), "failed acquisition must not disturb trigger state")
	_, ok := sa.PopSequenceSet()
	assert.False(t, ok, "no waveform may be published from a partial payload")
}

// TestAcquireDataFramingQuirks checks that bracket and point-marker
// mismatches are logged but do not abort the capture.
func TestAcquireDataFramingQuirks(t *testing.T) {
	problems := captureProblems(t)
	dev := NewSimSpectrumDevice()
	dev.DropCloseBracket = true
	dev.CorruptPointMarker = true
	sa := newTestAnalyzer(t, dev)
	sa.SetSampleDepth(51)
	sa.Channel(0).AddRef()
	sa.Start()

	assert.NoError(t, sa.AcquireData())
	assert.True(t, sa.TriggerArmed(), "free-running trigger stays armed")
	_, ok := sa.PopSequenceSet()
	assert.True(t, ok, "capture with cosmetic framing quirks must still publish")
	assert.Contains(t, problems.String(), "invalid closing byte")
	assert.Contains(t, problems.String(), "invalid point header byte")
}

// TestAcquireDataSkipsDisabledChannels verifies the SequenceSet includes
// only channels enabled at completion time.
func TestAcquireDataSkipsDisabledChannels(t *testing.T) {
	dev := NewSimSpectrumDevice()
	sa := newTestAnalyzer(t, dev)
	sa.SetSampleDepth(51)
	// No AddRef: CH1 is disabled.
	assert.NoError(t, sa.AcquireData())
	set, ok := sa.PopSequenceSet()
	assert.True(t, ok)
	assert.Empty(t, set)
}

func TestSweepConfiguration(t *testing.T) {
	dev := NewSimSpectrumDevice()
	sa := newTestAnalyzer(t, dev)

	assert.NoError(t, sa.SetCenterFrequency(500_000_000))
	start, stop := sa.SweepRange()
	assert.Equal(t, int64(450_000_000), start)
	assert.Equal(t, int64(550_000_000), stop)

	assert.NoError(t, sa.SetSpan(20_000_000))
	start, stop = sa.SweepRange()
	assert.Equal(t, int64(490_000_000), start)
	assert.Equal(t, int64(510_000_000), stop)
	assert.Equal(t, int64(500_000_000), sa.CenterFrequency())

	// Below the model's minimum frequency: clamped before pushing.
	assert.NoError(t, sa.SetCenterFrequency(5_000_000))
	start, _ = sa.SweepRange()
	assert.Equal(t, int64(0), start)
}

func TestSweepRejectionLogged(t *testing.T) {
	problems := captureProblems(t)
	dev := NewSimSpectrumDevice()
	sa := newTestAnalyzer(t, dev)
	dev.RejectSweepSet = true

	// The device answers set commands with a usage line; the driver logs the
	// rejection and keeps the values the device reports.
	assert.NoError(t, sa.SetCenterFrequency(500_000_000))
	assert.Contains(t, problems.String(), "error sending")
}

func TestSetResolutionBandwidth(t *testing.T) {
	dev := NewSimSpectrumDevice()
	sa := newTestAnalyzer(t, dev)

	assert.NoError(t, sa.SetResolutionBandwidth(850_000))
	assert.Equal(t, int64(850_000), sa.ResolutionBandwidth())

	// Above the ultra model's 850 kHz ceiling: clamped.
	assert.NoError(t, sa.SetResolutionBandwidth(5_000_000))
	assert.Equal(t, int64(850_000), sa.ResolutionBandwidth())
}

// TestSampleDepthValidation checks that a bad configured depth can neither
// stick nor crash an acquisition.
func TestSampleDepthValidation(t *testing.T) {
	problems := captureProblems(t)
	dev := NewSimSpectrumDevice()
	sa := newTestAnalyzer(t, dev)

	sa.SetSampleDepth(0)
	assert.Equal(t, 1000, sa.SampleDepth(), "invalid depth must not replace the current one")
	sa.SetSampleDepth(-5)
	assert.Equal(t, 1000, sa.SampleDepth())
	assert.Contains(t, problems.String(), "invalid sample depth")

	// Even if the cached depth is somehow zeroed, a sweep fails cleanly
	// instead of panicking.
	sa.sampleDepth = 0
	assert.Error(t, sa.AcquireData())
	_, ok := sa.PopSequenceSet()
	assert.False(t, ok)
}

func TestSampleDepths(t *testing.T) {
	dev := NewSimSpectrumDevice()
	sa := newTestAnalyzer(t, dev)
	depths := sa.SampleDepths()
	assert.Contains(t, depths, 51)
	assert.Contains(t, depths, 30000)
	assert.True(t, sa.PollTrigger())
}
