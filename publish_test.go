package sigacq

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepUpdates(t *testing.T) {
	ch := NewSpectrumChannel(nil, "CH1", "#ffff00", 0)
	ch.SetPeaks([]Peak{{X: 150_000_000, Y: -20}})
	w := &UniformWaveform{
		Scale:        1_000_000,
		Phase:        100_000_000,
		StartSeconds: 1700000000,
		Samples:      make([]float32, 100),
	}
	set := SequenceSet{ch: w}

	updates := SweepUpdates(set)
	require.Len(t, updates, 1)
	assert.Equal(t, "SWEEP", updates[0].tag)

	var summary SweepSummary
	require.NoError(t, json.Unmarshal(updates[0].message, &summary))
	assert.Equal(t, "CH1", summary.Channel)
	assert.Equal(t, 100, summary.Points)
	assert.Equal(t, 100e6, summary.StartHz)
	assert.Equal(t, 200e6, summary.StopHz)
	require.Len(t, summary.Peaks, 1)
	assert.Equal(t, 150e6, summary.Peaks[0].FreqHz)
	assert.Equal(t, float32(-20), summary.Peaks[0].DBm)
}

func TestStatusUpdate(t *testing.T) {
	u := StatusUpdate(true, 42)
	assert.Equal(t, "STATUS", u.tag)

	var status map[string]any
	require.NoError(t, json.Unmarshal(u.message, &status))
	assert.Equal(t, true, status["running"])
	assert.Equal(t, float64(42), status["sweeps"])
	assert.Equal(t, Build.Version, status["version"])
}
