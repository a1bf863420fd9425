package sigacq

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// FindPeaks locates up to maxPeaks local maxima in a finished spectrum
// waveform, strongest first, keeping only peaks at least minSeparation
// apart on the X axis. The detection threshold is the noise floor estimate
// (mean) plus three standard deviations, so a flat capture yields no peaks.
func FindPeaks(w *UniformWaveform, maxPeaks int, minSeparation int64) []Peak {
	n := len(w.Samples)
	if n < 3 || maxPeaks <= 0 {
		return nil
	}

	values := make([]float64, n)
	for i, s := range w.Samples {
		values[i] = float64(s)
	}
	mean, std := stat.MeanStdDev(values, nil)
	threshold := mean + 3*std

	var candidates []int
	for i := 1; i < n-1; i++ {
		if values[i] < threshold {
			continue
		}
		if values[i] >= values[i-1] && values[i] > values[i+1] {
			candidates = append(candidates, i)
		}
	}
	sort.Slice(candidates, func(a, b int) bool {
		return values[candidates[a]] > values[candidates[b]]
	})

	var peaks []Peak
	for _, i := range candidates {
		if len(peaks) >= maxPeaks {
			break
		}
		x := w.XAt(i)
		tooClose := false
		for _, p := range peaks {
			d := x - p.X
			if d < 0 {
				d = -d
			}
			if d < minSeparation {
				tooClose = true
				break
			}
		}
		if !tooClose {
			peaks = append(peaks, Peak{X: x, Y: w.Samples[i]})
		}
	}
	return peaks
}
