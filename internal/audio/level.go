package audio

import "math"

// rmsLevel returns the root-mean-square energy of a sample block, in [0, 1]
// for well-formed input. The waveform view polls this through Level().
func rmsLevel(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
