package variation

import "fmt"

// lispDamping scales the first-difference correction at full strength.
const lispDamping = 0.2

// Normalize softens detected variations in place. preservation is the share
// of the original signal to keep: 0 is full correction, 1 leaves samples
// unchanged.
//
// Stutter smoothing needs a full window on both sides of a sample, so the
// first and last SmoothingWindow/2 samples are never smoothed, and buffers
// shorter than SmoothingWindow skip smoothing entirely.
func Normalize(samples []float64, p Profile, preservation float64) error {
	if preservation < 0 || preservation > 1 {
		return fmt.Errorf("normalize: preservation factor %.3f outside [0,1]: %w", preservation, ErrInvalidInput)
	}
	if preservation == 1 || len(samples) == 0 {
		return nil
	}
	correction := 1 - preservation

	if p.HasLisp {
		for i := 1; i < len(samples); i++ {
			samples[i] -= (samples[i] - samples[i-1]) * lispDamping * correction
		}
	}

	if p.HasStutter && len(samples) >= SmoothingWindow {
		smooth(samples, preservation)
	}
	return nil
}

// smooth blends each interior sample with the mean of the SmoothingWindow
// samples centered on it. Means are taken over the unsmoothed signal.
func smooth(samples []float64, preservation float64) {
	half := SmoothingWindow / 2

	prefix := make([]float64, len(samples)+1)
	for i, s := range samples {
		prefix[i+1] = prefix[i] + s
	}

	for i := half; i < len(samples)-half; i++ {
		avg := (prefix[i+half] - prefix[i-half]) / SmoothingWindow
		samples[i] = samples[i]*preservation + avg*(1-preservation)
	}
}
