package variation

import (
	"fmt"
	"math"
)

// Analysis holds the raw measurements behind a detection.
type Analysis struct {
	ZeroCrossingRate float64
	Repetitions      int
	Score            float64
}

// Detect measures zero-crossing rate and windowed self-similarity over
// samples and returns the updated profile along with the measurements.
//
// Lisp and stutter flags are sticky: detection only ever raises them, since
// the caller owns them as persistent preferences. Detect never mutates
// samples.
func Detect(samples []float64, prior Profile) (Profile, Analysis, error) {
	if len(samples) == 0 {
		return prior, Analysis{}, fmt.Errorf("detect: empty sample buffer: %w", ErrInvalidInput)
	}

	zcr := zeroCrossingRate(samples)
	reps := repetitions(samples)
	score := clamp01(0.3*zcr + 0.1*float64(reps) + 0.6*clamp01(prior.Tolerance))

	p := prior
	p.HasLisp = prior.HasLisp || zcr > LispZCRThreshold
	p.HasStutter = prior.HasStutter || reps > StutterRepetitions
	p.VariationScore = score

	if score > 0.5 && prior.PhenomenologicalIntegrity > IdentityIntegrity {
		p.AccentNormalization = false
	}

	return p, Analysis{ZeroCrossingRate: zcr, Repetitions: reps, Score: score}, nil
}

func zeroCrossingRate(samples []float64) float64 {
	var crossings int
	for i := 1; i < len(samples); i++ {
		if (samples[i] > 0) != (samples[i-1] > 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples))
}

// repetitions counts windows that correlate strongly with the window
// immediately before them.
func repetitions(samples []float64) int {
	var count int
	for i := WindowSize; i+WindowSize <= len(samples); i += WindowStride {
		if normalizedCorrelation(samples[i-WindowSize:i], samples[i:i+WindowSize]) > RepetitionCorrelation {
			count++
		}
	}
	return count
}

func normalizedCorrelation(a, b []float64) float64 {
	var dot, ea, eb float64
	for j := range a {
		dot += a[j] * b[j]
		ea += a[j] * a[j]
		eb += b[j] * b[j]
	}
	if ea == 0 || eb == 0 {
		return 0
	}
	return dot / math.Sqrt(ea*eb)
}
