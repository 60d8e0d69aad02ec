package nlm

import "math"

// FrameCount is the number of frames each feature series is reduced to.
const FrameCount = 256

// ExtractFeatures derives coarse pitch and energy series from samples at
// the given sample rate. Each of FrameCount equal frames contributes one
// RMS energy value and one pitch estimate in kHz taken from its
// zero-crossing rate. Frames differ in length by at most one sample and
// together cover every sample. Buffers shorter than FrameCount use one
// frame per sample.
func ExtractFeatures(samples []float64, sampleRate int, variationScore float64) Features {
	frames := FrameCount
	if len(samples) < frames {
		frames = len(samples)
	}
	f := Features{
		PitchContour:   make([]float64, frames),
		EnergyEnvelope: make([]float64, frames),
		VariationScore: variationScore,
	}
	if frames == 0 {
		return f
	}

	for k := 0; k < frames; k++ {
		frame := samples[k*len(samples)/frames : (k+1)*len(samples)/frames]

		var sq float64
		var crossings int
		for i, s := range frame {
			sq += s * s
			if i > 0 && (s > 0) != (frame[i-1] > 0) {
				crossings++
			}
		}
		f.EnergyEnvelope[k] = math.Sqrt(sq / float64(len(frame)))
		if sampleRate > 0 && len(frame) > 1 {
			// Two crossings per period.
			hz := float64(crossings) * float64(sampleRate) / (2 * float64(len(frame)))
			f.PitchContour[k] = hz / 1000
		}
	}
	return f
}
