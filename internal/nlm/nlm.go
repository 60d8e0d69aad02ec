// Package nlm maps acoustic features onto a three-axis position with an
// epistemic confidence.
//
// The axes are coherence (x, fictional -1 to factual +1), formality
// (y, informal -1 to formal +1) and conceptual evolution (z, static 0 to
// dynamic 1). Positions are values: a new one replaces the old, nothing
// mutates one in place.
package nlm

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput is returned when a feature series is too short to map.
var ErrInvalidInput = errors.New("nlm: invalid input")

// DefaultCoherenceThreshold is the target epistemic confidence.
const DefaultCoherenceThreshold = 0.954

// MaxShortfall is the largest fraction of the coherence threshold that the
// variation score takes off a mapped confidence.
const MaxShortfall = 0.1

// Position is a point in coherence/formality/evolution space.
type Position struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Confidence float64 `json:"confidence"`
}

// Neutral is the starting position: centered, mid-evolution, at target
// confidence.
func Neutral() Position {
	return Position{X: 0, Y: 0, Z: 0.5, Confidence: DefaultCoherenceThreshold}
}

// Clamped returns p with every axis forced into its declared range.
func (p Position) Clamped() Position {
	return Position{
		X:          clamp(p.X, -1, 1),
		Y:          clamp(p.Y, -1, 1),
		Z:          clamp(p.Z, 0, 1),
		Confidence: clamp(p.Confidence, 0, 1),
	}
}

// Nudge returns a copy of p moved by the given deltas and clamped.
func (p Position) Nudge(dx, dy, dz float64) Position {
	p.X += dx
	p.Y += dy
	p.Z += dz
	return p.Clamped()
}

// Features are the per-request inputs to [Map].
type Features struct {
	PitchContour   []float64
	EnergyEnvelope []float64
	VariationScore float64

	// CoherenceThreshold scales confidence. Zero means
	// DefaultCoherenceThreshold.
	CoherenceThreshold float64
}

// Map reduces features to a position. It is a pure function.
func Map(f Features) (Position, error) {
	if len(f.PitchContour) < 2 {
		return Position{}, fmt.Errorf("map: pitch contour has %d samples, need 2: %w", len(f.PitchContour), ErrInvalidInput)
	}
	if len(f.EnergyEnvelope) < 2 {
		return Position{}, fmt.Errorf("map: energy envelope has %d samples, need 2: %w", len(f.EnergyEnvelope), ErrInvalidInput)
	}

	threshold := f.CoherenceThreshold
	if threshold == 0 {
		threshold = DefaultCoherenceThreshold
	}
	score := clamp(f.VariationScore, 0, 1)

	var pitchVar float64
	for i := 1; i < len(f.PitchContour); i++ {
		d := f.PitchContour[i] - f.PitchContour[i-1]
		pitchVar += d * d
	}
	pitchVar /= float64(len(f.PitchContour) - 1)

	var energy float64
	for _, e := range f.EnergyEnvelope {
		energy += e
	}
	energy /= float64(len(f.EnergyEnvelope))

	p := Position{
		X:          1 - 2*math.Tanh(pitchVar),
		Y:          math.Tanh(2 * energy),
		Z:          score,
		Confidence: threshold * (1 - score*MaxShortfall),
	}
	return p.Clamped(), nil
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
