package nlm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_RejectsShortSeries(t *testing.T) {
	_, err := Map(Features{PitchContour: []float64{1}, EnergyEnvelope: []float64{1, 2}})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = Map(Features{PitchContour: []float64{1, 2}, EnergyEnvelope: nil})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestMap_ConstantPitchIsFullyCoherent(t *testing.T) {
	p, err := Map(Features{
		PitchContour:   []float64{0.2, 0.2, 0.2, 0.2},
		EnergyEnvelope: []float64{0, 0},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.X)
	assert.Equal(t, 0.0, p.Y)
}

func TestMap_Formulas(t *testing.T) {
	p, err := Map(Features{
		PitchContour:   []float64{0, 1, 0},
		EnergyEnvelope: []float64{0.25, 0.25},
		VariationScore: 0.5,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1-2*math.Tanh(1), p.X, 1e-12)
	assert.InDelta(t, math.Tanh(0.5), p.Y, 1e-12)
	assert.InDelta(t, 0.5, p.Z, 1e-12)
	assert.InDelta(t, DefaultCoherenceThreshold*0.95, p.Confidence, 1e-12)
}

func TestMap_CustomThreshold(t *testing.T) {
	p, err := Map(Features{
		PitchContour:       []float64{0, 0},
		EnergyEnvelope:     []float64{0, 0},
		CoherenceThreshold: 0.85,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.85, p.Confidence, 1e-12)
}

func TestMap_AlwaysInRange(t *testing.T) {
	cases := []Features{
		{PitchContour: []float64{-100, 100, -100}, EnergyEnvelope: []float64{-50, -50}, VariationScore: -3},
		{PitchContour: []float64{0, 0}, EnergyEnvelope: []float64{1e9, 1e9}, VariationScore: 7},
		{PitchContour: []float64{0.1, 0.3, 0.2}, EnergyEnvelope: []float64{0.4, 0.1}, VariationScore: 0.3},
	}
	for _, f := range cases {
		p, err := Map(f)
		require.NoError(t, err)
		assert.True(t, p.X >= -1 && p.X <= 1, "x=%v", p.X)
		assert.True(t, p.Y >= -1 && p.Y <= 1, "y=%v", p.Y)
		assert.True(t, p.Z >= 0 && p.Z <= 1, "z=%v", p.Z)
		assert.True(t, p.Confidence >= 0 && p.Confidence <= 1, "confidence=%v", p.Confidence)
	}
}

func TestPosition_Nudge(t *testing.T) {
	p := Position{Y: 0.95, Z: 0.98}.Nudge(0, 0.1, 0.05)
	assert.Equal(t, 1.0, p.Y)
	assert.Equal(t, 1.0, p.Z)
}

func TestExtractFeatures(t *testing.T) {
	const rate = 16000
	s := make([]float64, rate)
	for i := range s {
		s[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/rate+0.1)
	}
	f := ExtractFeatures(s, rate, 0.4)

	require.Len(t, f.PitchContour, FrameCount)
	require.Len(t, f.EnergyEnvelope, FrameCount)
	assert.Equal(t, 0.4, f.VariationScore)
	for k := range f.PitchContour {
		assert.InDelta(t, 0.44, f.PitchContour[k], 0.1)
		assert.InDelta(t, 0.5/math.Sqrt2, f.EnergyEnvelope[k], 0.03)
	}

	p, err := Map(f)
	require.NoError(t, err)
	assert.Greater(t, p.X, 0.9, "steady tone should read as coherent")
}

func TestExtractFeatures_ShortBuffer(t *testing.T) {
	f := ExtractFeatures([]float64{0.1, 0.2, 0.3}, 16000, 0)
	assert.Len(t, f.PitchContour, 3)
	assert.Len(t, f.EnergyEnvelope, 3)
}

func TestExtractFeatures_UsesTrailingSamples(t *testing.T) {
	s := make([]float64, 2*FrameCount-1)
	s[len(s)-1] = 1

	f := ExtractFeatures(s, 16000, 0)
	require.Len(t, f.EnergyEnvelope, FrameCount)
	assert.InDelta(t, math.Sqrt(0.5), f.EnergyEnvelope[FrameCount-1], 1e-12)
	assert.Zero(t, f.EnergyEnvelope[FrameCount-2])
}
