// Package variation detects and softens speech variations (lisp, stutter,
// accent) in a mono sample buffer.
//
// Detection produces a [Profile] describing what was found plus a scalar
// variation score. Normalization consumes that profile and blends a corrected
// signal with the original according to a preservation factor, so a
// speaker's identity survives the correction.
package variation

import "errors"

// ErrInvalidInput is returned for empty buffers and out-of-range parameters.
var ErrInvalidInput = errors.New("variation: invalid input")

const (
	// LispZCRThreshold is the zero-crossing rate above which fricatives are
	// treated as lisp-affected.
	LispZCRThreshold = 0.4

	// WindowSize is the self-similarity window used for stutter detection.
	WindowSize = 1024

	// WindowStride is the hop between successive stutter windows.
	WindowStride = WindowSize / 2

	// RepetitionCorrelation is the normalized cross-correlation above which
	// two adjacent windows count as a repeated onset.
	RepetitionCorrelation = 0.8

	// StutterRepetitions is the repetition count above which a stutter is
	// flagged.
	StutterRepetitions = 3

	// SmoothingWindow is the centered moving-average width used when
	// smoothing stutters.
	SmoothingWindow = 512

	// IdentityIntegrity is the phenomenological integrity above which accent
	// normalization stays disabled for high-variation speech.
	IdentityIntegrity = 0.9
)

// Profile is a speaker's variation profile.
//
// HasLisp, HasStutter and VariationScore are computed per request. The
// remaining fields are caller-owned accessibility preferences that pass
// through detection untouched, except that AccentNormalization is forced off
// when identity preservation wins.
type Profile struct {
	HasLisp        bool    `json:"has_lisp" mapstructure:"has_lisp" yaml:"has_lisp"`
	HasStutter     bool    `json:"has_stutter" mapstructure:"has_stutter" yaml:"has_stutter"`
	HasAccent      bool    `json:"has_accent" mapstructure:"has_accent" yaml:"has_accent"`
	VariationScore float64 `json:"variation_score" mapstructure:"variation_score" yaml:"variation_score"`

	// Tolerance is the caller's variation tolerance in [0,1].
	Tolerance float64 `json:"tolerance" mapstructure:"tolerance" yaml:"tolerance"`

	// AccentNormalization enables accent smoothing. Off by default so
	// dialect is preserved.
	AccentNormalization bool `json:"accent_normalization" mapstructure:"accent_normalization" yaml:"accent_normalization"`

	// PhenomenologicalIntegrity weighs how strongly the speaker's identity
	// must be preserved, in [0,1].
	PhenomenologicalIntegrity float64 `json:"phenomenological_integrity" mapstructure:"phenomenological_integrity" yaml:"phenomenological_integrity"`

	// DialectMarkers are free-form dialect labels carried for downstream
	// backends.
	DialectMarkers []string `json:"dialect_markers,omitempty" mapstructure:"dialect_markers" yaml:"dialect_markers"`
}

// DefaultProfile returns the accessibility defaults for a new speaker.
func DefaultProfile() Profile {
	return Profile{
		Tolerance:                 0.7,
		PhenomenologicalIntegrity: 0.95,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
