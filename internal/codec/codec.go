// Package codec defines the capability interface for speech codec backends
// and a registry of the backends available at runtime.
//
// A backend either transcribes audio (STT) or synthesizes speech (TTS).
// Obivox ships with whisper (self-hosted), openai (cloud), piper (Wyoming
// TTS) and an in-process mock. Atlas entries name the backend that serves
// them, so adding a backend is registration plus a seed entry.
package codec

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
)

// ErrUnknownBackend is returned when a backend name is not registered.
var ErrUnknownBackend = errors.New("codec: unknown backend")

// Kind is the direction a backend converts in.
type Kind string

const (
	// STT converts audio to text.
	STT Kind = "stt"

	// TTS converts text to audio.
	TTS Kind = "tts"
)

// SynthesisConfidence is reported by TTS backends, which have no
// per-request confidence of their own.
const SynthesisConfidence = 0.95

// Strategy is the routing decision a backend call runs under.
type Strategy struct {
	// Service and Operation are the atlas key being served.
	Service   string
	Operation string

	// Language is the ISO-639-1 code (e.g., "en", "fr") to guide the backend.
	Language string

	// Prompt provides context to improve recognition of domain-specific terms.
	Prompt string

	// Voice overrides automatic language-based voice selection.
	Voice string

	// Confidence is the mapped position confidence for the request.
	Confidence float64
}

// Input is the payload handed to a backend.
type Input struct {
	Audio       []byte
	ContentType string
	Text        string
}

// Output is what a backend produced.
type Output struct {
	// Text is the transcript (STT).
	Text     string
	Language string

	// Audio is a WAV file (TTS).
	Audio       []byte
	ContentType string
	SampleRate  int
	Channels    int

	// Confidence is the backend's own confidence in [0,1].
	Confidence float64
}

// Backend is a speech codec.
type Backend interface {
	// Name returns the registry identifier (e.g., "whisper", "piper").
	Name() string

	// Kind reports whether the backend transcribes or synthesizes.
	Kind() Kind

	// Invoke runs one conversion.
	Invoke(ctx context.Context, s Strategy, in Input) (*Output, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Registry maps backend names to backends. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds b. Names must be unique.
func (r *Registry) Register(b Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[b.Name()]; ok {
		return fmt.Errorf("codec: backend %q already registered", b.Name())
	}
	r.backends[b.Name()] = b
	return nil
}

// Get returns the backend registered as name.
func (r *Registry) Get(name string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return b, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for n := range r.backends {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Close closes every backend.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, b := range r.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// SegmentConfidence converts Whisper segment avg_logprob values into a
// confidence: the exponential of their mean. No segments means 1.
func SegmentConfidence(avgLogprobs []float64) float64 {
	if len(avgLogprobs) == 0 {
		return 1
	}
	var sum float64
	for _, lp := range avgLogprobs {
		sum += lp
	}
	c := math.Exp(sum / float64(len(avgLogprobs)))
	if math.IsNaN(c) {
		return 0
	}
	return math.Min(1, c)
}

// Segment is one verbose_json transcription segment.
type Segment struct {
	Text       string  `json:"text"`
	AvgLogprob float64 `json:"avg_logprob"`
}

// Transcript is the verbose_json body shared by Whisper-compatible servers.
type Transcript struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// Confidence returns the transcript's segment confidence.
func (t Transcript) Confidence() float64 {
	lps := make([]float64, len(t.Segments))
	for i, s := range t.Segments {
		lps[i] = s.AvgLogprob
	}
	return SegmentConfidence(lps)
}

// ExtFromContentType maps an audio MIME type to a file extension for
// multipart uploads.
func ExtFromContentType(ct string) string {
	switch {
	case strings.Contains(ct, "wav"):
		return ".wav"
	case strings.Contains(ct, "ogg"):
		return ".ogg"
	case strings.Contains(ct, "mp3"), strings.Contains(ct, "mpeg"):
		return ".mp3"
	case strings.Contains(ct, "flac"):
		return ".flac"
	case strings.Contains(ct, "webm"):
		return ".webm"
	default:
		return ".wav"
	}
}
