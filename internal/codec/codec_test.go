package codec

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	name     string
	closeErr error
	closed   bool
}

func (s *stubBackend) Name() string { return s.name }
func (s *stubBackend) Kind() Kind   { return STT }
func (s *stubBackend) Invoke(context.Context, Strategy, Input) (*Output, error) {
	return &Output{Text: s.name}, nil
}
func (s *stubBackend) Close() error {
	s.closed = true
	return s.closeErr
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubBackend{name: "whisper"}))
	require.NoError(t, r.Register(&stubBackend{name: "openai"}))
	require.Error(t, r.Register(&stubBackend{name: "whisper"}))

	b, err := r.Get("whisper")
	require.NoError(t, err)
	assert.Equal(t, "whisper", b.Name())

	_, err = r.Get("vosk")
	require.ErrorIs(t, err, ErrUnknownBackend)

	assert.Equal(t, []string{"openai", "whisper"}, r.Names())
}

func TestRegistry_CloseJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &stubBackend{name: "a", closeErr: boom}
	b := &stubBackend{name: "b"}
	r := NewRegistry()
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	err := r.Close()
	require.ErrorIs(t, err, boom)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestSegmentConfidence(t *testing.T) {
	assert.Equal(t, 1.0, SegmentConfidence(nil))
	assert.InDelta(t, math.Exp(-0.5), SegmentConfidence([]float64{-0.25, -0.75}), 1e-12)
	assert.Equal(t, 1.0, SegmentConfidence([]float64{0.2}), "capped at 1")

	tr := Transcript{Segments: []Segment{{AvgLogprob: -1}}}
	assert.InDelta(t, math.Exp(-1), tr.Confidence(), 1e-12)
}

func TestExtFromContentType(t *testing.T) {
	for ct, want := range map[string]string{
		"audio/wav":          ".wav",
		"audio/ogg; codecs=": ".ogg",
		"audio/mpeg":         ".mp3",
		"audio/flac":         ".flac",
		"audio/webm":         ".webm",
		"":                   ".wav",
	} {
		assert.Equal(t, want, ExtFromContentType(ct), ct)
	}
}
