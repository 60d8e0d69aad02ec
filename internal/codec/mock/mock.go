// Package mock provides in-process codec backends for tests and for running
// obivox without any speech servers.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/nadzzz/obivox/internal/codec"
	"github.com/nadzzz/obivox/internal/media"
)

var _ codec.Backend = (*Backend)(nil)

// Call records one Invoke.
type Call struct {
	Strategy codec.Strategy
	Input    codec.Input
}

// Backend returns canned output and records every call. The zero value is
// not usable; use NewSTT or NewTTS.
type Backend struct {
	name string
	kind codec.Kind

	mu         sync.Mutex
	transcript string
	confidence float64
	err        error
	calls      []Call
}

// NewSTT returns a transcribing mock named name.
func NewSTT(name, transcript string, confidence float64) *Backend {
	return &Backend{name: name, kind: codec.STT, transcript: transcript, confidence: confidence}
}

// NewTTS returns a synthesizing mock named name. It answers with a short
// silent WAV.
func NewTTS(name string) *Backend {
	return &Backend{name: name, kind: codec.TTS, confidence: codec.SynthesisConfidence}
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return b.name }

// Kind returns the configured kind.
func (b *Backend) Kind() codec.Kind { return b.kind }

// SetError makes every following Invoke fail with err. Nil restores success.
func (b *Backend) SetError(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

// SetConfidence changes the reported confidence.
func (b *Backend) SetConfidence(c float64) {
	b.mu.Lock()
	b.confidence = c
	b.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// Invoke records the call and returns the canned result.
func (b *Backend) Invoke(ctx context.Context, s codec.Strategy, in codec.Input) (*codec.Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, Call{Strategy: s, Input: in})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.err != nil {
		return nil, fmt.Errorf("%s: %w", b.name, b.err)
	}
	if b.kind == codec.TTS {
		const rate = 16000
		return &codec.Output{
			Audio:       media.EncodeWAV(make([]byte, rate/10*2), rate, 1, 2),
			ContentType: "audio/wav",
			SampleRate:  rate,
			Channels:    1,
			Language:    s.Language,
			Confidence:  b.confidence,
		}, nil
	}
	text := b.transcript
	if text == "" {
		text = fmt.Sprintf("%d bytes of %s", len(in.Audio), s.Service)
	}
	return &codec.Output{Text: text, Language: s.Language, Confidence: b.confidence}, nil
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }
