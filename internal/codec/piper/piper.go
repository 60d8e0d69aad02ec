// Package piper implements a TTS codec backend over a Piper Wyoming
// protocol server.
//
// The linuxserver/piper container exposes the Wyoming protocol on TCP port
// 10200. Each event on the wire is:
//
//	<json_length> <payload_length>\n
//	<json_bytes>\n
//	<payload_bytes>   (if payload_length > 0)
package piper

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"strings"
	"time"

	"github.com/nadzzz/obivox/internal/codec"
	"github.com/nadzzz/obivox/internal/config"
	"github.com/nadzzz/obivox/internal/media"
)

// defaultVoices maps ISO-639-1 language codes to Piper voice model names.
var defaultVoices = map[string]string{
	"en": "en_US-lessac-medium",
	"fr": "fr_FR-siwis-medium",
	"es": "es_ES-mls_10246-low",
	"de": "de_DE-thorsten-medium",
	"it": "it_IT-riccardo-x_low",
	"pt": "pt_BR-faber-medium",
	"nl": "nl_NL-mls-medium",
	"pl": "pl_PL-darkman-medium",
}

var _ codec.Backend = (*Backend)(nil)

// Backend synthesizes speech through Piper.
type Backend struct {
	endpoint  string            // default host:port
	endpoints map[string]string // language -> host:port
	voices    map[string]string // language -> voice name
	timeout   time.Duration
}

// New creates a piper backend from config.
func New(cfg config.PiperConfig) *Backend {
	voices := maps.Clone(defaultVoices)
	maps.Copy(voices, cfg.Voices)

	endpoints := make(map[string]string, len(cfg.Endpoints))
	for lang, ep := range cfg.Endpoints {
		endpoints[lang] = cleanEndpoint(ep)
	}
	return &Backend{
		endpoint:  cleanEndpoint(cfg.Endpoint),
		endpoints: endpoints,
		voices:    voices,
		timeout:   30 * time.Second,
	}
}

func cleanEndpoint(ep string) string {
	ep = strings.TrimPrefix(ep, "tcp://")
	return strings.TrimPrefix(ep, "http://")
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return "piper" }

// Kind returns codec.TTS.
func (b *Backend) Kind() codec.Kind { return codec.TTS }

// Invoke synthesizes in.Text and returns it as WAV.
func (b *Backend) Invoke(ctx context.Context, s codec.Strategy, in codec.Input) (*codec.Output, error) {
	if in.Text == "" {
		return nil, fmt.Errorf("piper: empty text for synthesis")
	}

	voice := s.Voice
	if voice == "" {
		voice = b.voices[s.Language]
	}
	if voice == "" {
		voice = b.voices["en"]
	}
	endpoint := b.endpoints[s.Language]
	if endpoint == "" {
		endpoint = b.endpoint
	}
	if endpoint == "" {
		return nil, fmt.Errorf("piper: no endpoint configured for language %q", s.Language)
	}

	slog.Debug("piper synthesize", "text_length", len(in.Text), "voice", voice, "endpoint", endpoint)

	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("connecting to piper: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(b.timeout))
	}

	synth := event{
		Type: "synthesize",
		Data: map[string]any{
			"text":  in.Text,
			"voice": map[string]any{"name": voice},
		},
	}
	if err := writeEvent(conn, synth, nil); err != nil {
		return nil, fmt.Errorf("sending synthesize event: %w", err)
	}

	// audio-start, audio-chunk*, audio-stop
	r := bufio.NewReader(conn)
	var (
		pcm        bytes.Buffer
		sampleRate = 22050
		channels   = 1
		width      = 2
	)
	for {
		evt, payload, err := readEvent(r)
		if err != nil {
			return nil, fmt.Errorf("reading piper event: %w", err)
		}

		switch evt.Type {
		case "audio-start":
			if v, ok := evt.Data["rate"].(float64); ok {
				sampleRate = int(v)
			}
			if v, ok := evt.Data["channels"].(float64); ok {
				channels = int(v)
			}
			if v, ok := evt.Data["width"].(float64); ok {
				width = int(v)
			}
		case "audio-chunk":
			pcm.Write(payload)
		case "audio-stop":
			slog.Debug("piper audio-stop", "pcm_bytes", pcm.Len())
			return &codec.Output{
				Audio:       media.EncodeWAV(pcm.Bytes(), sampleRate, channels, width),
				ContentType: "audio/wav",
				SampleRate:  sampleRate,
				Channels:    channels,
				Language:    s.Language,
				Confidence:  codec.SynthesisConfidence,
			}, nil
		case "error":
			msg := "unknown error"
			if text, ok := evt.Data["text"].(string); ok {
				msg = text
			}
			return nil, fmt.Errorf("piper error: %s", msg)
		default:
			slog.Debug("piper unknown event", "type", evt.Type)
		}
	}
}

// Close is a no-op; connections are per-request.
func (b *Backend) Close() error { return nil }
