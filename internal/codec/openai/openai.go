// Package openai implements a codec backend using OpenAI's Audio
// Transcription API (whisper-1 / gpt-4o-transcribe).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/nadzzz/obivox/internal/codec"
	"github.com/nadzzz/obivox/internal/config"
)

// DefaultModel is used when no transcription model is configured.
const DefaultModel = oai.AudioModelWhisper1

var _ codec.Backend = (*Backend)(nil)

// Backend transcribes audio through the OpenAI API.
type Backend struct {
	client oai.Client
	model  string
}

// New creates an OpenAI backend from config.
func New(cfg config.OpenAIConfig, opts ...option.RequestOption) (*Backend, error) {
	if cfg.APIKey == "" || strings.HasPrefix(cfg.APIKey, "${") {
		return nil, fmt.Errorf("openai: api key is not set")
	}
	model := cfg.TranscriptionModel
	if model == "" {
		model = DefaultModel
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	reqOpts = append(reqOpts, opts...)

	return &Backend{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return "openai" }

// Kind returns codec.STT.
func (b *Backend) Kind() codec.Kind { return codec.STT }

// Invoke transcribes in.Audio.
//
// whisper-1 answers in verbose_json and confidence comes from its segments;
// the gpt-4o models only return token logprobs, which are averaged instead.
func (b *Backend) Invoke(ctx context.Context, s codec.Strategy, in codec.Input) (*codec.Output, error) {
	if len(in.Audio) == 0 {
		return nil, fmt.Errorf("openai: empty audio")
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "audio/wav"
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(in.Audio), "audio"+codec.ExtFromContentType(contentType), contentType),
		Model: b.model,
	}
	tokenLogprobs := strings.HasPrefix(b.model, "gpt-4o")
	if tokenLogprobs {
		params.ResponseFormat = oai.AudioResponseFormatJSON
		params.Include = []oai.TranscriptionInclude{oai.TranscriptionIncludeLogprobs}
	} else {
		params.ResponseFormat = oai.AudioResponseFormatVerboseJSON
	}
	if s.Language != "" {
		params.Language = param.NewOpt(s.Language)
	}
	if s.Prompt != "" {
		params.Prompt = param.NewOpt(s.Prompt)
	}

	resp, err := b.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	out := &codec.Output{Text: resp.Text}
	if tokenLogprobs {
		lps := make([]float64, len(resp.Logprobs))
		for i, lp := range resp.Logprobs {
			lps[i] = lp.Logprob
		}
		out.Confidence = codec.SegmentConfidence(lps)
	} else {
		var t codec.Transcript
		if raw := resp.RawJSON(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &t); err != nil {
				return nil, fmt.Errorf("decoding verbose transcription: %w", err)
			}
		}
		out.Language = t.Language
		out.Confidence = t.Confidence()
	}

	slog.Debug("openai transcription complete",
		"model", b.model,
		"text_length", len(out.Text),
		"confidence", out.Confidence)
	return out, nil
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }
