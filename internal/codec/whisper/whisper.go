// Package whisper implements a codec backend over a self-hosted
// Whisper-compatible transcription endpoint.
//
// Two server flavors are supported:
//   - "openai": OpenAI-compatible API (whisper.cpp server, faster-whisper)
//   - "asr":    ahmetoner/whisper-asr-webservice (POST /asr with query params)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/nadzzz/obivox/internal/codec"
	"github.com/nadzzz/obivox/internal/config"
)

var _ codec.Backend = (*Backend)(nil)

// Backend transcribes audio through a Whisper server.
type Backend struct {
	endpoint        string
	flavor          string // "openai" or "asr"
	model           string
	vadFilter       bool
	defaultLanguage string
	client          *http.Client
}

// New creates a whisper backend from config.
func New(cfg config.WhisperConfig) *Backend {
	flavor := cfg.Type
	if flavor == "" {
		flavor = "openai"
	}
	return &Backend{
		endpoint:        cfg.Endpoint,
		flavor:          flavor,
		model:           cfg.Model,
		vadFilter:       cfg.VADFilter,
		defaultLanguage: cfg.Language,
		client:          &http.Client{},
	}
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return "whisper" }

// Kind returns codec.STT.
func (b *Backend) Kind() codec.Kind { return codec.STT }

// Invoke transcribes in.Audio.
func (b *Backend) Invoke(ctx context.Context, s codec.Strategy, in codec.Input) (*codec.Output, error) {
	if len(in.Audio) == 0 {
		return nil, fmt.Errorf("whisper: empty audio")
	}
	lang := s.Language
	if lang == "" {
		lang = b.defaultLanguage
	}

	var (
		req *http.Request
		err error
	)
	switch b.flavor {
	case "asr":
		req, err = b.asrRequest(ctx, in, lang, s.Prompt)
	default:
		req, err = b.openAIRequest(ctx, in, lang, s.Prompt)
	}
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper %s request: %w", b.flavor, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("whisper %s transcription failed (status %d): %s", b.flavor, resp.StatusCode, respBody)
	}

	var t codec.Transcript
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, fmt.Errorf("decoding transcription: %w", err)
	}

	out := &codec.Output{
		Text:       t.Text,
		Language:   t.Language,
		Confidence: t.Confidence(),
	}
	slog.Debug("whisper transcription complete",
		"flavor", b.flavor,
		"text_length", len(out.Text),
		"language", out.Language,
		"confidence", out.Confidence)
	return out, nil
}

// asrRequest builds a whisper-asr-webservice request.
// API: POST /asr?task=transcribe&language=en&output=json&vad_filter=true
// Body: multipart/form-data with field "audio_file"
func (b *Backend) asrRequest(ctx context.Context, in codec.Input, lang, prompt string) (*http.Request, error) {
	body, contentType, err := multipartAudio("audio_file", in, nil)
	if err != nil {
		return nil, err
	}

	q := make(url.Values)
	q.Set("task", "transcribe")
	q.Set("output", "json")
	q.Set("encode", "true")
	if lang != "" {
		q.Set("language", lang)
	}
	if prompt != "" {
		q.Set("initial_prompt", prompt)
	}
	if b.vadFilter {
		q.Set("vad_filter", "true")
	}

	reqURL := b.endpoint + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	slog.Debug("whisper-asr request", "url", reqURL)
	return req, nil
}

// openAIRequest builds an OpenAI-compatible transcription request.
func (b *Backend) openAIRequest(ctx context.Context, in codec.Input, lang, prompt string) (*http.Request, error) {
	fields := map[string]string{"response_format": "verbose_json"}
	if b.model != "" {
		fields["model"] = b.model
	}
	if lang != "" {
		fields["language"] = lang
	}
	if prompt != "" {
		fields["prompt"] = prompt
	}
	body, contentType, err := multipartAudio("file", in, fields)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return req, nil
}

func multipartAudio(field string, in codec.Input, fields map[string]string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile(field, "audio"+codec.ExtFromContentType(in.ContentType))
	if err != nil {
		return nil, "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(in.Audio); err != nil {
		return nil, "", fmt.Errorf("writing audio: %w", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("writing field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

// Close is a no-op; requests are independent.
func (b *Backend) Close() error { return nil }
