package openai

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/obivox/internal/codec"
	"github.com/nadzzz/obivox/internal/config"
)

func newServer(t *testing.T, body string, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(config.OpenAIConfig{})
	require.Error(t, err)
	_, err = New(config.OpenAIConfig{APIKey: "${OPENAI_API_KEY}"})
	require.Error(t, err)
}

func TestInvoke_VerboseJSON(t *testing.T) {
	srv := newServer(t,
		`{"text":"turn on the lights","language":"english","segments":[{"avg_logprob":-0.2}]}`,
		func(r *http.Request) {
			assert.Equal(t, "whisper-1", r.FormValue("model"))
			assert.Equal(t, "verbose_json", r.FormValue("response_format"))
			assert.Equal(t, "en", r.FormValue("language"))
		})

	b, err := New(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, option.WithMaxRetries(0))
	require.NoError(t, err)

	out, err := b.Invoke(context.Background(), codec.Strategy{Language: "en"},
		codec.Input{Audio: []byte("RIFF"), ContentType: "audio/wav"})
	require.NoError(t, err)
	assert.Equal(t, "turn on the lights", out.Text)
	assert.Equal(t, "english", out.Language)
	assert.InDelta(t, math.Exp(-0.2), out.Confidence, 1e-9)
}

func TestInvoke_TokenLogprobs(t *testing.T) {
	srv := newServer(t,
		`{"text":"hi","logprobs":[{"token":"hi","logprob":-0.1},{"token":".","logprob":-0.3}]}`,
		func(r *http.Request) {
			assert.Equal(t, "json", r.FormValue("response_format"))
		})

	b, err := New(config.OpenAIConfig{
		APIKey:             "sk-test",
		BaseURL:            srv.URL + "/v1",
		TranscriptionModel: "gpt-4o-transcribe",
	}, option.WithMaxRetries(0))
	require.NoError(t, err)

	out, err := b.Invoke(context.Background(), codec.Strategy{}, codec.Input{Audio: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Text)
	assert.InDelta(t, math.Exp(-0.2), out.Confidence, 1e-9)
}

func TestInvoke_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad audio","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	b, err := New(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, option.WithMaxRetries(0))
	require.NoError(t, err)
	_, err = b.Invoke(context.Background(), codec.Strategy{}, codec.Input{Audio: []byte{1}})
	require.Error(t, err)
}
