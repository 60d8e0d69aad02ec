package whisper

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/obivox/internal/codec"
	"github.com/nadzzz/obivox/internal/config"
)

func TestInvoke_OpenAIFlavor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		assert.Equal(t, "fr", r.FormValue("language"))
		assert.Equal(t, "base", r.FormValue("model"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "RIFFdata", string(data))
		assert.Equal(t, "audio.wav", hdr.Filename)

		_, _ = io.WriteString(w, `{"text":"bonjour","language":"fr","segments":[{"avg_logprob":-0.1},{"avg_logprob":-0.3}]}`)
	}))
	defer srv.Close()

	b := New(config.WhisperConfig{Endpoint: srv.URL, Model: "base", Language: "fr"})
	assert.Equal(t, codec.STT, b.Kind())

	out, err := b.Invoke(context.Background(), codec.Strategy{}, codec.Input{Audio: []byte("RIFFdata"), ContentType: "audio/wav"})
	require.NoError(t, err)
	assert.Equal(t, "bonjour", out.Text)
	assert.Equal(t, "fr", out.Language)
	assert.InDelta(t, math.Exp(-0.2), out.Confidence, 1e-9)
}

func TestInvoke_ASRFlavor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "transcribe", r.URL.Query().Get("task"))
		assert.Equal(t, "true", r.URL.Query().Get("vad_filter"))
		assert.Equal(t, "en", r.URL.Query().Get("language"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, hdr, err := r.FormFile("audio_file")
		require.NoError(t, err)
		assert.Equal(t, "audio.ogg", hdr.Filename)

		_, _ = io.WriteString(w, `{"text":"hello","language":"en"}`)
	}))
	defer srv.Close()

	b := New(config.WhisperConfig{Endpoint: srv.URL, Type: "asr", VADFilter: true})
	out, err := b.Invoke(context.Background(), codec.Strategy{Language: "en"}, codec.Input{Audio: []byte{1, 2}, ContentType: "audio/ogg"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Text)
	assert.Equal(t, 1.0, out.Confidence, "no segments reads as full confidence")
}

func TestInvoke_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(config.WhisperConfig{Endpoint: srv.URL}).
		Invoke(context.Background(), codec.Strategy{}, codec.Input{Audio: []byte{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestInvoke_EmptyAudio(t *testing.T) {
	_, err := New(config.WhisperConfig{Endpoint: "http://unused"}).
		Invoke(context.Background(), codec.Strategy{}, codec.Input{})
	require.Error(t, err)
}
