package piper

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/obivox/internal/codec"
	"github.com/nadzzz/obivox/internal/config"
	"github.com/nadzzz/obivox/internal/media"
)

// fakePiper serves one connection: it reads a synthesize event, checks it
// with onSynth and replies with the given events.
func fakePiper(t *testing.T, onSynth func(event), reply func(w *bufio.Writer)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		evt, _, err := readEvent(bufio.NewReader(conn))
		if err != nil {
			return
		}
		onSynth(*evt)
		w := bufio.NewWriter(conn)
		reply(w)
		_ = w.Flush()
	}()
	return ln.Addr().String()
}

func TestInvoke_Synthesizes(t *testing.T) {
	pcm := media.PCM16([]float64{0, 0.5, -0.5, 0})
	got := make(chan event, 1)
	addr := fakePiper(t,
		func(e event) { got <- e },
		func(w *bufio.Writer) {
			_ = writeEvent(w, event{Type: "audio-start", Data: map[string]any{"rate": 16000, "width": 2, "channels": 1}}, nil)
			_ = writeEvent(w, event{Type: "audio-chunk"}, pcm[:4])
			_ = writeEvent(w, event{Type: "audio-chunk"}, pcm[4:])
			_ = writeEvent(w, event{Type: "audio-stop"}, nil)
		})

	b := New(config.PiperConfig{Endpoint: "tcp://" + addr})
	assert.Equal(t, codec.TTS, b.Kind())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := b.Invoke(ctx, codec.Strategy{Language: "fr"}, codec.Input{Text: "bonjour"})
	require.NoError(t, err)

	synth := <-got
	assert.Equal(t, "synthesize", synth.Type)
	assert.Equal(t, "bonjour", synth.Data["text"])
	assert.Equal(t, map[string]any{"name": "fr_FR-siwis-medium"}, synth.Data["voice"])

	assert.Equal(t, 16000, out.SampleRate)
	assert.Equal(t, "audio/wav", out.ContentType)
	assert.Equal(t, codec.SynthesisConfidence, out.Confidence)

	a, err := media.DecodeWAV(out.Audio)
	require.NoError(t, err)
	assert.Len(t, a.Samples, 4)
}

func TestInvoke_ServerError(t *testing.T) {
	addr := fakePiper(t, func(event) {}, func(w *bufio.Writer) {
		_ = writeEvent(w, event{Type: "error", Data: map[string]any{"text": "voice not found"}}, nil)
	})

	_, err := New(config.PiperConfig{Endpoint: addr}).
		Invoke(context.Background(), codec.Strategy{Voice: "xx"}, codec.Input{Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "voice not found")
}

func TestInvoke_PerLanguageEndpoint(t *testing.T) {
	addr := fakePiper(t, func(event) {}, func(w *bufio.Writer) {
		_ = writeEvent(w, event{Type: "audio-stop"}, nil)
	})

	b := New(config.PiperConfig{Endpoints: map[string]string{"de": addr}})
	_, err := b.Invoke(context.Background(), codec.Strategy{Language: "de"}, codec.Input{Text: "hallo"})
	require.NoError(t, err)

	_, err = b.Invoke(context.Background(), codec.Strategy{Language: "en"}, codec.Input{Text: "hi"})
	require.Error(t, err, "no default endpoint")
}

func TestInvoke_EmptyText(t *testing.T) {
	_, err := New(config.PiperConfig{Endpoint: "localhost:1"}).
		Invoke(context.Background(), codec.Strategy{}, codec.Input{})
	require.Error(t, err)
}

func TestReadEvent_RejectsBadHeader(t *testing.T) {
	for _, in := range []string{"garbage\n", "-1 0\n", "2 x\n{}\n"} {
		_, _, err := readEvent(bytes.NewBufferString(in))
		assert.Error(t, err, in)
	}
}

func TestWriteReadEvent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeEvent(&buf, event{Type: "audio-chunk", Data: map[string]any{"rate": 22050.0}}, []byte{1, 2, 3}))

	evt, payload, err := readEvent(&buf)
	require.NoError(t, err)
	assert.Equal(t, "audio-chunk", evt.Type)
	assert.Equal(t, 22050.0, evt.Data["rate"])
	assert.Equal(t, []byte{1, 2, 3}, payload)
}
