package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/obivox/internal/config"
)

func sine(n, rate int, freq float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return out
}

func TestEncodeWAV_Header(t *testing.T) {
	wav := EncodeWAV(make([]byte, 100), 22050, 1, 2)
	require.Len(t, wav, 144)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, uint32(136), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, uint32(22050), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(44100), binary.LittleEndian.Uint32(wav[28:32]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(wav[34:36]))
	assert.Equal(t, uint32(100), binary.LittleEndian.Uint32(wav[40:44]))
}

func TestDecodeWAV_PCM16(t *testing.T) {
	in := sine(1600, 16000, 440)
	a, err := DecodeWAV(EncodeWAV(PCM16(in), 16000, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, 16000, a.SampleRate)
	require.Len(t, a.Samples, len(in))
	for i := range in {
		assert.InDelta(t, in[i], a.Samples[i], 1.0/16000)
	}
}

func TestDecodeWAV_StereoMixdown(t *testing.T) {
	minusOne := int16(-32768)
	pcm := make([]byte, 8)
	binary.LittleEndian.PutUint16(pcm[0:], 16384)            // L  0.5
	binary.LittleEndian.PutUint16(pcm[2:], 0)                // R  0
	binary.LittleEndian.PutUint16(pcm[4:], uint16(minusOne)) // L -1
	binary.LittleEndian.PutUint16(pcm[6:], uint16(minusOne)) // R -1

	a, err := DecodeWAV(EncodeWAV(pcm, 8000, 2, 2))
	require.NoError(t, err)
	require.Len(t, a.Samples, 2)
	assert.InDelta(t, 0.25, a.Samples[0], 1e-9)
	assert.InDelta(t, -1, a.Samples[1], 1e-9)
}

func TestDecodeWAV_SkipsUnknownChunks(t *testing.T) {
	wav := EncodeWAV(PCM16([]float64{0.5, -0.5}), 16000, 1, 2)
	// Splice a LIST chunk between fmt and data.
	list := append([]byte("LIST"), 4, 0, 0, 0, 'I', 'N', 'F', 'O')
	spliced := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)

	a, err := DecodeWAV(spliced)
	require.NoError(t, err)
	assert.Len(t, a.Samples, 2)
}

func TestDecodeWAV_Rejects(t *testing.T) {
	_, err := DecodeWAV([]byte("OggS not a wav"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	// 12-bit PCM.
	wav := EncodeWAV([]byte{0, 0}, 16000, 1, 2)
	binary.LittleEndian.PutUint16(wav[34:], 12)
	_, err = DecodeWAV(wav)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestPCM16_Clips(t *testing.T) {
	pcm := PCM16([]float64{2, -2})
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(pcm[0:])))
	assert.Equal(t, int16(-32767), int16(binary.LittleEndian.Uint16(pcm[2:])))
}

func TestFormatFromContentType(t *testing.T) {
	for ct, want := range map[string]string{
		"":                       "wav",
		"audio/wav":              "wav",
		"audio/x-wav":            "wav",
		"audio/ogg; codecs=opus": "ogg",
		"audio/mpeg":             "mp3",
		"audio/flac":             "flac",
		"audio/webm":             "webm",
	} {
		got, err := FormatFromContentType(ct)
		require.NoError(t, err, ct)
		assert.Equal(t, want, got, ct)
	}
	_, err := FormatFromContentType("text/plain")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFFmpeg_WAVPassthrough(t *testing.T) {
	f := NewFFmpeg(config.MediaConfig{FFmpeg: "/nonexistent/ffmpeg"})
	in := EncodeWAV([]byte{0, 0}, 16000, 1, 2)
	out, err := f.ToWAV(context.Background(), in, "audio/wav")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestFFmpeg_MissingBinary(t *testing.T) {
	f := NewFFmpeg(config.MediaConfig{FFmpeg: "/nonexistent/ffmpeg"})
	_, err := f.ToWAV(context.Background(), []byte("OggS"), "audio/ogg")
	require.ErrorIs(t, err, ErrConversion)

	var ce *ConversionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "ogg", ce.From)
	assert.Equal(t, "wav", ce.To)
}

// fakeFFmpeg writes a script that echoes its arguments instead of
// converting.
func fakeFFmpeg(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\ncat >/dev/null\necho \"$@\"\n"), 0o755))
	return path
}

func TestFFmpeg_ConvertTargetFormat(t *testing.T) {
	f := NewFFmpeg(config.MediaConfig{FFmpeg: fakeFFmpeg(t), SampleRate: 22050})

	var out bytes.Buffer
	err := f.Convert(context.Background(), bytes.NewReader(EncodeWAV([]byte{0, 0}, 16000, 1, 2)), &out, "wav", "ogg")
	require.NoError(t, err)

	args := strings.Fields(out.String())
	assert.Equal(t, []string{"-f", "wav", "-i", "pipe:0"}, args[3:7])
	assert.Equal(t, []string{"-ar", "22050", "-f", "ogg", "pipe:1"}, args[len(args)-5:])
}

func TestFFmpeg_ConvertRejectsUnknownFormat(t *testing.T) {
	f := NewFFmpeg(config.MediaConfig{FFmpeg: "/nonexistent/ffmpeg"})
	var out bytes.Buffer
	err := f.Convert(context.Background(), strings.NewReader(""), &out, "wav", "aiff")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Zero(t, out.Len())
}

func TestFFmpeg_EncodesFLAC(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	in := EncodeWAV(PCM16(sine(1600, 16000, 440)), 16000, 1, 2)

	var out bytes.Buffer
	require.NoError(t, NewFFmpeg(config.MediaConfig{}).Convert(context.Background(), bytes.NewReader(in), &out, "wav", "flac"))
	assert.True(t, bytes.HasPrefix(out.Bytes(), []byte("fLaC")))
}

func TestFFmpeg_ResamplesToMono(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	stereo := make([]float64, 2*4410)
	for i, s := range sine(4410, 44100, 440) {
		stereo[2*i], stereo[2*i+1] = s, s
	}
	in := EncodeWAV(PCM16(stereo), 44100, 2, 2)

	f := NewFFmpeg(config.MediaConfig{})
	var out bytes.Buffer
	require.NoError(t, f.Convert(context.Background(), bytes.NewReader(in), &out, "wav", "wav"))

	a, err := DecodeWAV(out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 16000, a.SampleRate)
	assert.InDelta(t, 1600, len(a.Samples), 20)
}
