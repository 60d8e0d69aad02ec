// Package media converts audio between container formats, producing the
// mono WAV the pipeline analyzes, and decodes WAV into samples.
//
// Conversion shells out to ffmpeg. Inputs that are already WAV skip it on
// the way in.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"slices"
	"strconv"
	"strings"

	"github.com/nadzzz/obivox/internal/config"
)

var (
	// ErrUnsupportedFormat is returned for audio formats obivox cannot read.
	ErrUnsupportedFormat = errors.New("media: unsupported format")

	// ErrConversion is matched by every *ConversionError.
	ErrConversion = errors.New("media: conversion failed")
)

// ConversionError reports a failed ffmpeg run.
type ConversionError struct {
	From   string
	To     string
	Stderr string
	Err    error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("media: converting %s to %s: %v", e.From, e.To, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Is reports ErrConversion as a match.
func (e *ConversionError) Is(target error) bool { return target == ErrConversion }

// formats maps content-type fragments to ffmpeg demuxer names.
var formats = []struct{ match, format string }{
	{"wav", "wav"},
	{"wave", "wav"},
	{"ogg", "ogg"},
	{"opus", "ogg"},
	{"mpeg", "mp3"},
	{"mp3", "mp3"},
	{"flac", "flac"},
	{"webm", "webm"},
	{"mp4", "mp4"},
	{"m4a", "mp4"},
}

func knownFormat(name string) bool {
	return slices.ContainsFunc(formats, func(f struct{ match, format string }) bool { return f.format == name })
}

// FormatFromContentType returns the container format for an audio MIME type.
// An empty content type is assumed to be WAV.
func FormatFromContentType(ct string) (string, error) {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "" {
		return "wav", nil
	}
	for _, f := range formats {
		if strings.Contains(ct, f.match) {
			return f.format, nil
		}
	}
	return "", fmt.Errorf("content type %q: %w", ct, ErrUnsupportedFormat)
}

// Converter turns audio in some container into mono WAV.
type Converter interface {
	ToWAV(ctx context.Context, data []byte, contentType string) ([]byte, error)
}

// FFmpeg converts with an ffmpeg binary.
type FFmpeg struct {
	bin        string
	sampleRate int
	channels   int
}

// NewFFmpeg creates an ffmpeg converter from config.
func NewFFmpeg(cfg config.MediaConfig) *FFmpeg {
	f := &FFmpeg{bin: cfg.FFmpeg, sampleRate: cfg.SampleRate, channels: cfg.Channels}
	if f.bin == "" {
		f.bin = "ffmpeg"
	}
	if f.sampleRate <= 0 {
		f.sampleRate = 16000
	}
	if f.channels <= 0 {
		f.channels = 1
	}
	return f
}

// ToWAV converts data to WAV at the configured rate and channel count. WAV
// input is returned unchanged.
func (f *FFmpeg) ToWAV(ctx context.Context, data []byte, contentType string) ([]byte, error) {
	format, err := FormatFromContentType(contentType)
	if err != nil {
		return nil, err
	}
	if format == "wav" {
		return data, nil
	}
	var out bytes.Buffer
	if err := f.Convert(ctx, bytes.NewReader(data), &out, format, "wav"); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Convert runs ffmpeg over in, reading container format from and writing
// container format to into out at the configured rate and channel count.
// Both formats are names returned by FormatFromContentType.
func (f *FFmpeg) Convert(ctx context.Context, in io.Reader, out io.Writer, from, to string) error {
	for _, name := range []string{from, to} {
		if !knownFormat(name) {
			return fmt.Errorf("format %q: %w", name, ErrUnsupportedFormat)
		}
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", from, "-i", "pipe:0",
		"-ac", strconv.Itoa(f.channels),
		"-ar", strconv.Itoa(f.sampleRate),
	}
	if to == "mp4" {
		// mp4 cannot seek back on a pipe.
		args = append(args, "-movflags", "frag_keyframe+empty_moov")
	}
	args = append(args, "-f", to, "pipe:1")

	cmd := exec.CommandContext(ctx, f.bin, args...)
	cmd.Stdin = in
	cmd.Stdout = out
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	slog.Debug("ffmpeg convert", "from", from, "to", to)
	if err := cmd.Run(); err != nil {
		return &ConversionError{From: from, To: to, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return nil
}
