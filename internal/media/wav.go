package media

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeWAV wraps raw little-endian PCM in a WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels, bytesPerSample int) []byte {
	dataLen := len(pcm)

	buf := &bytes.Buffer{}
	buf.Grow(44 + dataLen)

	// RIFF header; the size excludes the first 8 bytes.
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(formatPCM))
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate*channels*bytesPerSample)) // byte rate
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels*bytesPerSample))            // block align
	_ = binary.Write(buf, binary.LittleEndian, uint16(bytesPerSample*8))

	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(pcm)

	return buf.Bytes()
}

const (
	formatPCM   = 1
	formatFloat = 3
)

// Audio is decoded mono audio.
type Audio struct {
	Samples    []float64 // in [-1,1]
	SampleRate int
}

// DecodeWAV decodes a PCM (8/16/24/32-bit) or 32-bit float WAV file and
// mixes it down to mono.
func DecodeWAV(data []byte) (*Audio, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("decoding wav: not a RIFF/WAVE file: %w", ErrUnsupportedFormat)
	}

	var (
		format, channels, bits uint16
		rate                   uint32
		haveFmt                bool
		pcm                    []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) || id == "data" && size == 0 {
			// Streamed files carry a zero or oversized data length; take
			// what is there.
			if id == "data" {
				size = len(data) - body
			} else {
				return nil, fmt.Errorf("decoding wav: chunk %q overruns file", id)
			}
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("decoding wav: fmt chunk too short")
			}
			format = binary.LittleEndian.Uint16(data[body:])
			channels = binary.LittleEndian.Uint16(data[body+2:])
			rate = binary.LittleEndian.Uint32(data[body+4:])
			bits = binary.LittleEndian.Uint16(data[body+14:])
			if format == 0xFFFE && size >= 26 {
				// WAVE_FORMAT_EXTENSIBLE: the real tag leads the sub-format GUID.
				format = binary.LittleEndian.Uint16(data[body+24:])
			}
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}
		off = body + size + size%2
	}
	if !haveFmt || pcm == nil {
		return nil, fmt.Errorf("decoding wav: missing fmt or data chunk: %w", ErrUnsupportedFormat)
	}
	if channels == 0 || rate == 0 {
		return nil, fmt.Errorf("decoding wav: %d channels at %d Hz: %w", channels, rate, ErrUnsupportedFormat)
	}

	sample, width, err := sampleReader(format, bits)
	if err != nil {
		return nil, err
	}
	frame := width * int(channels)
	n := len(pcm) / frame
	out := make([]float64, n)
	for i := range n {
		var sum float64
		for c := range int(channels) {
			sum += sample(pcm[i*frame+c*width:])
		}
		out[i] = sum / float64(channels)
	}
	return &Audio{Samples: out, SampleRate: int(rate)}, nil
}

func sampleReader(format, bits uint16) (func([]byte) float64, int, error) {
	switch {
	case format == formatPCM && bits == 8:
		return func(b []byte) float64 { return (float64(b[0]) - 128) / 128 }, 1, nil
	case format == formatPCM && bits == 16:
		return func(b []byte) float64 {
			return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
		}, 2, nil
	case format == formatPCM && bits == 24:
		return func(b []byte) float64 {
			v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
			return float64(v) / (1 << 23)
		}, 3, nil
	case format == formatPCM && bits == 32:
		return func(b []byte) float64 {
			return float64(int32(binary.LittleEndian.Uint32(b))) / (1 << 31)
		}, 4, nil
	case format == formatFloat && bits == 32:
		return func(b []byte) float64 {
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		}, 4, nil
	}
	return nil, 0, fmt.Errorf("decoding wav: format %d at %d bits: %w", format, bits, ErrUnsupportedFormat)
}

// PCM16 converts mono samples to 16-bit little-endian PCM, clipping to
// [-1,1].
func PCM16(samples []float64) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(math.Round(s*32767))))
	}
	return out
}
