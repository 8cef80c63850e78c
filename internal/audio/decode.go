// Package audio provides audio decoding helpers and the playback sink
// implementations.
package audio

import (
	"bytes"
	"errors"
	"fmt"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrNotWAV is returned when bytes cannot be parsed as a WAV container.
var ErrNotWAV = errors.New("data is not valid WAV audio")

// DecodedBuffer is a decoded chunk of audio, used for duration math and
// visualization.
type DecodedBuffer struct {
	PCM        *goaudio.IntBuffer
	SampleRate int
	Duration   float64 // seconds
}

// DecodeWAV decodes a WAV payload into a sample buffer with its duration.
func DecodeWAV(data []byte) (*DecodedBuffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, ErrNotWAV
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil, ErrNotWAV
	}

	frames := buf.NumFrames()
	return &DecodedBuffer{
		PCM:        buf,
		SampleRate: buf.Format.SampleRate,
		Duration:   float64(frames) / float64(buf.Format.SampleRate),
	}, nil
}

// EncodeWAV encodes mono 16-bit samples into a WAV payload.
func EncodeWAV(samples []int, sampleRate int) ([]byte, error) {
	var ws writeSeeker
	enc := wav.NewEncoder(&ws, sampleRate, 16, 1, 1)

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return ws.buf, nil
}

// ConcatWAV concatenates multiple WAV payloads into a single file,
// rebuilding the header over the combined PCM data. All inputs must share
// a sample rate.
func ConcatWAV(payloads [][]byte) ([]byte, error) {
	if len(payloads) == 0 {
		return nil, errors.New("nothing to concatenate")
	}

	var samples []int
	sampleRate := 0
	for i, p := range payloads {
		dec, err := DecodeWAV(p)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		if sampleRate == 0 {
			sampleRate = dec.SampleRate
		} else if dec.SampleRate != sampleRate {
			return nil, fmt.Errorf("segment %d: sample rate %d does not match %d",
				i, dec.SampleRate, sampleRate)
		}
		samples = append(samples, dec.PCM.Data...)
	}
	return EncodeWAV(samples, sampleRate)
}

// writeSeeker is an in-memory io.WriteSeeker for the wav encoder, which
// must seek back to patch the header.
type writeSeeker struct {
	buf []byte
	pos int
}

func (ws *writeSeeker) Write(p []byte) (int, error) {
	if need := ws.pos + len(p); need > len(ws.buf) {
		grown := make([]byte, need)
		copy(grown, ws.buf)
		ws.buf = grown
	}
	copy(ws.buf[ws.pos:], p)
	ws.pos += len(p)
	return len(p), nil
}

func (ws *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case 0:
		target = offset
	case 1:
		target = int64(ws.pos) + offset
	case 2:
		target = int64(len(ws.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if target < 0 {
		return 0, errors.New("negative seek position")
	}
	ws.pos = int(target)
	return target, nil
}
