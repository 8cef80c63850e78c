// Package tts implements the chunked audio scheduling and caching engine:
// it splits source text into chunks, keeps a look-ahead buffer of
// synthesized audio full, and reconciles the logical chunk position with
// the physical playback clock.
package tts

import (
	"context"
	"time"

	"github.com/dgnsrekt/narrator/internal/audio"
)

// DecodedBuffer is a decoded chunk of audio, used for duration math and
// visualization.
type DecodedBuffer = audio.DecodedBuffer

// Model performs the actual synthesis call against a speech provider.
// Implementations classify failures as retryable or fatal by returning
// a *SynthesisError.
type Model interface {
	// Synthesize converts text to audio bytes. contextChunks carries the
	// last few preceding chunks when context mode is enabled; settings is
	// the snapshot captured when the request was created.
	Synthesize(ctx context.Context, text string, opts SynthesisOptions, contextChunks []string, settings Settings) ([]byte, error)

	// ValidateConnection checks the provider is reachable with the given
	// settings. A nil return means synthesis calls can be expected to work.
	ValidateConnection(ctx context.Context, settings Settings) error
}

// AudioCache is the durable audio store, keyed by a hash of
// (text, synthesis options, format). Expiry is age-based and sweeps by
// last-read time, independent of the loader's local cache.
type AudioCache interface {
	// GetAudio returns the cached bytes, or (nil, nil) on a miss.
	GetAudio(text string, opts SynthesisOptions, format string) ([]byte, error)

	// SaveAudio persists synthesized bytes.
	SaveAudio(text string, opts SynthesisOptions, format string, data []byte) error

	// Expire removes entries whose last read is older than maxAge.
	Expire(maxAge time.Duration) error

	// StorageSize returns the number of bytes currently stored.
	StorageSize() int64
}

// Sink is the audio output device the player drives. Media bytes are
// appended in chunk order; the sink's clock flows back so the player can
// advance the logical position.
type Sink interface {
	// SwitchMedia replaces the current media stream with data.
	SwitchMedia(data []byte) error

	// AppendMedia appends data to the current media stream.
	AppendMedia(data []byte) error

	// ClearMedia drops all buffered media and resets the clock.
	ClearMedia()

	// Play starts or resumes output.
	Play() error

	// Pause stops output without discarding buffered media.
	Pause() error

	// Seek moves the playback clock to the given offset in seconds.
	Seek(seconds float64)

	// SetRate sets the playback speed multiplier.
	SetRate(multiplier float64)

	// IsPlaying reports whether the sink is currently producing output.
	IsPlaying() bool

	// CurrentTime returns the playback clock position in seconds.
	CurrentTime() float64

	// DecodeAudio decodes raw bytes into an analyzable sample buffer.
	DecodeAudio(data []byte) (*DecodedBuffer, error)
}
