package audio

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

const (
	sinkSampleRate = 24000
	sinkChannels   = 1
	bytesPerSample = 2 // signed 16-bit
	bytesPerSecond = sinkSampleRate * sinkChannels * bytesPerSample
)

// OtoSink plays PCM audio through the system output device using oto.
// Media arrives as WAV payloads; each append is decoded and its raw
// samples joined onto one continuous stream, so the playback clock runs
// over chunk boundaries.
type OtoSink struct {
	ctx    *oto.Context
	player *oto.Player

	mu      sync.Mutex
	media   []byte  // Interleaved little-endian int16 samples
	cursor  float64 // Media byte offset of the next sample handed out
	rate    float64
	playing bool
}

// NewOtoSink initializes the audio device. It blocks until the device is
// ready.
func NewOtoSink() (*OtoSink, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sinkSampleRate,
		ChannelCount: sinkChannels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("init audio device: %w", err)
	}
	<-ready

	s := &OtoSink{ctx: ctx, rate: 1.0}
	s.player = ctx.NewPlayer(s)
	return s, nil
}

// Read feeds buffered media to the device, stepping through samples at
// the playback rate (nearest-neighbor when rate != 1.0). Implements
// io.Reader for the oto player; the player starves on EOF until more
// media arrives.
//
// TODO: pitch-preserving time stretch instead of nearest-neighbor
// resampling; oto has no native tempo control.
func (s *OtoSink) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for n+bytesPerSample <= len(p) {
		idx := int(s.cursor)
		idx -= idx % bytesPerSample
		if idx+bytesPerSample > len(s.media) {
			break
		}
		p[n] = s.media[idx]
		p[n+1] = s.media[idx+1]
		n += bytesPerSample
		s.cursor += s.rate * bytesPerSample
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// SwitchMedia replaces the current media stream.
func (s *OtoSink) SwitchMedia(data []byte) error {
	s.ClearMedia()
	return s.AppendMedia(data)
}

// AppendMedia decodes a WAV payload and appends its samples to the
// stream.
func (s *OtoSink) AppendMedia(data []byte) error {
	dec, err := DecodeWAV(data)
	if err != nil {
		return err
	}
	if dec.SampleRate != sinkSampleRate {
		log.Debug("sample rate mismatch, playing as-is",
			"got", dec.SampleRate, "device", sinkSampleRate)
	}

	pcm := make([]byte, len(dec.PCM.Data)*bytesPerSample)
	for i, sample := range dec.PCM.Data {
		v := int16(sample)
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}

	s.mu.Lock()
	s.media = append(s.media, pcm...)
	s.mu.Unlock()
	return nil
}

// ClearMedia drops all buffered media and rewinds the clock.
func (s *OtoSink) ClearMedia() {
	s.mu.Lock()
	s.media = nil
	s.cursor = 0
	s.mu.Unlock()
}

// Play starts or resumes output.
func (s *OtoSink) Play() error {
	s.mu.Lock()
	s.playing = true
	s.mu.Unlock()
	s.player.Play()
	return nil
}

// Pause stops output without discarding media.
func (s *OtoSink) Pause() error {
	s.mu.Lock()
	s.playing = false
	s.mu.Unlock()
	s.player.Pause()
	return nil
}

// Seek moves the playback clock to the given media offset in seconds.
func (s *OtoSink) Seek(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := seconds * bytesPerSecond
	if target < 0 {
		target = 0
	}
	if target > float64(len(s.media)) {
		target = float64(len(s.media))
	}
	s.cursor = target
}

// SetRate sets the playback speed multiplier.
func (s *OtoSink) SetRate(multiplier float64) {
	if multiplier <= 0 {
		return
	}
	s.mu.Lock()
	s.rate = multiplier
	s.mu.Unlock()
}

// IsPlaying reports whether the device is producing output.
func (s *OtoSink) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// CurrentTime returns the playback clock position in media seconds:
// the media offset handed to the device, minus what still sits in its
// buffer (scaled back by the rate it was consumed at).
func (s *OtoSink) CurrentTime() float64 {
	buffered := s.player.BufferedSize()

	s.mu.Lock()
	defer s.mu.Unlock()

	played := s.cursor - float64(buffered)*s.rate
	if played < 0 {
		played = 0
	}
	return played / bytesPerSecond
}

// DecodeAudio decodes raw bytes into an analyzable sample buffer.
func (s *OtoSink) DecodeAudio(data []byte) (*DecodedBuffer, error) {
	return DecodeWAV(data)
}

// Close releases the device player.
func (s *OtoSink) Close() error {
	return s.player.Close()
}
