package audio

import (
	"sync"
)

// MockSink is an in-memory sink for tests and dry runs. The playback
// clock is driven manually via AdvanceTo.
type MockSink struct {
	mu sync.Mutex

	segments [][]byte
	playing  bool
	rate     float64
	clock    float64

	switches int
	clears   int
	seeks    []float64
}

// NewMockSink creates a mock sink with the clock at zero.
func NewMockSink() *MockSink {
	return &MockSink{rate: 1.0}
}

// SwitchMedia replaces the media stream with data.
func (m *MockSink) SwitchMedia(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments = [][]byte{data}
	m.switches++
	m.clock = 0
	return nil
}

// AppendMedia appends data to the media stream.
func (m *MockSink) AppendMedia(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments = append(m.segments, data)
	return nil
}

// ClearMedia drops all media and rewinds the clock.
func (m *MockSink) ClearMedia() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments = nil
	m.clock = 0
	m.clears++
}

// Play marks the sink as playing.
func (m *MockSink) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = true
	return nil
}

// Pause marks the sink as paused.
func (m *MockSink) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = false
	return nil
}

// Seek records the seek and moves the clock.
func (m *MockSink) Seek(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeks = append(m.seeks, seconds)
	m.clock = seconds
}

// SetRate records the playback rate.
func (m *MockSink) SetRate(multiplier float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rate = multiplier
}

// IsPlaying reports the playing flag.
func (m *MockSink) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// CurrentTime returns the manually driven clock.
func (m *MockSink) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock
}

// AdvanceTo moves the clock to the given position.
func (m *MockSink) AdvanceTo(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = seconds
}

// DecodeAudio decodes WAV bytes like the real sink.
func (m *MockSink) DecodeAudio(data []byte) (*DecodedBuffer, error) {
	return DecodeWAV(data)
}

// Segments returns the appended media payloads in order.
func (m *MockSink) Segments() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.segments))
	copy(out, m.segments)
	return out
}

// Switches returns how many times media was replaced.
func (m *MockSink) Switches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.switches
}

// Clears returns how many times media was cleared.
func (m *MockSink) Clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

// Seeks returns every recorded seek offset.
func (m *MockSink) Seeks() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.seeks))
	copy(out, m.seeks)
	return out
}

// Rate returns the last rate set.
func (m *MockSink) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate
}
