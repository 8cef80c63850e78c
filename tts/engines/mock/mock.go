// Package mock provides a deterministic in-memory speech model for tests
// and dry runs. Synthesized audio is silence whose duration scales with
// the input length, so timing-sensitive callers behave realistically.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/dgnsrekt/narrator/internal/audio"
	"github.com/dgnsrekt/narrator/tts"
)

const sampleRate = 24000

// Model is a scriptable speech model. Failures can be injected per text;
// every call is recorded.
type Model struct {
	mu sync.Mutex

	// SecondsPerChar controls synthetic audio length.
	SecondsPerChar float64
	// Latency delays every call, simulating the network.
	Latency time.Duration

	failures map[string][]error // Pending injected failures per text
	calls    []Call
}

// Call records one Synthesize invocation.
type Call struct {
	Text    string
	Options tts.SynthesisOptions
	Context []string
}

// New creates a mock model producing 0.05s of silence per character.
func New() *Model {
	return &Model{
		SecondsPerChar: 0.05,
		failures:       make(map[string][]error),
	}
}

// FailNext injects errs as the results of the next len(errs) calls for
// text, in order. Calls beyond the scripted failures succeed.
func (m *Model) FailNext(text string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[text] = append(m.failures[text], errs...)
}

// Synthesize returns deterministic WAV bytes, or the next scripted
// failure for the text.
func (m *Model) Synthesize(ctx context.Context, text string, opts tts.SynthesisOptions, contextChunks []string, settings tts.Settings) ([]byte, error) {
	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Latency):
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, Call{Text: text, Options: opts, Context: contextChunks})
	if pending := m.failures[text]; len(pending) > 0 {
		err := pending[0]
		m.failures[text] = pending[1:]
		m.mu.Unlock()
		return nil, err
	}
	secondsPerChar := m.SecondsPerChar
	m.mu.Unlock()

	frames := int(float64(len(text)) * secondsPerChar * sampleRate)
	if frames < 1 {
		frames = 1
	}
	return audio.EncodeWAV(make([]int, frames), sampleRate)
}

// ValidateConnection always succeeds.
func (m *Model) ValidateConnection(ctx context.Context, settings tts.Settings) error {
	return nil
}

// Calls returns every recorded call in order.
func (m *Model) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Synthesize calls so far.
func (m *Model) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// CallCountFor returns how many calls were made for text.
func (m *Model) CallCountFor(text string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Text == text {
			n++
		}
	}
	return n
}
