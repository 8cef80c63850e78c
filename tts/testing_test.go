package tts

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/narrator/internal/audio"
)

// scriptedModel is an in-package speech model fake. It records every
// call, can block on a gate, and pops injected failures per text.
type scriptedModel struct {
	mu sync.Mutex

	latency    time.Duration
	gate       chan struct{} // When set, Synthesize blocks until a token arrives
	wavSeconds float64       // >0 emits silence WAV of this length; else raw text bytes

	failures map[string][]error
	calls    []modelCall
}

type modelCall struct {
	text    string
	context []string
}

func newScriptedModel() *scriptedModel {
	return &scriptedModel{failures: make(map[string][]error)}
}

func (m *scriptedModel) failNext(text string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[text] = append(m.failures[text], errs...)
}

func (m *scriptedModel) Synthesize(ctx context.Context, text string, opts SynthesisOptions, contextChunks []string, settings Settings) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, modelCall{text: text, context: contextChunks})
	var pending error
	if queue := m.failures[text]; len(queue) > 0 {
		pending = queue[0]
		m.failures[text] = queue[1:]
	}
	gate := m.gate
	wavSeconds := m.wavSeconds
	m.mu.Unlock()

	if m.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.latency):
		}
	}
	if gate != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-gate:
		}
	}
	if pending != nil {
		return nil, pending
	}
	if wavSeconds > 0 {
		return wavSilence(wavSeconds), nil
	}
	return []byte(text), nil
}

func (m *scriptedModel) ValidateConnection(context.Context, Settings) error { return nil }

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *scriptedModel) callCountFor(text string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.text == text {
			n++
		}
	}
	return n
}

func (m *scriptedModel) callTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.text
	}
	return out
}

// memCache is an in-memory AudioCache fake with injectable failures.
// With noStore set, saves are discarded so every resolution hits the
// model.
type memCache struct {
	mu sync.Mutex

	m       map[string][]byte
	getErr  error
	saveErr error
	noStore bool

	expireCalls []time.Duration
}

func newMemCache() *memCache {
	return &memCache{m: make(map[string][]byte)}
}

func cacheKey(text string, opts SynthesisOptions, format string) string {
	return fmt.Sprintf("%s|%s|%.2f|%s", text, opts.Voice, opts.Speed, format)
}

func (c *memCache) GetAudio(text string, opts SynthesisOptions, format string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.m[cacheKey(text, opts, format)], nil
}

func (c *memCache) SaveAudio(text string, opts SynthesisOptions, format string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saveErr != nil {
		return c.saveErr
	}
	if !c.noStore {
		c.m[cacheKey(text, opts, format)] = data
	}
	return nil
}

func (c *memCache) Expire(maxAge time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireCalls = append(c.expireCalls, maxAge)
	return nil
}

func (c *memCache) StorageSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, v := range c.m {
		n += int64(len(v))
	}
	return n
}

func (c *memCache) expireCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.expireCalls)
}

// wavSilence returns a mono 24kHz WAV of the given length.
func wavSilence(seconds float64) []byte {
	frames := int(seconds * 24000)
	if frames < 1 {
		frames = 1
	}
	data, err := audio.EncodeWAV(make([]int, frames), 24000)
	if err != nil {
		panic(err)
	}
	return data
}

func testSettings() Settings {
	s := DefaultSettings()
	s.CacheMaxAge = time.Hour
	return s
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
