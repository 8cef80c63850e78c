package tts

import (
	"context"
	"sync"
)

// ChunkState is the lifecycle state of a chunk.
type ChunkState int

const (
	// ChunkEmpty indicates no audio has been requested yet.
	ChunkEmpty ChunkState = iota
	// ChunkLoading indicates a synthesis request is in flight.
	ChunkLoading
	// ChunkLoaded indicates audio bytes are available.
	ChunkLoaded
	// ChunkFailed indicates synthesis failed irrecoverably.
	ChunkFailed
)

// String returns the string representation of the state.
func (s ChunkState) String() string {
	switch s {
	case ChunkEmpty:
		return "empty"
	case ChunkLoading:
		return "loading"
	case ChunkLoaded:
		return "loaded"
	case ChunkFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Chunk is the smallest unit of source text with its own synthesis
// lifecycle. It is owned exclusively by its Track; while a player is
// active against that track, only the player mutates chunk state.
type Chunk struct {
	mu sync.Mutex

	index  int
	source string // Original text, immutable for the chunk's lifetime
	live   string // Mirror of the possibly-edited text

	state    ChunkState
	audio    []byte
	duration float64 // Decoded duration in seconds
	decoded  *DecodedBuffer
	offset   float64 // Start offset within the sink media, in seconds
	err      error

	// Closed and replaced on every state transition so waiters can poll.
	changed chan struct{}
}

func newChunk(index int, text string) *Chunk {
	return &Chunk{
		index:   index,
		source:  text,
		live:    text,
		changed: make(chan struct{}),
	}
}

// Index returns the chunk's position in its track.
func (c *Chunk) Index() int { return c.index }

// Text returns the live (possibly edited) text the chunk speaks.
func (c *Chunk) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// SourceText returns the text the chunk was created with.
func (c *Chunk) SourceText() string { return c.source }

// setLiveText updates the live mirror after an external edit.
func (c *Chunk) setLiveText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live = text
}

// State returns the current lifecycle state.
func (c *Chunk) State() ChunkState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the last synthesis error, if any.
func (c *Chunk) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Audio returns the synthesized bytes once loaded.
func (c *Chunk) Audio() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audio
}

// Duration returns the decoded duration in seconds, 0 if unknown.
func (c *Chunk) Duration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// Offset returns the chunk's start offset within the sink media.
func (c *Chunk) Offset() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// Decoded returns the decoded sample buffer, nil when decoding failed
// or has not happened.
func (c *Chunk) Decoded() *DecodedBuffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decoded
}

// SetLoading marks the chunk as having a synthesis request in flight.
// Only one load may be in flight per chunk at a time.
func (c *Chunk) SetLoading() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ChunkLoading {
		return ErrChunkLoadInFlight
	}
	c.state = ChunkLoading
	c.err = nil
	c.notifyLocked()
	return nil
}

// SetLoaded stores synthesized bytes and marks the chunk loaded.
func (c *Chunk) SetLoaded(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ChunkLoaded
	c.audio = data
	c.err = nil
	c.notifyLocked()
}

// SetFailed records a synthesis failure.
func (c *Chunk) SetFailed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ChunkFailed
	c.err = err
	c.notifyLocked()
}

// SetAudioBuffer attaches the decoded buffer and its time offset within
// the sink media, and records the decoded duration.
func (c *Chunk) SetAudioBuffer(buf *DecodedBuffer, offset float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decoded = buf
	c.offset = offset
	if buf != nil {
		c.duration = buf.Duration
	}
}

// SetDuration records the playable duration when decoding was skipped.
func (c *Chunk) SetDuration(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.duration = seconds
}

// Reset returns the chunk to the empty state from any state.
func (c *Chunk) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ChunkEmpty
	c.audio = nil
	c.decoded = nil
	c.duration = 0
	c.offset = 0
	c.err = nil
	c.notifyLocked()
}

// notifyLocked wakes every OnceLoaded waiter. Callers must hold c.mu.
func (c *Chunk) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// OnceLoaded blocks until the chunk leaves the loading state. With
// includeFailure set, a failed chunk also unblocks and the chunk's error
// is returned; otherwise waiting continues until the chunk loads or the
// context is canceled.
func (c *Chunk) OnceLoaded(ctx context.Context, includeFailure bool) error {
	for {
		c.mu.Lock()
		state, err, changed := c.state, c.err, c.changed
		c.mu.Unlock()

		switch {
		case state == ChunkLoaded:
			return nil
		case state == ChunkFailed && includeFailure:
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}
