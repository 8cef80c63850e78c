package tts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/dgnsrekt/narrator/tts/sentence"
)

// Track is an ordered, append-stable sequence of chunks for one playback
// session. Chunk order is fixed once created; only chunk contents and
// state mutate for the lifetime of the session.
type Track struct {
	id     string
	mode   sentence.Mode
	chunks []*Chunk
}

// NewTrack splits text into chunks according to mode and wraps them in a
// fresh track with a unique session id.
func NewTrack(text string, mode sentence.Mode) (*Track, error) {
	parts := sentence.NewSplitter().Split(text, mode)
	if len(parts) == 0 {
		return nil, ErrEmptyText
	}

	chunks := make([]*Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = newChunk(i, p)
	}
	return &Track{
		id:     newTrackID(),
		mode:   mode,
		chunks: chunks,
	}, nil
}

// ID returns the track's unique session id.
func (t *Track) ID() string { return t.id }

// Mode returns the splitting mode the track was created with.
func (t *Track) Mode() sentence.Mode { return t.mode }

// Len returns the number of chunks.
func (t *Track) Len() int { return len(t.chunks) }

// Chunk returns the chunk at index i, or nil when out of range.
func (t *Track) Chunk(i int) *Chunk {
	if i < 0 || i >= len(t.chunks) {
		return nil
	}
	return t.chunks[i]
}

// Chunks returns the ordered chunk slice. Callers must not reorder it.
func (t *Track) Chunks() []*Chunk { return t.chunks }

// ContextBefore returns up to window live texts preceding position,
// oldest first. Used as synthesis context when context mode is enabled.
func (t *Track) ContextBefore(position, window int) []string {
	if window <= 0 || position <= 0 {
		return nil
	}
	start := position - window
	if start < 0 {
		start = 0
	}
	out := make([]string, 0, position-start)
	for i := start; i < position && i < len(t.chunks); i++ {
		out = append(out, t.chunks[i].Text())
	}
	return out
}

// Refresh re-splits raw against the current chunks and updates the live
// text mirrors. It returns the indices whose text changed and ok=false
// when the chunk count itself changed, in which case the track can no
// longer absorb the edit and the session must be rebuilt.
func (t *Track) Refresh(raw string) (changed []int, ok bool) {
	parts := sentence.NewSplitter().Split(raw, t.mode)
	if len(parts) != len(t.chunks) {
		return nil, false
	}
	for i, p := range parts {
		if t.chunks[i].Text() != p {
			t.chunks[i].setLiveText(p)
			changed = append(changed, i)
		}
	}
	return changed, true
}

func newTrackID() string {
	data := fmt.Sprintf("track-%d-%d", time.Now().UnixNano(), os.Getpid())
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}
