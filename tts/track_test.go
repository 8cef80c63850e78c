package tts

import (
	"errors"
	"testing"

	"github.com/dgnsrekt/narrator/tts/sentence"
)

func TestTrack_New(t *testing.T) {
	track, err := NewTrack("First sentence. Second sentence. Third one.", sentence.ModeSentence)
	if err != nil {
		t.Fatalf("NewTrack failed: %v", err)
	}
	if track.Len() != 3 {
		t.Fatalf("chunk count: got %d, want 3", track.Len())
	}
	if track.ID() == "" {
		t.Error("track id is empty")
	}
	for i := 0; i < track.Len(); i++ {
		c := track.Chunk(i)
		if c == nil {
			t.Fatalf("chunk %d is nil", i)
		}
		if c.Index() != i {
			t.Errorf("chunk %d index mismatch: %d", i, c.Index())
		}
		if c.State() != ChunkEmpty {
			t.Errorf("chunk %d not empty: %v", i, c.State())
		}
	}
}

func TestTrack_NewEmpty(t *testing.T) {
	if _, err := NewTrack("", sentence.ModeSentence); !errors.Is(err, ErrEmptyText) {
		t.Errorf("got %v, want %v", err, ErrEmptyText)
	}
	if _, err := NewTrack("   \n  ", sentence.ModeSentence); !errors.Is(err, ErrEmptyText) {
		t.Errorf("whitespace: got %v, want %v", err, ErrEmptyText)
	}
}

func TestTrack_UniqueIDs(t *testing.T) {
	a, _ := NewTrack("Some text here.", sentence.ModeSentence)
	b, _ := NewTrack("Some text here.", sentence.ModeSentence)
	if a.ID() == b.ID() {
		t.Errorf("two tracks share id %q", a.ID())
	}
}

func TestTrack_ChunkOutOfRange(t *testing.T) {
	track, _ := NewTrack("Only one sentence.", sentence.ModeSentence)
	if track.Chunk(-1) != nil || track.Chunk(1) != nil {
		t.Error("out-of-range chunk lookup returned non-nil")
	}
}

func TestTrack_ContextBefore(t *testing.T) {
	track, _ := NewTrack("Sentence zero. Sentence one. Sentence two. Sentence three.", sentence.ModeSentence)

	got := track.ContextBefore(3, 2)
	want := []string{"Sentence one.", "Sentence two."}
	if len(got) != len(want) {
		t.Fatalf("context length: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("context %d: got %q, want %q", i, got[i], want[i])
		}
	}

	if got := track.ContextBefore(0, 2); got != nil {
		t.Errorf("context at position 0: got %v, want nil", got)
	}
	if got := track.ContextBefore(1, 5); len(got) != 1 {
		t.Errorf("window larger than prefix: got %d items", len(got))
	}
	if got := track.ContextBefore(2, 0); got != nil {
		t.Errorf("zero window: got %v, want nil", got)
	}
}

func TestTrack_RefreshAbsorbsEdit(t *testing.T) {
	track, _ := NewTrack("Sentence zero. Sentence one. Sentence two.", sentence.ModeSentence)

	changed, ok := track.Refresh("Sentence zero. Sentence CHANGED. Sentence two.")
	if !ok {
		t.Fatal("Refresh reported a structural change for a same-count edit")
	}
	if len(changed) != 1 || changed[0] != 1 {
		t.Fatalf("changed indices: got %v, want [1]", changed)
	}
	if track.Chunk(1).Text() != "Sentence CHANGED." {
		t.Errorf("live text not updated: %q", track.Chunk(1).Text())
	}
	if track.Chunk(1).SourceText() != "Sentence one." {
		t.Errorf("source text changed: %q", track.Chunk(1).SourceText())
	}
}

func TestTrack_RefreshNoChange(t *testing.T) {
	text := "Sentence zero. Sentence one."
	track, _ := NewTrack(text, sentence.ModeSentence)

	changed, ok := track.Refresh(text)
	if !ok || len(changed) != 0 {
		t.Errorf("identical text: changed=%v ok=%v", changed, ok)
	}
}

func TestTrack_RefreshStructuralChange(t *testing.T) {
	track, _ := NewTrack("Sentence zero. Sentence one.", sentence.ModeSentence)

	if _, ok := track.Refresh("Sentence zero. Sentence one. A new third sentence."); ok {
		t.Error("Refresh absorbed a chunk-count change")
	}
}
