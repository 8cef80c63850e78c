package tts

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/dgnsrekt/narrator/internal/audio"
	"github.com/dgnsrekt/narrator/tts/sentence"
)

func TestExportAudio_ShortTextSingleCall(t *testing.T) {
	model := newScriptedModel()
	model.wavSeconds = 1.0

	text := "A short piece of text."
	data, err := ExportAudio(context.Background(), model, text, testSettings(), 4096)
	if err != nil {
		t.Fatalf("ExportAudio failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("no audio returned")
	}
	if model.callCount() != 1 {
		t.Errorf("model calls: got %d, want 1", model.callCount())
	}
	if ctx := model.calls[0].context; ctx != nil {
		t.Errorf("single-call export passed context chunks: %v", ctx)
	}
}

func TestExportAudio_LongTextSplitsAndConcatenates(t *testing.T) {
	model := newScriptedModel()
	model.wavSeconds = 1.0

	settings := testSettings()
	settings.ContextMode = true

	var b strings.Builder
	for i := 0; i < 8; i++ {
		b.WriteString("This sentence pads the export text past the limit. ")
	}
	text := strings.TrimSpace(b.String())
	limit := 120

	wantParts := sentence.NewSplitter().SplitLimit(text, limit)
	if len(wantParts) < 2 {
		t.Fatalf("fixture text did not split: %d parts", len(wantParts))
	}

	data, err := ExportAudio(context.Background(), model, text, settings, limit)
	if err != nil {
		t.Fatalf("ExportAudio failed: %v", err)
	}

	if got := model.callCount(); got != len(wantParts) {
		t.Errorf("model calls: got %d, want %d", got, len(wantParts))
	}

	// Each part after the first carries its predecessor as context.
	calls := model.calls
	for i := 1; i < len(calls); i++ {
		if len(calls[i].context) != 1 || calls[i].context[0] != wantParts[i-1] {
			t.Errorf("call %d context: got %v, want [%q]", i, calls[i].context, wantParts[i-1])
		}
	}

	// The concatenated duration is the sum of the parts.
	dec, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("decoding exported audio failed: %v", err)
	}
	want := float64(len(wantParts)) * 1.0
	if math.Abs(dec.Duration-want) > 0.01 {
		t.Errorf("exported duration: got %v, want %v", dec.Duration, want)
	}
}

func TestExportAudio_NoContextWhenDisabled(t *testing.T) {
	model := newScriptedModel()
	model.wavSeconds = 1.0

	settings := testSettings()
	settings.ContextMode = false

	text := strings.TrimSpace(strings.Repeat("Another padding sentence for the export path. ", 8))
	if _, err := ExportAudio(context.Background(), model, text, settings, 120); err != nil {
		t.Fatalf("ExportAudio failed: %v", err)
	}
	for i, c := range model.calls {
		if c.context != nil {
			t.Errorf("call %d received context with context mode off: %v", i, c.context)
		}
	}
}

func TestExportAudio_EmptyText(t *testing.T) {
	model := newScriptedModel()
	if _, err := ExportAudio(context.Background(), model, "", testSettings(), 100); !errors.Is(err, ErrEmptyText) {
		t.Errorf("got %v, want %v", err, ErrEmptyText)
	}
}

func TestExportAudio_PropagatesFailure(t *testing.T) {
	model := newScriptedModel()
	cause := NewFatalError("synthesize", 401, errors.New("bad key"))
	text := "Short text that fails."
	model.failNext(text, cause)

	if _, err := ExportAudio(context.Background(), model, text, testSettings(), 4096); !errors.Is(err, cause) {
		t.Errorf("got %v, want %v", err, cause)
	}
}
