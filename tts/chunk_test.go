package tts

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestChunk_Lifecycle(t *testing.T) {
	c := newChunk(0, "Hello world.")

	if c.State() != ChunkEmpty {
		t.Fatalf("new chunk state: got %v, want %v", c.State(), ChunkEmpty)
	}
	if c.Text() != "Hello world." {
		t.Errorf("text mismatch: %q", c.Text())
	}

	if err := c.SetLoading(); err != nil {
		t.Fatalf("SetLoading failed: %v", err)
	}
	if c.State() != ChunkLoading {
		t.Errorf("state after SetLoading: got %v", c.State())
	}

	c.SetLoaded([]byte("audio"))
	if c.State() != ChunkLoaded {
		t.Errorf("state after SetLoaded: got %v", c.State())
	}
	if string(c.Audio()) != "audio" {
		t.Errorf("audio mismatch: %q", c.Audio())
	}
	if c.Err() != nil {
		t.Errorf("unexpected error: %v", c.Err())
	}
}

func TestChunk_SetLoadingTwice(t *testing.T) {
	c := newChunk(0, "text")

	if err := c.SetLoading(); err != nil {
		t.Fatalf("first SetLoading failed: %v", err)
	}
	if err := c.SetLoading(); !errors.Is(err, ErrChunkLoadInFlight) {
		t.Errorf("second SetLoading: got %v, want %v", err, ErrChunkLoadInFlight)
	}
}

func TestChunk_Failure(t *testing.T) {
	c := newChunk(0, "text")
	_ = c.SetLoading()

	cause := errors.New("boom")
	c.SetFailed(cause)

	if c.State() != ChunkFailed {
		t.Errorf("state after SetFailed: got %v", c.State())
	}
	if !errors.Is(c.Err(), cause) {
		t.Errorf("error mismatch: got %v", c.Err())
	}
}

func TestChunk_Reset(t *testing.T) {
	c := newChunk(0, "text")
	_ = c.SetLoading()
	c.SetLoaded([]byte("audio"))
	c.SetDuration(2.5)
	c.SetAudioBuffer(nil, 10)

	c.Reset()

	if c.State() != ChunkEmpty {
		t.Errorf("state after Reset: got %v", c.State())
	}
	if c.Audio() != nil || c.Duration() != 0 || c.Offset() != 0 || c.Err() != nil {
		t.Error("Reset left residual data")
	}
}

func TestChunk_LiveTextPreservesSource(t *testing.T) {
	c := newChunk(0, "original")
	c.setLiveText("edited")

	if c.Text() != "edited" {
		t.Errorf("live text: got %q", c.Text())
	}
	if c.SourceText() != "original" {
		t.Errorf("source text changed: got %q", c.SourceText())
	}
}

func TestChunk_OnceLoaded(t *testing.T) {
	c := newChunk(0, "text")
	_ = c.SetLoading()

	done := make(chan error, 1)
	go func() {
		done <- c.OnceLoaded(context.Background(), false)
	}()

	c.SetLoaded([]byte("audio"))
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("OnceLoaded returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("OnceLoaded did not unblock after SetLoaded")
	}
}

func TestChunk_OnceLoadedIncludeFailure(t *testing.T) {
	c := newChunk(0, "text")
	_ = c.SetLoading()

	cause := errors.New("boom")
	done := make(chan error, 1)
	go func() {
		done <- c.OnceLoaded(context.Background(), true)
	}()

	c.SetFailed(cause)
	select {
	case err := <-done:
		if !errors.Is(err, cause) {
			t.Errorf("got %v, want %v", err, cause)
		}
	case <-time.After(time.Second):
		t.Fatal("OnceLoaded did not unblock after SetFailed")
	}
}

func TestChunk_OnceLoadedContextCancel(t *testing.T) {
	c := newChunk(0, "text")
	_ = c.SetLoading()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.OnceLoaded(ctx, false)
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("OnceLoaded did not unblock on cancellation")
	}
}
