package cache

import (
	"bytes"
	"testing"
	"time"

	"github.com/dgnsrekt/narrator/tts"
)

var testOpts = tts.SynthesisOptions{Voice: "alloy", Speed: 1.0, Format: "wav"}

func newTestCache(t *testing.T, cfg Config) *DiskCache {
	t.Helper()
	dc, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = dc.Close() })
	return dc
}

func TestDiskCache_SaveAndGet(t *testing.T) {
	dc := newTestCache(t, DefaultConfig(t.TempDir()))

	data := bytes.Repeat([]byte("audio-bytes-"), 100)
	if err := dc.SaveAudio("hello world", testOpts, "wav", data); err != nil {
		t.Fatalf("SaveAudio failed: %v", err)
	}

	got, err := dc.GetAudio("hello world", testOpts, "wav")
	if err != nil {
		t.Fatalf("GetAudio failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("round trip corrupted the data")
	}
	if dc.Len() != 1 {
		t.Errorf("entries: got %d, want 1", dc.Len())
	}
	if dc.StorageSize() <= 0 {
		t.Error("storage size not tracked")
	}

	// Repetitive audio data compresses below its raw size.
	if dc.StorageSize() >= int64(len(data)) {
		t.Errorf("data was not compressed: %d on disk for %d raw", dc.StorageSize(), len(data))
	}

	stats := dc.Stats()
	if stats.Writes != 1 || stats.Hits != 1 {
		t.Errorf("stats: %+v", stats)
	}
}

func TestDiskCache_Miss(t *testing.T) {
	dc := newTestCache(t, DefaultConfig(t.TempDir()))

	got, err := dc.GetAudio("never stored", testOpts, "wav")
	if err != nil {
		t.Fatalf("miss returned error: %v", err)
	}
	if got != nil {
		t.Error("miss returned data")
	}
	if dc.Stats().Misses != 1 {
		t.Errorf("miss counter: %+v", dc.Stats())
	}
}

func TestDiskCache_KeyIncludesOptions(t *testing.T) {
	dc := newTestCache(t, DefaultConfig(t.TempDir()))

	if err := dc.SaveAudio("same text", testOpts, "wav", []byte("voice a")); err != nil {
		t.Fatal(err)
	}

	other := testOpts
	other.Voice = "nova"
	got, err := dc.GetAudio("same text", other, "wav")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("different voice shared a cache entry")
	}
}

func TestDiskCache_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)

	dc, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := dc.SaveAudio("durable", testOpts, "wav", []byte("still here")); err != nil {
		t.Fatal(err)
	}
	if err := dc.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := newTestCache(t, cfg)
	got, err := reopened.GetAudio("durable", testOpts, "wav")
	if err != nil {
		t.Fatalf("GetAudio after reopen failed: %v", err)
	}
	if string(got) != "still here" {
		t.Errorf("data after reopen: %q", got)
	}
}

func TestDiskCache_Expire(t *testing.T) {
	dc := newTestCache(t, DefaultConfig(t.TempDir()))

	if err := dc.SaveAudio("old entry", testOpts, "wav", []byte("stale")); err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)
	if err := dc.Expire(10 * time.Millisecond); err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	if dc.Len() != 0 {
		t.Errorf("entry survived expiry: %d entries", dc.Len())
	}

	got, err := dc.GetAudio("old entry", testOpts, "wav")
	if err != nil || got != nil {
		t.Errorf("expired entry still readable: %v %v", got, err)
	}
}

func TestDiskCache_ExpireKeepsFreshEntries(t *testing.T) {
	dc := newTestCache(t, DefaultConfig(t.TempDir()))

	if err := dc.SaveAudio("fresh entry", testOpts, "wav", []byte("recent")); err != nil {
		t.Fatal(err)
	}
	if err := dc.Expire(time.Hour); err != nil {
		t.Fatal(err)
	}
	if dc.Len() != 1 {
		t.Error("fresh entry was expired")
	}
}

func TestDiskCache_CapacityEviction(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.CompressionLevel = 0 // deterministic on-disk sizes
	cfg.Capacity = 250

	dc := newTestCache(t, cfg)

	if err := dc.SaveAudio("first", testOpts, "wav", make([]byte, 200)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond) // distinct last-read times
	if err := dc.SaveAudio("second", testOpts, "wav", make([]byte, 200)); err != nil {
		t.Fatal(err)
	}

	if dc.Len() != 1 {
		t.Fatalf("entries after eviction: got %d, want 1", dc.Len())
	}
	if got, _ := dc.GetAudio("first", testOpts, "wav"); got != nil {
		t.Error("least-recently-read entry survived eviction")
	}
	if got, _ := dc.GetAudio("second", testOpts, "wav"); got == nil {
		t.Error("newest entry was evicted")
	}
}

func TestDiskCache_Clear(t *testing.T) {
	dc := newTestCache(t, DefaultConfig(t.TempDir()))

	_ = dc.SaveAudio("one", testOpts, "wav", []byte("a"))
	_ = dc.SaveAudio("two", testOpts, "wav", []byte("b"))

	if err := dc.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if dc.Len() != 0 || dc.StorageSize() != 0 {
		t.Errorf("residual state after Clear: %d entries, %d bytes", dc.Len(), dc.StorageSize())
	}
}

func TestDiskCache_Uncompressed(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.CompressionLevel = 0

	dc := newTestCache(t, cfg)
	data := []byte("raw audio bytes")
	if err := dc.SaveAudio("plain", testOpts, "wav", data); err != nil {
		t.Fatal(err)
	}
	got, err := dc.GetAudio("plain", testOpts, "wav")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("uncompressed round trip corrupted the data")
	}
	if dc.StorageSize() != int64(len(data)) {
		t.Errorf("uncompressed size: got %d, want %d", dc.StorageSize(), len(data))
	}
}
