// Package cache implements the durable audio store: synthesized audio
// bytes on disk, keyed by a hash of (text, synthesis options, format),
// compressed with zstd and swept by last-read age.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"

	"github.com/dgnsrekt/narrator/tts"
)

const indexFileName = "cache_index.json"

// Config holds disk cache configuration.
type Config struct {
	Dir              string
	Capacity         int64 // Maximum size on disk in bytes, 0 = unlimited
	CompressionLevel int   // zstd level, 0 disables compression
}

// DefaultConfig returns the standard cache configuration rooted under
// dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:              dir,
		Capacity:         1 << 30, // 1GB
		CompressionLevel: 3,
	}
}

// entry is one record in the cache index.
type entry struct {
	Key        string    `json:"key"`
	File       string    `json:"file"`
	Size       int64     `json:"size"`     // Size on disk (compressed)
	RawSize    int64     `json:"raw_size"` // Size before compression
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"created_at"`
	LastRead   time.Time `json:"last_read"` // Expiry sweeps by this
	Hits       int64     `json:"hits"`
}

// Stats tracks cache effectiveness.
type Stats struct {
	Hits    int64
	Misses  int64
	Writes  int64
	Expired int64
}

// DiskCache is the persisted audio store. It satisfies tts.AudioCache.
type DiskCache struct {
	cfg     Config
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu    sync.Mutex
	index map[string]*entry
	size  int64
	stats Stats
}

// New opens (or creates) a disk cache under cfg.Dir and loads its index.
func New(cfg Config) (*DiskCache, error) {
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	dc := &DiskCache{
		cfg:   cfg,
		index: make(map[string]*entry),
	}

	if cfg.CompressionLevel > 0 {
		var err error
		dc.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.CompressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		dc.decoder, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
	}

	if err := dc.loadIndex(); err != nil {
		// Corrupt or missing index: start fresh, orphaned files are
		// cleaned up by capacity enforcement over time.
		log.Debug("cache index unavailable, starting fresh", "error", err)
		dc.index = make(map[string]*entry)
	}
	dc.recalculateSize()

	log.Debug("audio cache opened",
		"dir", cfg.Dir, "entries", len(dc.index), "size", humanize.Bytes(uint64(dc.size)))
	return dc, nil
}

// Key builds the persisted cache key from text, options and format.
func Key(text string, opts tts.SynthesisOptions, format string) string {
	input := fmt.Sprintf("%s|%s|%.2f|%s", text, opts.Voice, opts.Speed, format)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

// GetAudio returns cached bytes for (text, opts, format), or (nil, nil)
// on a miss. A hit refreshes the entry's last-read time.
func (dc *DiskCache) GetAudio(text string, opts tts.SynthesisOptions, format string) ([]byte, error) {
	key := Key(text, opts, format)

	dc.mu.Lock()
	ent, ok := dc.index[key]
	if !ok {
		dc.stats.Misses++
		dc.mu.Unlock()
		return nil, nil
	}
	path := filepath.Join(dc.cfg.Dir, ent.File)
	compressed := ent.Compressed
	ent.LastRead = time.Now()
	ent.Hits++
	dc.stats.Hits++
	dc.mu.Unlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cached audio: %w", err)
	}
	if compressed {
		data, derr := dc.decoder.DecodeAll(raw, nil)
		if derr != nil {
			return nil, fmt.Errorf("decompress cached audio: %w", derr)
		}
		return data, nil
	}
	return raw, nil
}

// SaveAudio persists synthesized bytes under the key for
// (text, opts, format).
func (dc *DiskCache) SaveAudio(text string, opts tts.SynthesisOptions, format string, data []byte) error {
	key := Key(text, opts, format)
	file := key + ".audio"
	path := filepath.Join(dc.cfg.Dir, file)

	stored := data
	compressed := false
	if dc.encoder != nil {
		stored = dc.encoder.EncodeAll(data, nil)
		compressed = true
	}
	if err := os.WriteFile(path, stored, 0o600); err != nil {
		return fmt.Errorf("write cached audio: %w", err)
	}

	now := time.Now()
	dc.mu.Lock()
	if old, ok := dc.index[key]; ok {
		dc.size -= old.Size
	}
	dc.index[key] = &entry{
		Key:        key,
		File:       file,
		Size:       int64(len(stored)),
		RawSize:    int64(len(data)),
		Compressed: compressed,
		CreatedAt:  now,
		LastRead:   now,
	}
	dc.size += int64(len(stored))
	dc.stats.Writes++
	dc.enforceCapacityLocked()
	err := dc.saveIndexLocked()
	dc.mu.Unlock()
	return err
}

// Expire removes entries whose last read is older than maxAge.
func (dc *DiskCache) Expire(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)

	dc.mu.Lock()
	defer dc.mu.Unlock()

	removed := 0
	for key, ent := range dc.index {
		if ent.LastRead.Before(cutoff) {
			dc.removeLocked(key)
			removed++
		}
	}
	if removed > 0 {
		dc.stats.Expired += int64(removed)
		log.Debug("expired cached audio", "removed", removed, "max_age", maxAge)
		return dc.saveIndexLocked()
	}
	return nil
}

// StorageSize returns the bytes currently stored on disk.
func (dc *DiskCache) StorageSize() int64 {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.size
}

// Len returns the number of cached entries.
func (dc *DiskCache) Len() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return len(dc.index)
}

// Stats returns a copy of the cache counters.
func (dc *DiskCache) Stats() Stats {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.stats
}

// Clear removes every entry and its file.
func (dc *DiskCache) Clear() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	for key := range dc.index {
		dc.removeLocked(key)
	}
	return dc.saveIndexLocked()
}

// Close flushes the index to disk.
func (dc *DiskCache) Close() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.saveIndexLocked()
}

// removeLocked deletes one entry and its file. Callers hold dc.mu.
func (dc *DiskCache) removeLocked(key string) {
	ent, ok := dc.index[key]
	if !ok {
		return
	}
	_ = os.Remove(filepath.Join(dc.cfg.Dir, ent.File))
	delete(dc.index, key)
	dc.size -= ent.Size
}

// enforceCapacityLocked evicts least-recently-read entries until the
// cache fits its capacity. Callers hold dc.mu.
func (dc *DiskCache) enforceCapacityLocked() {
	if dc.cfg.Capacity <= 0 {
		return
	}
	for dc.size > dc.cfg.Capacity && len(dc.index) > 0 {
		var oldestKey string
		var oldest time.Time
		for key, ent := range dc.index {
			if oldestKey == "" || ent.LastRead.Before(oldest) {
				oldestKey = key
				oldest = ent.LastRead
			}
		}
		dc.removeLocked(oldestKey)
	}
}

func (dc *DiskCache) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(dc.cfg.Dir, indexFileName))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &dc.index)
}

// saveIndexLocked writes the index to disk. Callers hold dc.mu.
func (dc *DiskCache) saveIndexLocked() error {
	data, err := json.MarshalIndent(dc.index, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dc.cfg.Dir, indexFileName), data, 0o600)
}

func (dc *DiskCache) recalculateSize() {
	dc.size = 0
	for _, ent := range dc.index {
		dc.size += ent.Size
	}
}
