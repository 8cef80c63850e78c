package tts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Default tuning values for the engine.
const (
	// DefaultBufferAhead is the number of chunks past the current position
	// kept pre-synthesized.
	DefaultBufferAhead = 4
	// DefaultMaxConcurrent is the maximum number of simultaneous in-flight
	// background fetches.
	DefaultMaxConcurrent = 3
	// DefaultRetryAttempts is the number of synthesis attempts per chunk.
	DefaultRetryAttempts = 3
	// DefaultRetryBaseDelay is the backoff base; attempt n waits base * 2^n.
	DefaultRetryBaseDelay = 500 * time.Millisecond
	// DefaultLocalTTL is how long an untouched local-cache entry survives.
	DefaultLocalTTL = 60 * time.Second
	// DefaultSweepInterval is how often the local-cache sweep runs.
	DefaultSweepInterval = 15 * time.Second
	// DefaultPositionDebounce is the quiet window after a hard reset before
	// buffering resumes, so rapid navigation does not thrash the loader.
	DefaultPositionDebounce = 500 * time.Millisecond
	// DefaultExportCharLimit caps how much text a single export request carries.
	DefaultExportCharLimit = 4096
)

// SynthesisOptions identify a synthesis variant. Together with the chunk
// text (and audio format, for the persisted tier) they form cache keys,
// so two requests with equal options and text always share one result.
type SynthesisOptions struct {
	Voice  string
	Speed  float64
	Format string // e.g. "wav"
}

// Settings is the engine configuration snapshot captured at request time.
// A snapshot travels with each request so that settings changes mid-flight
// do not corrupt cache keys or mix credentials between calls.
type Settings struct {
	BaseURL       string
	APIKey        string
	ModelID       string
	Voice         string
	Speed         float64
	Format        string
	ContextMode   bool          // Pass preceding chunks to the model
	ContextWindow int           // How many preceding chunks to pass
	CacheMaxAge   time.Duration // Persisted cache entry lifetime
}

// Options derives the synthesis options embedded in this settings snapshot.
func (s Settings) Options() SynthesisOptions {
	return SynthesisOptions{Voice: s.Voice, Speed: s.Speed, Format: s.Format}
}

// DefaultSettings returns a usable baseline configuration.
func DefaultSettings() Settings {
	return Settings{
		ModelID:       "tts-1",
		Voice:         "alloy",
		Speed:         1.0,
		Format:        "wav",
		ContextWindow: 2,
		CacheMaxAge:   7 * 24 * time.Hour,
	}
}

// RequestKey builds the deterministic key for (text, options). The local
// cache and request coalescing both key on it.
func RequestKey(text string, opts SynthesisOptions) string {
	input := fmt.Sprintf("%s|%s|%.2f|%s", text, opts.Voice, opts.Speed, opts.Format)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}
