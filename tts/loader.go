package tts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// LoaderConfig holds tuning for the chunk loader.
type LoaderConfig struct {
	MaxConcurrent     int           // Simultaneous in-flight background fetches
	RetryAttempts     int           // Synthesis attempts per request
	RetryBaseDelay    time.Duration // Backoff base; attempt n waits base * 2^n
	LocalTTL          time.Duration // Idle lifetime of a local-cache entry
	SweepInterval     time.Duration // How often the local-cache sweep runs
	RequestsPerSecond float64       // Model call rate limit, 0 = unlimited
}

// DefaultLoaderConfig returns the standard loader tuning.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		MaxConcurrent:  DefaultMaxConcurrent,
		RetryAttempts:  DefaultRetryAttempts,
		RetryBaseDelay: DefaultRetryBaseDelay,
		LocalTTL:       DefaultLocalTTL,
		SweepInterval:  DefaultSweepInterval,
	}
}

// backgroundRequest is a queued synthesis request. Settings and context
// are captured at enqueue time so mid-flight settings changes cannot
// corrupt cache keys.
type backgroundRequest struct {
	key      string
	text     string
	opts     SynthesisOptions
	settings Settings
	context  []string
	position int
	enqueued time.Time
}

// localEntry memoizes a resolved synthesis result for the lifetime of the
// process, until the TTL sweep or an explicit Uncache removes it.
type localEntry struct {
	key        string
	text       string
	data       []byte
	lastAccess time.Time
}

// Loader resolves (text, options) to audio bytes through two cache tiers
// with bounded background concurrency and retry. Background requests are
// serviced in ascending position order so the chunk closest to the play
// head always goes first; per-key coalescing guarantees concurrent loads
// for the same key share a single model call.
type Loader struct {
	model    Model
	cache    AudioCache
	cfg      LoaderConfig
	settings func() Settings
	// contextFor supplies the preceding chunks for a position when
	// context mode is enabled.
	contextFor func(position int) []string

	group   singleflight.Group
	limiter *rate.Limiter

	mu        sync.Mutex
	queue     []*backgroundRequest // Sorted ascending by position
	pending   map[string]struct{}  // Keys queued or still resolving
	inflight  int
	local     map[string]*localEntry
	destroyed bool

	ctx       context.Context
	cancel    context.CancelFunc
	sweepDone chan struct{}
}

// NewLoader creates a loader over the given model and persisted cache.
// settings is read once per request to capture a snapshot; contextFor may
// be nil when context mode is never used.
func NewLoader(model Model, cache AudioCache, cfg LoaderConfig, settings func() Settings, contextFor func(position int) []string) *Loader {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.LocalTTL <= 0 {
		cfg.LocalTTL = DefaultLocalTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		model:      model,
		cache:      cache,
		cfg:        cfg,
		settings:   settings,
		contextFor: contextFor,
		pending:    make(map[string]struct{}),
		local:      make(map[string]*localEntry),
		ctx:        ctx,
		cancel:     cancel,
		sweepDone:  make(chan struct{}),
	}
	if cfg.RequestsPerSecond > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	go l.sweepLoop()
	return l
}

// Preload requests a background fetch for (text, opts) targeting the
// given track position. It is idempotent: identical pairs already queued,
// resolving, or resolved are left alone.
func (l *Loader) Preload(text string, opts SynthesisOptions, position int) {
	key := RequestKey(text, opts)

	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return
	}
	if _, ok := l.local[key]; ok {
		l.mu.Unlock()
		return
	}
	if _, ok := l.pending[key]; ok {
		l.mu.Unlock()
		return
	}

	req := &backgroundRequest{
		key:      key,
		text:     text,
		opts:     opts,
		settings: l.settings(),
		position: position,
		enqueued: time.Now(),
	}
	if req.settings.ContextMode && l.contextFor != nil {
		req.context = l.contextFor(position)
	}

	l.pending[key] = struct{}{}
	i := sort.Search(len(l.queue), func(i int) bool {
		return l.queue[i].position > position
	})
	l.queue = append(l.queue, nil)
	copy(l.queue[i+1:], l.queue[i:])
	l.queue[i] = req
	l.mu.Unlock()

	l.pump()
}

// pump starts queued requests until the concurrency cap is reached or the
// queue drains. Each completed request pumps again, so a freed slot is
// always handed to the highest-priority (lowest position) waiter. A key
// stays pending until its resolution completes so a re-Preload of a
// resolving pair remains a no-op.
func (l *Loader) pump() {
	l.mu.Lock()
	for !l.destroyed && l.inflight < l.cfg.MaxConcurrent && len(l.queue) > 0 {
		req := l.queue[0]
		l.queue = l.queue[1:]
		l.inflight++

		go func(req *backgroundRequest) {
			if _, err := l.resolve(l.ctx, req); err != nil {
				log.Debug("background synthesis failed",
					"position", req.position, "error", err)
			}
			l.mu.Lock()
			l.inflight--
			delete(l.pending, req.key)
			l.mu.Unlock()
			l.pump()
		}(req)
	}
	l.mu.Unlock()
}

// Load resolves audio for (text, opts) immediately, bypassing the queue's
// position ordering but still sharing the per-key coalescing with any
// background fetch of the same pair.
func (l *Loader) Load(ctx context.Context, text string, opts SynthesisOptions, position int) ([]byte, error) {
	key := RequestKey(text, opts)

	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return nil, ErrLoaderDestroyed
	}
	if entry, ok := l.local[key]; ok {
		entry.lastAccess = time.Now()
		data := entry.data
		l.mu.Unlock()
		return data, nil
	}
	req := &backgroundRequest{
		key:      key,
		text:     text,
		opts:     opts,
		settings: l.settings(),
		position: position,
		enqueued: time.Now(),
	}
	if req.settings.ContextMode && l.contextFor != nil {
		req.context = l.contextFor(position)
	}
	l.mu.Unlock()

	return l.resolve(ctx, req)
}

// resolve fetches through the coalescing group and memoizes the result.
// A result memoized while the request waited is returned as is.
func (l *Loader) resolve(ctx context.Context, req *backgroundRequest) ([]byte, error) {
	l.mu.Lock()
	if entry, ok := l.local[req.key]; ok {
		entry.lastAccess = time.Now()
		data := entry.data
		l.mu.Unlock()
		return data, nil
	}
	l.mu.Unlock()

	v, err, _ := l.group.Do(req.key, func() (interface{}, error) {
		return l.fetch(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	data := v.([]byte)

	l.mu.Lock()
	if !l.destroyed {
		l.local[req.key] = &localEntry{
			key:        req.key,
			text:       req.text,
			data:       data,
			lastAccess: time.Now(),
		}
	}
	l.mu.Unlock()
	return data, nil
}

// fetch performs one full resolution: persisted cache, then the model
// with retry and backoff, then persist. Cache I/O errors fail open to a
// network fetch.
func (l *Loader) fetch(ctx context.Context, req *backgroundRequest) ([]byte, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	cached, err := l.cache.GetAudio(req.text, req.opts, req.settings.Format)
	if err != nil {
		log.Warn("audio cache read failed, fetching from model", "error", err)
	} else if cached != nil {
		return cached, nil
	}

	var data []byte
	for attempt := 0; attempt < l.cfg.RetryAttempts; attempt++ {
		data, err = l.model.Synthesize(ctx, req.text, req.opts, req.context, req.settings)
		if err == nil {
			break
		}
		if !IsRetryable(err) || attempt == l.cfg.RetryAttempts-1 {
			return nil, err
		}

		delay := l.cfg.RetryBaseDelay << uint(attempt)
		log.Debug("synthesis attempt failed, retrying",
			"attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if saveErr := l.cache.SaveAudio(req.text, req.opts, req.settings.Format, data); saveErr != nil {
		log.Warn("audio cache write failed", "error", saveErr)
	}
	return data, nil
}

// ExpireBefore drops queued-but-not-started background requests whose
// target position is behind position; playback has already moved past
// them.
func (l *Loader) ExpireBefore(position int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.queue[:0]
	for _, req := range l.queue {
		if req.position < position {
			delete(l.pending, req.key)
			continue
		}
		kept = append(kept, req)
	}
	l.queue = kept
}

// Uncache evicts every local-cache entry for text, regardless of options.
// Used when the underlying bytes became unusable.
func (l *Loader) Uncache(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, entry := range l.local {
		if entry.text == text {
			delete(l.local, key)
			l.group.Forget(key)
		}
	}
}

// QueuedPositions returns the positions of queued-but-not-started
// background requests, in service order.
func (l *Loader) QueuedPositions() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int, len(l.queue))
	for i, req := range l.queue {
		out[i] = req.position
	}
	return out
}

// sweepLoop periodically drops local-cache entries that have not been
// accessed within the TTL, independent of playback state.
func (l *Loader) sweepLoop() {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.sweepDone:
			return
		case <-ticker.C:
			l.sweepLocal(time.Now())
		}
	}
}

// sweepLocal removes entries idle for longer than the TTL.
func (l *Loader) sweepLocal(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, entry := range l.local {
		if now.Sub(entry.lastAccess) > l.cfg.LocalTTL {
			delete(l.local, key)
			removed++
		}
	}
	if removed > 0 {
		log.Debug("swept local audio cache", "removed", removed, "remaining", len(l.local))
	}
}

// Destroy stops the sweep timer and clears the queue and local cache.
// In-flight work is abandoned and its results are discarded. Safe to call
// multiple times.
func (l *Loader) Destroy() {
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return
	}
	l.destroyed = true
	l.queue = nil
	l.pending = make(map[string]struct{})
	l.local = make(map[string]*localEntry)
	l.mu.Unlock()

	l.cancel()
	close(l.sweepDone)
}
