package tts

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/dgnsrekt/narrator/tts/sentence"
)

// Expiry timer bounds. The persisted-cache sweep interval follows the
// configured entry lifetime but is clamped so a huge max age still sweeps
// regularly and a tiny one does not spin.
const (
	minExpiryInterval = time.Second
	maxExpiryInterval = 60 * time.Second
)

// SessionOptions describe what a session narrates.
type SessionOptions struct {
	// Text is the source text. Required unless Filename is set.
	Text string
	// Filename, when set, is read for the initial text and watched for
	// edits; saves are mirrored into the live track.
	Filename string
	// Start and End bound the narrated region as byte offsets into the
	// text. End <= 0 means the end of the text.
	Start int
	End   int
	// Mode selects sentence or paragraph chunking.
	Mode sentence.Mode
	// Loader and Player tune the engine; zero fields fall back to the
	// defaults.
	Loader LoaderConfig
	Player PlayerConfig
}

// region clips text to the configured [Start, End) window.
func (o SessionOptions) region(text string) string {
	start, end := o.Start, o.End
	if start < 0 {
		start = 0
	}
	if end <= 0 || end > len(text) {
		end = len(text)
	}
	if start >= end {
		return ""
	}
	return text[start:end]
}

// Session is the top-level facade owning one track, one loader, and one
// player at a time, plus the background maintenance that outlives any
// single track: persisted-cache expiry and the source-file watcher.
// Loading new text destroys and replaces the previous track and player.
type Session struct {
	model Model
	cache AudioCache
	sink  Sink

	loaderCfg LoaderConfig
	playerCfg PlayerConfig

	mu        sync.Mutex
	settings  Settings
	opts      SessionOptions
	track     *Track
	loader    *Loader
	player    *Player
	destroyed bool

	settingsCh chan struct{}
	done       chan struct{}
	watcher    *fsnotify.Watcher
	wg         sync.WaitGroup
}

// NewSession builds a session from its collaborators and loads the
// initial text. When opts.Filename is set its contents are read and the
// file is watched for edits.
func NewSession(model Model, cache AudioCache, sink Sink, settings Settings, opts SessionOptions) (*Session, error) {
	s := &Session{
		model:      model,
		cache:      cache,
		sink:       sink,
		loaderCfg:  opts.Loader,
		playerCfg:  opts.Player,
		settings:   settings,
		opts:       opts,
		settingsCh: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	text := opts.Text
	if opts.Filename != "" {
		raw, err := os.ReadFile(opts.Filename)
		if err != nil {
			return nil, err
		}
		text = string(raw)
	}
	if err := s.loadText(opts.region(text)); err != nil {
		return nil, err
	}

	if opts.Filename != "" {
		if err := s.watchFile(opts.Filename); err != nil {
			log.Warn("file watch unavailable, live edits disabled",
				"file", opts.Filename, "error", err)
		}
	}

	s.wg.Add(1)
	go s.expiryLoop()
	return s, nil
}

// loadText replaces the active track and player. The previous pair is
// destroyed first so its buffered media and in-flight loads are released.
func (s *Session) loadText(text string) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrSessionDestroyed
	}
	mode := s.opts.Mode
	oldPlayer, oldLoader := s.player, s.loader
	s.mu.Unlock()

	if oldPlayer != nil {
		oldPlayer.Destroy()
	}
	if oldLoader != nil {
		oldLoader.Destroy()
	}

	track, err := NewTrack(text, mode)
	if err != nil {
		return err
	}

	snapshot := s.Settings
	loader := NewLoader(s.model, s.cache, s.loaderCfg, snapshot, func(position int) []string {
		return track.ContextBefore(position, snapshot().ContextWindow)
	})
	player := NewPlayer(track, loader, s.sink, s.playerCfg, snapshot)

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		player.Destroy()
		loader.Destroy()
		return ErrSessionDestroyed
	}
	s.track = track
	s.loader = loader
	s.player = player
	s.mu.Unlock()

	log.Info("track loaded", "id", track.ID(), "chunks", track.Len())
	return nil
}

// LoadText replaces the session's text entirely, rebuilding the track.
func (s *Session) LoadText(text string) error {
	return s.loadText(text)
}

// Settings returns the current settings snapshot.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings installs new settings. Requests created afterwards see
// the new snapshot; requests already captured keep the one they were
// created with. The expiry timer is re-armed when the max age changed.
func (s *Session) UpdateSettings(settings Settings) {
	s.mu.Lock()
	changed := s.settings.CacheMaxAge != settings.CacheMaxAge
	s.settings = settings
	s.mu.Unlock()

	if changed {
		select {
		case s.settingsCh <- struct{}{}:
		default:
		}
	}
}

// SetRate pushes a playback speed change to both the sink and the
// player's completion countdown.
func (s *Session) SetRate(multiplier float64) {
	if multiplier <= 0 {
		return
	}
	s.sink.SetRate(multiplier)

	s.mu.Lock()
	player := s.player
	s.mu.Unlock()
	if player != nil {
		player.SetRate(multiplier)
	}
}

// Track returns the active track.
func (s *Session) Track() *Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

// currentPlayer returns the active player, or nil after Destroy.
func (s *Session) currentPlayer() *Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player
}

// Play starts or resumes playback of the active track.
func (s *Session) Play() error {
	p := s.currentPlayer()
	if p == nil {
		return ErrSessionDestroyed
	}
	return p.Play()
}

// Pause stops playback, keeping buffered audio for a cheap resume.
func (s *Session) Pause() {
	if p := s.currentPlayer(); p != nil {
		p.Pause()
	}
}

// GoToNext moves the play head to the next chunk.
func (s *Session) GoToNext() error {
	p := s.currentPlayer()
	if p == nil {
		return ErrSessionDestroyed
	}
	return p.GoToNext()
}

// GoToPrevious moves the play head to the previous chunk.
func (s *Session) GoToPrevious() error {
	p := s.currentPlayer()
	if p == nil {
		return ErrSessionDestroyed
	}
	return p.GoToPrevious()
}

// GoToPosition moves the play head to chunk i.
func (s *Session) GoToPosition(i int) error {
	p := s.currentPlayer()
	if p == nil {
		return ErrSessionDestroyed
	}
	return p.GoToPosition(i)
}

// Seeked notifies the session that the sink clock moved externally.
func (s *Session) Seeked(seconds float64) {
	if p := s.currentPlayer(); p != nil {
		p.Seeked(seconds)
	}
}

// Position returns the current chunk index, NoPosition when finished.
func (s *Session) Position() int {
	p := s.currentPlayer()
	if p == nil {
		return NoPosition
	}
	return p.Position()
}

// IsPlaying reports whether playback is active.
func (s *Session) IsPlaying() bool {
	p := s.currentPlayer()
	return p != nil && p.IsPlaying()
}

// CurrentChunk returns the chunk under the play head, nil when finished.
func (s *Session) CurrentChunk() *Chunk {
	p := s.currentPlayer()
	if p == nil {
		return nil
	}
	return p.CurrentChunk()
}

// ExportAudio synthesizes text into one WAV payload with the session's
// current settings, independent of the active track.
func (s *Session) ExportAudio(ctx context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	destroyed := s.destroyed
	s.mu.Unlock()
	if destroyed {
		return nil, ErrSessionDestroyed
	}
	return ExportAudio(ctx, s.model, text, s.Settings(), DefaultExportCharLimit)
}

// expiryLoop sweeps the persisted cache on a timer derived from the
// configured entry lifetime, re-arming whenever the setting changes.
func (s *Session) expiryLoop() {
	defer s.wg.Done()

	interval := clampExpiryInterval(s.Settings().CacheMaxAge)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.settingsCh:
			interval = clampExpiryInterval(s.Settings().CacheMaxAge)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(interval)
		case <-timer.C:
			maxAge := s.Settings().CacheMaxAge
			if maxAge > 0 {
				if err := s.cache.Expire(maxAge); err != nil {
					log.Warn("cache expiry sweep failed", "error", err)
				}
			}
			timer.Reset(interval)
		}
	}
}

// clampExpiryInterval bounds the sweep interval to [1s, 60s].
func clampExpiryInterval(maxAge time.Duration) time.Duration {
	switch {
	case maxAge <= 0:
		return maxExpiryInterval
	case maxAge < minExpiryInterval:
		return minExpiryInterval
	case maxAge > maxExpiryInterval:
		return maxExpiryInterval
	default:
		return maxAge
	}
}

// watchFile mirrors saves of name into the live track.
func (s *Session) watchFile(name string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory; editors that save via rename replace the file
	// inode, which a direct watch would lose.
	if err := w.Add(filepath.Dir(name)); err != nil {
		w.Close()
		return err
	}
	s.watcher = w

	s.wg.Add(1)
	go s.watchLoop(name)
	return nil
}

// watchLoop applies file edits to the running session. Edits that keep
// the chunk count are absorbed in place: stale cached audio is evicted
// and the player rebuffers. Edits that change the chunking rebuild the
// track from scratch.
func (s *Session) watchLoop(name string) {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			s.applyFileEdit(name)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("file watch error", "error", err)
		}
	}
}

// applyFileEdit re-reads the file and reconciles the track with it.
func (s *Session) applyFileEdit(name string) {
	raw, err := os.ReadFile(name)
	if err != nil {
		log.Warn("failed to re-read edited file", "file", name, "error", err)
		return
	}

	s.mu.Lock()
	track, loader, player := s.track, s.loader, s.player
	region := s.opts.region(string(raw))
	s.mu.Unlock()
	if track == nil {
		return
	}

	// Capture the pre-edit texts; loader entries are keyed on the text a
	// request was created with, which Refresh is about to overwrite.
	before := make([]string, track.Len())
	for i := range before {
		before[i] = track.Chunk(i).Text()
	}

	changed, ok := track.Refresh(region)
	if !ok {
		log.Info("chunk count changed, rebuilding track", "file", name)
		wasPlaying := player != nil && player.IsPlaying()
		if err := s.loadText(region); err != nil {
			log.Error("failed to rebuild track after edit", "error", err)
			return
		}
		if wasPlaying {
			if err := s.Play(); err != nil {
				log.Warn("failed to resume after rebuild", "error", err)
			}
		}
		return
	}
	if len(changed) == 0 {
		return
	}

	for _, i := range changed {
		loader.Uncache(before[i])
	}
	player.NotifyTextChanged()
	log.Info("absorbed live edit", "file", name, "chunks", len(changed))
}

// Destroy tears down the session: the watcher, the expiry loop, and the
// active player and loader. Safe to call multiple times.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	player, loader := s.player, s.loader
	s.player = nil
	s.loader = nil
	s.track = nil
	s.mu.Unlock()

	close(s.done)
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.wg.Wait()

	if player != nil {
		player.Destroy()
	}
	if loader != nil {
		loader.Destroy()
	}
}
