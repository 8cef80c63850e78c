package tts

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrator/tts/sentence"
)

// NoPosition is the position sentinel meaning "no current chunk", set
// once playback advances past the last chunk.
const NoPosition = -1

// PlayerConfig holds tuning for the chunk player.
type PlayerConfig struct {
	BufferAhead      int           // Chunks past the play head kept synthesized
	PositionDebounce time.Duration // Quiet window after a hard reset
}

// DefaultPlayerConfig returns the standard player tuning.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		BufferAhead:      DefaultBufferAhead,
		PositionDebounce: DefaultPositionDebounce,
	}
}

// Player keeps a look-ahead buffer of chunks synthesized and appended to
// the sink, advances the logical position as chunks finish playing, and
// recovers from interruptions: position jumps, external seeks, pauses,
// and live edits of the source text.
//
// A single goroutine runs the buffering loop while playback is active;
// interruptions arrive on typed channels and race against the
// chunk-completion timer.
type Player struct {
	track    *Track
	loader   *Loader
	sink     Sink
	cfg      PlayerConfig
	settings func() Settings

	mu         sync.Mutex
	position   int
	playing    bool
	running    bool
	moved      bool // Position changed while the loop was not running
	rate       float64
	mediaStart int // Track index of the first chunk in the sink media
	mediaCount int // Chunks appended since the last switch or clear
	destroyed  bool

	positionCh chan int
	seekedCh   chan float64
	pauseCh    chan struct{}
	textCh     chan struct{}
	rateCh     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPlayer creates a player over track, resolving audio through loader
// and driving sink.
func NewPlayer(track *Track, loader *Loader, sink Sink, cfg PlayerConfig, settings func() Settings) *Player {
	if cfg.BufferAhead <= 0 {
		cfg.BufferAhead = DefaultBufferAhead
	}
	if cfg.PositionDebounce <= 0 {
		cfg.PositionDebounce = DefaultPositionDebounce
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Player{
		track:      track,
		loader:     loader,
		sink:       sink,
		cfg:        cfg,
		settings:   settings,
		rate:       1.0,
		mediaStart: NoPosition,
		positionCh: make(chan int, 8),
		seekedCh:   make(chan float64, 1),
		pauseCh:    make(chan struct{}, 1),
		textCh:     make(chan struct{}, 1),
		rateCh:     make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Position returns the current chunk index, or NoPosition once playback
// has finished.
func (p *Player) Position() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// IsPlaying reports whether the buffering loop is active.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// CurrentChunk returns the chunk at the play head, nil when finished.
func (p *Player) CurrentChunk() *Chunk {
	p.mu.Lock()
	pos := p.position
	p.mu.Unlock()
	return p.track.Chunk(pos)
}

// Play starts or resumes playback.
func (p *Player) Play() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrPlayerDestroyed
	}
	if p.playing {
		p.mu.Unlock()
		return nil
	}
	restart := p.position == NoPosition
	if restart {
		p.position = 0
	}
	p.playing = true
	start := !p.running
	if start {
		p.running = true
		p.wg.Add(1)
	}
	p.mu.Unlock()

	// Replaying a finished track rewinds the clock over the buffered
	// media instead of re-synthesizing.
	if restart {
		p.sink.Seek(0)
	}
	if err := p.sink.Play(); err != nil {
		return err
	}
	if start {
		go p.run()
	}
	return nil
}

// Pause stops playback without discarding buffered audio, so resuming is
// cheap.
func (p *Player) Pause() {
	select {
	case p.pauseCh <- struct{}{}:
	default:
	}
}

// GoToNext moves the play head to the next chunk.
func (p *Player) GoToNext() error {
	p.mu.Lock()
	target := p.position + 1
	p.mu.Unlock()
	return p.GoToPosition(target)
}

// GoToPrevious moves the play head to the previous chunk.
func (p *Player) GoToPrevious() error {
	p.mu.Lock()
	target := p.position - 1
	p.mu.Unlock()
	return p.GoToPosition(target)
}

// GoToPosition moves the play head to chunk i. A target inside the
// loaded contiguous range seeks the sink clock directly, anything else
// triggers a hard reset with debounce. Moves issued while paused are
// reconciled when playback resumes.
func (p *Player) GoToPosition(i int) error {
	if i < 0 || i >= p.track.Len() {
		return ErrInvalidPosition
	}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrPlayerDestroyed
	}
	if !p.playing {
		p.position = i
		p.moved = true
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	select {
	case p.positionCh <- i:
	default:
		// Channel full during rapid navigation; drop the oldest so the
		// newest target wins.
		select {
		case <-p.positionCh:
		default:
		}
		p.positionCh <- i
	}
	return nil
}

// Seeked notifies the player that the sink's play head moved
// independently (scrubbing); the logical chunk index is recomputed from
// the playback clock.
func (p *Player) Seeked(seconds float64) {
	select {
	case p.seekedCh <- seconds:
	default:
	}
}

// NotifyTextChanged signals that the source text of buffered chunks was
// edited externally. The loop cancels in-flight loads and performs a full
// reset on its next iteration.
func (p *Player) NotifyTextChanged() {
	select {
	case p.textCh <- struct{}{}:
	default:
	}
}

// SetRate updates the playback speed used for the chunk-completion
// countdown and re-arms any pending wait.
func (p *Player) SetRate(multiplier float64) {
	if multiplier <= 0 {
		return
	}
	p.mu.Lock()
	p.rate = multiplier
	p.mu.Unlock()

	select {
	case p.rateCh <- struct{}{}:
	default:
	}
}

// Destroy stops the loop, cancels outstanding waits, clears the sink
// media and chunk states. Safe to call at any lifecycle point, multiple
// times.
func (p *Player) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.playing = false
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	p.sink.ClearMedia()
	for _, c := range p.track.Chunks() {
		c.Reset()
	}

	p.mu.Lock()
	p.mediaStart = NoPosition
	p.mediaCount = 0
	p.mu.Unlock()
}

// run is the buffering loop; one activation cycle per Play.
func (p *Player) run() {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		p.mu.Lock()
		playing := p.playing
		pos := p.position
		insideMedia := p.mediaCount > 0 &&
			pos >= p.mediaStart && pos < p.mediaStart+p.mediaCount
		outsideMedia := p.mediaCount > 0 && !insideMedia
		moved := p.moved
		if playing {
			p.moved = false
		}
		p.mu.Unlock()

		if !playing {
			return
		}
		// The play head moved outside the buffered media while the loop
		// was not watching (e.g. repositioned while paused).
		if outsideMedia {
			p.hardReset()
			continue
		}
		// The play head moved within the buffered media while the loop was
		// not watching; align the sink clock with the target chunk.
		if moved && insideMedia {
			c := p.track.Chunk(pos)
			if now := p.sink.CurrentTime(); now < c.Offset() || now >= c.Offset()+c.Duration() {
				p.sink.Seek(c.Offset())
			}
			p.loader.ExpireBefore(pos)
		}

		p.preloadAhead()

		if idx, ok := p.nextToLoad(); ok {
			if exit := p.loadAndAppend(idx); exit {
				return
			}
			continue
		}

		if exit := p.waitEvent(); exit {
			return
		}
	}
}

// nextToLoad returns the first chunk index needing synthesis: the end of
// the longest contiguous loaded run starting at the current position,
// capped at position + BufferAhead. ok is false when the window is full,
// the track is exhausted, or the next chunk is failed (no auto-advance).
func (p *Player) nextToLoad() (int, bool) {
	p.mu.Lock()
	pos := p.position
	p.mu.Unlock()
	if pos == NoPosition {
		return 0, false
	}

	end := pos + p.cfg.BufferAhead
	i := pos
	for i <= end && i < p.track.Len() && p.track.Chunk(i).State() == ChunkLoaded {
		i++
	}
	if i > end || i >= p.track.Len() {
		return 0, false
	}
	if p.track.Chunk(i).State() != ChunkEmpty {
		return 0, false
	}
	return i, true
}

// preloadAhead queues background fetches for every empty chunk in the
// look-ahead window so the loader's concurrency fills the buffer while
// the loop appends in order.
func (p *Player) preloadAhead() {
	p.mu.Lock()
	pos := p.position
	p.mu.Unlock()
	if pos == NoPosition {
		return
	}

	opts := p.settings().Options()
	end := pos + p.cfg.BufferAhead
	for i := pos; i <= end && i < p.track.Len(); i++ {
		c := p.track.Chunk(i)
		if c.State() == ChunkEmpty {
			p.loader.Preload(c.Text(), opts, i)
		}
	}
}

// loadAndAppend synthesizes chunk idx and appends its bytes to the sink,
// staying responsive to interrupting events while the load is in flight.
// It returns true when the loop must exit.
func (p *Player) loadAndAppend(idx int) bool {
	c := p.track.Chunk(idx)
	if err := c.SetLoading(); err != nil {
		return false
	}

	loadCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	type loadResult struct {
		data []byte
		err  error
	}
	resCh := make(chan loadResult, 1)
	go func() {
		data, err := p.loader.Load(loadCtx, c.Text(), p.settings().Options(), idx)
		resCh <- loadResult{data, err}
	}()

	for {
		select {
		case res := <-resCh:
			if res.err != nil {
				p.failChunk(c, idx, res.err)
				return false
			}
			c.SetLoaded(res.data)
			p.appendToSink(idx, c, res.data)
			return false

		case target := <-p.positionCh:
			cancel()
			c.Reset()
			p.handlePositionChange(target)
			return false

		case seconds := <-p.seekedCh:
			cancel()
			c.Reset()
			p.handleSeeked(seconds)
			return false

		case <-p.textCh:
			cancel()
			c.Reset()
			p.handleTextChanged()
			return false

		case <-p.pauseCh:
			cancel()
			c.Reset()
			p.doPause()
			return true

		case <-p.rateCh:
			// Speed changes do not interrupt a load.

		case <-p.ctx.Done():
			cancel()
			c.Reset()
			return true
		}
	}
}

// failChunk records a synthesis failure. A failure at the play head
// stops playback, pauses the sink, and surfaces the error via the chunk;
// the loop does not advance past it.
func (p *Player) failChunk(c *Chunk, idx int, err error) {
	c.SetFailed(err)

	p.mu.Lock()
	atHead := idx == p.position
	if atHead {
		p.playing = false
	}
	p.mu.Unlock()

	if atHead {
		if perr := p.sink.Pause(); perr != nil {
			log.Warn("failed to pause sink", "error", perr)
		}
		log.Error("synthesis failed at play head", "position", idx, "error", err)
	} else {
		log.Warn("synthesis failed ahead of play head", "position", idx, "error", err)
	}
}

// appendToSink appends loaded bytes to the sink media, decodes them for
// visualization, and records the chunk's cumulative offset.
func (p *Player) appendToSink(idx int, c *Chunk, data []byte) {
	p.mu.Lock()
	first := p.mediaCount == 0
	if first {
		p.mediaStart = idx
	}
	start := p.mediaStart
	p.mediaCount++
	p.mu.Unlock()

	var offset float64
	for i := start; i < idx; i++ {
		offset += p.track.Chunk(i).Duration()
	}

	var err error
	if first {
		err = p.sink.SwitchMedia(data)
	} else {
		err = p.sink.AppendMedia(data)
	}
	if err != nil {
		log.Warn("failed to append media", "position", idx, "error", err)
	}

	buf, derr := p.sink.DecodeAudio(data)
	if derr != nil {
		// Playback of the raw bytes is not blocked; only visualization
		// is skipped. Fall back to an estimated duration for timing.
		log.Warn("decode failed, skipping visualization", "position", idx, "error", derr)
		c.SetDuration(sentence.EstimateDuration(c.Text()).Seconds())
		c.SetAudioBuffer(nil, offset)
		return
	}
	c.SetAudioBuffer(buf, offset)
}

// waitEvent blocks until an interrupting event or the chunk-completion
// countdown resolves, handles it, and returns true when the loop must
// exit. Whichever event arrives first wins; the timer is dropped on every
// return so no wait survives into the next iteration.
func (p *Player) waitEvent() bool {
	p.mu.Lock()
	pos := p.position
	rateVal := p.rate
	p.mu.Unlock()

	var timer *time.Timer
	var timerC <-chan time.Time
	if cur := p.track.Chunk(pos); cur != nil && cur.State() == ChunkLoaded &&
		cur.Duration() > 0 && p.sink.IsPlaying() {
		through := cur.Offset() + cur.Duration()
		remaining := (through - p.sink.CurrentTime()) / rateVal
		if remaining <= 0 {
			return p.advance()
		}
		timer = time.NewTimer(time.Duration(remaining * float64(time.Second)))
		timerC = timer.C
		defer timer.Stop()
	}

	select {
	case <-p.ctx.Done():
		return true
	case <-timerC:
		return p.advance()
	case target := <-p.positionCh:
		p.handlePositionChange(target)
	case seconds := <-p.seekedCh:
		p.handleSeeked(seconds)
	case <-p.textCh:
		p.handleTextChanged()
	case <-p.pauseCh:
		p.doPause()
		return true
	case <-p.rateCh:
		// Re-arm the countdown with the new rate on the next iteration.
	}
	return false
}

// advance moves the play head past the finished chunk. Passing the last
// chunk ends playback and sets the position sentinel.
func (p *Player) advance() bool {
	p.mu.Lock()
	p.position++
	if p.position >= p.track.Len() {
		p.position = NoPosition
		p.playing = false
		p.mu.Unlock()
		if err := p.sink.Pause(); err != nil {
			log.Warn("failed to pause sink", "error", err)
		}
		log.Info("playback finished", "track", p.track.ID())
		return true
	}
	pos := p.position
	p.mu.Unlock()

	p.loader.ExpireBefore(pos)
	return false
}

// handlePositionChange reconciles an external position change. Targets
// inside the loaded contiguous range seek the sink clock directly;
// anything else hard-resets and debounces further changes so rapid
// navigation does not thrash.
func (p *Player) handlePositionChange(target int) {
	p.mu.Lock()
	inMedia := p.mediaCount > 0 && target >= p.mediaStart && target < p.mediaStart+p.mediaCount
	p.mu.Unlock()

	if inMedia {
		c := p.track.Chunk(target)
		p.sink.Seek(c.Offset())
		p.mu.Lock()
		p.position = target
		p.mu.Unlock()
		p.loader.ExpireBefore(target)
		log.Debug("seeked within loaded range", "position", target)
		return
	}

	// Outside the loaded range: hard reset, then absorb further position
	// changes until navigation settles.
	debounce := time.NewTimer(p.cfg.PositionDebounce)
	defer debounce.Stop()
drain:
	for {
		select {
		case next := <-p.positionCh:
			target = next
			debounce.Reset(p.cfg.PositionDebounce)
		case <-debounce.C:
			break drain
		case <-p.ctx.Done():
			return
		}
	}

	p.hardReset()
	p.mu.Lock()
	p.position = target
	p.mu.Unlock()
	p.loader.ExpireBefore(target)
	log.Debug("hard reset for position change", "position", target)
}

// handleSeeked recomputes the logical chunk index from the sink clock.
func (p *Player) handleSeeked(seconds float64) {
	p.mu.Lock()
	start, count := p.mediaStart, p.mediaCount
	p.mu.Unlock()
	if count == 0 {
		return
	}

	target := start + count - 1
	var cum float64
	for i := start; i < start+count; i++ {
		d := p.track.Chunk(i).Duration()
		if seconds < cum+d {
			target = i
			break
		}
		cum += d
	}

	p.mu.Lock()
	p.position = target
	p.mu.Unlock()
	p.loader.ExpireBefore(target)
	log.Debug("position recomputed from sink clock", "seconds", seconds, "position", target)
}

// handleTextChanged performs the full reset for an external edit of
// buffered text. Rebuffering from the current position re-synthesizes the
// affected chunks with their updated live text.
func (p *Player) handleTextChanged() {
	// Drop every queued request; the texts they were created from are
	// stale.
	p.loader.ExpireBefore(p.track.Len())
	p.hardReset()
	log.Debug("full reset after text change")
}

// hardReset clears the sink media and all chunk states.
func (p *Player) hardReset() {
	p.sink.ClearMedia()
	for _, c := range p.track.Chunks() {
		c.Reset()
	}
	p.mu.Lock()
	p.mediaStart = NoPosition
	p.mediaCount = 0
	p.mu.Unlock()
}

// doPause exits the loop without clearing buffered state.
func (p *Player) doPause() {
	if err := p.sink.Pause(); err != nil {
		log.Warn("failed to pause sink", "error", err)
	}
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
}
