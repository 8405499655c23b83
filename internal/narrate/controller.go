package narrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/jamborta/readaloud/internal/chapter"
	"github.com/jamborta/readaloud/internal/chunk"
	"github.com/jamborta/readaloud/internal/extract"
	"github.com/jamborta/readaloud/internal/logging"
	"github.com/jamborta/readaloud/internal/observe"
	"github.com/jamborta/readaloud/internal/render"
	"github.com/jamborta/readaloud/internal/speech"
	"github.com/jamborta/readaloud/internal/state"
)

// Options tune the controller. Zero fields take the defaults below.
type Options struct {
	BookID string
	Kind   state.Kind
	Params speech.Params

	// SettleDelay is waited before the first extraction when playback
	// starts without a page, and between refused page turns.
	SettleDelay time.Duration
	// RetryDelay is waited before the second extraction attempt on play.
	RetryDelay time.Duration
	// TurnAttempts is how many refused page turns stop playback.
	TurnAttempts int
	// MaxAdvanceFailures is how many consecutive unreadable pages stop
	// playback.
	MaxAdvanceFailures int
	// TurnTimeout bounds the wait for the extraction after a page turn.
	TurnTimeout time.Duration
	// SaveDelay debounces position saves after manual navigation.
	SaveDelay time.Duration
	// ClipCacheSize bounds the synthesized clip cache.
	ClipCacheSize int

	Log     logrus.FieldLogger
	Metrics *observe.Metrics
}

const (
	DefaultSettleDelay        = 300 * time.Millisecond
	DefaultRetryDelay         = time.Second
	DefaultTurnAttempts       = 3
	DefaultMaxAdvanceFailures = 10
	DefaultTurnTimeout        = 10 * time.Second
	DefaultSaveDelay          = 3 * time.Second
)

func (o Options) withDefaults() Options {
	if o.Kind == "" {
		o.Kind = state.KindEPUB
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.TurnAttempts <= 0 {
		o.TurnAttempts = DefaultTurnAttempts
	}
	if o.MaxAdvanceFailures <= 0 {
		o.MaxAdvanceFailures = DefaultMaxAdvanceFailures
	}
	if o.TurnTimeout <= 0 {
		o.TurnTimeout = DefaultTurnTimeout
	}
	if o.SaveDelay <= 0 {
		o.SaveDelay = DefaultSaveDelay
	}
	if o.ClipCacheSize <= 0 {
		o.ClipCacheSize = DefaultClipCacheSize
	}
	o.Params = o.Params.Clamped()
	o.Log = logging.Or(o.Log)
	o.Metrics = observe.Or(o.Metrics)
	return o
}

// Deps are the collaborators of a controller. Store, Fetcher, Generator and
// Positions may be nil.
type Deps struct {
	Engine    render.Engine
	Extractor *extract.Extractor
	Index     *chapter.Index
	Synth     speech.Synthesizer
	Store     speech.ChunkStore
	Fetcher   speech.AudioFetcher
	Generator *Generator
	Player    Player
	Positions PositionSaver
	Sink      Sink
}

type eventKind int

const (
	evPlay eventKind = iota
	evPause
	evToggle
	evClose
	evTurn
	evSetParams
	evSnapshot
	evRestored
	evRelocated
	evSettled
	evPageLoaded
	evPageTurned
	evClipReady
	evAudioEnded
	evGenerate
	evGenerated
)

type event struct {
	kind eventKind

	gen     uint64
	pageSeq uint64
	index   int

	forward  bool
	moved    bool
	page     *extract.Page
	clip     *Clip
	err      error
	params   speech.Params
	loc      render.Location
	pos      state.Position
	prior    State
	ctx      context.Context
	progress func(Progress)
	reply    chan error
	snap     chan PlaybackState
}

// Controller sequences narration. Create it with New, start Run on its own
// goroutine, then drive it with Play, Pause and friends.
type Controller struct {
	engine    render.Engine
	extractor *extract.Extractor
	index     *chapter.Index
	synth     speech.Synthesizer
	store     speech.ChunkStore
	fetcher   speech.AudioFetcher
	generator *Generator
	player    Player
	positions PositionSaver
	sink      Sink
	opts      Options
	log       logrus.FieldLogger

	clips      *clipCache
	lookups    *lookupCache
	synthGroup singleflight.Group
	saveMu     sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	events  chan event
	done    chan struct{}
	running atomic.Bool

	// Owned by the event loop.
	state        State
	ps           PlaybackState
	params       speech.Params
	page         *extract.Page
	gen          uint64
	pageSeq      uint64
	prepared     map[int]preparedClip
	preparing    map[int]bool
	resume       int
	turnFails    int
	advanceFails int
	settleSeq    uint64
	settleTimer  *time.Timer
}

// New wires a controller. Run must be called before it reacts to anything.
func New(deps Deps, opts Options) *Controller {
	opts = opts.withDefaults()
	sink := deps.Sink
	if sink == nil {
		sink = NopSink{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		engine:    deps.Engine,
		extractor: deps.Extractor,
		index:     deps.Index,
		synth:     deps.Synth,
		store:     deps.Store,
		fetcher:   deps.Fetcher,
		generator: deps.Generator,
		player:    deps.Player,
		positions: deps.Positions,
		sink:      sink,
		opts:      opts,
		log:       opts.Log.WithField("book", opts.BookID),
		clips:     newClipCache(opts.ClipCacheSize),
		lookups:   newLookupCache(deps.Store),
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan event, 64),
		done:      make(chan struct{}),
		params:    opts.Params,
		prepared:  make(map[int]preparedClip),
		preparing: make(map[int]bool),
		resume:    -1,
	}
	c.extractor.OnChapterChange(func(prev, next int) {
		c.lookups.Invalidate()
	})
	return c
}

// Run processes events until ctx is done or Close is called.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("narrate: controller already running")
	}
	stopWatch := c.extractor.Watch(c.ctx)
	stopRelocated := c.engine.OnRelocated(func(loc render.Location) {
		c.post(event{kind: evRelocated, loc: loc})
	})
	defer func() {
		stopRelocated()
		stopWatch()
		if c.settleTimer != nil {
			c.settleTimer.Stop()
		}
		c.cancel()
		close(c.done)
	}()

	for {
		select {
		case <-ctx.Done():
			c.stopPlayback()
			c.setState(Idle)
			return ctx.Err()
		case ev := <-c.events:
			if c.handle(ev) {
				return nil
			}
		}
	}
}

// Done is closed when Run has returned.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) send(ctx context.Context, ev event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// Play starts or resumes narration from the current page.
func (c *Controller) Play() { c.post(event{kind: evPlay}) }

// Pause stops narration and saves the position.
func (c *Controller) Pause() { c.post(event{kind: evPause}) }

// Toggle plays when stopped and pauses when playing.
func (c *Controller) Toggle() { c.post(event{kind: evToggle}) }

// Turn moves one page forward or back. Narration is paused first.
func (c *Controller) Turn(forward bool) { c.post(event{kind: evTurn, forward: forward}) }

// SetParams changes the voice used for clips that are not prepared yet.
func (c *Controller) SetParams(p speech.Params) { c.post(event{kind: evSetParams, params: p}) }

// Snapshot returns the current playback state.
func (c *Controller) Snapshot(ctx context.Context) (PlaybackState, error) {
	ch := make(chan PlaybackState, 1)
	if err := c.send(ctx, event{kind: evSnapshot, snap: ch}); err != nil {
		return PlaybackState{}, err
	}
	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return PlaybackState{}, ctx.Err()
	case <-c.done:
		return PlaybackState{}, ErrClosed
	}
}

// Close stops playback, saves the position and ends Run.
func (c *Controller) Close(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, event{kind: evClose, ctx: ctx, reply: reply}); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil
		}
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return nil
	}
}

// Restore shows the page holding pos and makes playback resume at its chunk.
func (c *Controller) Restore(ctx context.Context, pos state.Position) error {
	if pos.Kind == state.KindPDF {
		c.log.WithField("paragraph", pos.ParagraphIndex).Info("ignoring paragraph position for paginated book")
		return nil
	}
	seq, err := c.index.Load(ctx, pos.ChapterIndex)
	if err != nil {
		return fmt.Errorf("restore position: %w", err)
	}
	m := render.Marker{Chapter: pos.ChapterIndex}
	if ch, ok := seq.Chunk(pos.ChapterChunkIndex); ok {
		if loc, ok := c.engine.(render.Locator); ok {
			if found, ok := loc.Locate(pos.ChapterIndex, ch.Text); ok {
				m = found
			} else {
				c.log.WithField("chunk", pos.ChapterChunkIndex).Debug("restored chunk not located, showing chapter start")
			}
		}
	}
	if err := c.engine.Display(ctx, m); err != nil {
		return fmt.Errorf("display restored position: %w", err)
	}
	return c.send(ctx, event{kind: evRestored, pos: pos})
}

// GenerateChapterAudio asks the backend to pre-generate audio for every
// chunk of the current chapter. It blocks until done and is only allowed
// while narration is stopped.
func (c *Controller) GenerateChapterAudio(ctx context.Context, progress func(Progress)) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, event{kind: evGenerate, ctx: ctx, progress: progress, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func (c *Controller) handle(ev event) (exit bool) {
	switch ev.kind {
	case evPlay:
		c.play()
	case evPause:
		c.pause()
	case evToggle:
		if c.active() {
			c.pause()
		} else {
			c.play()
		}
	case evClose:
		c.stopPlayback()
		c.setState(Idle)
		ev.reply <- c.save(ev.ctx, c.position())
		return true
	case evTurn:
		c.turn(ev.forward)
	case evSetParams:
		c.params = ev.params.Clamped()
		c.prepared = make(map[int]preparedClip)
	case evSnapshot:
		ev.snap <- c.snapshot()
	case evRestored:
		c.settleSeq++
		c.page = nil
		c.pageSeq++
		c.ps.ChapterIndex = ev.pos.ChapterIndex
		c.ps.ChapterChunkIndex = ev.pos.ChapterChunkIndex
		c.ps.ParagraphIndex = 0
		c.ps.Paragraphs = nil
		c.resume = ev.pos.ChapterChunkIndex
	case evRelocated:
		c.relocated(ev.loc)
	case evSettled:
		c.settled(ev.gen)
	case evPageLoaded:
		c.pageLoaded(ev)
	case evPageTurned:
		c.pageTurned(ev)
	case evClipReady:
		c.clipReady(ev)
	case evAudioEnded:
		c.audioEnded(ev)
	case evGenerate:
		c.generate(ev)
	case evGenerated:
		c.setState(ev.prior)
		c.lookups.Invalidate()
		ev.reply <- ev.err
	}
	return false
}

func (c *Controller) active() bool {
	switch c.state {
	case Playing, AwaitingAudio, AwaitingPageTurn:
		return true
	}
	return false
}

func (c *Controller) setState(s State) {
	if s == c.state {
		return
	}
	c.log.WithFields(logrus.Fields{"from": c.state, "to": s}).Debug("state")
	c.state = s
	c.ps.State = s
	c.sink.StateChanged(s)
}

func (c *Controller) snapshot() PlaybackState {
	s := c.ps
	s.State = c.state
	return s
}

func (c *Controller) play() {
	switch c.state {
	case Idle, Paused:
	case GeneratingChapterAudio:
		c.sink.Notify(ErrBusy)
		return
	default:
		return
	}
	c.ps.Playing = true
	c.setState(AwaitingAudio)
	if !c.page.Empty() {
		c.startChunk(c.resumeIndex())
		return
	}

	gen := c.gen
	go func() {
		page, err := c.firstPage(c.ctx)
		c.post(event{kind: evPageLoaded, gen: gen, page: page, err: err})
	}()
}

// firstPage extracts the visible page for a fresh start. The engine may
// still be settling, so extraction runs after a delay and once more after a
// longer one when it comes back empty.
func (c *Controller) firstPage(ctx context.Context) (*extract.Page, error) {
	if e := c.extractor.Latest(); e != nil {
		select {
		case <-e.Done():
			page, err := e.Result()
			if err == nil && !page.Empty() && page.Location.Same(c.engine.CurrentLocation()) {
				return page, nil
			}
		default:
		}
	}
	for _, d := range []time.Duration{c.opts.SettleDelay, c.opts.RetryDelay} {
		if err := sleepCtx(ctx, d); err != nil {
			return nil, err
		}
		page, err := c.extractor.Extract(ctx)
		if err != nil {
			return nil, err
		}
		if !page.Empty() {
			return page, nil
		}
	}
	return nil, nil
}

func (c *Controller) pageLoaded(ev event) {
	if ev.gen != c.gen || c.state != AwaitingAudio {
		return
	}
	switch {
	case ev.err != nil:
		c.fail(fmt.Errorf("read page: %w", ev.err))
	case ev.page.Empty():
		c.fail(ErrNoText)
	default:
		c.setPage(ev.page)
		c.startChunk(c.resumeIndex())
	}
}

func (c *Controller) setPage(page *extract.Page) {
	c.page = page
	c.pageSeq++
	c.prepared = make(map[int]preparedClip)
	c.preparing = make(map[int]bool)
	c.ps.Paragraphs = page.Chunks
	c.ps.ChapterIndex = page.Location.Chapter
}

// resumeIndex picks the page chunk to start from: the restored chunk when
// one is pending for this chapter, else where playback paused.
func (c *Controller) resumeIndex() int {
	if c.resume >= 0 && c.page.Location.Chapter == c.ps.ChapterIndex {
		target := c.resume
		c.resume = -1
		for i, k := range c.page.Canonical {
			if k >= target {
				return i
			}
		}
		return 0
	}
	c.resume = -1
	if c.ps.ParagraphIndex < len(c.page.Chunks) {
		return c.ps.ParagraphIndex
	}
	return 0
}

func (c *Controller) startChunk(i int) {
	c.ps.ParagraphIndex = i
	if k := c.page.Canonical[i]; k >= 0 {
		c.ps.ChapterChunkIndex = k
	}
	c.sink.Highlight(c.page, i)

	if p, ok := c.prepared[i]; ok {
		delete(c.prepared, i)
		if p.err != nil {
			c.fail(p.err)
			return
		}
		c.playClip(i, p.clip)
	} else {
		c.setState(AwaitingAudio)
		c.fetch(i)
	}
	if i+1 < len(c.page.Chunks) {
		if _, ok := c.prepared[i+1]; !ok {
			c.fetch(i + 1)
		}
	}
}

// fetch resolves the clip for page chunk i in the background.
func (c *Controller) fetch(i int) {
	if c.preparing[i] {
		return
	}
	c.preparing[i] = true
	gen, seq, page, params := c.gen, c.pageSeq, c.page, c.params
	go func() {
		clip, err := c.resolve(c.ctx, page, i, params)
		c.post(event{kind: evClipReady, gen: gen, pageSeq: seq, index: i, clip: clip, err: err})
	}()
}

// resolve prefers stored audio, then the clip cache, then synthesis. Stored
// audio is only used when the page chunk is exactly its canonical chunk.
func (c *Controller) resolve(ctx context.Context, page *extract.Page, i int, p speech.Params) (*Clip, error) {
	text := page.Chunks[i].Text
	exact := i < len(page.Exact) && page.Exact[i]
	if k := page.Canonical[i]; k >= 0 && exact && c.store != nil && c.fetcher != nil {
		ref := speech.ChunkRef{BookID: c.opts.BookID, Chapter: page.Location.Chapter, Chunk: k}
		u, err := c.lookups.URL(ctx, ref)
		switch {
		case err == nil:
			data, err := c.fetcher.FetchAudio(ctx, u)
			if err == nil {
				return &Clip{Data: data, Source: SourceStored, URL: u}, nil
			}
			if errors.Is(err, speech.ErrUnauthorized) {
				return nil, err
			}
			c.log.WithError(err).WithField("chunk", ref.String()).Warn("stored audio unavailable, synthesizing")
		case errors.Is(err, speech.ErrUnauthorized):
			return nil, err
		case !errors.Is(err, speech.ErrNotFound):
			c.log.WithError(err).WithField("chunk", ref.String()).Warn("audio lookup failed, synthesizing")
		}
	}

	key := p.Key() + "|" + chunk.Prefix(text)
	if data, ok := c.clips.Get(key); ok {
		return &Clip{Data: data, Source: SourceCache}, nil
	}
	v, err, _ := c.synthGroup.Do(key, func() (any, error) {
		audio, err := c.synth.Synthesize(ctx, text, p)
		if err != nil {
			return nil, err
		}
		c.clips.Put(key, audio.Content)
		return audio.Content, nil
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	return &Clip{Data: v.([]byte), Source: SourceSynthesized}, nil
}

func (c *Controller) clipReady(ev event) {
	if ev.gen != c.gen || ev.pageSeq != c.pageSeq {
		return
	}
	delete(c.preparing, ev.index)
	current := ev.index == c.ps.ParagraphIndex && c.state == AwaitingAudio
	if ev.err != nil {
		if current {
			c.fail(ev.err)
			return
		}
		// Reported when the chunk comes up, not requested again.
		c.log.WithError(ev.err).WithField("index", ev.index).Debug("prefetch failed")
		c.prepared[ev.index] = preparedClip{err: ev.err}
		return
	}
	if current {
		c.playClip(ev.index, ev.clip)
		return
	}
	c.prepared[ev.index] = preparedClip{clip: ev.clip}
}

func (c *Controller) playClip(i int, clip *Clip) {
	c.ps.Audio = clip
	c.setState(Playing)
	c.opts.Metrics.RecordChunkPlayed(c.ctx, clip.Source)
	gen, seq := c.gen, c.pageSeq
	err := c.player.Play(clip.Data, func() {
		c.post(event{kind: evAudioEnded, gen: gen, pageSeq: seq, index: i})
	})
	if err != nil {
		c.fail(fmt.Errorf("play audio: %w", err))
	}
}

func (c *Controller) audioEnded(ev event) {
	if ev.gen != c.gen || ev.pageSeq != c.pageSeq || ev.index != c.ps.ParagraphIndex || c.state != Playing {
		return
	}
	if next := ev.index + 1; next < len(c.page.Chunks) {
		c.startChunk(next)
		return
	}
	c.turnPage(0)
}

// turnPage advances the engine and waits for the new page's extraction.
func (c *Controller) turnPage(delay time.Duration) {
	c.setState(AwaitingPageTurn)
	gen := c.gen
	go func() {
		if err := sleepCtx(c.ctx, delay); err != nil {
			return
		}
		prev := c.extractor.Latest()
		ev := event{kind: evPageTurned, gen: gen}
		ev.moved = c.engine.Next(c.ctx)
		if ev.moved {
			ctx, cancel := context.WithTimeout(c.ctx, c.opts.TurnTimeout)
			e, err := c.extractor.WaitNewer(ctx, prev)
			cancel()
			if err != nil {
				ev.err = err
			} else {
				ev.page, ev.err = e.Result()
			}
		}
		c.post(ev)
	}()
}

func (c *Controller) pageTurned(ev event) {
	if ev.gen != c.gen || c.state != AwaitingPageTurn {
		return
	}
	if !ev.moved {
		c.turnFails++
		if c.turnFails >= c.opts.TurnAttempts {
			c.fail(ErrCannotAdvance)
			return
		}
		c.turnPage(c.opts.SettleDelay)
		return
	}
	c.turnFails = 0

	if ev.err != nil || ev.page == nil || !ev.page.Resolved {
		c.advanceFails++
		c.log.WithError(ev.err).WithField("failures", c.advanceFails).Warn("page after turn could not be read")
		if c.advanceFails >= c.opts.MaxAdvanceFailures {
			c.fail(ErrAdvanceExhausted)
			return
		}
		c.turnPage(0)
		return
	}
	if ev.page.Empty() {
		c.fail(ErrBlankPage)
		return
	}
	c.advanceFails = 0
	c.setPage(ev.page)
	c.startChunk(0)
}

func (c *Controller) pause() {
	if !c.active() {
		return
	}
	c.stopPlayback()
	c.setState(Paused)
	c.opts.Metrics.RecordStop(c.ctx, "pause")
	c.saveAsync(c.position())
}

// fail stops playback and tells the user why.
func (c *Controller) fail(err error) {
	if errors.Is(err, speech.ErrUnauthorized) {
		err = fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	c.log.WithError(err).Warn("narration stopped")
	c.stopPlayback()
	c.setState(Paused)
	c.opts.Metrics.RecordStop(c.ctx, stopReason(err))
	c.sink.Notify(err)
	c.saveAsync(c.position())
}

func stopReason(err error) string {
	switch {
	case errors.Is(err, ErrCannotAdvance):
		return "end"
	case errors.Is(err, ErrBlankPage):
		return "blank_page"
	case errors.Is(err, ErrAdvanceExhausted):
		return "unreadable"
	case errors.Is(err, ErrNoText):
		return "no_text"
	case errors.Is(err, ErrSessionExpired):
		return "unauthorized"
	}
	return "error"
}

// stopPlayback silences audio and invalidates every pending async result.
func (c *Controller) stopPlayback() {
	c.gen++
	c.player.Stop()
	c.ps.Playing = false
	c.ps.Audio = nil
	c.turnFails = 0
	c.advanceFails = 0
	c.prepared = make(map[int]preparedClip)
	c.preparing = make(map[int]bool)
}

func (c *Controller) turn(forward bool) {
	if c.active() {
		c.pause()
	}
	go func() {
		if forward {
			c.engine.Next(c.ctx)
		} else {
			c.engine.Prev(c.ctx)
		}
	}()
}

// relocated handles page changes made while narration is stopped.
func (c *Controller) relocated(loc render.Location) {
	if c.active() {
		return
	}
	if c.page != nil && c.page.Location.Same(loc) {
		return
	}
	c.page = nil
	c.pageSeq++
	c.resume = -1
	c.ps.Paragraphs = nil
	c.ps.ParagraphIndex = 0
	c.ps.ChapterIndex = loc.Chapter
	c.ps.ChapterChunkIndex = 0

	c.settleSeq++
	seq := c.settleSeq
	if c.settleTimer != nil {
		c.settleTimer.Stop()
	}
	c.settleTimer = time.AfterFunc(c.opts.SaveDelay, func() {
		c.post(event{kind: evSettled, gen: seq})
	})
}

// settled saves the position of the page the reader stopped on.
func (c *Controller) settled(seq uint64) {
	if seq != c.settleSeq || c.active() {
		return
	}
	e := c.extractor.Latest()
	pos := c.position()
	go func() {
		if e != nil {
			if page, err := e.Wait(c.ctx); err == nil && page != nil {
				pos.ChapterIndex = page.Location.Chapter
				pos.ChapterChunkIndex = 0
				if len(page.Canonical) > 0 && page.Canonical[0] >= 0 {
					pos.ChapterChunkIndex = page.Canonical[0]
				}
			}
		}
		c.save(c.ctx, pos)
	}()
}

func (c *Controller) generate(ev event) {
	if c.state != Idle && c.state != Paused {
		ev.reply <- ErrBusy
		return
	}
	if c.generator == nil {
		ev.reply <- errors.New("chapter audio generation is not available")
		return
	}
	prior := c.state
	c.setState(GeneratingChapterAudio)
	ch := c.engine.CurrentLocation().Chapter
	params := c.params
	go func() {
		err := c.generator.Generate(ev.ctx, c.opts.BookID, ch, params, ev.progress)
		c.post(event{kind: evGenerated, err: err, prior: prior, reply: ev.reply})
	}()
}

func (c *Controller) position() state.Position {
	chunkIndex := c.ps.ChapterChunkIndex
	if chunkIndex < 0 {
		chunkIndex = 0
	}
	return state.Position{
		Kind:              c.opts.Kind,
		BookID:            c.opts.BookID,
		ChapterIndex:      c.ps.ChapterIndex,
		ChapterChunkIndex: chunkIndex,
		ParagraphIndex:    c.ps.ParagraphIndex,
		TotalParagraphs:   len(c.ps.Paragraphs),
		LastModifiedAt:    time.Now().UTC(),
	}
}

func (c *Controller) saveAsync(pos state.Position) {
	go c.save(c.ctx, pos)
}

func (c *Controller) save(ctx context.Context, pos state.Position) error {
	if c.positions == nil || c.opts.BookID == "" {
		return nil
	}
	if ctx == nil {
		ctx = c.ctx
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	err := c.positions.Save(ctx, pos)
	if err != nil {
		c.log.WithError(err).Warn("saving position failed")
	}
	return err
}
