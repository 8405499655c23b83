// Package extract reads exactly the text visible on the current page of a
// rendering engine and cuts it into chunks.
//
// Right after a page change the engine may report a location it cannot
// resolve yet. The extractor re-reads the location on every attempt and
// gives up after a bounded number of attempts, reporting an unresolved page
// rather than an error.
package extract

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"github.com/jamborta/readaloud/internal/chapter"
	"github.com/jamborta/readaloud/internal/chunk"
	"github.com/jamborta/readaloud/internal/logging"
	"github.com/jamborta/readaloud/internal/observe"
	"github.com/jamborta/readaloud/internal/render"
)

const (
	// DefaultAttempts is how many times a range is resolved before giving up.
	DefaultAttempts = 10
	// DefaultInterval is the wait between resolution attempts.
	DefaultInterval = 100 * time.Millisecond
)

// Page is the narratable content of one visible page.
type Page struct {
	Location render.Location
	Chunks   []chunk.Chunk
	// Canonical holds the canonical chapter index of each chunk, or -1 when
	// the chapter sequence is empty.
	Canonical []int
	// Exact reports, per chunk, whether its text equals its canonical
	// chunk. Paragraphs are cut one by one on a page but the chapter is cut
	// as a whole, so a canonical chunk may span several page chunks.
	Exact []bool
	// Resolved is false when the visible range never resolved.
	Resolved bool
}

// Empty reports whether the page has nothing to narrate.
func (p *Page) Empty() bool {
	return p == nil || len(p.Chunks) == 0
}

// Options tune the extractor.
type Options struct {
	Attempts int
	Interval time.Duration
	Cutter   chunk.Cutter
	Log      logrus.FieldLogger
	Metrics  *observe.Metrics
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Cutter.Max == 0 {
		o.Cutter = chunk.Default
	}
	o.Log = logging.Or(o.Log)
	o.Metrics = observe.Or(o.Metrics)
	return o
}

// Extractor extracts visible page text from an engine.
type Extractor struct {
	engine render.Engine
	index  *chapter.Index
	opts   Options

	mu          sync.Mutex
	lastChapter int
	hooks       []func(prev, next int)
	latest      *Extraction
	changed     chan struct{}
}

// New returns an extractor for engine. index is rebuilt whenever the
// extracted chapter changes.
func New(engine render.Engine, index *chapter.Index, opts Options) *Extractor {
	return &Extractor{
		engine:      engine,
		index:       index,
		opts:        opts.withDefaults(),
		lastChapter: -1,
		changed:     make(chan struct{}),
	}
}

// OnChapterChange registers fn to run when an extraction lands in a
// different chapter than the previous one. prev is -1 for the first
// extraction.
func (x *Extractor) OnChapterChange(fn func(prev, next int)) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.hooks = append(x.hooks, fn)
}

// Watch starts an extraction after every relocation reported by the
// engine. The returned function stops watching.
func (x *Extractor) Watch(ctx context.Context) (stop func()) {
	return x.engine.OnRelocated(func(render.Location) {
		x.Start(ctx)
	})
}

// Extract resolves the visible range and returns its chunks. An unresolved
// range yields a Page with Resolved false and a nil error.
func (x *Extractor) Extract(ctx context.Context) (*Page, error) {
	start := time.Now()
	for attempt := 1; attempt <= x.opts.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(x.opts.Interval):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		loc := x.engine.CurrentLocation()
		rng := x.engine.ResolveRange(render.SpanRange(loc.Start, loc.End))
		if rng == nil {
			continue
		}

		page := &Page{Location: loc, Chunks: x.collect(rng), Resolved: true}
		x.opts.Metrics.RecordExtraction(ctx, time.Since(start), attempt, true)
		if err := x.enterChapter(ctx, loc.Chapter); err != nil {
			return nil, err
		}
		if err := x.mapCanonical(ctx, page); err != nil {
			return nil, err
		}
		return page, nil
	}

	loc := x.engine.CurrentLocation()
	x.opts.Metrics.RecordExtraction(ctx, time.Since(start), x.opts.Attempts, false)
	x.opts.Log.WithFields(logrus.Fields{
		"chapter":  loc.Chapter,
		"attempts": x.opts.Attempts,
	}).Warn("visible range did not resolve")
	return &Page{Location: loc}, nil
}

// collect walks the resolved range depth-first and cuts every text block
// inside it. Text outside the range boundaries is trimmed off.
func (x *Extractor) collect(rng *render.Range) []chunk.Chunk {
	blocks := render.TextBlocks(rng.Root)
	startNode, endNode := rng.Start.Node, rng.End.Node
	startLeaf := startNode.Type == html.TextNode
	endLeaf := endNode.Type == html.TextNode

	var (
		out     []chunk.Chunk
		inRange = !startLeaf
		done    bool
	)
	for _, b := range blocks {
		var text []rune
		for _, n := range b.Leaves {
			if n == startNode {
				inRange = true
			}
			if !inRange {
				continue
			}
			runes := []rune(n.Data)
			from, to := 0, len(runes)
			if n == startNode {
				from = clamp(rng.Start.Offset, 0, len(runes))
			}
			if n == endNode {
				to = clamp(rng.End.Offset, from, len(runes))
			}
			text = append(text, runes[from:to]...)
			if endLeaf && n == endNode {
				done = true
				break
			}
		}
		out = append(out, x.cutBlock(string(text))...)
		if done {
			break
		}
	}
	return out
}

func (x *Extractor) cutBlock(text string) []chunk.Chunk {
	normalized := chunk.Normalize(text)
	if utf8.RuneCountInString(normalized) < x.opts.Cutter.Min {
		return nil
	}
	return x.opts.Cutter.Cut(normalized)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// enterChapter fires the chapter change hooks and rebuilds the chapter
// index when chapter differs from the last extracted one.
func (x *Extractor) enterChapter(ctx context.Context, ch int) error {
	x.mu.Lock()
	prev := x.lastChapter
	x.lastChapter = ch
	hooks := append([]func(int, int){}, x.hooks...)
	x.mu.Unlock()

	if prev == ch {
		return nil
	}
	x.opts.Log.WithFields(logrus.Fields{"from": prev, "to": ch}).Debug("chapter changed")
	for _, fn := range hooks {
		fn(prev, ch)
	}
	x.index.Invalidate()
	_, err := x.index.Load(ctx, ch)
	return err
}

func (x *Extractor) mapCanonical(ctx context.Context, page *Page) error {
	seq, err := x.index.Load(ctx, page.Location.Chapter)
	if err != nil {
		return err
	}
	page.Canonical = make([]int, len(page.Chunks))
	page.Exact = make([]bool, len(page.Chunks))
	next := 0
	for i, c := range page.Chunks {
		idx, ok := seq.Match(c, next)
		if !ok {
			x.opts.Log.WithFields(logrus.Fields{
				"chapter":  page.Location.Chapter,
				"fallback": idx,
			}).Debug("page chunk not found in chapter sequence")
		}
		page.Canonical[i] = idx
		page.Exact[i] = ok && seq.Identical(idx, c)
		if idx >= 0 {
			next = idx + 1
		}
	}
	return nil
}

// Extraction is one asynchronous extraction with its own completion signal.
type Extraction struct {
	done chan struct{}
	page *Page
	err  error
}

// Done is closed when the extraction has finished.
func (e *Extraction) Done() <-chan struct{} { return e.done }

// Result returns the outcome. It is only valid after Done is closed.
func (e *Extraction) Result() (*Page, error) { return e.page, e.err }

// Wait blocks until the extraction finishes or ctx is done.
func (e *Extraction) Wait(ctx context.Context) (*Page, error) {
	select {
	case <-e.done:
		return e.page, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start runs Extract in the background and makes it the latest extraction.
func (x *Extractor) Start(ctx context.Context) *Extraction {
	e := &Extraction{done: make(chan struct{})}

	x.mu.Lock()
	x.latest = e
	close(x.changed)
	x.changed = make(chan struct{})
	x.mu.Unlock()

	go func() {
		defer close(e.done)
		e.page, e.err = x.Extract(ctx)
	}()
	return e
}

// Latest returns the most recently started extraction, or nil.
func (x *Extractor) Latest() *Extraction {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.latest
}

// WaitNewer waits until an extraction other than prev has been started and
// has finished, and returns it. If yet another extraction starts while
// waiting, the newest one is waited for instead.
func (x *Extractor) WaitNewer(ctx context.Context, prev *Extraction) (*Extraction, error) {
	for {
		x.mu.Lock()
		cur, changed := x.latest, x.changed
		x.mu.Unlock()

		if cur == nil || cur == prev {
			select {
			case <-changed:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		select {
		case <-cur.done:
			if x.Latest() != cur {
				continue
			}
			return cur, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
