package narrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jamborta/readaloud/internal/chapter"
	"github.com/jamborta/readaloud/internal/logging"
	"github.com/jamborta/readaloud/internal/observe"
	"github.com/jamborta/readaloud/internal/speech"
)

// Progress reports how far chapter audio generation has come.
type Progress struct {
	Done  int
	Total int
}

// Fraction returns Done/Total in [0, 1].
func (p Progress) Fraction() float64 {
	if p.Total == 0 {
		return 1
	}
	return float64(p.Done) / float64(p.Total)
}

// GenerateOptions tune bulk generation.
type GenerateOptions struct {
	// Delay is the pause between consecutive requests.
	Delay time.Duration
	// BackoffBase is the first wait after a throttled request; each retry
	// doubles it up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// MaxRetries bounds retries of one throttled chunk.
	MaxRetries int
}

// DefaultGenerateOptions are used for zero fields.
var DefaultGenerateOptions = GenerateOptions{
	Delay:       500 * time.Millisecond,
	BackoffBase: 2 * time.Second,
	BackoffMax:  30 * time.Second,
	MaxRetries:  5,
}

func (o GenerateOptions) withDefaults() GenerateOptions {
	d := DefaultGenerateOptions
	if o.Delay <= 0 {
		o.Delay = d.Delay
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = d.BackoffBase
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = d.BackoffMax
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	return o
}

// Generator requests durable audio for every canonical chunk of a chapter.
type Generator struct {
	index   *chapter.Index
	store   speech.ChunkStore
	opts    GenerateOptions
	log     logrus.FieldLogger
	metrics *observe.Metrics

	sleep func(ctx context.Context, d time.Duration) error
}

// NewGenerator returns a generator reading canonical chunks from index.
func NewGenerator(index *chapter.Index, store speech.ChunkStore, opts GenerateOptions, log logrus.FieldLogger, metrics *observe.Metrics) *Generator {
	return &Generator{
		index:   index,
		store:   store,
		opts:    opts.withDefaults(),
		log:     logging.Or(log),
		metrics: observe.Or(metrics),
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Generate walks the chapter's canonical chunks in order. Chunks that
// already have audio are skipped. progress, if set, is called after every
// chunk.
func (g *Generator) Generate(ctx context.Context, bookID string, ch int, p speech.Params, progress func(Progress)) error {
	if g.store == nil {
		return errors.New("no audio backend configured")
	}
	seq, err := g.index.Load(ctx, ch)
	if err != nil {
		return err
	}

	total := seq.Len()
	log := g.log.WithFields(logrus.Fields{"book": bookID, "chapter": ch, "chunks": total})
	log.Info("generating chapter audio")

	requested := false
	for i, c := range seq.Chunks {
		ref := speech.ChunkRef{BookID: bookID, Chapter: ch, Chunk: i}
		if _, err := g.store.ChunkAudio(ctx, ref); err == nil {
			g.report(progress, i+1, total)
			continue
		} else if errors.Is(err, speech.ErrUnauthorized) {
			return err
		}

		if requested {
			if err := g.sleep(ctx, g.opts.Delay); err != nil {
				return err
			}
		}
		requested = true
		if err := g.generateOne(ctx, ref, c.Text, p); err != nil {
			log.WithError(err).WithField("chunk", i).Error("chapter audio generation failed")
			return err
		}
		g.report(progress, i+1, total)
	}
	log.Info("chapter audio generated")
	return nil
}

func (g *Generator) generateOne(ctx context.Context, ref speech.ChunkRef, text string, p speech.Params) error {
	backoff := g.opts.BackoffBase
	for attempt := 0; ; attempt++ {
		_, err := g.store.GenerateChunkAudio(ctx, ref, text, p)
		switch {
		case err == nil:
			g.metrics.RecordGenerated(ctx, "ok")
			return nil
		case !errors.Is(err, speech.ErrThrottled):
			g.metrics.RecordGenerated(ctx, "error")
			return fmt.Errorf("chunk %d: %w", ref.Chunk, err)
		case attempt >= g.opts.MaxRetries:
			g.metrics.RecordGenerated(ctx, "throttled")
			return fmt.Errorf("chunk %d: gave up after %d retries: %w", ref.Chunk, attempt, err)
		}
		g.metrics.RecordGenerated(ctx, "throttled")
		g.log.WithFields(logrus.Fields{
			"chunk":   ref.Chunk,
			"attempt": attempt + 1,
			"backoff": backoff,
		}).Warn("throttled, backing off")
		if err := g.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > g.opts.BackoffMax {
			backoff = g.opts.BackoffMax
		}
	}
}

func (g *Generator) report(progress func(Progress), done, total int) {
	if progress != nil {
		progress(Progress{Done: done, Total: total})
	}
}
