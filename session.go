package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jamborta/readaloud/internal/audio"
	"github.com/jamborta/readaloud/internal/chapter"
	"github.com/jamborta/readaloud/internal/chunk"
	"github.com/jamborta/readaloud/internal/config"
	"github.com/jamborta/readaloud/internal/extract"
	"github.com/jamborta/readaloud/internal/narrate"
	"github.com/jamborta/readaloud/internal/observe"
	"github.com/jamborta/readaloud/internal/position"
	"github.com/jamborta/readaloud/internal/position/httpstore"
	"github.com/jamborta/readaloud/internal/position/pgstore"
	"github.com/jamborta/readaloud/internal/reader"
	"github.com/jamborta/readaloud/internal/render"
	"github.com/jamborta/readaloud/internal/speech"
	"github.com/jamborta/readaloud/internal/state"
)

// Version info (injected via ldflags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// closeTimeout bounds the final position save on exit.
const closeTimeout = 5 * time.Second

// backend holds what every command shares: config, logs, local state and
// the speech backend client.
type backend struct {
	cfg     *config.Config
	log     *logrus.Logger
	store   *state.StateStore
	client  *speech.Client
	metrics *observe.Metrics

	closers []func()
}

func openBackend(cfg *config.Config, log *logrus.Logger) (*backend, error) {
	store, err := state.NewStateStore()
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	client, err := speech.NewClient(cfg.Backend.URL, cfg.Backend.Token, speech.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return &backend{cfg: cfg, log: log, store: store, client: client, metrics: observe.Discard()}, nil
}

// serveMetrics installs the prometheus-backed meter provider and serves it
// on metrics.addr until ctx is done. It does nothing when no address is set.
func (b *backend) serveMetrics(ctx context.Context) error {
	if b.cfg.Metrics.Addr == "" {
		return nil
	}
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	b.closers = append(b.closers, func() { _ = shutdown(context.Background()) })
	b.metrics = observe.DefaultMetrics()
	go func() {
		if err := observe.Serve(ctx, b.cfg.Metrics.Addr); err != nil {
			b.log.WithError(err).Error("metrics server stopped")
		}
	}()
	return nil
}

// synthesizer returns the configured on-demand synthesizer.
func (b *backend) synthesizer(ctx context.Context) (speech.Synthesizer, error) {
	var next speech.Synthesizer = b.client
	if b.cfg.TTS.Provider == config.ProviderGoogle {
		g, err := speech.NewGoogleSynthesizer(ctx)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = g.Close() })
		next = g
	}
	return speech.NewMetered(next, b.store, b.metrics, b.log), nil
}

// voices lists the voices of the configured provider.
func (b *backend) voices(ctx context.Context) ([]speech.Voice, error) {
	if b.cfg.TTS.Provider == config.ProviderGoogle {
		g, err := speech.NewGoogleSynthesizer(ctx)
		if err != nil {
			return nil, err
		}
		defer g.Close()
		return g.Voices(ctx)
	}
	return b.client.Voices(ctx)
}

// remote opens the configured remote position store, or returns nil.
func (b *backend) remote(ctx context.Context) (position.Store, error) {
	switch b.cfg.Remote.Kind {
	case config.RemoteHTTP:
		return httpstore.New(b.client), nil
	case config.RemotePostgres:
		s, err := pgstore.Open(ctx, b.cfg.Remote.PostgresDSN)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, s.Close)
		return s, nil
	}
	return nil, nil
}

// positions returns the reconciler over local state and the remote store.
// A remote store that cannot be opened is logged and left out.
func (b *backend) positions(ctx context.Context) *position.Reconciler {
	remote, err := b.remote(ctx)
	if err != nil {
		b.log.WithError(err).Warn("remote positions unavailable, keeping them locally only")
		remote = nil
	}
	return position.NewReconciler(position.NewLocal(b.store), remote, b.log, b.metrics)
}

// params returns the saved voice settings with config overrides applied.
func (b *backend) params() speech.Params {
	s := b.store.Settings()
	p := speech.Params{VoiceID: s.VoiceID, Speed: s.Speed, Pitch: s.Pitch}
	if b.cfg.TTS.Voice != "" {
		p.VoiceID = b.cfg.TTS.Voice
	}
	if b.cfg.TTS.Speed != 0 {
		p.Speed = b.cfg.TTS.Speed
	}
	if b.cfg.TTS.Pitch != 0 {
		p.Pitch = b.cfg.TTS.Pitch
	}
	return p.Clamped()
}

// generator returns a bulk chapter generator storing audio on the backend.
func (b *backend) generator(index *chapter.Index) *narrate.Generator {
	cfg := b.cfg.Generate
	return narrate.NewGenerator(index, b.client, narrate.GenerateOptions{
		Delay:       cfg.Delay,
		BackoffBase: cfg.BackoffBase,
		BackoffMax:  cfg.BackoffMax,
		MaxRetries:  cfg.MaxRetries,
	}, b.log.WithField("component", "generate"), b.metrics)
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// session is one open book wired to the narration controller.
type session struct {
	*backend

	doc       *reader.Document
	bookID    string
	engine    *render.Paginator
	index     *chapter.Index
	extractor *extract.Extractor
	generator *narrate.Generator
	player    *audio.Player
	recon     *position.Reconciler
	ctrl      *narrate.Controller
}

// openSession loads path and builds the narration stack around it. The
// controller is not running yet; call run.
func openSession(ctx context.Context, b *backend, path string, sink narrate.Sink) (*session, error) {
	doc, bookID, err := loadDocument(path)
	if err != nil {
		return nil, err
	}
	engine, err := render.NewPaginator(doc, b.cfg.View.PageChars)
	if err != nil {
		return nil, err
	}
	synth, err := b.synthesizer(ctx)
	if err != nil {
		return nil, fmt.Errorf("speech: %w", err)
	}

	cfg := b.cfg
	index := chapter.NewIndex(engine, chunk.Default)
	s := &session{
		backend: b,
		doc:     doc,
		bookID:  bookID,
		engine:  engine,
		index:   index,
		extractor: extract.New(engine, index, extract.Options{
			Attempts: cfg.Extract.Attempts,
			Interval: cfg.Extract.Interval,
			Log:      b.log.WithField("component", "extract"),
			Metrics:  b.metrics,
		}),
		generator: b.generator(index),
		player:    audio.NewPlayer(audio.DefaultSampleRate),
		recon:     b.positions(ctx),
	}
	b.closers = append(b.closers, s.player.Close)

	s.ctrl = narrate.New(narrate.Deps{
		Engine:    engine,
		Extractor: s.extractor,
		Index:     index,
		Synth:     synth,
		Store:     b.client,
		Fetcher:   b.client,
		Generator: s.generator,
		Player:    s.player,
		Positions: s.recon,
		Sink:      sink,
	}, narrate.Options{
		BookID:             bookID,
		Kind:               state.KindEPUB,
		Params:             b.params(),
		SettleDelay:        cfg.Narration.SettleDelay,
		RetryDelay:         cfg.Narration.RetryDelay,
		TurnAttempts:       cfg.Narration.TurnAttempts,
		MaxAdvanceFailures: cfg.Narration.MaxAdvanceFailures,
		TurnTimeout:        cfg.Narration.TurnTimeout,
		SaveDelay:          cfg.Position.SettleDelay,
		ClipCacheSize:      cfg.Cache.AudioClips,
		Log:                b.log.WithField("component", "narrate"),
		Metrics:            b.metrics,
	})
	return s, nil
}

// run starts the controller and restores the reconciled reading position
// unless fresh is set.
func (s *session) run(ctx context.Context, fresh bool) error {
	go func() {
		if err := s.ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.WithError(err).Error("narration stopped")
		}
	}()

	if fresh {
		return nil
	}
	pos, err := s.recon.Resolve(ctx, s.bookID)
	if err != nil {
		s.log.WithError(err).Warn("could not resolve reading position")
	}
	if pos == nil {
		return nil
	}
	if pos.ChapterIndex >= s.engine.ChapterCount() {
		s.log.WithField("chapter", pos.ChapterIndex).Warn("saved chapter is past the end of the book")
		return nil
	}
	return s.ctrl.Restore(ctx, *pos)
}

// chapterTitle returns a display title for chapter i.
func (s *session) chapterTitle(i int) string {
	if t := s.engine.ChapterTitle(i); t != "" {
		return t
	}
	return fmt.Sprintf("Chapter %d", i+1)
}

// loadDocument opens path, or reads plain text from stdin when path is
// empty, and returns the document with its book id.
func loadDocument(path string) (*reader.Document, string, error) {
	if path == "" {
		stat, _ := os.Stdin.Stat()
		if stat == nil || (stat.Mode()&os.ModeCharDevice) != 0 {
			return nil, "", errors.New("no input provided; provide a file or pipe text to stdin")
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, "", fmt.Errorf("reading stdin: %w", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return nil, "", errors.New("no text to read")
		}
		doc := reader.FromText(string(data))
		doc.Title = "stdin"
		return doc, state.HashBytes(data), nil
	}

	doc, err := reader.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file '%s': %w", path, err)
	}
	bookID, err := state.ComputeHash(path)
	if err != nil {
		return nil, "", fmt.Errorf("hash %s: %w", path, err)
	}
	return doc, bookID, nil
}

// notice turns a narration error into a one-line message.
func notice(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, narrate.ErrSessionExpired):
		return "Session expired. Sign in again to continue listening."
	case errors.Is(err, narrate.ErrCannotAdvance):
		return "Reached the end of the book."
	case errors.Is(err, narrate.ErrAdvanceExhausted):
		return "Could not read the following pages."
	case errors.Is(err, narrate.ErrBlankPage), errors.Is(err, narrate.ErrNoText):
		return "Nothing to read on this page."
	}
	return "Error: " + err.Error()
}
