package narrate

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jamborta/readaloud/internal/chapter"
	"github.com/jamborta/readaloud/internal/render"
	"github.com/jamborta/readaloud/internal/speech"
)

func newTestGenerator(t *testing.T, store *fakeStore, chapters ...[]string) (*Generator, *[]time.Duration) {
	t.Helper()
	p, err := render.NewPaginator(book(chapters...), 0)
	if err != nil {
		t.Fatalf("NewPaginator: %v", err)
	}
	g := NewGenerator(chapter.NewIndex(p, testCutter), store, GenerateOptions{}, nil, nil)
	var slept []time.Duration
	g.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return g, &slept
}

func TestGenerateBacksOffWhenThrottled(t *testing.T) {
	store := newFakeStore()
	store.throttle = 3
	g, slept := newTestGenerator(t, store, sentences(2))

	var progress []Progress
	err := g.Generate(context.Background(), "book-1", 0, speech.Params{Speed: 1}, func(p Progress) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 500 * time.Millisecond}
	if !reflect.DeepEqual(*slept, want) {
		t.Errorf("slept %v, want %v", *slept, want)
	}
	if len(store.generated) != 2 {
		t.Errorf("generated %v", store.generated)
	}
	if len(progress) != 2 || progress[1] != (Progress{Done: 2, Total: 2}) {
		t.Errorf("progress = %v", progress)
	}
}

func TestGenerateBackoffIsCapped(t *testing.T) {
	store := newFakeStore()
	store.throttle = 100
	g, slept := newTestGenerator(t, store, sentences(1))

	err := g.Generate(context.Background(), "book-1", 0, speech.Params{}, nil)
	if !errors.Is(err, speech.ErrThrottled) {
		t.Fatalf("expected ErrThrottled after retries, got %v", err)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second}
	if !reflect.DeepEqual(*slept, want) {
		t.Errorf("slept %v, want %v", *slept, want)
	}
	if store.throttle != 100-DefaultGenerateOptions.MaxRetries-1 {
		t.Errorf("made %d requests, want %d", 100-store.throttle, DefaultGenerateOptions.MaxRetries+1)
	}
}

func TestGenerateSkipsExistingAudio(t *testing.T) {
	store := newFakeStore()
	store.urls[speech.ChunkRef{BookID: "book-1", Chapter: 0, Chunk: 0}] = "/audio/0/0"
	g, slept := newTestGenerator(t, store, sentences(3))

	if err := g.Generate(context.Background(), "book-1", 0, speech.Params{}, nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []speech.ChunkRef{
		{BookID: "book-1", Chapter: 0, Chunk: 1},
		{BookID: "book-1", Chapter: 0, Chunk: 2},
	}
	if !reflect.DeepEqual(store.generated, want) {
		t.Errorf("generated %v, want %v", store.generated, want)
	}
	if len(*slept) != 1 {
		t.Errorf("delays %v, want one between the two requests", *slept)
	}
}

func TestGenerateStopsOnCancel(t *testing.T) {
	store := newFakeStore()
	g, _ := newTestGenerator(t, store, sentences(3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := g.Generate(ctx, "book-1", 0, speech.Params{}, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(store.generated) > 1 {
		t.Errorf("generated %d chunks after cancel", len(store.generated))
	}
}

func TestProgressFraction(t *testing.T) {
	if f := (Progress{Done: 1, Total: 4}).Fraction(); f != 0.25 {
		t.Errorf("Fraction = %v", f)
	}
	if f := (Progress{}).Fraction(); f != 1 {
		t.Errorf("empty chapter Fraction = %v, want 1", f)
	}
}
