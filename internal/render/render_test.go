package render

import (
	"context"
	"reflect"
	"testing"

	"github.com/jamborta/readaloud/internal/reader"
)

func testDocument() *reader.Document {
	return &reader.Document{
		Chapters: []reader.Chapter{
			{Title: "One", HTML: []byte(`<html><head><title>T</title><style>p{}</style></head><body><h1>Chapter One</h1><p>Alpha beta gamma.</p><p>Delta <b>epsilon</b> zeta.</p></body></html>`)},
			{Title: "Two", HTML: []byte(`<html><body><p>Second chapter text.</p></body></html>`)},
			{Title: "Empty", HTML: []byte(`<html><body><div> </div></body></html>`)},
		},
	}
}

func newTestPaginator(t *testing.T, pageChars int) *Paginator {
	t.Helper()
	p, err := NewPaginator(testDocument(), pageChars)
	if err != nil {
		t.Fatalf("NewPaginator: %v", err)
	}
	return p
}

func TestSpanRange(t *testing.T) {
	tests := []struct {
		name      string
		start     Marker
		end       Marker
		base      []int
		startTail []int
		endTail   []int
	}{
		{
			name:  "same node",
			start: Marker{Path: []int{1, 0}, Offset: 2},
			end:   Marker{Path: []int{1, 0}, Offset: 9},
			base:  []int{1, 0},
		},
		{
			name:      "shared parent",
			start:     Marker{Path: []int{2, 0}},
			end:       Marker{Path: []int{2, 2}, Offset: 6},
			base:      []int{2},
			startTail: []int{0},
			endTail:   []int{2},
		},
		{
			name:      "no common prefix",
			start:     Marker{Path: []int{0, 0}},
			end:       Marker{Path: []int{2, 1, 0}},
			startTail: []int{0, 0},
			endTail:   []int{2, 1, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := SpanRange(tt.start, tt.end)
			if !equalPath(ref.Base, tt.base) {
				t.Errorf("Base = %v, want %v", ref.Base, tt.base)
			}
			if !equalPath(ref.StartTail, tt.startTail) {
				t.Errorf("StartTail = %v, want %v", ref.StartTail, tt.startTail)
			}
			if !equalPath(ref.EndTail, tt.endTail) {
				t.Errorf("EndTail = %v, want %v", ref.EndTail, tt.endTail)
			}
			if !reflect.DeepEqual(ref.StartPath(), tt.start.Path) || !reflect.DeepEqual(ref.EndPath(), tt.end.Path) {
				t.Errorf("paths do not round-trip: %v %v", ref.StartPath(), ref.EndPath())
			}
			if ref.StartOffset != tt.start.Offset || ref.EndOffset != tt.end.Offset {
				t.Errorf("offsets not carried over: %d %d", ref.StartOffset, ref.EndOffset)
			}
		})
	}
}

func equalPath(a, b []int) bool {
	return len(a) == len(b) && (len(a) == 0 || reflect.DeepEqual(a, b))
}

func TestSpanRangeAcrossChapters(t *testing.T) {
	ref := SpanRange(Marker{Chapter: 1, Path: []int{0, 0}}, Marker{Chapter: 2, Path: []int{0}})
	if ref.Chapter != 1 || len(ref.Base) != 0 || len(ref.EndTail) != 0 {
		t.Errorf("unexpected cross-chapter range: %s", ref)
	}
}

func TestMarkerString(t *testing.T) {
	m := Marker{Chapter: 3, Path: []int{1, 0}, Offset: 7}
	if got := m.String(); got != "3/1/0:7" {
		t.Errorf("String() = %q", got)
	}
}

func TestPaginatorSinglePageChapter(t *testing.T) {
	p := newTestPaginator(t, 1000)

	loc := p.CurrentLocation()
	if loc.Chapter != 0 || loc.Page != 0 || loc.Pages != 1 {
		t.Fatalf("unexpected location %+v", loc)
	}
	if !reflect.DeepEqual(loc.Start.Path, []int{0, 0}) || loc.Start.Offset != 0 {
		t.Errorf("start = %s", loc.Start)
	}
	if !reflect.DeepEqual(loc.End.Path, []int{2, 2}) || loc.End.Offset != 6 {
		t.Errorf("end = %s", loc.End)
	}

	rng := p.ResolveRange(SpanRange(loc.Start, loc.End))
	if rng == nil {
		t.Fatal("expected range to resolve")
	}
	if rng.Start.Node.Data != "Chapter One" || rng.End.Node.Data != " zeta." {
		t.Errorf("boundaries = %q .. %q", rng.Start.Node.Data, rng.End.Node.Data)
	}
	if rng.Root.Data != "body" {
		t.Errorf("root = %q, want body", rng.Root.Data)
	}
}

func TestPaginatorNavigation(t *testing.T) {
	p := newTestPaginator(t, 10)
	ctx := context.Background()

	first := p.CurrentLocation()
	if first.Pages < 3 {
		t.Fatalf("expected chapter 0 to span several pages, got %d", first.Pages)
	}

	var visited []Location
	cancel := p.OnRelocated(func(l Location) { visited = append(visited, l) })

	moves := 0
	for p.Next(ctx) {
		moves++
		if moves > 100 {
			t.Fatal("Next never stopped")
		}
	}
	if len(visited) != moves {
		t.Errorf("relocated fired %d times for %d moves", len(visited), moves)
	}
	last := p.CurrentLocation()
	if last.Chapter != 2 {
		t.Errorf("expected to end in chapter 2, got %d", last.Chapter)
	}
	if p.Next(ctx) {
		t.Error("Next past the end should not move")
	}

	cancel()
	if !p.Prev(ctx) {
		t.Fatal("Prev should move back")
	}
	if got := p.CurrentLocation(); got.Chapter != 1 || got.Page != got.Pages-1 {
		t.Errorf("Prev from chapter start should land on last page of previous chapter, got %+v", got)
	}
	if len(visited) != moves {
		t.Error("cancelled listener should not fire")
	}
}

func TestPaginatorPagesCoverText(t *testing.T) {
	p := newTestPaginator(t, 10)
	ctx := context.Background()

	for {
		loc := p.CurrentLocation()
		if p.ResolveRange(SpanRange(loc.Start, loc.End)) == nil {
			t.Fatalf("page %d of chapter %d does not resolve", loc.Page, loc.Chapter)
		}
		if !p.Next(ctx) {
			break
		}
	}
}

func TestPaginatorDisplay(t *testing.T) {
	p := newTestPaginator(t, 10)
	ctx := context.Background()

	if err := p.Display(ctx, Marker{Chapter: 1}); err != nil {
		t.Fatalf("Display: %v", err)
	}
	if got := p.CurrentLocation(); got.Chapter != 1 || got.Page != 0 {
		t.Errorf("unexpected location %+v", got)
	}

	m, ok := p.Locate(0, "Delta epsilon zeta.")
	if !ok {
		t.Fatal("Locate failed")
	}
	if err := p.Display(ctx, m); err != nil {
		t.Fatalf("Display(%s): %v", m, err)
	}
	if !reflect.DeepEqual(m.Path, []int{2, 0}) {
		t.Errorf("Locate path = %v, want [2 0]", m.Path)
	}
	loc := p.CurrentLocation()
	pg := p.chapters[0].pages[loc.Page]
	if loc.Chapter != 0 || pg.first > 2 || pg.last < 2 {
		t.Errorf("displayed page does not cover the located node: %+v", loc)
	}

	if err := p.Display(ctx, Marker{Chapter: 9}); err == nil {
		t.Error("expected error for unknown chapter")
	}
	if err := p.Display(ctx, Marker{Chapter: 0, Path: []int{7, 7}}); err == nil {
		t.Error("expected error for unknown path")
	}
}

func TestPaginatorSetPageCharsKeepsPosition(t *testing.T) {
	p := newTestPaginator(t, 10)
	ctx := context.Background()
	p.Next(ctx)
	p.Next(ctx)
	before := p.CurrentLocation()

	p.SetPageChars(1000)
	after := p.CurrentLocation()
	if after.Chapter != before.Chapter {
		t.Fatalf("chapter changed from %d to %d", before.Chapter, after.Chapter)
	}
	if after.Pages != 1 || p.PageChars() != 1000 {
		t.Errorf("expected single page after resize, got %+v", after)
	}
}

func TestPaginatorChapterText(t *testing.T) {
	p := newTestPaginator(t, 10)
	ctx := context.Background()

	got, err := p.ChapterText(ctx, 0)
	if err != nil {
		t.Fatalf("ChapterText: %v", err)
	}
	if got != "Chapter One Alpha beta gamma. Delta epsilon zeta." {
		t.Errorf("ChapterText = %q", got)
	}
	if got, _ := p.ChapterText(ctx, 2); got != "" {
		t.Errorf("empty chapter text = %q", got)
	}
	if _, err := p.ChapterText(ctx, 5); err == nil {
		t.Error("expected error for out of range chapter")
	}
	if p.ChapterCount() != 3 || p.ChapterTitle(1) != "Two" {
		t.Error("unexpected chapter metadata")
	}
}

func TestTextLeavesSkipsHead(t *testing.T) {
	p := newTestPaginator(t, 1000)
	for _, n := range TextLeaves(p.chapters[0].body) {
		if n.Data == "T" || n.Data == "p{}" {
			t.Errorf("non-rendered text %q included", n.Data)
		}
	}
}

func TestTextBlocksJoinInlineMarkup(t *testing.T) {
	p := newTestPaginator(t, 1000)
	blocks := TextBlocks(p.chapters[0].body)
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(blocks))
	}
	last := blocks[2]
	if len(last.Leaves) != 3 || last.Text() != "Delta epsilon zeta." {
		t.Errorf("unexpected block %q with %d leaves", last.Text(), len(last.Leaves))
	}

	m, ok := p.Locate(0, "epsilon zeta.")
	if !ok || !reflect.DeepEqual(m.Path, []int{2, 1, 0}) {
		t.Errorf("Locate inside block = %v, %v", m, ok)
	}
}
