// Package render defines the boundary to the paginated rendering engine and
// provides an HTML paginator that implements it.
//
// A location inside a chapter is addressed by a Marker: the child-index path
// from the chapter's <body> element down to a text node, plus a rune offset
// inside that node. The engine reports the visible page as a pair of markers;
// SpanRange turns such a pair into a RangeRef that the engine can resolve into
// live content.
package render

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Marker addresses a point inside a chapter's content tree.
type Marker struct {
	Chapter int
	Path    []int
	Offset  int
}

// String renders the marker as "chapter/p0/p1/...:offset".
func (m Marker) String() string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(m.Chapter))
	for _, p := range m.Path {
		sb.WriteByte('/')
		sb.WriteString(strconv.Itoa(p))
	}
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(m.Offset))
	return sb.String()
}

// Location is the currently visible range as reported by the engine.
type Location struct {
	Start   Marker
	End     Marker
	Chapter int
	Page    int
	Pages   int
}

// Same reports whether two locations show the same range.
func (l Location) Same(o Location) bool {
	return l.Chapter == o.Chapter && l.Start.String() == o.Start.String() && l.End.String() == o.End.String()
}

// RangeRef describes a contiguous range relative to a shared base node.
// Base is the common path prefix of both ends; StartTail and EndTail are the
// remaining per-side paths below Base.
type RangeRef struct {
	Chapter     int
	Base        []int
	StartTail   []int
	StartOffset int
	EndTail     []int
	EndOffset   int
}

// StartPath returns the full path of the start boundary.
func (r RangeRef) StartPath() []int { return joinPath(r.Base, r.StartTail) }

// EndPath returns the full path of the end boundary.
func (r RangeRef) EndPath() []int { return joinPath(r.Base, r.EndTail) }

func (r RangeRef) String() string {
	return fmt.Sprintf("%d,%v,%v:%d,%v:%d", r.Chapter, r.Base, r.StartTail, r.StartOffset, r.EndTail, r.EndOffset)
}

func joinPath(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// SpanRange builds a single range reference spanning start to end.
//
// When both markers share their full path the range lies inside one node:
// Base is that path and both tails are empty. Otherwise the longest common
// prefix becomes Base and the diverging remainders become the tails. Markers
// in different chapters cannot share a base; the range is anchored at the
// start marker's chapter with an empty base.
func SpanRange(start, end Marker) RangeRef {
	ref := RangeRef{
		Chapter:     start.Chapter,
		StartOffset: start.Offset,
		EndOffset:   end.Offset,
	}
	if start.Chapter != end.Chapter {
		ref.StartTail = append([]int(nil), start.Path...)
		return ref
	}

	n := 0
	for n < len(start.Path) && n < len(end.Path) && start.Path[n] == end.Path[n] {
		n++
	}
	ref.Base = append([]int(nil), start.Path[:n]...)
	ref.StartTail = append([]int(nil), start.Path[n:]...)
	ref.EndTail = append([]int(nil), end.Path[n:]...)
	return ref
}

// Boundary is one end of a resolved range.
type Boundary struct {
	Node   *html.Node
	Offset int
}

// Range is a resolved, live content range. Root is the node at the range's
// base path; Start and End are the boundary text nodes (or element nodes for
// an empty chapter).
type Range struct {
	Chapter int
	Root    *html.Node
	Start   Boundary
	End     Boundary
}

// Engine is the capability the narration core needs from the rendering
// engine. Implementations may report unstable locations right after a page
// change; callers handle retries.
type Engine interface {
	// Display shows the page containing m.
	Display(ctx context.Context, m Marker) error
	// CurrentLocation reports the visible range.
	CurrentLocation() Location
	// Next advances one page and reports whether the location moved.
	Next(ctx context.Context) bool
	// Prev goes back one page and reports whether the location moved.
	Prev(ctx context.Context) bool
	// ResolveRange returns live content for ref, or nil when it cannot be
	// resolved yet.
	ResolveRange(ref RangeRef) *Range
	// OnRelocated registers fn to be called after every location change.
	OnRelocated(fn func(Location)) (cancel func())
}

// ChapterSource provides whole-chapter text independent of the viewport.
type ChapterSource interface {
	ChapterCount() int
	ChapterText(ctx context.Context, chapter int) (string, error)
}

// Locator is implemented by engines that can find where a piece of chapter
// text is rendered.
type Locator interface {
	Locate(chapter int, text string) (Marker, bool)
}
