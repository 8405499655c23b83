package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/jamborta/readaloud/internal/chunk"
	"github.com/jamborta/readaloud/internal/reader"
)

// DefaultPageChars is the page budget used when none is given.
const DefaultPageChars = 1500

// locateNeedle is the number of normalized runes Locate searches for.
const locateNeedle = 40

// Paginator lays chapters out into pages of at most pageChars runes of text
// and implements Engine and ChapterSource. Page breaks fall on whitespace
// where possible, so the same chapter paginates differently for different
// page sizes while its text stays the same.
//
// Paginator is safe for concurrent use. Relocation listeners are called
// without the lock held.
type Paginator struct {
	mu        sync.Mutex
	chapters  []*chapterDOM
	pageChars int
	chapter   int
	page      int

	listeners []listener
	nextID    int
}

type listener struct {
	id int
	fn func(Location)
}

type chapterDOM struct {
	title  string
	body   *html.Node
	leaves []leaf
	pages  []page
}

type leaf struct {
	node *html.Node
	path []int
}

type page struct {
	start, end  Marker
	first, last int
}

// NewPaginator parses every chapter of doc and paginates it.
func NewPaginator(doc *reader.Document, pageChars int) (*Paginator, error) {
	if pageChars <= 0 {
		pageChars = DefaultPageChars
	}
	p := &Paginator{pageChars: pageChars}
	for i, ch := range doc.Chapters {
		root, err := html.Parse(bytes.NewReader(ch.HTML))
		if err != nil {
			return nil, fmt.Errorf("parse chapter %d: %w", i, err)
		}
		body := findBody(root)
		if body == nil {
			body = root
		}
		c := &chapterDOM{title: ch.Title, body: body}
		for _, n := range TextLeaves(body) {
			c.leaves = append(c.leaves, leaf{node: n, path: pathOf(body, n)})
		}
		c.pages = paginate(i, c.leaves, pageChars)
		p.chapters = append(p.chapters, c)
	}
	if len(p.chapters) == 0 {
		return nil, fmt.Errorf("document has no chapters")
	}
	return p, nil
}

func paginate(chapter int, leaves []leaf, pageChars int) []page {
	if len(leaves) == 0 {
		empty := Marker{Chapter: chapter}
		return []page{{start: empty, end: empty, first: -1, last: -1}}
	}

	mk := func(i, off int) Marker {
		return Marker{Chapter: chapter, Path: leaves[i].path, Offset: off}
	}

	var pages []page
	cur := page{start: mk(0, 0), first: 0}
	budget := pageChars
	for i, lf := range leaves {
		runes := []rune(lf.node.Data)
		off := 0
		for off < len(runes) {
			if budget == 0 {
				pages = append(pages, cur)
				cur = page{start: mk(i, off), first: i}
				budget = pageChars
			}
			if remaining := len(runes) - off; remaining <= budget {
				budget -= remaining
				off = len(runes)
			} else {
				off = breakAt(runes, off, off+budget)
				budget = 0
			}
			cur.end = mk(i, off)
			cur.last = i
		}
	}
	return append(pages, cur)
}

// breakAt returns the last whitespace-delimited break in (from, limit], or
// limit when the span has no whitespace.
func breakAt(runes []rune, from, limit int) int {
	for j := limit; j > from+1; j-- {
		if unicode.IsSpace(runes[j-1]) {
			return j
		}
	}
	return limit
}

// Display shows the page containing m. A marker without a path selects the
// first page of its chapter.
func (p *Paginator) Display(ctx context.Context, m Marker) error {
	p.mu.Lock()
	if m.Chapter < 0 || m.Chapter >= len(p.chapters) {
		p.mu.Unlock()
		return fmt.Errorf("chapter %d out of range", m.Chapter)
	}
	pg, ok := p.chapters[m.Chapter].pageOf(m)
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("marker %s not found", m)
	}
	p.chapter, p.page = m.Chapter, pg
	loc := p.locationLocked()
	p.mu.Unlock()

	p.notify(loc)
	return nil
}

func (c *chapterDOM) pageOf(m Marker) (int, bool) {
	if len(m.Path) == 0 {
		return 0, true
	}
	li := -1
	for i, lf := range c.leaves {
		if samePath(lf.path, m.Path) {
			li = i
			break
		}
	}
	if li < 0 {
		return 0, false
	}
	pg := 0
	for i, pp := range c.pages {
		if pp.first < li || (pp.first == li && pp.start.Offset <= m.Offset) {
			pg = i
		}
	}
	return pg, true
}

func samePath(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CurrentLocation reports the visible page.
func (p *Paginator) CurrentLocation() Location {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.locationLocked()
}

func (p *Paginator) locationLocked() Location {
	c := p.chapters[p.chapter]
	pg := c.pages[p.page]
	return Location{
		Start:   pg.start,
		End:     pg.end,
		Chapter: p.chapter,
		Page:    p.page,
		Pages:   len(c.pages),
	}
}

// Next advances one page, crossing into the next chapter at a chapter's end.
func (p *Paginator) Next(ctx context.Context) bool {
	p.mu.Lock()
	switch {
	case p.page+1 < len(p.chapters[p.chapter].pages):
		p.page++
	case p.chapter+1 < len(p.chapters):
		p.chapter++
		p.page = 0
	default:
		p.mu.Unlock()
		return false
	}
	loc := p.locationLocked()
	p.mu.Unlock()

	p.notify(loc)
	return true
}

// Prev goes back one page, to the last page of the previous chapter at a
// chapter's start.
func (p *Paginator) Prev(ctx context.Context) bool {
	p.mu.Lock()
	switch {
	case p.page > 0:
		p.page--
	case p.chapter > 0:
		p.chapter--
		p.page = len(p.chapters[p.chapter].pages) - 1
	default:
		p.mu.Unlock()
		return false
	}
	loc := p.locationLocked()
	p.mu.Unlock()

	p.notify(loc)
	return true
}

// ResolveRange returns the live nodes for ref, or nil when any part of the
// path does not exist.
func (p *Paginator) ResolveRange(ref RangeRef) *Range {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ref.Chapter < 0 || ref.Chapter >= len(p.chapters) {
		return nil
	}
	root := nodeAt(p.chapters[ref.Chapter].body, ref.Base)
	if root == nil {
		return nil
	}
	start := nodeAt(root, ref.StartTail)
	end := nodeAt(root, ref.EndTail)
	if start == nil || end == nil {
		return nil
	}
	return &Range{
		Chapter: ref.Chapter,
		Root:    root,
		Start:   Boundary{Node: start, Offset: ref.StartOffset},
		End:     Boundary{Node: end, Offset: ref.EndOffset},
	}
}

// OnRelocated registers fn for location changes.
func (p *Paginator) OnRelocated(fn func(Location)) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners = append(p.listeners, listener{id: id, fn: fn})
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, l := range p.listeners {
			if l.id == id {
				p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
				return
			}
		}
	}
}

func (p *Paginator) notify(loc Location) {
	p.mu.Lock()
	ls := make([]listener, len(p.listeners))
	copy(ls, p.listeners)
	p.mu.Unlock()

	for _, l := range ls {
		l.fn(loc)
	}
}

// SetPageChars repaginates every chapter for a new viewport size and keeps
// the first visible text on screen.
func (p *Paginator) SetPageChars(n int) {
	if n <= 0 {
		n = DefaultPageChars
	}
	p.mu.Lock()
	start := p.locationLocked().Start
	p.pageChars = n
	for i, c := range p.chapters {
		c.pages = paginate(i, c.leaves, n)
	}
	if pg, ok := p.chapters[p.chapter].pageOf(start); ok {
		p.page = pg
	} else {
		p.page = 0
	}
	loc := p.locationLocked()
	p.mu.Unlock()

	p.notify(loc)
}

// PageChars returns the current page budget.
func (p *Paginator) PageChars() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pageChars
}

// ChapterCount returns the number of chapters.
func (p *Paginator) ChapterCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chapters)
}

// ChapterTitle returns the title of chapter i.
func (p *Paginator) ChapterTitle(i int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.chapters) {
		return ""
	}
	return p.chapters[i].title
}

// ChapterText returns the normalized text of a whole chapter, one block
// after another.
func (p *Paginator) ChapterText(ctx context.Context, chapter int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if chapter < 0 || chapter >= len(p.chapters) {
		return "", fmt.Errorf("chapter %d out of range", chapter)
	}
	blocks := TextBlocks(p.chapters[chapter].body)
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, b.Text())
	}
	return strings.Join(parts, " "), nil
}

// Locate finds the text node where text starts within the chapter. Blocks
// are searched for the first 40 normalized runes of text, then for a shorter
// needle in case text runs across a block boundary. The offset is always 0;
// the match is best effort.
func (p *Paginator) Locate(chapter int, text string) (Marker, bool) {
	normalized := chunk.Normalize(text)
	if normalized == "" {
		return Marker{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if chapter < 0 || chapter >= len(p.chapters) {
		return Marker{}, false
	}
	c := p.chapters[chapter]
	blocks := TextBlocks(c.body)

	for _, size := range []int{locateNeedle, locateNeedle / 3} {
		needle := normalized
		if utf8.RuneCountInString(needle) > size {
			needle = string([]rune(needle)[:size])
		}
		for _, b := range blocks {
			at := strings.Index(b.Text(), needle)
			if at < 0 {
				continue
			}
			if m, ok := c.markerIn(b, at); ok {
				m.Chapter = chapter
				return m, true
			}
		}
	}
	return Marker{}, false
}

// markerIn returns the marker of the leaf of b that holds byte offset at of
// the block's normalized text.
func (c *chapterDOM) markerIn(b Block, at int) (Marker, bool) {
	target := b.Leaves[0]
	seen := 0
	for _, n := range b.Leaves {
		target = n
		seen += len(chunk.Normalize(n.Data)) + 1
		if seen > at {
			break
		}
	}
	for _, lf := range c.leaves {
		if lf.node == target {
			return Marker{Path: lf.path}, true
		}
	}
	return Marker{}, false
}
