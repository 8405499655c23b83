// Package chapter builds the canonical chunk sequence of a whole chapter.
//
// The canonical sequence is cut from the chapter's complete text, so it does
// not depend on how the chapter happens to be paginated. Its indices are the
// only chunk numbering that is persisted or sent to the audio backend; chunks
// cut from a visible page are mapped onto it with Sequence.Match.
package chapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/jamborta/readaloud/internal/chunk"
	"github.com/jamborta/readaloud/internal/render"
)

// needleSize is the rune length of the short needle tried when a page chunk
// starts in the middle of a canonical chunk boundary.
const needleSize = 30

// Sequence is the canonical chunk sequence of one chapter. It is never
// modified after it is built.
type Sequence struct {
	Chapter int
	Chunks  []chunk.Chunk

	prefixes []string
	texts    []string
	ids      []string
}

// NewSequence wraps chunks for chapter and precomputes match keys.
func NewSequence(chapter int, chunks []chunk.Chunk) *Sequence {
	s := &Sequence{
		Chapter:  chapter,
		Chunks:   chunks,
		prefixes: make([]string, len(chunks)),
		texts:    make([]string, len(chunks)),
		ids:      make([]string, len(chunks)),
	}
	for i, c := range chunks {
		s.prefixes[i] = c.Prefix()
		s.texts[i] = chunk.Normalize(c.Text)
		s.ids[i] = c.ID()
	}
	return s
}

// Len returns the number of canonical chunks.
func (s *Sequence) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Chunks)
}

// Chunk returns canonical chunk i.
func (s *Sequence) Chunk(i int) (chunk.Chunk, bool) {
	if s == nil || i < 0 || i >= len(s.Chunks) {
		return chunk.Chunk{}, false
	}
	return s.Chunks[i], true
}

// Identical reports whether c has exactly the text of canonical chunk i.
// Audio stored for chunk i speaks c only when this holds.
func (s *Sequence) Identical(i int, c chunk.Chunk) bool {
	if s == nil || i < 0 || i >= len(s.ids) {
		return false
	}
	return s.ids[i] == c.ID()
}

// Match maps a page-local chunk onto a canonical index. It tries, in order:
// equal 100-rune prefixes, the page chunk's prefix contained in a canonical
// chunk, and a 30-rune needle contained in a canonical chunk. Candidates are
// scanned starting at fallback so repeated text resolves to the nearest
// occurrence. When nothing matches, fallback (clamped to the sequence) is
// returned with ok false. An empty sequence returns -1.
func (s *Sequence) Match(c chunk.Chunk, fallback int) (idx int, ok bool) {
	n := s.Len()
	if n == 0 {
		return -1, false
	}
	if fallback < 0 {
		fallback = 0
	}
	if fallback >= n {
		fallback = n - 1
	}

	prefix := c.Prefix()
	if prefix == "" {
		return fallback, false
	}
	needle := prefix
	if utf8.RuneCountInString(needle) > needleSize {
		needle = string([]rune(needle)[:needleSize])
	}

	tests := []func(i int) bool{
		func(i int) bool { return s.prefixes[i] == prefix },
		func(i int) bool { return strings.Contains(s.texts[i], prefix) },
		func(i int) bool { return strings.Contains(s.texts[i], needle) },
	}
	for _, test := range tests {
		for k := 0; k < n; k++ {
			i := (fallback + k) % n
			if test(i) {
				return i, true
			}
		}
	}
	return fallback, false
}

// Index caches the canonical sequence of the active chapter.
type Index struct {
	src    render.ChapterSource
	cutter chunk.Cutter

	mu      sync.Mutex
	current *Sequence
	group   singleflight.Group
}

// NewIndex returns an index reading chapter text from src.
func NewIndex(src render.ChapterSource, cutter chunk.Cutter) *Index {
	return &Index{src: src, cutter: cutter}
}

// Load returns the canonical sequence for chapter. While the chapter stays
// active, repeated calls return the same *Sequence without reading the
// chapter again; concurrent loads share one read.
func (x *Index) Load(ctx context.Context, chapter int) (*Sequence, error) {
	if seq := x.cached(chapter); seq != nil {
		return seq, nil
	}

	v, err, _ := x.group.Do(strconv.Itoa(chapter), func() (any, error) {
		if seq := x.cached(chapter); seq != nil {
			return seq, nil
		}
		if chapter < 0 || chapter >= x.src.ChapterCount() {
			return nil, fmt.Errorf("chapter %d out of range", chapter)
		}
		text, err := x.src.ChapterText(ctx, chapter)
		if err != nil {
			return nil, fmt.Errorf("load chapter %d: %w", chapter, err)
		}
		seq := NewSequence(chapter, x.cutter.Cut(text))

		x.mu.Lock()
		x.current = seq
		x.mu.Unlock()
		return seq, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Sequence), nil
}

func (x *Index) cached(chapter int) *Sequence {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.current != nil && x.current.Chapter == chapter {
		return x.current
	}
	return nil
}

// Invalidate drops the active sequence.
func (x *Index) Invalidate() {
	x.mu.Lock()
	x.current = nil
	x.mu.Unlock()
}
