// Package httpstore keeps reading positions on the reading backend.
package httpstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jamborta/readaloud/internal/position"
	"github.com/jamborta/readaloud/internal/speech"
	"github.com/jamborta/readaloud/internal/state"
)

// Doer sends JSON requests to the backend. *speech.Client implements it.
type Doer interface {
	Do(ctx context.Context, method, path string, in, out any) error
}

// Store is a position.Store over the backend's /api/positions endpoints.
type Store struct {
	c Doer
}

var _ position.Store = (*Store)(nil)

// New returns a store that talks through c.
func New(c Doer) *Store {
	return &Store{c: c}
}

// wirePosition is the backend's representation. The backend only knows
// paragraph positions and stamps lastRead itself; the chapter fields ride
// along for clients that understand them.
type wirePosition struct {
	BookID            string     `json:"bookId"`
	ParagraphIndex    int        `json:"paragraphIndex"`
	TotalParagraphs   int        `json:"totalParagraphs"`
	LastRead          string     `json:"lastRead,omitempty"`
	Type              state.Kind `json:"type,omitempty"`
	ChapterIndex      *int       `json:"chapterIndex,omitempty"`
	ChapterChunkIndex *int       `json:"chapterChunkIndex,omitempty"`
	LastModifiedAt    *time.Time `json:"lastModifiedAt,omitempty"`
}

// lastReadLayouts are tried in order; the backend writes local time
// without a zone.
var lastReadLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseLastRead(s string) (time.Time, bool) {
	for _, layout := range lastReadLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (w *wirePosition) position() *state.Position {
	p := &state.Position{
		Kind:            w.Type,
		BookID:          w.BookID,
		ParagraphIndex:  w.ParagraphIndex,
		TotalParagraphs: w.TotalParagraphs,
	}
	if w.ChapterIndex != nil && w.ChapterChunkIndex != nil {
		p.ChapterIndex = *w.ChapterIndex
		p.ChapterChunkIndex = *w.ChapterChunkIndex
		if p.Kind == "" {
			p.Kind = state.KindEPUB
		}
	} else if p.Kind == "" {
		p.Kind = state.KindPDF
	}
	switch {
	case w.LastModifiedAt != nil:
		p.LastModifiedAt = *w.LastModifiedAt
	case w.LastRead != "":
		if t, ok := parseLastRead(w.LastRead); ok {
			p.LastModifiedAt = t
		}
	}
	return p
}

func fromPosition(p state.Position) wirePosition {
	w := wirePosition{
		BookID:          p.BookID,
		ParagraphIndex:  p.ParagraphIndex,
		TotalParagraphs: p.TotalParagraphs,
		Type:            p.Kind,
	}
	if p.Kind != state.KindPDF {
		ch, chunk := p.ChapterIndex, p.ChapterChunkIndex
		w.ChapterIndex, w.ChapterChunkIndex = &ch, &chunk
	}
	if !p.LastModifiedAt.IsZero() {
		at := p.LastModifiedAt.UTC()
		w.LastModifiedAt = &at
	}
	return w
}

// GetPosition returns the backend's position for bookID, or nil.
func (s *Store) GetPosition(ctx context.Context, bookID string) (*state.Position, error) {
	var w *wirePosition
	err := s.c.Do(ctx, http.MethodGet, "/api/positions/"+url.PathEscape(bookID), nil, &w)
	if errors.Is(err, speech.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get remote position: %w", err)
	}
	if w == nil {
		return nil, nil
	}
	return w.position(), nil
}

// SavePosition stores p on the backend.
func (s *Store) SavePosition(ctx context.Context, p state.Position) error {
	if err := s.c.Do(ctx, http.MethodPost, "/api/positions", fromPosition(p), nil); err != nil {
		return fmt.Errorf("save remote position: %w", err)
	}
	return nil
}
