// Package state persists reading positions, settings and usage on the local
// machine under $XDG_STATE_HOME/readaloud.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	positionsFileName = "reading_positions.json"
	settingsFileName  = "settings.json"
	usageFileName     = "usage.json"
	hashBytes         = 8192 // First 8KB for content hash
)

// Kind tells which fields of a Position are meaningful.
type Kind string

const (
	// KindEPUB positions use ChapterIndex and ChapterChunkIndex.
	KindEPUB Kind = "epub"
	// KindPDF positions use ParagraphIndex and TotalParagraphs.
	KindPDF Kind = "pdf"
)

// Position is a reading position for one book.
type Position struct {
	Kind              Kind      `json:"type"`
	BookID            string    `json:"bookId"`
	ChapterIndex      int       `json:"chapterIndex"`
	ChapterChunkIndex int       `json:"chapterChunkIndex"`
	ParagraphIndex    int       `json:"paragraphIndex,omitempty"`
	TotalParagraphs   int       `json:"totalParagraphs,omitempty"`
	LastModifiedAt    time.Time `json:"lastModifiedAt"`
}

// SameSpot reports whether p and o point at the same place in the book,
// ignoring when they were written.
func (p Position) SameSpot(o Position) bool {
	if p.Kind != o.Kind {
		return false
	}
	if p.Kind == KindPDF {
		return p.ParagraphIndex == o.ParagraphIndex
	}
	return p.ChapterIndex == o.ChapterIndex && p.ChapterChunkIndex == o.ChapterChunkIndex
}

// Settings are the user's narration and display preferences.
type Settings struct {
	VoiceID  string  `json:"voiceId"`
	Speed    float64 `json:"speed"`
	Pitch    float64 `json:"pitch"`
	Theme    string  `json:"theme"`
	FontSize int     `json:"fontSize"`
}

// DefaultSettings are used until the user saves their own.
var DefaultSettings = Settings{
	VoiceID:  "en-US-Neural2-F",
	Speed:    1.0,
	Pitch:    0,
	Theme:    "light",
	FontSize: 16,
}

// Usage counts synthesized characters for the current calendar month.
type Usage struct {
	CharactersUsed int       `json:"charactersUsed"`
	MonthStart     time.Time `json:"monthStart"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// StateStore manages persistent local state. All methods are safe for
// concurrent use.
type StateStore struct {
	dir       string
	positions map[string]Position
	settings  Settings
	usage     Usage
	mu        sync.RWMutex

	now func() time.Time
}

// NewStateStore creates or loads state from XDG_STATE_HOME/readaloud/
func NewStateStore() (*StateStore, error) {
	return Open(Dir())
}

// Open loads state from dir, creating it if needed. Unreadable files are
// treated as empty.
func Open(dir string) (*StateStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	store := &StateStore{
		dir:       dir,
		positions: make(map[string]Position),
		settings:  DefaultSettings,
		now:       time.Now,
	}
	if err := store.load(positionsFileName, &store.positions); err != nil || store.positions == nil {
		// Non-fatal - start with empty state
		store.positions = make(map[string]Position)
	}
	if err := store.load(settingsFileName, &store.settings); err != nil {
		store.settings = DefaultSettings
	}
	if err := store.load(usageFileName, &store.usage); err != nil {
		store.usage = Usage{}
	}
	return store, nil
}

// Dir returns XDG_STATE_HOME/readaloud or ~/.local/state/readaloud
func Dir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "readaloud")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "readaloud")
}

// Path returns the path of a file inside the store's directory.
func (s *StateStore) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// ComputeHash generates content hash for file identity
func ComputeHash(filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, hashBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return HashBytes(buf[:n]), nil
}

// HashBytes hashes the first 8KB of data the same way ComputeHash hashes a
// file.
func HashBytes(data []byte) string {
	if len(data) > hashBytes {
		data = data[:hashBytes]
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16]) // First 16 bytes = 32 hex chars
}

// Position returns the saved position for a book.
func (s *StateStore) Position(bookID string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[bookID]
	return p, ok
}

// SetPosition saves the position for p.BookID.
func (s *StateStore) SetPosition(p Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.BookID] = p
	return s.save(positionsFileName, s.positions)
}

// Clear removes the saved position for a book.
func (s *StateStore) Clear(bookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, bookID)
	return s.save(positionsFileName, s.positions)
}

// Settings returns the current settings.
func (s *StateStore) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// SaveSettings replaces the stored settings.
func (s *StateStore) SaveSettings(st Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = st
	return s.save(settingsFileName, s.settings)
}

// Usage returns this month's usage. A record from an earlier month reads as
// zero.
func (s *StateStore) Usage() Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentUsage(s.now())
}

// AddUsage adds chars to this month's usage, starting a new month when the
// calendar month has advanced.
func (s *StateStore) AddUsage(chars int) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	u := s.currentUsage(now)
	u.CharactersUsed += chars
	u.LastUpdated = now
	s.usage = u
	return u, s.save(usageFileName, s.usage)
}

func (s *StateStore) currentUsage(now time.Time) Usage {
	month := monthStart(now)
	if s.usage.MonthStart.IsZero() || s.usage.MonthStart.Before(month) {
		return Usage{MonthStart: month, LastUpdated: s.usage.LastUpdated}
	}
	return s.usage
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func (s *StateStore) load(name string, v any) error {
	data, err := os.ReadFile(s.Path(name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *StateStore) save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path(name), data, 0644)
}
