// Package narrate drives read-aloud playback: it walks the chunks of the
// visible page, plays audio for each one, turns pages at the end and keeps
// the reading position saved.
//
// All playback state is owned by a single event loop (Controller.Run).
// Network calls, extraction and page turns run on their own goroutines and
// report back as events tagged with the generation they were started in;
// results from an older generation are dropped.
package narrate

import (
	"context"
	"errors"

	"github.com/jamborta/readaloud/internal/chunk"
	"github.com/jamborta/readaloud/internal/extract"
	"github.com/jamborta/readaloud/internal/state"
)

var (
	// ErrNoText means the visible page has nothing to narrate.
	ErrNoText = errors.New("no readable text on this page")
	// ErrCannotAdvance means the engine refused to turn the page.
	ErrCannotAdvance = errors.New("cannot advance to the next page")
	// ErrBlankPage means a page turn landed on a page without text.
	ErrBlankPage = errors.New("reached a page without text")
	// ErrAdvanceExhausted means too many consecutive pages failed to load.
	ErrAdvanceExhausted = errors.New("stopped after too many pages failed to load")
	// ErrBusy is returned for requests the current state does not allow.
	ErrBusy = errors.New("narration is busy")
	// ErrSessionExpired wraps authorization failures from the backend.
	ErrSessionExpired = errors.New("session expired, sign in again")
	// ErrClosed is returned after the controller stopped.
	ErrClosed = errors.New("narration closed")
)

// State is the playback state.
type State int

const (
	Idle State = iota
	Playing
	Paused
	AwaitingPageTurn
	AwaitingAudio
	GeneratingChapterAudio
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case AwaitingPageTurn:
		return "turning page"
	case AwaitingAudio:
		return "loading audio"
	case GeneratingChapterAudio:
		return "generating chapter audio"
	}
	return "unknown"
}

// Audio sources.
const (
	SourceStored      = "stored"
	SourceCache       = "cache"
	SourceSynthesized = "synthesized"
)

// Clip is the audio of one chunk.
type Clip struct {
	Data   []byte
	Source string
	URL    string
}

// preparedClip is a prefetched clip, or the error that prefetching it hit.
type preparedClip struct {
	clip *Clip
	err  error
}

// PlaybackState is a snapshot of the controller.
type PlaybackState struct {
	State             State
	Playing           bool
	ChapterIndex      int
	ChapterChunkIndex int
	Paragraphs        []chunk.Chunk
	ParagraphIndex    int
	Audio             *Clip
}

// Player plays one clip at a time. onEnded must not be called after Stop or
// after another Play.
type Player interface {
	Play(data []byte, onEnded func()) error
	Stop()
}

// Sink receives user-facing updates. Methods are called from the event loop
// and should return quickly.
type Sink interface {
	StateChanged(s State)
	// Highlight marks chunk index of page as the one being read.
	Highlight(page *extract.Page, index int)
	// Notify reports why playback stopped.
	Notify(err error)
}

// NopSink ignores every update.
type NopSink struct{}

func (NopSink) StateChanged(State)           {}
func (NopSink) Highlight(*extract.Page, int) {}
func (NopSink) Notify(error)                 {}

// PositionSaver persists reading positions.
type PositionSaver interface {
	Save(ctx context.Context, p state.Position) error
}
