// Package speech talks to speech synthesis backends.
//
// Two kinds of audio exist. On-demand audio is synthesized for a piece of
// text with the reader's current voice settings and is never stored.
// Pre-generated audio is synthesized ahead of time for a canonical chapter
// chunk and stored by the backend, which hands out a URL for it.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrNotFound is returned when no pre-generated audio exists for a chunk.
	ErrNotFound = errors.New("speech: audio not found")
	// ErrThrottled is returned when the backend asks the caller to slow down.
	ErrThrottled = errors.New("speech: throttled")
	// ErrUnauthorized is returned when the session is missing or expired.
	ErrUnauthorized = errors.New("speech: unauthorized")
	// ErrInvalidText is returned for empty or oversized synthesis input.
	ErrInvalidText = errors.New("speech: invalid text")
)

const (
	// MaxTextChars is the longest text accepted for one synthesis request.
	MaxTextChars = 5000
	// SampleRate is the sample rate of synthesized MP3 audio.
	SampleRate = 24000

	MinSpeed = 0.25
	MaxSpeed = 4.0
	MinPitch = -20.0
	MaxPitch = 20.0
)

// Params are the voice settings for a synthesis request.
type Params struct {
	VoiceID string  `json:"voiceId"`
	Speed   float64 `json:"speed"`
	Pitch   float64 `json:"pitch"`
}

// Clamped returns p with speed and pitch limited to the supported ranges.
func (p Params) Clamped() Params {
	p.Speed = clampFloat(p.Speed, MinSpeed, MaxSpeed)
	p.Pitch = clampFloat(p.Pitch, MinPitch, MaxPitch)
	return p
}

// Key returns a stable cache key for the settings.
func (p Params) Key() string {
	return fmt.Sprintf("%s|%.2f|%.1f", p.VoiceID, p.Speed, p.Pitch)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Audio is synthesized MP3 audio.
type Audio struct {
	Content        []byte
	CharacterCount int
}

// ChunkRef addresses a canonical chunk of a book.
type ChunkRef struct {
	BookID  string
	Chapter int
	Chunk   int
}

func (r ChunkRef) String() string {
	return fmt.Sprintf("%s/%d/%d", r.BookID, r.Chapter, r.Chunk)
}

// Voice describes an available voice.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Gender   string `json:"gender"`
}

// Synthesizer turns text into audio on demand.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, p Params) (*Audio, error)
}

// ChunkStore looks up and creates pre-generated chunk audio.
type ChunkStore interface {
	// ChunkAudio returns the URL of stored audio for ref, or ErrNotFound.
	ChunkAudio(ctx context.Context, ref ChunkRef) (string, error)
	// GenerateChunkAudio synthesizes and stores audio for ref. It returns
	// ErrThrottled when the backend is over quota.
	GenerateChunkAudio(ctx context.Context, ref ChunkRef, text string, p Params) (string, error)
}

// AudioFetcher downloads audio by URL.
type AudioFetcher interface {
	FetchAudio(ctx context.Context, url string) ([]byte, error)
}

// VoiceLister lists available voices.
type VoiceLister interface {
	Voices(ctx context.Context) ([]Voice, error)
}

// ValidateText checks synthesis input the same way the backend does.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text cannot be empty", ErrInvalidText)
	}
	if n := utf8.RuneCountInString(text); n > MaxTextChars {
		return fmt.Errorf("%w: %d characters exceeds maximum of %d", ErrInvalidText, n, MaxTextChars)
	}
	return nil
}

// LanguageCode derives the language code from a voice id, e.g. "en-US" from
// "en-US-Neural2-A".
func LanguageCode(voiceID string) string {
	parts := strings.SplitN(voiceID, "-", 3)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, "-")
}
