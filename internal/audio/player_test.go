package audio

import (
	"errors"
	"testing"
)

func TestPlayEmptyClip(t *testing.T) {
	p := NewPlayer(0)
	if err := p.Play(nil, nil); !errors.Is(err, ErrEmptyClip) {
		t.Errorf("expected ErrEmptyClip, got %v", err)
	}
	if p.rate != DefaultSampleRate {
		t.Errorf("rate = %v, want %v", p.rate, DefaultSampleRate)
	}
}

func TestStopBeforePlay(t *testing.T) {
	p := NewPlayer(DefaultSampleRate)
	// Must not touch the speaker before it was opened.
	p.Stop()
	if p.gen.Load() != 1 {
		t.Errorf("Stop should invalidate pending end callbacks")
	}
}
