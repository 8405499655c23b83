// Package audio plays MP3 clips on the default output device.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

// ErrEmptyClip is returned when asked to play no data.
var ErrEmptyClip = errors.New("audio: empty clip")

// DefaultSampleRate matches the rate of synthesized speech.
const DefaultSampleRate = beep.SampleRate(24000)

// Player plays one clip at a time. Starting a clip stops the previous one.
type Player struct {
	rate beep.SampleRate

	mu       sync.Mutex
	ready    bool
	ctrl     *beep.Ctrl
	streamer beep.StreamSeekCloser

	// gen identifies the current clip; end callbacks of older clips are
	// dropped. It is read from the speaker goroutine without mu.
	gen atomic.Uint64
}

// NewPlayer returns a player that mixes at rate. The speaker is opened on
// first use.
func NewPlayer(rate beep.SampleRate) *Player {
	if rate == 0 {
		rate = DefaultSampleRate
	}
	return &Player{rate: rate}
}

// Play decodes data and starts playing it. onEnded runs on its own
// goroutine when the clip finishes, unless another clip was started or Stop
// was called first. Play returns as soon as playback has started.
func (p *Player) Play(data []byte, onEnded func()) error {
	if len(data) == 0 {
		return ErrEmptyClip
	}
	streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	if err != nil {
		return fmt.Errorf("decode mp3: %w", err)
	}

	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		if err := speaker.Init(p.rate, p.rate.N(time.Second/10)); err != nil {
			streamer.Close()
			return fmt.Errorf("open speaker: %w", err)
		}
		p.ready = true
	}

	var s beep.Streamer = streamer
	if format.SampleRate != p.rate {
		s = beep.Resample(4, format.SampleRate, p.rate, streamer)
	}
	gen := p.gen.Add(1)
	p.streamer = streamer
	p.ctrl = &beep.Ctrl{Streamer: s}
	speaker.Play(beep.Seq(p.ctrl, beep.Callback(func() {
		if p.gen.Load() == gen && onEnded != nil {
			go onEnded()
		}
	})))
	return nil
}

// Stop stops the current clip. Its end callback will not run.
func (p *Player) Stop() {
	p.gen.Add(1)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready || p.streamer == nil {
		return
	}
	speaker.Clear()
	p.streamer.Close()
	p.streamer = nil
	p.ctrl = nil
}

// Close stops playback and releases the output device.
func (p *Player) Close() {
	p.Stop()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		speaker.Close()
		p.ready = false
	}
}
