package notify

import (
	"strings"
	"sync"

	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"

	"voxin/internal/domain"
)

// CueMode selects how cues are rendered.
type CueMode string

const (
	CueModeOff    CueMode = "off"
	CueModeBeep   CueMode = "beep"
	CueModeNotify CueMode = "notify"
	CueModeBoth   CueMode = "both"
)

// ParseCueMode falls back to beep for unknown values.
func ParseCueMode(value string) CueMode {
	switch CueMode(strings.ToLower(strings.TrimSpace(value))) {
	case CueModeOff:
		return CueModeOff
	case CueModeNotify:
		return CueModeNotify
	case CueModeBoth:
		return CueModeBoth
	default:
		return CueModeBeep
	}
}

type tone struct {
	freq     float64
	duration int // ms
}

var cueTones = map[domain.Cue]tone{
	domain.CueStart:    {freq: 880, duration: 80},
	domain.CueComplete: {freq: 1320, duration: 80},
	domain.CueError:    {freq: 220, duration: 250},
}

var cueMessages = map[domain.Cue]string{
	domain.CueStart:    "Recording started",
	domain.CueComplete: "Transcript copied",
	domain.CueError:    "Dictation failed",
}

// Cues plays cues on a single background goroutine so a slow audio or
// notification backend never blocks the caller. Cues beyond the queue
// are dropped.
type Cues struct {
	mode   CueMode
	log    zerolog.Logger
	beep   func(freq float64, duration int) error
	notify func(title, message string) error

	queue chan domain.Cue
	once  sync.Once
	done  chan struct{}
}

func NewCues(mode CueMode, log zerolog.Logger) *Cues {
	return newCues(mode, log,
		beeep.Beep,
		func(title, message string) error { return beeep.Notify(title, message, "") },
	)
}

func newCues(mode CueMode, log zerolog.Logger, beep func(float64, int) error, notify func(string, string) error) *Cues {
	c := &Cues{
		mode:   mode,
		log:    log,
		beep:   beep,
		notify: notify,
		queue:  make(chan domain.Cue, 4),
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

// Cue enqueues cue without blocking.
func (c *Cues) Cue(cue domain.Cue) {
	if c.mode == CueModeOff {
		return
	}
	select {
	case c.queue <- cue:
	case <-c.done:
	default:
		c.log.Debug().Str("cue", string(cue)).Msg("cue dropped")
	}
}

func (c *Cues) run() {
	for {
		select {
		case <-c.done:
			return
		case cue := <-c.queue:
			c.play(cue)
		}
	}
}

func (c *Cues) play(cue domain.Cue) {
	if c.mode == CueModeBeep || c.mode == CueModeBoth {
		if t, ok := cueTones[cue]; ok {
			if err := c.beep(t.freq, t.duration); err != nil {
				c.log.Debug().Err(err).Msg("beep failed")
			}
		}
	}
	if c.mode == CueModeNotify || c.mode == CueModeBoth {
		if msg, ok := cueMessages[cue]; ok {
			if err := c.notify("voxin", msg); err != nil {
				c.log.Debug().Err(err).Msg("desktop notification failed")
			}
		}
	}
}

// Close stops the cue goroutine.
func (c *Cues) Close() {
	c.once.Do(func() { close(c.done) })
}
