package hotkey

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Device is one input device producing key transitions.
type Device interface {
	ID() string
	Name() string
	// ReadKey blocks for the next key transition. Close unblocks it.
	ReadKey() (KeyEvent, error)
	Close() error
}

// Enumerator lists devices able to emit the trigger key. Devices that
// cannot be opened are skipped.
type Enumerator interface {
	Enumerate(trigger Key) ([]Device, error)
}

// Watcher fuses key events from every device and calls onToggle once
// per chord press.
type Watcher struct {
	enum     Enumerator
	chord    KeyChord
	onToggle func()
	onCount  func(int)
	log      zerolog.Logger
}

func NewWatcher(enum Enumerator, chord KeyChord, onToggle func(), log zerolog.Logger) *Watcher {
	return &Watcher{enum: enum, chord: chord, onToggle: onToggle, log: log}
}

// OnDeviceCount registers a callback told how many devices are watched.
func (w *Watcher) OnDeviceCount(fn func(int)) {
	w.onCount = fn
}

func (w *Watcher) reportCount(n int) {
	if w.onCount != nil {
		w.onCount(n)
	}
}

type deviceGone struct {
	device string
	err    error
}

// Run blocks until ctx is cancelled or every device has gone away.
// Having no usable device leaves the hotkey inert and returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	devices, err := w.enum.Enumerate(w.chord.Trigger)
	if err != nil {
		w.log.Warn().Err(err).Msg("hotkey device enumeration failed; hotkey disabled")
		return nil
	}
	if len(devices) == 0 {
		w.log.Warn().Str("trigger", string(w.chord.Trigger)).Msg("no input device can produce the trigger key; hotkey disabled")
		return nil
	}

	w.log.Info().Int("devices", len(devices)).Str("chord", w.chord.String()).Msg("watching hotkey devices")
	w.reportCount(len(devices))
	defer w.reportCount(0)

	events := make(chan KeyEvent, 64)
	gone := make(chan deviceGone, len(devices))

	var wg sync.WaitGroup
	for _, dev := range devices {
		wg.Add(1)
		go func(dev Device) {
			defer wg.Done()
			watchDevice(ctx, dev, events, gone)
		}(dev)
	}

	defer func() {
		for _, dev := range devices {
			_ = dev.Close()
		}
		wg.Wait()
	}()

	detector := NewDetector(w.chord)
	live := len(devices)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if detector.Handle(ev) {
				w.log.Debug().Str("device", ev.Device).Msg("hotkey chord pressed")
				if w.onToggle != nil {
					w.onToggle()
				}
			}
		case g := <-gone:
			w.drain(detector, events)
			detector.DeviceGone(g.device)
			live--
			w.reportCount(live)
			w.log.Warn().Err(g.err).Str("device", g.device).Int("remaining", live).Msg("hotkey device stopped")
			if live == 0 {
				w.log.Warn().Msg("all hotkey devices gone; hotkey disabled")
				return nil
			}
		}
	}
}

// drain applies queued events so a device's last transitions are not
// replayed after its keys have been released.
func (w *Watcher) drain(detector *Detector, events <-chan KeyEvent) {
	for {
		select {
		case ev := <-events:
			if detector.Handle(ev) && w.onToggle != nil {
				w.onToggle()
			}
		default:
			return
		}
	}
}

func watchDevice(ctx context.Context, dev Device, events chan<- KeyEvent, gone chan<- deviceGone) {
	for {
		ev, err := dev.ReadKey()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			gone <- deviceGone{device: dev.ID(), err: err}
			return
		}
		if ev.Device == "" {
			ev.Device = dev.ID()
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			gone <- deviceGone{device: dev.ID()}
			return
		}
	}
}
