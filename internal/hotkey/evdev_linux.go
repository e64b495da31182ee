//go:build linux

package hotkey

import (
	"fmt"

	evdev "github.com/holoplot/go-evdev"
	"github.com/rs/zerolog"

	"voxin/internal/logging"
)

// EvdevEnumerator opens /dev/input/event* devices. Reading them needs
// membership of the input group or equivalent permissions.
type EvdevEnumerator struct {
	log zerolog.Logger
}

// NewEnumerator returns the platform device enumerator.
func NewEnumerator(log zerolog.Logger) Enumerator {
	return &EvdevEnumerator{log: log}
}

func (e *EvdevEnumerator) Enumerate(trigger Key) ([]Device, error) {
	code, ok := evdev.KEYFromString[string(trigger)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key %s", ErrInvalidChord, trigger)
	}

	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}

	var devices []Device
	for _, p := range paths {
		dev, err := evdev.Open(p.Path)
		if err != nil {
			e.log.Debug().Err(err).Str("device", p.Path).Msg("skipping input device")
			continue
		}
		if !canEmit(dev, code) {
			_ = dev.Close()
			continue
		}
		devLog := logging.WithDevice(p.Path, p.Name)
		devLog.Debug().Msg("input device selected")
		devices = append(devices, &evdevDevice{dev: dev, path: p.Path, name: p.Name})
	}
	return devices, nil
}

func canEmit(dev *evdev.InputDevice, code evdev.EvCode) bool {
	for _, c := range dev.CapableEvents(evdev.EV_KEY) {
		if c == code {
			return true
		}
	}
	return false
}

type evdevDevice struct {
	dev  *evdev.InputDevice
	path string
	name string
}

func (d *evdevDevice) ID() string   { return d.path }
func (d *evdevDevice) Name() string { return d.name }

func (d *evdevDevice) ReadKey() (KeyEvent, error) {
	for {
		ev, err := d.dev.ReadOne()
		if err != nil {
			return KeyEvent{}, err
		}
		if ev.Type != evdev.EV_KEY {
			continue
		}
		name, ok := evdev.KEYToString[ev.Code]
		if !ok {
			continue
		}

		out := KeyEvent{Device: d.path, Key: Key(name)}
		switch ev.Value {
		case 0:
			out.Action = KeyRelease
		case 1:
			out.Action = KeyPress
		default:
			out.Action = KeyRepeat
		}
		return out, nil
	}
}

func (d *evdevDevice) Close() error {
	return d.dev.Close()
}
