//go:build !linux

package hotkey

import (
	"io"
	"sync"

	hook "github.com/robotn/gohook"
	"github.com/rs/zerolog"
)

// gohookKeyNames maps canonical key names to gohook key names.
var gohookKeyNames = map[Key]string{
	KeyLeftCtrl:   "ctrl",
	KeyRightCtrl:  "rctrl",
	KeyLeftShift:  "shift",
	KeyRightShift: "rshift",
	KeyLeftAlt:    "alt",
	KeyRightAlt:   "ralt",
	KeyLeftMeta:   "cmd",
	KeyRightMeta:  "rcmd",
	KeySpace:      "space",
}

// GohookEnumerator exposes the global keyboard hook as one virtual
// device; the OS already fuses all keyboards into it.
type GohookEnumerator struct {
	log zerolog.Logger
}

// NewEnumerator returns the platform device enumerator.
func NewEnumerator(log zerolog.Logger) Enumerator {
	return &GohookEnumerator{log: log}
}

func (e *GohookEnumerator) Enumerate(trigger Key) ([]Device, error) {
	codes := make(map[uint16]Key)
	for key, name := range gohookKeyNames {
		if code, ok := hook.Keycode[name]; ok {
			codes[code] = key
		}
	}
	for _, r := range "abcdefghijklmnopqrstuvwxyz0123456789" {
		name := string(r)
		if code, ok := hook.Keycode[name]; ok {
			codes[code] = Key(normalizeKeyName(name))
		}
	}

	found := false
	for _, k := range codes {
		if k == trigger {
			found = true
			break
		}
	}
	if !found {
		e.log.Warn().Str("trigger", string(trigger)).Msg("trigger key has no global hook mapping")
		return nil, nil
	}

	return []Device{&gohookDevice{events: hook.Start(), codes: codes}}, nil
}

type gohookDevice struct {
	events    chan hook.Event
	codes     map[uint16]Key
	closeOnce sync.Once
}

func (d *gohookDevice) ID() string   { return "gohook" }
func (d *gohookDevice) Name() string { return "global keyboard hook" }

func (d *gohookDevice) ReadKey() (KeyEvent, error) {
	for ev := range d.events {
		key, ok := d.codes[ev.Keycode]
		if !ok {
			continue
		}
		switch ev.Kind {
		case hook.KeyHold:
			return KeyEvent{Device: d.ID(), Key: key, Action: KeyPress}, nil
		case hook.KeyUp:
			return KeyEvent{Device: d.ID(), Key: key, Action: KeyRelease}, nil
		}
	}
	return KeyEvent{}, io.EOF
}

func (d *gohookDevice) Close() error {
	d.closeOnce.Do(hook.End)
	return nil
}
