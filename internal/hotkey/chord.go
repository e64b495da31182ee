// Package hotkey detects a chorded global hotkey across every input
// device that can produce the trigger key.
package hotkey

import (
	"errors"
	"fmt"
	"strings"
)

// Key is a canonical key name using the Linux input naming, e.g. KEY_SPACE.
type Key string

const (
	KeyLeftCtrl   Key = "KEY_LEFTCTRL"
	KeyRightCtrl  Key = "KEY_RIGHTCTRL"
	KeyLeftShift  Key = "KEY_LEFTSHIFT"
	KeyRightShift Key = "KEY_RIGHTSHIFT"
	KeyLeftAlt    Key = "KEY_LEFTALT"
	KeyRightAlt   Key = "KEY_RIGHTALT"
	KeyLeftMeta   Key = "KEY_LEFTMETA"
	KeyRightMeta  Key = "KEY_RIGHTMETA"
	KeySpace      Key = "KEY_SPACE"
)

// DefaultChord is Ctrl+Shift+Space with either side modifier.
const DefaultChord = "KEY_LEFTCTRL|KEY_RIGHTCTRL+KEY_LEFTSHIFT|KEY_RIGHTSHIFT+KEY_SPACE"

var ErrInvalidChord = errors.New("invalid hotkey chord")

// KeyChord requires one key from every modifier group to be held when
// the trigger goes down.
type KeyChord struct {
	Modifiers [][]Key
	Trigger   Key
}

// ParseChord reads "A|B+C|D+T": groups joined by '+', alternatives by '|',
// the last group being the single trigger key.
func ParseChord(spec string) (KeyChord, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return KeyChord{}, fmt.Errorf("%w: empty", ErrInvalidChord)
	}

	groups := strings.Split(spec, "+")
	chord := KeyChord{}
	for i, raw := range groups {
		alts := strings.Split(raw, "|")
		keys := make([]Key, 0, len(alts))
		for _, alt := range alts {
			name := normalizeKeyName(alt)
			if name == "" {
				return KeyChord{}, fmt.Errorf("%w: empty key in %q", ErrInvalidChord, raw)
			}
			keys = append(keys, Key(name))
		}

		if i == len(groups)-1 {
			if len(keys) != 1 {
				return KeyChord{}, fmt.Errorf("%w: trigger must be a single key, got %q", ErrInvalidChord, raw)
			}
			chord.Trigger = keys[0]
			continue
		}
		chord.Modifiers = append(chord.Modifiers, keys)
	}

	for _, group := range chord.Modifiers {
		for _, k := range group {
			if k == chord.Trigger {
				return KeyChord{}, fmt.Errorf("%w: %s is both modifier and trigger", ErrInvalidChord, k)
			}
		}
	}
	return chord, nil
}

// MustParseChord panics on invalid input; for constants and tests.
func MustParseChord(spec string) KeyChord {
	chord, err := ParseChord(spec)
	if err != nil {
		panic(err)
	}
	return chord
}

func normalizeKeyName(raw string) string {
	name := strings.ToUpper(strings.TrimSpace(raw))
	if name == "" {
		return ""
	}
	if !strings.HasPrefix(name, "KEY_") {
		name = "KEY_" + name
	}
	return name
}

// ModifiersHeld reports whether every modifier group has a held member.
func (c KeyChord) ModifiersHeld(set *PressedKeySet) bool {
	for _, group := range c.Modifiers {
		if !set.HasAny(group) {
			return false
		}
	}
	return true
}

func (c KeyChord) String() string {
	parts := make([]string, 0, len(c.Modifiers)+1)
	for _, group := range c.Modifiers {
		names := make([]string, len(group))
		for i, k := range group {
			names[i] = string(k)
		}
		parts = append(parts, strings.Join(names, "|"))
	}
	parts = append(parts, string(c.Trigger))
	return strings.Join(parts, "+")
}
