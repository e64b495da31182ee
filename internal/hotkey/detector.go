package hotkey

// KeyAction is the kind of transition reported by a device.
type KeyAction int

const (
	KeyRelease KeyAction = iota
	KeyPress
	KeyRepeat
)

// KeyEvent is one key transition read from a device.
type KeyEvent struct {
	Device string
	Key    Key
	Action KeyAction
}

// Detector evaluates the chord against the fused key set. It is not
// safe for concurrent Handle calls; the watcher funnels all device
// events through a single goroutine.
type Detector struct {
	chord KeyChord
	keys  *PressedKeySet
}

func NewDetector(chord KeyChord) *Detector {
	return &Detector{chord: chord, keys: NewPressedKeySet()}
}

// Handle applies ev to the key set and reports whether it fires a toggle.
// Only a released-to-pressed transition of the trigger can fire.
func (d *Detector) Handle(ev KeyEvent) bool {
	switch ev.Action {
	case KeyPress:
		wasHeld := d.keys.Press(ev.Device, ev.Key)
		if ev.Key != d.chord.Trigger || wasHeld {
			return false
		}
		return d.chord.ModifiersHeld(d.keys)
	case KeyRelease:
		d.keys.Release(ev.Device, ev.Key)
	}
	return false
}

// DeviceGone releases all keys of a disconnected device.
func (d *Detector) DeviceGone(device string) {
	d.keys.ReleaseDevice(device)
}

// Pressed exposes the fused key set for inspection.
func (d *Detector) Pressed() *PressedKeySet {
	return d.keys
}
