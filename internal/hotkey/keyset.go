package hotkey

import (
	"sort"
	"sync"
)

// PressedKeySet is the union of held keys over all watched devices.
// A key stays asserted while at least one device holds it.
type PressedKeySet struct {
	mu   sync.RWMutex
	held map[Key]map[string]struct{}
}

func NewPressedKeySet() *PressedKeySet {
	return &PressedKeySet{held: make(map[Key]map[string]struct{})}
}

// Press marks key as held by device and reports whether the key was
// already asserted by any device before the call.
func (s *PressedKeySet) Press(device string, key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	holders, ok := s.held[key]
	wasHeld := ok && len(holders) > 0
	if !ok {
		holders = make(map[string]struct{})
		s.held[key] = holders
	}
	holders[device] = struct{}{}
	return wasHeld
}

func (s *PressedKeySet) Release(device string, key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	holders, ok := s.held[key]
	if !ok {
		return
	}
	delete(holders, device)
	if len(holders) == 0 {
		delete(s.held, key)
	}
}

// ReleaseDevice drops every key held by a device that went away.
func (s *PressedKeySet) ReleaseDevice(device string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, holders := range s.held {
		delete(holders, device)
		if len(holders) == 0 {
			delete(s.held, key)
		}
	}
}

func (s *PressedKeySet) Has(key Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.held[key]) > 0
}

func (s *PressedKeySet) HasAny(keys []Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range keys {
		if len(s.held[k]) > 0 {
			return true
		}
	}
	return false
}

// Snapshot returns the held keys sorted by name.
func (s *PressedKeySet) Snapshot() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Key, 0, len(s.held))
	for k := range s.held {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
