package device

import (
	"reflect"
	"sync"
)

// stateModel holds one device's state. Snapshots are copy-on-write: Update
// builds a new map and swaps it in, so a returned snapshot is never mutated.
type stateModel struct {
	deviceID string

	mu       sync.Mutex
	snapshot State
	notifier *Notifier
}

func newStateModel(deviceID, name string, notifier *Notifier) *stateModel {
	return &stateModel{
		deviceID: deviceID,
		snapshot: State{StateKeyID: deviceID, StateKeyName: name},
		notifier: notifier,
	}
}

// current returns the live snapshot. Callers must not modify it.
func (s *stateModel) current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func (s *stateModel) setNotifier(n *Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

func (s *stateModel) getNotifier() *Notifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifier
}

// update merges partial onto the snapshot and returns the keys that changed.
// Observers are notified only when at least one key changed.
func (s *stateModel) update(partial map[string]any) []string {
	if len(partial) == 0 {
		return nil
	}

	s.mu.Lock()
	var changed []string
	for k, v := range partial {
		if !valuesEqual(s.snapshot[k], v) {
			changed = append(changed, k)
		}
	}
	if len(changed) == 0 {
		s.mu.Unlock()
		return nil
	}

	next := make(State, len(s.snapshot)+len(partial))
	for k, v := range s.snapshot {
		next[k] = v
	}
	for k, v := range partial {
		next[k] = v
	}
	s.snapshot = next
	notifier := s.notifier
	s.mu.Unlock()

	if notifier != nil {
		notifier.Notify(s.deviceID)
	}
	return changed
}

// valuesEqual compares state values. Numbers compare by value regardless of
// their Go type so that 42 and 42.0 are the same reading.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if fa, ok := numeric(a); ok {
		if fb, ok := numeric(b); ok {
			return fa == fb
		}
		return false
	}

	return reflect.DeepEqual(a, b)
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
