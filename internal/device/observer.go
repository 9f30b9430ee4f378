package device

import (
	"sync"
)

// Observer is notified after every real state change. Implementations re-read
// the device state themselves.
type Observer interface {
	StateChanged(deviceID string)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(deviceID string)

// StateChanged calls f(deviceID).
func (f ObserverFunc) StateChanged(deviceID string) {
	f(deviceID)
}

// Notifier fans out state changes to observers. Each observer runs in its own
// goroutine so Notify never blocks the mutator; panics are recovered and logged.
//
// Wait may run concurrently with Notify: in-flight notifications are counted
// under pendingMu rather than with a WaitGroup.
type Notifier struct {
	mu        sync.RWMutex
	observers []Observer
	logger    Logger

	pendingMu sync.Mutex
	pending   int
	idle      *sync.Cond
}

// NewNotifier creates a notifier with no observers.
func NewNotifier() *Notifier {
	n := &Notifier{logger: noopLogger{}}
	n.idle = sync.NewCond(&n.pendingMu)
	return n
}

// Add registers an observer.
func (n *Notifier) Add(o Observer) {
	if o == nil {
		return
	}
	n.mu.Lock()
	n.observers = append(n.observers, o)
	n.mu.Unlock()
}

// Len returns the number of registered observers.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.observers)
}

// SetLogger sets the logger used for observer failures.
func (n *Notifier) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	n.mu.Lock()
	n.logger = logger
	n.mu.Unlock()
}

// Notify dispatches deviceID to every observer without waiting.
func (n *Notifier) Notify(deviceID string) {
	n.mu.RLock()
	observers := make([]Observer, len(n.observers))
	copy(observers, n.observers)
	logger := n.logger
	n.mu.RUnlock()

	if len(observers) == 0 {
		return
	}

	n.pendingMu.Lock()
	n.pending += len(observers)
	n.pendingMu.Unlock()

	for _, o := range observers {
		go func(o Observer) {
			defer n.done()
			defer func() {
				if r := recover(); r != nil {
					logger.Error("state observer panic recovered",
						"device_id", deviceID,
						"panic", r,
					)
				}
			}()
			o.StateChanged(deviceID)
		}(o)
	}
}

func (n *Notifier) done() {
	n.pendingMu.Lock()
	n.pending--
	if n.pending == 0 {
		n.idle.Broadcast()
	}
	n.pendingMu.Unlock()
}

// Wait blocks until every in-flight notification has returned. Notifications
// started while waiting are waited for as well.
func (n *Notifier) Wait() {
	n.pendingMu.Lock()
	for n.pending > 0 {
		n.idle.Wait()
	}
	n.pendingMu.Unlock()
}
