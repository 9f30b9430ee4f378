package mqtt

import "sync"

// subscription holds every owner's handler for one topic pattern.
type subscription struct {
	topic    string
	qos      byte
	owners   []string
	handlers map[string]MessageHandler
}

// subscriptionRegistry maps topic patterns to their owners' handlers.
//
// The registry is the source of truth for what the client subscribes to:
// every pattern in it is (re)issued to the broker after each connect.
type subscriptionRegistry struct {
	mu      sync.RWMutex
	entries map[string]*subscription
	order   []string
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{entries: make(map[string]*subscription)}
}

// add registers handler for owner on topic. It reports whether the pattern
// is new to the registry and must therefore be issued to the broker.
func (r *subscriptionRegistry) add(owner, topic string, qos byte, handler MessageHandler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.entries[topic]
	if !ok {
		sub = &subscription{
			topic:    topic,
			qos:      qos,
			handlers: make(map[string]MessageHandler),
		}
		r.entries[topic] = sub
		r.order = append(r.order, topic)
	}
	if qos > sub.qos {
		sub.qos = qos
	}
	if _, exists := sub.handlers[owner]; !exists {
		sub.owners = append(sub.owners, owner)
	}
	sub.handlers[owner] = handler

	return !ok
}

// remove drops owner's handler from topic. It reports whether the pattern
// has no owners left.
func (r *subscriptionRegistry) remove(owner, topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(owner, topic)
}

func (r *subscriptionRegistry) removeLocked(owner, topic string) bool {
	sub, ok := r.entries[topic]
	if !ok {
		return false
	}
	if _, exists := sub.handlers[owner]; !exists {
		return false
	}

	delete(sub.handlers, owner)
	for i, o := range sub.owners {
		if o == owner {
			sub.owners = append(sub.owners[:i], sub.owners[i+1:]...)
			break
		}
	}

	if len(sub.owners) > 0 {
		return false
	}

	delete(r.entries, topic)
	for i, t := range r.order {
		if t == topic {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// removeOwner drops every handler registered by owner and returns the
// patterns left without owners.
func (r *subscriptionRegistry) removeOwner(owner string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var emptied []string
	for _, topic := range append([]string(nil), r.order...) {
		if r.removeLocked(owner, topic) {
			emptied = append(emptied, topic)
		}
	}
	return emptied
}

// match returns the handlers for a concrete topic.
//
// An exact pattern hit is returned without scanning. Otherwise every
// pattern is tested with Matches and all matching handlers are returned,
// so one topic can reach several owners. An owner whose patterns overlap
// is returned once, with the handler of its first matching pattern.
func (r *subscriptionRegistry) match(topic string) []MessageHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sub, ok := r.entries[topic]; ok {
		return sub.ordered(nil, nil)
	}

	var handlers []MessageHandler
	seen := make(map[string]bool)
	for _, pattern := range r.order {
		if Matches(pattern, topic) {
			handlers = r.entries[pattern].ordered(handlers, seen)
		}
	}
	return handlers
}

// ordered appends the handlers of s in owner order, skipping owners already
// in seen. A nil seen skips nothing.
func (s *subscription) ordered(dst []MessageHandler, seen map[string]bool) []MessageHandler {
	for _, owner := range s.owners {
		if seen != nil {
			if seen[owner] {
				continue
			}
			seen[owner] = true
		}
		dst = append(dst, s.handlers[owner])
	}
	return dst
}

// snapshot returns every pattern with its QoS in registration order.
func (r *subscriptionRegistry) snapshot() []subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make([]subscription, 0, len(r.order))
	for _, topic := range r.order {
		e := r.entries[topic]
		subs = append(subs, subscription{topic: e.topic, qos: e.qos})
	}
	return subs
}

func (r *subscriptionRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
