// Package bus is a small named-event bus. Handlers run synchronously on the
// emitting goroutine, in subscription order.
package bus

import "sync"

// Handler receives an event payload.
type Handler func(payload any)

type subscription struct {
	id int
	h  Handler
}

// Bus routes named events to subscribers. The zero value is ready to use.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]subscription
	next int
}

// New returns an empty bus.
func New() *Bus { return &Bus{} }

// On subscribes h to event and returns the bus for chaining.
func (b *Bus) On(event string, h Handler) *Bus {
	b.Subscribe(event, h)
	return b
}

// Subscribe adds h to event and returns a function removing it again.
func (b *Bus) Subscribe(event string, h Handler) (cancel func()) {
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[string][]subscription)
	}
	b.next++
	id := b.next
	b.subs[event] = append(b.subs[event], subscription{id: id, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(event, id) })
	}
}

func (b *Bus) remove(event string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[event]
	for i, s := range subs {
		if s.id == id {
			out := make([]subscription, 0, len(subs)-1)
			out = append(out, subs[:i]...)
			b.subs[event] = append(out, subs[i+1:]...)
			return
		}
	}
}

// Off removes every handler of event.
func (b *Bus) Off(event string) {
	b.mu.Lock()
	delete(b.subs, event)
	b.mu.Unlock()
}

// Emit delivers payload to the handlers subscribed when Emit was called.
// Handlers may subscribe, unsubscribe or emit re-entrantly.
func (b *Bus) Emit(event string, payload any) {
	b.mu.RLock()
	subs := b.subs[event]
	b.mu.RUnlock()
	for _, s := range subs {
		s.h(payload)
	}
}

// Len reports the number of handlers for event.
func (b *Bus) Len(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[event])
}
