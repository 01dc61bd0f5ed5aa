package provider

import "sync"

// Handler receives events for the project it was subscribed to.
type Handler func(Event)

// Bus fans decoded socket events out to per-project handlers. The zero value
// is ready to use.
type Bus struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[string]map[uint64]Handler
}

// Subscription is the handle returned by Subscribe. Detach removes the
// handler; calling it more than once is a no-op.
type Subscription struct {
	bus       *Bus
	projectID string
	id        uint64
	once      sync.Once
}

// Subscribe attaches h to every future event for projectID.
func (b *Bus) Subscribe(projectID string, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[string]map[uint64]Handler)
	}
	b.next++
	set, ok := b.handlers[projectID]
	if !ok {
		set = make(map[uint64]Handler)
		b.handlers[projectID] = set
	}
	set[b.next] = h
	return &Subscription{bus: b, projectID: projectID, id: b.next}
}

// Publish delivers ev synchronously to the handlers of its project.
func (b *Bus) Publish(ev Event) {
	if ev == nil {
		return
	}
	b.mu.RLock()
	set := b.handlers[ev.ProjectID()]
	handlers := make([]Handler, 0, len(set))
	for _, h := range set {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Len returns the number of handlers attached to projectID.
func (b *Bus) Len(projectID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[projectID])
}

// Detach removes the subscription's handler from the bus.
func (s *Subscription) Detach() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()
		set := b.handlers[s.projectID]
		delete(set, s.id)
		if len(set) == 0 {
			delete(b.handlers, s.projectID)
		}
	})
}
