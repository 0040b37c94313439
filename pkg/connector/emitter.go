package connector

import (
	"sort"
	"sync"

	"google.golang.org/protobuf/types/known/structpb"
)

// Emitter is an EventSource that native modules publish to. Each scan session should own one
// Emitter, constructed explicitly and shared only with the module that feeds it.
type Emitter struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[string]map[uint64]Listener
}

func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[string]map[uint64]Listener)}
}

type subscription struct {
	emitter *Emitter
	event   string
	id      uint64
	once    sync.Once
}

func (s *subscription) Remove() {
	s.once.Do(func() {
		s.emitter.mu.Lock()
		defer s.emitter.mu.Unlock()
		delete(s.emitter.listeners[s.event], s.id)
		if len(s.emitter.listeners[s.event]) == 0 {
			delete(s.emitter.listeners, s.event)
		}
	})
}

func (e *Emitter) AddListener(event string, listener Listener) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	if e.listeners[event] == nil {
		e.listeners[event] = make(map[uint64]Listener)
	}
	e.listeners[event][e.nextID] = listener
	return &subscription{emitter: e, event: event, id: e.nextID}
}

// Emit delivers payload to every listener registered for event, in registration order. It
// returns the number of listeners invoked.
func (e *Emitter) Emit(event string, payload *structpb.Struct) int {
	e.mu.Lock()
	ids := make([]uint64, 0, len(e.listeners[event]))
	for id := range e.listeners[event] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]Listener, len(ids))
	for i, id := range ids {
		listeners[i] = e.listeners[event][id]
	}
	e.mu.Unlock()

	for _, l := range listeners {
		l(payload)
	}
	return len(listeners)
}

// ListenerCount returns the number of listeners registered for event.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}
