package websocket

import (
	"sync"

	"github.com/sushiag/signaling-socket/internal/frame"
)

// Listener receives the events a Socket publishes. Nil fields are skipped.
// All callbacks run on the socket's event loop, one at a time, so they must not
// block. Calling Send, Close or Shutdown from a callback is fine.
type Listener struct {
	Connect      func()
	Disconnect   func(err error)
	Authenticate func(frame.AuthenticateEvent)
	Join         func(frame.JoinEvent)
	Leave        func(frame.LeaveEvent)
	SetClient    func(frame.SetClientEvent)
	Signal       func(frame.SignalEvent)
	SetIDs       func(frame.SetIDsEvent)

	// Event is called for every decoded server event, after the typed callback.
	Event func(frame.Event)
}

func (l Listener) dispatch(ev frame.Event) {
	switch ev := ev.(type) {
	case frame.AuthenticateEvent:
		if l.Authenticate != nil {
			l.Authenticate(ev)
		}
	case frame.JoinEvent:
		if l.Join != nil {
			l.Join(ev)
		}
	case frame.LeaveEvent:
		if l.Leave != nil {
			l.Leave(ev)
		}
	case frame.SetClientEvent:
		if l.SetClient != nil {
			l.SetClient(ev)
		}
	case frame.SignalEvent:
		if l.Signal != nil {
			l.Signal(ev)
		}
	case frame.SetIDsEvent:
		if l.SetIDs != nil {
			l.SetIDs(ev)
		}
	}

	if l.Event != nil {
		l.Event(ev)
	}
}

type listenerEntry struct {
	id uint64
	l  Listener
}

type registry struct {
	mu      sync.Mutex
	nextID  uint64
	entries []listenerEntry
}

func (r *registry) add(l Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.entries = append(r.entries, listenerEntry{id: id, l: l})

	return func() { r.remove(id) }
}

func (r *registry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

func (r *registry) snapshot() []Listener {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Listener, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.l
	}
	return out
}

func (r *registry) connect() {
	for _, l := range r.snapshot() {
		if l.Connect != nil {
			l.Connect()
		}
	}
}

func (r *registry) disconnect(err error) {
	for _, l := range r.snapshot() {
		if l.Disconnect != nil {
			l.Disconnect(err)
		}
	}
}

func (r *registry) event(ev frame.Event) {
	for _, l := range r.snapshot() {
		l.dispatch(ev)
	}
}
