// Package discovery implements the external-collaborator interface the spec
// describes but deliberately leaves unspecified: "announce(session)",
// "update_status(status)", "browse() → stream of session descriptors".
// Real LAN service advertisement/browsing (e.g. mDNS) is out of scope; this
// package gives the orchestration layer a concrete, in-process
// implementation of the documented contract so a receiver in the same
// process (or in tests) can discover a sender's handshake endpoint, and so
// the event-stream shape from the design notes (§9 "Shared discovery-to-UI
// model") is exercised end-to-end.
package discovery

import (
	"sync"

	"github.com/soyunomas/pycast/internal/session"
)

// EventKind distinguishes the three kinds of descriptor change a browser
// observes.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventUpdated EventKind = "updated"
	EventRemoved EventKind = "removed"
)

// Event is one change to a session descriptor, as published on a Browse
// stream.
type Event struct {
	Kind       EventKind
	Descriptor session.Descriptor
}

// Registry is an in-process implementation of the discovery contract: a
// sender calls Announce once and UpdateStatus as the session progresses; a
// receiver calls Browse to obtain a stream of descriptor events and reads
// the current snapshot via Sessions. It holds no state beyond what is
// announced — there is no global registry shared across processes, per the
// design note's "no global registry" guidance.
type Registry struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
	seen map[session.ID]session.Descriptor
}

// NewRegistry returns an empty discovery registry.
func NewRegistry() *Registry {
	return &Registry{
		subs: make(map[chan Event]struct{}),
		seen: make(map[session.ID]session.Descriptor),
	}
}

// Announce publishes a new session descriptor for the session's entire
// lifetime. Announcing an id that is already known replaces its descriptor
// and publishes another EventAdded.
func (r *Registry) Announce(desc session.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[desc.ID] = desc
	r.publishLocked(Event{Kind: EventAdded, Descriptor: desc})
}

// UpdateStatus transitions an already-announced session's status (e.g.
// available → busy once a receiver is admitted or START is issued).
func (r *Registry) UpdateStatus(id session.ID, status session.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	desc, ok := r.seen[id]
	if !ok {
		return
	}
	desc.Status = status
	r.seen[id] = desc
	r.publishLocked(Event{Kind: EventUpdated, Descriptor: desc})
}

// Withdraw removes a session from discovery at stop_session or natural EOF.
func (r *Registry) Withdraw(id session.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	desc, ok := r.seen[id]
	if !ok {
		return
	}
	delete(r.seen, id)
	r.publishLocked(Event{Kind: EventRemoved, Descriptor: desc})
}

// Browse returns a channel of descriptor events and a cancel function. The
// channel is seeded with EventAdded for every session already known at
// subscription time, then receives live updates until Cancel is called.
// The channel is buffered and never blocks a publisher indefinitely: a slow
// subscriber drops the oldest pending events rather than stalling Announce/
// UpdateStatus/Withdraw callers.
func (r *Registry) Browse() (events <-chan Event, cancel func()) {
	ch := make(chan Event, 32)

	r.mu.Lock()
	r.subs[ch] = struct{}{}
	for _, desc := range r.seen {
		ch <- Event{Kind: EventAdded, Descriptor: desc}
	}
	r.mu.Unlock()

	cancelFn := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
	}
	return ch, cancelFn
}

// Sessions returns a snapshot of every currently announced descriptor.
func (r *Registry) Sessions() []session.Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.Descriptor, 0, len(r.seen))
	for _, d := range r.seen {
		out = append(out, d)
	}
	return out
}

// publishLocked fans an event out to every live subscriber without
// blocking: a full subscriber channel drops the oldest queued event to make
// room, since discovery events are a best-effort feed (a browser can always
// re-derive current state from Sessions).
func (r *Registry) publishLocked(ev Event) {
	for ch := range r.subs {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
