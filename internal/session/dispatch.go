package session

import (
	"sync"

	"github.com/avolkovv/relaypub/internal/wire"
)

// frameHandler claims inbound frames matching its predicate. Handlers run on
// the read-loop goroutine, strictly in frame arrival order.
type frameHandler struct {
	match  func(wire.Envelope) bool
	handle func(wire.Envelope)
}

// dispatcher routes each inbound frame to the first handler whose predicate
// matches. Handlers are added and removed explicitly; order of registration is
// dispatch order.
type dispatcher struct {
	mu      sync.Mutex
	seq     uint64
	entries []dispEntry
}

type dispEntry struct {
	id uint64
	h  frameHandler
}

func newDispatcher() *dispatcher {
	return &dispatcher{}
}

// add registers a handler and returns its removal func. Removal is idempotent.
func (d *dispatcher) add(h frameHandler) (remove func()) {
	d.mu.Lock()
	id := d.seq
	d.seq++
	d.entries = append(d.entries, dispEntry{id: id, h: h})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, e := range d.entries {
			if e.id == id {
				d.entries = append(d.entries[:i], d.entries[i+1:]...)
				return
			}
		}
	}
}

// dispatch offers env to handlers in order; the first match claims it.
// Returns false when no handler matched.
func (d *dispatcher) dispatch(env wire.Envelope) bool {
	d.mu.Lock()
	entries := make([]dispEntry, len(d.entries))
	copy(entries, d.entries)
	d.mu.Unlock()

	for _, e := range entries {
		if e.h.match(env) {
			e.h.handle(env)
			return true
		}
	}
	return false
}

// okResult is a relay acknowledgement for one correlated operation.
type okResult struct {
	ok     bool
	reason string
}

// pendingOp is the single-slot correlation target: at most one exists per
// session at a time, keyed by the signed event's ID.
type pendingOp struct {
	id  string
	res chan okResult // buffered 1
}
