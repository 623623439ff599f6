package viaduct

import (
	"sync"

	"github.com/sandboxlabs/viaduct/pkg/vlog"
)

// Responder is handed to a requestHandler (Rx.Run's second callback) for
// exactly one incoming Request. Calling Respond sends the matching
// Response frame back to the peer. Respond has to be called before the
// handler returns: once the handler returns without having called it,
// Rx.Run sends a ResponseError frame instead, which wakes the peer's
// blocked Tx.Request with Poisoned(DroppedResponder), and a later Respond
// returns ErrProtocol. The rest of the channel is unaffected, only the
// caller blocked on that one id.
type Responder[T any] struct {
	tx *Tx[T]
	id ID

	mu   sync.Mutex
	done bool
}

func newResponder[T any](tx *Tx[T], id ID) *Responder[T] {
	return &Responder[T]{tx: tx, id: id}
}

// Respond sends msg as the Response for this request. Calling it more
// than once, or after the request's handler has returned (so close has
// already run), returns ErrProtocol.
func (r *Responder[T]) Respond(msg T) error {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return ErrProtocol
	}
	r.done = true
	r.mu.Unlock()

	return r.tx.respond(r.id, msg)
}

// close is invoked by Rx.Run once the requestHandler returns, whether or
// not Respond was ever called. If nobody answered, it sends a
// ResponseError frame for r.id, which wakes the peer's one outstanding
// requester for that id with a DroppedResponder-flavored Poisoned error;
// no other in-flight request is touched.
func (r *Responder[T]) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	if err := r.tx.dropped(r.id); err != nil {
		vlog.Warn("viaduct: failed to signal dropped responder for %s: %v", r.id, err)
	}
}
