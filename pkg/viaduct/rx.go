package viaduct

import (
	"errors"
	"fmt"
	"io"

	"github.com/sandboxlabs/viaduct/pkg/vlog"
)

// RpcHandler processes a fire-and-forget message received via Rx.Run.
type RpcHandler[T any] func(msg T)

// RequestHandler processes an incoming Request and must call r.Respond
// before it returns (or deliberately not call it) — see Responder's doc
// comment for what happens if it doesn't.
type RequestHandler[T any] func(msg T, r *Responder[T])

// Rx is the receiving half of a viaduct channel. Run must only ever be
// called once, from a single goroutine; it dispatches every frame
// synchronously in read order, handing control to rpcHandler or
// requestHandler before reading the next frame, so responses for
// concurrent requests can arrive and be delivered in any order relative
// to each other, but a single Rx never processes two frames at once.
type Rx[T any] struct {
	ep *endpoint[T]
	tx *Tx[T]
}

// Run reads frames until the peer closes its write end cleanly (returns
// nil, having poisoned the endpoint with ErrEOF so any blocked or future
// Tx.Request is woken rather than left hanging) or a transport/frame/
// protocol error occurs (returns that error, having likewise poisoned the
// endpoint and woken every blocked Tx.Request). Response frames are
// dispatched to the request table directly; Rpc and Request frames are
// handed to the caller's handlers.
func (rx *Rx[T]) Run(rpcHandler RpcHandler[T], requestHandler RequestHandler[T]) error {
	for {
		prefix, err := readHeaderPrefix(rx.ep.conn.r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Clean shutdown: the peer closed its write end between
				// frames, not mid-frame. Run itself reports this as Ok, but
				// any Tx.Request already blocked on a response that will now
				// never arrive must still be woken, and the dead request
				// table must refuse further installs rather than let a later
				// Tx.Request hang forever with no Rx.Run left to ever
				// complete it.
				rx.ep.doPoison(ErrEOF)
				return nil
			}
			wrapped := fmt.Errorf("%w: %v", ErrTransport, err)
			rx.ep.doPoison(wrapped)
			return wrapped
		}

		kind, payloadLen, err := decodeHeaderPrefix(prefix, rx.ep.peerOrder, rx.ep.maxPayload)
		if err != nil {
			rx.ep.doPoison(err)
			return err
		}

		var id ID
		if kind.hasID() {
			if err := readFull(rx.ep.conn.r, id[:]); err != nil {
				rx.ep.doPoison(err)
				return err
			}
		}

		payload := make([]byte, payloadLen)
		if payloadLen > 0 {
			if err := readFull(rx.ep.conn.r, payload); err != nil {
				rx.ep.doPoison(err)
				return err
			}
		}

		vlog.Debug("viaduct: rx %s id=%s len=%d", kind, id, payloadLen)

		switch kind {
		case KindRpc:
			msg, err := rx.ep.codec.Decode(payload)
			if err != nil {
				// Malformed payload on this one message only; no caller
				// is blocked waiting on it, so just drop it and keep
				// reading rather than tearing down the endpoint.
				vlog.Error("viaduct: rx dropping malformed rpc: %v", err)
				continue
			}
			if rpcHandler != nil {
				rpcHandler(msg)
			}

		case KindRequest:
			msg, err := rx.ep.codec.Decode(payload)
			if err != nil {
				wrapped := codecError("decode request", err)
				rx.ep.doPoison(wrapped)
				return wrapped
			}
			responder := newResponder(rx.tx, id)
			if requestHandler != nil {
				requestHandler(msg, responder)
			}
			responder.close()

		case KindResponse:
			msg, err := rx.ep.codec.Decode(payload)
			if err != nil {
				// Only the one waiter for this id is affected; drop the
				// bad frame and keep the loop running for everyone else.
				rx.ep.table.completeErr(id, codecError("decode response", err))
				continue
			}
			rx.ep.table.complete(id, msg)

		case KindResponseError:
			rx.ep.table.completeErr(id, poisoned(ErrDroppedResponder))

		case KindByteOrderProbe:
			// A second probe after handshake completion is a protocol
			// violation; treat it the same as any other frame error.
			wrapped := fmt.Errorf("%w: unexpected ByteOrderProbe after handshake", ErrFrame)
			rx.ep.doPoison(wrapped)
			return wrapped
		}
	}
}
