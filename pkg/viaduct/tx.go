package viaduct

import "fmt"

// Tx is the sending half of a viaduct channel.
// It is safe for concurrent use: Rpc, Request and the Responder.Respond
// it hands out all serialize through the shared endpoint's writeLock, so
// frames from different goroutines are never interleaved on the wire.
type Tx[T any] struct {
	ep *endpoint[T]
}

// Rpc sends a fire-and-forget message with no correlation id and no
// response. It returns once the frame has been handed to the OS pipe,
// not once the peer has processed it.
func (tx *Tx[T]) Rpc(msg T) error {
	if err := tx.ep.loadPoison(); err != nil {
		return err
	}

	payload, err := tx.ep.codec.Encode(msg)
	if err != nil {
		return codecError("encode", err)
	}
	if uint64(len(payload)) > uint64(tx.ep.maxPayload) {
		return fmt.Errorf("%w: payload length %d exceeds limit %d", ErrFrame, len(payload), tx.ep.maxPayload)
	}

	if err := tx.writeFrame(header{Kind: KindRpc, PayloadLen: uint32(len(payload))}, payload); err != nil {
		tx.ep.doPoison(err)
		return err
	}
	return nil
}

// Request sends msg tagged with a fresh id and blocks until the peer's
// matching Response arrives or the channel is poisoned. There is no
// per-call timeout primitive, so Request blocks until one of those two
// outcomes.
func (tx *Tx[T]) Request(msg T) (T, error) {
	var zero T

	if err := tx.ep.loadPoison(); err != nil {
		return zero, err
	}

	if tx.ep.table.count() >= tx.ep.maxInflight {
		return zero, fmt.Errorf("%w: limit %d", ErrTooManyInflight, tx.ep.maxInflight)
	}

	id := newID()
	ch, err := tx.ep.table.install(id)
	if err != nil {
		return zero, err
	}

	payload, err := tx.ep.codec.Encode(msg)
	if err != nil {
		tx.ep.table.cancel(id)
		return zero, codecError("encode", err)
	}
	if uint64(len(payload)) > uint64(tx.ep.maxPayload) {
		tx.ep.table.cancel(id)
		return zero, fmt.Errorf("%w: payload length %d exceeds limit %d", ErrFrame, len(payload), tx.ep.maxPayload)
	}

	if err := tx.writeFrame(header{Kind: KindRequest, PayloadLen: uint32(len(payload)), ID: id}, payload); err != nil {
		tx.ep.table.cancel(id)
		tx.ep.doPoison(err)
		return zero, err
	}

	r := <-ch
	return r.value, r.err
}

// respond sends a Response frame for id. It is only ever called through a
// Responder (responder.go); the requestHandler that produced msg never
// touches Tx directly for this, since the id carried on the original
// Request frame already says unambiguously which reply this is.
func (tx *Tx[T]) respond(id ID, msg T) error {
	if err := tx.ep.loadPoison(); err != nil {
		return err
	}

	payload, err := tx.ep.codec.Encode(msg)
	if err != nil {
		return codecError("encode", err)
	}
	if uint64(len(payload)) > uint64(tx.ep.maxPayload) {
		return fmt.Errorf("%w: payload length %d exceeds limit %d", ErrFrame, len(payload), tx.ep.maxPayload)
	}

	if err := tx.writeFrame(header{Kind: KindResponse, PayloadLen: uint32(len(payload)), ID: id}, payload); err != nil {
		tx.ep.doPoison(err)
		return err
	}
	return nil
}

// dropped sends a KindResponseError frame telling the peer that the
// request it issued for id will never receive an application-level
// Response — its Responder was dropped without a reply.
func (tx *Tx[T]) dropped(id ID) error {
	if err := tx.ep.loadPoison(); err != nil {
		return err
	}
	if err := tx.writeFrame(header{Kind: KindResponseError, ID: id}, nil); err != nil {
		tx.ep.doPoison(err)
		return err
	}
	return nil
}

func (tx *Tx[T]) writeFrame(h header, payload []byte) error {
	tx.ep.writeLock.Lock()
	defer tx.ep.writeLock.Unlock()

	if err := writeHeader(tx.ep.conn.w, h, tx.ep.localOrder); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if len(payload) > 0 {
		if err := tx.ep.conn.writeAll(payload); err != nil {
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
	}
	return nil
}
