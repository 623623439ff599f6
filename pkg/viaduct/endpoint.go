package viaduct

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
)

// DefaultMaxInflight bounds the number of outstanding Tx.Request calls an
// endpoint allows before returning ErrTooManyInflight, keeping a runaway
// caller from growing the request table without bound.
const DefaultMaxInflight = 4096

// endpoint is the state shared between a Tx[T] and its paired Rx[T]: the
// underlying transport, the write-side serialization lock, the request
// table, and the negotiated peer byte order. Splitting Tx/Rx into
// separate types that both point at one endpoint keeps the blocking
// Request/Rpc/respond path and the single-goroutine Run loop independent
// of each other.
type endpoint[T any] struct {
	conn  *pipeConn
	codec Codec[T]

	// writeLock serializes frame writes so a concurrent Rpc/Request/
	// respond never interleaves another's bytes on the wire.
	writeLock sync.Mutex

	table *requestTable[T]

	localOrder binary.ByteOrder
	peerOrder  binary.ByteOrder

	maxPayload  uint32
	maxInflight int

	// poisonedFlag/poisonCause latch the permanent failure state. Read
	// via loadPoison, written exactly once via doPoison.
	poisonedFlag atomic.Bool
	poisonMu     sync.Mutex
	poisonCause  error
}

func newEndpoint[T any](conn *pipeConn, codec Codec[T], peerOrder binary.ByteOrder, maxPayload uint32, maxInflight int) *endpoint[T] {
	return &endpoint[T]{
		conn:        conn,
		codec:       codec,
		table:       newRequestTable[T](),
		localOrder:  binary.NativeEndian,
		peerOrder:   peerOrder,
		maxPayload:  maxPayload,
		maxInflight: maxInflight,
	}
}

// doPoison transitions the endpoint to the poisoned state exactly once,
// waking every outstanding Tx.Request with cause. Subsequent calls are
// no-ops: poisoning is monotonic.
func (e *endpoint[T]) doPoison(cause error) {
	e.poisonMu.Lock()
	if e.poisonedFlag.Load() {
		e.poisonMu.Unlock()
		return
	}
	e.poisonCause = cause
	e.poisonedFlag.Store(true)
	e.poisonMu.Unlock()

	e.table.poison(cause)
	e.conn.Close()
}

func (e *endpoint[T]) loadPoison() error {
	if !e.poisonedFlag.Load() {
		return nil
	}
	e.poisonMu.Lock()
	defer e.poisonMu.Unlock()
	return poisoned(e.poisonCause)
}
