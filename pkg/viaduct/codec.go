package viaduct

import "fmt"

// Codec is the pluggable, application-supplied serialization capability.
// The transport never inspects payload bytes; it only ever moves what
// Encode/Decode produce and consume.
type Codec[T any] interface {
	Encode(T) ([]byte, error)
	Decode([]byte) (T, error)
}

// BytesCodec is the identity codec: payloads are already []byte. Handy for
// tests and for applications that do their own framing on top.
type BytesCodec struct{}

func (BytesCodec) Encode(v []byte) ([]byte, error) { return v, nil }
func (BytesCodec) Decode(b []byte) ([]byte, error) { return b, nil }

// codecError wraps an encode/decode failure from the application codec so
// it is distinguishable (via errors.Is) from transport/frame failures.
func codecError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrCodec, op, err)
}
