package viaduct

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Kind is the one-byte frame discriminant.
type Kind uint8

const (
	KindRpc            Kind = 0
	KindRequest        Kind = 1
	KindResponse       Kind = 2
	KindByteOrderProbe Kind = 3

	// KindResponseError signals that the peer received a Request but its
	// handler dropped the Responder without ever calling Respond. It
	// carries no payload beyond the id: the only thing the originating
	// side needs is to know which outstanding request to wake, and with
	// what cause (always ErrDroppedResponder). Waking exactly one blocked
	// caller requires a real wire signal, since the responder and the
	// blocked caller are different processes.
	KindResponseError Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindRpc:
		return "Rpc"
	case KindRequest:
		return "Request"
	case KindResponse:
		return "Response"
	case KindByteOrderProbe:
		return "ByteOrderProbe"
	case KindResponseError:
		return "ResponseError"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

func (k Kind) hasID() bool {
	return k == KindRequest || k == KindResponse || k == KindResponseError
}

// headerSize is the 6-byte fixed prefix: kind(1) + reserved(1) + payload
// length(4). The 16-byte request id, when present, immediately follows,
// rather than splitting the id across the header and payload region.
const headerSize = 6

// idSize is the width of a request/response correlation id on the wire.
const idSize = 16

// DefaultMaxPayload is the default ceiling on a single frame's payload.
const DefaultMaxPayload = 16 * 1024 * 1024

// MaxPayloadLimit is the hard ceiling imposed by the 32-bit length field.
const MaxPayloadLimit = 1<<32 - 1

// header is the decoded, byte-order-independent representation of a
// frame's fixed prefix.
type header struct {
	Kind       Kind
	PayloadLen uint32
	ID         ID
}

// frameOrder maps whether the local and remote byte-order tags match to a
// byte order: little-endian on a match, big-endian otherwise. It does not
// consult this host's native order; Tx encodes headers with the endpoint's
// localOrder and Rx.Run decodes them with peerOrder.
func frameOrder(sameOrder bool) binary.ByteOrder {
	if sameOrder {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// writeHeader writes h's fixed prefix (and, when present, its id) to w
// using order for the multi-byte payload-length field. The request id is
// an opaque 16-byte blob and is never byte-swapped: both peers only ever
// compare it for equality, they never interpret it as an integer.
func writeHeader(w io.Writer, h header, order binary.ByteOrder) error {
	buf := make([]byte, headerSize, headerSize+idSize)
	buf[0] = byte(h.Kind)
	buf[1] = 0 // reserved
	order.PutUint32(buf[2:6], h.PayloadLen)

	if h.Kind.hasID() {
		buf = append(buf, h.ID[:]...)
	}

	_, err := w.Write(buf)
	return err
}

// readHeaderPrefix reads the raw 6-byte fixed prefix from r, returning the
// underlying io error untranslated so callers that care about the
// clean-EOF-vs-mid-frame distinction (namely Rx.Run) can inspect it with
// io.ReadFull's own io.EOF/io.ErrUnexpectedEOF convention before it gets
// wrapped into ErrTransport.
func readHeaderPrefix(r io.Reader) ([headerSize]byte, error) {
	var buf [headerSize]byte
	_, err := io.ReadFull(r, buf[:])
	return buf, err
}

// decodeHeaderPrefix validates and decodes a raw 6-byte prefix.
func decodeHeaderPrefix(buf [headerSize]byte, order binary.ByteOrder, maxPayload uint32) (Kind, uint32, error) {
	kind := Kind(buf[0])
	switch kind {
	case KindRpc, KindRequest, KindResponse, KindByteOrderProbe, KindResponseError:
	default:
		return 0, 0, fmt.Errorf("%w: unknown frame kind %d", ErrFrame, buf[0])
	}

	payloadLen := order.Uint32(buf[2:6])
	if payloadLen > maxPayload {
		return 0, 0, fmt.Errorf("%w: payload length %d exceeds limit %d", ErrFrame, payloadLen, maxPayload)
	}

	return kind, payloadLen, nil
}

// readHeader reads and decodes one full frame header (prefix + id, if
// present) from r in a single call, wrapping any I/O failure as
// ErrTransport. Convenience wrapper over readHeaderPrefix/
// decodeHeaderPrefix for callers that don't need to distinguish a clean
// EOF from a mid-frame failure.
func readHeader(r io.Reader, order binary.ByteOrder, maxPayload uint32) (header, error) {
	buf, err := readHeaderPrefix(r)
	if err != nil {
		return header{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	kind, payloadLen, err := decodeHeaderPrefix(buf, order, maxPayload)
	if err != nil {
		return header{}, err
	}

	h := header{Kind: kind, PayloadLen: payloadLen}

	if h.Kind.hasID() {
		if err := readFull(r, h.ID[:]); err != nil {
			return header{}, err
		}
	}

	return h, nil
}

// readFull reads exactly len(buf) bytes from r, translating any failure,
// including a partial read followed by EOF, into ErrTransport so the caller
// never confuses a mid-frame disconnect with a clean shutdown (io.EOF is
// only "clean" when it happens on a fresh frame boundary; Rx.Run makes that
// distinction itself on the result of readHeaderPrefix).
func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// probePayloadSize is the fixed size of a ByteOrderProbe frame's payload:
// a 16-byte nonce followed by the sender's one-octet byte-order tag.
const probePayloadSize = 16 + 1

// byteOrderTag returns this process's wire byte-order tag.
func byteOrderTag() byte {
	var buf [2]byte
	binary.NativeEndian.PutUint16(buf[:], 1)
	if buf[0] == 1 {
		return 0x00 // little-endian
	}
	return 0x01 // big-endian
}
