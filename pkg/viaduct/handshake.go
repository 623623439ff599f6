package viaduct

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"

	"github.com/sandboxlabs/viaduct/pkg/vlog"
)

// tokenFlag is the argv token prefix a spawned child looks for to recover
// its end of the duplex channel. It is appended as the final
// argument rather than inserted anywhere else in argv, so application
// flag parsers that stop at "--" or that simply ignore trailing unknown
// arguments are unaffected.
const tokenFlag = "--viaduct-handshake="

// tokenDescriptor is the fixed 33-byte payload base64-encoded into the
// token: the sender's byte-order tag, a 16-byte nonce echoed back during
// the probe exchange as a sanity check, and the two platform-native
// handle values the child must recover its pipe ends from.
type tokenDescriptor struct {
	tag     byte
	nonce   ID
	handle1 uint64
	handle2 uint64
}

const tokenDescriptorSize = 1 + 16 + 8 + 8

func encodeToken(d tokenDescriptor) string {
	buf := make([]byte, tokenDescriptorSize)
	buf[0] = d.tag
	copy(buf[1:17], d.nonce[:])
	binary.BigEndian.PutUint64(buf[17:25], d.handle1)
	binary.BigEndian.PutUint64(buf[25:33], d.handle2)
	return tokenFlag + base64.RawURLEncoding.EncodeToString(buf)
}

// parseToken scans args for the handshake token, returning its decoded
// descriptor plus args with the token argument removed. Applications that
// re-parse their own flags from the returned slice never see it.
func parseToken(args []string) (tokenDescriptor, []string, error) {
	for i, a := range args {
		if len(a) < len(tokenFlag) || a[:len(tokenFlag)] != tokenFlag {
			continue
		}

		raw, err := base64.RawURLEncoding.DecodeString(a[len(tokenFlag):])
		if err != nil {
			return tokenDescriptor{}, nil, fmt.Errorf("%w: malformed handshake token: %v", ErrHandshakeFailed, err)
		}
		if len(raw) != tokenDescriptorSize {
			return tokenDescriptor{}, nil, fmt.Errorf("%w: handshake token has %d bytes, want %d", ErrHandshakeFailed, len(raw), tokenDescriptorSize)
		}

		d := tokenDescriptor{
			tag:     raw[0],
			handle1: binary.BigEndian.Uint64(raw[17:25]),
			handle2: binary.BigEndian.Uint64(raw[25:33]),
		}
		copy(d.nonce[:], raw[1:17])

		filtered := make([]string, 0, len(args)-1)
		filtered = append(filtered, args[:i]...)
		filtered = append(filtered, args[i+1:]...)
		return d, filtered, nil
	}
	return tokenDescriptor{}, nil, fmt.Errorf("%w: no handshake token found in argv", ErrHandshakeFailed)
}

// Options configures the frame-level limits a channel enforces. The zero
// value uses DefaultMaxPayload and DefaultMaxInflight.
type Options struct {
	MaxPayload  uint32
	MaxInflight int
}

func (o Options) withDefaults() Options {
	if o.MaxPayload == 0 {
		o.MaxPayload = DefaultMaxPayload
	}
	if o.MaxInflight == 0 {
		o.MaxInflight = DefaultMaxInflight
	}
	return o
}

// sendProbe writes a ByteOrderProbe frame carrying this process's own
// byte-order tag and nonce, always encoded in native order — a peer's
// first frame is the one piece of data that must be unambiguous before
// any order negotiation has happened.
func sendProbe(conn *pipeConn, nonce ID) error {
	payload := make([]byte, probePayloadSize)
	copy(payload[:16], nonce[:])
	payload[16] = byteOrderTag()

	if err := writeHeader(conn.w, header{Kind: KindByteOrderProbe, PayloadLen: probePayloadSize}, binary.NativeEndian); err != nil {
		return fmt.Errorf("%w: write probe: %v", ErrHandshakeFailed, err)
	}
	if err := conn.writeAll(payload); err != nil {
		return fmt.Errorf("%w: write probe: %v", ErrHandshakeFailed, err)
	}
	return nil
}

// recvProbe reads the peer's ByteOrderProbe frame. Unlike every later
// frame, this one cannot be decoded with a negotiated byte order — we
// don't know the peer's order yet, that's the whole point of the probe.
// The kind and reserved bytes are single octets and carry no endian
// ambiguity; the payload-length field is deliberately NOT trusted here,
// since a cross-endian peer's native-order encoding of it would decode
// to nonsense under our own native order. The probe's payload size is
// fixed by the protocol, so we simply read that many bytes directly.
func recvProbe(conn *pipeConn) (tag byte, nonce ID, err error) {
	var prefix [headerSize]byte
	if err := readFull(conn.r, prefix[:]); err != nil {
		return 0, ID{}, fmt.Errorf("%w: read probe header: %v", ErrHandshakeFailed, err)
	}
	if Kind(prefix[0]) != KindByteOrderProbe {
		return 0, ID{}, fmt.Errorf("%w: expected ByteOrderProbe, got kind %d", ErrHandshakeFailed, prefix[0])
	}

	payload := make([]byte, probePayloadSize)
	if err := readFull(conn.r, payload); err != nil {
		return 0, ID{}, fmt.Errorf("%w: read probe payload: %v", ErrHandshakeFailed, err)
	}

	copy(nonce[:], payload[:16])
	return payload[16], nonce, nil
}

func buildEndpoint[T any](conn *pipeConn, codec Codec[T], peerTag byte, opts Options) (*Tx[T], *Rx[T]) {
	order := peerOrder(peerTag)
	ep := newEndpoint(conn, codec, order, opts.MaxPayload, opts.MaxInflight)
	tx := &Tx[T]{ep: ep}
	rx := &Rx[T]{ep: ep, tx: tx}
	return tx, rx
}

// peerOrder derives which byte.Order to decode the peer's headers with,
// given the peer's one-octet tag: identical tags mean identical native
// order, so no swap is needed; differing tags mean the opposite of our
// own native order.
func peerOrder(remoteTag byte) binary.ByteOrder {
	local := byteOrderTag()
	if remoteTag == local {
		return binary.NativeEndian
	}
	if local == 0x00 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Parent spawns name with args plus an appended handshake token, wires up
// the two anonymous pipes the child will inherit, and performs the
// ByteOrderProbe exchange before returning. The returned *exec.Cmd has
// already been started; the caller owns waiting on it.
func Parent[T any](codec Codec[T], name string, args []string, opts Options) (*Tx[T], *Rx[T], *exec.Cmd, error) {
	opts = opts.withDefaults()

	pair, err := newPipePair()
	if err != nil {
		return nil, nil, nil, err
	}

	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	h1, h2, err := prepareChildHandles(cmd, pair.childRead, pair.childWrite)
	if err != nil {
		pair.parentConn.Close()
		pair.childRead.Close()
		pair.childWrite.Close()
		return nil, nil, nil, err
	}

	nonce := newID()
	token := encodeToken(tokenDescriptor{
		tag:     byteOrderTag(),
		nonce:   nonce,
		handle1: h1,
		handle2: h2,
	})
	cmd.Args = append(cmd.Args, token)

	if err := cmd.Start(); err != nil {
		pair.parentConn.Close()
		pair.childRead.Close()
		pair.childWrite.Close()
		return nil, nil, nil, fmt.Errorf("%w: spawn child: %v", ErrHandshakeFailed, err)
	}

	// The child now owns its own duplicates of these descriptors; the
	// parent's copies are no longer needed and, left open, would keep the
	// pipe from ever reporting EOF if the child died without closing them
	// itself (a second open writer/reader on the same pipe keeps it alive).
	pair.childRead.Close()
	pair.childWrite.Close()
	if err := markNonInheritable(pair.parentConn.r); err != nil {
		vlog.Warn("viaduct: %v", err)
	}
	if err := markNonInheritable(pair.parentConn.w); err != nil {
		vlog.Warn("viaduct: %v", err)
	}

	if err := sendProbe(pair.parentConn, nonce); err != nil {
		pair.parentConn.Close()
		return nil, nil, cmd, err
	}

	peerTag, peerNonce, err := recvProbe(pair.parentConn)
	if err != nil {
		pair.parentConn.Close()
		return nil, nil, cmd, err
	}
	if !bytes.Equal(peerNonce[:], nonce[:]) {
		pair.parentConn.Close()
		return nil, nil, cmd, fmt.Errorf("%w: child echoed wrong handshake nonce", ErrHandshakeFailed)
	}

	tx, rx := buildEndpoint(pair.parentConn, codec, peerTag, opts)
	return tx, rx, cmd, nil
}

// Child recovers this process's end of the duplex channel from the
// handshake token injected into its own argv, performs the matching
// probe exchange, and returns the usable Tx/Rx pair along with
// args stripped of the injected token so the application's own flag
// parsing sees an argv identical to what Parent was asked to run with.
func Child[T any](codec Codec[T], opts Options) (*Tx[T], *Rx[T], []string, error) {
	opts = opts.withDefaults()

	desc, filteredArgs, err := parseToken(os.Args[1:])
	if err != nil {
		return nil, nil, nil, err
	}

	r, err := openInheritedHandle(desc.handle1)
	if err != nil {
		return nil, nil, nil, err
	}
	w, err := openInheritedHandle(desc.handle2)
	if err != nil {
		r.Close()
		return nil, nil, nil, err
	}
	conn := newPipeConn(r, w)

	if err := sendProbe(conn, desc.nonce); err != nil {
		conn.Close()
		return nil, nil, nil, err
	}

	peerTag, peerNonce, err := recvProbe(conn)
	if err != nil {
		conn.Close()
		return nil, nil, nil, err
	}
	if !bytes.Equal(peerNonce[:], desc.nonce[:]) || peerTag != desc.tag {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("%w: parent echoed wrong handshake nonce or tag", ErrHandshakeFailed)
	}

	tx, rx := buildEndpoint(conn, codec, peerTag, opts)
	return tx, rx, filteredArgs, nil
}
