package viaduct

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

// TestHelperProcess is never run as a real test. It is re-exec'd as a
// disposable child process by the end-to-end tests in e2e_test.go,
// following the standard pattern os/exec's own test suite uses for
// driving a second real OS process without a separately built fixture
// binary. `go test` (without GO_WANT_HELPER_PROCESS set) runs it as an
// ordinary, instantly-passing test and otherwise ignores it.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	runHelperProcess()
}

// runHelperProcess performs the handshake as the child half of a viaduct
// channel and then runs one of the named scenarios below, chosen by the
// VIADUCT_SCENARIO environment variable. It calls os.Exit directly since,
// once re-exec'd, this process is acting as a standalone program rather
// than as part of the surrounding test run.
func runHelperProcess() {
	tx, rx, _, err := Child(BytesCodec{}, Options{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "child handshake failed:", err)
		os.Exit(1)
	}

	switch os.Getenv("VIADUCT_SCENARIO") {
	case "rpc-only":
		helperRPCOnly(tx, rx)
	case "request-response":
		helperRequestResponse(tx, rx)
	case "parallel-reordered":
		helperParallelReordered(tx, rx)
	case "concurrent-rpc":
		helperConcurrentRPC(tx, rx)
	case "dropped-responder":
		helperDroppedResponder(tx, rx)
	default:
		fmt.Fprintln(os.Stderr, "unknown VIADUCT_SCENARIO")
		os.Exit(1)
	}

	os.Exit(0)
}

// helperRPCOnly acknowledges every Rpc it receives with an "ack:"-prefixed
// Rpc of its own, then exits once the parent closes its end (scenario 1:
// three RPCs, no response expected by the sender).
func helperRPCOnly(tx *Tx[[]byte], rx *Rx[[]byte]) {
	rx.Run(func(msg []byte) {
		tx.Rpc([]byte("ack:" + string(msg)))
	}, nil)
}

// helperRequestResponse answers a single "ping" request with "pong"
// (scenario 2).
func helperRequestResponse(tx *Tx[[]byte], rx *Rx[[]byte]) {
	rx.Run(nil, func(msg []byte, r *Responder[[]byte]) {
		if string(msg) == "ping" {
			r.Respond([]byte("pong"))
			return
		}
		r.Respond([]byte("unrecognized"))
	})
}

// helperParallelReordered answers each request "N:text" from a goroutine
// after a delay proportional to (count - N), so request 0 is answered last
// and request count-1 first, whatever order they arrived in — proving the
// caller's request table correlates replies by id rather than by arrival
// or completion order (scenario 3).
func helperParallelReordered(tx *Tx[[]byte], rx *Rx[[]byte]) {
	const count = 5

	rx.Run(nil, func(msg []byte, r *Responder[[]byte]) {
		parts := strings.SplitN(string(msg), ":", 2)
		n, err := strconv.Atoi(parts[0])
		if err != nil {
			r.Respond([]byte("bad request"))
			return
		}

		go func() {
			// The lower N, the longer the wait, so responses come back
			// in descending order of N.
			time.Sleep(time.Duration(count-n) * 20 * time.Millisecond)
			r.Respond([]byte(fmt.Sprintf("reply:%d:%s", n, parts[1])))
		}()
	})
}

// helperConcurrentRPC echoes every Rpc payload back verbatim, prefixed
// with "echo:", allowing the parent to verify that many concurrently-sent
// RPCs all arrive intact (scenario 4).
func helperConcurrentRPC(tx *Tx[[]byte], rx *Rx[[]byte]) {
	rx.Run(func(msg []byte) {
		tx.Rpc([]byte("echo:" + string(msg)))
	}, nil)
}

// helperDroppedResponder deliberately never calls Respond for a request
// whose payload is "drop", simulating a request handler that panics or
// otherwise abandons its Responder; any other request is answered
// normally, demonstrating that the dropped request's local failure does
// not poison the rest of the channel (scenario 5).
func helperDroppedResponder(tx *Tx[[]byte], rx *Rx[[]byte]) {
	rx.Run(nil, func(msg []byte, r *Responder[[]byte]) {
		if string(msg) == "drop" {
			return
		}
		r.Respond([]byte("ok:" + string(msg)))
	})
}
