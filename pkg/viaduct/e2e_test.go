package viaduct

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"
)

// spawnHelper re-execs the test binary itself as a child process running
// TestHelperProcess in the given scenario, exactly like os/exec's own
// tests drive a disposable child without a separate fixture binary.
func spawnHelper(t *testing.T, scenario string) (*Tx[[]byte], *Rx[[]byte]) {
	t.Helper()

	os.Setenv("GO_WANT_HELPER_PROCESS", "1")
	os.Setenv("VIADUCT_SCENARIO", scenario)
	t.Cleanup(func() {
		os.Unsetenv("GO_WANT_HELPER_PROCESS")
		os.Unsetenv("VIADUCT_SCENARIO")
	})

	tx, rx, cmd, err := Parent(BytesCodec{}, os.Args[0],
		[]string{"-test.run=^TestHelperProcess$", "--"}, Options{})
	if err != nil {
		t.Fatalf("Parent: %v", err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	return tx, rx
}

// TestScenarioThreeRPCsNoResponse exercises three fire-and-forget RPCs,
// none of which expect or produce a response.
func TestScenarioThreeRPCsNoResponse(t *testing.T) {
	tx, rx := spawnHelper(t, "rpc-only")

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	go func() {
		rx.Run(func(msg []byte) {
			mu.Lock()
			got = append(got, string(msg))
			if len(got) == 3 {
				close(done)
			}
			mu.Unlock()
		}, nil)
	}()

	for i := 0; i < 3; i++ {
		if err := tx.Rpc([]byte(fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("Rpc %d: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for 3 acks")
	}

	mu.Lock()
	defer mu.Unlock()
	sort.Strings(got)
	want := []string{"ack:msg-0", "ack:msg-1", "ack:msg-2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

// TestScenarioSingleRequestResponse exercises a single request/response
// round trip end to end across two real processes.
func TestScenarioSingleRequestResponse(t *testing.T) {
	tx, rx := spawnHelper(t, "request-response")
	go rx.Run(nil, nil)

	resp, err := tx.Request([]byte("ping"))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(resp) != "pong" {
		t.Fatalf("got %q, want %q", resp, "pong")
	}
}

// TestScenarioParallelRequestsReordered exercises multiple in-flight
// requests whose responses arrive out of order; each must still be
// delivered to the correct caller.
func TestScenarioParallelRequestsReordered(t *testing.T) {
	tx, rx := spawnHelper(t, "parallel-reordered")
	go rx.Run(nil, nil)

	const count = 5
	var wg sync.WaitGroup
	results := make([]string, count)

	for n := 0; n < count; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			resp, err := tx.Request([]byte(fmt.Sprintf("%d:payload-%d", n, n)))
			if err != nil {
				t.Errorf("Request %d: %v", n, err)
				return
			}
			results[n] = string(resp)
		}(n)
	}
	wg.Wait()

	for n := 0; n < count; n++ {
		want := fmt.Sprintf("reply:%d:payload-%d", n, n)
		if results[n] != want {
			t.Fatalf("request %d: got %q, want %q", n, results[n], want)
		}
	}
}

// TestScenarioConcurrentRPCInterleaving exercises many goroutines calling
// Tx.Rpc concurrently; this must never corrupt the wire —
// every frame written is received whole, even though writeLock forces
// them to serialize.
func TestScenarioConcurrentRPCInterleaving(t *testing.T) {
	tx, rx := spawnHelper(t, "concurrent-rpc")

	const count = 200
	var mu sync.Mutex
	seen := make(map[string]bool)
	done := make(chan struct{})

	go func() {
		rx.Run(func(msg []byte) {
			mu.Lock()
			seen[string(msg)] = true
			if len(seen) == count {
				close(done)
			}
			mu.Unlock()
		}, nil)
	}()

	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := tx.Rpc([]byte(strconv.Itoa(i))); err != nil {
				t.Errorf("Rpc %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out, only saw %d of %d echoes", len(seen), count)
	}

	for i := 0; i < count; i++ {
		want := "echo:" + strconv.Itoa(i)
		if !seen[want] {
			t.Fatalf("missing echo for %d", i)
		}
	}
}

// TestScenarioDroppedResponder exercises a request handler that never
// calls Respond: it must wake only its own caller, with a Poisoned error
// wrapping ErrDroppedResponder, while the channel otherwise keeps working.
func TestScenarioDroppedResponder(t *testing.T) {
	tx, rx := spawnHelper(t, "dropped-responder")
	go rx.Run(nil, nil)

	_, err := tx.Request([]byte("drop"))
	if err == nil {
		t.Fatal("expected an error for the dropped request")
	}

	var pe *PoisonedError
	if !errors.As(err, &pe) {
		t.Fatalf("expected a *PoisonedError, got %v", err)
	}
	if !errors.Is(pe.Cause, ErrDroppedResponder) {
		t.Fatalf("expected cause to be ErrDroppedResponder, got %v", pe.Cause)
	}

	// The channel itself must still be usable afterward.
	resp, err := tx.Request([]byte("still alive"))
	if err != nil {
		t.Fatalf("channel was poisoned by a single dropped responder: %v", err)
	}
	if string(resp) != "ok:still alive" {
		t.Fatalf("got %q, want %q", resp, "ok:still alive")
	}
}
