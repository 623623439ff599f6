package viaduct

import (
	"errors"
	"testing"
)

func TestRequestTableCompleteDeliversValue(t *testing.T) {
	tbl := newRequestTable[string]()
	id := newID()

	ch, err := tbl.install(id)
	if err != nil {
		t.Fatalf("install: %v", err)
	}

	tbl.complete(id, "hello")

	r := <-ch
	if r.err != nil {
		t.Fatalf("unexpected error: %v", r.err)
	}
	if r.value != "hello" {
		t.Fatalf("got %q, want %q", r.value, "hello")
	}
	if tbl.count() != 0 {
		t.Fatalf("expected slot to be removed after completion")
	}
}

func TestRequestTableCompleteUnknownIDIsNoop(t *testing.T) {
	tbl := newRequestTable[string]()
	// Completing an id nobody installed must not panic or block.
	tbl.complete(newID(), "nobody is listening")
}

func TestRequestTableCompleteErrDeliversError(t *testing.T) {
	tbl := newRequestTable[string]()
	id := newID()

	ch, err := tbl.install(id)
	if err != nil {
		t.Fatalf("install: %v", err)
	}

	sentinel := errors.New("boom")
	tbl.completeErr(id, sentinel)

	r := <-ch
	if !errors.Is(r.err, sentinel) {
		t.Fatalf("got %v, want wrapping of %v", r.err, sentinel)
	}
}

func TestRequestTablePoisonWakesAllWaiters(t *testing.T) {
	tbl := newRequestTable[string]()

	const n = 8
	chans := make([]chan result[string], n)
	for i := 0; i < n; i++ {
		ch, err := tbl.install(newID())
		if err != nil {
			t.Fatalf("install %d: %v", i, err)
		}
		chans[i] = ch
	}

	cause := errors.New("transport died")
	tbl.poison(cause)

	for i, ch := range chans {
		r := <-ch
		var pe *PoisonedError
		if !errors.As(r.err, &pe) {
			t.Fatalf("waiter %d: got %v, want *PoisonedError", i, r.err)
		}
		if !errors.Is(r.err, cause) {
			t.Fatalf("waiter %d: poisoned error does not wrap cause", i)
		}
	}
}

func TestRequestTableInstallFailsAfterPoison(t *testing.T) {
	tbl := newRequestTable[string]()
	tbl.poison(errors.New("dead"))

	if _, err := tbl.install(newID()); err == nil {
		t.Fatalf("expected install to fail on a poisoned table")
	}
}

func TestRequestTablePoisonIsMonotonic(t *testing.T) {
	tbl := newRequestTable[string]()
	first := errors.New("first cause")
	second := errors.New("second cause")

	tbl.poison(first)
	tbl.poison(second)

	poisoned, cause := tbl.isPoisoned()
	if !poisoned {
		t.Fatalf("expected table to be poisoned")
	}
	if !errors.Is(cause, first) {
		t.Fatalf("expected the first poisoning cause to stick, got %v", cause)
	}
}

func TestRequestTableCancelRemovesSlotSilently(t *testing.T) {
	tbl := newRequestTable[string]()
	id := newID()

	if _, err := tbl.install(id); err != nil {
		t.Fatalf("install: %v", err)
	}
	tbl.cancel(id)

	if tbl.count() != 0 {
		t.Fatalf("expected slot to be removed by cancel")
	}
	// completing a cancelled id must be a no-op, not a panic.
	tbl.complete(id, "too late")
}
