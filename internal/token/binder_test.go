package token

import (
	"errors"
	"testing"
)

type liveness map[string]bool

func (l liveness) check(connID string) bool { return l[connID] }

func TestBindAndValidate(t *testing.T) {
	live := liveness{"c1": true}
	b := NewBinder(live.check)

	tok := b.Issue("o1")
	if err := b.Bind("o1", tok, "c1"); err != nil {
		t.Fatal(err)
	}
	if err := b.Validate("o1", tok, "c1"); err != nil {
		t.Fatal(err)
	}
	if err := b.Validate("o1", "wrong", "c1"); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := b.Validate("o1", tok, "c2"); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("unbound connection accepted: %v", err)
	}
}

func TestConnectionlessValidate(t *testing.T) {
	live := liveness{"c1": true}
	b := NewBinder(live.check)

	tok := b.Issue("o1")
	if err := b.Bind("o1", tok, "c1"); err != nil {
		t.Fatal(err)
	}
	// token presented without a connection, as over plain HTTP
	if err := b.Validate("o1", tok, ""); err != nil {
		t.Fatal(err)
	}
	if err := b.Validate("o1", "wrong", ""); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestRebindOnlyAfterDisconnect(t *testing.T) {
	live := liveness{"c1": true}
	b := NewBinder(live.check)

	tok := b.Issue("o1")
	if err := b.Bind("o1", tok, "c1"); err != nil {
		t.Fatal(err)
	}

	// c1 is still live: c2 may not steal the binding
	if err := b.Bind("o1", tok, "c2"); !errors.Is(err, ErrTokenBound) {
		t.Fatalf("expected ErrTokenBound, got %v", err)
	}

	// once c1 drops, the legitimate reconnect succeeds
	live["c1"] = false
	if err := b.Bind("o1", tok, "c2"); err != nil {
		t.Fatal(err)
	}
	if err := b.Validate("o1", tok, "c2"); err != nil {
		t.Fatal(err)
	}
}

func TestRebindSameConnIsIdempotent(t *testing.T) {
	live := liveness{"c1": true}
	b := NewBinder(live.check)
	tok := b.Issue("o1")
	if err := b.Bind("o1", tok, "c1"); err != nil {
		t.Fatal(err)
	}
	if err := b.Bind("o1", tok, "c1"); err != nil {
		t.Fatalf("same-connection rebind must succeed: %v", err)
	}
}

func TestClear(t *testing.T) {
	b := NewBinder(nil)
	tok := b.Issue("o1")
	b.Clear("o1")
	if err := b.Bind("o1", tok, "c1"); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("cleared token still usable: %v", err)
	}
}
