package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/storage"
)

func TestAnnounceMintsAndKeepsID(t *testing.T) {
	st := storage.NewMemoryStore()
	r := NewRegistry(st, nil, time.Hour)
	ctx := context.Background()

	e, err := r.Announce(ctx, "", "d1", "Anna")
	if err != nil {
		t.Fatal(err)
	}
	if e.ID == "" {
		t.Fatal("expected a minted session id")
	}

	again, err := r.Announce(ctx, e.ID, "d1", "Anna")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != e.ID {
		t.Fatalf("session id changed: %s -> %s", e.ID, again.ID)
	}
}

func TestResolveRecoversAfterRestart(t *testing.T) {
	st := storage.NewMemoryStore()
	ctx := context.Background()

	r1 := NewRegistry(st, nil, time.Hour)
	e, err := r1.Announce(ctx, "", "d1", "Anna")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r1.SetOnline(ctx, e.ID, true); err != nil {
		t.Fatal(err)
	}

	// Fresh registry over the same durable store simulates a restart.
	r2 := NewRegistry(st, nil, time.Hour)
	got, err := r2.Resolve(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != e.ID || got.DriverID != "d1" || got.Name != "Anna" {
		t.Fatalf("identity not recovered: %+v", got)
	}
	if got.Online {
		t.Fatal("recovered session must start offline until re-announce")
	}

	// a subsequent presence event on the recovered id succeeds
	if _, err := r2.SetOnline(ctx, e.ID, true); err != nil {
		t.Fatal(err)
	}
}

func TestResolveUnknownOrExpired(t *testing.T) {
	st := storage.NewMemoryStore()
	r := NewRegistry(st, nil, time.Hour)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, "nope"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}

	e, _ := r.Announce(ctx, "", "d1", "Anna")
	r2 := NewRegistry(st, nil, time.Hour)
	r2.Now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := r2.Resolve(ctx, e.ID); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected expiry rejection, got %v", err)
	}
}

func TestLastConnDropFlipsOffline(t *testing.T) {
	st := storage.NewMemoryStore()
	r := NewRegistry(st, nil, time.Hour)
	ctx := context.Background()

	e, _ := r.Announce(ctx, "", "d1", "Anna")
	r.AddConn(e.ID, "c1")
	r.AddConn(e.ID, "c2")
	if _, err := r.SetOnline(ctx, e.ID, true); err != nil {
		t.Fatal(err)
	}

	if went := r.RemoveConn(ctx, e.ID, "c1"); went {
		t.Fatal("session still has a live connection")
	}
	if went := r.RemoveConn(ctx, e.ID, "c2"); !went {
		t.Fatal("last connection drop must flip the session offline")
	}

	got, _ := r.Resolve(ctx, e.ID)
	if got.Online {
		t.Fatal("phantom session left online")
	}
	row, err := st.GetSession(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row.Online {
		t.Fatal("durable copy still online")
	}
}

func TestSessionForConn(t *testing.T) {
	st := storage.NewMemoryStore()
	r := NewRegistry(st, nil, time.Hour)
	ctx := context.Background()

	e, _ := r.Announce(ctx, "", "d1", "Anna")
	r.AddConn(e.ID, "c1")

	got, ok := r.SessionForConn("c1")
	if !ok || got.ID != e.ID {
		t.Fatalf("lookup by connection failed: %v %v", got, ok)
	}
	if _, ok := r.SessionForConn("c9"); ok {
		t.Fatal("unexpected hit for unknown connection")
	}
}
