package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// fakeSink implements LocationSink for tests
type fakeSink struct {
	fail  int // number of times to fail before succeeding
	calls int
	last  models.DriverLocation
}

func (f *fakeSink) Upsert(ctx context.Context, loc models.DriverLocation) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("sink fail")
	}
	f.last = loc
	return nil
}

func TestHandleMessage(t *testing.T) {
	f := &fakeSink{}
	loc := models.DriverLocation{DriverID: "d1", Lat: 1, Lon: 2, Online: true}
	b, _ := json.Marshal(loc)
	if err := handleMessage(context.Background(), f, b); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.last.DriverID != "d1" || f.last.Lat != 1 {
		t.Fatalf("unexpected sink payload: %+v", f.last)
	}
}

func TestHandleMessage_Invalid(t *testing.T) {
	f := &fakeSink{}
	if err := handleMessage(context.Background(), f, []byte("{not json")); !errors.Is(err, errInvalidMessage) {
		t.Fatalf("expected errInvalidMessage, got %v", err)
	}
	if err := handleMessage(context.Background(), f, []byte(`{"lat":1}`)); !errors.Is(err, errInvalidMessage) {
		t.Fatalf("missing driver id accepted: %v", err)
	}
	if f.calls != 0 {
		t.Fatalf("invalid messages must not reach the sink")
	}
}

func TestUpsertWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeSink{fail: 2}
	loc := models.DriverLocation{DriverID: "d1", Lat: 1, Lon: 2}
	start := time.Now()
	if err := upsertWithRetry(context.Background(), f, loc, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestUpsertWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeSink{fail: 5}
	loc := models.DriverLocation{DriverID: "d1"}
	if err := upsertWithRetry(context.Background(), f, loc, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}
