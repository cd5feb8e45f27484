package lifecycle

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/earnings"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

func newTestMachine() (*Machine, *storage.MemoryStore) {
	st := storage.NewMemoryStore()
	m := &Machine{
		Orders:  st,
		Drivers: st,
		Calc:    earnings.NewCalculator(earnings.DefaultConfig()),
	}
	return m, st
}

func seedOrder(t *testing.T, st *storage.MemoryStore, o *models.Order) {
	t.Helper()
	if o.Status == "" {
		o.Status = models.StatusPending
	}
	if o.ExpiresAt.IsZero() {
		o.ExpiresAt = time.Now().Add(20 * time.Minute)
	}
	if err := st.CreateOrder(context.Background(), o); err != nil {
		t.Fatal(err)
	}
}

func TestHappyPathToSettlement(t *testing.T) {
	m, st := newTestMachine()
	ctx := context.Background()
	st.PutDriver(&models.Driver{ID: "d1", Name: "Anna"})
	seedOrder(t, st, &models.Order{ID: "o1", Total: 1000, InitialTotal: 1000, PaymentMethod: models.PaymentCash})

	if _, _, err := m.Accept(ctx, "o1", "d1"); err != nil {
		t.Fatal(err)
	}
	path := []models.OrderStatus{
		models.StatusDriverEnroute,
		models.StatusDriverArrived,
		models.StatusInProgress,
		models.StatusCompleted,
		models.StatusPaymentPending,
		models.StatusPaymentConfirmed,
	}
	for _, s := range path {
		if _, err := m.Transition(ctx, "o1", s, TransitionContext{DriverID: "d1"}); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	o, _ := st.GetOrder(ctx, "o1")
	if o.Status != models.StatusPaymentConfirmed {
		t.Fatalf("expected payment_confirmed, got %s", o.Status)
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	m, st := newTestMachine()
	ctx := context.Background()
	seedOrder(t, st, &models.Order{ID: "o1", Status: models.StatusCompleted})

	_, err := m.Transition(ctx, "o1", models.StatusAccepted, TransitionContext{})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	o, _ := st.GetOrder(ctx, "o1")
	if o.Status != models.StatusCompleted {
		t.Fatal("order must be unchanged after a rejected transition")
	}
}

func TestUnknownOrder(t *testing.T) {
	m, _ := newTestMachine()
	_, err := m.Transition(context.Background(), "missing", models.StatusCancelled, TransitionContext{})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestArrivalTimestampIdempotent(t *testing.T) {
	m, st := newTestMachine()
	ctx := context.Background()
	seedOrder(t, st, &models.Order{ID: "o1", Status: models.StatusDriverEnroute, DriverID: "d1"})

	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return first }
	if _, err := m.Transition(ctx, "o1", models.StatusDriverArrived, TransitionContext{DriverID: "d1"}); err != nil {
		t.Fatal(err)
	}

	// re-announced arrival keeps the recorded time
	m.Now = func() time.Time { return first.Add(3 * time.Minute) }
	o, err := m.Transition(ctx, "o1", models.StatusDriverArrived, TransitionContext{DriverID: "d1"})
	if err != nil {
		t.Fatal(err)
	}
	if !o.ArrivedAt.Equal(first) {
		t.Fatalf("arrival time overwritten: %v", o.ArrivedAt)
	}

	// explicit driver-reported time does overwrite
	reported := first.Add(-2 * time.Minute)
	o, err = m.Transition(ctx, "o1", models.StatusDriverArrived, TransitionContext{DriverID: "d1", ArrivedAt: &reported})
	if err != nil {
		t.Fatal(err)
	}
	if !o.ArrivedAt.Equal(reported) {
		t.Fatalf("reported arrival not applied: %v", o.ArrivedAt)
	}
}

func TestWaitingFeeAtRideStart(t *testing.T) {
	m, st := newTestMachine()
	ctx := context.Background()
	st.PutDriver(&models.Driver{ID: "d1"})
	seedOrder(t, st, &models.Order{
		ID: "o1", Status: models.StatusDriverArrived, DriverID: "d1",
		Total: 1000, Earnings: 950,
	})

	o, err := m.Transition(ctx, "o1", models.StatusInProgress,
		TransitionContext{DriverID: "d1", WaitingTimeMinutes: 12})
	if err != nil {
		t.Fatal(err)
	}
	// 12 minutes, 5 free, rate 42 -> 294 on the total, 85% to the driver
	if math.Abs(o.Total-1294) > 1e-9 {
		t.Fatalf("expected total 1294, got %f", o.Total)
	}
	if math.Abs(o.Earnings-(950+294*0.85)) > 1e-9 {
		t.Fatalf("unexpected earnings %f", o.Earnings)
	}
	if o.WaitingTimeMinutes != 12 {
		t.Fatalf("waiting minutes not recorded: %f", o.WaitingTimeMinutes)
	}
}

func TestPaidStopAccumulatesAndStaysMonotonic(t *testing.T) {
	m, st := newTestMachine()
	ctx := context.Background()
	st.PutDriver(&models.Driver{ID: "d1"})
	seedOrder(t, st, &models.Order{
		ID: "o1", Status: models.StatusInProgress, DriverID: "d1",
		Total: 1000, Earnings: 950,
	})

	prevTotal, prevEarnings := 1000.0, 950.0
	for i, stop := range []models.OrderStatus{models.StatusAtStop1, models.StatusAtStop2} {
		if _, err := m.Transition(ctx, "o1", stop, TransitionContext{DriverID: "d1"}); err != nil {
			t.Fatal(err)
		}
		o, err := m.Transition(ctx, "o1", models.StatusInProgress,
			TransitionContext{DriverID: "d1", StopMinutes: float64(2 * (i + 1))})
		if err != nil {
			t.Fatal(err)
		}
		if o.Total <= prevTotal || o.Earnings <= prevEarnings {
			t.Fatalf("price or earnings not monotonic: %f/%f -> %f/%f",
				prevTotal, prevEarnings, o.Total, o.Earnings)
		}
		prevTotal, prevEarnings = o.Total, o.Earnings
	}
	o, _ := st.GetOrder(ctx, "o1")
	// 2 min + 4 min at rate 42, no free minutes
	if math.Abs(o.PaidStopCost-252) > 1e-9 {
		t.Fatalf("expected paid stop cost 252, got %f", o.PaidStopCost)
	}
}

func TestTransitionByUnassignedDriverRejected(t *testing.T) {
	m, st := newTestMachine()
	ctx := context.Background()
	seedOrder(t, st, &models.Order{ID: "o1", Status: models.StatusAccepted, DriverID: "d1"})

	_, err := m.Transition(ctx, "o1", models.StatusDriverEnroute, TransitionContext{DriverID: "d2"})
	if !errors.Is(err, ErrNotAssigned) {
		t.Fatalf("expected ErrNotAssigned, got %v", err)
	}
}

func TestOnTerminalHook(t *testing.T) {
	m, st := newTestMachine()
	ctx := context.Background()
	seedOrder(t, st, &models.Order{ID: "o1", Status: models.StatusAccepted, DriverID: "d1"})

	var got string
	m.OnTerminal = func(o *models.Order) { got = o.ID }
	if _, err := m.Transition(ctx, "o1", models.StatusCancelled, TransitionContext{CancelledBy: "client"}); err != nil {
		t.Fatal(err)
	}
	if got != "o1" {
		t.Fatal("terminal hook not invoked")
	}
}

func TestConcurrentAcceptExactlyOneWinner(t *testing.T) {
	m, st := newTestMachine()
	ctx := context.Background()
	seedOrder(t, st, &models.Order{ID: "o1", Total: 1000})

	const n = 16
	for i := 0; i < n; i++ {
		st.PutDriver(&models.Driver{ID: driverID(i)})
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = m.Accept(ctx, "o1", driverID(i))
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrOrderTaken):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != n-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d/%d", n-1, wins, conflicts)
	}

	o, _ := st.GetOrder(ctx, "o1")
	if !o.Assigned() {
		t.Fatal("winner not recorded")
	}
	if o.Status != models.StatusAccepted {
		t.Fatalf("expected accepted, got %s", o.Status)
	}
}

func TestAcceptAdvanceBookingGoesBooked(t *testing.T) {
	m, st := newTestMachine()
	ctx := context.Background()
	st.PutDriver(&models.Driver{ID: "d1"})
	when := time.Now().Add(48 * time.Hour)
	seedOrder(t, st, &models.Order{ID: "o1", Total: 500, IsAdvanceBooking: true, ScheduledAt: &when})

	o, _, err := m.Accept(ctx, "o1", "d1")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != models.StatusBooked {
		t.Fatalf("expected booked, got %s", o.Status)
	}
}

func TestAcceptOnNonPendingOrder(t *testing.T) {
	m, st := newTestMachine()
	ctx := context.Background()
	st.PutDriver(&models.Driver{ID: "d2"})
	seedOrder(t, st, &models.Order{ID: "o1", Status: models.StatusAccepted, DriverID: "d1"})

	_, _, err := m.Accept(ctx, "o1", "d2")
	if !errors.Is(err, ErrOrderTaken) {
		t.Fatalf("expected ErrOrderTaken, got %v", err)
	}
	o, _ := st.GetOrder(ctx, "o1")
	if o.DriverID != "d1" {
		t.Fatal("assigned driver must never change")
	}
}

func driverID(i int) string { return "driver-" + string(rune('a'+i)) }
