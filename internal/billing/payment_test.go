package billing

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/earnings"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

type fakeGateway struct {
	captures   int
	cancels    int
	captureErr error
}

func (f *fakeGateway) Capture(ctx context.Context, id string) error {
	f.captures++
	return f.captureErr
}

func (f *fakeGateway) Cancel(ctx context.Context, id string) error {
	f.cancels++
	return nil
}

func newProcessor(t *testing.T, gw CardGateway) (*Processor, *storage.MemoryStore) {
	t.Helper()
	st := storage.NewMemoryStore()
	calc := earnings.NewCalculator(earnings.DefaultConfig())
	m := &lifecycle.Machine{Orders: st, Drivers: st, Calc: calc}
	return NewProcessor(m, st, st, calc, gw, nil), st
}

func seed(t *testing.T, st *storage.MemoryStore, o *models.Order) {
	t.Helper()
	if o.ExpiresAt.IsZero() {
		o.ExpiresAt = time.Now().Add(time.Hour)
	}
	if err := st.CreateOrder(context.Background(), o); err != nil {
		t.Fatal(err)
	}
}

func TestConfirmCash(t *testing.T) {
	p, st := newProcessor(t, nil)
	ctx := context.Background()
	st.PutDriver(&models.Driver{ID: "d1"})
	seed(t, st, &models.Order{
		ID: "o1", DriverID: "d1", Status: models.StatusCompleted,
		PaymentMethod: models.PaymentCash, Total: 1000, Earnings: 950,
	})

	o, err := p.Confirm(ctx, "o1", "d1", "")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != models.StatusPaymentConfirmed {
		t.Fatalf("expected payment_confirmed, got %s", o.Status)
	}
	d, _ := st.GetDriver(ctx, "d1")
	if d.CompletedRides != 1 {
		t.Fatalf("ride counter not incremented: %d", d.CompletedRides)
	}
}

func TestConfirmIsIdempotent(t *testing.T) {
	p, st := newProcessor(t, nil)
	ctx := context.Background()
	st.PutDriver(&models.Driver{ID: "d1"})
	seed(t, st, &models.Order{
		ID: "o1", DriverID: "d1", Status: models.StatusCompleted,
		PaymentMethod: models.PaymentCash,
	})

	if _, err := p.Confirm(ctx, "o1", "d1", ""); err != nil {
		t.Fatal(err)
	}
	o, err := p.Confirm(ctx, "o1", "d1", "")
	if err != nil {
		t.Fatalf("re-confirmation must succeed: %v", err)
	}
	if o.Status != models.StatusPaymentConfirmed {
		t.Fatal("status changed by re-confirmation")
	}
	d, _ := st.GetDriver(ctx, "d1")
	if d.CompletedRides != 1 {
		t.Fatalf("double credit on re-confirmation: %d", d.CompletedRides)
	}
}

func TestConfirmGuardRejectsConcurrentAttempt(t *testing.T) {
	p, st := newProcessor(t, nil)
	st.PutDriver(&models.Driver{ID: "d1"})
	seed(t, st, &models.Order{
		ID: "o1", DriverID: "d1", Status: models.StatusCompleted,
		PaymentMethod: models.PaymentCash,
	})

	if !p.begin("o1") {
		t.Fatal("guard unexpectedly held")
	}
	_, err := p.Confirm(context.Background(), "o1", "d1", "")
	if !errors.Is(err, ErrPaymentInProgress) {
		t.Fatalf("expected ErrPaymentInProgress, got %v", err)
	}
	p.end("o1")
	if _, err := p.Confirm(context.Background(), "o1", "d1", ""); err != nil {
		t.Fatalf("confirmation after release failed: %v", err)
	}
}

func TestConfirmByUnassignedDriver(t *testing.T) {
	p, st := newProcessor(t, nil)
	st.PutDriver(&models.Driver{ID: "d2"})
	seed(t, st, &models.Order{
		ID: "o1", DriverID: "d1", Status: models.StatusCompleted,
		PaymentMethod: models.PaymentCash,
	})
	_, err := p.Confirm(context.Background(), "o1", "d2", "")
	if !errors.Is(err, lifecycle.ErrNotAssigned) {
		t.Fatalf("expected ErrNotAssigned, got %v", err)
	}
}

func TestCardCaptureFailureLeavesRetryableState(t *testing.T) {
	gw := &fakeGateway{captureErr: errors.New("declined")}
	p, st := newProcessor(t, gw)
	ctx := context.Background()
	st.PutDriver(&models.Driver{ID: "d1"})
	seed(t, st, &models.Order{
		ID: "o1", DriverID: "d1", Status: models.StatusCompleted,
		PaymentMethod: models.PaymentCard, PaymentIntentID: "pi_1",
	})

	if _, err := p.Confirm(ctx, "o1", "d1", ""); err == nil {
		t.Fatal("expected capture failure")
	}
	o, _ := st.GetOrder(ctx, "o1")
	if o.Status != models.StatusPaymentPending {
		t.Fatalf("expected payment_pending after failure, got %s", o.Status)
	}

	// the retry goes through once the gateway recovers
	gw.captureErr = nil
	o, err := p.Retry(ctx, "o1", "d1")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != models.StatusPaymentConfirmed {
		t.Fatalf("expected payment_confirmed, got %s", o.Status)
	}
	if gw.captures != 2 {
		t.Fatalf("expected 2 capture attempts, got %d", gw.captures)
	}
}

func TestSwitchToCashReleasesHold(t *testing.T) {
	gw := &fakeGateway{}
	p, st := newProcessor(t, gw)
	ctx := context.Background()
	st.PutDriver(&models.Driver{ID: "d1"})
	seed(t, st, &models.Order{
		ID: "o1", DriverID: "d1", Status: models.StatusPaymentPending,
		PaymentMethod: models.PaymentCard, PaymentIntentID: "pi_1",
	})

	o, err := p.SwitchToCash(ctx, "o1")
	if err != nil {
		t.Fatal(err)
	}
	if o.PaymentMethod != models.PaymentCash || o.Status != models.StatusPaymentPending {
		t.Fatalf("unexpected state after switch: %s/%s", o.PaymentMethod, o.Status)
	}
	if gw.cancels != 1 {
		t.Fatalf("hold not released: %d cancels", gw.cancels)
	}

	if _, err := p.Confirm(ctx, "o1", "d1", ""); err != nil {
		t.Fatal(err)
	}
	if gw.captures != 0 {
		t.Fatal("cash settlement must not touch the gateway")
	}
}

func TestProviderLedgerAccumulates(t *testing.T) {
	p, st := newProcessor(t, nil)
	ctx := context.Background()
	p.Now = func() time.Time { return time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC) }
	st.PutDriver(&models.Driver{ID: "d1", ProviderID: "prov1", CommissionPct: 80})

	for _, id := range []string{"o1", "o2"} {
		seed(t, st, &models.Order{
			ID: id, DriverID: "d1", Status: models.StatusCompleted,
			PaymentMethod: models.PaymentCash, Total: 1000, Earnings: 800,
		})
		if _, err := p.Confirm(ctx, id, "d1", ""); err != nil {
			t.Fatal(err)
		}
	}

	e, err := st.GetCollectionFee(ctx, "prov1", "d1", "2026-08")
	if err != nil {
		t.Fatal(err)
	}
	// per ride: service fee 15% of 1000 = 150; commission 1000-800-150 = 50
	if math.Abs(e.ServiceFeeDue-300) > 1e-9 || math.Abs(e.CommissionDue-100) > 1e-9 {
		t.Fatalf("unexpected ledger amounts: %f / %f", e.ServiceFeeDue, e.CommissionDue)
	}
	if len(e.OrderIDs) != 2 {
		t.Fatalf("contributing orders not recorded: %v", e.OrderIDs)
	}
}

func TestIndependentDriverSkipsLedger(t *testing.T) {
	p, st := newProcessor(t, nil)
	ctx := context.Background()
	st.PutDriver(&models.Driver{ID: "d1"})
	seed(t, st, &models.Order{
		ID: "o1", DriverID: "d1", Status: models.StatusCompleted,
		PaymentMethod: models.PaymentCash, Total: 1000,
	})
	if _, err := p.Confirm(ctx, "o1", "d1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := st.GetCollectionFee(ctx, "", "d1", time.Now().Format("2006-01")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("ledger entry created for independent driver")
	}
}
