// Package billing runs the payment-confirmation protocol and the
// incremental billing bookkeeping around it.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/earnings"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

var (
	// ErrPaymentInProgress rejects a second confirmation attempt while
	// one is already in flight for the same order.
	ErrPaymentInProgress = errors.New("payment confirmation already processing")
	ErrNotSettleable     = errors.New("order not ready for payment")
)

// CardGateway is the card-payment boundary (stripe adapter in
// internal/payments). Cash orders never touch it.
type CardGateway interface {
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

// Processor settles orders. The assigned driver alone authorizes
// settlement; there is no separate client acknowledgment.
type Processor struct {
	Machine *lifecycle.Machine
	Drivers storage.DriverStore
	Ledger  storage.LedgerStore
	Calc    *earnings.Calculator
	Cards   CardGateway // nil when no gateway is configured
	Log     *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}

	Now func() time.Time // test seam
}

func NewProcessor(m *lifecycle.Machine, drivers storage.DriverStore, ledger storage.LedgerStore, calc *earnings.Calculator, cards CardGateway, log *slog.Logger) *Processor {
	return &Processor{
		Machine:  m,
		Drivers:  drivers,
		Ledger:   ledger,
		Calc:     calc,
		Cards:    cards,
		Log:      log,
		inFlight: make(map[string]struct{}),
	}
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// begin takes the per-order progress guard.
func (p *Processor) begin(orderID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, held := p.inFlight[orderID]; held {
		return false
	}
	p.inFlight[orderID] = struct{}{}
	return true
}

func (p *Processor) end(orderID string) {
	p.mu.Lock()
	delete(p.inFlight, orderID)
	p.mu.Unlock()
}

// ClearGuard drops any in-flight marker for the order, on terminal
// cleanup.
func (p *Processor) ClearGuard(orderID string) { p.end(orderID) }

// Confirm finalizes payment for an order on the driver's authority.
// Re-confirming an already-settled order is an idempotent success; a
// confirmation while another is in flight is rejected, not duplicated.
func (p *Processor) Confirm(ctx context.Context, orderID, driverID string, method models.PaymentMethod) (*models.Order, error) {
	if !p.begin(orderID) {
		return nil, ErrPaymentInProgress
	}
	defer p.end(orderID)

	o, err := p.Machine.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.DriverID != driverID {
		return nil, lifecycle.ErrNotAssigned
	}
	if o.Status == models.StatusPaymentConfirmed {
		return o, nil
	}
	if o.Status != models.StatusCompleted && o.Status != models.StatusPaymentPending {
		return nil, fmt.Errorf("%w: status %s", ErrNotSettleable, o.Status)
	}

	if method != "" && method != o.PaymentMethod {
		o, err = p.switchMethod(ctx, o, driverID, method)
		if err != nil {
			return nil, err
		}
	}

	if o.PaymentMethod == models.PaymentCard {
		// park the order in payment_pending before talking to the
		// gateway so a capture failure leaves a retryable state
		if o.Status == models.StatusCompleted {
			o, err = p.Machine.Transition(ctx, orderID, models.StatusPaymentPending,
				lifecycle.TransitionContext{DriverID: driverID})
			if err != nil {
				return nil, err
			}
		}
		if p.Cards != nil && o.PaymentIntentID != "" {
			if err := p.Cards.Capture(ctx, o.PaymentIntentID); err != nil {
				return nil, fmt.Errorf("card capture: %w", err)
			}
		}
	}

	o, err = p.Machine.Transition(ctx, orderID, models.StatusPaymentConfirmed,
		lifecycle.TransitionContext{DriverID: driverID})
	if err != nil {
		return nil, err
	}

	p.settle(ctx, o)
	return o, nil
}

// Retry re-runs a failed card confirmation. payment_pending is
// self-reachable so a retry is always a valid transition.
func (p *Processor) Retry(ctx context.Context, orderID, driverID string) (*models.Order, error) {
	return p.Confirm(ctx, orderID, driverID, "")
}

// SwitchToCash resets a card order to cash settlement, releasing any
// card hold, and leaves it in payment_pending for the driver to
// confirm.
func (p *Processor) SwitchToCash(ctx context.Context, orderID string) (*models.Order, error) {
	o, err := p.Machine.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != models.StatusCompleted && o.Status != models.StatusPaymentPending {
		return nil, fmt.Errorf("%w: status %s", ErrNotSettleable, o.Status)
	}
	return p.switchMethod(ctx, o, o.DriverID, models.PaymentCash)
}

func (p *Processor) switchMethod(ctx context.Context, o *models.Order, driverID string, method models.PaymentMethod) (*models.Order, error) {
	if o.PaymentMethod == models.PaymentCard && method == models.PaymentCash &&
		p.Cards != nil && o.PaymentIntentID != "" {
		if err := p.Cards.Cancel(ctx, o.PaymentIntentID); err != nil && p.Log != nil {
			p.Log.Warn("card hold release failed", "order_id", o.ID, "error", err)
		}
	}
	from := o.Status
	o.PaymentMethod = method
	o.Status = models.StatusPaymentPending
	if err := p.Machine.Orders.UpdateOrderFrom(ctx, o, from); err != nil {
		return nil, err
	}
	return o, nil
}

// settle runs the post-confirmation side effects. They are best-effort:
// a failed ledger or counter write is logged and never un-confirms the
// payment.
func (p *Processor) settle(ctx context.Context, o *models.Order) {
	d, err := p.Drivers.GetDriver(ctx, o.DriverID)
	if err != nil {
		if p.Log != nil {
			p.Log.Error("settlement driver lookup failed", "order_id", o.ID, "driver_id", o.DriverID, "error", err)
		}
		return
	}

	if err := p.Drivers.IncrementCompletedRides(ctx, d.ID); err != nil && p.Log != nil {
		p.Log.Warn("ride counter update failed", "driver_id", d.ID, "error", err)
	}

	if d.ProviderID == "" {
		return
	}
	serviceFee := p.Calc.ServiceFee(o.Total)
	commission := p.Calc.ProviderCommission(o)
	period := p.now().Format("2006-01")
	if err := p.Ledger.AddCollectionFee(ctx, d.ProviderID, d.ID, period, serviceFee, commission, o.ID); err != nil && p.Log != nil {
		p.Log.Warn("collection fee ledger update failed",
			"order_id", o.ID, "provider_id", d.ProviderID, "error", err)
	}
}
