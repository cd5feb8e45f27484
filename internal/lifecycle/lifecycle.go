package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/earnings"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotAssigned       = errors.New("driver not assigned to this order")
	ErrOrderTaken        = errors.New("order no longer available")
)

// TransitionContext carries the caller-supplied inputs that accompany a
// status change.
type TransitionContext struct {
	// DriverID identifies the reporting driver; transitions on an
	// assigned order from anyone else are rejected.
	DriverID string
	// WaitingTimeMinutes may accompany the ride-start transition.
	WaitingTimeMinutes float64
	// StopMinutes accompanies the return from a paid stop.
	StopMinutes float64
	// ArrivedAt, when set, is a driver-reported arrival time that may
	// overwrite an already-recorded one.
	ArrivedAt *time.Time
	// CancelledBy/Reason annotate a cancellation.
	CancelledBy string
	Reason      string
}

// Machine validates and applies order status transitions. The store's
// conditional write is the commit point: a transition that loses the
// race surfaces storage.ErrConflict and the caller re-reads.
type Machine struct {
	Orders  storage.OrderStore
	Drivers storage.DriverStore
	Calc    *earnings.Calculator
	Log     *slog.Logger

	// OnTerminal runs after an order reaches a terminal state; the
	// engine uses it to drop the client token and payment guard.
	OnTerminal func(o *models.Order)

	Now func() time.Time // test seam
}

func (m *Machine) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Transition loads the order, validates that target is reachable from
// the current status, applies the status-specific derived computation
// and persists. An invalid transition is rejected, never coerced.
func (m *Machine) Transition(ctx context.Context, orderID string, target models.OrderStatus, tc TransitionContext) (*models.Order, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, target)
	}
	o, err := m.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	from := o.Status
	if !from.CanTransitionTo(target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
	}
	if tc.DriverID != "" && o.DriverID != "" && tc.DriverID != o.DriverID {
		return nil, ErrNotAssigned
	}

	switch {
	case target == models.StatusDriverArrived:
		// Idempotent: a re-announced arrival keeps the first recorded
		// time unless the driver explicitly reports one.
		if tc.ArrivedAt != nil {
			o.ArrivedAt = tc.ArrivedAt
		} else if o.ArrivedAt == nil {
			now := m.now()
			o.ArrivedAt = &now
		}

	case target == models.StatusInProgress && from == models.StatusDriverArrived:
		// Ride start: bill the pre-ride waiting time, if reported.
		if tc.WaitingTimeMinutes > 0 {
			o.WaitingTimeMinutes = tc.WaitingTimeMinutes
			if fee := m.Calc.WaitingFee(tc.WaitingTimeMinutes); fee > 0 {
				if err := m.addSurcharge(ctx, o, fee, false); err != nil {
					return nil, err
				}
			}
		}

	case target == models.StatusInProgress && from.IsStop():
		// Returning from a paid stop: every minute is billable.
		if fee := m.Calc.StopFee(tc.StopMinutes); fee > 0 {
			if err := m.addSurcharge(ctx, o, fee, true); err != nil {
				return nil, err
			}
		}
	}

	o.Status = target
	if err := m.Orders.UpdateOrderFrom(ctx, o, from); err != nil {
		return nil, err
	}

	if m.Log != nil {
		m.Log.Info("order transition",
			"order_id", o.ID, "from", from, "to", target, "driver_id", o.DriverID)
	}
	if target.Terminal() && m.OnTerminal != nil {
		m.OnTerminal(o)
	}
	return o, nil
}

// addSurcharge grows total and earnings by the fee and the driver's
// share of it; prices only ever go up after creation.
func (m *Machine) addSurcharge(ctx context.Context, o *models.Order, fee float64, paidStop bool) error {
	d, err := m.Drivers.GetDriver(ctx, o.DriverID)
	if err != nil {
		return fmt.Errorf("load driver %s: %w", o.DriverID, err)
	}
	o.Total += fee
	o.Earnings += m.Calc.SurchargeShare(d, fee)
	if paidStop {
		o.PaidStopCost += fee
	}
	return nil
}

// Expire moves an overdue pending order to expired.
func (m *Machine) Expire(ctx context.Context, orderID string) (*models.Order, error) {
	return m.Transition(ctx, orderID, models.StatusExpired, TransitionContext{})
}
