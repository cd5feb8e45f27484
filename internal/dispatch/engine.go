// Package dispatch is the real-time engine: it broadcasts new orders to
// online drivers, arbitrates acceptance, drives the lifecycle state
// machine as both parties report progress, and runs payment settlement.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/billing"
	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/session"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/token"
)

var ErrInvalidOrder = errors.New("invalid order")

// CardGateway is the full card flow the engine needs: a hold at
// creation plus the capture/cancel pair used during settlement.
type CardGateway interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	billing.CardGateway
}

// EventPublisher journals committed order transitions and driver
// locations to the event stream. Best-effort: a publish failure never
// blocks a state change.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, ev models.OrderEvent) error
	PublishDriverLocation(ctx context.Context, loc models.DriverLocation) error
}

// Config carries the dispatch timing knobs.
type Config struct {
	ImmediateExpiry time.Duration // unaccepted immediate rides
	AdvanceExpiry   time.Duration // advance bookings / long tours
	SweepInterval   time.Duration
	Currency        string
}

func DefaultConfig() Config {
	return Config{
		ImmediateExpiry: 20 * time.Minute,
		AdvanceExpiry:   7 * 24 * time.Hour,
		SweepInterval:   30 * time.Second,
		Currency:        "eur",
	}
}

type Engine struct {
	Machine  *lifecycle.Machine
	Payments *billing.Processor
	Stops    *billing.StopTracker
	Tokens   *token.Binder
	Sessions *session.Registry
	Groups   *broadcast.Groups
	Orders   storage.OrderStore
	Cards    CardGateway    // nil when no gateway is configured
	Events   EventPublisher // nil when no broker is configured
	Log      *slog.Logger

	cfg Config

	Now func() time.Time // test seam
}

func NewEngine(m *lifecycle.Machine, payments *billing.Processor, stops *billing.StopTracker,
	tokens *token.Binder, sessions *session.Registry, groups *broadcast.Groups,
	orders storage.OrderStore, cards CardGateway, events EventPublisher,
	log *slog.Logger, cfg Config) *Engine {

	e := &Engine{
		Machine:  m,
		Payments: payments,
		Stops:    stops,
		Tokens:   tokens,
		Sessions: sessions,
		Groups:   groups,
		Orders:   orders,
		Cards:    cards,
		Events:   events,
		Log:      log,
		cfg:      cfg,
	}
	// Terminal orders shed their transient state; the broadcast group
	// itself is dropped by the caller after the final fan-out.
	m.OnTerminal = func(o *models.Order) {
		e.Tokens.Clear(o.ID)
		e.Payments.ClearGuard(o.ID)
		e.Stops.Drop(o.ID)
	}
	return e
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// CreateOrderRequest is the client-facing intake payload, validated at
// the boundary.
type CreateOrderRequest struct {
	ClientID         string               `json:"client_id,omitempty"`
	Addresses        []models.Address     `json:"addresses"`
	Option           models.RideOption    `json:"option"`
	PaymentMethod    models.PaymentMethod `json:"payment_method"`
	Total            float64              `json:"total"`
	CustomerCardID   string               `json:"customer_card_id,omitempty"`
	IsAdvanceBooking bool                 `json:"is_advance_booking"`
	ScheduledAt      *time.Time           `json:"scheduled_at,omitempty"`
}

func (r *CreateOrderRequest) validate() error {
	if len(r.Addresses) < 2 {
		return fmt.Errorf("%w: pickup and destination required", ErrInvalidOrder)
	}
	var pickups, dests, stops int
	for _, a := range r.Addresses {
		switch a.Role {
		case models.RolePickup:
			pickups++
		case models.RoleDestination:
			dests++
		case models.RoleStop:
			stops++
		default:
			return fmt.Errorf("%w: unknown address role %q", ErrInvalidOrder, a.Role)
		}
	}
	if pickups != 1 || dests != 1 {
		return fmt.Errorf("%w: exactly one pickup and one destination", ErrInvalidOrder)
	}
	if stops > 3 {
		return fmt.Errorf("%w: at most three stops", ErrInvalidOrder)
	}
	if r.Total <= 0 {
		return fmt.Errorf("%w: total must be positive", ErrInvalidOrder)
	}
	if r.PaymentMethod != models.PaymentCash && r.PaymentMethod != models.PaymentCard {
		return fmt.Errorf("%w: payment method %q", ErrInvalidOrder, r.PaymentMethod)
	}
	if r.IsAdvanceBooking && r.ScheduledAt == nil {
		return fmt.Errorf("%w: advance booking needs a scheduled time", ErrInvalidOrder)
	}
	if r.Option.Passengers <= 0 {
		return fmt.Errorf("%w: passenger count required", ErrInvalidOrder)
	}
	return nil
}

// CreateOrder validates and persists a new order, issues the client
// token, places a card hold when paying by card, and announces the
// order to every online driver.
func (e *Engine) CreateOrder(ctx context.Context, req CreateOrderRequest) (*models.Order, string, error) {
	if err := req.validate(); err != nil {
		return nil, "", err
	}
	now := e.now()
	o := &models.Order{
		ID:               uuid.New().String(),
		ClientID:         req.ClientID,
		Addresses:        req.Addresses,
		Option:           req.Option,
		PaymentMethod:    req.PaymentMethod,
		Status:           models.StatusPending,
		InitialTotal:     req.Total,
		Total:            req.Total,
		IsAdvanceBooking: req.IsAdvanceBooking,
		ScheduledAt:      req.ScheduledAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if req.IsAdvanceBooking {
		o.ExpiresAt = now.Add(e.cfg.AdvanceExpiry)
	} else {
		o.ExpiresAt = now.Add(e.cfg.ImmediateExpiry)
	}

	if req.PaymentMethod == models.PaymentCard && e.Cards != nil {
		pi, err := e.Cards.Hold(ctx, int64(req.Total*100), e.cfg.Currency, req.CustomerCardID)
		if err != nil {
			return nil, "", fmt.Errorf("card hold: %w", err)
		}
		o.PaymentIntentID = pi
	}

	if err := e.Orders.CreateOrder(ctx, o); err != nil {
		return nil, "", err
	}
	tok := e.Tokens.Issue(o.ID)

	observability.OrdersCreated.Inc()
	e.Groups.BroadcastOnline(models.NewOrderEvent{Type: models.EventNewOrder, Order: o})
	e.publishOrderEvent(ctx, o)

	if e.Log != nil {
		e.Log.Info("order created", "order_id", o.ID, "payment_method", o.PaymentMethod,
			"advance", o.IsAdvanceBooking, "total", o.Total)
	}
	return o, tok, nil
}

// Cancel ends an order on either party's initiative. Cancelling an
// already-terminal order is an idempotent success with no side effects.
func (e *Engine) Cancel(ctx context.Context, orderID, by, reason string) (*models.Order, error) {
	o, err := e.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return o, nil
	}

	o, err = e.Machine.Transition(ctx, orderID, models.StatusCancelled,
		lifecycle.TransitionContext{CancelledBy: by, Reason: reason})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// the racing transition won; re-read and report what stands
			if cur, gerr := e.Orders.GetOrder(ctx, orderID); gerr == nil && cur.Status.Terminal() {
				return cur, nil
			}
		}
		return nil, err
	}

	if o.PaymentMethod == models.PaymentCard && o.PaymentIntentID != "" && e.Cards != nil {
		if cerr := e.Cards.Cancel(ctx, o.PaymentIntentID); cerr != nil && e.Log != nil {
			e.Log.Warn("card hold release failed", "order_id", o.ID, "error", cerr)
		}
	}

	observability.OrdersCancelled.Inc()
	e.Groups.BroadcastOrder(orderID, models.CancelledEvent{
		Type: models.EventCancelled, OrderID: orderID, By: by, Reason: reason,
	})
	// drivers still showing the order in their list drop it
	e.Groups.BroadcastOnline(models.OrderTakenEvent{Type: models.EventOrderTaken, OrderID: orderID})
	e.Groups.DropOrder(orderID)
	e.publishOrderEvent(ctx, o)
	return o, nil
}

// RunExpiry sweeps unaccepted orders past their deadline until ctx is
// cancelled.
func (e *Engine) RunExpiry(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepExpired(ctx)
		}
	}
}

func (e *Engine) sweepExpired(ctx context.Context) {
	pending, err := e.Orders.ListOrdersByStatus(ctx, models.StatusPending)
	if err != nil {
		if e.Log != nil {
			e.Log.Error("expiry sweep failed", "error", err)
		}
		return
	}
	now := e.now()
	for _, o := range pending {
		if o.ExpiresAt.After(now) {
			continue
		}
		if _, err := e.Machine.Expire(ctx, o.ID); err != nil {
			// a concurrent acceptance beat the sweeper; nothing to do
			continue
		}
		observability.OrdersExpired.Inc()
		e.Groups.BroadcastOnline(models.OrderTakenEvent{Type: models.EventOrderTaken, OrderID: o.ID})
		e.Groups.BroadcastOrder(o.ID, models.StatusChangedEvent{
			Type: models.EventStatusChanged, OrderID: o.ID, Status: models.StatusExpired,
			Total: o.Total, Earnings: o.Earnings, PaidStopCost: o.PaidStopCost,
		})
		e.Groups.DropOrder(o.ID)
	}
}

func (e *Engine) publishOrderEvent(ctx context.Context, o *models.Order) {
	if e.Events == nil {
		return
	}
	ev := models.OrderEvent{
		OrderID: o.ID, Status: o.Status, DriverID: o.DriverID,
		Total: o.Total, At: e.now(),
	}
	if err := e.Events.PublishOrderEvent(ctx, ev); err != nil && e.Log != nil {
		e.Log.Warn("order event publish failed", "order_id", o.ID, "error", err)
	}
}

// broadcastStatus fans a committed transition out to the order's group,
// debounced per (order, status).
func (e *Engine) broadcastStatus(o *models.Order) {
	e.Groups.BroadcastStatus(o.ID, models.StatusChangedEvent{
		Type: models.EventStatusChanged, OrderID: o.ID, Status: o.Status,
		Total: o.Total, Earnings: o.Earnings, PaidStopCost: o.PaidStopCost,
	})
}
