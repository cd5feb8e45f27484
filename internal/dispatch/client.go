package dispatch

import (
	"context"

	"github.com/example/ride-dispatch/internal/models"
)

// JoinOrder binds the client's per-order token to its connection and
// subscribes the connection to the order's events. A reconnecting
// client gets a direct snapshot of the current state so the debounce
// window cannot hide the status it missed.
func (e *Engine) JoinOrder(ctx context.Context, orderID, tok, connID string) (*models.Order, error) {
	o, err := e.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := e.Tokens.Bind(orderID, tok, connID); err != nil {
		return nil, err
	}
	e.Groups.JoinOrder(orderID, connID)

	e.Groups.SendTo(connID, models.StatusChangedEvent{
		Type: models.EventStatusChanged, OrderID: o.ID, Status: o.Status,
		Total: o.Total, Earnings: o.Earnings, PaidStopCost: o.PaidStopCost,
	})
	return o, nil
}

// ClientCancel cancels on the client's behalf after token validation.
func (e *Engine) ClientCancel(ctx context.Context, orderID, tok, connID, reason string) (*models.Order, error) {
	if err := e.Tokens.Validate(orderID, tok, connID); err != nil {
		return nil, err
	}
	return e.Cancel(ctx, orderID, "client", reason)
}

// ClientLocation relays the client's position to the order's group.
// Informational only: no order state changes.
func (e *Engine) ClientLocation(ctx context.Context, orderID, tok, connID string, lat, lon float64) error {
	if err := e.Tokens.Validate(orderID, tok, connID); err != nil {
		return err
	}
	e.Groups.BroadcastOrder(orderID, models.DriverLocationEvent{
		Type: models.EventDriverLocation, OrderID: orderID, Lat: lat, Lon: lon, At: e.now(),
	})
	return nil
}

// SendChat relays a chat line between the two parties of an order.
// Messages are fan-out only; nothing is persisted.
func (e *Engine) SendChat(ctx context.Context, orderID, from, body string) {
	if body == "" {
		return
	}
	e.Groups.BroadcastOrder(orderID, models.ChatMessageEvent{
		Type: models.EventChatMessage, OrderID: orderID, From: from, Body: body, SentAt: e.now(),
	})
}

// ClientChat validates the client token before relaying.
func (e *Engine) ClientChat(ctx context.Context, orderID, tok, connID, body string) error {
	if err := e.Tokens.Validate(orderID, tok, connID); err != nil {
		return err
	}
	e.SendChat(ctx, orderID, "client", body)
	return nil
}

// RetryPayment re-runs a failed card settlement on the client's ask.
// The driver still authorizes the actual confirmation; this only
// re-attempts the gateway capture for an order parked in
// payment_pending.
func (e *Engine) RetryPayment(ctx context.Context, orderID, tok, connID string) (*models.Order, error) {
	if err := e.Tokens.Validate(orderID, tok, connID); err != nil {
		return nil, err
	}
	o, err := e.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o, err = e.Payments.Retry(ctx, orderID, o.DriverID)
	if err != nil {
		return nil, err
	}
	e.broadcastStatus(o)
	return o, nil
}

// SwitchToCash moves a card order to cash settlement.
func (e *Engine) SwitchToCash(ctx context.Context, orderID, tok, connID string) (*models.Order, error) {
	if err := e.Tokens.Validate(orderID, tok, connID); err != nil {
		return nil, err
	}
	o, err := e.Payments.SwitchToCash(ctx, orderID)
	if err != nil {
		return nil, err
	}
	e.broadcastStatus(o)
	return o, nil
}
