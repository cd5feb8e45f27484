package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/session"
)

// Announce registers or refreshes a driver session and attaches the
// connection to it. An empty sessionID mints a new session; a cached id
// resumes the same identity, including across a process restart.
func (e *Engine) Announce(ctx context.Context, sessionID, driverID, name, connID string) (*session.Entry, error) {
	if sessionID != "" {
		// a known id may resolve from the durable copy after a restart
		if entry, err := e.Sessions.Resolve(ctx, sessionID); err == nil {
			if connID != "" {
				e.Sessions.AddConn(entry.ID, connID)
			}
			return e.Sessions.Announce(ctx, entry.ID, driverID, name)
		}
	}
	entry, err := e.Sessions.Announce(ctx, sessionID, driverID, name)
	if err != nil {
		return nil, err
	}
	if connID != "" {
		e.Sessions.AddConn(entry.ID, connID)
	}
	return entry, nil
}

// SetOnline flips a driver's presence. Going online joins the session's
// connections to the online-drivers group and catches the driver up on
// every order still waiting for one; going offline leaves the group.
func (e *Engine) SetOnline(ctx context.Context, sessionID string, online bool) error {
	entry, err := e.Sessions.Resolve(ctx, sessionID)
	if err != nil {
		return err
	}
	entry, err = e.Sessions.SetOnline(ctx, entry.ID, online)
	if err != nil {
		return err
	}

	connIDs := make([]string, 0, len(entry.Conns))
	for id := range entry.Conns {
		connIDs = append(connIDs, id)
	}
	if online {
		e.Groups.JoinOnline(connIDs...)
		observability.DriversOnline.Inc()
		e.catchUp(ctx, connIDs)
	} else {
		e.Groups.LeaveOnline(connIDs...)
		observability.DriversOnline.Dec()
	}
	if e.Log != nil {
		e.Log.Info("driver presence", "session_id", entry.ID, "driver_id", entry.DriverID, "online", online)
	}
	return nil
}

// catchUp sends the current pending orders to a freshly online driver.
func (e *Engine) catchUp(ctx context.Context, connIDs []string) {
	pending, err := e.Orders.ListOrdersByStatus(ctx, models.StatusPending)
	if err != nil {
		if e.Log != nil {
			e.Log.Warn("pending catch-up failed", "error", err)
		}
		return
	}
	for _, o := range pending {
		ev := models.NewOrderEvent{Type: models.EventNewOrder, Order: o}
		for _, connID := range connIDs {
			e.Groups.SendTo(connID, ev)
		}
	}
}

// DropConn detaches a dead connection from its session and from every
// broadcast group. A session whose last connection dropped goes
// offline so no order is dispatched to a phantom driver.
func (e *Engine) DropConn(ctx context.Context, connID string) {
	e.Groups.Unregister(connID)
	if entry, ok := e.Sessions.SessionForConn(connID); ok {
		if wentOffline := e.Sessions.RemoveConn(ctx, entry.ID, connID); wentOffline {
			observability.DriversOnline.Dec()
		}
	}
}

// Accept is a driver's attempt to take a pending order. The arbiter
// guarantees at most one winner; losers are told the order is gone. On
// a win the online group is told to drop the order and both parties
// start receiving the order's events.
func (e *Engine) Accept(ctx context.Context, sessionID, orderID string) (*models.Order, error) {
	entry, err := e.Sessions.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	o, _, err := e.Machine.Accept(ctx, orderID, entry.DriverID)
	if err != nil {
		if err == lifecycle.ErrOrderTaken {
			observability.AcceptConflicts.Inc()
		}
		return nil, err
	}
	observability.OrdersAccepted.Inc()

	e.Groups.BroadcastOnline(models.OrderTakenEvent{Type: models.EventOrderTaken, OrderID: orderID})
	for connID := range entry.Conns {
		e.Groups.JoinOrder(orderID, connID)
	}
	e.broadcastStatus(o)
	e.publishOrderEvent(ctx, o)
	return o, nil
}

// Decline is a no-op acknowledgment; the order stays broadcast to
// everyone else.
func (e *Engine) Decline(ctx context.Context, sessionID, orderID string) {
	if e.Log != nil {
		e.Log.Debug("order declined", "session_id", sessionID, "order_id", orderID)
	}
}

// driverReportable limits the phases a driver may announce directly.
// Acceptance goes through Accept, cancellation through Cancel, expiry
// through the sweep; letting them in here would skip the arbiter on a
// pending order, where no driver is assigned yet.
func driverReportable(phase models.OrderStatus) bool {
	switch phase {
	case models.StatusDriverEnroute, models.StatusDriverArrived,
		models.StatusInProgress, models.StatusAtStop1, models.StatusAtStop2,
		models.StatusAtStop3, models.StatusCompleted:
		return true
	}
	return false
}

// UpdateStatus applies a driver-reported lifecycle phase. The deferred
// fee-waived notice goes out here, when the ride actually starts.
func (e *Engine) UpdateStatus(ctx context.Context, sessionID, orderID string, phase models.OrderStatus, waitingMinutes float64, arrivedAt *time.Time) (*models.Order, error) {
	if !driverReportable(phase) {
		return nil, fmt.Errorf("%w: %q is not a driver-reportable phase", lifecycle.ErrInvalidTransition, phase)
	}
	entry, err := e.Sessions.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	cur, err := e.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	rideStart := cur.Status == models.StatusDriverArrived && phase == models.StatusInProgress

	o, err := e.Machine.Transition(ctx, orderID, phase, lifecycle.TransitionContext{
		DriverID:           entry.DriverID,
		WaitingTimeMinutes: waitingMinutes,
		ArrivedAt:          arrivedAt,
	})
	if err != nil {
		return nil, err
	}

	e.broadcastStatus(o)
	if rideStart && o.OriginalTotal > 0 {
		// salaried regime: the client only now learns the fee was waived
		e.Groups.BroadcastOrder(orderID, models.FeeWaivedEvent{
			Type: models.EventFeeWaived, OrderID: orderID, NewTotal: o.Total,
		})
	}
	if o.Status.Terminal() {
		e.Groups.DropOrder(orderID)
	}
	e.publishOrderEvent(ctx, o)
	return o, nil
}

// StartPaidStop enters a billed intermediate stop and opens its clock.
// A re-announcement after a reconnect may carry the seconds already
// elapsed before the drop; those are restored onto the clock instead
// of opening a fresh one, so the meter survives a process restart.
func (e *Engine) StartPaidStop(ctx context.Context, sessionID, orderID string, stop int, elapsedSeconds float64) (*models.Order, error) {
	if stop < 1 || stop > 3 {
		return nil, fmt.Errorf("%w: stop number %d", ErrInvalidOrder, stop)
	}
	entry, err := e.Sessions.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	target := models.OrderStatus(fmt.Sprintf("at_stop_%d", stop))
	o, err := e.Machine.Transition(ctx, orderID, target, lifecycle.TransitionContext{DriverID: entry.DriverID})
	if err != nil {
		return nil, err
	}
	if _, running := e.Stops.Elapsed(orderID); !running && elapsedSeconds > 0 {
		e.Stops.Restore(orderID, e.now(), elapsedSeconds)
	} else {
		e.Stops.Start(orderID)
	}
	e.broadcastStatus(o)
	return o, nil
}

// EndPaidStop closes the stop clock, bills every elapsed minute and
// returns the ride to in_progress.
func (e *Engine) EndPaidStop(ctx context.Context, sessionID, orderID string) (*models.Order, error) {
	entry, err := e.Sessions.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	minutes, ok := e.Stops.End(orderID)
	if !ok {
		return nil, fmt.Errorf("%w: no stop in progress", ErrInvalidOrder)
	}
	o, err := e.Machine.Transition(ctx, orderID, models.StatusInProgress, lifecycle.TransitionContext{
		DriverID:    entry.DriverID,
		StopMinutes: minutes,
	})
	if err != nil {
		return nil, err
	}
	e.broadcastStatus(o)
	e.publishOrderEvent(ctx, o)
	return o, nil
}

// ConfirmPayment settles the order on the assigned driver's authority.
func (e *Engine) ConfirmPayment(ctx context.Context, sessionID, orderID string, method models.PaymentMethod) (*models.Order, error) {
	entry, err := e.Sessions.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	o, err := e.Payments.Confirm(ctx, orderID, entry.DriverID, method)
	if err != nil {
		return nil, err
	}
	observability.PaymentsConfirmed.Inc()
	e.broadcastStatus(o)
	e.Groups.DropOrder(orderID)
	e.publishOrderEvent(ctx, o)
	return o, nil
}

// ReportLocation streams a driver position: journaled to the event
// stream and relayed to the order's watchers when the driver is on a
// ride.
func (e *Engine) ReportLocation(ctx context.Context, sessionID, orderID string, lat, lon float64) error {
	entry, err := e.Sessions.Resolve(ctx, sessionID)
	if err != nil {
		return err
	}
	at := e.now()
	if e.Events != nil {
		loc := models.DriverLocation{DriverID: entry.DriverID, Lat: lat, Lon: lon, Online: entry.Online, Updated: at}
		if perr := e.Events.PublishDriverLocation(ctx, loc); perr != nil && e.Log != nil {
			e.Log.Warn("location publish failed", "driver_id", entry.DriverID, "error", perr)
		}
	}
	if orderID != "" {
		e.Groups.BroadcastOrder(orderID, models.DriverLocationEvent{
			Type: models.EventDriverLocation, OrderID: orderID,
			Driver: entry.DriverID, Lat: lat, Lon: lon, At: at,
		})
	}
	return nil
}
