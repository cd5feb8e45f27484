package lifecycle

import (
	"context"
	"errors"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

// Accept resolves a driver's attempt to take a pending order. At most
// one attempt ever succeeds: the conditional store write from "pending"
// is the commit point, so under N concurrent attempts exactly one write
// lands and the other N-1 observe the conflict and are told the order
// is gone. On success the driver's earnings are derived per their
// commission regime; feeWaived reports whether the salaried back-out
// applied (the client notice is deferred to ride start).
func (m *Machine) Accept(ctx context.Context, orderID, driverID string) (o *models.Order, feeWaived bool, err error) {
	o, err = m.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	if o.Status != models.StatusPending {
		return nil, false, ErrOrderTaken
	}

	d, err := m.Drivers.GetDriver(ctx, driverID)
	if err != nil {
		return nil, false, err
	}

	target := models.StatusAccepted
	if o.IsAdvanceBooking {
		target = models.StatusBooked
	}

	o.DriverID = driverID
	feeWaived = m.Calc.Acceptance(o, d)
	o.Status = target

	if err := m.Orders.UpdateOrderFrom(ctx, o, models.StatusPending); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, false, ErrOrderTaken
		}
		return nil, false, err
	}

	if m.Log != nil {
		m.Log.Info("order accepted",
			"order_id", o.ID, "driver_id", driverID, "status", target, "fee_waived", feeWaived)
	}
	return o, feeWaived, nil
}
