package storage

import (
	"context"
	"errors"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	// ErrNotFound is returned when no row matches the given id.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional write lost the race:
	// the stored status no longer matches the expected one.
	ErrConflict = errors.New("conflict: status changed concurrently")
)

// OrderStore defines persistence for orders. UpdateOrderFrom is the
// commit point for every lifecycle transition: the write only lands if
// the stored status still equals from, which is what linearizes
// concurrent transitions (including contested acceptance) per order.
type OrderStore interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	UpdateOrderFrom(ctx context.Context, o *models.Order, from models.OrderStatus) error
	ListOrdersByStatus(ctx context.Context, s models.OrderStatus) ([]*models.Order, error)
}

// SessionStore is the durable side of the session registry. The
// in-process registry is rebuilt from these rows after a restart.
type SessionStore interface {
	SaveSession(ctx context.Context, s *models.DriverSession) error
	GetSession(ctx context.Context, id string) (*models.DriverSession, error)
	SetSessionOnline(ctx context.Context, id string, online bool) error
}

// DriverStore provides the commission configuration and ride counter.
type DriverStore interface {
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	IncrementCompletedRides(ctx context.Context, id string) error
}

// LedgerStore accumulates per-period collection fees for
// provider-affiliated drivers.
type LedgerStore interface {
	AddCollectionFee(ctx context.Context, providerID, driverID, period string, serviceFee, commission float64, orderID string) error
	GetCollectionFee(ctx context.Context, providerID, driverID, period string) (*models.CollectionFeeEntry, error)
}

// Store bundles the four stores a single backend implements.
type Store interface {
	OrderStore
	SessionStore
	DriverStore
	LedgerStore
}
