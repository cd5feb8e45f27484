package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryStore keeps everything in process. It backs tests and local
// runs without Postgres; the conditional update holds the same
// atomicity contract as the SQL implementation.
type MemoryStore struct {
	mu       sync.Mutex
	orders   map[string]*models.Order
	sessions map[string]*models.DriverSession
	drivers  map[string]*models.Driver
	ledger   map[string]*models.CollectionFeeEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*models.Order),
		sessions: make(map[string]*models.DriverSession),
		drivers:  make(map[string]*models.Driver),
		ledger:   make(map[string]*models.CollectionFeeEntry),
	}
}

func (m *MemoryStore) CreateOrder(ctx context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) UpdateOrderFrom(ctx context.Context, o *models.Order, from models.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[o.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != from {
		return ErrConflict
	}
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *MemoryStore) ListOrdersByStatus(ctx context.Context, s models.OrderStatus) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Order
	for _, o := range m.orders {
		if o.Status == s {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveSession(ctx context.Context, s *models.DriverSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*models.DriverSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) SetSessionOnline(ctx context.Context, id string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Online = online
	return nil
}

func (m *MemoryStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) IncrementCompletedRides(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return ErrNotFound
	}
	d.CompletedRides++
	return nil
}

// PutDriver seeds a driver row. Test and bootstrap helper.
func (m *MemoryStore) PutDriver(d *models.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.drivers[d.ID] = &cp
}

func (m *MemoryStore) AddCollectionFee(ctx context.Context, providerID, driverID, period string, serviceFee, commission float64, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := providerID + "|" + driverID + "|" + period
	e, ok := m.ledger[key]
	if !ok {
		e = &models.CollectionFeeEntry{
			ID:         uuid.New().String(),
			ProviderID: providerID,
			DriverID:   driverID,
			Period:     period,
		}
		m.ledger[key] = e
	}
	e.ServiceFeeDue += serviceFee
	e.CommissionDue += commission
	e.OrderIDs = append(e.OrderIDs, orderID)
	return nil
}

func (m *MemoryStore) GetCollectionFee(ctx context.Context, providerID, driverID, period string) (*models.CollectionFeeEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.ledger[providerID+"|"+driverID+"|"+period]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	cp.OrderIDs = append([]string(nil), e.OrderIDs...)
	return &cp, nil
}
