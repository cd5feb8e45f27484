package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) CreateOrder(ctx context.Context, o *models.Order) error {
	addrs, err := json.Marshal(o.Addresses)
	if err != nil {
		return err
	}
	opt, err := json.Marshal(o.Option)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO orders(
		id, client_id, addresses, ride_option, payment_method, status, driver_id,
		initial_total, initial_earnings, total, earnings, original_total,
		is_advance_booking, scheduled_at, waiting_minutes, paid_stop_cost,
		arrived_at, expires_at, payment_intent_id, created_at, updated_at)
		VALUES($1,NULLIF($2,''),$3,$4,$5,$6,NULLIF($7,''),$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		o.ID, o.ClientID, addrs, opt, o.PaymentMethod, o.Status, o.DriverID,
		o.InitialTotal, o.InitialEarnings, o.Total, o.Earnings, o.OriginalTotal,
		o.IsAdvanceBooking, o.ScheduledAt, o.WaitingTimeMinutes, o.PaidStopCost,
		o.ArrivedAt, o.ExpiresAt, o.PaymentIntentID, o.CreatedAt, o.UpdatedAt)
	return err
}

func (p *PostgresStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT
		id, COALESCE(client_id,''), addresses, ride_option, payment_method, status,
		COALESCE(driver_id,''), initial_total, initial_earnings, total, earnings,
		original_total, is_advance_booking, scheduled_at, waiting_minutes,
		paid_stop_cost, arrived_at, expires_at, COALESCE(payment_intent_id,''),
		created_at, updated_at
		FROM orders WHERE id=$1`, id)
	return scanOrder(row)
}

// UpdateOrderFrom writes o only if the stored status still equals from.
// RowsAffected distinguishes a lost race from a missing row.
func (p *PostgresStore) UpdateOrderFrom(ctx context.Context, o *models.Order, from models.OrderStatus) error {
	res, err := p.db.ExecContext(ctx, `UPDATE orders SET
		status=$1, driver_id=NULLIF($2,''), total=$3, earnings=$4,
		initial_earnings=$5, original_total=$6, waiting_minutes=$7,
		paid_stop_cost=$8, arrived_at=$9, payment_intent_id=$10,
		payment_method=$11, updated_at=$12
		WHERE id=$13 AND status=$14`,
		o.Status, o.DriverID, o.Total, o.Earnings,
		o.InitialEarnings, o.OriginalTotal, o.WaitingTimeMinutes,
		o.PaidStopCost, o.ArrivedAt, o.PaymentIntentID,
		o.PaymentMethod, time.Now(),
		o.ID, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := p.GetOrder(ctx, o.ID); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (p *PostgresStore) ListOrdersByStatus(ctx context.Context, s models.OrderStatus) ([]*models.Order, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT
		id, COALESCE(client_id,''), addresses, ride_option, payment_method, status,
		COALESCE(driver_id,''), initial_total, initial_earnings, total, earnings,
		original_total, is_advance_booking, scheduled_at, waiting_minutes,
		paid_stop_cost, arrived_at, expires_at, COALESCE(payment_intent_id,''),
		created_at, updated_at
		FROM orders WHERE status=$1 ORDER BY created_at`, s)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (*models.Order, error) {
	var o models.Order
	var addrs, opt []byte
	var scheduled, arrived sql.NullTime
	err := r.Scan(&o.ID, &o.ClientID, &addrs, &opt, &o.PaymentMethod, &o.Status,
		&o.DriverID, &o.InitialTotal, &o.InitialEarnings, &o.Total, &o.Earnings,
		&o.OriginalTotal, &o.IsAdvanceBooking, &scheduled, &o.WaitingTimeMinutes,
		&o.PaidStopCost, &arrived, &o.ExpiresAt, &o.PaymentIntentID,
		&o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(addrs, &o.Addresses); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(opt, &o.Option); err != nil {
		return nil, err
	}
	if scheduled.Valid {
		o.ScheduledAt = &scheduled.Time
	}
	if arrived.Valid {
		o.ArrivedAt = &arrived.Time
	}
	return &o, nil
}

func (p *PostgresStore) SaveSession(ctx context.Context, s *models.DriverSession) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO driver_sessions(id, driver_id, name, online, expires_at)
		VALUES($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET driver_id=$2, name=$3, online=$4, expires_at=$5`,
		s.ID, s.DriverID, s.Name, s.Online, s.ExpiresAt)
	return err
}

func (p *PostgresStore) GetSession(ctx context.Context, id string) (*models.DriverSession, error) {
	var s models.DriverSession
	err := p.db.QueryRowContext(ctx, `SELECT id, driver_id, name, online, expires_at
		FROM driver_sessions WHERE id=$1`, id).
		Scan(&s.ID, &s.DriverID, &s.Name, &s.Online, &s.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) SetSessionOnline(ctx context.Context, id string, online bool) error {
	res, err := p.db.ExecContext(ctx, `UPDATE driver_sessions SET online=$1 WHERE id=$2`, online, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	var d models.Driver
	err := p.db.QueryRowContext(ctx, `SELECT id, name, commission_pct, salaried,
		COALESCE(provider_id,''), completed_rides FROM drivers WHERE id=$1`, id).
		Scan(&d.ID, &d.Name, &d.CommissionPct, &d.Salaried, &d.ProviderID, &d.CompletedRides)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (p *PostgresStore) IncrementCompletedRides(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE drivers SET completed_rides = completed_rides + 1 WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) AddCollectionFee(ctx context.Context, providerID, driverID, period string, serviceFee, commission float64, orderID string) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO collection_fees(
		id, provider_id, driver_id, period, service_fee_due, commission_due, amount_paid, order_ids)
		VALUES($1,$2,$3,$4,$5,$6,0,$7)
		ON CONFLICT (provider_id, driver_id, period) DO UPDATE SET
			service_fee_due = collection_fees.service_fee_due + EXCLUDED.service_fee_due,
			commission_due = collection_fees.commission_due + EXCLUDED.commission_due,
			order_ids = array_append(collection_fees.order_ids, $8)`,
		uuid.New().String(), providerID, driverID, period, serviceFee, commission,
		pq.Array([]string{orderID}), orderID)
	return err
}

func (p *PostgresStore) GetCollectionFee(ctx context.Context, providerID, driverID, period string) (*models.CollectionFeeEntry, error) {
	var e models.CollectionFeeEntry
	err := p.db.QueryRowContext(ctx, `SELECT id, provider_id, driver_id, period,
		service_fee_due, commission_due, amount_paid, order_ids
		FROM collection_fees WHERE provider_id=$1 AND driver_id=$2 AND period=$3`,
		providerID, driverID, period).
		Scan(&e.ID, &e.ProviderID, &e.DriverID, &e.Period,
			&e.ServiceFeeDue, &e.CommissionDue, &e.AmountPaid, pq.Array(&e.OrderIDs))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
