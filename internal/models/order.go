package models

import "time"

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
)

type AddressRole string

const (
	RolePickup      AddressRole = "pickup"
	RoleStop        AddressRole = "stop"
	RoleDestination AddressRole = "destination"
)

// Address is one entry of an order's route, tagged by its role.
type Address struct {
	Role  AddressRole `json:"role"`
	Label string      `json:"label"`
	Lat   float64     `json:"lat"`
	Lon   float64     `json:"lon"`
}

// RideOption is the closed ride-option schema validated at the boundary.
type RideOption struct {
	Name       string `json:"name"` // e.g. "standard", "van", "tour"
	Passengers int    `json:"passengers"`
	Luggage    int    `json:"luggage"`
	Notes      string `json:"notes,omitempty"`
}

// Order is the unit of work: a single ride request from creation to
// settlement. Total and Earnings only ever grow after creation;
// DriverID is set at most once, at acceptance.
type Order struct {
	ID            string        `json:"id"`
	ClientID      string        `json:"client_id,omitempty"` // empty for anonymous orders
	Addresses     []Address     `json:"addresses"`
	Option        RideOption    `json:"option"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Status        OrderStatus   `json:"status"`
	DriverID      string        `json:"driver_id,omitempty"`

	// Initial* are captured at creation and never change; Total and
	// Earnings start from them and only grow through surcharges.
	InitialTotal    float64 `json:"initial_total"`
	InitialEarnings float64 `json:"initial_earnings"`
	Total           float64 `json:"total"`
	Earnings        float64 `json:"earnings"`
	// OriginalTotal keeps the pre-waiver quote when the service fee is
	// backed out for a salaried driver. Zero otherwise.
	OriginalTotal float64 `json:"original_total,omitempty"`

	IsAdvanceBooking bool       `json:"is_advance_booking"`
	ScheduledAt      *time.Time `json:"scheduled_at,omitempty"`

	WaitingTimeMinutes float64 `json:"waiting_time_minutes"`
	PaidStopCost       float64 `json:"paid_stop_cost"`

	ArrivedAt *time.Time `json:"arrived_at,omitempty"`
	ExpiresAt time.Time  `json:"expires_at"`

	PaymentIntentID string `json:"-"` // card orders only

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pickup returns the pickup address, if present.
func (o *Order) Pickup() (Address, bool) {
	for _, a := range o.Addresses {
		if a.Role == RolePickup {
			return a, true
		}
	}
	return Address{}, false
}

// Assigned reports whether a driver has won this order.
func (o *Order) Assigned() bool { return o.DriverID != "" }
