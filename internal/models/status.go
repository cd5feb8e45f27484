package models

// OrderStatus is the lifecycle state of an order. Transitions are
// validated against the graph below; anything else is rejected.
type OrderStatus string

const (
	StatusPending          OrderStatus = "pending"
	StatusAccepted         OrderStatus = "accepted"
	StatusBooked           OrderStatus = "booked" // advance booking accepted
	StatusDriverEnroute    OrderStatus = "driver_enroute"
	StatusDriverArrived    OrderStatus = "driver_arrived"
	StatusInProgress       OrderStatus = "in_progress"
	StatusAtStop1          OrderStatus = "at_stop_1"
	StatusAtStop2          OrderStatus = "at_stop_2"
	StatusAtStop3          OrderStatus = "at_stop_3"
	StatusCompleted        OrderStatus = "completed"
	StatusPaymentPending   OrderStatus = "payment_pending"
	StatusPaymentConfirmed OrderStatus = "payment_confirmed"
	StatusCancelled        OrderStatus = "cancelled"
	StatusExpired          OrderStatus = "expired"
)

// transitions lists, for each status, the statuses reachable from it.
// Cancellation from any non-terminal state is handled in CanTransitionTo
// rather than repeated per entry.
var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:        {StatusAccepted, StatusBooked, StatusExpired},
	StatusAccepted:       {StatusDriverEnroute},
	StatusBooked:         {StatusDriverEnroute},
	StatusDriverEnroute:  {StatusDriverArrived},
	StatusDriverArrived:  {StatusInProgress},
	StatusInProgress:     {StatusAtStop1, StatusAtStop2, StatusAtStop3, StatusCompleted},
	StatusAtStop1:        {StatusInProgress},
	StatusAtStop2:        {StatusInProgress},
	StatusAtStop3:        {StatusInProgress},
	StatusCompleted:      {StatusPaymentPending, StatusPaymentConfirmed},
	StatusPaymentPending: {StatusPaymentConfirmed},
}

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusPaymentConfirmed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// CanTransitionTo reports whether target is reachable from s in one
// step. Re-announcing the current status after a reconnect is a valid
// no-op transition on any non-terminal state.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	if target == StatusCancelled || target == s {
		return !s.Terminal()
	}
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsStop reports whether s is one of the paid-stop statuses.
func (s OrderStatus) IsStop() bool {
	return s == StatusAtStop1 || s == StatusAtStop2 || s == StatusAtStop3
}

// Valid reports whether s is a known status value.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusBooked, StatusDriverEnroute,
		StatusDriverArrived, StatusInProgress, StatusAtStop1, StatusAtStop2,
		StatusAtStop3, StatusCompleted, StatusPaymentPending,
		StatusPaymentConfirmed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}
