package models

import "time"

// Wire event types pushed over the real-time transport. Every frame
// carries a "type" discriminator so clients can switch without peeking
// at the payload shape.

const (
	EventNewOrder       = "new_order"
	EventOrderTaken     = "order_taken"
	EventStatusChanged  = "status_changed"
	EventCancelled      = "cancelled"
	EventFeeWaived      = "fee_waived"
	EventChatMessage    = "chat_message"
	EventDriverLocation = "driver_location"
)

// NewOrderEvent announces a pending order to the online-drivers group.
type NewOrderEvent struct {
	Type  string `json:"type"` // "new_order"
	Order *Order `json:"order"`
}

// OrderTakenEvent tells drivers to drop an order from their local list.
type OrderTakenEvent struct {
	Type    string `json:"type"` // "order_taken"
	OrderID string `json:"order_id"`
}

// StatusChangedEvent notifies both parties of a lifecycle transition,
// including the price fields that may have moved with it.
type StatusChangedEvent struct {
	Type         string      `json:"type"` // "status_changed"
	OrderID      string      `json:"order_id"`
	Status       OrderStatus `json:"status"`
	Total        float64     `json:"total"`
	Earnings     float64     `json:"earnings"`
	PaidStopCost float64     `json:"paid_stop_cost"`
}

// CancelledEvent carries who cancelled and why.
type CancelledEvent struct {
	Type    string `json:"type"` // "cancelled"
	OrderID string `json:"order_id"`
	By      string `json:"by"` // "client" or "driver"
	Reason  string `json:"reason,omitempty"`
}

// FeeWaivedEvent tells the client the service fee was waived. Emitted
// at ride start, never at acceptance.
type FeeWaivedEvent struct {
	Type     string  `json:"type"` // "fee_waived"
	OrderID  string  `json:"order_id"`
	NewTotal float64 `json:"new_total"`
}

// ChatMessageEvent relays a chat line between the parties of an order.
type ChatMessageEvent struct {
	Type    string    `json:"type"` // "chat_message"
	OrderID string    `json:"order_id"`
	From    string    `json:"from"` // "client" or "driver"
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

// DriverLocationEvent streams the assigned driver's position to the
// order's watchers.
type DriverLocationEvent struct {
	Type    string    `json:"type"` // "driver_location"
	OrderID string    `json:"order_id,omitempty"`
	Driver  string    `json:"driver_id"`
	Lat     float64   `json:"lat"`
	Lon     float64   `json:"lon"`
	At      time.Time `json:"at"`
}

// DriverLocation is the Kafka payload produced on every driver position
// report and folded into the fast store by the consumer.
type DriverLocation struct {
	DriverID string    `json:"driver_id"`
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Online   bool      `json:"online"`
	Updated  time.Time `json:"updated"`
}

// OrderEvent is the Kafka journal entry published on every committed
// order transition.
type OrderEvent struct {
	OrderID  string      `json:"order_id"`
	Status   OrderStatus `json:"status"`
	DriverID string      `json:"driver_id,omitempty"`
	Total    float64     `json:"total"`
	At       time.Time   `json:"at"`
}
