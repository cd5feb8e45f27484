package models

import "time"

// Driver carries the commission configuration the engine needs when a
// driver wins an order. A driver is either provider-affiliated
// (ProviderID set, collection fee owed by the provider), independent
// (neither flag), or salaried with no provider affiliation.
type Driver struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	CommissionPct  float64 `json:"commission_pct"` // 0 means the engine default applies
	Salaried       bool    `json:"salaried"`
	ProviderID     string  `json:"provider_id,omitempty"`
	CompletedRides int     `json:"completed_rides"`
}

// SalariedRegime reports whether the salaried fee-waiver regime applies.
func (d *Driver) SalariedRegime() bool {
	return d.Salaried && d.ProviderID == ""
}

// DriverSession is the durable session row. The in-process registry
// additionally tracks live connection ids; this row is what survives a
// process restart so a reconnecting driver keeps the same session id.
type DriverSession struct {
	ID        string    `json:"id"`
	DriverID  string    `json:"driver_id"`
	Name      string    `json:"name"`
	Online    bool      `json:"online"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CollectionFeeEntry is one billing-period ledger row for a
// provider-affiliated driver. ServiceFeeDue and CommissionDue are
// tracked separately; OrderIDs records which rides contributed.
type CollectionFeeEntry struct {
	ID            string   `json:"id"`
	ProviderID    string   `json:"provider_id"`
	DriverID      string   `json:"driver_id"`
	Period        string   `json:"period"` // YYYY-MM
	ServiceFeeDue float64  `json:"service_fee_due"`
	CommissionDue float64  `json:"commission_due"`
	AmountPaid    float64  `json:"amount_paid"`
	OrderIDs      []string `json:"order_ids"`
}
