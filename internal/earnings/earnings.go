package earnings

import (
	"github.com/example/ride-dispatch/internal/models"
)

// Config is the admin-editable commission configuration. The engine
// reads it, never writes it.
type Config struct {
	ServiceFeePct         float64 // embedded in quoted prices, backed out for salaried drivers
	DefaultCommissionPct  float64 // independent drivers with no individual setting
	SalariedCommissionPct float64 // salaried drivers with no provider affiliation
	SurchargeSharePct     float64 // driver share of waiting/stop fees when no individual setting
	WaitingRatePerMinute  float64 // currency units per billable minute
	FreeWaitingMinutes    float64 // free allowance before ride start, not applied to stops
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		ServiceFeePct:         15,
		DefaultCommissionPct:  95,
		SalariedCommissionPct: 34,
		SurchargeSharePct:     85,
		WaitingRatePerMinute:  42,
		FreeWaitingMinutes:    5,
	}
}

// Calculator derives driver earnings. Earnings are never
// client-supplied: they are computed at acceptance and on every
// price-affecting transition afterwards.
type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) *Calculator { return &Calculator{cfg: cfg} }

// Acceptance applies the commission regime to an order the driver just
// won. For a salaried driver with no provider affiliation the service
// fee embedded in the quote is backed out: the client-facing price
// drops to the subtotal and the original quote is kept for reference.
// Returns true when the fee was waived (the notice itself is deferred
// to ride start by the caller).
func (c *Calculator) Acceptance(o *models.Order, d *models.Driver) (feeWaived bool) {
	if d.SalariedRegime() {
		subtotal := o.Total / (1 + c.cfg.ServiceFeePct/100)
		o.OriginalTotal = o.Total
		o.Total = subtotal
		o.Earnings = subtotal * c.cfg.SalariedCommissionPct / 100
		feeWaived = true
	} else {
		pct := d.CommissionPct
		if pct <= 0 {
			pct = c.cfg.DefaultCommissionPct
		}
		o.Earnings = o.Total * pct / 100
	}
	// first write only; immutable afterwards
	if o.InitialEarnings == 0 {
		o.InitialEarnings = o.Earnings
	}
	return feeWaived
}

// WaitingFee bills the pre-ride waiting time. The first free minutes
// are not charged.
func (c *Calculator) WaitingFee(minutes float64) float64 {
	billable := minutes - c.cfg.FreeWaitingMinutes
	if billable <= 0 {
		return 0
	}
	return billable * c.cfg.WaitingRatePerMinute
}

// StopFee bills a paid stop. Every minute counts: stops carry no free
// allowance.
func (c *Calculator) StopFee(minutes float64) float64 {
	if minutes <= 0 {
		return 0
	}
	return minutes * c.cfg.WaitingRatePerMinute
}

// SurchargeShare is the driver's cut of a fee added after acceptance,
// under the same regime that was determined at acceptance.
func (c *Calculator) SurchargeShare(d *models.Driver, fee float64) float64 {
	switch {
	case d.SalariedRegime():
		return fee * c.cfg.SalariedCommissionPct / 100
	case d.CommissionPct > 0:
		return fee * d.CommissionPct / 100
	default:
		return fee * c.cfg.SurchargeSharePct / 100
	}
}

// ServiceFee is the provider-owed service fee on a subtotal, used for
// the collection-fee ledger.
func (c *Calculator) ServiceFee(subtotal float64) float64 {
	return subtotal * c.cfg.ServiceFeePct / 100
}

// ProviderCommission is the additional commission owed on top of the
// service fee for a provider-affiliated ride: the slice of the price
// the driver did not earn.
func (c *Calculator) ProviderCommission(o *models.Order) float64 {
	v := o.Total - o.Earnings - c.ServiceFee(o.Total)
	if v < 0 {
		return 0
	}
	return v
}
