package earnings

import (
	"math"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestAcceptanceIndependentDefault(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	o := &models.Order{Total: 1000}
	d := &models.Driver{ID: "d1"}
	if waived := c.Acceptance(o, d); waived {
		t.Fatal("independent driver must not waive the fee")
	}
	if !almostEqual(o.Earnings, 950) {
		t.Fatalf("expected 950, got %f", o.Earnings)
	}
	if !almostEqual(o.InitialEarnings, 950) {
		t.Fatalf("initial earnings not captured: %f", o.InitialEarnings)
	}
}

func TestAcceptanceIndividualCommission(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	o := &models.Order{Total: 1000}
	d := &models.Driver{ID: "d1", CommissionPct: 80}
	c.Acceptance(o, d)
	if !almostEqual(o.Earnings, 800) {
		t.Fatalf("expected 800, got %f", o.Earnings)
	}
}

func TestAcceptanceSalariedBacksOutServiceFee(t *testing.T) {
	// quoted 1150 with 15% embedded fee -> subtotal 1000; at 34% the
	// driver earns 340 and the client-visible price drops to 1000.
	c := NewCalculator(DefaultConfig())
	o := &models.Order{Total: 1150}
	d := &models.Driver{ID: "d1", Salaried: true}
	waived := c.Acceptance(o, d)
	if !waived {
		t.Fatal("expected fee waiver")
	}
	if !almostEqual(o.Total, 1000) {
		t.Fatalf("expected subtotal 1000, got %f", o.Total)
	}
	if !almostEqual(o.OriginalTotal, 1150) {
		t.Fatalf("original total not kept: %f", o.OriginalTotal)
	}
	if !almostEqual(o.Earnings, 340) {
		t.Fatalf("expected 340, got %f", o.Earnings)
	}
}

func TestSalariedWithProviderIsNotWaived(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	o := &models.Order{Total: 1000}
	d := &models.Driver{ID: "d1", Salaried: true, ProviderID: "p1"}
	if waived := c.Acceptance(o, d); waived {
		t.Fatal("provider-affiliated driver must not get the waiver")
	}
}

func TestWaitingFeeFreeMinutes(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	// 12 minutes at rate 42: first 5 free, 7 billable -> 294.
	if got := c.WaitingFee(12); !almostEqual(got, 294) {
		t.Fatalf("expected 294, got %f", got)
	}
	if got := c.WaitingFee(4); got != 0 {
		t.Fatalf("expected 0 within free allowance, got %f", got)
	}
}

func TestStopFeeHasNoFreeMinutes(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	if got := c.StopFee(3); !almostEqual(got, 126) {
		t.Fatalf("expected 126, got %f", got)
	}
}

func TestSurchargeShare(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	if got := c.SurchargeShare(&models.Driver{}, 100); !almostEqual(got, 85) {
		t.Fatalf("default share: expected 85, got %f", got)
	}
	if got := c.SurchargeShare(&models.Driver{CommissionPct: 90}, 100); !almostEqual(got, 90) {
		t.Fatalf("configured share: expected 90, got %f", got)
	}
	if got := c.SurchargeShare(&models.Driver{Salaried: true}, 100); !almostEqual(got, 34) {
		t.Fatalf("salaried share: expected 34, got %f", got)
	}
}
