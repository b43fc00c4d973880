package engine

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"tradexec/internal/domain"
)

func TestRiskNotionalLimit(t *testing.T) {
	r := NewRiskManager(dec("1000"), decimal.Zero)

	sig := buySignal("k", "AAPL", "10", "99.99")
	if err := r.CheckSignal(sig, domain.Position{}); err != nil {
		t.Fatalf("under the limit: %v", err)
	}

	sig = buySignal("k", "AAPL", "11", "100")
	if err := r.CheckSignal(sig, domain.Position{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("over the limit: got %v, want ErrValidation", err)
	}

	// Market orders have no notional at intake.
	sig = buySignal("k", "AAPL", "1000000", "")
	if err := r.CheckSignal(sig, domain.Position{}); err != nil {
		t.Fatalf("market order: %v", err)
	}
}

func TestRiskPositionLimit(t *testing.T) {
	r := NewRiskManager(decimal.Zero, dec("100"))

	pos := domain.Position{Symbol: "AAPL", Qty: dec("90")}
	if err := r.CheckSignal(buySignal("k", "AAPL", "10", "5"), pos); err != nil {
		t.Fatalf("exactly at the limit: %v", err)
	}
	if err := r.CheckSignal(buySignal("k", "AAPL", "11", "5"), pos); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("over the limit: got %v, want ErrValidation", err)
	}

	// Selling out of a long reduces exposure and always passes.
	sell := domain.Signal{Symbol: "AAPL", Side: domain.SideSell, Qty: dec("50"), IdempotencyKey: "k"}
	if err := r.CheckSignal(sell, pos); err != nil {
		t.Fatalf("reducing sell: %v", err)
	}

	// A short position is measured by magnitude too.
	short := domain.Position{Symbol: "AAPL", Qty: dec("-90")}
	if err := r.CheckSignal(domain.Signal{Symbol: "AAPL", Side: domain.SideSell, Qty: dec("20"), IdempotencyKey: "k"}, short); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("deepening short: got %v, want ErrValidation", err)
	}
}

func TestRiskZeroLimitsDisableChecks(t *testing.T) {
	r := NewRiskManager(decimal.Zero, decimal.Zero)
	if err := r.CheckSignal(buySignal("k", "AAPL", "1000000", "1000000"), domain.Position{}); err != nil {
		t.Fatalf("disabled checks: %v", err)
	}
}
