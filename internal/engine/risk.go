package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradexec/internal/domain"
)

// RiskManager applies pre-trade checks before a signal becomes an order.
// Zero limits disable the corresponding check.
type RiskManager struct {
	// MaxOrderNotional caps limit-order value (qty * limit price). Market
	// orders have no known price at intake and are not notional-checked.
	MaxOrderNotional decimal.Decimal

	// MaxPositionQty caps the absolute position size a fill of this order
	// could produce.
	MaxPositionQty decimal.Decimal
}

// NewRiskManager builds a RiskManager from raw limit values.
func NewRiskManager(maxOrderNotional, maxPositionQty decimal.Decimal) *RiskManager {
	return &RiskManager{
		MaxOrderNotional: maxOrderNotional,
		MaxPositionQty:   maxPositionQty,
	}
}

// CheckSignal returns a validation error when the signal would breach a
// configured limit. pos is the current position for the signal's symbol.
func (r *RiskManager) CheckSignal(sig domain.Signal, pos domain.Position) error {
	if r.MaxOrderNotional.IsPositive() && sig.LimitPrice != nil {
		notional := sig.Qty.Mul(*sig.LimitPrice)
		if notional.GreaterThan(r.MaxOrderNotional) {
			return fmt.Errorf("%w: order notional %s exceeds limit %s",
				domain.ErrValidation, notional, r.MaxOrderNotional)
		}
	}

	if r.MaxPositionQty.IsPositive() {
		delta := sig.Qty
		if sig.Side == domain.SideSell {
			delta = sig.Qty.Neg()
		}
		projected := pos.Qty.Add(delta).Abs()
		if projected.GreaterThan(r.MaxPositionQty) {
			return fmt.Errorf("%w: projected position %s in %s exceeds limit %s",
				domain.ErrValidation, projected, sig.Symbol, r.MaxPositionQty)
		}
	}
	return nil
}
