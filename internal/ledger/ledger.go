// Package ledger maintains the authoritative in-memory record of cash and
// positions. It is mutated only by applying confirmed fills; applying the
// same fill twice is a no-op.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradexec/internal/domain"
)

// Ledger holds the portfolio: available cash plus one Position per symbol,
// and the append-only audit trail of every fill applied. A single mutex
// scopes the atomic apply-fill step; reads only block behind that brief
// critical section.
type Ledger struct {
	mu        sync.RWMutex
	cash      decimal.Decimal
	positions map[string]*domain.Position
	applied   map[string]struct{} // "orderID/seq" of fills already applied
	fills     []domain.Fill
	updatedAt time.Time
}

// New creates a Ledger seeded with the given cash balance.
func New(initialCash decimal.Decimal) *Ledger {
	return &Ledger{
		cash:      initialCash,
		positions: make(map[string]*domain.Position),
		applied:   make(map[string]struct{}),
	}
}

func fillKey(f domain.Fill) string {
	return fmt.Sprintf("%s/%d", f.OrderID, f.Seq)
}

// ApplyFill atomically applies a fill to cash and the symbol's position.
// Duplicate delivery (same order id + sequence number) is detected and
// ignored; the first return value reports whether the fill was applied.
func (l *Ledger) ApplyFill(f domain.Fill) (bool, error) {
	if !f.Qty.IsPositive() {
		return false, fmt.Errorf("%w: fill quantity %s must be positive", domain.ErrValidation, f.Qty)
	}
	if !f.Side.Valid() {
		return false, fmt.Errorf("%w: fill side %q", domain.ErrValidation, f.Side)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := fillKey(f)
	if _, dup := l.applied[key]; dup {
		return false, nil
	}

	pos, ok := l.positions[f.Symbol]
	if !ok {
		pos = &domain.Position{Symbol: f.Symbol}
		l.positions[f.Symbol] = pos
	}

	signedQty := f.Qty
	if f.Side == domain.SideSell {
		signedQty = f.Qty.Neg()
	}
	applyToPosition(pos, signedQty, f.Price)

	// Buy debits cash, sell credits it.
	if f.Side == domain.SideBuy {
		l.cash = l.cash.Sub(f.Notional())
	} else {
		l.cash = l.cash.Add(f.Notional())
	}

	l.applied[key] = struct{}{}
	l.fills = append(l.fills, f)
	l.updatedAt = f.Timestamp
	return true, nil
}

// applyToPosition folds a signed quantity at a price into the position.
// Same-direction fills extend the position at a volume-weighted average
// cost; opposite-direction fills realize P&L on the closed portion first and
// reset the cost basis when the position flips.
func applyToPosition(pos *domain.Position, signedQty, price decimal.Decimal) {
	old := pos.Qty
	newQty := old.Add(signedQty)

	switch {
	case old.IsZero() || old.Sign() == signedQty.Sign():
		// Extending (or opening): VWAP over absolute quantities.
		oldAbs := old.Abs()
		addAbs := signedQty.Abs()
		pos.AvgCost = oldAbs.Mul(pos.AvgCost).Add(addAbs.Mul(price)).Div(oldAbs.Add(addAbs))

	default:
		// Reducing or flipping: realize P&L on the closed portion.
		closedQty := decimal.Min(old.Abs(), signedQty.Abs())
		pnlPerUnit := price.Sub(pos.AvgCost)
		if old.Sign() < 0 {
			// Short positions profit when price falls.
			pnlPerUnit = pos.AvgCost.Sub(price)
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(pnlPerUnit.Mul(closedQty))

		if newQty.IsZero() {
			pos.AvgCost = decimal.Zero
		} else if newQty.Sign() != old.Sign() {
			// Flipped through flat: remainder opens at the fill price.
			pos.AvgCost = price
		}
		// Partial close keeps the existing average cost.
	}

	pos.Qty = newQty
}

// Cash returns the current available cash.
func (l *Ledger) Cash() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

// Position returns a copy of the position for symbol. The second return
// value reports whether any fills have touched the symbol.
func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return domain.Position{Symbol: symbol}, false
	}
	return *pos, true
}

// Snapshot returns a consistent point-in-time copy of the portfolio.
func (l *Ledger) Snapshot() domain.Portfolio {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := domain.Portfolio{
		Cash:      l.cash,
		Positions: make(map[string]domain.Position, len(l.positions)),
		UpdatedAt: l.updatedAt,
	}
	for sym, pos := range l.positions {
		out.Positions[sym] = *pos
	}
	return out
}

// Fills returns a copy of the audit trail in application order.
func (l *Ledger) Fills() []domain.Fill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Fill, len(l.fills))
	copy(out, l.fills)
	return out
}
