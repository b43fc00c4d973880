package ledger

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradexec/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func fill(orderID string, seq int64, side domain.Side, qty, price string) domain.Fill {
	return domain.Fill{
		OrderID:   orderID,
		Symbol:    "X",
		Side:      side,
		Seq:       seq,
		Qty:       dec(qty),
		Price:     dec(price),
		Timestamp: time.Now(),
	}
}

func mustApply(t *testing.T, l *Ledger, f domain.Fill) {
	t.Helper()
	applied, err := l.ApplyFill(f)
	if err != nil {
		t.Fatalf("ApplyFill(%s/%d): %v", f.OrderID, f.Seq, err)
	}
	if !applied {
		t.Fatalf("ApplyFill(%s/%d): unexpectedly skipped as duplicate", f.OrderID, f.Seq)
	}
}

func TestBuyDebitsCashAndOpensPosition(t *testing.T) {
	l := New(dec("1000"))
	mustApply(t, l, fill("o1", 1, domain.SideBuy, "10", "5.00"))

	if !l.Cash().Equal(dec("950")) {
		t.Fatalf("cash = %s, want 950", l.Cash())
	}
	pos, ok := l.Position("X")
	if !ok || !pos.Qty.Equal(dec("10")) || !pos.AvgCost.Equal(dec("5.00")) {
		t.Fatalf("position = %+v", pos)
	}
}

func TestSameDirectionFillsAverageCost(t *testing.T) {
	l := New(dec("1000"))
	mustApply(t, l, fill("o1", 1, domain.SideBuy, "10", "5.00"))
	mustApply(t, l, fill("o2", 1, domain.SideBuy, "10", "7.00"))

	pos, _ := l.Position("X")
	// (10*5 + 10*7) / 20 = 6
	if !pos.AvgCost.Equal(dec("6")) {
		t.Fatalf("avg cost = %s, want 6", pos.AvgCost)
	}
	if !pos.Qty.Equal(dec("20")) {
		t.Fatalf("qty = %s, want 20", pos.Qty)
	}
}

func TestReduceRealizesPnLAndKeepsCostBasis(t *testing.T) {
	l := New(dec("1000"))
	mustApply(t, l, fill("o1", 1, domain.SideBuy, "10", "5.00"))
	mustApply(t, l, fill("o2", 1, domain.SideSell, "4", "8.00"))

	pos, _ := l.Position("X")
	if !pos.Qty.Equal(dec("6")) {
		t.Fatalf("qty = %s, want 6", pos.Qty)
	}
	if !pos.AvgCost.Equal(dec("5.00")) {
		t.Fatalf("partial close changed avg cost: %s", pos.AvgCost)
	}
	// (8 - 5) * 4 = 12
	if !pos.RealizedPnL.Equal(dec("12")) {
		t.Fatalf("realized = %s, want 12", pos.RealizedPnL)
	}
	// 1000 - 50 + 32 = 982
	if !l.Cash().Equal(dec("982")) {
		t.Fatalf("cash = %s, want 982", l.Cash())
	}
}

func TestFlipThroughFlatResetsBasis(t *testing.T) {
	l := New(dec("1000"))
	mustApply(t, l, fill("o1", 1, domain.SideBuy, "10", "5.00"))
	mustApply(t, l, fill("o2", 1, domain.SideSell, "15", "6.00"))

	pos, _ := l.Position("X")
	if !pos.Qty.Equal(dec("-5")) {
		t.Fatalf("qty = %s, want -5", pos.Qty)
	}
	if !pos.AvgCost.Equal(dec("6.00")) {
		t.Fatalf("flipped basis = %s, want 6.00", pos.AvgCost)
	}
	// Realized on the 10 closed: (6-5)*10 = 10.
	if !pos.RealizedPnL.Equal(dec("10")) {
		t.Fatalf("realized = %s, want 10", pos.RealizedPnL)
	}
}

func TestShortPositionProfitsOnPriceDrop(t *testing.T) {
	l := New(dec("1000"))
	mustApply(t, l, fill("o1", 1, domain.SideSell, "10", "9.00"))
	mustApply(t, l, fill("o2", 1, domain.SideBuy, "10", "7.00"))

	pos, _ := l.Position("X")
	if !pos.Flat() {
		t.Fatalf("qty = %s, want flat", pos.Qty)
	}
	// (9 - 7) * 10 = 20
	if !pos.RealizedPnL.Equal(dec("20")) {
		t.Fatalf("realized = %s, want 20", pos.RealizedPnL)
	}
	if !pos.AvgCost.IsZero() {
		t.Fatalf("flat position should carry zero basis, got %s", pos.AvgCost)
	}
	// 1000 + 90 - 70 = 1020
	if !l.Cash().Equal(dec("1020")) {
		t.Fatalf("cash = %s, want 1020", l.Cash())
	}
}

func TestDuplicateFillIsIdempotent(t *testing.T) {
	l := New(dec("1000"))
	f := fill("o1", 1, domain.SideBuy, "10", "5.00")
	mustApply(t, l, f)

	applied, err := l.ApplyFill(f)
	if err != nil {
		t.Fatalf("duplicate apply: %v", err)
	}
	if applied {
		t.Fatal("duplicate fill was applied twice")
	}
	if !l.Cash().Equal(dec("950")) {
		t.Fatalf("duplicate delivery double-counted: cash = %s", l.Cash())
	}
	if got := len(l.Fills()); got != 1 {
		t.Fatalf("audit trail has %d fills, want 1", got)
	}
}

func TestRejectsInvalidFills(t *testing.T) {
	l := New(dec("1000"))
	if _, err := l.ApplyFill(fill("o1", 1, domain.SideBuy, "0", "5")); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("zero qty: got %v", err)
	}
	bad := fill("o1", 1, "hold", "1", "5")
	if _, err := l.ApplyFill(bad); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bad side: got %v", err)
	}
}

// The accounting identity: for any sequence of fills, cash movement equals
// the signed sum of fill notionals.
func TestAccountingIdentity(t *testing.T) {
	initial := dec("10000")
	l := New(initial)

	fills := []domain.Fill{
		fill("a", 1, domain.SideBuy, "10", "5.00"),
		fill("a", 2, domain.SideBuy, "5", "5.50"),
		fill("b", 1, domain.SideSell, "8", "6.25"),
		fill("c", 1, domain.SideSell, "12", "6.00"),
		fill("d", 1, domain.SideBuy, "7", "5.75"),
	}
	for i, f := range fills {
		f.OrderID = fmt.Sprintf("%s-%d", f.OrderID, i)
		mustApply(t, l, f)
	}

	signed := decimal.Zero
	for _, f := range l.Fills() {
		if f.Side == domain.SideBuy {
			signed = signed.Sub(f.Notional())
		} else {
			signed = signed.Add(f.Notional())
		}
	}
	if !l.Cash().Equal(initial.Add(signed)) {
		t.Fatalf("cash %s != initial %s + signed notional %s", l.Cash(), initial, signed)
	}
}

func TestSnapshotIsConsistentCopy(t *testing.T) {
	l := New(dec("1000"))
	mustApply(t, l, fill("o1", 1, domain.SideBuy, "10", "5.00"))

	snap := l.Snapshot()
	mustApply(t, l, fill("o2", 1, domain.SideBuy, "10", "6.00"))

	if !snap.Positions["X"].Qty.Equal(dec("10")) {
		t.Fatalf("snapshot mutated by later fill: %+v", snap.Positions["X"])
	}
	if !snap.Cash.Equal(dec("950")) {
		t.Fatalf("snapshot cash = %s, want 950", snap.Cash)
	}
}
