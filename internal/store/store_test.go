package store

import (
	"context"
	"errors"
	"path/filepath"
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

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tradexec.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleOrder(id string, status domain.OrderStatus) *domain.Order {
	now := time.Now().Truncate(time.Millisecond)
	return &domain.Order{
		ID:             id,
		Symbol:         "AAPL",
		Side:           domain.SideBuy,
		Type:           domain.OrderTypeLimit,
		Qty:            dec("10"),
		LimitPrice:     dec("101.25"),
		FilledQty:      dec("0"),
		FilledAvgPrice: dec("0"),
		Status:         status,
		Revision:       0,
		IdempotencyKey: "k-" + id,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestSQLiteOrderRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := sampleOrder("o1", domain.OrderStatusPending)
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	got, err := s.GetOrder(ctx, "o1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Symbol != "AAPL" || got.Side != domain.SideBuy || got.Type != domain.OrderTypeLimit {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.Qty.Equal(dec("10")) || !got.LimitPrice.Equal(dec("101.25")) {
		t.Fatalf("decimal fields lost precision: qty=%s limit=%s", got.Qty, got.LimitPrice)
	}
	if !got.CreatedAt.Equal(o.CreatedAt) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, o.CreatedAt)
	}
}

func TestSQLiteGetOrderNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetOrder(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteUpdateOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := sampleOrder("o1", domain.OrderStatusPending)
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	o.Status = domain.OrderStatusFilled
	o.FilledQty = dec("10")
	o.FilledAvgPrice = dec("100.50")
	o.VenueRef = "ref-1"
	o.Revision = 3
	o.UpdatedAt = time.Now().Truncate(time.Millisecond)
	if err := s.UpdateOrder(ctx, o); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}

	got, err := s.GetOrder(ctx, "o1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != domain.OrderStatusFilled || got.Revision != 3 || got.VenueRef != "ref-1" {
		t.Fatalf("update not persisted: %+v", got)
	}
	if !got.FilledAvgPrice.Equal(dec("100.50")) {
		t.Fatalf("filled avg price = %s", got.FilledAvgPrice)
	}

	if err := s.UpdateOrder(ctx, sampleOrder("ghost", domain.OrderStatusPending)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("updating unknown order: got %v, want ErrNotFound", err)
	}
}

func TestSQLiteListOrdersByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, status := range []domain.OrderStatus{
		domain.OrderStatusPending, domain.OrderStatusFilled, domain.OrderStatusFilled,
	} {
		o := sampleOrder(string(rune('a'+i)), status)
		if err := s.SaveOrder(ctx, o); err != nil {
			t.Fatalf("SaveOrder: %v", err)
		}
	}

	filled, err := s.ListOrders(ctx, domain.OrderStatusFilled)
	if err != nil {
		t.Fatalf("ListOrders(filled): %v", err)
	}
	if len(filled) != 2 {
		t.Fatalf("got %d filled orders, want 2", len(filled))
	}

	all, err := s.ListOrders(ctx, "")
	if err != nil {
		t.Fatalf("ListOrders(all): %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d orders, want 3", len(all))
	}
}

func TestSQLiteFillsAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := &domain.Fill{
		OrderID:   "o1",
		Symbol:    "AAPL",
		Side:      domain.SideBuy,
		Seq:       1,
		Qty:       dec("4"),
		Price:     dec("100.25"),
		Timestamp: time.Now().Truncate(time.Millisecond),
	}
	if err := s.SaveFill(ctx, f); err != nil {
		t.Fatalf("SaveFill: %v", err)
	}
	// Same (order, seq) must be refused by the primary key.
	if err := s.SaveFill(ctx, f); err == nil {
		t.Fatal("duplicate (order_id, seq) insert should fail")
	}

	f2 := *f
	f2.Seq = 2
	f2.Qty = dec("6")
	if err := s.SaveFill(ctx, &f2); err != nil {
		t.Fatalf("SaveFill seq 2: %v", err)
	}

	fills, err := s.ListFills(ctx, "o1")
	if err != nil {
		t.Fatalf("ListFills: %v", err)
	}
	if len(fills) != 2 || fills[0].Seq != 1 || fills[1].Seq != 2 {
		t.Fatalf("fills = %+v", fills)
	}
	if !fills[1].Qty.Equal(dec("6")) {
		t.Fatalf("fill qty = %s, want 6", fills[1].Qty)
	}
}

func TestSQLiteSignals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	limit := dec("99.50")
	sigs := []domain.Signal{
		{Symbol: "AAPL", Side: domain.SideBuy, Qty: dec("1"), IdempotencyKey: "k1", CreatedAt: time.Now()},
		{Symbol: "MSFT", Side: domain.SideSell, Qty: dec("2"), LimitPrice: &limit, Source: "momentum", IdempotencyKey: "k2", CreatedAt: time.Now()},
	}
	for i := range sigs {
		if err := s.SaveSignal(ctx, &sigs[i]); err != nil {
			t.Fatalf("SaveSignal: %v", err)
		}
	}

	got, err := s.ListSignals(ctx, 10)
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d signals, want 2", len(got))
	}
	// Newest first.
	if got[0].IdempotencyKey != "k2" || got[0].LimitPrice == nil || !got[0].LimitPrice.Equal(limit) {
		t.Fatalf("signal round trip: %+v", got[0])
	}
	if got[1].LimitPrice != nil {
		t.Fatalf("market signal grew a limit price: %+v", got[1])
	}
}

func TestSQLiteInconsistencies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inc := &domain.Inconsistency{
		OrderID:   "o1",
		Seq:       3,
		EventType: "fill",
		Reason:    "fill for cancelled order",
		Timestamp: time.Now().Truncate(time.Millisecond),
	}
	if err := s.SaveInconsistency(ctx, inc); err != nil {
		t.Fatalf("SaveInconsistency: %v", err)
	}

	got, err := s.ListInconsistencies(ctx, 5)
	if err != nil {
		t.Fatalf("ListInconsistencies: %v", err)
	}
	if len(got) != 1 || got[0].Reason != inc.Reason || got[0].Seq != 3 {
		t.Fatalf("inconsistencies = %+v", got)
	}
}

func TestParquetFillExportRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)

	day := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	fills := []domain.Fill{
		{OrderID: "o1", Symbol: "AAPL", Side: domain.SideBuy, Seq: 1, Qty: dec("4"), Price: dec("100.25"), Timestamp: day},
		{OrderID: "o1", Symbol: "AAPL", Side: domain.SideBuy, Seq: 2, Qty: dec("6"), Price: dec("100.50"), Timestamp: day.Add(time.Minute)},
	}
	if err := ps.WriteFills(fills); err != nil {
		t.Fatalf("WriteFills: %v", err)
	}

	// Re-export with one duplicate and one new fill; duplicates must not
	// multiply.
	more := []domain.Fill{
		fills[1],
		{OrderID: "o2", Symbol: "MSFT", Side: domain.SideSell, Seq: 1, Qty: dec("3"), Price: dec("50"), Timestamp: day.Add(2 * time.Minute)},
	}
	if err := ps.WriteFills(more); err != nil {
		t.Fatalf("WriteFills (merge): %v", err)
	}

	records, err := ps.ReadFills(day)
	if err != nil {
		t.Fatalf("ReadFills: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3: %+v", len(records), records)
	}
	if records[0].OrderID != "o1" || records[0].Seq != 1 {
		t.Fatalf("records not in timestamp order: %+v", records)
	}

	dates, err := ps.ListDates()
	if err != nil {
		t.Fatalf("ListDates: %v", err)
	}
	if len(dates) != 1 || dates[0] != "2025-06-02" {
		t.Fatalf("dates = %v", dates)
	}
}

func TestParquetReadMissingDayIsEmpty(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	records, err := ps.ReadFills(time.Now())
	if err != nil {
		t.Fatalf("ReadFills on missing day: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}
