package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"tradexec/internal/domain"
)

// ParquetStore exports the fill history to Parquet files on disk, one file
// per trading day, for offline analysis. SQLite remains the authoritative
// audit record; the export stores prices as float64.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data
// directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// FillRecord is the Parquet schema for exported fills.
type FillRecord struct {
	OrderID   string  `parquet:"order_id"`
	Symbol    string  `parquet:"symbol"`
	Side      string  `parquet:"side"`
	Seq       int64   `parquet:"seq"`
	Qty       float64 `parquet:"qty"`
	Price     float64 `parquet:"price"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
}

// fillPath returns <DataDir>/fills/<YYYY-MM-DD>.parquet.
func (s *ParquetStore) fillPath(day time.Time) string {
	return filepath.Join(s.DataDir, "fills", day.Format("2006-01-02")+".parquet")
}

// WriteFills appends fills to their per-day files, deduplicating by
// (order id, seq) so re-exports are safe.
func (s *ParquetStore) WriteFills(fills []domain.Fill) error {
	if len(fills) == 0 {
		return nil
	}

	groups := make(map[string][]FillRecord)
	for _, f := range fills {
		date := f.Timestamp.UTC().Format("2006-01-02")
		qty, _ := f.Qty.Float64()
		price, _ := f.Price.Float64()
		groups[date] = append(groups[date], FillRecord{
			OrderID:   f.OrderID,
			Symbol:    f.Symbol,
			Side:      string(f.Side),
			Seq:       f.Seq,
			Qty:       qty,
			Price:     price,
			Timestamp: f.Timestamp.UnixMilli(),
		})
	}

	for date, records := range groups {
		day, _ := time.Parse("2006-01-02", date)
		path := s.fillPath(day)

		existing, _ := readParquetFile[FillRecord](path)
		merged := mergeFillRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing fills for %s: %w", date, err)
		}
	}
	return nil
}

// ReadFills reads the exported fills for one day, in timestamp order.
func (s *ParquetStore) ReadFills(day time.Time) ([]FillRecord, error) {
	records, err := readParquetFile[FillRecord](s.fillPath(day))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading fills for %s: %w", day.Format("2006-01-02"), err)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Timestamp != records[j].Timestamp {
			return records[i].Timestamp < records[j].Timestamp
		}
		if records[i].OrderID != records[j].OrderID {
			return records[i].OrderID < records[j].OrderID
		}
		return records[i].Seq < records[j].Seq
	})
	return records, nil
}

// ListDates returns the days that have exported fills, sorted ascending.
func (s *ParquetStore) ListDates() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "fills"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var dates []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".parquet") {
			continue
		}
		dates = append(dates, strings.TrimSuffix(e.Name(), ".parquet"))
	}
	sort.Strings(dates)
	return dates, nil
}

// mergeFillRecords deduplicates by (order id, seq), preferring new records.
func mergeFillRecords(existing, incoming []FillRecord) []FillRecord {
	type key struct {
		orderID string
		seq     int64
	}
	seen := make(map[key]FillRecord, len(existing)+len(incoming))
	order := make([]key, 0, len(existing)+len(incoming))
	for _, r := range existing {
		k := key{r.OrderID, r.Seq}
		if _, ok := seen[k]; !ok {
			order = append(order, k)
		}
		seen[k] = r
	}
	for _, r := range incoming {
		k := key{r.OrderID, r.Seq}
		if _, ok := seen[k]; !ok {
			order = append(order, k)
		}
		seen[k] = r
	}
	out := make([]FillRecord, 0, len(seen))
	for _, k := range order {
		out = append(out, seen[k])
	}
	return out
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
