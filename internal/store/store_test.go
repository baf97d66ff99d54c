package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/i474232898/merra-aggregation/internal/merra"
)

func day(d int) time.Time {
	return time.Date(2020, 1, d, 0, 0, 0, 0, time.UTC)
}

func testAggregate(name string, values ...float64) merra.Aggregate {
	agg := merra.Aggregate{
		Location:   merra.NewLocation(name, 52.5, 13.4),
		Field:      "temperature_MERRA",
		Period:     merra.PeriodDaily,
		Aggregator: merra.AggregatorMean,
	}
	for i, v := range values {
		agg.Values = append(agg.Values, merra.DatedValue{Date: day(i + 1), Value: v})
	}
	return agg
}

// exerciseStore runs the shared contract against any merra.Store.
func exerciseStore(t *testing.T, s merra.Store) {
	t.Helper()

	if _, err := s.Range("Berlin", day(1), day(31)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}

	if err := s.Save(testAggregate("Berlin", 1, 2, 3)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(testAggregate("Paris", 9)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	// Saving again overwrites instead of duplicating.
	if err := s.Save(testAggregate("Berlin", 10, 20)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Range("Berlin", day(1), day(31))
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d: %+v", len(got), got)
	}
	want := []float64{10, 20, 3}
	for i, r := range got {
		if r.Value != want[i] {
			t.Errorf("record %d value = %v, want %v", i, r.Value, want[i])
		}
		if !r.Date.Equal(day(i + 1)) {
			t.Errorf("record %d date = %v", i, r.Date)
		}
		if r.Field != "temperature_MERRA" || r.Period != merra.PeriodDaily || r.Location != "Berlin" {
			t.Errorf("record %d = %+v", i, r)
		}
	}

	sub, err := s.Range("Berlin", day(2), day(2))
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if len(sub) != 1 || sub[0].Value != 20 {
		t.Errorf("Range(day 2) = %+v", sub)
	}

	if _, err := s.Range("Berlin", day(10), day(12)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound outside range, got %v", err)
	}

	locs, err := s.Locations()
	if err != nil {
		t.Fatalf("Locations() error = %v", err)
	}
	if len(locs) != 2 || locs[0] != "Berlin" || locs[1] != "Paris" {
		t.Errorf("Locations() = %v", locs)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(0))
}

func TestMemoryStoreRetention(t *testing.T) {
	s := NewMemoryStore(48 * time.Hour)
	s.now = func() time.Time { return day(10) }

	if err := s.Save(testAggregate("Berlin", 1, 2, 3, 4, 5, 6, 7, 8, 9)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := s.Range("Berlin", day(1), day(31))
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if len(got) != 2 || !got[0].Date.Equal(day(8)) {
		t.Errorf("retention kept %+v", got)
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "aggregates.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer s.Close()

	exerciseStore(t, s)
}

func TestSQLiteStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aggregates.db")
	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	if err := s.Save(testAggregate("Oslo", -3.5)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	s.Close()

	s, err = NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	got, err := s.Range("Oslo", day(1), day(1))
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if len(got) != 1 || got[0].Value != -3.5 {
		t.Errorf("Range() = %+v", got)
	}
}
