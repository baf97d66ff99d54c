package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/merra-aggregation/internal/merra"
)

var (
	// ErrNotFound is returned when no data is available for a given location.
	ErrNotFound = errors.New("no aggregates for location")
)

// recordKey identifies one value; saving the same key again replaces it.
type recordKey struct {
	field  string
	period merra.Period
	date   time.Time
}

// MemoryStore is a concurrency-safe in-memory implementation of merra.Store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: location key, value: records by (field, period, date)
	data map[string]map[recordKey]merra.Record

	// optional retention configuration
	maxAge time.Duration
	now    func() time.Time
}

// NewMemoryStore creates a new MemoryStore. Records older than maxAge
// (by their date) are dropped on save; maxAge <= 0 keeps everything.
func NewMemoryStore(maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:   make(map[string]map[recordKey]merra.Record),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Save upserts every value of the aggregate and enforces retention.
func (s *MemoryStore) Save(agg merra.Aggregate) error {
	key := agg.Location.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	records, ok := s.data[key]
	if !ok {
		records = make(map[recordKey]merra.Record)
		s.data[key] = records
	}

	for _, v := range agg.Values {
		rk := recordKey{field: agg.Field, period: agg.Period, date: v.Date}
		records[rk] = merra.Record{
			Location: key,
			Field:    agg.Field,
			Period:   agg.Period,
			Date:     v.Date,
			Value:    v.Value,
		}
	}

	// Enforce retention by age.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		for rk := range records {
			if rk.date.Before(cutoff) {
				delete(records, rk)
			}
		}
	}
	return nil
}

// Range returns all records for a location between from and to (inclusive),
// ordered by date.
func (s *MemoryStore) Range(location string, from, to time.Time) ([]merra.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.data[location]
	if !ok || len(records) == 0 {
		return nil, ErrNotFound
	}

	var result []merra.Record
	for _, r := range records {
		if !r.Date.Before(from) && !r.Date.After(to) {
			result = append(result, r)
		}
	}
	if len(result) == 0 {
		return nil, ErrNotFound
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		if result[i].Field != result[j].Field {
			return result[i].Field < result[j].Field
		}
		return result[i].Period < result[j].Period
	})
	return result, nil
}

// Locations lists the locations that have at least one record.
func (s *MemoryStore) Locations() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.data))
	for k, records := range s.data {
		if len(records) > 0 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

var _ merra.Store = (*MemoryStore)(nil)
