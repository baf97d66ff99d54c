package merra

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// windowMargin widens the requested window so every location has a
// neighbour cell on each side for nearest-cell selection.
const windowMargin = 1

// Options selects what the pipeline extracts and how it reduces it.
type Options struct {
	FieldID    string
	FieldName  string
	Conversion Conversion
	Aggregator Aggregator
	Period     Period
}

// Service orchestrates fetching daily files, extracting point series and
// reducing them. Runs are sequential: one day at a time, one location at a time.
type Service struct {
	archive Archive
	store   Store
	opts    Options
}

// NewService creates a new Service.
func NewService(archive Archive, store Store, opts Options) *Service {
	if opts.Conversion == nil {
		opts.Conversion = Identity
	}
	if opts.Period == "" {
		opts.Period = PeriodDaily
	}
	if opts.FieldName == "" {
		opts.FieldName = opts.FieldID
	}
	return &Service{
		archive: archive,
		store:   store,
		opts:    opts,
	}
}

// Options returns the options the service was built with.
func (s *Service) Options() Options {
	return s.opts
}

// Run fetches every day, extracts each location's hourly series, aggregates
// them and saves the aggregates. The first error aborts the run.
func (s *Service) Run(ctx context.Context, locs []Location, days []time.Time) ([]Aggregate, error) {
	if len(locs) == 0 {
		return nil, errors.New("no locations configured")
	}
	if len(days) == 0 {
		return nil, errors.New("no days to process")
	}
	if _, err := s.opts.Aggregator.Reduce([]float64{0}); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(locs))
	for _, l := range locs {
		if _, dup := seen[l.Key()]; dup {
			return nil, fmt.Errorf("duplicate location name %q", l.Name)
		}
		seen[l.Key()] = struct{}{}
	}

	runID := uuid.NewString()
	window := WindowFor(locs, windowMargin)
	log.Printf("INFO: run %s: %d locations, %d days (%s..%s), field %s from %s, window %s",
		runID, len(locs), len(days), days[0].Format(DateLayout), days[len(days)-1].Format(DateLayout),
		s.opts.FieldID, s.archive.Name(), window.Key())

	series := make([]HourlySeries, len(locs))
	for i, l := range locs {
		series[i] = HourlySeries{Location: l, Field: s.opts.FieldName}
	}

	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		snap, err := s.snapshot(ctx, day, window)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", runID, err)
		}
		for i, l := range locs {
			hourly, err := snap.Extract(l)
			if err != nil {
				return nil, fmt.Errorf("run %s: %s %s: %w", runID, l.Name, day.Format(DateLayout), err)
			}
			series[i].Append(hourly.Samples...)
		}
	}

	aggs := make([]Aggregate, 0, len(series))
	for _, hs := range series {
		agg, err := AggregateSeries(hs, s.opts.Conversion, s.opts.Aggregator, s.opts.Period)
		if err != nil {
			return nil, err
		}
		if s.store != nil {
			if err := s.store.Save(agg); err != nil {
				return nil, fmt.Errorf("saving %s: %w", hs.Location.Name, err)
			}
		}
		aggs = append(aggs, agg)
	}

	log.Printf("INFO: run %s: completed", runID)
	return aggs, nil
}

// AggregateDay fetches a single day around one location and reduces it to
// one value with the configured conversion and aggregator.
func (s *Service) AggregateDay(ctx context.Context, loc Location, day time.Time) (float64, error) {
	snap, err := s.snapshot(ctx, Day(day), WindowFor([]Location{loc}, windowMargin))
	if err != nil {
		return 0, err
	}
	hourly, err := snap.Extract(loc)
	if err != nil {
		return 0, err
	}
	agg, err := AggregateSeries(hourly, s.opts.Conversion, s.opts.Aggregator, PeriodDaily)
	if err != nil {
		return 0, err
	}
	if len(agg.Values) == 0 {
		return 0, fmt.Errorf("%s %s: no valid values", loc.Name, day.Format(DateLayout))
	}
	return agg.Values[0].Value, nil
}

func (s *Service) snapshot(ctx context.Context, day time.Time, w Window) (*Snapshot, error) {
	path, err := s.archive.Fetch(ctx, day, w)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", day.Format(DateLayout), err)
	}
	snap, err := s.archive.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return snap, nil
}
