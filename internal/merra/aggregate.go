package merra

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

var (
	// ErrUnknownAggregator is returned for aggregation names outside mean/sum/max/min.
	ErrUnknownAggregator = errors.New("unknown aggregator")
	// ErrUnknownPeriod is returned for period names other than daily/weekly.
	ErrUnknownPeriod = errors.New("unknown period")
)

// Aggregator names the reduction applied to one period's hourly values.
type Aggregator string

const (
	AggregatorMean Aggregator = "mean"
	AggregatorSum  Aggregator = "sum"
	AggregatorMax  Aggregator = "max"
	AggregatorMin  Aggregator = "min"
)

// Period is the width of the aggregation bucket.
type Period string

const (
	PeriodDaily  Period = "daily"
	PeriodWeekly Period = "weekly"
)

type reduceFunc func(values []float64) float64

var reducers = map[Aggregator]reduceFunc{
	AggregatorMean: func(values []float64) float64 {
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	},
	AggregatorSum: func(values []float64) float64 {
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum
	},
	AggregatorMax: func(values []float64) float64 {
		best := values[0]
		for _, v := range values[1:] {
			if v > best {
				best = v
			}
		}
		return best
	},
	AggregatorMin: func(values []float64) float64 {
		best := values[0]
		for _, v := range values[1:] {
			if v < best {
				best = v
			}
		}
		return best
	},
}

// ParseAggregator resolves a configured aggregation name.
func ParseAggregator(name string) (Aggregator, error) {
	a := Aggregator(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := reducers[a]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAggregator, name)
	}
	return a, nil
}

// Reduce applies the aggregator to a non-empty slice.
func (a Aggregator) Reduce(values []float64) (float64, error) {
	fn, ok := reducers[a]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAggregator, string(a))
	}
	if len(values) == 0 {
		return math.NaN(), nil
	}
	return fn(values), nil
}

// ParsePeriod resolves a configured period name. Empty means daily.
func ParsePeriod(name string) (Period, error) {
	switch Period(strings.ToLower(strings.TrimSpace(name))) {
	case "", PeriodDaily:
		return PeriodDaily, nil
	case PeriodWeekly:
		return PeriodWeekly, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, name)
	}
}

// Start returns the first day of the period containing t, at midnight UTC.
// Weeks start on Monday.
func (p Period) Start(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if p == PeriodWeekly {
		offset := (int(day.Weekday()) + 6) % 7
		day = day.AddDate(0, 0, -offset)
	}
	return day
}

// AggregateSeries converts every sample with conv, groups the results by period
// and reduces each group with agg. NaN values (fill values or conversions that
// produced NaN) are skipped; periods left without values are omitted.
func AggregateSeries(series HourlySeries, conv Conversion, agg Aggregator, period Period) (Aggregate, error) {
	if _, ok := reducers[agg]; !ok {
		return Aggregate{}, fmt.Errorf("%w: %q", ErrUnknownAggregator, string(agg))
	}
	if period == "" {
		period = PeriodDaily
	}
	if conv == nil {
		conv = Identity
	}

	groups := make(map[time.Time][]float64)
	for _, s := range series.Samples {
		v := conv(s.Value)
		if math.IsNaN(v) {
			continue
		}
		k := period.Start(s.Time)
		groups[k] = append(groups[k], v)
	}

	keys := make([]time.Time, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	out := Aggregate{
		Location:   series.Location,
		Field:      series.Field,
		Period:     period,
		Aggregator: agg,
		Values:     make([]DatedValue, 0, len(keys)),
	}
	for _, k := range keys {
		v, err := agg.Reduce(groups[k])
		if err != nil {
			return Aggregate{}, err
		}
		out.Values = append(out.Values, DatedValue{Date: k, Value: v})
	}
	return out, nil
}
