package merra

import (
	"math"
	"time"
)

// DateLayout is the calendar-date layout used in file names, CSV output and the API.
const DateLayout = "2006-01-02"

// Location is a named point for which we extract MERRA-2 series.
// Longitude is normalised to [-180, 180).
type Location struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewLocation returns a Location with its longitude normalised.
func NewLocation(name string, lat, lon float64) Location {
	return Location{
		Name:      name,
		Latitude:  lat,
		Longitude: NormalizeLongitude(lon),
	}
}

// Key returns a canonical string key for indexing this location in stores.
func (l Location) Key() string {
	return l.Name
}

// NormalizeLongitude maps any longitude into [-180, 180).
func NormalizeLongitude(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// Sample is a single hourly reading.
type Sample struct {
	Time  time.Time `json:"time"` // always UTC
	Value float64   `json:"value"`
}

// HourlySeries is the ordered hourly readings of one field at one location.
type HourlySeries struct {
	Location Location `json:"location"`
	Field    string   `json:"field"`
	Samples  []Sample `json:"samples"`
}

// Append adds samples to the series, keeping the order they were produced in.
func (s *HourlySeries) Append(samples ...Sample) {
	s.Samples = append(s.Samples, samples...)
}

// Snapshot is one downloaded day of a gridded field.
// Values are indexed [time][lat][lon].
type Snapshot struct {
	Field      string
	Date       time.Time
	Times      []time.Time
	Latitudes  []float64
	Longitudes []float64
	Values     [][][]float64
}

// DatedValue is one reduced value keyed by the first day of its period.
type DatedValue struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Aggregate is the reduced series for one location.
// Values are ordered by Date ascending and dates are unique.
type Aggregate struct {
	Location   Location     `json:"location"`
	Field      string       `json:"field"`
	Period     Period       `json:"period"`
	Aggregator Aggregator   `json:"aggregator"`
	Values     []DatedValue `json:"values"`
}
