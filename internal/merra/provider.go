package merra

import (
	"context"
	"time"
)

// Record is one persisted aggregate value.
type Record struct {
	Location string    `json:"location"`
	Field    string    `json:"field"`
	Period   Period    `json:"period"`
	Date     time.Time `json:"date"`
	Value    float64   `json:"value"`
}

// Archive abstracts the remote gridded-data source and its local file cache.
type Archive interface {
	Name() string
	// Fetch makes sure the file for day and window is present locally and
	// returns its path. Cached files are reused without network access.
	Fetch(ctx context.Context, day time.Time, w Window) (string, error)
	// Open parses a previously fetched file.
	Open(path string) (*Snapshot, error)
}

// Store is the contract the in-memory store and the SQLite store must satisfy.
type Store interface {
	Save(agg Aggregate) error
	Range(location string, from, to time.Time) ([]Record, error)
	Locations() ([]string, error)
}
