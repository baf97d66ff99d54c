package store

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/i474232898/merra-aggregation/internal/merra"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements merra.Store using sqlite (pure Go driver modernc.org/sqlite).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and applies the schema.
func NewSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		log.Println("warning: could not set WAL mode:", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS aggregates (
			location TEXT NOT NULL,
			field TEXT NOT NULL,
			period TEXT NOT NULL,
			date TEXT NOT NULL,
			value REAL NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (location, field, period, date)
		);
		CREATE INDEX IF NOT EXISTS idx_aggregates_location_date ON aggregates(location, date);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating aggregates table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save upserts every value of the aggregate in one transaction.
func (s *SQLiteStore) Save(agg merra.Aggregate) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO aggregates (location, field, period, date, value, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(location, field, period, date)
		DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, v := range agg.Values {
		if _, err := stmt.Exec(agg.Location.Key(), agg.Field, string(agg.Period), v.Date.Format(merra.DateLayout), v.Value); err != nil {
			return fmt.Errorf("inserting %s %s: %w", agg.Location.Key(), v.Date.Format(merra.DateLayout), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Range returns all records for a location between from and to (inclusive).
func (s *SQLiteStore) Range(location string, from, to time.Time) ([]merra.Record, error) {
	rows, err := s.db.Query(`
		SELECT location, field, period, date, value
		FROM aggregates
		WHERE location = ? AND date BETWEEN ? AND ?
		ORDER BY date, field, period
	`, location, from.Format(merra.DateLayout), to.Format(merra.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("querying aggregates: %w", err)
	}
	defer rows.Close()

	var out []merra.Record
	for rows.Next() {
		var r merra.Record
		var period, date string
		if err := rows.Scan(&r.Location, &r.Field, &period, &date, &r.Value); err != nil {
			return nil, err
		}
		r.Period = merra.Period(period)
		r.Date, err = time.Parse(merra.DateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("parsing stored date %q: %w", date, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Locations lists the locations that have at least one record.
func (s *SQLiteStore) Locations() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT location FROM aggregates ORDER BY location`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ merra.Store = (*SQLiteStore)(nil)
