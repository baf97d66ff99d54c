// Package table holds the date-indexed output table written as CSV: one row
// per date, one column per location.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/merra-aggregation/internal/merra"
)

// DateColumn is the header of the index column.
const DateColumn = "date"

// OutputSuffix is appended to the input path to name the processed file.
const OutputSuffix = "_MERRA2_processed.csv"

// Table is a date-indexed set of float columns. Missing cells are absent;
// a date stays in the table even when all of its cells are missing.
type Table struct {
	columns []string
	dates   map[time.Time]struct{}
	cells   map[string]map[time.Time]float64
}

// New returns an empty table.
func New() *Table {
	return &Table{
		dates: make(map[time.Time]struct{}),
		cells: make(map[string]map[time.Time]float64),
	}
}

// OutputPath returns the processed file name for an input file.
func OutputPath(input string) string {
	return input + OutputSuffix
}

// Columns returns the column names in output order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Dates returns every date of the table, ascending.
func (t *Table) Dates() []time.Time {
	dates := make([]time.Time, 0, len(t.dates))
	for d := range t.dates {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// Get returns the cell at (date, column).
func (t *Table) Get(date time.Time, column string) (float64, bool) {
	v, ok := t.cells[column][merra.Day(date)]
	return v, ok
}

// Set writes one cell, adding the column if needed.
func (t *Table) Set(date time.Time, column string, value float64) {
	col, ok := t.cells[column]
	if !ok {
		col = make(map[time.Time]float64)
		t.cells[column] = col
		t.columns = append(t.columns, column)
	}
	day := merra.Day(date)
	col[day] = value
	t.dates[day] = struct{}{}
}

// Merge outer-joins the aggregates into the table on date. A column named
// after an aggregate's location takes the new value for every date the
// aggregate carries; other dates keep their existing values.
func (t *Table) Merge(aggs ...merra.Aggregate) {
	for _, agg := range aggs {
		for _, v := range agg.Values {
			if math.IsNaN(v.Value) {
				continue
			}
			t.Set(v.Date, agg.Location.Name, v.Value)
		}
	}
}

// Read loads a table from a CSV file whose first column is the date.
func Read(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return t, nil
}

// ReadOrNew loads path when it exists and returns an empty table otherwise.
func ReadOrNew(path string) (*Table, error) {
	if path == "" {
		return New(), nil
	}
	t, err := Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	return t, err
}

// Decode parses a CSV table.
func Decode(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return New(), nil
	}
	if err != nil {
		return nil, err
	}
	if len(header) == 0 {
		return nil, errors.New("empty header")
	}

	t := New()
	names := header[1:]
	for i, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			return nil, fmt.Errorf("column %d has no name", i+2)
		}
		if _, dup := t.cells[n]; dup {
			return nil, fmt.Errorf("duplicate column %q", n)
		}
		names[i] = n
		t.cells[n] = make(map[time.Time]float64)
		t.columns = append(t.columns, n)
	}

	line := 1
	for {
		line++
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		date, err := merra.ParseDate(strings.TrimSpace(row[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		t.dates[date] = struct{}{}
		for i, cell := range row[1:] {
			if i >= len(names) {
				return nil, fmt.Errorf("line %d: more cells than columns", line)
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d, column %s: %w", line, names[i], err)
			}
			t.cells[names[i]][date] = v
		}
	}
	return t, nil
}

// Encode writes the table as CSV, one row per date in ascending order.
func (t *Table) Encode(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{DateColumn}, t.columns...)); err != nil {
		return err
	}
	for _, d := range t.Dates() {
		row := make([]string, 0, len(t.columns)+1)
		row = append(row, d.Format(merra.DateLayout))
		for _, c := range t.columns {
			v, ok := t.cells[c][d]
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Write saves the table to path, replacing it atomically.
func (t *Table) Write(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := t.Encode(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
