// Package annotate adds a reanalysis value to every row of an observation
// CSV, one fetched day per station and date.
package annotate

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/merra-aggregation/internal/merra"
	"github.com/i474232898/merra-aggregation/internal/merra/archive"
	"github.com/i474232898/merra-aggregation/internal/table"
)

var (
	// ErrMissingColumn is returned when the input lacks a required column.
	ErrMissingColumn = errors.New("missing column")
)

// Input column names.
const (
	StationColumn   = "station_name"
	LatitudeColumn  = "latitude"
	LongitudeColumn = "longitude"
	CollectedColumn = "collected_at"
)

// DayAggregator reduces one day of the configured field at one location.
// merra.Service implements it.
type DayAggregator interface {
	AggregateDay(ctx context.Context, loc merra.Location, day time.Time) (float64, error)
}

// Summary counts what happened to the rows of one input.
type Summary struct {
	Rows    int
	Filled  int
	Skipped int
	Failed  int
}

type columns struct {
	station, lat, lon, collected int
}

func findColumns(header []string) (columns, error) {
	c := columns{-1, -1, -1, -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case StationColumn:
			c.station = i
		case LatitudeColumn:
			c.lat = i
		case LongitudeColumn:
			c.lon = i
		case CollectedColumn:
			c.collected = i
		}
	}
	for name, idx := range map[string]int{
		StationColumn:   c.station,
		LatitudeColumn:  c.lat,
		LongitudeColumn: c.lon,
		CollectedColumn: c.collected,
	} {
		if idx < 0 {
			return c, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}
	return c, nil
}

// Annotate copies the CSV from r to w with an extra column holding the daily
// aggregate for each row. An existing column of the same name is replaced.
// Rows dated before 1980 or that cannot be resolved keep an empty cell.
// Authentication failures and context cancellation abort.
func Annotate(ctx context.Context, r io.Reader, w io.Writer, agg DayAggregator, column string) (Summary, error) {
	var sum Summary

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return sum, fmt.Errorf("reading header: %w", err)
	}
	cols, err := findColumns(header)
	if err != nil {
		return sum, err
	}
	out := -1
	for i, h := range header {
		if strings.TrimSpace(h) == column {
			out = i
		}
	}
	if out < 0 {
		header = append(header, column)
		out = len(header) - 1
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return sum, err
	}

	// Stations often report several times a day.
	memo := make(map[string]string)

	line := 1
	for {
		line++
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return sum, fmt.Errorf("line %d: %w", line, err)
		}
		sum.Rows++
		for len(row) < len(header) {
			row = append(row, "")
		}

		cell, err := annotateRow(ctx, row, cols, agg, memo)
		switch {
		case err == nil && cell == "":
			sum.Skipped++
		case err == nil:
			sum.Filled++
		case errors.Is(err, archive.ErrUnauthorized), ctx.Err() != nil:
			return sum, fmt.Errorf("line %d: %w", line, err)
		default:
			log.Printf("ERROR: line %d: %v", line, err)
			sum.Failed++
		}
		row[out] = cell

		if err := cw.Write(row); err != nil {
			return sum, err
		}
	}

	cw.Flush()
	return sum, cw.Error()
}

func annotateRow(ctx context.Context, row []string, cols columns, agg DayAggregator, memo map[string]string) (string, error) {
	collected := strings.TrimSpace(row[cols.collected])
	if collected == "" {
		return "", nil
	}
	t, err := merra.ParseDate(collected)
	if err != nil {
		return "", err
	}
	day := merra.Day(t)
	if day.Year() < merra.FirstYear {
		return "", nil
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(row[cols.lat]), 64)
	if err != nil {
		return "", fmt.Errorf("latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(row[cols.lon]), 64)
	if err != nil {
		return "", fmt.Errorf("longitude: %w", err)
	}
	loc := merra.NewLocation(strings.TrimSpace(row[cols.station]), lat, lon)

	key := fmt.Sprintf("%s|%v|%v|%s", loc.Name, loc.Latitude, loc.Longitude, day.Format(merra.DateLayout))
	if v, ok := memo[key]; ok {
		return v, nil
	}
	v, err := agg.AggregateDay(ctx, loc, day)
	if err != nil {
		return "", err
	}
	cell := strconv.FormatFloat(v, 'f', -1, 64)
	memo[key] = cell
	return cell, nil
}

// File annotates the observation CSV at input and writes the result next to
// it as <input>_MERRA2_processed.csv. It returns the output path.
func File(ctx context.Context, input string, agg DayAggregator, column string) (string, Summary, error) {
	in, err := os.Open(input)
	if err != nil {
		return "", Summary{}, err
	}
	defer in.Close()

	output := table.OutputPath(input)
	tmp, err := os.CreateTemp(filepath.Dir(output), ".annotate-*")
	if err != nil {
		return "", Summary{}, err
	}
	defer os.Remove(tmp.Name())

	sum, err := Annotate(ctx, in, tmp, agg, column)
	if err != nil {
		tmp.Close()
		return "", sum, err
	}
	if err := tmp.Close(); err != nil {
		return "", sum, err
	}
	if err := os.Rename(tmp.Name(), output); err != nil {
		return "", sum, err
	}
	log.Printf("INFO: annotated %d rows (%d filled, %d skipped, %d failed) into %s",
		sum.Rows, sum.Filled, sum.Skipped, sum.Failed, output)
	return output, sum, nil
}
