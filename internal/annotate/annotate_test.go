package annotate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/i474232898/merra-aggregation/internal/merra"
	"github.com/i474232898/merra-aggregation/internal/merra/archive"
)

type fakeAggregator struct {
	calls []string
	fail  map[string]error
}

func (f *fakeAggregator) AggregateDay(_ context.Context, loc merra.Location, day time.Time) (float64, error) {
	key := loc.Name + "@" + day.Format(merra.DateLayout)
	f.calls = append(f.calls, key)
	if err, ok := f.fail[key]; ok {
		return 0, err
	}
	return float64(day.Day()) + 0.5, nil
}

func TestAnnotate(t *testing.T) {
	input := strings.Join([]string{
		"station_name,latitude,longitude,collected_at,reading",
		"Brocken,51.8,10.62,2020-01-03 10:15:00,7",
		"Brocken,51.8,10.62,2020-01-03 18:00:00,8",
		"Brocken,51.8,10.62,1975-06-01,9",
		"Zugspitze,47.42,10.98,2020-01-04,10",
		"Zugspitze,47.42,10.98,,11",
		"Zugspitze,47.42,10.98,2020-01-05,12",
	}, "\n") + "\n"

	agg := &fakeAggregator{fail: map[string]error{
		"Zugspitze@2020-01-05": fmt.Errorf("extract: %w", merra.ErrOutsideGrid),
	}}
	var out bytes.Buffer
	sum, err := Annotate(context.Background(), strings.NewReader(input), &out, agg, "temperature_MERRA")
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}

	want := strings.Join([]string{
		"station_name,latitude,longitude,collected_at,reading,temperature_MERRA",
		"Brocken,51.8,10.62,2020-01-03 10:15:00,7,3.5",
		"Brocken,51.8,10.62,2020-01-03 18:00:00,8,3.5",
		"Brocken,51.8,10.62,1975-06-01,9,",
		"Zugspitze,47.42,10.98,2020-01-04,10,4.5",
		"Zugspitze,47.42,10.98,,11,",
		"Zugspitze,47.42,10.98,2020-01-05,12,",
	}, "\n") + "\n"
	if out.String() != want {
		t.Errorf("output mismatch\ngot:\n%s\nwant:\n%s", out.String(), want)
	}
	if sum.Rows != 6 || sum.Filled != 3 || sum.Skipped != 2 || sum.Failed != 1 {
		t.Errorf("summary = %+v", sum)
	}
	// The second Brocken reading of the same day is served from the memo.
	if len(agg.calls) != 3 {
		t.Errorf("AggregateDay calls = %v", agg.calls)
	}
}

func TestAnnotateReplacesExistingColumn(t *testing.T) {
	input := "collected_at,station_name,latitude,longitude,T2M\n2020-02-01,A,1,2,old\n"
	var out bytes.Buffer
	if _, err := Annotate(context.Background(), strings.NewReader(input), &out, &fakeAggregator{}, "T2M"); err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	want := "collected_at,station_name,latitude,longitude,T2M\n2020-02-01,A,1,2,1.5\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}

func TestAnnotateAbortsOnUnauthorized(t *testing.T) {
	input := "station_name,latitude,longitude,collected_at\nA,1,2,2020-01-01\nB,3,4,2020-01-02\n"
	agg := &fakeAggregator{fail: map[string]error{
		"A@2020-01-01": fmt.Errorf("fetching: %w", archive.ErrUnauthorized),
	}}
	var out bytes.Buffer
	_, err := Annotate(context.Background(), strings.NewReader(input), &out, agg, "T2M")
	if !errors.Is(err, archive.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if len(agg.calls) != 1 {
		t.Errorf("expected the run to stop after the first row, calls = %v", agg.calls)
	}
}

func TestAnnotateMissingColumn(t *testing.T) {
	input := "station_name,latitude,collected_at\nA,1,2020-01-01\n"
	_, err := Annotate(context.Background(), strings.NewReader(input), &bytes.Buffer{}, &fakeAggregator{}, "T2M")
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "observations.csv")
	if err := os.WriteFile(input, []byte("station_name,latitude,longitude,collected_at\nA,1,2,2020-01-07\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	output, sum, err := File(context.Background(), input, &fakeAggregator{}, "T2M")
	if err != nil {
		t.Fatalf("File() error = %v", err)
	}
	if output != input+"_MERRA2_processed.csv" {
		t.Errorf("output = %s", output)
	}
	if sum.Filled != 1 {
		t.Errorf("summary = %+v", sum)
	}
	got, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	if want := "station_name,latitude,longitude,collected_at,T2M\nA,1,2,2020-01-07,7.5\n"; string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
