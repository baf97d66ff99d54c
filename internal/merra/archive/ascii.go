package archive

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/merra-aggregation/internal/merra"
)

// MERRA-2 marks missing cells with 1e15.
const fillThreshold = 1e14

// asciiVar collects the rows of one variable of a DAP2 ASCII response.
type asciiVar struct {
	// rows keyed by the leading indices, e.g. "3,1" for T2M[3][1].
	rows map[string][]float64
	// flat holds a one-dimensional variable, printed on a single line.
	flat []float64
}

// ParseSnapshot reads an OPeNDAP ASCII (.ascii) response holding one field
// over a lat/lon window plus the lat, lon and time coordinate variables.
//
// Data lines look like
//
//	T2M[0][1], 271.3, 271.5, 271.9
//	lat, 50, 50.5, 51
//
// and grid-qualified names such as "T2M.lat" are accepted. Time values are
// minutes since midnight of date.
func ParseSnapshot(r io.Reader, field string, date time.Time) (*merra.Snapshot, error) {
	vars := make(map[string]*asciiVar)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "Dataset:") || strings.HasPrefix(line, "---") {
			continue
		}

		parts := strings.Split(line, ",")
		name, indices, err := splitHead(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		values := make([]float64, 0, len(parts)-1)
		for _, p := range parts[1:] {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			v, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", lineNo, name, err)
			}
			if math.Abs(v) >= fillThreshold {
				v = math.NaN()
			}
			values = append(values, v)
		}

		v, ok := vars[name]
		if !ok {
			v = &asciiVar{rows: make(map[string][]float64)}
			vars[name] = v
		}
		if indices == "" {
			// A grid response repeats its axes (T2M.lat) next to the
			// projected arrays (lat); both carry the same values.
			v.flat = values
		} else {
			v.rows[indices] = values
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	lats, err := coordinate(vars, "lat")
	if err != nil {
		return nil, err
	}
	lons, err := coordinate(vars, "lon")
	if err != nil {
		return nil, err
	}
	for i := range lons {
		lons[i] = merra.NormalizeLongitude(lons[i])
	}

	data, ok := vars[field]
	if !ok || len(data.rows) == 0 {
		return nil, fmt.Errorf("field %s not found in response", field)
	}

	steps := merra.HoursPerFile
	var minutes []float64
	if tv, ok := vars["time"]; ok && len(tv.flat) > 0 {
		minutes = tv.flat
		steps = len(minutes)
	}

	day := merra.Day(date)
	snap := &merra.Snapshot{
		Field:      field,
		Date:       day,
		Latitudes:  lats,
		Longitudes: lons,
		Times:      make([]time.Time, 0, steps),
		Values:     make([][][]float64, 0, steps),
	}
	for t := 0; t < steps; t++ {
		offset := time.Duration(t) * time.Hour
		if minutes != nil {
			offset = time.Duration(minutes[t] * float64(time.Minute))
		}
		plane := make([][]float64, len(lats))
		for y := range lats {
			row, ok := data.rows[fmt.Sprintf("%d,%d", t, y)]
			if !ok {
				return nil, fmt.Errorf("%s: missing row [%d][%d]", field, t, y)
			}
			if len(row) != len(lons) {
				return nil, fmt.Errorf("%s: row [%d][%d] has %d values, want %d", field, t, y, len(row), len(lons))
			}
			plane[y] = row
		}
		snap.Times = append(snap.Times, day.Add(offset))
		snap.Values = append(snap.Values, plane)
	}
	return snap, nil
}

// splitHead separates "T2M.T2M[3][1]" into ("T2M", "3,1").
func splitHead(head string) (string, string, error) {
	name := head
	var indices []string
	if i := strings.IndexByte(head, '['); i >= 0 {
		name = head[:i]
		rest := head[i:]
		for rest != "" {
			if rest[0] != '[' {
				return "", "", fmt.Errorf("malformed index in %q", head)
			}
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return "", "", fmt.Errorf("malformed index in %q", head)
			}
			idx := rest[1:end]
			if _, err := strconv.Atoi(idx); err != nil {
				return "", "", fmt.Errorf("malformed index in %q", head)
			}
			indices = append(indices, idx)
			rest = rest[end+1:]
		}
	}
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		name = name[dot+1:]
	}
	if name == "" {
		return "", "", fmt.Errorf("missing variable name in %q", head)
	}
	return name, strings.Join(indices, ","), nil
}

func coordinate(vars map[string]*asciiVar, name string) ([]float64, error) {
	v, ok := vars[name]
	if !ok || len(v.flat) == 0 {
		return nil, fmt.Errorf("coordinate %s not found in response", name)
	}
	out := make([]float64, len(v.flat))
	copy(out, v.flat)
	return out, nil
}
