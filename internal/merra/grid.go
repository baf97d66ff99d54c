package merra

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// MERRA-2 native grid.
const (
	LatResolution = 0.5
	LonResolution = 0.625
	LatPoints     = 361
	LonPoints     = 576
	// HoursPerFile is the number of time steps in one hourly daily file.
	HoursPerFile = 24
	// FirstYear is the first year covered by MERRA-2.
	FirstYear = 1980
)

var (
	// ErrOutsideGrid is returned when a location is further than half a grid
	// step from every cell of a snapshot.
	ErrOutsideGrid = errors.New("location outside grid")
	// ErrYearOutOfRange is returned for years MERRA-2 does not cover.
	ErrYearOutOfRange = errors.New("year out of range")
	// ErrEmptySnapshot is returned when a snapshot has no cells.
	ErrEmptySnapshot = errors.New("snapshot has no data")
)

// StreamNumber returns the file stream prefix used for a year:
// 100 for 1980-1991, 200 for 1992-2000, 300 for 2001-2010 and 400 after.
func StreamNumber(year int) (int, error) {
	switch {
	case year < FirstYear:
		return 0, fmt.Errorf("%w: %d", ErrYearOutOfRange, year)
	case year < 1992:
		return 100, nil
	case year < 2001:
		return 200, nil
	case year < 2011:
		return 300, nil
	default:
		return 400, nil
	}
}

// GridIndex is a (lat, lon) index pair on the native grid.
type GridIndex struct {
	Y int
	X int
}

// NativeIndex returns the native grid cell nearest to a coordinate.
func NativeIndex(lat, lon float64) GridIndex {
	y := int(math.Round((lat + 90) / LatResolution))
	if y < 0 {
		y = 0
	}
	if y > LatPoints-1 {
		y = LatPoints - 1
	}
	x := int(math.Round((NormalizeLongitude(lon) + 180) / LonResolution))
	x = ((x % LonPoints) + LonPoints) % LonPoints
	return GridIndex{Y: y, X: x}
}

// Window is an inclusive index range on the native grid.
type Window struct {
	Y0, Y1 int
	X0, X1 int
}

// WindowFor returns the smallest window holding the native cell of every
// location, widened by margin cells and clamped to the grid.
func WindowFor(locs []Location, margin int) Window {
	if len(locs) == 0 {
		return Window{Y0: 0, Y1: LatPoints - 1, X0: 0, X1: LonPoints - 1}
	}
	first := NativeIndex(locs[0].Latitude, locs[0].Longitude)
	w := Window{Y0: first.Y, Y1: first.Y, X0: first.X, X1: first.X}
	for _, l := range locs[1:] {
		idx := NativeIndex(l.Latitude, l.Longitude)
		w.Y0 = min(w.Y0, idx.Y)
		w.Y1 = max(w.Y1, idx.Y)
		w.X0 = min(w.X0, idx.X)
		w.X1 = max(w.X1, idx.X)
	}
	w.Y0 = max(w.Y0-margin, 0)
	w.Y1 = min(w.Y1+margin, LatPoints-1)
	w.X0 = max(w.X0-margin, 0)
	w.X1 = min(w.X1+margin, LonPoints-1)
	return w
}

// Key is a stable file-name fragment for the window.
func (w Window) Key() string {
	return fmt.Sprintf("y%d-%d.x%d-%d", w.Y0, w.Y1, w.X0, w.X1)
}

// nearest returns the index of the coordinate closest to v, keeping the first
// one on ties. When periodic is set, distances wrap around 360 degrees.
func nearest(coords []float64, v float64, periodic bool) (int, float64) {
	best, bestDist := -1, math.Inf(1)
	for i, c := range coords {
		d := math.Abs(c - v)
		if periodic {
			d = math.Mod(d, 360)
			d = math.Min(d, 360-d)
		}
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

// axisStep returns the spacing of a regular axis, or fallback for a single point.
func axisStep(coords []float64, fallback float64) float64 {
	if len(coords) < 2 {
		return fallback
	}
	return math.Abs(coords[1] - coords[0])
}

// NearestCell returns the snapshot cell nearest to the location.
func (s *Snapshot) NearestCell(loc Location) (GridIndex, error) {
	if len(s.Latitudes) == 0 || len(s.Longitudes) == 0 {
		return GridIndex{}, ErrEmptySnapshot
	}
	y, dy := nearest(s.Latitudes, loc.Latitude, false)
	x, dx := nearest(s.Longitudes, NormalizeLongitude(loc.Longitude), true)

	// Half a step plus a little slack for float noise in the axis values.
	const eps = 1e-9
	if dy > axisStep(s.Latitudes, LatResolution)/2+eps || dx > axisStep(s.Longitudes, LonResolution)/2+eps {
		return GridIndex{}, fmt.Errorf("%w: %s (%.4f, %.4f) nearest cell (%.4f, %.4f)",
			ErrOutsideGrid, loc.Name, loc.Latitude, loc.Longitude, s.Latitudes[y], s.Longitudes[x])
	}
	return GridIndex{Y: y, X: x}, nil
}

// Extract returns the hourly samples of the snapshot at the cell nearest to loc.
func (s *Snapshot) Extract(loc Location) (HourlySeries, error) {
	idx, err := s.NearestCell(loc)
	if err != nil {
		return HourlySeries{}, err
	}

	series := HourlySeries{Location: loc, Field: s.Field}
	for t, plane := range s.Values {
		if idx.Y >= len(plane) || idx.X >= len(plane[idx.Y]) {
			return HourlySeries{}, fmt.Errorf("snapshot %s: time step %d is missing cell [%d][%d]",
				s.Date.Format(DateLayout), t, idx.Y, idx.X)
		}
		ts := s.Date.Add(time.Duration(t) * time.Hour)
		if t < len(s.Times) {
			ts = s.Times[t]
		}
		series.Append(Sample{Time: ts, Value: plane[idx.Y][idx.X]})
	}
	return series, nil
}
