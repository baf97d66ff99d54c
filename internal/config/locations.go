package config

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/kelvins/geocoder"

	"github.com/i474232898/merra-aggregation/internal/merra"
)

// Geocoder resolves a place name to coordinates.
type Geocoder interface {
	Geocode(city, country string) (lat, lon float64, err error)
}

// GoogleGeocoder resolves places with the Google Geocoding API.
type GoogleGeocoder struct {
	apiKey string
}

func NewGoogleGeocoder(apiKey string) *GoogleGeocoder {
	return &GoogleGeocoder{apiKey: apiKey}
}

func (g *GoogleGeocoder) Geocode(city, country string) (float64, float64, error) {
	if g == nil || g.apiKey == "" {
		return 0, 0, errors.New("GEOCODER_API_KEY is not set")
	}
	geocoder.ApiKey = g.apiKey
	loc, err := geocoder.Geocoding(geocoder.Address{City: city, Country: country})
	if err != nil {
		return 0, 0, fmt.Errorf("geocoding %s: %w", strings.Trim(city+"/"+country, "/"), err)
	}
	return loc.Latitude, loc.Longitude, nil
}

// LoadLocations builds the location list from the inline list and the
// optional locations file. Inline entries are comma separated:
//
//	Berlin=52.52:13.405     name=lat:lon
//	Home=Berlin/DE          name=city/country, geocoded
//	Paris/FR                geocoded, named after the city
func LoadLocations(inline, file string, geo Geocoder) ([]merra.Location, error) {
	var locs []merra.Location

	if file != "" {
		var (
			fromFile []merra.Location
			err      error
		)
		if strings.EqualFold(filepath.Ext(file), ".shp") {
			fromFile, err = readShapefile(file)
		} else {
			fromFile, err = readLocationsCSV(file)
		}
		if err != nil {
			return nil, fmt.Errorf("loading locations from %s: %w", file, err)
		}
		locs = append(locs, fromFile...)
	}

	for _, entry := range strings.Split(inline, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		loc, err := parseLocation(entry, geo)
		if err != nil {
			return nil, err
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

func parseLocation(entry string, geo Geocoder) (merra.Location, error) {
	name, place, hasName := strings.Cut(entry, "=")
	name = strings.TrimSpace(name)
	if !hasName {
		place = entry
	}
	place = strings.TrimSpace(place)

	if latStr, lonStr, ok := strings.Cut(place, ":"); ok && hasName {
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
		if err1 != nil || err2 != nil {
			return merra.Location{}, fmt.Errorf("invalid location %q: want name=lat:lon", entry)
		}
		return merra.NewLocation(name, lat, lon), nil
	}

	city, country, _ := strings.Cut(place, "/")
	city, country = strings.TrimSpace(city), strings.TrimSpace(country)
	if city == "" {
		return merra.Location{}, fmt.Errorf("invalid location %q", entry)
	}
	if !hasName {
		name = city
	}
	lat, lon, err := geo.Geocode(city, country)
	if err != nil {
		return merra.Location{}, fmt.Errorf("location %q: %w", entry, err)
	}
	log.Printf("INFO: geocoded %s to (%.4f, %.4f)", place, lat, lon)
	return merra.NewLocation(name, lat, lon), nil
}

// readLocationsCSV reads name,latitude,longitude rows. The station_name,
// lat and lon header spellings are accepted as well.
func readLocationsCSV(path string) ([]merra.Location, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	nameCol, latCol, lonCol := -1, -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "name", "station_name":
			nameCol = i
		case "latitude", "lat":
			latCol = i
		case "longitude", "lon", "lng":
			lonCol = i
		}
	}
	if nameCol < 0 || latCol < 0 || lonCol < 0 {
		return nil, errors.New("header must have name, latitude and longitude columns")
	}

	var locs []merra.Location
	line := 1
	for {
		line++
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(row[latCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: latitude: %w", line, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(row[lonCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: longitude: %w", line, err)
		}
		locs = append(locs, merra.NewLocation(strings.TrimSpace(row[nameCol]), lat, lon))
	}
	return locs, nil
}

// readShapefile reads point features; the name comes from a NAME attribute,
// or the first attribute when there is none.
func readShapefile(path string) ([]merra.Location, error) {
	shape, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening shapefile: %w", err)
	}
	defer shape.Close()

	fields := shape.Fields()
	nameField := -1
	for k, f := range fields {
		if strings.EqualFold(strings.TrimSpace(f.String()), "name") {
			nameField = k
			break
		}
	}
	if nameField < 0 && len(fields) > 0 {
		nameField = 0
	}

	var locs []merra.Location
	for shape.Next() {
		n, p := shape.Shape()
		point, ok := p.(*shp.Point)
		if !ok {
			return nil, fmt.Errorf("feature %d is not a point", n)
		}
		name := fmt.Sprintf("point_%d", n)
		if nameField >= 0 {
			if v := strings.Trim(shape.ReadAttribute(n, nameField), " \x00"); v != "" {
				name = v
			}
		}
		locs = append(locs, merra.NewLocation(name, point.Y, point.X))
	}
	if err := shape.Err(); err != nil {
		return nil, err
	}
	return locs, nil
}
