package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonas-p/go-shp"

	"github.com/i474232898/merra-aggregation/internal/merra"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("EARTHDATA_USERNAME", "user")
	t.Setenv("EARTHDATA_PASSWORD", "secret")
	t.Setenv("MERRA_YEARS", "2019,2020")
	t.Setenv("MERRA_LOCATIONS", "Berlin=52.52:13.405, Paris=48.8566:2.3522")
	t.Setenv("MERRA_LOCATIONS_FILE", "")
	t.Setenv("MERRA_AGGREGATOR", "")
	t.Setenv("MERRA_CONVERSION", "")
	t.Setenv("MERRA_PERIOD", "")
	t.Setenv("MERRA_START_DATE", "")
	t.Setenv("MERRA_END_DATE", "")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.FieldID != "T2M" || cfg.DatabaseName != "M2I1NXASM" || cfg.DatabaseID != "inst1_2d_asm_Nx" {
		t.Errorf("unexpected collection defaults: %+v", cfg)
	}
	if cfg.Aggregator != merra.AggregatorMean || cfg.Period != merra.PeriodDaily {
		t.Errorf("aggregator/period = %s/%s", cfg.Aggregator, cfg.Period)
	}
	if got := cfg.Conversion(273.15); got != 0 {
		t.Errorf("default conversion(273.15) = %v, want 0", got)
	}
	if len(cfg.Locations) != 2 || cfg.Locations[1].Name != "Paris" {
		t.Errorf("locations = %+v", cfg.Locations)
	}
	days, err := cfg.Days()
	if err != nil {
		t.Fatalf("Days() error = %v", err)
	}
	if len(days) != 365+366 {
		t.Errorf("len(days) = %d", len(days))
	}
	if cfg.RunInterval != 24*time.Hour || cfg.OutputName != "MERRA2_processed.csv" {
		t.Errorf("serve defaults = %v %s", cfg.RunInterval, cfg.OutputName)
	}
}

func TestLoadLegacyCredentials(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("EARTHDATA_USERNAME", "")
	t.Setenv("EARTHDATA_PASSWORD", "")
	t.Setenv("username", "legacy")
	t.Setenv("key", "legacy-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Username != "legacy" || cfg.Password != "legacy-key" {
		t.Errorf("credentials = %q/%q", cfg.Username, cfg.Password)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	cases := map[string]func(t *testing.T){
		"unknown aggregator": func(t *testing.T) { t.Setenv("MERRA_AGGREGATOR", "median") },
		"unknown conversion": func(t *testing.T) { t.Setenv("MERRA_CONVERSION", "parsecs") },
		"unknown period":     func(t *testing.T) { t.Setenv("MERRA_PERIOD", "hourly") },
		"year before 1980":   func(t *testing.T) { t.Setenv("MERRA_YEARS", "1979") },
		"no range":           func(t *testing.T) { t.Setenv("MERRA_YEARS", "") },
		"no locations":       func(t *testing.T) { t.Setenv("MERRA_LOCATIONS", "") },
		"duplicate location": func(t *testing.T) { t.Setenv("MERRA_LOCATIONS", "A=1:1,A=2:2") },
		"bad latitude":       func(t *testing.T) { t.Setenv("MERRA_LOCATIONS", "A=95:1") },
		"missing password": func(t *testing.T) {
			t.Setenv("EARTHDATA_PASSWORD", "")
			t.Setenv("key", "")
		},
		"end before start": func(t *testing.T) {
			t.Setenv("MERRA_YEARS", "")
			t.Setenv("MERRA_START_DATE", "2020-02-01")
			t.Setenv("MERRA_END_DATE", "2020-01-01")
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv("username", "")
			t.Setenv("key", "")
			mutate(t)
			if _, err := Load(); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

func TestLoadUnknownAggregatorIsTyped(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MERRA_AGGREGATOR", "median")
	if _, err := Load(); !errors.Is(err, merra.ErrUnknownAggregator) {
		t.Errorf("expected ErrUnknownAggregator, got %v", err)
	}
}

func TestLoadDateRange(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MERRA_YEARS", "")
	t.Setenv("MERRA_START_DATE", "2020-02-27")
	t.Setenv("MERRA_END_DATE", "2020-03-01")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	days, err := cfg.Days()
	if err != nil {
		t.Fatalf("Days() error = %v", err)
	}
	if len(days) != 4 {
		t.Errorf("len(days) = %d, want 4", len(days))
	}
}

func TestParseYears(t *testing.T) {
	years, err := parseYears("2015-2017, 2020")
	if err != nil {
		t.Fatalf("parseYears() error = %v", err)
	}
	want := []int{2015, 2016, 2017, 2020}
	if len(years) != len(want) {
		t.Fatalf("parseYears() = %v", years)
	}
	for i := range want {
		if years[i] != want[i] {
			t.Errorf("parseYears()[%d] = %d, want %d", i, years[i], want[i])
		}
	}
	if _, err := parseYears("2018-2015"); err == nil {
		t.Error("expected error for inverted range")
	}
	if _, err := parseYears("twenty"); err == nil {
		t.Error("expected error for non-numeric year")
	}
}

type fakeGeocoder struct {
	calls []string
}

func (f *fakeGeocoder) Geocode(city, country string) (float64, float64, error) {
	f.calls = append(f.calls, city+"/"+country)
	if city == "Atlantis" {
		return 0, 0, errors.New("not found")
	}
	return 52.52, 13.405, nil
}

func TestLoadLocationsInline(t *testing.T) {
	geo := &fakeGeocoder{}
	locs, err := LoadLocations("Home=Berlin/DE, Paris/FR, Oslo=59.91:370.75", "", geo)
	if err != nil {
		t.Fatalf("LoadLocations() error = %v", err)
	}
	if len(locs) != 3 {
		t.Fatalf("expected 3 locations, got %+v", locs)
	}
	if locs[0].Name != "Home" || locs[1].Name != "Paris" {
		t.Errorf("names = %s, %s", locs[0].Name, locs[1].Name)
	}
	if len(geo.calls) != 2 || geo.calls[0] != "Berlin/DE" {
		t.Errorf("geocoder calls = %v", geo.calls)
	}
	// 370.75 wraps to 10.75
	if locs[2].Longitude < 10.74 || locs[2].Longitude > 10.76 {
		t.Errorf("Oslo longitude = %v", locs[2].Longitude)
	}

	if _, err := LoadLocations("Atlantis", "", geo); err == nil {
		t.Error("expected geocoding error")
	}
	if _, err := LoadLocations("Bad=north:east", "", geo); err == nil {
		t.Error("expected parse error")
	}
}

func TestGoogleGeocoderRequiresKey(t *testing.T) {
	if _, _, err := NewGoogleGeocoder("").Geocode("Berlin", "DE"); err == nil {
		t.Error("expected error without api key")
	}
}

func TestLoadLocationsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stations.csv")
	body := "station_name,lat,lon,elevation\nBrocken,51.8,10.62,1141\nZugspitze,47.42,10.98,2962\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	locs, err := LoadLocations("Extra=1:2", path, nil)
	if err != nil {
		t.Fatalf("LoadLocations() error = %v", err)
	}
	if len(locs) != 3 || locs[0].Name != "Brocken" || locs[1].Latitude != 47.42 || locs[2].Name != "Extra" {
		t.Errorf("locations = %+v", locs)
	}

	bad := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(bad, []byte("city,x,y\nA,1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadLocations("", bad, nil); err == nil {
		t.Error("expected header error")
	}
}

func TestLoadLocationsShapefile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.shp")
	shape, err := shp.Create(path, shp.POINT)
	if err != nil {
		t.Fatalf("shp.Create() error = %v", err)
	}
	shape.SetFields([]shp.Field{shp.StringField("NAME", 25)})
	for i, p := range []struct {
		name string
		x, y float64
	}{
		{"Reykjavik", -21.94, 64.15},
		{"Nuuk", -51.72, 64.18},
	} {
		n := shape.Write(&shp.Point{X: p.x, Y: p.y})
		shape.WriteAttribute(int(n), 0, p.name)
		_ = i
	}
	shape.Close()

	locs, err := LoadLocations("", path, nil)
	if err != nil {
		t.Fatalf("LoadLocations() error = %v", err)
	}
	if len(locs) != 2 {
		t.Fatalf("expected 2 locations, got %+v", locs)
	}
	if locs[0].Name != "Reykjavik" || locs[0].Latitude != 64.15 || locs[0].Longitude != -21.94 {
		t.Errorf("first location = %+v", locs[0])
	}
}
