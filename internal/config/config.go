package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/merra-aggregation/internal/merra"
	"github.com/i474232898/merra-aggregation/internal/merra/archive"
)

var validate = validator.New()

type AppConfig struct {
	// Earthdata Login credentials.
	Username string `validate:"required"`
	Password string `validate:"required"`

	// Date range: every day of Years, or StartDate..EndDate when both are set.
	Years     []int `validate:"omitempty,dive,min=1980"`
	StartDate time.Time
	EndDate   time.Time

	// Collection and field, as named in the MERRA-2 file layout.
	FieldID         string `validate:"required"`
	FieldName       string `validate:"required"`
	DatabaseName    string `validate:"required"`
	DatabaseID      string `validate:"required"`
	DatabaseVersion string `validate:"required"`
	BaseURL         string `validate:"required,url"`

	Locations       []merra.Location `validate:"required,min=1"`
	LocationsInline string
	LocationsFile   string
	GeocoderAPIKey  string

	ConversionName string `validate:"required"`
	Conversion     merra.Conversion
	Aggregator     merra.Aggregator `validate:"required,oneof=mean sum max min"`
	Period         merra.Period     `validate:"required,oneof=daily weekly"`

	CacheDir    string        `validate:"required"`
	HTTPTimeout time.Duration `validate:"gt=0"`
	RPS         float64       `validate:"gt=0"`
	Burst       int           `validate:"min=1"`
	MaxRetries  int           `validate:"min=0"`

	// StorePath is the SQLite file for aggregates; empty keeps them in memory.
	StorePath   string
	RunInterval time.Duration `validate:"gt=0"`
	Port        string        `validate:"required,numeric"`
	OutputName  string        `validate:"required"`
}

// Load reads configuration from environment with sensible defaults.
// Everything that can be checked without network access is checked here.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	// Older .env files name the credentials "username" and "key".
	cfg.Username = getenvDefault("EARTHDATA_USERNAME", os.Getenv("username"))
	cfg.Password = getenvDefault("EARTHDATA_PASSWORD", os.Getenv("key"))

	years, err := parseYears(os.Getenv("MERRA_YEARS"))
	if err != nil {
		return nil, err
	}
	cfg.Years = years
	if s := os.Getenv("MERRA_START_DATE"); s != "" {
		if cfg.StartDate, err = merra.ParseDate(s); err != nil {
			return nil, fmt.Errorf("invalid MERRA_START_DATE: %w", err)
		}
	}
	if s := os.Getenv("MERRA_END_DATE"); s != "" {
		if cfg.EndDate, err = merra.ParseDate(s); err != nil {
			return nil, fmt.Errorf("invalid MERRA_END_DATE: %w", err)
		}
	}

	cfg.FieldID = getenvDefault("MERRA_FIELD_ID", "T2M")
	cfg.FieldName = getenvDefault("MERRA_FIELD_NAME", "temperature_MERRA")
	cfg.DatabaseName = getenvDefault("MERRA_DATABASE_NAME", "M2I1NXASM")
	cfg.DatabaseID = getenvDefault("MERRA_DATABASE_ID", "inst1_2d_asm_Nx")
	cfg.DatabaseVersion = getenvDefault("MERRA_DATABASE_VERSION", "5.12.4")
	cfg.BaseURL = getenvDefault("MERRA_BASE_URL", archive.DefaultBaseURL)

	cfg.ConversionName = getenvDefault("MERRA_CONVERSION", "kelvin_to_celsius")
	if cfg.Conversion, err = merra.LookupConversion(cfg.ConversionName); err != nil {
		return nil, fmt.Errorf("invalid MERRA_CONVERSION: %w", err)
	}
	if cfg.Aggregator, err = merra.ParseAggregator(getenvDefault("MERRA_AGGREGATOR", "mean")); err != nil {
		return nil, fmt.Errorf("invalid MERRA_AGGREGATOR: %w", err)
	}
	if cfg.Period, err = merra.ParsePeriod(getenvDefault("MERRA_PERIOD", "daily")); err != nil {
		return nil, fmt.Errorf("invalid MERRA_PERIOD: %w", err)
	}

	cfg.CacheDir = getenvDefault("MERRA_CACHE_DIR", "downloads")
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "60s"); err != nil {
		return nil, err
	}
	if cfg.RPS, err = getenvFloat("MERRA_RPS", 2); err != nil {
		return nil, err
	}
	cfg.Burst = getenvInt("MERRA_BURST", 1)
	cfg.MaxRetries = getenvInt("MERRA_MAX_RETRIES", 3)

	cfg.StorePath = os.Getenv("STORE_PATH")
	if cfg.RunInterval, err = getenvDuration("RUN_INTERVAL", "24h"); err != nil {
		return nil, err
	}
	cfg.Port = getenvDefault("PORT", "8080")
	cfg.OutputName = getenvDefault("OUTPUT_NAME", "MERRA2_processed.csv")

	cfg.LocationsInline = os.Getenv("MERRA_LOCATIONS")
	cfg.LocationsFile = os.Getenv("MERRA_LOCATIONS_FILE")
	cfg.GeocoderAPIKey = os.Getenv("GEOCODER_API_KEY")
	locs, err := LoadLocations(cfg.LocationsInline, cfg.LocationsFile, NewGoogleGeocoder(cfg.GeocoderAPIKey))
	if err != nil {
		return nil, err
	}
	cfg.Locations = locs

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if len(c.Years) == 0 && (c.StartDate.IsZero() || c.EndDate.IsZero()) {
		return fmt.Errorf("invalid configuration: set MERRA_YEARS or both MERRA_START_DATE and MERRA_END_DATE")
	}
	if !c.StartDate.IsZero() && c.StartDate.Year() < merra.FirstYear {
		return fmt.Errorf("invalid configuration: %w: start date %s", merra.ErrYearOutOfRange, c.StartDate.Format(merra.DateLayout))
	}
	if !c.StartDate.IsZero() && !c.EndDate.IsZero() && c.EndDate.Before(c.StartDate) {
		return fmt.Errorf("invalid configuration: MERRA_END_DATE is before MERRA_START_DATE")
	}
	seen := make(map[string]struct{}, len(c.Locations))
	for _, l := range c.Locations {
		if _, dup := seen[l.Name]; dup {
			return fmt.Errorf("invalid configuration: duplicate location %q", l.Name)
		}
		seen[l.Name] = struct{}{}
		if l.Latitude < -90 || l.Latitude > 90 {
			return fmt.Errorf("invalid configuration: %s latitude %v out of range", l.Name, l.Latitude)
		}
	}
	return nil
}

// Days returns the configured days in ascending order.
func (c *AppConfig) Days() ([]time.Time, error) {
	if !c.StartDate.IsZero() && !c.EndDate.IsZero() {
		return merra.DaysBetween(c.StartDate, c.EndDate)
	}
	return merra.DaysInYears(c.Years)
}

// ArchiveConfig maps the application config onto the archive client config.
func (c *AppConfig) ArchiveConfig() archive.Config {
	return archive.Config{
		BaseURL:         c.BaseURL,
		DatabaseName:    c.DatabaseName,
		DatabaseVersion: c.DatabaseVersion,
		DatabaseID:      c.DatabaseID,
		FieldID:         c.FieldID,
		FieldName:       c.FieldName,
		CacheDir:        c.CacheDir,
		Username:        c.Username,
		Password:        c.Password,
		Timeout:         c.HTTPTimeout,
		RPS:             c.RPS,
		Burst:           c.Burst,
		MaxRetries:      c.MaxRetries,
	}
}

// ServiceOptions returns the pipeline options.
func (c *AppConfig) ServiceOptions() merra.Options {
	return merra.Options{
		FieldID:    c.FieldID,
		FieldName:  c.FieldName,
		Conversion: c.Conversion,
		Aggregator: c.Aggregator,
		Period:     c.Period,
	}
}

func parseYears(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var years []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		// Ranges such as 2015-2018 expand to every year.
		if from, to, ok := strings.Cut(part, "-"); ok {
			a, err1 := strconv.Atoi(strings.TrimSpace(from))
			b, err2 := strconv.Atoi(strings.TrimSpace(to))
			if err1 != nil || err2 != nil || b < a {
				return nil, fmt.Errorf("invalid MERRA_YEARS entry %q", part)
			}
			for y := a; y <= b; y++ {
				years = append(years, y)
			}
			continue
		}
		y, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid MERRA_YEARS entry %q", part)
		}
		years = append(years, y)
	}
	return years, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
