package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/i474232898/merra-aggregation/internal/common"
	"github.com/i474232898/merra-aggregation/internal/merra"
)

const (
	// DefaultBaseURL is the GES DISC OPeNDAP root for MERRA-2 collections.
	DefaultBaseURL = "https://goldsmr4.gesdisc.eosdis.nasa.gov/opendap/MERRA2"
	// EarthdataHost is the login host the archive redirects to for authentication.
	EarthdataHost = "urs.earthdata.nasa.gov"

	// GES DISC republished some days of the 400 stream as 401.
	reprocessedStream = 401
)

var fileDate = regexp.MustCompile(`\.(\d{8})\.`)

// Config describes one MERRA-2 collection and how to reach it.
type Config struct {
	BaseURL         string
	DatabaseName    string // e.g. M2I1NXASM
	DatabaseVersion string // e.g. 5.12.4
	DatabaseID      string // e.g. inst1_2d_asm_Nx
	FieldID         string // e.g. T2M
	FieldName       string // cache sub-directory, e.g. temperature_MERRA
	CacheDir        string

	Username string
	Password string
	// AuthHost receives the basic credentials; defaults to EarthdataHost.
	AuthHost string

	Timeout    time.Duration
	RPS        float64
	Burst      int
	MaxRetries int
}

// OPeNDAP implements merra.Archive against the GES DISC OPeNDAP server.
// Files are fetched as ASCII subsets and cached on disk.
type OPeNDAP struct {
	name    string
	cfg     Config
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewEarthdataClient returns an HTTP client that keeps the Earthdata session
// cookies and re-attaches credentials when redirected to authHost.
func NewEarthdataClient(timeout time.Duration, username, password, authHost string) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	return &http.Client{
		Timeout: timeout,
		Jar:     jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			if req.URL.Hostname() == authHost {
				req.SetBasicAuth(username, password)
			}
			return nil
		},
	}, nil
}

// NewOPeNDAP creates an archive client for the configured collection.
func NewOPeNDAP(cfg Config) (*OPeNDAP, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.AuthHost == "" {
		cfg.AuthHost = EarthdataHost
	}
	if cfg.FieldName == "" {
		cfg.FieldName = cfg.FieldID
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = "downloads"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.DatabaseName == "" || cfg.DatabaseVersion == "" || cfg.DatabaseID == "" || cfg.FieldID == "" {
		return nil, fmt.Errorf("archive: database name, version, id and field id are required")
	}

	client, err := NewEarthdataClient(cfg.Timeout, cfg.Username, cfg.Password, cfg.AuthHost)
	if err != nil {
		return nil, err
	}

	return &OPeNDAP{
		name: "merra2-opendap",
		cfg:  cfg,
		httpCfg: HTTPClientConfig{
			Client: client,
			Backoff: BackoffConfig{
				MaxRetries:      cfg.MaxRetries,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     10 * time.Second,
			},
		},
		circuit: newCircuitBreaker("merra2-opendap"),
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
	}, nil
}

func (o *OPeNDAP) Name() string {
	return o.name
}

// FileName returns the archive granule name for a stream and day,
// e.g. MERRA2_400.inst1_2d_asm_Nx.20200101.nc4.
func (o *OPeNDAP) FileName(stream int, day time.Time) string {
	return fmt.Sprintf("MERRA2_%d.%s.%s.nc4", stream, o.cfg.DatabaseID, day.Format("20060102"))
}

// URL returns the OPeNDAP ASCII subset URL for a granule and window.
func (o *OPeNDAP) URL(stream int, day time.Time, w merra.Window) string {
	hours := fmt.Sprintf("[0:1:%d]", merra.HoursPerFile-1)
	lat := fmt.Sprintf("[%d:1:%d]", w.Y0, w.Y1)
	lon := fmt.Sprintf("[%d:1:%d]", w.X0, w.X1)
	query := strings.Join([]string{
		o.cfg.FieldID + hours + lat + lon,
		"lat" + lat,
		"lon" + lon,
		"time" + hours,
	}, ",")
	return fmt.Sprintf("%s/%s.%s/%04d/%02d/%s.ascii?%s",
		o.cfg.BaseURL, o.cfg.DatabaseName, o.cfg.DatabaseVersion,
		day.Year(), int(day.Month()), o.FileName(stream, day), query)
}

// CachePath returns the local file for a granule and window.
func (o *OPeNDAP) CachePath(stream int, day time.Time, w merra.Window) string {
	name := fmt.Sprintf("MERRA2_%d.%s.%s.%s.%s.ascii",
		stream, o.cfg.DatabaseID, day.Format("20060102"), o.cfg.FieldID, w.Key())
	return filepath.Join(o.cfg.CacheDir, o.cfg.FieldName, name)
}

// Fetch makes sure the granule for day is cached locally and returns its path.
func (o *OPeNDAP) Fetch(ctx context.Context, day time.Time, w merra.Window) (string, error) {
	day = merra.Day(day)
	stream, err := merra.StreamNumber(day.Year())
	if err != nil {
		return "", err
	}

	streams := []int{stream}
	if stream == 400 {
		streams = append(streams, reprocessedStream)
	}
	for _, s := range streams {
		path := o.CachePath(s, day, w)
		if _, err := os.Stat(path); err == nil {
			log.Printf("DEBUG: file already downloaded: %s", path)
			return path, nil
		}
	}

	for i, s := range streams {
		path := o.CachePath(s, day, w)
		log.Printf("INFO: downloading %s of %s @ %s", o.cfg.FieldID, o.FileName(s, day), day.Format(merra.DateLayout))
		err = o.download(ctx, o.URL(s, day, w), path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, ErrNotFound) || i == len(streams)-1 {
			return "", err
		}
		log.Printf("INFO: %s not found, trying stream %d", o.FileName(s, day), streams[i+1])
	}
	return "", err
}

// Open parses a cached granule. The date is taken from the file name.
func (o *OPeNDAP) Open(path string) (*merra.Snapshot, error) {
	m := fileDate.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return nil, fmt.Errorf("no date in file name %s", path)
	}
	day, err := time.Parse("20060102", m[1])
	if err != nil {
		return nil, fmt.Errorf("parsing date in %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseSnapshot(f, o.cfg.FieldID, day)
}

func (o *OPeNDAP) download(ctx context.Context, u, path string) error {
	buildRequest := func() (*http.Request, error) {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait canceled: %w", err)
		}
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		if req.URL.Hostname() == o.cfg.AuthHost {
			req.SetBasicAuth(o.cfg.Username, o.cfg.Password)
		}
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, o.httpCfg, o.circuit, buildRequest)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// A failed login can come back as a 200 with the Earthdata login page.
	body := bufio.NewReader(resp.Body)
	head, _ := body.Peek(512)
	if common.HasAny(strings.ToLower(string(head)), "<!doctype html", "<html") {
		return fmt.Errorf("%w: login page returned instead of data", ErrUnauthorized)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var _ merra.Archive = (*OPeNDAP)(nil)
