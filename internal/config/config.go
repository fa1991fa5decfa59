// Package config loads process configuration from FLIGHT_TRACKER_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"flight_tracker/internal/archive"
	"flight_tracker/internal/feed"
	"flight_tracker/internal/storage"
)

// Error is a configuration problem. It is fatal at startup and never retried.
type Error struct {
	Var string
	Err error
}

func (e *Error) Error() string {
	if e.Var == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration: %s: %v", e.Var, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config is shared by every subcommand; each uses the fields it needs.
type Config struct {
	// The store DSN carries the store credential and is the one required
	// setting.
	StoreDSN     string        `env:"FLIGHT_TRACKER_STORE_DSN"`
	StoreTimeout time.Duration `env:"FLIGHT_TRACKER_STORE_TIMEOUT" envDefault:"15s"`

	FeedURL     string        `env:"FLIGHT_TRACKER_FEED_URL" envDefault:"https://opensky-network.org/api/states/all"`
	FeedToken   string        `env:"FLIGHT_TRACKER_FEED_TOKEN"`
	FeedTimeout time.Duration `env:"FLIGHT_TRACKER_FEED_TIMEOUT" envDefault:"30s"`
	// lamin,lomin,lamax,lomax
	FeedBBox []float64 `env:"FLIGHT_TRACKER_FEED_BBOX" envSeparator:","`

	CacheTTL    time.Duration `env:"FLIGHT_TRACKER_CACHE_TTL" envDefault:"60s"`
	HTTPAddr    string        `env:"FLIGHT_TRACKER_HTTP_ADDR" envDefault:":8081"`
	CORSOrigins []string      `env:"FLIGHT_TRACKER_CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	ArchiveBucket          string `env:"FLIGHT_TRACKER_ARCHIVE_S3_BUCKET"`
	ArchivePrefix          string `env:"FLIGHT_TRACKER_ARCHIVE_S3_PREFIX" envDefault:"raw"`
	ArchiveRegion          string `env:"FLIGHT_TRACKER_ARCHIVE_S3_REGION" envDefault:"us-east-1"`
	ArchiveEndpoint        string `env:"FLIGHT_TRACKER_ARCHIVE_S3_ENDPOINT"`
	ArchivePathStyle       bool   `env:"FLIGHT_TRACKER_ARCHIVE_S3_PATH_STYLE"`
	ArchiveAccessKeyID     string `env:"FLIGHT_TRACKER_ARCHIVE_S3_ACCESS_KEY_ID"`
	ArchiveSecretAccessKey string `env:"FLIGHT_TRACKER_ARCHIVE_S3_SECRET_ACCESS_KEY"`

	PushgatewayURL string `env:"FLIGHT_TRACKER_PUSHGATEWAY_URL"`

	LogLevel  string `env:"FLIGHT_TRACKER_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"FLIGHT_TRACKER_LOG_FORMAT" envDefault:"text"`
}

// Load parses and validates the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, &Error{Err: fmt.Errorf("parse env: %w", err)}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env.Parse cannot.
func (c Config) Validate() error {
	if c.StoreDSN == "" {
		return &Error{Var: "FLIGHT_TRACKER_STORE_DSN", Err: errors.New("required")}
	}
	if _, err := storage.CheckDSN(c.StoreDSN); err != nil {
		return &Error{Var: "FLIGHT_TRACKER_STORE_DSN", Err: err}
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"FLIGHT_TRACKER_STORE_TIMEOUT", c.StoreTimeout},
		{"FLIGHT_TRACKER_FEED_TIMEOUT", c.FeedTimeout},
		{"FLIGHT_TRACKER_CACHE_TTL", c.CacheTTL},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return &Error{Var: d.name, Err: fmt.Errorf("must be positive, got %s", d.d)}
		}
	}

	if _, err := c.BBox(); err != nil {
		return &Error{Var: "FLIGHT_TRACKER_FEED_BBOX", Err: err}
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return &Error{Var: "FLIGHT_TRACKER_LOG_LEVEL", Err: err}
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return &Error{Var: "FLIGHT_TRACKER_LOG_FORMAT", Err: fmt.Errorf("want text or json, got %q", c.LogFormat)}
	}
	return nil
}

// BBox returns the feed bounding box, or nil for the whole world.
func (c Config) BBox() (*feed.BoundingBox, error) {
	switch len(c.FeedBBox) {
	case 0:
		return nil, nil
	case 4:
	default:
		return nil, fmt.Errorf("want lamin,lomin,lamax,lomax, got %d values", len(c.FeedBBox))
	}
	b := &feed.BoundingBox{LatMin: c.FeedBBox[0], LonMin: c.FeedBBox[1], LatMax: c.FeedBBox[2], LonMax: c.FeedBBox[3]}
	if b.LatMin >= b.LatMax || b.LonMin >= b.LonMax {
		return nil, errors.New("minimum must be below maximum")
	}
	return b, nil
}

// FeedOptions assembles the feed source options.
func (c Config) FeedOptions() feed.Options {
	bbox, _ := c.BBox()
	return feed.Options{Token: c.FeedToken, Timeout: c.FeedTimeout, BBox: bbox}
}

// ArchiveEnabled reports whether raw payloads should be archived.
func (c Config) ArchiveEnabled() bool {
	return c.ArchiveBucket != ""
}

// Archive returns the S3 archive settings.
func (c Config) Archive() archive.Config {
	return archive.Config{
		Region:          c.ArchiveRegion,
		Bucket:          c.ArchiveBucket,
		Prefix:          c.ArchivePrefix,
		Endpoint:        c.ArchiveEndpoint,
		AccessKeyID:     c.ArchiveAccessKeyID,
		SecretAccessKey: c.ArchiveSecretAccessKey,
		PathStyle:       c.ArchivePathStyle,
	}
}
