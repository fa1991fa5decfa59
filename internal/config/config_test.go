package config

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FLIGHT_TRACKER_STORE_DSN", "sqlite:///tmp/flights.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CacheTTL != 60*time.Second {
		t.Errorf("cache ttl = %s", cfg.CacheTTL)
	}
	if cfg.HTTPAddr != ":8081" {
		t.Errorf("http addr = %s", cfg.HTTPAddr)
	}
	if cfg.FeedURL != "https://opensky-network.org/api/states/all" {
		t.Errorf("feed url = %s", cfg.FeedURL)
	}
	if cfg.ArchiveEnabled() {
		t.Error("archive enabled without a bucket")
	}
	if bbox, err := cfg.BBox(); err != nil || bbox != nil {
		t.Errorf("bbox = %v, %v", bbox, err)
	}
}

func TestLoadMissingDSN(t *testing.T) {
	t.Setenv("FLIGHT_TRACKER_STORE_DSN", "")

	_, err := Load()
	var cfgErr *Error
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *config.Error, got %v", err)
	}
	if cfgErr.Var != "FLIGHT_TRACKER_STORE_DSN" {
		t.Errorf("var = %q", cfgErr.Var)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "unsupported dsn", key: "FLIGHT_TRACKER_STORE_DSN", val: "md:flights"},
		{name: "bad duration", key: "FLIGHT_TRACKER_CACHE_TTL", val: "soon"},
		{name: "zero ttl", key: "FLIGHT_TRACKER_CACHE_TTL", val: "0s"},
		{name: "short bbox", key: "FLIGHT_TRACKER_FEED_BBOX", val: "45.8,5.9"},
		{name: "inverted bbox", key: "FLIGHT_TRACKER_FEED_BBOX", val: "47.8,5.9,45.8,10.5"},
		{name: "log level", key: "FLIGHT_TRACKER_LOG_LEVEL", val: "verbose"},
		{name: "log format", key: "FLIGHT_TRACKER_LOG_FORMAT", val: "xml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FLIGHT_TRACKER_STORE_DSN", "postgres://u:p@localhost/flights")
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			var cfgErr *Error
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *config.Error, got %v", err)
			}
		})
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FLIGHT_TRACKER_STORE_DSN", "clickhouse://default:@localhost:9000/flights")
	t.Setenv("FLIGHT_TRACKER_FEED_BBOX", "45.8,5.9,47.8,10.5")
	t.Setenv("FLIGHT_TRACKER_FEED_TOKEN", "tok")
	t.Setenv("FLIGHT_TRACKER_CACHE_TTL", "30s")
	t.Setenv("FLIGHT_TRACKER_ARCHIVE_S3_BUCKET", "raw-feed")
	t.Setenv("FLIGHT_TRACKER_ARCHIVE_S3_PATH_STYLE", "true")
	t.Setenv("FLIGHT_TRACKER_CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Errorf("cache ttl = %s", cfg.CacheTTL)
	}
	opts := cfg.FeedOptions()
	if opts.Token != "tok" || opts.BBox == nil || opts.BBox.LonMax != 10.5 {
		t.Errorf("feed options = %+v", opts)
	}
	if !cfg.ArchiveEnabled() {
		t.Error("archive not enabled")
	}
	ac := cfg.Archive()
	if ac.Bucket != "raw-feed" || !ac.PathStyle || ac.Prefix != "raw" {
		t.Errorf("archive config = %+v", ac)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Errorf("cors origins = %v", cfg.CORSOrigins)
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Var: "FLIGHT_TRACKER_STORE_DSN", Err: errors.New("required")}
	if err.Error() != "configuration: FLIGHT_TRACKER_STORE_DSN: required" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{LogLevel: "warn", LogFormat: "json"}
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "run_id", "r1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info logged at warn level")
	}
	if !strings.Contains(out, `"run_id":"r1"`) {
		t.Errorf("json output missing attribute: %s", out)
	}
}
