package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const openSkyPayload = `{
	"time": 1760616000,
	"states": [
		["3c6444", "DLH9LF  ", "Germany", 1760615995, 1760615999, 8.5622, 50.0379, 1127.76, false, 97.23, 248.5, -3.9, null, 1181.1, "1000", false, 0],
		["a0b1c2", null, "United States", null, 1760615990, null, 40.1, null, true, 0, null, null, null, null, null, false, 0]
	]
}`

func TestDecodeOpenSkyVectors(t *testing.T) {
	snap, err := Decode([]byte(openSkyPayload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(snap.Records))
	}
	if snap.UpstreamTime == nil || snap.UpstreamTime.Unix() != 1760616000 {
		t.Errorf("upstream time = %v", snap.UpstreamTime)
	}

	rec := snap.Records[0]
	if rec["icao24"] != "3c6444" {
		t.Errorf("icao24 = %v", rec["icao24"])
	}
	if rec["callsign"] != "DLH9LF  " {
		t.Errorf("callsign = %q, want untrimmed upstream value", rec["callsign"])
	}
	if n, ok := rec["latitude"].(json.Number); !ok || n.String() != "50.0379" {
		t.Errorf("latitude = %#v, want json.Number", rec["latitude"])
	}
	if rec["on_ground"] != false {
		t.Errorf("on_ground = %v", rec["on_ground"])
	}
	if _, ok := rec["category"]; ok {
		t.Error("category should be absent from a 17-element vector")
	}

	if snap.Records[1]["longitude"] != nil {
		t.Errorf("expected nil longitude, got %v", snap.Records[1]["longitude"])
	}
}

func TestDecodeShapes(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    int
		wantErr bool
	}{
		{name: "object states", payload: `{"states":[{"icao":"abc","lat":1,"lon":2}]}`, want: 1},
		{name: "bare array", payload: `[{"hex":"abc"},{"hex":"def"}]`, want: 2},
		{name: "null states", payload: `{"time":1,"states":null}`, want: 0},
		{name: "empty array", payload: `[]`, want: 0},
		{name: "null elements skipped", payload: `[null,{"hex":"abc"}]`, want: 1},
		{name: "extra vector fields ignored", payload: `{"states":[["abc",null,null,null,null,1,2,null,false,null,null,null,null,null,null,false,0,3,"extra"]]}`, want: 1},
		{name: "missing states", payload: `{"error":"rate limited"}`, wantErr: true},
		{name: "not json", payload: `<html>502</html>`, wantErr: true},
		{name: "truncated", payload: `{"states":[["abc",`, wantErr: true},
		{name: "scalar element", payload: `[1,2,3]`, wantErr: true},
		{name: "empty body", payload: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := Decode([]byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrUnavailable) {
					t.Fatalf("expected ErrUnavailable, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(snap.Records) != tt.want {
				t.Errorf("expected %d records, got %d", tt.want, len(snap.Records))
			}
		})
	}
}

func TestHTTPSourceFetch(t *testing.T) {
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(openSkyPayload))
	}))
	defer srv.Close()

	fixed := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	src := &HTTPSource{
		URL:   srv.URL + "/api/states/all",
		Token: "secret",
		BBox:  &BoundingBox{LatMin: 45.8, LonMin: 5.9, LatMax: 47.8, LonMax: 10.5},
		now:   func() time.Time { return fixed },
	}

	snap, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(snap.Records) != 2 {
		t.Errorf("expected 2 records, got %d", len(snap.Records))
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotQuery != "lamax=47.8&lamin=45.8&lomax=10.5&lomin=5.9" {
		t.Errorf("query = %q", gotQuery)
	}
	if !snap.FetchedAt.Equal(fixed) {
		t.Errorf("fetched_at = %v", snap.FetchedAt)
	}
	if len(snap.Raw) == 0 {
		t.Error("raw payload not kept")
	}
}

func TestHTTPSourceUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("not json"))
			},
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			timeout: 50 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			src := &HTTPSource{URL: srv.URL, Timeout: tt.timeout}
			_, err := src.Fetch(context.Background())
			if !errors.Is(err, ErrUnavailable) {
				t.Fatalf("expected ErrUnavailable, got %v", err)
			}
		})
	}
}

func TestHTTPSourceUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := (&HTTPSource{URL: addr}).Fetch(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "states.json")
	if err := os.WriteFile(path, []byte(openSkyPayload), 0o600); err != nil {
		t.Fatal(err)
	}

	src, err := NewSource(path, Options{})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	snap, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(snap.Records) != 2 {
		t.Errorf("expected 2 records, got %d", len(snap.Records))
	}

	missing := &FileSource{Path: filepath.Join(t.TempDir(), "missing.json")}
	if _, err := missing.Fetch(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for missing file, got %v", err)
	}
}

func TestNewSource(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{url: DefaultURL, want: "*feed.HTTPSource"},
		{url: "nats://localhost:4222/states.snapshot", want: "*feed.NATSSource"},
		{url: "file:///var/lib/states.json", want: "*feed.FileSource"},
		{url: "ftp://example.com/states", wantErr: true},
		{url: "nats://localhost:4222", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			src, err := NewSource(tt.url, Options{})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("new source: %v", err)
			}
			if got := typeName(src); got != tt.want {
				t.Errorf("source type = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNATSSourceFromURL(t *testing.T) {
	src, err := NewNATSSource("nats://s3cret@broker:4222/opensky.states", "", time.Second)
	if err != nil {
		t.Fatalf("new nats source: %v", err)
	}
	if src.Server != "nats://broker:4222" {
		t.Errorf("server = %q", src.Server)
	}
	if src.Subject != "opensky.states" {
		t.Errorf("subject = %q", src.Subject)
	}
	if src.Token != "s3cret" {
		t.Errorf("token = %q", src.Token)
	}
}

func TestNATSSourceUnreachable(t *testing.T) {
	src, err := NewNATSSource("nats://127.0.0.1:1/opensky.states", "", 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.Fetch(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *HTTPSource:
		return "*feed.HTTPSource"
	case *NATSSource:
		return "*feed.NATSSource"
	case *FileSource:
		return "*feed.FileSource"
	}
	return "unknown"
}
