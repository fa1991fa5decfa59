package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultURL is the public OpenSky Network all-states endpoint.
const DefaultURL = "https://opensky-network.org/api/states/all"

// maxPayload caps one snapshot body. A full-world OpenSky response is a few MB.
const maxPayload = 64 << 20

// BoundingBox restricts an OpenSky query to a lat/lon rectangle.
type BoundingBox struct {
	LatMin, LonMin, LatMax, LonMax float64
}

func (b BoundingBox) apply(q url.Values) {
	q.Set("lamin", strconv.FormatFloat(b.LatMin, 'f', -1, 64))
	q.Set("lomin", strconv.FormatFloat(b.LonMin, 'f', -1, 64))
	q.Set("lamax", strconv.FormatFloat(b.LatMax, 'f', -1, 64))
	q.Set("lomax", strconv.FormatFloat(b.LonMax, 'f', -1, 64))
}

// HTTPSource polls an OpenSky-compatible REST endpoint.
type HTTPSource struct {
	URL     string
	Token   string // Optional bearer token.
	Timeout time.Duration
	BBox    *BoundingBox
	Client  *http.Client

	now func() time.Time
}

func (s *HTTPSource) Name() string { return s.URL }

// Fetch performs one GET. Transport errors, timeouts, non-2xx statuses and
// undecodable bodies are all reported as ErrUnavailable.
func (s *HTTPSource) Fetch(ctx context.Context) (Snapshot, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	u, err := url.Parse(s.URL)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: parse url: %v", ErrUnavailable, err)
	}
	if s.BBox != nil {
		q := u.Query()
		s.BBox.apply(q)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Snapshot{}, fmt.Errorf("%w: %s returned %d", ErrUnavailable, u.Host, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload))
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	snap, err := Decode(raw)
	if err != nil {
		return snap, err
	}
	snap.FetchedAt = nowOr(s.now)
	snap.Source = s.Name()
	return snap, nil
}
