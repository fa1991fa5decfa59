package feed

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Source fetches one snapshot per call. Implementations hold no connection
// between calls.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (Snapshot, error)
}

// Options configures a source built by NewSource.
type Options struct {
	Token   string        // Bearer token (HTTP) or auth token (NATS).
	Timeout time.Duration // Upper bound for one fetch.
	BBox    *BoundingBox  // HTTP only.
}

// NewSource picks a source implementation from the URL scheme:
// http(s) for the OpenSky REST API, nats for request/reply, and file or a
// bare path for replaying a saved payload.
func NewSource(rawURL string, opts Options) (Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return &HTTPSource{
			URL:     rawURL,
			Token:   opts.Token,
			Timeout: opts.Timeout,
			BBox:    opts.BBox,
		}, nil
	case "nats", "tls":
		return NewNATSSource(rawURL, opts.Token, opts.Timeout)
	case "file":
		return &FileSource{Path: u.Path}, nil
	case "":
		return &FileSource{Path: rawURL}, nil
	default:
		return nil, fmt.Errorf("unsupported feed scheme %q", u.Scheme)
	}
}

// FileSource replays a payload saved on disk.
type FileSource struct {
	Path string
	now  func() time.Time
}

func (s *FileSource) Name() string { return "file:" + s.Path }

func (s *FileSource) Fetch(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: read %s: %v", ErrUnavailable, s.Path, err)
	}
	snap, err := Decode(raw)
	if err != nil {
		return snap, err
	}
	snap.FetchedAt = nowOr(s.now)
	snap.Source = s.Name()
	return snap, nil
}

func nowOr(fn func() time.Time) time.Time {
	if fn != nil {
		return fn().UTC()
	}
	return time.Now().UTC()
}
