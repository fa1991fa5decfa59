package feed

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSource asks a snapshot publisher for the current state over NATS
// request/reply. It connects per fetch and closes afterwards.
type NATSSource struct {
	Server  string // e.g. nats://localhost:4222
	Subject string
	Token   string
	Timeout time.Duration

	now func() time.Time
}

// NewNATSSource builds a source from nats://host:port/subject.
func NewNATSSource(rawURL, token string, timeout time.Duration) (*NATSSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse nats url: %w", err)
	}
	subject := strings.Trim(u.Path, "/")
	if subject == "" {
		return nil, fmt.Errorf("nats url %q has no subject", rawURL)
	}
	if token == "" && u.User != nil {
		token = u.User.Username()
	}

	server := url.URL{Scheme: u.Scheme, Host: u.Host}
	return &NATSSource{
		Server:  server.String(),
		Subject: subject,
		Token:   token,
		Timeout: timeout,
	}, nil
}

func (s *NATSSource) Name() string { return s.Server + "/" + s.Subject }

func (s *NATSSource) Fetch(ctx context.Context) (Snapshot, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := []nats.Option{
		nats.Name("flight_tracker"),
		nats.Timeout(timeout),
		nats.NoReconnect(),
	}
	if s.Token != "" {
		opts = append(opts, nats.Token(s.Token))
	}

	nc, err := nats.Connect(s.Server, opts...)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: connect %s: %v", ErrUnavailable, s.Server, err)
	}
	defer nc.Close()

	msg, err := nc.RequestWithContext(ctx, s.Subject, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: request %s: %v", ErrUnavailable, s.Subject, err)
	}

	snap, err := Decode(msg.Data)
	if err != nil {
		return snap, err
	}
	snap.FetchedAt = nowOr(s.now)
	snap.Source = s.Name()
	return snap, nil
}
