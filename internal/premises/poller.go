// Package premises follows recording segments published by the interview
// service, for on-premises mirroring of interview media.
package premises

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	defaultInterval    = 5 * time.Second
	defaultMaxFailures = 5
)

// Segment is one recording file advertised by the service.
type Segment struct {
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type segmentsResponse struct {
	Segments []Segment `json:"segments"`
}

// Option is a functional option for configuring a Poller.
type Option func(*Poller)

// WithInterval sets the polling cadence.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

// WithMaxFailures bounds the consecutive request failures tolerated
// before the poller gives up.
func WithMaxFailures(n int) Option {
	return func(p *Poller) { p.maxFailures = n }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Poller) { p.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// Poller fetches the segment listing on a fixed interval and emits each
// segment once, in upload order. A transient fetch failure is retried on
// the next tick; after the failure bound is hit the poller stops and the
// last error is reported via Err.
type Poller struct {
	baseURL     string
	interval    time.Duration
	maxFailures int
	client      *http.Client
	logger      *slog.Logger

	segments chan Segment

	mu       sync.Mutex
	lastSeen time.Time
	err      error
}

// NewPoller creates a poller against the service at baseURL.
func NewPoller(baseURL string, opts ...Option) *Poller {
	p := &Poller{
		baseURL:     baseURL,
		interval:    defaultInterval,
		maxFailures: defaultMaxFailures,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      slog.Default(),
		segments:    make(chan Segment, 16),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Segments returns the channel new segments are delivered on. It is
// closed when Run returns.
func (p *Poller) Segments() <-chan Segment { return p.segments }

// Err returns the error that stopped the poller, if any.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Run polls until the context is cancelled or the consecutive failure
// bound is exceeded. It owns and closes the segments channel.
func (p *Poller) Run(ctx context.Context) error {
	defer close(p.segments)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	failures := 0
	for {
		if err := p.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			p.logger.Warn("segment poll failed", "attempt", failures, "max", p.maxFailures, "error", err)
			if failures >= p.maxFailures {
				p.setErr(err)
				return fmt.Errorf("premises: giving up after %d consecutive failures: %w", failures, err)
			}
		} else {
			failures = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// poll fetches the listing once and emits unseen segments.
func (p *Poller) poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/segments", nil)
	if err != nil {
		return fmt.Errorf("premises: build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("premises: fetch segments: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("premises: fetch segments: unexpected status %d", resp.StatusCode)
	}

	var listing segmentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return fmt.Errorf("premises: decode segments: %w", err)
	}

	for _, seg := range listing.Segments {
		p.mu.Lock()
		seen := !seg.UploadedAt.After(p.lastSeen)
		if !seen {
			p.lastSeen = seg.UploadedAt
		}
		p.mu.Unlock()
		if seen {
			continue
		}

		select {
		case p.segments <- seg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *Poller) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}
