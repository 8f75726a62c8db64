package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var robotsFallbacks = promauto.NewCounter(prometheus.CounterOpts{
	Name: "harvest_robots_fallback_total",
	Help: "robots.txt probes that timed out and were treated as allow-all.",
})

var robotsRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// RobotsCacheTransport retries robots.txt probes that time out and, once
// retries are exhausted, answers with an allow-all document so a slow
// robots endpoint cannot stall a whole year. Other requests pass through.
type RobotsCacheTransport struct {
	base    http.RoundTripper
	backoff []time.Duration

	mu        sync.Mutex
	fallbacks map[string]struct{}
}

// NewRobotsCacheTransport wraps base.
func NewRobotsCacheTransport(base http.RoundTripper) *RobotsCacheTransport {
	return &RobotsCacheTransport{
		base:      base,
		backoff:   robotsRetryBackoff,
		fallbacks: make(map[string]struct{}),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *RobotsCacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if !isRobotsTxtRequest(req) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("robots transport base roundtrip: %w", err)
		}
		return resp, nil
	}
	return t.roundTripWithRetry(req)
}

// Fallbacks lists hosts whose robots.txt was replaced by allow-all.
func (t *RobotsCacheTransport) Fallbacks() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.fallbacks))
	for host := range t.fallbacks {
		out = append(out, host)
	}
	return out
}

func (t *RobotsCacheTransport) roundTripWithRetry(req *http.Request) (*http.Response, error) {
	maxAttempts := len(t.backoff) + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTransientTimeout(err) {
			return nil, fmt.Errorf("robots roundtrip non-transient: %w", err)
		}
		if attempt == maxAttempts-1 {
			t.markFallback(req.URL.Host)
			return syntheticRobotsAllowAllResponse(req), nil
		}
		if err := sleepWithContext(req.Context(), t.backoff[attempt]); err != nil {
			return nil, fmt.Errorf("robots roundtrip backoff sleep: %w", err)
		}
	}
	return nil, errors.New("robots roundtrip exhausted retries")
}

func (t *RobotsCacheTransport) markFallback(host string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.fallbacks[host]; ok {
		return
	}
	t.fallbacks[host] = struct{}{}
	robotsFallbacks.Inc()
}

func isRobotsTxtRequest(req *http.Request) bool {
	return req.URL != nil && strings.EqualFold(req.URL.Path, "/robots.txt")
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff sleep context: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func syntheticRobotsAllowAllResponse(req *http.Request) *http.Response {
	const body = "User-agent: *\nAllow: /"
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func isTransientTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
