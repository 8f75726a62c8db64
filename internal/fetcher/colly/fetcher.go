// Package collyfetcher implements crawler.Transport using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/crawler"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxIdleConnsPerHost should track the global fetch concurrency so the
	// worker pool is not throttled by the connection pool.
	MaxIdleConnsPerHost int
}

// Transport performs single GETs through a cloned Colly collector. Retries,
// pacing and caching live in crawler.PageFetcher.
type Transport struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Transport.
func New(cfg Config) *Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	// Every status reaches OnResponse so the retry policy can classify it.
	c.ParseHTTPErrorResponse = true
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(NewRobotsCacheTransport(newHTTPTransport(cfg.MaxIdleConnsPerHost)))
	c.SetRequestTimeout(cfg.Timeout)

	return &Transport{cfg: cfg, baseCollector: c}
}

// Get fetches rawURL once. Non-2xx responses are returned, not treated as
// errors. Requests refused before any network I/O (robots.txt, bad URL) wrap
// crawler.ErrPermanentTransport.
func (t *Transport) Get(ctx context.Context, rawURL string) (crawler.Response, error) {
	var (
		result   crawler.Response
		fetchErr error
	)
	collector := t.baseCollector.Clone()
	// Requests carry ctx so a cancel aborts the in-flight HTTP exchange too.
	collector.Context = ctx
	t.configureCollectorHooks(collector, &result, &fetchErr)

	if err := runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return crawler.Response{}, err
	}
	return result, nil
}

func (t *Transport) configureCollectorHooks(hooks collectorHooks, result *crawler.Response, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml")
	})

	hooks.OnResponse(func(r *colly.Response) {
		resp := crawler.Response{
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
		if r.Request != nil && r.Request.URL != nil {
			resp.URL = r.Request.URL.String()
		}
		if r.Headers != nil {
			resp.Headers = r.Headers.Clone()
		}
		*result = resp
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if ctx.Err() != nil {
			return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
		}
		if err != nil {
			if isRefusal(err) {
				return fmt.Errorf("colly visit %s: %w", rawURL, errors.Join(crawler.ErrPermanentTransport, err))
			}
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// isRefusal reports collector errors that no retry can fix.
func isRefusal(err error) bool {
	switch {
	case errors.Is(err, colly.ErrRobotsTxtBlocked),
		errors.Is(err, colly.ErrForbiddenDomain),
		errors.Is(err, colly.ErrForbiddenURL),
		errors.Is(err, colly.ErrMissingURL),
		errors.Is(err, colly.ErrNoURLFiltersMatch):
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Op == "parse"
}

func newHTTPTransport(idlePerHost int) *http.Transport {
	if idlePerHost <= 0 {
		idlePerHost = http.DefaultMaxIdleConnsPerHost
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          max(100, idlePerHost),
		MaxIdleConnsPerHost:   idlePerHost,
		IdleConnTimeout:       90 * time.Second,
	}
}
