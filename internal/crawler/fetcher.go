package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// PageFetcher issues throttled GETs with retry and an optional read-through cache.
type PageFetcher struct {
	transport Transport
	cache     Cache
	hasher    Hasher
	limiter   RateLimiter
	policy    *ExponentialRetryPolicy
	pauser    pauseController
	clock     Clock
	cfg       FetcherConfig
	logger    *zap.Logger
}

// FetcherOption customizes a PageFetcher.
type FetcherOption func(*PageFetcher)

// WithCache wires a response cache; keys are hasher digests of normalized URLs.
func WithCache(cache Cache, hasher Hasher) FetcherOption {
	return func(f *PageFetcher) {
		f.cache = cache
		f.hasher = hasher
	}
}

// WithRateLimiter throttles every network attempt through limiter.
func WithRateLimiter(limiter RateLimiter) FetcherOption {
	return func(f *PageFetcher) {
		f.limiter = limiter
	}
}

// WithFetcherClock overrides the clock used for cache timestamps.
func WithFetcherClock(clock Clock) FetcherOption {
	return func(f *PageFetcher) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// WithFetcherLogger sets the logger.
func WithFetcherLogger(logger *zap.Logger) FetcherOption {
	return func(f *PageFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func withPauser(p pauseController) FetcherOption {
	return func(f *PageFetcher) {
		f.pauser = p
	}
}

// NewPageFetcher builds a PageFetcher over transport.
func NewPageFetcher(transport Transport, cfg FetcherConfig, opts ...FetcherOption) *PageFetcher {
	f := &PageFetcher{
		transport: transport,
		policy:    NewExponentialRetryPolicy(cfg.Retry),
		pauser:    &timerPauseController{},
		clock:     systemClock{},
		cfg:       cfg,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the body at rawURL. Failures are *NetworkError, or wrap
// ErrCanceled when ctx ends first.
func (f *PageFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return Page{}, &NetworkError{Kind: Permanent, URL: rawURL, Err: err}
	}
	if ctx.Err() != nil {
		return Page{}, canceledError(ctx, normalized)
	}
	start := time.Now()

	key := f.cacheKey(normalized)
	if key != "" {
		if entry, ok := f.lookup(ctx, key); ok {
			return Page{
				URL:        entry.URL,
				StatusCode: entry.StatusCode,
				Body:       entry.Body,
				FromCache:  true,
				Duration:   time.Since(start),
			}, nil
		}
	}

	resp, state, lastErr := f.attempt(ctx, normalized)
	if ctx.Err() != nil {
		return Page{}, canceledError(ctx, normalized)
	}
	if state.Phase != PhaseSucceeded {
		FetchFailures.WithLabelValues(string(state.Kind)).Inc()
		return Page{}, &NetworkError{
			Kind:       state.Kind,
			URL:        normalized,
			StatusCode: resp.StatusCode,
			Attempts:   state.Attempt,
			Err:        lastErr,
		}
	}

	page := Page{
		URL:        normalized,
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
		Attempts:   state.Attempt,
		Duration:   time.Since(start),
	}
	if key != "" {
		f.store(ctx, key, resp, normalized)
	}
	return page, nil
}

// abandon marks a fetch that could not start its next attempt as a transient failure.
func abandon(state AttemptState) AttemptState {
	state.Phase = PhaseFailed
	state.Kind = Transient
	return state
}

// attempt runs the retry state machine until it reaches a terminal phase or ctx ends.
func (f *PageFetcher) attempt(ctx context.Context, url string) (Response, AttemptState, error) {
	var (
		resp    Response
		lastErr error
	)
	state := f.policy.Start()
	for !state.Terminal() {
		if err := f.pauser.Pause(ctx, f.cfg.Delay+f.policy.Backoff(state)); err != nil {
			return resp, abandon(state), err
		}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, url); err != nil {
				return resp, abandon(state), fmt.Errorf("rate limiter: %w", err)
			}
		}
		FetchAttempts.Inc()
		resp, lastErr = f.transport.Get(ctx, url)
		if ctx.Err() != nil {
			return resp, state, ctx.Err()
		}
		outcome := classifyAttempt(resp, lastErr)
		if outcome == OutcomeThrottled {
			RateLimitHits.Inc()
		}
		if lastErr == nil && outcome != OutcomeSuccess {
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		state = f.policy.Next(state, outcome)
		if state.Phase == PhaseRetrying {
			FetchRetries.Inc()
			f.logger.Debug("retrying fetch",
				zap.String("url", url),
				zap.Int("attempt", state.Attempt),
				zap.Int("status", resp.StatusCode),
				zap.Duration("backoff", f.policy.Backoff(state)),
				zap.Error(lastErr),
			)
		}
	}
	if state.Phase == PhaseSucceeded {
		lastErr = nil
	}
	return resp, state, lastErr
}

func classifyAttempt(resp Response, err error) Outcome {
	if err != nil {
		if errors.Is(err, ErrPermanentTransport) {
			return OutcomePermanent
		}
		return OutcomeTransient
	}
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return OutcomeSuccess
	case code == http.StatusTooManyRequests:
		return OutcomeThrottled
	case code == http.StatusRequestTimeout, code >= 500:
		return OutcomeTransient
	default:
		return OutcomePermanent
	}
}

func (f *PageFetcher) cacheKey(normalized string) string {
	if !f.cfg.CacheEnabled || f.cache == nil || f.hasher == nil {
		return ""
	}
	key, err := f.hasher.Hash([]byte(normalized))
	if err != nil {
		f.logger.Warn("cache key hash failed", zap.String("url", normalized), zap.Error(err))
		return ""
	}
	return key
}

func (f *PageFetcher) lookup(ctx context.Context, key string) (CacheEntry, bool) {
	entry, ok, err := f.cache.Get(ctx, key)
	if err != nil {
		f.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		ok = false
	}
	if ok {
		CacheLookups.WithLabelValues("hit").Inc()
	} else {
		CacheLookups.WithLabelValues("miss").Inc()
	}
	return entry, ok
}

func (f *PageFetcher) store(ctx context.Context, key string, resp Response, normalized string) {
	entry := CacheEntry{
		URL:        normalized,
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
		FetchedAt:  f.clock.Now(),
	}
	if resp.Headers != nil {
		entry.ETag = resp.Headers.Get("ETag")
	}
	if err := f.cache.Put(ctx, key, entry); err != nil {
		f.logger.Warn("cache write failed", zap.String("url", normalized), zap.Error(err))
	}
}

func canceledError(ctx context.Context, url string) error {
	return fmt.Errorf("fetch %s: %w", url, errors.Join(ErrCanceled, ctx.Err()))
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
