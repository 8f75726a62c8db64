package crawler

import (
	"math"
	"time"
)

// AttemptPhase is the state of a single URL fetch as it moves through retries.
type AttemptPhase string

// Fetch attempt phases.
const (
	PhasePending   AttemptPhase = "pending"
	PhaseRetrying  AttemptPhase = "retrying"
	PhaseSucceeded AttemptPhase = "succeeded"
	PhaseFailed    AttemptPhase = "failed"
)

// Outcome classifies the result of one network attempt.
type Outcome int

// Attempt outcomes.
const (
	OutcomeSuccess Outcome = iota
	OutcomeTransient
	OutcomeThrottled
	OutcomePermanent
)

// AttemptState is the value carried between transitions. Attempt counts the
// attempts already made; Kind is set once Phase is PhaseFailed.
type AttemptState struct {
	Phase     AttemptPhase
	Attempt   int
	Kind      FailureKind
	Throttled bool
}

// Terminal reports whether no further attempt will be made.
func (s AttemptState) Terminal() bool {
	return s.Phase == PhaseSucceeded || s.Phase == PhaseFailed
}

// ExponentialRetryPolicy drives the attempt state machine with a deterministic backoff.
type ExponentialRetryPolicy struct {
	maxAttempts        int
	baseDelay          time.Duration
	maxDelay           time.Duration
	throttleMultiplier int
}

// RetryOptions overrides the policy defaults; zero values keep the default.
type RetryOptions struct {
	MaxAttempts        int
	BaseDelay          time.Duration
	MaxDelay           time.Duration
	ThrottleMultiplier int
}

// NewExponentialRetryPolicy builds a policy with sane defaults.
func NewExponentialRetryPolicy(opts RetryOptions) *ExponentialRetryPolicy {
	p := &ExponentialRetryPolicy{
		maxAttempts:        3,
		baseDelay:          250 * time.Millisecond,
		maxDelay:           5 * time.Second,
		throttleMultiplier: 4,
	}
	if opts.MaxAttempts > 0 {
		p.maxAttempts = opts.MaxAttempts
	}
	if opts.BaseDelay > 0 {
		p.baseDelay = opts.BaseDelay
	}
	if opts.MaxDelay > 0 {
		p.maxDelay = opts.MaxDelay
	}
	if opts.ThrottleMultiplier > 0 {
		p.throttleMultiplier = opts.ThrottleMultiplier
	}
	return p
}

// MaxAttempts returns the attempt bound.
func (p *ExponentialRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Start returns the initial state for a new fetch.
func (p *ExponentialRetryPolicy) Start() AttemptState {
	return AttemptState{Phase: PhasePending}
}

// Next applies the outcome of the attempt just made to s.
func (p *ExponentialRetryPolicy) Next(s AttemptState, outcome Outcome) AttemptState {
	if s.Terminal() {
		return s
	}
	next := AttemptState{Attempt: s.Attempt + 1}
	switch outcome {
	case OutcomeSuccess:
		next.Phase = PhaseSucceeded
	case OutcomePermanent:
		next.Phase = PhaseFailed
		next.Kind = Permanent
	default:
		next.Throttled = outcome == OutcomeThrottled
		if next.Attempt >= p.maxAttempts {
			next.Phase = PhaseFailed
			next.Kind = Transient
		} else {
			next.Phase = PhaseRetrying
		}
	}
	return next
}

// Backoff returns the wait before the attempt that follows s. It depends only
// on the attempt count and whether the last response was a throttle.
func (p *ExponentialRetryPolicy) Backoff(s AttemptState) time.Duration {
	if s.Phase != PhaseRetrying || s.Attempt <= 0 {
		return 0
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(s.Attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	if s.Throttled {
		delay *= float64(p.throttleMultiplier)
	}
	return time.Duration(delay)
}
