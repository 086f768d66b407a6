// Package resilience wraps the fleet's two flaky-remote-call patterns —
// tripping a circuit on a misbehaving node link and retrying a bounded
// number of times with backoff — over two real implementations,
// github.com/sony/gobreaker/v2 and github.com/cenkalti/backoff/v4, behind
// a small surface the rest of the tree calls directly.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/botfleet/coordinator/pkg/logger"
)

// State mirrors gobreaker's three-state machine without leaking the
// gobreaker type itself into caller signatures.
type State int

const (
	StateClosed State = State(gobreaker.StateClosed)
	StateOpen   State = State(gobreaker.StateOpen)
	// StateHalfOpen is the probing state entered once Timeout elapses after
	// a trip; up to HalfOpenMax requests are let through to test recovery.
	StateHalfOpen State = State(gobreaker.StateHalfOpen)
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Sentinel errors callers compare against with errors.Is, independent of
// whichever breaker library sits behind CircuitBreaker.
var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config tunes a single CircuitBreaker instance.
type Config struct {
	MaxFailures   int           // consecutive failures before tripping open
	Timeout       time.Duration // how long the breaker stays open before probing
	HalfOpenMax   int           // concurrent probe requests allowed while half-open
	OnStateChange func(from, to State)
}

// DefaultConfig is a moderate profile: five consecutive failures trips it,
// a half-minute open period, up to three probes while half-open.
func DefaultConfig() Config {
	return Config{MaxFailures: 5, Timeout: 30 * time.Second, HalfOpenMax: 3}
}

func (c Config) withDefaults() Config {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 3
	}
	return c
}

// CircuitBreaker guards a single flaky dependency (one node's command
// link, one inference probe endpoint). It is safe for concurrent use.
type CircuitBreaker struct {
	gb *gobreaker.CircuitBreaker[any]
}

// New builds a CircuitBreaker from cfg, filling in defaults for any field
// left at its zero value.
func New(cfg Config) *CircuitBreaker {
	cfg = cfg.withDefaults()

	settings := gobreaker.Settings{
		MaxRequests: uint32(cfg.HalfOpenMax),
		// Counts reset on every state transition rather than on a wall-clock
		// interval, so a slow trickle of failures over a long interval still
		// trips the breaker instead of being forgotten between windows.
		Interval: 0,
		Timeout:  cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.MaxFailures)
		},
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			cfg.OnStateChange(State(from), State(to))
		}
	}

	return &CircuitBreaker{gb: gobreaker.NewCircuitBreaker[any](settings)}
}

// State reports the breaker's current state.
func (cb *CircuitBreaker) State() State {
	return State(cb.gb.State())
}

// Execute runs fn under breaker protection, translating gobreaker's trip
// errors to this package's sentinels. ctx is accepted for call-site
// symmetry with Retry; gobreaker itself has no context awareness, so a
// caller that needs a hard deadline should enforce it inside fn.
func (cb *CircuitBreaker) Execute(_ context.Context, fn func() error) error {
	_, err := cb.gb.Execute(func() (any, error) { return nil, fn() })
	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		return ErrCircuitOpen
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return ErrTooManyRequests
	default:
		return err
	}
}

// RetryConfig tunes Retry's exponential backoff.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // 0-1, randomization factor applied to each interval
}

// DefaultRetryConfig is three attempts total, starting at 100ms and
// doubling up to a 10s ceiling.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Multiplier: 2.0, Jitter: 0.1}
}

// Retry calls fn until it succeeds, ctx is canceled, or MaxAttempts is
// reached, sleeping with exponential backoff between attempts.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if cfg.InitialDelay > 0 {
		bo.InitialInterval = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		bo.MaxInterval = cfg.MaxDelay
	}
	if cfg.Multiplier > 0 {
		bo.Multiplier = cfg.Multiplier
	}
	bo.RandomizationFactor = cfg.Jitter
	bo.MaxElapsedTime = 0 // bounded by MaxRetries below, not wall-clock time

	// The first call isn't a "retry", so MaxAttempts=3 allows two retries.
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(cfg.MaxAttempts-1)), ctx)
	return backoff.Retry(fn, policy)
}

// NodeLinkProfile names a preconfigured Config for a per-node command-link
// breaker, tagged with the logger that should record its state changes.
type NodeLinkProfile struct {
	MaxFailures    int
	TimeoutSeconds int
	HalfOpenMax    int
	Log            *logger.Logger
}

func (p NodeLinkProfile) toConfig() Config {
	cfg := Config{MaxFailures: p.MaxFailures, Timeout: time.Duration(p.TimeoutSeconds) * time.Second, HalfOpenMax: p.HalfOpenMax}
	if p.Log != nil {
		cfg.OnStateChange = func(from, to State) {
			p.Log.WithFields(map[string]interface{}{
				"from_state": from.String(),
				"to_state":   to.String(),
			}).Warn("circuit breaker state changed")
		}
	}
	return cfg
}

// DefaultNodeLinkConfig trips after five consecutive command failures to
// one node and probes again after thirty seconds — the balance commandbus
// uses for an ordinary node link.
func DefaultNodeLinkConfig(log *logger.Logger) Config {
	return NodeLinkProfile{MaxFailures: 5, TimeoutSeconds: 30, HalfOpenMax: 1, Log: log}.toConfig()
}

// StrictNodeLinkConfig trips after three failures and stays open for a
// full minute, for links to nodes already flagged unhealthy elsewhere.
func StrictNodeLinkConfig(log *logger.Logger) Config {
	return NodeLinkProfile{MaxFailures: 3, TimeoutSeconds: 60, HalfOpenMax: 1, Log: log}.toConfig()
}

// LenientNodeLinkConfig tolerates ten failures before tripping and
// recovers after fifteen seconds, for links known to be noisy but usually
// fine (e.g. a node on an unreliable network path).
func LenientNodeLinkConfig(log *logger.Logger) Config {
	return NodeLinkProfile{MaxFailures: 10, TimeoutSeconds: 15, HalfOpenMax: 5, Log: log}.toConfig()
}
