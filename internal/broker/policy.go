package broker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/tradekar/tradekar/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Retry Policy
// ════════════════════════════════════════════════════════════════════

// RetryPolicy bounds the retry loop around transient adapter failures.
type RetryPolicy struct {
	Budget         int           // retries per call, on top of the first attempt
	InitialBackoff time.Duration // delay before the first retry
	MaxBackoff     time.Duration // backoff growth cap
	Multiplier     float64       // backoff growth factor
	Jitter         float64       // +/- fraction applied to each delay
}

// DefaultRetryPolicy returns the retry behavior used when config leaves it
// unset.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Budget:         3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.25,
	}
}

// nextBackoff grows the delay and applies jitter. Zero stays zero so tests
// can disable sleeping.
func (p RetryPolicy) nextBackoff(current time.Duration) time.Duration {
	if current <= 0 {
		return 0
	}
	next := time.Duration(float64(current) * p.Multiplier)
	if next > p.MaxBackoff {
		next = p.MaxBackoff
	}
	return next
}

// jittered spreads a delay by +/- p.Jitter.
func (p RetryPolicy) jittered(d time.Duration) time.Duration {
	if d <= 0 || p.Jitter <= 0 {
		return d
	}
	spread := 1 + p.Jitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * spread)
}

// ════════════════════════════════════════════════════════════════════
// Pacer
// ════════════════════════════════════════════════════════════════════

// Pacer is a token bucket that spaces outbound vendor calls. A full bucket
// of size burst drains immediately; afterwards one token becomes available
// every perToken interval.
type Pacer struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	perToken   time.Duration
	lastRefill time.Time
}

// NewPacer creates a pacer with the given burst size and per-token refill
// interval.
func NewPacer(burst int, perToken time.Duration) *Pacer {
	return &Pacer{
		tokens:     burst,
		maxTokens:  burst,
		perToken:   perToken,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or the context is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	for {
		p.mu.Lock()
		p.refill()
		if p.tokens > 0 {
			p.tokens--
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// refill credits tokens for elapsed whole periods. Must hold mu.
func (p *Pacer) refill() {
	now := time.Now()
	elapsed := now.Sub(p.lastRefill)
	if elapsed >= p.perToken {
		periods := int(elapsed / p.perToken)
		p.tokens += periods
		if p.tokens > p.maxTokens {
			p.tokens = p.maxTokens
		}
		p.lastRefill = p.lastRefill.Add(time.Duration(periods) * p.perToken)
	}
}

// ════════════════════════════════════════════════════════════════════
// Guard
// ════════════════════════════════════════════════════════════════════

// GuardSettings tunes the circuit breaker wrapped around a live adapter.
type GuardSettings struct {
	MaxRequests  uint32        // probes allowed when half-open
	Interval     time.Duration // counting window reset
	Timeout      time.Duration // open duration before half-open
	MinRequests  uint32        // observations before the breaker may trip
	FailureRatio float64       // failure fraction that trips the breaker
}

// DefaultGuardSettings returns the breaker tuning used for live adapters.
func DefaultGuardSettings() GuardSettings {
	return GuardSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
}

// Guard decorates a Broker with retry, circuit breaking, and request
// pacing so call sites stay policy-free. Vendor limits are paced per call
// class: snapshot reads share one bucket, order mutations another, and
// history candles a third.
type Guard struct {
	inner   Broker
	policy  RetryPolicy
	breaker *gobreaker.CircuitBreaker
	reads   *Pacer
	orders  *Pacer
	history *Pacer
	log     zerolog.Logger
}

// Compile-time conformance check.
var _ Broker = (*Guard)(nil)

// NewGuard wraps inner with the default breaker settings and the given
// retry policy.
func NewGuard(inner Broker, policy RetryPolicy, log zerolog.Logger) *Guard {
	return NewGuardWithSettings(inner, policy, DefaultGuardSettings(), log)
}

// NewGuardWithSettings wraps inner with explicit breaker tuning.
func NewGuardWithSettings(inner Broker, policy RetryPolicy, settings GuardSettings, log zerolog.Logger) *Guard {
	glog := log.With().Str("component", "broker_guard").Str("broker", inner.Name()).Logger()

	gb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= settings.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Caller mistakes say nothing about vendor health.
			switch KindOf(err) {
			case KindNetwork, KindVendorUnavailable, KindInternal:
				return false
			}
			return true
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			glog.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return &Guard{
		inner:   inner,
		policy:  policy,
		breaker: gb,
		reads:   NewPacer(3, time.Second),
		orders:  NewPacer(5, 200*time.Millisecond),
		history: NewPacer(3, time.Second/3),
		log:     glog,
	}
}

// execGuarded paces, runs fn through the breaker, and retries transient
// failures within the policy budget.
func execGuarded[T any](ctx context.Context, g *Guard, pacer *Pacer, op string, fn func() (T, error)) (T, error) {
	var zero T
	backoff := g.policy.InitialBackoff

	for attempt := 0; ; attempt++ {
		if err := pacer.Wait(ctx); err != nil {
			return zero, Wrap(KindNetwork, op, err)
		}

		res, err := g.breaker.Execute(func() (interface{}, error) { return fn() })
		if err == nil {
			if res == nil {
				return zero, nil
			}
			v, ok := res.(T)
			if !ok {
				return zero, E(KindInternal, op, "guard: type assertion failed")
			}
			return v, nil
		}

		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			err = Wrap(KindVendorUnavailable, op, err)
		}
		if !IsRetryable(err) || attempt >= g.policy.Budget {
			return zero, err
		}

		delay := g.policy.jittered(backoff)
		g.log.Debug().
			Str("op", op).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Err(err).
			Msg("transient failure, retrying")

		select {
		case <-time.After(delay):
			backoff = g.policy.nextBackoff(backoff)
		case <-ctx.Done():
			return zero, Wrap(KindNetwork, op, ctx.Err())
		}
	}
}

// ════════════════════════════════════════════════════════════════════
// Decorated Broker Surface
// ════════════════════════════════════════════════════════════════════

// Name reports the wrapped adapter's name.
func (g *Guard) Name() string { return g.inner.Name() }

// Connect passes through without pacing. Auth failures are never retried,
// so the retry loop inside execGuarded does not apply here.
func (g *Guard) Connect(ctx context.Context, cred models.Credential) error {
	return g.inner.Connect(ctx, cred)
}

// Disconnect passes through.
func (g *Guard) Disconnect(ctx context.Context) error { return g.inner.Disconnect(ctx) }

// IsConnected passes through.
func (g *Guard) IsConnected() bool { return g.inner.IsConnected() }

// AccountSnapshot is a guarded read.
func (g *Guard) AccountSnapshot(ctx context.Context) (models.AccountSnapshot, error) {
	return execGuarded(ctx, g, g.reads, "broker.AccountSnapshot", func() (models.AccountSnapshot, error) {
		return g.inner.AccountSnapshot(ctx)
	})
}

// Quote is a guarded read.
func (g *Guard) Quote(ctx context.Context, inst models.Instrument) (models.Quote, error) {
	return execGuarded(ctx, g, g.reads, "broker.Quote", func() (models.Quote, error) {
		return g.inner.Quote(ctx, inst)
	})
}

// HistoricalBars is a guarded read on the history bucket.
func (g *Guard) HistoricalBars(ctx context.Context, inst models.Instrument, tf models.Timeframe, from, to time.Time) ([]models.Bar, error) {
	return execGuarded(ctx, g, g.history, "broker.HistoricalBars", func() ([]models.Bar, error) {
		return g.inner.HistoricalBars(ctx, inst, tf, from, to)
	})
}

// PlaceOrder is a guarded mutation.
func (g *Guard) PlaceOrder(ctx context.Context, intent models.OrderIntent) (string, error) {
	return execGuarded(ctx, g, g.orders, "broker.PlaceOrder", func() (string, error) {
		return g.inner.PlaceOrder(ctx, intent)
	})
}

// ModifyOrder is a guarded mutation.
func (g *Guard) ModifyOrder(ctx context.Context, orderID string, changes models.OrderChanges) error {
	_, err := execGuarded(ctx, g, g.orders, "broker.ModifyOrder", func() (struct{}, error) {
		return struct{}{}, g.inner.ModifyOrder(ctx, orderID, changes)
	})
	return err
}

// CancelOrder is a guarded mutation.
func (g *Guard) CancelOrder(ctx context.Context, orderID string) error {
	_, err := execGuarded(ctx, g, g.orders, "broker.CancelOrder", func() (struct{}, error) {
		return struct{}{}, g.inner.CancelOrder(ctx, orderID)
	})
	return err
}

// Positions is a guarded read.
func (g *Guard) Positions(ctx context.Context) ([]models.Position, error) {
	return execGuarded(ctx, g, g.reads, "broker.Positions", func() ([]models.Position, error) {
		return g.inner.Positions(ctx)
	})
}

// Orders is a guarded read.
func (g *Guard) Orders(ctx context.Context) ([]models.Order, error) {
	return execGuarded(ctx, g, g.reads, "broker.Orders", func() ([]models.Order, error) {
		return g.inner.Orders(ctx)
	})
}

// Trades is a guarded read.
func (g *Guard) Trades(ctx context.Context, since time.Time) ([]models.Trade, error) {
	return execGuarded(ctx, g, g.reads, "broker.Trades", func() ([]models.Trade, error) {
		return g.inner.Trades(ctx, since)
	})
}
