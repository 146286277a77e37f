package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/models"
)

// Guard bounds every call to one provider: rate limit, circuit breaker,
// per-call timeout, and retries of transient failures up to the retry budget.
type Guard struct {
	name        string
	timeout     time.Duration
	retryBudget int
	limiter     *RateLimiter
	breaker     *CircuitBreaker
}

// NewGuard builds the guard for a provider configuration.
func NewGuard(cfg models.ProviderConfig, onChange StateChangeFunc) *Guard {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.ProviderDefaultTimeout
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = config.ProviderDefaultRPS
	}
	return &Guard{
		name:        cfg.Name,
		timeout:     timeout,
		retryBudget: cfg.RetryBudget,
		limiter:     NewRateLimiter(cfg.Name, rps),
		breaker:     NewCircuitBreaker(cfg.Name, config.CircuitBreakerThreshold, config.CircuitBreakerCooldown, onChange),
	}
}

// Breaker exposes the guard's circuit breaker for health reporting.
func (g *Guard) Breaker() *CircuitBreaker { return g.breaker }

// Do runs fn under the guard. Not-found, unsupported and rejected-transaction
// answers are valid responses and do not count against the breaker.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= g.retryBudget; attempt++ {
		if !g.breaker.Allow() {
			return fmt.Errorf("%s: %w", g.name, config.ErrCircuitOpen)
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait for %s: %w", g.name, err)
		}

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		err := fn(callCtx)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()

		if err == nil || isAnswer(err) {
			g.breaker.RecordSuccess()
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if timedOut {
			err = config.NewTransientError(fmt.Errorf("%w: %s %s after %s", config.ErrProviderTimeout, g.name, op, g.timeout))
		}

		g.breaker.RecordFailure()
		lastErr = err

		if !config.IsTransient(err) || attempt == g.retryBudget {
			break
		}

		delay := config.GetRetryAfter(err)
		if delay == 0 {
			delay = config.ProviderRetryDelay
		}

		slog.Warn("provider call failed, retrying",
			"provider", g.name,
			"op", op,
			"attempt", attempt+1,
			"retryBudget", g.retryBudget,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

func isAnswer(err error) bool {
	return errors.Is(err, config.ErrTxNotFound) ||
		errors.Is(err, config.ErrUnsupported) ||
		errors.Is(err, config.ErrTxRejected)
}

// guarded wraps a Client so that every call goes through its Guard.
type guarded struct {
	inner Client
	guard *Guard
}

// WithGuard wraps c so every call is bounded by g.
func WithGuard(c Client, g *Guard) Client {
	return &guarded{inner: c, guard: g}
}

func guardValue[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (c *guarded) Name() string              { return c.inner.Name() }
func (c *guarded) Kind() models.ProviderKind { return c.inner.Kind() }

func (c *guarded) FetchTx(ctx context.Context, txHash string) (*Payload, error) {
	return guardValue(ctx, c.guard, "fetchTx", func(ctx context.Context) (*Payload, error) {
		return c.inner.FetchTx(ctx, txHash)
	})
}

func (c *guarded) TipHeight(ctx context.Context) (int64, error) {
	return guardValue(ctx, c.guard, "tipHeight", c.inner.TipHeight)
}

func (c *guarded) PrevOutAddress(ctx context.Context, txid string, vout uint32) (string, error) {
	return guardValue(ctx, c.guard, "prevOutAddress", func(ctx context.Context) (string, error) {
		return c.inner.PrevOutAddress(ctx, txid, vout)
	})
}

func (c *guarded) RawTx(ctx context.Context, txid string) ([]byte, error) {
	return guardValue(ctx, c.guard, "rawTx", func(ctx context.Context) ([]byte, error) {
		return c.inner.RawTx(ctx, txid)
	})
}

func (c *guarded) ListUTXOs(ctx context.Context, address string) ([]models.UTXO, error) {
	return guardValue(ctx, c.guard, "listUTXOs", func(ctx context.Context) ([]models.UTXO, error) {
		return c.inner.ListUTXOs(ctx, address)
	})
}

func (c *guarded) EstimateSmartFee(ctx context.Context, targetBlocks int) (decimal.Decimal, error) {
	return guardValue(ctx, c.guard, "estimateSmartFee", func(ctx context.Context) (decimal.Decimal, error) {
		return c.inner.EstimateSmartFee(ctx, targetBlocks)
	})
}

// Broadcast is never retried: a resubmission after an ambiguous failure is
// left to the failover across providers.
func (c *guarded) Broadcast(ctx context.Context, rawHex string) (string, error) {
	g := *c.guard
	g.retryBudget = 0
	return guardValue(ctx, &g, "broadcast", func(ctx context.Context) (string, error) {
		return c.inner.Broadcast(ctx, rawHex)
	})
}

// Shutdown releases the wrapped client's resources, if it holds any.
func (c *guarded) Shutdown() {
	if s, ok := c.inner.(interface{ Shutdown() }); ok {
		s.Shutdown()
	}
}
