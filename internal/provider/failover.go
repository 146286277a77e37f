package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/models"
)

// Failover asks providers in priority order and returns the first answer.
// It serves single-answer lookups where no cross-provider vote is needed.
type Failover struct {
	clients []Client
}

// NewFailover creates a failover over clients, which must already be in priority order.
func NewFailover(clients ...Client) *Failover {
	return &Failover{clients: clients}
}

// Clients returns the underlying clients in priority order.
func (f *Failover) Clients() []Client {
	return f.clients
}

func firstAnswer[T any](ctx context.Context, f *Failover, op string, fn func(ctx context.Context, c Client) (T, error)) (T, error) {
	var zero T
	if len(f.clients) == 0 {
		return zero, fmt.Errorf("%w: %s: no providers", config.ErrAllProvidersFailed, op)
	}

	errs := make([]error, 0, len(f.clients))
	for _, c := range f.clients {
		v, err := fn(ctx, c)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		slog.Warn("provider failed, trying next",
			"op", op,
			"provider", c.Name(),
			"error", err,
		)
	}

	return zero, fmt.Errorf("%w: %s: %w", config.ErrAllProvidersFailed, op, errors.Join(errs...))
}

// ListUTXOs returns the first provider's UTXO set for address.
func (f *Failover) ListUTXOs(ctx context.Context, address string) ([]models.UTXO, error) {
	return firstAnswer(ctx, f, "listUTXOs", func(ctx context.Context, c Client) ([]models.UTXO, error) {
		return c.ListUTXOs(ctx, address)
	})
}

// RawTx returns the first provider's serialization of txid.
func (f *Failover) RawTx(ctx context.Context, txid string) ([]byte, error) {
	return firstAnswer(ctx, f, "rawTx", func(ctx context.Context, c Client) ([]byte, error) {
		return c.RawTx(ctx, txid)
	})
}

// EstimateSmartFee returns the first provider's BTC/kB estimate.
func (f *Failover) EstimateSmartFee(ctx context.Context, targetBlocks int) (decimal.Decimal, error) {
	return firstAnswer(ctx, f, "estimateSmartFee", func(ctx context.Context, c Client) (decimal.Decimal, error) {
		return c.EstimateSmartFee(ctx, targetBlocks)
	})
}

// TipHeight returns the first provider's best height.
func (f *Failover) TipHeight(ctx context.Context) (int64, error) {
	return firstAnswer(ctx, f, "tipHeight", func(ctx context.Context, c Client) (int64, error) {
		return c.TipHeight(ctx)
	})
}
