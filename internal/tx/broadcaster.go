package tx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Fantasim/btcoracle/internal/config"
)

// Broadcaster broadcasts a raw signed transaction to the network.
type Broadcaster interface {
	Broadcast(ctx context.Context, rawHex string) (txHash string, err error)
}

// NamedBroadcaster is a Broadcaster that identifies itself in logs.
type NamedBroadcaster interface {
	Broadcaster
	Name() string
}

// FallbackBroadcaster tries providers in order, moving to the next one on
// network or server errors.
type FallbackBroadcaster struct {
	providers []NamedBroadcaster
}

// NewFallbackBroadcaster creates a broadcaster over providers in priority order.
func NewFallbackBroadcaster(providers ...NamedBroadcaster) *FallbackBroadcaster {
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	slog.Info("BTC broadcaster created",
		"providerCount", len(providers),
		"providers", names,
	)
	return &FallbackBroadcaster{providers: providers}
}

// Broadcast sends the raw transaction hex to the BTC network. A rejection
// of the transaction itself is final and is not tried on other providers.
func (b *FallbackBroadcaster) Broadcast(ctx context.Context, rawHex string) (string, error) {
	slog.Info("broadcasting BTC transaction", "hexLength", len(rawHex))

	var errs []error

	for i, p := range b.providers {
		txHash, err := p.Broadcast(ctx, rawHex)
		if err == nil {
			slog.Info("BTC broadcast successful",
				"provider", p.Name(),
				"txHash", txHash,
			)
			return txHash, nil
		}

		if errors.Is(err, config.ErrTxRejected) {
			slog.Error("BTC broadcast rejected (bad transaction)",
				"provider", p.Name(),
				"error", err,
			)
			return "", fmt.Errorf("%w: %w", config.ErrTransactionFailed, err)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		slog.Warn("BTC broadcast failed, trying next provider",
			"provider", p.Name(),
			"providerIndex", i,
			"remaining", len(b.providers)-i-1,
			"error", err,
		)
	}

	return "", fmt.Errorf("%w: all providers failed: %w", config.ErrTransactionFailed, errors.Join(errs...))
}
