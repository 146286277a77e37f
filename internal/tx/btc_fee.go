package tx

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/models"
)

// FeeSource returns a fee rate in BTC per kilobyte for a confirmation target.
type FeeSource interface {
	EstimateSmartFee(ctx context.Context, targetBlocks int) (decimal.Decimal, error)
}

// FeeEstimator turns a provider's BTC/kB estimate into a clamped sat/byte rate.
type FeeEstimator struct {
	source  FeeSource
	network models.Network
}

// NewFeeEstimator creates an estimator for network backed by source.
func NewFeeEstimator(source FeeSource, network models.Network) *FeeEstimator {
	slog.Info("fee estimator created", "network", network, "targetBlocks", config.FeeTargetBlocks)
	return &FeeEstimator{source: source, network: network}
}

// FeeRate returns the next-block fee rate in sat/byte. Falls back to
// FallbackFeeRateSatVB when no provider can estimate.
func (fe *FeeEstimator) FeeRate(ctx context.Context) (int64, error) {
	btcPerKB, err := fe.source.EstimateSmartFee(ctx, config.FeeTargetBlocks)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		slog.Warn("fee estimation failed, using fallback",
			"error", err,
			"fallbackFeeRate", config.FallbackFeeRateSatVB,
		)
		return fe.clamp(config.FallbackFeeRateSatVB), nil
	}

	rate := SatPerByte(btcPerKB)
	clamped := fe.clamp(rate)

	slog.Info("fee rate estimated",
		"btcPerKB", btcPerKB.String(),
		"satPerByte", rate,
		"clamped", clamped,
		"network", fe.network,
	)

	return clamped, nil
}

// SatPerByte converts BTC/kB to sat/byte, rounding up.
func SatPerByte(btcPerKB decimal.Decimal) int64 {
	// BTC/kB * 1e8 sat/BTC / 1000 B/kB
	return btcPerKB.Shift(5).Ceil().IntPart()
}

func (fe *FeeEstimator) clamp(rate int64) int64 {
	if rate < config.MinFeeRateSatVB {
		rate = config.MinFeeRateSatVB
	}
	if fe.network.IsTest() && rate > config.TestnetMaxFeeRateSatVB {
		rate = config.TestnetMaxFeeRateSatVB
	}
	return rate
}
