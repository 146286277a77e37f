package tx

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/Fantasim/btcoracle/internal/config"
)

// PlanResult is the split of the spent UTXO value into send, change and fee.
type PlanResult struct {
	Send      *big.Int
	Change    *big.Int
	Fee       *big.Int
	SizeBytes int64 // estimated size including the safety margin
	FeeRate   int64 // sat/byte
}

// EstimateSize returns the P2PKH size estimate in bytes, before margin.
func EstimateSize(inputCount, outputCount int) int64 {
	return config.TxBaseSize +
		int64(inputCount)*config.TxInputSizeP2PKH +
		int64(outputCount)*config.TxOutputSizeP2PKH
}

// withMargin inflates size by TxSizeMarginPct, rounding up.
func withMargin(size int64) int64 {
	return (size*(100+config.TxSizeMarginPct) + 99) / 100
}

// Plan computes fee = ceil(size * 1.2) * feeRate and change = total - target - fee.
// It fails with ErrInsufficientFunds when change would be negative.
func Plan(total, target *big.Int, inputCount, outputCount int, feeRate int64) (*PlanResult, error) {
	if total == nil || target == nil || target.Sign() <= 0 {
		return nil, fmt.Errorf("%w: target amount must be positive", config.ErrInsufficientFunds)
	}
	if inputCount <= 0 {
		return nil, fmt.Errorf("%w: plan needs at least one input", config.ErrNoUTXOs)
	}
	if outputCount <= 0 {
		outputCount = config.PayoutOutputCount
	}

	size := withMargin(EstimateSize(inputCount, outputCount))
	fee := new(big.Int).Mul(big.NewInt(size), big.NewInt(feeRate))
	change := new(big.Int).Sub(total, target)
	change.Sub(change, fee)

	if change.Sign() < 0 {
		return nil, fmt.Errorf("%w: have %s sats, need %s + %s fee",
			config.ErrInsufficientFunds, total, target, fee)
	}

	slog.Debug("payout planned",
		"total", total.String(),
		"send", target.String(),
		"fee", fee.String(),
		"change", change.String(),
		"sizeBytes", size,
		"feeRate", feeRate,
	)

	return &PlanResult{
		Send:      new(big.Int).Set(target),
		Change:    change,
		Fee:       fee,
		SizeBytes: size,
		FeeRate:   feeRate,
	}, nil
}
