package oracle

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/db"
	"github.com/Fantasim/btcoracle/internal/models"
)

// Poller revisits journaled payouts that have left the process but are not
// yet validated: signed payouts whose broadcast never succeeded are
// rebroadcast, and every open payout is run through validation.
type Poller struct {
	oracle   *Oracle
	interval time.Duration
}

// NewPoller creates a poller ticking every interval.
func NewPoller(o *Oracle, interval time.Duration) *Poller {
	return &Poller{oracle: o, interval: interval}
}

// Run ticks until ctx is done, starting with an immediate pass.
func (p *Poller) Run(ctx context.Context) error {
	slog.Info("validation poller started", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Tick(ctx)

		select {
		case <-ctx.Done():
			slog.Info("validation poller stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one reconciliation pass over open payouts.
func (p *Poller) Tick(ctx context.Context) {
	var checked, rebroadcast int

	for _, status := range []string{config.PayoutStatusSigned, config.PayoutStatusBroadcast} {
		rows, err := p.oracle.journal.ListPayouts(status, config.JournalListLimit)
		if err != nil {
			slog.Error("validation poller: list payouts failed", "status", status, "error", err)
			continue
		}

		for i := range rows {
			if ctx.Err() != nil {
				return
			}
			row := &rows[i]

			burnID, ok := new(big.Int).SetString(row.BurnID, 10)
			if !ok {
				slog.Warn("validation poller: bad burn id in journal", "payoutId", row.ID, "burnId", row.BurnID)
				continue
			}

			if row.Status == config.PayoutStatusSigned {
				if p.retrySigned(ctx, burnID, row) {
					rebroadcast++
				}
			}

			if err := p.oracle.HandleBurnValidate(ctx, burnID); err != nil {
				slog.Warn("validation poller: validate failed", "burnId", burnID, "error", err)
			}
			checked++
		}
	}

	slog.Debug("validation poller pass complete",
		"checked", checked,
		"rebroadcast", rebroadcast,
	)
}

// retrySigned pushes a signed payout forward. Without a recorded burnSigned
// hash the contract decides: a Signed record carrying this payout's hash means
// burnSigned landed and only the broadcast is missing, while a Requested
// record resumes through the generate handler.
func (p *Poller) retrySigned(ctx context.Context, burnID *big.Int, row *db.PayoutRow) bool {
	if row.EVMTxHash != "" {
		return p.retryBroadcast(ctx, burnID, row)
	}

	rec, err := p.oracle.bridge.BurnData(ctx, burnID)
	if err != nil {
		slog.Warn("validation poller: read burn failed", "burnId", burnID, "error", err)
		return false
	}

	switch {
	case rec.Status == models.BurnRequested:
		if err := p.oracle.HandleBurnGenerate(ctx, burnID); err != nil {
			slog.Warn("validation poller: resume payout failed", "burnId", burnID, "error", err)
			return false
		}
		return true
	case rec.Status == models.BurnSigned && strings.EqualFold(rec.TransactionHash, row.BTCTxHash):
		slog.Info("validation poller: burnSigned found on chain, broadcasting",
			"burnId", burnID,
			"btcTxHash", row.BTCTxHash,
		)
		return p.retryBroadcast(ctx, burnID, row)
	default:
		slog.Warn("validation poller: contract does not carry the journaled payout",
			"burnId", burnID,
			"status", rec.Status,
			"contractTxHash", rec.TransactionHash,
			"btcTxHash", row.BTCTxHash,
		)
		return false
	}
}

func (p *Poller) retryBroadcast(ctx context.Context, burnID *big.Int, row *db.PayoutRow) bool {
	if err := p.oracle.broadcast(ctx, burnID, row); err != nil {
		slog.Warn("validation poller: rebroadcast failed",
			"burnId", burnID,
			"btcTxHash", row.BTCTxHash,
			"error", err,
		)
		return false
	}
	return true
}
