package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/models"
)

// stalledPayout leaves burn 9 signed on the contract with a broadcast that
// never reached the network.
func stalledPayout(t *testing.T, f *fixture) string {
	t.Helper()

	f.requestBurn(9, 25_000, models.BurnRequested)
	f.btc.BroadcastErr = errors.New("connection reset by peer")

	err := f.oracle.HandleBurnGenerate(context.Background(), big.NewInt(9))
	if !errors.Is(err, config.ErrTransactionFailed) {
		t.Fatalf("HandleBurnGenerate() error = %v, want ErrTransactionFailed", err)
	}
	f.btc.BroadcastErr = nil

	row, err := f.journal.GetPayoutByBurnID("9")
	if err != nil || row == nil {
		t.Fatalf("GetPayoutByBurnID() = %v, %v", row, err)
	}
	if row.Status != config.PayoutStatusSigned || row.EVMTxHash == "" {
		t.Fatalf("journal row = %+v, want signed with evm tx", row)
	}
	return row.BTCTxHash
}

func TestPoller_RebroadcastsAndValidates(t *testing.T) {
	f := newFixture(t, 100_000)
	btcTxHash := stalledPayout(t, f)
	f.btc.Payloads[btcTxHash] = esploraTx(btcTxHash, f.destination, 25_000, 6, f.tracked)

	NewPoller(f.oracle, 0).Tick(context.Background())

	if got := len(f.btc.Broadcasts()); got != 1 {
		t.Errorf("broadcasts = %d, want 1", got)
	}
	if _, validated, _ := f.bridge.counts(); validated != 1 {
		t.Errorf("validateBurn calls = %d, want 1", validated)
	}

	row, _ := f.journal.GetPayoutByBurnID("9")
	if row.Status != config.PayoutStatusValidated {
		t.Errorf("journal status = %s, want validated", row.Status)
	}

	// Validated payouts drop out of the poller's view.
	NewPoller(f.oracle, 0).Tick(context.Background())
	if got := len(f.btc.Broadcasts()); got != 1 {
		t.Errorf("broadcasts after second tick = %d, want 1", got)
	}
}

func TestPoller_WaitsForConfirmations(t *testing.T) {
	f := newFixture(t, 100_000)
	btcTxHash := stalledPayout(t, f)
	f.btc.Payloads[btcTxHash] = esploraTx(btcTxHash, f.destination, 25_000, 0, f.tracked)

	p := NewPoller(f.oracle, 0)
	p.Tick(context.Background())

	if _, validated, _ := f.bridge.counts(); validated != 0 {
		t.Errorf("validateBurn calls = %d, want 0", validated)
	}
	row, _ := f.journal.GetPayoutByBurnID("9")
	if row.Status != config.PayoutStatusBroadcast {
		t.Errorf("journal status = %s, want broadcast", row.Status)
	}

	// A broadcast row is only revalidated, never sent again.
	p.Tick(context.Background())
	if got := len(f.btc.Broadcasts()); got != 1 {
		t.Errorf("broadcasts = %d, want 1", got)
	}
}

// ackLostBridge applies burnSigned on chain but loses the reply.
type ackLostBridge struct {
	*fakeBridge
}

func (b ackLostBridge) BurnSigned(ctx context.Context, burnID *big.Int, rawTx []byte, txHash string) (string, error) {
	if _, err := b.fakeBridge.BurnSigned(ctx, burnID, rawTx, txHash); err != nil {
		return "", err
	}
	return "", errors.New("submit timeout")
}

func TestPoller_BroadcastsWhenBurnSignedReplyLost(t *testing.T) {
	f := newFixture(t, 100_000)
	f.requestBurn(11, 25_000, models.BurnRequested)
	f.oracle.bridge = ackLostBridge{f.bridge}

	if err := f.oracle.HandleBurnGenerate(context.Background(), big.NewInt(11)); err == nil {
		t.Fatal("HandleBurnGenerate() error = nil, want submit failure")
	}
	// The contract is Signed now, so a replayed event skips the burn.
	if err := f.oracle.HandleBurnGenerate(context.Background(), big.NewInt(11)); err != nil {
		t.Fatalf("replayed HandleBurnGenerate() error = %v", err)
	}

	row, _ := f.journal.GetPayoutByBurnID("11")
	if row == nil || row.Status != config.PayoutStatusSigned || row.EVMTxHash != "" {
		t.Fatalf("journal row = %+v, want signed without evm tx", row)
	}
	if got := len(f.btc.Broadcasts()); got != 0 {
		t.Fatalf("broadcasts before tick = %d, want 0", got)
	}

	p := NewPoller(f.oracle, 0)
	p.Tick(context.Background())

	broadcasts := f.btc.Broadcasts()
	if len(broadcasts) != 1 || broadcasts[0] != row.RawTx {
		t.Fatalf("broadcasts = %d, want the journaled payout once", len(broadcasts))
	}
	row, _ = f.journal.GetPayoutByBurnID("11")
	if row.Status != config.PayoutStatusBroadcast {
		t.Errorf("journal status = %s, want broadcast", row.Status)
	}

	f.btc.Payloads[row.BTCTxHash] = esploraTx(row.BTCTxHash, f.destination, 25_000, 6, f.tracked)
	p.Tick(context.Background())

	if _, validated, _ := f.bridge.counts(); validated != 1 {
		t.Errorf("validateBurn calls = %d, want 1", validated)
	}
	if got := len(f.btc.Broadcasts()); got != 1 {
		t.Errorf("broadcasts after validation = %d, want 1", got)
	}
}

func TestPoller_ResumesPayoutStillRequested(t *testing.T) {
	f := newFixture(t, 100_000)
	f.requestBurn(12, 25_000, models.BurnRequested)

	f.bridge.burnSignedErr = errors.New("connection lost")
	if err := f.oracle.HandleBurnGenerate(context.Background(), big.NewInt(12)); err == nil {
		t.Fatal("HandleBurnGenerate() error = nil, want burnSigned failure")
	}
	f.bridge.mu.Lock()
	f.bridge.burnSignedErr = nil
	f.bridge.mu.Unlock()

	NewPoller(f.oracle, 0).Tick(context.Background())

	if signed, _, _ := f.bridge.counts(); signed != 1 {
		t.Errorf("burnSigned calls = %d, want 1", signed)
	}
	if got := len(f.btc.Broadcasts()); got != 1 {
		t.Errorf("broadcasts = %d, want 1", got)
	}
	row, _ := f.journal.GetPayoutByBurnID("12")
	if row.Status != config.PayoutStatusBroadcast || row.EVMTxHash == "" {
		t.Errorf("journal row = %+v, want broadcast with evm tx", row)
	}
}
