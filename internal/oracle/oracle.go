// Package oracle drives the bridge lifecycle: it reacts to contract events,
// establishes Bitcoin ground truth, and advances burns and mints by calling
// back into the contract.
package oracle

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/db"
	"github.com/Fantasim/btcoracle/internal/models"
	"github.com/Fantasim/btcoracle/internal/tx"
	"github.com/Fantasim/btcoracle/internal/verify"
)

// Bridge is the contract surface the oracle writes to.
type Bridge interface {
	BurnData(ctx context.Context, burnID *big.Int) (*models.BurnRecord, error)
	BurnSigned(ctx context.Context, burnID *big.Int, rawTx []byte, txHash string) (string, error)
	ValidateBurn(ctx context.Context, burnID *big.Int) (string, error)
	Mint(ctx context.Context, to common.Address, amount *big.Int, txHash string) (string, error)
}

// Fetcher returns consensus facts about a Bitcoin transaction.
type Fetcher interface {
	Fetch(ctx context.Context, txHash string) (*models.TransactionFacts, error)
}

// PayoutBuilder builds and signs a payout from the tracked address.
type PayoutBuilder interface {
	BuildAndSign(ctx context.Context, destination string, amount *big.Int) (*tx.SignedTx, error)
}

// Journal is the durable record of payouts and mints.
type Journal interface {
	ClaimPayout(burnID, destination, amountSats string) (*db.PayoutRow, bool, error)
	FailInterruptedPayouts() (int64, error)
	MarkPayoutSigned(id, btcTxHash, rawTx, feeSats, changeSats string) error
	SetPayoutEVMTx(id, evmTxHash string) error
	SetPayoutStatus(id, status, errMsg string) error
	GetPayoutByBurnID(burnID string) (*db.PayoutRow, error)
	ListPayouts(status string, limit int) ([]db.PayoutRow, error)
	GetMint(btcTxHash string) (*db.MintRow, error)
	RecordMint(m db.MintRow) (bool, error)
}

// Deps are the oracle's collaborators.
type Deps struct {
	Bridge      Bridge
	Fetcher     Fetcher
	Builder     PayoutBuilder
	Broadcaster tx.Broadcaster
	Journal     Journal
}

// Options tune the oracle's decisions.
type Options struct {
	Params        *chaincfg.Params
	Confirmations int64
}

// Oracle handles bridge events. Handlers for different ids run concurrently;
// concurrent deliveries for the same burn or deposit share one execution.
type Oracle struct {
	bridge      Bridge
	fetcher     Fetcher
	builder     PayoutBuilder
	broadcaster tx.Broadcaster
	journal     Journal

	params        *chaincfg.Params
	confirmations int64

	inflight singleflight.Group
}

// New creates an oracle.
func New(deps Deps, opts Options) *Oracle {
	confirmations := opts.Confirmations
	if confirmations <= 0 {
		confirmations = config.DefaultConfirmations
	}
	return &Oracle{
		bridge:        deps.Bridge,
		fetcher:       deps.Fetcher,
		builder:       deps.Builder,
		broadcaster:   deps.Broadcaster,
		journal:       deps.Journal,
		params:        opts.Params,
		confirmations: confirmations,
	}
}

func (o *Oracle) once(key string, fn func() error) error {
	_, err, shared := o.inflight.Do(key, func() (any, error) {
		return nil, fn()
	})
	if shared {
		slog.Debug("joined in-flight handler", "key", key)
	}
	return err
}

// Recover releases payouts a previous run left mid-build so the next
// BurnGenerate for those burns builds them again. It must run before any
// handler does.
func (o *Oracle) Recover() error {
	if _, err := o.journal.FailInterruptedPayouts(); err != nil {
		return err
	}
	return nil
}

// HandleBurnGenerate pays out a burn whose record is Requested. The payout is
// built and signed, reported to the contract, then broadcast. Any other
// status is skipped.
func (o *Oracle) HandleBurnGenerate(ctx context.Context, burnID *big.Int) error {
	return o.once("generate:"+burnID.String(), func() error {
		return o.generate(ctx, burnID)
	})
}

func (o *Oracle) generate(ctx context.Context, burnID *big.Int) error {
	rec, err := o.bridge.BurnData(ctx, burnID)
	if err != nil {
		return fmt.Errorf("read burn %s: %w", burnID, err)
	}

	if rec.Status != models.BurnRequested {
		slog.Info("burn not in requested state, skipping payout",
			"burnId", burnID,
			"status", rec.Status,
		)
		return nil
	}
	if rec.AmountSats == nil || rec.AmountSats.Sign() <= 0 {
		return fmt.Errorf("burn %s has non-positive amount", burnID)
	}

	row, claimed, err := o.journal.ClaimPayout(burnID.String(), rec.DestinationAddress, rec.AmountSats.String())
	if err != nil {
		return err
	}
	if !claimed {
		if row.Status == config.PayoutStatusSigned && row.RawTx != "" {
			slog.Info("resuming signed payout", "burnId", burnID, "btcTxHash", row.BTCTxHash)
			return o.finishPayout(ctx, burnID, row)
		}
		slog.Warn("payout already journaled, not rebuilding",
			"burnId", burnID,
			"payoutId", row.ID,
			"status", row.Status,
		)
		return nil
	}

	slog.Info("building payout",
		"burnId", burnID,
		"destination", rec.DestinationAddress,
		"amountSats", rec.AmountSats,
	)

	signed, err := o.builder.BuildAndSign(ctx, rec.DestinationAddress, rec.AmountSats)
	if err != nil {
		o.failPayout(row.ID, err)
		return fmt.Errorf("build payout for burn %s: %w", burnID, err)
	}

	err = o.journal.MarkPayoutSigned(row.ID, signed.TxID, signed.RawHex,
		strconv.FormatInt(signed.Fee, 10), strconv.FormatInt(signed.Change, 10))
	if err != nil {
		o.failPayout(row.ID, err)
		return err
	}
	row.Status = config.PayoutStatusSigned
	row.BTCTxHash = signed.TxID
	row.RawTx = signed.RawHex

	return o.finishPayout(ctx, burnID, row)
}

// finishPayout reports a signed payout to the contract unless that already
// happened, then broadcasts it.
func (o *Oracle) finishPayout(ctx context.Context, burnID *big.Int, row *db.PayoutRow) error {
	if row.EVMTxHash == "" {
		raw, err := hex.DecodeString(row.RawTx)
		if err != nil {
			o.failPayout(row.ID, err)
			return fmt.Errorf("decode journaled payout %s: %w", row.ID, err)
		}

		evmTxHash, err := o.bridge.BurnSigned(ctx, burnID, raw, row.BTCTxHash)
		if err != nil {
			return fmt.Errorf("burnSigned for burn %s: %w", burnID, err)
		}
		if err := o.journal.SetPayoutEVMTx(row.ID, evmTxHash); err != nil {
			return err
		}
		row.EVMTxHash = evmTxHash
	}

	return o.broadcast(ctx, burnID, row)
}

func (o *Oracle) broadcast(ctx context.Context, burnID *big.Int, row *db.PayoutRow) error {
	txHash, err := o.broadcaster.Broadcast(ctx, row.RawTx)
	if err != nil {
		if errors.Is(err, config.ErrTxRejected) {
			o.failPayout(row.ID, err)
		}
		return fmt.Errorf("broadcast payout for burn %s: %w", burnID, err)
	}

	if err := o.journal.SetPayoutStatus(row.ID, config.PayoutStatusBroadcast, ""); err != nil {
		return err
	}
	row.Status = config.PayoutStatusBroadcast

	slog.Info("payout broadcast",
		"burnId", burnID,
		"btcTxHash", txHash,
		"evmTxHash", row.EVMTxHash,
	)
	return nil
}

func (o *Oracle) failPayout(id string, cause error) {
	if err := o.journal.SetPayoutStatus(id, config.PayoutStatusFailed, cause.Error()); err != nil {
		slog.Error("failed to journal payout failure", "payoutId", id, "error", err)
	}
}

// HandleBurnValidate finalizes a Signed burn once its payout has reached the
// confirmation threshold. Below the threshold nothing happens; a later event
// or poll retries.
func (o *Oracle) HandleBurnValidate(ctx context.Context, burnID *big.Int) error {
	return o.once("validate:"+burnID.String(), func() error {
		return o.validate(ctx, burnID)
	})
}

func (o *Oracle) validate(ctx context.Context, burnID *big.Int) error {
	rec, err := o.bridge.BurnData(ctx, burnID)
	if err != nil {
		return fmt.Errorf("read burn %s: %w", burnID, err)
	}

	if rec.Status != models.BurnSigned {
		slog.Info("burn not in signed state, skipping validation",
			"burnId", burnID,
			"status", rec.Status,
		)
		if rec.Status == models.BurnValidated {
			o.markValidated(burnID)
		}
		return nil
	}
	if rec.TransactionHash == "" {
		return fmt.Errorf("burn %s is signed without a transaction hash", burnID)
	}

	facts, err := o.fetcher.Fetch(ctx, rec.TransactionHash)
	if err != nil {
		return fmt.Errorf("fetch payout %s for burn %s: %w", rec.TransactionHash, burnID, err)
	}

	if facts.Confirmations < o.confirmations {
		slog.Info("payout below confirmation threshold",
			"burnId", burnID,
			"txHash", rec.TransactionHash,
			"confirmations", facts.Confirmations,
			"required", o.confirmations,
		)
		return nil
	}

	evmTxHash, err := o.bridge.ValidateBurn(ctx, burnID)
	if err != nil {
		return fmt.Errorf("validateBurn for burn %s: %w", burnID, err)
	}

	slog.Info("burn validated",
		"burnId", burnID,
		"txHash", rec.TransactionHash,
		"confirmations", facts.Confirmations,
		"evmTxHash", evmTxHash,
	)

	o.markValidated(burnID)
	return nil
}

func (o *Oracle) markValidated(burnID *big.Int) {
	row, err := o.journal.GetPayoutByBurnID(burnID.String())
	if err != nil || row == nil || row.Status == config.PayoutStatusValidated {
		return
	}
	if err := o.journal.SetPayoutStatus(row.ID, config.PayoutStatusValidated, ""); err != nil {
		slog.Error("failed to journal validation", "burnId", burnID, "error", err)
	}
}

// HandleProofSubmitted mints against a Bitcoin deposit when the deposit has
// exactly one sender and the claimant's message is signed by that sender.
// Unproven claims are logged and skipped, never treated as failures.
func (o *Oracle) HandleProofSubmitted(ctx context.Context, ev ProofSubmitted) error {
	return o.once("mint:"+ev.TxHash, func() error {
		return o.mint(ctx, ev)
	})
}

// ProofMessage is the message a depositor signs to claim a mint.
func ProofMessage(txHash string, claimant common.Address) string {
	return txHash + claimant.Hex()
}

func (o *Oracle) mint(ctx context.Context, ev ProofSubmitted) error {
	existing, err := o.journal.GetMint(ev.TxHash)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == config.MintStatusSubmitted {
		slog.Info("deposit already minted, skipping",
			"txHash", ev.TxHash,
			"claimant", existing.Claimant,
			"evmTxHash", existing.EVMTxHash,
		)
		return nil
	}

	facts, err := o.fetcher.Fetch(ctx, ev.TxHash)
	if err != nil {
		return fmt.Errorf("fetch deposit %s: %w", ev.TxHash, err)
	}

	if !facts.ReceiverIsTracked || facts.AmountToTracked <= 0 {
		o.rejectMint(ev, "", config.ErrNotTracked)
		return nil
	}
	if len(facts.SenderAddresses) != 1 {
		o.rejectMint(ev, "", fmt.Errorf("%w: %d senders", config.ErrAmbiguousSender, len(facts.SenderAddresses)))
		return nil
	}

	sender := facts.SenderAddresses[0]
	if !verify.Message(ProofMessage(ev.TxHash, ev.Claimant), ev.Signature, sender, o.params) {
		o.rejectMint(ev, sender, config.ErrVerificationFailed)
		return nil
	}

	amount := big.NewInt(facts.AmountToTracked)
	evmTxHash, err := o.bridge.Mint(ctx, ev.Claimant, amount, ev.TxHash)
	if err != nil {
		return fmt.Errorf("mint for deposit %s: %w", ev.TxHash, err)
	}

	if _, err := o.journal.RecordMint(db.MintRow{
		BTCTxHash:  ev.TxHash,
		Claimant:   ev.Claimant.Hex(),
		Sender:     sender,
		AmountSats: amount.String(),
		EVMTxHash:  evmTxHash,
		Status:     config.MintStatusSubmitted,
	}); err != nil {
		slog.Error("failed to journal mint", "txHash", ev.TxHash, "error", err)
	}

	slog.Info("mint submitted",
		"txHash", ev.TxHash,
		"claimant", ev.Claimant.Hex(),
		"sender", sender,
		"amountSats", amount,
		"evmTxHash", evmTxHash,
	)
	return nil
}

func (o *Oracle) rejectMint(ev ProofSubmitted, sender string, reason error) {
	slog.Warn("mint claim not proven, skipping",
		"txHash", ev.TxHash,
		"claimant", ev.Claimant.Hex(),
		"sender", sender,
		"reason", reason,
	)

	if _, err := o.journal.RecordMint(db.MintRow{
		BTCTxHash:  ev.TxHash,
		Claimant:   ev.Claimant.Hex(),
		Sender:     sender,
		AmountSats: "0",
		Status:     config.MintStatusRejected,
		Error:      reason.Error(),
	}); err != nil {
		slog.Error("failed to journal rejected mint", "txHash", ev.TxHash, "error", err)
	}
}
