package tx

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/models"
)

// UTXOSource lists spendable outputs and serves the transactions that created them.
type UTXOSource interface {
	ListUTXOs(ctx context.Context, address string) ([]models.UTXO, error)
	RawTx(ctx context.Context, txid string) ([]byte, error)
}

// FeeRater returns the fee rate to pay, in sat/byte.
type FeeRater interface {
	FeeRate(ctx context.Context) (int64, error)
}

// RemoteSigner signs sighashes with a key it never reveals. Sign returns the
// raw (r, s) pair with no DER framing.
type RemoteSigner interface {
	Login(ctx context.Context) (string, error)
	Sign(ctx context.Context, sighash []byte, token string) (*models.SigningResult, error)
	PublicKey(ctx context.Context) ([]byte, error)
}

// SignedTx is a fully signed payout ready for broadcast.
type SignedTx struct {
	RawHex string
	TxID   string
	Send   int64
	Change int64
	Fee    int64
	Inputs int
}

// Builder spends the tracked P2PKH address's UTXOs into a two-output payout
// signed by a RemoteSigner.
type Builder struct {
	utxos         UTXOSource
	fees          FeeRater
	signer        RemoteSigner
	tracked       *btcutil.AddressPubKeyHash
	trackedScript []byte
	params        *chaincfg.Params
}

// NewBuilder creates a builder spending from trackedAddress, which must be a
// P2PKH address on params' network.
func NewBuilder(utxos UTXOSource, fees FeeRater, signer RemoteSigner, trackedAddress string, params *chaincfg.Params) (*Builder, error) {
	addr, err := btcutil.DecodeAddress(trackedAddress, params)
	if err != nil {
		return nil, fmt.Errorf("%w: tracked address %q: %s", config.ErrInvalidConfig, trackedAddress, err)
	}
	pkh, ok := addr.(*btcutil.AddressPubKeyHash)
	if !ok || !pkh.IsForNet(params) {
		return nil, fmt.Errorf("%w: tracked address %q must be P2PKH on %s", config.ErrInvalidConfig, trackedAddress, params.Name)
	}
	script, err := txscript.PayToAddrScript(pkh)
	if err != nil {
		return nil, fmt.Errorf("tracked address script: %w", err)
	}

	return &Builder{
		utxos:         utxos,
		fees:          fees,
		signer:        signer,
		tracked:       pkh,
		trackedScript: script,
		params:        params,
	}, nil
}

// BuildAndSign pays amount satoshis to destination from every UTXO of the
// tracked address, returning change to it. Any failure aborts the build; a
// partially signed transaction is never returned.
func (b *Builder) BuildAndSign(ctx context.Context, destination string, amount *big.Int) (*SignedTx, error) {
	destScript, err := b.destinationScript(destination)
	if err != nil {
		return nil, err
	}
	if amount == nil || !amount.IsInt64() || amount.Int64() < config.DustThresholdSats {
		return nil, fmt.Errorf("%w: payout amount %v", config.ErrDustOutput, amount)
	}

	trackedAddr := b.tracked.EncodeAddress()
	utxos, err := b.utxos.ListUTXOs(ctx, trackedAddr)
	if err != nil {
		return nil, fmt.Errorf("list UTXOs for %s: %w", trackedAddr, err)
	}
	if len(utxos) == 0 {
		return nil, fmt.Errorf("%w: %s", config.ErrNoUTXOs, trackedAddr)
	}

	total := new(big.Int)
	for _, u := range utxos {
		total.Add(total, big.NewInt(u.ValueSats))
	}

	feeRate, err := b.fees.FeeRate(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrFeeEstimateFailed, err)
	}

	plan, err := Plan(total, amount, len(utxos), config.PayoutOutputCount, feeRate)
	if err != nil {
		return nil, err
	}
	if plan.Change.Cmp(big.NewInt(config.DustThresholdSats)) < 0 {
		return nil, fmt.Errorf("%w: change %s sats", config.ErrDustOutput, plan.Change)
	}

	slog.Info("building payout transaction",
		"destination", destination,
		"send", plan.Send.String(),
		"change", plan.Change.String(),
		"fee", plan.Fee.String(),
		"inputs", len(utxos),
		"feeRate", feeRate,
	)

	msgTx := wire.NewMsgTx(wire.TxVersion)
	prevTxs := make([]*wire.MsgTx, len(utxos))
	for i := range utxos {
		prev, err := b.previousTx(ctx, &utxos[i])
		if err != nil {
			return nil, err
		}
		prevTxs[i] = prev

		hash := prev.TxHash()
		msgTx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&hash, utxos[i].OutputIndex), nil, nil))
	}

	// Destination first, change second.
	msgTx.AddTxOut(wire.NewTxOut(plan.Send.Int64(), destScript))
	msgTx.AddTxOut(wire.NewTxOut(plan.Change.Int64(), b.trackedScript))

	packet, err := psbt.NewFromUnsignedTx(msgTx)
	if err != nil {
		return nil, fmt.Errorf("create PSBT: %w", err)
	}
	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, fmt.Errorf("create PSBT updater: %w", err)
	}
	for i, prev := range prevTxs {
		if err := updater.AddInNonWitnessUtxo(prev, i); err != nil {
			return nil, fmt.Errorf("attach previous tx to input %d: %w", i, err)
		}
	}

	if err := b.signInputs(ctx, updater, msgTx); err != nil {
		return nil, err
	}

	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return nil, fmt.Errorf("%w: finalize: %s", config.ErrSigningFailed, err)
	}
	final, err := psbt.Extract(packet)
	if err != nil {
		return nil, fmt.Errorf("%w: extract: %s", config.ErrSigningFailed, err)
	}

	var buf bytes.Buffer
	if err := final.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize signed tx: %w", err)
	}

	signed := &SignedTx{
		RawHex: hex.EncodeToString(buf.Bytes()),
		TxID:   final.TxHash().String(),
		Send:   plan.Send.Int64(),
		Change: plan.Change.Int64(),
		Fee:    plan.Fee.Int64(),
		Inputs: len(utxos),
	}

	slog.Info("payout transaction signed",
		"txid", signed.TxID,
		"sizeBytes", buf.Len(),
		"inputs", signed.Inputs,
	)

	return signed, nil
}

func (b *Builder) destinationScript(destination string) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(destination, b.params)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %s", config.ErrInvalidDestination, destination, err)
	}
	if !addr.IsForNet(b.params) {
		return nil, fmt.Errorf("%w: %q is not a %s address", config.ErrInvalidDestination, destination, b.params.Name)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %s", config.ErrInvalidDestination, destination, err)
	}
	return script, nil
}

// previousTx fetches the full transaction behind u and checks that the
// referenced output is what the UTXO listing claimed.
func (b *Builder) previousTx(ctx context.Context, u *models.UTXO) (*wire.MsgTx, error) {
	raw, err := b.utxos.RawTx(ctx, u.TxID)
	if err != nil {
		return nil, fmt.Errorf("%w: previous tx %s: %w", config.ErrUTXOFetchFailed, u.TxID, err)
	}

	var prev wire.MsgTx
	if err := prev.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: decode previous tx %s: %s", config.ErrUTXOFetchFailed, u.TxID, err)
	}

	want, err := chainhash.NewHashFromStr(u.TxID)
	if err != nil || prev.TxHash() != *want {
		return nil, fmt.Errorf("%w: previous tx hash mismatch for %s", config.ErrUTXOFetchFailed, u.TxID)
	}
	if int(u.OutputIndex) >= len(prev.TxOut) {
		return nil, fmt.Errorf("%w: %s has no output %d", config.ErrUTXOFetchFailed, u.TxID, u.OutputIndex)
	}
	out := prev.TxOut[u.OutputIndex]
	if out.Value != u.ValueSats || !bytes.Equal(out.PkScript, b.trackedScript) {
		return nil, fmt.Errorf("%w: output %s:%d does not match listing", config.ErrUTXOFetchFailed, u.TxID, u.OutputIndex)
	}

	u.PreviousRawTxHex = hex.EncodeToString(raw)
	return &prev, nil
}

// signInputs opens one signer session and signs every input with it.
func (b *Builder) signInputs(ctx context.Context, updater *psbt.Updater, msgTx *wire.MsgTx) error {
	token, err := b.signer.Login(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrSessionFailed, err)
	}

	pubBytes, err := b.signer.PublicKey(ctx)
	if err != nil {
		return fmt.Errorf("%w: public key: %s", config.ErrSigningFailed, err)
	}
	pub, err := btcec.ParsePubKey(pubBytes)
	if err != nil {
		return fmt.Errorf("%w: parse public key: %s", config.ErrSigningFailed, err)
	}
	if !bytes.Equal(btcutil.Hash160(pubBytes), b.tracked.ScriptAddress()) {
		return fmt.Errorf("%w: signer key does not control %s", config.ErrSigningFailed, b.tracked.EncodeAddress())
	}

	for i := range msgTx.TxIn {
		sighash, err := txscript.CalcSignatureHash(b.trackedScript, txscript.SigHashAll, msgTx, i)
		if err != nil {
			return fmt.Errorf("%w: sighash for input %d: %s", config.ErrSigningFailed, i, err)
		}

		res, err := b.signer.Sign(ctx, sighash, token)
		if err != nil {
			return fmt.Errorf("%w: input %d: %w", config.ErrSigningFailed, i, err)
		}

		sig, err := scriptSignature(res, sighash, pub)
		if err != nil {
			return fmt.Errorf("%w: input %d: %s", config.ErrSigningFailed, i, err)
		}

		outcome, err := updater.Sign(i, sig, pubBytes, nil, nil)
		if err != nil || outcome != psbt.SignSuccesful {
			return fmt.Errorf("%w: attach signature to input %d: outcome %d: %v", config.ErrSigningFailed, i, outcome, err)
		}

		slog.Debug("input signed", "input", i, "nonce", res.Nonce)
	}

	return nil
}

// scriptSignature turns a raw (r, s) into a low-S DER signature with the
// SIGHASH_ALL byte appended, and checks it against pub.
func scriptSignature(res *models.SigningResult, sighash []byte, pub *btcec.PublicKey) ([]byte, error) {
	if res == nil || res.R == nil || res.S == nil {
		return nil, fmt.Errorf("signer returned no signature")
	}

	s := new(big.Int).Set(res.S)
	order := btcec.S256().N
	if s.Cmp(new(big.Int).Rsh(order, 1)) > 0 {
		s.Sub(order, s)
	}

	der, err := EncodeDER(res.R, s)
	if err != nil {
		return nil, err
	}

	parsed, err := ecdsa.ParseDERSignature(der)
	if err != nil {
		return nil, fmt.Errorf("parse DER: %w", err)
	}
	if !parsed.Verify(sighash, pub) {
		return nil, fmt.Errorf("signature does not verify against signer key")
	}

	return append(der, byte(txscript.SigHashAll)), nil
}
