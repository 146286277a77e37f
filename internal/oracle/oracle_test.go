package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/consensus"
	"github.com/Fantasim/btcoracle/internal/db"
	"github.com/Fantasim/btcoracle/internal/models"
	"github.com/Fantasim/btcoracle/internal/provider"
	"github.com/Fantasim/btcoracle/internal/provider/providertest"
	"github.com/Fantasim/btcoracle/internal/tx"
	"github.com/Fantasim/btcoracle/internal/verify"
)

var testParams = &chaincfg.TestNet3Params

// fakeBridge behaves like the contract: burnSigned moves a burn to Signed
// and validateBurn to Validated.
type fakeBridge struct {
	mu      sync.Mutex
	records map[string]*models.BurnRecord

	burnSignedErr error
	mintErr       error

	burnSigned []string // btc tx hashes
	validated  []string // burn ids
	mints      []string // btc tx hashes
	mintTo     []common.Address
	mintAmount []*big.Int
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{records: make(map[string]*models.BurnRecord)}
}

func (b *fakeBridge) put(rec *models.BurnRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[rec.BurnID.String()] = rec
}

func (b *fakeBridge) BurnData(_ context.Context, burnID *big.Int) (*models.BurnRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[burnID.String()]
	if !ok {
		return nil, fmt.Errorf("burn %s not found", burnID)
	}
	cp := *rec
	return &cp, nil
}

func (b *fakeBridge) BurnSigned(_ context.Context, burnID *big.Int, rawTx []byte, txHash string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.burnSignedErr != nil {
		return "", b.burnSignedErr
	}
	if len(rawTx) == 0 {
		return "", errors.New("empty raw tx")
	}
	b.burnSigned = append(b.burnSigned, txHash)
	if rec, ok := b.records[burnID.String()]; ok {
		rec.Status = models.BurnSigned
		rec.TransactionHash = txHash
	}
	return fmt.Sprintf("0xburnsigned%d", len(b.burnSigned)), nil
}

func (b *fakeBridge) ValidateBurn(_ context.Context, burnID *big.Int) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.validated = append(b.validated, burnID.String())
	if rec, ok := b.records[burnID.String()]; ok {
		rec.Status = models.BurnValidated
	}
	return "0xvalidated", nil
}

func (b *fakeBridge) Mint(_ context.Context, to common.Address, amount *big.Int, txHash string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mintErr != nil {
		return "", b.mintErr
	}
	b.mints = append(b.mints, txHash)
	b.mintTo = append(b.mintTo, to)
	b.mintAmount = append(b.mintAmount, amount)
	return "0xminted", nil
}

func (b *fakeBridge) counts() (signed, validated, mints int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.burnSigned), len(b.validated), len(b.mints)
}

// localSigner answers like the remote signer with a local key.
type localSigner struct {
	priv *btcec.PrivateKey
}

func (s *localSigner) Login(context.Context) (string, error) { return "session", nil }

func (s *localSigner) PublicKey(context.Context) ([]byte, error) {
	return s.priv.PubKey().SerializeCompressed(), nil
}

func (s *localSigner) Sign(_ context.Context, sighash []byte, _ string) (*models.SigningResult, error) {
	r, sv, err := tx.DecodeDER(ecdsa.Sign(s.priv, sighash).Serialize())
	if err != nil {
		return nil, err
	}
	return &models.SigningResult{Sighash: sighash, Nonce: "n", R: r, S: sv}, nil
}

type fixture struct {
	oracle  *Oracle
	bridge  *fakeBridge
	btc     *providertest.Fake
	journal *db.DB

	tracked     string
	destination string
	destScript  []byte
}

func newFixture(t *testing.T, fundingSats ...int64) *fixture {
	t.Helper()

	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x5a}, 32))
	trackedAddr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(priv.PubKey().SerializeCompressed()), testParams)
	if err != nil {
		t.Fatalf("NewAddressPubKeyHash() error = %v", err)
	}
	trackedScript, _ := txscript.PayToAddrScript(trackedAddr)

	destAddr, err := btcutil.NewAddressWitnessPubKeyHash(bytes.Repeat([]byte{0x44}, 20), testParams)
	if err != nil {
		t.Fatalf("NewAddressWitnessPubKeyHash() error = %v", err)
	}
	destScript, _ := txscript.PayToAddrScript(destAddr)

	btc := &providertest.Fake{
		ProviderName: "esplora",
		Payloads:     make(map[string]*provider.Payload),
		UTXOs:        make(map[string][]models.UTXO),
		RawTxs:       make(map[string][]byte),
		FeeRate:      decimal.RequireFromString("0.00002"),
	}

	for i, v := range fundingSats {
		prev := wire.NewMsgTx(wire.TxVersion)
		prev.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{byte(i + 1)}, 0), nil, nil))
		prev.AddTxOut(wire.NewTxOut(v, trackedScript))

		var buf bytes.Buffer
		if err := prev.Serialize(&buf); err != nil {
			t.Fatalf("Serialize() error = %v", err)
		}
		hash := prev.TxHash().String()
		btc.RawTxs[hash] = buf.Bytes()
		btc.UTXOs[trackedAddr.EncodeAddress()] = append(btc.UTXOs[trackedAddr.EncodeAddress()],
			models.UTXO{TxID: hash, OutputIndex: 0, ValueSats: v})
	}

	journal, err := db.New(filepath.Join(t.TempDir(), "oracle.sqlite"))
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	if err := journal.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	t.Cleanup(func() { journal.Close() })

	builder, err := tx.NewBuilder(btc, tx.NewFeeEstimator(btc, models.NetworkTestnet),
		&localSigner{priv: priv}, trackedAddr.EncodeAddress(), testParams)
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}

	bridge := newFakeBridge()
	o := New(Deps{
		Bridge: bridge,
		Fetcher: consensus.New([]provider.Client{btc}, consensus.Options{
			TrackedAddress: trackedAddr.EncodeAddress(),
			Params:         testParams,
			MinAgreeing:    1,
		}),
		Builder:     builder,
		Broadcaster: tx.NewFallbackBroadcaster(btc),
		Journal:     journal,
	}, Options{Params: testParams, Confirmations: 6})

	return &fixture{
		oracle:      o,
		bridge:      bridge,
		btc:         btc,
		journal:     journal,
		tracked:     trackedAddr.EncodeAddress(),
		destination: destAddr.EncodeAddress(),
		destScript:  destScript,
	}
}

func (f *fixture) requestBurn(id, amount int64, status models.BurnStatus) {
	f.bridge.put(&models.BurnRecord{
		BurnID:             big.NewInt(id),
		User:               "0x1111111111111111111111111111111111111111",
		AmountSats:         big.NewInt(amount),
		DestinationAddress: f.destination,
		Status:             status,
	})
}

func decodeTx(t *testing.T, rawHex string) *wire.MsgTx {
	t.Helper()
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		t.Fatalf("decode hex: %v", err)
	}
	var msg wire.MsgTx
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	return &msg
}

func TestHandleBurnGenerate_RequestedBroadcastsOnce(t *testing.T) {
	f := newFixture(t, 100_000)
	f.requestBurn(1, 30_000, models.BurnRequested)

	if err := f.oracle.HandleBurnGenerate(context.Background(), big.NewInt(1)); err != nil {
		t.Fatalf("HandleBurnGenerate() error = %v", err)
	}

	broadcasts := f.btc.Broadcasts()
	if len(broadcasts) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(broadcasts))
	}

	msg := decodeTx(t, broadcasts[0])
	if len(msg.TxOut) != 2 {
		t.Fatalf("outputs = %d, want 2", len(msg.TxOut))
	}
	if msg.TxOut[0].Value != 30_000 {
		t.Errorf("destination output = %d, want 30000", msg.TxOut[0].Value)
	}
	if !bytes.Equal(msg.TxOut[0].PkScript, f.destScript) {
		t.Error("first output does not pay the destination")
	}

	signed, _, _ := f.bridge.counts()
	if signed != 1 {
		t.Errorf("burnSigned calls = %d, want 1", signed)
	}
	if f.bridge.burnSigned[0] != msg.TxHash().String() {
		t.Errorf("burnSigned hash = %s, want %s", f.bridge.burnSigned[0], msg.TxHash())
	}

	row, err := f.journal.GetPayoutByBurnID("1")
	if err != nil {
		t.Fatalf("GetPayoutByBurnID() error = %v", err)
	}
	if row.Status != config.PayoutStatusBroadcast || row.BTCTxHash != msg.TxHash().String() {
		t.Errorf("journal row = %+v", row)
	}

	// The contract now reports Signed: a replayed event must not pay again.
	if err := f.oracle.HandleBurnGenerate(context.Background(), big.NewInt(1)); err != nil {
		t.Fatalf("replayed HandleBurnGenerate() error = %v", err)
	}
	if got := len(f.btc.Broadcasts()); got != 1 {
		t.Errorf("broadcasts after replay = %d, want 1", got)
	}
}

func TestHandleBurnGenerate_SignedStatusSkipped(t *testing.T) {
	f := newFixture(t, 100_000)
	f.requestBurn(2, 30_000, models.BurnSigned)

	if err := f.oracle.HandleBurnGenerate(context.Background(), big.NewInt(2)); err != nil {
		t.Fatalf("HandleBurnGenerate() error = %v", err)
	}

	if got := len(f.btc.Broadcasts()); got != 0 {
		t.Errorf("broadcasts = %d, want 0", got)
	}
	if signed, _, _ := f.bridge.counts(); signed != 0 {
		t.Errorf("burnSigned calls = %d, want 0", signed)
	}
}

// A contract that never advances the status must still see one payout:
// the journal refuses to rebuild a broadcast burn.
type stuckBridge struct {
	*fakeBridge
}

func (b stuckBridge) BurnSigned(ctx context.Context, burnID *big.Int, rawTx []byte, txHash string) (string, error) {
	hash, err := b.fakeBridge.BurnSigned(ctx, burnID, rawTx, txHash)
	b.mu.Lock()
	b.records[burnID.String()].Status = models.BurnRequested
	b.mu.Unlock()
	return hash, err
}

func TestHandleBurnGenerate_ReplayWithoutContractGuard(t *testing.T) {
	f := newFixture(t, 100_000)
	f.requestBurn(3, 30_000, models.BurnRequested)
	f.oracle.bridge = stuckBridge{f.bridge}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.oracle.HandleBurnGenerate(context.Background(), big.NewInt(3))
		}()
	}
	wg.Wait()

	if err := f.oracle.HandleBurnGenerate(context.Background(), big.NewInt(3)); err != nil {
		t.Fatalf("HandleBurnGenerate() error = %v", err)
	}

	if got := len(f.btc.Broadcasts()); got != 1 {
		t.Errorf("broadcasts = %d, want 1", got)
	}
	if signed, _, _ := f.bridge.counts(); signed != 1 {
		t.Errorf("burnSigned calls = %d, want 1", signed)
	}
}

func TestHandleBurnGenerate_BuildFailureJournaled(t *testing.T) {
	f := newFixture(t) // no UTXOs
	f.requestBurn(4, 30_000, models.BurnRequested)

	err := f.oracle.HandleBurnGenerate(context.Background(), big.NewInt(4))
	if !errors.Is(err, config.ErrNoUTXOs) {
		t.Fatalf("HandleBurnGenerate() error = %v, want ErrNoUTXOs", err)
	}

	row, _ := f.journal.GetPayoutByBurnID("4")
	if row == nil || row.Status != config.PayoutStatusFailed {
		t.Errorf("journal row = %+v, want failed", row)
	}
	if signed, _, _ := f.bridge.counts(); signed != 0 {
		t.Errorf("burnSigned calls = %d, want 0", signed)
	}
}

func TestHandleBurnGenerate_ResumesSignedPayout(t *testing.T) {
	f := newFixture(t, 100_000)
	f.requestBurn(5, 30_000, models.BurnRequested)

	f.bridge.burnSignedErr = errors.New("connection lost")
	if err := f.oracle.HandleBurnGenerate(context.Background(), big.NewInt(5)); err == nil {
		t.Fatal("HandleBurnGenerate() error = nil, want burnSigned failure")
	}
	first, _ := f.journal.GetPayoutByBurnID("5")
	if first.Status != config.PayoutStatusSigned {
		t.Fatalf("journal status = %s, want signed", first.Status)
	}
	if got := len(f.btc.Broadcasts()); got != 0 {
		t.Fatalf("broadcast before burnSigned succeeded: %d", got)
	}

	f.bridge.mu.Lock()
	f.bridge.burnSignedErr = nil
	f.bridge.mu.Unlock()

	if err := f.oracle.HandleBurnGenerate(context.Background(), big.NewInt(5)); err != nil {
		t.Fatalf("resumed HandleBurnGenerate() error = %v", err)
	}

	broadcasts := f.btc.Broadcasts()
	if len(broadcasts) != 1 || broadcasts[0] != first.RawTx {
		t.Error("resumed payout did not broadcast the journaled transaction")
	}
}

func TestHandleBurnGenerate_InterruptedBuildRecovered(t *testing.T) {
	f := newFixture(t, 100_000)
	f.requestBurn(7, 30_000, models.BurnRequested)

	// A previous run died between claiming the payout and signing it.
	if _, _, err := f.journal.ClaimPayout("7", f.destination, "30000"); err != nil {
		t.Fatalf("ClaimPayout() error = %v", err)
	}

	if err := f.oracle.HandleBurnGenerate(context.Background(), big.NewInt(7)); err != nil {
		t.Fatalf("HandleBurnGenerate() error = %v", err)
	}
	if got := len(f.btc.Broadcasts()); got != 0 {
		t.Fatalf("broadcasts while a build is open = %d, want 0", got)
	}

	if err := f.oracle.Recover(); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if err := f.oracle.HandleBurnGenerate(context.Background(), big.NewInt(7)); err != nil {
		t.Fatalf("HandleBurnGenerate() after Recover error = %v", err)
	}

	if got := len(f.btc.Broadcasts()); got != 1 {
		t.Errorf("broadcasts = %d, want 1", got)
	}
	row, _ := f.journal.GetPayoutByBurnID("7")
	if row == nil || row.Status != config.PayoutStatusBroadcast {
		t.Errorf("journal row = %+v, want broadcast", row)
	}
}

// failingSignedJournal refuses to store signed payouts.
type failingSignedJournal struct {
	*db.DB
}

func (failingSignedJournal) MarkPayoutSigned(string, string, string, string, string) error {
	return errors.New("disk I/O error")
}

func TestHandleBurnGenerate_JournalWriteFailureReleasesClaim(t *testing.T) {
	f := newFixture(t, 100_000)
	f.requestBurn(8, 30_000, models.BurnRequested)

	f.oracle.journal = failingSignedJournal{f.journal}
	if err := f.oracle.HandleBurnGenerate(context.Background(), big.NewInt(8)); err == nil {
		t.Fatal("HandleBurnGenerate() error = nil, want journal failure")
	}

	row, _ := f.journal.GetPayoutByBurnID("8")
	if row == nil || row.Status != config.PayoutStatusFailed {
		t.Fatalf("journal row = %+v, want failed", row)
	}
	if signed, _, _ := f.bridge.counts(); signed != 0 {
		t.Errorf("burnSigned calls = %d, want 0", signed)
	}

	f.oracle.journal = f.journal
	if err := f.oracle.HandleBurnGenerate(context.Background(), big.NewInt(8)); err != nil {
		t.Fatalf("retried HandleBurnGenerate() error = %v", err)
	}
	if got := len(f.btc.Broadcasts()); got != 1 {
		t.Errorf("broadcasts = %d, want 1", got)
	}
}

// esploraTx is an Esplora answer paying amount to payee from senders.
func esploraTx(txHash, payee string, amount int64, confirmations int64, senders ...string) *provider.Payload {
	etx := &provider.EsploraTx{
		TxID: txHash,
		Vout: []provider.EsploraVout{{ScriptPubKeyAddress: payee, Value: amount}},
	}
	for i, s := range senders {
		etx.Vin = append(etx.Vin, provider.EsploraVin{
			TxID:    fmt.Sprintf("%064x", i+1),
			Prevout: &provider.EsploraVout{ScriptPubKeyAddress: s},
		})
	}
	const tip = 1000
	if confirmations > 0 {
		etx.Status = provider.EsploraStatus{Confirmed: true, BlockHeight: tip - confirmations + 1}
	}
	return &provider.Payload{Kind: models.ProviderKindEsplora, Esplora: etx, TipHeight: tip}
}

func TestHandleBurnValidate(t *testing.T) {
	tests := []struct {
		name          string
		status        models.BurnStatus
		confirmations int64
		wantValidated bool
	}{
		{"signed and deep enough", models.BurnSigned, 6, true},
		{"signed but shallow", models.BurnSigned, 5, false},
		{"not yet signed", models.BurnGenerateRequested, 10, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			const payoutHash = "aa00000000000000000000000000000000000000000000000000000000000000"
			f.bridge.put(&models.BurnRecord{
				BurnID:             big.NewInt(6),
				AmountSats:         big.NewInt(1000),
				DestinationAddress: f.destination,
				Status:             tt.status,
				TransactionHash:    payoutHash,
			})
			f.btc.Payloads[payoutHash] = esploraTx(payoutHash, f.destination, 1000, tt.confirmations, f.tracked)

			if err := f.oracle.HandleBurnValidate(context.Background(), big.NewInt(6)); err != nil {
				t.Fatalf("HandleBurnValidate() error = %v", err)
			}

			_, validated, _ := f.bridge.counts()
			if (validated == 1) != tt.wantValidated {
				t.Errorf("validateBurn calls = %d, want validated=%v", validated, tt.wantValidated)
			}
		})
	}
}

func TestHandleBurnValidate_FetchFailure(t *testing.T) {
	f := newFixture(t)
	f.bridge.put(&models.BurnRecord{
		BurnID:          big.NewInt(7),
		AmountSats:      big.NewInt(1000),
		Status:          models.BurnSigned,
		TransactionHash: "bb00000000000000000000000000000000000000000000000000000000000000",
	})

	err := f.oracle.HandleBurnValidate(context.Background(), big.NewInt(7))
	if !errors.Is(err, config.ErrConsensusUnavailable) {
		t.Fatalf("HandleBurnValidate() error = %v, want ErrConsensusUnavailable", err)
	}
	if _, validated, _ := f.bridge.counts(); validated != 0 {
		t.Errorf("validateBurn calls = %d, want 0", validated)
	}
}

// depositor is a Bitcoin key paying into the bridge.
type depositor struct {
	priv    *btcec.PrivateKey
	address string
}

func newDepositor(t *testing.T, seed byte) depositor {
	t.Helper()
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(priv.PubKey().SerializeCompressed()), testParams)
	if err != nil {
		t.Fatalf("NewAddressPubKeyHash() error = %v", err)
	}
	return depositor{priv: priv, address: addr.EncodeAddress()}
}

func (d depositor) sign(t *testing.T, message string) string {
	t.Helper()
	sig := ecdsa.SignCompact(d.priv, verify.MessageHash(message), true)
	return base64.StdEncoding.EncodeToString(sig)
}

const depositHash = "cc00000000000000000000000000000000000000000000000000000000000000"

var testClaimant = common.HexToAddress("0x9999999999999999999999999999999999999999")

func TestHandleProofSubmitted_Mints(t *testing.T) {
	f := newFixture(t)
	alice := newDepositor(t, 0x21)
	f.btc.Payloads[depositHash] = esploraTx(depositHash, f.tracked, 42_000, 2, alice.address)

	ev := ProofSubmitted{
		TxHash:    depositHash,
		Signature: alice.sign(t, ProofMessage(depositHash, testClaimant)),
		Claimant:  testClaimant,
	}
	if err := f.oracle.HandleProofSubmitted(context.Background(), ev); err != nil {
		t.Fatalf("HandleProofSubmitted() error = %v", err)
	}

	if _, _, mints := f.bridge.counts(); mints != 1 {
		t.Fatalf("mint calls = %d, want 1", mints)
	}
	if f.bridge.mintTo[0] != testClaimant || f.bridge.mintAmount[0].Int64() != 42_000 || f.bridge.mints[0] != depositHash {
		t.Errorf("mint(%s, %s, %s)", f.bridge.mintTo[0].Hex(), f.bridge.mintAmount[0], f.bridge.mints[0])
	}

	row, _ := f.journal.GetMint(depositHash)
	if row == nil || row.Status != config.MintStatusSubmitted || row.Sender != alice.address {
		t.Errorf("journal row = %+v", row)
	}

	// A second proof for the same deposit is skipped before the contract.
	if err := f.oracle.HandleProofSubmitted(context.Background(), ev); err != nil {
		t.Fatalf("replayed HandleProofSubmitted() error = %v", err)
	}
	if _, _, mints := f.bridge.counts(); mints != 1 {
		t.Errorf("mint calls after replay = %d, want 1", mints)
	}
}

func TestHandleProofSubmitted_TwoSendersNoMint(t *testing.T) {
	f := newFixture(t)
	alice := newDepositor(t, 0x21)
	bob := newDepositor(t, 0x22)
	f.btc.Payloads[depositHash] = esploraTx(depositHash, f.tracked, 42_000, 2, alice.address, bob.address)

	ev := ProofSubmitted{
		TxHash:    depositHash,
		Signature: alice.sign(t, ProofMessage(depositHash, testClaimant)),
		Claimant:  testClaimant,
	}
	if err := f.oracle.HandleProofSubmitted(context.Background(), ev); err != nil {
		t.Fatalf("HandleProofSubmitted() error = %v", err)
	}

	if _, _, mints := f.bridge.counts(); mints != 0 {
		t.Errorf("mint calls = %d, want 0", mints)
	}
	row, _ := f.journal.GetMint(depositHash)
	if row == nil || row.Status != config.MintStatusRejected {
		t.Errorf("journal row = %+v, want rejected", row)
	}
}

func TestHandleProofSubmitted_Rejections(t *testing.T) {
	alice := newDepositor(t, 0x21)
	mallory := newDepositor(t, 0x23)

	tests := []struct {
		name    string
		payee   func(f *fixture) string
		signer  depositor
		message string
	}{
		{"signed by another key", func(f *fixture) string { return f.tracked }, mallory, ProofMessage(depositHash, testClaimant)},
		{"signed for another claimant", func(f *fixture) string { return f.tracked },
			alice, ProofMessage(depositHash, common.HexToAddress("0x8888888888888888888888888888888888888888"))},
		{"deposit not to tracked address", func(f *fixture) string { return f.destination }, alice, ProofMessage(depositHash, testClaimant)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.btc.Payloads[depositHash] = esploraTx(depositHash, tt.payee(f), 42_000, 2, alice.address)

			ev := ProofSubmitted{TxHash: depositHash, Signature: tt.signer.sign(t, tt.message), Claimant: testClaimant}
			if err := f.oracle.HandleProofSubmitted(context.Background(), ev); err != nil {
				t.Fatalf("HandleProofSubmitted() error = %v", err)
			}
			if _, _, mints := f.bridge.counts(); mints != 0 {
				t.Errorf("mint calls = %d, want 0", mints)
			}
		})
	}
}

func TestHandleProofSubmitted_MintFailureNotJournaled(t *testing.T) {
	f := newFixture(t)
	alice := newDepositor(t, 0x21)
	f.btc.Payloads[depositHash] = esploraTx(depositHash, f.tracked, 42_000, 2, alice.address)
	f.bridge.mintErr = config.ErrConnectionLost

	ev := ProofSubmitted{
		TxHash:    depositHash,
		Signature: alice.sign(t, ProofMessage(depositHash, testClaimant)),
		Claimant:  testClaimant,
	}
	if err := f.oracle.HandleProofSubmitted(context.Background(), ev); !errors.Is(err, config.ErrConnectionLost) {
		t.Fatalf("HandleProofSubmitted() error = %v, want ErrConnectionLost", err)
	}

	row, _ := f.journal.GetMint(depositHash)
	if row != nil {
		t.Errorf("failed mint was journaled: %+v", row)
	}
}
