// Package providertest provides an in-memory provider.Client for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/models"
	"github.com/Fantasim/btcoracle/internal/provider"
)

// Fake is a configurable provider.Client. Zero-value maps answer not-found.
type Fake struct {
	ProviderName string
	ProviderKind models.ProviderKind

	// Delay is applied before every answer; ctx cancellation is honoured.
	Delay time.Duration

	Payloads     map[string]*provider.Payload
	TxErr        error
	Tip          int64
	PrevOuts     map[string]string // "txid:vout" -> address
	RawTxs       map[string][]byte
	UTXOs        map[string][]models.UTXO
	FeeRate      decimal.Decimal // BTC/kB
	FeeErr       error
	BroadcastErr error

	mu         sync.Mutex
	broadcasts []string
	fetches    int
}

var _ provider.Client = (*Fake)(nil)

func (f *Fake) Name() string { return f.ProviderName }

func (f *Fake) Kind() models.ProviderKind {
	if f.ProviderKind == "" {
		return models.ProviderKindEsplora
	}
	return f.ProviderKind
}

func (f *Fake) wait(ctx context.Context) error {
	if f.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(f.Delay):
		return nil
	}
}

func (f *Fake) FetchTx(ctx context.Context, txHash string) (*provider.Payload, error) {
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()

	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.TxErr != nil {
		return nil, f.TxErr
	}
	p, ok := f.Payloads[txHash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", config.ErrTxNotFound, txHash)
	}
	return p, nil
}

func (f *Fake) TipHeight(ctx context.Context) (int64, error) {
	if err := f.wait(ctx); err != nil {
		return 0, err
	}
	return f.Tip, nil
}

func (f *Fake) PrevOutAddress(ctx context.Context, txid string, vout uint32) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	addr, ok := f.PrevOuts[fmt.Sprintf("%s:%d", txid, vout)]
	if !ok {
		return "", fmt.Errorf("%w: %s:%d", config.ErrTxNotFound, txid, vout)
	}
	return addr, nil
}

func (f *Fake) RawTx(ctx context.Context, txid string) ([]byte, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	raw, ok := f.RawTxs[txid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", config.ErrTxNotFound, txid)
	}
	return raw, nil
}

func (f *Fake) ListUTXOs(ctx context.Context, address string) ([]models.UTXO, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.UTXOs[address], nil
}

func (f *Fake) EstimateSmartFee(ctx context.Context, targetBlocks int) (decimal.Decimal, error) {
	if err := f.wait(ctx); err != nil {
		return decimal.Zero, err
	}
	if f.FeeErr != nil {
		return decimal.Zero, f.FeeErr
	}
	return f.FeeRate, nil
}

func (f *Fake) Broadcast(ctx context.Context, rawHex string) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	if f.BroadcastErr != nil {
		return "", f.BroadcastErr
	}
	f.mu.Lock()
	f.broadcasts = append(f.broadcasts, rawHex)
	f.mu.Unlock()
	return fmt.Sprintf("txid-%d", len(rawHex)), nil
}

// Broadcasts returns every raw hex accepted by Broadcast.
func (f *Fake) Broadcasts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.broadcasts))
	copy(out, f.broadcasts)
	return out
}

// Fetches returns how many times FetchTx was called.
func (f *Fake) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}
