package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/models"
)

// Client is one Bitcoin data provider. Implementations return ErrTxNotFound
// for unknown transactions and ErrUnsupported for operations their backend
// cannot serve.
type Client interface {
	Name() string
	Kind() models.ProviderKind

	// FetchTx returns the provider's own view of a transaction.
	FetchTx(ctx context.Context, txHash string) (*Payload, error)
	// TipHeight returns the height of the provider's best block.
	TipHeight(ctx context.Context) (int64, error)
	// PrevOutAddress returns the address locked by output vout of txid,
	// or "" when the script has no standard address.
	PrevOutAddress(ctx context.Context, txid string, vout uint32) (string, error)
	// RawTx returns the serialized transaction.
	RawTx(ctx context.Context, txid string) ([]byte, error)
	// ListUTXOs returns confirmed unspent outputs locked to address.
	ListUTXOs(ctx context.Context, address string) ([]models.UTXO, error)
	// EstimateSmartFee returns the fee rate in BTC per kilobyte for the
	// given confirmation target.
	EstimateSmartFee(ctx context.Context, targetBlocks int) (decimal.Decimal, error)
	// Broadcast submits a signed transaction and returns its txid.
	Broadcast(ctx context.Context, rawHex string) (string, error)
}

// Payload is a tagged union of the transaction shapes providers return.
// Exactly one of Node or Esplora is set, matching Kind.
type Payload struct {
	Kind     models.ProviderKind
	Provider string
	Node     *btcjson.TxRawResult
	Esplora  *EsploraTx

	// TipHeight is the provider's best height at query time, 0 if unknown.
	TipHeight int64
}

// EsploraTx is the Esplora /tx/{txid} response.
type EsploraTx struct {
	TxID   string        `json:"txid"`
	Vin    []EsploraVin  `json:"vin"`
	Vout   []EsploraVout `json:"vout"`
	Status EsploraStatus `json:"status"`
}

// EsploraVin is one input of an Esplora transaction.
type EsploraVin struct {
	TxID       string       `json:"txid"`
	Vout       uint32       `json:"vout"`
	Prevout    *EsploraVout `json:"prevout"`
	ScriptSig  string       `json:"scriptsig"`
	Witness    []string     `json:"witness"`
	IsCoinbase bool         `json:"is_coinbase"`
}

// EsploraVout is one output of an Esplora transaction.
type EsploraVout struct {
	ScriptPubKey        string `json:"scriptpubkey"`
	ScriptPubKeyAddress string `json:"scriptpubkey_address"`
	Value               int64  `json:"value"` // satoshis
}

// EsploraStatus is the confirmation status of an Esplora transaction.
type EsploraStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int64 `json:"block_height"`
	BlockTime   int64 `json:"block_time"`
}

// Dial builds the client for a provider configuration.
func Dial(cfg models.ProviderConfig, httpClient *http.Client, params *chaincfg.Params) (Client, error) {
	switch cfg.Kind {
	case models.ProviderKindEsplora:
		return NewEsploraClient(cfg.Name, cfg.Endpoint, httpClient), nil
	case models.ProviderKindNode:
		return NewNodeClient(cfg, params)
	default:
		return nil, fmt.Errorf("%w: provider %q has unknown kind %q", config.ErrInvalidConfig, cfg.Name, cfg.Kind)
	}
}

// NewHTTPClient returns the shared HTTP client for Esplora providers.
// Per-call deadlines come from the guard, not from the client.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 8,
		},
	}
}

// BTCToSats converts a BTC amount as reported by node RPC to satoshis with a
// single rounding step.
func BTCToSats(btc float64) int64 {
	return decimal.NewFromFloat(btc).Shift(8).Round(0).IntPart()
}
