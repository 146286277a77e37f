package provider

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/models"
)

// esploraUTXO is the JSON response from the Esplora /address/{addr}/utxo endpoint.
type esploraUTXO struct {
	TxID   string        `json:"txid"`
	Vout   uint32        `json:"vout"`
	Status EsploraStatus `json:"status"`
	Value  int64         `json:"value"` // satoshis
}

// EsploraClient talks to a Blockstream/mempool.space compatible HTTP API.
type EsploraClient struct {
	name    string
	client  *http.Client
	baseURL string
}

// NewEsploraClient creates a client for an Esplora API rooted at baseURL.
func NewEsploraClient(name, baseURL string, client *http.Client) *EsploraClient {
	slog.Info("esplora provider created",
		"provider", name,
		"baseURL", baseURL,
	)
	return &EsploraClient{
		name:    name,
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (c *EsploraClient) Name() string              { return c.name }
func (c *EsploraClient) Kind() models.ProviderKind { return models.ProviderKindEsplora }

// FetchTx fetches /tx/{hash}. The tip height is attached for confirmed
// transactions so confirmations can be derived from block_height.
func (c *EsploraClient) FetchTx(ctx context.Context, txHash string) (*Payload, error) {
	var tx EsploraTx
	if err := c.getJSON(ctx, "/tx/"+txHash, &tx); err != nil {
		return nil, err
	}

	payload := &Payload{
		Kind:     models.ProviderKindEsplora,
		Provider: c.name,
		Esplora:  &tx,
	}

	if tx.Status.Confirmed {
		tip, err := c.TipHeight(ctx)
		if err != nil {
			return nil, fmt.Errorf("tip height for %s: %w", txHash, err)
		}
		payload.TipHeight = tip
	}

	slog.Debug("esplora transaction fetched",
		"provider", c.name,
		"txHash", txHash,
		"confirmed", tx.Status.Confirmed,
		"blockHeight", tx.Status.BlockHeight,
		"inputs", len(tx.Vin),
		"outputs", len(tx.Vout),
	)

	return payload, nil
}

// TipHeight fetches /blocks/tip/height.
func (c *EsploraClient) TipHeight(ctx context.Context) (int64, error) {
	body, err := c.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s returned bad tip height %q", config.ErrProviderUnavailable, c.name, string(body))
	}
	return height, nil
}

// PrevOutAddress fetches the referenced transaction and returns its output's address.
func (c *EsploraClient) PrevOutAddress(ctx context.Context, txid string, vout uint32) (string, error) {
	var tx EsploraTx
	if err := c.getJSON(ctx, "/tx/"+txid, &tx); err != nil {
		return "", err
	}
	if int(vout) >= len(tx.Vout) {
		return "", fmt.Errorf("%w: output %d of %s", config.ErrTxNotFound, vout, txid)
	}
	return tx.Vout[vout].ScriptPubKeyAddress, nil
}

// RawTx fetches /tx/{txid}/hex.
func (c *EsploraClient) RawTx(ctx context.Context, txid string) ([]byte, error) {
	body, err := c.get(ctx, "/tx/"+txid+"/hex")
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s returned bad tx hex for %s: %s", config.ErrProviderUnavailable, c.name, txid, err)
	}
	return raw, nil
}

// ListUTXOs fetches confirmed UTXOs for a single address.
func (c *EsploraClient) ListUTXOs(ctx context.Context, address string) ([]models.UTXO, error) {
	var raw []esploraUTXO
	if err := c.getJSON(ctx, "/address/"+address+"/utxo", &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrUTXOFetchFailed, err)
	}

	utxos := make([]models.UTXO, 0, len(raw))
	for _, u := range raw {
		if !u.Status.Confirmed {
			slog.Debug("skipping unconfirmed UTXO",
				"provider", c.name,
				"txid", u.TxID,
				"vout", u.Vout,
				"value", u.Value,
			)
			continue
		}
		utxos = append(utxos, models.UTXO{
			TxID:        u.TxID,
			OutputIndex: u.Vout,
			ValueSats:   u.Value,
		})
	}

	slog.Debug("UTXOs fetched",
		"provider", c.name,
		"address", address,
		"total", len(raw),
		"confirmed", len(utxos),
	)

	return utxos, nil
}

// EstimateSmartFee reads /fee-estimates (sat/vB keyed by target) and returns BTC/kB.
func (c *EsploraClient) EstimateSmartFee(ctx context.Context, targetBlocks int) (decimal.Decimal, error) {
	var estimates map[string]float64
	if err := c.getJSON(ctx, "/fee-estimates", &estimates); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", config.ErrFeeEstimateFailed, err)
	}

	satPerVByte, ok := estimates[strconv.Itoa(targetBlocks)]
	if !ok || satPerVByte <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %s has no estimate for %d blocks", config.ErrFeeEstimateFailed, c.name, targetBlocks)
	}

	return decimal.NewFromFloat(satPerVByte).Mul(decimal.NewFromInt(1000)).Shift(-8), nil
}

// Broadcast posts the raw hex to /tx. A 400 means the network rejected the transaction.
func (c *EsploraClient) Broadcast(ctx context.Context, rawHex string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tx", strings.NewReader(rawHex))
	if err != nil {
		return "", fmt.Errorf("create broadcast request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", config.NewTransientError(fmt.Errorf("%w: broadcast to %s: %s", config.ErrProviderUnavailable, c.name, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read broadcast response: %w", err)
	}

	if resp.StatusCode == http.StatusBadRequest {
		return "", fmt.Errorf("%w: %s", config.ErrTxRejected, strings.TrimSpace(string(body)))
	}
	if err := c.statusError(resp); err != nil {
		return "", err
	}

	return strings.TrimSpace(string(body)), nil
}

func (c *EsploraClient) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s response from %s: %s", config.ErrProviderUnavailable, path, c.name, err)
	}
	return nil
}

func (c *EsploraClient) get(ctx context.Context, path string) ([]byte, error) {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, config.NewTransientError(fmt.Errorf("%w: %s: %s", config.ErrProviderUnavailable, c.name, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s on %s", config.ErrTxNotFound, path, c.name)
	}
	if err := c.statusError(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, config.NewTransientError(fmt.Errorf("%w: read %s body: %s", config.ErrProviderUnavailable, c.name, err))
	}
	return body, nil
}

func (c *EsploraClient) statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		slog.Warn("esplora rate limited", "provider", c.name)
		return config.NewTransientErrorWithRetry(
			fmt.Errorf("%w: %s", config.ErrProviderRateLimit, c.name),
			parseRetryAfter(resp.Header),
		)
	case resp.StatusCode >= 500:
		return config.NewTransientError(fmt.Errorf("%w: HTTP %d from %s", config.ErrProviderUnavailable, resp.StatusCode, c.name))
	default:
		return fmt.Errorf("%w: HTTP %d from %s", config.ErrProviderUnavailable, resp.StatusCode, c.name)
	}
}
