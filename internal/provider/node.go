package provider

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/shopspring/decimal"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/models"
)

// Bitcoin Core sendrawtransaction rejection codes.
const (
	rpcVerifyError          btcjson.RPCErrorCode = -25
	rpcVerifyRejected       btcjson.RPCErrorCode = -26
	rpcVerifyAlreadyInChain btcjson.RPCErrorCode = -27
	rpcWalletNotFound       btcjson.RPCErrorCode = -18
	rpcMethodNotFound       btcjson.RPCErrorCode = -32601
)

// NodeClient talks to a bitcoind-compatible JSON-RPC endpoint.
type NodeClient struct {
	name   string
	rpc    *rpcclient.Client
	params *chaincfg.Params
}

// NewNodeClient creates an HTTP POST mode RPC client. No connection is made
// until the first call.
func NewNodeClient(cfg models.ProviderConfig, params *chaincfg.Params) (*NodeClient, error) {
	host, useTLS := splitEndpoint(cfg.Endpoint)

	rpc, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         host,
		User:         cfg.Username,
		Pass:         cfg.Password,
		HTTPPostMode: true,
		DisableTLS:   !useTLS,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: node provider %q: %s", config.ErrInvalidConfig, cfg.Name, err)
	}

	slog.Info("node provider created",
		"provider", cfg.Name,
		"host", host,
		"tls", useTLS,
	)

	return &NodeClient{name: cfg.Name, rpc: rpc, params: params}, nil
}

func splitEndpoint(endpoint string) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), false
	default:
		return endpoint, false
	}
}

func (c *NodeClient) Name() string              { return c.name }
func (c *NodeClient) Kind() models.ProviderKind { return models.ProviderKindNode }

// Shutdown stops the underlying RPC client.
func (c *NodeClient) Shutdown() {
	c.rpc.Shutdown()
}

// await bridges an rpcclient future to ctx. The request itself is not
// cancelled; its result is dropped once ctx is done.
func await[T any](ctx context.Context, receive func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := receive()
		ch <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

// FetchTx calls getrawtransaction with verbose output.
func (c *NodeClient) FetchTx(ctx context.Context, txHash string) (*Payload, error) {
	hash, err := chainhash.NewHashFromStr(txHash)
	if err != nil {
		return nil, fmt.Errorf("%w: bad hash %q", config.ErrTxNotFound, txHash)
	}

	res, err := await(ctx, c.rpc.GetRawTransactionVerboseAsync(hash).Receive)
	if err != nil {
		return nil, c.mapError("getrawtransaction", err)
	}

	payload := &Payload{
		Kind:     models.ProviderKindNode,
		Provider: c.name,
		Node:     res,
	}

	if res.Confirmations > 0 {
		tip, err := c.TipHeight(ctx)
		if err != nil {
			return nil, fmt.Errorf("tip height for %s: %w", txHash, err)
		}
		payload.TipHeight = tip
	}

	slog.Debug("node transaction fetched",
		"provider", c.name,
		"txHash", txHash,
		"confirmations", res.Confirmations,
		"inputs", len(res.Vin),
		"outputs", len(res.Vout),
	)

	return payload, nil
}

// TipHeight calls getblockcount.
func (c *NodeClient) TipHeight(ctx context.Context) (int64, error) {
	height, err := await(ctx, c.rpc.GetBlockCountAsync().Receive)
	if err != nil {
		return 0, c.mapError("getblockcount", err)
	}
	return height, nil
}

// PrevOutAddress decodes the locking script of output vout of txid.
func (c *NodeClient) PrevOutAddress(ctx context.Context, txid string, vout uint32) (string, error) {
	payload, err := c.FetchTx(ctx, txid)
	if err != nil {
		return "", err
	}
	for _, out := range payload.Node.Vout {
		if out.N == vout {
			return ScriptAddress(out.ScriptPubKey.Hex, c.params), nil
		}
	}
	return "", fmt.Errorf("%w: output %d of %s", config.ErrTxNotFound, vout, txid)
}

// ScriptAddress returns the single standard address of a hex locking script,
// or "" when there is none.
func ScriptAddress(scriptHex string, params *chaincfg.Params) string {
	script, err := hex.DecodeString(scriptHex)
	if err != nil {
		return ""
	}
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, params)
	if err != nil || len(addrs) != 1 {
		return ""
	}
	return addrs[0].EncodeAddress()
}

// RawTx calls getrawtransaction without verbose output.
func (c *NodeClient) RawTx(ctx context.Context, txid string) ([]byte, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("%w: bad hash %q", config.ErrTxNotFound, txid)
	}

	tx, err := await(ctx, c.rpc.GetRawTransactionAsync(hash).Receive)
	if err != nil {
		return nil, c.mapError("getrawtransaction", err)
	}

	var buf bytes.Buffer
	if err := tx.MsgTx().Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize %s: %w", txid, err)
	}
	return buf.Bytes(), nil
}

// ListUTXOs calls listunspent filtered to address. The node wallet must be
// watching the address.
func (c *NodeClient) ListUTXOs(ctx context.Context, address string) ([]models.UTXO, error) {
	addr, err := btcutil.DecodeAddress(address, c.params)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %q: %s", config.ErrUTXOFetchFailed, address, err)
	}

	unspent, err := await(ctx, c.rpc.ListUnspentMinMaxAddressesAsync(1, 9_999_999, []btcutil.Address{addr}).Receive)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrUTXOFetchFailed, c.mapError("listunspent", err))
	}

	utxos := make([]models.UTXO, 0, len(unspent))
	for _, u := range unspent {
		utxos = append(utxos, models.UTXO{
			TxID:        u.TxID,
			OutputIndex: u.Vout,
			ValueSats:   BTCToSats(u.Amount),
		})
	}

	slog.Debug("UTXOs fetched",
		"provider", c.name,
		"address", address,
		"count", len(utxos),
	)

	return utxos, nil
}

// EstimateSmartFee calls estimatesmartfee in conservative mode.
func (c *NodeClient) EstimateSmartFee(ctx context.Context, targetBlocks int) (decimal.Decimal, error) {
	mode := btcjson.EstimateModeConservative
	res, err := await(ctx, c.rpc.EstimateSmartFeeAsync(int64(targetBlocks), &mode).Receive)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", config.ErrFeeEstimateFailed, c.mapError("estimatesmartfee", err))
	}
	if res.FeeRate == nil || *res.FeeRate <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %s returned no rate: %v", config.ErrFeeEstimateFailed, c.name, res.Errors)
	}
	return decimal.NewFromFloat(*res.FeeRate), nil
}

// Broadcast calls sendrawtransaction.
func (c *NodeClient) Broadcast(ctx context.Context, rawHex string) (string, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return "", fmt.Errorf("%w: bad hex: %s", config.ErrTxRejected, err)
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", fmt.Errorf("%w: %s", config.ErrTxRejected, err)
	}

	hash, err := await(ctx, c.rpc.SendRawTransactionAsync(&tx, false).Receive)
	if err != nil {
		return "", c.mapError("sendrawtransaction", err)
	}
	return hash.String(), nil
}

// mapError sorts RPC failures into the provider taxonomy.
func (c *NodeClient) mapError(method string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case btcjson.ErrRPCNoTxInfo:
			return fmt.Errorf("%w: %s %s: %s", config.ErrTxNotFound, c.name, method, rpcErr.Message)
		case rpcVerifyError, rpcVerifyRejected, rpcVerifyAlreadyInChain:
			return fmt.Errorf("%w: %s", config.ErrTxRejected, rpcErr.Message)
		case rpcWalletNotFound, rpcMethodNotFound:
			return fmt.Errorf("%w: %s %s: %s", config.ErrUnsupported, c.name, method, rpcErr.Message)
		}
		return fmt.Errorf("%w: %s %s: %s", config.ErrProviderUnavailable, c.name, method, rpcErr.Message)
	}

	return config.NewTransientError(fmt.Errorf("%w: %s %s: %s", config.ErrProviderUnavailable, c.name, method, err))
}
