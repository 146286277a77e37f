// Package custody talks to the co-located key-custody service, which holds
// the oracle's EVM key and relays signed EVM transactions.
package custody

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/Fantasim/btcoracle/internal/config"
)

// Client is an HTTP client for the custody service. The service is trusted
// by co-location; requests carry no authentication.
type Client struct {
	http *resty.Client
}

// New creates a client for the custody service at baseURL.
func New(baseURL string) *Client {
	slog.Info("custody client created", "baseURL", baseURL)
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(config.CustodyTimeout).
			SetHeader("Accept", "application/json"),
	}
}

// GenerateKey returns the secret for keyID, creating it on first use.
func (c *Client) GenerateKey(ctx context.Context, keyID string) (*ecdsa.PrivateKey, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"keyId": keyID}).
		Post("/keys")
	if err != nil {
		return nil, fmt.Errorf("%w: generate key: %s", config.ErrCustodyFailed, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: generate key: HTTP %d: %s", config.ErrCustodyFailed, resp.StatusCode(), resp.String())
	}

	secret := gjson.GetBytes(resp.Body(), "secret").String()
	raw, err := hexutil.Decode(ensure0x(secret))
	if err != nil {
		return nil, fmt.Errorf("%w: generate key: bad secret encoding", config.ErrCustodyFailed)
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: generate key: %s", config.ErrCustodyFailed, err)
	}

	slog.Info("custody key loaded",
		"keyId", keyID,
		"address", crypto.PubkeyToAddress(key.PublicKey).Hex(),
	)

	return key, nil
}

// SubmitSignedPayload relays a signed EVM transaction and returns its hash.
func (c *Client) SubmitSignedPayload(ctx context.Context, txBytes []byte) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"payload": hexutil.Encode(txBytes)}).
		Post("/transactions")
	if err != nil {
		return "", fmt.Errorf("%w: submit payload: %s", config.ErrCustodyFailed, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: submit payload: HTTP %d: %s", config.ErrCustodyFailed, resp.StatusCode(), resp.String())
	}

	hash := gjson.GetBytes(resp.Body(), "transactionHash").String()
	if hash == "" {
		return "", fmt.Errorf("%w: submit payload: response has no transactionHash", config.ErrCustodyFailed)
	}

	slog.Debug("signed payload submitted", "txHash", hash, "bytes", len(txBytes))
	return hash, nil
}

func ensure0x(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}
