// Package signer is the client for the remote signing gateway that holds the
// bridge's Bitcoin key. Sessions are opened with a Sign-In with Ethereum
// message signed by the oracle's EVM key.
package signer

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/models"
)

// Client implements tx.RemoteSigner over HTTP.
type Client struct {
	http    *resty.Client
	baseURL string
	domain  string
	chainID int64
	key     *ecdsa.PrivateKey
	now     func() time.Time
}

// New creates a gateway client. key is the oracle's EVM key, used only to
// sign login messages.
func New(baseURL, domain string, chainID int64, key *ecdsa.PrivateKey) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	slog.Info("signer client created",
		"baseURL", baseURL,
		"domain", domain,
		"oracle", crypto.PubkeyToAddress(key.PublicKey).Hex(),
	)
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(config.SignerTimeout).
			SetHeader("Accept", "application/json"),
		baseURL: baseURL,
		domain:  domain,
		chainID: chainID,
		key:     key,
		now:     time.Now,
	}
}

// LoginMessage builds the EIP-4361 message for a new session.
func (c *Client) LoginMessage(nonce string) string {
	address := crypto.PubkeyToAddress(c.key.PublicKey).Hex()
	return fmt.Sprintf("%s wants you to sign in with your Ethereum account:\n%s\n\n%s\n\nURI: %s\nVersion: 1\nChain ID: %d\nNonce: %s\nIssued At: %s",
		c.domain,
		address,
		config.SessionStatement,
		c.baseURL,
		c.chainID,
		nonce,
		c.now().UTC().Format(time.RFC3339),
	)
}

// Login opens a short-lived session and returns its token.
func (c *Client) Login(ctx context.Context) (string, error) {
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	message := c.LoginMessage(nonce)

	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), c.key)
	if err != nil {
		return "", fmt.Errorf("%w: sign login message: %s", config.ErrSessionFailed, err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"message":   message,
			"signature": hexutil.Encode(sig),
		}).
		Post("/login")
	if err != nil {
		return "", fmt.Errorf("%w: login: %s", config.ErrSessionFailed, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: login: HTTP %d: %s", config.ErrSessionFailed, resp.StatusCode(), resp.String())
	}

	token := gjson.GetBytes(resp.Body(), "token").String()
	if token == "" {
		return "", fmt.Errorf("%w: login response has no token", config.ErrSessionFailed)
	}

	slog.Debug("signer session opened", "nonce", nonce)
	return token, nil
}

// Sign asks the gateway to sign a 32-byte sighash. The gateway answers with
// raw r and s, not DER.
func (c *Client) Sign(ctx context.Context, sighash []byte, token string) (*models.SigningResult, error) {
	if len(sighash) != 32 {
		return nil, fmt.Errorf("%w: sighash must be 32 bytes, got %d", config.ErrSigningFailed, len(sighash))
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(map[string]string{"sighash": hex.EncodeToString(sighash)}).
		Post("/sign")
	if err != nil {
		return nil, fmt.Errorf("%w: sign request: %s", config.ErrSigningFailed, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: sign: HTTP %d: %s", config.ErrSigningFailed, resp.StatusCode(), resp.String())
	}

	body := gjson.ParseBytes(resp.Body())
	r, ok := parseBigInt(body.Get("r").String())
	if !ok {
		return nil, fmt.Errorf("%w: bad r in sign response", config.ErrSigningFailed)
	}
	s, ok := parseBigInt(body.Get("s").String())
	if !ok {
		return nil, fmt.Errorf("%w: bad s in sign response", config.ErrSigningFailed)
	}

	v := body.Get("v").Uint()
	if v >= 27 {
		v -= 27
	}

	return &models.SigningResult{
		Sighash:     sighash,
		Nonce:       body.Get("nonce").String(),
		R:           r,
		S:           s,
		RecoveryBit: uint8(v & 1),
	}, nil
}

// PublicKey returns the gateway key's SEC-encoded public key.
func (c *Client) PublicKey(ctx context.Context) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/public-key")
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %s", config.ErrSigningFailed, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: public key: HTTP %d", config.ErrSigningFailed, resp.StatusCode())
	}

	raw := strings.TrimPrefix(gjson.GetBytes(resp.Body(), "publicKey").String(), "0x")
	pub, err := hex.DecodeString(raw)
	if err != nil || len(pub) == 0 {
		return nil, fmt.Errorf("%w: bad public key encoding", config.ErrSigningFailed)
	}
	return pub, nil
}

// parseBigInt accepts 0x-prefixed hex or decimal.
func parseBigInt(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok || v.Sign() <= 0 {
		return nil, false
	}
	return v, true
}
