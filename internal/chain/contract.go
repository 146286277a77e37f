package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/models"
)

// rpcExecutionReverted is the JSON-RPC code for a reverted call.
const rpcExecutionReverted = 3

// PayloadSubmitter publishes a signed EVM transaction and returns its hash.
type PayloadSubmitter interface {
	SubmitSignedPayload(ctx context.Context, txBytes []byte) (string, error)
}

// Contract is the oracle's binding to the bridge contract. Reads go through
// eth_call; writes are signed locally with the oracle key and handed to the
// submitter.
type Contract struct {
	conn      *ConnectionManager
	abi       abi.ABI
	address   common.Address
	key       *ecdsa.PrivateKey
	from      common.Address
	chainID   *big.Int
	submitter PayloadSubmitter

	txLock sync.Mutex // serializes nonce selection
}

// NewContract binds the bridge contract at address.
func NewContract(conn *ConnectionManager, address common.Address, key *ecdsa.PrivateKey, chainID *big.Int, submitter PayloadSubmitter) (*Contract, error) {
	parsed, err := abi.JSON(strings.NewReader(BridgeABI))
	if err != nil {
		return nil, fmt.Errorf("parse bridge ABI: %w", err)
	}

	from := crypto.PubkeyToAddress(key.PublicKey)

	slog.Info("bridge contract bound",
		"contract", address.Hex(),
		"oracle", from.Hex(),
		"chainId", chainID,
	)

	return &Contract{
		conn:      conn,
		abi:       parsed,
		address:   address,
		key:       key,
		from:      from,
		chainID:   chainID,
		submitter: submitter,
	}, nil
}

// Address returns the contract address.
func (c *Contract) Address() common.Address { return c.address }

// From returns the address writes are signed with.
func (c *Contract) From() common.Address { return c.from }

// ABI returns the parsed bridge ABI.
func (c *Contract) ABI() abi.ABI { return c.abi }

func (c *Contract) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	backend, err := c.conn.EVM()
	if err != nil {
		return nil, err
	}

	out, err := backend.CallContract(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &c.address,
		Data: data,
	}, nil)
	if err != nil {
		return nil, c.conn.checkErr(fmt.Errorf("call %s: %w", method, err))
	}

	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// Oracle reads oracle().
func (c *Contract) Oracle(ctx context.Context) (common.Address, error) {
	out, err := c.call(ctx, MethodOracle)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("oracle(): unexpected type %T", out[0])
	}
	return addr, nil
}

// BitcoinAddress reads bitcoinAddress(), the tracked Bitcoin address.
func (c *Contract) BitcoinAddress(ctx context.Context) (string, error) {
	out, err := c.call(ctx, MethodBitcoinAddress)
	if err != nil {
		return "", err
	}
	addr, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("bitcoinAddress(): unexpected type %T", out[0])
	}
	return addr, nil
}

// BurnData reads the burn record for burnID.
func (c *Contract) BurnData(ctx context.Context, burnID *big.Int) (*models.BurnRecord, error) {
	out, err := c.call(ctx, MethodBurnData, burnID)
	if err != nil {
		return nil, err
	}
	if len(out) != 5 {
		return nil, fmt.Errorf("burnData(%s): expected 5 values, got %d", burnID, len(out))
	}

	user, ok1 := out[0].(common.Address)
	amount, ok2 := out[1].(*big.Int)
	destination, ok3 := out[2].(string)
	status, ok4 := out[3].(uint8)
	txHash, ok5 := out[4].(string)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil, fmt.Errorf("burnData(%s): unexpected value types", burnID)
	}

	return &models.BurnRecord{
		BurnID:             new(big.Int).Set(burnID),
		User:               user.Hex(),
		AmountSats:         amount,
		DestinationAddress: destination,
		Status:             models.BurnStatus(status),
		TransactionHash:    txHash,
	}, nil
}

// SetOracle calls setOracle(newOracle).
func (c *Contract) SetOracle(ctx context.Context, newOracle common.Address) (string, error) {
	return c.transact(ctx, MethodSetOracle, newOracle)
}

// Mint calls mint(to, amount, txHash). The Bitcoin txHash is the contract's
// replay key.
func (c *Contract) Mint(ctx context.Context, to common.Address, amount *big.Int, txHash string) (string, error) {
	return c.transact(ctx, MethodMint, to, amount, txHash)
}

// BurnSigned calls burnSigned(burnId, rawTx, txHash).
func (c *Contract) BurnSigned(ctx context.Context, burnID *big.Int, rawTx []byte, txHash string) (string, error) {
	return c.transact(ctx, MethodBurnSigned, burnID, rawTx, txHash)
}

// ValidateBurn calls validateBurn(burnId).
func (c *Contract) ValidateBurn(ctx context.Context, burnID *big.Int) (string, error) {
	return c.transact(ctx, MethodValidateBurn, burnID)
}

// transact builds a legacy transaction calling method, signs it with the
// oracle key under EIP-155 and submits it.
func (c *Contract) transact(ctx context.Context, method string, args ...any) (string, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("pack %s: %w", method, err)
	}

	c.txLock.Lock()
	defer c.txLock.Unlock()

	backend, err := c.conn.EVM()
	if err != nil {
		return "", err
	}

	nonce, err := backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", c.conn.checkErr(fmt.Errorf("pending nonce: %w", err))
	}

	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", c.conn.checkErr(fmt.Errorf("suggest gas price: %w", err))
	}

	gas, err := backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     c.from,
		To:       &c.address,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		var rpcErr rpc.Error
		switch {
		case errors.As(err, &rpcErr) && rpcErr.ErrorCode() == rpcExecutionReverted:
			return "", fmt.Errorf("%s reverted: %w", method, err)
		case isConnectionError(err):
			return "", c.conn.checkErr(fmt.Errorf("estimate gas for %s: %w", method, err))
		}
		slog.Warn("gas estimation failed, using fallback limit",
			"method", method,
			"fallbackGas", config.EVMFallbackGasLimit,
			"error", err,
		)
		gas = config.EVMFallbackGasLimit
	} else {
		gas = gas * config.EVMGasBufferNumerator / config.EVMGasBufferDenominator
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.address,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", method, err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", method, err)
	}

	hash, err := c.submitter.SubmitSignedPayload(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", method, err)
	}
	if hash == "" {
		hash = signed.Hash().Hex()
	}

	slog.Info("contract transaction submitted",
		"method", method,
		"evmTxHash", hash,
		"nonce", nonce,
		"gas", gas,
		"gasPrice", gasPrice,
	)

	return hash, nil
}
