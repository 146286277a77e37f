package models

import (
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
)

// Network represents the Bitcoin network the oracle operates on.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
	NetworkRegtest Network = "regtest"
)

// Params returns the btcd chain parameters for the network.
func (n Network) Params() *chaincfg.Params {
	switch n {
	case NetworkMainnet:
		return &chaincfg.MainNetParams
	case NetworkRegtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.TestNet3Params
	}
}

// IsTest reports whether the network carries no real value.
func (n Network) IsTest() bool {
	return n != NetworkMainnet
}

// ProviderKind identifies the response shape a Bitcoin provider speaks.
type ProviderKind string

const (
	ProviderKindNode    ProviderKind = "node"
	ProviderKindEsplora ProviderKind = "esplora"
)

// ProviderConfig describes one Bitcoin data provider. Immutable after load.
type ProviderConfig struct {
	Name        string        `json:"name" mapstructure:"name"`
	Kind        ProviderKind  `json:"kind" mapstructure:"kind"`
	Endpoint    string        `json:"endpoint" mapstructure:"endpoint"`
	Username    string        `json:"-" mapstructure:"username"`
	Password    string        `json:"-" mapstructure:"password"`
	Priority    int           `json:"priority" mapstructure:"priority"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
	RetryBudget int           `json:"retryBudget" mapstructure:"retry_budget"`
	RPS         int           `json:"rps" mapstructure:"rps"`
}

// TransactionFacts is the canonical, provider-independent view of a transaction
// relative to the tracked address. AmountToTracked > 0 iff ReceiverIsTracked.
type TransactionFacts struct {
	TxHash            string    `json:"txHash"`
	AmountToTracked   int64     `json:"amountToTracked"`
	SenderAddresses   []string  `json:"senderAddresses"` // sorted, unique
	ReceiverIsTracked bool      `json:"receiverIsTracked"`
	Confirmations     int64     `json:"confirmations"`
	BlockHeight       int64     `json:"blockHeight,omitempty"` // 0 = unconfirmed
	SourceProvider    string    `json:"sourceProvider"`
	ObservedAt        time.Time `json:"observedAt"`
}

// TxInput is a transaction input as reported by a provider, reduced to the
// material needed to recover its spending address.
type TxInput struct {
	Address   string // set when the provider annotates the prevout address
	Witness   [][]byte
	ScriptSig []byte
	PrevTxID  string
	PrevVout  uint32
	Coinbase  bool
}

// TxOutput is a transaction output as reported by a provider.
type TxOutput struct {
	Address   string
	ValueSats int64
}

// UTXO is an unspent output of the tracked address. Consumed once as an input.
type UTXO struct {
	TxID             string `json:"txid"`
	OutputIndex      uint32 `json:"vout"`
	ValueSats        int64  `json:"value"`
	PreviousRawTxHex string `json:"-"`
}

// BurnStatus is the contract-side lifecycle of a burn record.
type BurnStatus uint8

const (
	BurnRequested         BurnStatus = 0
	BurnGenerateRequested BurnStatus = 1
	BurnSigned            BurnStatus = 2
	BurnValidated         BurnStatus = 3
)

func (s BurnStatus) String() string {
	switch s {
	case BurnRequested:
		return "requested"
	case BurnGenerateRequested:
		return "generate_requested"
	case BurnSigned:
		return "signed"
	case BurnValidated:
		return "validated"
	default:
		return "unknown"
	}
}

// BurnRecord is owned by the bridge contract and read-only to the oracle.
type BurnRecord struct {
	BurnID             *big.Int
	User               string
	AmountSats         *big.Int
	DestinationAddress string
	Status             BurnStatus
	TransactionHash    string
}

// SigningResult is the external signer's raw answer for one sighash.
type SigningResult struct {
	Sighash     []byte
	Nonce       string
	R           *big.Int
	S           *big.Int
	RecoveryBit uint8
}
