package oracle

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event is a decoded bridge contract event.
type Event interface {
	Name() string
	// Key identifies one emission of the event on chain.
	Key() string
}

// Origin locates the log an event was decoded from.
type Origin struct {
	BlockNumber uint64
	EVMTxHash   string
	LogIndex    uint
}

func (o Origin) Key() string {
	return fmt.Sprintf("%s:%d", o.EVMTxHash, o.LogIndex)
}

// ProofSubmitted is TransactionProofSubmitted: a claimant asks for a mint
// against a Bitcoin deposit, proving ownership with a signed message.
type ProofSubmitted struct {
	Origin
	TxHash    string
	Signature string
	Claimant  common.Address
}

func (ProofSubmitted) Name() string { return "TransactionProofSubmitted" }

// BurnGenerate is BurnGenerateTransaction: the payout for a burn must be built.
type BurnGenerate struct {
	Origin
	BurnID *big.Int
}

func (BurnGenerate) Name() string { return "BurnGenerateTransaction" }

// BurnValidate is BurnValidateTransaction: a signed payout may be final.
type BurnValidate struct {
	Origin
	BurnID *big.Int
}

func (BurnValidate) Name() string { return "BurnValidateTransaction" }
