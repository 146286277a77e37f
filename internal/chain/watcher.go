package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/golang/groupcache/lru"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/oracle"
)

// Watcher polls the bridge contract's logs and emits typed events. A log is
// delivered at most once while it stays in the replay cache, so overlapping
// scans after a failure do not re-deliver it.
//
// Watcher is not safe for concurrent use; run one Run loop per instance.
type Watcher struct {
	conn     *ConnectionManager
	address  common.Address
	abi      abi.ABI
	topics   []common.Hash
	interval time.Duration
	batch    uint64

	next      uint64
	started   bool
	delivered *lru.Cache
}

// NewWatcher watches contract from startBlock. A zero startBlock starts at
// the chain head seen on the first poll.
func NewWatcher(conn *ConnectionManager, contract *Contract, startBlock uint64, interval time.Duration) *Watcher {
	parsed := contract.ABI()
	return &Watcher{
		conn:    conn,
		address: contract.Address(),
		abi:     parsed,
		topics: []common.Hash{
			parsed.Events[EventProofSubmitted].ID,
			parsed.Events[EventBurnGenerate].ID,
			parsed.Events[EventBurnValidate].ID,
		},
		interval:  interval,
		batch:     config.EventLogBatchBlocks,
		next:      startBlock,
		started:   startBlock != 0,
		delivered: lru.New(config.EventReplayCacheSize),
	}
}

// Next returns the first block the next poll will scan.
func (w *Watcher) Next() uint64 { return w.next }

// Run polls until ctx is done. Poll failures are logged and retried on the
// next tick.
func (w *Watcher) Run(ctx context.Context, out chan<- oracle.Event) error {
	slog.Info("event watcher started",
		"contract", w.address.Hex(),
		"fromBlock", w.next,
		"interval", w.interval,
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.Poll(ctx, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("event poll failed", "nextBlock", w.next, "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("event watcher stopped", "nextBlock", w.next)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll scans from the next unscanned block to the head in batches and sends
// every decoded event to out.
func (w *Watcher) Poll(ctx context.Context, out chan<- oracle.Event) error {
	backend, err := w.conn.EVM()
	if err != nil {
		return err
	}

	head, err := backend.BlockNumber(ctx)
	if err != nil {
		return w.conn.checkErr(fmt.Errorf("block number: %w", err))
	}

	if !w.started {
		w.next = head
		w.started = true
	}

	for from := w.next; from <= head; from = w.next {
		to := from + w.batch - 1
		if to > head {
			to = head
		}

		logs, err := backend.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{w.address},
			Topics:    [][]common.Hash{w.topics},
		})
		if err != nil {
			return w.conn.checkErr(fmt.Errorf("filter logs %d-%d: %w", from, to, err))
		}

		for i := range logs {
			if err := w.deliver(ctx, &logs[i], out); err != nil {
				return err
			}
		}

		slog.Debug("event logs scanned",
			"fromBlock", from,
			"toBlock", to,
			"logs", len(logs),
		)

		w.next = to + 1
	}

	return nil
}

func (w *Watcher) deliver(ctx context.Context, l *types.Log, out chan<- oracle.Event) error {
	if l.Removed {
		return nil
	}

	key := fmt.Sprintf("%s:%d", l.TxHash.Hex(), l.Index)
	if _, seen := w.delivered.Get(key); seen {
		return nil
	}

	ev, err := w.decode(l)
	if err != nil {
		slog.Warn("undecodable bridge log skipped",
			"evmTxHash", l.TxHash.Hex(),
			"logIndex", l.Index,
			"error", err,
		)
		w.delivered.Add(key, struct{}{})
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- ev:
	}
	w.delivered.Add(key, struct{}{})
	return nil
}

func (w *Watcher) decode(l *types.Log) (oracle.Event, error) {
	if len(l.Topics) < 2 {
		return nil, fmt.Errorf("expected 2 topics, got %d", len(l.Topics))
	}

	origin := oracle.Origin{
		BlockNumber: l.BlockNumber,
		EVMTxHash:   l.TxHash.Hex(),
		LogIndex:    l.Index,
	}

	switch l.Topics[0] {
	case w.abi.Events[EventProofSubmitted].ID:
		values, err := w.abi.Unpack(EventProofSubmitted, l.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack %s: %w", EventProofSubmitted, err)
		}
		if len(values) != 2 {
			return nil, fmt.Errorf("%s: expected 2 values, got %d", EventProofSubmitted, len(values))
		}
		txHash, ok1 := values[0].(string)
		signature, ok2 := values[1].(string)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%s: unexpected value types", EventProofSubmitted)
		}
		return oracle.ProofSubmitted{
			Origin:    origin,
			TxHash:    txHash,
			Signature: signature,
			Claimant:  common.BytesToAddress(l.Topics[1].Bytes()),
		}, nil

	case w.abi.Events[EventBurnGenerate].ID:
		return oracle.BurnGenerate{Origin: origin, BurnID: l.Topics[1].Big()}, nil

	case w.abi.Events[EventBurnValidate].ID:
		return oracle.BurnValidate{Origin: origin, BurnID: l.Topics[1].Big()}, nil
	}

	return nil, fmt.Errorf("unknown topic %s", l.Topics[0].Hex())
}
