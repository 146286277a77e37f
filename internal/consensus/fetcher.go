// Package consensus looks a transaction up on every configured provider and
// reconciles their answers into one TransactionFacts.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/chaincfg"
	"golang.org/x/sync/errgroup"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/models"
	"github.com/Fantasim/btcoracle/internal/provider"
)

// Options configures a Fetcher.
type Options struct {
	// TrackedAddress is the bridge's Bitcoin address; outputs paying it are
	// summed into AmountToTracked.
	TrackedAddress string
	Params         *chaincfg.Params
	// MinAgreeing is the number of providers that must return identical
	// facts before Fetch succeeds. Values below 1 are treated as 1.
	MinAgreeing int
}

// Fetcher fans a lookup out to all providers and votes on the results.
type Fetcher struct {
	clients     []provider.Client
	tracked     string
	params      *chaincfg.Params
	minAgreeing int
}

// New creates a fetcher over clients, which should already be guarded.
func New(clients []provider.Client, opts Options) *Fetcher {
	minAgreeing := opts.MinAgreeing
	if minAgreeing < 1 {
		minAgreeing = 1
	}
	params := opts.Params
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	return &Fetcher{
		clients:     clients,
		tracked:     opts.TrackedAddress,
		params:      params,
		minAgreeing: minAgreeing,
	}
}

// outcome is one provider's settled answer. seq is its arrival position.
type outcome struct {
	provider string
	seq      int64
	facts    *models.TransactionFacts
	err      error
}

// Fetch queries every provider concurrently and waits for all of them to
// settle. Failed and empty answers are dropped; the remaining facts are
// grouped by exact equality and the largest group wins, ties going to the
// group whose first member answered earliest.
func (f *Fetcher) Fetch(ctx context.Context, txHash string) (*models.TransactionFacts, error) {
	if len(f.clients) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", config.ErrConsensusUnavailable)
	}

	var (
		g        errgroup.Group
		mu       sync.Mutex
		arrivals atomic.Int64
		outcomes = make([]outcome, 0, len(f.clients))
	)

	// Provider failures stay in outcomes; the group reports only cancellation.
	for _, c := range f.clients {
		g.Go(func() error {
			o := f.query(ctx, c, txHash, &arrivals)
			mu.Lock()
			outcomes = append(outcomes, o)
			mu.Unlock()
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", txHash, err)
	}

	var (
		answers []outcome
		errs    []error
	)
	for _, o := range outcomes {
		if o.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.provider, o.err))
			continue
		}
		answers = append(answers, o)
	}

	if len(answers) == 0 {
		return nil, fmt.Errorf("%w: %s: %w", config.ErrConsensusUnavailable, txHash, errors.Join(errs...))
	}

	groups := vote(answers)
	winner := groups[0]

	if len(groups) > 1 {
		attrs := []any{"txHash", txHash, "groups", len(groups)}
		for i, grp := range groups {
			attrs = append(attrs, fmt.Sprintf("group%d", i), fmt.Sprintf("%v votes=%d", grp.providers, len(grp.providers)))
		}
		slog.Warn("providers disagree on transaction facts", attrs...)
	}

	if len(winner.providers) < f.minAgreeing {
		return nil, fmt.Errorf("%w: %s: %d of %d required providers agree",
			config.ErrQuorumNotReached, txHash, len(winner.providers), f.minAgreeing)
	}

	slog.Debug("transaction facts reconciled",
		"txHash", txHash,
		"answered", len(answers),
		"failed", len(errs),
		"agreeing", len(winner.providers),
		"source", winner.facts.SourceProvider,
	)

	return winner.facts, nil
}

func (f *Fetcher) query(ctx context.Context, c provider.Client, txHash string, arrivals *atomic.Int64) outcome {
	payload, err := c.FetchTx(ctx, txHash)
	seq := arrivals.Add(1)
	if err != nil {
		slog.Debug("provider lookup failed",
			"provider", c.Name(),
			"txHash", txHash,
			"error", err,
		)
		return outcome{provider: c.Name(), seq: seq, err: err}
	}

	facts, err := normalize(ctx, c, payload, f.tracked, f.params)
	if err != nil {
		slog.Warn("provider payload rejected",
			"provider", c.Name(),
			"txHash", txHash,
			"error", err,
		)
		return outcome{provider: c.Name(), seq: seq, err: err}
	}
	if facts.TxHash == "" {
		return outcome{provider: c.Name(), seq: seq, err: fmt.Errorf("%w: empty answer", config.ErrTxNotFound)}
	}

	return outcome{provider: c.Name(), seq: seq, facts: facts}
}
