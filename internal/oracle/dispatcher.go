package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"github.com/Fantasim/btcoracle/internal/config"
)

// Handler reacts to one kind of bridge event each. *Oracle implements it.
type Handler interface {
	HandleProofSubmitted(ctx context.Context, ev ProofSubmitted) error
	HandleBurnGenerate(ctx context.Context, burnID *big.Int) error
	HandleBurnValidate(ctx context.Context, burnID *big.Int) error
}

// Dispatcher consumes events from one channel and runs each in its own
// goroutine, so no handler blocks another. Handler errors and panics are
// logged and never stop the loop.
type Dispatcher struct {
	handler     Handler
	stopTimeout time.Duration

	wg sync.WaitGroup

	mu   sync.Mutex
	seen *lru.Cache
}

// NewDispatcher creates a dispatcher for h.
func NewDispatcher(h Handler) *Dispatcher {
	return &Dispatcher{
		handler:     h,
		stopTimeout: config.HandlerShutdownTimeout,
		seen:        lru.New(config.HandledEventCacheSize),
	}
}

// Run dispatches events until ctx is done or events is closed, then waits for
// running handlers up to the shutdown timeout. Handlers are not cancelled by
// ctx: a started cycle runs to completion.
func (d *Dispatcher) Run(ctx context.Context, events <-chan Event) error {
	handlerCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			d.wait()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				d.wait()
				return nil
			}
			d.Dispatch(handlerCtx, ev)
		}
	}
}

// Dispatch starts the handler for ev unless the same emission was dispatched
// recently.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	key := ev.Name() + "/" + ev.Key()

	d.mu.Lock()
	_, dup := d.seen.Get(key)
	if !dup {
		d.seen.Add(key, struct{}{})
	}
	d.mu.Unlock()

	if dup {
		slog.Debug("duplicate event ignored", "event", ev.Name(), "key", ev.Key())
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.handle(ctx, ev)
	}()
}

func (d *Dispatcher) handle(ctx context.Context, ev Event) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked",
				"event", ev.Name(),
				"key", ev.Key(),
				"panic", fmt.Sprint(r),
			)
		}
	}()

	var err error
	attrs := []any{"event", ev.Name(), "key", ev.Key()}

	switch e := ev.(type) {
	case ProofSubmitted:
		attrs = append(attrs, "txHash", e.TxHash, "claimant", e.Claimant.Hex())
		err = d.handler.HandleProofSubmitted(ctx, e)
	case BurnGenerate:
		attrs = append(attrs, "burnId", e.BurnID)
		err = d.handler.HandleBurnGenerate(ctx, e.BurnID)
	case BurnValidate:
		attrs = append(attrs, "burnId", e.BurnID)
		err = d.handler.HandleBurnValidate(ctx, e.BurnID)
	default:
		slog.Warn("unknown event type", "type", fmt.Sprintf("%T", ev))
		return
	}

	attrs = append(attrs, "duration", time.Since(start))
	if err != nil {
		slog.Error("event handler failed", append(attrs, "error", err)...)
		return
	}
	slog.Debug("event handled", attrs...)
}

func (d *Dispatcher) wait() {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("event handlers drained")
	case <-time.After(d.stopTimeout):
		slog.Warn("event handlers still running at shutdown", "timeout", d.stopTimeout)
	}
}
