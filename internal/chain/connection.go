package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/models"
	"github.com/Fantasim/btcoracle/internal/provider"
)

// Backend is the subset of an EVM JSON-RPC client the bridge binding needs.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Dialer opens an EVM backend for one RPC URL.
type Dialer func(ctx context.Context, url string) (Backend, error)

// BTCDialer builds the unguarded client for one Bitcoin provider.
type BTCDialer func(cfg models.ProviderConfig) (provider.Client, error)

// DialEthClient is the default Dialer.
func DialEthClient(ctx context.Context, url string) (Backend, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ConnectionOptions configures a ConnectionManager.
type ConnectionOptions struct {
	Registry        *provider.Registry
	HTTPClient      *http.Client
	Params          *chaincfg.Params
	OnBreakerChange provider.StateChangeFunc

	// EVMURLs are tried in order, first on Connect and again on every
	// reconnect attempt.
	EVMURLs           []string
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	DialEVM Dialer    // defaults to DialEthClient
	DialBTC BTCDialer // defaults to provider.Dial
}

// ConnectionManager owns every outbound chain connection of the process:
// guarded Bitcoin provider clients, created on first use and cached by
// provider name, and the EVM backend with its reconnect guard.
type ConnectionManager struct {
	registry *provider.Registry
	onChange provider.StateChangeFunc
	dialBTC  BTCDialer

	btcMu  sync.Mutex
	btc    map[string]provider.Client
	guards map[string]*provider.Guard

	evmURLs  []string
	dialEVM  Dialer
	attempts int
	delay    time.Duration

	evmMu  sync.RWMutex
	evm    Backend
	evmURL string

	reconnecting atomic.Bool
	fatal        chan error
	fatalOnce    sync.Once
}

// NewConnectionManager creates a manager. No connection is opened until
// Connect or the first provider lookup.
func NewConnectionManager(opts ConnectionOptions) *ConnectionManager {
	dialBTC := opts.DialBTC
	if dialBTC == nil {
		httpClient, params := opts.HTTPClient, opts.Params
		dialBTC = func(cfg models.ProviderConfig) (provider.Client, error) {
			return provider.Dial(cfg, httpClient, params)
		}
	}
	dialEVM := opts.DialEVM
	if dialEVM == nil {
		dialEVM = DialEthClient
	}
	attempts := opts.ReconnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	return &ConnectionManager{
		registry: opts.Registry,
		onChange: opts.OnBreakerChange,
		dialBTC:  dialBTC,
		btc:      make(map[string]provider.Client),
		guards:   make(map[string]*provider.Guard),
		evmURLs:  opts.EVMURLs,
		dialEVM:  dialEVM,
		attempts: attempts,
		delay:    opts.ReconnectDelay,
		fatal:    make(chan error, 1),
	}
}

// BTCClient returns the guarded client for the named provider, dialing it on
// first use.
func (m *ConnectionManager) BTCClient(name string) (provider.Client, error) {
	m.btcMu.Lock()
	defer m.btcMu.Unlock()

	if c, ok := m.btc[name]; ok {
		return c, nil
	}

	cfg, ok := m.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownProvider, name)
	}

	inner, err := m.dialBTC(cfg)
	if err != nil {
		return nil, fmt.Errorf("dial provider %s: %w", name, err)
	}

	guard := provider.NewGuard(cfg, m.onChange)
	c := provider.WithGuard(inner, guard)
	m.btc[name] = c
	m.guards[name] = guard

	slog.Info("bitcoin provider connected",
		"provider", name,
		"kind", cfg.Kind,
	)

	return c, nil
}

// BTCClients returns guarded clients for every registered provider in
// priority order. Providers that cannot be dialed are logged and left out.
func (m *ConnectionManager) BTCClients() ([]provider.Client, error) {
	names := m.registry.Names()
	clients := make([]provider.Client, 0, len(names))
	var errs []error
	for _, name := range names {
		c, err := m.BTCClient(name)
		if err != nil {
			slog.Error("provider unavailable", "provider", name, "error", err)
			errs = append(errs, err)
			continue
		}
		clients = append(clients, c)
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("%w: %w", config.ErrAllProvidersFailed, errors.Join(errs...))
	}
	return clients, nil
}

// BreakerStates returns the circuit breaker state of every provider dialed so far.
func (m *ConnectionManager) BreakerStates() map[string]string {
	m.btcMu.Lock()
	defer m.btcMu.Unlock()

	states := make(map[string]string, len(m.guards))
	for name, g := range m.guards {
		states[name] = g.Breaker().State()
	}
	return states
}

// Connect opens the EVM backend on the first reachable URL.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	backend, url, err := m.dialAny(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrConnectionLost, err)
	}
	m.swap(backend, url)
	return nil
}

func (m *ConnectionManager) dialAny(ctx context.Context) (Backend, string, error) {
	if len(m.evmURLs) == 0 {
		return nil, "", fmt.Errorf("%w: no EVM RPC URLs", config.ErrInvalidConfig)
	}

	errs := make([]error, 0, len(m.evmURLs))
	for _, url := range m.evmURLs {
		backend, err := m.dialEVM(ctx, url)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		if _, err := backend.BlockNumber(ctx); err != nil {
			backend.Close()
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		return backend, url, nil
	}
	return nil, "", errors.Join(errs...)
}

func (m *ConnectionManager) swap(backend Backend, url string) {
	m.evmMu.Lock()
	old := m.evm
	m.evm = backend
	m.evmURL = url
	m.evmMu.Unlock()

	if old != nil {
		old.Close()
	}

	slog.Info("EVM backend connected", "url", url)
}

// EVM returns the current EVM backend.
func (m *ConnectionManager) EVM() (Backend, error) {
	m.evmMu.RLock()
	defer m.evmMu.RUnlock()

	if m.evm == nil {
		return nil, config.ErrConnectionLost
	}
	return m.evm, nil
}

// Reconnecting reports whether a reconnect sequence is running.
func (m *ConnectionManager) Reconnecting() bool {
	return m.reconnecting.Load()
}

// Reconnect replaces the EVM backend, trying every URL up to the configured
// number of attempts with a fixed delay between attempts. Only one sequence
// runs at a time; overlapping calls return ErrReconnectInFlight. Exhausting
// the attempts is fatal and is also reported on Fatal().
func (m *ConnectionManager) Reconnect(ctx context.Context) error {
	if !m.reconnecting.CompareAndSwap(false, true) {
		return config.ErrReconnectInFlight
	}
	defer m.reconnecting.Store(false)

	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		slog.Warn("reconnecting EVM backend",
			"attempt", attempt,
			"maxAttempts", m.attempts,
		)

		backend, url, err := m.dialAny(ctx)
		if err == nil {
			m.swap(backend, url)
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == m.attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}

	err := fmt.Errorf("%w after %d attempts: %w", config.ErrReconnectExhausted, m.attempts, lastErr)
	slog.Error("EVM reconnect exhausted", "error", err)
	m.fatalOnce.Do(func() { m.fatal <- err })
	return err
}

// Fatal delivers the error that ended the last reconnect sequence, at most once.
func (m *ConnectionManager) Fatal() <-chan error {
	return m.fatal
}

// checkErr classifies err from an EVM call. Transport failures start a
// background reconnect and come back wrapped in ErrConnectionLost.
func (m *ConnectionManager) checkErr(err error) error {
	if !isConnectionError(err) {
		return err
	}

	go func() {
		if rerr := m.Reconnect(context.Background()); rerr != nil && !errors.Is(rerr, config.ErrReconnectInFlight) {
			slog.Error("EVM reconnect failed", "error", rerr)
		}
	}()

	return fmt.Errorf("%w: %w", config.ErrConnectionLost, err)
}

// isConnectionError reports whether err came from the transport rather than
// from a JSON-RPC answer.
func isConnectionError(err error) bool {
	if err == nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ethereum.NotFound) {
		return false
	}
	var rpcErr rpc.Error
	return !errors.As(err, &rpcErr)
}

// Close shuts down the EVM backend and every node provider client.
func (m *ConnectionManager) Close() {
	m.evmMu.Lock()
	if m.evm != nil {
		m.evm.Close()
		m.evm = nil
		m.evmURL = ""
	}
	m.evmMu.Unlock()

	m.btcMu.Lock()
	defer m.btcMu.Unlock()
	for name, c := range m.btc {
		if s, ok := c.(interface{ Shutdown() }); ok {
			s.Shutdown()
		}
		delete(m.btc, name)
	}
}

// EVMURL returns the RPC URL of the current EVM backend, or "" when disconnected.
func (m *ConnectionManager) EVMURL() string {
	m.evmMu.RLock()
	defer m.evmMu.RUnlock()
	return m.evmURL
}
