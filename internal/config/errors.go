package config

import (
	"errors"
	"time"
)

// Sentinel errors for internal use.
var (
	ErrInvalidConfig = errors.New("invalid configuration")

	// Provider (single endpoint failures, excluded from consensus)
	ErrProviderRateLimit   = errors.New("provider rate limit exceeded")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderTimeout     = errors.New("provider request timeout")
	ErrTxNotFound          = errors.New("transaction not found")
	ErrUnsupported         = errors.New("operation not supported by this provider")
	ErrCircuitOpen         = errors.New("circuit breaker is open")
	ErrAllProvidersFailed  = errors.New("all providers failed")
	ErrUnknownProvider     = errors.New("unknown provider")

	// Consensus
	ErrConsensusUnavailable = errors.New("consensus unavailable: every provider failed")
	ErrQuorumNotReached     = errors.New("provider quorum not reached")

	// Planning and building
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrNoUTXOs            = errors.New("no UTXOs available for tracked address")
	ErrUTXOFetchFailed    = errors.New("UTXO fetch failed")
	ErrFeeEstimateFailed  = errors.New("fee estimation failed")
	ErrDustOutput         = errors.New("output below dust threshold")
	ErrInvalidDestination = errors.New("invalid destination address")
	ErrSigningFailed      = errors.New("signing failed")
	ErrSessionFailed      = errors.New("signer session failed")
	ErrTransactionFailed  = errors.New("transaction broadcast failed")
	ErrTxRejected         = errors.New("transaction rejected by network")

	// Verification (treated as "not proven", never as a crash)
	ErrVerificationFailed = errors.New("signature verification failed")
	ErrAmbiguousSender    = errors.New("transaction sender is ambiguous")
	ErrNotTracked         = errors.New("transaction does not pay the tracked address")

	// Chain connection
	ErrConnectionLost     = errors.New("chain connection lost")
	ErrReconnectExhausted = errors.New("chain reconnect attempts exhausted")
	ErrReconnectInFlight  = errors.New("chain reconnect already in progress")
	ErrCustodyFailed      = errors.New("key custody request failed")
)

// TransientError wraps an error that should be retried.
type TransientError struct {
	Err        error
	RetryAfter time.Duration // 0 = use default backoff
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient (retriable).
func NewTransientError(err error) error {
	return &TransientError{Err: err}
}

// NewTransientErrorWithRetry wraps with explicit retry delay.
func NewTransientErrorWithRetry(err error, retryAfter time.Duration) error {
	return &TransientError{Err: err, RetryAfter: retryAfter}
}

// IsTransient returns true if the error is transient (retriable).
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// GetRetryAfter returns the retry delay if set, or 0.
func GetRetryAfter(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// Error codes returned by the ops API.
const (
	ErrorDatabase       = "ERROR_DATABASE"
	ErrorInvalidRequest = "ERROR_INVALID_REQUEST"
	ErrorNotFound       = "ERROR_NOT_FOUND"
)
