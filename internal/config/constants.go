package config

import "time"

// Transaction size estimate (legacy P2PKH inputs and outputs)
const (
	TxBaseSize        = 10
	TxInputSizeP2PKH  = 148
	TxOutputSizeP2PKH = 34
	TxSizeMarginPct   = 20
	PayoutOutputCount = 2
)

// Fee
const (
	FeeTargetBlocks        = 1
	FallbackFeeRateSatVB   = 10
	MinFeeRateSatVB        = 1
	TestnetMaxFeeRateSatVB = 2
	DustThresholdSats      = 546
)

// Bridge
const (
	DefaultConfirmations = 6
	SessionStatement     = "Sign in to the bridge signing gateway as oracle."
)

// Provider guard
const (
	ProviderDefaultTimeout    = 10 * time.Second
	ProviderDefaultRPS        = 5
	ProviderRetryDelay        = 500 * time.Millisecond
	CircuitBreakerThreshold   = 3
	CircuitBreakerCooldown    = 30 * time.Second
	CircuitBreakerHalfOpenMax = 1
)

// Circuit Breaker States
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half_open"
)

// Provider Health Status
const (
	ProviderStatusHealthy  = "healthy"
	ProviderStatusDegraded = "degraded"
	ProviderStatusDown     = "down"
)

// Events
const (
	EventChannelSize       = 64
	EventReplayCacheSize   = 4096
	EventLogBatchBlocks    = 2000
	HandledEventCacheSize  = 1024
	HandlerShutdownTimeout = 30 * time.Second
)

// Journal statuses
const (
	PayoutStatusBuilding  = "building"
	PayoutStatusSigned    = "signed"
	PayoutStatusBroadcast = "broadcast"
	PayoutStatusValidated = "validated"
	PayoutStatusFailed    = "failed"

	MintStatusSubmitted = "submitted"
	MintStatusRejected  = "rejected"
)

// EVM transactions
const (
	EVMGasBufferNumerator   = 120
	EVMGasBufferDenominator = 100
	EVMFallbackGasLimit     = 300_000
)

// HTTP clients
const (
	SignerTimeout  = 20 * time.Second
	CustodyTimeout = 20 * time.Second
	APITimeout     = 30 * time.Second
)

// Server
const (
	ServerReadTimeout    = 30 * time.Second
	ServerWriteTimeout   = 60 * time.Second
	ServerIdleTimeout    = 120 * time.Second
	ServerMaxHeaderBytes = 1 << 20
	ShutdownTimeout      = 45 * time.Second
)

// Logging
const (
	LogFilePrefix  = "oracle-"
	LogFilePattern = "oracle-%s.log" // %s = YYYY-MM-DD
	LogMaxAgeDays  = 30
)

// Database
const (
	DBBusyTimeout    = 5000 // milliseconds
	JournalListLimit = 100
)
