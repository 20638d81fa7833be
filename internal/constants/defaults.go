package constants

// Scheduler loop defaults
const (
	DefaultTickIntervalSec   = 60
	DefaultTimezone          = "Asia/Tokyo"
	DispatchToleranceSec     = 60
	DefaultRecomputeDelaySec = 10
)

// Pattern search
const (
	PatternSearchHorizonDays = 14
)

// Publishing throughput ceilings
const (
	DefaultMinDispatchGapMinutes = 30
	DefaultDailyDispatchCeiling  = 30
	DefaultWeeklyDispatchCeiling = 200
)

// Delivery retry policy
const (
	MaxRateLimitRetries       = 2
	RateLimitRetryStepMinutes = 5
	RateLimitDeferralMinutes  = 30
	TransientRetryHours       = 2
	PostSuccessFloorHours     = 24
)

// Sweep thresholds for stale scheduled times
const (
	StaleAfterHours    = 24
	MissedSlotPushDays = 7
)

// Message constraints
const (
	MaxContentLength   = 280
	MaxJitterMinutes   = 60
	MaxPostponeMinutes = 1440
	MinPostponeMinutes = 1
)

// Default retry/backoff values
const (
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultMaxAttempts           = 5
	DefaultDatabaseRetryAttempts = 3
)

// Default timeout values
const (
	DefaultHTTPTimeoutSec        = 30
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultServerPort            = 8082
	ServerErrorChannelSize       = 1
)

// Credential encryption
const (
	EncryptionSalt       = "piyoxassistant-credential-salt-v1"
	EncryptionLookupSalt = "piyoxassistant-lookup-salt-v1"
)
