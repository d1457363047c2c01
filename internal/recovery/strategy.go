// Package recovery classifies failed operations, retries the transient ones
// with exponential backoff, and keeps a user-inspectable record of anything
// it could not fix.
package recovery

// Kind classifies a failure.
type Kind string

const (
	KindNetwork     Kind = "network"
	KindSyncFailure Kind = "sync_failure"
	KindValidation  Kind = "validation"
	KindPermission  Kind = "permission"
	KindTimeout     Kind = "timeout"
	KindConflict    Kind = "conflict"
	KindUnknown     Kind = "unknown"
)

// Strategy is the policy applied to a failure of a given kind.
type Strategy string

const (
	StrategyRetry     Strategy = "retry"
	StrategyReconnect Strategy = "reconnect"
	StrategyRefresh   Strategy = "refresh"
	StrategyReauth    Strategy = "reauth"
	StrategyManual    Strategy = "manual"
	StrategyIgnore    Strategy = "ignore"
)

// Per-kind retry caps. A kind with no entry retries up to the manager's
// configured maximum.
var retryCaps = map[Kind]int{
	KindSyncFailure: 2,
	KindTimeout:     3,
}

// retryLimit returns the effective maximum retries for kind.
func retryLimit(kind Kind, maxRetries int) int {
	if cap, ok := retryCaps[kind]; ok && cap < maxRetries {
		return cap
	}
	return maxRetries
}

// StrategyFor selects the recovery strategy for a failure of the given kind
// after retryCount attempts. Pure function of its inputs.
func StrategyFor(kind Kind, retryCount, maxRetries int) Strategy {
	switch kind {
	case KindNetwork:
		if retryCount < retryLimit(kind, maxRetries) {
			return StrategyRetry
		}
		return StrategyReconnect
	case KindSyncFailure, KindTimeout:
		if retryCount < retryLimit(kind, maxRetries) {
			return StrategyRetry
		}
		return StrategyManual
	case KindPermission:
		return StrategyReauth
	case KindValidation, KindConflict:
		return StrategyManual
	default:
		return StrategyManual
	}
}

// FriendlyMessage returns the user-facing description for a failure kind.
func FriendlyMessage(kind Kind) string {
	switch kind {
	case KindNetwork:
		return "Connection problem. We'll keep trying in the background."
	case KindSyncFailure:
		return "Syncing with your bank failed. Retrying shortly."
	case KindValidation:
		return "The data looks invalid. Please review it and try again."
	case KindPermission:
		return "Access denied. Please sign in again."
	case KindTimeout:
		return "The operation timed out. Retrying shortly."
	case KindConflict:
		return "The conflict could not be resolved automatically. Please resolve it manually."
	default:
		return "Something went wrong. Please try again."
	}
}
