package engine

import (
	"context"
	"errors"
	"net"
	"net/url"

	"github.com/sony/gobreaker"

	"github.com/jask/bankmatch/internal/recovery"
)

// ClassifyError maps a transport or engine failure onto a recovery kind.
// Timeout detection is ours (the engine has no timeout of its own); an open
// circuit counts as a network problem.
func ClassifyError(err error) recovery.Kind {
	if err == nil {
		return recovery.KindUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return recovery.KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return recovery.KindTimeout
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return recovery.KindNetwork
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Code == 401 || statusErr.Code == 403:
			return recovery.KindPermission
		case statusErr.Code == 408:
			return recovery.KindTimeout
		case statusErr.Code == 409:
			return recovery.KindConflict
		case statusErr.Code == 400 || statusErr.Code == 422:
			return recovery.KindValidation
		case statusErr.Code >= 500:
			return recovery.KindSyncFailure
		default:
			return recovery.KindUnknown
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return recovery.KindNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return recovery.KindNetwork
	}
	return recovery.KindUnknown
}
