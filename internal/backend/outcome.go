package backend

import (
	"errors"
	"fmt"
)

// Outcome classifies the result of a single transmission attempt.
type Outcome int

const (
	// OutcomeSent means the backend accepted the whole batch.
	OutcomeSent Outcome = iota

	// OutcomeAuthExpired means the bearer token was rejected.
	OutcomeAuthExpired

	// OutcomeRateLimited means the backend asked the client to slow down.
	OutcomeRateLimited

	// OutcomeRejected is any other non-success response.
	OutcomeRejected

	// OutcomeNetworkError is a transport-level failure.
	OutcomeNetworkError
)

var (
	// ErrAuthExpired is matched by SendErrors with OutcomeAuthExpired.
	ErrAuthExpired = errors.New("authentication failed - token expired")

	// ErrRateLimited is matched by SendErrors with OutcomeRateLimited.
	ErrRateLimited = errors.New("rate limited - too many requests")
)

// String returns the outcome name used in logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeAuthExpired:
		return "auth_expired"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeRejected:
		return "rejected"
	case OutcomeNetworkError:
		return "network_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Retryable reports whether the attempt may succeed on a later pass
// without any change on the client side.
func (o Outcome) Retryable() bool {
	return o == OutcomeRateLimited || o == OutcomeNetworkError
}

// SendError describes a failed transmission attempt.
type SendError struct {
	// Detail is the response body or transport error text.
	Detail string

	// Err is the underlying transport error, if any.
	Err error

	// Outcome classifies the failure. Never OutcomeSent.
	Outcome Outcome

	// StatusCode is the HTTP status, or zero for transport failures.
	StatusCode int
}

// Error implements error.
func (e *SendError) Error() string {
	switch e.Outcome {
	case OutcomeAuthExpired:
		return ErrAuthExpired.Error()
	case OutcomeRateLimited:
		return ErrRateLimited.Error()
	case OutcomeNetworkError:
		return "network error: " + e.Detail
	default:
		return fmt.Sprintf("api error: %d - %s", e.StatusCode, e.Detail)
	}
}

// Is matches the sentinel for the error's outcome.
func (e *SendError) Is(target error) bool {
	switch target {
	case ErrAuthExpired:
		return e.Outcome == OutcomeAuthExpired
	case ErrRateLimited:
		return e.Outcome == OutcomeRateLimited
	default:
		return false
	}
}

// Unwrap returns the underlying transport error.
func (e *SendError) Unwrap() error {
	return e.Err
}

// OutcomeOf classifies any error returned by a sender. A nil error is
// OutcomeSent; unrecognised errors are OutcomeRejected.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeSent
	}

	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Outcome
	}

	switch {
	case errors.Is(err, ErrAuthExpired):
		return OutcomeAuthExpired
	case errors.Is(err, ErrRateLimited):
		return OutcomeRateLimited
	default:
		return OutcomeRejected
	}
}
