package distance

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// TransientError is a provider failure worth retrying: quota exceeded,
// timeouts, network failures and server-side errors.
type TransientError struct {
	Status  string
	Message string
	Cause   error
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transient provider error %s: %s: %v", e.Status, e.Message, e.Cause)
	}
	return fmt.Sprintf("transient provider error %s: %s", e.Status, e.Message)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// FatalError is a provider failure that is not retried, or a transient
// failure that exhausted its attempts. Every pair of the batch is errored.
type FatalError struct {
	Status   string
	Message  string
	Attempts int
	Cause    error
}

func (e *FatalError) Error() string {
	msg := fmt.Sprintf("provider error %s after %d attempt(s): %s", e.Status, e.Attempts, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err is, or wraps, a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// classifyStatus maps a provider-level status to an error, nil for OK.
func classifyStatus(status, message string) error {
	switch status {
	case StatusOK:
		return nil
	case StatusOverQueryLimit, StatusUnknownError:
		return &TransientError{Status: status, Message: message}
	default:
		// REQUEST_DENIED, INVALID_REQUEST, MAX_*_EXCEEDED, OVER_DAILY_LIMIT
		// and anything undocumented.
		return &FatalError{Status: status, Message: message}
	}
}
