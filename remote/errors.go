package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Error kinds. A *Error matches its kind with errors.Is.
var (
	ErrRateLimited       = errors.New("rate limited")
	ErrNotFound          = errors.New("not found")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrTransient         = errors.New("transient failure")
	ErrPermanent         = errors.New("permanent failure")
)

// Error is a classified failure of a remote call.
type Error struct {
	Kind       error         // one of the Err* kinds above
	Op         string        // provider operation, e.g. "list_folder"
	RetryAfter time.Duration // server-requested wait, zero when not given
	Err        error         // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

// NewError builds a classified error.
func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Classify returns err as a *Error. Already classified errors pass through,
// network and deadline failures become transient, anything else permanent.
// Context cancellation is returned untouched.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if IsNetworkError(err) {
		return NewError(ErrTransient, op, err)
	}
	return NewError(ErrPermanent, op, err)
}

// IsNetworkError reports whether err is a timeout, DNS or connection level failure.
func IsNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// RetryAfter extracts the server-requested wait from err, zero if none.
func RetryAfter(err error) time.Duration {
	var re *Error
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}

// Retryable reports whether the call that produced err may be repeated.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}
