// Package xerrors carries the error-kind taxonomy shared by the provider
// adapter, index store, and transfer engines so callers can branch on
// failure class without string matching.
package xerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for retry and UI-surfacing decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindProvider
	KindPersistence
	KindFilesystem
	KindCancelled
	KindPaused
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindProvider:
		return "provider"
	case KindPersistence:
		return "persistence"
	case KindFilesystem:
		return "filesystem"
	case KindCancelled:
		return "cancelled"
	case KindPaused:
		return "paused"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind and, for provider errors,
// whether the caller may usefully retry.
type Error struct {
	Kind      Kind
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Provider wraps err as a KindProvider error.
func Provider(retryable bool, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindProvider, Retryable: retryable, Err: err}
}

// Persistence wraps err as a KindPersistence error.
func Persistence(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindPersistence, Err: err}
}

// Filesystem wraps err as a KindFilesystem error.
func Filesystem(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindFilesystem, Err: err}
}

// Validation wraps err as a KindValidation error.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// ErrCancelled and ErrPaused are the cooperative-cancellation sentinels.
// Workers return these instead of writing an "error" status.
var (
	ErrCancelled = &Error{Kind: KindCancelled, Err: errors.New("task cancelled")}
	ErrPaused    = &Error{Kind: KindPaused, Err: errors.New("task paused")}
)

// IsCancelled reports whether err is (or wraps) ErrCancelled.
func IsCancelled(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindCancelled
}

// IsPaused reports whether err is (or wraps) ErrPaused.
func IsPaused(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindPaused
}

// KindOf extracts the Kind from err, defaulting to KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is a provider error marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindProvider && e.Retryable
}

// classifier heuristics, grounded in the teacher's
// internal/cloud/storage/errors.go IsDiskFullError/IsNetworkError style.

// IsDiskFullError reports whether err looks like an out-of-space condition.
func IsDiskFullError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"no space left on device",
		"disk full",
		"out of disk space",
		"not enough space",
		"enospc",
		"disk quota exceeded",
	} {
		if strings.Contains(s, indicator) {
			return true
		}
	}
	return false
}

// IsNetworkError reports whether err looks transient/network-related.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"connection", "timeout", "network", "eof", "broken pipe", "tls handshake",
	} {
		if strings.Contains(s, indicator) {
			return true
		}
	}
	return false
}

// IsRateLimited reports whether err looks like a throttling response.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, indicator := range []string{"429", "slowdown", "throttl", "rate limit", "toomanyrequests"} {
		if strings.Contains(s, indicator) {
			return true
		}
	}
	return false
}
