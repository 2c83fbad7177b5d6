package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies every failure that can escape the credential and
// invocation layers.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindMalformed
	KindExpired
	KindForbidden
	KindRateLimited
	KindTransient
	KindCorruptRecord
	KindNotFound
	KindRejected
)

// Sentinels for errors.Is comparisons against classified errors.
var (
	ErrMalformed     = errors.New("credential malformed")
	ErrExpired       = errors.New("credential expired")
	ErrForbidden     = errors.New("access forbidden")
	ErrRateLimited   = errors.New("rate limited")
	ErrTransient     = errors.New("transient failure")
	ErrCorruptRecord = errors.New("corrupt vault record")
	ErrNotFound      = errors.New("not found")
	ErrRejected      = errors.New("request rejected")
)

// String returns the lower-case name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindExpired:
		return "expired"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	case KindCorruptRecord:
		return "corrupt_record"
	case KindNotFound:
		return "not_found"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindMalformed:
		return ErrMalformed
	case KindExpired:
		return ErrExpired
	case KindForbidden:
		return ErrForbidden
	case KindRateLimited:
		return ErrRateLimited
	case KindTransient:
		return ErrTransient
	case KindCorruptRecord:
		return ErrCorruptRecord
	case KindNotFound:
		return ErrNotFound
	case KindRejected:
		return ErrRejected
	default:
		return nil
	}
}

// Error is a classified failure. Op names the operation that failed, Status
// the last HTTP status seen (zero if none) and Attempts the number of sends.
type Error struct {
	Kind     ErrorKind
	Op       string
	Status   int
	Attempts int
	Err      error
}

// NewError returns a classified error for op wrapping cause.
func NewError(kind ErrorKind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && s == target
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
