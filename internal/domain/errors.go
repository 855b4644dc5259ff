package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable class of a failure. It is what API clients see
// in the "error" field of an error body.
type ErrorKind string

const (
	KindPayloadRejected    ErrorKind = "payload_rejected"
	KindUnsupportedFormat  ErrorKind = "unsupported_format"
	KindExtractionFailure  ErrorKind = "extraction_failure"
	KindIndexInconsistency ErrorKind = "index_inconsistency"
	KindStorageFailure     ErrorKind = "storage_failure"
	KindNotFound           ErrorKind = "not_found"
	KindDimensionMismatch  ErrorKind = "dimension_mismatch"
	KindInvalidRequest     ErrorKind = "invalid_request"
	KindUnavailable        ErrorKind = "unavailable"
	KindInternal           ErrorKind = "internal"
)

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a classified error.
func E(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first classified error in err's chain,
// or KindInternal if there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
