package errors

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Kind is the typed sum of error categories the retrieval pipeline's
// public operations (Search, Assemble, Rerank, Learn, ...) report to
// callers. It is a separate, coarser axis from Category: Category
// groups PampaxError by where it was raised (config/io/network/...);
// Kind groups it by what the pipeline caller should do about it.
type Kind string

const (
	KindInvalidInput Kind = "InvalidInput"
	KindNotFound     Kind = "NotFound"
	KindConflict     Kind = "Conflict"
	KindIntegrity    Kind = "Integrity"
	KindTimeout      Kind = "Timeout"
	KindCancelled    Kind = "Cancelled"
	KindRateLimited  Kind = "RateLimited"
	KindUnavailable  Kind = "Unavailable"
	KindExhausted    Kind = "Exhausted"
	KindInternal     Kind = "Internal"
)

// kindCode maps each Kind to a stable numeric-style code, following
// this package's ERR_XXX_DESCRIPTION convention so Kind-tagged errors still
// print through PampaxError.Error() the way every other error in the
// package does.
var kindCode = map[Kind]string{
	KindInvalidInput: "ERR_401_INVALID_INPUT",
	KindNotFound:     "ERR_404_NOT_FOUND",
	KindConflict:     "ERR_409_CONFLICT",
	KindIntegrity:    "ERR_410_INTEGRITY",
	KindTimeout:      "ERR_408_TIMEOUT",
	KindCancelled:    "ERR_499_CANCELLED",
	KindRateLimited:  "ERR_429_RATE_LIMITED",
	KindUnavailable:  "ERR_503_UNAVAILABLE",
	KindExhausted:    "ERR_420_EXHAUSTED",
	KindInternal:     ErrCodeInternal,
}

var kindRetryable = map[Kind]bool{
	KindTimeout:     true,
	KindRateLimited: true,
	KindUnavailable: true,
}

// KindedError is a PampaxError carrying a pipeline Kind and a correlation
// id, the shape every user-visible pipeline failure carries: error kind,
// human-readable message, correlation id.
type KindedError struct {
	*PampaxError
	Kind          Kind
	CorrelationID string
}

// NewKind builds a KindedError. message and cause follow the same
// convention as New/Wrap elsewhere in this package.
func NewKind(kind Kind, message string, cause error) *KindedError {
	code, ok := kindCode[kind]
	if !ok {
		code = ErrCodeInternal
	}
	ae := New(code, message, cause)
	ae.Retryable = kindRetryable[kind]
	return &KindedError{
		PampaxError:   ae,
		Kind:          kind,
		CorrelationID: NewCorrelationID(),
	}
}

func (e *KindedError) Error() string {
	return fmt.Sprintf("[%s] %s (correlation=%s)", e.Kind, e.Message, e.CorrelationID)
}

func (e *KindedError) Unwrap() error {
	return e.PampaxError
}

// KindOf extracts the Kind from an error, defaulting to KindInternal for
// errors that were never tagged with one.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if ke, ok := err.(*KindedError); ok {
		return ke.Kind
	}
	return KindInternal
}

// NewCorrelationID produces a short, non-secret id for log correlation.
// It is derived from a monotonic clock reading rather than crypto/rand
// since these ids only need to be unique enough to grep, not unguessable.
func NewCorrelationID() string {
	h := sha256.Sum256([]byte(time.Now().String()))
	return hex.EncodeToString(h[:])[:16]
}
