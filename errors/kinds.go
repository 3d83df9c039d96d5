package errors

import (
	"context"
	"net/http"
)

// Kind is the stable error classification emitted as the "kind" field on
// job:error envelopes and admin HTTP error bodies. Kinds are part of the
// wire contract; the string values never change.
type Kind string

const (
	KindBadRequest      Kind = "BadRequest"
	KindUnknownType     Kind = "UnknownType"
	KindRefNotFound     Kind = "RefNotFound"
	KindQueueFull       Kind = "QueueFull"
	KindDreamBusy       Kind = "DreamBusy"
	KindModeNotFound    Kind = "ModeNotFound"
	KindModelLoadFailed Kind = "ModelLoadFailed"
	KindWorkerFailure   Kind = "WorkerFailure"
	KindCanceled        Kind = "Canceled"
	KindShutdown        Kind = "Shutdown"
	KindTimeout         Kind = "Timeout"
)

// Canonical instances for errors.Is checks. All carry their kind.
var (
	ErrQueueFull    = NewKind(KindQueueFull, "queue full")
	ErrDreamBusy    = NewKind(KindDreamBusy, "already dreaming")
	ErrRefNotFound  = NewKind(KindRefNotFound, "file ref not found or expired")
	ErrModeNotFound = NewKind(KindModeNotFound, "mode not found")
	ErrCanceled     = NewKind(KindCanceled, "canceled")
	ErrShutdown     = NewKind(KindShutdown, "shutting down")
	ErrTimeout      = NewKind(KindTimeout, "job exceeded maximum execution time")
)

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// WithKind marks err with a taxonomy kind. The kind survives further
// wrapping; the most recent mark wins when several are present.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// NewKind creates a new error already marked with kind.
func NewKind(kind Kind, msg string) error {
	return WithKind(New(msg), kind)
}

// NewKindf creates a new formatted error already marked with kind.
func NewKindf(kind Kind, format string, args ...interface{}) error {
	return WithKind(Newf(format, args...), kind)
}

// KindOf classifies err. Unmarked errors fall into KindWorkerFailure, the
// bucket for uncategorized internal failures; context cancellation and
// deadline errors classify as Canceled and Timeout respectively.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *kindError
	if As(err, &ke) {
		return ke.kind
	}
	if Is(err, context.Canceled) {
		return KindCanceled
	}
	if Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindWorkerFailure
}

// HTTPStatus maps a kind onto the status code the HTTP bridge replies with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindBadRequest, KindUnknownType:
		return http.StatusBadRequest
	case KindRefNotFound, KindModeNotFound:
		return http.StatusNotFound
	case KindQueueFull:
		return http.StatusTooManyRequests
	case KindDreamBusy:
		return http.StatusConflict
	case KindCanceled:
		return 499 // client closed request
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindShutdown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// TruncateMessage bounds err's message for wire envelopes. Worker failures
// can carry deep wrapped chains; clients only need the head.
func TruncateMessage(err error, max int) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) <= max {
		return msg
	}
	return msg[:max] + "…"
}
