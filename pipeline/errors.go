package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies a pipeline failure. NotFound/Forbidden/Validation are
// terminal, user-actionable outcomes; the Unavailable kinds are transient
// infrastructure faults that must never be downgraded to a cache miss on the
// synchronous path; Compute marks a failed inference invocation.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindForbidden
	KindValidation
	KindCacheUnavailable
	KindStoreUnavailable
	KindCompute
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	case KindCacheUnavailable:
		return "cache_unavailable"
	case KindStoreUnavailable:
		return "store_unavailable"
	case KindCompute:
		return "compute"
	default:
		return "unknown"
	}
}

// Error is the single error shape the pipeline surfaces. CorrelationID ties
// the error to the log lines emitted while handling the same request.
type Error struct {
	Kind          Kind
	Op            string
	CorrelationID string
	Err           error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s [%s]", e.Op, e.Kind, e.CorrelationID)
	}
	return fmt.Sprintf("%s: %s: %v [%s]", e.Op, e.Kind, e.Err, e.CorrelationID)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err, or 0 when err is not a pipeline error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

type ctxKeyCorrelation struct{}

// WithCorrelation attaches a correlation identifier (normally the inbound
// request id) to ctx.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelation{}, id)
}

// CorrelationFrom returns the attached correlation id, minting one when the
// caller didn't provide any so every terminal error stays diagnosable.
func CorrelationFrom(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyCorrelation{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
