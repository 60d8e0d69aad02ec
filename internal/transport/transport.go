// Package transport defines the interface for pluggable message transports.
//
// Each transport (gRPC, HTTP) implements this interface and delivers the
// messages it receives to a Service. The dispatcher doesn't care how
// messages arrive; it only works with the Service contract.
package transport

import (
	"context"
	"errors"

	"github.com/nadzzz/obivox/internal/atlas"
	"github.com/nadzzz/obivox/internal/codec"
	"github.com/nadzzz/obivox/internal/dispatch"
	"github.com/nadzzz/obivox/internal/drift"
	"github.com/nadzzz/obivox/internal/feedback"
	"github.com/nadzzz/obivox/internal/media"
	"github.com/nadzzz/obivox/internal/message"
	"github.com/nadzzz/obivox/internal/nlm"
	"github.com/nadzzz/obivox/internal/variation"
)

// Service processes messages and corrections. *dispatch.Dispatcher is the
// production implementation.
type Service interface {
	Handle(ctx context.Context, msg *message.Message) (*message.DispatchResult, error)
	Feedback(ctx context.Context, c message.Correction) (*message.FeedbackResult, error)
}

// Inspector is optionally implemented by a Service to expose its routing
// state to operators.
type Inspector interface {
	Entries() []atlas.Entry
	Discipline() (requested, effective atlas.Discipline)
	DriftState() drift.State
	Pending(ctx context.Context, limit int) ([]feedback.Request, error)
	Corrections(ctx context.Context, limit int) ([]feedback.Correction, error)
}

// Operator is optionally implemented by a Service that lets operators
// switch automatic cascades at runtime.
type Operator interface {
	SetFaultTolerance(enabled bool) drift.State
}

// Transport is the interface that every transport adapter must implement.
type Transport interface {
	// Name returns the transport identifier (e.g., "grpc", "http").
	Name() string

	// Listen starts accepting incoming messages and hands them to svc.
	// It blocks until the context is cancelled.
	Listen(ctx context.Context, svc Service) error

	// Close gracefully shuts down the transport, draining in-flight work.
	Close() error
}

// ErrorKind groups pipeline errors for status mapping.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalid
	KindNotFound
	KindConflict
)

// Classify maps a pipeline error onto an ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, dispatch.ErrInvalidMessage),
		errors.Is(err, variation.ErrInvalidInput),
		errors.Is(err, nlm.ErrInvalidInput),
		errors.Is(err, drift.ErrInvalidInput),
		errors.Is(err, media.ErrUnsupportedFormat),
		errors.Is(err, media.ErrConversion):
		return KindInvalid
	case errors.Is(err, atlas.ErrNotFound),
		errors.Is(err, feedback.ErrNotFound),
		errors.Is(err, codec.ErrUnknownBackend):
		return KindNotFound
	case errors.Is(err, atlas.ErrDuplicateKey):
		return KindConflict
	default:
		return KindInternal
	}
}
