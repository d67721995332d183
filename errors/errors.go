package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies failures so the engine can report them per job.
type Kind string

const (
	KindUnsupportedFormat Kind = "unsupported_format"
	KindCorruptData       Kind = "corrupt_data"
	KindEncodeFailure     Kind = "encode_failure"
	KindCancelled         Kind = "cancelled"
	KindTimeout           Kind = "timeout"
	KindIO                Kind = "io"
	KindInput             Kind = "input"
	KindConfig            Kind = "config"
	KindInternal          Kind = "internal"

	// Informational kinds. They annotate successful jobs and never fail one.
	KindTargetSizeUnreachable Kind = "target_size_unreachable"
	KindTargetSizeIgnored     Kind = "target_size_ignored"
)

// Informational reports whether k annotates a result rather than failing it.
func (k Kind) Informational() bool {
	return k == KindTargetSizeUnreachable || k == KindTargetSizeIgnored
}

// ProcessingError is the structured error type used throughout the module.
type ProcessingError struct {
	Kind Kind
	Op   string // operation name
	Err  error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// New creates a ProcessingError.
func New(kind Kind, op string, err error) *ProcessingError {
	return &ProcessingError{Kind: kind, Op: op, Err: err}
}

// Wrap wraps an existing error with context.  An error that already carries a
// Kind keeps it, so the innermost classification wins.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return &ProcessingError{Kind: pe.Kind, Op: op, Err: err}
	}
	return New(kind, op, err)
}

// FromContext classifies a context error: deadlines become timeouts and
// cancellations become cooperative cancels.
func FromContext(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(KindTimeout, op, err)
	}
	return New(KindCancelled, op, fmt.Errorf("%w: %v", ErrCancelled, err))
}

// KindOf returns the Kind carried by err.  Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, ErrCancelled) {
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether err belongs to the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsCancelled reports whether err is a cooperative cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || IsKind(err, KindCancelled)
}

// Sentinel errors for common failure modes.
var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrInvalidDimensions = errors.New("invalid dimensions")
	ErrInvalidOptions    = errors.New("invalid encode options")
	ErrEmptyInput        = errors.New("empty input")
	ErrNoEncoder         = errors.New("no encoder registered")
	ErrCancelled         = errors.New("job cancelled")
	ErrPoolStopped       = errors.New("worker pool stopped")
	ErrDuplicateJob      = errors.New("duplicate job id")
	ErrUnknownBatch      = errors.New("unknown batch")
	ErrSourceTooLarge    = errors.New("source exceeds size limit")
)
