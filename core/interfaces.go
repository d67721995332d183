package core

import (
	"context"
	"io"
	"time"
)

// Decoder converts raw bytes / a reader into an in-memory ImageData.
// Implementations live in adapters/decoder/.
type Decoder interface {
	// Decode reads from r and returns a decoded ImageData.
	Decode(ctx context.Context, r io.Reader) (*ImageData, error)
	// CanDecode reports whether this decoder handles the given format.
	CanDecode(format Format) bool
}

// Encoder serialises an ImageData to bytes in a target format.
// Implementations live in adapters/encoder/.
type Encoder interface {
	Encode(ctx context.Context, img *ImageData, opts EncodeOptions) ([]byte, error)
	CanEncode(format Format) bool
}

// Resizer scales decoded pixels.  Implementations live in adapters/resizer/.
type Resizer interface {
	Resize(ctx context.Context, img *ImageData, spec ResizeSpec) (*ImageData, error)
}

// Codec is the black-box boundary the engine converts through.  Errors carry
// one of the kinds unsupported_format, corrupt_data or encode_failure.
type Codec interface {
	Decode(ctx context.Context, data []byte) (*ImageData, error)
	Resize(ctx context.Context, img *ImageData, spec ResizeSpec) (*ImageData, error)
	Encode(ctx context.Context, img *ImageData, opts EncodeOptions) ([]byte, error)
}

// Storage reads sources and persists outputs.
// Implementations live in adapters/storage/.
type Storage interface {
	// Put writes r to path.  Readers never observe a partially written file.
	Put(ctx context.Context, path string, r io.Reader) error
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
}

// PathResolver turns a job and its output policy into a destination path.
type PathResolver interface {
	Resolve(ctx context.Context, job Job) (string, error)
	// Release frees a path reserved by Resolve that was never written.
	Release(path string)
}

// Checkpoint reports whether the running job must stop.  It returns an error
// carrying apperrors.ErrCancelled when the job was aborted.
type Checkpoint func() error

// Runner executes one job.  The pool calls it from a worker goroutine.
type Runner interface {
	Run(ctx context.Context, job Job, checkpoint Checkpoint) (Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job Job, checkpoint Checkpoint) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, job Job, cp Checkpoint) (Result, error) {
	return f(ctx, job, cp)
}

// MetricsCollector receives performance observations.
type MetricsCollector interface {
	RecordProcessingTime(stepName string, d time.Duration)
	RecordThroughput(bytes int64)
	RecordError(stepName string, kind string)
	RecordJobState(state JobState)
	RecordCacheLookup(tier string, hit bool)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}

// Registry maps Format values to Decoder/Encoder implementations.
type Registry interface {
	DecoderFor(format Format) (Decoder, bool)
	EncoderFor(format Format) (Encoder, bool)
	RegisterDecoder(format Format, d Decoder)
	RegisterEncoder(format Format, e Encoder)
	Resizer() Resizer
	SetResizer(r Resizer)
}
