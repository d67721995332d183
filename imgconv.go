// Package imgconv is a concurrent batch image converter.  An Engine accepts
// batches of files or buffers, converts them on a bounded worker pool with
// optional resizing and target-size search, and reports progress through
// sinks.  Thumbnails and before/after previews are served from a tiered
// cache.
package imgconv

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/Skryldev/imgconv/adapters/decoder"
	"github.com/Skryldev/imgconv/adapters/encoder"
	"github.com/Skryldev/imgconv/adapters/resizer"
	"github.com/Skryldev/imgconv/adapters/storage"
	"github.com/Skryldev/imgconv/cache"
	"github.com/Skryldev/imgconv/config"
	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
	"github.com/Skryldev/imgconv/hooks"
	"github.com/Skryldev/imgconv/output"
	"github.com/Skryldev/imgconv/pipeline"
	"github.com/Skryldev/imgconv/preview"
)

// Re-export Format constants for convenience.
const (
	JPEG = core.FormatJPEG
	PNG  = core.FormatPNG
	WebP = core.FormatWebP
	AVIF = core.FormatAVIF
	TIFF = core.FormatTIFF
	GIF  = core.FormatGIF
	BMP  = core.FormatBMP
	ICO  = core.FormatICO
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Option customises an Engine.
type Option func(*Engine)

// WithLogger attaches a structured logger to the pool, the pipelines and the
// cache watcher.
func WithLogger(l core.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics attaches a metrics collector.
func WithMetrics(m core.MetricsCollector) Option { return func(e *Engine) { e.metrics = m } }

// WithSink adds a progress sink.  Sinks receive events in registration order.
func WithSink(s core.Sink) Option { return func(e *Engine) { e.sinks = append(e.sinks, s) } }

// WithStorage replaces the local filesystem storage.
func WithStorage(s core.Storage) Option { return func(e *Engine) { e.storage = s } }

// WithResolver replaces the default output path resolver.
func WithResolver(r core.PathResolver) Option { return func(e *Engine) { e.resolver = r } }

// WithBackend runs fn on the codec registry after the built-in codecs are
// registered, so an alternative backend can take over some formats.
func WithBackend(fn func(reg core.Registry)) Option {
	return func(e *Engine) { e.backends = append(e.backends, fn) }
}

// WithAutoWatch makes previews of file sources watch those files, so edits
// on disk drop their cached previews.
func WithAutoWatch() Option { return func(e *Engine) { e.autoWatch = true } }

// Engine is the primary entry point.
type Engine struct {
	cfg      config.Config
	reg      *core.DefaultRegistry
	codec    *core.RegistryCodec
	storage  core.Storage
	resolver core.PathResolver

	converter *pipeline.Converter
	pool      *core.Pool
	cache     *cache.Cache
	previews  *preview.Service

	logger    core.Logger
	metrics   core.MetricsCollector
	sinks     core.MultiSink
	backends  []func(core.Registry)
	autoWatch bool

	watchMu sync.Mutex
	watcher *cache.Watcher
}

// New creates a fully wired Engine with every built-in codec registered.
// Call Start before submitting work.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfig, "imgconv.new", err)
	}
	e := &Engine{cfg: cfg, logger: core.NopLogger{}}
	for _, o := range opts {
		o(e)
	}

	e.reg = core.NewRegistry()
	decoder.RegisterAll(e.reg)
	encoder.RegisterAll(e.reg)
	e.reg.SetResizer(resizer.NewImaging())
	for _, fn := range e.backends {
		fn(e.reg)
	}
	e.codec = core.NewCodec(e.reg)

	if e.storage == nil {
		local, err := storage.NewLocal(cfg.Output.RootDir, os.FileMode(cfg.Output.Permissions))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindConfig, "imgconv.new", err)
		}
		e.storage = local
	}
	if e.resolver == nil {
		e.resolver = output.NewResolver(e.storage)
	}

	e.converter = pipeline.NewConverter(cfg, e.codec, e.storage, e.resolver)
	e.converter.AddHook(hooks.NewLoggingHook(e.logger))
	if e.metrics != nil {
		e.converter.AddHook(hooks.NewMetricsHook(e.metrics))
		e.sinks = append(e.sinks, hooks.NewMetricsSink(e.metrics))
	}

	e.pool = core.NewPool(cfg, e.converter)
	e.pool.SetLogger(e.logger)
	e.pool.SetMetrics(e.metrics)
	if len(e.sinks) > 0 {
		e.pool.SetSink(e.sinks)
	}

	e.cache = cache.New(cfg.Cache)
	if e.metrics != nil {
		e.cache.SetMetrics(e.metrics)
	}
	e.previews = preview.New(e.codec, e.converter, e.cache, cfg.Preview)
	return e, nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() config.Config { return e.cfg }

// Start starts the worker pool.
func (e *Engine) Start() { e.pool.Start() }

// Stop cancels queued jobs, waits for running ones and closes the cache
// watcher.
func (e *Engine) Stop() {
	e.pool.Stop()
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			e.logger.Warn("imgconv.watcher.close", "error", err.Error())
		}
		e.watcher = nil
	}
}

// ── Ingest ────────────────────────────────────────────────────────────────────

// DefaultSettings returns settings converting to f with the engine's default
// quality and format options.
func (e *Engine) DefaultSettings(f core.Format) (core.Settings, error) {
	opts, err := core.DefaultOptions(f, e.cfg.DefaultQuality)
	if err != nil {
		return core.Settings{}, err
	}
	return core.Settings{Options: opts, Output: core.OutputPolicy{Mode: core.LocationSameAsSource}}, nil
}

// Submit enqueues prepared jobs as one batch and returns the batch ID.  Jobs
// may carry different settings.
func (e *Engine) Submit(jobs []core.Job) (string, error) {
	for _, j := range jobs {
		if !e.encodable(j.Target()) {
			return "", apperrors.New(apperrors.KindInput, "imgconv.submit",
				fmt.Errorf("%w: %s", apperrors.ErrNoEncoder, j.Target()))
		}
	}
	return e.pool.Submit(jobs)
}

// SubmitFiles converts every path with the same settings.
func (e *Engine) SubmitFiles(paths []string, s core.Settings) (string, error) {
	srcs := make([]core.Source, len(paths))
	for i, p := range paths {
		srcs[i] = core.FromFile(p)
	}
	return e.SubmitSources(srcs, s)
}

// SubmitBuffers converts in-memory images keyed by logical name.  Buffer
// jobs need an output folder, since they have no source directory.
func (e *Engine) SubmitBuffers(names []string, data [][]byte, s core.Settings) (string, error) {
	if len(names) != len(data) {
		return "", apperrors.New(apperrors.KindInput, "imgconv.submit",
			fmt.Errorf("%d names for %d buffers", len(names), len(data)))
	}
	srcs := make([]core.Source, len(names))
	for i := range names {
		srcs[i] = core.FromBytes(names[i], data[i])
	}
	return e.SubmitSources(srcs, s)
}

// SubmitSources converts every source with the same settings.
func (e *Engine) SubmitSources(srcs []core.Source, s core.Settings) (string, error) {
	jobs := make([]core.Job, 0, len(srcs))
	for _, src := range srcs {
		j, err := core.NewJob(src, s)
		if err != nil {
			return "", err
		}
		jobs = append(jobs, j)
	}
	return e.Submit(jobs)
}

func (e *Engine) encodable(f core.Format) bool {
	_, ok := e.reg.EncoderFor(f)
	return ok
}

// ── Control ───────────────────────────────────────────────────────────────────

// Pause stops dispatching queued jobs.  Running jobs finish.
func (e *Engine) Pause() { e.pool.Pause() }

// Resume restarts dispatch.
func (e *Engine) Resume() { e.pool.Resume() }

// Paused reports whether dispatch is paused.
func (e *Engine) Paused() bool { return e.pool.Paused() }

// Cancel cancels every queued job and returns how many were cancelled.
// Running jobs complete normally.
func (e *Engine) Cancel() int { return e.pool.Cancel() }

// Abort cancels queued jobs and signals running ones to stop at their next
// checkpoint.
func (e *Engine) Abort() (cancelled, signalled int) { return e.pool.Abort() }

// Wait blocks until the batch is complete or ctx is done.
func (e *Engine) Wait(ctx context.Context, batchID string) (core.Counts, error) {
	return e.pool.Wait(ctx, batchID)
}

// Counts returns the current totals of a batch.
func (e *Engine) Counts(batchID string) (core.Counts, bool) { return e.pool.Counts(batchID) }

// State returns the current state of a job.
func (e *Engine) State(jobID string) (core.JobState, bool) { return e.pool.State(jobID) }

// Forget drops the bookkeeping of a completed batch.
func (e *Engine) Forget(batchID string) bool { return e.pool.Forget(batchID) }

// Stats returns a snapshot of the worker pool.
func (e *Engine) Stats() core.PoolStats { return e.pool.Stats() }

// ── Previews ──────────────────────────────────────────────────────────────────

// Thumbnail returns the list icon of src.
func (e *Engine) Thumbnail(ctx context.Context, src core.Source) (*preview.Preview, error) {
	e.maybeWatch(src)
	return e.previews.Thumbnail(ctx, src)
}

// InputPreview returns src fitted into the preview box.
func (e *Engine) InputPreview(ctx context.Context, src core.Source) (*preview.Preview, error) {
	e.maybeWatch(src)
	return e.previews.InputPreview(ctx, src)
}

// OutputPreview renders src as it would look converted with s and reports
// the encoded size.
func (e *Engine) OutputPreview(ctx context.Context, src core.Source, s core.Settings) (*preview.Preview, error) {
	e.maybeWatch(src)
	return e.previews.OutputPreview(ctx, src, s)
}

// Invalidate drops every cached preview of source, identified by
// core.Source.Identity.
func (e *Engine) Invalidate(source string) int { return e.cache.Invalidate(source) }

// CacheStats returns a snapshot of every cache tier.
func (e *Engine) CacheStats() []cache.TierStats { return e.cache.Stats() }

// Watch invalidates the cached previews of paths whenever they change on
// disk.
func (e *Engine) Watch(paths ...string) error {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	if e.watcher == nil {
		w, err := cache.NewWatcher(e.cache, e.logger)
		if err != nil {
			return apperrors.Wrap(apperrors.KindIO, "imgconv.watch", err)
		}
		e.watcher = w
	}
	for _, p := range paths {
		if err := e.watcher.Add(p); err != nil {
			return apperrors.Wrap(apperrors.KindIO, "imgconv.watch", err)
		}
	}
	return nil
}

// Unwatch stops watching paths.
func (e *Engine) Unwatch(paths ...string) error {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	if e.watcher == nil {
		return nil
	}
	for _, p := range paths {
		if err := e.watcher.Remove(p); err != nil {
			return apperrors.Wrap(apperrors.KindIO, "imgconv.unwatch", err)
		}
	}
	return nil
}

func (e *Engine) maybeWatch(src core.Source) {
	if !e.autoWatch || src.Path == "" {
		return
	}
	if err := e.Watch(src.Path); err != nil {
		e.logger.Warn("imgconv.watch", "path", src.Path, "error", err.Error())
	}
}

// ── Codecs ────────────────────────────────────────────────────────────────────

// RegisterDecoder registers a custom decoder for the given format.
func (e *Engine) RegisterDecoder(f core.Format, d core.Decoder) { e.reg.RegisterDecoder(f, d) }

// RegisterEncoder registers a custom encoder for the given format.
func (e *Engine) RegisterEncoder(f core.Format, enc core.Encoder) { e.reg.RegisterEncoder(f, enc) }

// Encodable lists the output formats available with the registered codecs.
func (e *Engine) Encodable() []core.Format { return e.reg.Encodable() }
