package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Skryldev/imgconv/config"
	apperrors "github.com/Skryldev/imgconv/errors"
	"github.com/Skryldev/imgconv/utils"
)

// Pool runs jobs on a fixed set of workers in FIFO order.  It is safe for
// concurrent use.  Every submitted job produces exactly one terminal event.
type Pool struct {
	size    int
	timeout time.Duration
	runner  Runner
	logger  Logger
	metrics MetricsCollector
	sink    Sink

	// mu guards everything below it; cond wakes idle workers.
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*entry
	running map[string]*entry
	states  map[string]JobState
	batches map[string]*batch
	paused  bool
	stopped bool

	// emitMu keeps events in state-change order across goroutines.
	emitMu sync.Mutex

	wg   sync.WaitGroup
	once sync.Once

	// Atomic counters for lightweight internal metrics.
	processedCount int64
	errorCount     int64
}

type entry struct {
	job   Job
	batch *batch
	abort atomic.Bool
}

type batch struct {
	id     string
	jobs   []string
	counts Counts
	done   chan struct{}
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Workers   int
	Queued    int
	Running   int
	Paused    bool
	Processed int64
	Errors    int64
}

// NewPool creates a Pool that executes jobs with runner.  cfg.WorkerCount 0
// selects the logical core count; values are clamped to [1, 32].  Call Start
// before jobs can run.
func NewPool(cfg config.Config, runner Runner) *Pool {
	size := cfg.WorkerCount
	if size <= 0 {
		size = utils.CPUCount()
	}
	size = utils.Clamp(size, config.MinWorkers, config.MaxWorkers)

	p := &Pool{
		size:    size,
		timeout: cfg.JobTimeout,
		runner:  runner,
		logger:  NopLogger{},
		running: make(map[string]*entry),
		states:  make(map[string]JobState),
		batches: make(map[string]*batch),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// SetLogger attaches a structured logger.
func (p *Pool) SetLogger(l Logger) {
	if l != nil {
		p.logger = l
	}
}

// SetMetrics attaches a metrics collector.
func (p *Pool) SetMetrics(m MetricsCollector) { p.metrics = m }

// SetSink attaches the progress event sink.
func (p *Pool) SetSink(s Sink) { p.sink = s }

// Size is the number of workers.
func (p *Pool) Size() int { return p.size }

// Start launches the workers.  It is idempotent.
func (p *Pool) Start() {
	p.once.Do(func() {
		for i := 0; i < p.size; i++ {
			p.wg.Add(1)
			go p.worker()
		}
		p.logger.Debug("pool.start", "workers", p.size)
	})
}

// Stop cancels every queued job, lets in-flight jobs finish and waits for the
// workers to exit.  Submit fails afterwards.
func (p *Pool) Stop() {
	p.commit(func() []Event {
		if p.stopped {
			return nil
		}
		p.stopped = true
		events := p.cancelQueuedLocked()
		p.cond.Broadcast()
		return events
	})
	p.wg.Wait()
}

// Submit enqueues jobs as a new batch and returns its ID without waiting for
// any of them to run.  The whole batch is rejected when it is empty, when the
// pool is stopped, or when a job ID is already known.
func (p *Pool) Submit(jobs []Job) (string, error) {
	if len(jobs) == 0 {
		return "", apperrors.New(apperrors.KindInput, "pool.submit", apperrors.ErrEmptyInput)
	}

	jobs = append([]Job(nil), jobs...)

	var (
		batchID string
		err     error
	)
	p.commit(func() []Event {
		if p.stopped {
			err = apperrors.New(apperrors.KindInput, "pool.submit", apperrors.ErrPoolStopped)
			return nil
		}
		seen := make(map[string]struct{}, len(jobs))
		for i := range jobs {
			if jobs[i].ID == "" {
				jobs[i].ID = uuid.NewString()
			}
			id := jobs[i].ID
			_, dup := seen[id]
			_, known := p.states[id]
			if dup || known {
				err = apperrors.New(apperrors.KindInput, "pool.submit",
					fmt.Errorf("%w: %s", apperrors.ErrDuplicateJob, id))
				return nil
			}
			seen[id] = struct{}{}
		}

		b := &batch{id: uuid.NewString(), counts: Counts{Total: len(jobs)}, done: make(chan struct{})}
		p.batches[b.id] = b
		batchID = b.id

		events := make([]Event, 0, len(jobs))
		for _, job := range jobs {
			e := &entry{job: job, batch: b}
			p.queue = append(p.queue, e)
			p.states[job.ID] = StateQueued
			b.jobs = append(b.jobs, job.ID)
			events = append(events, p.eventLocked(e, StateQueued))
		}
		p.cond.Broadcast()
		return events
	})
	if err != nil {
		return "", err
	}
	p.logger.Debug("pool.submit", "batch", batchID, "jobs", len(jobs))
	return batchID, nil
}

// Pause stops dispatching queued jobs.  Running jobs are not interrupted.
func (p *Pool) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	p.logger.Debug("pool.pause")
}

// Resume restarts dispatch after Pause.
func (p *Pool) Resume() {
	p.mu.Lock()
	p.paused = false
	p.cond.Broadcast()
	p.mu.Unlock()
	p.logger.Debug("pool.resume")
}

// Paused reports whether dispatch is paused.
func (p *Pool) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Cancel marks every queued job cancelled and returns how many there were.
// Jobs already running finish normally.  The pool keeps accepting batches.
func (p *Pool) Cancel() int {
	var n int
	p.commit(func() []Event {
		events := p.cancelQueuedLocked()
		n = len(events)
		return events
	})
	p.logger.Info("pool.cancel", "cancelled", n)
	return n
}

// Abort cancels the queue like Cancel and additionally signals every running
// job to stop at its next checkpoint.  It returns the number of queued jobs
// cancelled and the number of running jobs signalled.
func (p *Pool) Abort() (cancelled, signalled int) {
	p.commit(func() []Event {
		events := p.cancelQueuedLocked()
		cancelled = len(events)
		for _, e := range p.running {
			e.abort.Store(true)
			signalled++
		}
		return events
	})
	p.logger.Info("pool.abort", "cancelled", cancelled, "signalled", signalled)
	return cancelled, signalled
}

// State returns the current state of a job.
func (p *Pool) State(jobID string) (JobState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.states[jobID]
	return s, ok
}

// Counts returns the cumulative counts of a batch.
func (p *Pool) Counts(batchID string) (Counts, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.batches[batchID]
	if !ok {
		return Counts{}, false
	}
	return b.counts, true
}

// Wait blocks until every job of the batch is terminal or ctx is done.
func (p *Pool) Wait(ctx context.Context, batchID string) (Counts, error) {
	p.mu.Lock()
	b, ok := p.batches[batchID]
	p.mu.Unlock()
	if !ok {
		return Counts{}, apperrors.New(apperrors.KindInput, "pool.wait",
			fmt.Errorf("%w: %s", apperrors.ErrUnknownBatch, batchID))
	}
	select {
	case <-b.done:
		c, _ := p.Counts(batchID)
		// The closing commit holds emitMu until the last event is published.
		p.emitMu.Lock()
		p.emitMu.Unlock()
		return c, nil
	case <-ctx.Done():
		c, _ := p.Counts(batchID)
		return c, ctx.Err()
	}
}

// Forget drops the bookkeeping of a completed batch.  It returns false when the
// batch is unknown or still has non-terminal jobs.
func (p *Pool) Forget(batchID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.batches[batchID]
	if !ok || !b.counts.Complete() {
		return false
	}
	for _, id := range b.jobs {
		delete(p.states, id)
	}
	delete(p.batches, batchID)
	return true
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Workers:   p.size,
		Queued:    len(p.queue),
		Running:   len(p.running),
		Paused:    p.paused,
		Processed: atomic.LoadInt64(&p.processedCount),
		Errors:    atomic.LoadInt64(&p.errorCount),
	}
}

// ── worker pool internals ──────────────────────────────────────────────────────

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		e, ok := p.next()
		if !ok {
			return
		}
		p.execute(e)
	}
}

// next blocks until a job can be dispatched or the pool stops.
func (p *Pool) next() (*entry, bool) {
	var e *entry
	p.commit(func() []Event {
		for !p.stopped && (p.paused || len(p.queue) == 0) {
			p.cond.Wait()
		}
		if p.stopped {
			return nil
		}
		e = p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.running[e.job.ID] = e
		return []Event{p.transitionLocked(e, StateRunning, Result{}, nil)}
	})
	return e, e != nil
}

func (p *Pool) execute(e *entry) {
	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	checkpoint := func() error {
		if e.abort.Load() {
			return apperrors.New(apperrors.KindCancelled, "checkpoint", apperrors.ErrCancelled)
		}
		return apperrors.FromContext("checkpoint", ctx.Err())
	}

	start := time.Now()
	res, err := p.run(ctx, e.job, checkpoint)

	to := StateSucceeded
	switch {
	case err == nil:
		atomic.AddInt64(&p.processedCount, 1)
	case apperrors.IsCancelled(err):
		to = StateCancelled
	default:
		to = StateFailed
		atomic.AddInt64(&p.errorCount, 1)
		p.logger.Warn("pool.job.failed",
			"job", e.job.ID,
			"source", e.job.Source.Name,
			"kind", string(apperrors.KindOf(err)),
			"error", err.Error(),
		)
	}
	p.commit(func() []Event {
		delete(p.running, e.job.ID)
		return []Event{p.transitionLocked(e, to, res, err)}
	})
	p.logger.Debug("pool.job.done", "job", e.job.ID, "state", string(to), "duration_ms", time.Since(start).Milliseconds())
}

// run calls the runner and converts a panic into an internal failure so the
// job still reaches a terminal state.
func (p *Pool) run(ctx context.Context, job Job, cp Checkpoint) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.New(apperrors.KindInternal, "pool.run", fmt.Errorf("panic: %v", r))
		}
	}()
	if err := cp(); err != nil {
		return Result{}, err
	}
	return p.runner.Run(ctx, job, cp)
}

// cancelQueuedLocked empties the queue, moving every job to StateCancelled.
func (p *Pool) cancelQueuedLocked() []Event {
	if len(p.queue) == 0 {
		return nil
	}
	events := make([]Event, 0, len(p.queue))
	for _, e := range p.queue {
		events = append(events, p.transitionLocked(e, StateCancelled, Result{}, nil))
	}
	p.queue = nil
	return events
}

// transitionLocked moves e to state to and returns the event describing it.
func (p *Pool) transitionLocked(e *entry, to JobState, res Result, err error) Event {
	from := p.states[e.job.ID]
	if terr := ValidateTransition(from, to); terr != nil {
		// Unreachable while the pool owns every transition.
		p.logger.Error("pool.transition", "job", e.job.ID, "error", terr.Error())
	}
	p.states[e.job.ID] = to

	b := e.batch
	switch to {
	case StateSucceeded:
		b.counts.Succeeded++
	case StateFailed:
		b.counts.Failed++
	case StateCancelled:
		b.counts.Cancelled++
	}

	ev := p.eventLocked(e, to)
	ev.BytesIn = res.BytesIn
	ev.BytesOut = res.BytesOut
	ev.OutputPath = res.OutputPath
	ev.Quality = res.Quality
	ev.Notices = res.Notices
	if to == StateFailed {
		ev.Err = err
		ev.Kind = apperrors.KindOf(err)
	}

	if to.IsTerminal() && b.counts.Complete() {
		close(b.done)
	}
	return ev
}

func (p *Pool) eventLocked(e *entry, state JobState) Event {
	return Event{
		JobID:   e.job.ID,
		BatchID: e.batch.id,
		Source:  e.job.Source.Name,
		State:   state,
		Counts:  e.batch.counts,
		Time:    time.Now(),
	}
}

// commit runs fn under mu and publishes the events it returns before any
// other state change can publish, so each job's events arrive in order.
func (p *Pool) commit(fn func() []Event) {
	p.mu.Lock()
	events := fn()
	p.emitMu.Lock()
	p.mu.Unlock()
	defer p.emitMu.Unlock()

	for _, ev := range events {
		if p.metrics != nil {
			p.metrics.RecordJobState(ev.State)
		}
		if p.sink != nil {
			p.sink.Publish(ev)
		}
	}
}
