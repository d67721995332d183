// Package pipeline wires conversion steps together, runs hooks, and observes
// cancellation checkpoints between steps.
package pipeline

import (
	"context"
	"time"

	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
)

// Pipeline executes a sequence of Steps with hook and checkpoint support.
// Failed steps are never retried; a retry is a new job.
type Pipeline struct {
	steps      []core.Step
	hooks      []core.Hook
	checkpoint core.Checkpoint
}

// New returns an empty Pipeline.
func New() *Pipeline { return &Pipeline{} }

// Use appends a step to the pipeline.  Returns the same Pipeline for chaining.
func (p *Pipeline) Use(s ...core.Step) *Pipeline {
	p.steps = append(p.steps, s...)
	return p
}

// AddHook registers an observer.
func (p *Pipeline) AddHook(h core.Hook) *Pipeline {
	p.hooks = append(p.hooks, h)
	return p
}

// WithCheckpoint installs cp, which runs before every step.  A non-nil error
// from cp stops the pipeline before the step starts.
func (p *Pipeline) WithCheckpoint(cp core.Checkpoint) *Pipeline {
	p.checkpoint = cp
	return p
}

// Run executes the pipeline on img.  It returns the final ImageData and a map
// of per-step timing observations.
func (p *Pipeline) Run(ctx context.Context, img *core.ImageData) (*core.ImageData, map[string]time.Duration, error) {
	timings := make(map[string]time.Duration, len(p.steps))
	current := img

	for _, step := range p.steps {
		if err := p.check(ctx, step.Name()); err != nil {
			return nil, timings, err
		}

		result, elapsed, err := p.runStep(ctx, step, current)
		timings[step.Name()] = elapsed
		if err != nil {
			return nil, timings, err
		}
		current = result
	}
	return current, timings, nil
}

func (p *Pipeline) check(ctx context.Context, name string) error {
	if p.checkpoint != nil {
		if err := p.checkpoint(); err != nil {
			return err
		}
	}
	return apperrors.FromContext(name, ctx.Err())
}

// runStep executes a single step and calls the hooks around it.
func (p *Pipeline) runStep(ctx context.Context, step core.Step, img *core.ImageData) (*core.ImageData, time.Duration, error) {
	p.callHooksBefore(ctx, step.Name(), img)

	start := time.Now()
	result, err := step.Execute(ctx, img)
	elapsed := time.Since(start)

	p.callHooksAfter(ctx, step.Name(), result, elapsed, err)
	return result, elapsed, err
}

func (p *Pipeline) callHooksBefore(ctx context.Context, name string, img *core.ImageData) {
	for _, h := range p.hooks {
		h.BeforeStep(ctx, name, img)
	}
}

func (p *Pipeline) callHooksAfter(ctx context.Context, name string, img *core.ImageData, d time.Duration, err error) {
	for _, h := range p.hooks {
		h.AfterStep(ctx, name, img, d, err)
	}
}

