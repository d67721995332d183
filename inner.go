package imgconv

import (
	"github.com/Skryldev/imgconv/core"
	"github.com/Skryldev/imgconv/pipeline"
)

// Pool exposes the underlying worker pool for advanced use (e.g. per-job
// state inspection in tests).  Prefer the Engine methods for normal usage.
func (e *Engine) Pool() *core.Pool { return e.pool }

// Converter exposes the job runner, e.g. to build a pipeline for one job
// without the pool.
func (e *Engine) Converter() *pipeline.Converter { return e.converter }

// Registry exposes the codec registry.
func (e *Engine) Registry() core.Registry { return e.reg }
