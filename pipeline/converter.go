package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Skryldev/imgconv/config"
	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
	"github.com/Skryldev/imgconv/utils"
)

// Converter runs one job end to end: load, decode, resize, encode or search,
// write.  It implements core.Runner.
type Converter struct {
	codec    core.Codec
	storage  core.Storage
	resolver core.PathResolver
	cfg      config.Config
	hooks    []core.Hook
}

// NewConverter returns a Converter.  storage is used both to read file
// sources and to write outputs.
func NewConverter(cfg config.Config, codec core.Codec, storage core.Storage, resolver core.PathResolver) *Converter {
	return &Converter{codec: codec, storage: storage, resolver: resolver, cfg: cfg}
}

// AddHook registers a hook on every pipeline the converter builds.
func (c *Converter) AddHook(h core.Hook) *Converter {
	c.hooks = append(c.hooks, h)
	return c
}

// Build returns the pipeline for job.  cp runs before every step and between
// target-size iterations.
func (c *Converter) Build(job core.Job, cp core.Checkpoint) *Pipeline {
	s := job.Settings
	var encode core.Step = &EncodeStep{Codec: c.codec, Options: s.Options}
	if s.TargetSize != nil {
		encode = &TargetSizeStep{
			Codec:      c.codec,
			Options:    s.Options,
			Target:     *s.TargetSize,
			Search:     c.cfg.Search,
			Checkpoint: cp,
		}
	}

	p := New().WithCheckpoint(cp).Use(
		&DecodeStep{Codec: c.codec},
		&ResizeStep{Codec: c.codec, Spec: s.Resize},
		encode,
		&WriteStep{Storage: c.storage, Resolver: c.resolver, Job: job},
	)
	for _, h := range c.hooks {
		p.AddHook(h)
	}
	return p
}

func (c *Converter) Run(ctx context.Context, job core.Job, cp core.Checkpoint) (core.Result, error) {
	data, err := c.Load(ctx, job.Source)
	if err != nil {
		return core.Result{}, err
	}

	in := &core.ImageData{Data: data, Format: job.SourceFormat, OriginalSize: int64(len(data))}
	out, _, err := c.Build(job, cp).Run(ctx, in)
	if err != nil {
		return core.Result{BytesIn: int64(len(data))}, err
	}
	return core.Result{
		OutputPath: out.Location,
		BytesIn:    int64(len(data)),
		BytesOut:   int64(len(out.Data)),
		Quality:    out.Meta.Quality,
		Notices:    out.Notices,
	}, nil
}

// Load reads the source fully, bounded by MaxImageBytes.
func (c *Converter) Load(ctx context.Context, src core.Source) ([]byte, error) {
	limit := c.cfg.MaxImageBytes
	if src.Data != nil || src.Path == "" {
		if limit > 0 && int64(len(src.Data)) > limit {
			return nil, apperrors.New(apperrors.KindInput, "load",
				fmt.Errorf("%w: %d > %d bytes", apperrors.ErrSourceTooLarge, len(src.Data), limit))
		}
		return src.Data, nil
	}

	rc, err := c.storage.Get(ctx, src.Path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindIO, "load", err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if limit > 0 {
		r = &utils.LimitedReader{R: rc, Max: limit}
	}
	buf, err := utils.DrainReader(ctx, r, c.cfg.ChunkSize)
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrLimitExceeded):
			return nil, apperrors.New(apperrors.KindInput, "load",
				fmt.Errorf("%w: %s exceeds %d bytes", apperrors.ErrSourceTooLarge, src.Name, limit))
		case ctx.Err() != nil:
			return nil, apperrors.FromContext("load", ctx.Err())
		}
		return nil, apperrors.Wrap(apperrors.KindIO, "load", err)
	}
	defer utils.ReleaseBuffer(buf)
	return utils.CloneBytes(buf.Bytes()), nil
}

var _ core.Runner = (*Converter)(nil)
