package pipeline

import (
	"bytes"
	"context"
	"fmt"

	"github.com/Skryldev/imgconv/config"
	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
)

// ── Decode ────────────────────────────────────────────────────────────────────

// DecodeStep decodes raw bytes in img.Data into pixels.
type DecodeStep struct {
	Codec core.Codec
}

func (s *DecodeStep) Name() string { return "decode" }

func (s *DecodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if img.Image != nil {
		return img, nil // already decoded
	}
	decoded, err := s.Codec.Decode(ctx, img.Data)
	if err != nil {
		return nil, err
	}
	if img.OriginalSize > 0 {
		decoded.OriginalSize = img.OriginalSize
	}
	return decoded, nil
}

// ── Resize ────────────────────────────────────────────────────────────────────

// ResizeStep applies a ResizeSpec through the codec.
type ResizeStep struct {
	Codec core.Codec
	Spec  core.ResizeSpec
}

func (s *ResizeStep) Name() string { return "resize" }

func (s *ResizeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	return s.Codec.Resize(ctx, img, s.Spec)
}

// ── Encode ────────────────────────────────────────────────────────────────────

// EncodeStep serialises the decoded image with fixed options.
type EncodeStep struct {
	Codec   core.Codec
	Options core.EncodeOptions
}

func (s *EncodeStep) Name() string { return "encode" }

func (s *EncodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	data, err := s.Codec.Encode(ctx, img, s.Options)
	if err != nil {
		return nil, err
	}
	return encoded(img, data, s.Options, core.OptionsQuality(s.Options)), nil
}

// ── Target size ───────────────────────────────────────────────────────────────

// TargetSizeStep encodes towards a requested byte size.  Formats without a
// quality knob are encoded once and annotated with target_size_ignored; a
// search that does not converge keeps the closest candidate and is annotated
// with target_size_unreachable.
type TargetSizeStep struct {
	Codec      core.Codec
	Options    core.EncodeOptions
	Target     core.TargetSize
	Search     config.SearchConfig
	Checkpoint core.Checkpoint
}

func (s *TargetSizeStep) Name() string { return "target_size" }

func (s *TargetSizeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	tun, ok := core.Tunable(s.Options)
	if !ok {
		data, err := s.Codec.Encode(ctx, img, s.Options)
		if err != nil {
			return nil, err
		}
		out := encoded(img, data, s.Options, core.OptionsQuality(s.Options))
		out.Notices = append(out.Notices, core.Notice{
			Kind:    apperrors.KindTargetSizeIgnored,
			Message: fmt.Sprintf("%s has no quality setting; target size ignored", s.Options.Format()),
			Size:    int64(len(data)),
		})
		return out, nil
	}

	encode := func(ctx context.Context, q int) ([]byte, error) {
		return s.Codec.Encode(ctx, img, tun.WithQuality(q))
	}
	res, err := SearchTargetSize(ctx, encode, s.Target, s.Search, s.Checkpoint)
	if err != nil {
		return nil, err
	}

	out := encoded(img, res.Data, tun.WithQuality(res.Quality), res.Quality)
	if !res.Converged {
		lo, hi := s.Target.Bounds(s.Search.DefaultTolerance)
		out.Notices = append(out.Notices, core.Notice{
			Kind: apperrors.KindTargetSizeUnreachable,
			Message: fmt.Sprintf("no quality in [%d, %d] gives %d-%d bytes; closest is %d bytes at quality %d",
				s.Search.MinQuality, s.Search.MaxQuality, lo, hi, res.Size, res.Quality),
			Size: res.Size,
		})
	}
	return out, nil
}

func encoded(img *core.ImageData, data []byte, opts core.EncodeOptions, quality int) *core.ImageData {
	out := *img
	out.Data = data
	out.Format = opts.Format()
	out.Meta.Format = opts.Format()
	out.Meta.SizeBytes = int64(len(data))
	out.Meta.Quality = quality
	out.Notices = append([]core.Notice(nil), img.Notices...)
	return &out
}

// ── Write ─────────────────────────────────────────────────────────────────────

// WriteStep resolves the output path for Job and stores the encoded bytes.
type WriteStep struct {
	Storage  core.Storage
	Resolver core.PathResolver
	Job      core.Job
}

func (s *WriteStep) Name() string { return "write" }

func (s *WriteStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if len(img.Data) == 0 {
		return nil, apperrors.New(apperrors.KindEncodeFailure, s.Name(), apperrors.ErrEmptyInput)
	}
	path, err := s.Resolver.Resolve(ctx, s.Job)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindIO, s.Name(), err)
	}
	defer s.Resolver.Release(path)

	if err := s.Storage.Put(ctx, path, bytes.NewReader(img.Data)); err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.FromContext(s.Name(), ctx.Err())
		}
		return nil, apperrors.Wrap(apperrors.KindIO, s.Name(), err)
	}

	out := *img
	out.Location = path
	return &out, nil
}
