// Package resizer provides pixel resamplers.
package resizer

import (
	"context"
	"image"

	"github.com/disintegration/imaging"

	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
)

// Imaging resizes with github.com/disintegration/imaging.
type Imaging struct {
	// Filter defaults to Lanczos.
	Filter imaging.ResampleFilter
}

// NewImaging returns a Lanczos resizer.
func NewImaging() *Imaging { return &Imaging{Filter: imaging.Lanczos} }

func (r *Imaging) Resize(ctx context.Context, img *core.ImageData, spec core.ResizeSpec) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.FromContext("resize", err)
	}
	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.KindInternal, "resize", apperrors.ErrEmptyInput)
	}

	b := src.Bounds()
	w, h := spec.Target(b.Dx(), b.Dy())
	if w == b.Dx() && h == b.Dy() {
		return img, nil
	}
	if w <= 0 || h <= 0 {
		return nil, apperrors.New(apperrors.KindInput, "resize", apperrors.ErrInvalidDimensions)
	}

	filter := r.Filter
	if filter.Support == 0 && filter.Kernel == nil {
		filter = imaging.Lanczos
	}

	out := *img
	out.Image = imaging.Resize(src, w, h, filter)
	out.Meta.Width = w
	out.Meta.Height = h
	return &out, nil
}

var _ core.Resizer = (*Imaging)(nil)
