// Package encoder provides format-specific image encoders.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/disintegration/imaging"

	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
)

// JPEG encodes images to baseline JPEG.  Transparent pixels are flattened
// onto white.  JPEGOptions.Progressive is honoured only by the vips backend.
type JPEG struct{}

func NewJPEG() *JPEG { return &JPEG{} }

func (j *JPEG) CanEncode(format core.Format) bool {
	return format == core.FormatJPEG
}

func (j *JPEG) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	const op = "jpeg.encode"
	o, ok := opts.(core.JPEGOptions)
	if !ok {
		return nil, wrongOptions(op, opts)
	}
	src, err := pixels(ctx, op, img)
	if err != nil {
		return nil, err
	}
	if img.Meta.HasAlpha {
		src = flatten(src, color.White)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: o.Quality}); err != nil {
		return nil, apperrors.Wrap(apperrors.KindEncodeFailure, op, err)
	}
	return buf.Bytes(), nil
}

// flatten composites src over a solid background.
func flatten(src image.Image, bg color.Color) image.Image {
	b := src.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), bg)
	return imaging.Overlay(canvas, src, image.Point{}, 1.0)
}

// pixels extracts the decoded image.Image from img after a context check.
func pixels(ctx context.Context, op string, img *core.ImageData) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.FromContext(op, err)
	}
	if img == nil {
		return nil, apperrors.New(apperrors.KindEncodeFailure, op, apperrors.ErrEmptyInput)
	}
	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.KindEncodeFailure, op, apperrors.ErrEmptyInput)
	}
	return src, nil
}

func wrongOptions(op string, opts core.EncodeOptions) error {
	return apperrors.New(apperrors.KindEncodeFailure, op,
		fmt.Errorf("%w: got %T", apperrors.ErrInvalidOptions, opts))
}
