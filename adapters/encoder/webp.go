package encoder

import (
	"bytes"
	"context"

	"github.com/chai2010/webp"

	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
)

// WebP encodes images with libwebp through github.com/chai2010/webp.
// WebPOptions.Method is honoured only by the vips backend.
type WebP struct{}

func NewWebP() *WebP { return &WebP{} }

func (w *WebP) CanEncode(format core.Format) bool { return format == core.FormatWebP }

func (w *WebP) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	const op = "webp.encode"
	o, ok := opts.(core.WebPOptions)
	if !ok {
		return nil, wrongOptions(op, opts)
	}
	src, err := pixels(ctx, op, img)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, src, &webp.Options{Lossless: o.Lossless, Quality: float32(o.Quality)}); err != nil {
		return nil, apperrors.Wrap(apperrors.KindEncodeFailure, op, err)
	}
	return buf.Bytes(), nil
}
