package decoder

import (
	"context"
	"io"

	"golang.org/x/image/webp"

	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
)

// WebP decodes still WebP images (lossy and lossless) using
// golang.org/x/image/webp.  Animated WebP needs the vips backend.
type WebP struct{}

func NewWebP() *WebP { return &WebP{} }

func (w *WebP) CanDecode(format core.Format) bool {
	return format == core.FormatWebP
}

func (w *WebP) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.FromContext("webp.decode", err)
	}

	img, err := webp.Decode(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCorruptData, "webp.decode", err)
	}
	return newImageData(img, core.FormatWebP), nil
}
