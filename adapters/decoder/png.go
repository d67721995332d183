package decoder

import (
	"context"
	"image/png"
	"io"

	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
)

// PNG decodes PNG images using the standard library.
type PNG struct{}

func NewPNG() *PNG { return &PNG{} }

func (p *PNG) CanDecode(format core.Format) bool {
	return format == core.FormatPNG
}

func (p *PNG) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.FromContext("png.decode", err)
	}

	img, err := png.Decode(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCorruptData, "png.decode", err)
	}
	return newImageData(img, core.FormatPNG), nil
}
