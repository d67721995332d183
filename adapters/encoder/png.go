package encoder

import (
	"bytes"
	"context"
	"image/png"

	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
)

// PNG encodes images to PNG.  The 0-9 level maps onto the compression levels
// image/png offers.
type PNG struct{}

func NewPNG() *PNG { return &PNG{} }

func (p *PNG) CanEncode(format core.Format) bool { return format == core.FormatPNG }

func (p *PNG) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	const op = "png.encode"
	o, ok := opts.(core.PNGOptions)
	if !ok {
		return nil, wrongOptions(op, opts)
	}
	src, err := pixels(ctx, op, img)
	if err != nil {
		return nil, err
	}

	enc := png.Encoder{CompressionLevel: pngLevel(o.Level)}
	var buf bytes.Buffer
	if err := enc.Encode(&buf, src); err != nil {
		return nil, apperrors.Wrap(apperrors.KindEncodeFailure, op, err)
	}
	return buf.Bytes(), nil
}

func pngLevel(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 6:
		return png.DefaultCompression
	}
	return png.BestCompression
}
