package decoder

import (
	"context"
	"image"
	"image/gif"
	"io"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
)

// GIF decodes the first frame of a GIF.
type GIF struct{}

func NewGIF() *GIF { return &GIF{} }

func (g *GIF) CanDecode(format core.Format) bool { return format == core.FormatGIF }

func (g *GIF) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	return decodeWith(ctx, r, core.FormatGIF, gif.Decode)
}

// BMP decodes Windows bitmaps via golang.org/x/image/bmp.
type BMP struct{}

func NewBMP() *BMP { return &BMP{} }

func (b *BMP) CanDecode(format core.Format) bool { return format == core.FormatBMP }

func (b *BMP) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	return decodeWith(ctx, r, core.FormatBMP, bmp.Decode)
}

// TIFF decodes baseline TIFF via golang.org/x/image/tiff.
type TIFF struct{}

func NewTIFF() *TIFF { return &TIFF{} }

func (t *TIFF) CanDecode(format core.Format) bool { return format == core.FormatTIFF }

func (t *TIFF) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	return decodeWith(ctx, r, core.FormatTIFF, tiff.Decode)
}

func decodeWith(ctx context.Context, r io.Reader, f core.Format, fn func(io.Reader) (image.Image, error)) (*core.ImageData, error) {
	op := string(f) + ".decode"
	if err := ctx.Err(); err != nil {
		return nil, apperrors.FromContext(op, err)
	}
	img, err := fn(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCorruptData, op, err)
	}
	return newImageData(img, f), nil
}

// RegisterAll registers every pure-Go decoder on reg.
func RegisterAll(reg core.Registry) {
	reg.RegisterDecoder(core.FormatJPEG, NewJPEG())
	reg.RegisterDecoder(core.FormatPNG, NewPNG())
	reg.RegisterDecoder(core.FormatWebP, NewWebP())
	reg.RegisterDecoder(core.FormatGIF, NewGIF())
	reg.RegisterDecoder(core.FormatBMP, NewBMP())
	reg.RegisterDecoder(core.FormatTIFF, NewTIFF())
}
