package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image/draw"
	"image/gif"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
)

// GIF encodes a single-frame GIF with a reduced palette.
type GIF struct{}

func NewGIF() *GIF { return &GIF{} }

func (g *GIF) CanEncode(format core.Format) bool { return format == core.FormatGIF }

func (g *GIF) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	const op = "gif.encode"
	o, ok := opts.(core.GIFOptions)
	if !ok {
		return nil, wrongOptions(op, opts)
	}
	src, err := pixels(ctx, op, img)
	if err != nil {
		return nil, err
	}

	var drawer draw.Drawer = draw.Src
	if o.Dither {
		drawer = draw.FloydSteinberg
	}
	var buf bytes.Buffer
	if err := gif.Encode(&buf, src, &gif.Options{NumColors: o.Colors, Drawer: drawer}); err != nil {
		return nil, apperrors.Wrap(apperrors.KindEncodeFailure, op, err)
	}
	return buf.Bytes(), nil
}

// BMP encodes uncompressed bitmaps via golang.org/x/image/bmp.
type BMP struct{}

func NewBMP() *BMP { return &BMP{} }

func (b *BMP) CanEncode(format core.Format) bool { return format == core.FormatBMP }

func (b *BMP) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	const op = "bmp.encode"
	if _, ok := opts.(core.BMPOptions); !ok {
		return nil, wrongOptions(op, opts)
	}
	src, err := pixels(ctx, op, img)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := bmp.Encode(&buf, src); err != nil {
		return nil, apperrors.Wrap(apperrors.KindEncodeFailure, op, err)
	}
	return buf.Bytes(), nil
}

// TIFF encodes via golang.org/x/image/tiff, which writes uncompressed or
// Deflate strips only.  LZW and PackBits requests are written with Deflate,
// the closest lossless scheme available; JPEG-in-TIFF needs the vips backend.
type TIFF struct{}

func NewTIFF() *TIFF { return &TIFF{} }

func (t *TIFF) CanEncode(format core.Format) bool { return format == core.FormatTIFF }

func (t *TIFF) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	const op = "tiff.encode"
	o, ok := opts.(core.TIFFOptions)
	if !ok {
		return nil, wrongOptions(op, opts)
	}
	src, err := pixels(ctx, op, img)
	if err != nil {
		return nil, err
	}

	topts := &tiff.Options{Compression: tiff.Uncompressed}
	switch o.Compression {
	case core.TIFFLZW, core.TIFFDeflate, core.TIFFPackBits:
		topts = &tiff.Options{Compression: tiff.Deflate, Predictor: true}
	case core.TIFFJPEG:
		return nil, apperrors.New(apperrors.KindEncodeFailure, op,
			fmt.Errorf("%w: jpeg compression is not available in the pure-Go encoder", apperrors.ErrInvalidOptions))
	}

	var buf bytes.Buffer
	if err := tiff.Encode(&buf, src, topts); err != nil {
		return nil, apperrors.Wrap(apperrors.KindEncodeFailure, op, err)
	}
	return buf.Bytes(), nil
}
