package encoder

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"

	"github.com/disintegration/imaging"

	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
)

// ICO writes a single-image icon with an embedded PNG payload.  Non-square
// sources are padded with transparency or centre-cropped first.
type ICO struct{}

func NewICO() *ICO { return &ICO{} }

func (i *ICO) CanEncode(format core.Format) bool { return format == core.FormatICO }

func (i *ICO) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	const op = "ico.encode"
	o, ok := opts.(core.ICOOptions)
	if !ok {
		return nil, wrongOptions(op, opts)
	}
	src, err := pixels(ctx, op, img)
	if err != nil {
		return nil, err
	}

	var payload bytes.Buffer
	if err := png.Encode(&payload, Square(src, o.Size, o.Square)); err != nil {
		return nil, apperrors.Wrap(apperrors.KindEncodeFailure, op, err)
	}

	// ICONDIR (6 bytes) + one ICONDIRENTRY (16 bytes) + PNG data.
	const headerLen = 6 + 16
	dim := byte(o.Size)
	if o.Size >= 256 {
		dim = 0 // 0 means 256 or larger; the PNG header carries the real size
	}
	out := bytes.NewBuffer(make([]byte, 0, headerLen+payload.Len()))
	le := binary.LittleEndian
	hdr := make([]byte, headerLen)
	le.PutUint16(hdr[2:], 1) // type: icon
	le.PutUint16(hdr[4:], 1) // image count
	hdr[6], hdr[7] = dim, dim
	le.PutUint16(hdr[10:], 1)  // colour planes
	le.PutUint16(hdr[12:], 32) // bits per pixel
	le.PutUint32(hdr[14:], uint32(payload.Len()))
	le.PutUint32(hdr[18:], headerLen)
	out.Write(hdr)
	out.Write(payload.Bytes())
	return out.Bytes(), nil
}

// Square scales src into a size x size square.  SquareCrop fills the square
// and trims the overflow; anything else fits the image and pads it with
// transparency.
func Square(src image.Image, size int, mode core.SquareMode) image.Image {
	if mode == core.SquareCrop {
		return imaging.Fill(src, size, size, imaging.Center, imaging.Lanczos)
	}
	fitted := imaging.Fit(src, size, size, imaging.Lanczos)
	canvas := imaging.New(size, size, color.NRGBA{})
	return imaging.PasteCenter(canvas, fitted)
}
