package decoder_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/Skryldev/imgconv/adapters/decoder"
	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
)

func sample(w, h int, alpha bool) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := uint8(255)
			if alpha && y == 0 {
				a = 10
			}
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: a})
		}
	}
	return img
}

func TestDecoders(t *testing.T) {
	encode := func(fn func(*bytes.Buffer) error) []byte {
		var buf bytes.Buffer
		if err := fn(&buf); err != nil {
			t.Fatal(err)
		}
		return buf.Bytes()
	}
	opaque, alpha := sample(20, 10, false), sample(20, 10, true)

	tests := []struct {
		name      string
		dec       core.Decoder
		format    core.Format
		data      []byte
		wantAlpha bool
	}{
		{"jpeg", decoder.NewJPEG(), core.FormatJPEG, encode(func(b *bytes.Buffer) error { return jpeg.Encode(b, opaque, nil) }), false},
		{"png alpha", decoder.NewPNG(), core.FormatPNG, encode(func(b *bytes.Buffer) error { return png.Encode(b, alpha) }), true},
		{"png opaque", decoder.NewPNG(), core.FormatPNG, encode(func(b *bytes.Buffer) error { return png.Encode(b, opaque) }), false},
		{"gif", decoder.NewGIF(), core.FormatGIF, encode(func(b *bytes.Buffer) error { return gif.Encode(b, opaque, nil) }), false},
		{"bmp", decoder.NewBMP(), core.FormatBMP, encode(func(b *bytes.Buffer) error { return bmp.Encode(b, opaque) }), false},
		{"tiff", decoder.NewTIFF(), core.FormatTIFF, encode(func(b *bytes.Buffer) error { return tiff.Encode(b, opaque, nil) }), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if !tc.dec.CanDecode(tc.format) {
				t.Fatalf("CanDecode(%s) = false", tc.format)
			}
			img, err := tc.dec.Decode(context.Background(), bytes.NewReader(tc.data))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if img.Format != tc.format || img.Meta.Width != 20 || img.Meta.Height != 10 {
				t.Errorf("got %s %dx%d", img.Format, img.Meta.Width, img.Meta.Height)
			}
			if img.Meta.HasAlpha != tc.wantAlpha {
				t.Errorf("HasAlpha = %v", img.Meta.HasAlpha)
			}
		})
	}
}

func TestDecodeCorrupt(t *testing.T) {
	// A valid JPEG signature followed by garbage.
	data := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0x13}, 64)...)
	_, err := decoder.NewJPEG().Decode(context.Background(), bytes.NewReader(data))
	if !apperrors.IsKind(err, apperrors.KindCorruptData) {
		t.Errorf("got %v", err)
	}
}

func TestDecodeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := decoder.NewPNG().Decode(ctx, bytes.NewReader(nil))
	if !apperrors.IsCancelled(err) {
		t.Errorf("got %v", err)
	}
}
