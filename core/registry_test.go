package core_test

import (
	"context"
	"errors"
	"image"
	"io"
	"testing"

	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
)

type stubDecoder struct{ err error }

func (d stubDecoder) CanDecode(f core.Format) bool { return f == core.FormatPNG }
func (d stubDecoder) Decode(_ context.Context, r io.Reader) (*core.ImageData, error) {
	if d.err != nil {
		return nil, d.err
	}
	_, _ = io.Copy(io.Discard, r)
	return &core.ImageData{
		Format: core.FormatPNG,
		Image:  image.NewNRGBA(image.Rect(0, 0, 8, 6)),
		Meta:   core.Metadata{Width: 8, Height: 6, Format: core.FormatPNG},
	}, nil
}

type stubEncoder struct{ err error }

func (e stubEncoder) CanEncode(f core.Format) bool { return f == core.FormatJPEG }
func (e stubEncoder) Encode(context.Context, *core.ImageData, core.EncodeOptions) ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []byte{0xFF, 0xD8, 0xFF}, nil
}

type countingResizer struct{ calls int }

func (r *countingResizer) Resize(_ context.Context, img *core.ImageData, spec core.ResizeSpec) (*core.ImageData, error) {
	r.calls++
	w, h := spec.Target(img.Meta.Width, img.Meta.Height)
	out := *img
	out.Meta.Width, out.Meta.Height = w, h
	return &out, nil
}

func TestCodecDecode(t *testing.T) {
	ctx := context.Background()
	reg := core.NewRegistry()
	reg.RegisterDecoder(core.FormatPNG, stubDecoder{})
	codec := core.NewCodec(reg)

	img, err := codec.Decode(ctx, pngBytes(t, 2, 2))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if img.OriginalSize == 0 || len(img.Data) == 0 {
		t.Error("Decode must record the raw input")
	}

	if _, err := codec.Decode(ctx, nil); !apperrors.IsKind(err, apperrors.KindCorruptData) {
		t.Errorf("empty: %v", err)
	}
	if _, err := codec.Decode(ctx, []byte("plain text, not an image")); !apperrors.IsKind(err, apperrors.KindUnsupportedFormat) {
		t.Errorf("text: %v", err)
	}
	gif := []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;")
	if _, err := codec.Decode(ctx, gif); !apperrors.IsKind(err, apperrors.KindUnsupportedFormat) {
		t.Errorf("gif without decoder: %v", err)
	}

	reg.RegisterDecoder(core.FormatPNG, stubDecoder{err: errors.New("bad chunk")})
	if _, err := codec.Decode(ctx, pngBytes(t, 2, 2)); !apperrors.IsKind(err, apperrors.KindCorruptData) {
		t.Errorf("decoder failure: %v", err)
	}

	reg.RegisterDecoder(core.FormatPNG, stubDecoder{err: apperrors.FromContext("decode", context.Canceled)})
	if _, err := codec.Decode(ctx, pngBytes(t, 2, 2)); !apperrors.IsCancelled(err) {
		t.Errorf("cancellation must not be reclassified: %v", err)
	}
}

func TestCodecEncode(t *testing.T) {
	ctx := context.Background()
	reg := core.NewRegistry()
	reg.RegisterEncoder(core.FormatJPEG, stubEncoder{})
	codec := core.NewCodec(reg)
	img := &core.ImageData{Meta: core.Metadata{Width: 1, Height: 1}}

	if _, err := codec.Encode(ctx, img, core.JPEGOptions{Quality: 80}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := codec.Encode(ctx, img, nil); !apperrors.IsKind(err, apperrors.KindEncodeFailure) {
		t.Errorf("nil opts: %v", err)
	}
	if _, err := codec.Encode(ctx, img, core.JPEGOptions{Quality: 0}); !apperrors.IsKind(err, apperrors.KindEncodeFailure) {
		t.Errorf("invalid opts: %v", err)
	}
	_, err := codec.Encode(ctx, img, core.PNGOptions{Level: 6})
	if !apperrors.IsKind(err, apperrors.KindEncodeFailure) || !errors.Is(err, apperrors.ErrNoEncoder) {
		t.Errorf("missing encoder: %v", err)
	}

	reg.RegisterEncoder(core.FormatJPEG, stubEncoder{err: errors.New("boom")})
	if _, err := codec.Encode(ctx, img, core.JPEGOptions{Quality: 80}); !apperrors.IsKind(err, apperrors.KindEncodeFailure) {
		t.Errorf("encoder failure: %v", err)
	}
}

func TestCodecResize(t *testing.T) {
	ctx := context.Background()
	reg := core.NewRegistry()
	rs := &countingResizer{}
	reg.SetResizer(rs)
	codec := core.NewCodec(reg)
	img := &core.ImageData{Meta: core.Metadata{Width: 100, Height: 50}}

	out, err := codec.Resize(ctx, img, core.ResizeSpec{})
	if err != nil || out != img || rs.calls != 0 {
		t.Fatalf("inactive spec must be a no-op: %v", err)
	}
	out, err = codec.Resize(ctx, img, core.ResizeSpec{Mode: core.ResizeFitWidth, Width: 200})
	if err != nil || out != img || rs.calls != 0 {
		t.Fatalf("unchanged dimensions must be a no-op: %v", err)
	}
	out, err = codec.Resize(ctx, img, core.ResizeSpec{Mode: core.ResizePercent, Percent: 50})
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if out.Meta.Width != 50 || out.Meta.Height != 25 || rs.calls != 1 {
		t.Errorf("got %dx%d after %d calls", out.Meta.Width, out.Meta.Height, rs.calls)
	}
}

func TestRegistryEncodable(t *testing.T) {
	reg := core.NewRegistry()
	reg.RegisterEncoder(core.FormatPNG, stubEncoder{})
	reg.RegisterEncoder(core.FormatWebP, stubEncoder{})
	got := reg.Encodable()
	if len(got) != 2 || got[0] != core.FormatWebP || got[1] != core.FormatPNG {
		t.Errorf("Encodable: %v", got)
	}
}
