//go:build vips

// Package vips is the libvips backend.  It decodes, resizes and encodes every
// format the engine knows, including AVIF and the TIFF compressions the
// pure-Go encoders cannot write.  Build with -tags vips.
package vips

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
	"github.com/Skryldev/imgconv/utils"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	MaxCacheSize int
	MaxWorkers   int
	ReportLeaks  bool
	// Fallback encodes formats libvips cannot write (BMP, ICO).  May be nil.
	Fallback core.Registry
}

// Backend is a unified libvips-powered Decoder, Encoder and Resizer.
// Safe for concurrent use across goroutines.
type Backend struct {
	cfg BackendConfig
}

// NewBackend initialises libvips and returns a ready Backend.
// Call Shutdown() when the process exits.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = utils.CPUCount()
	}
	govips.LoggingSettings(nil, govips.LogLevelWarning)
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
		CollectStats:     true,
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (b *Backend) Shutdown() {
	govips.Shutdown()
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

func (b *Backend) CanDecode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP, core.FormatAVIF,
		core.FormatTIFF, core.FormatGIF, core.FormatBMP:
		return true
	}
	return false
}

func (b *Backend) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.FromContext("vips.decode", err)
	}

	buf, err := utils.DrainReader(ctx, r, 32*1024)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindIO, "vips.decode.drain", err)
	}
	raw := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)

	ref, err := govips.NewImageFromBuffer(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCorruptData, "vips.decode", err)
	}
	runtime.SetFinalizer(ref, func(r *govips.ImageRef) { r.Close() })

	if err := ref.AutoRotate(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindCorruptData, "vips.decode.rotate", err)
	}

	format := vipsFormatToCore(ref.Format())
	return &core.ImageData{
		Format: format,
		Image:  &VipsImage{ref: ref},
		Meta: core.Metadata{
			Width:      ref.Width(),
			Height:     ref.Height(),
			Format:     format,
			ColorSpace: vipsInterpretationToColorSpace(ref.Interpretation()),
			HasAlpha:   ref.HasAlpha(),
		},
		OriginalSize: int64(len(raw)),
	}, nil
}

// ─── Resizer ──────────────────────────────────────────────────────────────────

// Resize scales a copy of the image with the Lanczos3 kernel.  The input ref
// is left untouched because cached images are shared.
func (b *Backend) Resize(ctx context.Context, img *core.ImageData, spec core.ResizeSpec) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.FromContext("vips.resize", err)
	}
	ref, err := b.refOf(img)
	if err != nil {
		return nil, err
	}
	w, h := spec.Target(ref.Width(), ref.Height())
	if w == ref.Width() && h == ref.Height() {
		return img, nil
	}

	cp, err := ref.Copy()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "vips.resize.copy", err)
	}
	runtime.SetFinalizer(cp, func(r *govips.ImageRef) { r.Close() })
	hs := float64(w) / float64(ref.Width())
	vs := float64(h) / float64(ref.Height())
	if err := cp.ResizeWithVScale(hs, vs, govips.KernelLanczos3); err != nil {
		return nil, apperrors.Wrap(apperrors.KindEncodeFailure, "vips.resize", err)
	}

	out := *img
	out.Image = &VipsImage{ref: cp}
	out.Meta.Width = cp.Width()
	out.Meta.Height = cp.Height()
	return &out, nil
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

func (b *Backend) CanEncode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP, core.FormatAVIF,
		core.FormatTIFF, core.FormatGIF:
		return true
	case core.FormatBMP, core.FormatICO:
		return b.cfg.Fallback != nil
	}
	return false
}

func (b *Backend) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.FromContext("vips.encode", err)
	}

	switch opts.(type) {
	case core.BMPOptions, core.ICOOptions:
		return b.encodeFallback(ctx, img, opts)
	}

	ref, err := b.refOf(img)
	if err != nil {
		return nil, err
	}

	var (
		out []byte
		op  = "vips.encode." + string(opts.Format())
	)
	switch o := opts.(type) {
	case core.JPEGOptions:
		src := ref
		if ref.HasAlpha() {
			if src, err = ref.Copy(); err != nil {
				return nil, apperrors.Wrap(apperrors.KindInternal, op, err)
			}
			defer src.Close()
			if err := src.Flatten(&govips.Color{R: 255, G: 255, B: 255}); err != nil {
				return nil, apperrors.Wrap(apperrors.KindEncodeFailure, op, err)
			}
		}
		ep := govips.NewJpegExportParams()
		ep.Quality = o.Quality
		ep.Interlace = o.Progressive
		ep.StripMetadata = true
		out, _, err = src.ExportJpeg(ep)

	case core.PNGOptions:
		ep := govips.NewPngExportParams()
		ep.Compression = o.Level
		ep.StripMetadata = true
		out, _, err = ref.ExportPng(ep)

	case core.WebPOptions:
		ep := govips.NewWebpExportParams()
		ep.Quality = o.Quality
		ep.Lossless = o.Lossless
		ep.ReductionEffort = o.Method
		ep.StripMetadata = true
		out, _, err = ref.ExportWebp(ep)

	case core.AVIFOptions:
		ep := govips.NewAvifExportParams()
		ep.Quality = o.Quality
		ep.Lossless = o.Lossless
		ep.Speed = o.Speed
		ep.StripMetadata = true
		out, _, err = ref.ExportAvif(ep)

	case core.TIFFOptions:
		ep := govips.NewTiffExportParams()
		ep.Compression = tiffCompression(o.Compression)
		if o.Compression == core.TIFFJPEG {
			ep.Quality = o.JPEGQuality
		}
		ep.StripMetadata = true
		out, _, err = ref.ExportTiff(ep)

	case core.GIFOptions:
		ep := govips.NewGifExportParams()
		ep.Bitdepth = paletteBits(o.Colors)
		if !o.Dither {
			ep.Dither = 0
		}
		ep.StripMetadata = true
		out, _, err = ref.ExportGIF(ep)

	default:
		return nil, apperrors.New(apperrors.KindEncodeFailure, "vips.encode",
			fmt.Errorf("%w: %s", apperrors.ErrNoEncoder, opts.Format()))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindEncodeFailure, op, err)
	}
	return out, nil
}

// encodeFallback hands formats libvips cannot write to the pure-Go encoders.
func (b *Backend) encodeFallback(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	if b.cfg.Fallback == nil {
		return nil, apperrors.New(apperrors.KindEncodeFailure, "vips.encode",
			fmt.Errorf("%w: %s", apperrors.ErrNoEncoder, opts.Format()))
	}
	enc, ok := b.cfg.Fallback.EncoderFor(opts.Format())
	if !ok {
		return nil, apperrors.New(apperrors.KindEncodeFailure, "vips.encode",
			fmt.Errorf("%w: %s", apperrors.ErrNoEncoder, opts.Format()))
	}
	goImg, err := ToImage(img)
	if err != nil {
		return nil, err
	}
	cp := *img
	cp.Image = goImg
	return enc.Encode(ctx, &cp, opts)
}

// refOf returns the vips handle of img, importing a Go image when it was
// decoded elsewhere.
func (b *Backend) refOf(img *core.ImageData) (*govips.ImageRef, error) {
	switch v := img.Image.(type) {
	case *VipsImage:
		if v != nil {
			return v.ref, nil
		}
	case image.Image:
		var buf bytes.Buffer
		if err := png.Encode(&buf, v); err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, "vips.import", err)
		}
		ref, err := govips.NewImageFromBuffer(buf.Bytes())
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, "vips.import", err)
		}
		runtime.SetFinalizer(ref, func(r *govips.ImageRef) { r.Close() })
		return ref, nil
	}
	return nil, apperrors.New(apperrors.KindInternal, "vips", apperrors.ErrEmptyInput)
}

// ─── VipsImage ────────────────────────────────────────────────────────────────

// VipsImage wraps a *govips.ImageRef for storage in core.ImageData.Image.
type VipsImage struct {
	ref *govips.ImageRef
}

func (v *VipsImage) Width() int            { return v.ref.Width() }
func (v *VipsImage) Height() int           { return v.ref.Height() }
func (v *VipsImage) Ref() *govips.ImageRef { return v.ref }
func (v *VipsImage) Close()                { v.ref.Close() }

// ToImage returns img's pixels as an image.Image, converting from a vips
// handle when needed.  Previews use it to display vips-decoded images.
func ToImage(img *core.ImageData) (image.Image, error) {
	switch v := img.Image.(type) {
	case image.Image:
		return v, nil
	case *VipsImage:
		out, err := v.ref.ToImage(govips.NewDefaultExportParams())
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, "vips.to_image", err)
		}
		return out, nil
	}
	return nil, apperrors.New(apperrors.KindInternal, "vips.to_image", apperrors.ErrEmptyInput)
}

// ─── Registration ─────────────────────────────────────────────────────────────

// RegisterVipsBackend replaces the pure-Go codecs with libvips for every
// format it handles and installs it as the resizer.  Encoders already on reg
// for BMP and ICO become the backend's fallback.
func RegisterVipsBackend(reg core.Registry, b *Backend) {
	if b.cfg.Fallback == nil {
		fb := core.NewRegistry()
		for _, f := range []core.Format{core.FormatBMP, core.FormatICO} {
			if enc, ok := reg.EncoderFor(f); ok {
				fb.RegisterEncoder(f, enc)
			}
		}
		b.cfg.Fallback = fb
	}
	for _, f := range core.Formats {
		if b.CanDecode(f) {
			reg.RegisterDecoder(f, b)
		}
		if b.CanEncode(f) {
			reg.RegisterEncoder(f, b)
		}
	}
	reg.SetResizer(b)
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func vipsFormatToCore(f govips.ImageType) core.Format {
	switch f {
	case govips.ImageTypeJPEG:
		return core.FormatJPEG
	case govips.ImageTypePNG:
		return core.FormatPNG
	case govips.ImageTypeWEBP:
		return core.FormatWebP
	case govips.ImageTypeAVIF, govips.ImageTypeHEIF:
		return core.FormatAVIF
	case govips.ImageTypeTIFF:
		return core.FormatTIFF
	case govips.ImageTypeGIF:
		return core.FormatGIF
	case govips.ImageTypeBMP:
		return core.FormatBMP
	default:
		return core.FormatUnknown
	}
}

func vipsInterpretationToColorSpace(i govips.Interpretation) core.ColorSpace {
	switch i {
	case govips.InterpretationBW, govips.InterpretationGrey16:
		return core.ColorSpaceGray
	case govips.InterpretationCMYK:
		return core.ColorSpaceCMYK
	default:
		return core.ColorSpaceRGB
	}
}

func tiffCompression(c core.TIFFCompression) govips.TiffCompression {
	switch c {
	case core.TIFFLZW:
		return govips.TiffCompressionLzw
	case core.TIFFDeflate:
		return govips.TiffCompressionDeflate
	case core.TIFFJPEG:
		return govips.TiffCompressionJpeg
	case core.TIFFPackBits:
		return govips.TiffCompressionPackbits
	}
	return govips.TiffCompressionNone
}

// paletteBits is the smallest bit depth whose palette holds colors entries.
func paletteBits(colors int) int {
	bits := 1
	for 1<<bits < colors && bits < 8 {
		bits++
	}
	return bits
}

// compile-time interface checks
var _ core.Decoder = (*Backend)(nil)
var _ core.Encoder = (*Backend)(nil)
var _ core.Resizer = (*Backend)(nil)
