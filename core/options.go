package core

import (
	"fmt"

	apperrors "github.com/Skryldev/imgconv/errors"
)

// EncodeOptions carries the parameters of one output format.  Each format has
// its own variant; encoders type-switch on the concrete value.
type EncodeOptions interface {
	Format() Format
	Validate() error
}

// TunableOptions is implemented by variants with a scalar quality knob that
// the target-size search may adjust.
type TunableOptions interface {
	EncodeOptions
	QualityValue() int
	WithQuality(q int) EncodeOptions
}

// Tunable returns the quality knob of opts, if it has a usable one.  Lossless
// variants report false because quality does not drive their size.
func Tunable(opts EncodeOptions) (TunableOptions, bool) {
	switch o := opts.(type) {
	case JPEGOptions:
		return o, true
	case WebPOptions:
		return o, !o.Lossless
	case AVIFOptions:
		return o, !o.Lossless
	}
	return nil, false
}

// ── JPEG ──────────────────────────────────────────────────────────────────────

type JPEGOptions struct {
	Quality     int
	Progressive bool
}

func (o JPEGOptions) Format() Format                  { return FormatJPEG }
func (o JPEGOptions) QualityValue() int               { return o.Quality }
func (o JPEGOptions) WithQuality(q int) EncodeOptions { o.Quality = q; return o }
func (o JPEGOptions) Validate() error                 { return checkRange("jpeg.quality", o.Quality, 1, 100) }

// ── PNG ───────────────────────────────────────────────────────────────────────

// PNGOptions is lossless; Level trades speed for size (0-9).
type PNGOptions struct {
	Level int
}

func (o PNGOptions) Format() Format  { return FormatPNG }
func (o PNGOptions) Validate() error { return checkRange("png.level", o.Level, 0, 9) }

// ── WebP ──────────────────────────────────────────────────────────────────────

type WebPOptions struct {
	Quality  int
	Lossless bool
	Method   int // 0 (fast) - 6 (slow, smaller)
}

func (o WebPOptions) Format() Format                  { return FormatWebP }
func (o WebPOptions) QualityValue() int               { return o.Quality }
func (o WebPOptions) WithQuality(q int) EncodeOptions { o.Quality = q; return o }
func (o WebPOptions) Validate() error {
	if err := checkRange("webp.quality", o.Quality, 0, 100); err != nil {
		return err
	}
	return checkRange("webp.method", o.Method, 0, 6)
}

// ── AVIF ──────────────────────────────────────────────────────────────────────

// AVIFRange is the colour range written to the AVIF container.
type AVIFRange string

const (
	AVIFRangeFull    AVIFRange = "full"
	AVIFRangeLimited AVIFRange = "limited"
)

type AVIFOptions struct {
	Quality  int
	Lossless bool
	Speed    int // 0 (slow) - 10 (fast)
	Range    AVIFRange
}

func (o AVIFOptions) Format() Format                  { return FormatAVIF }
func (o AVIFOptions) QualityValue() int               { return o.Quality }
func (o AVIFOptions) WithQuality(q int) EncodeOptions { o.Quality = q; return o }
func (o AVIFOptions) Validate() error {
	if err := checkRange("avif.quality", o.Quality, 1, 100); err != nil {
		return err
	}
	if err := checkRange("avif.speed", o.Speed, 0, 10); err != nil {
		return err
	}
	switch o.Range {
	case "", AVIFRangeFull, AVIFRangeLimited:
		return nil
	}
	return invalid("avif.range", "must be full or limited, got %q", o.Range)
}

// ── TIFF ──────────────────────────────────────────────────────────────────────

// TIFFCompression names a TIFF compression scheme.
type TIFFCompression string

const (
	TIFFNone     TIFFCompression = "none"
	TIFFLZW      TIFFCompression = "lzw"
	TIFFDeflate  TIFFCompression = "deflate"
	TIFFJPEG     TIFFCompression = "jpeg"
	TIFFPackBits TIFFCompression = "packbits"
)

type TIFFOptions struct {
	Compression TIFFCompression
	JPEGQuality int // only used with TIFFJPEG
}

func (o TIFFOptions) Format() Format { return FormatTIFF }
func (o TIFFOptions) Validate() error {
	switch o.Compression {
	case "", TIFFNone, TIFFLZW, TIFFDeflate, TIFFPackBits:
		return nil
	case TIFFJPEG:
		return checkRange("tiff.jpeg_quality", o.JPEGQuality, 1, 100)
	}
	return invalid("tiff.compression", "unknown scheme %q", o.Compression)
}

// ── GIF ───────────────────────────────────────────────────────────────────────

type GIFOptions struct {
	Colors int  // palette size, 2-256
	Dither bool // Floyd-Steinberg when true
}

func (o GIFOptions) Format() Format  { return FormatGIF }
func (o GIFOptions) Validate() error { return checkRange("gif.colors", o.Colors, 2, 256) }

// ── BMP ───────────────────────────────────────────────────────────────────────

// BMPOptions has no parameters; BMP is stored uncompressed.
type BMPOptions struct{}

func (o BMPOptions) Format() Format  { return FormatBMP }
func (o BMPOptions) Validate() error { return nil }

// ── ICO ───────────────────────────────────────────────────────────────────────

// SquareMode decides how a non-square image becomes a square icon.
type SquareMode string

const (
	SquarePad  SquareMode = "pad"
	SquareCrop SquareMode = "crop"
)

type ICOOptions struct {
	Size   int // square edge, 16-512
	Square SquareMode
}

func (o ICOOptions) Format() Format { return FormatICO }
func (o ICOOptions) Validate() error {
	if err := checkRange("ico.size", o.Size, 16, 512); err != nil {
		return err
	}
	switch o.Square {
	case "", SquarePad, SquareCrop:
		return nil
	}
	return invalid("ico.square", "must be pad or crop, got %q", o.Square)
}

// DefaultOptions returns the default variant for f with the given quality
// applied where the format has one.
func DefaultOptions(f Format, quality int) (EncodeOptions, error) {
	switch f {
	case FormatJPEG:
		return JPEGOptions{Quality: quality}, nil
	case FormatPNG:
		return PNGOptions{Level: 6}, nil
	case FormatWebP:
		return WebPOptions{Quality: quality, Method: 6}, nil
	case FormatAVIF:
		return AVIFOptions{Quality: quality, Speed: 4, Range: AVIFRangeFull}, nil
	case FormatTIFF:
		return TIFFOptions{Compression: TIFFLZW, JPEGQuality: quality}, nil
	case FormatGIF:
		return GIFOptions{Colors: 256, Dither: true}, nil
	case FormatBMP:
		return BMPOptions{}, nil
	case FormatICO:
		return ICOOptions{Size: 256, Square: SquarePad}, nil
	}
	return nil, apperrors.New(apperrors.KindUnsupportedFormat, "options.default",
		fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, f))
}

// OptionsQuality returns the quality carried by opts, or 0 when the variant
// has none.
func OptionsQuality(opts EncodeOptions) int {
	switch o := opts.(type) {
	case JPEGOptions:
		return o.Quality
	case WebPOptions:
		return o.Quality
	case AVIFOptions:
		return o.Quality
	case TIFFOptions:
		if o.Compression == TIFFJPEG {
			return o.JPEGQuality
		}
	}
	return 0
}

func checkRange(field string, v, lo, hi int) error {
	if v < lo || v > hi {
		return invalid(field, "%d out of range [%d, %d]", v, lo, hi)
	}
	return nil
}

func invalid(field, format string, args ...interface{}) error {
	return apperrors.New(apperrors.KindEncodeFailure, field,
		fmt.Errorf("%w: "+format, append([]interface{}{apperrors.ErrInvalidOptions}, args...)...))
}
