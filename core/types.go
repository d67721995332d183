package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Skryldev/imgconv/errors"
	"github.com/Skryldev/imgconv/utils"
)

// Format identifies an image codec.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatAVIF    Format = "avif"
	FormatTIFF    Format = "tiff"
	FormatGIF     Format = "gif"
	FormatBMP     Format = "bmp"
	FormatICO     Format = "ico"
	FormatUnknown Format = "unknown"
)

// Formats lists every known output format in display order.
var Formats = []Format{FormatWebP, FormatAVIF, FormatJPEG, FormatPNG, FormatTIFF, FormatGIF, FormatBMP, FormatICO}

// Extension returns the file extension, including the dot, used for outputs.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatUnknown, "":
		return ""
	}
	return "." + string(f)
}

// DisplayName is the upper-case name used in filename templates.
func (f Format) DisplayName() string { return strings.ToUpper(string(f)) }

// ParseFormat maps a user supplied name or extension to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".") {
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	case "avif":
		return FormatAVIF, nil
	case "tif", "tiff":
		return FormatTIFF, nil
	case "gif":
		return FormatGIF, nil
	case "bmp":
		return FormatBMP, nil
	case "ico":
		return FormatICO, nil
	}
	return FormatUnknown, apperrors.New(apperrors.KindInput, "format.parse",
		fmt.Errorf("%w: %q", apperrors.ErrUnsupportedFormat, s))
}

// ColorSpace represents the image colour model.
type ColorSpace string

const (
	ColorSpaceRGB  ColorSpace = "rgb"
	ColorSpaceRGBA ColorSpace = "rgba"
	ColorSpaceCMYK ColorSpace = "cmyk"
	ColorSpaceGray ColorSpace = "gray"
)

// Metadata holds extracted image information.
type Metadata struct {
	Width       int
	Height      int
	Format      Format
	ColorSpace  ColorSpace
	HasAlpha    bool
	SizeBytes   int64
	Orientation int // EXIF orientation tag (1-8), 0 once normalised
	Quality     int // quality used for the last encode, 0 when not applicable
}

// ImageData is the in-memory representation passed through a pipeline.
// Data holds encoded bytes; Image holds the decoded pixel buffer when needed.
type ImageData struct {
	// Encoded bytes: raw input before decode, encoded output after encode.
	Data   []byte
	Format Format

	// Decoded pixel buffer.  image.Image for the pure-Go codecs, a backend
	// specific handle for libvips.
	Image interface{}

	Meta Metadata

	// Size of the original raw input.
	OriginalSize int64

	// Location is the path the output was written to, set by the write step.
	Location string

	// Notices collects informational annotations raised while processing.
	Notices []Notice
}

// Notice is an informational annotation attached to a job result.  It never
// turns a job into a failure.
type Notice struct {
	Kind    apperrors.Kind
	Message string
	// Size is the achieved output size when the notice concerns size.
	Size int64
}

// Source is where a job reads its input from: a file path or an in-memory
// buffer.
type Source struct {
	Path    string
	Data    []byte
	Name    string // logical name; defaults to the base name of Path
	Size    int64
	ModTime time.Time
}

// FromFile describes a source on disk.  Size and ModTime are filled in when
// the file can be stat'ed.
func FromFile(path string) Source {
	src := Source{Path: path, Name: filepath.Base(path), Size: -1}
	if fi, err := os.Stat(path); err == nil {
		src.Size = fi.Size()
		src.ModTime = fi.ModTime()
	}
	return src
}

// FromBytes describes an in-memory source.
func FromBytes(name string, data []byte) Source {
	return Source{Name: name, Data: data, Size: int64(len(data))}
}

// Identity returns the stable identifier of the source used for cache
// invalidation: the cleaned absolute path, or the logical name for buffers.
func (s Source) Identity() string {
	if s.Path != "" {
		if abs, err := filepath.Abs(s.Path); err == nil {
			return abs
		}
		return filepath.Clean(s.Path)
	}
	return "mem:" + s.Name
}

// Open returns a reader over the source content.
func (s Source) Open() (io.ReadCloser, error) {
	if s.Data != nil || s.Path == "" {
		return io.NopCloser(utils.BytesReader(s.Data)), nil
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindIO, "source.open", err)
	}
	return f, nil
}

// TargetSize requests an output of approximately Bytes, within Tolerance.
type TargetSize struct {
	Bytes     int64
	Tolerance int64 // 0 = use the configured default fraction
}

// Bounds returns the inclusive acceptable size range.  defaultFraction is
// applied when no explicit tolerance is set.
func (t TargetSize) Bounds(defaultFraction float64) (lo, hi int64) {
	tol := t.Tolerance
	if tol <= 0 {
		tol = int64(float64(t.Bytes) * defaultFraction)
	}
	lo = t.Bytes - tol
	if lo < 0 {
		lo = 0
	}
	return lo, t.Bytes + tol
}

// LocationMode selects the output directory.
type LocationMode string

const (
	LocationSameAsSource LocationMode = "same"
	LocationCustom       LocationMode = "custom"
	// LocationAsk means the caller prompts for a folder and stores the answer
	// in OutputPolicy.Folder before submitting.
	LocationAsk LocationMode = "ask"
)

// OutputPolicy controls where outputs are written and how they are named.
type OutputPolicy struct {
	Mode   LocationMode
	Folder string
	// Template produces the output stem.  Placeholders: {name} {format}
	// {quality} {suffix} {n}.  Empty means "{name}_converted".
	Template string
	Suffix   string
	// BaseName replaces the source stem in {name} when set.
	BaseName      string
	AutoIncrement bool
}

// Settings is the conversion configuration shared by a batch or given per
// file.
type Settings struct {
	Options    EncodeOptions
	Resize     ResizeSpec
	TargetSize *TargetSize
	Output     OutputPolicy
}

// Target is the output format selected by the encode options.
func (s Settings) Target() Format {
	if s.Options == nil {
		return FormatUnknown
	}
	return s.Options.Format()
}

// Validate checks the settings before any job is created from them.
func (s Settings) Validate() error {
	if s.Options == nil {
		return apperrors.New(apperrors.KindInput, "settings.validate",
			fmt.Errorf("%w: no encode options", apperrors.ErrInvalidOptions))
	}
	if err := s.Options.Validate(); err != nil {
		return apperrors.Wrap(apperrors.KindInput, "settings.validate", err)
	}
	if err := s.Resize.Validate(); err != nil {
		return apperrors.Wrap(apperrors.KindInput, "settings.validate", err)
	}
	if s.TargetSize != nil && s.TargetSize.Bytes <= 0 {
		return apperrors.New(apperrors.KindInput, "settings.validate",
			fmt.Errorf("target size must be positive, got %d", s.TargetSize.Bytes))
	}
	return nil
}

// Job is an immutable unit of work.  Re-running a conversion means creating a
// new Job.
type Job struct {
	ID           string
	Source       Source
	SourceFormat Format // detected from content, never from the extension
	Settings     Settings
	CreatedAt    time.Time
}

// NewJob builds a Job from a source and settings.  The source format is
// sniffed from the leading bytes; an unreadable source yields FormatUnknown
// and fails later with a classified error instead of being dropped here.
func NewJob(src Source, s Settings) (Job, error) {
	if err := s.Validate(); err != nil {
		return Job{}, err
	}
	if src.Path == "" && src.Data == nil {
		return Job{}, apperrors.New(apperrors.KindInput, "job.new", apperrors.ErrEmptyInput)
	}
	if src.Name == "" && src.Path != "" {
		src.Name = filepath.Base(src.Path)
	}
	return Job{
		ID:           uuid.NewString(),
		Source:       src,
		SourceFormat: sniff(src),
		Settings:     s,
		CreatedAt:    time.Now(),
	}, nil
}

// Target is the output format of the job.
func (j Job) Target() Format { return j.Settings.Target() }

func sniff(src Source) Format {
	if src.Data != nil {
		return Format(utils.DetectFormat(head(src.Data)))
	}
	f, err := os.Open(src.Path)
	if err != nil {
		return FormatUnknown
	}
	defer f.Close()
	buf := make([]byte, utils.SniffLen)
	n, _ := io.ReadFull(f, buf)
	return Format(utils.DetectFormat(buf[:n]))
}

func head(b []byte) []byte {
	if len(b) > utils.SniffLen {
		return b[:utils.SniffLen]
	}
	return b
}

// Result is what a Runner reports for a finished job.
type Result struct {
	OutputPath string
	BytesIn    int64
	BytesOut   int64
	Quality    int
	Notices    []Notice
}

// Step is the fundamental pipeline building block.  Each Step transforms an
// *ImageData value and must be safe for concurrent use across goroutines.
type Step interface {
	Name() string
	Execute(ctx context.Context, img *ImageData) (*ImageData, error)
}

// Hook is an optional observer invoked around pipeline steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, img *ImageData)
	AfterStep(ctx context.Context, stepName string, img *ImageData, d time.Duration, err error)
}
