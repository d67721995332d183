// Package preview renders the thumbnails and before/after previews shown
// next to a queued file.  Every render goes through the tiered cache, so a
// repeated request for the same source and settings costs one lookup.
package preview

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/png"

	"github.com/Skryldev/imgconv/cache"
	"github.com/Skryldev/imgconv/config"
	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
	"github.com/Skryldev/imgconv/utils"
)

// Loader reads the full content of a source.  *pipeline.Converter
// implements it.
type Loader interface {
	Load(ctx context.Context, src core.Source) ([]byte, error)
}

// Preview is a rendered image ready for display.
type Preview struct {
	Image  image.Image
	Width  int
	Height int

	// Set on output previews only.
	Format      core.Format
	Quality     int
	EncodedSize int64
	// Approximate is true when the encoded output could not be decoded back
	// and Image shows the pixels before encoding.
	Approximate bool
}

func (p *Preview) bytes() int64 {
	return int64(p.Width)*int64(p.Height)*4 + 64
}

// Service produces previews through a cache.
type Service struct {
	codec  core.Codec
	loader Loader
	cache  *cache.Cache
	cfg    config.PreviewConfig
}

// New returns a Service.
func New(codec core.Codec, loader Loader, c *cache.Cache, cfg config.PreviewConfig) *Service {
	return &Service{codec: codec, loader: loader, cache: c, cfg: cfg}
}

// Thumbnail renders the list-row icon: fixed height, width following the
// aspect ratio within the configured bounds.
func (s *Service) Thumbnail(ctx context.Context, src core.Source) (*Preview, error) {
	key := cache.Fingerprint(src, "thumbnail", s.cfg.ThumbnailHeight, s.cfg.ThumbnailMinWidth, s.cfg.ThumbnailMaxWidth)
	return s.through(ctx, cache.TierThumbnail, key, func(ctx context.Context) (*Preview, error) {
		img, err := s.decode(ctx, src)
		if err != nil {
			return nil, err
		}
		w, h := ThumbnailSize(img.Meta.Width, img.Meta.Height, s.cfg)
		img, err = s.codec.Resize(ctx, img, core.ResizeSpec{Mode: core.ResizeExact, Width: w, Height: h, AllowUpscale: true})
		if err != nil {
			return nil, err
		}
		return s.render(ctx, img)
	})
}

// InputPreview renders the source fitted inside the preview box.  Small
// images are shown at their own size.
func (s *Service) InputPreview(ctx context.Context, src core.Source) (*Preview, error) {
	key := cache.Fingerprint(src, "input", s.cfg.MaxWidth, s.cfg.MaxHeight)
	return s.through(ctx, cache.TierInputPreview, key, func(ctx context.Context) (*Preview, error) {
		img, err := s.decode(ctx, src)
		if err != nil {
			return nil, err
		}
		img, err = s.codec.Resize(ctx, img, s.box())
		if err != nil {
			return nil, err
		}
		return s.render(ctx, img)
	})
}

// OutputPreview shows what the conversion of src with settings would look
// like: it resizes and encodes with the settings' options, decodes the
// result back and reports the encoded size.  A target size is not searched;
// the preview uses the options as given.
func (s *Service) OutputPreview(ctx context.Context, src core.Source, settings core.Settings) (*Preview, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	key := cache.Fingerprint(src, "output", settings.Resize, settings.Options, s.cfg.MaxWidth, s.cfg.MaxHeight)
	return s.through(ctx, cache.TierOutputPreview, key, func(ctx context.Context) (*Preview, error) {
		img, err := s.decode(ctx, src)
		if err != nil {
			return nil, err
		}
		if img, err = s.codec.Resize(ctx, img, settings.Resize); err != nil {
			return nil, err
		}
		data, err := s.codec.Encode(ctx, img, settings.Options)
		if err != nil {
			return nil, err
		}

		shown, err := s.decodeEncoded(ctx, settings.Target(), data)
		approximate := false
		if apperrors.IsKind(err, apperrors.KindUnsupportedFormat) {
			shown, approximate = img, true
		} else if err != nil {
			return nil, err
		}
		if shown, err = s.codec.Resize(ctx, shown, s.box()); err != nil {
			return nil, err
		}
		p, err := s.render(ctx, shown)
		if err != nil {
			return nil, err
		}
		p.Format = settings.Target()
		p.Quality = core.OptionsQuality(settings.Options)
		p.EncodedSize = int64(len(data))
		p.Approximate = approximate
		return p, nil
	})
}

// ThumbnailSize returns the thumbnail dimensions for a srcW x srcH image.
func ThumbnailSize(srcW, srcH int, cfg config.PreviewConfig) (int, int) {
	h := cfg.ThumbnailHeight
	if srcW <= 0 || srcH <= 0 {
		return cfg.ThumbnailMinWidth, h
	}
	w := int(float64(h) * float64(srcW) / float64(srcH))
	return utils.Clamp(w, cfg.ThumbnailMinWidth, cfg.ThumbnailMaxWidth), h
}

func (s *Service) box() core.ResizeSpec {
	return core.ResizeSpec{Mode: core.ResizeFitDimensions, Width: s.cfg.MaxWidth, Height: s.cfg.MaxHeight}
}

func (s *Service) through(ctx context.Context, tier cache.TierName, key cache.Key, fn func(context.Context) (*Preview, error)) (*Preview, error) {
	v, _, err := s.cache.GetOrCompute(ctx, tier, key, func(ctx context.Context) (interface{}, int64, error) {
		p, err := fn(ctx)
		if err != nil {
			return nil, 0, err
		}
		return p, p.bytes(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Preview), nil
}

func (s *Service) decode(ctx context.Context, src core.Source) (*core.ImageData, error) {
	data, err := s.loader.Load(ctx, src)
	if err != nil {
		return nil, err
	}
	return s.codec.Decode(ctx, data)
}

// decodeEncoded decodes an encoder's output.  Icons are read through their
// embedded PNG payload.
func (s *Service) decodeEncoded(ctx context.Context, f core.Format, data []byte) (*core.ImageData, error) {
	if f == core.FormatICO {
		if payload, ok := icoPayload(data); ok {
			data = payload
		}
	}
	return s.codec.Decode(ctx, data)
}

func icoPayload(data []byte) ([]byte, bool) {
	const entry = 6
	if len(data) < entry+16 || binary.LittleEndian.Uint16(data[4:]) < 1 {
		return nil, false
	}
	size := binary.LittleEndian.Uint32(data[entry+8:])
	off := binary.LittleEndian.Uint32(data[entry+12:])
	if uint64(off)+uint64(size) > uint64(len(data)) {
		return nil, false
	}
	return data[off : off+size], true
}

// render turns decoded pixels into an image.Image.  Backends that keep their
// own pixel handle are bridged through a fast PNG round trip.
func (s *Service) render(ctx context.Context, img *core.ImageData) (*Preview, error) {
	pix, ok := img.Image.(image.Image)
	if !ok {
		data, err := s.codec.Encode(ctx, img, core.PNGOptions{Level: 1})
		if err != nil {
			return nil, err
		}
		if pix, err = png.Decode(bytes.NewReader(data)); err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, "preview.render", fmt.Errorf("bridge decode: %w", err))
		}
	}
	b := pix.Bounds()
	return &Preview{Image: pix, Width: b.Dx(), Height: b.Dy()}, nil
}
