package core

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	apperrors "github.com/Skryldev/imgconv/errors"
	"github.com/Skryldev/imgconv/utils"
)

// ── Registry ──────────────────────────────────────────────────────────────────

// DefaultRegistry is a thread-safe implementation of Registry.
type DefaultRegistry struct {
	mu       sync.RWMutex
	decoders map[Format]Decoder
	encoders map[Format]Encoder
	resizer  Resizer
}

// NewRegistry returns an empty DefaultRegistry.
func NewRegistry() *DefaultRegistry {
	return &DefaultRegistry{
		decoders: make(map[Format]Decoder),
		encoders: make(map[Format]Encoder),
	}
}

func (r *DefaultRegistry) RegisterDecoder(f Format, d Decoder) {
	r.mu.Lock()
	r.decoders[f] = d
	r.mu.Unlock()
}

func (r *DefaultRegistry) RegisterEncoder(f Format, e Encoder) {
	r.mu.Lock()
	r.encoders[f] = e
	r.mu.Unlock()
}

func (r *DefaultRegistry) DecoderFor(f Format) (Decoder, bool) {
	r.mu.RLock()
	d, ok := r.decoders[f]
	r.mu.RUnlock()
	return d, ok
}

func (r *DefaultRegistry) EncoderFor(f Format) (Encoder, bool) {
	r.mu.RLock()
	e, ok := r.encoders[f]
	r.mu.RUnlock()
	return e, ok
}

func (r *DefaultRegistry) SetResizer(rs Resizer) {
	r.mu.Lock()
	r.resizer = rs
	r.mu.Unlock()
}

func (r *DefaultRegistry) Resizer() Resizer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resizer
}

// Encodable lists the formats that currently have an encoder.
func (r *DefaultRegistry) Encodable() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Format, 0, len(r.encoders))
	for _, f := range Formats {
		if _, ok := r.encoders[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// ── Codec ─────────────────────────────────────────────────────────────────────

// RegistryCodec implements Codec on top of a Registry and normalises every
// failure into the codec error kinds.
type RegistryCodec struct {
	reg Registry
}

// NewCodec returns a Codec backed by reg.
func NewCodec(reg Registry) *RegistryCodec { return &RegistryCodec{reg: reg} }

// Decode sniffs the format from the content and decodes it.
func (c *RegistryCodec) Decode(ctx context.Context, data []byte) (*ImageData, error) {
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.KindCorruptData, "codec.decode", apperrors.ErrEmptyInput)
	}
	format := Format(utils.DetectFormat(head(data)))
	if format == FormatUnknown {
		return nil, apperrors.New(apperrors.KindUnsupportedFormat, "codec.decode", apperrors.ErrUnsupportedFormat)
	}
	dec, ok := c.reg.DecoderFor(format)
	if !ok {
		return nil, apperrors.New(apperrors.KindUnsupportedFormat, "codec.decode",
			fmt.Errorf("%w: no decoder for %s", apperrors.ErrUnsupportedFormat, format))
	}
	img, err := dec.Decode(ctx, bytes.NewReader(data))
	if err != nil {
		if apperrors.IsCancelled(err) {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.KindCorruptData, "codec.decode", err)
	}
	img.Data = data
	img.OriginalSize = int64(len(data))
	return img, nil
}

// Resize applies spec with the registered resizer.  An inactive spec, or one
// that leaves the dimensions unchanged, returns img as is.
func (c *RegistryCodec) Resize(ctx context.Context, img *ImageData, spec ResizeSpec) (*ImageData, error) {
	if !spec.Active() {
		return img, nil
	}
	w, h := spec.Target(img.Meta.Width, img.Meta.Height)
	if w == img.Meta.Width && h == img.Meta.Height {
		return img, nil
	}
	rs := c.reg.Resizer()
	if rs == nil {
		return nil, apperrors.New(apperrors.KindInternal, "codec.resize", fmt.Errorf("no resizer registered"))
	}
	out, err := rs.Resize(ctx, img, spec)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindEncodeFailure, "codec.resize", err)
	}
	return out, nil
}

// Encode validates opts and encodes img with the encoder for opts.Format().
func (c *RegistryCodec) Encode(ctx context.Context, img *ImageData, opts EncodeOptions) ([]byte, error) {
	if opts == nil {
		return nil, apperrors.New(apperrors.KindEncodeFailure, "codec.encode", apperrors.ErrInvalidOptions)
	}
	if err := opts.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindEncodeFailure, "codec.encode", err)
	}
	enc, ok := c.reg.EncoderFor(opts.Format())
	if !ok {
		return nil, apperrors.New(apperrors.KindEncodeFailure, "codec.encode",
			fmt.Errorf("%w: %s", apperrors.ErrNoEncoder, opts.Format()))
	}
	data, err := enc.Encode(ctx, img, opts)
	if err != nil {
		if apperrors.IsCancelled(err) {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.KindEncodeFailure, "codec.encode", err)
	}
	return data, nil
}

var _ Codec = (*RegistryCodec)(nil)
