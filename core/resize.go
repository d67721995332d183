package core

import (
	"fmt"

	apperrors "github.com/Skryldev/imgconv/errors"
)

// ResizeMode selects how output dimensions are derived from the source.
type ResizeMode string

const (
	ResizeNone          ResizeMode = "none"
	ResizePercent       ResizeMode = "percent"
	ResizeFitWidth      ResizeMode = "fit_width"
	ResizeFitHeight     ResizeMode = "fit_height"
	ResizeFitDimensions ResizeMode = "fit_dimensions"
	// ResizeExact forces Width x Height without keeping the aspect ratio.
	ResizeExact ResizeMode = "exact"
)

// ResizeSpec describes an optional resize.  The zero value means no resize.
type ResizeSpec struct {
	Mode         ResizeMode
	Percent      float64 // ResizePercent, (0, 100]
	Width        int     // ResizeFitWidth, ResizeFitDimensions (max), ResizeExact
	Height       int     // ResizeFitHeight, ResizeFitDimensions (max), ResizeExact
	AllowUpscale bool
}

// Active reports whether the spec may change dimensions at all.
func (r ResizeSpec) Active() bool { return r.Mode != "" && r.Mode != ResizeNone }

// Validate rejects specs that cannot produce dimensions.
func (r ResizeSpec) Validate() error {
	bad := func(format string, args ...interface{}) error {
		return apperrors.New(apperrors.KindInput, "resize.validate",
			fmt.Errorf("%w: "+format, append([]interface{}{apperrors.ErrInvalidDimensions}, args...)...))
	}
	switch r.Mode {
	case "", ResizeNone:
	case ResizePercent:
		if r.Percent <= 0 || r.Percent > 100 {
			return bad("percent %.2f out of range (0, 100]", r.Percent)
		}
	case ResizeFitWidth:
		if r.Width <= 0 {
			return bad("fit_width needs a positive width")
		}
	case ResizeFitHeight:
		if r.Height <= 0 {
			return bad("fit_height needs a positive height")
		}
	case ResizeFitDimensions:
		if r.Width < 0 || r.Height < 0 || (r.Width == 0 && r.Height == 0) {
			return bad("fit_dimensions needs a positive width or height")
		}
	case ResizeExact:
		if r.Width <= 0 || r.Height <= 0 {
			return bad("exact needs positive width and height")
		}
	default:
		return bad("unknown mode %q", r.Mode)
	}
	return nil
}

// Target computes the output dimensions for a srcW x srcH image.  It returns
// the source size when the spec is inactive or would upscale without
// permission.
func (r ResizeSpec) Target(srcW, srcH int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return srcW, srcH
	}
	aspect := float64(srcW) / float64(srcH)

	var w, h int
	switch r.Mode {
	case ResizePercent:
		scale := r.Percent / 100
		w, h = int(float64(srcW)*scale), int(float64(srcH)*scale)
	case ResizeFitWidth:
		if r.Width <= 0 || (!r.AllowUpscale && r.Width > srcW) {
			return srcW, srcH
		}
		w, h = r.Width, int(float64(r.Width)/aspect)
	case ResizeFitHeight:
		if r.Height <= 0 || (!r.AllowUpscale && r.Height > srcH) {
			return srcW, srcH
		}
		w, h = int(float64(r.Height)*aspect), r.Height
	case ResizeFitDimensions:
		switch {
		case r.Width > 0 && r.Height <= 0:
			w, h = r.Width, int(float64(r.Width)/aspect)
		case r.Height > 0 && r.Width <= 0:
			w, h = int(float64(r.Height)*aspect), r.Height
		case r.Width > 0 && r.Height > 0:
			if float64(srcW)/float64(r.Width) > float64(srcH)/float64(r.Height) {
				w, h = r.Width, int(float64(r.Width)/aspect)
			} else {
				w, h = int(float64(r.Height)*aspect), r.Height
			}
		default:
			return srcW, srcH
		}
		if !r.AllowUpscale {
			w, h = min(w, srcW), min(h, srcH)
		}
	case ResizeExact:
		w, h = r.Width, r.Height
	default:
		return srcW, srcH
	}
	return max(w, 1), max(h, 1)
}
