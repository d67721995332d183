package utils

import (
	"bytes"
	"net/http"
)

const (
	formatJPEG    = "jpeg"
	formatPNG     = "png"
	formatWebP    = "webp"
	formatAVIF    = "avif"
	formatTIFF    = "tiff"
	formatGIF     = "gif"
	formatBMP     = "bmp"
	formatICO     = "ico"
	formatUnknown = "unknown"
)

// SniffLen is the number of leading bytes DetectFormat looks at.
const SniffLen = 512

// DetectFormat sniffs the first 512 bytes of data and returns the image format.
// File extensions are never consulted.
func DetectFormat(data []byte) string {
	if len(data) < 4 {
		return formatUnknown
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return formatJPEG
	}
	// PNG: 89 50 4E 47
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return formatPNG
	}
	// WebP: RIFF....WEBP
	if len(data) >= 12 &&
		bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		return formatWebP
	}
	// AVIF: ISO-BMFF box with an avif/avis brand.
	if len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")) {
		brand := string(data[8:12])
		if brand == "avif" || brand == "avis" {
			return formatAVIF
		}
	}
	// GIF: GIF87a / GIF89a
	if bytes.HasPrefix(data, []byte("GIF8")) {
		return formatGIF
	}
	// TIFF: II*\0 or MM\0*
	if bytes.HasPrefix(data, []byte{'I', 'I', 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{'M', 'M', 0x00, 0x2A}) {
		return formatTIFF
	}
	// BMP: BM
	if data[0] == 'B' && data[1] == 'M' && len(data) >= 14 {
		return formatBMP
	}
	// ICO: reserved 0, type 1
	if data[0] == 0 && data[1] == 0 && data[2] == 1 && data[3] == 0 {
		return formatICO
	}
	// Fallback to net/http sniffing.
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return formatJPEG
	case "image/png":
		return formatPNG
	case "image/webp":
		return formatWebP
	case "image/gif":
		return formatGIF
	case "image/bmp":
		return formatBMP
	case "image/x-icon":
		return formatICO
	}
	return formatUnknown
}

// FitDimensions returns the largest size with the source aspect ratio that
// fits inside maxW x maxH.  A zero bound is treated as unconstrained.  The
// source size is returned unchanged when it already fits and upscale is false.
func FitDimensions(srcW, srcH, maxW, maxH int, upscale bool) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return 0, 0
	}
	ratio := 0.0
	switch {
	case maxW > 0 && maxH > 0:
		rw := float64(maxW) / float64(srcW)
		rh := float64(maxH) / float64(srcH)
		ratio = rw
		if rh < rw {
			ratio = rh
		}
	case maxW > 0:
		ratio = float64(maxW) / float64(srcW)
	case maxH > 0:
		ratio = float64(maxH) / float64(srcH)
	default:
		return srcW, srcH
	}
	if ratio >= 1 && !upscale {
		return srcW, srcH
	}
	return atLeastOne(int(float64(srcW) * ratio)), atLeastOne(int(float64(srcH) * ratio))
}

func atLeastOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CloneBytes returns a copy of b (safe for use after the source buffer is released).
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// BytesReader creates an io.Reader backed by b without allocation.
func BytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}
