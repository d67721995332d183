package encoder

import "github.com/Skryldev/imgconv/core"

// RegisterAll registers every pure-Go encoder on reg.  AVIF is only
// available with the vips backend.
func RegisterAll(reg core.Registry) {
	reg.RegisterEncoder(core.FormatJPEG, NewJPEG())
	reg.RegisterEncoder(core.FormatPNG, NewPNG())
	reg.RegisterEncoder(core.FormatWebP, NewWebP())
	reg.RegisterEncoder(core.FormatGIF, NewGIF())
	reg.RegisterEncoder(core.FormatBMP, NewBMP())
	reg.RegisterEncoder(core.FormatTIFF, NewTIFF())
	reg.RegisterEncoder(core.FormatICO, NewICO())
}
