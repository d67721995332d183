package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Skryldev/imgconv/core"
	"github.com/Skryldev/imgconv/output"
)

// conversion is the flat, user-facing form of core.Settings shared by the
// convert flags and batch manifests.
type conversion struct {
	To      string `yaml:"to"`
	Quality int    `yaml:"quality"`

	Progressive bool   `yaml:"progressive"`
	Level       int    `yaml:"level"`
	Lossless    bool   `yaml:"lossless"`
	Method      int    `yaml:"method"`
	Speed       int    `yaml:"speed"`
	Range       string `yaml:"range"`
	Compression string `yaml:"compression"`
	Colors      int    `yaml:"colors"`
	Dither      string `yaml:"dither"` // floyd or none
	IconSize    int    `yaml:"icon_size"`
	Square      string `yaml:"square"`

	TargetKB    int64 `yaml:"target_kb"`
	ToleranceKB int64 `yaml:"tolerance_kb"`

	Resize resizeFlags `yaml:"resize"`
	Output outputFlags `yaml:"output"`
}

type resizeFlags struct {
	Mode    string  `yaml:"mode"`
	Percent float64 `yaml:"percent"`
	Width   int     `yaml:"width"`
	Height  int     `yaml:"height"`
	Upscale bool    `yaml:"upscale"`
}

type outputFlags struct {
	Folder        string `yaml:"folder"`
	SameDir       bool   `yaml:"same_dir"`
	Template      string `yaml:"template"`
	Suffix        string `yaml:"suffix"`
	AutoIncrement bool   `yaml:"auto_increment"`
}

// templates maps the naming presets to stem templates.
var templates = map[string]string{
	"converted": output.TemplateConverted,
	"format":    output.TemplateFormat,
	"quality":   output.TemplateQuality,
	"custom":    output.TemplateCustom,
}

// settings converts c into engine settings.  defaultQuality applies when c
// sets no quality.
func (c conversion) settings(defaultQuality int) (core.Settings, error) {
	format, err := core.ParseFormat(c.To)
	if err != nil {
		return core.Settings{}, err
	}
	q := c.Quality
	if q == 0 {
		q = defaultQuality
	}
	opts, err := core.DefaultOptions(format, q)
	if err != nil {
		return core.Settings{}, err
	}

	switch o := opts.(type) {
	case core.JPEGOptions:
		o.Progressive = c.Progressive
		opts = o
	case core.PNGOptions:
		if c.Level != 0 {
			o.Level = c.Level
		}
		opts = o
	case core.WebPOptions:
		o.Lossless = c.Lossless
		if c.Method != 0 {
			o.Method = c.Method
		}
		opts = o
	case core.AVIFOptions:
		o.Lossless = c.Lossless
		if c.Speed != 0 {
			o.Speed = c.Speed
		}
		if c.Range != "" {
			o.Range = core.AVIFRange(c.Range)
		}
		opts = o
	case core.TIFFOptions:
		if c.Compression != "" {
			o.Compression = core.TIFFCompression(c.Compression)
		}
		o.JPEGQuality = q
		opts = o
	case core.GIFOptions:
		if c.Colors != 0 {
			o.Colors = c.Colors
		}
		switch c.Dither {
		case "":
		case "floyd":
			o.Dither = true
		case "none":
			o.Dither = false
		default:
			return core.Settings{}, fmt.Errorf("dither must be floyd or none, got %q", c.Dither)
		}
		opts = o
	case core.ICOOptions:
		if c.IconSize != 0 {
			o.Size = c.IconSize
		}
		if c.Square != "" {
			o.Square = core.SquareMode(c.Square)
		}
		opts = o
	}

	s := core.Settings{
		Options: opts,
		Resize: core.ResizeSpec{
			Mode:         core.ResizeMode(c.Resize.Mode),
			Percent:      c.Resize.Percent,
			Width:        c.Resize.Width,
			Height:       c.Resize.Height,
			AllowUpscale: c.Resize.Upscale,
		},
		Output: core.OutputPolicy{
			Mode:          core.LocationSameAsSource,
			Template:      c.Output.Template,
			Suffix:        c.Output.Suffix,
			AutoIncrement: c.Output.AutoIncrement,
		},
	}
	if t, ok := templates[c.Output.Template]; ok {
		s.Output.Template = t
	}
	if c.Output.Folder != "" && !c.Output.SameDir {
		s.Output.Mode = core.LocationCustom
		s.Output.Folder = c.Output.Folder
	}
	if c.TargetKB > 0 {
		s.TargetSize = &core.TargetSize{Bytes: c.TargetKB * 1024, Tolerance: c.ToleranceKB * 1024}
	}
	return s, s.Validate()
}

// manifest is a batch file: shared defaults plus per-file overrides.
//
//	defaults:
//	  to: webp
//	  quality: 80
//	files:
//	  - path: a.jpg
//	  - path: b.png
//	    to: png
//	    level: 9
type manifest struct {
	Defaults yaml.Node   `yaml:"defaults"`
	Files    []yaml.Node `yaml:"files"`
}

type manifestEntry struct {
	Path       string `yaml:"path"`
	conversion `yaml:",inline"`
}

// readManifest loads path and returns one entry per file.  Each entry starts
// from base, is overlaid with the manifest defaults and then with its own
// fields.  Relative file paths are resolved against the manifest directory.
func readManifest(path string, base conversion) ([]manifestEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	if m.Defaults.Kind != 0 {
		if err := m.Defaults.Decode(&base); err != nil {
			return nil, fmt.Errorf("manifest %s: defaults: %w", path, err)
		}
	}

	dir := filepath.Dir(path)
	entries := make([]manifestEntry, 0, len(m.Files))
	for i := range m.Files {
		e := manifestEntry{conversion: base}
		if err := m.Files[i].Decode(&e); err != nil {
			return nil, fmt.Errorf("manifest %s: file %d: %w", path, i+1, err)
		}
		if e.Path == "" {
			return nil, fmt.Errorf("manifest %s: file %d has no path", path, i+1)
		}
		if !filepath.IsAbs(e.Path) {
			e.Path = filepath.Join(dir, e.Path)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
