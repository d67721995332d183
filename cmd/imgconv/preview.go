package main

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/Skryldev/imgconv"
	"github.com/Skryldev/imgconv/core"
	"github.com/Skryldev/imgconv/preview"
)

var (
	previewFlags conversion
	previewSave  string
)

// previewCmd represents the preview command
var previewCmd = &cobra.Command{
	Use:   "preview FILE",
	Short: "Show the thumbnail, preview and estimated output size of one image",
	Args:  cobra.ExactArgs(1),
	RunE:  runPreview,
}

func init() {
	rootCmd.AddCommand(previewCmd)

	f := previewCmd.Flags()
	f.StringVar(&previewFlags.To, "to", "webp", "output format")
	f.IntVarP(&previewFlags.Quality, "quality", "q", 0, "quality 1-100 for lossy formats (0 = configured default)")
	f.StringVar(&previewFlags.Resize.Mode, "resize", "", "resize mode: percent, fit_width, fit_height, fit_dimensions")
	f.Float64Var(&previewFlags.Resize.Percent, "percent", 0, "scale for --resize percent")
	f.IntVar(&previewFlags.Resize.Width, "width", 0, "width for fit modes")
	f.IntVar(&previewFlags.Resize.Height, "height", 0, "height for fit modes")
	f.StringVar(&previewSave, "save", "", "write the rendered previews as PNG files into this folder")
}

func runPreview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, flush, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer flush()

	s, err := previewFlags.settings(cfg.DefaultQuality)
	if err != nil {
		return err
	}
	engine, err := imgconv.New(cfg, append(backendOptions(), imgconv.WithLogger(logger))...)
	if err != nil {
		return err
	}
	defer engine.Stop()

	ctx := cmd.Context()
	src := core.FromFile(args[0])
	thumb, err := engine.Thumbnail(ctx, src)
	if err != nil {
		return err
	}
	in, err := engine.InputPreview(ctx, src)
	if err != nil {
		return err
	}
	out, err := engine.OutputPreview(ctx, src, s)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Preview", "Size", "Encoded")
	_ = table.Append("thumbnail", dims(thumb), "-")
	_ = table.Append("input", dims(in), humanBytes(src.Size))
	encoded := humanBytes(out.EncodedSize)
	if out.Approximate {
		encoded += " (approximate preview)"
	}
	_ = table.Append(fmt.Sprintf("output %s", out.Format.DisplayName()), dims(out), encoded)
	_ = table.Render()

	if previewSave == "" {
		return nil
	}
	stem := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	for name, p := range map[string]*preview.Preview{"thumb": thumb, "input": in, "output": out} {
		if err := savePNG(filepath.Join(previewSave, stem+"_"+name+".png"), p); err != nil {
			return err
		}
	}
	return nil
}

func dims(p *preview.Preview) string { return fmt.Sprintf("%dx%d", p.Width, p.Height) }

func savePNG(path string, p *preview.Preview) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, p.Image); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
