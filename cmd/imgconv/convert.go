package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Skryldev/imgconv"
	"github.com/Skryldev/imgconv/core"
	"github.com/Skryldev/imgconv/hooks"
)

// errJobsFailed makes the process exit non-zero after the summary was
// printed.
var errJobsFailed = errors.New("some conversions failed")

var (
	convertFlags conversion
	manifestPath string
	metricsAddr  string
)

// convertCmd represents the convert command
var convertCmd = &cobra.Command{
	Use:   "convert [files...]",
	Short: "Convert a batch of images",
	Long: `Convert every given file with the same settings, or the files of a YAML manifest with per-file settings.
The first interrupt cancels queued files; a second one also stops the running conversions.`,
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	f := convertCmd.Flags()
	f.StringVar(&convertFlags.To, "to", "webp", "output format: webp, avif, jpeg, png, tiff, gif, bmp, ico")
	f.IntVarP(&convertFlags.Quality, "quality", "q", 0, "quality 1-100 for lossy formats (0 = configured default)")
	f.BoolVar(&convertFlags.Progressive, "progressive", false, "progressive JPEG (libvips backend only)")
	f.IntVar(&convertFlags.Level, "level", 0, "PNG compression level 1-9 (0 = default)")
	f.BoolVar(&convertFlags.Lossless, "lossless", false, "lossless WebP/AVIF")
	f.IntVar(&convertFlags.Method, "method", 0, "WebP method 1-6 (0 = default)")
	f.IntVar(&convertFlags.Speed, "speed", 0, "AVIF speed 1-10 (0 = default)")
	f.StringVar(&convertFlags.Range, "range", "", "AVIF colour range: full or limited")
	f.StringVar(&convertFlags.Compression, "compression", "", "TIFF compression: none, lzw, deflate, jpeg, packbits")
	f.IntVar(&convertFlags.Colors, "colors", 0, "GIF palette size 2-256")
	f.StringVar(&convertFlags.Dither, "dither", "", "GIF dithering: floyd or none")
	f.IntVar(&convertFlags.IconSize, "icon-size", 0, "ICO edge length 16-512")
	f.StringVar(&convertFlags.Square, "square", "", "ICO squaring: pad or crop")

	f.Int64Var(&convertFlags.TargetKB, "target-kb", 0, "aim for this output size in KiB")
	f.Int64Var(&convertFlags.ToleranceKB, "tolerance-kb", 0, "accepted deviation from --target-kb (0 = 5%)")

	f.StringVar(&convertFlags.Resize.Mode, "resize", "", "resize mode: percent, fit_width, fit_height, fit_dimensions")
	f.Float64Var(&convertFlags.Resize.Percent, "percent", 0, "scale for --resize percent")
	f.IntVar(&convertFlags.Resize.Width, "width", 0, "width for fit modes")
	f.IntVar(&convertFlags.Resize.Height, "height", 0, "height for fit modes")
	f.BoolVar(&convertFlags.Resize.Upscale, "upscale", false, "allow fit modes to enlarge")

	f.StringVarP(&convertFlags.Output.Folder, "out", "o", "", "output folder (default: next to each source)")
	f.BoolVar(&convertFlags.Output.SameDir, "same-dir", false, "write next to each source, ignoring --out")
	f.StringVar(&convertFlags.Output.Template, "template", "converted", "file name preset (converted, format, quality, custom) or a template such as {name}_{format}")
	f.StringVar(&convertFlags.Output.Suffix, "suffix", "", "suffix for the custom template")
	f.BoolVar(&convertFlags.Output.AutoIncrement, "auto-increment", true, "add _1, _2 ... instead of overwriting")

	f.StringVar(&manifestPath, "manifest", "", "YAML batch manifest with per-file settings")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while converting")
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, flush, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer flush()

	jobs, err := buildJobs(args, cfg.DefaultQuality)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return errors.New("nothing to convert: pass files or --manifest")
	}

	summary := newSummary()
	opts := []imgconv.Option{
		imgconv.WithLogger(logger),
		imgconv.WithSink(hooks.NewLoggingSink(logger, time.Second)),
		imgconv.WithSink(summary),
	}
	opts = append(opts, backendOptions()...)

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, imgconv.WithMetrics(hooks.NewPrometheusMetrics(reg)))
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics.serve", "addr", metricsAddr, "error", err.Error())
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	engine, err := imgconv.New(cfg, opts...)
	if err != nil {
		return err
	}
	engine.Start()
	defer engine.Stop()

	batchID, err := engine.Submit(jobs)
	if err != nil {
		return err
	}

	stop := handleInterrupts(engine, logger)
	defer stop()

	counts, err := engine.Wait(cmd.Context(), batchID)
	if err != nil {
		return err
	}
	summary.render(os.Stdout, counts)
	if counts.Failed > 0 {
		return errJobsFailed
	}
	return nil
}

func buildJobs(args []string, defaultQuality int) ([]core.Job, error) {
	var jobs []core.Job
	if len(args) > 0 {
		s, err := convertFlags.settings(defaultQuality)
		if err != nil {
			return nil, err
		}
		for _, path := range args {
			j, err := core.NewJob(core.FromFile(path), s)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, j)
		}
	}
	if manifestPath != "" {
		entries, err := readManifest(manifestPath, convertFlags)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			s, err := e.settings(defaultQuality)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", e.Path, err)
			}
			j, err := core.NewJob(core.FromFile(e.Path), s)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// handleInterrupts cancels queued files on the first signal and aborts the
// running ones on the second.
func handleInterrupts(engine *imgconv.Engine, logger core.Logger) (stop func()) {
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		first := true
		for {
			select {
			case <-done:
				return
			case <-sig:
				if first {
					n := engine.Cancel()
					logger.Warn("convert.interrupt", "cancelled", n, "hint", "interrupt again to stop running conversions")
					first = false
					continue
				}
				cancelled, signalled := engine.Abort()
				logger.Warn("convert.abort", "cancelled", cancelled, "signalled", signalled)
			}
		}
	}()
	return func() {
		signal.Stop(sig)
		close(done)
	}
}

// ── Summary ───────────────────────────────────────────────────────────────────

// summary keeps the terminal event of every job for the final table.
type summary struct {
	mu    sync.Mutex
	order []string
	rows  map[string]core.Event
}

func newSummary() *summary { return &summary{rows: make(map[string]core.Event)} }

func (s *summary) Publish(ev core.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.rows[ev.JobID]; !seen {
		s.order = append(s.order, ev.JobID)
	}
	s.rows[ev.JobID] = ev
}

func (s *summary) render(w io.Writer, counts core.Counts) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := tablewriter.NewWriter(w)
	table.Header("Source", "State", "Output", "In", "Out", "Saved", "Quality", "Note")
	var saved int64
	for _, id := range s.order {
		ev := s.rows[id]
		note := ""
		switch {
		case ev.Err != nil:
			note = string(ev.Kind)
		case len(ev.Notices) > 0:
			note = string(ev.Notices[0].Kind)
		}
		quality := "-"
		if ev.Quality > 0 {
			quality = fmt.Sprintf("%d", ev.Quality)
		}
		saved += ev.Saved()
		_ = table.Append(ev.Source, string(ev.State), ev.OutputPath,
			humanBytes(ev.BytesIn), humanBytes(ev.BytesOut), humanBytes(ev.Saved()), quality, note)
	}
	_ = table.Render()
	fmt.Fprintf(w, "\n%d succeeded, %d failed, %d cancelled of %d; %s saved\n",
		counts.Succeeded, counts.Failed, counts.Cancelled, counts.Total, humanBytes(saved))
}

func humanBytes(n int64) string {
	const unit = 1024
	sign := ""
	if n < 0 {
		sign, n = "-", -n
	}
	if n < unit {
		return fmt.Sprintf("%s%d B", sign, n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%s%.1f %ciB", sign, float64(n)/float64(div), "KMGTPE"[exp])
}
