package imgconv_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/Skryldev/imgconv"
	"github.com/Skryldev/imgconv/config"
	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
	"github.com/Skryldev/imgconv/hooks"
	"github.com/Skryldev/imgconv/utils"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func photo(w, h int) *image.NRGBA {
	rng := rand.New(rand.NewSource(7))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := uint8(rng.Intn(48))
			img.Set(x, y, color.NRGBA{uint8(x*255/w) ^ n, uint8(y*255/h) + n, 120 + n, 255})
		}
	}
	return img
}

func writeJPEG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, photo(w, h), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return writeFile(t, dir, name, buf.Bytes())
}

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, photo(w, h)); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return writeFile(t, dir, name, buf.Bytes())
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// recorder collects every event; safe for concurrent use.
type recorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recorder) Publish(ev core.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) byJob() map[string][]core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]core.Event)
	for _, ev := range r.events {
		out[ev.JobID] = append(out[ev.JobID], ev)
	}
	return out
}

func (r *recorder) terminal(jobID string) core.Event {
	evs := r.byJob()[jobID]
	if len(evs) == 0 {
		return core.Event{}
	}
	return evs[len(evs)-1]
}

func newEngine(t *testing.T, workers int) (*imgconv.Engine, *recorder, *hooks.InMemoryMetrics) {
	t.Helper()
	cfg := imgconv.DefaultConfig()
	cfg.WorkerCount = workers
	rec := &recorder{}
	metrics := hooks.NewInMemoryMetrics()
	e, err := imgconv.New(cfg,
		imgconv.WithLogger(hooks.NewZapLogger(zaptest.NewLogger(t))),
		imgconv.WithMetrics(metrics),
		imgconv.WithSink(rec),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.Start()
	t.Cleanup(e.Stop)
	return e, rec, metrics
}

func job(t *testing.T, path string, s core.Settings) core.Job {
	t.Helper()
	j, err := core.NewJob(core.FromFile(path), s)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	return j
}

func wait(t *testing.T, e *imgconv.Engine, batchID string) core.Counts {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c, err := e.Wait(ctx, batchID)
	if err != nil {
		t.Fatalf("Wait: %v (counts %+v)", err, c)
	}
	return c
}

func sniff(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	return utils.DetectFormat(data)
}

// ── Batches ───────────────────────────────────────────────────────────────────

func TestEngine_MixedBatch(t *testing.T) {
	e, rec, metrics := newEngine(t, 2)
	dir := t.TempDir()

	a := writeJPEG(t, dir, "a.jpg", 160, 120)
	b := writeFile(t, dir, "b.jpg", append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0x13}, 64)...))
	c := writePNG(t, dir, "c.png", 400, 300)

	same := core.OutputPolicy{Mode: core.LocationSameAsSource}
	jobA := job(t, a, core.Settings{Options: core.PNGOptions{Level: 6}, Output: same})
	jobB := job(t, b, core.Settings{Options: core.WebPOptions{Quality: 80}, Output: same})
	target := &core.TargetSize{Bytes: 50_000, Tolerance: 5_000}
	jobC := job(t, c, core.Settings{Options: core.WebPOptions{Quality: 80}, TargetSize: target, Output: same})

	batchID, err := e.Submit([]core.Job{jobA, jobB, jobC})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	counts := wait(t, e, batchID)
	if counts.Total != 3 || counts.Succeeded != 2 || counts.Failed != 1 || counts.Cancelled != 0 {
		t.Fatalf("counts %+v", counts)
	}

	evA := rec.terminal(jobA.ID)
	if evA.State != core.StateSucceeded || evA.OutputPath != filepath.Join(dir, "a_converted.png") {
		t.Errorf("A: %+v", evA)
	}
	if got := sniff(t, evA.OutputPath); got != "png" {
		t.Errorf("A output sniffed as %q", got)
	}

	evB := rec.terminal(jobB.ID)
	if evB.State != core.StateFailed || evB.Kind != apperrors.KindCorruptData {
		t.Errorf("B: state %s kind %s err %v", evB.State, evB.Kind, evB.Err)
	}
	if _, err := os.Stat(filepath.Join(dir, "b_converted.webp")); !os.IsNotExist(err) {
		t.Error("failed job left an output file")
	}

	evC := rec.terminal(jobC.ID)
	if evC.State != core.StateSucceeded {
		t.Fatalf("C: %+v", evC)
	}
	lo, hi := target.Bounds(0)
	switch {
	case len(evC.Notices) == 0:
		if evC.BytesOut < lo || evC.BytesOut > hi {
			t.Errorf("C converged outside bounds: %d", evC.BytesOut)
		}
	case evC.Notices[0].Kind == apperrors.KindTargetSizeUnreachable:
		if evC.Notices[0].Size != evC.BytesOut {
			t.Errorf("C notice size %d, output %d", evC.Notices[0].Size, evC.BytesOut)
		}
	default:
		t.Errorf("C notices %+v", evC.Notices)
	}
	if got := sniff(t, evC.OutputPath); got != "webp" {
		t.Errorf("C output sniffed as %q", got)
	}

	snap := metrics.Snapshot()
	if snap.JobStates[core.StateSucceeded] != 2 || snap.ErrorKinds["corrupt_data"] < 1 {
		t.Errorf("metrics %+v", snap)
	}
}

func TestEngine_EventsArriveInStateOrder(t *testing.T) {
	e, rec, _ := newEngine(t, 3)
	dir := t.TempDir()
	s, err := e.DefaultSettings(core.FormatJPEG)
	if err != nil {
		t.Fatal(err)
	}
	var paths []string
	for _, name := range []string{"1.png", "2.png", "3.png", "4.png"} {
		paths = append(paths, writePNG(t, dir, name, 40, 30))
	}
	batchID, err := e.SubmitFiles(paths, s)
	if err != nil {
		t.Fatal(err)
	}
	wait(t, e, batchID)

	for id, evs := range rec.byJob() {
		if len(evs) != 3 {
			t.Fatalf("job %s: %d events", id, len(evs))
		}
		want := []core.JobState{core.StateQueued, core.StateRunning, core.StateSucceeded}
		for i, ev := range evs {
			if ev.State != want[i] {
				t.Errorf("job %s event %d: %s, want %s", id, i, ev.State, want[i])
			}
		}
	}
	last := rec.events[len(rec.events)-1]
	if !last.Counts.Complete() || last.Counts.Succeeded != 4 {
		t.Errorf("last event counts %+v", last.Counts)
	}
}

func TestEngine_PausedBatchRunsAfterResume(t *testing.T) {
	e, rec, _ := newEngine(t, 2)
	dir := t.TempDir()
	s := core.Settings{Options: core.BMPOptions{}, Output: core.OutputPolicy{Mode: core.LocationSameAsSource}}

	e.Pause()
	var paths []string
	for i := 0; i < 5; i++ {
		paths = append(paths, writePNG(t, dir, string(rune('a'+i))+".png", 32, 32))
	}
	batchID, err := e.SubmitFiles(paths, s)
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	if st := e.Stats(); st.Queued != 5 || st.Running != 0 || !st.Paused {
		t.Fatalf("paused stats %+v", st)
	}
	if c, _ := e.Counts(batchID); c.Done() != 0 {
		t.Fatalf("jobs finished while paused: %+v", c)
	}

	e.Resume()
	counts := wait(t, e, batchID)
	if counts.Succeeded != 5 {
		t.Fatalf("counts %+v", counts)
	}
	for id := range rec.byJob() {
		if st, _ := e.State(id); st != core.StateSucceeded {
			t.Errorf("job %s ended %s", id, st)
		}
	}
}

func TestEngine_CancelWhilePaused(t *testing.T) {
	e, rec, _ := newEngine(t, 2)
	dir := t.TempDir()
	s := core.Settings{Options: core.PNGOptions{Level: 1}, Output: core.OutputPolicy{Mode: core.LocationSameAsSource}}

	e.Pause()
	paths := []string{writeJPEG(t, dir, "x.jpg", 20, 20), writeJPEG(t, dir, "y.jpg", 20, 20)}
	batchID, err := e.SubmitFiles(paths, s)
	if err != nil {
		t.Fatal(err)
	}
	if n := e.Cancel(); n != 2 {
		t.Errorf("Cancel() = %d", n)
	}
	counts := wait(t, e, batchID)
	if counts.Cancelled != 2 {
		t.Fatalf("counts %+v", counts)
	}
	for id, evs := range rec.byJob() {
		if last := evs[len(evs)-1]; last.State != core.StateCancelled || len(evs) != 2 {
			t.Errorf("job %s events %+v", id, evs)
		}
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*_converted.png"))
	if len(matches) != 0 {
		t.Errorf("cancelled jobs wrote %v", matches)
	}
}

func TestEngine_AutoIncrementAcrossJobs(t *testing.T) {
	e, rec, _ := newEngine(t, 2)
	dir := t.TempDir()
	src := writeJPEG(t, dir, "dup.jpg", 24, 24)
	s := core.Settings{
		Options: core.PNGOptions{Level: 6},
		Output:  core.OutputPolicy{Mode: core.LocationSameAsSource, AutoIncrement: true},
	}
	batchID, err := e.SubmitFiles([]string{src, src, src}, s)
	if err != nil {
		t.Fatal(err)
	}
	wait(t, e, batchID)

	seen := make(map[string]bool)
	for _, evs := range rec.byJob() {
		out := evs[len(evs)-1].OutputPath
		if out == "" || seen[out] {
			t.Errorf("output path %q reused", out)
		}
		seen[out] = true
	}
	if !seen[filepath.Join(dir, "dup_converted.png")] {
		t.Errorf("first output should use the plain name, got %v", seen)
	}
}

func TestEngine_BuffersToCustomFolder(t *testing.T) {
	e, rec, _ := newEngine(t, 1)
	out := t.TempDir()
	var buf bytes.Buffer
	if err := png.Encode(&buf, photo(30, 20)); err != nil {
		t.Fatal(err)
	}
	s := core.Settings{
		Options: core.JPEGOptions{Quality: 70},
		Resize:  core.ResizeSpec{Mode: core.ResizePercent, Percent: 50},
		Output:  core.OutputPolicy{Mode: core.LocationCustom, Folder: out, Template: "{name}_Q{quality}"},
	}
	batchID, err := e.SubmitBuffers([]string{"clip.png"}, [][]byte{buf.Bytes()}, s)
	if err != nil {
		t.Fatal(err)
	}
	wait(t, e, batchID)

	for _, evs := range rec.byJob() {
		last := evs[len(evs)-1]
		if want := filepath.Join(out, "clip_Q70.jpg"); last.OutputPath != want {
			t.Errorf("output %q, want %q", last.OutputPath, want)
		}
		if last.Quality != 70 || last.BytesIn != int64(buf.Len()) {
			t.Errorf("event %+v", last)
		}
	}
}

func TestEngine_SubmitRejectsBadInput(t *testing.T) {
	e, _, _ := newEngine(t, 1)
	if _, err := e.Submit(nil); !apperrors.IsKind(err, apperrors.KindInput) {
		t.Errorf("empty batch: %v", err)
	}
	_, err := e.SubmitFiles([]string{"x.png"}, core.Settings{Options: core.JPEGOptions{Quality: 101}})
	if !apperrors.IsKind(err, apperrors.KindInput) {
		t.Errorf("invalid quality: %v", err)
	}
	// AVIF needs the libvips backend.
	_, err = e.SubmitFiles([]string{"x.png"}, core.Settings{Options: core.AVIFOptions{Quality: 50, Speed: 4}})
	if !apperrors.IsKind(err, apperrors.KindInput) {
		t.Errorf("avif without backend: %v", err)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.WorkerCount = 64
	if _, err := imgconv.New(cfg); !apperrors.IsKind(err, apperrors.KindConfig) {
		t.Errorf("got %v", err)
	}
}

// ── Previews ──────────────────────────────────────────────────────────────────

func TestEngine_PreviewsAreCachedAndWatched(t *testing.T) {
	cfg := imgconv.DefaultConfig()
	cfg.WorkerCount = 1
	metrics := hooks.NewInMemoryMetrics()
	e, err := imgconv.New(cfg, imgconv.WithMetrics(metrics), imgconv.WithAutoWatch())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Stop)

	dir := t.TempDir()
	path := writePNG(t, dir, "p.png", 90, 60)
	src := core.FromFile(path)
	ctx := context.Background()

	thumb, err := e.Thumbnail(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	if thumb.Width != 36 || thumb.Height != 24 {
		t.Errorf("thumbnail %dx%d", thumb.Width, thumb.Height)
	}
	if _, err := e.Thumbnail(ctx, src); err != nil {
		t.Fatal(err)
	}
	out, err := e.OutputPreview(ctx, src, core.Settings{Options: core.JPEGOptions{Quality: 30}})
	if err != nil {
		t.Fatal(err)
	}
	if out.EncodedSize <= 0 || out.Format != core.FormatJPEG {
		t.Errorf("output preview %+v", out)
	}
	snap := metrics.Snapshot()
	if snap.CacheHits["thumbnail"] != 1 || snap.CacheMisses["thumbnail"] != 1 {
		t.Errorf("cache metrics hits=%v misses=%v", snap.CacheHits, snap.CacheMisses)
	}

	// Editing the file on disk drops its previews.
	if err := os.WriteFile(path, []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for e.CacheStats()[0].Entries != 0 {
		if time.Now().After(deadline) {
			t.Fatal("thumbnail survived a file change")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
