package output

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
)

type fakeFS map[string]bool

func (f fakeFS) Exists(_ context.Context, path string) (bool, error) { return f[path], nil }

type allTaken struct{}

func (allTaken) Exists(_ context.Context, path string) (bool, error) {
	return !strings.Contains(path, "20260102_030405"), nil
}

func job(t *testing.T, path string, opts core.EncodeOptions, policy core.OutputPolicy) core.Job {
	t.Helper()
	return core.Job{
		ID:       "j",
		Source:   core.Source{Path: path, Name: filepath.Base(path)},
		Settings: core.Settings{Options: opts, Output: policy},
	}
}

func TestStem(t *testing.T) {
	webp := core.WebPOptions{Quality: 80}
	tests := []struct {
		policy core.OutputPolicy
		n      int
		want   string
	}{
		{core.OutputPolicy{}, 0, "photo_converted"},
		{core.OutputPolicy{Template: TemplateFormat}, 0, "photo_WEBP"},
		{core.OutputPolicy{Template: TemplateQuality}, 0, "photo_Q80"},
		{core.OutputPolicy{Template: TemplateCustom, Suffix: "small"}, 0, "photo_small"},
		{core.OutputPolicy{Template: TemplateCustom, Suffix: "_web"}, 0, "photo_web"},
		{core.OutputPolicy{Template: TemplateCustom}, 0, "photo"},
		{core.OutputPolicy{}, 3, "photo_converted_3"},
		{core.OutputPolicy{Template: "{name}-{n}"}, 2, "photo-2"},
		{core.OutputPolicy{Template: "{name}", BaseName: "cover"}, 0, "cover"},
		{core.OutputPolicy{Template: "a/b"}, 0, "a_b"},
	}
	for _, tc := range tests {
		got := Stem(job(t, "/in/photo.jpg", webp, tc.policy), tc.n)
		if got != tc.want {
			t.Errorf("Stem(%+v, %d) = %q, want %q", tc.policy, tc.n, got, tc.want)
		}
	}
}

func TestFolder(t *testing.T) {
	webp := core.WebPOptions{Quality: 80}
	dir, err := Folder(job(t, "/in/photo.jpg", webp, core.OutputPolicy{Mode: core.LocationSameAsSource}))
	if err != nil || dir != "/in" {
		t.Errorf("same: %q %v", dir, err)
	}
	dir, err = Folder(job(t, "/in/photo.jpg", webp, core.OutputPolicy{Mode: core.LocationCustom, Folder: "/out"}))
	if err != nil || dir != "/out" {
		t.Errorf("custom: %q %v", dir, err)
	}
	for _, mode := range []core.LocationMode{core.LocationCustom, core.LocationAsk, "elsewhere"} {
		_, err := Folder(job(t, "/in/photo.jpg", webp, core.OutputPolicy{Mode: mode}))
		if !apperrors.IsKind(err, apperrors.KindInput) {
			t.Errorf("%s without folder: %v", mode, err)
		}
	}
	buf := core.Job{Source: core.FromBytes("mem.png", []byte{1}), Settings: core.Settings{Options: webp}}
	if _, err := Folder(buf); err == nil {
		t.Error("buffer source in same mode needs a folder")
	}
}

func TestResolveAutoIncrement(t *testing.T) {
	ctx := context.Background()
	fs := fakeFS{
		"/in/photo_converted.webp":   true,
		"/in/photo_converted_1.webp": true,
	}
	r := NewResolver(fs)
	j := job(t, "/in/photo.jpg", core.WebPOptions{Quality: 80}, core.OutputPolicy{AutoIncrement: true})

	got, err := r.Resolve(ctx, j)
	if err != nil || got != "/in/photo_converted_2.webp" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
	// The reservation makes a concurrent job skip the same name.
	got2, _ := r.Resolve(ctx, j)
	if got2 != "/in/photo_converted_3.webp" {
		t.Errorf("second Resolve = %q", got2)
	}
	r.Release(got)
	got3, _ := r.Resolve(ctx, j)
	if got3 != got {
		t.Errorf("after Release = %q, want %q", got3, got)
	}
}

func TestResolveOverwriteWithoutIncrement(t *testing.T) {
	r := NewResolver(fakeFS{"/in/photo_converted.webp": true})
	j := job(t, "/in/photo.jpg", core.WebPOptions{Quality: 80}, core.OutputPolicy{})
	got, err := r.Resolve(context.Background(), j)
	if err != nil || got != "/in/photo_converted.webp" {
		t.Errorf("Resolve = %q, %v", got, err)
	}
}

func TestResolveNeverTargetsSource(t *testing.T) {
	r := NewResolver(fakeFS{})
	j := job(t, "/in/photo.png", core.PNGOptions{Level: 6}, core.OutputPolicy{Template: "{name}"})
	got, err := r.Resolve(context.Background(), j)
	if err != nil || got != "/in/photo_1.png" {
		t.Errorf("Resolve = %q, %v", got, err)
	}
}

func TestResolveTimestampFallback(t *testing.T) {
	r := NewResolver(allTaken{})
	r.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	j := job(t, "/in/photo.jpg", core.JPEGOptions{Quality: 90}, core.OutputPolicy{AutoIncrement: true})
	got, err := r.Resolve(context.Background(), j)
	if err != nil || got != "/in/photo_converted_20260102_030405.jpg" {
		t.Errorf("Resolve = %q, %v", got, err)
	}
}

type osFS struct{}

func (osFS) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	return err == nil, nil
}

func TestResolveConcurrentJobsGetDistinctPaths(t *testing.T) {
	dir := t.TempDir()
	r := NewResolver(osFS{})
	j := job(t, filepath.Join(dir, "photo.jpg"), core.WebPOptions{Quality: 80}, core.OutputPolicy{AutoIncrement: true})

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := r.Resolve(context.Background(), j)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			seen[p] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != 16 {
		t.Errorf("got %d distinct paths, want 16", len(seen))
	}
}
