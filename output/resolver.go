// Package output decides where converted files are written.
package output

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
)

// Stem templates matching the naming presets offered to users.
const (
	TemplateConverted = "{name}_converted"
	TemplateFormat    = "{name}_{format}"
	TemplateQuality   = "{name}_Q{quality}"
	TemplateCustom    = "{name}{suffix}"
)

// MaxIncrement is the last numeric disambiguator tried before falling back to
// a timestamp.
const MaxIncrement = 9999

// Exister reports whether a path is already taken.  core.Storage satisfies it.
type Exister interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Resolver implements core.PathResolver.  Paths handed out by Resolve stay
// reserved until Release, so concurrent jobs never pick the same name.
type Resolver struct {
	fs  Exister
	now func() time.Time

	mu       sync.Mutex
	reserved map[string]struct{}
}

// NewResolver returns a Resolver that checks collisions against fs.
func NewResolver(fs Exister) *Resolver {
	return &Resolver{fs: fs, now: time.Now, reserved: make(map[string]struct{})}
}

// Resolve returns the destination path for job and reserves it.
func (r *Resolver) Resolve(ctx context.Context, job core.Job) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.FromContext("output.resolve", err)
	}
	dir, err := Folder(job)
	if err != nil {
		return "", err
	}
	policy := job.Settings.Output
	ext := job.Target().Extension()
	source := ""
	if job.Source.Path != "" {
		source, _ = filepath.Abs(job.Source.Path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	candidate := func(n int) string {
		return filepath.Join(dir, Stem(job, n)+ext)
	}
	// Without auto-increment an existing file is overwritten, except the
	// source itself.
	for n := 0; n <= MaxIncrement; n++ {
		path := candidate(n)
		if r.sameAs(path, source) {
			continue
		}
		taken, err := r.takenLocked(ctx, path)
		if err != nil {
			return "", err
		}
		if !taken || !policy.AutoIncrement {
			r.reserved[path] = struct{}{}
			return path, nil
		}
	}

	stamp := r.now().Format("20060102_150405")
	path := filepath.Join(dir, Stem(job, 0)+"_"+stamp+ext)
	r.reserved[path] = struct{}{}
	return path, nil
}

// Release frees a path reserved by Resolve.
func (r *Resolver) Release(path string) {
	r.mu.Lock()
	delete(r.reserved, path)
	r.mu.Unlock()
}

func (r *Resolver) takenLocked(ctx context.Context, path string) (bool, error) {
	if _, ok := r.reserved[path]; ok {
		return true, nil
	}
	ok, err := r.fs.Exists(ctx, path)
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindIO, "output.exists", err)
	}
	return ok, nil
}

func (r *Resolver) sameAs(path, source string) bool {
	if source == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	return err == nil && abs == source
}

// Folder returns the output directory selected by the job's location mode.
func Folder(job core.Job) (string, error) {
	policy := job.Settings.Output
	switch policy.Mode {
	case "", core.LocationSameAsSource:
		if job.Source.Path != "" {
			return filepath.Dir(job.Source.Path), nil
		}
		if policy.Folder != "" {
			return policy.Folder, nil
		}
		return "", apperrors.New(apperrors.KindInput, "output.folder",
			fmt.Errorf("source %q has no directory; set a custom folder", job.Source.Name))
	case core.LocationCustom, core.LocationAsk:
		if policy.Folder == "" {
			return "", apperrors.New(apperrors.KindInput, "output.folder",
				fmt.Errorf("location mode %q needs a folder", policy.Mode))
		}
		return policy.Folder, nil
	}
	return "", apperrors.New(apperrors.KindInput, "output.folder",
		fmt.Errorf("unknown location mode %q", policy.Mode))
}

// Stem expands the job's filename template.  n is the collision counter: 0
// for the first attempt.  {n} expands to the counter, or to nothing when it
// is 0; templates without {n} get "_<n>" appended instead.
func Stem(job core.Job, n int) string {
	policy := job.Settings.Output
	tmpl := policy.Template
	if tmpl == "" {
		tmpl = TemplateConverted
	}
	name := policy.BaseName
	if name == "" {
		name = strings.TrimSuffix(job.Source.Name, filepath.Ext(job.Source.Name))
	}
	suffix := policy.Suffix
	if suffix != "" && !strings.HasPrefix(suffix, "_") {
		suffix = "_" + suffix
	}
	num := ""
	if n > 0 {
		num = strconv.Itoa(n)
	}

	stem := strings.NewReplacer(
		"{name}", name,
		"{format}", job.Target().DisplayName(),
		"{quality}", strconv.Itoa(core.OptionsQuality(job.Settings.Options)),
		"{suffix}", suffix,
		"{n}", num,
	).Replace(tmpl)
	if n > 0 && !strings.Contains(tmpl, "{n}") {
		stem += "_" + num
	}
	return sanitize(stem)
}

func sanitize(stem string) string {
	stem = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, stem)
	if stem == "" || stem == "." || stem == ".." {
		return "output"
	}
	return stem
}

var _ core.PathResolver = (*Resolver)(nil)
