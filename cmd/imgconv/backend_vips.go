//go:build vips

package main

import (
	"sync"

	"github.com/Skryldev/imgconv"
	"github.com/Skryldev/imgconv/adapters/vips"
	"github.com/Skryldev/imgconv/core"
)

const backendName = "libvips"

var (
	vipsOnce    sync.Once
	vipsBackend *vips.Backend
)

// backendOptions hands every format libvips supports to the shared backend.
// libvips is started once per process.
func backendOptions() []imgconv.Option {
	vipsOnce.Do(func() {
		vipsBackend = vips.NewBackend(vips.BackendConfig{})
	})
	return []imgconv.Option{imgconv.WithBackend(func(reg core.Registry) {
		vips.RegisterVipsBackend(reg, vipsBackend)
	})}
}
