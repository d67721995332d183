//go:build !vips

package main

import "github.com/Skryldev/imgconv"

const backendName = "pure-go"

func backendOptions() []imgconv.Option { return nil }
