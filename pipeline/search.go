package pipeline

import (
	"context"
	"fmt"

	"github.com/Skryldev/imgconv/config"
	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
)

// EncodeAt encodes the current image at quality q.
type EncodeAt func(ctx context.Context, q int) ([]byte, error)

// SearchResult is the outcome of a target-size search.
type SearchResult struct {
	Data       []byte
	Quality    int
	Size       int64
	Iterations int
	// Converged is false when the iteration budget ran out, or the quality
	// range was exhausted, before a size inside the tolerance was found.
	// Data then holds the closest candidate.
	Converged bool
}

// SearchTargetSize binary searches quality in [cfg.MinQuality, cfg.MaxQuality]
// for an encoding whose size falls inside target's tolerance band.  It runs at
// most cfg.MaxIterations encodes and calls cp between iterations.
func SearchTargetSize(ctx context.Context, encode EncodeAt, target core.TargetSize, cfg config.SearchConfig, cp core.Checkpoint) (SearchResult, error) {
	minBytes, maxBytes := target.Bounds(cfg.DefaultTolerance)
	lo, hi := cfg.MinQuality, cfg.MaxQuality

	var best SearchResult
	found := false
	for i := 0; i < cfg.MaxIterations && lo <= hi; i++ {
		if i > 0 && cp != nil {
			if err := cp(); err != nil {
				return SearchResult{}, err
			}
		}
		if err := ctx.Err(); err != nil {
			return SearchResult{}, apperrors.FromContext("search", err)
		}

		q := lo + (hi-lo)/2
		data, err := encode(ctx, q)
		if err != nil {
			return SearchResult{}, err
		}
		size := int64(len(data))
		cand := SearchResult{Data: data, Quality: q, Size: size, Iterations: i + 1}

		if size >= minBytes && size <= maxBytes {
			cand.Converged = true
			return cand, nil
		}
		if !found || closer(cand, best, target.Bytes) {
			best, found = cand, true
		}
		best.Iterations = i + 1

		if size > maxBytes {
			hi = q - 1
		} else {
			lo = q + 1
		}
	}
	if !found {
		return SearchResult{}, apperrors.New(apperrors.KindInternal, "search",
			fmt.Errorf("empty quality range [%d, %d]", cfg.MinQuality, cfg.MaxQuality))
	}
	return best, nil
}

// closer reports whether a deviates less from target than b.  Ties go to the
// higher quality.
func closer(a, b SearchResult, target int64) bool {
	da, db := abs64(a.Size-target), abs64(b.Size-target)
	if da != db {
		return da < db
	}
	return a.Quality > b.Quality
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
