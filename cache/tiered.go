package cache

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Skryldev/imgconv/config"
	"github.com/Skryldev/imgconv/core"
	apperrors "github.com/Skryldev/imgconv/errors"
	"github.com/Skryldev/imgconv/utils"
)

// TierName selects one of the three caches.
type TierName string

const (
	TierThumbnail     TierName = "thumbnail"
	TierInputPreview  TierName = "input_preview"
	TierOutputPreview TierName = "output_preview"
)

// Tiers lists every tier in a stable order.
var Tiers = []TierName{TierThumbnail, TierInputPreview, TierOutputPreview}

// ComputeFunc produces a value and its size in bytes on a cache miss.
type ComputeFunc func(ctx context.Context) (value interface{}, size int64, err error)

// Cache bundles the three tiers.  Concurrent misses for the same tier and
// key share one computation.
type Cache struct {
	tiers   map[TierName]*Tier
	group   singleflight.Group
	metrics core.MetricsCollector

	mu   sync.Mutex
	gens map[string]uint64 // per-source invalidation generation
}

// New builds the tiers with the budgets from cfg.
func New(cfg config.CacheConfig) *Cache {
	budget := func(b int64) int64 { return utils.CapBudget(b, cfg.MemoryFraction) }
	return &Cache{
		tiers: map[TierName]*Tier{
			TierThumbnail:     NewTier(string(TierThumbnail), budget(cfg.ThumbnailBytes)),
			TierInputPreview:  NewTier(string(TierInputPreview), budget(cfg.InputPreviewBytes)),
			TierOutputPreview: NewTier(string(TierOutputPreview), budget(cfg.OutputPreviewBytes)),
		},
		gens: make(map[string]uint64),
	}
}

// SetMetrics records every lookup on m.
func (c *Cache) SetMetrics(m core.MetricsCollector) { c.metrics = m }

// Tier returns the named tier, or nil.
func (c *Cache) Tier(name TierName) *Tier { return c.tiers[name] }

func (c *Cache) Get(name TierName, key Key) (interface{}, bool) {
	t := c.tiers[name]
	if t == nil {
		return nil, false
	}
	v, ok := t.Get(key)
	c.record(name, ok)
	return v, ok
}

func (c *Cache) Put(name TierName, key Key, value interface{}, size int64) bool {
	t := c.tiers[name]
	if t == nil {
		return false
	}
	return t.Put(key, value, size)
}

// GetOrCompute returns the cached value for key or runs compute.  A caller
// that misses while another caller is already computing the same key waits
// for that result instead of starting its own.  shared is true when the
// value came from the cache or from another caller's computation.
//
// The computation is detached from ctx so that one waiter giving up does
// not fail the others; ctx only bounds how long this caller waits.
func (c *Cache) GetOrCompute(ctx context.Context, name TierName, key Key, compute ComputeFunc) (value interface{}, shared bool, err error) {
	t := c.tiers[name]
	if t == nil {
		return nil, false, apperrors.New(apperrors.KindInternal, "cache", errUnknownTier(name))
	}
	if v, ok := t.Get(key); ok {
		c.record(name, true)
		return v, true, nil
	}
	c.record(name, false)

	gen := c.generation(key.Source)
	// Callers arriving after an Invalidate never join a computation that
	// started before it.
	flight := string(name) + "/" + key.Source + "/" + strconv.FormatUint(key.Fingerprint, 16) +
		"/" + strconv.FormatUint(gen, 10)
	ch := c.group.DoChan(flight, func() (interface{}, error) {
		if v, ok := t.peek(key); ok {
			return v, nil
		}
		v, size, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.putIfCurrent(t, key, v, size, gen)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, apperrors.FromContext("cache.wait", ctx.Err())
	case r := <-ch:
		return r.Val, r.Shared, r.Err
	}
}

// Invalidate drops every entry derived from source in all tiers.  A
// computation for source that is still running will not be stored.
func (c *Cache) Invalidate(source string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[source]++
	n := 0
	for _, name := range Tiers {
		n += c.tiers[name].Invalidate(source)
	}
	return n
}

// Clear empties all tiers.
func (c *Cache) Clear() {
	for _, name := range Tiers {
		c.tiers[name].Clear()
	}
}

// Stats returns a snapshot of every tier in Tiers order.
func (c *Cache) Stats() []TierStats {
	out := make([]TierStats, 0, len(Tiers))
	for _, name := range Tiers {
		out = append(out, c.tiers[name].Stats())
	}
	return out
}

func (c *Cache) generation(source string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[source]
}

func (c *Cache) putIfCurrent(t *Tier, key Key, v interface{}, size int64, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[key.Source] != gen {
		return false
	}
	return t.Put(key, v, size)
}

func (c *Cache) record(name TierName, hit bool) {
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(string(name), hit)
	}
}

type errUnknownTier TierName

func (e errUnknownTier) Error() string { return "unknown cache tier " + string(e) }
