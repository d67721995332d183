package cache_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Skryldev/imgconv/cache"
	"github.com/Skryldev/imgconv/config"
	"github.com/Skryldev/imgconv/core"
)

func key(src string, fp uint64) cache.Key { return cache.Key{Source: src, Fingerprint: fp} }

func TestTier_PutGetRoundTrip(t *testing.T) {
	tier := cache.NewTier("t", 100)
	tier.Put(key("a", 1), "v1", 10)
	v, ok := tier.Get(key("a", 1))
	if !ok || v != "v1" {
		t.Fatalf("Get = %v, %v", v, ok)
	}
	if _, ok := tier.Get(key("a", 2)); ok {
		t.Error("unexpected hit")
	}
	st := tier.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Entries != 1 || st.Bytes != 10 {
		t.Errorf("stats %+v", st)
	}
}

func TestTier_PutOverwrites(t *testing.T) {
	tier := cache.NewTier("t", 100)
	tier.Put(key("a", 1), "old", 10)
	tier.Put(key("a", 1), "new", 30)
	if v, _ := tier.Get(key("a", 1)); v != "new" {
		t.Errorf("got %v", v)
	}
	if tier.Len() != 1 || tier.Bytes() != 30 {
		t.Errorf("len %d bytes %d", tier.Len(), tier.Bytes())
	}
}

func TestTier_EvictsLeastRecentlyUsed(t *testing.T) {
	tier := cache.NewTier("t", 30)
	tier.Put(key("a", 1), 1, 10)
	tier.Put(key("b", 2), 2, 10)
	tier.Put(key("c", 3), 3, 10)

	// Touch the oldest so its unaccessed peer goes first.
	if _, ok := tier.Get(key("a", 1)); !ok {
		t.Fatal("a missing")
	}
	tier.Put(key("d", 4), 4, 10)

	if _, ok := tier.Get(key("b", 2)); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []cache.Key{key("a", 1), key("c", 3), key("d", 4)} {
		if _, ok := tier.Get(k); !ok {
			t.Errorf("%v evicted", k)
		}
	}
	if tier.Bytes() > 30 || tier.Stats().Evictions != 1 {
		t.Errorf("bytes %d stats %+v", tier.Bytes(), tier.Stats())
	}
}

func TestTier_InsertionOrderBreaksTies(t *testing.T) {
	tier := cache.NewTier("t", 20)
	tier.Put(key("first", 1), 1, 10)
	tier.Put(key("second", 2), 2, 10)
	tier.Put(key("third", 3), 3, 10)
	if _, ok := tier.Get(key("first", 1)); ok {
		t.Error("oldest insertion must be evicted first")
	}
	if _, ok := tier.Get(key("second", 2)); !ok {
		t.Error("second evicted")
	}
}

func TestTier_RefusesOversizedEntry(t *testing.T) {
	tier := cache.NewTier("t", 10)
	tier.Put(key("a", 1), 1, 5)
	if tier.Put(key("big", 1), 2, 11) {
		t.Error("oversized entry accepted")
	}
	if _, ok := tier.Get(key("a", 1)); !ok {
		t.Error("refused Put must not evict")
	}
}

func TestTier_OversizedPutDropsOlderValue(t *testing.T) {
	tier := cache.NewTier("t", 100)
	tier.Put(key("a", 1), "old", 10)
	if tier.Put(key("a", 1), "new", 200) {
		t.Fatal("oversized entry accepted")
	}
	if v, ok := tier.Get(key("a", 1)); ok {
		t.Errorf("older value %v still served after a newer Put", v)
	}
	if tier.Bytes() != 0 || tier.Len() != 0 {
		t.Errorf("accounting after drop: len=%d bytes=%d", tier.Len(), tier.Bytes())
	}
}

func TestTier_Invalidate(t *testing.T) {
	tier := cache.NewTier("t", 100)
	tier.Put(key("a", 1), 1, 1)
	tier.Put(key("a", 2), 2, 1)
	tier.Put(key("b", 1), 3, 1)
	if n := tier.Invalidate("a"); n != 2 {
		t.Errorf("Invalidate removed %d", n)
	}
	if _, ok := tier.Get(key("a", 1)); ok {
		t.Error("a/1 survived invalidation")
	}
	if _, ok := tier.Get(key("a", 2)); ok {
		t.Error("a/2 survived invalidation")
	}
	if _, ok := tier.Get(key("b", 1)); !ok {
		t.Error("unrelated source removed")
	}
	if tier.Bytes() != 1 {
		t.Errorf("bytes %d", tier.Bytes())
	}
}

func newCache() *cache.Cache {
	return cache.New(config.Default().Cache)
}

func TestCache_InvalidateAllTiers(t *testing.T) {
	c := newCache()
	for _, name := range cache.Tiers {
		c.Put(name, key("/img/a.png", 7), string(name), 1)
	}
	if n := c.Invalidate("/img/a.png"); n != 3 {
		t.Errorf("Invalidate removed %d", n)
	}
	for _, name := range cache.Tiers {
		if _, ok := c.Get(name, key("/img/a.png", 7)); ok {
			t.Errorf("%s still holds the entry", name)
		}
	}
}

func TestCache_ConcurrentMissesCoalesce(t *testing.T) {
	c := newCache()
	k := key("src", 1)
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (interface{}, int64, error) {
		calls.Add(1)
		<-release
		return "value", 5, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan interface{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := c.GetOrCompute(context.Background(), cache.TierOutputPreview, k, compute)
			if err != nil {
				t.Error(err)
			}
			results <- v
		}()
	}
	// Give every caller time to join the in-flight computation.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for v := range results {
		if v != "value" {
			t.Errorf("got %v", v)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("compute ran %d times, want 1", n)
	}
	v, shared, err := c.GetOrCompute(context.Background(), cache.TierOutputPreview, k, compute)
	if err != nil || !shared || v != "value" {
		t.Errorf("follow-up lookup: %v %v %v", v, shared, err)
	}
}

func TestCache_ComputeErrorIsNotCached(t *testing.T) {
	c := newCache()
	k := key("src", 1)
	boom := errors.New("decode failed")
	_, _, err := c.GetOrCompute(context.Background(), cache.TierThumbnail, k,
		func(context.Context) (interface{}, int64, error) { return nil, 0, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
	if _, ok := c.Get(cache.TierThumbnail, k); ok {
		t.Error("failed computation was cached")
	}
}

func TestCache_InvalidateDuringComputeDropsResult(t *testing.T) {
	c := newCache()
	k := key("/img/a.png", 1)
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = c.GetOrCompute(context.Background(), cache.TierInputPreview, k,
			func(context.Context) (interface{}, int64, error) {
				close(started)
				<-release
				return "stale", 1, nil
			})
	}()
	<-started
	c.Invalidate("/img/a.png")

	// A caller arriving after the invalidation must not join the stale
	// computation.
	v, _, err := c.GetOrCompute(context.Background(), cache.TierInputPreview, k,
		func(context.Context) (interface{}, int64, error) { return "fresh", 1, nil })
	if err != nil {
		t.Fatal(err)
	}
	if v != "fresh" {
		t.Errorf("caller after Invalidate got %v", v)
	}

	close(release)
	<-done
	if v, ok := c.Get(cache.TierInputPreview, k); !ok || v != "fresh" {
		t.Errorf("cache holds %v (hit=%v), want the fresh value", v, ok)
	}
}

func TestCache_WaiterHonoursContext(t *testing.T) {
	c := newCache()
	release := make(chan struct{})
	defer close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := c.GetOrCompute(ctx, cache.TierThumbnail, key("s", 1),
		func(context.Context) (interface{}, int64, error) {
			<-release
			return 1, 1, nil
		})
	if err == nil {
		t.Fatal("expected the wait to time out")
	}
}

func TestFingerprint(t *testing.T) {
	src := core.FromBytes("a.png", []byte{1, 2, 3})
	opts := core.WebPOptions{Quality: 80}
	k1 := cache.Fingerprint(src, "out", core.ResizeSpec{}, opts)
	k2 := cache.Fingerprint(src, "out", core.ResizeSpec{}, opts)
	if k1 != k2 {
		t.Error("fingerprint is not deterministic")
	}
	if k1.Source != src.Identity() {
		t.Errorf("key source %q", k1.Source)
	}
	changed := []cache.Key{
		cache.Fingerprint(src, "thumb", core.ResizeSpec{}, opts),
		cache.Fingerprint(src, "out", core.ResizeSpec{Mode: core.ResizePercent, Percent: 50}, opts),
		cache.Fingerprint(src, "out", core.ResizeSpec{}, core.WebPOptions{Quality: 81}),
		cache.Fingerprint(src, "out", core.ResizeSpec{}, core.AVIFOptions{Quality: 80}),
		cache.Fingerprint(core.FromBytes("a.png", []byte{1, 2, 4}), "out", core.ResizeSpec{}, opts),
	}
	for i, k := range changed {
		if k.Fingerprint == k1.Fingerprint {
			t.Errorf("case %d: fingerprint did not change", i)
		}
	}
}

func TestWatcher_InvalidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := core.FromFile(path)

	c := newCache()
	w, err := cache.NewWatcher(c, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	invalidated := make(chan string, 1)
	w.OnInvalidate(func(p string) {
		select {
		case invalidated <- p:
		default:
		}
	})
	if err := w.Add(path); err != nil {
		t.Fatal(err)
	}

	k := cache.Fingerprint(src, "thumb")
	c.Put(cache.TierThumbnail, k, "thumb", 1)

	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-invalidated:
		if p != src.Identity() {
			t.Errorf("invalidated %q, want %q", p, src.Identity())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no invalidation after write")
	}
	if _, ok := c.Get(cache.TierThumbnail, k); ok {
		t.Error("entry survived a file change")
	}
}

func BenchmarkTierPutGet(b *testing.B) {
	tier := cache.NewTier("bench", 1<<20)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		k := key("s", uint64(i%4096))
		tier.Put(k, i, 512)
		tier.Get(k)
	}
}
