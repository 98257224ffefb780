package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func snapshotOf(root string, files int) *FolderSnapshot {
	return &FolderSnapshot{Root: root, FileCount: files}
}

func TestFolderCacheTTLBoundary(t *testing.T) {
	clock := newFakeClock()
	cache := NewFolderCacheService(nil, time.Minute).WithClock(clock.Now)
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (*FolderSnapshot, error) {
		calls++
		return snapshotOf("r", calls), nil
	}

	if _, hit, err := cache.Get(ctx, "r", compute); err != nil || hit {
		t.Fatalf("first Get: hit=%v err=%v", hit, err)
	}

	clock.Advance(time.Minute - time.Millisecond)
	snap, hit, _ := cache.Get(ctx, "r", compute)
	if !hit || snap.FileCount != 1 {
		t.Fatalf("entry must be fresh just before ttl: hit=%v snap=%+v", hit, snap)
	}

	clock.Advance(time.Millisecond)
	snap, hit, _ = cache.Get(ctx, "r", compute)
	if hit || snap.FileCount != 2 {
		t.Fatalf("entry must be stale at exactly ttl: hit=%v snap=%+v", hit, snap)
	}
	if calls != 2 {
		t.Fatalf("compute ran %d times, want 2", calls)
	}
}

func TestFolderCacheDoesNotStorePartial(t *testing.T) {
	cache := NewFolderCacheService(nil, time.Minute)
	ctx := context.Background()
	calls := 0
	compute := func(context.Context) (*FolderSnapshot, error) {
		calls++
		s := snapshotOf("r", calls)
		s.Partial = true
		return s, nil
	}
	cache.Get(ctx, "r", compute)
	cache.Get(ctx, "r", compute)
	if calls != 2 {
		t.Fatalf("partial snapshots must not be cached, compute ran %d times", calls)
	}
}

func TestFolderCacheComputeError(t *testing.T) {
	cache := NewFolderCacheService(nil, time.Minute)
	boom := errors.New("boom")
	if _, _, err := cache.Get(context.Background(), "r", func(context.Context) (*FolderSnapshot, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if _, ok := cache.Peek(context.Background(), "r"); ok {
		t.Fatal("failed compute must not populate the cache")
	}
}

func TestFolderCacheConcurrentMissesComputeOnce(t *testing.T) {
	cache := NewFolderCacheService(nil, time.Minute)
	var calls int32
	release := make(chan struct{})
	compute := func(context.Context) (*FolderSnapshot, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return snapshotOf("r", 1), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.Get(context.Background(), "r", compute)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("compute ran %d times, want 1", n)
	}
}

func TestFolderCacheForgetsKeyLocks(t *testing.T) {
	cache := NewFolderCacheService(nil, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("r/%d", i%10)
			cache.Get(context.Background(), key, func(context.Context) (*FolderSnapshot, error) {
				return snapshotOf(key, 1), nil
			})
			cache.Invalidate(context.Background(), key)
		}(i)
	}
	wg.Wait()

	cache.locksM.Lock()
	defer cache.locksM.Unlock()
	if n := len(cache.locks); n != 0 {
		t.Fatalf("%d key locks left after all gets returned", n)
	}
}

func TestFolderCacheInvalidatePath(t *testing.T) {
	cache := NewFolderCacheService(nil, time.Hour)
	ctx := context.Background()
	for _, k := range []string{"", "originals", "originals/customers", "originals/customers/kim", "originals/products"} {
		k := k
		cache.Get(ctx, k, func(context.Context) (*FolderSnapshot, error) { return snapshotOf(k, 1), nil })
	}

	cache.InvalidatePath(ctx, "/originals/customers/kim/")

	for _, k := range []string{"", "originals", "originals/customers", "originals/customers/kim"} {
		if _, ok := cache.Peek(ctx, k); ok {
			t.Errorf("%q should be invalidated", k)
		}
	}
	if _, ok := cache.Peek(ctx, "originals/products"); !ok {
		t.Error("sibling folder must stay cached")
	}

	cache.InvalidateAll(ctx)
	if _, ok := cache.Peek(ctx, "originals/products"); ok {
		t.Error("InvalidateAll must clear everything")
	}

	var nilCache *FolderCacheService
	nilCache.InvalidatePath(ctx, "x")
	nilCache.InvalidateAll(ctx)
}

func TestSummarize(t *testing.T) {
	l := &Listing{
		Root:    "r",
		Folders: []string{"r/img-10", "r/img-2", "r/empty"},
		Files: []StoredObject{
			{Path: "r/a.webp", Size: 5},
			{Path: "r/img-2/b.webp", Size: 7},
			{Path: "r/img-2/c.webp", Size: 3},
			{Path: "r/img-10/d.webp", Size: 1},
		},
	}
	snap := Summarize(l, time.Now())
	if snap.FileCount != 4 || snap.TotalBytes != 16 {
		t.Fatalf("totals = %d files, %d bytes", snap.FileCount, snap.TotalBytes)
	}
	order := []string{"r", "r/empty", "r/img-2", "r/img-10"}
	if len(snap.Folders) != len(order) {
		t.Fatalf("folders = %+v", snap.Folders)
	}
	for i, p := range order {
		if snap.Folders[i].Path != p {
			t.Fatalf("folder %d = %q, want %q (%+v)", i, snap.Folders[i].Path, p, snap.Folders)
		}
	}
	if snap.Folders[2].FileCount != 2 || snap.Folders[2].TotalBytes != 10 {
		t.Fatalf("img-2 summary = %+v", snap.Folders[2])
	}
	if snap.Folders[1].FileCount != 0 {
		t.Fatalf("empty folder summary = %+v", snap.Folders[1])
	}
}

// TestRedisCacheStore needs a disposable redis; set TEST_REDIS_ADDR to run it.
func TestRedisCacheStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	store := NewRedisCacheStore(client)
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, err := store.Load(ctx, "r"); err != nil || ok {
		t.Fatalf("empty load: ok=%v err=%v", ok, err)
	}

	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if err := store.Save(ctx, "r", &CacheEntry{Data: snapshotOf("r", 3), Timestamp: at}, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	e, ok, err := store.Load(ctx, "r")
	if err != nil || !ok || e.Data.FileCount != 3 || !e.Timestamp.Equal(at) {
		t.Fatalf("load: %+v ok=%v err=%v", e, ok, err)
	}
	if ttl := client.TTL(ctx, folderCachePrefix+"r").Val(); ttl <= time.Minute {
		t.Fatalf("redis ttl %v should outlive the freshness ttl", ttl)
	}
	if err := store.Delete(ctx, "r"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.Load(ctx, "r"); ok {
		t.Fatal("entry should be gone")
	}
}
