package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/facette/natsort"
	"github.com/redis/go-redis/v9"
)

// FolderSummary aggregates the files found directly in one folder.
type FolderSummary struct {
	Path       string `json:"path"`
	FileCount  int    `json:"file_count"`
	TotalBytes int64  `json:"total_bytes"`
}

// FolderSnapshot is the cached result of a recursive listing.
type FolderSnapshot struct {
	Root        string          `json:"root"`
	Folders     []FolderSummary `json:"folders"`
	FileCount   int             `json:"file_count"`
	TotalBytes  int64           `json:"total_bytes"`
	Partial     bool            `json:"partial"`
	Errors      []ListError     `json:"errors,omitempty"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Summarize folds a listing into per-folder counts in natural path order.
// Folders that were discovered but hold no files are kept with zero counts.
func Summarize(l *Listing, at time.Time) *FolderSnapshot {
	byPath := make(map[string]*FolderSummary)
	get := func(p string) *FolderSummary {
		if s, ok := byPath[p]; ok {
			return s
		}
		s := &FolderSummary{Path: p}
		byPath[p] = s
		return s
	}
	for _, f := range l.Folders {
		get(f)
	}
	snap := &FolderSnapshot{Root: l.Root, Partial: l.Partial, Errors: l.Errors, GeneratedAt: at}
	for _, f := range l.Files {
		dir := path.Dir(f.Path)
		if dir == "." {
			dir = ""
		}
		s := get(dir)
		s.FileCount++
		s.TotalBytes += f.Size
		snap.FileCount++
		snap.TotalBytes += f.Size
	}
	snap.Folders = make([]FolderSummary, 0, len(byPath))
	for _, s := range byPath {
		snap.Folders = append(snap.Folders, *s)
	}
	sort.Slice(snap.Folders, func(i, j int) bool {
		return natsort.Compare(snap.Folders[i].Path, snap.Folders[j].Path)
	})
	return snap
}

type CacheEntry struct {
	Data      *FolderSnapshot `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// CacheStore holds folder snapshots. Freshness is decided by FolderCacheService from
// the entry timestamp, never by the store.
type CacheStore interface {
	Load(ctx context.Context, key string) (*CacheEntry, bool, error)
	Save(ctx context.Context, key string, e *CacheEntry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// FolderCacheService serves recursive folder snapshots for up to ttl after
// they were computed. A miss recomputes in the calling goroutine; concurrent
// misses on one key in this process wait for the first computation.
type FolderCacheService struct {
	store CacheStore
	ttl   time.Duration
	now   func() time.Time

	locks  map[string]*keyLock
	locksM sync.Mutex
}

// keyLock serializes computations of one key; refs counts its holders and
// waiters.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewFolderCacheService(store CacheStore, ttl time.Duration) *FolderCacheService {
	if store == nil {
		store = NewMemoryCacheStore()
	}
	return &FolderCacheService{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		locks: make(map[string]*keyLock),
	}
}

// WithClock replaces the wall clock used for freshness checks.
func (s *FolderCacheService) WithClock(now func() time.Time) *FolderCacheService {
	s.now = now
	return s
}

func (s *FolderCacheService) TTL() time.Duration { return s.ttl }

// lock takes the per-key lock. The returned func releases it and forgets the
// key once nobody else holds or waits for it.
func (s *FolderCacheService) lock(key string) func() {
	s.locksM.Lock()
	l, exists := s.locks[key]
	if !exists {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.locksM.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksM.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.locksM.Unlock()
	}
}

// Peek returns the entry for key when it is still fresh.
func (s *FolderCacheService) Peek(ctx context.Context, key string) (*FolderSnapshot, bool) {
	e, ok, err := s.store.Load(ctx, key)
	if err != nil {
		log.Printf("FolderCache: load %q failed: %v", key, err)
		return nil, false
	}
	if !ok || e.Data == nil || s.now().Sub(e.Timestamp) >= s.ttl {
		return nil, false
	}
	return e.Data, true
}

// Get returns the cached snapshot for key or computes and stores a new one.
// The bool reports a cache hit. Partial snapshots are returned but not stored.
func (s *FolderCacheService) Get(ctx context.Context, key string, compute func(context.Context) (*FolderSnapshot, error)) (*FolderSnapshot, bool, error) {
	if snap, ok := s.Peek(ctx, key); ok {
		return snap, true, nil
	}

	unlock := s.lock(key)
	defer unlock()

	// another caller may have filled it while we waited
	if snap, ok := s.Peek(ctx, key); ok {
		return snap, true, nil
	}

	snap, err := compute(ctx)
	if err != nil {
		return nil, false, err
	}
	if snap == nil || snap.Partial {
		return snap, false, nil
	}
	if err := s.store.Save(ctx, key, &CacheEntry{Data: snap, Timestamp: s.now()}, s.ttl); err != nil {
		log.Printf("FolderCache: save %q failed: %v", key, err)
	}
	return snap, false, nil
}

// Invalidate drops the snapshot for key.
func (s *FolderCacheService) Invalidate(ctx context.Context, key string) {
	if s == nil {
		return
	}
	if err := s.store.Delete(ctx, key); err != nil {
		log.Printf("FolderCache: invalidate %q failed: %v", key, err)
	}
}

// InvalidateAll drops every snapshot.
func (s *FolderCacheService) InvalidateAll(ctx context.Context) {
	if s == nil {
		return
	}
	if err := s.store.Clear(ctx); err != nil {
		log.Printf("FolderCache: clear failed: %v", err)
	}
}

// InvalidatePath drops the snapshots of p and of every ancestor folder, the
// keys whose recursive listing contains p. A nil cache ignores the call.
func (s *FolderCacheService) InvalidatePath(ctx context.Context, p string) {
	if s == nil {
		return
	}
	p = JoinPath(p)
	for {
		s.Invalidate(ctx, p)
		if p == "" {
			return
		}
		p = path.Dir(p)
		if p == "." {
			p = ""
		}
	}
}

type memoryCacheStore struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
}

func NewMemoryCacheStore() CacheStore {
	return &memoryCacheStore{entries: make(map[string]*CacheEntry)}
}

func (m *memoryCacheStore) Load(_ context.Context, key string) (*CacheEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *memoryCacheStore) Save(_ context.Context, key string, e *CacheEntry, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = e
	return nil
}

func (m *memoryCacheStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *memoryCacheStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*CacheEntry)
	return nil
}

const folderCachePrefix = "assetsync:folders:"

// redisCacheStore shares snapshots between API instances. The redis key TTL
// only garbage-collects old entries.
type redisCacheStore struct {
	client *redis.Client
}

func NewRedisCacheStore(client *redis.Client) CacheStore {
	return &redisCacheStore{client: client}
}

func (r *redisCacheStore) Load(ctx context.Context, key string) (*CacheEntry, bool, error) {
	raw, err := r.client.Get(ctx, folderCachePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var e CacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return &e, true, nil
}

func (r *redisCacheStore) Save(ctx context.Context, key string, e *CacheEntry, ttl time.Duration) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, folderCachePrefix+key, raw, 2*ttl).Err()
}

func (r *redisCacheStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, folderCachePrefix+key).Err()
}

func (r *redisCacheStore) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, folderCachePrefix+"*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}
