// Package cache is the per-tenant smart cache fronting expensive
// control-plane reads: hard and soft TTLs, background refresh past the
// soft TTL, single-flight coalescing of concurrent misses, bounded size
// with pluggable eviction, optional gzip compression, optional snapshot
// persistence, and adaptive TTLs driven by per-key hit rates.
//
// Keys are namespaced "<tenant>:<resource>:<hash>"; the tenant prefix
// is mandatory and scopes invalidation. Two tenants fetching the same
// upstream resource use distinct keys and therefore never share an
// in-flight fetch.
package cache

import (
	"bytes"
	"container/list"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/edgebridge-io/edgebridge/internal/metrics"
)

var (
	// ErrKeyFormat is returned for keys without a tenant prefix.
	ErrKeyFormat = errors.New("cache: key must be prefixed \"<tenant>:\"")
	// ErrClosed is returned for writes after Close.
	ErrClosed = errors.New("cache: closed")
)

// Defaults applied by New for zero Options fields.
const (
	DefaultMaxEntries           = 10000
	DefaultMaxBytes             = 100 << 20
	DefaultTTL                  = 5 * time.Minute
	DefaultCompressionThreshold = 10240

	// refreshTimeout bounds one background refresh attempt.
	refreshTimeout = 30 * time.Second
	// janitorInterval paces removal of entries that expired unobserved.
	janitorInterval = time.Minute
)

// Options configures a Cache. DefaultOptions returns the standard
// production shape; zero numeric fields fall back to defaults either
// way.
type Options struct {
	MaxEntries           int
	MaxBytes             int64
	DefaultTTL           time.Duration
	Policy               Policy
	Compression          bool
	CompressionThreshold int
	AdaptiveTTL          bool
	Coalescing           bool
	SnapshotPath         string // empty disables persistence
}

// DefaultOptions is the configuration the service ships with.
func DefaultOptions() Options {
	return Options{
		MaxEntries:           DefaultMaxEntries,
		MaxBytes:             DefaultMaxBytes,
		DefaultTTL:           DefaultTTL,
		Policy:               PolicyLRU,
		CompressionThreshold: DefaultCompressionThreshold,
		AdaptiveTTL:          true,
		Coalescing:           true,
	}
}

// FetchFunc loads a value on a cache miss or background refresh.
type FetchFunc func(ctx context.Context) ([]byte, error)

// RefreshSpec shapes one GetWithRefresh call.
type RefreshSpec struct {
	TTL     time.Duration // hard TTL; zero means the cache default
	SoftTTL time.Duration // zero derives from RefreshThreshold
	// RefreshThreshold is the fraction of the hard TTL after which a
	// hit also schedules a background refresh. Zero means 0.75.
	RefreshThreshold float64
}

func (r RefreshSpec) soft(hard time.Duration) time.Duration {
	if r.SoftTTL > 0 {
		if r.SoftTTL > hard {
			return hard
		}
		return r.SoftTTL
	}
	th := r.RefreshThreshold
	if th <= 0 || th >= 1 {
		th = 0.75
	}
	return time.Duration(float64(hard) * th)
}

// Cache is the smart cache. All methods are safe for concurrent use.
// The structural lock is never held while fetch functions run.
type Cache struct {
	opts Options

	mu       sync.Mutex
	items    map[string]*entry
	order    *list.List // front = most recently used / inserted
	bytes    int64
	adaptive map[string]*keyStats
	closed   bool

	flight     singleflight.Group
	refreshing map[string]bool

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64
	refreshes atomic.Int64
	coalesced atomic.Int64

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stop    chan struct{}
}

// New builds a Cache and, when persistence is configured, loads the
// snapshot at the path. A corrupt snapshot is discarded with a warning.
func New(opts Options) (*Cache, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.CompressionThreshold <= 0 {
		opts.CompressionThreshold = DefaultCompressionThreshold
	}
	policy, err := ParsePolicy(string(opts.Policy))
	if err != nil {
		return nil, err
	}
	opts.Policy = policy

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		opts:       opts,
		items:      make(map[string]*entry),
		order:      list.New(),
		adaptive:   make(map[string]*keyStats),
		refreshing: make(map[string]bool),
		baseCtx:    ctx,
		cancel:     cancel,
		stop:       make(chan struct{}),
	}

	if opts.SnapshotPath != "" {
		n, err := c.loadSnapshot(opts.SnapshotPath)
		if err != nil {
			log.Warn().Str("path", opts.SnapshotPath).Err(err).
				Msg("cache snapshot unreadable; starting empty")
		} else if n > 0 {
			log.Info().Str("path", opts.SnapshotPath).Int("entries", n).
				Msg("cache snapshot loaded")
		}
	}

	c.wg.Add(1)
	go c.janitor()
	return c, nil
}

// Get returns the value iff the key exists within its hard TTL.
// Malformed keys miss.
func (c *Cache) Get(key string) ([]byte, bool) {
	if _, ok := splitTenant(key); !ok {
		return nil, false
	}
	now := time.Now()

	c.mu.Lock()
	e, ok := c.items[key]
	if !ok || !now.Before(e.hardAt) {
		if ok {
			c.removeLocked(e)
			c.expired.Add(1)
		}
		c.noteMissLocked(key, now)
		c.mu.Unlock()
		c.misses.Add(1)
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return nil, false
	}
	e.hits++
	if c.opts.Policy == PolicyLRU {
		c.order.MoveToFront(e.elem)
	}
	data, compressed := e.data, e.compressed
	c.noteHitLocked(key, now)
	c.mu.Unlock()

	c.hits.Add(1)
	metrics.CacheRequests.WithLabelValues("hit").Inc()

	value, err := decode(data, compressed)
	if err != nil {
		log.Error().Str("key", key).Err(err).Msg("cached value undecodable; dropping")
		c.Invalidate(key)
		return nil, false
	}
	return value, true
}

// Set stores the value under the key. Zero hardTTL means the cache
// default; softTTL caps at hardTTL. Adaptive TTL scales both.
func (c *Cache) Set(key string, value []byte, hardTTL, softTTL time.Duration) error {
	if _, ok := splitTenant(key); !ok {
		return ErrKeyFormat
	}
	if hardTTL <= 0 {
		hardTTL = c.opts.DefaultTTL
	}
	if softTTL < 0 || softTTL > hardTTL {
		softTTL = hardTTL
	}

	data, compressed := c.encode(value)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.storeLocked(key, data, compressed, now, hardTTL, softTTL)
	return nil
}

// storeLocked inserts or replaces the entry and restores the cap
// invariants. A replacement that changes the bytes counts as a change
// for adaptive TTL.
func (c *Cache) storeLocked(key string, data []byte, compressed bool, now time.Time, hardTTL, softTTL time.Duration) {
	if factor := c.ttlFactorLocked(key, now); factor != 1.0 {
		hardTTL = time.Duration(float64(hardTTL) * factor)
		if softTTL > 0 {
			softTTL = time.Duration(float64(softTTL) * factor)
		}
	}

	e, ok := c.items[key]
	if ok {
		if !bytes.Equal(e.data, data) {
			c.noteChangeLocked(key, now)
		}
		c.bytes -= e.size()
		e.data, e.compressed = data, compressed
		c.order.MoveToFront(e.elem)
	} else {
		e = &entry{key: key}
		e.data, e.compressed = data, compressed
		e.elem = c.order.PushFront(e)
		c.items[key] = e
	}
	e.storedAt = now
	e.hardAt = now.Add(hardTTL)
	e.softAt = time.Time{}
	if softTTL > 0 && softTTL < hardTTL {
		e.softAt = now.Add(softTTL)
	}
	e.hits = 0
	c.bytes += e.size()

	c.evictLocked(e)
	c.pruneStatsLocked()
	c.gaugesLocked()
}

// GetWithRefresh is the read-through primitive. Within the soft TTL it
// serves the cached value. Past the soft TTL but within the hard TTL it
// serves the cached value and kicks off one background refresh. On a
// miss it coalesces concurrent callers onto a single fetch; a fetch
// failure is propagated to every waiter and never cached.
func (c *Cache) GetWithRefresh(ctx context.Context, key string, spec RefreshSpec, fetch FetchFunc) ([]byte, error) {
	if _, ok := splitTenant(key); !ok {
		return nil, ErrKeyFormat
	}
	now := time.Now()

	c.mu.Lock()
	e, ok := c.items[key]
	if ok && now.Before(e.hardAt) {
		e.hits++
		if c.opts.Policy == PolicyLRU {
			c.order.MoveToFront(e.elem)
		}
		data, compressed := e.data, e.compressed
		stale := !e.softAt.IsZero() && !now.Before(e.softAt)
		launch := stale && !c.refreshing[key] && !c.closed
		if launch {
			c.refreshing[key] = true
		}
		c.noteHitLocked(key, now)
		c.mu.Unlock()

		c.hits.Add(1)
		if stale {
			metrics.CacheRequests.WithLabelValues("stale").Inc()
		} else {
			metrics.CacheRequests.WithLabelValues("hit").Inc()
		}
		if launch {
			c.wg.Add(1)
			go c.refresh(key, spec, fetch)
		}
		return decode(data, compressed)
	}
	if ok {
		c.removeLocked(e)
		c.expired.Add(1)
	}
	c.noteMissLocked(key, now)
	c.mu.Unlock()

	c.misses.Add(1)
	metrics.CacheRequests.WithLabelValues("miss").Inc()

	if !c.opts.Coalescing {
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return value, c.setFetched(key, value, spec)
	}

	v, err, shared := c.flight.Do(key, func() (any, error) {
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return value, c.setFetched(key, value, spec)
	})
	if shared {
		c.coalesced.Add(1)
	}
	if err != nil {
		return nil, err
	}
	value := v.([]byte)
	return append([]byte(nil), value...), nil
}

func (c *Cache) setFetched(key string, value []byte, spec RefreshSpec) error {
	hard := spec.TTL
	if hard <= 0 {
		hard = c.opts.DefaultTTL
	}
	err := c.Set(key, value, hard, spec.soft(hard))
	if errors.Is(err, ErrClosed) {
		// A fetch that races shutdown still returns its value.
		return nil
	}
	return err
}

// refresh replaces a soft-stale entry in the background. It runs on the
// cache's own context: a caller's cancellation never aborts it, and a
// failure leaves the stale entry in place.
func (c *Cache) refresh(key string, spec RefreshSpec, fetch FetchFunc) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		delete(c.refreshing, key)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(c.baseCtx, refreshTimeout)
	defer cancel()

	value, err := fetch(ctx)
	if err != nil {
		metrics.CacheRefreshes.WithLabelValues("error").Inc()
		log.Debug().Str("key", key).Err(err).Msg("background refresh failed; serving stale until hard TTL")
		return
	}
	if err := c.setFetched(key, value, spec); err != nil {
		metrics.CacheRefreshes.WithLabelValues("error").Inc()
		return
	}
	c.refreshes.Add(1)
	metrics.CacheRefreshes.WithLabelValues("ok").Inc()
}

// Invalidate deletes the exact key, or every key under a prefix when
// the pattern ends in '*'. It returns the number of entries removed.
func (c *Cache) Invalidate(pattern string) int {
	prefix, wildcard := strings.CutSuffix(pattern, "*")

	c.mu.Lock()
	defer c.mu.Unlock()
	if !wildcard {
		if e, ok := c.items[pattern]; ok {
			c.removeLocked(e)
			c.gaugesLocked()
			return 1
		}
		return 0
	}
	n := 0
	for key, e := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.removeLocked(e)
			n++
		}
	}
	if n > 0 {
		c.gaugesLocked()
	}
	return n
}

// ScanAndDelete matches like Invalidate but deletes in batches so the
// lock is not held across a large namespace.
func (c *Cache) ScanAndDelete(pattern string) int {
	prefix, wildcard := strings.CutSuffix(pattern, "*")
	if !wildcard {
		return c.Invalidate(pattern)
	}

	c.mu.Lock()
	keys := make([]string, 0, 64)
	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	c.mu.Unlock()

	const chunk = 256
	n := 0
	for start := 0; start < len(keys); start += chunk {
		end := start + chunk
		if end > len(keys) {
			end = len(keys)
		}
		c.mu.Lock()
		for _, key := range keys[start:end] {
			if e, ok := c.items[key]; ok {
				c.removeLocked(e)
				n++
			}
		}
		c.gaugesLocked()
		c.mu.Unlock()
	}
	return n
}

// FlushTenant removes every entry under the tenant's prefix. Credential
// rotation calls this so no response from the old credentials survives.
func (c *Cache) FlushTenant(tenant string) int {
	return c.Invalidate(tenant + ":*")
}

// TenantUsage reports the live entry count and stored bytes under one
// tenant prefix.
func (c *Cache) TenantUsage(tenant string) (entries int, size int64) {
	prefix := tenant + ":"
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.items {
		if strings.HasPrefix(key, prefix) {
			entries++
			size += e.size()
		}
	}
	return entries, size
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Entries    int     `json:"entries"`
	Bytes      int64   `json:"bytes"`
	MaxEntries int     `json:"maxEntries"`
	MaxBytes   int64   `json:"maxBytes"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hitRate"`
	Evictions  int64   `json:"evictions"`
	Expired    int64   `json:"expired"`
	Refreshes  int64   `json:"refreshes"`
	Coalesced  int64   `json:"coalesced"`
	Policy     string  `json:"policy"`
	Compressed bool    `json:"compressionEnabled"`
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	entries, size := len(c.items), c.bytes
	c.mu.Unlock()

	hits, misses := c.hits.Load(), c.misses.Load()
	s := Stats{
		Entries:    entries,
		Bytes:      size,
		MaxEntries: c.opts.MaxEntries,
		MaxBytes:   c.opts.MaxBytes,
		Hits:       hits,
		Misses:     misses,
		Evictions:  c.evictions.Load(),
		Expired:    c.expired.Load(),
		Refreshes:  c.refreshes.Load(),
		Coalesced:  c.coalesced.Load(),
		Policy:     string(c.opts.Policy),
		Compressed: c.opts.Compression,
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

// Close stops background work, waits for in-flight refreshes, and when
// persistence is configured writes the snapshot. Idempotent.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stop)
	c.cancel()
	c.wg.Wait()

	if c.opts.SnapshotPath != "" {
		return c.SaveSnapshot(c.opts.SnapshotPath)
	}
	return nil
}

// removeLocked unlinks the entry from the map, order list, and byte
// accounting.
func (c *Cache) removeLocked(e *entry) {
	delete(c.items, e.key)
	c.order.Remove(e.elem)
	c.bytes -= e.size()
}

func (c *Cache) gaugesLocked() {
	metrics.CacheEntries.Set(float64(len(c.items)))
	metrics.CacheBytes.Set(float64(c.bytes))
}

// janitor sweeps entries that expired without being read, so idle keys
// do not hold the caps.
func (c *Cache) janitor() {
	defer c.wg.Done()
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}

		now := time.Now()
		c.mu.Lock()
		removed := 0
		for _, e := range c.items {
			if !now.Before(e.hardAt) {
				c.removeLocked(e)
				removed++
			}
		}
		if removed > 0 {
			c.expired.Add(int64(removed))
			c.gaugesLocked()
		}
		c.mu.Unlock()
	}
}
