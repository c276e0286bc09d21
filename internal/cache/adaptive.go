package cache

import "time"

// Adaptive TTL bounds. The effective TTL of a key is the requested TTL
// times a per-key factor that grows for keys that keep hitting and
// shrinks for keys whose refetched values keep changing.
const (
	adaptiveWindow     = time.Minute
	adaptiveMinSamples = 4

	minTTLFactor = 0.5
	maxTTLFactor = 2.0
	highHitRate  = 0.8
	lowHitRate   = 0.2
	growStep     = 1.25
	shrinkStep   = 0.8
)

// keyStats is the rolling per-key access window. Guarded by the cache
// lock; it outlives the entry itself so expiry does not reset learning.
type keyStats struct {
	windowStart time.Time
	hits        int
	misses      int
	changes     int
	factor      float64
}

// roll folds a finished window into the factor and starts a new one.
func (s *keyStats) roll(now time.Time) {
	if now.Sub(s.windowStart) < adaptiveWindow {
		return
	}
	if total := s.hits + s.misses; total >= adaptiveMinSamples {
		rate := float64(s.hits) / float64(total)
		switch {
		case s.changes*2 >= total || rate <= lowHitRate:
			s.factor = max(minTTLFactor, s.factor*shrinkStep)
		case rate >= highHitRate && s.changes == 0:
			s.factor = min(maxTTLFactor, s.factor*growStep)
		}
	}
	s.hits, s.misses, s.changes = 0, 0, 0
	s.windowStart = now
}

// statsFor returns the rolled stats for a key, or nil when adaptive TTL
// is off. Callers hold the cache lock.
func (c *Cache) statsFor(key string, now time.Time) *keyStats {
	if !c.opts.AdaptiveTTL {
		return nil
	}
	s, ok := c.adaptive[key]
	if !ok {
		s = &keyStats{windowStart: now, factor: 1.0}
		c.adaptive[key] = s
	}
	s.roll(now)
	return s
}

func (c *Cache) noteHitLocked(key string, now time.Time) {
	if s := c.statsFor(key, now); s != nil {
		s.hits++
	}
}

func (c *Cache) noteMissLocked(key string, now time.Time) {
	if s := c.statsFor(key, now); s != nil {
		s.misses++
	}
}

func (c *Cache) noteChangeLocked(key string, now time.Time) {
	if s := c.statsFor(key, now); s != nil {
		s.changes++
	}
}

func (c *Cache) ttlFactorLocked(key string, now time.Time) float64 {
	if s := c.statsFor(key, now); s != nil {
		return s.factor
	}
	return 1.0
}

// pruneStatsLocked drops learning state for keys no longer cached once
// the stats map outgrows twice the entry cap.
func (c *Cache) pruneStatsLocked() {
	if len(c.adaptive) <= 2*c.opts.MaxEntries {
		return
	}
	for key := range c.adaptive {
		if _, live := c.items[key]; !live {
			delete(c.adaptive, key)
		}
	}
}
