package cache

import (
	"fmt"
	"strings"

	"github.com/edgebridge-io/edgebridge/internal/metrics"
)

// Policy selects the eviction order once the cache is over its entry
// or byte cap.
type Policy string

const (
	PolicyLRU  Policy = "LRU"
	PolicyLFU  Policy = "LFU"
	PolicyFIFO Policy = "FIFO"
)

// ParsePolicy reads a policy name case-insensitively. Empty input means
// the default policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(PolicyLRU):
		return PolicyLRU, nil
	case string(PolicyLFU):
		return PolicyLFU, nil
	case string(PolicyFIFO):
		return PolicyFIFO, nil
	default:
		return "", fmt.Errorf("unknown eviction policy %q", s)
	}
}

// victimLocked picks the next entry to evict, never the one being
// stored. LRU and FIFO both take the back of the order list; LRU moves
// entries to the front on access while FIFO leaves them in insertion
// order. LFU scans for the coldest entry.
func (c *Cache) victimLocked(except *entry) *entry {
	if c.opts.Policy == PolicyLFU {
		var victim *entry
		for _, e := range c.items {
			if e == except {
				continue
			}
			if victim == nil || e.hits < victim.hits ||
				(e.hits == victim.hits && e.storedAt.Before(victim.storedAt)) {
				victim = e
			}
		}
		return victim
	}
	for el := c.order.Back(); el != nil; el = el.Prev() {
		if e := el.Value.(*entry); e != except {
			return e
		}
	}
	return nil
}

// evictLocked brings the cache back under its caps. A single entry
// larger than the byte cap is allowed to stand alone rather than evict
// itself.
func (c *Cache) evictLocked(except *entry) {
	for len(c.items) > c.opts.MaxEntries || c.bytes > c.opts.MaxBytes {
		victim := c.victimLocked(except)
		if victim == nil {
			return
		}
		c.removeLocked(victim)
		c.evictions.Add(1)
		metrics.CacheEvictions.WithLabelValues(string(c.opts.Policy)).Inc()
	}
}
