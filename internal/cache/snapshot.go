package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// snapshotEntry is the on-disk form of one cache entry. Data keeps the
// stored (possibly compressed) bytes.
type snapshotEntry struct {
	Key        string    `json:"key"`
	Data       []byte    `json:"data"`
	Compressed bool      `json:"compressed,omitempty"`
	StoredAt   time.Time `json:"storedAt"`
	SoftAt     time.Time `json:"softExpiresAt"`
	HardAt     time.Time `json:"hardExpiresAt"`
	Hits       int64     `json:"hits"`
}

// SaveSnapshot writes every entry with remaining hard TTL to the path,
// atomically via temp file + rename.
func (c *Cache) SaveSnapshot(path string) error {
	now := time.Now()

	c.mu.Lock()
	entries := make([]snapshotEntry, 0, len(c.items))
	for _, e := range c.items {
		if !now.Before(e.hardAt) {
			continue
		}
		entries = append(entries, snapshotEntry{
			Key:        e.key,
			Data:       e.data,
			Compressed: e.compressed,
			StoredAt:   e.storedAt,
			SoftAt:     e.softAt,
			HardAt:     e.hardAt,
			Hits:       e.hits,
		})
	}
	c.mu.Unlock()

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding cache snapshot: %w", err)
	}
	if err := writeFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("writing cache snapshot: %w", err)
	}
	return nil
}

// loadSnapshot restores entries from the path, discarding any past
// their hard TTL. A missing file is not an error.
func (c *Cache) loadSnapshot(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var entries []snapshotEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, fmt.Errorf("decoding cache snapshot: %w", err)
	}

	now := time.Now()
	loaded := 0

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, se := range entries {
		if !now.Before(se.HardAt) {
			continue
		}
		if _, ok := splitTenant(se.Key); !ok {
			continue
		}
		if _, dup := c.items[se.Key]; dup {
			continue
		}
		e := &entry{
			key:        se.Key,
			data:       se.Data,
			compressed: se.Compressed,
			storedAt:   se.StoredAt,
			softAt:     se.SoftAt,
			hardAt:     se.HardAt,
			hits:       se.Hits,
		}
		e.elem = c.order.PushFront(e)
		c.items[se.Key] = e
		c.bytes += e.size()
		loaded++
	}
	c.evictLocked(nil)
	c.gaugesLocked()
	return loaded, nil
}

// writeFileAtomic writes via a temp file in the target directory and
// renames it over the destination.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
