package cache

import (
	"bytes"
	"container/list"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// entry is one cached value in its stored form. All fields are guarded
// by the cache lock.
type entry struct {
	key        string
	data       []byte // compressed when the flag is set
	compressed bool
	storedAt   time.Time
	softAt     time.Time // zero means no background-refresh window
	hardAt     time.Time
	hits       int64
	elem       *list.Element
}

func (e *entry) size() int64 {
	return int64(len(e.data))
}

// splitTenant validates the "<tenant>:rest" key shape and returns the
// tenant prefix.
func splitTenant(key string) (string, bool) {
	i := strings.IndexByte(key, ':')
	if i <= 0 || i == len(key)-1 {
		return "", false
	}
	return key[:i], true
}

// encode copies the value into its stored form, gzip-compressing when
// enabled and the value clears the threshold. Values that do not shrink
// stay raw.
func (c *Cache) encode(value []byte) (data []byte, compressed bool) {
	if c.opts.Compression && len(value) >= c.opts.CompressionThreshold {
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(value); err == nil && w.Close() == nil && buf.Len() < len(value) {
			return buf.Bytes(), true
		}
	}
	return append([]byte(nil), value...), false
}

// decode returns a caller-owned copy of the value.
func decode(data []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return append([]byte(nil), data...), nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
