package purge

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Queue files live at <dir>/<tenant>.json, one JSON array per tenant.
// Terminal operation records live at <statusDir>/<operation-id>.json.
// Both are written with a temp file and a rename so readers never see
// a torn file.

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

// saveQueueFile writes one tenant's snapshot.
func saveQueueFile(dir, tenant string, ops []*Operation) error {
	data, err := json.MarshalIndent(ops, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding queue for %s: %w", tenant, err)
	}
	return writeFileAtomic(filepath.Join(dir, tenant+".json"), data, 0o600)
}

// loadQueueFiles reads every tenant queue under dir. Unreadable files
// are logged and skipped so one corrupt queue cannot wedge startup.
func loadQueueFiles(dir string) map[string][]*Operation {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("dir", dir).Msg("reading purge queue dir")
		}
		return nil
	}

	queues := make(map[string][]*Operation)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		tenant := strings.TrimSuffix(name, ".json")
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Warn().Err(err).Str("tenant", tenant).Msg("reading purge queue file")
			continue
		}
		var ops []*Operation
		if err := json.Unmarshal(data, &ops); err != nil {
			log.Warn().Err(err).Str("tenant", tenant).Msg("decoding purge queue file")
			continue
		}
		queues[tenant] = ops
	}
	return queues
}

// saveStatusFile records a terminal operation.
func saveStatusFile(dir string, op *Operation) error {
	data, err := json.MarshalIndent(op, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding operation %s: %w", op.ID, err)
	}
	return writeFileAtomic(filepath.Join(dir, op.ID+".json"), data, 0o600)
}

// loadStatusFiles reads terminal operation records, deleting any past
// the retention horizon while scanning.
func loadStatusFiles(dir string, retention time.Duration) map[string]*Operation {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("dir", dir).Msg("reading purge status dir")
		}
		return nil
	}

	cutoff := time.Now().Add(-retention)
	done := make(map[string]*Operation)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("reading purge status file")
			continue
		}
		var op Operation
		if err := json.Unmarshal(data, &op); err != nil {
			log.Warn().Err(err).Str("file", name).Msg("decoding purge status file")
			continue
		}
		if op.EndedAt.Before(cutoff) {
			os.Remove(path)
			continue
		}
		done[op.ID] = &op
	}
	return done
}

// removeStatusFile drops a terminal record from disk.
func removeStatusFile(dir, id string) {
	if err := os.Remove(filepath.Join(dir, id+".json")); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("id", id).Msg("removing purge status file")
	}
}
