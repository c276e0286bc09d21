package creds

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/ini.v1"

	"github.com/edgebridge-io/edgebridge/internal/edgegrid"
)

// FileStore loads credential bundles from an INI file at startup. Each
// section is one tenant; rotation replaces the in-memory bundle only,
// never the file.
type FileStore struct {
	mu    sync.RWMutex
	slots map[string]*slot
}

// slot holds one tenant's bundle behind its own lock so rotation blocks
// only readers of that tenant.
type slot struct {
	mu     sync.RWMutex
	bundle *Bundle
}

// LoadFile parses the INI credential file. Required keys per section:
// client_token, access_token, client_secret, host. Optional:
// account-switch-key, max-body. A file readable by group or world gets a
// warning, not an error.
func LoadFile(path string) (*FileStore, error) {
	warnOnLoosePermissions(path)

	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading credential file %s: %w", path, err)
	}

	store := &FileStore{slots: make(map[string]*slot)}
	for _, section := range f.Sections() {
		name := section.Name()
		if name == ini.DefaultSection {
			continue
		}
		bundle, err := bundleFromSection(name, section)
		if err != nil {
			return nil, fmt.Errorf("section [%s]: %w", name, err)
		}
		store.slots[name] = &slot{bundle: bundle}
	}

	if len(store.slots) == 0 {
		return nil, fmt.Errorf("credential file %s has no tenant sections", path)
	}

	log.Info().Str("path", path).Int("tenants", len(store.slots)).Msg("credential file loaded")
	return store, nil
}

func bundleFromSection(tenant string, section *ini.Section) (*Bundle, error) {
	b := &Bundle{
		Tenant:      tenant,
		Environment: DefaultEnvironment,
		Credentials: edgegrid.Credentials{
			ClientToken:      section.Key("client_token").String(),
			AccessToken:      section.Key("access_token").String(),
			ClientSecret:     section.Key("client_secret").String(),
			Host:             section.Key("host").String(),
			AccountSwitchKey: section.Key("account-switch-key").String(),
		},
		LoadedAt: time.Now(),
	}
	if section.HasKey("max-body") {
		maxBody, err := section.Key("max-body").Int()
		if err != nil {
			return nil, fmt.Errorf("max-body: %w", err)
		}
		b.Credentials.MaxBody = maxBody
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func warnOnLoosePermissions(path string) {
	if runtime.GOOS == "windows" {
		return
	}
	fi, err := os.Stat(path)
	if err != nil {
		return
	}
	if perm := fi.Mode().Perm(); perm&0o077 != 0 {
		log.Warn().Str("path", path).Str("mode", perm.String()).
			Msg("credential file is readable by others; expected owner-only permissions")
	}
}

// Get returns the tenant's current bundle.
func (s *FileStore) Get(tenant string) (*Bundle, error) {
	s.mu.RLock()
	sl, ok := s.slots[tenant]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tenant %q: %w", tenant, ErrNotFound)
	}

	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return sl.bundle, nil
}

// List returns the known tenant ids, sorted.
func (s *FileStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenants := make([]string, 0, len(s.slots))
	for tenant := range s.slots {
		tenants = append(tenants, tenant)
	}
	sort.Strings(tenants)
	return tenants
}

// Swap atomically replaces the tenant's bundle. New tenants may be
// introduced by rotation.
func (s *FileStore) Swap(tenant string, b *Bundle) error {
	if b == nil {
		return fmt.Errorf("tenant %q: nil bundle", tenant)
	}
	b.Tenant = tenant
	if b.Environment == "" {
		b.Environment = DefaultEnvironment
	}
	if err := b.Validate(); err != nil {
		return err
	}
	b.LoadedAt = time.Now()

	s.mu.Lock()
	sl, ok := s.slots[tenant]
	if !ok {
		sl = &slot{}
		s.slots[tenant] = sl
	}
	s.mu.Unlock()

	sl.mu.Lock()
	sl.bundle = b
	sl.mu.Unlock()
	return nil
}
