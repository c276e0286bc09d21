package creds

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// SecureStore keeps bundles AES-256-GCM encrypted in memory and
// decrypts on access. The 32-byte key is derived from the operator's
// master key by SHA-256, so any length of master key works. Reseal
// re-encrypts every bundle under fresh nonces; wiring it to a schedule
// is the operator's choice.
type SecureStore struct {
	key [32]byte

	mu     sync.RWMutex
	sealed map[string][]byte // nonce || ciphertext
}

// NewSecureStore creates an empty store keyed by the master key.
func NewSecureStore(masterKey []byte) (*SecureStore, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("empty master key")
	}
	return &SecureStore{
		key:    sha256.Sum256(masterKey),
		sealed: make(map[string][]byte),
	}, nil
}

// SealFrom encrypts every bundle of the source store. Used at startup
// to wrap the INI store when CREDENTIAL_MASTER_KEY is configured.
func (s *SecureStore) SealFrom(src Store) error {
	for _, tenant := range src.List() {
		b, err := src.Get(tenant)
		if err != nil {
			return err
		}
		if err := s.Swap(tenant, b); err != nil {
			return err
		}
	}
	return nil
}

// Get decrypts and returns the tenant's bundle.
func (s *SecureStore) Get(tenant string) (*Bundle, error) {
	s.mu.RLock()
	blob, ok := s.sealed[tenant]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tenant %q: %w", tenant, ErrNotFound)
	}

	plain, err := s.open(blob)
	if err != nil {
		return nil, fmt.Errorf("tenant %q: %w", tenant, ErrDecrypt)
	}
	var b Bundle
	if err := json.Unmarshal(plain, &b); err != nil {
		return nil, fmt.Errorf("tenant %q: %w", tenant, ErrDecrypt)
	}
	return &b, nil
}

// List returns the known tenant ids, sorted.
func (s *SecureStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenants := make([]string, 0, len(s.sealed))
	for tenant := range s.sealed {
		tenants = append(tenants, tenant)
	}
	sort.Strings(tenants)
	return tenants
}

// Swap encrypts and stores the bundle, replacing any previous one.
func (s *SecureStore) Swap(tenant string, b *Bundle) error {
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

	plain, err := json.Marshal(b)
	if err != nil {
		return err
	}
	blob, err := s.seal(plain)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sealed[tenant] = blob
	s.mu.Unlock()
	return nil
}

// Reseal re-encrypts every bundle under a fresh nonce. Bundles that no
// longer authenticate are dropped and counted; the caller decides what
// to do about the loss.
func (s *SecureStore) Reseal() (resealed, dropped int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for tenant, blob := range s.sealed {
		plain, openErr := s.open(blob)
		if openErr != nil {
			delete(s.sealed, tenant)
			dropped++
			log.Error().Str("tenant", tenant).Msg("dropping bundle that failed authentication during reseal")
			continue
		}
		fresh, sealErr := s.seal(plain)
		if sealErr != nil {
			return resealed, dropped, sealErr
		}
		s.sealed[tenant] = fresh
		resealed++
	}
	return resealed, dropped, nil
}

func (s *SecureStore) seal(plain []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func (s *SecureStore) open(blob []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	if len(blob) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed blob too short")
	}
	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (s *SecureStore) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
