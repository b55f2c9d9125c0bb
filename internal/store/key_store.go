package store

import (
	"path/filepath"
	"sync"

	"satwallet/internal/domain"
)

const keyFilename = "wallet.json.enc"

// KeyFileStore persists the encrypted wallet record to disk. The record's
// Cipher field is the only place private keys exist at rest.
type KeyFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewKeyFileStore returns a KeyFileStore rooted at dir.
func NewKeyFileStore(dir string) *KeyFileStore {
	return &KeyFileStore{dir: dir}
}

// SaveKeys writes rec atomically with owner-only permissions.
func (s *KeyFileStore) SaveKeys(rec domain.KeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return writeJSON(filepath.Join(s.dir, keyFilename), rec, 0o600)
}

// LoadKeys reads the wallet record. ok is false when no wallet exists.
func (s *KeyFileStore) LoadKeys() (domain.KeyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec domain.KeyRecord
	found, err := readJSON(filepath.Join(s.dir, keyFilename), &rec)
	if err != nil || !found {
		return domain.KeyRecord{}, false, err
	}
	return rec, true, nil
}

// DeleteKeys overwrites and removes the wallet record.
func (s *KeyFileStore) DeleteKeys() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return wipeFile(filepath.Join(s.dir, keyFilename))
}

// Compile-time assertion that KeyFileStore implements domain.KeyStore.
var _ domain.KeyStore = (*KeyFileStore)(nil)
