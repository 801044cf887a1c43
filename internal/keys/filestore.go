package keys

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/gnostr-org/signerd/common"
	"github.com/gnostr-org/signerd/internal/securemem"
	"github.com/gnostr-org/signerd/internal/types"
)

type keyRecord struct {
	Identity     types.PublicKey `json:"identity"`
	EncryptedKey string          `json:"encrypted_key,omitempty"`
	WatchOnly    bool            `json:"watch_only"`
}

// FileSecretStore keeps private keys encrypted at rest in a single JSON
// file. Key material is AES-CBC encrypted under the store passphrase and
// only decrypted into securemem buffers.
type FileSecretStore struct {
	mu         sync.Mutex
	path       string
	passphrase string
	records    map[types.PublicKey]*keyRecord
	logger     *logrus.Logger
}

var _ SecretStore = (*FileSecretStore)(nil)

// NewFileSecretStore opens or creates the store at path.
func NewFileSecretStore(path, passphrase string) (*FileSecretStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: secret store path is empty", types.ErrInvalidConfig)
	}
	s := &FileSecretStore{
		path:       path,
		passphrase: passphrase,
		records:    make(map[types.PublicKey]*keyRecord),
		logger:     logrus.WithField("module", "keys").Logger,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSecretStore) load() error {
	buf, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fail to read secret store: %w", err)
	}
	var records []*keyRecord
	if err := json.Unmarshal(buf, &records); err != nil {
		return fmt.Errorf("fail to parse secret store: %w", err)
	}
	for _, rec := range records {
		s.records[rec.Identity] = rec
	}
	return nil
}

func (s *FileSecretStore) saveLocked() error {
	records := make([]*keyRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	buf, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("fail to serialize secret store: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("fail to create secret store dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, buf, 0o600); err != nil {
		return fmt.Errorf("fail to write secret store: %w", err)
	}
	return nil
}

// LookupKey decrypts the key for identity into a caller-owned buffer.
func (s *FileSecretStore) LookupKey(identity types.PublicKey) (*securemem.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[identity]
	if !ok {
		return nil, fmt.Errorf("%w: no key for identity %s", types.ErrNotFound, identity)
	}
	if rec.WatchOnly || rec.EncryptedKey == "" {
		return nil, fmt.Errorf("%w: identity %s", types.ErrWatchOnly, identity)
	}

	keyHex, err := common.Decrypt(s.passphrase, rec.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("fail to decrypt key record: %w", err)
	}
	raw, err := hex.DecodeString(keyHex)
	securemem.Clear([]byte(keyHex))
	if err != nil {
		return nil, fmt.Errorf("fail to decode key record: %w", err)
	}

	buf, err := securemem.Alloc(len(raw))
	if err != nil {
		securemem.Clear(raw)
		return nil, err
	}
	copy(buf.Bytes(), raw)
	securemem.Clear(raw)
	return buf, nil
}

// StoreKey encrypts and persists key material for identity, consuming the
// buffer. A nil buffer registers identity as watch-only.
func (s *FileSecretStore) StoreKey(identity types.PublicKey, priv *securemem.Buffer) error {
	if err := identity.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &keyRecord{Identity: identity}
	if priv == nil {
		rec.WatchOnly = true
	} else {
		defer priv.Free()
		keyHex := hex.EncodeToString(priv.Bytes())
		encrypted, err := common.Encrypt(s.passphrase, keyHex)
		securemem.Clear([]byte(keyHex))
		if err != nil {
			return fmt.Errorf("fail to encrypt key record: %w", err)
		}
		rec.EncryptedKey = encrypted
	}

	s.records[identity] = rec
	if err := s.saveLocked(); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"identity":   identity,
		"watch_only": rec.WatchOnly,
	}).Info("key record stored")
	return nil
}

// DeleteKey removes the record for identity.
func (s *FileSecretStore) DeleteKey(identity types.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[identity]; !ok {
		return fmt.Errorf("%w: no key for identity %s", types.ErrNotFound, identity)
	}
	delete(s.records, identity)
	return s.saveLocked()
}

// IsWatchOnly reports whether identity has no usable private key. Unknown
// identities count as watch-only.
func (s *FileSecretStore) IsWatchOnly(identity types.PublicKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[identity]
	return !ok || rec.WatchOnly || rec.EncryptedKey == ""
}

// Identities lists every identity in the store.
func (s *FileSecretStore) Identities() []types.PublicKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.PublicKey, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	return out
}
