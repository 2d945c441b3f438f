package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for deriving the store key from the master passphrase.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	keyLen       = 32
	saltLen      = 16
)

// ErrNotFound is returned when a credential reference does not exist.
var ErrNotFound = errors.New("credential not found")

// Summary describes a stored credential without any sensitive material.
type Summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// entry is one encrypted credential on disk.
type entry struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Username  string    `json:"username"`
	Nonce     string    `json:"nonce"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

type storeFile struct {
	Salt    string  `json:"salt"`
	Entries []entry `json:"entries"`
}

// payload is the plaintext secret material, encrypted as a whole.
type payload struct {
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

// FileStore keeps credentials in a single JSON file. Each entry's secret
// material is sealed with AES-256-GCM under a key derived from the master
// passphrase with Argon2id and a per-store salt.
type FileStore struct {
	path string
	key  []byte

	mu      sync.Mutex
	salt    []byte
	entries map[string]entry
}

var _ Resolver = (*FileStore)(nil)

// OpenFile loads (or creates) the credential store at path, deriving the
// encryption key from passphrase.
func OpenFile(path, passphrase string) (*FileStore, error) {
	if passphrase == "" {
		return nil, errors.New("credential store passphrase is empty")
	}

	s := &FileStore{path: path, entries: make(map[string]entry)}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.salt = make([]byte, saltLen)
		if _, err := rand.Read(s.salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("read credential store: %w", err)
	default:
		var f storeFile
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("parse credential store: %w", err)
		}
		s.salt, err = base64.StdEncoding.DecodeString(f.Salt)
		if err != nil {
			return nil, fmt.Errorf("decode store salt: %w", err)
		}
		for _, e := range f.Entries {
			s.entries[e.ID] = e
		}
	}

	s.key = argon2.IDKey([]byte(passphrase), s.salt, argonTime, argonMemory, argonThreads, keyLen)

	if errors.Is(err, os.ErrNotExist) {
		if err := s.flushLocked(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add seals a new credential and returns its ID. The caller keeps ownership
// of sec and should wipe it; Add does not retain plaintext.
func (s *FileStore) Add(name string, sec *Secret) (string, error) {
	if name == "" {
		return "", errors.New("credential name is required")
	}
	if sec == nil || (len(sec.Password) == 0 && len(sec.PrivateKey) == 0) {
		return "", errors.New("credential has no secret material")
	}

	plain, err := json.Marshal(payload{
		Password:   string(sec.Password),
		PrivateKey: string(sec.PrivateKey),
		Passphrase: string(sec.Passphrase),
	})
	if err != nil {
		return "", fmt.Errorf("encode credential payload: %w", err)
	}
	defer zero(plain)

	nonce, sealed, err := s.seal(plain)
	if err != nil {
		return "", err
	}

	e := entry{
		ID:        uuid.NewString(),
		Name:      name,
		Kind:      sec.Kind,
		Username:  sec.Username,
		Nonce:     base64.StdEncoding.EncodeToString(nonce),
		Payload:   base64.StdEncoding.EncodeToString(sealed),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = e
	if err := s.flushLocked(); err != nil {
		delete(s.entries, e.ID)
		return "", err
	}
	return e.ID, nil
}

// Resolve decrypts the credential with the given ID into a fresh Secret.
// The caller owns the secret and must Wipe it when the probe returns.
func (s *FileStore) Resolve(id string) (*Secret, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	nonce, err := base64.StdEncoding.DecodeString(e.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	plain, err := s.open(nonce, sealed)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential %s: %w", id, err)
	}
	defer zero(plain)

	var p payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, fmt.Errorf("decode credential %s: %w", id, err)
	}

	sec := &Secret{Kind: e.Kind, Username: e.Username}
	if p.Password != "" {
		sec.Password = []byte(p.Password)
	}
	if p.PrivateKey != "" {
		sec.PrivateKey = []byte(p.PrivateKey)
	}
	if p.Passphrase != "" {
		sec.Passphrase = []byte(p.Passphrase)
	}
	return sec, nil
}

// List returns metadata for every stored credential, never secrets.
func (s *FileStore) List() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Summary, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Summary{
			ID:        e.ID,
			Name:      e.Name,
			Kind:      e.Kind,
			Username:  e.Username,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}

// Delete removes a credential from the store.
func (s *FileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.entries, id)
	return s.flushLocked()
}

func (s *FileStore) seal(plain []byte) (nonce, sealed []byte, err error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, gcm.Seal(nil, nonce, plain, nil), nil
}

func (s *FileStore) open(nonce, sealed []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, sealed, nil)
}

func (s *FileStore) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func (s *FileStore) flushLocked() error {
	f := storeFile{Salt: base64.StdEncoding.EncodeToString(s.salt)}
	for _, e := range s.entries {
		f.Entries = append(f.Entries, e)
	}
	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential store: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create credential dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("write credential store: %w", err)
	}
	return nil
}
