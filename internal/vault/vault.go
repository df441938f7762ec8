// Package vault is a passphrase-protected local store for deployment secrets.
// Values are sealed with AES-256-GCM under a master key derived from the
// passphrase via Argon2id. Configuration files reference entries by key when
// the vault decryption backend is selected.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	FileName = "kcconfig.vault"

	formatVersion = 1

	// Argon2id: m=64MB, t=3, p=4
	argonMemory  = 64 * 1024
	argonTime    = 3
	argonThreads = 4
	argonKeyLen  = 32

	saltLen  = 32
	nonceLen = 12

	// checkKey seals a constant so a wrong passphrase is caught on Open even
	// when the vault holds no entries yet.
	checkKey   = "\x00check"
	checkValue = "kcconfig"
)

// ErrNotFound is returned by Get and Delete for unknown keys.
var ErrNotFound = errors.New("vault key not found")

// ErrBadPassphrase is returned by Open when the passphrase does not unlock the vault.
var ErrBadPassphrase = errors.New("incorrect passphrase or corrupted vault")

type sealed struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

type file struct {
	Version int                `json:"version"`
	Salt    []byte             `json:"salt"`
	Check   *sealed            `json:"check"`
	Entries map[string]*sealed `json:"entries"`
}

// Vault holds decrypted access to a vault file. Entries stay sealed in memory
// and are opened on Get.
type Vault struct {
	mu      sync.RWMutex
	aead    cipher.AEAD
	key     []byte
	salt    []byte
	check   *sealed
	entries map[string]*sealed
	path    string
	dirty   bool
}

// DeriveKey derives the 256-bit master key from passphrase and salt.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

func newVault(path, passphrase string, salt []byte) (*Vault, error) {
	key := DeriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &Vault{
		aead:    aead,
		key:     key,
		salt:    salt,
		entries: make(map[string]*sealed),
		path:    path,
	}, nil
}

// Create initializes a new vault. An empty path gives a memory-only vault.
// Create refuses to overwrite an existing file.
func Create(path, passphrase string) (*Vault, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("vault %s already exists", path)
		}
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	v, err := newVault(path, passphrase, salt)
	if err != nil {
		return nil, err
	}
	check, err := v.seal(checkKey, []byte(checkValue))
	if err != nil {
		return nil, err
	}
	v.check = check
	v.dirty = true

	if err := v.flush(); err != nil {
		return nil, err
	}
	return v, nil
}

// Open loads and unlocks an existing vault file.
func Open(path, passphrase string) (*Vault, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vault file: %w", err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing vault file: %w", err)
	}
	if f.Version != formatVersion {
		return nil, fmt.Errorf("unsupported vault version %d", f.Version)
	}
	if f.Check == nil {
		return nil, ErrBadPassphrase
	}

	v, err := newVault(path, passphrase, f.Salt)
	if err != nil {
		return nil, err
	}
	if plain, err := v.unseal(checkKey, f.Check); err != nil || string(plain) != checkValue {
		v.wipe()
		return nil, ErrBadPassphrase
	}
	v.check = f.Check
	if f.Entries != nil {
		v.entries = f.Entries
	}
	return v, nil
}

// CreateMemoryOnly returns a vault that is never written to disk.
func CreateMemoryOnly(passphrase string) (*Vault, error) {
	return Create("", passphrase)
}

func (v *Vault) seal(key string, plaintext []byte) (*sealed, error) {
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	// The key is bound as additional data so entries cannot be swapped.
	return &sealed{Nonce: nonce, Ciphertext: v.aead.Seal(nil, nonce, plaintext, []byte(key))}, nil
}

func (v *Vault) unseal(key string, s *sealed) ([]byte, error) {
	plain, err := v.aead.Open(nil, s.Nonce, s.Ciphertext, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("decrypting vault entry %s: %w", key, err)
	}
	return plain, nil
}

// Put seals plaintext under key, replacing any previous value.
func (v *Vault) Put(key string, plaintext []byte) error {
	if key == "" || key == checkKey {
		return fmt.Errorf("invalid vault key %q", key)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	s, err := v.seal(key, plaintext)
	if err != nil {
		return err
	}
	v.entries[key] = s
	v.dirty = true
	return nil
}

// Get returns the plaintext stored under key.
func (v *Vault) Get(key string) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	s, ok := v.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v.unseal(key, s)
}

// Delete removes key.
func (v *Vault) Delete(key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.entries[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(v.entries, key)
	v.dirty = true
	return nil
}

// Has reports whether key is present.
func (v *Vault) Has(key string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.entries[key]
	return ok
}

// Keys returns the stored key names, sorted.
func (v *Vault) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.entries))
	for k := range v.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Path returns the backing file, or "" for memory-only vaults.
func (v *Vault) Path() string { return v.path }

// Save writes pending changes to disk.
func (v *Vault) Save() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.flush()
}

func (v *Vault) flush() error {
	if v.path == "" || !v.dirty {
		return nil
	}

	data, err := json.Marshal(file{
		Version: formatVersion,
		Salt:    v.salt,
		Check:   v.check,
		Entries: v.entries,
	})
	if err != nil {
		return fmt.Errorf("marshaling vault: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return fmt.Errorf("creating vault directory: %w", err)
	}
	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing vault file: %w", err)
	}
	if err := os.Rename(tmp, v.path); err != nil {
		return fmt.Errorf("replacing vault file: %w", err)
	}
	v.dirty = false
	return nil
}

func (v *Vault) wipe() {
	for i := range v.key {
		v.key[i] = 0
	}
	v.aead = nil
}

// Close flushes pending writes and zeroes the master key.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.flush()
	v.wipe()
	return err
}
