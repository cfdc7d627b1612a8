// Package vault persists password-protected SSH keys and the litterboxes
// each key is attached to.
//
// The vault is a single JSON file holding an argon2id hash of the master
// password and an ordered list of keys. Private keys are sealed with age's
// scrypt recipient under the master password and are only ever decrypted in
// memory, into memguard buffers, for the lifetime of an agent session.
//
// Every mutation gathers user input first, then takes an exclusive lock on
// <path>.lock, reloads the file, applies the change and rewrites the whole
// vault atomically, so concurrent litterbox invocations on the same host do
// not lose updates. Readers never take the lock.
package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/majorcontext/litterbox/internal/config"
	"github.com/majorcontext/litterbox/internal/log"
)

// FormatVersion is the vault file format written by this package.
const FormatVersion = 1

// Key is a named, encrypted private key.
type Key struct {
	Name string `json:"name"`
	// EncryptedKey is an age (scrypt) encrypted OpenSSH private key.
	EncryptedKey []byte `json:"encrypted_key"`
	// AttachedLitterboxes lists the litterboxes whose agent serves this key,
	// in attachment order.
	AttachedLitterboxes []string `json:"attached_litterboxes"`
	// PublicKey is the authorized_keys line for the key. Empty for keys
	// created before it was recorded.
	PublicKey string `json:"public_key,omitempty"`
	// CreatedAt is zero for keys created before it was recorded.
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// AttachedTo reports whether the key is attached to lbxName.
func (k *Key) AttachedTo(lbxName string) bool {
	return slices.Contains(k.AttachedLitterboxes, lbxName)
}

// Keys is the persisted vault contents.
type Keys struct {
	// Version defaults to 1 when absent.
	Version      int    `json:"version,omitempty"`
	PasswordHash string `json:"password_hash"`
	Keys         []Key  `json:"keys"`
}

// Find returns the key with the given name, or nil.
func (k *Keys) Find(name string) *Key {
	for i := range k.Keys {
		if k.Keys[i].Name == name {
			return &k.Keys[i]
		}
	}
	return nil
}

// Store reads and writes the vault file at a fixed path.
type Store struct {
	path       string
	prompter   Prompter
	workFactor int

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithWorkFactor sets the log2 scrypt cost for newly encrypted keys.
func WithWorkFactor(n int) Option {
	return func(s *Store) {
		s.workFactor = n
	}
}

// NewStore returns a Store for the vault at path. Interactive input
// (passwords, selections) is obtained from p.
func NewStore(path string, p Prompter, opts ...Option) *Store {
	s := &Store{
		path:       path,
		prompter:   p,
		workFactor: config.DefaultWorkFactor,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the vault file path.
func (s *Store) Path() string {
	return s.path
}

// InitDefault prompts for a new master password and writes an empty vault,
// replacing any existing one.
func (s *Store) InitDefault() (*Keys, error) {
	keys, err := s.newVault()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.withFileLock(func() error { return s.save(keys) }); err != nil {
		return nil, err
	}
	log.Info("initialized key vault", "path", s.path)
	return keys, nil
}

// newVault asks for the master password of a new, empty vault.
func (s *Store) newVault() (*Keys, error) {
	s.prompter.Notify("Please enter a password to protect your keys.")
	password, err := s.prompter.Password("Key Manager Password")
	if err != nil {
		return nil, &PromptError{Err: err}
	}
	if password == "" {
		return nil, &PromptError{Err: ErrEmptyPassword}
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	return &Keys{
		Version:      FormatVersion,
		PasswordHash: hash,
		Keys:         []Key{},
	}, nil
}

// Load reads the vault, creating it on first use. Reads take no lock: the
// file is only ever replaced whole by rename.
func (s *Store) Load() (*Keys, error) {
	keys, found, err := s.read()
	if err != nil || found {
		return keys, err
	}

	s.prompter.Notify("Keys file does not exist yet. A new one will be created.")
	created, err := s.newVault()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.withFileLock(func() error {
		// Another invocation may have created it while we prompted.
		existing, found, err := s.read()
		if err != nil {
			return err
		}
		if found {
			created = existing
			return nil
		}
		if err := s.save(created); err != nil {
			return err
		}
		log.Info("initialized key vault", "path", s.path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// read parses the vault file. found is false when it does not exist.
func (s *Store) read() (keys *Keys, found bool, err error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, &PersistError{Op: "read", Path: s.path, Err: err}
	}

	var k Keys
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, true, &ParseError{Path: s.path, Err: err}
	}
	if k.PasswordHash == "" {
		return nil, true, &ParseError{Path: s.path, Err: fmt.Errorf("missing password hash")}
	}
	if k.Version == 0 {
		k.Version = 1
	}
	for i := range k.Keys {
		if k.Keys[i].AttachedLitterboxes == nil {
			k.Keys[i].AttachedLitterboxes = []string{}
		}
	}
	return &k, true, nil
}

// update applies fn to the current vault under the file lock and persists
// the result. Nothing is written if fn returns an error. fn must not prompt;
// input is gathered before the lock is taken.
func (s *Store) update(fn func(keys *Keys) error) error {
	if _, err := s.Load(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withFileLock(func() error {
		keys, found, err := s.read()
		if err != nil {
			return err
		}
		if !found {
			return &PersistError{Op: "read", Path: s.path, Err: os.ErrNotExist}
		}
		if err := fn(keys); err != nil {
			return err
		}
		return s.save(keys)
	})
}

// Generate creates a new key named name, encrypted under the master password.
func (s *Store) Generate(name string) error {
	keys, err := s.Load()
	if err != nil {
		return err
	}
	if keys.Find(name) != nil {
		return &KeyError{Key: name, Err: ErrKeyAlreadyExists}
	}

	password, err := s.verifiedPassword(keys)
	if err != nil {
		return err
	}

	privatePEM, publicKey, err := generateKey(name)
	if err != nil {
		return err
	}
	encrypted, err := encryptKey(privatePEM, password, s.workFactor)
	wipe(privatePEM)
	if err != nil {
		return err
	}

	return s.update(func(current *Keys) error {
		if current.PasswordHash != keys.PasswordHash {
			return ErrVaultChanged
		}
		if current.Find(name) != nil {
			return &KeyError{Key: name, Err: ErrKeyAlreadyExists}
		}
		current.Keys = append(current.Keys, Key{
			Name:                name,
			EncryptedKey:        encrypted,
			AttachedLitterboxes: []string{},
			PublicKey:           publicKey,
			CreatedAt:           time.Now().UTC(),
		})
		log.Info("generated key", "key", name)
		return nil
	})
}

// Delete removes the named key.
func (s *Store) Delete(name string) error {
	return s.update(func(keys *Keys) error {
		idx := slices.IndexFunc(keys.Keys, func(k Key) bool { return k.Name == name })
		if idx < 0 {
			return &KeyError{Key: name, Err: ErrKeyDoesNotExist}
		}
		keys.Keys = slices.Delete(keys.Keys, idx, idx+1)
		log.Info("deleted key", "key", name)
		return nil
	})
}

// Rename changes a key's name, keeping its material and attachments.
func (s *Store) Rename(oldName, newName string) error {
	return s.update(func(keys *Keys) error {
		key := keys.Find(oldName)
		if key == nil {
			return &KeyError{Key: oldName, Err: ErrKeyDoesNotExist}
		}
		if keys.Find(newName) != nil {
			return &KeyError{Key: newName, Err: ErrKeyAlreadyExists}
		}
		key.Name = newName
		log.Info("renamed key", "from", oldName, "to", newName)
		return nil
	})
}

// Attach makes the named key available to the agent of lbxName.
func (s *Store) Attach(keyName, lbxName string) error {
	return s.update(func(keys *Keys) error {
		key := keys.Find(keyName)
		if key == nil {
			return &KeyError{Key: keyName, Err: ErrKeyDoesNotExist}
		}
		if key.AttachedTo(lbxName) {
			return &KeyError{Key: keyName, Litterbox: lbxName, Err: ErrAlreadyAttached}
		}
		key.AttachedLitterboxes = append(key.AttachedLitterboxes, lbxName)
		log.Info("attached key", "key", keyName, "lbx", lbxName)
		return nil
	})
}

// Detach asks the user which of the key's litterboxes to detach and removes
// them. It returns the detached names; litterboxes already running keep the
// key until their agent restarts.
func (s *Store) Detach(keyName string) ([]string, error) {
	keys, err := s.Load()
	if err != nil {
		return nil, err
	}
	key := keys.Find(keyName)
	if key == nil {
		return nil, &KeyError{Key: keyName, Err: ErrKeyDoesNotExist}
	}
	if len(key.AttachedLitterboxes) == 0 {
		return nil, nil
	}

	chosen, err := s.prompter.MultiSelect("Select litterboxes to detach", key.AttachedLitterboxes)
	if err != nil {
		return nil, &PromptError{Err: err}
	}
	if len(chosen) == 0 {
		return nil, nil
	}

	var removed []string
	err = s.update(func(current *Keys) error {
		removed = nil
		key := current.Find(keyName)
		if key == nil {
			return &KeyError{Key: keyName, Err: ErrKeyDoesNotExist}
		}
		kept := key.AttachedLitterboxes[:0:0]
		for _, name := range key.AttachedLitterboxes {
			if slices.Contains(chosen, name) {
				removed = append(removed, name)
				continue
			}
			kept = append(kept, name)
		}
		key.AttachedLitterboxes = kept
		log.Info("detached key", "key", keyName, "litterboxes", removed)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// List returns the keys in the vault. Encrypted material is included; callers
// that display keys should only show names, public keys and attachments.
func (s *Store) List() ([]Key, error) {
	keys, err := s.Load()
	if err != nil {
		return nil, err
	}
	return keys.Keys, nil
}

// DecryptForSession prompts for the master password and decrypts every key
// attached to lbxName. The caller owns the returned keys and must Destroy
// them once they are registered with the agent.
func (s *Store) DecryptForSession(lbxName string) ([]*SessionKey, error) {
	keys, err := s.Load()
	if err != nil {
		return nil, err
	}

	password, err := s.verifiedPassword(keys)
	if err != nil {
		return nil, err
	}

	var out []*SessionKey
	for _, key := range keys.Keys {
		if !key.AttachedTo(lbxName) {
			continue
		}
		plaintext, err := decryptKey(key.EncryptedKey, password)
		if err != nil {
			DestroyAll(out)
			return nil, fmt.Errorf("decrypting key %s: %w", key.Name, err)
		}
		out = append(out, newSessionKey(key.Name, key.PublicKey, plaintext))
	}

	log.Debug("decrypted keys for session", "lbx", lbxName, "count", len(out))
	return out, nil
}

// verifiedPassword prompts until the user enters the master password.
func (s *Store) verifiedPassword(keys *Keys) (string, error) {
	s.prompter.Notify("Please enter the password you chose for the key manager.")
	for {
		password, err := s.prompter.Password("Key Manager Password")
		if err != nil {
			return "", &PromptError{Err: err}
		}

		ok, err := VerifyPassword(password, keys.PasswordHash)
		if err != nil {
			return "", &ParseError{Path: s.path, Err: err}
		}
		if ok {
			return password, nil
		}
		s.prompter.Notify("The provided password was not correct. Please try again.")
	}
}

// save writes keys to a temporary file and renames it over the vault.
func (s *Store) save(keys *Keys) error {
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return &PersistError{Op: "serialize", Path: s.path, Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return &PersistError{Op: "write", Path: s.path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return &PersistError{Op: "write", Path: s.path, Err: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &PersistError{Op: "write", Path: s.path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &PersistError{Op: "write", Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &PersistError{Op: "write", Path: s.path, Err: err}
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return &PersistError{Op: "write", Path: s.path, Err: err}
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return &PersistError{Op: "write", Path: s.path, Err: err}
	}
	return nil
}

// withFileLock runs fn while holding an exclusive lock on <path>.lock.
func (s *Store) withFileLock(fn func() error) error {
	lockPath := s.path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0700); err != nil {
		return &PersistError{Op: "lock", Path: s.path, Err: err}
	}

	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return &PersistError{Op: "lock", Path: s.path, Err: err}
	}
	defer lf.Close()

	unlock, err := lockFile(lf)
	if err != nil {
		return &PersistError{Op: "lock", Path: s.path, Err: err}
	}
	defer unlock()

	return fn()
}
