package vault

import (
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// SessionKey is a decrypted private key held in guarded memory for the
// lifetime of one agent session. It is never written to disk.
type SessionKey struct {
	Name      string
	PublicKey string

	material *memguard.LockedBuffer
}

// newSessionKey moves plaintext into a locked buffer. plaintext is wiped.
func newSessionKey(name, publicKey string, plaintext []byte) *SessionKey {
	return &SessionKey{
		Name:      name,
		PublicKey: publicKey,
		material:  memguard.NewBufferFromBytes(plaintext),
	}
}

// WithMaterial calls fn with the decrypted OpenSSH private key. fn must not
// retain the slice.
func (k *SessionKey) WithMaterial(fn func(pem []byte) error) error {
	if k.material == nil || !k.material.IsAlive() {
		return fmt.Errorf("key %s has been destroyed", k.Name)
	}
	return fn(k.material.Bytes())
}

// AddTo parses the key and registers it with an agent under its name.
func (k *SessionKey) AddTo(a agent.Agent) error {
	return k.WithMaterial(func(pem []byte) error {
		raw, err := ssh.ParseRawPrivateKey(pem)
		if err != nil {
			return fmt.Errorf("parsing key %s: %w", k.Name, err)
		}
		if err := a.Add(agent.AddedKey{PrivateKey: raw, Comment: k.Name}); err != nil {
			return fmt.Errorf("registering key %s: %w", k.Name, err)
		}
		return nil
	})
}

// Destroy wipes the decrypted material. Idempotent.
func (k *SessionKey) Destroy() {
	if k.material != nil {
		k.material.Destroy()
	}
}

// Register adds every key to a and destroys the decrypted copies, whether
// or not registration succeeds.
func Register(a agent.Agent, keys []*SessionKey) error {
	defer DestroyAll(keys)
	for _, k := range keys {
		if err := k.AddTo(a); err != nil {
			return err
		}
	}
	return nil
}

// DestroyAll destroys every key in keys.
func DestroyAll(keys []*SessionKey) {
	for _, k := range keys {
		k.Destroy()
	}
}

// wipe zeroes b in place.
func wipe(b []byte) {
	memguard.WipeBytes(b)
}
