package vault

import (
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

const testPassword = "correct horse battery staple"

// testWorkFactor keeps age's scrypt fast in tests.
const testWorkFactor = 10

type fakePrompter struct {
	passwords     []string
	selections    [][]string
	notices       []string
	passwordCalls int
}

func (f *fakePrompter) Password(string) (string, error) {
	f.passwordCalls++
	if len(f.passwords) == 0 {
		return "", errors.New("input aborted")
	}
	p := f.passwords[0]
	f.passwords = f.passwords[1:]
	return p, nil
}

func (f *fakePrompter) MultiSelect(_ string, _ []string) ([]string, error) {
	if len(f.selections) == 0 {
		return nil, errors.New("input aborted")
	}
	s := f.selections[0]
	f.selections = f.selections[1:]
	return s, nil
}

func (f *fakePrompter) Notify(msg string) {
	f.notices = append(f.notices, msg)
}

// answer queues more passwords.
func (f *fakePrompter) answer(passwords ...string) {
	f.passwords = append(f.passwords, passwords...)
}

// gatedPrompter blocks in Password until release is closed.
type gatedPrompter struct {
	fakePrompter
	once    sync.Once
	waiting chan struct{}
	release chan struct{}
}

func newGatedPrompter() *gatedPrompter {
	return &gatedPrompter{waiting: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedPrompter) Password(string) (string, error) {
	g.once.Do(func() { close(g.waiting) })
	<-g.release
	return testPassword, nil
}

// generateWhileBlocked starts Generate(name) on a second store for path and
// returns once it is waiting for the password.
func generateWhileBlocked(t *testing.T, path, name string) (*gatedPrompter, <-chan error) {
	t.Helper()
	g := newGatedPrompter()
	blocked := NewStore(path, g, WithWorkFactor(testWorkFactor))
	errc := make(chan error, 1)
	go func() { errc <- blocked.Generate(name) }()

	select {
	case <-g.waiting:
	case <-time.After(5 * time.Second):
		t.Fatal("Generate never prompted")
	}
	t.Cleanup(func() {
		select {
		case <-g.release:
		default:
			close(g.release)
		}
	})
	return g, errc
}

func newTestStore(t *testing.T) (*Store, *fakePrompter) {
	t.Helper()
	p := &fakePrompter{}
	path := filepath.Join(t.TempDir(), "keys.json")
	s := NewStore(path, p, WithWorkFactor(testWorkFactor))

	p.answer(testPassword)
	_, err := s.InitDefault()
	require.NoError(t, err)
	return s, p
}

func fileDigest(t *testing.T, path string) [32]byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return sha256.Sum256(data)
}

func TestLoadInitializesMissingVault(t *testing.T) {
	p := &fakePrompter{passwords: []string{testPassword}}
	path := filepath.Join(t.TempDir(), "nested", "keys.json")
	s := NewStore(path, p, WithWorkFactor(testWorkFactor))

	keys, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, keys.Keys)
	assert.Equal(t, FormatVersion, keys.Version)
	assert.NotContains(t, keys.PasswordHash, testPassword)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// Second load reads the file without prompting.
	_, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, p.passwordCalls)
}

func TestInitDefaultPromptFailure(t *testing.T) {
	p := &fakePrompter{}
	s := NewStore(filepath.Join(t.TempDir(), "keys.json"), p)

	_, err := s.InitDefault()
	var promptErr *PromptError
	require.ErrorAs(t, err, &promptErr)

	_, statErr := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(statErr), "vault must not be written when the prompt fails")
}

func TestInitDefaultRejectsEmptyPassword(t *testing.T) {
	p := &fakePrompter{passwords: []string{""}}
	s := NewStore(filepath.Join(t.TempDir(), "keys.json"), p)

	_, err := s.InitDefault()
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

func TestGenerate(t *testing.T) {
	s, p := newTestStore(t)

	p.answer(testPassword)
	require.NoError(t, s.Generate("alpha"))

	keys, err := s.List()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "alpha", keys[0].Name)
	assert.NotEmpty(t, keys[0].EncryptedKey)
	assert.Empty(t, keys[0].AttachedLitterboxes)
	assert.False(t, keys[0].CreatedAt.IsZero())

	pub, comment, _, _, err := ssh.ParseAuthorizedKey([]byte(keys[0].PublicKey))
	require.NoError(t, err)
	assert.Equal(t, ssh.KeyAlgoED25519, pub.Type())
	assert.Equal(t, "alpha", comment)
}

func TestGenerateDuplicateLeavesVaultUnchanged(t *testing.T) {
	s, p := newTestStore(t)

	p.answer(testPassword)
	require.NoError(t, s.Generate("alpha"))
	before := fileDigest(t, s.Path())
	calls := p.passwordCalls

	err := s.Generate("alpha")
	assert.ErrorIs(t, err, ErrKeyAlreadyExists)
	assert.Equal(t, calls, p.passwordCalls, "duplicate name must fail before prompting")

	assert.Equal(t, before, fileDigest(t, s.Path()))
	keys, err := s.List()
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestGenerateRetriesWrongPassword(t *testing.T) {
	s, p := newTestStore(t)

	p.answer("wrong", "also wrong", testPassword)
	require.NoError(t, s.Generate("alpha"))

	assert.Contains(t, p.notices, "The provided password was not correct. Please try again.")
	assert.Empty(t, p.passwords)
}

func TestGeneratePromptAbortedDuringRetry(t *testing.T) {
	s, p := newTestStore(t)
	before := fileDigest(t, s.Path())

	p.answer("wrong")
	err := s.Generate("alpha")
	var promptErr *PromptError
	require.ErrorAs(t, err, &promptErr)
	assert.Equal(t, before, fileDigest(t, s.Path()))
}

func TestPendingPromptDoesNotBlockOthers(t *testing.T) {
	s, p := newTestStore(t)
	p.answer(testPassword)
	require.NoError(t, s.Generate("beta"))

	g, errc := generateWhileBlocked(t, s.Path(), "alpha")

	done := make(chan error, 1)
	go func() {
		if _, err := s.List(); err != nil {
			done <- err
			return
		}
		done <- s.Attach("beta", "boxA")
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reads and writes blocked while another store waited for a password")
	}

	close(g.release)
	require.NoError(t, <-errc)

	keys, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, keys.Find("alpha"))
	assert.True(t, keys.Find("beta").AttachedTo("boxA"), "concurrent attach must not be lost")
}

func TestGenerateRechecksNameAfterPrompt(t *testing.T) {
	s, p := newTestStore(t)

	g, errc := generateWhileBlocked(t, s.Path(), "alpha")

	p.answer(testPassword)
	require.NoError(t, s.Generate("alpha"))
	before := fileDigest(t, s.Path())

	close(g.release)
	assert.ErrorIs(t, <-errc, ErrKeyAlreadyExists)
	assert.Equal(t, before, fileDigest(t, s.Path()))
}

func TestGenerateDetectsReinitializedVault(t *testing.T) {
	s, p := newTestStore(t)

	g, errc := generateWhileBlocked(t, s.Path(), "alpha")

	p.answer("a different password")
	_, err := s.InitDefault()
	require.NoError(t, err)

	close(g.release)
	assert.ErrorIs(t, <-errc, ErrVaultChanged)
	keys, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, keys.Keys)
}

func TestGenerateCorruptHashIsParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	corrupt := `{"password_hash": "$argon2id$v=19$m=19456,t=0,p=1$c2FsdA$aGFzaA", "keys": []}`
	require.NoError(t, os.WriteFile(path, []byte(corrupt), 0600))

	s := NewStore(path, &fakePrompter{passwords: []string{testPassword}}, WithWorkFactor(testWorkFactor))
	var err error
	require.NotPanics(t, func() { err = s.Generate("alpha") })
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestDelete(t *testing.T) {
	s, p := newTestStore(t)

	err := s.Delete("missing")
	assert.ErrorIs(t, err, ErrKeyDoesNotExist)

	p.answer(testPassword)
	require.NoError(t, s.Generate("alpha"))
	p.answer(testPassword)
	require.NoError(t, s.Generate("beta"))

	require.NoError(t, s.Delete("alpha"))
	keys, err := s.List()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "beta", keys[0].Name)
}

func TestAttachDetach(t *testing.T) {
	s, p := newTestStore(t)
	p.answer(testPassword)
	require.NoError(t, s.Generate("alpha"))

	err := s.Attach("missing", "boxA")
	assert.ErrorIs(t, err, ErrKeyDoesNotExist)

	require.NoError(t, s.Attach("alpha", "boxA"))
	require.NoError(t, s.Attach("alpha", "boxB"))

	err = s.Attach("alpha", "boxA")
	require.ErrorIs(t, err, ErrAlreadyAttached)
	assert.Equal(t, "litterbox boxA already attached to key alpha", err.Error())

	p.selections = [][]string{{"boxA"}}
	removed, err := s.Detach("alpha")
	require.NoError(t, err)
	assert.Equal(t, []string{"boxA"}, removed)

	keys, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"boxB"}, keys[0].AttachedLitterboxes)

	require.NoError(t, s.Attach("alpha", "boxA"))
	keys, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"boxB", "boxA"}, keys[0].AttachedLitterboxes)
}

func TestDetachNothingAttached(t *testing.T) {
	s, p := newTestStore(t)
	p.answer(testPassword)
	require.NoError(t, s.Generate("alpha"))

	removed, err := s.Detach("alpha")
	require.NoError(t, err)
	assert.Empty(t, removed)

	_, err = s.Detach("missing")
	assert.ErrorIs(t, err, ErrKeyDoesNotExist)
}

func TestRename(t *testing.T) {
	s, p := newTestStore(t)
	p.answer(testPassword)
	require.NoError(t, s.Generate("alpha"))
	p.answer(testPassword)
	require.NoError(t, s.Generate("beta"))
	require.NoError(t, s.Attach("alpha", "boxA"))

	assert.ErrorIs(t, s.Rename("missing", "gamma"), ErrKeyDoesNotExist)
	assert.ErrorIs(t, s.Rename("alpha", "beta"), ErrKeyAlreadyExists)

	require.NoError(t, s.Rename("alpha", "gamma"))
	keys, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, keys.Find("gamma"))
	assert.Nil(t, keys.Find("alpha"))
	assert.True(t, keys.Find("gamma").AttachedTo("boxA"))
}

func TestLoadCorruptVault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	s := NewStore(path, &fakePrompter{})
	_, err := s.Load()
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, path, parseErr.Path)
}

func TestLoadDefaultsMissingFields(t *testing.T) {
	hash, err := HashPassword(testPassword)
	require.NoError(t, err)

	// A vault written before version, public_key, created_at and
	// attached_litterboxes were recorded.
	legacy := `{"password_hash": "` + hash + `", "keys": [{"name": "old", "encrypted_key": "AAAA"}]}`
	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0600))

	keys, err := NewStore(path, &fakePrompter{}).Load()
	require.NoError(t, err)
	assert.Equal(t, 1, keys.Version)
	require.Len(t, keys.Keys, 1)
	assert.Equal(t, []string{}, keys.Keys[0].AttachedLitterboxes)
	assert.Empty(t, keys.Keys[0].PublicKey)
	assert.True(t, keys.Keys[0].CreatedAt.IsZero())
}

func TestDecryptForSession(t *testing.T) {
	s, p := newTestStore(t)
	for _, name := range []string{"alpha", "beta", "gamma"} {
		p.answer(testPassword)
		require.NoError(t, s.Generate(name))
	}
	require.NoError(t, s.Attach("alpha", "boxA"))
	require.NoError(t, s.Attach("gamma", "boxA"))
	require.NoError(t, s.Attach("beta", "boxB"))

	stored, err := s.List()
	require.NoError(t, err)

	// A fresh store reads everything back from disk.
	reloaded := NewStore(s.Path(), p, WithWorkFactor(testWorkFactor))
	p.answer("nope", testPassword)
	keys, err := reloaded.DecryptForSession("boxA")
	require.NoError(t, err)
	defer DestroyAll(keys)

	require.Len(t, keys, 2)
	assert.Equal(t, "alpha", keys[0].Name)
	assert.Equal(t, "gamma", keys[1].Name)

	for _, k := range keys {
		var persisted *Key
		for i := range stored {
			if stored[i].Name == k.Name {
				persisted = &stored[i]
			}
		}
		require.NotNil(t, persisted)
		want, _, _, _, err := ssh.ParseAuthorizedKey([]byte(persisted.PublicKey))
		require.NoError(t, err)

		require.NoError(t, k.WithMaterial(func(pem []byte) error {
			signer, err := ssh.ParsePrivateKey(pem)
			if err != nil {
				return err
			}
			assert.Equal(t, want.Marshal(), signer.PublicKey().Marshal(), "key %s", k.Name)
			return nil
		}))
	}

	kr := agent.NewKeyring()
	require.NoError(t, Register(kr, keys))

	listed, err := kr.List()
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "alpha", listed[0].Comment)

	// Register destroys the decrypted copies.
	err = keys[0].WithMaterial(func([]byte) error { return nil })
	assert.Error(t, err)
}

func TestDecryptForSessionNoAttachedKeys(t *testing.T) {
	s, p := newTestStore(t)
	p.answer(testPassword)
	require.NoError(t, s.Generate("alpha"))

	p.answer(testPassword)
	keys, err := s.DecryptForSession("unknown-box")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
