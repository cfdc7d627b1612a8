package vault

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/ssh"
)

// Argon2id parameters for the master password hash. The parameters are
// stored in the encoded hash, so changing them only affects new vaults.
const (
	argonMemory  uint32 = 19 * 1024
	argonTime    uint32 = 2
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16
)

// Bounds on argon2id parameters read from a vault file. Values outside
// them are rejected before hashing: argon2 panics on zero rounds or
// threads, and memory is allocated as requested.
const (
	maxArgonMemory uint32 = 1 << 20 // KiB, 1 GiB
	maxArgonTime   uint32 = 64
)

// maxWorkFactor caps the scrypt cost accepted when decrypting, so a
// tampered vault cannot make decryption run for hours.
const maxWorkFactor = 22

// HashPassword returns a salted argon2id hash of password in PHC string form:
// $argon2id$v=19$m=<mem>,t=<time>,p=<threads>$<salt>$<hash>
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	sum := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		b64.EncodeToString(salt), b64.EncodeToString(sum)), nil
}

// VerifyPassword reports whether password matches an encoded hash produced
// by HashPassword. An error means the hash itself is malformed.
func VerifyPassword(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, hash
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, fmt.Errorf("unsupported password hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("parsing hash version: %w", err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("unsupported argon2 version %d", version)
	}

	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, fmt.Errorf("parsing hash parameters: %w", err)
	}
	if err := checkArgonParams(memory, iterations, threads); err != nil {
		return false, err
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decoding salt: %w", err)
	}
	want, err := b64.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decoding hash: %w", err)
	}
	if len(want) == 0 {
		return false, fmt.Errorf("empty password hash")
	}

	got := argon2.IDKey([]byte(password), salt, iterations, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func checkArgonParams(memory, iterations uint32, threads uint8) error {
	switch {
	case iterations < 1 || iterations > maxArgonTime:
		return fmt.Errorf("argon2 iterations %d out of range [1, %d]", iterations, maxArgonTime)
	case threads < 1:
		return fmt.Errorf("argon2 parallelism must be at least 1")
	case memory < 8*uint32(threads):
		return fmt.Errorf("argon2 memory %d KiB below minimum %d KiB", memory, 8*uint32(threads))
	case memory > maxArgonMemory:
		return fmt.Errorf("argon2 memory %d KiB above maximum %d KiB", memory, maxArgonMemory)
	}
	return nil
}

// generateKey creates an Ed25519 key pair. It returns the private key as an
// OpenSSH PEM block and the public key in authorized_keys form.
func generateKey(comment string) (privatePEM []byte, authorizedKey string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("generating ed25519 key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return nil, "", fmt.Errorf("encoding private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, "", fmt.Errorf("encoding public key: %w", err)
	}
	authorizedKey = strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub)))
	if comment != "" {
		authorizedKey += " " + comment
	}

	return pem.EncodeToMemory(block), authorizedKey, nil
}

// encryptKey seals plaintext under password with age's scrypt recipient.
func encryptKey(plaintext []byte, password string, workFactor int) ([]byte, error) {
	if workFactor <= 0 || workFactor > maxWorkFactor {
		return nil, fmt.Errorf("work factor %d out of range [1,%d]", workFactor, maxWorkFactor)
	}

	recipient, err := age.NewScryptRecipient(password)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	recipient.SetWorkFactor(workFactor)

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return buf.Bytes(), nil
}

// decryptKey opens ciphertext produced by encryptKey. A wrong password
// always fails with ErrWrongPassword.
func decryptKey(ciphertext []byte, password string) ([]byte, error) {
	identity, err := age.NewScryptIdentity(password)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	identity.SetMaxWorkFactor(maxWorkFactor)

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, ErrWrongPassword
		}
		return nil, fmt.Errorf("decrypting key: %w", err)
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted key: %w", err)
	}
	return plaintext, nil
}
