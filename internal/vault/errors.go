package vault

// Error types for vault operations. Integrity errors (duplicate names,
// missing keys, duplicate attachments) are sentinels wrapped in KeyError so
// callers can match with errors.Is and still report which key was involved.

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyAlreadyExists is returned when a key name is already taken.
	ErrKeyAlreadyExists = errors.New("key already exists")
	// ErrKeyDoesNotExist is returned when no key has the given name.
	ErrKeyDoesNotExist = errors.New("key does not exist")
	// ErrAlreadyAttached is returned when a litterbox is attached to a key twice.
	ErrAlreadyAttached = errors.New("litterbox already attached to key")
	// ErrWrongPassword is returned when ciphertext cannot be opened with the given password.
	ErrWrongPassword = errors.New("incorrect password")
	// ErrVaultChanged is returned when the master password was replaced while
	// a change was being prepared.
	ErrVaultChanged = errors.New("vault was re-initialized concurrently; try again")
	// ErrEmptyPassword is returned when an empty master password is chosen.
	ErrEmptyPassword = errors.New("password must not be empty")
)

// KeyError reports an integrity failure for a specific key.
type KeyError struct {
	Key       string
	Litterbox string
	Err       error
}

func (e *KeyError) Error() string {
	switch {
	case errors.Is(e.Err, ErrAlreadyAttached):
		return fmt.Sprintf("litterbox %s already attached to key %s", e.Litterbox, e.Key)
	case errors.Is(e.Err, ErrKeyAlreadyExists):
		return fmt.Sprintf("key named %s already exists", e.Key)
	case errors.Is(e.Err, ErrKeyDoesNotExist):
		return fmt.Sprintf("key named %s does not exist", e.Key)
	}
	return fmt.Sprintf("key %s: %v", e.Key, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }

// PromptError indicates interactive input could not be obtained.
type PromptError struct {
	Err error
}

func (e *PromptError) Error() string {
	return fmt.Sprintf("failed to retrieve valid input from user: %v", e.Err)
}

func (e *PromptError) Unwrap() error { return e.Err }

// ParseError indicates the vault file exists but is corrupt.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing keyfile %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// PersistError indicates the vault could not be read, serialized, or written.
// The in-memory change that triggered it is not committed.
type PersistError struct {
	Op   string // "read", "serialize", "write", "lock"
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s keyfile %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
