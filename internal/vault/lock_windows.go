//go:build windows

package vault

import "os"

// lockFile is a no-op on Windows. Vault mutations from a single process are
// still serialized by Store's mutex.
func lockFile(_ *os.File) (unlock func(), err error) {
	return func() {}, nil
}
