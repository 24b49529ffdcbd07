// +build !linux

package quarantine

// setImmutable is a no-op on platforms without a chattr-equivalent
// immutable-attribute mechanism; quarantine integrity still relies on the
// 0600 permissions and the restrictive quarantine root directory.
func setImmutable(path string, immutable bool) error {
	return nil
}
