package daemon

import (
	"testing"

	"github.com/xanados/searchdestroy-core/pkg/logging"
)

// TestLockCycle tests an acquisition/release cycle of the daemon lock.
func TestLockCycle(t *testing.T) {
	lock, err := AcquireLock(logging.RootLogger)
	if err != nil {
		t.Fatal("unable to acquire lock:", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatal("unable to release lock:", err)
	}
}

// TestLockDuplicateFail tests that a second attempt to acquire the daemon
// lock fails while the first is still held.
func TestLockDuplicateFail(t *testing.T) {
	lock, err := AcquireLock(logging.RootLogger)
	if err != nil {
		t.Fatal("unable to acquire lock:", err)
	}
	defer lock.Release()

	if _, err := AcquireLock(logging.RootLogger); err == nil {
		t.Error("second lock acquisition succeeded unexpectedly")
	}
}
