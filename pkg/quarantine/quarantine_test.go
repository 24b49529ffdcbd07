package quarantine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/xanados/searchdestroy-core/pkg/logging"
	"github.com/xanados/searchdestroy-core/pkg/sderrors"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	logger := logging.NewLogger(logging.LevelError, os.Stderr)
	store, err := New(filepath.Join(root, "quarantine"), logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return store, root
}

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("unable to write temp file: %v", err)
	}
	return path
}

func TestQuarantineRemovesSourceAndPreservesContent(t *testing.T) {
	store, root := newTestStore(t)
	source := writeTempFile(t, root, "eicar.txt", "malicious payload")

	record, err := store.Quarantine(context.Background(), source, "", "defs-v1", "Test.Generic", nil)
	if err != nil {
		t.Fatalf("Quarantine failed: %v", err)
	}
	if _, err := os.Stat(source); !os.IsNotExist(err) {
		t.Fatalf("expected source to be removed")
	}

	if err := store.VerifyIntegrity(context.Background(), record.ID, nil); err != nil {
		t.Fatalf("VerifyIntegrity failed: %v", err)
	}
}

func TestQuarantineRejectsDigestMismatch(t *testing.T) {
	store, root := newTestStore(t)
	source := writeTempFile(t, root, "sample.bin", "content")

	_, err := store.Quarantine(context.Background(), source, "deadbeef", "defs-v1", "", nil)
	if !sderrors.Is(err, sderrors.KindQuarantineIntegrity) {
		t.Fatalf("expected KindQuarantineIntegrity, got %v", err)
	}
	if _, statErr := os.Stat(source); statErr != nil {
		t.Fatalf("source should remain in place after a rejected quarantine: %v", statErr)
	}
}

func TestRestoreRoundTrips(t *testing.T) {
	store, root := newTestStore(t)
	source := writeTempFile(t, root, "restore-me.txt", "hello world")

	record, err := store.Quarantine(context.Background(), source, "", "defs-v1", "", nil)
	if err != nil {
		t.Fatalf("Quarantine failed: %v", err)
	}

	if err := store.Restore(context.Background(), record.ID, false, nil); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	content, err := os.ReadFile(source)
	if err != nil {
		t.Fatalf("unable to read restored file: %v", err)
	}
	if string(content) != "hello world" {
		t.Fatalf("restored content mismatch: got %q", content)
	}
	if _, err := store.Get(record.ID); !sderrors.Is(err, sderrors.KindPathInvalid) {
		t.Fatalf("expected record to be gone after restore, got %v", err)
	}
}

func TestListReturnsAllRecords(t *testing.T) {
	store, root := newTestStore(t)
	writeTempFile(t, root, "a.txt", "a")
	writeTempFile(t, root, "b.txt", "b")

	if _, err := store.Quarantine(context.Background(), filepath.Join(root, "a.txt"), "", "defs-v1", "", nil); err != nil {
		t.Fatalf("Quarantine a failed: %v", err)
	}
	if _, err := store.Quarantine(context.Background(), filepath.Join(root, "b.txt"), "", "defs-v1", "", nil); err != nil {
		t.Fatalf("Quarantine b failed: %v", err)
	}

	records, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
}

func TestTamperedPayloadReportsCanRestoreFalse(t *testing.T) {
	store, root := newTestStore(t)
	source := writeTempFile(t, root, "tamper-me.txt", "original content")

	record, err := store.Quarantine(context.Background(), source, "", "defs-v1", "Test.Generic", nil)
	if err != nil {
		t.Fatalf("Quarantine failed: %v", err)
	}
	if !record.CanRestore {
		t.Fatalf("expected CanRestore true immediately after quarantining")
	}

	setImmutable(store.payloadPath(record.ID), false)
	if err := os.WriteFile(store.payloadPath(record.ID), []byte("tampered"), 0600); err != nil {
		t.Fatalf("unable to tamper with quarantined payload: %v", err)
	}

	got, err := store.Get(record.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CanRestore {
		t.Fatalf("expected CanRestore false for a tampered payload")
	}

	records, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 || records[0].CanRestore {
		t.Fatalf("expected the listed record to report CanRestore false, got %+v", records)
	}
}

func TestPurgeRemovesRecordAndPayload(t *testing.T) {
	store, root := newTestStore(t)
	source := writeTempFile(t, root, "purge-me.txt", "bye")

	record, err := store.Quarantine(context.Background(), source, "", "defs-v1", "", nil)
	if err != nil {
		t.Fatalf("Quarantine failed: %v", err)
	}
	if err := store.Purge(record.ID); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if _, err := store.Get(record.ID); !sderrors.Is(err, sderrors.KindPathInvalid) {
		t.Fatalf("expected record to be gone after purge, got %v", err)
	}
}
