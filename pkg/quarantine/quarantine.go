// Package quarantine implements the atomic move-into-quarantine protocol:
// hash-verified copy, immutable-attribute marking, a JSON sidecar written by
// rename, and only then removal of the source, so a crash mid-operation
// never leaves a file that is neither at its original path nor quarantined
// with verifiable provenance.
package quarantine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/xanados/searchdestroy-core/pkg/encoding"
	"github.com/xanados/searchdestroy-core/pkg/fsid"
	"github.com/xanados/searchdestroy-core/pkg/logging"
	"github.com/xanados/searchdestroy-core/pkg/must"
	"github.com/xanados/searchdestroy-core/pkg/sderrors"
)

// Record is the sidecar metadata persisted alongside a quarantined file's
// content, one JSON file per quarantined item.
type Record struct {
	ID                string    `json:"id"`
	OriginalPath      string    `json:"original_path"`
	Digest            string    `json:"digest"`
	Size              int64     `json:"size"`
	OriginalMode      uint32    `json:"original_mode"`
	EngineDefinitions string    `json:"engine_definitions"`
	Family            string    `json:"family"`
	QuarantinedAt     time.Time `json:"quarantined_at"`
	// CanRestore reports whether the quarantined payload still matches its
	// recorded digest. It is recomputed on every List/Get rather than
	// trusted from the sidecar, so a tampered payload surfaces as
	// unrestorable without requiring a caller to attempt Restore first.
	CanRestore bool `json:"can_restore"`
}

// Store manages quarantined files under a root directory: payload files at
// <root>/<id>.bin, sidecars at <root>/<id>.json.
type Store struct {
	root   string
	logger *logging.Logger
}

// New constructs a Store rooted at the given directory, creating it if
// necessary with restrictive permissions.
func New(root string, logger *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, sderrors.Wrap(sderrors.KindResourceExhausted, err, "unable to create quarantine root")
	}
	return &Store{root: root, logger: logger.Sublogger("quarantine")}, nil
}

func (s *Store) payloadPath(id string) string {
	return filepath.Join(s.root, id+".bin")
}

func (s *Store) sidecarPath(id string) string {
	return filepath.Join(s.root, id+".json")
}

// Quarantine moves the file at path into the store: the source is copied
// into the quarantine root with 0600 permissions, the copy's digest is
// checked against expectedDigest (computed by the engine that flagged it;
// an empty expectedDigest skips the check), the copy is marked immutable and
// described by a sidecar written via rename, and only then is the source
// unlinked from its original location.
func (s *Store) Quarantine(ctx context.Context, path, expectedDigest, definitionsFingerprint, family string, cancelled <-chan struct{}) (*Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, sderrors.Wrap(sderrors.KindPathInvalid, err, "unable to stat source file")
	}

	id := uuid.New().String()

	if err := copyFile(path, s.payloadPath(id), 0600); err != nil {
		return nil, sderrors.Wrap(sderrors.KindQuarantineIntegrity, err, "unable to copy file into quarantine")
	}

	copiedDigest, err := fsid.Digest(ctx, s.payloadPath(id), cancelled)
	if err != nil {
		os.Remove(s.payloadPath(id))
		return nil, err
	}
	if expectedDigest != "" && copiedDigest != expectedDigest {
		os.Remove(s.payloadPath(id))
		return nil, sderrors.New(sderrors.KindQuarantineIntegrity, "copied file digest does not match source")
	}

	if err := setImmutable(s.payloadPath(id), true); err != nil {
		s.logger.Warnf("unable to mark quarantined file immutable: %v", err)
	}

	record := &Record{
		ID:                id,
		OriginalPath:      path,
		Digest:            copiedDigest,
		Size:              info.Size(),
		OriginalMode:      uint32(info.Mode().Perm()),
		EngineDefinitions: definitionsFingerprint,
		Family:            family,
		QuarantinedAt:     time.Now(),
		CanRestore:        true,
	}
	if err := encoding.MarshalAndSaveJSON(s.sidecarPath(id), s.logger, record); err != nil {
		setImmutable(s.payloadPath(id), false)
		os.Remove(s.payloadPath(id))
		return nil, sderrors.Wrap(sderrors.KindQuarantineIntegrity, err, "unable to write quarantine sidecar")
	}

	if err := os.Remove(path); err != nil {
		return record, sderrors.Wrap(sderrors.KindQuarantineIntegrity, err, "quarantined but unable to remove source")
	}

	return record, nil
}

// List returns every quarantine record currently in the store, with
// CanRestore freshly recomputed against the stored payload.
func (s *Store) List() ([]*Record, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, sderrors.Wrap(sderrors.KindPathInvalid, err, "unable to list quarantine root")
	}
	var records []*Record
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		var record Record
		if err := encoding.LoadAndUnmarshalJSON(filepath.Join(s.root, entry.Name()), &record); err != nil {
			s.logger.Warnf("skipping unreadable quarantine sidecar %s: %v", entry.Name(), err)
			continue
		}
		record.CanRestore = s.canRestore(&record)
		records = append(records, &record)
	}
	return records, nil
}

// Get loads a single record by identifier, with CanRestore freshly
// recomputed against the stored payload.
func (s *Store) Get(id string) (*Record, error) {
	var record Record
	if err := encoding.LoadAndUnmarshalJSON(s.sidecarPath(id), &record); err != nil {
		if os.IsNotExist(err) {
			return nil, sderrors.New(sderrors.KindPathInvalid, "no such quarantine record")
		}
		return nil, sderrors.Wrap(sderrors.KindCacheCorrupt, err, "unable to load quarantine sidecar")
	}
	record.CanRestore = s.canRestore(&record)
	return &record, nil
}

// neverCancelled is passed to digest computations performed outside of any
// particular scan group's cancellation scope (list/get bookkeeping rather
// than an in-progress scan task).
var neverCancelled = make(chan struct{})

// canRestore recomputes the quarantined payload's digest and compares it
// against the sidecar's recorded digest, so a tampered or missing payload is
// visible to callers without them first having to attempt a Restore.
func (s *Store) canRestore(record *Record) bool {
	digest, err := fsid.Digest(context.Background(), s.payloadPath(record.ID), neverCancelled)
	if err != nil {
		return false
	}
	return digest == record.Digest
}

// VerifyIntegrity recomputes the digest of a quarantined payload and checks
// it against the sidecar's recorded digest.
func (s *Store) VerifyIntegrity(ctx context.Context, id string, cancelled <-chan struct{}) error {
	record, err := s.Get(id)
	if err != nil {
		return err
	}
	digest, err := fsid.Digest(ctx, s.payloadPath(id), cancelled)
	if err != nil {
		return err
	}
	if digest != record.Digest {
		return sderrors.New(sderrors.KindQuarantineIntegrity, "quarantined payload digest mismatch")
	}
	return nil
}

// Restore verifies integrity, copies the payload back to its original path
// (or overwrite target), restores its original permissions, clears the
// immutable attribute, and removes it from the store.
func (s *Store) Restore(ctx context.Context, id string, overwrite bool, cancelled <-chan struct{}) error {
	record, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := s.VerifyIntegrity(ctx, id, cancelled); err != nil {
		return err
	}

	if !overwrite {
		if _, err := os.Stat(record.OriginalPath); err == nil {
			return sderrors.New(sderrors.KindPathInvalid, "a file already exists at the original path")
		}
	}

	if err := setImmutable(s.payloadPath(id), false); err != nil {
		s.logger.Warnf("unable to clear immutable attribute: %v", err)
	}

	if err := copyFile(s.payloadPath(id), record.OriginalPath, os.FileMode(record.OriginalMode)); err != nil {
		return sderrors.Wrap(sderrors.KindQuarantineIntegrity, err, "unable to restore quarantined file")
	}

	return s.Purge(id)
}

// Purge permanently deletes a quarantined payload and its sidecar without
// restoring it.
func (s *Store) Purge(id string) error {
	setImmutable(s.payloadPath(id), false)
	must.OSRemove(s.payloadPath(id), s.logger)
	if err := os.Remove(s.sidecarPath(id)); err != nil && !os.IsNotExist(err) {
		return sderrors.Wrap(sderrors.KindQuarantineIntegrity, err, "unable to remove quarantine sidecar")
	}
	return nil
}

// copyFile copies src to dst with the given permissions, using a temp file
// plus rename so a reader never observes a partially written payload.
func copyFile(src, dst string, mode os.FileMode) error {
	source, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("unable to open source: %w", err)
	}
	defer source.Close()

	temp, err := os.CreateTemp(filepath.Dir(dst), ".searchdestroy-quarantine-*")
	if err != nil {
		return fmt.Errorf("unable to create temporary file: %w", err)
	}

	if _, err := io.Copy(temp, source); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return fmt.Errorf("unable to copy content: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return fmt.Errorf("unable to close temporary file: %w", err)
	}
	if err := os.Chmod(temp.Name(), mode); err != nil {
		os.Remove(temp.Name())
		return fmt.Errorf("unable to set permissions: %w", err)
	}
	if err := os.Rename(temp.Name(), dst); err != nil {
		os.Remove(temp.Name())
		return fmt.Errorf("unable to rename into place: %w", err)
	}
	return nil
}
