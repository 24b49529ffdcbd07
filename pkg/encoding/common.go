// Package encoding provides small shared helpers for loading, decoding,
// encoding, and atomically saving the handful of on-disk formats the core
// uses: YAML configuration, JSON quarantine sidecars, and Base62/Base64
// identifiers.
package encoding

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xanados/searchdestroy-core/pkg/logging"
	"github.com/xanados/searchdestroy-core/pkg/must"
)

// LoadAndUnmarshal reads the file at path and invokes unmarshal on its
// contents. Non-existence errors are passed through unwrapped (via
// os.IsNotExist) so that callers can distinguish "absent" from "invalid".
func LoadAndUnmarshal(path string, unmarshal func([]byte) error) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return fmt.Errorf("unable to load file: %w", err)
	}
	if err := unmarshal(data); err != nil {
		return fmt.Errorf("unable to unmarshal data: %w", err)
	}
	return nil
}

// MarshalAndSave invokes marshal and atomically writes the result to path
// using a temporary-file-plus-rename so that readers never observe a
// partially written file. The file is created with 0600 permissions.
func MarshalAndSave(path string, logger *logging.Logger, marshal func() ([]byte, error)) error {
	data, err := marshal()
	if err != nil {
		return fmt.Errorf("unable to marshal message: %w", err)
	}

	directory := filepath.Dir(path)
	temporary, err := os.CreateTemp(directory, ".searchdestroy-atomic-*")
	if err != nil {
		return fmt.Errorf("unable to create temporary file: %w", err)
	}

	if _, err := temporary.Write(data); err != nil {
		must.Close(temporary, logger)
		must.OSRemove(temporary.Name(), logger)
		return fmt.Errorf("unable to write temporary file: %w", err)
	}
	if err := temporary.Close(); err != nil {
		must.OSRemove(temporary.Name(), logger)
		return fmt.Errorf("unable to close temporary file: %w", err)
	}
	if err := os.Chmod(temporary.Name(), 0600); err != nil {
		must.OSRemove(temporary.Name(), logger)
		return fmt.Errorf("unable to set file permissions: %w", err)
	}
	if err := os.Rename(temporary.Name(), path); err != nil {
		must.OSRemove(temporary.Name(), logger)
		return fmt.Errorf("unable to rename file into place: %w", err)
	}

	return nil
}
