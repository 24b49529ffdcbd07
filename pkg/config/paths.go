package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	// DataDirectoryName is the name of the core's data directory inside the
	// user's home directory.
	DataDirectoryName = ".searchdestroy"

	// configurationFileName is the name of the YAML configuration file inside
	// the data directory.
	configurationFileName = "config.yml"

	// LockFileName is the name of the lock file coordinating single-instance
	// access to the data directory.
	LockFileName = "daemon.lock"

	// CachesDirectoryName is the name of the scan cache subdirectory.
	CachesDirectoryName = "caches"

	// QuarantineDirectoryName is the name of the default quarantine
	// subdirectory, used when quarantine.root is unset.
	QuarantineDirectoryName = "quarantine"

	// SocketName is the name of the daemon's local IPC socket, placed under
	// the runtime directory rather than the data directory.
	SocketName = "sdcored.sock"
)

// HomeDirectory is the cached path to the current user's home directory.
var HomeDirectory string

// DataDirectoryPath is the path to the core's data directory.
var DataDirectoryPath string

// ConfigurationPath is the path to the YAML configuration file.
var ConfigurationPath string

func init() {
	h, err := os.UserHomeDir()
	if err != nil {
		panic(errors.Wrap(err, "unable to query user's home directory"))
	} else if h == "" {
		panic(errors.New("home directory path empty"))
	}
	HomeDirectory = h
	DataDirectoryPath = filepath.Join(HomeDirectory, DataDirectoryName)
	ConfigurationPath = filepath.Join(HomeDirectory, DataDirectoryName, configurationFileName)
}

// Subpath computes (and optionally creates) a subdirectory inside the data
// directory.
func Subpath(create bool, pathComponents ...string) (string, error) {
	result := filepath.Join(DataDirectoryPath, filepath.Join(pathComponents...))
	if create {
		if err := os.MkdirAll(result, 0700); err != nil {
			return "", errors.Wrap(err, "unable to create subpath")
		}
	}
	return result, nil
}

// RuntimeDirectory returns the directory in which transient runtime state
// (such as the daemon's IPC socket) should be placed, preferring
// $XDG_RUNTIME_DIR and falling back to the data directory.
func RuntimeDirectory() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return DataDirectoryPath
}

// SocketPath returns the path at which the daemon's local IPC socket should
// be created.
func SocketPath() string {
	return filepath.Join(RuntimeDirectory(), SocketName)
}

// QuarantineRoot returns the effective quarantine root directory: the
// configured quarantine.root if set, otherwise a default subdirectory of the
// data directory.
func (c *Configuration) QuarantineRoot() (string, error) {
	if c.Quarantine.Root != "" {
		return c.Quarantine.Root, nil
	}
	return Subpath(false, QuarantineDirectoryName)
}
