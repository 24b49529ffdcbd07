package filesystem

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	// applicationConfigurationName is the name of the configuration file
	// inside the user's home directory.
	applicationConfigurationName = ".searchdestroy.yaml"

	// ApplicationDataDirectoryName is the name of the application data
	// directory inside the user's home directory.
	ApplicationDataDirectoryName = ".searchdestroy"

	// ApplicationDaemonDirectoryName is the name of the daemon subdirectory
	// within the application data directory.
	ApplicationDaemonDirectoryName = "daemon"

	// ApplicationQuarantineDirectoryName is the name of the quarantine
	// subdirectory within the application data directory.
	ApplicationQuarantineDirectoryName = "quarantine"

	// ApplicationCachesDirectoryName is the name of the caches subdirectory
	// within the application data directory.
	ApplicationCachesDirectoryName = "caches"

	// ApplicationLogsDirectoryName is the name of the logs subdirectory
	// within the application data directory.
	ApplicationLogsDirectoryName = "logs"
)

// HomeDirectory is the cached path to the current user's home directory.
var HomeDirectory string

// ApplicationDataDirectoryPath is the path to the application data
// directory. It can be overridden by init functions, but should not be
// changed afterward. It is used as the base path for application storage.
var ApplicationDataDirectoryPath string

// ApplicationConfigurationPath is the path to the global configuration file.
var ApplicationConfigurationPath string

// init performs global initialization.
func init() {
	// Grab the current user's home directory.
	HomeDirectory = mustComputeHomeDirectory()

	// Compute the path to the application data directory.
	ApplicationDataDirectoryPath = filepath.Join(HomeDirectory, ApplicationDataDirectoryName)

	// Compute the path to the configuration file.
	ApplicationConfigurationPath = filepath.Join(HomeDirectory, applicationConfigurationName)
}

// DataSubpath computes (and optionally creates) subdirectories inside the
// application data directory.
func DataSubpath(create bool, pathComponents ...string) (string, error) {
	// Compute the target path.
	result := filepath.Join(ApplicationDataDirectoryPath, filepath.Join(pathComponents...))

	// If requested, attempt to create the directory and the specified
	// subpath. Also ensure that the data directory is hidden.
	if create {
		if err := os.MkdirAll(result, 0700); err != nil {
			return "", errors.Wrap(err, "unable to create subpath")
		} else if err := MarkHidden(ApplicationDataDirectoryPath); err != nil {
			return "", errors.Wrap(err, "unable to hide application data directory")
		}
	}

	// Success.
	return result, nil
}
