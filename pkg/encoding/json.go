package encoding

import (
	"encoding/json"

	"github.com/xanados/searchdestroy-core/pkg/logging"
)

// LoadAndUnmarshalJSON loads data from the specified path and decodes it as
// JSON into the specified structure. Used for quarantine sidecar metadata.
func LoadAndUnmarshalJSON(path string, value interface{}) error {
	return LoadAndUnmarshal(path, func(data []byte) error {
		return json.Unmarshal(data, value)
	})
}

// MarshalAndSaveJSON marshals value as indented JSON and atomically saves it
// to path.
func MarshalAndSaveJSON(path string, logger *logging.Logger, value interface{}) error {
	return MarshalAndSave(path, logger, func() ([]byte, error) {
		return json.MarshalIndent(value, "", "  ")
	})
}
