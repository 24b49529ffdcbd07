// Package build carries process-wide build and debug flags, mirroring the
// small set of environment-derived switches a long-running security agent
// needs at init time.
package build

import "os"

// Name is the product name used in prompts, logs, and quarantine metadata.
const Name = "xanadOS Search & Destroy"

// DebugEnabled controls whether verbose debug logging is enabled. It is set
// automatically based on the SEARCHDESTROY_DEBUG environment variable.
var DebugEnabled bool

func init() {
	DebugEnabled = os.Getenv("SEARCHDESTROY_DEBUG") == "1"
}
