// Package guard implements path canonicalization, risk classification, and
// allow/deny policy enforcement ahead of any scan engine dispatch.
package guard

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/text/unicode/norm"

	"github.com/xanados/searchdestroy-core/pkg/config"
	"github.com/xanados/searchdestroy-core/pkg/sderrors"
)

// Classification is the risk bucket assigned to a canonicalized path.
type Classification string

const (
	ClassificationStandard Classification = "standard"
	ClassificationElevated Classification = "elevated" // downloads directory, removable media
	ClassificationSystem   Classification = "system"   // system binary/config directories
)

// SkipReason identifies why a path was excluded from scanning without being
// an error.
type SkipReason string

const (
	SkipOversize     SkipReason = "oversize"
	SkipDenyListed   SkipReason = "deny_listed"
	SkipNotAllowed   SkipReason = "not_allow_listed"
	SkipDeviceFile   SkipReason = "device_file"
)

// systemPrefixes are directories classified as system-risk on a typical
// Linux desktop layout.
var systemPrefixes = []string{"/etc", "/usr", "/bin", "/sbin", "/lib", "/lib64", "/boot"}

// Guard canonicalizes and classifies paths against a configured scope root
// and a set of allow/deny glob patterns, enforcing resource budgets before a
// path is handed to the scheduler.
type Guard struct {
	scopeRoot      string
	followSymlinks bool
	maxFileSize    int64
	denyPatterns   []string
	allowPatterns  []string
}

// New constructs a Guard. scopeRoot may be empty, in which case no
// containment check is performed.
func New(scan config.ScanConfiguration, scopeRoot string, denyPatterns, allowPatterns []string) (*Guard, error) {
	for _, pattern := range denyPatterns {
		if _, err := doublestar.Match(pattern, "a"); err != nil {
			return nil, sderrors.Wrap(sderrors.KindPathInvalid, err, "invalid deny pattern: "+pattern)
		}
	}
	for _, pattern := range allowPatterns {
		if _, err := doublestar.Match(pattern, "a"); err != nil {
			return nil, sderrors.Wrap(sderrors.KindPathInvalid, err, "invalid allow pattern: "+pattern)
		}
	}
	root := scopeRoot
	if root != "" {
		resolved, err := filepath.Abs(root)
		if err != nil {
			return nil, sderrors.Wrap(sderrors.KindPathInvalid, err, "unable to resolve scope root")
		}
		root = resolved
	}
	return &Guard{
		scopeRoot:      root,
		followSymlinks: scan.FollowSymlinks,
		maxFileSize:    int64(scan.MaxFileSize),
		denyPatterns:   denyPatterns,
		allowPatterns:  allowPatterns,
	}, nil
}

// Canonicalize resolves path to an absolute, NFC-normalized form, optionally
// following symlinks, and verifies it does not escape the configured scope
// root. It never returns an error for missing files; that is a scan-time
// concern, not a guard-time one.
func (g *Guard) Canonicalize(path string) (string, error) {
	if !utf8.ValidString(path) {
		return "", sderrors.New(sderrors.KindPathInvalid, "path is not valid UTF-8")
	}

	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", sderrors.Wrap(sderrors.KindPathInvalid, err, "unable to compute absolute path")
	}

	resolved := absolute
	if g.followSymlinks {
		if target, err := filepath.EvalSymlinks(absolute); err == nil {
			resolved = target
		} else if !os.IsNotExist(err) {
			return "", sderrors.Wrap(sderrors.KindPathInvalid, err, "unable to resolve symlink")
		}
	}

	normalized := norm.NFC.String(resolved)

	if g.scopeRoot != "" {
		rel, err := filepath.Rel(g.scopeRoot, normalized)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", sderrors.New(sderrors.KindPathInvalid, "path escapes configured scope root")
		}
	}

	return normalized, nil
}

// Classify assigns a Classification to a canonicalized path based on
// filesystem location.
func (g *Guard) Classify(path string) Classification {
	for _, prefix := range systemPrefixes {
		if strings.HasPrefix(path, prefix+"/") || path == prefix {
			return ClassificationSystem
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		downloads := filepath.Join(home, "Downloads")
		if strings.HasPrefix(path, downloads+"/") || path == downloads {
			return ClassificationElevated
		}
	}
	if strings.HasPrefix(path, "/media/") || strings.HasPrefix(path, "/mnt/") || strings.HasPrefix(path, "/run/media/") {
		return ClassificationElevated
	}
	return ClassificationStandard
}

// IsAllowed evaluates the path against the deny/allow pattern lists. A deny
// match always wins; if an allow list is configured, the path must also
// match it.
func (g *Guard) IsAllowed(path string) bool {
	for _, pattern := range g.denyPatterns {
		if matched, _ := doublestar.Match(pattern, path); matched {
			return false
		}
		if matched, _ := doublestar.Match(pattern, filepath.Base(path)); matched {
			return false
		}
	}
	if len(g.allowPatterns) == 0 {
		return true
	}
	for _, pattern := range g.allowPatterns {
		if matched, _ := doublestar.Match(pattern, path); matched {
			return true
		}
		if matched, _ := doublestar.Match(pattern, filepath.Base(path)); matched {
			return true
		}
	}
	return false
}

// CheckResourceBudget validates a path against device-file exclusions and the
// configured maximum file size, returning a SkipReason rather than an error
// when a path is simply excluded by policy.
func (g *Guard) CheckResourceBudget(path string) (SkipReason, bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", false, sderrors.Wrap(sderrors.KindPathInvalid, err, "unable to stat path")
	}

	mode := info.Mode()
	if mode&(os.ModeDevice|os.ModeCharDevice|os.ModeSocket|os.ModeNamedPipe) != 0 {
		return SkipDeviceFile, true, nil
	}

	if !g.IsAllowed(path) {
		return SkipDenyListed, true, nil
	}

	if g.maxFileSize > 0 && info.Size() > g.maxFileSize {
		return SkipOversize, true, nil
	}

	return "", false, nil
}

// SniffContentType reads up to the first 4 KiB of path and returns the
// sniffed MIME type. Classify does not call it; classification is by
// location only.
func SniffContentType(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", sderrors.Wrap(sderrors.KindPathInvalid, err, "unable to open path for sniffing")
	}
	defer file.Close()

	buffer := make([]byte, 4096)
	n, err := file.Read(buffer)
	if err != nil && n == 0 {
		return "", nil
	}
	return http.DetectContentType(buffer[:n]), nil
}
