// Package fsid computes the stable file-identity key used to address the
// scan cache, and the lazy content digest used to detect changes that a
// (device, inode, size, mtime) tuple alone can miss (e.g. a rewrite that
// lands within the same mtime granularity).
package fsid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"syscall"

	"github.com/xanados/searchdestroy-core/pkg/sderrors"
	"github.com/xanados/searchdestroy-core/pkg/stream"
)

// copyPreemptionInterval is the number of hasher writes allowed between
// cancellation checks while digesting a file.
const copyPreemptionInterval = 1024

// Identity is the stable key identifying a regular file on disk, independent
// of its path, used as the scan cache's primary key.
type Identity struct {
	DeviceID         uint64
	InodeNumber      uint64
	Size             int64
	ModificationTime int64 // Unix nanoseconds.
}

// Key renders the identity as a single opaque cache-key string.
func (i Identity) Key() string {
	buf := make([]byte, 0, 64)
	buf = appendUint(buf, uint64(i.DeviceID))
	buf = append(buf, ':')
	buf = appendUint(buf, uint64(i.InodeNumber))
	buf = append(buf, ':')
	buf = appendUint(buf, uint64(i.Size))
	buf = append(buf, ':')
	buf = appendUint(buf, uint64(i.ModificationTime))
	return string(buf)
}

func appendUint(buf []byte, v uint64) []byte {
	start := len(buf)
	if v == 0 {
		return append(buf, '0')
	}
	for v > 0 {
		buf = append(buf, byte('0'+v%10))
		v /= 10
	}
	for l, r := start, len(buf)-1; l < r; l, r = l+1, r-1 {
		buf[l], buf[r] = buf[r], buf[l]
	}
	return buf
}

// Stat computes the Identity of the file at path without reading its
// contents. The path must already have been canonicalized by the path guard.
func Stat(path string) (Identity, os.FileInfo, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return Identity{}, nil, sderrors.Wrap(sderrors.KindPathInvalid, err, "unable to stat path")
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return Identity{}, nil, sderrors.New(sderrors.KindPathInvalid, "unable to extract raw filesystem information")
	}
	identity := Identity{
		DeviceID:         uint64(stat.Dev),
		InodeNumber:      uint64(stat.Ino),
		Size:             info.Size(),
		ModificationTime: info.ModTime().UnixNano(),
	}
	return identity, info, nil
}

// Digest computes the SHA-256 content digest of the file at path, checking
// cancelled between bounded write intervals so that a digest of a very large
// file remains cooperatively cancellable.
func Digest(ctx context.Context, path string, cancelled <-chan struct{}) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", sderrors.Wrap(sderrors.KindPathInvalid, err, "unable to open file")
	}
	defer file.Close()

	hasher := sha256.New()
	preemptable := stream.NewPreemptableWriter(hasher, cancelled, copyPreemptionInterval)
	buffer := make([]byte, 256*1024)
	if _, err := io.CopyBuffer(preemptable, file, buffer); err != nil {
		if err == stream.ErrWritePreempted || ctx.Err() != nil {
			return "", sderrors.New(sderrors.KindCancelled, "digest computation cancelled")
		}
		return "", sderrors.Wrap(sderrors.KindPathInvalid, err, "unable to read file")
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
