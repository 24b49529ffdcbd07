// +build linux

package monitor

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/xanados/searchdestroy-core/pkg/sderrors"
)

// watchMask is the set of inotify event types the monitor subscribes to for
// every watched path.
const watchMask = unix.IN_MODIFY | unix.IN_ATTRIB | unix.IN_CLOSE_WRITE |
	unix.IN_MOVED_FROM | unix.IN_MOVED_TO |
	unix.IN_CREATE | unix.IN_DELETE |
	unix.IN_DELETE_SELF | unix.IN_MOVE_SELF

// inotifyEventHeaderSize is the size of the fixed portion of a raw inotify
// event, preceding its variable-length name field.
const inotifyEventHeaderSize = unix.SizeofInotifyEvent

// rawEvent is one inotify event delivered to the run loop, already resolved
// back to the path it concerns and classified into a Kind.
type rawEvent struct {
	path string
	kind Kind
}

// kindForMask classifies a raw inotify event mask into a Kind. Delete-family
// bits are checked first since an event can carry modifier flags (e.g.
// IN_ISDIR) alongside its primary bit, and a deletion always dominates.
func kindForMask(mask uint32) Kind {
	switch {
	case mask&(unix.IN_DELETE|unix.IN_DELETE_SELF|unix.IN_MOVED_FROM|unix.IN_MOVE_SELF) != 0:
		return KindDelete
	case mask&(unix.IN_MODIFY|unix.IN_CLOSE_WRITE) != 0:
		return KindModify
	case mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0:
		return KindCreate
	case mask&unix.IN_ATTRIB != 0:
		return KindAttrChange
	default:
		return KindModify
	}
}

// backend wraps a single inotify file descriptor and the watch descriptors
// registered against it.
type backend struct {
	fd    int
	lru   *watchLRU
	paths map[string]int32 // path -> watch descriptor, for Unwatch and re-adds
}

func newBackend(maxWatches int) (*backend, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, sderrors.Wrap(sderrors.KindResourceExhausted, err, "unable to initialize inotify")
	}
	b := &backend{fd: fd, paths: make(map[string]int32)}
	b.lru = newWatchLRU(maxWatches, func(path string, wd int32) {
		unix.InotifyRmWatch(b.fd, uint32(wd))
		delete(b.paths, path)
	})
	return b, nil
}

// addWatch registers path for the fixed watchMask event set. Exhaustion of
// the kernel's per-user inotify watch limit surfaces as
// sderrors.KindResourceExhausted so the monitor can fall back to polling.
func (b *backend) addWatch(path string) error {
	wd, err := unix.InotifyAddWatch(b.fd, path, uint32(watchMask))
	if err != nil {
		if err == unix.ENOSPC {
			return sderrors.Wrap(sderrors.KindResourceExhausted, err, "inotify watch limit reached")
		}
		return sderrors.Wrap(sderrors.KindPathInvalid, err, "unable to add watch")
	}
	b.lru.add(path, int32(wd))
	b.paths[path] = int32(wd)
	return nil
}

func (b *backend) removeWatch(path string) {
	if wd, ok := b.paths[path]; ok {
		unix.InotifyRmWatch(b.fd, uint32(wd))
		delete(b.paths, path)
		b.lru.remove(path)
	}
}

func (b *backend) close() error {
	return unix.Close(b.fd)
}

// read waits up to 100ms for the non-blocking inotify file descriptor to
// become readable, reads it once, and parses the data into zero or more
// rawEvents. A wait that times out, or a read that finds no data (EAGAIN) or
// is interrupted (EINTR), returns no events and no error; any other poll or
// read error, such as the one reported once the descriptor is closed, is
// returned. It is intended to be called in a loop from a dedicated reader
// goroutine.
func (b *backend) read(buffer []byte) ([]rawEvent, error) {
	fds := []unix.PollFd{{Fd: int32(b.fd), Events: unix.POLLIN}}
	ready, err := unix.Poll(fds, 100)
	if err == unix.EINTR || (err == nil && ready == 0) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	n, err := unix.Read(b.fd, buffer)
	if err == unix.EAGAIN || err == unix.EINTR {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	var events []rawEvent
	offset := 0
	for offset+inotifyEventHeaderSize <= n {
		wd := int32(binary.LittleEndian.Uint32(buffer[offset : offset+4]))
		mask := binary.LittleEndian.Uint32(buffer[offset+4 : offset+8])
		nameLength := binary.LittleEndian.Uint32(buffer[offset+12 : offset+16])

		nameStart := offset + inotifyEventHeaderSize
		nameEnd := nameStart + int(nameLength)
		if nameEnd > n {
			break
		}

		path, ok := b.lru.pathForWatch(wd)
		if ok {
			if nameLength > 0 {
				name := cString(buffer[nameStart:nameEnd])
				path = path + "/" + name
			}
			if mask&unix.IN_IGNORED == 0 {
				events = append(events, rawEvent{path: path, kind: kindForMask(mask)})
			}
		}

		offset = nameEnd
	}
	return events, nil
}

// cString trims the trailing NUL padding inotify uses to align the
// variable-length name field.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
