// +build linux

package quarantine

import (
	"os"

	"golang.org/x/sys/unix"
)

// fsImmutableFlag is FS_IMMUTABLE_FL from <linux/fs.h>. It is not exported by
// golang.org/x/sys/unix, so it is reproduced here at its stable kernel ABI
// value; ext4, btrfs, and xfs all honor it via the same FS_IOC_SETFLAGS
// ioctl.
const fsImmutableFlag = 0x10

// setImmutable sets or clears the immutable attribute on path, the same
// mechanism chattr +i/-i uses. A quarantined payload is made immutable so
// that nothing, including the process that quarantined it, can modify or
// truncate it in place; restoring or purging clears the flag first.
func setImmutable(path string, immutable bool) error {
	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer file.Close()

	flags, err := unix.IoctlGetInt(int(file.Fd()), unix.FS_IOC_GETFLAGS)
	if err != nil {
		return err
	}

	if immutable {
		flags |= fsImmutableFlag
	} else {
		flags &^= fsImmutableFlag
	}

	return unix.IoctlSetInt(int(file.Fd()), unix.FS_IOC_SETFLAGS, flags)
}
