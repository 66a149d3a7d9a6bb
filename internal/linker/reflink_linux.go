//go:build linux

package linker

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// errReflinkUnsupported indicates the filesystem cannot clone files.
var errReflinkUnsupported = errors.New("reflink not supported by filesystem")

// cloneFile creates dstPath as a copy-on-write clone of srcPath.
func cloneFile(dstPath, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open reflink source %q: %w", srcPath, err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create reflink destination %q: %w", dstPath, err)
	}
	defer func() { _ = dst.Close() }()

	if err := unix.IoctlFileClone(int(dst.Fd()), int(src.Fd())); err != nil {
		_ = os.Remove(dstPath)
		if errors.Is(err, unix.EXDEV) ||
			errors.Is(err, unix.EOPNOTSUPP) ||
			errors.Is(err, unix.ENOTSUP) ||
			errors.Is(err, unix.ENOSYS) ||
			errors.Is(err, unix.EINVAL) ||
			errors.Is(err, unix.ENOTTY) {
			return errReflinkUnsupported
		}
		return fmt.Errorf("clone %q to %q: %w", srcPath, dstPath, err)
	}

	if err := dst.Sync(); err != nil {
		_ = os.Remove(dstPath)
		return fmt.Errorf("sync reflink destination %q: %w", dstPath, err)
	}
	return nil
}
