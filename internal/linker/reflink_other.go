//go:build !linux

package linker

import "errors"

// errReflinkUnsupported indicates the platform cannot clone files.
var errReflinkUnsupported = errors.New("reflink not supported on this platform")

func cloneFile(dstPath, srcPath string) error {
	return errReflinkUnsupported
}
