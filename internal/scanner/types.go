package scanner

import (
	"os"
	"syscall"
)

// newFileEntry creates a fileEntry from os.FileInfo and path.
func newFileEntry(path string, info os.FileInfo) *fileEntry {
	stat := info.Sys().(*syscall.Stat_t)
	return &fileEntry{
		path:    path,
		size:    info.Size(),
		mtimeNS: info.ModTime().UnixNano(),
		inode:   stat.Ino,
	}
}
