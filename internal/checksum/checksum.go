// Package checksum computes partial and whole-file digests on demand.
//
// Region digests (head/tail/full) use a fixed region size (64 KiB by
// default): head covers the first region, tail the last, full the whole
// file. Files no larger than one region are a special case: head, tail and
// full are defined to be the same digest, computed with a single read.
// Reads go through a bounded buffer (10 MiB by default, capped to the
// requested region) so huge files never inflate memory use.
package checksum

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

const (
	// DefaultRegionSize is the size of the head and tail regions (64 KiB).
	DefaultRegionSize = 64 * 1024
	// DefaultBufferSize bounds the read buffer (10 MiB).
	DefaultBufferSize = 10 * 1024 * 1024
)

// ErrFileGone signals that a file vanished between listing and digesting.
// Callers drop the record from the current comparison; the stored record is
// left untouched.
var ErrFileGone = errors.New("file vanished")

// Region selects which part of a file a digest covers.
type Region int

const (
	RegionHead Region = iota // first region bytes
	RegionTail               // last region bytes
	RegionFull               // whole file
)

func (r Region) String() string {
	switch r {
	case RegionHead:
		return "head"
	case RegionTail:
		return "tail"
	case RegionFull:
		return "full"
	}
	return "unknown"
}

// hashAlgorithms is the registry of supported content hash constructors.
var hashAlgorithms = map[string]func() hash.Hash{
	"blake3": func() hash.Hash { return blake3.New() },
	"sha256": sha256.New,
	"md5":    md5.New,
}

// DefaultAlgorithm is the content hash used unless configured otherwise.
const DefaultAlgorithm = "blake3"

// Algorithms lists the supported hash algorithm names, sorted.
func Algorithms() []string {
	names := make([]string, 0, len(hashAlgorithms))
	for name := range hashAlgorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Engine computes content and extent-layout digests.
type Engine struct {
	algo       string
	newHash    func() hash.Hash
	regionSize int64
	bufSize    int64
	extents    ExtentSource
	log        *logrus.Entry

	bytesHashed atomic.Int64
	digests     atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegionSize overrides the head/tail region size.
func WithRegionSize(n int64) Option {
	return func(e *Engine) { e.regionSize = n }
}

// WithBufferSize overrides the read buffer bound.
func WithBufferSize(n int64) Option {
	return func(e *Engine) { e.bufSize = n }
}

// WithExtentSource overrides the physical extent layout source.
// Pass nil to disable extent digests entirely.
func WithExtentSource(src ExtentSource) Option {
	return func(e *Engine) { e.extents = src }
}

// NewEngine creates an Engine using the named hash algorithm.
// Unknown algorithm names are rejected before any file is touched.
func NewEngine(algo string, opts ...Option) (*Engine, error) {
	if algo == "" {
		algo = DefaultAlgorithm
	}
	newHash, ok := hashAlgorithms[algo]
	if !ok {
		return nil, fmt.Errorf("unknown hash algorithm %q (known: %v)", algo, Algorithms())
	}
	e := &Engine{
		algo:       algo,
		newHash:    newHash,
		regionSize: DefaultRegionSize,
		bufSize:    DefaultBufferSize,
		extents:    defaultExtentSource(),
		log:        logrus.WithField("component", "checksum"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Algorithm returns the configured content hash name.
func (e *Engine) Algorithm() string { return e.algo }

// RegionSize returns the head/tail region size in bytes.
func (e *Engine) RegionSize() int64 { return e.regionSize }

// BytesHashed returns the total bytes read for content digests so far.
func (e *Engine) BytesHashed() int64 { return e.bytesHashed.Load() }

// DigestCount returns the number of digests computed so far.
func (e *Engine) DigestCount() int64 { return e.digests.Load() }

// Digest computes the content digest of the given region of path.
// size is the file size from the caller's metadata; for files no larger
// than one region every region request resolves to the same single read.
// A vanished file yields ErrFileGone; any other I/O error is returned as-is
// and callers must treat it as fatal for the comparison pass, since it means
// the digest cannot be trusted.
func (e *Engine) Digest(path string, size int64, region Region) (string, error) {
	var offset, length int64
	switch {
	case size <= e.regionSize:
		offset, length = 0, size
	case region == RegionHead:
		offset, length = 0, e.regionSize
	case region == RegionTail:
		offset, length = size-e.regionSize, e.regionSize
	default:
		offset, length = 0, size
	}
	e.log.WithFields(logrus.Fields{
		"path": path, "region": region.String(), "offset": offset, "length": length,
	}).Debug("checksumming file")
	return e.hashRange(path, offset, length)
}

// hashRange digests length bytes of path starting at offset, reading
// sequentially through a bounded buffer.
func (e *Engine) hashRange(path string, offset, length int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrFileGone, path)
		}
		return "", err
	}
	defer func() { _ = f.Close() }()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return "", err
		}
	}

	bufSize := e.bufSize
	if length < bufSize {
		bufSize = length
	}
	if bufSize <= 0 {
		bufSize = 1
	}

	hasher := e.newHash()
	buf := make([]byte, bufSize)
	n, err := io.CopyBuffer(hasher, io.LimitReader(f, length), buf)
	e.bytesHashed.Add(n)
	if err != nil {
		return "", err
	}
	e.digests.Add(1)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
