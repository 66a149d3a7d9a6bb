// Package types provides shared types used across the dupeplan codebase.
package types

import "time"

// FileRecord is the cached identity and digest state of one filesystem path.
// Path is the natural key. Digest fields are empty strings when not yet
// computed; they are only ever valid for the (Size, MTimeNS, Inode) identity
// they were computed against.
type FileRecord struct {
	Path    string
	Size    int64
	MTimeNS int64  // modification time, Unix nanoseconds
	Inode   uint64 // platform file identity
	Head    string // digest of the first region
	Tail    string // digest of the last region
	Full    string // digest of the whole file
	Extents string // digest of the physical extent layout
}

// ContentResolved reports whether all three content digests are present.
func (r *FileRecord) ContentResolved() bool {
	return r.Head != "" && r.Tail != "" && r.Full != ""
}

// MTime returns the modification time as a time.Time.
func (r *FileRecord) MTime() time.Time {
	return time.Unix(0, r.MTimeNS)
}

// DigestSet carries the four digest fields together for store writes.
type DigestSet struct {
	Head    string
	Tail    string
	Full    string
	Extents string
}

// Digests returns the record's digest fields as a DigestSet.
func (r *FileRecord) Digests() DigestSet {
	return DigestSet{Head: r.Head, Tail: r.Tail, Full: r.Full, Extents: r.Extents}
}

// UpsertResult describes what a metadata store upsert did.
type UpsertResult int

const (
	// Inserted means the path had no record and one was created.
	Inserted UpsertResult = iota
	// Updated means the identity changed and all digests were invalidated.
	Updated
	// Unchanged means the stored identity already matched.
	Unchanged
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	}
	return "unknown"
}

// DuplicateGroup is a set of records sharing size and all three content
// digests. Only membership is guaranteed; the relative order of members is
// unspecified unless a policy has been applied.
type DuplicateGroup []*FileRecord

// OrganizedGroup is a duplicate group partitioned relative to a chosen
// original: HardLinks share the original's inode, Reflinks share its extent
// layout but not its inode, Copies hold genuinely duplicated data.
type OrganizedGroup struct {
	Original  *FileRecord
	HardLinks []*FileRecord
	Reflinks  []*FileRecord
	Copies    []*FileRecord
}

// Semaphore implements a counting semaphore using a buffered channel.
// It limits concurrent access to a resource by blocking when the limit is reached.
type Semaphore chan struct{}

// NewSemaphore creates a semaphore that allows up to n concurrent acquisitions.
func NewSemaphore(n int) Semaphore { return make(chan struct{}, n) }

// Acquire blocks until a slot is available, then claims it.
func (s Semaphore) Acquire() { s <- struct{}{} }

// Release frees a slot, unblocking one waiting Acquire call.
func (s Semaphore) Release() { <-s }
