// Package compare discovers duplicate groups while computing as few
// checksums as possible.
//
// # Algorithm
//
// Records stream from the metadata store ordered by size and are split into
// maximal runs of equal size (size-classes). Singleton classes are skipped
// outright: they cost zero checksum work. Within a class a lazy multi-key
// sort refines ties by head digest, then tail, then full, then extent
// layout, evaluating each digest at most once per file per pass and only
// for files still tied on every earlier key. A class with no duplicates
// therefore costs at most one head digest per member.
//
// Newly computed digests are flushed back to the store whether or not the
// file lands in a group, which amortizes the cost across future runs. The
// flush happens after the pass's record stream has closed: the store serves
// one connection at a time, so a write issued while the cursor is open
// would block behind it. Duplicate groups are the maximal runs equal on all
// three content digests (extent digests only matter later, for
// classification).
//
// # Vanished files
//
// A file that disappears mid-pass is dropped from its size-class and the
// in-memory refinement restarts; every digest computed so far is memoized,
// so the restart costs no I/O. Any other read error aborts the pass, since
// a silently skipped file could corrupt the duplicate-set invariant.
package compare

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"dupeplan/internal/checksum"
	"dupeplan/internal/mksort"
	"dupeplan/internal/progress"
	"dupeplan/internal/store"
	"dupeplan/internal/types"
)

// Finder runs comparison passes over the metadata store.
// It is designed for single-use: create with New, call FindDuplicateGroups once.
type Finder struct {
	store        *store.Store
	engine       *checksum.Engine
	minSize      int64
	maxSize      int64
	showProgress bool
	log          *logrus.Entry
	stats        *stats
	bar          *progress.Bar
}

// New creates a Finder over the given store and checksum engine.
// maxSize <= 0 means no upper bound.
func New(st *store.Store, engine *checksum.Engine, minSize, maxSize int64, showProgress bool) *Finder {
	return &Finder{
		store:        st,
		engine:       engine,
		minSize:      minSize,
		maxSize:      maxSize,
		showProgress: showProgress,
		log:          logrus.WithField("component", "compare"),
	}
}

// stats tracks comparison progress.
type stats struct {
	classes   int
	files     int
	dropped   int
	groups    int
	members   int
	dupBytes  int64
	engine    *checksum.Engine
	startTime time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Compared %d files in %d size-classes, hashed %s, found %d duplicate sets (%d files, %s) in %.1fs",
		s.files, s.classes,
		humanize.IBytes(uint64(s.engine.BytesHashed())),
		s.groups, s.members, humanize.IBytes(uint64(s.dupBytes)),
		time.Since(s.startTime).Seconds())
}

// passFile wraps a record with the per-pass digest memo. Digest fields are
// seeded from the store and only ever filled in, never recomputed, which
// gives the at-most-once-per-pass computation guarantee.
type passFile struct {
	rec         *types.FileRecord
	head        string
	tail        string
	full        string
	extents     string
	extentsDone bool
	dirty       bool // a digest was newly computed this pass
	gone        bool // file vanished; drop from this comparison
}

func newPassFile(rec *types.FileRecord) *passFile {
	return &passFile{
		rec:         rec,
		head:        rec.Head,
		tail:        rec.Tail,
		full:        rec.Full,
		extents:     rec.Extents,
		extentsDone: rec.Extents != "",
	}
}

type stage int

const (
	stageHead stage = iota
	stageTail
	stageFull
	stageExtents
)

// digestWrite is one deferred store write, queued while the record stream
// is open and flushed once it has closed.
type digestWrite struct {
	path    string
	digests types.DigestSet
}

// FindDuplicateGroups runs one comparison pass, invoking fn for each
// duplicate group found. Digests computed along the way are persisted as a
// side effect, after the record stream has closed.
func (f *Finder) FindDuplicateGroups(fn func(types.DuplicateGroup) error) error {
	f.bar = progress.New(f.showProgress, -1)
	f.stats = &stats{engine: f.engine, startTime: time.Now()}
	f.bar.Describe(f.stats)

	// Digest writes and group emission are deferred until the stream is
	// done: the store's single connection is held by the open cursor, and
	// fn must be free to issue store operations of its own.
	var (
		class   []*passFile
		curSize int64 = -1
		writes  []digestWrite
		groups  []types.DuplicateGroup
	)
	collect := func(cls []*passFile) error {
		w, g, err := f.processClass(cls)
		if err != nil {
			return err
		}
		writes = append(writes, w...)
		groups = append(groups, g...)
		return nil
	}
	err := f.store.RecordsBySize(f.minSize, f.maxSize, func(rec *types.FileRecord) error {
		if rec.Size != curSize {
			if err := collect(class); err != nil {
				return err
			}
			class = class[:0:0]
			curSize = rec.Size
		}
		class = append(class, newPassFile(rec))
		return nil
	})
	if err != nil {
		return err
	}
	if err := collect(class); err != nil {
		return err
	}

	for _, w := range writes {
		if err := f.store.WriteDigests(w.path, w.digests); err != nil {
			return err
		}
	}
	for _, g := range groups {
		if err := fn(g); err != nil {
			return err
		}
	}
	f.bar.Finish(f.stats)
	return nil
}

// processClass refines one size-class and returns its pending digest
// writes and duplicate groups. Classes with fewer than two members are
// skipped before any digest work.
func (f *Finder) processClass(class []*passFile) (writes []digestWrite, groups []types.DuplicateGroup, err error) {
	f.stats.files += len(class)
	if len(class) >= 2 {
		f.stats.classes++
	}

	var runs []mksort.Run
	for len(class) >= 2 {
		r, dropped, err := f.refineClass(class)
		if err != nil {
			return nil, nil, err
		}
		if !dropped {
			runs = r
			break
		}
		// A member vanished: drop it and redo the in-memory refinement.
		// All surviving digests are memoized, so this costs no I/O.
		kept := class[:0]
		for _, p := range class {
			if !p.gone {
				kept = append(kept, p)
			} else {
				f.stats.dropped++
			}
		}
		class = kept
	}

	for _, p := range class {
		if p.dirty && !p.gone {
			p.syncRecord()
			writes = append(writes, digestWrite{path: p.rec.Path, digests: p.rec.Digests()})
		}
	}

	for _, r := range runs {
		group := make(types.DuplicateGroup, 0, r.Len())
		for _, p := range class[r.Lo:r.Hi] {
			p.syncRecord()
			group = append(group, p.rec)
		}
		f.stats.groups++
		f.stats.members += len(group)
		f.stats.dupBytes += group[0].Size * int64(len(group)-1)
		groups = append(groups, group)
	}
	f.bar.Describe(f.stats)
	return writes, groups, nil
}

// refineClass performs the lazy multi-key refinement of one size-class.
// It returns the maximal runs equal on (head, tail, full) with two or more
// members, or dropped=true if a member vanished and the class must be
// compacted and re-refined.
func (f *Finder) refineClass(class []*passFile) (groups []mksort.Run, dropped bool, err error) {
	runs := mksort.Whole(len(class))
	for st := stageHead; st <= stageFull; st++ {
		dropped, err = f.resolveRuns(class, runs, st)
		if err != nil || dropped {
			return nil, dropped, err
		}
		runs = mksort.Refine(class, runs, keyFor(st), false)
		if len(runs) == 0 {
			return nil, false, nil
		}
	}

	// runs are now the duplicate groups. One more refinement by extent
	// layout gives classification its digests and a deterministic order;
	// it does not affect membership.
	if f.engine.ExtentsEnabled() {
		dropped, err = f.resolveRuns(class, runs, stageExtents)
		if err != nil || dropped {
			return nil, dropped, err
		}
		mksort.Refine(class, runs, keyFor(stageExtents), false)
	}
	return runs, false, nil
}

// resolveRuns computes the stage digest for every member of the given runs.
func (f *Finder) resolveRuns(class []*passFile, runs []mksort.Run, st stage) (dropped bool, err error) {
	for _, r := range runs {
		for _, p := range class[r.Lo:r.Hi] {
			if err := f.resolve(p, st); err != nil {
				if errors.Is(err, checksum.ErrFileGone) {
					f.log.WithField("path", p.rec.Path).Info("file vanished, dropping from pass")
					dropped = true
					continue
				}
				return false, err
			}
		}
	}
	return dropped, nil
}

// resolve fills in the memoized digest for one stage, computing it on
// demand. Files no larger than one region share a single digest across
// head, tail and full, computed once.
func (f *Finder) resolve(p *passFile, st stage) error {
	small := p.rec.Size <= f.engine.RegionSize()
	switch st {
	case stageHead:
		if p.head != "" {
			return nil
		}
	case stageTail:
		if p.tail != "" {
			return nil
		}
		if small && p.head != "" {
			p.tail = p.head
			return nil
		}
	case stageFull:
		if p.full != "" {
			return nil
		}
		if small && p.head != "" {
			p.full = p.head
			return nil
		}
	case stageExtents:
		if p.extentsDone {
			return nil
		}
		d, err := f.engine.ExtentsDigest(p.rec.Path)
		if err != nil {
			if errors.Is(err, checksum.ErrFileGone) {
				p.gone = true
			}
			return err
		}
		p.extents = d
		p.extentsDone = true
		p.dirty = true
		return nil
	}

	d, err := f.engine.Digest(p.rec.Path, p.rec.Size, regionFor(st))
	if err != nil {
		if errors.Is(err, checksum.ErrFileGone) {
			p.gone = true
		}
		return err
	}
	p.dirty = true
	switch {
	case small:
		p.head, p.tail, p.full = d, d, d
	case st == stageHead:
		p.head = d
	case st == stageTail:
		p.tail = d
	case st == stageFull:
		p.full = d
	}
	return nil
}

// CachedGroups emits duplicate groups using only digests already stored,
// reading no file data at all. Only records with all three content digests
// participate; files never compared (or changed since) are absent, so a
// cached report is a subset of a full one, never wrong about what it shows.
// fn runs while the record stream is open and must not issue further store
// operations.
func CachedGroups(st *store.Store, minSize, maxSize int64, fn func(types.DuplicateGroup) error) error {
	var group types.DuplicateGroup
	flush := func() error {
		if len(group) < 2 {
			return nil
		}
		return fn(group)
	}
	err := st.RecordsContentResolved(minSize, maxSize, func(rec *types.FileRecord) error {
		if !rec.ContentResolved() {
			return nil
		}
		if len(group) > 0 && !sameContent(group[len(group)-1], rec) {
			if err := flush(); err != nil {
				return err
			}
			group = group[:0:0]
		}
		group = append(group, rec)
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

func sameContent(a, b *types.FileRecord) bool {
	return a.Size == b.Size && a.Head == b.Head && a.Tail == b.Tail && a.Full == b.Full
}

// syncRecord copies the memoized digests back onto the record so downstream
// consumers (classifier, emitter, store flush) see them.
func (p *passFile) syncRecord() {
	p.rec.Head = p.head
	p.rec.Tail = p.tail
	p.rec.Full = p.full
	p.rec.Extents = p.extents
}

func keyFor(st stage) func(*passFile) string {
	switch st {
	case stageHead:
		return func(p *passFile) string { return p.head }
	case stageTail:
		return func(p *passFile) string { return p.tail }
	case stageFull:
		return func(p *passFile) string { return p.full }
	default:
		return func(p *passFile) string { return p.extents }
	}
}

func regionFor(st stage) checksum.Region {
	switch st {
	case stageHead:
		return checksum.RegionHead
	case stageTail:
		return checksum.RegionTail
	default:
		return checksum.RegionFull
	}
}
