package compare

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"dupeplan/internal/checksum"
	"dupeplan/internal/store"
	"dupeplan/internal/types"
)

const testRegion = 64

// fixture wires a store, an engine and a Finder over a temp directory.
type fixture struct {
	t      *testing.T
	dir    string
	store  *store.Store
	engine *checksum.Engine
	inode  uint64
}

func newFixture(t *testing.T, opts ...checksum.Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "meta.sqlite"))
	if err != nil {
		t.Fatalf("store.Open error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	opts = append([]checksum.Option{
		checksum.WithRegionSize(testRegion),
		checksum.WithExtentSource(nil),
	}, opts...)
	engine, err := checksum.NewEngine("blake3", opts...)
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	return &fixture{t: t, dir: dir, store: st, engine: engine}
}

// addFile writes a file and records it. Inodes are synthetic and distinct;
// comparison never stats files, it only reads them.
func (f *fixture) addFile(name string, data []byte) string {
	f.t.Helper()
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		f.t.Fatalf("write %s: %v", name, err)
	}
	f.addRecord(path, int64(len(data)))
	return path
}

// addRecord records a path without requiring the file to exist.
func (f *fixture) addRecord(path string, size int64) {
	f.t.Helper()
	f.inode++
	if _, err := f.store.Upsert(path, size, 1000, f.inode); err != nil {
		f.t.Fatalf("Upsert(%q) error: %v", path, err)
	}
}

func (f *fixture) findGroups() []types.DuplicateGroup {
	f.t.Helper()
	finder := New(f.store, f.engine, 0, 0, false)
	var groups []types.DuplicateGroup
	err := finder.FindDuplicateGroups(func(g types.DuplicateGroup) error {
		groups = append(groups, g)
		return nil
	})
	if err != nil {
		f.t.Fatalf("FindDuplicateGroups error: %v", err)
	}
	return groups
}

func (f *fixture) record(path string) *types.FileRecord {
	f.t.Helper()
	var found *types.FileRecord
	err := f.store.RecordsBySize(0, 0, func(rec *types.FileRecord) error {
		if rec.Path == path {
			found = rec
		}
		return nil
	})
	if err != nil {
		f.t.Fatalf("RecordsBySize error: %v", err)
	}
	if found == nil {
		f.t.Fatalf("no record for %s", path)
	}
	return found
}

func groupPaths(g types.DuplicateGroup) map[string]bool {
	paths := make(map[string]bool, len(g))
	for _, r := range g {
		paths[r.Path] = true
	}
	return paths
}

// TestLazyTailDivergence is the canonical laziness scenario: three
// 1000-byte files where two are identical and the third diverges only in
// its tail. Head digests tie all three, tail digests split the third off,
// and only the two survivors pay for a full digest.
func TestLazyTailDivergence(t *testing.T) {
	f := newFixture(t)

	data := bytes.Repeat([]byte{0xAA}, 1000)
	divergent := bytes.Repeat([]byte{0xAA}, 1000)
	divergent[999] = 0xBB

	pathA := f.addFile("a", data)
	pathB := f.addFile("b", data)
	pathC := f.addFile("c", divergent)

	groups := f.findGroups()
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	paths := groupPaths(groups[0])
	if !paths[pathA] || !paths[pathB] || paths[pathC] {
		t.Errorf("group members = %v, want exactly {a, b}", paths)
	}

	// 3 heads + 3 tails + 2 fulls.
	if got := f.engine.DigestCount(); got != 8 {
		t.Errorf("DigestCount = %d, want 8", got)
	}
	wantBytes := int64(3*testRegion + 3*testRegion + 2*1000)
	if got := f.engine.BytesHashed(); got != wantBytes {
		t.Errorf("BytesHashed = %d, want %d", got, wantBytes)
	}

	// The divergent file's partial digests are flushed; its full digest
	// was never needed and stays empty.
	rec := f.record(pathC)
	if rec.Head == "" || rec.Tail == "" {
		t.Errorf("divergent file missing flushed partial digests: %+v", rec)
	}
	if rec.Full != "" {
		t.Errorf("divergent file has a full digest it never needed: %q", rec.Full)
	}
}

// TestSingletonClassesCostNothing checks that files alone in their
// size-class are never read at all.
func TestSingletonClassesCostNothing(t *testing.T) {
	f := newFixture(t)
	pathA := f.addFile("a", bytes.Repeat([]byte{1}, 100))
	pathB := f.addFile("b", bytes.Repeat([]byte{2}, 200))
	pathC := f.addFile("c", bytes.Repeat([]byte{3}, 300))

	groups := f.findGroups()
	if len(groups) != 0 {
		t.Fatalf("got %d groups, want 0", len(groups))
	}
	if got := f.engine.DigestCount(); got != 0 {
		t.Errorf("DigestCount = %d, want 0", got)
	}
	for _, p := range []string{pathA, pathB, pathC} {
		if rec := f.record(p); rec.Head != "" || rec.Tail != "" || rec.Full != "" {
			t.Errorf("singleton %s has digests: %+v", p, rec)
		}
	}
}

// TestSmallFilesSingleDigest checks that files no larger than one region
// resolve head, tail and full with one read each.
func TestSmallFilesSingleDigest(t *testing.T) {
	f := newFixture(t)
	data := []byte("identical small content")
	pathA := f.addFile("a", data)
	pathB := f.addFile("b", data)

	groups := f.findGroups()
	if len(groups) != 1 || len(groups[0]) != 2 {
		t.Fatalf("groups = %v, want one group of 2", groups)
	}
	if got := f.engine.DigestCount(); got != 2 {
		t.Errorf("DigestCount = %d, want 2 (one per file)", got)
	}

	rec := f.record(pathA)
	if rec.Head != rec.Tail || rec.Tail != rec.Full {
		t.Errorf("small file digests not shared: %+v", rec)
	}
	recB := f.record(pathB)
	if recB.Full != rec.Full {
		t.Errorf("duplicate digests differ: %q vs %q", recB.Full, rec.Full)
	}
}

// TestCachedDigestsNotRecomputed checks that a second pass over unchanged
// records reuses the flushed digests.
func TestCachedDigestsNotRecomputed(t *testing.T) {
	f := newFixture(t)
	data := bytes.Repeat([]byte{7}, 500)
	f.addFile("a", data)
	f.addFile("b", data)

	f.findGroups()
	first := f.engine.DigestCount()
	if first == 0 {
		t.Fatal("first pass computed no digests")
	}

	f.findGroups()
	if got := f.engine.DigestCount(); got != first {
		t.Errorf("second pass computed %d extra digests, want 0", got-first)
	}
}

// TestVanishedFileDropped checks that a record whose file is gone is
// dropped from its class without failing the pass or breaking the group.
func TestVanishedFileDropped(t *testing.T) {
	f := newFixture(t)
	data := bytes.Repeat([]byte{9}, 300)
	pathA := f.addFile("a", data)
	pathB := f.addFile("b", data)
	ghost := filepath.Join(f.dir, "ghost")
	f.addRecord(ghost, 300)

	groups := f.findGroups()
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	paths := groupPaths(groups[0])
	if !paths[pathA] || !paths[pathB] || paths[ghost] {
		t.Errorf("group members = %v, want exactly {a, b}", paths)
	}
}

// TestVanishedOfPairLeavesNoGroup checks the degenerate case where the
// vanish shrinks the class below two members.
func TestVanishedOfPairLeavesNoGroup(t *testing.T) {
	f := newFixture(t)
	f.addFile("a", bytes.Repeat([]byte{9}, 300))
	f.addRecord(filepath.Join(f.dir, "ghost"), 300)

	if groups := f.findGroups(); len(groups) != 0 {
		t.Errorf("got %d groups, want 0", len(groups))
	}
}

func TestDistinctContentSameSize(t *testing.T) {
	f := newFixture(t)
	a := bytes.Repeat([]byte{1}, 500)
	b := bytes.Repeat([]byte{2}, 500)
	pathA := f.addFile("a", a)
	f.addFile("b", b)

	groups := f.findGroups()
	if len(groups) != 0 {
		t.Fatalf("got %d groups, want 0", len(groups))
	}
	// Heads differed, so only head digests were computed and flushed.
	if got := f.engine.DigestCount(); got != 2 {
		t.Errorf("DigestCount = %d, want 2", got)
	}
	rec := f.record(pathA)
	if rec.Head == "" {
		t.Error("head digest not flushed for non-duplicate")
	}
	if rec.Tail != "" || rec.Full != "" {
		t.Errorf("unneeded digests computed: %+v", rec)
	}
}

// TestExtentDigestsForGroups checks that members of a duplicate group get
// extent digests when an extent source is available, and that equal
// layouts produce equal digests.
func TestExtentDigestsForGroups(t *testing.T) {
	src := sharedLayoutSource{}
	f := newFixture(t, checksum.WithExtentSource(src))

	data := bytes.Repeat([]byte{5}, 200)
	pathA := f.addFile("a", data)
	pathB := f.addFile("b", data)

	groups := f.findGroups()
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	recA := f.record(pathA)
	recB := f.record(pathB)
	if recA.Extents == "" || recA.Extents != recB.Extents {
		t.Errorf("extent digests = %q, %q; want equal and non-empty", recA.Extents, recB.Extents)
	}
}

type sharedLayoutSource struct{}

func (sharedLayoutSource) Layout(path string) (string, error) {
	return "layout of " + path + ": 0..100 shared\n", nil
}

// TestMultipleSizeClasses checks that a pass spanning several size-classes
// completes, finds the duplicates of every class, and persists the digests
// of classes that finish while the record stream is still yielding later
// ones — not just those of the last class.
func TestMultipleSizeClasses(t *testing.T) {
	f := newFixture(t)

	small := bytes.Repeat([]byte{1}, 300)
	smallA := f.addFile("small-a", small)
	smallB := f.addFile("small-b", small)
	large := bytes.Repeat([]byte{2}, 400)
	largeA := f.addFile("large-a", large)
	largeB := f.addFile("large-b", large)
	lone := f.addFile("lone", bytes.Repeat([]byte{3}, 500))

	groups := f.findGroups()
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}

	// Groups arrive in size order, one per class.
	first := groupPaths(groups[0])
	if !first[smallA] || !first[smallB] || len(first) != 2 {
		t.Errorf("first group = %v, want the 300-byte pair", first)
	}
	second := groupPaths(groups[1])
	if !second[largeA] || !second[largeB] || len(second) != 2 {
		t.Errorf("second group = %v, want the 400-byte pair", second)
	}

	// The earlier class's digests were flushed even though the stream had
	// more classes to yield.
	for _, p := range []string{smallA, smallB, largeA, largeB} {
		if rec := f.record(p); rec.Full == "" {
			t.Errorf("digests of %s not persisted", p)
		}
	}
	if rec := f.record(lone); rec.Head != "" {
		t.Errorf("singleton class was digested: %+v", rec)
	}
}

// TestDuplicateClassBeforeSingletonClass pins the minimal shape: a class
// with duplicates followed by a later class, so the duplicate class is
// processed while the record stream is still open.
func TestDuplicateClassBeforeSingletonClass(t *testing.T) {
	f := newFixture(t)
	data := bytes.Repeat([]byte{6}, 300)
	pathA := f.addFile("a", data)
	pathB := f.addFile("b", data)
	f.addFile("later", bytes.Repeat([]byte{7}, 400))

	groups := f.findGroups()
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	paths := groupPaths(groups[0])
	if !paths[pathA] || !paths[pathB] || len(paths) != 2 {
		t.Errorf("group = %v, want {a, b}", paths)
	}
	if rec := f.record(pathA); rec.Full == "" {
		t.Error("digests of the early class not persisted")
	}
}

// TestCachedGroupsMatchFullPass checks that after a full pass, the cached
// grouping reproduces the same duplicate sets without touching any file.
func TestCachedGroupsMatchFullPass(t *testing.T) {
	f := newFixture(t)
	data := bytes.Repeat([]byte{3}, 400)
	pathA := f.addFile("a", data)
	pathB := f.addFile("b", data)
	f.addFile("c", bytes.Repeat([]byte{4}, 400))

	f.findGroups()
	before := f.engine.DigestCount()

	var cached []types.DuplicateGroup
	err := CachedGroups(f.store, 0, 0, func(g types.DuplicateGroup) error {
		cached = append(cached, g)
		return nil
	})
	if err != nil {
		t.Fatalf("CachedGroups error: %v", err)
	}
	if len(cached) != 1 {
		t.Fatalf("got %d cached groups, want 1", len(cached))
	}
	paths := groupPaths(cached[0])
	if !paths[pathA] || !paths[pathB] || len(paths) != 2 {
		t.Errorf("cached group members = %v, want {a, b}", paths)
	}
	if got := f.engine.DigestCount(); got != before {
		t.Errorf("cached grouping computed %d digests, want 0", got-before)
	}
}

// TestCachedGroupsSkipsUnresolved checks that records without a full digest
// set never enter a cached group.
func TestCachedGroupsSkipsUnresolved(t *testing.T) {
	f := newFixture(t)
	f.addRecord(filepath.Join(f.dir, "x"), 100)
	f.addRecord(filepath.Join(f.dir, "y"), 100)

	err := CachedGroups(f.store, 0, 0, func(types.DuplicateGroup) error {
		t.Error("group emitted for records without digests")
		return nil
	})
	if err != nil {
		t.Fatalf("CachedGroups error: %v", err)
	}
}

func TestGroupsHonorSizeBounds(t *testing.T) {
	f := newFixture(t)
	small := bytes.Repeat([]byte{1}, 10)
	f.addFile("s1", small)
	f.addFile("s2", small)
	big := bytes.Repeat([]byte{2}, 5000)
	f.addFile("b1", big)
	f.addFile("b2", big)

	finder := New(f.store, f.engine, 100, 0, false)
	var groups []types.DuplicateGroup
	err := finder.FindDuplicateGroups(func(g types.DuplicateGroup) error {
		groups = append(groups, g)
		return nil
	})
	if err != nil {
		t.Fatalf("FindDuplicateGroups error: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if groups[0][0].Size != 5000 {
		t.Errorf("group size = %d, want 5000", groups[0][0].Size)
	}
}
