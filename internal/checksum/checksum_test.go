package checksum

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine("blake3", opts...)
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	return e
}

func TestNewEngineUnknownAlgorithm(t *testing.T) {
	if _, err := NewEngine("crc31"); err == nil {
		t.Error("unknown algorithm should be rejected")
	}
}

func TestNewEngineDefaultAlgorithm(t *testing.T) {
	e, err := NewEngine("")
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	if e.Algorithm() != DefaultAlgorithm {
		t.Errorf("algorithm = %q, want %q", e.Algorithm(), DefaultAlgorithm)
	}
}

// TestDigestRegions checks that head, tail and full cover distinct byte
// ranges for a file larger than one region.
func TestDigestRegions(t *testing.T) {
	const region = 64
	data := make([]byte, 200)
	for i := range data {
		data[i] = byte(i)
	}
	path := writeFile(t, "f", data)
	e := newTestEngine(t, WithRegionSize(region))

	head, err := e.Digest(path, 200, RegionHead)
	if err != nil {
		t.Fatalf("head digest: %v", err)
	}
	tail, err := e.Digest(path, 200, RegionTail)
	if err != nil {
		t.Fatalf("tail digest: %v", err)
	}
	full, err := e.Digest(path, 200, RegionFull)
	if err != nil {
		t.Fatalf("full digest: %v", err)
	}

	if head == tail || head == full || tail == full {
		t.Errorf("digests not distinct: head=%s tail=%s full=%s", head, tail, full)
	}

	// The head digest must equal the digest of a file holding only the
	// first region's bytes.
	headOnly := writeFile(t, "head", data[:region])
	wantHead, err := e.Digest(headOnly, region, RegionFull)
	if err != nil {
		t.Fatalf("head-only digest: %v", err)
	}
	if head != wantHead {
		t.Errorf("head digest = %s, want %s", head, wantHead)
	}

	tailOnly := writeFile(t, "tail", data[200-region:])
	wantTail, err := e.Digest(tailOnly, region, RegionFull)
	if err != nil {
		t.Fatalf("tail-only digest: %v", err)
	}
	if tail != wantTail {
		t.Errorf("tail digest = %s, want %s", tail, wantTail)
	}
}

// TestDigestSmallFile checks that a file no larger than one region yields
// the same digest for every region request.
func TestDigestSmallFile(t *testing.T) {
	const region = 64
	data := bytes.Repeat([]byte("x"), region)
	path := writeFile(t, "small", data)
	e := newTestEngine(t, WithRegionSize(region))

	head, err := e.Digest(path, int64(len(data)), RegionHead)
	if err != nil {
		t.Fatalf("head digest: %v", err)
	}
	tail, err := e.Digest(path, int64(len(data)), RegionTail)
	if err != nil {
		t.Fatalf("tail digest: %v", err)
	}
	full, err := e.Digest(path, int64(len(data)), RegionFull)
	if err != nil {
		t.Fatalf("full digest: %v", err)
	}
	if head != tail || tail != full {
		t.Errorf("small file digests differ: head=%s tail=%s full=%s", head, tail, full)
	}
}

func TestDigestEmptyFile(t *testing.T) {
	path := writeFile(t, "empty", nil)
	e := newTestEngine(t)
	d, err := e.Digest(path, 0, RegionHead)
	if err != nil {
		t.Fatalf("empty file digest: %v", err)
	}
	if d == "" {
		t.Error("empty file digest should not be empty string")
	}
}

func TestDigestDeterministic(t *testing.T) {
	path := writeFile(t, "f", []byte("same content"))
	e := newTestEngine(t)
	d1, err := e.Digest(path, 12, RegionFull)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	d2, err := e.Digest(path, 12, RegionFull)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if d1 != d2 {
		t.Errorf("digests differ across calls: %s vs %s", d1, d2)
	}
}

func TestDigestVanishedFile(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Digest(filepath.Join(t.TempDir(), "missing"), 100, RegionHead)
	if !errors.Is(err, ErrFileGone) {
		t.Errorf("digest of missing file = %v, want ErrFileGone", err)
	}
}

func TestDigestSmallBuffer(t *testing.T) {
	data := bytes.Repeat([]byte("abc"), 1000)
	path := writeFile(t, "f", data)

	big := newTestEngine(t)
	small := newTestEngine(t, WithBufferSize(7))

	want, err := big.Digest(path, int64(len(data)), RegionFull)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	got, err := small.Digest(path, int64(len(data)), RegionFull)
	if err != nil {
		t.Fatalf("digest with small buffer: %v", err)
	}
	if got != want {
		t.Errorf("buffer size changed the digest: %s vs %s", got, want)
	}
}

func TestBytesHashedAccounting(t *testing.T) {
	data := make([]byte, 500)
	path := writeFile(t, "f", data)
	e := newTestEngine(t, WithRegionSize(64))

	if _, err := e.Digest(path, 500, RegionHead); err != nil {
		t.Fatalf("digest: %v", err)
	}
	if got := e.BytesHashed(); got != 64 {
		t.Errorf("BytesHashed = %d, want 64", got)
	}
	if got := e.DigestCount(); got != 1 {
		t.Errorf("DigestCount = %d, want 1", got)
	}
}

// fakeExtentSource returns canned layout text, optionally embedding the
// path the way filefrag does.
type fakeExtentSource struct {
	layout func(path string) (string, error)
}

func (f fakeExtentSource) Layout(path string) (string, error) { return f.layout(path) }

// TestExtentsDigestPathIndependent checks that two files with the same
// physical layout compare equal even though the layout text embeds their
// differing paths.
func TestExtentsDigestPathIndependent(t *testing.T) {
	src := fakeExtentSource{layout: func(path string) (string, error) {
		return "File layout of " + path + ":\n 0: 1000..1999: shared\n", nil
	}}
	e := newTestEngine(t, WithExtentSource(src))

	d1, err := e.ExtentsDigest("/data/a")
	if err != nil {
		t.Fatalf("extents digest: %v", err)
	}
	d2, err := e.ExtentsDigest("/data/b")
	if err != nil {
		t.Fatalf("extents digest: %v", err)
	}
	if d1 != d2 {
		t.Errorf("same layout digests differ: %s vs %s", d1, d2)
	}
	if len(d1) != 16 {
		t.Errorf("digest %q is not 16 hex chars", d1)
	}
}

func TestExtentsDigestDifferentLayouts(t *testing.T) {
	src := fakeExtentSource{layout: func(path string) (string, error) {
		if path == "/a" {
			return "extents 0..10", nil
		}
		return "extents 20..30", nil
	}}
	e := newTestEngine(t, WithExtentSource(src))

	d1, _ := e.ExtentsDigest("/a")
	d2, _ := e.ExtentsDigest("/b")
	if d1 == d2 {
		t.Error("different layouts yielded equal digests")
	}
}

func TestExtentsDisabled(t *testing.T) {
	e := newTestEngine(t, WithExtentSource(nil))
	if e.ExtentsEnabled() {
		t.Error("ExtentsEnabled with nil source should be false")
	}
	d, err := e.ExtentsDigest("/a")
	if err != nil || d != "" {
		t.Errorf("disabled extents digest = (%q, %v), want (\"\", nil)", d, err)
	}
}
