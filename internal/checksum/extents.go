package checksum

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ExtentSource returns the raw physical-layout description of a file.
// The text must be stable for a given physical layout and must not depend on
// the path beyond occurrences of the path string itself, which the engine
// strips before digesting.
type ExtentSource interface {
	Layout(path string) (string, error)
}

// filefragSource reads extent layouts from filefrag(8).
type filefragSource struct{}

func (filefragSource) Layout(path string) (string, error) {
	out, err := exec.Command("filefrag", "-v", path).Output()
	if err != nil {
		// filefrag reports a missing file as a generic failure; decide
		// from a stat whether the file is gone or genuinely unreadable.
		if _, statErr := os.Lstat(path); os.IsNotExist(statErr) {
			return "", fmt.Errorf("%w: %s", ErrFileGone, path)
		}
		return "", fmt.Errorf("filefrag %q: %w", path, err)
	}
	return string(out), nil
}

// defaultExtentSource returns the filefrag-backed source, or nil when
// filefrag is not installed. A nil source disables extent digests: duplicate
// grouping is unaffected, existing reflinks are just classified as copies,
// which only makes the emitted plan more conservative.
func defaultExtentSource() ExtentSource {
	if _, err := exec.LookPath("filefrag"); err != nil {
		return nil
	}
	return filefragSource{}
}

// ExtentsEnabled reports whether an extent layout source is available.
func (e *Engine) ExtentsEnabled() bool { return e.extents != nil }

// ExtentsDigest digests the canonicalized physical extent layout of path.
// Two files with identical physical layouts but different paths compare
// equal because every occurrence of the path string is stripped first.
// The layout text is not adversarial input, so a fast non-cryptographic
// hash is sufficient here.
func (e *Engine) ExtentsDigest(path string) (string, error) {
	if e.extents == nil {
		return "", nil
	}
	layout, err := e.extents.Layout(path)
	if err != nil {
		return "", err
	}
	canonical := strings.ReplaceAll(layout, path, "")
	return fmt.Sprintf("%016x", xxhash.Sum64String(canonical)), nil
}
