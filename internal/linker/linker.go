// Package linker applies a deduplication plan in-process.
//
// It is the programmatic equivalent of the emitted script and carries the
// same safety contract per copy: re-validate identity against the scanned
// record, verify content byte-for-byte against the original, rename the
// copy aside as a backup, create the link, verify the link against the
// backup, and only then delete the backup. Any failure after the rename
// restores the backup. The backup-verify-delete sequence is a critical
// section: cancellation is honored between copies, never inside one.
package linker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"dupeplan/internal/plan"
	"dupeplan/internal/progress"
	"dupeplan/internal/types"
)

// ErrContentMismatch indicates a copy's current content no longer matches
// its original. It is fatal: a mismatch this late means the filesystem
// changed under us and no link operation can be trusted.
var ErrContentMismatch = errors.New("content mismatch")

// backupSuffix is appended to a copy's path while its replacement link is
// being created and verified.
const backupSuffix = ".dupeplan.bak"

// Linker replaces verified duplicate copies with links to their originals.
// It is designed for single-use: create with New, call Apply once.
type Linker struct {
	style        plan.Style
	dryRun       bool
	showProgress bool
	log          *logrus.Entry
}

// New creates a Linker for the given link style.
func New(style plan.Style, dryRun, showProgress bool) *Linker {
	return &Linker{
		style:        style,
		dryRun:       dryRun,
		showProgress: showProgress,
		log:          logrus.WithField("component", "linker"),
	}
}

// stats tracks application progress.
type stats struct {
	totalCopies int
	linked      int
	skipped     int
	sets        int
	savedBytes  int64
	startTime   time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Linked %d/%d copies in %d sets (%d skipped), saved %s in %.1fs",
		s.linked, s.totalCopies, s.sets, s.skipped,
		humanize.IBytes(uint64(s.savedBytes)),
		time.Since(s.startTime).Seconds())
}

// Stats summarizes what Apply did.
type Stats struct {
	Linked     int
	Skipped    int
	SavedBytes int64
}

// Apply links every genuine copy in the given groups to its original.
// Cancellation via ctx takes effect between copies; a copy already past its
// backup rename is always carried through to link-verify-delete or restore.
func (l *Linker) Apply(ctx context.Context, groups []types.OrganizedGroup) (Stats, error) {
	st := &stats{startTime: time.Now()}
	for _, og := range groups {
		st.totalCopies += len(og.Copies)
	}
	bar := progress.New(l.showProgress, int64(st.totalCopies))
	bar.Describe(st)

	for _, og := range groups {
		if len(og.Copies) == 0 {
			continue
		}
		copies := sortedCopies(og.Copies)
		for _, dup := range copies {
			if err := ctx.Err(); err != nil {
				bar.Finish(st)
				return st.result(), err
			}
			linked, err := l.linkOne(og.Original, dup)
			if err != nil {
				bar.Finish(st)
				return st.result(), err
			}
			if linked {
				st.linked++
				st.savedBytes += dup.Size
			} else {
				st.skipped++
			}
			bar.Describe(st)
			bar.Set(uint64(st.linked + st.skipped))
		}
		st.sets++
		bar.Describe(st)
	}
	bar.Finish(st)
	return st.result(), nil
}

func (s *stats) result() Stats {
	return Stats{Linked: s.linked, Skipped: s.skipped, SavedBytes: s.savedBytes}
}

func sortedCopies(copies []*types.FileRecord) []*types.FileRecord {
	sorted := make([]*types.FileRecord, len(copies))
	copy(sorted, copies)
	slices.SortFunc(sorted, func(a, b *types.FileRecord) int {
		if a.MTimeNS != b.MTimeNS {
			if a.MTimeNS < b.MTimeNS {
				return -1
			}
			return 1
		}
		if a.Inode != b.Inode {
			if a.Inode < b.Inode {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Path, b.Path)
	})
	return sorted
}

// linkOne replaces one copy with a link to its original. It returns
// (false, nil) when the copy was skipped for a recoverable reason (file in
// use, vanished, or identity changed since scan). A content mismatch or any
// failure inside the backup sequence is fatal.
func (l *Linker) linkOne(orig, dup *types.FileRecord) (bool, error) {
	log := l.log.WithFields(logrus.Fields{"orig": orig.Path, "dup": dup.Path})

	// Advisory lock guards against racing with a writer holding the file.
	f, err := os.Open(dup.Path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info("copy vanished, skipping")
			return false, nil
		}
		return false, err
	}
	defer func() { _ = f.Close() }()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		log.Warn("copy locked by another process, skipping")
		return false, nil
	}

	// Re-validate identity against the scanned record: the comparison
	// used a snapshot, the filesystem may have moved on.
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false, fmt.Errorf("stat %q: no unix stat data", dup.Path)
	}
	if info.Size() != dup.Size || info.ModTime().UnixNano() != dup.MTimeNS || sys.Ino != dup.Inode {
		log.Info("copy changed since scan, skipping")
		return false, nil
	}

	// Final byte-for-byte verification before anything destructive.
	equal, err := filesEqual(orig.Path, dup.Path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info("file vanished during verification, skipping")
			return false, nil
		}
		return false, err
	}
	if !equal {
		return false, fmt.Errorf("%w: %s vs %s", ErrContentMismatch, dup.Path, orig.Path)
	}

	if l.dryRun {
		log.Info("would link (dry run)")
		return true, nil
	}

	// Critical section: backup, link, verify, delete-or-restore.
	backup := dup.Path + backupSuffix
	if err := os.Rename(dup.Path, backup); err != nil {
		return false, fmt.Errorf("back up %q: %w", dup.Path, err)
	}
	if err := l.createLink(orig.Path, dup.Path); err != nil {
		restoreErr := os.Rename(backup, dup.Path)
		if restoreErr != nil {
			return false, fmt.Errorf("link %q failed (%w) AND backup restore failed: %v; data preserved at %q",
				dup.Path, err, restoreErr, backup)
		}
		return false, fmt.Errorf("link %q: %w", dup.Path, err)
	}
	equal, err = filesEqual(dup.Path, backup)
	if err != nil || !equal {
		_ = os.Remove(dup.Path)
		restoreErr := os.Rename(backup, dup.Path)
		if restoreErr != nil {
			return false, fmt.Errorf("verify link %q failed AND backup restore failed: %v; data preserved at %q",
				dup.Path, restoreErr, backup)
		}
		if err != nil {
			return false, fmt.Errorf("verify link %q: %w", dup.Path, err)
		}
		return false, fmt.Errorf("%w: link %q does not match its backup", ErrContentMismatch, dup.Path)
	}
	if err := os.Remove(backup); err != nil {
		return false, fmt.Errorf("remove backup %q: %w", backup, err)
	}
	log.Info("linked")
	return true, nil
}

// createLink creates the replacement for a copy at dupPath, by style.
func (l *Linker) createLink(origPath, dupPath string) error {
	switch l.style.Name {
	case "hardlink":
		return os.Link(origPath, dupPath)
	case "softlink":
		// Symlink relative to the copy's directory so the link survives
		// tree moves that preserve structure.
		rel, err := filepath.Rel(filepath.Dir(dupPath), origPath)
		if err != nil {
			rel = origPath
		}
		return os.Symlink(rel, dupPath)
	case "reflink":
		return cloneFile(dupPath, origPath)
	default:
		cmd := strings.NewReplacer(
			"{orig}", shellQuote(origPath),
			"{dup}", shellQuote(dupPath),
		).Replace(l.style.Command)
		out, err := exec.Command("sh", "-c", cmd).CombinedOutput()
		if err != nil {
			return fmt.Errorf("command %q: %w (%s)", cmd, err, strings.TrimSpace(string(out)))
		}
		return nil
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
