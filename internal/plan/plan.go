// Package plan renders organized duplicate groups as an executable,
// idempotent deduplication script.
//
// The emitted script never destroys data outright: every link operation
// verifies content first, renames the duplicate aside as a backup, and only
// deletes the backup after the new link verifies against it. A content
// mismatch aborts the whole run before anything destructive happens.
package plan

import (
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"
	"time"

	"dupeplan/internal/types"
)

// Style is a validated link style: either a named builtin or a custom
// command template.
type Style struct {
	Name    string // builtin name, or "custom"
	Command string // command template with {orig} and {dup} placeholders
}

// builtinStyles maps style names to their command templates.
var builtinStyles = map[string]string{
	"hardlink": "ln -f {orig} {dup}",
	"softlink": "ln -sf {orig} {dup}",
	"reflink":  "cp -a --reflink=always {orig} {dup}",
}

// DefaultStyle is the link style used unless configured otherwise.
const DefaultStyle = "hardlink"

// KnownStyles lists the builtin style names, sorted.
func KnownStyles() []string {
	names := make([]string, 0, len(builtinStyles))
	for name := range builtinStyles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ParseStyle interprets s as a builtin style name or, if it contains a
// space, as a custom command template. Templates must contain both the
// {orig} and {dup} placeholders. Invalid styles are rejected here, at
// configuration time.
func ParseStyle(s string) (Style, error) {
	if s == "" {
		s = DefaultStyle
	}
	if cmd, ok := builtinStyles[s]; ok {
		return Style{Name: s, Command: cmd}, nil
	}
	if !strings.Contains(s, " ") {
		return Style{}, fmt.Errorf("unknown deduplication style %q (known: %s)",
			s, strings.Join(KnownStyles(), ", "))
	}
	for _, placeholder := range []string{"{orig}", "{dup}"} {
		if !strings.Contains(s, placeholder) {
			return Style{}, fmt.Errorf("no %s placeholder in deduplication command template %q", placeholder, s)
		}
	}
	return Style{Name: "custom", Command: s}, nil
}

// Emitter renders organized groups as a shell script.
type Emitter struct {
	style Style
	algo  string // content hash name, for group headers
}

// NewEmitter creates an Emitter for the given link style. algo names the
// content hash shown in group headers.
func NewEmitter(style Style, algo string) *Emitter {
	return &Emitter{style: style, algo: algo}
}

// Emit writes the deduplication script for all groups with at least one
// genuine copy. Groups whose non-original members are all hard links or
// reflinks produce no instructions.
func (e *Emitter) Emit(w io.Writer, groups []types.OrganizedGroup) error {
	linkCmd := strings.NewReplacer("{orig}", `"$orig"`, "{dup}", `"$dup"`).
		Replace(e.style.Command)

	if _, err := fmt.Fprintf(w, scriptPreamble, e.style.Name, linkCmd); err != nil {
		return err
	}

	for _, og := range groups {
		if len(og.Copies) == 0 {
			continue
		}
		if err := e.emitGroup(w, og); err != nil {
			return err
		}
	}
	return nil
}

func (e *Emitter) emitGroup(w io.Writer, og types.OrganizedGroup) error {
	orig := og.Original
	_, err := fmt.Fprintf(w, "# orig_path=%s size=%d mtime=%s inode=%d %s=%s\n",
		shellQuote(orig.Path), orig.Size, formatMTime(orig.MTimeNS),
		orig.Inode, e.algo, orig.Full)
	if err != nil {
		return err
	}

	// Stable output: sort copies by modification time, inode, path.
	copies := make([]*types.FileRecord, len(og.Copies))
	copy(copies, og.Copies)
	slices.SortFunc(copies, func(a, b *types.FileRecord) int {
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

	for _, dup := range copies {
		_, err := fmt.Fprintf(w, "relink %s %s # %s %d\n",
			shellQuote(orig.Path), shellQuote(dup.Path),
			formatMTime(dup.MTimeNS), dup.Inode)
		if err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(w)
	return err
}

func formatMTime(ns int64) string {
	return time.Unix(0, ns).UTC().Format("2006-01-02T15:04:05.000000000")
}

// safeShellWord matches words that need no quoting, mirroring shlex.quote.
var safeShellWord = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// shellQuote quotes s for POSIX sh.
func shellQuote(s string) string {
	if s != "" && safeShellWord.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// scriptPreamble is the safety harness every emitted script carries. The
// relink function is idempotent for already-hardlinked pairs (-ef); pairs
// that already share extents are excluded at plan generation, so re-running
// report after applying regenerates an empty plan. Verification failures
// abort before anything destructive, and the backup is only removed after
// the fresh link verifies against it.
const scriptPreamble = `#!/bin/sh
# Deduplication plan generated by dupeplan.
# Link style: %[1]s
#
# Each relink() call replaces a duplicate with a link to its original:
#   1. no-op when both paths already point at the same inode
#   2. abort unless duplicate and original are still byte-identical
#   3. rename the duplicate aside as a backup
#   4. create the link, verify it against the backup
#   5. delete the backup only after successful verification
set -u

relink() {
	orig=$1
	dup=$2
	if [ "$orig" -ef "$dup" ]; then
		echo "dupeplan: already linked: $dup"
		return 0
	fi
	if ! cmp -s -- "$orig" "$dup"; then
		echo "dupeplan: content mismatch, aborting: $dup" >&2
		exit 1
	fi
	bak="$dup.dupeplan.bak"
	if ! mv -- "$dup" "$bak"; then
		echo "dupeplan: cannot back up, aborting: $dup" >&2
		exit 1
	fi
	if %[2]s && cmp -s -- "$dup" "$bak"; then
		rm -- "$bak"
		echo "dupeplan: linked: $dup"
	else
		echo "dupeplan: link failed, restoring and aborting: $dup" >&2
		mv -f -- "$bak" "$dup"
		exit 1
	fi
}

`
