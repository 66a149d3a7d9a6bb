// Package policy selects the canonical original of a duplicate group.
//
// A policy is an ordered chain of named key extractors, each ascending or
// descending, applied as a lazy multi-key sort over the group; the first
// element after sorting is the original. Extractors are pure functions of
// the group and the selection context, so a policy is deterministic for a
// given group. Ties remaining after all keys fall back to input order.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"dupeplan/internal/mksort"
	"dupeplan/internal/types"
)

// DefaultChain prefers the oldest file, then files already heavily
// hard-linked (to avoid relinking a popular original), then the lowest
// inode and lexically first path for a fully deterministic pick.
const DefaultChain = "mtime,-links,inode,path"

// Context carries selection inputs beyond the group itself.
type Context struct {
	// Roots are preferred path prefixes, in priority order, used by the
	// "root" key: files under an earlier root sort first.
	Roots []string
}

// selState is the per-selection derived state shared by extractors.
type selState struct {
	ctx        Context
	inodeCount map[uint64]int
}

// applier sorts one key of the chain over the still-tied runs.
type applier func(st *selState, group []*types.FileRecord, runs []mksort.Run) []mksort.Run

// registry maps key names to appliers. Each entry sorts ascending by its
// natural order; a leading "-" in the chain flips it.
var registry = map[string]func(desc bool) applier{
	"mtime": func(desc bool) applier {
		return func(_ *selState, g []*types.FileRecord, runs []mksort.Run) []mksort.Run {
			return mksort.Refine(g, runs, func(r *types.FileRecord) int64 { return r.MTimeNS }, desc)
		}
	},
	"links": func(desc bool) applier {
		return func(st *selState, g []*types.FileRecord, runs []mksort.Run) []mksort.Run {
			return mksort.Refine(g, runs, func(r *types.FileRecord) int { return st.inodeCount[r.Inode] }, desc)
		}
	},
	"inode": func(desc bool) applier {
		return func(_ *selState, g []*types.FileRecord, runs []mksort.Run) []mksort.Run {
			return mksort.Refine(g, runs, func(r *types.FileRecord) uint64 { return r.Inode }, desc)
		}
	},
	"path": func(desc bool) applier {
		return func(_ *selState, g []*types.FileRecord, runs []mksort.Run) []mksort.Run {
			return mksort.Refine(g, runs, func(r *types.FileRecord) string { return r.Path }, desc)
		}
	},
	"depth": func(desc bool) applier {
		return func(_ *selState, g []*types.FileRecord, runs []mksort.Run) []mksort.Run {
			return mksort.Refine(g, runs, func(r *types.FileRecord) int {
				return strings.Count(r.Path, "/")
			}, desc)
		}
	},
	"root": func(desc bool) applier {
		return func(st *selState, g []*types.FileRecord, runs []mksort.Run) []mksort.Run {
			return mksort.Refine(g, runs, func(r *types.FileRecord) int {
				for i, root := range st.ctx.Roots {
					if strings.HasPrefix(r.Path, root) {
						return i
					}
				}
				return len(st.ctx.Roots)
			}, desc)
		}
	},
}

// KnownKeys lists the registered key names, sorted.
func KnownKeys() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Policy is a compiled original-selection chain.
type Policy struct {
	chain    string
	appliers []applier
}

// Parse compiles a comma-separated key chain such as "mtime,-links,inode".
// A leading "-" makes that key descending. Unknown names are rejected here,
// before any file is touched.
func Parse(chain string) (*Policy, error) {
	parts := strings.Split(chain, ",")
	p := &Policy{chain: chain}
	for _, part := range parts {
		name := strings.TrimSpace(part)
		if name == "" {
			return nil, fmt.Errorf("empty key in policy chain %q", chain)
		}
		desc := false
		if strings.HasPrefix(name, "-") {
			desc = true
			name = name[1:]
		}
		build, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown policy key %q (known: %s)",
				name, strings.Join(KnownKeys(), ", "))
		}
		p.appliers = append(p.appliers, build(desc))
	}
	return p, nil
}

// Default returns the compiled default policy.
func Default() *Policy {
	p, err := Parse(DefaultChain)
	if err != nil {
		panic(err) // the default chain is a constant; this cannot fail
	}
	return p
}

// String returns the chain the policy was compiled from.
func (p *Policy) String() string { return p.chain }

// Select picks the original of a non-empty group. The group slice itself is
// not modified.
func (p *Policy) Select(group types.DuplicateGroup, ctx Context) *types.FileRecord {
	if len(group) == 0 {
		return nil
	}
	if len(group) == 1 {
		return group[0]
	}

	st := &selState{ctx: ctx, inodeCount: make(map[uint64]int, len(group))}
	for _, r := range group {
		st.inodeCount[r.Inode]++
	}

	sorted := make([]*types.FileRecord, len(group))
	copy(sorted, group)
	runs := mksort.Whole(len(sorted))
	for _, apply := range p.appliers {
		runs = apply(st, sorted, runs)
		if len(runs) == 0 || runs[0].Lo > 0 {
			// The first element is no longer tied; later keys cannot
			// change the pick.
			break
		}
	}
	return sorted[0]
}
