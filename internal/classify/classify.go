// Package classify partitions duplicate groups relative to a chosen
// original.
//
// Classification is strictly star-shaped: every non-original member is
// compared to the original only. Two copies might also be hard links of
// each other without being linked to the original; that is accepted, not an
// error, because a single reference point keeps the emitted plan simple.
package classify

import (
	"dupeplan/internal/policy"
	"dupeplan/internal/types"
)

// Organize partitions group − {original} into hard links (same inode),
// reflinks (same non-empty extent digest, different inode) and copies
// (everything else). The three sets are pairwise disjoint and together
// cover every non-original member.
func Organize(group types.DuplicateGroup, original *types.FileRecord) types.OrganizedGroup {
	og := types.OrganizedGroup{Original: original}
	for _, m := range group {
		if m == original {
			continue
		}
		switch {
		case m.Inode == original.Inode:
			// Already the same physical storage; nothing to do.
			og.HardLinks = append(og.HardLinks, m)
		case m.Extents != "" && original.Extents != "" && m.Extents == original.Extents:
			// Copy-on-write clone of the original; already space-free.
			og.Reflinks = append(og.Reflinks, m)
		default:
			og.Copies = append(og.Copies, m)
		}
	}
	return og
}

// OrganizeAll selects an original for each group with the given policy and
// classifies the rest of the group against it.
func OrganizeAll(groups []types.DuplicateGroup, p *policy.Policy, ctx policy.Context) []types.OrganizedGroup {
	organized := make([]types.OrganizedGroup, 0, len(groups))
	for _, group := range groups {
		original := p.Select(group, ctx)
		if original == nil {
			continue
		}
		organized = append(organized, Organize(group, original))
	}
	return organized
}
