// Package mksort implements the sort-then-recurse-on-ties step of a lazy
// multi-key sort.
//
// A multi-key sort over expensive keys (file checksums) is expressed as a
// chain of Refine calls, one per key. Each call sorts only the sub-ranges
// that tied on all previous keys and reports the sub-ranges that still tie,
// so later keys are never evaluated for elements already known to be
// distinguishable. The key function is called exactly once per element per
// call; callers memoize across calls if a key is needed again.
package mksort

import (
	"cmp"
	"slices"
)

// Run is a half-open index range [Lo, Hi) into the items slice.
type Run struct {
	Lo, Hi int
}

// Len returns the number of elements in the run.
func (r Run) Len() int { return r.Hi - r.Lo }

// Whole returns the single run covering all n items.
func Whole(n int) []Run {
	if n == 0 {
		return nil
	}
	return []Run{{0, n}}
}

// Refine stable-sorts the items within each run by key and returns the
// maximal sub-runs of key-equal elements with two or more members (the ties
// a subsequent key would have to break). Elements outside the given runs are
// not touched and their keys are never evaluated.
func Refine[T any, K cmp.Ordered](items []T, runs []Run, key func(T) K, desc bool) []Run {
	var ties []Run
	for _, r := range runs {
		if r.Len() < 2 {
			continue
		}
		span := items[r.Lo:r.Hi]

		// Decorate: evaluate the key exactly once per element.
		type keyed struct {
			item T
			key  K
		}
		decorated := make([]keyed, len(span))
		for i, item := range span {
			decorated[i] = keyed{item: item, key: key(item)}
		}
		slices.SortStableFunc(decorated, func(a, b keyed) int {
			c := cmp.Compare(a.key, b.key)
			if desc {
				return -c
			}
			return c
		})
		for i, d := range decorated {
			span[i] = d.item
		}

		// Collect maximal runs of equal keys.
		lo := 0
		for lo < len(decorated) {
			hi := lo + 1
			for hi < len(decorated) && decorated[hi].key == decorated[lo].key {
				hi++
			}
			if hi-lo >= 2 {
				ties = append(ties, Run{r.Lo + lo, r.Lo + hi})
			}
			lo = hi
		}
	}
	return ties
}
