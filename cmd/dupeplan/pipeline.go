package main

import (
	"fmt"

	"dupeplan/internal/checksum"
	"dupeplan/internal/classify"
	"dupeplan/internal/compare"
	"dupeplan/internal/plan"
	"dupeplan/internal/policy"
	"dupeplan/internal/store"
	"dupeplan/internal/types"
)

// compareOptions holds the flags shared by report and apply: both run the
// same compare-select-classify pipeline before diverging on what to do with
// the organized groups.
type compareOptions struct {
	minSizeStr string
	maxSizeStr string
	styleStr   string
	policyStr  string
	prefer     []string
	hashAlgo   string
	noProgress bool
}

// validated is the parsed form of compareOptions. All user input is rejected
// here, before any file or database row is touched.
type validated struct {
	minSize int64
	maxSize int64
	style   plan.Style
	policy  *policy.Policy
	ctx     policy.Context
	engine  *checksum.Engine
}

func (o *compareOptions) validate() (*validated, error) {
	minSize, maxSize, err := parseSizeBounds(o.minSizeStr, o.maxSizeStr)
	if err != nil {
		return nil, err
	}
	style, err := plan.ParseStyle(o.styleStr)
	if err != nil {
		return nil, fmt.Errorf("invalid --dedup: %w", err)
	}
	pol, err := policy.Parse(o.policyStr)
	if err != nil {
		return nil, fmt.Errorf("invalid --policy: %w", err)
	}
	engine, err := checksum.NewEngine(o.hashAlgo)
	if err != nil {
		return nil, fmt.Errorf("invalid --hash: %w", err)
	}
	return &validated{
		minSize: minSize,
		maxSize: maxSize,
		style:   style,
		policy:  pol,
		ctx:     policy.Context{Roots: o.prefer},
		engine:  engine,
	}, nil
}

// organizedGroups runs the comparison pass and classifies every duplicate
// group against its policy-selected original.
func organizedGroups(st *store.Store, v *validated, showProgress bool) ([]types.OrganizedGroup, error) {
	finder := compare.New(st, v.engine, v.minSize, v.maxSize, showProgress)
	var groups []types.DuplicateGroup
	err := finder.FindDuplicateGroups(func(g types.DuplicateGroup) error {
		groups = append(groups, g)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return classify.OrganizeAll(groups, v.policy, v.ctx), nil
}

// cachedGroups is the zero-I/O variant: duplicate groups come from digests
// already in the database.
func cachedGroups(st *store.Store, v *validated) ([]types.OrganizedGroup, error) {
	var groups []types.DuplicateGroup
	err := compare.CachedGroups(st, v.minSize, v.maxSize, func(g types.DuplicateGroup) error {
		groups = append(groups, g)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return classify.OrganizeAll(groups, v.policy, v.ctx), nil
}
