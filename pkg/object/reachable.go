package object

import (
	"fmt"
	"slices"
	"strings"
)

// Visit is called once for every object a walk reaches.
type Visit func(h Hash, t ObjectType, data []byte) error

// WalkOptions tunes Store.Walk.
type WalkOptions struct {
	// Skip prunes an object and everything only reachable through it.
	Skip func(Hash) bool
	// Missing is consulted for objects the store lacks. It may store the
	// object and return true to walk into it; false skips it. When nil,
	// missing objects are skipped.
	Missing func(Hash) (bool, error)
}

// Walk visits every object reachable from roots, depth first, reading each
// once.
func (s *Store) Walk(roots []Hash, opts WalkOptions, visit Visit) error {
	seen := make(map[Hash]struct{})
	stack := UniqueHashes(roots)
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[h]; ok || h == "" {
			continue
		}
		seen[h] = struct{}{}
		if opts.Skip != nil && opts.Skip(h) {
			continue
		}
		if !s.Has(h) {
			if opts.Missing == nil {
				continue
			}
			ok, err := opts.Missing(h)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
		}

		t, data, err := s.Read(h)
		if err != nil {
			return err
		}
		if err := visit(h, t, data); err != nil {
			return err
		}
		refs, err := ReferencedHashes(t, data)
		if err != nil {
			return fmt.Errorf("walk %s: %w", h.Short(), err)
		}
		stack = append(stack, refs...)
	}
	return nil
}

// ReachableSet returns every stored object reachable from roots. Missing
// objects are left out.
func (s *Store) ReachableSet(roots []Hash) (map[Hash]struct{}, error) {
	out := make(map[Hash]struct{})
	err := s.Walk(roots, WalkOptions{}, func(h Hash, _ ObjectType, _ []byte) error {
		out[h] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reachable set: %w", err)
	}
	return out, nil
}

// ReferencedHashes lists what an object points at: a commit's tree and
// parents, or a tree's entries.
func ReferencedHashes(t ObjectType, data []byte) ([]Hash, error) {
	switch t {
	case TypeBlob:
		return nil, nil
	case TypeCommit:
		c, err := UnmarshalCommit(data)
		if err != nil {
			return nil, err
		}
		return append([]Hash{c.TreeHash}, c.Parents...), nil
	case TypeTree:
		tr, err := UnmarshalTree(data)
		if err != nil {
			return nil, err
		}
		refs := make([]Hash, len(tr.Entries))
		for i, e := range tr.Entries {
			refs[i] = e.Hash
		}
		return refs, nil
	}
	return nil, fmt.Errorf("unsupported object type %q", t)
}

// UniqueHashes returns the distinct non-empty hashes of in, trimmed and
// sorted.
func UniqueHashes(in []Hash) []Hash {
	out := make([]Hash, 0, len(in))
	for _, h := range in {
		if h = Hash(strings.TrimSpace(string(h))); h != "" {
			out = append(out, h)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
