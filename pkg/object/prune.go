package object

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

// PruneSummary reports the outcome of Store.Prune.
type PruneSummary struct {
	Kept   int
	Pruned int
}

// ListObjects returns the hashes of all stored objects, sorted. Files that
// do not name an object, such as abandoned temp files, are ignored.
func (s *Store) ListObjects() ([]Hash, error) {
	dir := filepath.Join(s.root, "objects")
	var out []Hash
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if p != dir && filepath.Dir(p) != dir {
				return fs.SkipDir
			}
			return nil
		}
		h := Hash(filepath.Base(filepath.Dir(p)) + d.Name())
		if ValidateHash(h) == nil {
			out = append(out, h)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	slices.Sort(out)
	return out, nil
}

// Prune deletes every stored object not in keep. With dryRun set it only
// counts.
func (s *Store) Prune(keep map[Hash]struct{}, dryRun bool) (*PruneSummary, error) {
	hashes, err := s.ListObjects()
	if err != nil {
		return nil, err
	}
	summary := &PruneSummary{}
	for _, h := range hashes {
		if _, ok := keep[h]; ok {
			summary.Kept++
			continue
		}
		summary.Pruned++
		if dryRun {
			continue
		}
		if err := os.Remove(s.objectPath(h)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return summary, fmt.Errorf("prune %s: %w", h.Short(), err)
		}
	}
	return summary, nil
}
