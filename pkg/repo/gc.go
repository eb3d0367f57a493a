package repo

import (
	"fmt"

	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
)

// GC deletes loose objects not reachable from any ref. Cache refs under
// refs/holo/ count as roots, so cached lens outputs survive until their
// refs are removed.
func (r *Repo) GC(dryRun bool) (*object.PruneSummary, error) {
	refs, err := r.ListRefs("")
	if err != nil {
		return nil, err
	}

	roots := make([]object.Hash, 0, len(refs)+1)
	for _, h := range refs {
		roots = append(roots, h)
	}
	if head, err := r.Head(); err == nil && object.ValidateHash(object.Hash(head)) == nil {
		roots = append(roots, object.Hash(head))
	}

	keep, err := r.Store.ReachableSet(roots)
	if err != nil {
		return nil, fmt.Errorf("gc: %w", err)
	}
	summary, err := r.Store.Prune(keep, dryRun)
	if err != nil {
		return nil, fmt.Errorf("gc: %w", err)
	}
	return summary, nil
}
