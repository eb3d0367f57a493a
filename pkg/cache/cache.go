// Package cache stores lens outputs by spec object hash. Entries are refs
// under refs/holo/cache/ pointing at output trees; remote cache stores
// mirror them, and provenance refs under refs/holo/cache-remotes/ record
// which remote already holds which entry.
package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/JarvusInnovations/hologit-sub000/internal/logging"
	"github.com/JarvusInnovations/hologit-sub000/internal/metrics"
	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
	"github.com/JarvusInnovations/hologit-sub000/pkg/repo"
)

const (
	RefPrefix        = "refs/holo/cache/"
	ProvenancePrefix = "refs/holo/cache-remotes/"
)

// Ref is the cache entry ref for key.
func Ref(key object.Hash) string { return RefPrefix + string(key) }

// ProvenanceRef marks that remote holds the entry for key.
func ProvenanceRef(remote string, key object.Hash) string {
	return ProvenancePrefix + remote + "/" + string(key)
}

// Cache is the build cache of one repository.
type Cache struct {
	repo *repo.Repo
	log  *logging.Logger
}

// New returns the build cache stored in rp.
func New(rp *repo.Repo, log *logging.Logger) *Cache {
	return &Cache{repo: rp, log: log}
}

// Store returns the object store entries point into.
func (c *Cache) Store() *object.Store { return c.repo.Store }

// Lookup returns the output tree cached under key.
func (c *Cache) Lookup(key object.Hash) (object.Hash, bool, error) {
	h, ok, err := c.repo.ReadRef(Ref(key))
	if err != nil {
		return "", false, errs.Storage("read cache "+key.Short(), err)
	}
	if !ok || h == "" {
		return "", false, nil
	}
	return h, true, nil
}

// Put records out as the output for key. Nothing is written once ctx is
// done. Concurrent writers to one key race; the last one wins.
func (c *Cache) Put(ctx context.Context, key, out object.Hash) error {
	op := "write cache " + key.Short()
	if err := errs.Cancelled(ctx, op); err != nil {
		return err
	}
	if err := object.ValidateHash(out); err != nil {
		return errs.Execution(op, "invalid output hash: %v", err)
	}
	if !c.repo.Store.Has(out) {
		return errs.Execution(op, "output %s is not in the store", out.Short())
	}
	if err := c.repo.UpdateRef(Ref(key), out); err != nil {
		return errs.Storage(op, err)
	}
	return nil
}

// Provenance returns the tree remote is known to hold for key.
func (c *Cache) Provenance(remote string, key object.Hash) (object.Hash, bool, error) {
	h, ok, err := c.repo.ReadRef(ProvenanceRef(remote, key))
	if err != nil {
		return "", false, errs.Storage("read provenance "+key.Short(), err)
	}
	return h, ok && h != "", nil
}

func (c *Cache) markProvenance(remote string, key, out object.Hash) error {
	if err := c.repo.UpdateRef(ProvenanceRef(remote, key), out); err != nil {
		return errs.Storage("write provenance "+key.Short(), err)
	}
	return nil
}

// Pull asks r for key. A found entry is copied into the store, recorded
// locally and marked as held by r.
func (c *Cache) Pull(ctx context.Context, r Remote, key object.Hash) (object.Hash, bool, error) {
	op := fmt.Sprintf("pull cache %s from %s", key.Short(), r.Name())
	if err := errs.Cancelled(ctx, op); err != nil {
		return "", false, err
	}
	out, ok, err := r.Fetch(ctx, key, c.repo.Store)
	if err != nil {
		return "", false, errs.Network(op, err)
	}
	if !ok {
		return "", false, nil
	}
	if err := c.Put(ctx, key, out); err != nil {
		return "", false, err
	}
	if err := c.markProvenance(r.Name(), key, out); err != nil {
		return "", false, err
	}
	metrics.CachePulls.WithLabelValues(r.Name()).Inc()
	c.log.Debugf("pulled cache %s from %s", key.Short(), r.Name())
	return out, true, nil
}

// Push sends the entry for key to r unless its provenance marker already
// names out. It reports whether anything was sent.
func (c *Cache) Push(ctx context.Context, r Remote, key, out object.Hash) (bool, error) {
	op := fmt.Sprintf("push cache %s to %s", key.Short(), r.Name())
	if err := errs.Cancelled(ctx, op); err != nil {
		return false, err
	}
	if held, ok, err := c.Provenance(r.Name(), key); err != nil {
		return false, err
	} else if ok && held == out {
		return false, nil
	}
	if err := r.Push(ctx, key, out, c.repo.Store); err != nil {
		return false, errs.Network(op, err)
	}
	if err := c.markProvenance(r.Name(), key, out); err != nil {
		return false, err
	}
	metrics.CachePushes.WithLabelValues(r.Name()).Inc()
	c.log.Debugf("pushed cache %s to %s", key.Short(), r.Name())
	return true, nil
}

// Keys lists the cached keys.
func (c *Cache) Keys() ([]object.Hash, error) {
	refs, err := c.repo.ListRefs(strings.TrimPrefix(RefPrefix, "refs/"))
	if err != nil {
		return nil, errs.Storage("list cache", err)
	}
	out := make([]object.Hash, 0, len(refs))
	for name := range refs {
		out = append(out, object.Hash(strings.TrimPrefix(name, RefPrefix)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
