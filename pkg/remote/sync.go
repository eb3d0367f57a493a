package remote

import (
	"context"
	"fmt"
	"slices"

	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
)

// Limits shared by the client and Handler.
const (
	MaxBatchObjects           = 50000
	MaxBatchHaveHashes        = 20000
	MaxBatchNegotiationRounds = 1024
)

// haveSet is the growing list of hashes the local side holds, in the order
// they were learned. Batch requests carry only the most recent ones.
type haveSet struct {
	order []object.Hash
	set   map[object.Hash]struct{}
}

func newHaveSet(initial []object.Hash) *haveSet {
	hs := &haveSet{set: make(map[object.Hash]struct{}, len(initial))}
	for _, h := range object.UniqueHashes(initial) {
		hs.add(h)
	}
	return hs
}

func (hs *haveSet) add(h object.Hash) {
	if _, ok := hs.set[h]; ok || h == "" {
		return
	}
	hs.set[h] = struct{}{}
	hs.order = append(hs.order, h)
}

func (hs *haveSet) recent(max int) []object.Hash {
	if max > 0 && len(hs.order) > max {
		return slices.Clone(hs.order[len(hs.order)-max:])
	}
	return slices.Clone(hs.order)
}

// FetchIntoStore copies every object reachable from wants into store and
// returns how many were new. Batches are negotiated first; anything they
// leave out is fetched one object at a time.
func FetchIntoStore(ctx context.Context, c *Client, store *object.Store, wants, haves []object.Hash) (int, error) {
	roots := object.UniqueHashes(wants)
	if len(roots) == 0 {
		return 0, fmt.Errorf("fetch: no wants")
	}

	known := newHaveSet(haves)
	written := 0
	for round := 0; ; round++ {
		if round == MaxBatchNegotiationRounds {
			return written, fmt.Errorf("fetch: batch negotiation exceeded %d rounds", MaxBatchNegotiationRounds)
		}
		objects, truncated, err := c.BatchObjects(ctx, roots, known.recent(MaxBatchHaveHashes), MaxBatchObjects)
		if err != nil {
			return written, err
		}
		fresh := 0
		for _, obj := range objects {
			n, err := writeVerifiedObject(store, obj)
			if err != nil {
				return written, err
			}
			written += n
			fresh += n
			known.add(obj.Hash)
		}
		// A truncated round that taught nothing new is finished by point
		// fetches below.
		if !truncated || fresh == 0 {
			break
		}
	}

	err := store.Walk(roots, object.WalkOptions{
		Missing: func(h object.Hash) (bool, error) {
			obj, err := c.GetObject(ctx, h)
			if err != nil {
				return false, err
			}
			n, err := writeVerifiedObject(store, obj)
			written += n
			return err == nil, err
		},
	}, func(object.Hash, object.ObjectType, []byte) error {
		return ctx.Err()
	})
	return written, err
}

// CollectObjectsForPush returns the objects reachable from roots but not
// from stopRoots.
func CollectObjectsForPush(store *object.Store, roots, stopRoots []object.Hash) ([]ObjectRecord, error) {
	if len(object.UniqueHashes(roots)) == 0 {
		return nil, fmt.Errorf("push: no roots")
	}
	stop, err := store.ReachableSet(stopRoots)
	if err != nil {
		return nil, err
	}

	var out []ObjectRecord
	err = store.Walk(roots, object.WalkOptions{
		Skip: func(h object.Hash) bool {
			_, ok := stop[h]
			return ok
		},
		Missing: func(h object.Hash) (bool, error) {
			return false, fmt.Errorf("push: object %s is not stored", h.Short())
		},
	}, func(h object.Hash, t object.ObjectType, data []byte) error {
		out = append(out, ObjectRecord{Hash: h, Type: t, Data: data})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Push uploads the objects reachable from root that are not reachable from
// haves and returns how many were sent.
func Push(ctx context.Context, c *Client, store *object.Store, root object.Hash, haves []object.Hash) (int, error) {
	objects, err := CollectObjectsForPush(store, []object.Hash{root}, haves)
	if err != nil {
		return 0, err
	}
	if err := c.PushObjects(ctx, objects); err != nil {
		return 0, err
	}
	return len(objects), nil
}

// writeVerifiedObject stores obj after checking its hash and reports
// whether it was new.
func writeVerifiedObject(store *object.Store, obj ObjectRecord) (int, error) {
	if _, err := object.ParseObjectType(string(obj.Type)); err != nil {
		return 0, err
	}
	if computed := object.HashObject(obj.Type, obj.Data); computed != obj.Hash {
		return 0, fmt.Errorf("object hash mismatch: announced %s, content hashes to %s", obj.Hash.Short(), computed.Short())
	}
	if store.Has(obj.Hash) {
		return 0, nil
	}
	if _, err := store.Write(obj.Type, obj.Data); err != nil {
		return 0, err
	}
	return 1, nil
}
