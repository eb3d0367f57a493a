package tree

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
)

// DefaultCacheSize is the number of parsed tree listings a Session keeps.
const DefaultCacheSize = 4096

// Backend is the tree half of a content store. *object.Store satisfies it.
type Backend interface {
	ReadTree(h object.Hash) (*object.TreeObj, error)
	WriteTree(tr *object.TreeObj) (object.Hash, error)
}

// Session binds nodes to a backend and caches parsed listings. A Session
// may be shared by every node of one projection.
type Session struct {
	backend Backend
	cache   *lru.Cache
}

// NewSession returns a Session over backend. size <= 0 selects
// DefaultCacheSize.
func NewSession(backend Backend, size int) (*Session, error) {
	if backend == nil {
		return nil, fmt.Errorf("tree session: nil backend")
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("tree session: %w", err)
	}
	return &Session{backend: backend, cache: cache}, nil
}

// NewTree returns an empty scratch node.
func (s *Session) NewTree() *Node {
	return &Node{sess: s, hash: object.EmptyTreeHash, loaded: true}
}

// Bind returns a clean node backed by the stored tree h. Its children are
// read on first access.
func (s *Session) Bind(h object.Hash) *Node {
	if h == "" || h == object.EmptyTreeHash {
		return s.NewTree()
	}
	return &Node{sess: s, hash: h}
}

// ReadTree returns the listing for h. Callers must not modify the result.
func (s *Session) ReadTree(ctx context.Context, h object.Hash) (*object.TreeObj, error) {
	if err := errs.Cancelled(ctx, "read tree"); err != nil {
		return nil, err
	}
	if h == object.EmptyTreeHash {
		return &object.TreeObj{}, nil
	}
	if v, ok := s.cache.Get(h); ok {
		return v.(*object.TreeObj), nil
	}
	tr, err := s.backend.ReadTree(h)
	if err != nil {
		return nil, errs.Storage("read tree "+h.Short(), err)
	}
	s.cache.Add(h, tr)
	return tr, nil
}

// WriteTree stores tr and returns its hash.
func (s *Session) WriteTree(ctx context.Context, tr *object.TreeObj) (object.Hash, error) {
	if err := errs.Cancelled(ctx, "write tree"); err != nil {
		return "", err
	}
	if len(tr.Entries) == 0 {
		return object.EmptyTreeHash, nil
	}
	h, err := s.backend.WriteTree(tr)
	if err != nil {
		return "", errs.Storage("write tree", err)
	}
	s.cache.Add(h, tr)
	return h, nil
}
