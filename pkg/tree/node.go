// Package tree implements an in-memory, copy-on-write view of stored
// directory trees. Nodes load their children lazily, track modification
// with a dirty flag that propagates to the root, and write only what
// changed.
package tree

import (
	"context"
	"errors"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
)

// Blob is an immutable file reference.
type Blob struct {
	Hash object.Hash
	Mode string
}

type child struct {
	node *Node
	blob Blob
}

func (c child) isTree() bool { return c.node != nil }

// Entry is one live name in a node.
type Entry struct {
	Name string
	Blob Blob
	Tree *Node
}

// IsTree reports whether the entry is a subtree.
func (e Entry) IsTree() bool { return e.Tree != nil }

// Node is a directory in the virtual tree. Its hash is valid only while the
// node is clean.
type Node struct {
	sess   *Session
	parent atomic.Pointer[Node]
	dirty  atomic.Bool

	mu        sync.Mutex
	hash      object.Hash
	loaded    bool
	base      map[string]child
	overrides map[string]*child // nil value deletes the base entry
}

// Session returns the session the node is bound to.
func (n *Node) Session() *Session { return n.sess }

// Dirty reports whether the node has unwritten changes.
func (n *Node) Dirty() bool { return n.dirty.Load() }

// Hash returns the node's hash and whether it is trustworthy.
func (n *Node) Hash() (object.Hash, bool) {
	if n.dirty.Load() {
		return "", false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hash, true
}

func (n *Node) clean() bool { return !n.dirty.Load() }

func (n *Node) markDirty() {
	for cur := n; cur != nil; cur = cur.parent.Load() {
		if cur.dirty.Swap(true) {
			return
		}
	}
}

func (n *Node) ensureLoaded(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.loadLocked(ctx)
}

func (n *Node) loadLocked(ctx context.Context) error {
	if n.loaded {
		return nil
	}
	tr, err := n.sess.ReadTree(ctx, n.hash)
	if err != nil {
		return err
	}
	base := make(map[string]child, len(tr.Entries))
	for _, e := range tr.Entries {
		if e.IsDir() {
			sub := n.sess.Bind(e.Hash)
			sub.parent.Store(n)
			base[e.Name] = child{node: sub}
			continue
		}
		base[e.Name] = child{blob: Blob{Hash: e.Hash, Mode: e.Mode}}
	}
	n.base = base
	n.loaded = true
	return nil
}

func (n *Node) lookupLocked(name string) (child, bool) {
	if c, ok := n.overrides[name]; ok {
		if c == nil {
			return child{}, false
		}
		return *c, true
	}
	c, ok := n.base[name]
	return c, ok
}

func (n *Node) viewLocked() map[string]child {
	out := make(map[string]child, len(n.base)+len(n.overrides))
	for name, c := range n.base {
		out[name] = c
	}
	for name, c := range n.overrides {
		if c == nil {
			delete(out, name)
			continue
		}
		out[name] = *c
	}
	return out
}

// snapshot loads the node and returns a copy of its live entries.
func (n *Node) snapshot(ctx context.Context) (map[string]child, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.loadLocked(ctx); err != nil {
		return nil, err
	}
	return n.viewLocked(), nil
}

func (n *Node) setChild(name string, c child) {
	if c.node != nil {
		c.node.parent.Store(n)
	}
	n.mu.Lock()
	if n.overrides == nil {
		n.overrides = make(map[string]*child)
	}
	n.overrides[name] = &c
	n.mu.Unlock()
	n.markDirty()
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" || path == "." {
		return nil
	}
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p == "" || p == "." {
			continue
		}
		parts = append(parts, p)
	}
	return parts
}

// Lookup returns the entry at path relative to n.
func (n *Node) Lookup(ctx context.Context, path string) (Entry, bool, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return Entry{Tree: n}, true, nil
	}
	cur := n
	for i, name := range parts {
		if err := cur.ensureLoaded(ctx); err != nil {
			return Entry{}, false, err
		}
		cur.mu.Lock()
		c, ok := cur.lookupLocked(name)
		cur.mu.Unlock()
		if !ok {
			return Entry{}, false, nil
		}
		if i == len(parts)-1 {
			return Entry{Name: name, Blob: c.blob, Tree: c.node}, true, nil
		}
		if !c.isTree() {
			return Entry{}, false, nil
		}
		cur = c.node
	}
	return Entry{}, false, nil
}

// GetChild returns the subtree at path, or nil if there is none.
func (n *Node) GetChild(ctx context.Context, path string) (*Node, error) {
	e, ok, err := n.Lookup(ctx, path)
	if err != nil || !ok {
		return nil, err
	}
	return e.Tree, nil
}

// GetOrCreateChain returns the nodes from n to the subtree at path,
// creating empty directories (and replacing files) as needed. Nodes along
// the chain are marked dirty only when something was created.
func (n *Node) GetOrCreateChain(ctx context.Context, path string) ([]*Node, error) {
	chain := []*Node{n}
	cur := n
	for _, name := range splitPath(path) {
		if err := cur.ensureLoaded(ctx); err != nil {
			return nil, err
		}
		cur.mu.Lock()
		c, ok := cur.lookupLocked(name)
		cur.mu.Unlock()
		if !ok || !c.isTree() {
			c = child{node: cur.sess.NewTree()}
			cur.setChild(name, c)
		}
		cur = c.node
		chain = append(chain, cur)
	}
	return chain, nil
}

// SetBlob places a file at name. Setting an identical blob is a no-op.
func (n *Node) SetBlob(ctx context.Context, name string, b Blob) error {
	if b.Mode == "" {
		b.Mode = object.TreeModeFile
	}
	n.mu.Lock()
	if err := n.loadLocked(ctx); err != nil {
		n.mu.Unlock()
		return err
	}
	c, ok := n.lookupLocked(name)
	n.mu.Unlock()
	if ok && !c.isTree() && c.blob == b {
		return nil
	}
	n.setChild(name, child{blob: b})
	return nil
}

// SetTree places sub at name and makes n its parent. Setting the same node,
// or a clean node with the same hash as a clean existing one, is a no-op.
func (n *Node) SetTree(ctx context.Context, name string, sub *Node) error {
	n.mu.Lock()
	if err := n.loadLocked(ctx); err != nil {
		n.mu.Unlock()
		return err
	}
	c, ok := n.lookupLocked(name)
	n.mu.Unlock()
	if ok && c.isTree() {
		if c.node == sub {
			return nil
		}
		if h1, ok1 := c.node.Hash(); ok1 {
			if h2, ok2 := sub.Hash(); ok2 && h1 == h2 {
				return nil
			}
		}
	}
	n.setChild(name, child{node: sub})
	return nil
}

// DeleteChild removes name. When the node's children have not been loaded
// the deletion is recorded without checking and the node is marked dirty.
func (n *Node) DeleteChild(ctx context.Context, name string) error {
	if err := errs.Cancelled(ctx, "delete child"); err != nil {
		return err
	}
	n.mu.Lock()
	if n.loaded {
		if _, ok := n.lookupLocked(name); !ok {
			n.mu.Unlock()
			return nil
		}
	}
	if n.overrides == nil {
		n.overrides = make(map[string]*child)
	}
	n.overrides[name] = nil
	n.mu.Unlock()
	n.markDirty()
	return nil
}

// Entries returns the node's live entries sorted by name.
func (n *Node) Entries(ctx context.Context) ([]Entry, error) {
	view, err := n.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(view))
	for name, c := range view {
		out = append(out, Entry{Name: name, Blob: c.blob, Tree: c.node})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// WalkFunc is called for every entry beneath the walk root. Returning
// fs.SkipDir from a subtree entry skips its contents.
type WalkFunc func(path string, e Entry) error

// Walk visits entries depth-first in name order.
func (n *Node) Walk(ctx context.Context, fn WalkFunc) error {
	return n.walk(ctx, "", fn)
}

func (n *Node) walk(ctx context.Context, prefix string, fn WalkFunc) error {
	entries, err := n.Entries(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		p := prefix + e.Name
		if err := fn(p, e); err != nil {
			if errors.Is(err, fs.SkipDir) && e.IsTree() {
				continue
			}
			return err
		}
		if e.IsTree() {
			if err := e.Tree.walk(ctx, p+"/", fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Write stores every dirty subtree and returns n's hash. A clean node
// returns its hash without touching the store.
func (n *Node) Write(ctx context.Context) (object.Hash, error) {
	if n.clean() {
		n.mu.Lock()
		defer n.mu.Unlock()
		return n.hash, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.loadLocked(ctx); err != nil {
		return "", err
	}
	view := n.viewLocked()

	names := make([]string, 0, len(view))
	for name := range view {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]object.TreeEntry, 0, len(names))
	for _, name := range names {
		c := view[name]
		if !c.isTree() {
			entries = append(entries, object.TreeEntry{Name: name, Mode: c.blob.Mode, Hash: c.blob.Hash})
			continue
		}
		h, err := c.node.Write(ctx)
		if err != nil {
			return "", err
		}
		if h == object.EmptyTreeHash {
			continue
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: object.TreeModeDir, Hash: h})
	}

	h, err := n.sess.WriteTree(ctx, &object.TreeObj{Entries: entries})
	if err != nil {
		return "", err
	}
	n.hash = h
	n.base = view
	n.overrides = nil
	n.dirty.Store(false)
	return h, nil
}
