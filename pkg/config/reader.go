package config

import (
	"context"
	"io/fs"
	"sort"
	"strings"

	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
	"github.com/JarvusInnovations/hologit-sub000/pkg/tree"
)

// BlobReader reads file contents. *object.Store satisfies it.
type BlobReader interface {
	ReadBlob(h object.Hash) (*object.Blob, error)
}

// Reader reads configuration documents from a workspace tree.
type Reader struct {
	root  *tree.Node
	blobs BlobReader
}

// NewReader returns a Reader over the workspace tree root.
func NewReader(root *tree.Node, blobs BlobReader) *Reader {
	return &Reader{root: root, blobs: blobs}
}

// Root returns the workspace tree.
func (r *Reader) Root() *tree.Node { return r.root }

func (r *Reader) readFile(ctx context.Context, p string) ([]byte, bool, error) {
	e, ok, err := r.root.Lookup(ctx, p)
	if err != nil {
		return nil, false, err
	}
	if !ok || e.IsTree() {
		return nil, false, nil
	}
	b, err := r.blobs.ReadBlob(e.Blob.Hash)
	if err != nil {
		return nil, false, errs.Storage("read "+p, err)
	}
	return b.Data, true, nil
}

// tomlFiles returns the .toml documents under dir keyed by their path
// relative to dir without the extension.
func (r *Reader) tomlFiles(ctx context.Context, dir string, recursive bool) (map[string][]byte, error) {
	node, err := r.root.GetChild(ctx, dir)
	if err != nil || node == nil {
		return nil, err
	}
	out := map[string][]byte{}
	err = node.Walk(ctx, func(p string, e tree.Entry) error {
		if e.IsTree() {
			if !recursive {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(p, ".toml") {
			return nil
		}
		b, err := r.blobs.ReadBlob(e.Blob.Hash)
		if err != nil {
			return errs.Storage("read "+dir+"/"+p, err)
		}
		out[strings.TrimSuffix(p, ".toml")] = b.Data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Workspace reads .holo/config.toml.
func (r *Reader) Workspace(ctx context.Context) (*Workspace, error) {
	data, ok, err := r.readFile(ctx, Dir+"/config.toml")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Config("holospace", "%s/config.toml not found", Dir)
	}
	return ParseWorkspace(data)
}

// Source reads .holo/sources/<name>.toml.
func (r *Reader) Source(ctx context.Context, name string) (*Source, error) {
	data, ok, err := r.readFile(ctx, Dir+"/sources/"+name+".toml")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Resolution("holosource "+name, "source %q is not defined", name)
	}
	return ParseSource(name, data)
}

// Sources reads every source document, sorted by name.
func (r *Reader) Sources(ctx context.Context) ([]*Source, error) {
	docs, err := r.tomlFiles(ctx, Dir+"/sources", false)
	if err != nil {
		return nil, err
	}
	out := make([]*Source, 0, len(docs))
	for name, data := range docs {
		src, err := ParseSource(name, data)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Branch reads a branch definition. A branch exists when it has a document
// or a mapping directory.
func (r *Reader) Branch(ctx context.Context, name string) (*Branch, error) {
	data, hasDoc, err := r.readFile(ctx, Dir+"/branches/"+name+".toml")
	if err != nil {
		return nil, err
	}
	dir, err := r.root.GetChild(ctx, Dir+"/branches/"+name)
	if err != nil {
		return nil, err
	}
	if !hasDoc && dir == nil {
		return nil, errs.Resolution("holobranch "+name, "branch %q is not defined", name)
	}
	return ParseBranch(name, data)
}

// Mappings reads the mapping documents of branch, sorted by key.
func (r *Reader) Mappings(ctx context.Context, branch string) ([]*Mapping, error) {
	docs, err := r.tomlFiles(ctx, Dir+"/branches/"+branch, true)
	if err != nil {
		return nil, err
	}
	out := make([]*Mapping, 0, len(docs))
	for key, data := range docs {
		m, err := ParseMapping(key, data)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Lenses reads the workspace lenses plus those of branch. A branch lens
// replaces a workspace lens of the same name.
func (r *Reader) Lenses(ctx context.Context, branch string) ([]*Lens, error) {
	byName := map[string][]byte{}
	for _, dir := range []string{Dir + "/lenses", Dir + "/branches/" + branch + ".lenses"} {
		docs, err := r.tomlFiles(ctx, dir, false)
		if err != nil {
			return nil, err
		}
		for name, data := range docs {
			byName[name] = data
		}
	}
	out := make([]*Lens, 0, len(byName))
	for name, data := range byName {
		l, err := ParseLens(name, data)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
