// Package worktree moves trees between the object store and directories
// on disk. Lens runners use it to hand input to external commands and to
// collect their output.
package worktree

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
	"github.com/JarvusInnovations/hologit-sub000/pkg/tree"
)

// BlobStore reads and writes file contents. *object.Store satisfies it.
type BlobStore interface {
	ReadBlob(h object.Hash) (*object.Blob, error)
	WriteBlob(b *object.Blob) (object.Hash, error)
}

// Export writes every file under node into dir, creating it as needed.
// Existing files with the same names are overwritten.
func Export(ctx context.Context, node *tree.Node, blobs BlobStore, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Storage("export", err)
	}
	return node.Walk(ctx, func(rel string, e tree.Entry) error {
		if err := ctx.Err(); err != nil {
			return errs.Cancelled(ctx, "export")
		}
		dst := filepath.Join(dir, filepath.FromSlash(rel))
		if e.IsTree() {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return errs.Storage("export "+rel, err)
			}
			return nil
		}
		b, err := blobs.ReadBlob(e.Blob.Hash)
		if err != nil {
			return errs.Storage("export "+rel, err)
		}
		if e.Blob.Mode == object.TreeModeSymlink {
			_ = os.Remove(dst)
			if err := os.Symlink(string(b.Data), dst); err != nil {
				return errs.Storage("export "+rel, err)
			}
			return nil
		}
		if err := os.WriteFile(dst, b.Data, filePermFromMode(e.Blob.Mode)); err != nil {
			return errs.Storage("export "+rel, err)
		}
		// WriteFile keeps the mode of an existing file.
		if err := os.Chmod(dst, filePermFromMode(e.Blob.Mode)); err != nil {
			return errs.Storage("export "+rel, err)
		}
		return nil
	})
}

// ImportOptions controls Import.
type ImportOptions struct {
	// Ignore, when set, filters paths. Nil imports everything.
	Ignore *IgnoreChecker
}

// Import stores every file under dir and returns a dirty tree describing
// it. The caller writes the tree.
func Import(ctx context.Context, dir string, blobs BlobStore, sess *tree.Session, opts ImportOptions) (*tree.Node, error) {
	root := sess.NewTree()
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if opts.Ignore != nil && opts.Ignore.IsIgnored(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		mode := modeFromFileInfo(info)
		var data []byte
		if mode == object.TreeModeSymlink {
			target, err := os.Readlink(p)
			if err != nil {
				return err
			}
			data = []byte(target)
		} else if info.Mode().IsRegular() {
			if data, err = os.ReadFile(p); err != nil {
				return err
			}
		} else {
			return nil
		}

		h, err := blobs.WriteBlob(&object.Blob{Data: data})
		if err != nil {
			return err
		}
		parent, name := filepath.Split(filepath.FromSlash(rel))
		chain, err := root.GetOrCreateChain(ctx, filepath.ToSlash(parent))
		if err != nil {
			return err
		}
		return chain[len(chain)-1].SetBlob(ctx, name, tree.Blob{Hash: h, Mode: mode})
	})
	if err != nil {
		if _, ok := errs.KindOf(err); ok {
			return nil, err
		}
		return nil, errs.Storage(fmt.Sprintf("import %s", dir), err)
	}
	return root, nil
}
