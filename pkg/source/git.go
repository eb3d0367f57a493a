package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	gitobject "github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/JarvusInnovations/hologit-sub000/internal/logging"
	"github.com/JarvusInnovations/hologit-sub000/pkg/config"
	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
)

// GitFetcher imports the tip of a git remote's ref into the store. Git
// history is not carried over: each import becomes a commit whose single
// parent is the previous import, so tracking refs always fast-forward.
type GitFetcher struct {
	Store *object.Store
	Log   *logging.Logger
	// Clone opens the remote; the default is a shallow in-memory clone.
	Clone func(ctx context.Context, src *config.Source) (*git.Repository, error)
}

// Fetch clones src and imports the commit its ref names.
func (f *GitFetcher) Fetch(ctx context.Context, src *config.Source, prev object.Hash) (object.Hash, error) {
	clone := f.Clone
	if clone == nil {
		clone = cloneShallow
	}
	gr, err := clone(ctx, src)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", errs.Resolution("fetch source "+src.Name, "remote has no ref %s", src.Ref)
	}
	if err != nil {
		return "", fmt.Errorf("clone %s: %w", src.URL, err)
	}
	head, err := gr.Head()
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", src.Ref, err)
	}
	imp := &gitImporter{repo: gr, store: f.Store, log: f.Log, seen: map[plumbing.Hash]object.Hash{}}
	return imp.importCommit(ctx, head.Hash(), prev)
}

func cloneShallow(ctx context.Context, src *config.Source) (*git.Repository, error) {
	opts := &git.CloneOptions{
		URL:          src.URL,
		Auth:         gitAuth(),
		SingleBranch: true,
		Depth:        1,
		Tags:         git.NoTags,
	}
	if src.Ref != "" && src.Ref != "HEAD" {
		opts.ReferenceName = plumbing.ReferenceName(src.Ref)
	}
	return git.CloneContext(ctx, memory.NewStorage(), nil, opts)
}

// gitAuth uses HOLO_GIT_TOKEN for HTTP remotes when set; credentials in
// the URL are handled by go-git itself.
func gitAuth() transport.AuthMethod {
	token := strings.TrimSpace(os.Getenv("HOLO_GIT_TOKEN"))
	if token == "" {
		return nil
	}
	user := strings.TrimSpace(os.Getenv("HOLO_GIT_USERNAME"))
	if user == "" {
		user = "x-access-token"
	}
	return &githttp.BasicAuth{Username: user, Password: token}
}

type gitImporter struct {
	repo  *git.Repository
	store *object.Store
	log   *logging.Logger
	seen  map[plumbing.Hash]object.Hash
}

// importCommit converts commit h and its tree. When prev already holds the
// same tree prev is returned unchanged.
func (g *gitImporter) importCommit(ctx context.Context, h plumbing.Hash, prev object.Hash) (object.Hash, error) {
	c, err := g.repo.CommitObject(h)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", h, err)
	}
	gt, err := c.Tree()
	if err != nil {
		return "", fmt.Errorf("read tree of %s: %w", h, err)
	}
	treeHash, err := g.importTree(ctx, gt, "")
	if err != nil {
		return "", err
	}

	var parents []object.Hash
	if prev != "" {
		if pc, err := g.store.ReadCommit(prev); err == nil && pc.TreeHash == treeHash {
			return prev, nil
		}
		parents = []object.Hash{prev}
	}
	out, err := g.store.WriteCommit(&object.CommitObj{
		TreeHash:  treeHash,
		Parents:   parents,
		Author:    fmt.Sprintf("%s <%s>", c.Author.Name, c.Author.Email),
		Timestamp: c.Author.When.Unix(),
		Message:   c.Message,
	})
	if err != nil {
		return "", errs.Storage("write commit", err)
	}
	return out, nil
}

func (g *gitImporter) importTree(ctx context.Context, gt *gitobject.Tree, prefix string) (object.Hash, error) {
	if h, ok := g.seen[gt.Hash]; ok {
		return h, nil
	}
	if err := errs.Cancelled(ctx, "import "+prefix); err != nil {
		return "", err
	}

	entries := make([]object.TreeEntry, 0, len(gt.Entries))
	for _, e := range gt.Entries {
		p := prefix + e.Name
		switch e.Mode {
		case filemode.Dir:
			sub, err := g.repo.TreeObject(e.Hash)
			if err != nil {
				return "", fmt.Errorf("read tree %s: %w", p, err)
			}
			h, err := g.importTree(ctx, sub, p+"/")
			if err != nil {
				return "", err
			}
			if h == object.EmptyTreeHash {
				continue
			}
			entries = append(entries, object.TreeEntry{Name: e.Name, Mode: object.TreeModeDir, Hash: h})
		case filemode.Regular, filemode.Deprecated, filemode.Executable, filemode.Symlink:
			h, err := g.importBlob(e.Hash, p)
			if err != nil {
				return "", err
			}
			entries = append(entries, object.TreeEntry{Name: e.Name, Mode: treeMode(e.Mode), Hash: h})
		default:
			g.log.Warnf("skipping %s: unsupported git mode %s", p, e.Mode)
		}
	}

	var h object.Hash
	if len(entries) == 0 {
		h = object.EmptyTreeHash
	} else {
		var err error
		h, err = g.store.WriteTree(&object.TreeObj{Entries: entries})
		if err != nil {
			return "", errs.Storage("write tree "+prefix, err)
		}
	}
	g.seen[gt.Hash] = h
	return h, nil
}

func (g *gitImporter) importBlob(gh plumbing.Hash, p string) (object.Hash, error) {
	if h, ok := g.seen[gh]; ok {
		return h, nil
	}
	b, err := g.repo.BlobObject(gh)
	if err != nil {
		return "", fmt.Errorf("read blob %s: %w", p, err)
	}
	rc, err := b.Reader()
	if err != nil {
		return "", fmt.Errorf("open blob %s: %w", p, err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return "", fmt.Errorf("read blob %s: %w", p, err)
	}
	h, err := g.store.WriteBlob(&object.Blob{Data: data})
	if err != nil {
		return "", errs.Storage("write blob "+p, err)
	}
	g.seen[gh] = h
	return h, nil
}

func treeMode(m filemode.FileMode) string {
	switch m {
	case filemode.Executable:
		return object.TreeModeExecutable
	case filemode.Symlink:
		return object.TreeModeSymlink
	default:
		return object.TreeModeFile
	}
}
