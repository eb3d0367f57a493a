// Package projection turns a holobranch definition into a tree: mappings
// are composed, the lens chain transforms the result, the .holo
// configuration is stripped and the tree is optionally committed to a ref.
package projection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/JarvusInnovations/hologit-sub000/internal/logging"
	"github.com/JarvusInnovations/hologit-sub000/internal/metrics"
	"github.com/JarvusInnovations/hologit-sub000/pkg/cache"
	"github.com/JarvusInnovations/hologit-sub000/pkg/config"
	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/lens"
	"github.com/JarvusInnovations/hologit-sub000/pkg/mapping"
	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
	"github.com/JarvusInnovations/hologit-sub000/pkg/repo"
	"github.com/JarvusInnovations/hologit-sub000/pkg/source"
	"github.com/JarvusInnovations/hologit-sub000/pkg/tree"
)

// DefaultAuthor signs projection commits when Options.Author is empty.
const DefaultAuthor = "holo <holo@localhost>"

// FetchAll in Options.Fetch fetches every remote source.
const FetchAll = "*"

// Options controls one projection.
type Options struct {
	// Workspace is the commit or tree holding the .holo configuration.
	// HEAD is used when empty.
	Workspace object.Hash
	// Lens forces the lens chain on or off. Nil follows the branch's own
	// lens setting.
	Lens *bool
	// Fetch names the sources to fetch before use; FetchAll fetches every
	// one. Other remote sources use their tracking refs.
	Fetch []string
	// Refresh runs every lens even when its output is cached.
	Refresh   bool
	CacheFrom cache.Remote
	CacheTo   cache.Remote

	// CommitTo, when set, commits the result to this ref. Bare names are
	// taken as branches under refs/heads/.
	CommitTo string
	Message  string
	Author   string
	// Parents of the commit. Nil selects the prior value of CommitTo when
	// there is one.
	Parents []object.Hash
	Signer  repo.CommitSigner
	// Time defaults to now.
	Time time.Time
}

// Projector projects branches of workspaces stored in one repository.
type Projector struct {
	repo    *repo.Repo
	sess    *tree.Session
	sources *source.Resolver
	lenses  *lens.Pipeline
	log     *logging.Logger
}

// New returns a Projector.
func New(rp *repo.Repo, sess *tree.Session, sources *source.Resolver, lenses *lens.Pipeline, log *logging.Logger) *Projector {
	return &Projector{repo: rp, sess: sess, sources: sources, lenses: lenses, log: log}
}

// ProjectBranch projects branch and returns the commit hash when
// opts.CommitTo is set, otherwise the tree hash.
func (p *Projector) ProjectBranch(ctx context.Context, branch string, opts Options) (object.Hash, error) {
	start := time.Now()
	defer func() {
		metrics.ProjectionDuration.WithLabelValues(branch).Observe(time.Since(start).Seconds())
	}()

	workspace := opts.Workspace
	if workspace == "" {
		h, err := p.repo.ResolveRef("HEAD")
		if errors.Is(err, repo.ErrRefNotFound) {
			return "", errs.Resolution("project "+branch, "HEAD does not name a commit")
		}
		if err != nil {
			return "", errs.Storage("project "+branch, err)
		}
		workspace = h
	}
	root, err := source.CommitTree(p.repo.Store, workspace)
	if err != nil {
		return "", err
	}

	r := &run{
		p:       p,
		opts:    opts,
		fetched: map[string]object.Hash{},
		done:    map[string]object.Hash{},
	}
	h, err := r.project(ctx, root, branch, opts.Lens)
	if err != nil {
		return "", err
	}
	p.log.Infof("projected %s to tree %s", branch, h.Short())
	if opts.CommitTo == "" {
		return h, nil
	}
	return p.commit(ctx, branch, h, opts)
}

func (p *Projector) commit(ctx context.Context, branch string, treeHash object.Hash, opts Options) (object.Hash, error) {
	ref := opts.CommitTo
	if !strings.HasPrefix(ref, "refs/") {
		ref = "refs/heads/" + ref
	}
	op := "commit " + ref
	if err := errs.Cancelled(ctx, op); err != nil {
		return "", err
	}

	prior, exists, err := p.repo.ReadRef(ref)
	if err != nil {
		return "", errs.Storage(op, err)
	}
	parents := opts.Parents
	if parents == nil && exists {
		priorTree, err := source.CommitTree(p.repo.Store, prior)
		if err != nil {
			return "", err
		}
		if priorTree == treeHash {
			p.log.Infof("%s already holds tree %s", ref, treeHash.Short())
			return prior, nil
		}
		parents = []object.Hash{prior}
	}

	message := opts.Message
	if message == "" {
		message = "Project holobranch " + branch
	}
	author := opts.Author
	if author == "" {
		author = DefaultAuthor
	}
	c, err := p.repo.WriteCommit(repo.CommitOptions{
		Tree:    treeHash,
		Parents: parents,
		Author:  author,
		Message: message,
		Time:    opts.Time,
		Signer:  opts.Signer,
	})
	if err != nil {
		return "", errs.Storage(op, err)
	}

	var reflogErr *repo.RefUpdateReflogError
	err = p.repo.UpdateRefCAS(ref, c, prior)
	switch {
	case errors.As(err, &reflogErr):
		p.log.Warnf("%v", err)
	case err != nil:
		return "", errs.Storage(op, err)
	}
	p.log.Infof("committed %s to %s", c.Short(), ref)
	return c, nil
}

// run is the state of one ProjectBranch call: which sources were already
// fetched, which projections are finished and which are in progress.
type run struct {
	p       *Projector
	opts    Options
	fetched map[string]object.Hash
	done    map[string]object.Hash
	stack   []string
}

func (r *run) project(ctx context.Context, workspace object.Hash, branch string, lensOn *bool) (object.Hash, error) {
	frame := branch + "@" + workspace.Short()
	if i := slices.Index(r.stack, frame); i >= 0 {
		units := append(slices.Clone(r.stack[i:]), frame)
		return "", fmt.Errorf("project %s: %w", branch, &errs.CycleError{Units: units})
	}
	memo := fmt.Sprintf("%s\x00%s\x00%v", workspace, branch, lensFlag(lensOn))
	if h, ok := r.done[memo]; ok {
		return h, nil
	}
	r.stack = append(r.stack, frame)
	defer func() { r.stack = r.stack[:len(r.stack)-1] }()

	h, err := r.build(ctx, workspace, branch, lensOn)
	if err != nil {
		return "", err
	}
	r.done[memo] = h
	return h, nil
}

func (r *run) build(ctx context.Context, workspace object.Hash, branch string, lensOn *bool) (object.Hash, error) {
	log := r.p.log.With("branch", branch)
	cfg := config.NewReader(r.p.sess.Bind(workspace), r.p.repo.Store)
	b, err := cfg.Branch(ctx, branch)
	if err != nil {
		return "", err
	}

	out := r.p.sess.NewTree()
	resolver := mapping.NewResolver(cfg, branch, log)
	trees := mapping.TreeSourceFunc(func(ctx context.Context, m *config.Mapping) (*tree.Node, error) {
		return r.mappingTree(ctx, cfg, workspace, m)
	})
	if err := resolver.Composite(ctx, out, trees); err != nil {
		return "", err
	}

	enabled := b.Lens
	if lensOn != nil {
		enabled = *lensOn
	}
	if enabled {
		lenses, err := cfg.Lenses(ctx, branch)
		if err != nil {
			return "", err
		}
		results, err := r.p.lenses.Run(ctx, out, lenses, lens.Options{
			Refresh:   r.opts.Refresh,
			CacheFrom: r.opts.CacheFrom,
			CacheTo:   r.opts.CacheTo,
		})
		if err != nil {
			return "", err
		}
		for _, res := range results {
			origin := res.Origin
			if origin == "" {
				origin = "executed"
			}
			log.Debugf("lens %s: %s -> %s (%s)", res.Lens, res.Input.Short(), res.Output.Short(), origin)
		}
	}

	if err := Strip(ctx, out); err != nil {
		return "", err
	}
	return out.Write(ctx)
}

// mappingTree resolves the tree m merges from.
func (r *run) mappingTree(ctx context.Context, cfg *config.Reader, workspace object.Hash, m *config.Mapping) (*tree.Node, error) {
	if m.Source == "" {
		h, err := r.project(ctx, workspace, m.SourceBranch, nil)
		if err != nil {
			return nil, err
		}
		return r.p.sess.Bind(h), nil
	}

	src, err := cfg.Source(ctx, m.Source)
	if err != nil {
		return nil, err
	}
	h, err := r.sourceTree(ctx, src)
	if err != nil {
		return nil, err
	}

	branch, lensOn := m.SourceBranch, (*bool)(nil)
	if branch == "" && src.Project != nil {
		branch, lensOn = src.Project.Branch, &src.Project.Lens
	}
	if branch != "" {
		if h, err = r.project(ctx, h, branch, lensOn); err != nil {
			return nil, err
		}
	}
	return r.p.sess.Bind(h), nil
}

// sourceTree resolves src once per run, fetching it first when requested.
func (r *run) sourceTree(ctx context.Context, src *config.Source) (object.Hash, error) {
	id := src.Name + "\x00" + src.URL + "\x00" + src.Ref
	if h, ok := r.fetched[id]; ok {
		return h, nil
	}
	fetch := slices.Contains(r.opts.Fetch, FetchAll) || slices.Contains(r.opts.Fetch, src.Name)
	h, err := r.p.sources.Tree(ctx, src, fetch)
	if err != nil {
		return "", err
	}
	r.fetched[id] = h
	return h, nil
}

func lensFlag(lensOn *bool) string {
	if lensOn == nil {
		return "default"
	}
	return fmt.Sprint(*lensOn)
}

// configEntries are the names under .holo that describe the workspace
// rather than content.
var configEntries = []string{"config.toml", "branches", "sources", "lenses"}

// Strip removes the workspace configuration from a projected tree. The
// .holo directory itself goes only when nothing else is left in it.
func Strip(ctx context.Context, root *tree.Node) error {
	dir, err := root.GetChild(ctx, config.Dir)
	if err != nil || dir == nil {
		return err
	}
	entries, err := dir.Entries(ctx)
	if err != nil {
		return err
	}
	residue := 0
	for _, e := range entries {
		if !slices.Contains(configEntries, e.Name) {
			residue++
			continue
		}
		if err := dir.DeleteChild(ctx, e.Name); err != nil {
			return err
		}
	}
	if residue == 0 {
		return root.DeleteChild(ctx, config.Dir)
	}
	return nil
}
