// Package source resolves holosources to commits in the local store. A
// source is either local (no URL: its ref is read from the repository), a
// holo protocol remote (holo+http:// or holo+https://), or a git remote
// imported with go-git.
package source

import (
	"context"
	"errors"
	"strings"

	"github.com/JarvusInnovations/hologit-sub000/internal/logging"
	"github.com/JarvusInnovations/hologit-sub000/internal/metrics"
	"github.com/JarvusInnovations/hologit-sub000/pkg/config"
	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
	"github.com/JarvusInnovations/hologit-sub000/pkg/repo"
)

// Kind is the transport a source is fetched over.
type Kind int

const (
	KindLocal Kind = iota
	KindHolo
	KindGit
)

const holoScheme = "holo+"

// KindOf classifies a source URL.
func KindOf(url string) Kind {
	url = strings.TrimSpace(url)
	switch {
	case url == "":
		return KindLocal
	case strings.HasPrefix(url, holoScheme+"http://"), strings.HasPrefix(url, holoScheme+"https://"):
		return KindHolo
	default:
		return KindGit
	}
}

// Fetcher retrieves the commit a remote source's ref points at into the
// local store. prev is the current tracking commit, or "" when there is
// none; the returned commit must descend from prev.
type Fetcher interface {
	Fetch(ctx context.Context, src *config.Source, prev object.Hash) (object.Hash, error)
}

// Resolver maps sources to commits, maintaining tracking refs for remote
// sources.
type Resolver struct {
	repo *repo.Repo
	log  *logging.Logger
	holo Fetcher
	git  Fetcher
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

// WithHoloFetcher replaces the fetcher used for holo protocol sources.
func WithHoloFetcher(f Fetcher) Option {
	return func(r *Resolver) { r.holo = f }
}

// WithGitFetcher replaces the fetcher used for git sources.
func WithGitFetcher(f Fetcher) Option {
	return func(r *Resolver) { r.git = f }
}

// NewResolver returns a Resolver over the repository.
func NewResolver(rp *repo.Repo, opts ...Option) *Resolver {
	r := &Resolver{repo: rp}
	for _, opt := range opts {
		opt(r)
	}
	if r.holo == nil {
		r.holo = &HoloFetcher{Store: rp.Store}
	}
	if r.git == nil {
		r.git = &GitFetcher{Store: rp.Store, Log: r.log}
	}
	return r
}

// Resolve returns the commit src currently points at. Remote sources are
// fetched when fetch is set or when no tracking ref exists yet.
func (r *Resolver) Resolve(ctx context.Context, src *config.Source, fetch bool) (object.Hash, error) {
	op := "resolve source " + src.Name
	if err := errs.Cancelled(ctx, op); err != nil {
		return "", err
	}

	if KindOf(src.URL) == KindLocal {
		h, err := r.repo.ResolveRef(src.Ref)
		if errors.Is(err, repo.ErrRefNotFound) {
			return "", errs.Resolution(op, "ref %s not found", src.Ref)
		}
		if err != nil {
			return "", errs.Storage(op, err)
		}
		return h, nil
	}

	tracked, ok, err := r.repo.ReadRef(src.LocalRef())
	if err != nil {
		return "", errs.Storage(op, err)
	}
	if ok && !fetch {
		return tracked, nil
	}
	return r.Fetch(ctx, src)
}

// Fetch retrieves src from its remote and advances its tracking ref. The
// update only moves forward: a fetched commit that does not descend from
// the tracked one is a resolution error.
func (r *Resolver) Fetch(ctx context.Context, src *config.Source) (object.Hash, error) {
	op := "fetch source " + src.Name
	var fetcher Fetcher
	switch KindOf(src.URL) {
	case KindHolo:
		fetcher = r.holo
	case KindGit:
		fetcher = r.git
	default:
		return "", errs.Config(op, "source has no url")
	}

	prev, _, err := r.repo.ReadRef(src.LocalRef())
	if err != nil {
		return "", errs.Storage(op, err)
	}

	r.log.Debugf("fetching source %s from %s (%s)", src.Name, src.URL, src.Ref)
	h, err := fetcher.Fetch(ctx, src, prev)
	if err != nil {
		metrics.SourceFetches.WithLabelValues(src.Name, "error").Inc()
		if _, classified := errs.KindOf(err); classified {
			return "", err
		}
		return "", errs.Network(op, err)
	}

	if prev != "" && prev != h {
		ok, err := r.repo.IsAncestor(ctx, prev, h)
		if err != nil {
			return "", errs.Storage(op, err)
		}
		if !ok {
			metrics.SourceFetches.WithLabelValues(src.Name, "rejected").Inc()
			return "", errs.Resolution(op, "%s is not a fast-forward of %s", h.Short(), prev.Short())
		}
	}
	if prev != h {
		if err := r.repo.UpdateRefCAS(src.LocalRef(), h, prev); err != nil {
			return "", errs.Storage(op, err)
		}
	}
	metrics.SourceFetches.WithLabelValues(src.Name, "ok").Inc()
	r.log.Infof("source %s at %s", src.Name, h.Short())
	return h, nil
}

// Tree returns the tree of the commit src resolves to.
func (r *Resolver) Tree(ctx context.Context, src *config.Source, fetch bool) (object.Hash, error) {
	h, err := r.Resolve(ctx, src, fetch)
	if err != nil {
		return "", err
	}
	return CommitTree(r.repo.Store, h)
}

// CommitTree returns the tree of commit h, or h itself when it already
// names a tree.
func CommitTree(store *object.Store, h object.Hash) (object.Hash, error) {
	objType, data, err := store.Read(h)
	if err != nil {
		return "", errs.Storage("read "+h.Short(), err)
	}
	switch objType {
	case object.TypeTree:
		return h, nil
	case object.TypeCommit:
		c, err := object.UnmarshalCommit(data)
		if err != nil {
			return "", errs.Storage("read commit "+h.Short(), err)
		}
		return c.TreeHash, nil
	default:
		return "", errs.Resolution("read "+h.Short(), "%s is a %s, not a commit or tree", h.Short(), objType)
	}
}
