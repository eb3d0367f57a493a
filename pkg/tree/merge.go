package tree

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
	"github.com/JarvusInnovations/hologit-sub000/pkg/pattern"
)

// MergeMode selects how source entries combine with existing ones.
type MergeMode string

const (
	// Overlay overwrites matching destination files.
	Overlay MergeMode = "overlay"
	// Replace overwrites matching files and deletes destination names the
	// source does not have.
	Replace MergeMode = "replace"
	// Underlay only fills names the destination lacks.
	Underlay MergeMode = "underlay"
)

// ParseMergeMode validates a mode name. The empty string selects Overlay.
func ParseMergeMode(raw string) (MergeMode, error) {
	switch MergeMode(raw) {
	case "":
		return Overlay, nil
	case Overlay, Replace, Underlay:
		return MergeMode(raw), nil
	}
	return "", errs.Config("merge mode", "unknown merge mode %q", raw)
}

// MergeOptions controls Merge.
type MergeOptions struct {
	// Files are include globs, with "!" marking excludes. Empty selects all.
	Files []string
	Mode  MergeMode
	// Concurrency bounds sibling subtree merges per directory. Zero selects
	// GOMAXPROCS.
	Concurrency int
}

type merger struct {
	match *pattern.Matcher
	all   bool // match selects every path
	mode  MergeMode
	limit int
}

// Merge combines src into n. Paths matched against Files are relative to
// src. Sibling subtrees merge concurrently and all finish before Merge
// returns.
func (n *Node) Merge(ctx context.Context, src *Node, opts MergeOptions) error {
	mode, err := ParseMergeMode(string(opts.Mode))
	if err != nil {
		return err
	}
	m, err := pattern.Compile(opts.Files)
	if err != nil {
		return err
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	mg := &merger{match: m, all: m.MatchesAll(), mode: mode, limit: limit}
	return mg.merge(ctx, n, src, "")
}

func (mg *merger) merge(ctx context.Context, dst, src *Node, prefix string) error {
	if err := errs.Cancelled(ctx, "merge"); err != nil {
		return err
	}
	srcView, err := src.snapshot(ctx)
	if err != nil {
		return err
	}
	dstView, err := dst.snapshot(ctx)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(srcView))
	for name := range srcView {
		names = append(names, name)
	}
	sort.Strings(names)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mg.limit)

	for _, name := range names {
		sc := srcView[name]
		dc, has := dstView[name]
		path := prefix + name

		if !sc.isTree() {
			if !mg.all && !mg.match.Match(path) {
				continue
			}
			if has && mg.mode == Underlay {
				continue
			}
			if has && !dc.isTree() && dc.blob == sc.blob {
				continue
			}
			dst.setChild(name, child{blob: sc.blob})
			continue
		}

		cov := pattern.All
		if !mg.all {
			cov = mg.match.MatchDir(path)
		}
		if cov == pattern.None {
			continue
		}
		srcHash, srcClean := sc.node.Hash()
		if srcClean && srcHash == object.EmptyTreeHash {
			continue
		}

		if has && dc.isTree() {
			if srcClean {
				if dstHash, ok := dc.node.Hash(); ok && dstHash == srcHash {
					continue
				}
			}
			if mg.mode == Replace && srcClean && cov == pattern.All {
				dst.setChild(name, child{node: dst.sess.Bind(srcHash)})
				continue
			}
			sub, from := dc.node, sc.node
			g.Go(func() error {
				return mg.merge(gctx, sub, from, path+"/")
			})
			continue
		}

		if has && mg.mode == Underlay {
			continue
		}
		if srcClean && cov == pattern.All {
			dst.setChild(name, child{node: dst.sess.Bind(srcHash)})
			continue
		}
		from := sc.node
		g.Go(func() error {
			sub := dst.sess.NewTree()
			if err := mg.merge(gctx, sub, from, path+"/"); err != nil {
				return err
			}
			if !sub.Dirty() {
				// Filtering left nothing to add.
				return nil
			}
			dst.setChild(name, child{node: sub})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if mg.mode == Replace {
		for name := range dstView {
			if _, ok := srcView[name]; ok {
				continue
			}
			if err := dst.DeleteChild(ctx, name); err != nil {
				return err
			}
		}
	}
	return nil
}
