// Package mapping discovers a branch's mapping documents, orders them by
// layer and constraint, and composes the branch tree by merging each
// mapping's source subtree into the output in turn.
package mapping

import (
	"context"
	"fmt"
	"sync"

	"github.com/JarvusInnovations/hologit-sub000/internal/logging"
	"github.com/JarvusInnovations/hologit-sub000/pkg/config"
	"github.com/JarvusInnovations/hologit-sub000/pkg/graph"
	"github.com/JarvusInnovations/hologit-sub000/pkg/tree"
)

// TreeSource supplies the tree a mapping draws from: a source's commit
// tree, or the projected output of a branch for "source=>branch" and
// "=>branch" references.
type TreeSource interface {
	MappingTree(ctx context.Context, m *config.Mapping) (*tree.Node, error)
}

// TreeSourceFunc adapts a function to TreeSource.
type TreeSourceFunc func(ctx context.Context, m *config.Mapping) (*tree.Node, error)

func (f TreeSourceFunc) MappingTree(ctx context.Context, m *config.Mapping) (*tree.Node, error) {
	return f(ctx, m)
}

// Resolver resolves the mappings of one branch of a workspace. The ordered
// list is read once and kept until Invalidate.
type Resolver struct {
	cfg    *config.Reader
	branch string
	log    *logging.Logger

	mu       sync.Mutex
	mappings []*config.Mapping
}

// NewResolver returns a Resolver for branch over the workspace cfg reads.
func NewResolver(cfg *config.Reader, branch string, log *logging.Logger) *Resolver {
	return &Resolver{cfg: cfg, branch: branch, log: log}
}

// Branch returns the branch name.
func (r *Resolver) Branch() string { return r.branch }

// Mappings returns the branch's mappings in composition order: grouped by
// layer and sorted by their before/after constraints.
func (r *Resolver) Mappings(ctx context.Context) ([]*config.Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mappings != nil {
		return r.mappings, nil
	}
	found, err := r.cfg.Mappings(ctx, r.branch)
	if err != nil {
		return nil, err
	}
	ordered, err := graph.Order(found, func(m *config.Mapping) graph.Unit {
		return graph.Unit{Key: m.Key, Group: m.Layer, After: m.After, Before: m.Before}
	})
	if err != nil {
		return nil, fmt.Errorf("order mappings of %s: %w", r.branch, err)
	}
	r.mappings = ordered
	return ordered, nil
}

// Invalidate drops the memoized mapping list.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.mappings = nil
	r.mu.Unlock()
}

// Composite merges every mapping into output, one after another, so each
// mapping sees the result of the ones before it.
func (r *Resolver) Composite(ctx context.Context, output *tree.Node, trees TreeSource) error {
	mappings, err := r.Mappings(ctx)
	if err != nil {
		return err
	}
	for _, m := range mappings {
		if err := r.apply(ctx, output, m, trees); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) apply(ctx context.Context, output *tree.Node, m *config.Mapping, trees TreeSource) error {
	src, err := trees.MappingTree(ctx, m)
	if err != nil {
		return fmt.Errorf("mapping %s: %w", m.Key, err)
	}
	sub, err := src.GetChild(ctx, m.Root)
	if err != nil {
		return fmt.Errorf("mapping %s: %w", m.Key, err)
	}
	if sub == nil {
		r.log.Warnf("mapping %s: root %q not found in %s", m.Key, m.Root, describe(m))
		return nil
	}

	chain, err := output.GetOrCreateChain(ctx, m.Output)
	if err != nil {
		return fmt.Errorf("mapping %s: %w", m.Key, err)
	}
	target := chain[len(chain)-1]
	r.log.Debugf("mapping %s: %s:%s -> %s (%s)", m.Key, describe(m), m.Root, m.Output, m.Merge)
	if err := target.Merge(ctx, sub, tree.MergeOptions{Files: m.Files, Mode: m.Merge}); err != nil {
		return fmt.Errorf("mapping %s: %w", m.Key, err)
	}
	return nil
}

func describe(m *config.Mapping) string {
	if m.SourceBranch == "" {
		return m.Source
	}
	return m.Source + "=>" + m.SourceBranch
}
