// Package lens runs the transformation chain of a projection. Each lens
// takes a filtered slice of the working tree, is keyed by a spec object
// describing exactly what it would run, and is executed only when the
// build cache has no output for that key.
package lens

import (
	"context"
	"errors"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/JarvusInnovations/hologit-sub000/internal/logging"
	"github.com/JarvusInnovations/hologit-sub000/internal/metrics"
	"github.com/JarvusInnovations/hologit-sub000/pkg/cache"
	"github.com/JarvusInnovations/hologit-sub000/pkg/config"
	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/graph"
	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
	"github.com/JarvusInnovations/hologit-sub000/pkg/tree"
)

// Options controls one pass of the pipeline.
type Options struct {
	// Refresh runs every lens even when its output is cached. Results are
	// still written to the cache.
	Refresh bool
	// CacheFrom is consulted on a local miss. Failures there are logged and
	// the lens runs.
	CacheFrom cache.Remote
	// CacheTo receives every output the pass produces or reuses.
	CacheTo cache.Remote
}

// Result describes one lens application.
type Result struct {
	Lens   string
	Spec   object.Hash
	Input  object.Hash
	Output object.Hash
	// Origin is "local" or "remote" for cache hits and empty when the lens
	// ran.
	Origin string
}

// Pipeline applies lenses against one build cache.
type Pipeline struct {
	cache  *cache.Cache
	sess   *tree.Session
	runner Runner
	pinner Pinner
	log    *logging.Logger

	flight singleflight.Group

	pinMu sync.Mutex
	pins  map[string]string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPinner sets how package and image references are pinned. The default
// takes them as declared.
func WithPinner(p Pinner) Option {
	return func(pl *Pipeline) { pl.pinner = p }
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(pl *Pipeline) { pl.log = log }
}

// NewPipeline returns a pipeline that caches in c, reads trees through sess
// and executes misses with runner.
func NewPipeline(c *cache.Cache, sess *tree.Session, runner Runner, opts ...Option) *Pipeline {
	p := &Pipeline{cache: c, sess: sess, runner: runner, pinner: AsDeclared, pins: map[string]string{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Order sorts lenses by their group and before/after constraints.
func Order(lenses []*config.Lens) ([]*config.Lens, error) {
	return graph.Order(lenses, func(l *config.Lens) graph.Unit {
		return graph.Unit{Key: l.Name, Group: l.Group, After: l.After, Before: l.Before}
	})
}

// Run applies lenses to root in dependency order. Each lens sees the
// output of the ones before it.
func (p *Pipeline) Run(ctx context.Context, root *tree.Node, lenses []*config.Lens, opts Options) ([]Result, error) {
	ordered, err := Order(lenses)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(ordered))
	for _, l := range ordered {
		res, err := p.Apply(ctx, root, l, opts)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// Apply runs one lens over root and merges its output back into root at
// the lens's output root.
func (p *Pipeline) Apply(ctx context.Context, root *tree.Node, l *config.Lens, opts Options) (*Result, error) {
	spec, err := p.Spec(ctx, root, l)
	if err != nil {
		return nil, err
	}

	v, err, _ := p.flight.Do(string(spec.Key), func() (any, error) {
		return p.resolve(ctx, l, spec, opts)
	})
	if err != nil {
		return nil, err
	}
	res := v.(Result)

	if err := placeOutput(ctx, root, p.sess.Bind(res.Output), l); err != nil {
		return nil, err
	}
	return &res, nil
}

// placeOutput puts a lens's output at its output root. Replacing a
// subdirectory swaps the whole subtree in by hash.
func placeOutput(ctx context.Context, root, out *tree.Node, l *config.Lens) error {
	dir, name := path.Split(l.OutputRoot)
	if l.OutputMerge == tree.Replace && name != "" && name != "." {
		chain, err := root.GetOrCreateChain(ctx, dir)
		if err != nil {
			return err
		}
		return chain[len(chain)-1].SetTree(ctx, name, out)
	}
	chain, err := root.GetOrCreateChain(ctx, l.OutputRoot)
	if err != nil {
		return err
	}
	return chain[len(chain)-1].Merge(ctx, out, tree.MergeOptions{Mode: l.OutputMerge})
}

// Spec builds the spec object for running l over root and stores it.
func (p *Pipeline) Spec(ctx context.Context, root *tree.Node, l *config.Lens) (*Spec, error) {
	op := "hololens " + l.Name
	input := p.sess.NewTree()
	src, err := root.GetChild(ctx, l.InputRoot)
	if err != nil {
		return nil, err
	}
	if src != nil {
		if err := input.Merge(ctx, src, tree.MergeOptions{Files: l.InputFiles, Mode: tree.Overlay}); err != nil {
			return nil, err
		}
	}
	inputHash, err := input.Write(ctx)
	if err != nil {
		return nil, err
	}

	identity, err := p.pin(ctx, l)
	if err != nil {
		return nil, err
	}
	spec, err := BuildSpec(l, inputHash, identity)
	if err != nil {
		return nil, err
	}
	if _, err := p.cache.Store().WriteBlob(&object.Blob{Data: spec.Data}); err != nil {
		return nil, errs.Storage(op+": write spec", err)
	}
	return spec, nil
}

func (p *Pipeline) pin(ctx context.Context, l *config.Lens) (string, error) {
	declared := Declared(l)
	p.pinMu.Lock()
	pinned, ok := p.pins[declared]
	p.pinMu.Unlock()
	if ok {
		return pinned, nil
	}
	pinned, err := p.pinner.Pin(ctx, l)
	if err != nil {
		if _, classified := errs.KindOf(err); classified {
			return "", err
		}
		return "", errs.Execution("pin "+declared, "%v", err)
	}
	if !l.IsContainer() && l.Version == "" {
		p.log.Warnf("lens %s: package %s has no version; its cache keys will not change when the package does", l.Name, l.Package)
	}
	p.pinMu.Lock()
	p.pins[declared] = pinned
	p.pinMu.Unlock()
	return pinned, nil
}

func (p *Pipeline) resolve(ctx context.Context, l *config.Lens, spec *Spec, opts Options) (Result, error) {
	res := Result{Lens: l.Name, Spec: spec.Key, Input: spec.Input}

	if !opts.Refresh {
		out, ok, err := p.cache.Lookup(spec.Key)
		if err != nil {
			return res, err
		}
		if ok {
			metrics.LensCacheHits.WithLabelValues(l.Name, metrics.OriginLocal).Inc()
			p.log.Debugf("lens %s: cache hit %s", l.Name, spec.Key.Short())
			res.Output, res.Origin = out, metrics.OriginLocal
			return res, p.share(ctx, spec.Key, out, opts)
		}
		if opts.CacheFrom != nil {
			out, ok, err := p.cache.Pull(ctx, opts.CacheFrom, spec.Key)
			switch {
			case errors.Is(err, errs.ErrCancelled):
				return res, err
			case err != nil:
				p.log.Warnf("lens %s: cache source %s: %v", l.Name, opts.CacheFrom.Name(), err)
			case ok:
				metrics.LensCacheHits.WithLabelValues(l.Name, metrics.OriginRemote).Inc()
				p.log.Debugf("lens %s: pulled %s from %s", l.Name, spec.Key.Short(), opts.CacheFrom.Name())
				res.Output, res.Origin = out, metrics.OriginRemote
				return res, p.share(ctx, spec.Key, out, opts)
			}
		}
		metrics.LensCacheMisses.WithLabelValues(l.Name).Inc()
	}

	out, err := p.execute(ctx, l, spec)
	if err != nil {
		return res, err
	}
	if err := p.cache.Put(ctx, spec.Key, out); err != nil {
		return res, err
	}
	res.Output = out
	return res, p.share(ctx, spec.Key, out, opts)
}

func (p *Pipeline) execute(ctx context.Context, l *config.Lens, spec *Spec) (object.Hash, error) {
	op := "run lens " + l.Name
	runCtx := ctx
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	p.log.Infof("lens %s: running %s over %s", l.Name, spec.Identity, spec.Input.Short())
	metrics.LensExecutions.WithLabelValues(l.Name).Inc()
	start := time.Now()
	out, err := p.runner.Run(runCtx, Invocation{Lens: l, Input: spec.Input, Identity: spec.Identity, Spec: spec.Key})
	metrics.LensDuration.WithLabelValues(l.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LensFailures.WithLabelValues(l.Name).Inc()
		if ctxErr := errs.Cancelled(ctx, op); ctxErr != nil {
			return "", ctxErr
		}
		if _, classified := errs.KindOf(err); classified {
			return "", err
		}
		return "", errs.E(errs.KindExecution, op, err)
	}
	if err := errs.Cancelled(ctx, op); err != nil {
		return "", err
	}
	if err := p.validate(out); err != nil {
		metrics.LensFailures.WithLabelValues(l.Name).Inc()
		return "", errs.Execution(op, "%v", err)
	}
	return out, nil
}

// validate checks that out names a tree present in the store.
func (p *Pipeline) validate(out object.Hash) error {
	if err := object.ValidateHash(out); err != nil {
		return err
	}
	if out == object.EmptyTreeHash {
		return nil
	}
	if _, err := p.cache.Store().ReadTree(out); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) share(ctx context.Context, key, out object.Hash, opts Options) error {
	if opts.CacheTo == nil {
		return nil
	}
	_, err := p.cache.Push(ctx, opts.CacheTo, key, out)
	return err
}
