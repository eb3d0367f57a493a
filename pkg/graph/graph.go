// Package graph orders units by before/after constraints. References name
// a unit key, a group label, or "*" for everything else.
package graph

import (
	"sort"

	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
)

// Wildcard matches every unit not otherwise constrained.
const Wildcard = "*"

// Unit is one node to be ordered.
type Unit struct {
	Key    string
	Group  string
	After  []string
	Before []string
}

// Edge says From must precede To.
type Edge struct {
	From, To string
}

// Graph is a resolved set of units and ordering edges.
type Graph struct {
	keys  []string
	edges map[Edge]struct{}
	succ  map[string][]string
}

type index struct {
	units  map[string]Unit
	groups map[string][]string
	keys   []string
}

func (ix *index) resolve(ref string) ([]string, bool) {
	seen := map[string]struct{}{}
	var out []string
	if _, ok := ix.units[ref]; ok {
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	for _, k := range ix.groups[ref] {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out, len(out) > 0
}

// references reports whether u names target by key or group.
func (ix *index) references(refs []string, target string) bool {
	tg := ix.units[target].Group
	for _, r := range refs {
		if r == target || (tg != "" && r == tg) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// expand returns refs with any wildcard replaced by a fresh list of unit
// keys. sameDir selects the wildcard direction (After or Before) of other
// units, which are skipped so that two wildcard holders do not order each
// other.
func (ix *index) expand(u Unit, refs []string, sameDir func(Unit) []string) ([]string, error) {
	if !contains(refs, Wildcard) {
		return refs, nil
	}
	explicit := map[string]struct{}{}
	for _, list := range [][]string{u.After, u.Before} {
		for _, r := range list {
			if r == Wildcard {
				continue
			}
			members, ok := ix.resolve(r)
			if !ok {
				return nil, errs.Config("order "+u.Key, "unknown reference %q", r)
			}
			for _, m := range members {
				explicit[m] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(ix.keys))
	for _, r := range refs {
		if r != Wildcard {
			out = append(out, r)
		}
	}
	for _, k := range ix.keys {
		if k == u.Key {
			continue
		}
		if _, ok := explicit[k]; ok {
			continue
		}
		other := ix.units[k]
		if contains(sameDir(other), Wildcard) {
			continue
		}
		if ix.references(other.After, u.Key) || ix.references(other.Before, u.Key) {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

// New resolves units into a graph. Unknown references and duplicate keys
// are config errors.
func New(units []Unit) (*Graph, error) {
	ix := &index{units: map[string]Unit{}, groups: map[string][]string{}}
	for _, u := range units {
		if u.Key == "" {
			return nil, errs.Config("order", "unit with empty key")
		}
		if _, dup := ix.units[u.Key]; dup {
			return nil, errs.Config("order", "duplicate unit %q", u.Key)
		}
		ix.units[u.Key] = u
		ix.keys = append(ix.keys, u.Key)
		if u.Group != "" {
			ix.groups[u.Group] = append(ix.groups[u.Group], u.Key)
		}
	}
	sort.Strings(ix.keys)
	for g := range ix.groups {
		sort.Strings(ix.groups[g])
	}

	g := &Graph{keys: ix.keys, edges: map[Edge]struct{}{}, succ: map[string][]string{}}
	add := func(from, to string) {
		if from == to {
			return
		}
		e := Edge{From: from, To: to}
		if _, ok := g.edges[e]; ok {
			return
		}
		g.edges[e] = struct{}{}
		g.succ[from] = append(g.succ[from], to)
	}

	for _, k := range ix.keys {
		u := ix.units[k]
		after, err := ix.expand(u, u.After, func(o Unit) []string { return o.After })
		if err != nil {
			return nil, err
		}
		before, err := ix.expand(u, u.Before, func(o Unit) []string { return o.Before })
		if err != nil {
			return nil, err
		}
		for _, ref := range after {
			members, ok := ix.resolve(ref)
			if !ok {
				return nil, errs.Config("order "+u.Key, "unknown reference %q", ref)
			}
			for _, m := range members {
				add(m, u.Key)
			}
		}
		for _, ref := range before {
			members, ok := ix.resolve(ref)
			if !ok {
				return nil, errs.Config("order "+u.Key, "unknown reference %q", ref)
			}
			for _, m := range members {
				add(u.Key, m)
			}
		}
	}
	return g, nil
}

// sortedEdges returns every edge sorted by (From, To).
func (g *Graph) sortedEdges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// Sort returns the unit keys in dependency order, breaking ties by key.
func (g *Graph) Sort() ([]string, error) {
	indeg := make(map[string]int, len(g.keys))
	for _, k := range g.keys {
		indeg[k] = 0
	}
	for e := range g.edges {
		indeg[e.To]++
	}

	var ready []string
	for _, k := range g.keys {
		if indeg[k] == 0 {
			ready = append(ready, k)
		}
	}

	order := make([]string, 0, len(g.keys))
	for len(ready) > 0 {
		sort.Strings(ready)
		k := ready[0]
		ready = ready[1:]
		order = append(order, k)
		for _, next := range g.succ[k] {
			indeg[next]--
			if indeg[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) < len(g.keys) {
		return nil, &errs.CycleError{Units: g.findCycle(indeg)}
	}
	return order, nil
}

// findCycle walks predecessors among units left unsorted. Every such unit
// has a predecessor in the same set, so the walk must revisit a unit.
func (g *Graph) findCycle(indeg map[string]int) []string {
	var start string
	for _, k := range g.keys {
		if indeg[k] > 0 {
			start = k
			break
		}
	}
	pred := func(k string) string {
		best := ""
		for e := range g.edges {
			if e.To == k && indeg[e.From] > 0 && (best == "" || e.From < best) {
				best = e.From
			}
		}
		return best
	}

	pos := map[string]int{}
	var walk []string
	for cur := start; cur != ""; cur = pred(cur) {
		if i, seen := pos[cur]; seen {
			loop := walk[i:]
			out := make([]string, 0, len(loop)+1)
			for j := len(loop) - 1; j >= 0; j-- {
				out = append(out, loop[j])
			}
			return append(out, out[0])
		}
		pos[cur] = len(walk)
		walk = append(walk, cur)
	}
	return walk
}

// Order sorts items by the units they describe.
func Order[T any](items []T, unit func(T) Unit) ([]T, error) {
	units := make([]Unit, len(items))
	byKey := make(map[string]T, len(items))
	for i, it := range items {
		units[i] = unit(it)
		byKey[units[i].Key] = it
	}
	g, err := New(units)
	if err != nil {
		return nil, err
	}
	keys, err := g.Sort()
	if err != nil {
		return nil, err
	}
	out := make([]T, len(keys))
	for i, k := range keys {
		out[i] = byKey[k]
	}
	return out, nil
}
