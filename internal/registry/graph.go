package registry

import (
	"fmt"
	"sort"

	"github.com/vk/assetflow/internal/asset"
)

// Graph is the frozen, index-based view of a registry. Asset names are
// resolved once, at freeze time, to dense slots ordered by ascending name;
// everything downstream works with slots, not name lookups. A Graph owns no
// runtime state and is safe for concurrent readers.
type Graph struct {
	names      []string
	index      map[string]int
	defs       []*asset.Definition
	deps       [][]int
	dependents [][]int
}

func buildGraph(defs map[string]*asset.Definition, deps func(string) []string) *Graph {
	names := make([]string, 0, len(defs))
	for n := range defs {
		names = append(names, n)
	}
	sort.Strings(names)

	g := &Graph{
		names:      names,
		index:      make(map[string]int, len(names)),
		defs:       make([]*asset.Definition, len(names)),
		deps:       make([][]int, len(names)),
		dependents: make([][]int, len(names)),
	}
	for i, n := range names {
		g.index[n] = i
		g.defs[i] = defs[n]
	}
	for i, n := range names {
		seen := make(map[int]struct{})
		for _, dep := range deps(n) {
			j := g.index[dep]
			if _, dup := seen[j]; dup {
				continue
			}
			seen[j] = struct{}{}
			g.deps[i] = append(g.deps[i], j)
			g.dependents[j] = append(g.dependents[j], i)
		}
		sort.Ints(g.deps[i])
	}
	for i := range g.dependents {
		sort.Ints(g.dependents[i])
	}
	return g
}

// Len returns the number of assets in the graph.
func (g *Graph) Len() int {
	return len(g.names)
}

// Name returns the asset name at slot i.
func (g *Graph) Name(i int) string {
	return g.names[i]
}

// Def returns the definition at slot i.
func (g *Graph) Def(i int) *asset.Definition {
	return g.defs[i]
}

// Lookup resolves a name to its slot.
func (g *Graph) Lookup(name string) (int, bool) {
	i, ok := g.index[name]
	return i, ok
}

// Dependencies returns the dependency slots of slot i, ascending.
func (g *Graph) Dependencies(i int) []int {
	return g.deps[i]
}

// Dependents returns the dependent slots of slot i, ascending.
func (g *Graph) Dependents(i int) []int {
	return g.dependents[i]
}

// Closure resolves the given names and expands them to every transitive
// dependency, returning the resulting slots in ascending order. Unknown
// names fail with ErrAssetNotFound before anything else happens.
func (g *Graph) Closure(names []string) ([]int, error) {
	include := make(map[int]struct{})
	var expand func(i int)
	expand = func(i int) {
		if _, ok := include[i]; ok {
			return
		}
		include[i] = struct{}{}
		for _, d := range g.deps[i] {
			expand(d)
		}
	}
	for _, n := range names {
		i, ok := g.index[n]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrAssetNotFound, n)
		}
		expand(i)
	}
	slots := make([]int, 0, len(include))
	for i := range include {
		slots = append(slots, i)
	}
	sort.Ints(slots)
	return slots, nil
}

// Plan produces a deterministic topological order over the given slots.
// Among assets with no relative dependency the tie is broken by ascending
// name, so identical graphs always plan identically. The slot set must be
// dependency-closed, as produced by Closure.
func (g *Graph) Plan(slots []int) []int {
	inSet := make(map[int]struct{}, len(slots))
	for _, s := range slots {
		inSet[s] = struct{}{}
	}

	remaining := make(map[int]int, len(slots))
	for _, s := range slots {
		n := 0
		for _, d := range g.deps[s] {
			if _, ok := inSet[d]; ok {
				n++
			}
		}
		remaining[s] = n
	}

	// Slots are assigned in ascending name order at freeze time, so a
	// sorted ready list is exactly the name tie-break.
	var ready []int
	for _, s := range slots {
		if remaining[s] == 0 {
			ready = append(ready, s)
		}
	}
	sort.Ints(ready)

	order := make([]int, 0, len(slots))
	for len(ready) > 0 {
		s := ready[0]
		ready = ready[1:]
		order = append(order, s)
		for _, dep := range g.dependents[s] {
			if _, ok := inSet[dep]; !ok {
				continue
			}
			remaining[dep]--
			if remaining[dep] == 0 {
				// Insert keeping the ready list sorted.
				pos := sort.SearchInts(ready, dep)
				ready = append(ready, 0)
				copy(ready[pos+1:], ready[pos:])
				ready[pos] = dep
			}
		}
	}
	return order
}

// reachable reports whether to is reachable from from by following
// dependent edges.
func (g *Graph) reachable(from, to int) bool {
	if from == to {
		return true
	}
	seen := make(map[int]struct{})
	stack := []int{from}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, d := range g.dependents[i] {
			if d == to {
				return true
			}
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			stack = append(stack, d)
		}
	}
	return false
}
