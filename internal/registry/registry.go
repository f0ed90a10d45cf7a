// Package registry holds asset definitions and their declared dependency
// edges. Registration is ordered (dependencies first), mutation ends at
// Freeze, and Freeze validates the dependency relation before handing out an
// immutable, index-based graph for execution.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vk/assetflow/internal/asset"
)

// Registry collects asset definitions until frozen. All methods are safe for
// concurrent use, although registration is typically single-threaded at
// process start.
type Registry struct {
	mu       sync.Mutex
	handlers map[string]*PureHandler
	defs     map[string]*asset.Definition
	// linked holds dependency edges added after registration via Link,
	// keyed by dependent name.
	linked map[string][]string
	frozen bool
	graph  *Graph
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		handlers: make(map[string]*PureHandler),
		defs:     make(map[string]*asset.Definition),
		linked:   make(map[string][]string),
	}
}

// Register adds a definition. It fails with ErrDuplicateAsset if the name is
// taken, ErrUnknownDependency if any declared dependency is not registered
// yet, and ErrRegistryFrozen after Freeze.
func (r *Registry) Register(def *asset.Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %q: %w", def.Name, ErrRegistryFrozen)
	}
	if err := def.Validate(); err != nil {
		return err
	}
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("register %q: %w", def.Name, ErrDuplicateAsset)
	}
	for _, dep := range def.DependsOn {
		if _, ok := r.defs[dep]; !ok {
			return fmt.Errorf("register %q: %w: %q", def.Name, ErrUnknownDependency, dep)
		}
	}
	r.defs[def.Name] = def
	return nil
}

// Link adds a dependency edge from name to dependsOn after both assets have
// been registered. It exists so that orderings discovered late, such as a
// snapshot producer and a reader keyed by the same entity, can be made
// explicit without re-registering. Linked edges participate in cycle
// detection at Freeze.
func (r *Registry) Link(name, dependsOn string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("link %q -> %q: %w", name, dependsOn, ErrRegistryFrozen)
	}
	if _, ok := r.defs[name]; !ok {
		return fmt.Errorf("link: %w: %q", ErrAssetNotFound, name)
	}
	if _, ok := r.defs[dependsOn]; !ok {
		return fmt.Errorf("link %q: %w: %q", name, ErrUnknownDependency, dependsOn)
	}
	if name == dependsOn {
		return fmt.Errorf("link %q: self-referential edge not allowed", name)
	}
	r.linked[name] = append(r.linked[name], dependsOn)
	return nil
}

// Names returns the registered asset names in ascending order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Freeze finalizes the registry. It detects cycles in the dependency
// relation, validates entity/snapshot couplings, and returns the immutable
// graph. Further Register or Link calls fail with ErrRegistryFrozen. Calling
// Freeze again returns the same graph.
func (r *Registry) Freeze() (*Graph, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return r.graph, nil
	}

	deps := func(name string) []string {
		d := r.defs[name]
		all := make([]string, 0, len(d.DependsOn)+len(r.linked[name]))
		all = append(all, d.DependsOn...)
		all = append(all, r.linked[name]...)
		return all
	}

	if err := r.detectCycles(deps); err != nil {
		return nil, err
	}

	g := buildGraph(r.defs, deps)

	if err := checkEntityCoupling(g); err != nil {
		return nil, err
	}

	r.frozen = true
	r.graph = g
	return g, nil
}

// detectCycles runs a depth-first traversal over dependency edges, tracking
// in-progress and completed nodes. A node revisited while in progress
// signals a cycle, reported with the participating names in traversal order.
func (r *Registry) detectCycles(deps func(string) []string) error {
	const (
		unvisited = iota
		inProgress
		completed
	)
	state := make(map[string]int, len(r.defs))
	var stack []string

	var visit func(name string) *CycleError
	visit = func(name string) *CycleError {
		state[name] = inProgress
		stack = append(stack, name)

		for _, dep := range deps(name) {
			switch state[dep] {
			case completed:
				continue
			case inProgress:
				// Slice the traversal stack from the first occurrence of
				// dep to name the full cycle, closing it with dep again.
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, stack[start:]...), dep)
				return &CycleError{Assets: cycle}
			default:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[name] = completed
		return nil
	}

	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if state[n] == unvisited {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkEntityCoupling rejects graphs where a snapshot producer and another
// asset share an entity without a declared dependency path from producer to
// reader. Implicit temporal coupling is refused outright rather than
// inferred as an edge.
func checkEntityCoupling(g *Graph) error {
	producers := make(map[string][]int)
	readers := make(map[string][]int)
	for i, def := range g.defs {
		if def.Entity == "" {
			continue
		}
		if def.Snapshot {
			producers[def.Entity] = append(producers[def.Entity], i)
		} else {
			readers[def.Entity] = append(readers[def.Entity], i)
		}
	}
	for entity, prods := range producers {
		for _, p := range prods {
			for _, rd := range readers[entity] {
				if !g.reachable(p, rd) {
					return fmt.Errorf("%w: %q reads entity %q but declares no dependency path from snapshot producer %q",
						ErrImplicitDependency, g.names[rd], entity, g.names[p])
				}
			}
		}
	}
	return nil
}
