package registry

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"

	"github.com/vk/assetflow/internal/asset"
	"github.com/vk/assetflow/internal/config"
	"github.com/vk/assetflow/internal/ctxlog"
	"github.com/vk/assetflow/internal/table"
)

// LoadModel registers every asset declared in the configuration model.
// Register requires dependencies first, so declarations are consumed in
// passes; declaration order within a file does not matter. A declared
// dependency that exists nowhere in the model fails with
// ErrUnknownDependency, and a dependency loop among declarations fails with
// a CycleError before Freeze would ever see it.
func (r *Registry) LoadModel(ctx context.Context, model *config.Model) error {
	logger := ctxlog.FromContext(ctx)

	pending := make([]*config.Asset, len(model.Assets))
	copy(pending, model.Assets)

	for len(pending) > 0 {
		progressed := false
		var next []*config.Asset
		for _, a := range pending {
			if !r.depsRegistered(a) {
				next = append(next, a)
				continue
			}
			def, err := r.buildDefinition(a, model.EvalCtx)
			if err != nil {
				return err
			}
			if err := r.Register(def); err != nil {
				return err
			}
			logger.Debug("Registered asset.", "asset", def.Name, "kind", def.Kind)
			progressed = true
		}
		if !progressed {
			return stalledError(model, next)
		}
		pending = next
	}
	return nil
}

// depsRegistered reports whether every declared dependency of a is already
// in the registry.
func (r *Registry) depsRegistered(a *config.Asset) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dep := range a.DependsOn {
		if _, ok := r.defs[dep]; !ok {
			return false
		}
	}
	return true
}

// buildDefinition converts a configuration declaration into an immutable
// asset definition, binding pure assets to their registered handlers.
func (r *Registry) buildDefinition(a *config.Asset, evalCtx *hcl.EvalContext) (*asset.Definition, error) {
	def := &asset.Definition{
		Name:      a.Name,
		DependsOn: a.DependsOn,
		Entity:    a.Entity,
		Snapshot:  a.Snapshot,
	}

	switch a.Kind {
	case "stage":
		def.Kind = asset.KindStage
		spec := &asset.StageSpec{Dir: a.Workdir, Env: a.Env}
		for _, s := range a.Stages {
			spec.Commands = append(spec.Commands, asset.StageCommand{Name: s.Name, Argv: s.Command})
		}
		def.Stages = spec

	case "pure":
		def.Kind = asset.KindPure
		h, ok := r.Handler(a.Handler)
		if !ok {
			return nil, fmt.Errorf("pure asset %q references unregistered handler %q", a.Name, a.Handler)
		}
		name, args := a.Name, a.Arguments
		// Arguments are decoded per run, so expression problems surface as
		// execution-time contract violations, not configuration errors.
		def.Run = func(ctx context.Context, inputs asset.Inputs) (*table.Table, error) {
			input := h.NewInput()
			if args != nil {
				if diags := gohcl.DecodeBody(args, evalCtx, input); diags.HasErrors() {
					return nil, fmt.Errorf("%w: decoding arguments for %q: %s",
						asset.ErrAssetContract, name, diags.Error())
				}
			}
			return h.Call(ctx, input, inputs)
		}

	default:
		return nil, fmt.Errorf("asset %q has unknown kind %q", a.Name, a.Kind)
	}

	return def, nil
}

// stalledError explains why a registration pass made no progress: either a
// dependency that no declaration provides, or a dependency loop among the
// declarations themselves.
func stalledError(model *config.Model, pending []*config.Asset) error {
	declared := make(map[string]*config.Asset, len(model.Assets))
	for _, a := range model.Assets {
		declared[a.Name] = a
	}

	for _, a := range pending {
		for _, dep := range a.DependsOn {
			if _, ok := declared[dep]; !ok {
				return fmt.Errorf("register %q: %w: %q", a.Name, ErrUnknownDependency, dep)
			}
		}
	}

	// Every dependency is declared, so the stall is a loop. At stall, each
	// stuck declaration has at least one stuck dependency; following those
	// edges must revisit a declaration. Walk from the first stuck one to
	// name the participants.
	stuck := make(map[string]*config.Asset, len(pending))
	for _, a := range pending {
		stuck[a.Name] = a
	}
	start := pending[0].Name
	cycle := []string{start}
	seen := map[string]int{start: 0}
	cur := start
	for {
		var nextDep string
		for _, dep := range stuck[cur].DependsOn {
			if _, ok := stuck[dep]; ok {
				nextDep = dep
				break
			}
		}
		if at, ok := seen[nextDep]; ok {
			return &CycleError{Assets: append(cycle[at:], nextDep)}
		}
		seen[nextDep] = len(cycle)
		cycle = append(cycle, nextDep)
		cur = nextDep
	}
}
