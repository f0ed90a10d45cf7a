// Package asset defines the static model of a pipeline: named computation
// units, their declared dependency edges, and the stage specifications of
// delegated external-tool assets.
package asset

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/assetflow/internal/table"
)

// ErrAssetContract marks a pure asset violating its execution contract at
// run time: undecodable arguments, a missing input, or no table returned.
var ErrAssetContract = errors.New("asset contract violation")

// Kind discriminates how an asset performs its work.
type Kind string

const (
	// KindPure is an in-process data-producing function.
	KindPure Kind = "pure"
	// KindStage delegates to an ordered sequence of external sub-commands.
	KindStage Kind = "stage"
)

// Inputs carries the materialized outputs of an asset's direct dependencies,
// keyed by dependency name. Stage dependencies produce no table and have no
// entry.
type Inputs map[string]*table.Table

// RunFunc is the execution contract of a pure asset: it receives the outputs
// of its direct dependencies and returns exactly one table.
type RunFunc func(ctx context.Context, inputs Inputs) (*table.Table, error)

// StageCommand is one named external sub-command of a delegated asset.
type StageCommand struct {
	// Name identifies the sub-command in reports, e.g. "seed" or "snapshot".
	Name string
	// Argv is the full command line, program first.
	Argv []string
}

// StageSpec describes the ordered sub-commands of a delegated asset and the
// working context they execute in. Commands run strictly in order; the first
// non-zero exit aborts the remainder.
type StageSpec struct {
	// Dir is the working directory for every sub-command. Empty means the
	// process working directory.
	Dir string
	// Env holds additional environment variables layered over the process
	// environment.
	Env map[string]string
	// Commands is the ordered sub-command list. Must be non-empty.
	Commands []StageCommand
}

// Definition is the immutable description of one asset. It is created at
// registration time and never mutated afterwards.
type Definition struct {
	// Name uniquely identifies the asset within a registry.
	Name string
	// DependsOn lists the names of direct upstream assets, in declaration
	// order. Every name must already be registered.
	DependsOn []string
	// Kind selects pure or delegated execution.
	Kind Kind

	// Entity optionally names the external entity this asset writes or
	// reads. Used only to validate that snapshot producers and readers of
	// the same entity are connected by declared edges.
	Entity string
	// Snapshot marks the asset as the history-preserving producer for its
	// entity.
	Snapshot bool

	// Run is the handler of a pure asset. Nil for stage assets.
	Run RunFunc
	// Stages is the sub-command specification of a stage asset. Nil for
	// pure assets.
	Stages *StageSpec
}

// Validate checks the definition's internal consistency. Dependency
// resolution is the registry's concern, not the definition's.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("asset name must not be empty")
	}
	switch d.Kind {
	case KindPure:
		if d.Run == nil {
			return fmt.Errorf("pure asset %q has no run function", d.Name)
		}
		if d.Stages != nil {
			return fmt.Errorf("pure asset %q must not declare stages", d.Name)
		}
	case KindStage:
		if d.Stages == nil || len(d.Stages.Commands) == 0 {
			return fmt.Errorf("stage asset %q has no commands", d.Name)
		}
		if d.Run != nil {
			return fmt.Errorf("stage asset %q must not declare a run function", d.Name)
		}
		for _, c := range d.Stages.Commands {
			if c.Name == "" || len(c.Argv) == 0 {
				return fmt.Errorf("stage asset %q has a command with no name or argv", d.Name)
			}
		}
	default:
		return fmt.Errorf("asset %q has unknown kind %q", d.Name, d.Kind)
	}
	if d.Snapshot && d.Entity == "" {
		return fmt.Errorf("snapshot asset %q must name its entity", d.Name)
	}
	return nil
}
