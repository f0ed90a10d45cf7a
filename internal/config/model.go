// Package config defines the format-agnostic representation of a pipeline
// configuration: asset declarations, stage specifications, and job
// definitions, decoupled from the concrete file format that produced them.
package config

import (
	"github.com/hashicorp/hcl/v2"
)

// Model is the unified representation of everything a configuration tree
// declares.
type Model struct {
	Assets []*Asset
	Jobs   []*Job
	// EvalCtx is the evaluation context argument expressions are resolved
	// against, carrying the `env` variable.
	EvalCtx *hcl.EvalContext
}

// Asset is the declaration of one computation unit.
type Asset struct {
	// Kind is "pure" or "stage".
	Kind      string
	Name      string
	DependsOn []string

	// Entity and Snapshot declare external-entity coupling for snapshot
	// producers and their readers.
	Entity   string
	Snapshot bool

	// Handler names the registered Go handler of a pure asset.
	Handler string
	// Arguments is the raw arguments block of a pure asset, decoded into
	// the handler's input struct at execution time. May be nil.
	Arguments hcl.Body

	// Workdir, Env and Stages describe a stage asset's sub-commands.
	Workdir string
	Env     map[string]string
	Stages  []*Stage
}

// Stage is one ordered sub-command of a stage asset.
type Stage struct {
	Name    string
	Command []string
}

// Job selects a fixed set of assets and attaches a schedule. An empty
// Schedule means manual-only.
type Job struct {
	Name     string
	Assets   []string
	Schedule string
}
