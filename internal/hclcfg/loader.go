// Package hclcfg loads pipeline configuration from HCL files and translates
// it into the format-agnostic config model.
package hclcfg

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/assetflow/internal/config"
	"github.com/vk/assetflow/internal/ctxlog"
)

// Loader parses .hcl pipeline files.
type Loader struct{}

// NewLoader creates an HCL Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load implements config.Loader. Directories are searched recursively for
// .hcl files; files within a load are processed in sorted path order so the
// resulting model is stable.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)

	var files []string
	for _, p := range paths {
		found, err := findHCLFiles(p)
		if err != nil {
			return nil, fmt.Errorf("failed to discover configuration under %q: %w", p, err)
		}
		files = append(files, found...)
	}
	sort.Strings(files)
	logger.Debug("Discovered configuration files.", "count", len(files))

	evalCtx := newEvalContext()
	model := &config.Model{EvalCtx: evalCtx}

	parser := hclparse.NewParser()
	for _, path := range files {
		file, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse %q: %w", path, diags)
		}

		var fc fileConfig
		if diags := gohcl.DecodeBody(file.Body, evalCtx, &fc); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode %q: %w", path, diags)
		}

		for _, a := range fc.Assets {
			translated, err := translateAsset(a)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			model.Assets = append(model.Assets, translated)
		}
		for _, j := range fc.Jobs {
			translated, err := translateJob(j)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			model.Jobs = append(model.Jobs, translated)
		}
	}

	logger.Debug("Configuration loaded.", "assets", len(model.Assets), "jobs", len(model.Jobs))
	return model, nil
}

// translateAsset converts an HCL asset block into the agnostic model.
func translateAsset(b *assetBlock) (*config.Asset, error) {
	if b.Name == "" {
		return nil, fmt.Errorf("asset block with empty name")
	}
	out := &config.Asset{
		Kind:      b.Kind,
		Name:      b.Name,
		DependsOn: b.DependsOn,
		Entity:    b.Entity,
		Snapshot:  b.Snapshot,
		Handler:   b.Handler,
		Workdir:   b.Workdir,
		Env:       b.Env,
	}
	if b.Arguments != nil {
		out.Arguments = b.Arguments.Body
	}
	switch b.Kind {
	case "pure":
		if b.Handler == "" {
			return nil, fmt.Errorf("pure asset %q declares no handler", b.Name)
		}
		if len(b.Stages) > 0 {
			return nil, fmt.Errorf("pure asset %q must not declare stage blocks", b.Name)
		}
	case "stage":
		if len(b.Stages) == 0 {
			return nil, fmt.Errorf("stage asset %q declares no stage blocks", b.Name)
		}
		for _, s := range b.Stages {
			if len(s.Command) == 0 {
				return nil, fmt.Errorf("stage %q of asset %q has an empty command", s.Name, b.Name)
			}
			out.Stages = append(out.Stages, &config.Stage{Name: s.Name, Command: s.Command})
		}
	default:
		return nil, fmt.Errorf("asset %q has unknown kind %q (want \"pure\" or \"stage\")", b.Name, b.Kind)
	}
	return out, nil
}

// translateJob converts an HCL job block into the agnostic model.
func translateJob(b *jobBlock) (*config.Job, error) {
	if b.Name == "" {
		return nil, fmt.Errorf("job block with empty name")
	}
	if len(b.Assets) == 0 {
		return nil, fmt.Errorf("job %q selects no assets", b.Name)
	}
	return &config.Job{Name: b.Name, Assets: b.Assets, Schedule: b.Schedule}, nil
}

// newEvalContext exposes the process environment to argument expressions as
// the `env` object.
func newEvalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			vars[k] = cty.StringVal(v)
		}
	}
	envVal := cty.EmptyObjectVal
	if len(vars) > 0 {
		envVal = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": envVal},
	}
}

// findHCLFiles returns path itself when it is a file, or every .hcl file
// under it when it is a directory.
func findHCLFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".hcl") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
