// Package rowfilter provides the built-in "row_filter" handler: a pure
// asset that keeps only the upstream rows whose value in one column equals a
// configured string.
package rowfilter

import (
	"context"
	"fmt"

	"github.com/vk/assetflow/internal/asset"
	"github.com/vk/assetflow/internal/registry"
	"github.com/vk/assetflow/internal/table"
)

// Module implements registry.Module for this package.
type Module struct{}

// Input defines the arguments of a row_filter asset. From selects which
// dependency's table to filter; it may be omitted when the asset has exactly
// one pure dependency.
type Input struct {
	From   string `hcl:"from,optional"`
	Column string `hcl:"column"`
	Equals string `hcl:"equals"`
}

// Apply filters the upstream table.
func Apply(ctx context.Context, in *Input, inputs asset.Inputs) (*table.Table, error) {
	src, err := pick(in.From, inputs)
	if err != nil {
		return nil, err
	}
	out, err := src.FilterEqual(in.Column, in.Equals)
	if err != nil {
		return nil, fmt.Errorf("%w: row_filter: %v", asset.ErrAssetContract, err)
	}
	return out, nil
}

// pick resolves the source table among the materialized dependencies.
func pick(from string, inputs asset.Inputs) (*table.Table, error) {
	if from != "" {
		src, ok := inputs[from]
		if !ok {
			return nil, fmt.Errorf("%w: row_filter: no materialized input %q", asset.ErrAssetContract, from)
		}
		return src, nil
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: row_filter: %d inputs, set `from` to choose one", asset.ErrAssetContract, len(inputs))
	}
	for _, src := range inputs {
		return src, nil
	}
	panic("unreachable")
}

// Register wires the handler into the registry.
func (m *Module) Register(r *registry.Registry) error {
	return r.RegisterPureHandler("row_filter", &registry.PureHandler{
		NewInput: func() any { return new(Input) },
		Fn:       Apply,
	})
}
