// Package csvsource provides the built-in "csv_source" handler: a pure
// asset that materializes a CSV file as a table. The first record is the
// header; every cell is kept as a string.
package csvsource

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/vk/assetflow/internal/asset"
	"github.com/vk/assetflow/internal/registry"
	"github.com/vk/assetflow/internal/table"
)

// Module implements registry.Module for this package.
type Module struct{}

// Input defines the arguments of a csv_source asset.
type Input struct {
	Path string `hcl:"path"`
}

// Materialize reads the CSV file into a table.
func Materialize(ctx context.Context, in *Input, _ asset.Inputs) (*table.Table, error) {
	f, err := os.Open(in.Path)
	if err != nil {
		return nil, fmt.Errorf("csv_source: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("csv_source: reading header of %q: %w", in.Path, err)
	}

	tbl, err := table.New(header...)
	if err != nil {
		return nil, fmt.Errorf("csv_source: %q: %w", in.Path, err)
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv_source: reading %q: %w", in.Path, err)
	}
	for _, rec := range records {
		row := make([]any, len(rec))
		for i, cell := range rec {
			row[i] = cell
		}
		if err := tbl.AppendRow(row...); err != nil {
			return nil, fmt.Errorf("csv_source: %q: %w", in.Path, err)
		}
	}
	return tbl, nil
}

// Register wires the handler into the registry.
func (m *Module) Register(r *registry.Registry) error {
	return r.RegisterPureHandler("csv_source", &registry.PureHandler{
		NewInput: func() any { return new(Input) },
		Fn:       Materialize,
	})
}
