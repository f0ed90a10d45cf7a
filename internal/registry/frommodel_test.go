package registry

import (
	"context"
	"testing"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/stretchr/testify/require"

	"github.com/vk/assetflow/internal/asset"
	"github.com/vk/assetflow/internal/config"
	"github.com/vk/assetflow/internal/table"
)

type echoInput struct {
	Value string `hcl:"value"`
}

// registerEchoHandler installs a handler returning a one-row table holding
// the decoded argument.
func registerEchoHandler(t *testing.T, r *Registry) {
	t.Helper()
	err := r.RegisterPureHandler("echo", &PureHandler{
		NewInput: func() any { return &echoInput{} },
		Fn: func(ctx context.Context, in *echoInput, inputs asset.Inputs) (*table.Table, error) {
			tbl := table.MustNew("value")
			if err := tbl.AppendRow(in.Value); err != nil {
				return nil, err
			}
			return tbl, nil
		},
	})
	require.NoError(t, err)
}

func argsBody(t *testing.T, src string) *config.Asset {
	t.Helper()
	file, diags := hclparse.NewParser().ParseHCL([]byte(src), "args.hcl")
	require.False(t, diags.HasErrors(), diags.Error())
	return &config.Asset{Kind: "pure", Name: "echoed", Handler: "echo", Arguments: file.Body}
}

func TestRegisterPureHandler_SignatureValidation(t *testing.T) {
	r := New()

	err := r.RegisterPureHandler("bad", &PureHandler{
		NewInput: func() any { return &echoInput{} },
		Fn:       func(in *echoInput) error { return nil },
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "signature")

	err = r.RegisterPureHandler("", &PureHandler{})
	require.Error(t, err)

	registerEchoHandler(t, r)
	err = r.RegisterPureHandler("echo", &PureHandler{
		NewInput: func() any { return &echoInput{} },
		Fn: func(ctx context.Context, in *echoInput, inputs asset.Inputs) (*table.Table, error) {
			return nil, nil
		},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "already registered")
}

func TestLoadModel_DeclarationOrderDoesNotMatter(t *testing.T) {
	r := New()
	registerEchoHandler(t, r)

	// Dependent declared before its dependency.
	model := &config.Model{Assets: []*config.Asset{
		{Kind: "stage", Name: "publish", DependsOn: []string{"echoed"},
			Stages: []*config.Stage{{Name: "s", Command: []string{"true"}}}},
		argsBody(t, `value = "hello"`),
	}}

	require.NoError(t, r.LoadModel(context.Background(), model))
	require.Equal(t, []string{"echoed", "publish"}, r.Names())
}

func TestLoadModel_MissingDependencyAnywhereInModel(t *testing.T) {
	r := New()
	registerEchoHandler(t, r)

	a := argsBody(t, `value = "hello"`)
	a.DependsOn = []string{"ghost"}
	model := &config.Model{Assets: []*config.Asset{a}}

	err := r.LoadModel(context.Background(), model)
	require.ErrorIs(t, err, ErrUnknownDependency)
	require.Contains(t, err.Error(), "ghost")
}

func TestLoadModel_DeclarationLoopIsACycle(t *testing.T) {
	r := New()
	registerEchoHandler(t, r)

	a := argsBody(t, `value = "a"`)
	a.Name = "a"
	a.DependsOn = []string{"b"}
	b := argsBody(t, `value = "b"`)
	b.Name = "b"
	b.DependsOn = []string{"a"}
	model := &config.Model{Assets: []*config.Asset{a, b}}

	err := r.LoadModel(context.Background(), model)
	require.ErrorIs(t, err, ErrCycleDetected)

	var cerr *CycleError
	require.ErrorAs(t, err, &cerr)
	require.Contains(t, cerr.Assets, "a")
	require.Contains(t, cerr.Assets, "b")
}

func TestLoadModel_UnregisteredHandler(t *testing.T) {
	r := New()
	model := &config.Model{Assets: []*config.Asset{
		{Kind: "pure", Name: "x", Handler: "nope"},
	}}
	err := r.LoadModel(context.Background(), model)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unregistered handler")
}

func TestLoadModel_ArgumentsDecodePerRun(t *testing.T) {
	r := New()
	registerEchoHandler(t, r)

	model := &config.Model{Assets: []*config.Asset{argsBody(t, `value = "hello"`)}}
	require.NoError(t, r.LoadModel(context.Background(), model))

	g, err := r.Freeze()
	require.NoError(t, err)
	i, ok := g.Lookup("echoed")
	require.True(t, ok)

	tbl, err := g.Def(i).Run(context.Background(), asset.Inputs{})
	require.NoError(t, err)
	v, err := tbl.Value(0, "value")
	require.NoError(t, err)
	require.Equal(t, "hello", v)
}

func TestLoadModel_BadArgumentsAreAContractViolation(t *testing.T) {
	r := New()
	registerEchoHandler(t, r)

	// "value" is required by the input struct but absent here.
	model := &config.Model{Assets: []*config.Asset{argsBody(t, `other = "x"`)}}
	require.NoError(t, r.LoadModel(context.Background(), model))

	g, err := r.Freeze()
	require.NoError(t, err)
	i, ok := g.Lookup("echoed")
	require.True(t, ok)

	_, err = g.Def(i).Run(context.Background(), asset.Inputs{})
	require.ErrorIs(t, err, asset.ErrAssetContract)
}
