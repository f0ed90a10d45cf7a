package hclcfg

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_TranslatesAssetsAndJobs(t *testing.T) {
	path := writeConfig(t, "pipeline.hcl", `
asset "pure" "orders" {
  handler = "csv_source"

  arguments {
    path = "orders.csv"
  }
}

asset "pure" "emea_orders" {
  handler    = "row_filter"
  depends_on = ["orders"]
  entity     = "orders"

  arguments {
    column = "region"
    equals = "emea"
  }
}

asset "stage" "publish" {
  depends_on = ["emea_orders"]
  workdir    = "/tmp"
  env        = { TARGET = "warehouse" }

  stage "upload" {
    command = ["sh", "-c", "echo upload"]
  }

  stage "verify" {
    command = ["sh", "-c", "echo verify"]
  }
}

job "nightly" {
  assets   = ["publish"]
  schedule = "0 2 * * *"
}

job "adhoc" {
  assets = ["orders"]
}
`)

	model, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, model.Assets, 3)
	require.Len(t, model.Jobs, 2)
	require.NotNil(t, model.EvalCtx)

	orders := model.Assets[0]
	require.Equal(t, "pure", orders.Kind)
	require.Equal(t, "orders", orders.Name)
	require.Equal(t, "csv_source", orders.Handler)
	require.NotNil(t, orders.Arguments)

	filtered := model.Assets[1]
	require.Equal(t, []string{"orders"}, filtered.DependsOn)
	require.Equal(t, "orders", filtered.Entity)
	require.False(t, filtered.Snapshot)

	publish := model.Assets[2]
	require.Equal(t, "stage", publish.Kind)
	require.Equal(t, "/tmp", publish.Workdir)
	require.Equal(t, map[string]string{"TARGET": "warehouse"}, publish.Env)
	require.Len(t, publish.Stages, 2)
	require.Equal(t, "upload", publish.Stages[0].Name)
	require.Equal(t, []string{"sh", "-c", "echo upload"}, publish.Stages[0].Command)

	nightly := model.Jobs[0]
	require.Equal(t, "nightly", nightly.Name)
	require.Equal(t, []string{"publish"}, nightly.Assets)
	require.Equal(t, "0 2 * * *", nightly.Schedule)
	require.Empty(t, model.Jobs[1].Schedule)
}

func TestLoad_ArgumentsDecodeLazilyWithEnv(t *testing.T) {
	t.Setenv("AF_TEST_REGION", "apac")
	path := writeConfig(t, "pipeline.hcl", `
asset "pure" "filtered" {
  handler = "row_filter"

  arguments {
    column = "region"
    equals = env.AF_TEST_REGION
  }
}
`)

	model, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)

	var args struct {
		Column string `hcl:"column"`
		Equals string `hcl:"equals"`
	}
	diags := gohcl.DecodeBody(model.Assets[0].Arguments, model.EvalCtx, &args)
	require.False(t, diags.HasErrors(), diags.Error())
	require.Equal(t, "region", args.Column)
	require.Equal(t, "apac", args.Equals)
}

func TestLoad_DirectoryIsRecursiveAndSorted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.hcl"), []byte(`
asset "pure" "beta" { handler = "h" }
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "a.hcl"), []byte(`
asset "pure" "alpha" { handler = "h" }
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	model, err := NewLoader().Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, model.Assets, 2)
	// b.hcl sorts before sub/a.hcl.
	require.Equal(t, "beta", model.Assets[0].Name)
	require.Equal(t, "alpha", model.Assets[1].Name)
}

func TestLoad_KindValidation(t *testing.T) {
	cases := map[string]string{
		"pure without handler": `
asset "pure" "x" {}
`,
		"pure with stages": `
asset "pure" "x" {
  handler = "h"
  stage "s" { command = ["true"] }
}
`,
		"stage without stages": `
asset "stage" "x" {}
`,
		"stage with empty command": `
asset "stage" "x" {
  stage "s" { command = [] }
}
`,
		"unknown kind": `
asset "view" "x" {}
`,
		"job without assets": `
job "j" { assets = [] }
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, "bad.hcl", content)
			_, err := NewLoader().Load(context.Background(), path)
			require.Error(t, err)
		})
	}
}

func TestLoad_ParseErrorNamesFile(t *testing.T) {
	path := writeConfig(t, "broken.hcl", `asset "pure" {`)
	_, err := NewLoader().Load(context.Background(), path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken.hcl")
}

func TestLoad_MissingPath(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
