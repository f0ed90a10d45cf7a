package stage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/assetflow/internal/asset"
)

func TestRun_ExecutesCommandsInOrder(t *testing.T) {
	spec := &asset.StageSpec{
		Commands: []asset.StageCommand{
			{Name: "first", Argv: []string{"sh", "-c", "echo one"}},
			{Name: "second", Argv: []string{"sh", "-c", "echo two"}},
		},
	}

	res := NewRunner().Run(context.Background(), spec)
	require.True(t, res.OK())
	require.Equal(t, -1, res.FailedIndex)
	require.Len(t, res.Outcomes, 2)
	require.Equal(t, "one\n", res.Outcomes[0].Stdout)
	require.Equal(t, "two\n", res.Outcomes[1].Stdout)
	require.Equal(t, 0, res.Outcomes[0].ExitCode)
}

func TestRun_FirstFailureAbortsRemainder(t *testing.T) {
	spec := &asset.StageSpec{
		Commands: []asset.StageCommand{
			{Name: "seed", Argv: []string{"sh", "-c", "echo seeded"}},
			{Name: "load", Argv: []string{"sh", "-c", "echo cannot connect >&2; exit 3"}},
			{Name: "verify", Argv: []string{"sh", "-c", "echo never"}},
		},
	}

	res := NewRunner().Run(context.Background(), spec)
	require.False(t, res.OK())
	require.Equal(t, 1, res.FailedIndex)
	require.Error(t, res.Err)
	require.Contains(t, res.Err.Error(), `stage "load"`)

	// The third sub-command was never started.
	require.Len(t, res.Outcomes, 2)
	require.Equal(t, "seeded\n", res.Outcomes[0].Stdout)
	require.Equal(t, 3, res.Outcomes[1].ExitCode)
	require.Equal(t, "cannot connect\n", res.Outcomes[1].Stderr)
}

func TestRun_LaunchFailureReportsMinusOne(t *testing.T) {
	spec := &asset.StageSpec{
		Commands: []asset.StageCommand{
			{Name: "missing", Argv: []string{"assetflow-no-such-binary"}},
		},
	}

	res := NewRunner().Run(context.Background(), spec)
	require.False(t, res.OK())
	require.Equal(t, 0, res.FailedIndex)
	require.Equal(t, -1, res.Outcomes[0].ExitCode)
}

func TestRun_AppliesDirAndEnv(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	spec := &asset.StageSpec{
		Dir: dir,
		Env: map[string]string{"AF_TARGET": "warehouse"},
		Commands: []asset.StageCommand{
			{Name: "where", Argv: []string{"sh", "-c", "pwd"}},
			{Name: "env", Argv: []string{"sh", "-c", "echo $AF_TARGET"}},
		},
	}

	res := NewRunner().Run(context.Background(), spec)
	require.True(t, res.OK())
	require.Contains(t, res.Outcomes[0].Stdout, dir)
	require.Equal(t, "warehouse\n", res.Outcomes[1].Stdout)
}

func TestFormatOutput_RendersStreamsPerStage(t *testing.T) {
	res := Result{
		FailedIndex: 1,
		Outcomes: []Outcome{
			{Name: "seed", Stdout: "ok\n"},
			{Name: "load", ExitCode: 3, Stderr: "boom"},
		},
	}

	out := FormatOutput(res)
	require.Contains(t, out, "--- stage seed (exit 0")
	require.Contains(t, out, "ok\n")
	require.Contains(t, out, "--- stage load (exit 3")
	require.Contains(t, out, "--- stderr load\nboom\n")
}
