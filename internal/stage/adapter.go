// Package stage runs the ordered external sub-commands of a delegated asset.
// Each sub-command is an opaque process: exit zero is success, anything else
// fails the stage and aborts the remainder. The adapter has no transactional
// semantics; partial external state left behind by earlier sub-commands is
// surfaced in the result, never rolled back.
package stage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/vk/assetflow/internal/asset"
	"github.com/vk/assetflow/internal/ctxlog"
)

// Outcome is the captured record of one executed sub-command.
type Outcome struct {
	Name     string
	ExitCode int
	Stdout   string
	Stderr   string
	Started  time.Time
	Ended    time.Time
}

// Duration is the wall-clock time the sub-command took.
func (o Outcome) Duration() time.Duration {
	return o.Ended.Sub(o.Started)
}

// Result is the terminal outcome of a full stage sequence. Outcomes holds
// one entry per sub-command that was actually started; sub-commands after
// the first failure are never invoked and have no entry.
type Result struct {
	Outcomes []Outcome
	// FailedIndex is the index of the failing sub-command, or -1 on success.
	FailedIndex int
	// Err describes the failure. Nil on success.
	Err error
}

// OK reports whether every sub-command exited zero.
func (r Result) OK() bool {
	return r.FailedIndex < 0 && r.Err == nil
}

// Runner executes stage specifications.
type Runner interface {
	Run(ctx context.Context, spec *asset.StageSpec) Result
}

// ExecRunner is the os/exec backed Runner used in production.
type ExecRunner struct{}

// NewRunner returns the default subprocess-backed Runner.
func NewRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes each sub-command synchronously in declared order, capturing
// standard output and standard error verbatim. The first non-zero exit (or
// launch failure, or external kill) aborts the remaining sub-commands.
func (e *ExecRunner) Run(ctx context.Context, spec *asset.StageSpec) Result {
	logger := ctxlog.FromContext(ctx)
	res := Result{FailedIndex: -1}

	for i, sub := range spec.Commands {
		logger.Debug("Starting stage sub-command.", "stage", sub.Name, "argv", sub.Argv)

		cmd := exec.CommandContext(ctx, sub.Argv[0], sub.Argv[1:]...)
		cmd.Dir = spec.Dir
		cmd.Env = mergedEnv(spec.Env)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		out := Outcome{Name: sub.Name, Started: time.Now()}
		err := cmd.Run()
		out.Ended = time.Now()
		out.Stdout = stdout.String()
		out.Stderr = stderr.String()

		switch {
		case err == nil:
			out.ExitCode = 0
		default:
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				// Includes processes killed by an external operator, which
				// report a negative exit code.
				out.ExitCode = exitErr.ExitCode()
			} else {
				// Launch failure: the process never started.
				out.ExitCode = -1
			}
		}

		res.Outcomes = append(res.Outcomes, out)

		if err != nil {
			logger.Warn("Stage sub-command failed, aborting remaining stages.",
				"stage", sub.Name, "index", i, "exit_code", out.ExitCode)
			res.FailedIndex = i
			res.Err = fmt.Errorf("stage %q (index %d) failed with exit code %d: %w", sub.Name, i, out.ExitCode, err)
			return res
		}

		logger.Debug("Stage sub-command succeeded.", "stage", sub.Name, "duration", out.Duration())
	}

	return res
}

// mergedEnv layers the spec's variables over the process environment.
func mergedEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil // exec uses the process environment
	}
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// FormatOutput renders the captured streams of every executed sub-command
// into the form stored on the run report.
func FormatOutput(res Result) string {
	var b bytes.Buffer
	for _, o := range res.Outcomes {
		fmt.Fprintf(&b, "--- stage %s (exit %d, %s)\n", o.Name, o.ExitCode, o.Duration().Round(time.Millisecond))
		if o.Stdout != "" {
			b.WriteString(o.Stdout)
			if !bytes.HasSuffix(b.Bytes(), []byte("\n")) {
				b.WriteByte('\n')
			}
		}
		if o.Stderr != "" {
			fmt.Fprintf(&b, "--- stderr %s\n", o.Name)
			b.WriteString(o.Stderr)
			if !bytes.HasSuffix(b.Bytes(), []byte("\n")) {
				b.WriteByte('\n')
			}
		}
	}
	return b.String()
}
