// Package engine executes a requested subset of the asset graph. It expands
// the request to its transitive dependency closure, plans a deterministic
// topological order, runs independent branches concurrently under a bounded
// worker pool, and returns a sealed run report.
//
// Failure policy is fail-partial: a failed asset marks its transitive
// dependents Skipped, while branches with no failed ancestor keep running.
// Asset-level failures never surface as errors from Execute; only
// graph-resolution problems abort a run before it starts.
package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/vk/assetflow/internal/asset"
	"github.com/vk/assetflow/internal/ctxlog"
	"github.com/vk/assetflow/internal/registry"
	"github.com/vk/assetflow/internal/report"
	"github.com/vk/assetflow/internal/stage"
	"github.com/vk/assetflow/internal/table"
)

// DefaultWorkers bounds concurrent asset executions when no explicit worker
// count is configured.
const DefaultWorkers = 4

// Request selects the assets of one run and carries report metadata.
type Request struct {
	// Assets names the requested assets. The engine always executes the
	// full transitive dependency closure of this set.
	Assets []string
	// Job and Trigger annotate the run report; both may be empty for
	// ad hoc runs.
	Job     string
	Trigger string
}

// Engine runs assets against a frozen graph.
type Engine struct {
	graph   *registry.Graph
	stages  stage.Runner
	workers int
}

// New creates an Engine. A nil stage runner falls back to the subprocess
// runner; a non-positive worker count falls back to DefaultWorkers.
func New(graph *registry.Graph, stages stage.Runner, workers int) *Engine {
	if stages == nil {
		stages = stage.NewRunner()
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Engine{graph: graph, stages: stages, workers: workers}
}

// Plan resolves the request's closure and returns the deterministic
// execution order by asset name. Ties between assets with no relative
// dependency are broken by ascending name.
func (e *Engine) Plan(names []string) ([]string, error) {
	slots, err := e.graph.Closure(names)
	if err != nil {
		return nil, err
	}
	order := e.graph.Plan(slots)
	out := make([]string, len(order))
	for i, s := range order {
		out[i] = e.graph.Name(s)
	}
	return out, nil
}

// completion is the message a worker sends back when its asset reaches a
// terminal state.
type completion struct {
	slot   int
	status report.Status
	output string
	err    error
	tbl    *table.Table
}

// Execute runs the request and returns the sealed report. It fails with
// registry.ErrAssetNotFound for unknown names, before any asset runs.
func (e *Engine) Execute(ctx context.Context, req Request) (*report.RunReport, error) {
	logger := ctxlog.FromContext(ctx)

	slots, err := e.graph.Closure(req.Assets)
	if err != nil {
		return nil, err
	}
	plan := e.graph.Plan(slots)

	names := make([]string, len(plan))
	for i, s := range plan {
		names[i] = e.graph.Name(s)
	}
	rep := report.NewRun(req.Job, req.Trigger, names)
	logger.Info("Starting run.", "run_id", rep.ID, "assets", len(plan), "job", req.Job)

	const (
		statePending = iota
		stateRunning
		stateDone
	)
	state := make(map[int]int, len(plan))
	outcome := make(map[int]report.Status, len(plan))
	// cache holds materialized pure outputs for the duration of this run
	// only. It is owned by the dispatch loop below; workers hand tables
	// back through the completion channel.
	cache := make(map[int]*table.Table, len(plan))

	sem := semaphore.NewWeighted(int64(e.workers))
	done := make(chan completion, len(plan))

	completed := 0
	running := 0
	for completed < len(plan) {
		progressed := false
		for _, s := range plan {
			if state[s] != statePending {
				continue
			}

			// A pending asset with a failed or skipped dependency is
			// itself skipped, transitively.
			if bad, badStatus := e.firstBadDep(s, outcome); bad >= 0 {
				state[s] = stateDone
				outcome[s] = report.StatusSkipped
				completed++
				progressed = true
				reason := fmt.Errorf("skipped due to upstream %s of %q",
					statusWord(badStatus), e.graph.Name(bad))
				logger.Warn("Skipping asset.", "asset", e.graph.Name(s), "cause", e.graph.Name(bad))
				rep.Finish(e.graph.Name(s), report.StatusSkipped, "", reason)
				continue
			}

			if !e.depsSatisfied(s, outcome) {
				continue
			}
			if !sem.TryAcquire(1) {
				break
			}

			state[s] = stateRunning
			running++
			progressed = true
			rep.Begin(e.graph.Name(s))
			go func(slot int, inputs asset.Inputs) {
				defer sem.Release(1)
				done <- e.runAsset(ctx, slot, inputs)
			}(s, e.collectInputs(s, cache))
		}

		if completed == len(plan) {
			break
		}
		if running == 0 && !progressed {
			// Unreachable on a frozen acyclic graph; guards against a
			// stalled loop if an invariant is broken upstream.
			rep.Seal()
			return rep, fmt.Errorf("no runnable assets remain with %d pending", len(plan)-completed)
		}
		if running > 0 {
			c := <-done
			state[c.slot] = stateDone
			outcome[c.slot] = c.status
			running--
			completed++
			if c.tbl != nil {
				cache[c.slot] = c.tbl
			}
			rep.Finish(e.graph.Name(c.slot), c.status, c.output, c.err)
			if c.err != nil {
				logger.Error("Asset failed.", "asset", e.graph.Name(c.slot), "error", c.err)
			}
		}
	}

	rep.Seal()
	logger.Info("Run finished.", "run_id", rep.ID, "overall", rep.Overall())
	return rep, nil
}

// firstBadDep returns the lowest dependency slot of s that failed or was
// skipped, or -1.
func (e *Engine) firstBadDep(s int, outcome map[int]report.Status) (int, report.Status) {
	for _, d := range e.graph.Dependencies(s) {
		switch outcome[d] {
		case report.StatusFailed, report.StatusSkipped:
			return d, outcome[d]
		}
	}
	return -1, ""
}

// depsSatisfied reports whether every dependency of s succeeded.
func (e *Engine) depsSatisfied(s int, outcome map[int]report.Status) bool {
	for _, d := range e.graph.Dependencies(s) {
		if outcome[d] != report.StatusSuccess {
			return false
		}
	}
	return true
}

// collectInputs gathers the materialized tables of s's pure dependencies,
// keyed by dependency name. Stage dependencies contribute no entry.
func (e *Engine) collectInputs(s int, cache map[int]*table.Table) asset.Inputs {
	inputs := make(asset.Inputs)
	for _, d := range e.graph.Dependencies(s) {
		if tbl, ok := cache[d]; ok {
			inputs[e.graph.Name(d)] = tbl
		}
	}
	return inputs
}

// runAsset executes one asset to a terminal state.
func (e *Engine) runAsset(ctx context.Context, slot int, inputs asset.Inputs) completion {
	def := e.graph.Def(slot)
	logger := ctxlog.FromContext(ctx).With("asset", def.Name)

	switch def.Kind {
	case asset.KindStage:
		logger.Info("Running delegated stages.", "stages", len(def.Stages.Commands))
		res := e.stages.Run(ctx, def.Stages)
		out := stage.FormatOutput(res)
		if !res.OK() {
			return completion{slot: slot, status: report.StatusFailed, output: out, err: res.Err}
		}
		return completion{slot: slot, status: report.StatusSuccess, output: out}

	default: // asset.KindPure, enforced at registration
		logger.Info("Materializing asset.")
		tbl, err := def.Run(ctx, inputs)
		if err != nil {
			return completion{slot: slot, status: report.StatusFailed, err: err}
		}
		if tbl == nil {
			return completion{
				slot:   slot,
				status: report.StatusFailed,
				err:    fmt.Errorf("%w: %q returned no table", asset.ErrAssetContract, def.Name),
			}
		}
		summary := fmt.Sprintf("rows=%d columns=%d", tbl.NumRows(), len(tbl.Columns()))
		return completion{slot: slot, status: report.StatusSuccess, output: summary, tbl: tbl}
	}
}

func statusWord(s report.Status) string {
	if s == report.StatusSkipped {
		return "skip"
	}
	return "failure"
}
