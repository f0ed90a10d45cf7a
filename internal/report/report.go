// Package report defines the sealed record of one execution engine
// invocation: per-asset outcomes, timing, captured output, and the overall
// status.
package report

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the terminal state of an asset within one run. Every selected
// asset ends in exactly one of these; there is no "unknown".
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
)

// ErrSealed is returned by mutators called after Seal.
var ErrSealed = errors.New("run report is sealed")

// AssetResult is the outcome of a single asset.
type AssetResult struct {
	Asset   string    `json:"asset"`
	Status  Status    `json:"status"`
	Started time.Time `json:"started,omitzero"`
	Ended   time.Time `json:"ended,omitzero"`
	// Output holds captured stage streams for delegated assets, or a short
	// materialization summary for pure assets.
	Output string `json:"output,omitempty"`
	// Error is the failure or skip reason, empty on success.
	Error string `json:"error,omitempty"`
}

// RunReport records one engine invocation. It is mutable while the run is in
// flight and read-only after Seal.
type RunReport struct {
	mu sync.Mutex

	ID       uuid.UUID
	Job      string
	Trigger  string
	Started  time.Time
	Finished time.Time

	order   []string
	results map[string]*AssetResult
	sealed  bool
}

// NewRun creates an open report covering the given assets in execution-plan
// order.
func NewRun(job, trigger string, assets []string) *RunReport {
	r := &RunReport{
		ID:      uuid.New(),
		Job:     job,
		Trigger: trigger,
		Started: time.Now(),
		results: make(map[string]*AssetResult, len(assets)),
	}
	for _, a := range assets {
		r.order = append(r.order, a)
		r.results[a] = &AssetResult{Asset: a}
	}
	return r
}

// Begin marks the asset as started now.
func (r *RunReport) Begin(asset string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	r.results[asset].Started = time.Now()
	return nil
}

// Finish records the terminal outcome of an asset.
func (r *RunReport) Finish(asset string, status Status, output string, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	res := r.results[asset]
	res.Status = status
	res.Ended = time.Now()
	res.Output = output
	if err != nil {
		res.Error = err.Error()
	}
	return nil
}

// Seal closes the report. Overall status becomes available and all further
// mutation fails with ErrSealed. Sealing twice is a no-op.
func (r *RunReport) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.sealed = true
	r.Finished = time.Now()
}

// Sealed reports whether the run has completed.
func (r *RunReport) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

// Result returns a copy of the named asset's outcome.
func (r *RunReport) Result(asset string) (AssetResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[asset]
	if !ok {
		return AssetResult{}, false
	}
	return *res, true
}

// Results returns copies of every asset outcome in plan order.
func (r *RunReport) Results() []AssetResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AssetResult, 0, len(r.order))
	for _, a := range r.order {
		out = append(out, *r.results[a])
	}
	return out
}

// View is the flattened, serializable form of a report, used by the status
// endpoint and CLI output.
type View struct {
	ID       uuid.UUID     `json:"id"`
	Job      string        `json:"job,omitempty"`
	Trigger  string        `json:"trigger,omitempty"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished,omitzero"`
	Overall  Status        `json:"overall"`
	Results  []AssetResult `json:"results"`
}

// Snapshot returns a point-in-time copy of the report.
func (r *RunReport) Snapshot() View {
	v := View{
		ID:      r.ID,
		Job:     r.Job,
		Trigger: r.Trigger,
		Overall: r.Overall(),
		Results: r.Results(),
	}
	r.mu.Lock()
	v.Started = r.Started
	v.Finished = r.Finished
	r.mu.Unlock()
	return v
}

// Overall is Success iff every asset in the run succeeded.
func (r *RunReport) Overall() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.results {
		if res.Status != StatusSuccess {
			return StatusFailed
		}
	}
	return StatusSuccess
}
