// Package sched maps cron-style triggers to jobs and invokes the execution
// engine when they fire. A job is a fixed selection of assets plus a
// schedule; each job is serialized against itself (at most one concurrent
// run), while distinct jobs run independently.
package sched

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/vk/assetflow/internal/config"
	"github.com/vk/assetflow/internal/ctxlog"
	"github.com/vk/assetflow/internal/engine"
	"github.com/vk/assetflow/internal/report"
)

var (
	// ErrInvalidSchedule is returned at job registration for a cron
	// expression that does not parse.
	ErrInvalidSchedule = errors.New("invalid schedule expression")
	// ErrUnknownJob is returned for operations on an unregistered job name.
	ErrUnknownJob = errors.New("unknown job")
	// ErrJobAlreadyRunning is returned by Materialize when a prior run of
	// the same job is still in flight.
	ErrJobAlreadyRunning = errors.New("job already running")
	// ErrDuplicateJob is returned when registering a job name twice.
	ErrDuplicateJob = errors.New("job already registered")
)

// Trigger values recorded on run reports.
const (
	TriggerScheduled = "SCHEDULED"
	TriggerManual    = "MANUAL"
)

// JobState is the externally observable state of a job.
type JobState string

const (
	JobIdle    JobState = "IDLE"
	JobRunning JobState = "RUNNING"
)

// SkipEvent records a trigger that was coalesced into a no-op because the
// job was already running. Skips are informational, not errors.
type SkipEvent struct {
	ID     uuid.UUID `json:"id"`
	Job    string    `json:"job"`
	Time   time.Time `json:"time"`
	Reason string    `json:"reason"`
}

// Engine is the slice of the execution engine the scheduler needs.
type Engine interface {
	Execute(ctx context.Context, req engine.Request) (*report.RunReport, error)
}

// job is the registered form of one schedulable asset selection.
type job struct {
	name     string
	assets   []string
	expr     string
	schedule cron.Schedule // nil for manual-only jobs
	running  atomic.Bool
}

// Scheduler dispatches jobs on cron triggers and manual requests.
type Scheduler struct {
	engine Engine
	store  *report.Store

	mu     sync.Mutex
	jobs   map[string]*job
	order  []string
	events []SkipEvent

	baseCtx context.Context
	wg      sync.WaitGroup
}

// New creates a Scheduler dispatching to the given engine and retaining
// completed reports in store.
func New(eng Engine, store *report.Store) *Scheduler {
	return &Scheduler{
		engine:  eng,
		store:   store,
		jobs:    make(map[string]*job),
		baseCtx: context.Background(),
	}
}

// AddJob registers a job. An empty or "manual" schedule makes the job
// manual-only; anything else must be a valid five-field cron expression or
// registration fails with ErrInvalidSchedule.
func (s *Scheduler) AddJob(name string, assets []string, scheduleExpr string) error {
	if name == "" {
		return fmt.Errorf("job name must not be empty")
	}
	if len(assets) == 0 {
		return fmt.Errorf("job %q selects no assets", name)
	}

	j := &job{name: name, assets: slices.Clone(assets), expr: scheduleExpr}
	if scheduleExpr != "" && scheduleExpr != "manual" {
		parsed, err := cron.ParseStandard(scheduleExpr)
		if err != nil {
			return fmt.Errorf("job %q: %w: %v", name, ErrInvalidSchedule, err)
		}
		j.schedule = parsed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q: %w", name, ErrDuplicateJob)
	}
	s.jobs[name] = j
	s.order = append(s.order, name)
	return nil
}

// LoadModel registers every job declared in the configuration model.
func (s *Scheduler) LoadModel(model *config.Model) error {
	for _, j := range model.Jobs {
		if err := s.AddJob(j.Name, j.Assets, j.Schedule); err != nil {
			return err
		}
	}
	return nil
}

// Start runs the scheduler loop until ctx is canceled, ticking at the given
// interval (the cron resolution; one minute when non-positive). Dispatched
// runs execute on their own goroutines and never block the loop.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.mu.Lock()
	s.baseCtx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	logger := ctxlog.FromContext(ctx)
	logger.Info("Scheduler started.", "interval", interval, "jobs", len(s.order))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Scheduler stopping.")
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Wait blocks until every in-flight job run has completed.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Tick dispatches every job whose cron expression matches the minute of now
// and which is not currently running. Overlapping triggers for a running job
// are coalesced into a recorded skip.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	var due []*job
	for _, name := range s.order {
		j := s.jobs[name]
		if j.schedule != nil && matchesMinute(j.schedule, now) {
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		s.dispatch(j, now)
	}
}

// dispatch starts an asynchronous run of j, or records a skip if a prior
// run is still in flight.
func (s *Scheduler) dispatch(j *job, now time.Time) {
	logger := ctxlog.FromContext(s.baseCtx)

	if !j.running.CompareAndSwap(false, true) {
		s.recordSkip(j.name, now, "skipped: already running")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer j.running.Store(false)

		rep, err := s.engine.Execute(s.baseCtx, engine.Request{
			Assets:  j.assets,
			Job:     j.name,
			Trigger: TriggerScheduled,
		})
		if err != nil {
			logger.Error("Scheduled run aborted before any asset ran.", "job", j.name, "error", err)
			return
		}
		s.store.Add(rep)
		logger.Info("Scheduled run finished.", "job", j.name, "run_id", rep.ID, "overall", rep.Overall())
	}()
}

// Materialize runs a job immediately, bypassing its schedule. An optional
// subset restricts the run to some of the job's assets (dependencies outside
// the subset still run, supplied by the engine's closure); the default is
// all of them. The at-most-one-run-per-job constraint applies: a job already
// in flight records a skip and returns ErrJobAlreadyRunning.
func (s *Scheduler) Materialize(ctx context.Context, name string, subset ...string) (*report.RunReport, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}

	assets := j.assets
	if len(subset) > 0 {
		for _, a := range subset {
			if !slices.Contains(j.assets, a) {
				return nil, fmt.Errorf("asset %q is not part of job %q", a, name)
			}
		}
		assets = subset
	}

	if !j.running.CompareAndSwap(false, true) {
		s.recordSkip(name, time.Now(), "skipped: already running")
		return nil, fmt.Errorf("job %q: %w", name, ErrJobAlreadyRunning)
	}
	defer j.running.Store(false)

	rep, err := s.engine.Execute(ctx, engine.Request{
		Assets:  assets,
		Job:     name,
		Trigger: TriggerManual,
	})
	if err != nil {
		return nil, err
	}
	s.store.Add(rep)
	return rep, nil
}

// recordSkip logs and retains a concurrency-guard event in place of a run.
func (s *Scheduler) recordSkip(jobName string, at time.Time, reason string) {
	ev := SkipEvent{ID: uuid.New(), Job: jobName, Time: at, Reason: reason}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	ctxlog.FromContext(s.baseCtx).Info("Trigger coalesced.", "job", jobName, "reason", reason)
}

// Events returns a copy of every recorded skip event, oldest first.
func (s *Scheduler) Events() []SkipEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

// JobStatus is the externally observable state of one job.
type JobStatus struct {
	Name     string   `json:"name"`
	Assets   []string `json:"assets"`
	Schedule string   `json:"schedule,omitempty"`
	State    JobState `json:"state"`
}

// JobStatuses returns the registered jobs in registration order with their
// current states.
func (s *Scheduler) JobStatuses() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.order))
	for _, name := range s.order {
		j := s.jobs[name]
		state := JobIdle
		if j.running.Load() {
			state = JobRunning
		}
		out = append(out, JobStatus{
			Name:     j.name,
			Assets:   slices.Clone(j.assets),
			Schedule: j.expr,
			State:    state,
		})
	}
	return out
}

// matchesMinute reports whether the schedule fires in the minute containing
// now. Cron resolution is one minute; seconds are ignored.
func matchesMinute(schedule cron.Schedule, now time.Time) bool {
	target := now.Truncate(time.Minute)
	return schedule.Next(target.Add(-time.Second)).Equal(target)
}
