package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"

	"github.com/vk/assetflow/internal/engine"
	"github.com/vk/assetflow/internal/report"
)

// fakeEngine records requests and optionally blocks until released, to
// simulate long runs overlapping with later triggers.
type fakeEngine struct {
	mu      sync.Mutex
	calls   []engine.Request
	started chan string
	release chan struct{}
}

func (f *fakeEngine) Execute(ctx context.Context, req engine.Request) (*report.RunReport, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- req.Job
	}
	if f.release != nil {
		<-f.release
	}

	rep := report.NewRun(req.Job, req.Trigger, req.Assets)
	for _, a := range req.Assets {
		rep.Begin(a)
		rep.Finish(a, report.StatusSuccess, "", nil)
	}
	rep.Seal()
	return rep, nil
}

func (f *fakeEngine) requests() []engine.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Request(nil), f.calls...)
}

func TestAddJob_Validation(t *testing.T) {
	s := New(&fakeEngine{}, report.NewStore())

	require.Error(t, s.AddJob("", []string{"a"}, ""))
	require.Error(t, s.AddJob("empty", nil, ""))
	require.ErrorIs(t, s.AddJob("bad", []string{"a"}, "not a cron line"), ErrInvalidSchedule)
	require.ErrorIs(t, s.AddJob("bad", []string{"a"}, "* * * *"), ErrInvalidSchedule)

	require.NoError(t, s.AddJob("nightly", []string{"a"}, "0 2 * * *"))
	require.ErrorIs(t, s.AddJob("nightly", []string{"a"}, "0 2 * * *"), ErrDuplicateJob)

	// Manual-only jobs carry no schedule at all.
	require.NoError(t, s.AddJob("adhoc", []string{"a"}, "manual"))
	require.NoError(t, s.AddJob("adhoc2", []string{"a"}, ""))
}

func TestTick_FiresOnlyMatchingJobs(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, report.NewStore())
	require.NoError(t, s.AddJob("nightly", []string{"a"}, "0 2 * * *"))
	require.NoError(t, s.AddJob("hourly", []string{"b"}, "0 * * * *"))
	require.NoError(t, s.AddJob("adhoc", []string{"c"}, "manual"))

	s.Tick(time.Date(2026, 3, 10, 2, 0, 30, 0, time.UTC))
	s.Wait()

	reqs := eng.requests()
	require.Len(t, reqs, 2)
	jobs := []string{reqs[0].Job, reqs[1].Job}
	require.ElementsMatch(t, []string{"nightly", "hourly"}, jobs)
	for _, r := range reqs {
		require.Equal(t, TriggerScheduled, r.Trigger)
	}

	// A non-matching minute fires nothing further.
	s.Tick(time.Date(2026, 3, 10, 2, 1, 0, 0, time.UTC))
	s.Wait()
	require.Len(t, eng.requests(), 2)
}

func TestTick_OverlappingTriggerIsCoalesced(t *testing.T) {
	eng := &fakeEngine{
		started: make(chan string, 2),
		release: make(chan struct{}),
	}
	s := New(eng, report.NewStore())
	require.NoError(t, s.AddJob("slow", []string{"a"}, "* * * * *"))
	require.NoError(t, s.AddJob("other", []string{"b"}, "* * * * *"))

	at := time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC)
	s.Tick(at)

	// Both jobs are now in flight and blocked inside the engine.
	inFlight := []string{<-eng.started, <-eng.started}
	require.ElementsMatch(t, []string{"slow", "other"}, inFlight)

	// The next trigger finds both still running: no new invocations, one
	// skip event per job.
	s.Tick(at.Add(time.Minute))
	require.Len(t, eng.requests(), 2)

	events := s.Events()
	require.Len(t, events, 2)
	for _, ev := range events {
		require.Equal(t, "skipped: already running", ev.Reason)
	}

	statuses := s.JobStatuses()
	require.Len(t, statuses, 2)
	for _, st := range statuses {
		require.Equal(t, JobRunning, st.State)
	}

	close(eng.release)
	s.Wait()

	for _, st := range s.JobStatuses() {
		require.Equal(t, JobIdle, st.State)
	}

	// With the first runs finished, the job is schedulable again.
	s.Tick(at.Add(2 * time.Minute))
	s.Wait()
	require.Len(t, eng.requests(), 4)
}

func TestMaterialize_RunsSynchronously(t *testing.T) {
	eng := &fakeEngine{}
	store := report.NewStore()
	s := New(eng, store)
	require.NoError(t, s.AddJob("nightly", []string{"a", "b"}, "manual"))

	rep, err := s.Materialize(context.Background(), "nightly")
	require.NoError(t, err)
	require.Equal(t, report.StatusSuccess, rep.Overall())
	require.Equal(t, TriggerManual, rep.Trigger)

	reqs := eng.requests()
	require.Len(t, reqs, 1)
	require.Equal(t, []string{"a", "b"}, reqs[0].Assets)

	// Completed runs land in the store.
	got, ok := store.Get(rep.ID)
	require.True(t, ok)
	require.Same(t, rep, got)
}

func TestMaterialize_SubsetMustBelongToJob(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, report.NewStore())
	require.NoError(t, s.AddJob("nightly", []string{"a", "b"}, "manual"))

	_, err := s.Materialize(context.Background(), "nightly", "c")
	require.Error(t, err)
	require.Empty(t, eng.requests())

	rep, err := s.Materialize(context.Background(), "nightly", "b")
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, eng.requests()[0].Assets)
	require.NotNil(t, rep)
}

func TestMaterialize_UnknownJob(t *testing.T) {
	s := New(&fakeEngine{}, report.NewStore())
	_, err := s.Materialize(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrUnknownJob)
}

func TestMaterialize_WhileRunningIsRefused(t *testing.T) {
	eng := &fakeEngine{
		started: make(chan string, 1),
		release: make(chan struct{}),
	}
	s := New(eng, report.NewStore())
	require.NoError(t, s.AddJob("slow", []string{"a"}, "* * * * *"))

	s.Tick(time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC))
	<-eng.started

	_, err := s.Materialize(context.Background(), "slow")
	require.ErrorIs(t, err, ErrJobAlreadyRunning)
	require.Len(t, s.Events(), 1)

	close(eng.release)
	s.Wait()
}

func TestMatchesMinute(t *testing.T) {
	daily, err := cron.ParseStandard("0 2 * * *")
	require.NoError(t, err)

	require.True(t, matchesMinute(daily, time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)))
	// Seconds within the minute are ignored.
	require.True(t, matchesMinute(daily, time.Date(2026, 3, 10, 2, 0, 59, 0, time.UTC)))
	require.False(t, matchesMinute(daily, time.Date(2026, 3, 10, 2, 1, 0, 0, time.UTC)))
	require.False(t, matchesMinute(daily, time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)))

	every5, err := cron.ParseStandard("*/5 * * * *")
	require.NoError(t, err)
	require.True(t, matchesMinute(every5, time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC)))
	require.False(t, matchesMinute(every5, time.Date(2026, 3, 10, 9, 16, 0, 0, time.UTC)))
}
