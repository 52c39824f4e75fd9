package jobs

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runRecord struct {
	jobType string
	status  string
	details string
}

type fakeRuns struct {
	mu   sync.Mutex
	runs map[string]*runRecord
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{runs: map[string]*runRecord{}}
}

func (f *fakeRuns) CreateJobRun(_ context.Context, jobType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "run-" + strconv.Itoa(len(f.runs)+1)
	f.runs[id] = &runRecord{jobType: jobType, status: StatusRunning}
	return id, nil
}

func (f *fakeRuns) UpdateJobRun(_ context.Context, runID, status string, detailsJSON []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[runID]
	if !ok {
		return errors.New("unknown run")
	}
	r.status = status
	r.details = string(detailsJSON)
	return nil
}

func (f *fakeRuns) get(id string) runRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.runs[id]
}

func TestRunNowRecordsOutcome(t *testing.T) {
	runs := newFakeRuns()
	svc := New(runs, 1, nil)

	out, err := svc.RunNow(context.Background(), "calc", func(context.Context) (any, error) {
		return map[string]int{"created": 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"created": 2}, out)
	rec := runs.get("run-1")
	assert.Equal(t, StatusCompleted, rec.status)
	assert.JSONEq(t, `{"created":2}`, rec.details)

	_, err = svc.RunNow(context.Background(), "calc", func(context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	rec = runs.get("run-2")
	assert.Equal(t, StatusFailed, rec.status)
	assert.JSONEq(t, `{"error":"boom"}`, rec.details)
}

func TestEnqueueRunsInBackground(t *testing.T) {
	runs := newFakeRuns()
	svc := New(runs, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	id, err := svc.Enqueue(ctx, "calc", func(context.Context) (any, error) {
		return map[string]string{"status": "calculated"}, nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	assert.Eventually(t, func() bool {
		return runs.get(id).status == StatusCompleted
	}, time.Second, 10*time.Millisecond)
}

func TestEnqueueQueueFull(t *testing.T) {
	runs := newFakeRuns()
	svc := New(runs, 1, nil)
	noop := func(context.Context) (any, error) { return nil, nil }

	_, err := svc.Enqueue(context.Background(), "calc", noop)
	require.NoError(t, err)
	_, err = svc.Enqueue(context.Background(), "calc", noop)
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, StatusFailed, runs.get("run-2").status)
}
