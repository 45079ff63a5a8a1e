package jobqueue

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RetroPix/RetroPix/internal/pkg/generation"
)

type fakeStateMachine struct {
	dispatched []uint
	completed  map[uint]string
	failed     map[uint]string
}

func newFakeStateMachine() *fakeStateMachine {
	return &fakeStateMachine{completed: make(map[uint]string), failed: make(map[uint]string)}
}

func (f *fakeStateMachine) MarkDispatched(_ context.Context, id uint) error {
	f.dispatched = append(f.dispatched, id)
	return nil
}

func (f *fakeStateMachine) Complete(_ context.Context, id uint, outputRef string) error {
	f.completed[id] = outputRef
	return nil
}

func (f *fakeStateMachine) Fail(_ context.Context, id uint, reason string) error {
	f.failed[id] = reason
	return nil
}

type fakeExecutor struct {
	err    error
	output string
	jobs   []generation.ExecutorJob
}

func (f *fakeExecutor) Run(_ context.Context, job generation.ExecutorJob) (*generation.ExecutorResult, error) {
	f.jobs = append(f.jobs, job)
	if f.err != nil {
		return nil, f.err
	}
	return &generation.ExecutorResult{OutputRef: f.output}, nil
}

func withFakes(t *testing.T, sm GenerationStateMachine, exec generation.Executor) {
	t.Helper()
	origSvc, origExec := GenerationServiceFactory, ExecutorFactory
	GenerationServiceFactory = func() GenerationStateMachine { return sm }
	ExecutorFactory = func() generation.Executor { return exec }
	t.Cleanup(func() {
		GenerationServiceFactory, ExecutorFactory = origSvc, origExec
	})
}

func dispatchJob() *Job {
	payload := GenerationDispatchJobPayload{
		GenerationID:   42,
		GenerationUUID: "u-42",
		ActionType:     "colorize_image",
		InputRef:       "uploads/photo.jpg",
	}
	return &Job{ID: "job-1", Type: JobTypeGenerationDispatch, Payload: payload.ToMap(), MaxRetries: 3}
}

func TestProcessGenerationDispatchJob_Success(t *testing.T) {
	sm := newFakeStateMachine()
	exec := &fakeExecutor{output: "out/photo.jpg"}
	withFakes(t, sm, exec)

	q := &Queue{}
	err := q.processGenerationDispatchJob(context.Background(), dispatchJob())
	require.NoError(t, err)

	assert.Equal(t, []uint{42}, sm.dispatched)
	assert.Equal(t, "out/photo.jpg", sm.completed[42])
	assert.Empty(t, sm.failed)

	require.Len(t, exec.jobs, 1)
	assert.Equal(t, "u-42", exec.jobs[0].RecordUUID)
	assert.Equal(t, "colorize_image", exec.jobs[0].Type)
}

func TestProcessGenerationDispatchJob_ExecutorErrorPropagates(t *testing.T) {
	sm := newFakeStateMachine()
	exec := &fakeExecutor{err: fmt.Errorf("gateway timeout")}
	withFakes(t, sm, exec)

	q := &Queue{}
	err := q.processGenerationDispatchJob(context.Background(), dispatchJob())
	require.Error(t, err)

	// The queue's retry policy owns the error; the record is not failed here
	assert.Empty(t, sm.failed)
	assert.Empty(t, sm.completed)
}

func TestFailGenerationPermanently(t *testing.T) {
	sm := newFakeStateMachine()
	withFakes(t, sm, &fakeExecutor{})

	q := &Queue{}
	q.failGenerationPermanently(context.Background(), dispatchJob(), fmt.Errorf("gateway down"))

	assert.Equal(t, "gateway down", sm.failed[42])
}

func TestProcessGenerationDispatchJob_BadPayload(t *testing.T) {
	sm := newFakeStateMachine()
	withFakes(t, sm, &fakeExecutor{})

	q := &Queue{}
	job := &Job{ID: "job-x", Type: JobTypeGenerationDispatch, Payload: map[string]interface{}{"generation_id": "not-a-number"}}
	err := q.processGenerationDispatchJob(context.Background(), job)
	assert.Error(t, err)
	assert.Empty(t, sm.dispatched)
}
