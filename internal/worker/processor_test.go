package worker

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LyricSync/internal/model"
	"github.com/dharsanguruparan/LyricSync/internal/pipeline"
	"github.com/dharsanguruparan/LyricSync/internal/queue"
)

type fakeRunner struct {
	out   *pipeline.Outcome
	err   error
	calls [][2]string
}

func (f *fakeRunner) RunPipeline(ctx context.Context, projectID, ownerID string) (*pipeline.Outcome, error) {
	f.calls = append(f.calls, [2]string{projectID, ownerID})
	return f.out, f.err
}

func newTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := queue.NewProcessTask(queue.ProcessPayload{ProjectID: "p1", OwnerID: "alice"})
	require.NoError(t, err)
	return task
}

func quiet() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestHandleProcess(t *testing.T) {
	dbDown := &model.PersistenceError{Op: "set status transcribing", Err: errors.New("connection reset")}
	cases := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "success"},
		{name: "stage failure is acknowledged", err: &model.StageError{Stage: pipeline.StageIsolation, Err: model.ErrTimeout}},
		{name: "missing audio is acknowledged", err: model.ErrNoAudio},
		{name: "missing project is acknowledged", err: model.ErrNotFound},
		{name: "persistence failure retries", err: dbDown, wantErr: true},
		{name: "busy lease retries", err: model.ErrLeaseHeld, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &fakeRunner{err: tc.err}
			if tc.err == nil {
				runner.out = &pipeline.Outcome{ProjectID: "p1", Status: model.StatusCompleted}
			}
			err := NewProcessor(runner, quiet()).HandleProcess(context.Background(), newTask(t))
			if tc.wantErr {
				assert.ErrorIs(t, err, tc.err)
				assert.NotErrorIs(t, err, asynq.SkipRetry)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, [][2]string{{"p1", "alice"}}, runner.calls)
		})
	}
}

func TestHandleProcessMalformedPayload(t *testing.T) {
	runner := &fakeRunner{}
	err := NewProcessor(runner, quiet()).HandleProcess(context.Background(), asynq.NewTask(queue.ProcessProjectTask, []byte(`{}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, runner.calls)
}
