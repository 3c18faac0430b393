package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/LyricSync/internal/model"
)

type fakeClient struct {
	tasks []*asynq.Task
	ids   map[string]bool
	err   error
}

func (f *fakeClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	var id string
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			id = o.Value().(string)
		}
	}
	if f.ids == nil {
		f.ids = map[string]bool{}
	}
	if f.ids[id] {
		return nil, asynq.ErrTaskIDConflict
	}
	f.ids[id] = true
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: id, Type: task.Type()}, nil
}

func TestEnqueueProcess(t *testing.T) {
	client := &fakeClient{}
	info, err := EnqueueProcess(context.Background(), client, ProcessPayload{ProjectID: "p1", OwnerID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "process:p1", info.ID)
	require.Len(t, client.tasks, 1)
	assert.Equal(t, ProcessProjectTask, client.tasks[0].Type())

	var payload ProcessPayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &payload))
	assert.Equal(t, ProcessPayload{ProjectID: "p1", OwnerID: "alice"}, payload)
}

func TestEnqueueProcessDeduplicatesPerProject(t *testing.T) {
	d := NewDispatcher(&fakeClient{})
	require.NoError(t, d.Dispatch(context.Background(), "p1", "alice"))
	assert.ErrorIs(t, d.Dispatch(context.Background(), "p1", "alice"), model.ErrLeaseHeld)
	assert.NoError(t, d.Dispatch(context.Background(), "p2", "alice"))
}

func TestEnqueueProcessRejectsInvalidPayload(t *testing.T) {
	client := &fakeClient{}
	_, err := EnqueueProcess(context.Background(), client, ProcessPayload{ProjectID: "p1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid process payload")
	assert.Empty(t, client.tasks)
}

func TestDecodeProcessPayload(t *testing.T) {
	task, err := NewProcessTask(ProcessPayload{ProjectID: "p1", OwnerID: "alice"})
	require.NoError(t, err)
	payload, err := DecodeProcessPayload(task)
	require.NoError(t, err)
	assert.Equal(t, "p1", payload.ProjectID)

	_, err = DecodeProcessPayload(asynq.NewTask(ProcessProjectTask, []byte(`{"project_id":"p1"}`)))
	assert.Error(t, err)
	_, err = DecodeProcessPayload(asynq.NewTask(ProcessProjectTask, []byte(`not json`)))
	assert.Error(t, err)
}
