package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/LyricSync/internal/model"
)

const (
	// ProcessProjectTask is scheduled each time a user asks for lyrics.
	ProcessProjectTask = "project:process"

	maxRetry = 3
)

var validate = validator.New()

// ProcessPayload is serialized into the task payload so the worker knows
// which project to run and on whose behalf.
type ProcessPayload struct {
	ProjectID string `json:"project_id" validate:"required,max=128"`
	OwnerID   string `json:"owner_id" validate:"required,max=128"`
}

// Validate checks the payload before it is enqueued or handled.
func (p ProcessPayload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid process payload: %w", err)
	}
	return nil
}

// TaskID is the asynq task id for a project. Reusing it keeps at most one
// task per project pending or active.
func TaskID(projectID string) string {
	return "process:" + projectID
}

// NewProcessTask builds the asynq task for payload.
func NewProcessTask(payload ProcessPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(ProcessProjectTask, data), nil
}

// DecodeProcessPayload is the worker side of NewProcessTask.
func DecodeProcessPayload(task *asynq.Task) (ProcessPayload, error) {
	var payload ProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	return payload, payload.Validate()
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EnqueueProcess enqueues a pipeline run. A run already queued for the same
// project is reported as model.ErrLeaseHeld.
func EnqueueProcess(ctx context.Context, client Enqueuer, payload ProcessPayload) (*asynq.TaskInfo, error) {
	task, err := NewProcessTask(payload)
	if err != nil {
		return nil, err
	}
	info, err := client.EnqueueContext(ctx, task, asynq.TaskID(TaskID(payload.ProjectID)), asynq.MaxRetry(maxRetry))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil, model.ErrLeaseHeld
		}
		return nil, fmt.Errorf("enqueue process task: %w", err)
	}
	return info, nil
}

// Dispatcher adapts an asynq client to the API's dispatch interface.
type Dispatcher struct {
	client Enqueuer
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(client Enqueuer) *Dispatcher {
	return &Dispatcher{client: client}
}

// Dispatch enqueues a pipeline run for the project.
func (d *Dispatcher) Dispatch(ctx context.Context, projectID, ownerID string) error {
	_, err := EnqueueProcess(ctx, d.client, ProcessPayload{ProjectID: projectID, OwnerID: ownerID})
	return err
}
