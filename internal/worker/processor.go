package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/LyricSync/internal/model"
	"github.com/dharsanguruparan/LyricSync/internal/pipeline"
	"github.com/dharsanguruparan/LyricSync/internal/queue"
)

// Runner runs one pipeline. *pipeline.Orchestrator implements it.
type Runner interface {
	RunPipeline(ctx context.Context, projectID, ownerID string) (*pipeline.Outcome, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	runner Runner
	log    *logrus.Entry
}

// NewProcessor constructs a worker processor.
func NewProcessor(runner Runner, log *logrus.Entry) *Processor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Processor{runner: runner, log: log.WithField("module", "worker")}
}

// Handler registers the process job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ProcessProjectTask, p.HandleProcess)
	return mux
}

// HandleProcess runs the pipeline for the task's project. Stage and
// precondition failures are already recorded on the project, so the task is
// acknowledged and the task id is freed for a user-initiated retry. Store
// failures and a busy lease go back to asynq for another attempt.
func (p *Processor) HandleProcess(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeProcessPayload(task)
	if err != nil {
		p.log.WithError(err).Error("dropping malformed task")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log := p.log.WithFields(logrus.Fields{"project_id": payload.ProjectID, "owner_id": payload.OwnerID})
	if id, ok := asynq.GetTaskID(ctx); ok {
		log = log.WithField("task_id", id)
	}

	out, err := p.runner.RunPipeline(ctx, payload.ProjectID, payload.OwnerID)
	var (
		stageErr   *model.StageError
		persistErr *model.PersistenceError
	)
	switch {
	case err == nil:
		log.WithFields(logrus.Fields{"status": out.Status, "fallback": out.UsedFallback}).Info("project processed")
		return nil
	case errors.As(err, &persistErr), errors.Is(err, model.ErrLeaseHeld):
		log.WithError(err).Warn("project processing will be retried")
		return err
	case errors.As(err, &stageErr):
		log.WithError(err).WithField("stage", stageErr.Stage).Warn("project processing failed")
		return nil
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrPreconditionFailed), errors.Is(err, model.ErrAccessDenied):
		log.WithError(err).Warn("project not processable")
		return nil
	default:
		log.WithError(err).Error("project processing errored")
		return err
	}
}
