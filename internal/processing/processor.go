// Package processing runs pipeline jobs on an in-process worker pool for the
// standalone binary, where there is no Redis to hand work to.
package processing

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/LyricSync/internal/model"
	"github.com/dharsanguruparan/LyricSync/internal/pipeline"
)

// ErrQueueFull is returned by Submit when every slot is taken.
var ErrQueueFull = errors.New("processing queue full")

// Job identifies one pipeline run.
type Job struct {
	ProjectID string
	OwnerID   string
}

// Runner runs one pipeline. *pipeline.Orchestrator implements it.
type Runner interface {
	RunPipeline(ctx context.Context, projectID, ownerID string) (*pipeline.Outcome, error)
}

// StatusWriter records the rejection of a job that could not be queued.
type StatusWriter interface {
	Get(ctx context.Context, id, ownerID string) (*model.Project, error)
	Update(ctx context.Context, id, ownerID string, u model.ProjectUpdate) error
}

// Processor consumes Jobs with a fixed number of goroutines.
type Processor struct {
	runner  Runner
	store   StatusWriter
	queue   chan Job
	workers int
	log     *logrus.Entry

	mu      sync.Mutex
	pending map[string]struct{}
	wg      sync.WaitGroup
}

// New builds a Processor with queue capacity tied to worker count.
func New(runner Runner, store StatusWriter, workers int, log *logrus.Entry) *Processor {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Processor{
		runner:  runner,
		store:   store,
		queue:   make(chan Job, workers*4),
		workers: workers,
		log:     log.WithField("module", "processing"),
		pending: make(map[string]struct{}),
	}
}

// Start launches worker goroutines. They exit when ctx is done; Wait blocks
// until they have.
func (p *Processor) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.worker(ctx)
		}()
	}
}

// Wait blocks until every worker has returned.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Submit queues a job. A project already queued or running is rejected with
// model.ErrLeaseHeld. When the buffer is full a project that is not already
// finished is marked failed so the API reflects reality.
func (p *Processor) Submit(job Job) error {
	p.mu.Lock()
	if _, dup := p.pending[job.ProjectID]; dup {
		p.mu.Unlock()
		return model.ErrLeaseHeld
	}
	p.pending[job.ProjectID] = struct{}{}
	p.mu.Unlock()

	select {
	case p.queue <- job:
		return nil
	default:
		p.done(job.ProjectID)
		p.log.WithField("project_id", job.ProjectID).Warn("processor queue full, dropping job")
		p.recordDropped(job)
		return ErrQueueFull
	}
}

// recordDropped marks a refused project as failed unless it already reached
// a terminal state; a finished transcript must not look failed because a
// re-run was refused.
func (p *Processor) recordDropped(job Job) {
	ctx := context.Background()
	log := p.log.WithField("project_id", job.ProjectID)
	project, err := p.store.Get(ctx, job.ProjectID, job.OwnerID)
	if err != nil {
		log.WithError(err).Warn("could not load dropped project")
		return
	}
	if project.Status.IsTerminal() {
		return
	}
	msg := ErrQueueFull.Error()
	if err := p.store.Update(ctx, job.ProjectID, job.OwnerID, model.ProjectUpdate{
		Status:       model.StatusPtr(model.StatusError),
		ErrorMessage: &msg,
	}); err != nil {
		log.WithError(err).Warn("could not record dropped job")
	}
}

// Dispatch adapts Submit to the API's dispatch interface.
func (p *Processor) Dispatch(ctx context.Context, projectID, ownerID string) error {
	return p.Submit(Job{ProjectID: projectID, OwnerID: ownerID})
}

func (p *Processor) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			p.process(ctx, job)
		}
	}
}

func (p *Processor) process(ctx context.Context, job Job) {
	defer p.done(job.ProjectID)
	log := p.log.WithFields(logrus.Fields{"project_id": job.ProjectID, "owner_id": job.OwnerID})
	out, err := p.runner.RunPipeline(ctx, job.ProjectID, job.OwnerID)
	if err != nil {
		log.WithError(err).Warn("pipeline run failed")
		return
	}
	log.WithFields(logrus.Fields{"status": out.Status, "fallback": out.UsedFallback}).Info("pipeline run finished")
}

func (p *Processor) done(projectID string) {
	p.mu.Lock()
	delete(p.pending, projectID)
	p.mu.Unlock()
}
