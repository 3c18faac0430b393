// Package pipeline runs vocal isolation followed by transcription for one
// project, recording every status transition in the project store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/LyricSync/internal/model"
)

// Stage names used in logs, events and StageError.
const (
	StageIsolation     = "isolation"
	StageTranscription = "transcription"
	StageFinish        = "finish"
)

const defaultRecordTimeout = 10 * time.Second

// Store is the slice of the project record store the orchestrator needs.
type Store interface {
	Get(ctx context.Context, id, ownerID string) (*model.Project, error)
	Update(ctx context.Context, id, ownerID string, u model.ProjectUpdate) error
	UpsertTranscript(ctx context.Context, projectID, rawText string, timed *model.Transcription) error
}

// Isolator separates vocals from a mixed recording.
type Isolator interface {
	Isolate(ctx context.Context, audioURL string) (string, error)
}

// Transcriber turns audio into timed text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (*model.Transcription, error)
}

// Leaser grants exclusive access to a project for the length of a run.
type Leaser interface {
	AcquireLease(ctx context.Context, projectID string) (release func(), err error)
}

// Notifier receives every status transition as it is recorded.
type Notifier interface {
	Notify(StatusEvent)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(StatusEvent)

// Notify calls f(ev).
func (f NotifierFunc) Notify(ev StatusEvent) { f(ev) }

// StatusEvent describes one recorded transition.
type StatusEvent struct {
	ProjectID string              `json:"projectId"`
	OwnerID   string              `json:"ownerId"`
	Stage     string              `json:"stage"`
	Status    model.ProjectStatus `json:"status"`
	Message   string              `json:"message,omitempty"`
	At        time.Time           `json:"at"`
}

// Outcome is what a successful run returns.
type Outcome struct {
	ProjectID     string
	Status        model.ProjectStatus
	Transcription *model.Transcription
	// UsedFallback is set when isolation failed and the run continued anyway.
	UsedFallback bool
	Warning      string
}

// Result carries the outcome of a run started with Start.
type Result struct {
	Outcome *Outcome
	Err     error
}

// Options tunes an Orchestrator.
type Options struct {
	// FallbackOnIsolationFailure lets a run continue on the uploaded audio
	// when isolation fails.
	FallbackOnIsolationFailure bool
	// RecordTimeout bounds the write that records a failure. That write runs
	// detached from the run's context.
	RecordTimeout time.Duration
	Leaser        Leaser
	Notifier      Notifier
	Log           *logrus.Entry
}

// Orchestrator drives pipeline runs. It holds no per-run state and is safe
// for concurrent use across projects.
type Orchestrator struct {
	store       Store
	isolator    Isolator
	transcriber Transcriber
	opts        Options
	log         *logrus.Entry
}

// New builds an Orchestrator.
func New(store Store, isolator Isolator, transcriber Transcriber, opts Options) *Orchestrator {
	if opts.RecordTimeout <= 0 {
		opts.RecordTimeout = defaultRecordTimeout
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Orchestrator{
		store:       store,
		isolator:    isolator,
		transcriber: transcriber,
		opts:        opts,
		log:         log.WithField("module", "pipeline"),
	}
}

// Start runs the pipeline in its own goroutine. The channel yields exactly one
// Result and is then closed.
func (o *Orchestrator) Start(ctx context.Context, projectID, ownerID string) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		out, err := o.RunPipeline(ctx, projectID, ownerID)
		ch <- Result{Outcome: out, Err: err}
	}()
	return ch
}

// RunPipeline isolates vocals, transcribes and stores the transcript for one
// project. Precondition failures return before the status is touched. Stage
// failures are recorded on the project and returned as *model.StageError.
func (o *Orchestrator) RunPipeline(ctx context.Context, projectID, ownerID string) (out *Outcome, err error) {
	if ownerID == "" {
		return nil, model.ErrAccessDenied
	}
	log := o.log.WithFields(logrus.Fields{"project_id": projectID, "owner_id": ownerID})

	if o.opts.Leaser != nil {
		release, err := o.opts.Leaser.AcquireLease(ctx, projectID)
		if err != nil {
			log.WithError(err).Warn("pipeline lease not acquired")
			return nil, err
		}
		defer release()
	}

	project, err := o.store.Get(ctx, projectID, ownerID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load project: %w", err)
	}
	if !project.HasAudio() {
		return nil, model.ErrNoAudio
	}

	r := &run{o: o, ctx: ctx, project: project, log: log, stage: StageIsolation}
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).WithField("stage", r.stage).Error("pipeline panicked")
			out = nil
			err = r.fail(errors.New(fmt.Sprint(rec)))
		}
	}()
	return r.execute()
}

type run struct {
	o       *Orchestrator
	ctx     context.Context
	project *model.Project
	log     *logrus.Entry
	stage   string
}

func (r *run) execute() (*Outcome, error) {
	o := r.o
	p := r.project
	started := time.Now()
	out := &Outcome{ProjectID: p.ID}

	// A new attempt always starts from a clean error and clean notes.
	r.stage = StageIsolation
	if err := r.set(model.ProjectUpdate{
		Status:     model.StatusPtr(model.StatusIsolating),
		ClearError: true,
		ClearNotes: true,
	}, ""); err != nil {
		return nil, err
	}

	input := *p.AudioURL
	vocals, isoErr := o.isolator.Isolate(r.ctx, *p.AudioURL)
	switch {
	case isoErr == nil:
		if err := r.set(model.ProjectUpdate{IsolatedVocalsURL: &vocals}, ""); err != nil {
			return nil, err
		}
		input = vocals
	case !o.opts.FallbackOnIsolationFailure || r.ctx.Err() != nil:
		return nil, r.fail(isoErr)
	default:
		// Vocals from an earlier run may belong to a replaced recording, so
		// fallback always transcribes the current upload.
		out.Warning = "vocal isolation failed, used raw audio instead: " + isoErr.Error()
		out.UsedFallback = true
		r.log.WithError(isoErr).Warn("vocal isolation failed, continuing with fallback input")
		if err := r.set(model.ProjectUpdate{
			Status:          model.StatusPtr(model.StatusDegraded),
			ProcessingNotes: &out.Warning,
		}, out.Warning); err != nil {
			return nil, err
		}
	}

	r.stage = StageTranscription
	if err := r.set(model.ProjectUpdate{Status: model.StatusPtr(model.StatusTranscribing)}, ""); err != nil {
		return nil, err
	}
	transcript, trErr := o.transcriber.Transcribe(r.ctx, input)
	if trErr == nil && transcript == nil {
		trErr = errors.New("transcription returned no result")
	}
	if trErr != nil {
		return nil, r.fail(trErr)
	}
	if err := o.store.UpsertTranscript(r.ctx, p.ID, transcript.Text, transcript); err != nil {
		return nil, r.persistenceFailure("save transcript", err)
	}

	r.stage = StageFinish
	if err := r.set(model.ProjectUpdate{Status: model.StatusPtr(model.StatusCompleted)}, out.Warning); err != nil {
		return nil, err
	}
	r.log.WithFields(logrus.Fields{
		"elapsed_ms": time.Since(started).Milliseconds(),
		"words":      len(transcript.Words),
		"fallback":   out.UsedFallback,
	}).Info("pipeline completed")

	out.Status = model.StatusCompleted
	out.Transcription = transcript
	return out, nil
}

// set writes u and publishes the transition when it changes the status.
func (r *run) set(u model.ProjectUpdate, message string) error {
	if err := r.o.store.Update(r.ctx, r.project.ID, r.project.OwnerID, u); err != nil {
		op := "update project"
		if u.Status != nil {
			op = "set status " + string(*u.Status)
		}
		return r.persistenceFailure(op, err)
	}
	if u.Status != nil {
		r.log.WithFields(logrus.Fields{"stage": r.stage, "status": *u.Status}).Info("status transition")
		r.notify(*u.Status, message)
	}
	return nil
}

// fail records cause on the project and returns it as a StageError. When the
// record itself cannot be written a PersistenceError carrying the stage error
// is returned instead.
func (r *run) fail(cause error) error {
	stageErr := &model.StageError{Stage: r.stage, Err: cause}
	if err := r.record(cause.Error()); err != nil {
		r.log.WithError(err).WithField("cause", cause.Error()).Error("could not record stage failure")
		return &model.PersistenceError{Op: "record error", Err: err, Cause: stageErr}
	}
	r.log.WithError(cause).WithField("stage", r.stage).Warn("pipeline stage failed")
	return stageErr
}

// persistenceFailure tries to leave the project in the error state after a
// failed store write, then surfaces the write failure either way.
func (r *run) persistenceFailure(op string, err error) error {
	perr := &model.PersistenceError{Op: op, Err: err}
	if recErr := r.record(perr.Error()); recErr != nil {
		r.log.WithError(recErr).WithField("op", op).Error("could not record persistence failure")
	}
	return perr
}

func (r *run) record(message string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), r.o.opts.RecordTimeout)
	defer cancel()
	err := r.o.store.Update(ctx, r.project.ID, r.project.OwnerID, model.ProjectUpdate{
		Status:       model.StatusPtr(model.StatusError),
		ErrorMessage: &message,
	})
	if err != nil {
		return err
	}
	r.log.WithFields(logrus.Fields{"stage": r.stage, "status": model.StatusError}).Info("status transition")
	r.notify(model.StatusError, message)
	return nil
}

func (r *run) notify(status model.ProjectStatus, message string) {
	if r.o.opts.Notifier == nil {
		return
	}
	r.o.opts.Notifier.Notify(StatusEvent{
		ProjectID: r.project.ID,
		OwnerID:   r.project.OwnerID,
		Stage:     r.stage,
		Status:    status,
		Message:   message,
		At:        time.Now().UTC(),
	})
}
