package renderstatus

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/LyricSync/internal/model"
)

// PollState is where an observation of one job stands.
type PollState int

const (
	StateNoJob PollState = iota
	StatePolling
	StateCompleted
	StateFailed
)

func (s PollState) String() string {
	switch s {
	case StateNoJob:
		return "no_job"
	case StatePolling:
		return "polling"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further observation follows.
func (s PollState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

const defaultFailure = "Export failed"

// StatusSource is the job status endpoint. *Client implements it.
type StatusSource interface {
	Status(ctx context.Context, jobID string) (*model.JobDescriptor, error)
}

// ProjectReader is the read side of the project store, used to confirm a
// finished render against the durable record.
type ProjectReader interface {
	Get(ctx context.Context, id, ownerID string) (*model.Project, error)
}

// Update is one observation pushed to a watcher.
type Update struct {
	State PollState
	// Job is the descriptor as returned by the endpoint; nil when the query
	// failed.
	Job *model.JobDescriptor
	// QueryErr is a failed query. Polling continues after it.
	QueryErr error
	// VideoURL is set on completion.
	VideoURL string
	// FromStore is set when VideoURL came from the project record.
	FromStore bool
	// Error is the renderer's failure text, set on failure.
	Error string
}

// Poller turns the status endpoint into a stream of updates.
type Poller struct {
	source   StatusSource
	store    ProjectReader
	interval time.Duration
	log      *logrus.Entry
}

// NewPoller builds a Poller. store may be nil, in which case completion is
// reported from the descriptor alone.
func NewPoller(source StatusSource, store ProjectReader, interval time.Duration, log *logrus.Entry) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Poller{source: source, store: store, interval: interval, log: log.WithField("module", "renderstatus")}
}

// Watch queries jobID immediately and then every interval, pushing each
// observation on the returned channel. The channel is closed after a terminal
// update or when ctx is done. A result that arrives after ctx is done is
// dropped.
func (p *Poller) Watch(ctx context.Context, jobID, projectID, ownerID string) <-chan Update {
	ch := make(chan Update, 1)
	if jobID == "" {
		ch <- Update{State: StateNoJob}
		close(ch)
		return ch
	}
	log := p.log.WithFields(logrus.Fields{"job_id": jobID, "project_id": projectID})
	go func() {
		defer close(ch)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			job, err := p.source.Status(ctx, jobID)
			if ctx.Err() != nil {
				return
			}
			u := p.observe(ctx, log, job, err, projectID, ownerID)
			if ctx.Err() != nil {
				return
			}
			select {
			case ch <- u:
			case <-ctx.Done():
				return
			}
			if u.State.Terminal() {
				log.WithField("state", u.State).Info("render job finished")
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return ch
}

// Wait blocks until jobID reaches a terminal state and returns that update.
func (p *Poller) Wait(ctx context.Context, jobID, projectID, ownerID string) (Update, error) {
	var last Update
	for u := range p.Watch(ctx, jobID, projectID, ownerID) {
		last = u
		if u.State.Terminal() || u.State == StateNoJob {
			return u, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return last, err
	}
	return last, nil
}

func (p *Poller) observe(ctx context.Context, log *logrus.Entry, job *model.JobDescriptor, err error, projectID, ownerID string) Update {
	if err != nil {
		log.WithError(err).Warn("render status query failed")
		return Update{State: StatePolling, QueryErr: err}
	}
	switch job.Status {
	case model.JobCompleted:
		u := Update{State: StateCompleted, Job: job, VideoURL: job.ArtifactURL()}
		if url, ok := p.reconcile(ctx, log, projectID, ownerID); ok {
			u.VideoURL = url
			u.FromStore = true
		}
		return u
	case model.JobFailed:
		msg := job.Error
		if msg == "" {
			msg = defaultFailure
		}
		return Update{State: StateFailed, Job: job, Error: msg}
	default:
		return Update{State: StatePolling, Job: job}
	}
}

// reconcile prefers the project record's video_url once the record itself
// says it is completed. Any failure falls back to the descriptor.
func (p *Poller) reconcile(ctx context.Context, log *logrus.Entry, projectID, ownerID string) (string, bool) {
	if p.store == nil || projectID == "" {
		return "", false
	}
	project, err := p.store.Get(ctx, projectID, ownerID)
	if err != nil {
		log.WithError(err).Warn("could not confirm render against project record")
		return "", false
	}
	if project.Status != model.StatusCompleted || project.VideoURL == nil || *project.VideoURL == "" {
		return "", false
	}
	return *project.VideoURL, true
}
