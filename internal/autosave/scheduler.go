// Package autosave debounces lyric edits per project. Each project has its
// own timer, so saving one project never delays or cancels another.
package autosave

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Task persists the latest state of one project.
type Task func(ctx context.Context) error

type entry struct {
	timer *time.Timer
	task  Task
	gen   uint64
}

// Scheduler runs the most recently scheduled task for each project once the
// project has been quiet for the configured delay.
type Scheduler struct {
	delay   time.Duration
	timeout time.Duration
	log     *logrus.Entry

	mu      sync.Mutex
	pending map[string]*entry
	gen     uint64
	closed  bool
	running sync.WaitGroup
}

// New builds a Scheduler. Each task runs under its own timeout.
func New(delay, timeout time.Duration, log *logrus.Entry) *Scheduler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{
		delay:   delay,
		timeout: timeout,
		log:     log.WithField("module", "autosave"),
		pending: make(map[string]*entry),
	}
}

// Schedule replaces any pending task for projectID and restarts its timer.
// It reports false once the scheduler is closed.
func (s *Scheduler) Schedule(projectID string, task Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if e, ok := s.pending[projectID]; ok {
		e.timer.Stop()
	}
	s.gen++
	gen := s.gen
	e := &entry{task: task, gen: gen}
	e.timer = time.AfterFunc(s.delay, func() { s.fire(projectID, gen) })
	s.pending[projectID] = e
	return true
}

// Cancel drops the pending task for projectID, if any.
func (s *Scheduler) Cancel(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[projectID]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.pending, projectID)
	return true
}

// Pending reports whether projectID has an unsaved task.
func (s *Scheduler) Pending(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[projectID]
	return ok
}

// Flush runs every pending task now and waits for them, including tasks whose
// timers already fired.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	due := make(map[string]*entry, len(s.pending))
	for id, e := range s.pending {
		e.timer.Stop()
		due[id] = e
	}
	s.pending = make(map[string]*entry)
	s.running.Add(len(due))
	s.mu.Unlock()

	for id, e := range due {
		s.run(id, e.task)
	}
	s.running.Wait()
}

// Close flushes pending work and rejects further Schedule calls.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Flush()
}

func (s *Scheduler) fire(projectID string, gen uint64) {
	s.mu.Lock()
	e, ok := s.pending[projectID]
	// A newer Schedule or a Flush got here first.
	if !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.pending, projectID)
	s.running.Add(1)
	s.mu.Unlock()
	s.run(projectID, e.task)
}

func (s *Scheduler) run(projectID string, task Task) {
	defer s.running.Done()
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := task(ctx); err != nil {
		s.log.WithError(err).WithField("project_id", projectID).Warn("autosave failed")
		return
	}
	s.log.WithField("project_id", projectID).Debug("autosaved")
}
