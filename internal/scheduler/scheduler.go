// Package scheduler runs jobs on a single worker goroutine with interval,
// one-shot, and cron triggers. Missed boundaries after a pause produce
// exactly one catch-up run per job; the next run realigns to the last
// actual run.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/untoldecay/kira/internal/types"
)

const DefaultTickInterval = 50 * time.Millisecond

// Func is a job callable. Errors are captured and counted, never fatal.
type Func func(ctx context.Context) error

// cronParser accepts the standard 5-field grammar (minute hour dom month dow).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type trigger interface {
	// next computes the run after an actual run at ts, or false when the
	// job is done.
	next(ts time.Time) (time.Time, bool)
}

type intervalTrigger struct{ every time.Duration }

func (t intervalTrigger) next(ts time.Time) (time.Time, bool) {
	return ts.Add(t.every), true
}

type atTrigger struct{}

func (atTrigger) next(time.Time) (time.Time, bool) {
	return time.Time{}, false
}

type cronTrigger struct {
	schedule cron.Schedule
	tz       *time.Location
}

func (t cronTrigger) next(ts time.Time) (time.Time, bool) {
	return t.schedule.Next(ts.In(t.tz)), true
}

// Job is the mutable record for one scheduled callable.
type Job struct {
	ID         string
	Name       string
	Status     types.JobStatus
	NextRunAt  *time.Time
	LastRunAt  *time.Time
	RunCount   int
	ErrorCount int
	LastError  string
	Metadata   map[string]any

	fn   Func
	trig trigger
}

// snapshot copies the externally visible fields.
func (j *Job) snapshot() Job {
	c := Job{
		ID:         j.ID,
		Name:       j.Name,
		Status:     j.Status,
		RunCount:   j.RunCount,
		ErrorCount: j.ErrorCount,
		LastError:  j.LastError,
	}
	if j.NextRunAt != nil {
		t := *j.NextRunAt
		c.NextRunAt = &t
	}
	if j.LastRunAt != nil {
		t := *j.LastRunAt
		c.LastRunAt = &t
	}
	if j.Metadata != nil {
		c.Metadata = make(map[string]any, len(j.Metadata))
		for k, v := range j.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// JobOption annotates a job at schedule time.
type JobOption func(*Job)

// WithName sets a human-readable job name (default: the job ID).
func WithName(name string) JobOption {
	return func(j *Job) { j.Name = name }
}

// WithMetadata attaches freeform metadata to the job record.
func WithMetadata(m map[string]any) JobOption {
	return func(j *Job) { j.Metadata = m }
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

func WithTimezone(tz *time.Location) Option {
	return func(s *Scheduler) { s.tz = tz }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// Scheduler owns the job table and the worker goroutine.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	tick time.Duration
	tz   *time.Location
	now  func() time.Time
	log  zerolog.Logger
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs: make(map[string]*Job),
		tick: DefaultTickInterval,
		tz:   time.Local,
		now:  time.Now,
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleInterval registers a job that fires every interval, first at
// now+interval. Reusing a job ID replaces the prior trigger and callable.
func (s *Scheduler) ScheduleInterval(jobID string, every time.Duration, fn Func, opts ...JobOption) error {
	if every <= 0 {
		return fmt.Errorf("%w: interval must be positive", types.ErrValidation)
	}
	first := s.now().Add(every)
	s.put(jobID, intervalTrigger{every: every}, fn, first, opts)
	return nil
}

// ScheduleAt registers a one-shot job.
func (s *Scheduler) ScheduleAt(jobID string, at time.Time, fn Func, opts ...JobOption) error {
	if at.IsZero() {
		return fmt.Errorf("%w: at time must be set", types.ErrValidation)
	}
	s.put(jobID, atTrigger{}, fn, at, opts)
	return nil
}

// ScheduleCron registers a job on a standard 5-field cron expression,
// evaluated in the scheduler's timezone.
func (s *Scheduler) ScheduleCron(jobID, spec string, fn Func, opts ...JobOption) error {
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return fmt.Errorf("%w: cron spec %q: %v", types.ErrValidation, spec, err)
	}
	trig := cronTrigger{schedule: schedule, tz: s.tz}
	first := schedule.Next(s.now().In(s.tz))
	s.put(jobID, trig, fn, first, opts)
	return nil
}

func (s *Scheduler) put(jobID string, trig trigger, fn Func, first time.Time, opts []JobOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := &Job{
		ID:        jobID,
		Name:      jobID,
		Status:    types.JobPending,
		NextRunAt: &first,
		fn:        fn,
		trig:      trig,
	}
	for _, opt := range opts {
		opt(job)
	}
	s.jobs[jobID] = job
}

// Cancel transitions a job to its terminal cancelled state. A currently
// executing run completes but is not rescheduled.
func (s *Scheduler) Cancel(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: job %s", types.ErrNotFound, jobID)
	}
	job.Status = types.JobCancelled
	job.NextRunAt = nil
	return nil
}

// Job returns a snapshot of one job.
func (s *Scheduler) Job(jobID string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return job.snapshot(), true
}

// Jobs returns snapshots of every job, sorted by ID.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start launches the worker. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	go s.worker(ctx, stopCh, doneCh)
}

// Stop halts the worker and waits up to timeout for it to drain. Idempotent.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	select {
	case <-doneCh:
		return nil
	case <-time.After(timeout):
		s.log.Warn().Msg("scheduler worker did not stop in time")
		return fmt.Errorf("%w: scheduler stop timed out after %s", types.ErrFatal, timeout)
	}
}

func (s *Scheduler) worker(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs every due job once. The worker calls this on each tick; tests
// may drive it directly with an injected clock.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*Job
	for _, job := range s.jobs {
		if job.Status == types.JobPending && job.NextRunAt != nil && !job.NextRunAt.After(now) {
			job.Status = types.JobRunning
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	for _, job := range due {
		err := s.runJob(ctx, job)

		s.mu.Lock()
		ranAt := s.now()
		job.LastRunAt = &ranAt
		if err != nil {
			job.ErrorCount++
			job.LastError = err.Error()
			s.log.Error().Str("job", job.ID).Err(err).Msg("job failed")
		} else {
			job.RunCount++
			job.LastError = ""
		}
		if job.Status == types.JobCancelled {
			s.mu.Unlock()
			continue
		}
		if next, more := job.trig.next(ranAt); more {
			// Recurring jobs retry at the next fire; LastError keeps
			// the most recent failure visible.
			job.NextRunAt = &next
			job.Status = types.JobPending
		} else {
			job.NextRunAt = nil
			if err != nil {
				job.Status = types.JobFailed
			} else {
				job.Status = types.JobCompleted
			}
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
	}()
	return job.fn(ctx)
}
