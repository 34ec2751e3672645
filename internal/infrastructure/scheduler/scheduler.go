// Package scheduler runs background maintenance tasks, such as ledger
// reconciliation, on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobStatus represents the status of one task run
type JobStatus string

const (
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// Job is one run of a task
type Job struct {
	ID          uuid.UUID
	Task        string
	Status      JobStatus
	Error       string
	Attempt     int
	StartedAt   time.Time
	CompletedAt *time.Time
}

func newJob(task string, attempt int) *Job {
	return &Job{
		ID:        uuid.New(),
		Task:      task,
		Status:    JobStatusRunning,
		Attempt:   attempt,
		StartedAt: time.Now(),
	}
}

func (j *Job) complete() {
	now := time.Now()
	j.Status = JobStatusSuccess
	j.CompletedAt = &now
}

func (j *Job) fail(err error) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.Error = err.Error()
}

// Duration is how long the job ran, or has been running
func (j *Job) Duration() time.Duration {
	if j.CompletedAt == nil {
		return time.Since(j.StartedAt)
	}
	return j.CompletedAt.Sub(j.StartedAt)
}

// TaskFunc is the work of a task. It must honour ctx cancellation.
type TaskFunc func(ctx context.Context) error

// TaskConfig describes when and how a task runs
type TaskConfig struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single attempt; zero means no timeout
	Timeout time.Duration
	// RunOnStart runs the task once immediately after Start
	RunOnStart    bool
	RetryAttempts int
	RetryDelay    time.Duration
}

func (c TaskConfig) validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: task %s needs a positive interval", ErrInvalidConfig, c.Name)
	}
	if c.RetryAttempts < 0 || c.RetryDelay < 0 {
		return fmt.Errorf("%w: task %s has negative retry settings", ErrInvalidConfig, c.Name)
	}
	return nil
}

type task struct {
	config  TaskConfig
	fn      TaskFunc
	trigger chan struct{}

	mu      sync.Mutex
	running bool
	last    *Job
}

// Scheduler runs registered tasks on their intervals. A task never overlaps
// itself: a tick that arrives while the previous run is in progress is skipped.
type Scheduler struct {
	logger *zap.Logger

	tasks     map[string]*task
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewScheduler creates a new scheduler instance
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.Named("scheduler"),
		tasks:  make(map[string]*task),
	}
}

// Register adds a task. Tasks must be registered before Start.
func (s *Scheduler) Register(config TaskConfig, fn TaskFunc) error {
	if err := config.validate(); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("%w: task %s has no function", ErrInvalidConfig, config.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return ErrSchedulerRunning
	}
	if _, exists := s.tasks[config.Name]; exists {
		return fmt.Errorf("%w: %s", ErrTaskAlreadyRegistered, config.Name)
	}
	s.tasks[config.Name] = &task{config: config, fn: fn, trigger: make(chan struct{}, 1)}
	return nil
}

// Start starts one loop per registered task
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	s.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}

	s.logger.Info("Scheduler started", zap.Int("tasks", len(s.tasks)))
	return nil
}

// Stop cancels running tasks and waits for their loops to exit, or for ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
		return ctx.Err()
	}
}

// Trigger asks a task to run now, outside its interval
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	running := s.isRunning
	t, ok := s.tasks[name]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	if !running {
		return ErrSchedulerNotRunning
	}
	t.mu.Lock()
	busy := t.running
	t.mu.Unlock()
	if busy {
		return ErrTaskInProgress
	}

	select {
	case t.trigger <- struct{}{}:
	default:
		// a trigger is already pending
	}
	return nil
}

// LastRun returns a copy of the most recent run of a task, or nil
func (s *Scheduler) LastRun(name string) (*Job, error) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return nil, nil
	}
	job := *t.last
	return &job, nil
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	s.logger.Info("Task scheduled",
		zap.String("task", t.config.Name),
		zap.Duration("interval", t.config.Interval),
		zap.Bool("run_on_start", t.config.RunOnStart),
	)
	if t.config.RunOnStart {
		s.run(ctx, t)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, t)
		case <-t.trigger:
			s.run(ctx, t)
		}
	}
}

// run executes a task with retries. Runs of one task are serialized by its loop.
func (s *Scheduler) run(ctx context.Context, t *task) {
	t.mu.Lock()
	t.running = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
	}()

	log := s.logger.With(zap.String("task", t.config.Name))
	for attempt := 1; ; attempt++ {
		job := newJob(t.config.Name, attempt)
		t.mu.Lock()
		t.last = job
		t.mu.Unlock()

		err := s.attempt(ctx, t, job)
		t.mu.Lock()
		if err != nil {
			job.fail(err)
		} else {
			job.complete()
		}
		t.mu.Unlock()

		if err == nil {
			log.Info("Task completed",
				zap.String("job_id", job.ID.String()),
				zap.Int("attempt", attempt),
				zap.Duration("duration", job.Duration()),
			)
			return
		}
		log.Error("Task failed",
			zap.String("job_id", job.ID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt > t.config.RetryAttempts || ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(t.config.RetryDelay):
		}
	}
}

func (s *Scheduler) attempt(ctx context.Context, t *task, job *Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()

	if t.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Timeout)
		defer cancel()
	}
	s.logger.Debug("Task attempt started",
		zap.String("task", t.config.Name),
		zap.String("job_id", job.ID.String()),
	)
	return t.fn(ctx)
}
