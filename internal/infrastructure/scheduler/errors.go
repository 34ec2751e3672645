package scheduler

import "errors"

var (
	// ErrSchedulerRunning is returned when registering a task after Start
	ErrSchedulerRunning = errors.New("scheduler is already running")

	// ErrSchedulerNotRunning is returned when triggering a task on a stopped scheduler
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrTaskNotFound is returned for an unknown task name
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskAlreadyRegistered is returned when two tasks share a name
	ErrTaskAlreadyRegistered = errors.New("task already registered")

	// ErrTaskInProgress is returned when a task is triggered while it runs
	ErrTaskInProgress = errors.New("task already in progress")

	// ErrInvalidConfig is returned when a task configuration is invalid
	ErrInvalidConfig = errors.New("invalid task configuration")
)
