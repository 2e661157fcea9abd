package events

import (
	"time"

	"github.com/aristath/foreman/internal/graph"
)

// Event is the base interface for all run lifecycle events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask = "task"
	TopicRun  = "run"
)

// Event type constants
const (
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskSkipped   = "task.skipped"
	EventTypeTaskBlocked   = "task.blocked"
	EventTypeRunProgress   = "run.progress"
	EventTypeRunFinished   = "run.finished"
)

// TaskStartedEvent is published when a task attempt begins.
type TaskStartedEvent struct {
	ID        string
	Title     string
	Label     graph.Label
	Attempt   int // 1-based attempt number
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task passes both gates.
type TaskCompletedEvent struct {
	ID        string
	Result    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task attempt fails (execution,
// verification, or review). The task re-enters the ready pool unless its
// retry budget is exhausted.
type TaskFailedEvent struct {
	ID        string
	Attempt   int
	Reason    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskSkippedEvent is published when a task exhausts its retry budget.
type TaskSkippedEvent struct {
	ID        string
	Attempts  int
	Reason    string
	Timestamp time.Time
}

func (e TaskSkippedEvent) EventType() string { return EventTypeTaskSkipped }
func (e TaskSkippedEvent) TaskID() string    { return e.ID }

// TaskBlockedEvent is published after the run stalls, for each pending task
// relabeled blocked because a dependency was skipped or failed.
type TaskBlockedEvent struct {
	ID        string
	Reason    string
	Timestamp time.Time
}

func (e TaskBlockedEvent) EventType() string { return EventTypeTaskBlocked }
func (e TaskBlockedEvent) TaskID() string    { return e.ID }

// RunProgressEvent is published whenever the status partition changes.
type RunProgressEvent struct {
	Total     int
	Completed int
	Skipped   int
	Blocked   int
	Running   int
	Pending   int
	Timestamp time.Time
}

func (e RunProgressEvent) EventType() string { return EventTypeRunProgress }
func (e RunProgressEvent) TaskID() string    { return "" }

// RunFinishedEvent is published once, after the terminal summary is built.
type RunFinishedEvent struct {
	Completed []string
	Skipped   []string
	Blocked   []string
	Timestamp time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) TaskID() string    { return "" }
