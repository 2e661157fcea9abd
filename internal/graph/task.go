package graph

import "fmt"

// Status represents the current state of a task.
type Status int

const (
	StatusPending   Status = iota // Waiting for dependencies
	StatusReady                   // All dependencies completed, offered to the scheduler
	StatusRunning                 // Currently executing
	StatusCompleted               // Finished and passed both gates
	StatusFailed                  // Last attempt failed (transient; scheduler requeues or skips)
	StatusSkipped                 // Retry budget exhausted
	StatusBlocked                 // A dependency was skipped or failed; terminal for this run
)

// String returns the human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	case StatusBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether the status is final for this run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusSkipped || s == StatusBlocked
}

// Label is the closed set of task categories. The label determines which
// execution strategy handles the task.
type Label string

const (
	LabelFeature Label = "Feature"
	LabelChore   Label = "Chore"
	LabelBugfix  Label = "Bugfix"
)

// ParseLabel validates a raw label string against the closed set.
func ParseLabel(raw string) (Label, error) {
	switch Label(raw) {
	case LabelFeature, LabelChore, LabelBugfix:
		return Label(raw), nil
	}
	return "", fmt.Errorf("unknown label %q (want Feature, Chore, or Bugfix)", raw)
}

// Task represents one unit of work in the graph.
// Title, Description, and Label are immutable after creation; Status,
// RetryCount, Result, and Reason are owned exclusively by the scheduler.
type Task struct {
	ID          string   // Stable external identifier from the ticket store
	Title       string   // Human-readable name
	Description string   // Full task description, handed to the strategy
	Label       Label    // Exactly one label per task
	DependsOn   []string // Task IDs that must complete before this task is eligible
	Seq         int      // Creation order, used as the deterministic ready tie-break
	Status      Status
	RetryCount  int    // Attempts so far, capped at the configured maximum
	Result      string // Strategy output summary (populated on completion)
	Reason      string // Why the task was skipped or blocked
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.DependsOn != nil {
		cp.DependsOn = append([]string(nil), task.DependsOn...)
	}
	return &cp
}
