package gate

import (
	"context"
	"fmt"

	"github.com/aristath/foreman/internal/graph"
)

// ReviewVerdict is the review gate's outcome: a boolean verdict plus
// free-text findings. Not persisted beyond the run.
type ReviewVerdict struct {
	Passed bool
	Detail string
}

// Judgment is the external review collaborator. It sees a change summary
// and enough context to judge it, nothing more.
type Judgment interface {
	Evaluate(ctx context.Context, changeSummary, reviewContext string) (ReviewVerdict, error)
}

// JudgmentFunc adapts a function to the Judgment interface.
type JudgmentFunc func(ctx context.Context, changeSummary, reviewContext string) (ReviewVerdict, error)

func (f JudgmentFunc) Evaluate(ctx context.Context, changeSummary, reviewContext string) (ReviewVerdict, error) {
	return f(ctx, changeSummary, reviewContext)
}

// ReviewGate requests review verdicts: once per task, and once more over
// the cumulative diff before integration. A failing per-task verdict feeds
// the same retry/skip handling as a failed verification.
type ReviewGate struct {
	judge Judgment
}

// NewReviewGate creates a review gate over the given judgment collaborator.
func NewReviewGate(judge Judgment) *ReviewGate {
	return &ReviewGate{judge: judge}
}

// RunPerTask evaluates one task's change in isolation.
// A judgment error is a failing verdict: an unreviewable change must not
// complete silently.
func (g *ReviewGate) RunPerTask(ctx context.Context, task *graph.Task, changeSummary string) ReviewVerdict {
	reviewContext := fmt.Sprintf("Task %s (%s): %s\n\n%s", task.ID, task.Label, task.Title, task.Description)
	verdict, err := g.judge.Evaluate(ctx, changeSummary, reviewContext)
	if err != nil {
		return ReviewVerdict{Passed: false, Detail: fmt.Sprintf("review unavailable: %v", err)}
	}
	return verdict
}

// RunFinal evaluates the cumulative diff across the whole run for
// cross-task consistency before the workspace is integrated.
func (g *ReviewGate) RunFinal(ctx context.Context, cumulativeDiff string) ReviewVerdict {
	verdict, err := g.judge.Evaluate(ctx, cumulativeDiff, "Final review: cumulative change across all tasks in the run")
	if err != nil {
		return ReviewVerdict{Passed: false, Detail: fmt.Sprintf("review unavailable: %v", err)}
	}
	return verdict
}
