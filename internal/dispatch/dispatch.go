// Package dispatch routes tasks to the execution strategy registered for
// their label. Strategies are external collaborators: opaque, possibly slow,
// possibly failing. The dispatcher imposes no timeout of its own -
// cancellation belongs to the caller's context - but it always returns a
// result, success or failure.
package dispatch

import (
	"context"
	"fmt"

	"github.com/aristath/foreman/internal/graph"
)

// ExecutionResult is the outcome of one strategy invocation.
type ExecutionResult struct {
	Success bool
	Output  string // Change summary on success, failure detail otherwise
}

// TaskContext is everything a strategy gets to see: the task itself plus
// the parent plan text and the workspace it must operate in.
type TaskContext struct {
	Task     graph.Task
	PlanText string // Parent specification/plan, verbatim
	WorkDir  string // The run's isolated workspace
}

// Strategy performs the actual work of one task.
type Strategy interface {
	Execute(ctx context.Context, tc TaskContext) (ExecutionResult, error)
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc func(ctx context.Context, tc TaskContext) (ExecutionResult, error)

func (f StrategyFunc) Execute(ctx context.Context, tc TaskContext) (ExecutionResult, error) {
	return f(ctx, tc)
}

// Dispatcher routes purely on the task's label to a fixed set of registered
// strategies.
type Dispatcher struct {
	strategies map[graph.Label]Strategy
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{strategies: make(map[graph.Label]Strategy)}
}

// Register maps a label to a strategy, replacing any previous registration.
func (d *Dispatcher) Register(label graph.Label, s Strategy) {
	d.strategies[label] = s
}

// Run executes the task through its label's strategy. Strategy errors and
// unknown labels are converted into failure results; Run never returns
// without a result.
func (d *Dispatcher) Run(ctx context.Context, tc TaskContext) ExecutionResult {
	strategy, ok := d.strategies[tc.Task.Label]
	if !ok {
		return ExecutionResult{
			Success: false,
			Output:  fmt.Sprintf("no strategy registered for label %q", tc.Task.Label),
		}
	}

	if err := ctx.Err(); err != nil {
		return ExecutionResult{Success: false, Output: fmt.Sprintf("cancelled before execution: %v", err)}
	}

	result, err := strategy.Execute(ctx, tc)
	if err != nil {
		return ExecutionResult{Success: false, Output: err.Error()}
	}
	return result
}
