// Package scheduler drives one run: it pulls ready tasks from the graph in
// creation order, executes them one at a time through the dispatcher and both
// gates, applies the retry budget, and writes every status transition through
// to the ticket store.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aristath/foreman/internal/dispatch"
	"github.com/aristath/foreman/internal/events"
	"github.com/aristath/foreman/internal/gate"
	"github.com/aristath/foreman/internal/graph"
	"github.com/aristath/foreman/internal/ticket"
	"github.com/aristath/foreman/internal/workspace"
)

// Workspaces is the workspace manager surface the runner needs.
type Workspaces interface {
	Acquire(ctx context.Context, runID string) (*workspace.Handle, error)
	Release(ctx context.Context, h *workspace.Handle, mode workspace.ReleaseMode) (*workspace.MergeResult, error)
	Diff(ctx context.Context, h *workspace.Handle) (string, error)
}

// Executor runs one task attempt and always reports a result.
type Executor interface {
	Run(ctx context.Context, tc dispatch.TaskContext) dispatch.ExecutionResult
}

// Verifier runs the automated check sequence against the workspace.
type Verifier interface {
	Verify(ctx context.Context, workDir string) gate.VerificationResult
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, workDir string) gate.VerificationResult

func (f VerifierFunc) Verify(ctx context.Context, workDir string) gate.VerificationResult {
	return f(ctx, workDir)
}

// Reviewer requests review verdicts, per task and once over the whole run.
// *gate.ReviewGate satisfies this.
type Reviewer interface {
	RunPerTask(ctx context.Context, task *graph.Task, changeSummary string) gate.ReviewVerdict
	RunFinal(ctx context.Context, cumulativeDiff string) gate.ReviewVerdict
}

// Persister writes status transitions through to the ticket store.
// *ticket.Synchronizer satisfies this.
type Persister interface {
	LoadStatuses(ctx context.Context, parentID string) (map[string]graph.Status, error)
	Persist(ctx context.Context, task *graph.Task) error
	Discrepancies() []ticket.Discrepancy
}

// Config configures one run.
type Config struct {
	RunID              string
	ParentID           string // Parent ticket whose children are being executed
	PlanText           string // Plan context handed to every strategy
	MaxRetries         int    // Attempts per task before skipping (default 3)
	IntegrateOnSuccess bool   // Merge the workspace when every task completes
	DiscardOnAbort     bool   // Drop the workspace on cancellation instead of keeping it
}

// Outcome pairs a task with the reason it ended up where it did.
type Outcome struct {
	ID     string
	Reason string
}

// Summary is the terminal report of a run.
type Summary struct {
	Completed     []string
	Skipped       []Outcome
	Blocked       []Outcome
	Integrated    bool
	FinalReview   *gate.ReviewVerdict // nil when the final gate never ran
	Discrepancies []ticket.Discrepancy
}

// Runner executes the tasks of one graph sequentially.
type Runner struct {
	config     Config
	graph      *graph.Graph
	workspaces Workspaces
	executor   Executor
	verifier   Verifier
	reviewer   Reviewer
	persister  Persister
	bus        *events.Bus // optional
}

// NewRunner creates a runner over the given collaborators. The bus may be
// nil when nothing consumes events.
func NewRunner(cfg Config, g *graph.Graph, ws Workspaces, ex Executor, v Verifier, rev Reviewer, p Persister, bus *events.Bus) *Runner {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Runner{
		config:     cfg,
		graph:      g,
		workspaces: ws,
		executor:   ex,
		verifier:   v,
		reviewer:   rev,
		persister:  p,
		bus:        bus,
	}
}

// Run executes the graph to completion: tasks are dispatched one at a time
// in creation order, failed tasks are retried up to the budget then skipped,
// and tasks downstream of a skipped or failed task are marked blocked. The
// summary is returned even when the run is aborted; only workspace
// acquisition failure is fatal.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	handle, err := r.workspaces.Acquire(ctx, r.config.RunID)
	if err != nil {
		return nil, fmt.Errorf("acquiring workspace for run %q: %w", r.config.RunID, err)
	}

	r.seedPersistedStatuses(ctx)

	for {
		if ctx.Err() != nil {
			return r.abort(handle, ctx.Err())
		}

		ready := r.graph.ReadyTasks()
		if len(ready) == 0 {
			break
		}

		// Strict creation order, one task at a time.
		r.executeOne(ctx, handle, ready[0])
		r.publishProgress()
	}

	for _, taskID := range r.graph.MarkBlocked() {
		task, ok := r.graph.Get(taskID)
		if !ok {
			continue
		}
		r.persist(ctx, taskID)
		r.publish(events.TopicTask, events.TaskBlockedEvent{ID: taskID, Reason: task.Reason, Timestamp: time.Now()})
	}
	r.publishProgress()

	summary := r.buildSummary()
	r.finishRun(ctx, handle, summary)

	r.publish(events.TopicRun, events.RunFinishedEvent{
		Completed: summary.Completed,
		Skipped:   outcomeIDs(summary.Skipped),
		Blocked:   outcomeIDs(summary.Blocked),
		Timestamp: time.Now(),
	})

	return summary, nil
}

// seedPersistedStatuses applies ticket-store statuses from a previous
// interrupted run so finished work is not redone. A load failure means a
// fresh run, not a fatal error.
func (r *Runner) seedPersistedStatuses(ctx context.Context) {
	statuses, err := r.persister.LoadStatuses(ctx, r.config.ParentID)
	if err != nil {
		log.Printf("WARNING: could not load persisted statuses, starting fresh: %v", err)
		return
	}

	for taskID, status := range statuses {
		if status == graph.StatusPending {
			continue
		}
		if err := r.graph.Seed(taskID, status); err != nil {
			log.Printf("WARNING: persisted status for unknown task %q ignored", taskID)
		}
	}
}

// executeOne runs a single attempt of the task and settles its status:
// completed, requeued for another attempt, or skipped.
func (r *Runner) executeOne(ctx context.Context, h *workspace.Handle, task *graph.Task) {
	start := time.Now()

	if err := r.graph.MarkRunning(task.ID); err != nil {
		log.Printf("ERROR: failed to mark task %q running: %v", task.ID, err)
		return
	}
	r.persist(ctx, task.ID)
	r.publish(events.TopicTask, events.TaskStartedEvent{
		ID:        task.ID,
		Title:     task.Title,
		Label:     task.Label,
		Attempt:   task.RetryCount + 1,
		Timestamp: start,
	})

	failReason, result := r.attempt(ctx, h, task)
	if failReason == "" {
		if err := r.graph.MarkCompleted(task.ID, result); err != nil {
			log.Printf("ERROR: failed to mark task %q completed: %v", task.ID, err)
			return
		}
		r.persist(ctx, task.ID)
		r.publish(events.TopicTask, events.TaskCompletedEvent{
			ID:        task.ID,
			Result:    result,
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		})
		return
	}

	count, err := r.graph.RecordFailure(task.ID, failReason)
	if err != nil {
		log.Printf("ERROR: failed to record failure for task %q: %v", task.ID, err)
		return
	}
	log.Printf("WARNING: task %q attempt %d failed: %s", task.ID, count, failReason)
	r.publish(events.TopicTask, events.TaskFailedEvent{
		ID:        task.ID,
		Attempt:   count,
		Reason:    failReason,
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	})

	if count >= r.config.MaxRetries {
		reason := fmt.Sprintf("gave up after %d attempts: %s", count, failReason)
		if err := r.graph.MarkSkipped(task.ID, reason); err != nil {
			log.Printf("ERROR: failed to mark task %q skipped: %v", task.ID, err)
			return
		}
		r.persist(ctx, task.ID)
		r.publish(events.TopicTask, events.TaskSkippedEvent{
			ID:        task.ID,
			Attempts:  count,
			Reason:    failReason,
			Timestamp: time.Now(),
		})
		return
	}

	if err := r.graph.Requeue(task.ID); err != nil {
		log.Printf("ERROR: failed to requeue task %q: %v", task.ID, err)
		return
	}
	r.persist(ctx, task.ID)
}

// attempt runs execution, verification, and per-task review in order. An
// empty failReason means all three passed; a failed gate counts against the
// retry budget exactly like a failed execution.
func (r *Runner) attempt(ctx context.Context, h *workspace.Handle, task *graph.Task) (failReason, result string) {
	exec := r.executor.Run(ctx, dispatch.TaskContext{
		Task:     *task,
		PlanText: r.config.PlanText,
		WorkDir:  h.Path,
	})
	if !exec.Success {
		return fmt.Sprintf("execution failed: %s", exec.Output), ""
	}

	if v := r.verifier.Verify(ctx, h.Path); !v.Passed {
		return fmt.Sprintf("verification failed at check %q: %s", v.FailedCheck, v.Detail), ""
	}

	if verdict := r.reviewer.RunPerTask(ctx, task, exec.Output); !verdict.Passed {
		return fmt.Sprintf("review failed: %s", verdict.Detail), ""
	}

	return "", exec.Output
}

// finishRun decides what happens to the workspace. Only a fully completed
// run is eligible for the final review and integration; a partial run keeps
// its workspace for inspection and resumption.
func (r *Runner) finishRun(ctx context.Context, h *workspace.Handle, summary *Summary) {
	if len(summary.Skipped) > 0 || len(summary.Blocked) > 0 {
		log.Printf("Run %q finished partially (%d completed, %d skipped, %d blocked); workspace kept at %s",
			r.config.RunID, len(summary.Completed), len(summary.Skipped), len(summary.Blocked), h.Path)
		return
	}

	diff, err := r.workspaces.Diff(ctx, h)
	if err != nil {
		log.Printf("ERROR: failed to compute run diff: %v", err)
		verdict := gate.ReviewVerdict{Passed: false, Detail: fmt.Sprintf("diff unavailable: %v", err)}
		summary.FinalReview = &verdict
		return
	}

	verdict := r.reviewer.RunFinal(ctx, diff)
	summary.FinalReview = &verdict
	if !verdict.Passed {
		log.Printf("WARNING: final review failed, workspace kept at %s: %s", h.Path, verdict.Detail)
		return
	}

	if !r.config.IntegrateOnSuccess {
		return
	}

	merge, err := r.workspaces.Release(ctx, h, workspace.Integrate)
	if err != nil {
		log.Printf("ERROR: failed to integrate workspace: %v", err)
		return
	}
	if !merge.Merged {
		log.Printf("ERROR: integration merge conflict: %v (files: %v)", merge.Err, merge.ConflictFiles)
		return
	}
	summary.Integrated = true
}

// abort stops between tasks on cancellation. The workspace is kept for a
// later resume unless the run is configured to discard it.
func (r *Runner) abort(h *workspace.Handle, cause error) (*Summary, error) {
	if r.config.DiscardOnAbort {
		// Persisted statuses already reflect settled tasks; the workspace
		// itself is disposable.
		if _, err := r.workspaces.Release(context.Background(), h, workspace.Discard); err != nil {
			log.Printf("ERROR: failed to discard workspace on abort: %v", err)
		}
	} else {
		log.Printf("Run %q aborted; workspace kept at %s for resumption", r.config.RunID, h.Path)
	}
	return r.buildSummary(), cause
}

func (r *Runner) buildSummary() *Summary {
	summary := &Summary{}
	for _, task := range r.graph.Tasks() {
		switch task.Status {
		case graph.StatusCompleted:
			summary.Completed = append(summary.Completed, task.ID)
		case graph.StatusSkipped:
			summary.Skipped = append(summary.Skipped, Outcome{ID: task.ID, Reason: task.Reason})
		case graph.StatusBlocked:
			summary.Blocked = append(summary.Blocked, Outcome{ID: task.ID, Reason: task.Reason})
		}
	}
	summary.Discrepancies = r.persister.Discrepancies()
	return summary
}

// persist writes the task's current state through to the ticket store. The
// synchronizer already logs and records failures; the run never stops for
// them.
func (r *Runner) persist(ctx context.Context, taskID string) {
	task, ok := r.graph.Get(taskID)
	if !ok {
		return
	}
	_ = r.persister.Persist(ctx, task)
}

func (r *Runner) publish(topic string, event events.Event) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(topic, event)
}

func (r *Runner) publishProgress() {
	if r.bus == nil {
		return
	}
	counts := r.graph.Counts()
	total := 0
	for _, n := range counts {
		total += n
	}
	r.bus.Publish(events.TopicRun, events.RunProgressEvent{
		Total:     total,
		Completed: counts[graph.StatusCompleted],
		Skipped:   counts[graph.StatusSkipped],
		Blocked:   counts[graph.StatusBlocked],
		Running:   counts[graph.StatusRunning],
		Pending:   counts[graph.StatusPending] + counts[graph.StatusFailed],
		Timestamp: time.Now(),
	})
}

func outcomeIDs(outcomes []Outcome) []string {
	ids := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		ids = append(ids, o.ID)
	}
	return ids
}
