package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/aristath/foreman/internal/dispatch"
	"github.com/aristath/foreman/internal/gate"
	"github.com/aristath/foreman/internal/graph"
	"github.com/aristath/foreman/internal/ticket"
	"github.com/aristath/foreman/internal/workspace"
)

// fakeWorkspaces hands out a fixed handle and records lifecycle calls.
type fakeWorkspaces struct {
	acquireErr    error
	acquires      int
	released      bool
	releaseMode   workspace.ReleaseMode
	diff          string
	handle        workspace.Handle
	mergeConflict bool
}

func (f *fakeWorkspaces) Acquire(ctx context.Context, runID string) (*workspace.Handle, error) {
	f.acquires++
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	h := f.handle
	if h.Path == "" {
		h = workspace.Handle{RunID: runID, Path: "/tmp/ws/" + runID, Branch: "run/" + runID}
	}
	return &h, nil
}

func (f *fakeWorkspaces) Release(ctx context.Context, h *workspace.Handle, mode workspace.ReleaseMode) (*workspace.MergeResult, error) {
	f.released = true
	f.releaseMode = mode
	if f.mergeConflict {
		return &workspace.MergeResult{Merged: false, ConflictFiles: []string{"main.go"}}, nil
	}
	return &workspace.MergeResult{Merged: true}, nil
}

func (f *fakeWorkspaces) Diff(ctx context.Context, h *workspace.Handle) (string, error) {
	return f.diff, nil
}

// scriptedExecutor fails a task its first failuresFor[id] dispatches, then
// succeeds. It records dispatch order.
type scriptedExecutor struct {
	failuresFor map[string]int
	dispatched  []string
	onDispatch  func(taskID string)
}

func (e *scriptedExecutor) Run(ctx context.Context, tc dispatch.TaskContext) dispatch.ExecutionResult {
	id := tc.Task.ID
	e.dispatched = append(e.dispatched, id)
	if e.onDispatch != nil {
		e.onDispatch(id)
	}
	if e.failuresFor[id] > 0 {
		e.failuresFor[id]--
		return dispatch.ExecutionResult{Success: false, Output: "agent gave up"}
	}
	return dispatch.ExecutionResult{Success: true, Output: "done " + id}
}

func passVerifier() Verifier {
	return VerifierFunc(func(ctx context.Context, workDir string) gate.VerificationResult {
		return gate.VerificationResult{Passed: true}
	})
}

// fakeReviewer passes everything unless told otherwise.
type fakeReviewer struct {
	perTaskFailures map[string]int
	finalPassed     bool
	finalRan        bool
}

func (r *fakeReviewer) RunPerTask(ctx context.Context, task *graph.Task, changeSummary string) gate.ReviewVerdict {
	if r.perTaskFailures[task.ID] > 0 {
		r.perTaskFailures[task.ID]--
		return gate.ReviewVerdict{Passed: false, Detail: "needs work"}
	}
	return gate.ReviewVerdict{Passed: true}
}

func (r *fakeReviewer) RunFinal(ctx context.Context, cumulativeDiff string) gate.ReviewVerdict {
	r.finalRan = true
	return gate.ReviewVerdict{Passed: r.finalPassed, Detail: "final"}
}

func approvingReviewer() *fakeReviewer {
	return &fakeReviewer{finalPassed: true}
}

// memPersister records every persisted transition in order.
type memPersister struct {
	mu       sync.Mutex
	seeded   map[string]graph.Status
	loadErr  error
	writeErr error
	history  map[string][]graph.Status
}

func newMemPersister() *memPersister {
	return &memPersister{history: make(map[string][]graph.Status)}
}

func (p *memPersister) LoadStatuses(ctx context.Context, parentID string) (map[string]graph.Status, error) {
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	return p.seeded, nil
}

func (p *memPersister) Persist(ctx context.Context, task *graph.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history[task.ID] = append(p.history[task.ID], task.Status)
	return p.writeErr
}

func (p *memPersister) Discrepancies() []ticket.Discrepancy { return nil }

// diamond builds A <- {B, C} <- D.
func diamond(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.Load([]*graph.Task{
		{ID: "A", Title: "a", Label: graph.LabelFeature},
		{ID: "B", Title: "b", Label: graph.LabelFeature, DependsOn: []string{"A"}},
		{ID: "C", Title: "c", Label: graph.LabelChore, DependsOn: []string{"A"}},
		{ID: "D", Title: "d", Label: graph.LabelFeature, DependsOn: []string{"B", "C"}},
	})
	if err != nil {
		t.Fatalf("loading graph: %v", err)
	}
	return g
}

func newTestRunner(t *testing.T, g *graph.Graph, ws *fakeWorkspaces, ex *scriptedExecutor, rev *fakeReviewer, p *memPersister) *Runner {
	t.Helper()
	return NewRunner(
		Config{RunID: "RUN-1", ParentID: "PLAN-1", MaxRetries: 3, IntegrateOnSuccess: true},
		g, ws, ex, passVerifier(), rev, p, nil,
	)
}

func TestRunHappyPathOrderAndIntegration(t *testing.T) {
	ws := &fakeWorkspaces{}
	ex := &scriptedExecutor{}
	rev := approvingReviewer()
	p := newMemPersister()

	summary, err := newTestRunner(t, diamond(t), ws, ex, rev, p).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{"A", "B", "C", "D"}
	if len(ex.dispatched) != len(want) {
		t.Fatalf("dispatched %v, want %v", ex.dispatched, want)
	}
	for i, id := range want {
		if ex.dispatched[i] != id {
			t.Errorf("dispatch %d = %q, want %q", i, ex.dispatched[i], id)
		}
	}

	if len(summary.Completed) != 4 || len(summary.Skipped) != 0 || len(summary.Blocked) != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if !rev.finalRan {
		t.Error("final review never ran")
	}
	if !summary.Integrated || !ws.released || ws.releaseMode != workspace.Integrate {
		t.Errorf("workspace not integrated: integrated=%v released=%v mode=%v", summary.Integrated, ws.released, ws.releaseMode)
	}

	// Each task persisted running first, then completed.
	for _, id := range want {
		h := p.history[id]
		if len(h) != 2 || h[0] != graph.StatusRunning || h[1] != graph.StatusCompleted {
			t.Errorf("persist history for %s = %v", id, h)
		}
	}
}

func TestRunRetryBudgetThenSkipAndBlock(t *testing.T) {
	ws := &fakeWorkspaces{}
	ex := &scriptedExecutor{failuresFor: map[string]int{"C": 100}} // C never succeeds
	rev := approvingReviewer()
	p := newMemPersister()

	summary, err := newTestRunner(t, diamond(t), ws, ex, rev, p).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Exactly 3 dispatches for C, no more.
	cDispatches := 0
	for _, id := range ex.dispatched {
		if id == "C" {
			cDispatches++
		}
	}
	if cDispatches != 3 {
		t.Errorf("C dispatched %d times, want 3", cDispatches)
	}

	if len(summary.Completed) != 2 {
		t.Errorf("Completed = %v, want A and B", summary.Completed)
	}
	if len(summary.Skipped) != 1 || summary.Skipped[0].ID != "C" {
		t.Fatalf("Skipped = %+v, want C", summary.Skipped)
	}
	if !strings.Contains(summary.Skipped[0].Reason, "3 attempts") {
		t.Errorf("skip reason = %q", summary.Skipped[0].Reason)
	}
	if len(summary.Blocked) != 1 || summary.Blocked[0].ID != "D" {
		t.Fatalf("Blocked = %+v, want D", summary.Blocked)
	}
	if !strings.Contains(summary.Blocked[0].Reason, `"C"`) {
		t.Errorf("block reason = %q", summary.Blocked[0].Reason)
	}

	// Partial run: no integration, workspace kept.
	if summary.Integrated || ws.released {
		t.Error("partial run must not integrate or release the workspace")
	}
	if rev.finalRan {
		t.Error("final review ran on a partial run")
	}
}

func TestRunTransientFailureRecovers(t *testing.T) {
	ws := &fakeWorkspaces{}
	ex := &scriptedExecutor{failuresFor: map[string]int{"A": 1}}
	p := newMemPersister()

	summary, err := newTestRunner(t, diamond(t), ws, ex, approvingReviewer(), p).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(summary.Completed) != 4 {
		t.Errorf("Completed = %v, want all 4", summary.Completed)
	}
	if ex.dispatched[0] != "A" || ex.dispatched[1] != "A" {
		t.Errorf("dispatch order %v, want A retried immediately", ex.dispatched)
	}
	if len(ex.dispatched) != 5 {
		t.Errorf("dispatched %d times, want 5", len(ex.dispatched))
	}
}

func TestRunResumeSkipsPersistedWork(t *testing.T) {
	ws := &fakeWorkspaces{}
	ex := &scriptedExecutor{}
	p := newMemPersister()
	p.seeded = map[string]graph.Status{
		"A": graph.StatusCompleted,
		"B": graph.StatusCompleted,
		"C": graph.StatusRunning, // interrupted mid-task: must run again
	}

	summary, err := newTestRunner(t, diamond(t), ws, ex, approvingReviewer(), p).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, id := range ex.dispatched {
		if id == "A" || id == "B" {
			t.Errorf("already-completed task %s was re-dispatched", id)
		}
	}
	if len(ex.dispatched) != 2 {
		t.Errorf("dispatched %v, want only C and D", ex.dispatched)
	}
	if len(summary.Completed) != 4 {
		t.Errorf("Completed = %v", summary.Completed)
	}
}

func TestRunVerificationFailureConsumesRetryBudget(t *testing.T) {
	g, err := graph.Load([]*graph.Task{{ID: "A", Title: "a", Label: graph.LabelFeature}})
	if err != nil {
		t.Fatalf("loading graph: %v", err)
	}

	failingVerifier := VerifierFunc(func(ctx context.Context, workDir string) gate.VerificationResult {
		return gate.VerificationResult{Passed: false, FailedCheck: "test", Detail: "2 tests failing"}
	})
	ex := &scriptedExecutor{}
	r := NewRunner(Config{RunID: "RUN-1", MaxRetries: 3}, g, &fakeWorkspaces{}, ex, failingVerifier, approvingReviewer(), newMemPersister(), nil)

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(ex.dispatched) != 3 {
		t.Errorf("dispatched %d times, want 3", len(ex.dispatched))
	}
	if len(summary.Skipped) != 1 {
		t.Fatalf("Skipped = %+v", summary.Skipped)
	}
	if !strings.Contains(summary.Skipped[0].Reason, `check "test"`) {
		t.Errorf("skip reason = %q, want the failing check named", summary.Skipped[0].Reason)
	}
}

func TestRunReviewFailureIsTaskFailure(t *testing.T) {
	g, err := graph.Load([]*graph.Task{{ID: "A", Title: "a", Label: graph.LabelFeature}})
	if err != nil {
		t.Fatalf("loading graph: %v", err)
	}

	ex := &scriptedExecutor{}
	rev := &fakeReviewer{perTaskFailures: map[string]int{"A": 1}, finalPassed: true}
	r := NewRunner(Config{RunID: "RUN-1", MaxRetries: 3, IntegrateOnSuccess: true}, g, &fakeWorkspaces{}, ex, passVerifier(), rev, newMemPersister(), nil)

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(ex.dispatched) != 2 {
		t.Errorf("dispatched %d times, want 2 (fail review, then pass)", len(ex.dispatched))
	}
	if len(summary.Completed) != 1 {
		t.Errorf("Completed = %v", summary.Completed)
	}
}

func TestRunPersistFailureIsNotFatal(t *testing.T) {
	ws := &fakeWorkspaces{}
	ex := &scriptedExecutor{}
	p := newMemPersister()
	p.writeErr = errors.New("ticket store down")

	summary, err := newTestRunner(t, diamond(t), ws, ex, approvingReviewer(), p).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(summary.Completed) != 4 {
		t.Errorf("Completed = %v, want all 4 despite persistence failures", summary.Completed)
	}
}

func TestRunFinalReviewFailureBlocksIntegration(t *testing.T) {
	ws := &fakeWorkspaces{}
	rev := &fakeReviewer{finalPassed: false}

	summary, err := newTestRunner(t, diamond(t), ws, &scriptedExecutor{}, rev, newMemPersister()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Integrated || ws.released {
		t.Error("failed final review must not integrate")
	}
	if summary.FinalReview == nil || summary.FinalReview.Passed {
		t.Errorf("FinalReview = %+v", summary.FinalReview)
	}
}

func TestRunAbortBetweenTasks(t *testing.T) {
	ws := &fakeWorkspaces{}
	ctx, cancel := context.WithCancel(context.Background())
	ex := &scriptedExecutor{}
	ex.onDispatch = func(taskID string) {
		if taskID == "A" {
			cancel() // abort mid-run; A itself still settles
		}
	}

	summary, err := newTestRunner(t, diamond(t), ws, ex, approvingReviewer(), newMemPersister()).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	if len(ex.dispatched) != 1 {
		t.Errorf("dispatched %v, want only A before the abort", ex.dispatched)
	}
	if len(summary.Completed) != 1 || summary.Completed[0] != "A" {
		t.Errorf("Completed = %v, want the in-flight task settled", summary.Completed)
	}
	if ws.released {
		t.Error("workspace released on abort without DiscardOnAbort")
	}
}

func TestRunAbortDiscardsWhenConfigured(t *testing.T) {
	ws := &fakeWorkspaces{}
	ctx, cancel := context.WithCancel(context.Background())
	ex := &scriptedExecutor{onDispatch: func(string) { cancel() }}

	r := NewRunner(Config{RunID: "RUN-1", MaxRetries: 3, DiscardOnAbort: true},
		diamond(t), ws, ex, passVerifier(), approvingReviewer(), newMemPersister(), nil)

	if _, err := r.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !ws.released || ws.releaseMode != workspace.Discard {
		t.Errorf("workspace not discarded: released=%v mode=%v", ws.released, ws.releaseMode)
	}
}

func TestRunWorkspaceAcquisitionIsFatal(t *testing.T) {
	ws := &fakeWorkspaces{acquireErr: errors.New("base branch missing")}
	ex := &scriptedExecutor{}

	_, err := newTestRunner(t, diamond(t), ws, ex, approvingReviewer(), newMemPersister()).Run(context.Background())
	if err == nil {
		t.Fatal("Run succeeded without a workspace")
	}
	if len(ex.dispatched) != 0 {
		t.Errorf("tasks dispatched despite acquisition failure: %v", ex.dispatched)
	}
}

func TestRunMergeConflictLeavesUnintegrated(t *testing.T) {
	ws := &fakeWorkspaces{mergeConflict: true}

	summary, err := newTestRunner(t, diamond(t), ws, &scriptedExecutor{}, approvingReviewer(), newMemPersister()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Integrated {
		t.Error("summary reports integrated despite merge conflict")
	}
}
