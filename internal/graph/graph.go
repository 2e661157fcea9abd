package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gammazero/toposort"
)

// Graph owns all tasks for one run. The dependency relation must be acyclic
// and every dependency must reference a task in the same graph; both are
// validated at load time, never at runtime.
//
// The scheduler is the only component that mutates task status; everything
// else receives cloned read-only views.
type Graph struct {
	mu         sync.RWMutex
	tasks      map[string]*Task
	dependents map[string][]string // taskID -> tasks that depend on it
	order      []string            // insertion (creation) order
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		tasks:      make(map[string]*Task),
		dependents: make(map[string][]string),
	}
}

// Load builds and validates a graph from the given tasks.
// Tasks are sequenced in slice order, which becomes the ready tie-break.
// Returns a *CycleError or *DanglingRefError on invalid input.
func Load(tasks []*Task) (*Graph, error) {
	g := New()
	for _, task := range tasks {
		if err := g.Add(task); err != nil {
			return nil, err
		}
	}
	if _, err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Add adds a task to the graph. Returns an error if the task ID already exists.
func (g *Graph) Add(task *Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %q already exists", task.ID)
	}

	task.Seq = len(g.order)
	g.tasks[task.ID] = task
	g.order = append(g.order, task.ID)

	for _, depID := range task.DependsOn {
		g.dependents[depID] = append(g.dependents[depID], task.ID)
	}

	return nil
}

// Validate verifies that every dependency exists and that the graph is
// acyclic. Returns the topological order on success; a *DanglingRefError or
// *CycleError (with the participating task IDs) otherwise.
func (g *Graph) Validate() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, taskID := range g.order {
		for _, depID := range g.tasks[taskID].DependsOn {
			if _, exists := g.tasks[depID]; !exists {
				return nil, &DanglingRefError{TaskID: taskID, DependsOn: depID}
			}
		}
	}

	var edges []toposort.Edge
	for _, taskID := range g.order {
		task := g.tasks[taskID]
		if len(task.DependsOn) == 0 {
			// No dependencies - edge from nil so the task is still included
			edges = append(edges, toposort.Edge{nil, taskID})
		} else {
			for _, depID := range task.DependsOn {
				edges = append(edges, toposort.Edge{depID, taskID})
			}
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, &CycleError{TaskIDs: g.cycleMembersLocked()}
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(g.tasks) {
		return nil, &CycleError{TaskIDs: g.cycleMembersLocked()}
	}

	return order, nil
}

// cycleMembersLocked identifies cycle participants by repeatedly eliminating
// zero-indegree tasks; whatever is left after no further progress is part of
// a cycle (or depends on one). Caller must hold at least a read lock.
func (g *Graph) cycleMembersLocked() []string {
	indegree := make(map[string]int, len(g.tasks))
	for id, task := range g.tasks {
		indegree[id] = len(task.DependsOn)
	}

	removed := 0
	for {
		progress := false
		for id, deg := range indegree {
			if deg != 0 {
				continue
			}
			delete(indegree, id)
			removed++
			progress = true
			for _, depID := range g.dependents[id] {
				if _, ok := indegree[depID]; ok {
					indegree[depID]--
				}
			}
		}
		if !progress {
			break
		}
	}

	members := make([]string, 0, len(indegree))
	for id := range indegree {
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}

// ReadyTasks returns clones of all pending tasks whose dependencies are all
// completed, ordered by creation sequence. The order is stable: calling
// ReadyTasks twice without intervening status changes yields the same list.
// Tasks are never reordered by priority or estimated cost.
func (g *Graph) ReadyTasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ready := []*Task{}
	for _, taskID := range g.order {
		task := g.tasks[taskID]
		if task.Status != StatusPending {
			continue
		}

		allCompleted := true
		for _, depID := range task.DependsOn {
			dep, exists := g.tasks[depID]
			if !exists || dep.Status != StatusCompleted {
				allCompleted = false
				break
			}
		}

		if allCompleted {
			cp := cloneTask(task)
			cp.Status = StatusReady
			ready = append(ready, cp)
		}
	}

	return ready
}

// Get returns a clone of the task by ID.
func (g *Graph) Get(taskID string) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns clones of all tasks in creation order.
func (g *Graph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tasks := make([]*Task, 0, len(g.order))
	for _, taskID := range g.order {
		tasks = append(tasks, cloneTask(g.tasks[taskID]))
	}
	return tasks
}

// MarkRunning transitions a task to running.
func (g *Graph) MarkRunning(taskID string) error {
	return g.setStatus(taskID, StatusRunning)
}

// MarkCompleted transitions a task to completed and stores its result.
func (g *Graph) MarkCompleted(taskID, result string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}
	task.Status = StatusCompleted
	task.Result = result
	return nil
}

// RecordFailure marks a failed attempt: increments the retry count, sets the
// status to failed, and records the reason. Returns the new attempt count so
// the scheduler can apply its retry budget.
func (g *Graph) RecordFailure(taskID, reason string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return 0, fmt.Errorf("task %q not found", taskID)
	}
	task.RetryCount++
	task.Status = StatusFailed
	task.Reason = reason
	return task.RetryCount, nil
}

// Requeue returns a failed task to the pending pool for another attempt.
func (g *Graph) Requeue(taskID string) error {
	return g.setStatus(taskID, StatusPending)
}

// MarkSkipped transitions a task to skipped (retry budget exhausted).
func (g *Graph) MarkSkipped(taskID, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}
	task.Status = StatusSkipped
	task.Reason = reason
	return nil
}

// MarkBlocked relabels every pending task with at least one dependency in
// skipped, failed, or blocked state as blocked, iterating to a fixpoint so
// the relabeling propagates transitively. Called once after the main loop
// stalls. Returns the IDs of the newly blocked tasks in creation order.
func (g *Graph) MarkBlocked() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var blocked []string
	for {
		progress := false
		for _, taskID := range g.order {
			task := g.tasks[taskID]
			if task.Status != StatusPending {
				continue
			}
			for _, depID := range task.DependsOn {
				dep := g.tasks[depID]
				if dep.Status == StatusSkipped || dep.Status == StatusFailed || dep.Status == StatusBlocked {
					task.Status = StatusBlocked
					task.Reason = fmt.Sprintf("dependency %q is %s", depID, dep.Status)
					blocked = append(blocked, taskID)
					progress = true
					break
				}
			}
		}
		if !progress {
			return blocked
		}
	}
}

// Seed applies a previously persisted status to a task before scheduling.
// A persisted running status is demoted to pending: the run was interrupted
// mid-task and the outcome was never confirmed. A persisted failed status is
// demoted the same way, since failed is only ever a transient state between
// an attempt and the requeue-or-skip decision.
func (g *Graph) Seed(taskID string, status Status) error {
	if status == StatusRunning || status == StatusFailed {
		status = StatusPending
	}
	return g.setStatus(taskID, status)
}

// Counts tallies tasks by status.
func (g *Graph) Counts() map[Status]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	counts := make(map[Status]int)
	for _, task := range g.tasks {
		counts[task.Status]++
	}
	return counts
}

func (g *Graph) setStatus(taskID string, status Status) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}
	task.Status = status
	return nil
}
