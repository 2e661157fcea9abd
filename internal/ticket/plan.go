package ticket

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/aristath/foreman/internal/graph"
)

// Plan is the operator-supplied description of one run: a parent ticket, the
// plan text handed to every strategy, and the child tasks in creation order.
type Plan struct {
	Parent string     `json:"parent"`
	Text   string     `json:"plan"`
	Tasks  []PlanTask `json:"tasks"`
}

// PlanTask is one task as written in a plan file.
type PlanTask struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Label       string   `json:"label"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// ParsePlan reads and validates a JSON plan. Labels must parse and every
// task needs an ID and title; dependency and cycle validation is the graph's
// job.
func ParsePlan(r io.Reader) (*Plan, error) {
	var plan Plan
	if err := json.NewDecoder(r).Decode(&plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}

	if plan.Parent == "" {
		return nil, fmt.Errorf("plan has no parent ticket ID")
	}
	if len(plan.Tasks) == 0 {
		return nil, fmt.Errorf("plan has no tasks")
	}
	for i, task := range plan.Tasks {
		if task.ID == "" {
			return nil, fmt.Errorf("task %d has no ID", i)
		}
		if task.Title == "" {
			return nil, fmt.Errorf("task %q has no title", task.ID)
		}
		if _, err := graph.ParseLabel(task.Label); err != nil {
			return nil, fmt.Errorf("task %q: %w", task.ID, err)
		}
	}
	return &plan, nil
}

// BuildGraph converts ticket records into a validated task graph. Record
// order becomes creation order; persisted statuses are applied later by the
// synchronizer's seeding pass, not here.
func BuildGraph(records []TaskRecord) (*graph.Graph, error) {
	tasks := make([]*graph.Task, 0, len(records))
	for _, rec := range records {
		label, err := graph.ParseLabel(rec.Label)
		if err != nil {
			return nil, fmt.Errorf("ticket %q: %w", rec.ID, err)
		}
		tasks = append(tasks, &graph.Task{
			ID:          rec.ID,
			Title:       rec.Title,
			Description: rec.Description,
			Label:       label,
			DependsOn:   append([]string{}, rec.DependsOn...),
			RetryCount:  rec.RetryCount,
		})
	}
	return graph.Load(tasks)
}

// Records converts the plan's tasks into store records under its parent.
func (p *Plan) Records() []TaskRecord {
	records := make([]TaskRecord, 0, len(p.Tasks))
	for _, task := range p.Tasks {
		records = append(records, TaskRecord{
			ID:          task.ID,
			ParentID:    p.Parent,
			Title:       task.Title,
			Description: task.Description,
			Label:       task.Label,
			DependsOn:   append([]string{}, task.DependsOn...),
			Status:      graph.StatusPending,
		})
	}
	return records
}
