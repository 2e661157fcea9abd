package ticket

import (
	"context"

	"github.com/aristath/foreman/internal/graph"
)

// TaskRecord is one child ticket as stored in the external system of record.
type TaskRecord struct {
	ID          string
	ParentID    string
	Title       string
	Description string
	Label       string
	DependsOn   []string
	Status      graph.Status
	RetryCount  int
}

// Store is the ticket-store boundary. The concrete protocol (Jira, Notion,
// GitHub, a local database) is the implementation's business; the
// orchestrator only needs these three operations.
type Store interface {
	// GetChildTasks returns all child tickets of a parent, in creation order.
	GetChildTasks(ctx context.Context, parentID string) ([]TaskRecord, error)

	// UpdateStatus writes a ticket's status.
	UpdateStatus(ctx context.Context, taskID string, status graph.Status) error

	// AppendNote attaches free-text to a ticket (skip/block reasons,
	// persistence discrepancies).
	AppendNote(ctx context.Context, taskID, note string) error

	// Close releases the store's resources.
	Close() error
}
