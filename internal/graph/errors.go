package graph

import (
	"fmt"
	"strings"
)

// CycleError reports a dependency cycle found at load time.
// TaskIDs lists the tasks participating in (or downstream of) the cycle.
type CycleError struct {
	TaskIDs []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle involving tasks: %s", strings.Join(e.TaskIDs, ", "))
}

// DanglingRefError reports a dependency on a task ID that is not in the graph.
type DanglingRefError struct {
	TaskID    string
	DependsOn string
}

func (e *DanglingRefError) Error() string {
	return fmt.Sprintf("task %q depends on non-existent task %q", e.TaskID, e.DependsOn)
}
