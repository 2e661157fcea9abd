package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/foreman/internal/config"
	"github.com/aristath/foreman/internal/dispatch"
)

// CLIStrategy executes a task by prompting a CLI coding agent inside the run
// workspace. It implements dispatch.Strategy.
type CLIStrategy struct {
	cfg     config.StrategyConfig
	procMgr *ProcessManager
}

// NewCLIStrategy creates a strategy backed by the configured agent command.
func NewCLIStrategy(cfg config.StrategyConfig, procMgr *ProcessManager) *CLIStrategy {
	return &CLIStrategy{cfg: cfg, procMgr: procMgr}
}

// Execute prompts the agent with the task and its surrounding plan. The
// agent works directly in the workspace; its response text becomes the
// change summary.
func (s *CLIStrategy) Execute(ctx context.Context, tc dispatch.TaskContext) (dispatch.ExecutionResult, error) {
	inv := &Invoker{
		Command:      s.cfg.Command,
		Args:         s.cfg.Args,
		Model:        s.cfg.Model,
		SystemPrompt: s.cfg.SystemPrompt,
		WorkDir:      tc.WorkDir,
		ProcMgr:      s.procMgr,
	}

	response, err := inv.Invoke(ctx, buildTaskPrompt(tc))
	if err != nil {
		return dispatch.ExecutionResult{}, err
	}

	return dispatch.ExecutionResult{Success: true, Output: response}, nil
}

// buildTaskPrompt assembles the agent prompt: the task first, then the plan
// for context.
func buildTaskPrompt(tc dispatch.TaskContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Implement the following task in the current repository.\n\n")
	fmt.Fprintf(&sb, "Task %s: %s\n", tc.Task.ID, tc.Task.Title)
	if tc.Task.Description != "" {
		fmt.Fprintf(&sb, "\n%s\n", tc.Task.Description)
	}
	if tc.PlanText != "" {
		fmt.Fprintf(&sb, "\nOverall plan this task belongs to:\n%s\n", tc.PlanText)
	}
	sb.WriteString("\nCommit your work when done and summarize what changed.")
	return sb.String()
}
