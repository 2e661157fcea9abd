package config

// CheckConfig defines one verification check: a named external command run
// in the workspace after each task. Checks run in config order and the gate
// stops at the first failure.
type CheckConfig struct {
	Name    string   `json:"name"`    // e.g. "test", "lint", "build"
	Command string   `json:"command"` // Binary to invoke (e.g. "just")
	Args    []string `json:"args,omitempty"`
}

// StrategyConfig defines the agent CLI invocation for one task label.
type StrategyConfig struct {
	Command      string   `json:"command"`                 // CLI binary name (e.g. "claude")
	Args         []string `json:"args,omitempty"`          // Default args appended to every invocation
	Model        string   `json:"model,omitempty"`         // Model override
	SystemPrompt string   `json:"system_prompt,omitempty"` // Label-specific system prompt
}

// ReviewerConfig defines the judgment CLI used by the review gate, for both
// per-task and final cumulative reviews.
type ReviewerConfig struct {
	Command      string   `json:"command"`
	Args         []string `json:"args,omitempty"`
	Model        string   `json:"model,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
}

// Config is the top-level foreman configuration.
type Config struct {
	MaxRetries         int                       `json:"max_retries"`          // Attempts per task before skip (default 3)
	BaseBranch         string                    `json:"base_branch"`          // Branch the run workspace is created from
	WorkspaceDir       string                    `json:"workspace_dir"`        // Directory under the repo for run worktrees
	TicketDB           string                    `json:"ticket_db"`            // Path to the SQLite ticket store
	IntegrateOnSuccess bool                      `json:"integrate_on_success"` // Merge the workspace when every task completes
	Checks             []CheckConfig             `json:"checks"`
	Strategies         map[string]StrategyConfig `json:"strategies"` // Keyed by task label
	Reviewer           ReviewerConfig            `json:"reviewer"`
}
