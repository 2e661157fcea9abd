package config

// DefaultConfig returns the default configuration with built-in checks and
// per-label strategies.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:         3,
		BaseBranch:         "main",
		WorkspaceDir:       ".worktrees",
		TicketDB:           ".foreman/tickets.db",
		IntegrateOnSuccess: true,
		Checks: []CheckConfig{
			{Name: "test", Command: "just", Args: []string{"test"}},
			{Name: "lint", Command: "just", Args: []string{"lint"}},
			{Name: "build", Command: "just", Args: []string{"build"}},
		},
		Strategies: map[string]StrategyConfig{
			"Feature": {
				Command:      "claude",
				SystemPrompt: "You implement the described feature and commit the result.",
			},
			"Chore": {
				Command:      "claude",
				SystemPrompt: "You perform maintenance work: refactors, dependency bumps, cleanup.",
			},
			"Bugfix": {
				Command:      "claude",
				SystemPrompt: "You reproduce the described bug, fix it, and add a regression test.",
			},
		},
		Reviewer: ReviewerConfig{
			Command:      "claude",
			SystemPrompt: "You review a change and answer with a strict pass/fail verdict.",
		},
	}
}
