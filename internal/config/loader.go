package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config,
// defaults. Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.foreman/config.json
// Project: .foreman/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".foreman", "config.json")
	projectPath := filepath.Join(".foreman", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and merges it into the base
// config. Missing files are silently skipped; malformed JSON is an error.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	// Scalars override only when set
	if loaded.MaxRetries > 0 {
		base.MaxRetries = loaded.MaxRetries
	}
	if loaded.BaseBranch != "" {
		base.BaseBranch = loaded.BaseBranch
	}
	if loaded.WorkspaceDir != "" {
		base.WorkspaceDir = loaded.WorkspaceDir
	}
	if loaded.TicketDB != "" {
		base.TicketDB = loaded.TicketDB
	}
	if loaded.IntegrateOnSuccess {
		base.IntegrateOnSuccess = true
	}

	// The check sequence is replaced wholesale: a partial merge would change
	// the gate's ordering semantics in surprising ways.
	if len(loaded.Checks) > 0 {
		base.Checks = loaded.Checks
	}

	// Strategies merge per label
	for label, strategy := range loaded.Strategies {
		base.Strategies[label] = strategy
	}

	if loaded.Reviewer.Command != "" {
		base.Reviewer = loaded.Reviewer
	}

	return nil
}
