// Package agent adapts external CLI coding agents (claude, codex, goose and
// compatible tools) as execution strategies and review judges. Each
// invocation is a fresh subprocess in the run workspace; no long-lived
// session is kept.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Invoker runs one configured CLI agent command per prompt and extracts the
// textual response.
type Invoker struct {
	Command      string
	Args         []string // Base arguments, before the prompt flags
	Model        string
	SystemPrompt string
	WorkDir      string
	ProcMgr      *ProcessManager
}

// agentResponse covers the JSON shapes emitted by claude-style CLIs with
// --output-format json: either a flat result string or a content array.
type agentResponse struct {
	Result json.RawMessage `json:"result"`
}

type contentResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Invoke sends the prompt to the agent and returns its response text.
func (inv *Invoker) Invoke(ctx context.Context, prompt string) (string, error) {
	args := append(append([]string{}, inv.Args...), "-p", prompt, "--output-format", "json")
	if inv.Model != "" {
		args = append(args, "--model", inv.Model)
	}
	if inv.SystemPrompt != "" {
		args = append(args, "--system-prompt", inv.SystemPrompt)
	}

	cmd := newCommand(ctx, inv.Command, args...)
	cmd.Dir = inv.WorkDir

	stdout, stderr, err := executeCommand(ctx, cmd, inv.ProcMgr)
	if err != nil {
		return "", fmt.Errorf("%s invocation failed: %w", inv.Command, err)
	}

	response, err := parseResponse(stdout)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s response: %w (stderr: %s)", inv.Command, err, string(stderr))
	}
	return response, nil
}

// parseResponse extracts the response text from agent stdout. Agents that do
// not honor --output-format json get their raw stdout passed through.
func parseResponse(data []byte) (string, error) {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}

	var ar agentResponse
	if err := json.Unmarshal([]byte(trimmed), &ar); err != nil {
		return "", fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if len(ar.Result) == 0 {
		return "", fmt.Errorf("response has no result field")
	}

	// Flat string result first, content array second.
	var flat string
	if err := json.Unmarshal(ar.Result, &flat); err == nil {
		return flat, nil
	}

	var cr contentResult
	if err := json.Unmarshal(ar.Result, &cr); err != nil {
		return "", fmt.Errorf("unrecognized result shape: %w", err)
	}
	var sb strings.Builder
	for _, item := range cr.Content {
		if item.Type == "text" {
			sb.WriteString(item.Text)
		}
	}
	return sb.String(), nil
}
