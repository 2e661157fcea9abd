package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aristath/foreman/internal/config"
	"github.com/aristath/foreman/internal/gate"
)

// CLIJudge asks a CLI agent for a review verdict. It implements
// gate.Judgment.
type CLIJudge struct {
	cfg     config.ReviewerConfig
	workDir string
	procMgr *ProcessManager
}

// NewCLIJudge creates a judge backed by the configured reviewer command,
// run in the given directory.
func NewCLIJudge(cfg config.ReviewerConfig, workDir string, procMgr *ProcessManager) *CLIJudge {
	return &CLIJudge{cfg: cfg, workDir: workDir, procMgr: procMgr}
}

// verdictPayload is the strict JSON shape the judge prompt demands.
type verdictPayload struct {
	Pass     bool   `json:"pass"`
	Findings string `json:"findings"`
}

// Evaluate prompts the reviewer and parses its verdict. A response that
// cannot be parsed is an error; the gate treats that as a failed review.
func (j *CLIJudge) Evaluate(ctx context.Context, changeSummary, reviewContext string) (gate.ReviewVerdict, error) {
	inv := &Invoker{
		Command:      j.cfg.Command,
		Args:         j.cfg.Args,
		Model:        j.cfg.Model,
		SystemPrompt: j.cfg.SystemPrompt,
		WorkDir:      j.workDir,
		ProcMgr:      j.procMgr,
	}

	response, err := inv.Invoke(ctx, buildReviewPrompt(changeSummary, reviewContext))
	if err != nil {
		return gate.ReviewVerdict{}, err
	}

	verdict, err := parseVerdict(response)
	if err != nil {
		return gate.ReviewVerdict{}, fmt.Errorf("reviewer returned no usable verdict: %w", err)
	}
	return verdict, nil
}

func buildReviewPrompt(changeSummary, reviewContext string) string {
	var sb strings.Builder
	sb.WriteString("Review the following change.\n\n")
	fmt.Fprintf(&sb, "Context:\n%s\n\nChange:\n%s\n\n", reviewContext, changeSummary)
	sb.WriteString(`Respond with only a JSON object: {"pass": true|false, "findings": "..."}`)
	return sb.String()
}

// parseVerdict extracts the verdict object, tolerating prose around it.
func parseVerdict(response string) (gate.ReviewVerdict, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return gate.ReviewVerdict{}, fmt.Errorf("no JSON object in response")
	}

	var payload verdictPayload
	if err := json.Unmarshal([]byte(response[start:end+1]), &payload); err != nil {
		return gate.ReviewVerdict{}, fmt.Errorf("failed to unmarshal verdict: %w", err)
	}
	return gate.ReviewVerdict{Passed: payload.Pass, Detail: payload.Findings}, nil
}
