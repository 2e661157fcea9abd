package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/aristath/foreman/internal/config"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantPass bool
		wantErr  bool
	}{
		{
			name:     "passing verdict",
			response: `{"pass": true, "findings": "clean"}`,
			wantPass: true,
		},
		{
			name:     "failing verdict",
			response: `{"pass": false, "findings": "missing error handling"}`,
			wantPass: false,
		},
		{
			name:     "verdict wrapped in prose",
			response: "Here is my review:\n{\"pass\": true, \"findings\": \"ok\"}\nThanks!",
			wantPass: true,
		},
		{
			name:     "no JSON at all",
			response: "looks fine to me",
			wantErr:  true,
		},
		{
			name:     "broken JSON",
			response: `{"pass": maybe}`,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := parseVerdict(tt.response)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseVerdict(%q) succeeded, want error", tt.response)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseVerdict failed: %v", err)
			}
			if verdict.Passed != tt.wantPass {
				t.Errorf("Passed = %v, want %v", verdict.Passed, tt.wantPass)
			}
		})
	}
}

func TestCLIJudgeEvaluate(t *testing.T) {
	path := writeFakeAgent(t, `echo '{"result": "{\"pass\": false, \"findings\": \"needs tests\"}"}'`)
	judge := NewCLIJudge(config.ReviewerConfig{Command: path}, t.TempDir(), nil)

	verdict, err := judge.Evaluate(context.Background(), "diff", "task context")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if verdict.Passed {
		t.Error("failing verdict reported as passed")
	}
	if !strings.Contains(verdict.Detail, "needs tests") {
		t.Errorf("Detail = %q", verdict.Detail)
	}
}

func TestCLIJudgeUnusableResponse(t *testing.T) {
	path := writeFakeAgent(t, `echo '{"result": "sure, looks good"}'`)
	judge := NewCLIJudge(config.ReviewerConfig{Command: path}, t.TempDir(), nil)

	if _, err := judge.Evaluate(context.Background(), "diff", "ctx"); err == nil {
		t.Fatal("Evaluate succeeded despite unparseable verdict")
	}
}
