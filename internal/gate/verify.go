// Package gate holds the two quality gates between task execution and
// completion: the verification gate (automated checks) and the review gate
// (external judgment).
package gate

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Name   string
	Passed bool
	Output string
}

// CheckRunner executes a single named check against the workspace.
type CheckRunner interface {
	RunCheck(ctx context.Context, name string) CheckResult
}

// VerificationResult reports the gate outcome. On failure it names the
// check that failed and why; the gate does not attempt partial credit.
type VerificationResult struct {
	Passed      bool
	FailedCheck string
	Detail      string
}

// VerificationGate runs a fixed, ordered sequence of checks and stops at
// the first failure. Idempotent: safe to run repeatedly, with no side
// effects beyond the checks themselves.
type VerificationGate struct {
	checks []string
	runner CheckRunner
}

// NewVerificationGate creates a gate over the given ordered check names.
func NewVerificationGate(checks []string, runner CheckRunner) *VerificationGate {
	return &VerificationGate{checks: checks, runner: runner}
}

// Run executes the check sequence in order.
func (g *VerificationGate) Run(ctx context.Context) VerificationResult {
	for _, name := range g.checks {
		if err := ctx.Err(); err != nil {
			return VerificationResult{Passed: false, FailedCheck: name, Detail: fmt.Sprintf("cancelled: %v", err)}
		}

		result := g.runner.RunCheck(ctx, name)
		if !result.Passed {
			return VerificationResult{
				Passed:      false,
				FailedCheck: name,
				Detail:      result.Output,
			}
		}
	}
	return VerificationResult{Passed: true}
}

// Command describes the external command behind one named check.
type Command struct {
	Command string
	Args    []string
}

// ExecCheckRunner runs checks as external commands in the workspace
// directory.
type ExecCheckRunner struct {
	WorkDir  string
	Commands map[string]Command // check name -> command
}

// RunCheck executes the named check's command. An unconfigured name is a
// failing check, not a panic.
func (r *ExecCheckRunner) RunCheck(ctx context.Context, name string) CheckResult {
	check, ok := r.Commands[name]
	if !ok {
		return CheckResult{Name: name, Passed: false, Output: fmt.Sprintf("no command configured for check %q", name)}
	}

	cmd := exec.CommandContext(ctx, check.Command, check.Args...)
	cmd.Dir = r.WorkDir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return CheckResult{
			Name:   name,
			Passed: false,
			Output: fmt.Sprintf("%v: %s", err, strings.TrimSpace(string(output))),
		}
	}

	return CheckResult{Name: name, Passed: true, Output: string(output)}
}
