package workspace

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Manager provides the run's isolated execution environment as a git
// worktree on a dedicated branch. One Acquire per run, idempotent; one
// Release at the end. The workspace is never torn down mid-run.
type Manager struct {
	config ManagerConfig
	mu     sync.Mutex // Serializes git operations on the main repo
}

// NewManager creates a workspace manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = ".worktrees"
	}
	return &Manager{config: cfg}
}

// git runs a git command in the given directory and returns its combined
// output.
func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s: %w (output: %s)", strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

func (m *Manager) branchFor(runID string) string {
	return fmt.Sprintf("run/%s", runID)
}

func (m *Manager) pathFor(runID string) string {
	return filepath.Join(m.config.RepoPath, m.config.WorkspaceDir, runID)
}

// Acquire returns the isolated environment for the run, creating it if
// needed. Idempotent: if a workspace for runID already exists and is valid,
// the existing handle is returned rather than a fresh checkout. Failure is a
// fatal *AcquisitionError - the run must not start without a workspace.
func (m *Manager) Acquire(ctx context.Context, runID string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Clear stale worktree metadata from prior crashes
	if _, err := m.git(ctx, m.config.RepoPath, "worktree", "prune"); err != nil {
		return nil, &AcquisitionError{RunID: runID, Err: err}
	}

	branch := m.branchFor(runID)
	wtPath := m.pathFor(runID)

	// The base revision must be reachable before anything else
	baseOut, err := m.git(ctx, m.config.RepoPath, "rev-parse", "--verify", m.config.BaseBranch)
	if err != nil {
		return nil, &AcquisitionError{RunID: runID, Err: fmt.Errorf("base revision %q unreachable: %w", m.config.BaseBranch, err)}
	}
	baseRev := strings.TrimSpace(baseOut)

	existing, err := m.lookup(ctx, branch)
	if err != nil {
		return nil, &AcquisitionError{RunID: runID, Err: err}
	}
	if existing != nil {
		if m.valid(ctx, existing, baseRev) {
			existing.RunID = runID
			existing.BaseRev = baseRev
			return existing, nil
		}
		// Corrupted or based on the wrong revision: tear down and recreate
		if err := m.teardown(ctx, existing, true); err != nil {
			return nil, &AcquisitionError{RunID: runID, Err: fmt.Errorf("removing stale workspace: %w", err)}
		}
	}

	if _, err := m.git(ctx, m.config.RepoPath, "worktree", "add", "-b", branch, wtPath, m.config.BaseBranch); err != nil {
		return nil, &AcquisitionError{RunID: runID, Err: err}
	}

	return &Handle{
		RunID:   runID,
		Path:    wtPath,
		Branch:  branch,
		BaseRev: baseRev,
	}, nil
}

// lookup finds an existing worktree for the branch via the porcelain
// listing. Returns nil if none exists.
func (m *Manager) lookup(ctx context.Context, branch string) (*Handle, error) {
	output, err := m.git(ctx, m.config.RepoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("listing worktrees: %w", err)
	}

	var current Handle
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if current.Branch == branch {
				found := current
				return &found, nil
			}
			current = Handle{}
			continue
		}

		if strings.HasPrefix(line, "worktree ") {
			current.Path = strings.TrimPrefix(line, "worktree ")
		} else if strings.HasPrefix(line, "branch ") {
			ref := strings.TrimPrefix(line, "branch ")
			current.Branch = strings.TrimPrefix(ref, "refs/heads/")
		}
	}
	if current.Branch == branch {
		return &current, nil
	}
	return nil, nil
}

// valid checks that the workspace directory still exists and that the run
// branch contains the expected base revision.
func (m *Manager) valid(ctx context.Context, h *Handle, baseRev string) bool {
	if _, err := os.Stat(h.Path); err != nil {
		return false
	}
	_, err := m.git(ctx, m.config.RepoPath, "merge-base", "--is-ancestor", baseRev, h.Branch)
	return err == nil
}

// Release ends the run's ownership of the workspace. With Integrate the run
// branch is merged into the base branch (a merge conflict is reported in the
// MergeResult, and the branch is kept for manual resolution); with Discard
// the worktree and branch are removed unconditionally.
func (m *Manager) Release(ctx context.Context, h *Handle, mode ReleaseMode) (*MergeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mode == Discard {
		if err := m.teardown(ctx, h, true); err != nil {
			return nil, err
		}
		return &MergeResult{Merged: false}, nil
	}

	if _, err := m.git(ctx, m.config.RepoPath, "checkout", m.config.BaseBranch); err != nil {
		return &MergeResult{Merged: false, Err: err}, nil
	}

	// Dry-run merge first so a conflict never leaves the base branch in a
	// half-merged state
	detectOut, err := m.git(ctx, m.config.RepoPath, "merge-tree", "--write-tree", m.config.BaseBranch, h.Branch)
	if err != nil || strings.Contains(detectOut, "CONFLICT") {
		result := &MergeResult{
			Merged:        false,
			ConflictFiles: parseConflictFiles(detectOut),
			Err:           fmt.Errorf("merge conflict between %s and %s", m.config.BaseBranch, h.Branch),
		}
		return result, nil
	}

	if _, err := m.git(ctx, m.config.RepoPath, "merge", "--no-ff", "-m",
		fmt.Sprintf("Integrate run %s", h.RunID), h.Branch); err != nil {
		return &MergeResult{Merged: false, Err: err}, nil
	}

	if err := m.teardown(ctx, h, false); err != nil {
		// The merge landed; a cleanup failure is not a merge failure
		return &MergeResult{Merged: true, Err: err}, nil
	}

	return &MergeResult{Merged: true}, nil
}

// Diff returns the cumulative change of the run branch against the base
// revision it was created from. Used for the final review.
func (m *Manager) Diff(ctx context.Context, h *Handle) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	output, err := m.git(ctx, m.config.RepoPath, "diff", fmt.Sprintf("%s...%s", h.BaseRev, h.Branch))
	if err != nil {
		return "", fmt.Errorf("diffing run branch: %w", err)
	}
	return output, nil
}

// teardown removes the worktree and deletes the branch. With force, both
// removals use the force flags (unmerged branches, dirty worktrees).
func (m *Manager) teardown(ctx context.Context, h *Handle, force bool) error {
	var errs []string

	removeArgs := []string{"worktree", "remove"}
	if force {
		removeArgs = append(removeArgs, "--force")
	}
	removeArgs = append(removeArgs, h.Path)
	if _, err := m.git(ctx, m.config.RepoPath, removeArgs...); err != nil {
		// Retry with force before giving up
		if _, forceErr := m.git(ctx, m.config.RepoPath, "worktree", "remove", "--force", h.Path); forceErr != nil {
			errs = append(errs, fmt.Sprintf("worktree remove: %v", forceErr))
		}
	}

	deleteFlag := "-d"
	if force {
		deleteFlag = "-D"
	}
	if _, err := m.git(ctx, m.config.RepoPath, "branch", deleteFlag, h.Branch); err != nil {
		if _, forceErr := m.git(ctx, m.config.RepoPath, "branch", "-D", h.Branch); forceErr != nil {
			errs = append(errs, fmt.Sprintf("branch delete: %v", forceErr))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("workspace teardown: %s", strings.Join(errs, "; "))
	}
	return nil
}

// parseConflictFiles extracts conflicting file paths from merge-tree output.
func parseConflictFiles(output string) []string {
	var conflicts []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		// Lines look like "CONFLICT (content): Merge conflict in <file>"
		if strings.Contains(line, "CONFLICT") && strings.Contains(line, "in ") {
			parts := strings.Split(line, "in ")
			if len(parts) > 1 {
				conflicts = append(conflicts, strings.TrimSpace(parts[len(parts)-1]))
			}
		}
	}
	return conflicts
}
