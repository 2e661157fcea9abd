package workspace

import "fmt"

// ReleaseMode selects what happens to the workspace contents on release.
type ReleaseMode int

const (
	// Integrate merges the run branch back into the base branch.
	Integrate ReleaseMode = iota
	// Discard removes the workspace and its branch without merging.
	Discard
)

// String returns the mode name.
func (m ReleaseMode) String() string {
	switch m {
	case Integrate:
		return "integrate"
	case Discard:
		return "discard"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Handle identifies one isolated execution environment, tied 1:1 to a run.
// Created lazily on first use, reused across all tasks in the run, destroyed
// only by an explicit Release.
type Handle struct {
	RunID   string // Parent ticket ID the run belongs to
	Path    string // Absolute path to the worktree directory
	Branch  string // Branch name (run/{runID})
	BaseRev string // Commit the workspace was created from
}

// MergeResult reports the outcome of an integrate release.
type MergeResult struct {
	Merged        bool
	ConflictFiles []string
	Err           error
}

// AcquisitionError is fatal: without a workspace there is no partial run.
type AcquisitionError struct {
	RunID string
	Err   error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("cannot acquire workspace for run %q: %v", e.RunID, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// ManagerConfig configures the workspace manager.
type ManagerConfig struct {
	RepoPath     string // Absolute path to the git repository
	BaseBranch   string // Branch runs are created from (e.g. "main")
	WorkspaceDir string // Directory under the repo for run worktrees (default ".worktrees")
}
