// Command foreman executes a plan of labeled, dependency-ordered tasks, one
// at a time, inside an isolated git worktree. Each task runs through a CLI
// coding agent, a verification check sequence, and a review gate; statuses
// are written through to a SQLite ticket store so an interrupted run can be
// resumed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/foreman/internal/agent"
	"github.com/aristath/foreman/internal/config"
	"github.com/aristath/foreman/internal/dispatch"
	"github.com/aristath/foreman/internal/events"
	"github.com/aristath/foreman/internal/gate"
	"github.com/aristath/foreman/internal/graph"
	"github.com/aristath/foreman/internal/scheduler"
	"github.com/aristath/foreman/internal/ticket"
	"github.com/aristath/foreman/internal/tui"
	"github.com/aristath/foreman/internal/workspace"
)

type options struct {
	planPath       string
	parentID       string
	runID          string
	repoPath       string
	dbPath         string
	configPath     string
	useTUI         bool
	writeConfig    bool
	discardOnAbort bool
}

func main() {
	var opts options
	flag.StringVar(&opts.planPath, "plan", "", "JSON plan file to import before running")
	flag.StringVar(&opts.parentID, "parent", "", "parent ticket whose child tasks are executed")
	flag.StringVar(&opts.runID, "run", "", "run identifier (defaults to the parent ticket ID)")
	flag.StringVar(&opts.repoPath, "repo", ".", "path to the git repository")
	flag.StringVar(&opts.dbPath, "db", "", "ticket store path (overrides config)")
	flag.StringVar(&opts.configPath, "config", "", "project config path (overrides .foreman/config.json)")
	flag.BoolVar(&opts.useTUI, "tui", false, "show the interactive run monitor")
	flag.BoolVar(&opts.writeConfig, "write-config", false, "write the default project config and exit")
	flag.BoolVar(&opts.discardOnAbort, "discard-on-abort", false, "discard the run workspace when aborted instead of keeping it")
	flag.Parse()

	os.Exit(run(opts))
}

func run(opts options) int {
	if opts.writeConfig {
		path := filepath.Join(".foreman", "config.json")
		if err := config.Save(config.DefaultConfig(), path); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
			return 1
		}
		fmt.Printf("Wrote %s\n", path)
		return 0
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}

	// Signal-aware context: first Ctrl+C aborts between tasks, second kills.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pm := agent.NewProcessManager()
	go func() {
		<-ctx.Done()
		if err := pm.KillAll(); err != nil {
			log.Printf("ERROR: killing agent subprocesses: %v", err)
		}
	}()

	dbPath := cfg.TicketDB
	if opts.dbPath != "" {
		dbPath = opts.dbPath
	}
	store, err := ticket.NewSQLiteStore(ctx, dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening ticket store: %v\n", err)
		return 1
	}
	defer store.Close()

	parentID, planText := opts.parentID, ""
	if opts.planPath != "" {
		plan, err := importPlan(ctx, store, opts.planPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error importing plan: %v\n", err)
			return 1
		}
		parentID, planText = plan.Parent, plan.Text
	}
	if parentID == "" {
		fmt.Fprintln(os.Stderr, "Either -plan or -parent is required")
		return 1
	}
	runID := opts.runID
	if runID == "" {
		runID = parentID
	}

	records, err := store.GetChildTasks(ctx, parentID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading tasks: %v\n", err)
		return 1
	}
	g, err := ticket.BuildGraph(records)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building task graph: %v\n", err)
		return 1
	}

	summary, err := executeRun(ctx, cfg, opts, g, store, pm, runID, parentID, planText)
	if err != nil && summary == nil {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		return 1
	}
	if err != nil {
		log.Printf("Run ended early: %v", err)
	}

	printSummary(summary)
	if len(summary.Skipped) > 0 || len(summary.Blocked) > 0 || err != nil {
		return 1
	}
	return 0
}

// executeRun wires the collaborators and supervises the runner alongside its
// event consumer (console reporter or TUI).
func executeRun(ctx context.Context, cfg *config.Config, opts options, g *graph.Graph, store ticket.Store, pm *agent.ProcessManager, runID, parentID, planText string) (*scheduler.Summary, error) {
	workspaces := workspace.NewManager(workspace.ManagerConfig{
		RepoPath:     opts.repoPath,
		BaseBranch:   cfg.BaseBranch,
		WorkspaceDir: cfg.WorkspaceDir,
	})

	dispatcher := dispatch.NewDispatcher()
	for rawLabel, strategyCfg := range cfg.Strategies {
		label, err := graph.ParseLabel(rawLabel)
		if err != nil {
			return nil, fmt.Errorf("config strategy: %w", err)
		}
		dispatcher.Register(label, agent.NewCLIStrategy(strategyCfg, pm))
	}

	checkNames := make([]string, 0, len(cfg.Checks))
	checkCommands := make(map[string]gate.Command, len(cfg.Checks))
	for _, check := range cfg.Checks {
		checkNames = append(checkNames, check.Name)
		checkCommands[check.Name] = gate.Command{Command: check.Command, Args: check.Args}
	}
	verifier := scheduler.VerifierFunc(func(ctx context.Context, workDir string) gate.VerificationResult {
		runner := &gate.ExecCheckRunner{WorkDir: workDir, Commands: checkCommands}
		return gate.NewVerificationGate(checkNames, runner).Run(ctx)
	})

	judge := agent.NewCLIJudge(cfg.Reviewer, opts.repoPath, pm)
	reviewer := gate.NewReviewGate(judge)
	sync := ticket.NewSynchronizer(store, ticket.DefaultRetryConfig())

	bus := events.NewBus()
	runner := scheduler.NewRunner(scheduler.Config{
		RunID:              runID,
		ParentID:           parentID,
		PlanText:           planText,
		MaxRetries:         cfg.MaxRetries,
		IntegrateOnSuccess: cfg.IntegrateOnSuccess,
		DiscardOnAbort:     opts.discardOnAbort,
	}, g, workspaces, dispatcher, verifier, reviewer, sync, bus)

	group, gctx := errgroup.WithContext(ctx)

	var summary *scheduler.Summary
	var runErr error
	group.Go(func() error {
		defer bus.Close()
		summary, runErr = runner.Run(gctx)
		// The summary carries the failure; don't cancel the consumer early.
		return nil
	})

	if opts.useTUI {
		program := tea.NewProgram(tui.New(bus, runID, g.Tasks()), tea.WithAltScreen())
		group.Go(func() error {
			_, err := program.Run()
			return err
		})
	} else {
		sub := bus.Subscribe(256)
		group.Go(func() error {
			reportEvents(sub)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		log.Printf("ERROR: event consumer: %v", err)
	}
	return summary, runErr
}

// reportEvents is the plain console reporter used when the TUI is off.
func reportEvents(sub <-chan events.Event) {
	for event := range sub {
		switch e := event.(type) {
		case events.TaskStartedEvent:
			log.Printf("[%s] %s (attempt %d)", e.ID, e.Title, e.Attempt)
		case events.TaskCompletedEvent:
			log.Printf("[%s] completed in %s", e.ID, e.Duration.Round(time.Millisecond))
		case events.TaskFailedEvent:
			log.Printf("[%s] attempt %d failed: %s", e.ID, e.Attempt, e.Reason)
		case events.TaskSkippedEvent:
			log.Printf("[%s] skipped after %d attempts", e.ID, e.Attempts)
		case events.TaskBlockedEvent:
			log.Printf("[%s] blocked: %s", e.ID, e.Reason)
		}
	}
}

// importPlan seeds the ticket store from a plan file. Re-importing the same
// plan is idempotent.
func importPlan(ctx context.Context, store *ticket.SQLiteStore, path string) (*ticket.Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening plan: %w", err)
	}
	defer f.Close()

	plan, err := ticket.ParsePlan(f)
	if err != nil {
		return nil, err
	}
	for _, rec := range plan.Records() {
		if err := store.CreateTask(ctx, rec); err != nil {
			return nil, fmt.Errorf("seeding ticket %s: %w", rec.ID, err)
		}
	}
	return plan, nil
}

func loadConfig(opts options) (*config.Config, error) {
	if opts.configPath != "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		return config.Load(filepath.Join(homeDir, ".foreman", "config.json"), opts.configPath)
	}
	return config.LoadDefault()
}

func printSummary(summary *scheduler.Summary) {
	fmt.Println()
	fmt.Println(tui.StyleTitle.Render("Run summary"))

	for _, id := range summary.Completed {
		fmt.Printf("  %s %s\n", tui.StyleStatusCompleted.Render("✓"), id)
	}
	for _, outcome := range summary.Skipped {
		fmt.Printf("  %s %s: %s\n", tui.StyleStatusSkipped.Render("⊘"), outcome.ID, outcome.Reason)
	}
	for _, outcome := range summary.Blocked {
		fmt.Printf("  %s %s: %s\n", tui.StyleStatusBlocked.Render("⊗"), outcome.ID, outcome.Reason)
	}

	if summary.FinalReview != nil && !summary.FinalReview.Passed {
		fmt.Printf("  %s final review failed: %s\n", tui.StyleStatusFailed.Render("✗"), summary.FinalReview.Detail)
	}
	if summary.Integrated {
		fmt.Printf("  %s workspace integrated into base branch\n", tui.StyleStatusCompleted.Render("✓"))
	}

	if len(summary.Discrepancies) > 0 {
		fmt.Println(tui.StyleStatusFailed.Render("  Ticket store discrepancies (reconcile by hand):"))
		for _, d := range summary.Discrepancies {
			fmt.Printf("    %s should be %s: %v\n", d.TaskID, d.Status, d.Err)
		}
	}
}
