package ticket

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/foreman/internal/graph"
)

// RetryConfig configures exponential backoff for ticket-store writes.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 2s)
	MaxElapsedTime      time.Duration // Maximum total retry time per write (default 10s)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default write retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// Discrepancy records a status transition that could not be written through
// to the ticket store. Surfaced in the final summary so the operator can
// reconcile by hand.
type Discrepancy struct {
	TaskID string
	Status graph.Status
	Err    error
}

// Synchronizer is the state synchronizer: it writes every task status
// transition through to the ticket store, synchronously, before the
// scheduler moves on. The store is treated as a potentially slow,
// potentially failing network service, so writes go through exponential
// backoff and a circuit breaker; a write that still fails is recorded as a
// discrepancy and re-attempted opportunistically on the task's next
// transition, never rolling back the in-memory state.
type Synchronizer struct {
	store   Store
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig

	mu           sync.Mutex
	unsynced     map[string]Discrepancy // taskID -> last failed write
	pendingNotes map[string][]string    // taskID -> notes not yet delivered
}

// NewSynchronizer creates a synchronizer over the given ticket store.
func NewSynchronizer(store Store, retry RetryConfig) *Synchronizer {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ticket-store",
		MaxRequests: 3,                // Test requests allowed in half-open state
		Timeout:     30 * time.Second, // Stay open before testing recovery
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Operator cancellation is not a store failure
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})

	return &Synchronizer{
		store:        store,
		breaker:      breaker,
		retry:        retry,
		unsynced:     make(map[string]Discrepancy),
		pendingNotes: make(map[string][]string),
	}
}

// LoadStatuses returns the persisted status of every child task of the
// parent ticket. Called once before scheduling so a restarted run skips
// finished work.
func (s *Synchronizer) LoadStatuses(ctx context.Context, parentID string) (map[string]graph.Status, error) {
	records, err := s.store.GetChildTasks(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("loading persisted statuses: %w", err)
	}

	statuses := make(map[string]graph.Status, len(records))
	for _, rec := range records {
		statuses[rec.ID] = rec.Status
	}
	return statuses, nil
}

// Persist writes a task's current status through to the ticket store, plus a
// note when the task reached a terminal non-completed state. A failed write
// is logged and recorded, not fatal: the scheduler continues optimistically
// and the write is retried on the task's next transition.
func (s *Synchronizer) Persist(ctx context.Context, task *graph.Task) error {
	// Queue the triage note first so it is delivered even if this write fails
	if task.Reason != "" && (task.Status == graph.StatusSkipped || task.Status == graph.StatusBlocked) {
		s.queueNote(task.ID, fmt.Sprintf("foreman: %s after %d attempt(s): %s", task.Status, task.RetryCount, task.Reason))
	}

	if err := s.writeWithRetry(ctx, task.ID, task.Status); err != nil {
		s.mu.Lock()
		s.unsynced[task.ID] = Discrepancy{TaskID: task.ID, Status: task.Status, Err: err}
		s.mu.Unlock()
		log.Printf("WARNING: failed to persist status %s for task %q: %v", task.Status, task.ID, err)
		return err
	}

	// The newest status supersedes any earlier failed write for this task
	s.mu.Lock()
	delete(s.unsynced, task.ID)
	notes := s.pendingNotes[task.ID]
	delete(s.pendingNotes, task.ID)
	s.mu.Unlock()

	for _, note := range notes {
		if err := s.store.AppendNote(ctx, task.ID, note); err != nil {
			log.Printf("WARNING: failed to append note to task %q: %v", task.ID, err)
			s.queueNote(task.ID, note)
		}
	}

	return nil
}

// Discrepancies returns the status writes that never reached the store,
// in no particular order.
func (s *Synchronizer) Discrepancies() []Discrepancy {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Discrepancy, 0, len(s.unsynced))
	for _, d := range s.unsynced {
		out = append(out, d)
	}
	return out
}

func (s *Synchronizer) queueNote(taskID, note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingNotes[taskID] = append(s.pendingNotes[taskID], note)
}

// writeWithRetry performs the status write with exponential backoff and
// circuit breaker protection.
func (s *Synchronizer) writeWithRetry(ctx context.Context, taskID string, status graph.Status) error {
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, s.store.UpdateStatus(ctx, taskID, status)
		})
		if err != nil {
			// Circuit open - stop hammering the store
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retry.InitialInterval
	policy.MaxInterval = s.retry.MaxInterval
	policy.MaxElapsedTime = s.retry.MaxElapsedTime
	policy.Multiplier = s.retry.Multiplier
	policy.RandomizationFactor = s.retry.RandomizationFactor

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}
