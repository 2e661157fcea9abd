package ticket

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aristath/foreman/internal/graph"
)

// newTestStore creates a file-backed store in a temp dir so tests stay
// isolated from each other.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "tickets.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// seedRun inserts a parent's child tickets in the given order.
func seedRun(t *testing.T, store *SQLiteStore, parentID string, recs []TaskRecord) {
	t.Helper()

	ctx := context.Background()
	for _, rec := range recs {
		rec.ParentID = parentID
		if err := store.CreateTask(ctx, rec); err != nil {
			t.Fatalf("CreateTask(%s) failed: %v", rec.ID, err)
		}
	}
}

func TestGetChildTasksCreationOrder(t *testing.T) {
	store := newTestStore(t)
	seedRun(t, store, "RUN-1", []TaskRecord{
		{ID: "T-2", Title: "second created first", Label: "Chore"},
		{ID: "T-1", Title: "first created second", Label: "Feature"},
		{ID: "T-3", Title: "third", Label: "Bugfix", DependsOn: []string{"T-2", "T-1"}},
	})

	records, err := store.GetChildTasks(context.Background(), "RUN-1")
	if err != nil {
		t.Fatalf("GetChildTasks failed: %v", err)
	}

	want := []string{"T-2", "T-1", "T-3"}
	if len(records) != len(want) {
		t.Fatalf("got %d records, want %d", len(records), len(want))
	}
	for i, rec := range records {
		if rec.ID != want[i] {
			t.Errorf("record[%d].ID = %q, want %q (creation order)", i, rec.ID, want[i])
		}
	}

	if len(records[2].DependsOn) != 2 {
		t.Errorf("T-3 dependencies = %v, want [T-2 T-1]", records[2].DependsOn)
	}
}

func TestGetChildTasksScopedToParent(t *testing.T) {
	store := newTestStore(t)
	seedRun(t, store, "RUN-A", []TaskRecord{{ID: "A-1", Title: "a", Label: "Chore"}})
	seedRun(t, store, "RUN-B", []TaskRecord{{ID: "B-1", Title: "b", Label: "Chore"}})

	records, err := store.GetChildTasks(context.Background(), "RUN-A")
	if err != nil {
		t.Fatalf("GetChildTasks failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != "A-1" {
		t.Errorf("GetChildTasks(RUN-A) = %v, want only A-1", records)
	}
}

func TestCreateTaskMissingDependency(t *testing.T) {
	store := newTestStore(t)

	err := store.CreateTask(context.Background(), TaskRecord{
		ID: "T-1", ParentID: "RUN-1", Title: "t", Label: "Chore",
		DependsOn: []string{"missing"},
	})
	if err == nil {
		t.Fatal("CreateTask with missing dependency succeeded, want error")
	}
}

func TestUpdateStatusRoundTrip(t *testing.T) {
	store := newTestStore(t)
	seedRun(t, store, "RUN-1", []TaskRecord{{ID: "T-1", Title: "t", Label: "Feature"}})

	ctx := context.Background()
	if err := store.UpdateStatus(ctx, "T-1", graph.StatusCompleted); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	records, err := store.GetChildTasks(ctx, "RUN-1")
	if err != nil {
		t.Fatalf("GetChildTasks failed: %v", err)
	}
	if records[0].Status != graph.StatusCompleted {
		t.Errorf("status = %s, want completed", records[0].Status)
	}
}

func TestUpdateStatusUnknownTicket(t *testing.T) {
	store := newTestStore(t)

	if err := store.UpdateStatus(context.Background(), "nope", graph.StatusRunning); err == nil {
		t.Fatal("UpdateStatus on unknown ticket succeeded, want error")
	}
}

func TestAppendNote(t *testing.T) {
	store := newTestStore(t)
	seedRun(t, store, "RUN-1", []TaskRecord{{ID: "T-1", Title: "t", Label: "Bugfix"}})

	ctx := context.Background()
	if err := store.AppendNote(ctx, "T-1", "skipped after 3 attempts"); err != nil {
		t.Fatalf("AppendNote failed: %v", err)
	}
	if err := store.AppendNote(ctx, "T-1", "operator follow-up"); err != nil {
		t.Fatalf("AppendNote failed: %v", err)
	}

	notes, err := store.Notes(ctx, "T-1")
	if err != nil {
		t.Fatalf("Notes failed: %v", err)
	}
	if len(notes) != 2 || notes[0] != "skipped after 3 attempts" {
		t.Errorf("Notes = %v, want append order preserved", notes)
	}
}

func TestMemoryStore(t *testing.T) {
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("NewMemoryStore failed: %v", err)
	}
	defer store.Close()

	seedRun(t, store, "RUN-MEM", []TaskRecord{{ID: "MEM-1", Title: "t", Label: "Chore"}})
	records, err := store.GetChildTasks(context.Background(), "RUN-MEM")
	if err != nil {
		t.Fatalf("GetChildTasks failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
}
