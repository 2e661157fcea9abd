package ticket

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aristath/foreman/internal/graph"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed ticket store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and
// a busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite ignores _foreign_keys in the connection string
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// One connection for primary queries, one for dependency subqueries
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewMemoryStore creates an in-memory SQLite ticket store for testing.
// Uses a shared cache so multiple connections see the same database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tickets (
		id TEXT PRIMARY KEY,
		parent_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		label TEXT NOT NULL,
		status INTEGER NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0,
		seq INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_tickets_parent ON tickets(parent_id, seq);

	CREATE TABLE IF NOT EXISTS ticket_dependencies (
		ticket_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (ticket_id, depends_on_id),
		FOREIGN KEY (ticket_id) REFERENCES tickets(id) ON DELETE CASCADE,
		FOREIGN KEY (depends_on_id) REFERENCES tickets(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS ticket_notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticket_id TEXT NOT NULL,
		note TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (ticket_id) REFERENCES tickets(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_ticket_notes_ticket ON ticket_notes(ticket_id, created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateTask inserts a ticket with its dependencies. Used to seed a run;
// uses ON CONFLICT so re-seeding is idempotent. Dependencies must already
// exist, so seed in creation order.
func (s *SQLiteStore) CreateTask(ctx context.Context, rec TaskRecord) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tickets WHERE parent_id = ?`, rec.ParentID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("failed to count siblings: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tickets (id, parent_id, title, description, label, status, retry_count, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			label = excluded.label,
			updated_at = CURRENT_TIMESTAMP
	`, rec.ID, rec.ParentID, rec.Title, rec.Description, rec.Label, rec.Status, rec.RetryCount, seq)
	if err != nil {
		return fmt.Errorf("failed to upsert ticket: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM ticket_dependencies WHERE ticket_id = ?`, rec.ID,
	); err != nil {
		return fmt.Errorf("failed to delete old dependencies: %w", err)
	}

	for _, depID := range rec.DependsOn {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM tickets WHERE id = ?`, depID).Scan(&exists)
		if err == sql.ErrNoRows {
			return fmt.Errorf("dependency ticket %s does not exist", depID)
		}
		if err != nil {
			return fmt.Errorf("failed to check dependency existence: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ticket_dependencies (ticket_id, depends_on_id)
			VALUES (?, ?)
		`, rec.ID, depID); err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", rec.ID, depID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetChildTasks returns all child tickets of a parent in creation order.
func (s *SQLiteStore) GetChildTasks(ctx context.Context, parentID string) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, title, description, label, status, retry_count
		FROM tickets
		WHERE parent_id = ?
		ORDER BY seq
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var description sql.NullString
		if err := rows.Scan(&rec.ID, &rec.ParentID, &rec.Title, &description, &rec.Label, &rec.Status, &rec.RetryCount); err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		rec.Description = description.String

		depRows, err := s.db.QueryContext(ctx, `
			SELECT depends_on_id
			FROM ticket_dependencies
			WHERE ticket_id = ?
		`, rec.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to query dependencies for ticket %s: %w", rec.ID, err)
		}

		for depRows.Next() {
			var depID string
			if err := depRows.Scan(&depID); err != nil {
				depRows.Close()
				return nil, fmt.Errorf("failed to scan dependency: %w", err)
			}
			rec.DependsOn = append(rec.DependsOn, depID)
		}
		depRows.Close()
		if err := depRows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating dependencies: %w", err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickets: %w", err)
	}

	return records, nil
}

// UpdateStatus writes a ticket's status.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, taskID string, status graph.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickets
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, taskID)
	if err != nil {
		return fmt.Errorf("failed to update ticket status: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("ticket not found: %s", taskID)
	}
	return nil
}

// AppendNote attaches a free-text note to a ticket.
func (s *SQLiteStore) AppendNote(ctx context.Context, taskID, note string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ticket_notes (ticket_id, note)
		VALUES (?, ?)
	`, taskID, note)
	if err != nil {
		return fmt.Errorf("failed to append note: %w", err)
	}
	return nil
}

// Notes returns all notes for a ticket in append order.
func (s *SQLiteStore) Notes(ctx context.Context, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT note
		FROM ticket_notes
		WHERE ticket_id = ?
		ORDER BY id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	var notes []string
	for rows.Next() {
		var note string
		if err := rows.Scan(&note); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}
	return notes, nil
}
