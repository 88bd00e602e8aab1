// Package registry records ingestion runs in a SQLite database.
//
// Every successful load of a repository is a Run: where it came from, the
// collection it was indexed into and the workspace that still holds its
// checkout. Runs whose workspace has been deleted are marked removed rather
// than forgotten, so the history survives cleanup.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fyrsmithlabs/repochat/internal/registry/migrations"
)

// DefaultPath is used when Open is given an empty path.
const DefaultPath = "data/registry.db"

// ErrNotFound is returned when no run matches.
var ErrNotFound = errors.New("run not found")

// Run is one ingestion of a repository.
type Run struct {
	ID            string     `json:"id"`
	URL           string     `json:"url"`
	Collection    string     `json:"collection"`
	WorkspacePath string     `json:"workspace_path"`
	Revision      string     `json:"revision,omitempty"`
	Files         int        `json:"files"`
	Chunks        int        `json:"chunks"`
	Redacted      int        `json:"redacted"`
	CreatedAt     time.Time  `json:"created_at"`
	RemovedAt     *time.Time `json:"removed_at,omitempty"`
}

// Removed reports whether the run's workspace has been deleted.
func (r Run) Removed() bool {
	return r.RemovedAt != nil
}

// Registry stores runs. It is safe for concurrent use.
type Registry struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens or creates the database at path and applies pending
// migrations.
func Open(path string) (*Registry, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating registry directory: %w", err)
	}

	// WAL lets the HTTP server read while a load is being recorded
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening registry: %w", err)
	}

	r := &Registry{db: db, path: path, now: time.Now}
	if err := r.migrate(migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return r, nil
}

// Close closes the database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Path returns the database file path.
func (r *Registry) Path() string {
	return r.path
}

func (r *Registry) migrate(fsys fs.FS) error {
	if _, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := r.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := r.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := r.db.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", version, r.now().UnixNano()); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// Record stores run, assigning an ID and creation time when unset.
func (r *Registry) Record(ctx context.Context, run Run) (Run, error) {
	if run.URL == "" || run.Collection == "" {
		return Run{}, errors.New("registry: run needs a url and a collection")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = r.now()
	}
	run.CreatedAt = run.CreatedAt.UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, url, collection, workspace_path, revision, files, chunks, redacted, created_at, removed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.URL, run.Collection, run.WorkspacePath, run.Revision,
		run.Files, run.Chunks, run.Redacted, run.CreatedAt.UnixNano(), nullableTime(run.RemovedAt),
	)
	if err != nil {
		return Run{}, fmt.Errorf("recording run: %w", err)
	}
	return run, nil
}

// Get returns the run with id.
func (r *Registry) Get(ctx context.Context, id string) (Run, error) {
	row := r.db.QueryRowContext(ctx, selectRuns+" WHERE id = ?", id)
	return scanOne(row)
}

// Latest returns the most recent run of url.
func (r *Registry) Latest(ctx context.Context, url string) (Run, error) {
	row := r.db.QueryRowContext(ctx, selectRuns+" WHERE url = ? ORDER BY created_at DESC, rowid DESC LIMIT 1", url)
	return scanOne(row)
}

// List returns up to limit runs, newest first. A non-positive limit
// returns all of them.
func (r *Registry) List(ctx context.Context, limit int) ([]Run, error) {
	query := selectRuns + " ORDER BY created_at DESC, rowid DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.query(ctx, query, args...)
}

// Active returns runs whose workspace has not been removed, oldest first.
func (r *Registry) Active(ctx context.Context) ([]Run, error) {
	return r.query(ctx, selectRuns+" WHERE removed_at IS NULL ORDER BY created_at, rowid")
}

// MarkRemoved records that the run's workspace is gone. Marking an
// already removed run keeps the first timestamp.
func (r *Registry) MarkRemoved(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE runs SET removed_at = COALESCE(removed_at, ?) WHERE id = ?",
		r.now().UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("marking run removed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking run removed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

const selectRuns = `SELECT id, url, collection, workspace_path, revision, files, chunks, redacted, created_at, removed_at FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run     Run
		created int64
		removed sql.NullInt64
	)
	err := s.Scan(&run.ID, &run.URL, &run.Collection, &run.WorkspacePath, &run.Revision,
		&run.Files, &run.Chunks, &run.Redacted, &created, &removed)
	if err != nil {
		return Run{}, err
	}
	run.CreatedAt = time.Unix(0, created).UTC()
	if removed.Valid {
		t := time.Unix(0, removed.Int64).UTC()
		run.RemovedAt = &t
	}
	return run, nil
}

func scanOne(row *sql.Row) (Run, error) {
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("reading run: %w", err)
	}
	return run, nil
}

func (r *Registry) query(ctx context.Context, query string, args ...any) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("reading run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixNano()
}
