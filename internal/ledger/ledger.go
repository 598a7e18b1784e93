// Package ledger is the durable processing-state store for the pipeline.
// Every unit of work is tracked as a single row keyed by a deterministic id,
// so interrupted runs can resume without redoing completed work.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Ledger tracks work-item status in a single SQLite file.
// Single-writer: one process opens the file for its lifetime.
type Ledger struct {
	db     *sql.DB
	logger *zap.Logger
}

// Update carries the optional fields of a status transition.
type Update struct {
	// OutputPath records the artifact location; only written when non-empty.
	OutputPath string
	// ErrorMessage records why the item failed; only written when non-empty.
	ErrorMessage string
	// IncrementAttempt bumps the attempt counter and attempt timestamp.
	IncrementAttempt bool
}

// Summary is the per-status breakdown returned by Summary.
type Summary struct {
	Counts map[Status]int
	Total  int
}

// CompletedItem pairs a finished work item with its artifact path.
type CompletedItem struct {
	ID         string
	OutputPath string
}

// Open opens (creating if necessary) the ledger database at path.
func Open(path string, logger *zap.Logger) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	// Single connection keeps writes serialized.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	l := &Ledger{db: db, logger: logger}
	if err := l.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("ledger opened", zap.String("path", path))
	return l, nil
}

// initialize creates the schema idempotently.
func (l *Ledger) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS work_items (
		id TEXT PRIMARY KEY,
		stage TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		output_path TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_attempt_at REAL,
		error_message TEXT,
		created_at REAL NOT NULL,
		updated_at REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items (status);
	CREATE INDEX IF NOT EXISTS idx_work_items_stage ON work_items (stage);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return nil
}

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// UpsertPending inserts a new pending work item. Calling it again for an
// existing id is a no-op; the stored status is never reset.
func (l *Ledger) UpsertPending(id string, stage Stage) error {
	if !stage.Valid() {
		return fmt.Errorf("invalid stage: %q", stage)
	}
	ts := now()
	res, err := l.db.Exec(`
		INSERT OR IGNORE INTO work_items (id, stage, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, string(stage), string(StatusPending), ts, ts)
	if err != nil {
		return fmt.Errorf("failed to upsert work item %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		l.logger.Debug("work item registered", zap.String("id", id), zap.String("stage", stage.String()))
	}
	return nil
}

// GetStatus returns the current status of id. ok is false when the item is
// not in the ledger.
func (l *Ledger) GetStatus(id string) (status Status, ok bool, err error) {
	var raw string
	err = l.db.QueryRow(`SELECT status FROM work_items WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read status for %s: %w", id, err)
	}
	st, perr := ParseStatus(raw)
	if perr != nil {
		return "", false, perr
	}
	return st, true, nil
}

// SetStatus atomically transitions id to status. A failed transition leaves
// the previous row intact; there is no partially applied state. Completing an
// item clears any stale error message.
func (l *Ledger) SetStatus(id string, status Status, upd Update) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status: %q", status)
	}
	ts := now()

	query := `UPDATE work_items SET status = ?, updated_at = ?`
	args := []interface{}{string(status), ts}

	if upd.OutputPath != "" {
		query += `, output_path = ?`
		args = append(args, upd.OutputPath)
	}
	switch {
	case upd.ErrorMessage != "":
		query += `, error_message = ?`
		args = append(args, upd.ErrorMessage)
	case status == StatusComplete:
		query += `, error_message = NULL`
	}
	if upd.IncrementAttempt {
		query += `, attempts = attempts + 1, last_attempt_at = ?`
		args = append(args, ts)
	}

	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := l.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update status for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("work item not found: %s", id)
	}

	l.logger.Debug("work item status updated",
		zap.String("id", id),
		zap.String("status", status.String()),
		zap.Bool("attempt_incremented", upd.IncrementAttempt))
	return nil
}

// MarkInProgress transitions id to in_progress, counting an attempt.
func (l *Ledger) MarkInProgress(id string) error {
	return l.SetStatus(id, StatusInProgress, Update{IncrementAttempt: true})
}

// MarkComplete transitions id to complete with its artifact path.
func (l *Ledger) MarkComplete(id, outputPath string) error {
	return l.SetStatus(id, StatusComplete, Update{OutputPath: outputPath})
}

// MarkFailed transitions id to failed with a descriptive message.
func (l *Ledger) MarkFailed(id, errMsg string) error {
	return l.SetStatus(id, StatusFailed, Update{ErrorMessage: errMsg})
}

// GetOutputPath returns the recorded artifact path for id. ok is false when
// the item is absent or no path has been recorded yet.
func (l *Ledger) GetOutputPath(id string) (path string, ok bool, err error) {
	var stored sql.NullString
	err = l.db.QueryRow(`SELECT output_path FROM work_items WHERE id = ?`, id).Scan(&stored)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read output path for %s: %w", id, err)
	}
	if !stored.Valid {
		return "", false, nil
	}
	return stored.String, true, nil
}

// GetErrorMessage returns the stored failure message for id, if any.
func (l *Ledger) GetErrorMessage(id string) (string, error) {
	var stored sql.NullString
	err := l.db.QueryRow(`SELECT error_message FROM work_items WHERE id = ?`, id).Scan(&stored)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read error message for %s: %w", id, err)
	}
	return stored.String, nil
}

// GetAttempts returns the attempt counter for id.
func (l *Ledger) GetAttempts(id string) (int, error) {
	var attempts int
	err := l.db.QueryRow(`SELECT attempts FROM work_items WHERE id = ?`, id).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read attempts for %s: %w", id, err)
	}
	return attempts, nil
}

// QueryPending lists pending work item ids, oldest first. A zero stage means
// all stages; a zero limit means no limit.
func (l *Ledger) QueryPending(stage Stage, limit int) ([]string, error) {
	query := `SELECT id FROM work_items WHERE status = ?`
	args := []interface{}{string(StatusPending)}
	if stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(stage))
	}
	query += ` ORDER BY created_at`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return l.queryIDs(query, args)
}

// QueryRetryable lists failed work items still under the attempt cap,
// least-recently-attempted first.
func (l *Ledger) QueryRetryable(stage Stage, maxAttempts, limit int) ([]string, error) {
	query := `SELECT id FROM work_items WHERE status = ? AND attempts < ?`
	args := []interface{}{string(StatusFailed), maxAttempts}
	if stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(stage))
	}
	query += ` ORDER BY last_attempt_at`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return l.queryIDs(query, args)
}

// QueryCompleted lists completed items for a stage with their artifact
// paths, oldest first. The next stage consumes these as its input set.
func (l *Ledger) QueryCompleted(stage Stage) ([]CompletedItem, error) {
	rows, err := l.db.Query(`
		SELECT id, output_path FROM work_items
		WHERE stage = ? AND status = ?
		ORDER BY created_at`,
		string(stage), string(StatusComplete))
	if err != nil {
		return nil, fmt.Errorf("failed to query completed items: %w", err)
	}
	defer rows.Close()

	var items []CompletedItem
	for rows.Next() {
		var item CompletedItem
		var path sql.NullString
		if err := rows.Scan(&item.ID, &path); err != nil {
			return nil, fmt.Errorf("failed to scan completed item: %w", err)
		}
		item.OutputPath = path.String
		items = append(items, item)
	}
	return items, rows.Err()
}

func (l *Ledger) queryIDs(query string, args []interface{}) ([]string, error) {
	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger query failed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan work item id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetSummary counts work items per status. A zero stage covers all stages.
func (l *Ledger) GetSummary(stage Stage) (*Summary, error) {
	summary := &Summary{Counts: make(map[Status]int, len(Statuses))}
	for _, st := range Statuses {
		summary.Counts[st] = 0
	}

	query := `SELECT status, COUNT(*) FROM work_items`
	var args []interface{}
	if stage != "" {
		query += ` WHERE stage = ?`
		args = append(args, string(stage))
	}
	query += ` GROUP BY status`

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		var count int
		if err := rows.Scan(&raw, &count); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		if st, err := ParseStatus(raw); err == nil {
			summary.Counts[st] = count
		}
		summary.Total += count
	}
	return summary, rows.Err()
}

// ResetStage deletes all rows for one stage. Administrative use only.
func (l *Ledger) ResetStage(stage Stage) (int64, error) {
	res, err := l.db.Exec(`DELETE FROM work_items WHERE stage = ?`, string(stage))
	if err != nil {
		return 0, fmt.Errorf("failed to reset stage %s: %w", stage, err)
	}
	n, _ := res.RowsAffected()
	l.logger.Info("ledger stage reset", zap.String("stage", stage.String()), zap.Int64("rows", n))
	return n, nil
}

// ResetAll deletes every row. Administrative use only.
func (l *Ledger) ResetAll() (int64, error) {
	res, err := l.db.Exec(`DELETE FROM work_items`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset ledger: %w", err)
	}
	n, _ := res.RowsAffected()
	l.logger.Info("ledger reset", zap.Int64("rows", n))
	return n, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}
