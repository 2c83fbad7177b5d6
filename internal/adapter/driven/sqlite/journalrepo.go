package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RunJournal = (*JournalRepo)(nil)

// ErrRunNotFound is returned by FinishRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

const observeTimeout = 2 * time.Second

// JournalRepo is the SQLite implementation of the RunJournal port. Events
// observed while a run is open are attributed to that run.
type JournalRepo struct {
	db     *DB
	logger *slog.Logger

	mu    sync.RWMutex
	runID string
}

// NewJournalRepo creates a new JournalRepo backed by the given DB.
func NewJournalRepo(db *DB, logger *slog.Logger) *JournalRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &JournalRepo{db: db, logger: logger}
}

// StartRun inserts a new run and makes it current.
func (r *JournalRepo) StartRun(ctx context.Context, command string) (string, error) {
	id := uuid.NewString()

	const query = `INSERT INTO runs (id, command, started_at) VALUES (?, ?, ?)`
	_, err := r.db.Writer.ExecContext(ctx, query, id, command, formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("start run %s: %w", command, err)
	}

	r.mu.Lock()
	r.runID = id
	r.mu.Unlock()

	return id, nil
}

// FinishRun records the final counters of a run and closes it.
func (r *JournalRepo) FinishRun(ctx context.Context, summary model.RunSummary) error {
	finished := summary.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}

	const query = `UPDATE runs
		SET finished_at = ?, resolved = ?, already_member = ?, unresolved = ?, added = ?, error = ?
		WHERE id = ?`
	result, err := r.db.Writer.ExecContext(ctx, query,
		formatTime(finished),
		summary.Resolved,
		summary.AlreadyMember,
		summary.Unresolved,
		summary.Added,
		summary.Error,
		summary.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", summary.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("finish run %s: %w", summary.ID, ErrRunNotFound)
	}

	r.mu.Lock()
	if r.runID == summary.ID {
		r.runID = ""
	}
	r.mu.Unlock()

	return nil
}

// Observe stores ev under the current run. Events outside a run are dropped.
// Storage failures are logged, never returned, so diagnostics cannot break
// the request path.
func (r *JournalRepo) Observe(ev model.TransportEvent) {
	r.mu.RLock()
	runID := r.runID
	r.mu.RUnlock()
	if runID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), observeTimeout)
	defer cancel()

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	const query = `INSERT INTO transport_events
		(run_id, at, kind, method, endpoint, attempt, status, wait_ms, reason, remaining, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.Writer.ExecContext(ctx, query,
		runID,
		formatTime(at),
		string(ev.Kind),
		ev.Method,
		ev.Endpoint,
		ev.Attempt,
		ev.Status,
		ev.Wait.Milliseconds(),
		string(ev.Reason),
		ev.Remaining,
		ev.Outcome,
		ev.Err,
	)
	if err != nil {
		r.logger.Warn("journal event not recorded", "run_id", runID, "kind", ev.Kind, "error", err)
	}
}

// LatestRun returns the most recently started run. Returns nil, nil if the
// journal is empty.
func (r *JournalRepo) LatestRun(ctx context.Context) (*model.RunSummary, error) {
	const query = `SELECT id, command, started_at, finished_at, resolved, already_member, unresolved, added, error
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`

	run, err := scanRun(r.db.Reader.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest run: %w", err)
	}
	return run, nil
}

// Events returns the events of runID in the order they were observed.
func (r *JournalRepo) Events(ctx context.Context, runID string) ([]model.TransportEvent, error) {
	const query = `SELECT at, kind, method, endpoint, attempt, status, wait_ms, reason, remaining, outcome, error
		FROM transport_events WHERE run_id = ? ORDER BY seq`

	rows, err := r.db.Reader.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list events for run %s: %w", runID, err)
	}
	defer rows.Close()

	var events []model.TransportEvent
	for rows.Next() {
		var (
			ev     model.TransportEvent
			at     string
			kind   string
			reason string
			waitMS int64
		)
		if err := rows.Scan(&at, &kind, &ev.Method, &ev.Endpoint, &ev.Attempt, &ev.Status, &waitMS, &reason, &ev.Remaining, &ev.Outcome, &ev.Err); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.At, err = parseTime(at)
		if err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		ev.Kind = model.EventKind(kind)
		ev.Reason = model.WaitReason(reason)
		ev.Wait = time.Duration(waitMS) * time.Millisecond
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	if events == nil {
		events = []model.TransportEvent{}
	}
	return events, nil
}

// PruneRuns deletes all but the keep most recent runs and their events.
func (r *JournalRepo) PruneRuns(ctx context.Context, keep int) error {
	const query = `DELETE FROM runs WHERE id NOT IN (
		SELECT id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?)`
	if _, err := r.db.Writer.ExecContext(ctx, query, keep); err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.RunSummary, error) {
	var (
		run      model.RunSummary
		started  string
		finished sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Command, &started, &finished,
		&run.Resolved, &run.AlreadyMember, &run.Unresolved, &run.Added, &run.Error); err != nil {
		return nil, err
	}

	var err error
	run.StartedAt, err = parseTime(started)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if finished.Valid {
		run.FinishedAt, err = parseTime(finished.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
	}
	return &run, nil
}

// timeLayout has a fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime accepts the formats SQLite and formatTime produce.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %q", s)
}
