package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Counters are the pipeline totals recorded for a run.
type Counters struct {
	Frames   int64 `json:"frames"`
	Hands    int64 `json:"hands"`
	Messages int64 `json:"messages"`
	Skipped  int64 `json:"skipped"`
	Resets   int64 `json:"resets"`
}

// Run is the record of one tracking session: how it was configured, how far
// it got and why it ended. Positions are never stored.
type Run struct {
	ID         string
	Mode       string
	Layout     string
	Transport  string
	Address    string
	Config     json.RawMessage
	Counters   Counters
	ExitReason string
	StartedAt  time.Time
	EndedAt    *time.Time
}

// Active reports whether the run has not finished.
func (r *Run) Active() bool {
	return r.EndedAt == nil
}

// Checkpoint is a snapshot of a run's counters.
type Checkpoint struct {
	ID         int64
	RunID      string
	Counters   Counters
	RecordedAt time.Time
}

// RunRepository provides operations on run records.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

const runColumns = `id, mode, layout, transport, address, config,
	frames, hands, messages, skipped, resets, exit_reason, started_at, ended_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	r := &Run{}
	var config string
	var ended sql.NullTime

	err := row.Scan(&r.ID, &r.Mode, &r.Layout, &r.Transport, &r.Address, &config,
		&r.Counters.Frames, &r.Counters.Hands, &r.Counters.Messages, &r.Counters.Skipped, &r.Counters.Resets,
		&r.ExitReason, &r.StartedAt, &ended)
	if err != nil {
		return nil, err
	}

	r.Config = json.RawMessage(config)
	if ended.Valid {
		t := ended.Time
		r.EndedAt = &t
	}
	return r, nil
}

// Create inserts a new run. A missing ID is generated.
func (r *RunRepository) Create(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	run.StartedAt = time.Now()

	config := run.Config
	if config == nil {
		config = json.RawMessage("{}")
	}

	_, err := r.db.Exec(
		`INSERT INTO runs (id, mode, layout, transport, address, config, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Mode, run.Layout, run.Transport, run.Address, string(config), run.StartedAt,
	)
	return err
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	run, err := scanRun(r.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

// List retrieves the most recent runs, newest first. A limit of zero or less
// returns all runs.
func (r *RunRepository) List(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// Checkpoint stores a counter snapshot and updates the run totals in a
// single transaction.
func (r *RunRepository) Checkpoint(id string, c Counters) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := updateCounters(tx, id, c); err != nil {
		return err
	}

	_, err = tx.Exec(
		`INSERT INTO run_checkpoints (run_id, frames, hands, messages, skipped, resets, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, c.Frames, c.Hands, c.Messages, c.Skipped, c.Resets, time.Now(),
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// Checkpoints retrieves the snapshots of a run, oldest first.
func (r *RunRepository) Checkpoints(id string) ([]Checkpoint, error) {
	rows, err := r.db.Query(
		`SELECT id, run_id, frames, hands, messages, skipped, resets, recorded_at
		 FROM run_checkpoints
		 WHERE run_id = ?
		 ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkpoints []Checkpoint
	for rows.Next() {
		var c Checkpoint
		if err := rows.Scan(&c.ID, &c.RunID, &c.Counters.Frames, &c.Counters.Hands, &c.Counters.Messages,
			&c.Counters.Skipped, &c.Counters.Resets, &c.RecordedAt); err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return checkpoints, nil
}

// Finish records the final counters and exit reason and closes the run.
func (r *RunRepository) Finish(id string, c Counters, reason string) error {
	result, err := r.db.Exec(
		`UPDATE runs SET frames = ?, hands = ?, messages = ?, skipped = ?, resets = ?,
		 exit_reason = ?, ended_at = ?
		 WHERE id = ?`,
		c.Frames, c.Hands, c.Messages, c.Skipped, c.Resets, reason, time.Now(), id,
	)
	if err != nil {
		return err
	}
	return expectOne(result)
}

// Delete removes a run and its checkpoints.
func (r *RunRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(result)
}

func updateCounters(tx *sql.Tx, id string, c Counters) error {
	result, err := tx.Exec(
		`UPDATE runs SET frames = ?, hands = ?, messages = ?, skipped = ?, resets = ?
		 WHERE id = ?`,
		c.Frames, c.Hands, c.Messages, c.Skipped, c.Resets, id,
	)
	if err != nil {
		return err
	}
	return expectOne(result)
}

func expectOne(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
