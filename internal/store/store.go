// Package store persists the Session/Batch/Task/Review execution model in
// SQLite and implements the atomic two-phase task claim that workers race
// on. It follows the teacher's learning store shape: a database/sql handle
// wrapped by a Store type, schema loaded via go:embed, sqlite opened
// through github.com/mattn/go-sqlite3.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store manages the SQLite-backed execution store.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (creating if necessary) the database at dbPath and
// ensures the schema is present. dbPath may be ":memory:" for tests.
func NewStore(dbPath string) (*Store, error) {
	if dbPath == ":memory:" {
		return openAndInitStore(dbPath)
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	return openAndInitStore(dbPath)
}

func openAndInitStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite is single-writer; cap open connections so the CAS claim
	// protocol is never split across concurrent physical connections.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// --- Session ---

// CreateSession inserts a new session record in status "started".
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	extra, err := marshalMap(sess.Extra)
	if err != nil {
		return fmt.Errorf("marshal session extra: %w", err)
	}
	if sess.Mode == "" {
		sess.Mode = ModeParallel
	}
	if sess.Status == "" {
		sess.Status = SessionStarted
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, plan_path, batch_lo, batch_hi, mode, status, tasks_total, auto_publish, max_review_rounds, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.PlanPath, sess.BatchLo, sess.BatchHi, sess.Mode, sess.Status,
		sess.TasksTotal, sess.AutoPublish, sess.MaxReviewRounds, extra,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, plan_path, batch_lo, batch_hi, mode, status, current_batch,
		       tasks_completed, tasks_total, auto_publish, max_review_rounds,
		       started_at, completed_at, extra
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var currentBatch sql.NullInt64
	var completedAt sql.NullTime
	var extra string
	err := row.Scan(&sess.ID, &sess.PlanPath, &sess.BatchLo, &sess.BatchHi, &sess.Mode,
		&sess.Status, &currentBatch, &sess.TasksCompleted, &sess.TasksTotal,
		&sess.AutoPublish, &sess.MaxReviewRounds, &sess.StartedAt, &completedAt, &extra)
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if currentBatch.Valid {
		v := int(currentBatch.Int64)
		sess.CurrentBatch = &v
	}
	if completedAt.Valid {
		sess.CompletedAt = &completedAt.Time
	}
	if err := json.Unmarshal([]byte(extra), &sess.Extra); err != nil {
		return nil, fmt.Errorf("unmarshal session extra: %w", err)
	}
	return &sess, nil
}

// SetSessionStatus transitions a session's status, stamping completed_at
// when moving to a terminal state.
func (s *Store) SetSessionStatus(ctx context.Context, id string, status SessionStatus) error {
	var err error
	if status == SessionComplete || status == SessionFailed {
		_, err = s.db.ExecContext(ctx, `UPDATE sessions SET status = ?, completed_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	} else {
		_, err = s.db.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ?`, status, id)
	}
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

// SetCurrentBatch records the batch number a session is actively working.
func (s *Store) SetCurrentBatch(ctx context.Context, sessionID string, batchNumber int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET current_batch = ? WHERE id = ?`, batchNumber, sessionID)
	if err != nil {
		return fmt.Errorf("update current batch: %w", err)
	}
	return nil
}

// SessionStatus returns the external status projection for a session
// (§4.2): status, progress counters, and tasks currently holding an open
// change request.
func (s *Store) SessionStatus(ctx context.Context, sessionID string) (*SessionSnapshot, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.task_number, t.change_number, t.change_url
		FROM tasks t
		JOIN batches b ON b.id = t.batch_id
		WHERE b.session_id = ? AND t.status = ? AND t.change_number IS NOT NULL`,
		sessionID, TaskPRCreated)
	if err != nil {
		return nil, fmt.Errorf("query open changes: %w", err)
	}
	defer rows.Close()

	var open []OpenChange
	for rows.Next() {
		var oc OpenChange
		if err := rows.Scan(&oc.TaskID, &oc.TaskNumber, &oc.ChangeNumber, &oc.ChangeURL); err != nil {
			return nil, fmt.Errorf("scan open change: %w", err)
		}
		open = append(open, oc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &SessionSnapshot{
		ID:             sess.ID,
		Status:         sess.Status,
		CurrentBatch:   sess.CurrentBatch,
		TasksTotal:     sess.TasksTotal,
		TasksCompleted: sess.TasksCompleted,
		OpenChanges:    open,
		StartedAt:      sess.StartedAt,
		CompletedAt:    sess.CompletedAt,
	}, nil
}

// --- Batch ---

// CreateBatch inserts a new batch record.
func (s *Store) CreateBatch(ctx context.Context, b *Batch) error {
	deps, err := json.Marshal(b.Dependencies)
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}
	extra, err := marshalMap(b.Extra)
	if err != nil {
		return fmt.Errorf("marshal batch extra: %w", err)
	}
	if b.Status == "" {
		if len(b.Dependencies) == 0 {
			b.Status = BatchReady
		} else {
			b.Status = BatchPending
		}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO batches (id, session_id, batch_number, dependencies, status, extra)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.SessionID, b.BatchNumber, string(deps), b.Status, extra,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// GetBatch loads a single batch by id.
func (s *Store) GetBatch(ctx context.Context, id string) (*Batch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, batch_number, dependencies, status, started_at, completed_at, created_at, extra
		FROM batches WHERE id = ?`, id)

	var b Batch
	var deps, extra string
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&b.ID, &b.SessionID, &b.BatchNumber, &deps, &b.Status,
		&startedAt, &completedAt, &b.CreatedAt, &extra)
	if err != nil {
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	if err := json.Unmarshal([]byte(deps), &b.Dependencies); err != nil {
		return nil, fmt.Errorf("unmarshal dependencies: %w", err)
	}
	if startedAt.Valid {
		b.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		b.CompletedAt = &completedAt.Time
	}
	if err := json.Unmarshal([]byte(extra), &b.Extra); err != nil {
		return nil, fmt.Errorf("unmarshal batch extra: %w", err)
	}
	return &b, nil
}

// ListBatches returns every batch belonging to a session, ordered by
// batch number ascending.
func (s *Store) ListBatches(ctx context.Context, sessionID string) ([]*Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, batch_number, dependencies, status, started_at, completed_at, created_at, extra
		FROM batches WHERE session_id = ? ORDER BY batch_number ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()
	return scanBatches(rows)
}

func scanBatches(rows *sql.Rows) ([]*Batch, error) {
	var out []*Batch
	for rows.Next() {
		b, err := scanBatchRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBatchRow(rows *sql.Rows) (*Batch, error) {
	var b Batch
	var deps, extra string
	var startedAt, completedAt sql.NullTime
	err := rows.Scan(&b.ID, &b.SessionID, &b.BatchNumber, &deps, &b.Status,
		&startedAt, &completedAt, &b.CreatedAt, &extra)
	if err != nil {
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	if err := json.Unmarshal([]byte(deps), &b.Dependencies); err != nil {
		return nil, fmt.Errorf("unmarshal dependencies: %w", err)
	}
	if startedAt.Valid {
		b.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		b.CompletedAt = &completedAt.Time
	}
	if err := json.Unmarshal([]byte(extra), &b.Extra); err != nil {
		return nil, fmt.Errorf("unmarshal batch extra: %w", err)
	}
	return &b, nil
}

// ReadyBatches returns every batch whose status is pending or ready and
// whose dependency list is a subset of the session's complete batches,
// ordered by batch number ascending (I3, §4.2 ReadyBatches).
func (s *Store) ReadyBatches(ctx context.Context, sessionID string) ([]*Batch, error) {
	all, err := s.ListBatches(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	complete := map[int]bool{}
	for _, b := range all {
		if b.Status == BatchComplete {
			complete[b.BatchNumber] = true
		}
	}

	var ready []*Batch
	for _, b := range all {
		if b.Status != BatchPending && b.Status != BatchReady {
			continue
		}
		satisfied := true
		for _, dep := range b.Dependencies {
			if !complete[dep] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, b)
		}
	}
	return ready, nil
}

// MarkBatchExecuting transitions a batch to executing, stamping started_at.
// Idempotent under retry.
func (s *Store) MarkBatchExecuting(ctx context.Context, batchID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE batches SET status = ?, started_at = CURRENT_TIMESTAMP
		WHERE id = ? AND started_at IS NULL`, BatchExecuting, batchID)
	if err != nil {
		return fmt.Errorf("mark batch executing: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE batches SET status = ? WHERE id = ?`, BatchExecuting, batchID)
	if err != nil {
		return fmt.Errorf("mark batch executing: %w", err)
	}
	return nil
}

// MarkBatchComplete transitions a batch to complete, stamping completed_at.
func (s *Store) MarkBatchComplete(ctx context.Context, batchID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE batches SET status = ?, completed_at = CURRENT_TIMESTAMP WHERE id = ?`,
		BatchComplete, batchID)
	if err != nil {
		return fmt.Errorf("mark batch complete: %w", err)
	}
	return nil
}

// MarkBatchFailed transitions a batch to failed, stamping completed_at.
// A failed batch blocks dependents since they check for "complete", not
// "failed" (glossary: "completion").
func (s *Store) MarkBatchFailed(ctx context.Context, batchID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE batches SET status = ?, completed_at = CURRENT_TIMESTAMP WHERE id = ?`,
		BatchFailed, batchID)
	if err != nil {
		return fmt.Errorf("mark batch failed: %w", err)
	}
	return nil
}

// --- Task ---

// CreateTask inserts a new task record in status pending.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	commits, err := json.Marshal(t.Commits)
	if err != nil {
		return fmt.Errorf("marshal commits: %w", err)
	}
	extra, err := json.Marshal(t.Extra)
	if err != nil {
		return fmt.Errorf("marshal task extra: %w", err)
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, batch_id, task_number, title, branch_name, commits, status, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.BatchID, t.TaskNumber, t.Title, t.BranchName, string(commits), t.Status, string(extra),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask loads a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, batch_id, task_number, title, branch_name, change_number, change_url,
		       commits, status, review_rounds, error, started_at, completed_at, extra
		FROM tasks WHERE id = ?`, id)
	return scanTaskRow(row)
}

func scanTaskRow(row *sql.Row) (*Task, error) {
	var t Task
	var branchName, changeURL, errMsg sql.NullString
	var changeNumber sql.NullInt64
	var startedAt, completedAt sql.NullTime
	var commits, extra string
	err := row.Scan(&t.ID, &t.BatchID, &t.TaskNumber, &t.Title, &branchName, &changeNumber,
		&changeURL, &commits, &t.Status, &t.ReviewRounds, &errMsg, &startedAt, &completedAt, &extra)
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.BranchName = branchName.String
	t.ChangeURL = changeURL.String
	t.Error = errMsg.String
	if changeNumber.Valid {
		v := int(changeNumber.Int64)
		t.ChangeNumber = &v
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	if err := json.Unmarshal([]byte(commits), &t.Commits); err != nil {
		return nil, fmt.Errorf("unmarshal commits: %w", err)
	}
	if err := json.Unmarshal([]byte(extra), &t.Extra); err != nil {
		return nil, fmt.Errorf("unmarshal task extra: %w", err)
	}
	return &t, nil
}

// ListTasks returns every task in a batch, ordered by task number
// according to invariant I5 (leading integer, then trailing alpha, per
// dot-separated segment).
func (s *Store) ListTasks(ctx context.Context, batchID string) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, task_number, title, branch_name, change_number, change_url,
		       commits, status, review_rounds, error, started_at, completed_at, extra
		FROM tasks WHERE batch_id = ?`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortTasksByNumber(out)
	return out, nil
}

func scanTaskRows(rows *sql.Rows) (*Task, error) {
	var t Task
	var branchName, changeURL, errMsg sql.NullString
	var changeNumber sql.NullInt64
	var startedAt, completedAt sql.NullTime
	var commits, extra string
	err := rows.Scan(&t.ID, &t.BatchID, &t.TaskNumber, &t.Title, &branchName, &changeNumber,
		&changeURL, &commits, &t.Status, &t.ReviewRounds, &errMsg, &startedAt, &completedAt, &extra)
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.BranchName = branchName.String
	t.ChangeURL = changeURL.String
	t.Error = errMsg.String
	if changeNumber.Valid {
		v := int(changeNumber.Int64)
		t.ChangeNumber = &v
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	if err := json.Unmarshal([]byte(commits), &t.Commits); err != nil {
		return nil, fmt.Errorf("unmarshal commits: %w", err)
	}
	if err := json.Unmarshal([]byte(extra), &t.Extra); err != nil {
		return nil, fmt.Errorf("unmarshal task extra: %w", err)
	}
	return &t, nil
}

// ClaimTask runs the two-phase atomic claim protocol (§4.4): phase 1
// selects the lowest-ordered pending task whose batch belongs to the
// session and is executing or ready; phase 2 issues a WHERE-guarded update
// and checks the affected-row count. Returns (nil, nil) if there is no
// claimable task. Returns (nil, ErrLostRace) if another worker won the
// candidate this worker picked, so the caller can re-poll immediately.
func (s *Store) ClaimTask(ctx context.Context, sessionID string) (*Task, error) {
	// task_number is a dotted string ("1.10" vs "1.2"): a plain SQL ORDER BY
	// sorts it lexicographically, which violates I5. Instead pull every
	// pending candidate in the lowest-numbered eligible batch and break the
	// tie in Go with taskSortKey, which is I5-correct.
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.task_number
		FROM tasks t
		JOIN batches b ON b.id = t.batch_id
		WHERE b.session_id = ? AND t.status = ? AND b.status IN (?, ?)
			AND b.batch_number = (
				SELECT MIN(b2.batch_number)
				FROM tasks t2
				JOIN batches b2 ON b2.id = t2.batch_id
				WHERE b2.session_id = ? AND t2.status = ? AND b2.status IN (?, ?)
			)`,
		sessionID, TaskPending, BatchExecuting, BatchReady,
		sessionID, TaskPending, BatchExecuting, BatchReady)
	if err != nil {
		return nil, fmt.Errorf("select claim candidates: %w", err)
	}

	var candidateID string
	var candidateKey []taskSegment
	found := false
	for rows.Next() {
		var id, number string
		if err := rows.Scan(&id, &number); err != nil {
			return nil, fmt.Errorf("scan claim candidate: %w", err)
		}
		key := taskSortKey(number)
		if !found || lessTaskSegments(key, candidateKey) {
			candidateID, candidateKey = id, key
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claim candidates: %w", err)
	}
	rows.Close()
	if !found {
		return nil, nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, started_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?`,
		TaskInProgress, candidateID, TaskPending)
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim task rowcount: %w", err)
	}
	if affected == 0 {
		return nil, ErrLostRace
	}

	return s.GetTask(ctx, candidateID)
}

// ErrLostRace signals that another worker's compare-and-swap won the
// candidate this worker picked; the caller should re-poll immediately
// (§4.4, §7 claim.lost_race — non-error, triggers a re-poll).
var ErrLostRace = fmt.Errorf("store: lost claim race")

// TaskResult is the outcome of a task executor invocation, as persisted
// by MarkTaskResult.
type TaskResult struct {
	Success      bool
	Merged       bool
	BranchName   string
	ChangeNumber *int
	ChangeURL    string
	Commits      []string
	Error        string
}

// MarkTaskResult transitions a claimed task to its terminal-for-this-pass
// state (merged/pr_created on success, failed otherwise) and atomically
// updates the owning session's tasks_completed counter (I4, I6).
func (s *Store) MarkTaskResult(ctx context.Context, taskID string, result TaskResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark task result: %w", err)
	}
	defer tx.Rollback()

	var status TaskStatus
	if result.Success {
		if result.Merged {
			status = TaskMerged
		} else {
			status = TaskPRCreated
		}
	} else {
		status = TaskFailed
	}

	commits, err := json.Marshal(result.Commits)
	if err != nil {
		return fmt.Errorf("marshal result commits: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, branch_name = ?, change_number = ?, change_url = ?,
		    commits = ?, error = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		status, nullIfEmpty(result.BranchName), result.ChangeNumber, nullIfEmpty(result.ChangeURL),
		string(commits), nullIfEmpty(result.Error), taskID,
	)
	if err != nil {
		return fmt.Errorf("update task result: %w", err)
	}

	if isTerminalSuccess(status) {
		var sessionID string
		if err := tx.QueryRowContext(ctx, `
			SELECT b.session_id FROM tasks t JOIN batches b ON b.id = t.batch_id WHERE t.id = ?`,
			taskID).Scan(&sessionID); err != nil {
			return fmt.Errorf("lookup session for task: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET tasks_completed = tasks_completed + 1 WHERE id = ?`, sessionID); err != nil {
			return fmt.Errorf("increment tasks_completed: %w", err)
		}
	}

	return tx.Commit()
}

func isTerminalSuccess(status TaskStatus) bool {
	switch status {
	case TaskPRCreated, TaskApproved, TaskMerged:
		return true
	default:
		return false
	}
}

// SetTaskStatus performs a bare status transition, used by the review/fix
// loop (reviewing/fixing) where no result payload applies yet.
func (s *Store) SetTaskStatus(ctx context.Context, taskID string, status TaskStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?`, status, taskID)
	if err != nil {
		return fmt.Errorf("set task status: %w", err)
	}
	return nil
}

// IncrementReviewRounds bumps a task's review_rounds counter and returns
// the new value, used to enforce the session's max_review_rounds bound.
func (s *Store) IncrementReviewRounds(ctx context.Context, taskID string) (int, error) {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET review_rounds = review_rounds + 1 WHERE id = ?`, taskID)
	if err != nil {
		return 0, fmt.Errorf("increment review rounds: %w", err)
	}
	var rounds int
	if err := s.db.QueryRowContext(ctx, `SELECT review_rounds FROM tasks WHERE id = ?`, taskID).Scan(&rounds); err != nil {
		return 0, fmt.Errorf("read review rounds: %w", err)
	}
	return rounds, nil
}

// --- Review ---

// CreateReview appends a review round for a task.
func (s *Store) CreateReview(ctx context.Context, r *Review) error {
	comments, err := json.Marshal(r.Comments)
	if err != nil {
		return fmt.Errorf("marshal review comments: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reviews (id, task_id, round, reviewer, verdict, comments)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.TaskID, r.Round, r.Reviewer, r.Verdict, string(comments),
	)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// ListReviews returns every review for a task, oldest round first.
func (s *Store) ListReviews(ctx context.Context, taskID string) ([]*Review, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, round, reviewer, verdict, comments, created_at
		FROM reviews WHERE task_id = ? ORDER BY round ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	var out []*Review
	for rows.Next() {
		var r Review
		var comments string
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Round, &r.Reviewer, &r.Verdict, &comments, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		if err := json.Unmarshal([]byte(comments), &r.Comments); err != nil {
			return nil, fmt.Errorf("unmarshal review comments: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- helpers ---

func marshalMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
