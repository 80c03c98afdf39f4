package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/arbor-ai/arbor/pkg/schema"
)

// LibSQLStore implements RunStore using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given file URI,
// e.g. "file:/path/to/arbor.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}

	// One connection: writers are serialized and PRAGMAs apply everywhere.
	db.SetMaxOpenConns(1)

	// Several PRAGMAs return a row, so QueryRow instead of Exec.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	} {
		var ignored string
		_ = db.QueryRow(pragma).Scan(&ignored)
	}

	return &LibSQLStore{db: db}, nil
}

// DB exposes the underlying handle so callers can run their own queries
// against the same database.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate applies pending schema migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum reclaims space from deleted runs.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, query, branch, status, step_count, error, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Query, run.Branch, string(run.Status), run.StepCount,
		nullRaw(run.Error), timeOrNow(run.CreatedAt), nullTime(run.CompletedAt),
	)
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	r := &RunRecord{}
	var status string
	var errJSON sql.NullString
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, query, branch, status, step_count, error, created_at, completed_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.Query, &r.Branch, &status, &r.StepCount, &errJSON, &r.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	r.Status = schema.RunStatus(status)
	r.Error = rawOrNil(errJSON)
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return r, nil
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.StepCount != nil {
		sets = append(sets, "step_count = ?")
		args = append(args, *update.StepCount)
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, string(update.Error))
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, query, branch, status, step_count, error, created_at, completed_at FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		r := &RunRecord{}
		var status string
		var errJSON sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.Query, &r.Branch, &status, &r.StepCount, &errJSON, &r.CreatedAt, &completedAt); err != nil {
			return nil, err
		}
		r.Status = schema.RunStatus(status)
		r.Error = rawOrNil(errJSON)
		if completedAt.Valid {
			r.CompletedAt = &completedAt.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Nodes ---

func (s *LibSQLStore) AppendNode(ctx context.Context, node *NodeRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_nodes (id, run_id, parent_id, branch_id, tool, inputs, response, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.ID, node.RunID, nullStr(node.ParentID), node.BranchID, nullStr(node.Tool),
		nullRaw(node.Inputs), nullRaw(node.Response), node.Seq, timeOrNow(node.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) ListNodes(ctx context.Context, runID string) ([]*NodeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, parent_id, branch_id, tool, inputs, response, seq, created_at
		 FROM run_nodes WHERE run_id = ? ORDER BY seq ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*NodeRecord
	for rows.Next() {
		n := &NodeRecord{}
		var parentID, toolName, inputs, response sql.NullString
		if err := rows.Scan(&n.ID, &n.RunID, &parentID, &n.BranchID, &toolName,
			&inputs, &response, &n.Seq, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.ParentID = parentID.String
		n.Tool = toolName.String
		n.Inputs = rawOrNil(inputs)
		n.Response = rawOrNil(response)
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *EventRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Next per-run sequence number.
	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	_, err = tx.ExecContext(ctx,
		`INSERT INTO run_events (run_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.NodeID), event.Type, nullRaw(event.Payload),
		timeOrNow(event.Timestamp), seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*EventRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, node_id, event_type, payload, timestamp, sequence
		 FROM run_events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*EventRecord
	for rows.Next() {
		e := &EventRecord{}
		var nodeID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &nodeID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.NodeID = nodeID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.ArborError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
