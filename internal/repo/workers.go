package repo

import (
	"context"
	"database/sql"
	"fmt"

	"assignx/internal/domain"
)

const workerColumns = `id,name,available,max_concurrent,active_count,created_at`

func scanWorker(row scanner) (domain.Worker, error) {
	var w domain.Worker
	var available int
	err := row.Scan(&w.ID, &w.Name, &available, &w.MaxConcurrent, &w.ActiveCount, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	w.Available = available == 1
	return w, err
}

func (r Repo) InsertWorker(ctx context.Context, q Queryer, w domain.Worker) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO workers(id,name,available,max_concurrent,active_count,created_at) VALUES (?,?,?,?,?,?)`,
		w.ID, w.Name, boolInt(w.Available), w.MaxConcurrent, w.ActiveCount, w.CreatedAt)
	return err
}

func (r Repo) GetWorker(ctx context.Context, q Queryer, id string) (domain.Worker, error) {
	return scanWorker(r.q(q).QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id=?`, id))
}

func (r Repo) ListWorkers(ctx context.Context, q Queryer, availableOnly bool) ([]domain.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers`
	if availableOnly {
		query += ` WHERE available=1 AND active_count < max_concurrent`
	}
	query += ` ORDER BY active_count ASC, id ASC`
	rows, err := r.q(q).QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) SetWorkerAvailability(ctx context.Context, q Queryer, id string, available bool) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE workers SET available=? WHERE id=?`, boolInt(available), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimWorkerSlot takes one capacity slot in a single conditional update.
// It reports false when the worker is unavailable or already full.
func (r Repo) ClaimWorkerSlot(ctx context.Context, q Queryer, id string) (bool, error) {
	res, err := r.q(q).ExecContext(ctx, `UPDATE workers SET active_count=active_count+1 WHERE id=? AND available=1 AND active_count<max_concurrent`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) ReleaseWorkerSlot(ctx context.Context, q Queryer, id string) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE workers SET active_count=active_count-1 WHERE id=? AND active_count>0`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("release slot for worker %s: no active slot", id)
	}
	return nil
}

func (r Repo) InsertBlacklist(ctx context.Context, q Queryer, b domain.BlacklistEntry) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO blacklist(intermediary_id,worker_id,reason,created_at) VALUES (?,?,?,?)
ON CONFLICT(intermediary_id,worker_id) DO UPDATE SET reason=excluded.reason`, b.IntermediaryID, b.WorkerID, nullable(b.Reason), b.CreatedAt)
	return err
}

func (r Repo) DeleteBlacklist(ctx context.Context, q Queryer, intermediaryID, workerID string) error {
	res, err := r.q(q).ExecContext(ctx, `DELETE FROM blacklist WHERE intermediary_id=? AND worker_id=?`, intermediaryID, workerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) IsBlacklisted(ctx context.Context, q Queryer, intermediaryID, workerID string) (bool, error) {
	var n int
	err := r.q(q).QueryRowContext(ctx, `SELECT count(*) FROM blacklist WHERE intermediary_id=? AND worker_id=?`, intermediaryID, workerID).Scan(&n)
	return n > 0, err
}

func (r Repo) ListBlacklist(ctx context.Context, q Queryer, intermediaryID string) ([]domain.BlacklistEntry, error) {
	query := `SELECT intermediary_id,worker_id,COALESCE(reason,''),created_at FROM blacklist`
	var args []any
	if intermediaryID != "" {
		query += ` WHERE intermediary_id=?`
		args = append(args, intermediaryID)
	}
	query += ` ORDER BY created_at ASC`
	rows, err := r.q(q).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.BlacklistEntry
	for rows.Next() {
		var b domain.BlacklistEntry
		if err := rows.Scan(&b.IntermediaryID, &b.WorkerID, &b.Reason, &b.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

const assignmentColumns = `id,project_id,worker_id,assigned_by,assigned_at,state,COALESCE(reason,''),closed_at`

func scanAssignment(row scanner) (domain.Assignment, error) {
	var a domain.Assignment
	var closedAt sql.NullString
	err := row.Scan(&a.ID, &a.ProjectID, &a.WorkerID, &a.AssignedBy, &a.AssignedAt, &a.State, &a.Reason, &closedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	a.ClosedAt = stringPtr(closedAt)
	return a, err
}

func (r Repo) InsertAssignment(ctx context.Context, q Queryer, a domain.Assignment) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO assignments(id,project_id,worker_id,assigned_by,assigned_at,state,reason,closed_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.ProjectID, a.WorkerID, a.AssignedBy, a.AssignedAt, a.State, nullable(a.Reason), nullableStringPtr(a.ClosedAt))
	return err
}

func (r Repo) GetAssignment(ctx context.Context, q Queryer, id string) (domain.Assignment, error) {
	return scanAssignment(r.q(q).QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id=?`, id))
}

func (r Repo) ActiveAssignment(ctx context.Context, q Queryer, projectID string) (domain.Assignment, error) {
	return scanAssignment(r.q(q).QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE project_id=? AND state='active'`, projectID))
}

// CloseAssignment ends an active assignment; history rows are never rewritten.
func (r Repo) CloseAssignment(ctx context.Context, q Queryer, id, state, reason, now string) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE assignments SET state=?, reason=COALESCE(?,reason), closed_at=? WHERE id=? AND state='active'`,
		state, nullable(reason), now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListAssignments(ctx context.Context, q Queryer, projectID, workerID string) ([]domain.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE 1=1`
	var args []any
	if projectID != "" {
		query += ` AND project_id=?`
		args = append(args, projectID)
	}
	if workerID != "" {
		query += ` AND worker_id=?`
		args = append(args, workerID)
	}
	query += ` ORDER BY assigned_at ASC, rowid ASC`
	rows, err := r.q(q).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
