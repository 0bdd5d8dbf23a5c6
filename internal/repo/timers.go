package repo

import (
	"context"
	"database/sql"

	"assignx/internal/domain"
)

const timerColumns = `id,project_id,armed_at,fire_at,duration_seconds,state,COALESCE(reason,''),closed_at`

func scanTimer(row scanner) (domain.Timer, error) {
	var t domain.Timer
	var closedAt sql.NullString
	err := row.Scan(&t.ID, &t.ProjectID, &t.ArmedAt, &t.FireAt, &t.DurationSeconds, &t.State, &t.Reason, &closedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	t.ClosedAt = stringPtr(closedAt)
	return t, err
}

func (r Repo) InsertTimer(ctx context.Context, q Queryer, t domain.Timer) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO auto_approval_timers(id,project_id,armed_at,fire_at,duration_seconds,state,reason,closed_at) VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.ArmedAt, t.FireAt, t.DurationSeconds, t.State, nullable(t.Reason), nullableStringPtr(t.ClosedAt))
	return err
}

func (r Repo) GetTimer(ctx context.Context, q Queryer, id string) (domain.Timer, error) {
	return scanTimer(r.q(q).QueryRowContext(ctx, `SELECT `+timerColumns+` FROM auto_approval_timers WHERE id=?`, id))
}

func (r Repo) ArmedTimer(ctx context.Context, q Queryer, projectID string) (domain.Timer, error) {
	return scanTimer(r.q(q).QueryRowContext(ctx, `SELECT `+timerColumns+` FROM auto_approval_timers WHERE project_id=? AND state='armed'`, projectID))
}

// CloseTimer moves an armed timer to state. It reports false when the timer
// was no longer armed, so a fire and a disarm can never both win.
func (r Repo) CloseTimer(ctx context.Context, q Queryer, id, state, reason, now string) (bool, error) {
	res, err := r.q(q).ExecContext(ctx, `UPDATE auto_approval_timers SET state=?, reason=?, closed_at=? WHERE id=? AND state='armed'`,
		state, nullable(reason), now, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// DueTimers lists armed timers whose fire_at is not after now, oldest first.
func (r Repo) DueTimers(ctx context.Context, q Queryer, now string, limit int) ([]domain.Timer, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.listTimers(ctx, q, `WHERE state='armed' AND fire_at<=? ORDER BY fire_at ASC LIMIT ?`, now, limit)
}

// ArmedTimers lists every armed timer; used to re-arm a scheduler on start.
func (r Repo) ArmedTimers(ctx context.Context, q Queryer) ([]domain.Timer, error) {
	return r.listTimers(ctx, q, `WHERE state='armed' ORDER BY fire_at ASC`)
}

func (r Repo) ListTimers(ctx context.Context, q Queryer, projectID string) ([]domain.Timer, error) {
	return r.listTimers(ctx, q, `WHERE project_id=? ORDER BY armed_at ASC, rowid ASC`, projectID)
}

func (r Repo) listTimers(ctx context.Context, q Queryer, tail string, args ...any) ([]domain.Timer, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+timerColumns+` FROM auto_approval_timers `+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Timer
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
