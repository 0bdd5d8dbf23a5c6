package repo

import (
	"context"
	"database/sql"

	"assignx/internal/domain"
)

const revisionColumns = `id,project_id,requested_by,requester_role,COALESCE(notes,''),requested_at,resolved_at`

func scanRevision(row scanner) (domain.Revision, error) {
	var rv domain.Revision
	var resolvedAt sql.NullString
	err := row.Scan(&rv.ID, &rv.ProjectID, &rv.RequestedBy, &rv.RequesterRole, &rv.Notes, &rv.RequestedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return rv, ErrNotFound
	}
	rv.ResolvedAt = stringPtr(resolvedAt)
	return rv, err
}

func (r Repo) InsertRevision(ctx context.Context, q Queryer, rv domain.Revision) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO revisions(id,project_id,requested_by,requester_role,notes,requested_at,resolved_at) VALUES (?,?,?,?,?,?,?)`,
		rv.ID, rv.ProjectID, rv.RequestedBy, rv.RequesterRole, nullable(rv.Notes), rv.RequestedAt, nullableStringPtr(rv.ResolvedAt))
	return err
}

// ResolveOpenRevisions closes every unresolved revision of the project.
func (r Repo) ResolveOpenRevisions(ctx context.Context, q Queryer, projectID, now string) (int64, error) {
	res, err := r.q(q).ExecContext(ctx, `UPDATE revisions SET resolved_at=? WHERE project_id=? AND resolved_at IS NULL`, now, projectID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) ListRevisions(ctx context.Context, q Queryer, projectID string) ([]domain.Revision, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+revisionColumns+` FROM revisions WHERE project_id=? ORDER BY requested_at ASC, rowid ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Revision
	for rows.Next() {
		rv, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rv)
	}
	return res, rows.Err()
}

func (r Repo) InsertDeliverables(ctx context.Context, q Queryer, items []domain.Deliverable) error {
	for _, d := range items {
		if _, err := r.q(q).ExecContext(ctx, `INSERT INTO deliverables(id,project_id,ref,kind,round,created_by,created_at) VALUES (?,?,?,?,?,?,?)`,
			d.ID, d.ProjectID, d.Ref, d.Kind, d.Round, d.CreatedBy, d.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

// LatestRound returns the highest round recorded for kind, 0 when none.
func (r Repo) LatestRound(ctx context.Context, q Queryer, projectID, kind string) (int, error) {
	var round int
	err := r.q(q).QueryRowContext(ctx, `SELECT COALESCE(MAX(round),0) FROM deliverables WHERE project_id=? AND kind=?`, projectID, kind).Scan(&round)
	return round, err
}

// ListDeliverables filters by kind and round; empty kind or zero round match all.
func (r Repo) ListDeliverables(ctx context.Context, q Queryer, projectID, kind string, round int) ([]domain.Deliverable, error) {
	query := `SELECT id,project_id,ref,kind,round,created_by,created_at FROM deliverables WHERE project_id=?`
	args := []any{projectID}
	if kind != "" {
		query += ` AND kind=?`
		args = append(args, kind)
	}
	if round > 0 {
		query += ` AND round=?`
		args = append(args, round)
	}
	query += ` ORDER BY kind ASC, round ASC, rowid ASC`
	rows, err := r.q(q).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Deliverable
	for rows.Next() {
		var d domain.Deliverable
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Ref, &d.Kind, &d.Round, &d.CreatedBy, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
