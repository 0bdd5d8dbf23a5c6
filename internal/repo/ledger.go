package repo

import (
	"context"
	"strings"

	"assignx/internal/domain"
)

func (r Repo) InsertLedgerEntry(ctx context.Context, q Queryer, e domain.LedgerEntry) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO ledger_entries(id,project_id,owner_kind,owner_id,amount,reason,created_at) VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.ProjectID, e.OwnerKind, e.OwnerID, e.Amount, e.Reason, e.CreatedAt)
	return err
}

// HasLedgerReason reports whether any of reasons is already booked for the project.
func (r Repo) HasLedgerReason(ctx context.Context, q Queryer, projectID string, reasons ...string) (bool, error) {
	if len(reasons) == 0 {
		return false, nil
	}
	args := []any{projectID}
	for _, reason := range reasons {
		args = append(args, reason)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(reasons)), ",")
	var n int
	err := r.q(q).QueryRowContext(ctx, `SELECT count(*) FROM ledger_entries WHERE project_id=? AND reason IN (`+placeholders+`)`, args...).Scan(&n)
	return n > 0, err
}

type LedgerFilters struct {
	ProjectID string
	OwnerKind string
	OwnerID   string
	Limit     int
}

func (r Repo) ListLedger(ctx context.Context, q Queryer, f LedgerFilters) ([]domain.LedgerEntry, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.OwnerKind != "" {
		clauses = append(clauses, "owner_kind=?")
		args = append(args, f.OwnerKind)
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	query := `SELECT id,project_id,owner_kind,owner_id,amount,reason,created_at FROM ledger_entries WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at ASC, rowid ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q(q).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.OwnerKind, &e.OwnerID, &e.Amount, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// Balances sums ledger rows per owner, optionally for one owner kind.
func (r Repo) Balances(ctx context.Context, q Queryer, ownerKind string) ([]domain.Balance, error) {
	query := `SELECT owner_kind, owner_id, COALESCE(SUM(amount),0), count(*) FROM ledger_entries`
	var args []any
	if ownerKind != "" {
		query += ` WHERE owner_kind=?`
		args = append(args, ownerKind)
	}
	query += ` GROUP BY owner_kind, owner_id ORDER BY owner_kind, owner_id`
	rows, err := r.q(q).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Balance
	for rows.Next() {
		var b domain.Balance
		if err := rows.Scan(&b.OwnerKind, &b.OwnerID, &b.Amount, &b.Entries); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r Repo) LedgerTotal(ctx context.Context, q Queryer, projectID string) (int64, error) {
	var total int64
	err := r.q(q).QueryRowContext(ctx, `SELECT COALESCE(SUM(amount),0) FROM ledger_entries WHERE project_id=?`, projectID).Scan(&total)
	return total, err
}
