package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"assignx/internal/domain"
	"assignx/internal/lifecycle"
)

// Repo is the persistence boundary. Every method takes a Queryer; pass the
// open *sql.Tx to read and write inside a transaction, or nil to use DB.
type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a versioned write lost to a concurrent writer.
	ErrConflict = errors.New("concurrent modification")
)

// Queryer is satisfied by *sql.DB and *sql.Tx.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func (r Repo) q(q Queryer) Queryer {
	if q == nil {
		return r.DB
	}
	// a typed-nil *sql.Tx would otherwise panic on use
	if tx, ok := q.(*sql.Tx); ok && tx == nil {
		return r.DB
	}
	return q
}

const projectColumns = `id,number,client_id,COALESCE(intermediary_id,''),worker_id,service_type,subject,COALESCE(description,''),word_count,deadline,urgency,status,
client_quote,worker_payout,intermediary_commission,platform_fee,revision_count,qc_rejection_count,COALESCE(cancelled_from,''),version,created_at,updated_at,completed_at`

func scanProject(row scanner) (domain.Project, error) {
	var p domain.Project
	var workerID, completedAt sql.NullString
	var status string
	err := row.Scan(&p.ID, &p.Number, &p.ClientID, &p.IntermediaryID, &workerID, &p.ServiceType, &p.Subject, &p.Description,
		&p.WordCount, &p.Deadline, &p.Urgency, &status, &p.ClientQuote, &p.WorkerPayout, &p.IntermediaryCommission, &p.PlatformFee,
		&p.RevisionCount, &p.QCRejectionCount, &p.CancelledFrom, &p.Version, &p.CreatedAt, &p.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	st, err := lifecycle.ParseStatus(status)
	if err != nil {
		return p, fmt.Errorf("project %s: %w", p.ID, err)
	}
	p.Status = st
	if workerID.Valid {
		p.WorkerID = &workerID.String
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.String
	}
	return p, nil
}

// NextProjectSeq allocates the next project sequence number.
func (r Repo) NextProjectSeq(ctx context.Context, q Queryer) (int64, error) {
	var seq int64
	err := r.q(q).QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM projects`).Scan(&seq)
	return seq, err
}

// FormatProjectNumber renders the public AX-XXXXX identifier.
func FormatProjectNumber(seq int64) string {
	return fmt.Sprintf("AX-%05d", seq)
}

func (r Repo) InsertProject(ctx context.Context, q Queryer, seq int64, p domain.Project) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO projects(id,seq,number,client_id,intermediary_id,worker_id,service_type,subject,description,word_count,deadline,urgency,status,
client_quote,worker_payout,intermediary_commission,platform_fee,revision_count,qc_rejection_count,cancelled_from,version,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, seq, p.Number, p.ClientID, nullable(p.IntermediaryID), nullableStringPtr(p.WorkerID), p.ServiceType, p.Subject, nullable(p.Description),
		p.WordCount, p.Deadline, p.Urgency, string(p.Status), p.ClientQuote, p.WorkerPayout, p.IntermediaryCommission, p.PlatformFee,
		p.RevisionCount, p.QCRejectionCount, nullable(p.CancelledFrom), p.Version, p.CreatedAt, p.UpdatedAt, nullableStringPtr(p.CompletedAt))
	return err
}

func (r Repo) GetProject(ctx context.Context, q Queryer, id string) (domain.Project, error) {
	return scanProject(r.q(q).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) GetProjectByNumber(ctx context.Context, q Queryer, number string) (domain.Project, error) {
	return scanProject(r.q(q).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE number=?`, strings.ToUpper(number)))
}

// UpdateProject writes every mutable column of p guarded by its version and
// bumps p.Version on success.
func (r Repo) UpdateProject(ctx context.Context, q Queryer, p *domain.Project) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE projects SET intermediary_id=?, worker_id=?, description=?, status=?, client_quote=?, worker_payout=?,
intermediary_commission=?, platform_fee=?, revision_count=?, qc_rejection_count=?, cancelled_from=?, version=version+1, updated_at=?, completed_at=?
WHERE id=? AND version=?`,
		nullable(p.IntermediaryID), nullableStringPtr(p.WorkerID), nullable(p.Description), string(p.Status), p.ClientQuote, p.WorkerPayout,
		p.IntermediaryCommission, p.PlatformFee, p.RevisionCount, p.QCRejectionCount, nullable(p.CancelledFrom), p.UpdatedAt, nullableStringPtr(p.CompletedAt),
		p.ID, p.Version)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		if _, err := r.GetProject(ctx, q, p.ID); err != nil {
			return err
		}
		return fmt.Errorf("project %s at version %d: %w", p.ID, p.Version, ErrConflict)
	}
	p.Version++
	return nil
}

type ProjectFilters struct {
	Status          string
	ClientID        string
	WorkerID        string
	IntermediaryID  string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListProjects(ctx context.Context, q Queryer, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.WorkerID != "" {
		clauses = append(clauses, "worker_id=?")
		args = append(args, f.WorkerID)
	}
	if f.IntermediaryID != "" {
		clauses = append(clauses, "intermediary_id=?")
		args = append(args, f.IntermediaryID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + projectColumns + ` FROM projects ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q(q).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) CountProjectsByStatus(ctx context.Context, q Queryer) (map[string]int, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT status, count(*) FROM projects GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
