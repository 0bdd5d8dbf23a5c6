package repo

import (
	"context"
	"database/sql"

	"assignx/internal/domain"
)

const quoteColumns = `id,project_id,amount,COALESCE(notes,''),issued_by,issued_at,state`

func scanQuote(row scanner) (domain.Quote, error) {
	var qt domain.Quote
	err := row.Scan(&qt.ID, &qt.ProjectID, &qt.Amount, &qt.Notes, &qt.IssuedBy, &qt.IssuedAt, &qt.State)
	if err == sql.ErrNoRows {
		return qt, ErrNotFound
	}
	return qt, err
}

func (r Repo) InsertQuote(ctx context.Context, q Queryer, qt domain.Quote) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO quotes(id,project_id,amount,notes,issued_by,issued_at,state) VALUES (?,?,?,?,?,?,?)`,
		qt.ID, qt.ProjectID, qt.Amount, nullable(qt.Notes), qt.IssuedBy, qt.IssuedAt, qt.State)
	return err
}

// CurrentQuote returns the project's active or accepted quote.
func (r Repo) CurrentQuote(ctx context.Context, q Queryer, projectID string) (domain.Quote, error) {
	return scanQuote(r.q(q).QueryRowContext(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE project_id=? AND state IN ('active','accepted') LIMIT 1`, projectID))
}

// SupersedeActiveQuotes retires the active quote before a new one is issued.
func (r Repo) SupersedeActiveQuotes(ctx context.Context, q Queryer, projectID string) (int64, error) {
	res, err := r.q(q).ExecContext(ctx, `UPDATE quotes SET state='superseded' WHERE project_id=? AND state='active'`, projectID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) SetQuoteState(ctx context.Context, q Queryer, id, state string) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE quotes SET state=? WHERE id=?`, state, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListQuotes(ctx context.Context, q Queryer, projectID string) ([]domain.Quote, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE project_id=? ORDER BY issued_at ASC, rowid ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Quote
	for rows.Next() {
		qt, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, qt)
	}
	return res, rows.Err()
}

const paymentColumns = `id,project_id,quote_id,order_ref,payment_ref,amount,currency,state,failed_attempts,created_at,captured_at`

func scanPayment(row scanner) (domain.Payment, error) {
	var p domain.Payment
	var paymentRef, capturedAt sql.NullString
	err := row.Scan(&p.ID, &p.ProjectID, &p.QuoteID, &p.OrderRef, &paymentRef, &p.Amount, &p.Currency, &p.State, &p.FailedAttempts, &p.CreatedAt, &capturedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.PaymentRef = stringPtr(paymentRef)
	p.CapturedAt = stringPtr(capturedAt)
	return p, nil
}

func (r Repo) InsertPayment(ctx context.Context, q Queryer, p domain.Payment) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO payments(id,project_id,quote_id,order_ref,payment_ref,amount,currency,state,failed_attempts,created_at,captured_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ProjectID, p.QuoteID, p.OrderRef, nullableStringPtr(p.PaymentRef), p.Amount, p.Currency, p.State, p.FailedAttempts, p.CreatedAt, nullableStringPtr(p.CapturedAt))
	return err
}

// PendingPayment returns the open order for a quote, if any.
func (r Repo) PendingPayment(ctx context.Context, q Queryer, projectID, quoteID string) (domain.Payment, error) {
	return scanPayment(r.q(q).QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE project_id=? AND quote_id=? AND state='pending' ORDER BY created_at DESC LIMIT 1`, projectID, quoteID))
}

// CapturedPayment returns the single captured payment of a project.
func (r Repo) CapturedPayment(ctx context.Context, q Queryer, projectID string) (domain.Payment, error) {
	return scanPayment(r.q(q).QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE project_id=? AND state='captured' LIMIT 1`, projectID))
}

func (r Repo) GetPaymentByRef(ctx context.Context, q Queryer, paymentRef string) (domain.Payment, error) {
	return scanPayment(r.q(q).QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_ref=?`, paymentRef))
}

// MarkPaymentCaptured moves a pending payment to captured. The partial unique
// index on (project_id, quote_id) rejects a second capture for the same quote.
func (r Repo) MarkPaymentCaptured(ctx context.Context, q Queryer, id, paymentRef, now string) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE payments SET state='captured', payment_ref=?, captured_at=? WHERE id=? AND state='pending'`, paymentRef, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) RecordPaymentFailure(ctx context.Context, q Queryer, id string) error {
	_, err := r.q(q).ExecContext(ctx, `UPDATE payments SET failed_attempts=failed_attempts+1 WHERE id=?`, id)
	return err
}

// FailPendingPayments closes open orders, used when the project is cancelled
// or re-quoted before capture.
func (r Repo) FailPendingPayments(ctx context.Context, q Queryer, projectID string) error {
	_, err := r.q(q).ExecContext(ctx, `UPDATE payments SET state='failed' WHERE project_id=? AND state='pending'`, projectID)
	return err
}

func (r Repo) ListPayments(ctx context.Context, q Queryer, projectID string) ([]domain.Payment, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE project_id=? ORDER BY created_at ASC, rowid ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
