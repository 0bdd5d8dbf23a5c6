package repo

import (
	"context"
	"database/sql"

	"assignx/internal/domain"
)

func (r Repo) InsertActor(ctx context.Context, q Queryer, a domain.Actor) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO actors(id, role, name, created_at) VALUES (?,?,?,?)`, a.ID, a.Role, nullable(a.Name), a.CreatedAt)
	return err
}

func (r Repo) GetActor(ctx context.Context, q Queryer, id string) (domain.Actor, error) {
	var a domain.Actor
	err := r.q(q).QueryRowContext(ctx, `SELECT id, role, COALESCE(name,''), created_at FROM actors WHERE id=?`, id).
		Scan(&a.ID, &a.Role, &a.Name, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

// ActorRole returns the role of an actor, ErrNotFound when unknown.
func (r Repo) ActorRole(ctx context.Context, q Queryer, id string) (string, error) {
	a, err := r.GetActor(ctx, q, id)
	if err != nil {
		return "", err
	}
	return a.Role, nil
}

func (r Repo) ListActors(ctx context.Context, q Queryer, role string) ([]domain.Actor, error) {
	query := `SELECT id, role, COALESCE(name,''), created_at FROM actors`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.q(q).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		var a domain.Actor
		if err := rows.Scan(&a.ID, &a.Role, &a.Name, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
