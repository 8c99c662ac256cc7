package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darshannathani/pp-sub001/internal/ledger"
	"github.com/darshannathani/pp-sub001/internal/models"
)

// Repository is the Postgres UserStore.
type Repository struct {
	pool *pgxpool.Pool
}

var _ UserStore = (*Repository)(nil)

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) CreateUser(ctx context.Context, u *models.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email, display_name, kind, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Email, u.DisplayName, string(u.Kind), u.PasswordHash, u.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateEmail
	}
	return ledger.Persistence("create user", err)
}

func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.getUser(ctx, `SELECT id, email, display_name, kind, password_hash, created_at FROM users WHERE id = $1`, id)
}

// GetUserByEmail returns the user for login.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getUser(ctx, `SELECT id, email, display_name, kind, password_hash, created_at FROM users WHERE email = $1`, email)
}

func (r *Repository) ListUsers(ctx context.Context, after uuid.UUID, limit int) ([]*models.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, email, display_name, kind, password_hash, created_at
		FROM users WHERE id > $1 ORDER BY id LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, ledger.Persistence("list users", err)
	}
	defer rows.Close()
	var out []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, ledger.Persistence("list users", err)
		}
		out = append(out, u)
	}
	return out, ledger.Persistence("list users", rows.Err())
}

func (r *Repository) getUser(ctx context.Context, query string, arg any) (*models.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %v", ledger.ErrEntityNotFound, arg)
	}
	if err != nil {
		return nil, ledger.Persistence("get user", err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var kind string
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &kind, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Kind = models.OwnerKind(kind)
	return &u, nil
}
