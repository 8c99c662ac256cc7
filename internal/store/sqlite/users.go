package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/darshannathani/pp-sub001/internal/auth"
	"github.com/darshannathani/pp-sub001/internal/ledger"
	"github.com/darshannathani/pp-sub001/internal/models"
)

const userColumns = `id, email, display_name, kind, password_hash, created_at`

var _ auth.UserStore = (*Store)(nil)

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.DisplayName, string(u.Kind), u.PasswordHash, u.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return auth.ErrDuplicateEmail
	}
	return classify("create user", err)
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

func (s *Store) ListUsers(ctx context.Context, after uuid.UUID, limit int) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id > ? ORDER BY id LIMIT ?`, after, limit)
	if err != nil {
		return nil, classify("list users", err)
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, classify("list users", err)
		}
		out = append(out, u)
	}
	return out, classify("list users", rows.Err())
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %v", ledger.ErrEntityNotFound, arg)
	}
	if err != nil {
		return nil, classify("get user", err)
	}
	return u, nil
}

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	var kind string
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &kind, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Kind = models.OwnerKind(kind)
	return &u, nil
}
