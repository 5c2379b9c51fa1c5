package db

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"linkvault/pkg/domain"
)

func (s *SQLite) CreateUser(ctx context.Context, u *domain.User) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(queryCtx, q, u.ID, u.Email, u.PasswordHash, u.CreatedAt)
	s.recordError(err)
	return errors.Wrap(err, "db create user")
}

// GetUserByEmail returns (nil, nil) when no user matches.
func (s *SQLite) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `SELECT id, email, password_hash, created_at FROM users WHERE email = ?`
	var u domain.User
	err := s.db.QueryRowContext(queryCtx, q, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get user by email")
	}
	return &u, nil
}

// GetUserByID returns (nil, nil) when no user matches.
func (s *SQLite) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `SELECT id, email, password_hash, created_at FROM users WHERE id = ?`
	var u domain.User
	err := s.db.QueryRowContext(queryCtx, q, id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get user by id")
	}
	return &u, nil
}

func (s *SQLite) UserExists(ctx context.Context, email string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var exists int
	err := s.db.QueryRowContext(queryCtx, `SELECT 1 FROM users WHERE email = ? LIMIT 1`, email).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "user exists check failed")
	}
	return exists == 1, nil
}
