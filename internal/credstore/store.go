// Package credstore is the PostgreSQL-backed teamguard.CredentialStore used by the
// teamguard service. Applications embedding the engine usually bring their own.
package credstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrEthical07/teamguard"
)

const table = "users"

var userColumns = []string{"id", "email", "COALESCE(username, '')", "password_hash", "role", "locked"}

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements teamguard.CredentialStore over the users table.
type Store struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// New constructs a store over a pool or a transaction.
func New(exec pgExecutor) *Store {
	return &Store{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     time.Now,
	}
}

// GetUserByIdentifier matches email or username case-insensitively.
func (s *Store) GetUserByIdentifier(ctx context.Context, identifier string) (teamguard.UserRecord, error) {
	ident := strings.ToLower(strings.TrimSpace(identifier))
	if ident == "" {
		return teamguard.UserRecord{}, teamguard.ErrUserNotFound
	}
	q := s.builder.Select(userColumns...).
		From(table).
		Where(squirrel.Or{
			squirrel.Expr("LOWER(email) = ?", ident),
			squirrel.Expr("LOWER(username) = ?", ident),
		}).
		Limit(1)
	return s.getOne(ctx, q)
}

// GetUserByID loads one account by primary key.
func (s *Store) GetUserByID(ctx context.Context, userID string) (teamguard.UserRecord, error) {
	q := s.builder.Select(userColumns...).
		From(table).
		Where(squirrel.Eq{"id": userID})
	return s.getOne(ctx, q)
}

// UpdatePasswordHash replaces the stored hash.
func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	return s.update(ctx, userID, map[string]any{"password_hash": hash})
}

// SetLocked flips the administrative lock flag.
func (s *Store) SetLocked(ctx context.Context, userID string, locked bool) error {
	return s.update(ctx, userID, map[string]any{"locked": locked})
}

// CreateUser inserts a new account and returns its generated id. The hash must
// already be encoded, typically by Engine.HashPassword.
func (s *Store) CreateUser(ctx context.Context, email, username, passwordHash, role string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || passwordHash == "" {
		return "", errors.New("email and password hash are required")
	}
	if role == "" {
		role = "member"
	}
	var uname any
	if u := strings.TrimSpace(username); u != "" {
		uname = u
	}

	id := uuid.NewString()
	now := s.now().UTC()
	stmt, args, err := s.builder.Insert(table).
		Columns("id", "email", "username", "password_hash", "role", "locked", "created_at", "updated_at").
		Values(id, email, uname, passwordHash, role, false, now, now).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build insert user sql: %w", err)
	}
	if _, err := s.exec.Exec(ctx, stmt, args...); err != nil {
		return "", fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

func (s *Store) getOne(ctx context.Context, q squirrel.SelectBuilder) (teamguard.UserRecord, error) {
	stmt, args, err := q.ToSql()
	if err != nil {
		return teamguard.UserRecord{}, fmt.Errorf("build select user sql: %w", err)
	}

	var u teamguard.UserRecord
	err = s.exec.QueryRow(ctx, stmt, args...).Scan(&u.UserID, &u.Email, &u.Username, &u.PasswordHash, &u.Role, &u.Locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return teamguard.UserRecord{}, teamguard.ErrUserNotFound
	}
	if err != nil {
		return teamguard.UserRecord{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

func (s *Store) update(ctx context.Context, userID string, set map[string]any) error {
	set["updated_at"] = s.now().UTC()
	stmt, args, err := s.builder.Update(table).
		SetMap(set).
		Where(squirrel.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update user sql: %w", err)
	}
	tag, err := s.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return teamguard.ErrUserNotFound
	}
	return nil
}
