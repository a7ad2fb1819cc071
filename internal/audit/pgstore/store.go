// Package pgstore persists security events in PostgreSQL. It implements audit.Store
// on top of pgx with squirrel-built statements.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrEthical07/teamguard/internal/audit"
)

const table = "security_events"

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements audit.Store backed by PostgreSQL.
type Store struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// New constructs a store backed by any executor that satisfies pgExecutor (a pool or a tx).
func New(exec pgExecutor) *Store {
	return &Store{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Append inserts one event. Events are append-only; a duplicate id is an error.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("encode event metadata: %w", err)
	}

	stmt, args, err := s.builder.Insert(table).
		Columns("id", "type", "user_id", "identifier", "ip", "user_agent", "severity", "metadata", "created_at").
		Values(
			event.ID,
			event.Type,
			event.UserID,
			event.Metadata[audit.MetaIdentifier],
			event.IP,
			event.UserAgent,
			string(event.Severity),
			metadata,
			event.Timestamp,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert event sql: %w", err)
	}

	if _, err := s.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("%w: insert event: %v", audit.ErrStoreUnavailable, err)
	}
	return nil
}

// Query returns matching events newest first.
func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	q := s.builder.
		Select("id", "type", "user_id", "ip", "user_agent", "severity", "metadata", "created_at").
		From(table).
		OrderBy("created_at DESC")

	if filter.UserID != "" {
		q = q.Where(squirrel.Eq{"user_id": filter.UserID})
	}
	if filter.Subject != "" {
		q = q.Where(squirrel.Or{
			squirrel.Eq{"user_id": filter.Subject},
			squirrel.Eq{"identifier": filter.Subject},
		})
	}
	if filter.IP != "" {
		q = q.Where(squirrel.Eq{"ip": filter.IP})
	}
	if len(filter.Types) > 0 {
		q = q.Where(squirrel.Eq{"type": filter.Types})
	}
	if !filter.Since.IsZero() {
		q = q.Where(squirrel.GtOrEq{"created_at": filter.Since})
	}
	if !filter.Until.IsZero() {
		q = q.Where(squirrel.LtOrEq{"created_at": filter.Until})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}

	stmt, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select events sql: %w", err)
	}

	rows, err := s.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query events: %v", audit.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			event    audit.Event
			severity string
			metadata []byte
		)
		if err := rows.Scan(
			&event.ID,
			&event.Type,
			&event.UserID,
			&event.IP,
			&event.UserAgent,
			&severity,
			&metadata,
			&event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Severity = audit.Severity(severity)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode event metadata: %w", err)
			}
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate events: %v", audit.ErrStoreUnavailable, err)
	}
	return out, nil
}

// Prune deletes events created before the cutoff.
func (s *Store) Prune(ctx context.Context, before time.Time) (int, error) {
	stmt, args, err := s.builder.Delete(table).
		Where(squirrel.Lt{"created_at": before}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete events sql: %w", err)
	}

	tag, err := s.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: prune events: %v", audit.ErrStoreUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}
