package audit

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Migrations holds the goose migrations for the audit_events table.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations.
const MigrationsDir = "migrations"

// DB is the subset of *pgxpool.Pool used by PostgresStorage.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var eventColumns = []string{
	"id", "actor", "action", "resource", "resource_id", "result",
	"error", "request_id", "ip", "user_agent", "metadata", "created_at",
}

// PostgresStorage stores events in the audit_events table.
type PostgresStorage struct {
	db    DB
	table string
}

// NewPostgresStorage creates a storage on top of a pgx pool.
func NewPostgresStorage(db DB) *PostgresStorage {
	if db == nil {
		panic("audit: db cannot be nil")
	}
	return &PostgresStorage{db: db, table: "audit_events"}
}

// Store writes events with a single COPY.
func (s *PostgresStorage) Store(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(events))
	for _, e := range events {
		var metadata []byte
		if len(e.Metadata) > 0 {
			b, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("%w: metadata: %w", ErrEventValidation, err)
			}
			metadata = b
		}
		rows = append(rows, []any{
			e.ID, e.Actor, e.Action, e.Resource, e.ResourceID, string(e.Result),
			e.Error, e.RequestID, e.IP, e.UserAgent, metadata, e.CreatedAt,
		})
	}

	if _, err := s.db.CopyFrom(ctx, pgx.Identifier{s.table}, eventColumns, pgx.CopyFromRows(rows)); err != nil {
		return errors.Join(ErrStorageNotAvailable, err)
	}
	return nil
}

// Query returns matching events, newest first.
func (s *PostgresStorage) Query(ctx context.Context, criteria Criteria) ([]Event, error) {
	query, args := buildSelect(s.table, criteria)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Join(ErrStorageNotAvailable, err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var (
			e        Event
			result   string
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Resource, &e.ResourceID, &result,
			&e.Error, &e.RequestID, &e.IP, &e.UserAgent, &metadata, &e.CreatedAt); err != nil {
			return nil, errors.Join(ErrStorageNotAvailable, err)
		}
		e.Result = Result(result)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, errors.Join(ErrStorageNotAvailable, err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrStorageNotAvailable, err)
	}
	return events, nil
}

// Count returns the number of matching events.
func (s *PostgresStorage) Count(ctx context.Context, criteria Criteria) (int64, error) {
	where, args := buildWhere(criteria)
	var n int64
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM "+s.table+where, args...).Scan(&n); err != nil {
		return 0, errors.Join(ErrStorageNotAvailable, err)
	}
	return n, nil
}

// DeleteBefore removes events created before cutoff.
func (s *PostgresStorage) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, fmt.Errorf("%w: retention cutoff is required", ErrEventValidation)
	}
	tag, err := s.db.Exec(ctx, "DELETE FROM "+s.table+" WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, errors.Join(ErrStorageNotAvailable, err)
	}
	return tag.RowsAffected(), nil
}

func buildSelect(table string, c Criteria) (string, []any) {
	where, args := buildWhere(c)

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(eventColumns, ", "))
	b.WriteString(" FROM ")
	b.WriteString(table)
	b.WriteString(where)
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if c.Limit > 0 {
		args = append(args, c.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if c.Offset > 0 {
		args = append(args, c.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

func buildWhere(c Criteria) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if c.Actor != "" {
		add("actor = $%d", c.Actor)
	}
	if c.Action != "" {
		add("action = $%d", c.Action)
	}
	if c.Resource != "" {
		add("resource = $%d", c.Resource)
	}
	if c.ResourceID != "" {
		add("resource_id = $%d", c.ResourceID)
	}
	if c.Result != "" {
		add("result = $%d", string(c.Result))
	}
	if !c.StartTime.IsZero() {
		add("created_at >= $%d", c.StartTime)
	}
	if !c.EndTime.IsZero() {
		add("created_at < $%d", c.EndTime)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
