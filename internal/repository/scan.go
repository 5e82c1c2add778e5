package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

// timeLayouts covers what Postgres (via pgx) and SQLite hand back for timestamp columns.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// timeValue scans a timestamp column regardless of how the driver encodes it.
type timeValue struct {
	Time  time.Time
	Valid bool
}

func (t *timeValue) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v, true
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
}

func (t *timeValue) parse(s string) error {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed, true
			return nil
		}
	}
	return fmt.Errorf("unparsable time %q", s)
}

func (t timeValue) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s entsql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullInt64(n entsql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullFloat(n entsql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// queryRow runs a built statement and scans the first row with scan.
// It returns sql.ErrNoRows when the statement yields nothing.
func queryRow(ctx context.Context, drv dialect.ExecQuerier, query string, args []any, scan func(*entsql.Rows) error) error {
	var rows entsql.Rows
	if err := drv.Query(ctx, query, args, &rows); err != nil {
		return err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	if err := scan(&rows); err != nil {
		return err
	}
	return rows.Close()
}

// insertReturningID appends RETURNING "id" to a built insert and returns the new key.
// Both Postgres and SQLite (3.35+) accept the clause.
func insertReturningID(ctx context.Context, drv dialect.ExecQuerier, ib *entsql.InsertBuilder) (int64, error) {
	query, args := ib.Query()
	var id int64
	err := queryRow(ctx, drv, query+` RETURNING "id"`, args, func(rows *entsql.Rows) error {
		return rows.Scan(&id)
	})
	return id, err
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
