package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// table describes a mirror table for the generated insert and update
// statements. The first column is the primary key.
type table struct {
	name    string
	columns []string
	// frozen columns are written on insert only.
	frozen []string
}

func (t table) insertSQL() string {
	named := make([]string, len(t.columns))
	for i, c := range t.columns {
		named[i] = ":" + c
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.name, strings.Join(t.columns, ", "), strings.Join(named, ", "))
}

func (t table) updateSQL() string {
	sets := make([]string, 0, len(t.columns))
	for _, c := range t.columns[1:] {
		if t.isFrozen(c) {
			continue
		}
		sets = append(sets, c+" = :"+c)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = :%s",
		t.name, strings.Join(sets, ", "), t.columns[0], t.columns[0])
}

func (t table) selectSQL() string {
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(t.columns, ", "), t.name)
}

func (t table) isFrozen(c string) bool {
	for _, f := range t.frozen {
		if f == c {
			return true
		}
	}
	return false
}

// queryer is satisfied by *sqlx.DB and *Tx.
type queryer = sqlx.ExtContext

func (t table) insert(ctx context.Context, q queryer, row any) error {
	if _, err := sqlx.NamedExecContext(ctx, q, t.insertSQL(), row); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", t.name, err)
	}
	return nil
}

func (t table) update(ctx context.Context, q queryer, row any) error {
	res, err := sqlx.NamedExecContext(ctx, q, t.updateSQL(), row)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", t.name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to update %s: %w", t.name, ErrNotFound)
	}
	return nil
}

// idWhere returns the primary key of the row matching where.
func (t table) idWhere(ctx context.Context, q queryer, where string, args ...any) (string, error) {
	var id string
	query := q.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE %s", t.columns[0], t.name, where))
	if err := sqlx.GetContext(ctx, q, &id, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to look up %s: %w", t.name, err)
	}
	return id, nil
}

func (t table) get(ctx context.Context, q queryer, dest any, where string, args ...any) error {
	query := q.Rebind(t.selectSQL() + " WHERE " + where)
	if err := sqlx.GetContext(ctx, q, dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get %s: %w", t.name, err)
	}
	return nil
}

func (t table) list(ctx context.Context, q queryer, dest any, where, orderBy string, args ...any) error {
	query := q.Rebind(t.selectSQL() + " WHERE " + where + " ORDER BY " + orderBy)
	if err := sqlx.SelectContext(ctx, q, dest, query, args...); err != nil {
		return fmt.Errorf("failed to list %s: %w", t.name, err)
	}
	return nil
}

// deleteWhere reports whether a row was removed.
func (t table) deleteWhere(ctx context.Context, q queryer, where string, args ...any) (bool, error) {
	res, err := q.ExecContext(ctx, q.Rebind(fmt.Sprintf("DELETE FROM %s WHERE %s", t.name, where)), args...)
	if err != nil {
		return false, fmt.Errorf("failed to delete from %s: %w", t.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete from %s: %w", t.name, err)
	}
	return n > 0, nil
}
