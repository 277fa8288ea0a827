// Package sqlxrepos implements the core repositories on postgres with sqlx.
package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/rollbook/core"
)

// postgres error codes
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// trapNoRowsErr maps sql.ErrNoRows to notFound.
func trapNoRowsErr(err error, notFound error, msg string) error {
	if err == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// constraintErr returns the domain error registered for the violated constraint, if any.
func constraintErr(err error, byConstraint map[string]error) (error, bool) {
	pqErr, ok := errors.Cause(err).(*pq.Error)
	if !ok {
		return nil, false
	}
	switch pqErr.Code {
	case uniqueViolation, foreignKeyViolation:
		if domainErr, ok := byConstraint[pqErr.Constraint]; ok {
			return domainErr, true
		}
	}
	return nil, false
}

// inTx runs fn in a transaction, committed only if fn succeeds.
func inTx(ctx context.Context, db core.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}

// orderBy renders a whitelisted ORDER BY clause; unknown fields are skipped.
// columns maps the public ordering names to SQL expressions.
func orderBy(ordering []core.DBOrdering, columns map[string]string, fallback string) string {
	parts := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		col, ok := columns[ord.Field]
		if !ok {
			continue
		}
		parts = append(parts, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
	}
	parts = append(parts, fallback)
	return " ORDER BY " + strings.Join(parts, ", ")
}

// where accumulates AND-ed conditions with positional arguments.
type where struct {
	conds []string
	args  []interface{}
}

// add appends cond, where `?` is replaced by the next positional parameter.
func (w *where) add(cond string, args ...interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// query rebinds `?` placeholders to postgres `$n`.
func (w *where) query(base, suffix string) string {
	return sqlx.Rebind(sqlx.DOLLAR, base+w.String()+suffix)
}

func ilike(s string) string {
	return "%" + strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s) + "%"
}

// namedGet runs a named query (`:field` parameters bound from arg) and scans its single row into dest.
func namedGet(ctx context.Context, exec core.DBExecutor, dest interface{}, query string, arg interface{}) error {
	q, args, err := sqlx.Named(query, arg)
	if err != nil {
		return errors.Wrap(err, "binding named query")
	}
	return exec.GetContext(ctx, dest, sqlx.Rebind(sqlx.DOLLAR, q), args...)
}

// utcDate normalizes a scanned DATE column to UTC midnight.
func utcDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func utcNullDate(t null.Time) null.Time {
	if !t.Valid {
		return t
	}
	return null.TimeFrom(utcDate(t.Time))
}

// rowsAffected returns notFound when res touched no row.
func rowsAffected(res sql.Result, notFound error, msg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, msg)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
