// Package applier executes compiled policy scripts against PostgreSQL.
//
// The compiler in the policy package only produces statements; this package is
// the collaborator that applies them. Each statement is independent, so the
// applier decides about atomicity: when the handle supports transactions the
// whole script is applied atomically, otherwise statement by statement.
//
// Typical usage:
//
//	res, _ := reg.GenerateSQL()
//	a := applier.New(db)
//	err := a.Apply(ctx, res.Statements)
package applier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrSchemaMissing is returned when the destination database lacks the policy
// tables the script writes to. Create the destination schema before applying.
var ErrSchemaMissing = errors.New("applier: destination policy schema missing")

// IsSchemaMissingErr returns true if err is or wraps ErrSchemaMissing.
func IsSchemaMissingErr(err error) bool {
	return errors.Is(err, ErrSchemaMissing)
}

// PostgreSQL error codes used to classify apply failures.
const (
	pgUndefinedTable  = "42P01" // undefined_table
	pgUndefinedColumn = "42703" // undefined_column
)

// Applier applies policy scripts to a database handle.
type Applier struct {
	db Execer
}

// New creates an applier over db. The Execer is typically *sql.DB but can be
// *sql.Tx when the caller manages the transaction itself.
func New(db Execer) *Applier {
	return &Applier{db: db}
}

// Apply executes the statement list in order. Phase marker comments are
// skipped. If the handle supports BeginTx the script is applied in a single
// transaction, so a mid-script failure leaves the database untouched.
func (a *Applier) Apply(ctx context.Context, statements []string) error {
	if txer, ok := a.db.(interface {
		BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	}); ok {
		tx, err := txer.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("starting transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := a.applyStatements(ctx, tx, statements); err != nil {
			return err
		}
		return tx.Commit()
	}

	return a.applyStatements(ctx, a.db, statements)
}

func (a *Applier) applyStatements(ctx context.Context, db Execer, statements []string) error {
	for i, stmt := range statements {
		trimmed := strings.TrimSpace(stmt)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying statement %d: %w", i, classify(err))
		}
	}
	return nil
}

// classify maps PostgreSQL errors onto sentinel errors where that helps the
// caller produce a useful message. Both the pgx and lib/pq drivers are
// recognized.
func classify(err error) error {
	var code string

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		code = pgxErr.Code
	case errors.As(err, &pqErr):
		code = string(pqErr.Code)
	}

	switch code {
	case pgUndefinedTable, pgUndefinedColumn:
		return fmt.Errorf("%w: %v", ErrSchemaMissing, err)
	}
	return err
}

// Status reports whether the destination policy schema is present.
type Status struct {
	// PermissionsTableExists indicates the core permissions table is present.
	PermissionsTableExists bool

	// AuthUsersTableExists indicates the external identity table that account
	// emission flags is present.
	AuthUsersTableExists bool
}

// GetStatus probes the destination schema. Useful for preflight checks before
// an apply and for the status command.
func (a *Applier) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{}

	var err error
	status.PermissionsTableExists, err = a.relationExists(ctx, "permissions")
	if err != nil {
		return nil, err
	}
	status.AuthUsersTableExists, err = a.relationExists(ctx, "auth_users")
	if err != nil {
		return nil, err
	}
	return status, nil
}

func (a *Applier) relationExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := a.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_class c
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE c.relname = $1
			AND n.nspname = current_schema()
			AND c.relkind IN ('r', 'v', 'm')
		)
	`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", name, err)
	}
	return exists, nil
}
