package applier

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecer records executed statements and can fail on a chosen statement.
type fakeExecer struct {
	executed []string
	failOn   string
	failWith error
}

func (f *fakeExecer) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	if f.failOn != "" && query == f.failOn {
		return nil, f.failWith
	}
	f.executed = append(f.executed, query)
	return nil, nil
}

func (f *fakeExecer) QueryContext(_ context.Context, _ string, _ ...any) (*sql.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeExecer) QueryRowContext(_ context.Context, _ string, _ ...any) *sql.Row {
	return nil
}

func TestApply_ExecutesInOrderSkippingComments(t *testing.T) {
	fake := &fakeExecer{}
	a := New(fake)

	statements := []string{
		"-- phase: permissions",
		"INSERT INTO permissions (name) VALUES ('a');",
		"",
		"INSERT INTO roles (name) VALUES ('b');",
	}
	err := a.Apply(context.Background(), statements)
	require.NoError(t, err)

	require.Len(t, fake.executed, 2)
	assert.Contains(t, fake.executed[0], "permissions")
	assert.Contains(t, fake.executed[1], "roles")
}

func TestApply_StopsOnFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	fake := &fakeExecer{
		failOn:   "INSERT INTO roles (name) VALUES ('b');",
		failWith: boom,
	}
	a := New(fake)

	statements := []string{
		"INSERT INTO permissions (name) VALUES ('a');",
		"INSERT INTO roles (name) VALUES ('b');",
		"INSERT INTO accounts (auth_user_id) VALUES ('c');",
	}
	err := a.Apply(context.Background(), statements)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "statement 1")

	// Nothing after the failing statement ran.
	require.Len(t, fake.executed, 1)
}

func TestApply_ClassifiesMissingSchema(t *testing.T) {
	tests := []struct {
		name      string
		driverErr error
	}{
		{
			name:      "lib/pq",
			driverErr: &pq.Error{Code: "42P01", Message: `relation "permissions" does not exist`},
		},
		{
			name:      "pgx",
			driverErr: &pgconn.PgError{Code: "42P01", Message: `relation "permissions" does not exist`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeExecer{
				failOn:   "INSERT INTO permissions (name) VALUES ('a');",
				failWith: tt.driverErr,
			}
			a := New(fake)

			err := a.Apply(context.Background(), []string{"INSERT INTO permissions (name) VALUES ('a');"})
			require.Error(t, err)
			assert.True(t, IsSchemaMissingErr(err), "expected schema-missing classification, got: %v", err)
		})
	}
}
