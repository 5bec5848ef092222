package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/argus-admin/argus/internal/cli"
	"github.com/argus-admin/argus/pkg/applier"
)

var statusDB string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show destination schema status",
	Long:  `Check whether the tables the compiled script writes to exist.`,
	Example: `  # Check status
  argus status --db postgres://localhost/console`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := resolveDSN(statusDB)
		if err != nil {
			return err
		}
		return runStatus(dsn)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusDB, "db", "", "database URL")
}

func runStatus(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return cli.DBConnectError("connecting to database", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	a := applier.New(db)

	s, err := a.GetStatus(ctx)
	if err != nil {
		return cli.GeneralError("getting status", err)
	}

	if s.PermissionsTableExists {
		fmt.Println("Permissions table:  present")
	} else {
		fmt.Println("Permissions table:  missing")
	}
	if s.AuthUsersTableExists {
		fmt.Println("Auth users table:   present")
	} else {
		fmt.Println("Auth users table:   missing")
	}

	if !s.PermissionsTableExists || !s.AuthUsersTableExists {
		fmt.Println("\nDestination schema is incomplete.")
		fmt.Println("Run the console schema migrations before applying policies.")
	}

	return nil
}
