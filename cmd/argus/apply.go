package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/argus-admin/argus/internal/cli"
	"github.com/argus-admin/argus/pkg/applier"
)

var (
	applyDB       string
	applyManifest string
	applyDryRun   bool
	applyStrict   bool
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Compile and apply a policy to a database",
	Long: `Compile a policy manifest and execute the resulting script against
a PostgreSQL database. When the driver supports transactions the whole
script runs inside one, so a failing statement rolls everything back.`,
	Example: `  # Apply the default manifest
  argus apply --db postgres://localhost/console

  # Preview the script without executing it
  argus apply --dry-run

  # Fail on broken references instead of skipping them
  argus apply --db postgres://localhost/console --strict`,
	RunE: func(cmd *cobra.Command, args []string) error {
		manifestPath := resolveString(applyManifest, cfg.Apply.Manifest, cfg.Manifest)
		dryRun := resolveBool(applyDryRun, cfg.Apply.DryRun)
		strict := resolveBool(applyStrict, cfg.Apply.Strict)

		if dryRun {
			// No database needed for a preview.
			return runCompile(manifestPath, "", strict)
		}

		dsn, err := resolveDSN(applyDB)
		if err != nil {
			return err
		}

		return runApply(dsn, manifestPath, strict)
	},
}

func init() {
	f := applyCmd.Flags()
	f.StringVar(&applyDB, "db", "", "database URL")
	f.StringVar(&applyManifest, "manifest", "", "path to the policy manifest")
	f.BoolVar(&applyDryRun, "dry-run", false, "print the script without applying")
	f.BoolVar(&applyStrict, "strict", false, "validate all references before applying")
}

// resolveDSN gets the database DSN from flag or config.
func resolveDSN(flagDSN string) (string, error) {
	if flagDSN != "" {
		return flagDSN, nil
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return "", cli.ConfigError("database configuration", err)
	}
	if dsn == "" {
		return "", cli.ConfigError("database URL is required (use --db or set in config)", nil)
	}
	return dsn, nil
}

func runApply(dsn, manifestPath string, strict bool) error {
	res, err := compilePolicy(manifestPath, strict)
	if err != nil {
		return err
	}

	reportDiagnostics(res.Diagnostics)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return cli.DBConnectError("connecting to database", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	a := applier.New(db)

	if !quiet {
		fmt.Printf("Applying %d statements...\n", res.StatementCount())
	}

	if err := a.Apply(ctx, res.Statements); err != nil {
		if applier.IsSchemaMissingErr(err) {
			fmt.Fprintln(os.Stderr, "The destination tables do not exist.")
			fmt.Fprintln(os.Stderr, "Run the console schema migrations before applying policies.")
			return cli.GeneralError("applying policy", err)
		}
		return cli.GeneralError("applying policy", err)
	}

	if !quiet {
		fmt.Println("Policy applied successfully.")
		fmt.Printf("Script checksum: %s\n", res.Checksum())
	}

	return nil
}
