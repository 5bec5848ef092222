package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/argus-admin/argus/internal/cli"
	"github.com/argus-admin/argus/pkg/manifest"
	"github.com/argus-admin/argus/policy"
)

var (
	compileManifest string
	compileOut      string
	compileStrict   bool
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile a policy manifest into SQL",
	Long: `Compile a policy manifest into an ordered PostgreSQL seed script.

Entities are emitted before the junction rows that reference them, so the
script can run top to bottom inside a single transaction. Items with broken
references are skipped and reported as diagnostics on stderr.`,
	Example: `  # Compile policy.yaml to stdout
  argus compile

  # Compile a specific manifest to a file
  argus compile --manifest policies/prod.yaml --out seed.sql

  # Fail on the first broken reference instead of skipping
  argus compile --strict`,
	RunE: func(cmd *cobra.Command, args []string) error {
		manifestPath := resolveString(compileManifest, cfg.Compile.Manifest, cfg.Manifest)
		outPath := resolveString(compileOut, cfg.Compile.Output, cfg.Output)
		strict := resolveBool(compileStrict, cfg.Compile.Strict)

		return runCompile(manifestPath, outPath, strict)
	},
}

func init() {
	f := compileCmd.Flags()
	f.StringVar(&compileManifest, "manifest", "", "path to the policy manifest")
	f.StringVar(&compileOut, "out", "", "write the script to a file instead of stdout")
	f.BoolVar(&compileStrict, "strict", false, "validate all references before compiling")
}

func runCompile(manifestPath, outPath string, strict bool) error {
	res, err := compilePolicy(manifestPath, strict)
	if err != nil {
		return err
	}

	reportDiagnostics(res.Diagnostics)

	script := res.Script()
	if outPath != "" {
		if err := os.WriteFile(outPath, []byte(script), 0o644); err != nil {
			return cli.GeneralError("writing output", err)
		}
		if !quiet {
			fmt.Fprintf(os.Stderr, "Wrote %d statements to %s\n", res.StatementCount(), outPath)
		}
		return nil
	}

	fmt.Print(script)
	return nil
}

// compilePolicy loads a manifest and compiles it, applying the shared
// error-to-exit-code classification.
func compilePolicy(manifestPath string, strict bool) (*policy.CompileResult, error) {
	reg, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, cli.PolicyError("loading manifest", err)
	}

	if strict {
		if err := reg.Validate(); err != nil {
			return nil, cli.PolicyError("validating policy", err)
		}
	}

	res, err := reg.GenerateSQL()
	if err != nil {
		return nil, cli.PolicyError("compiling policy", err)
	}
	return res, nil
}

// reportDiagnostics prints skipped-item diagnostics to stderr.
func reportDiagnostics(diags []policy.Diagnostic) {
	if quiet {
		return
	}
	for _, d := range diags {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", d.Phase, d.Message)
	}
}
