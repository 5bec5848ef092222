package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/argus-admin/argus/internal/cli"
	"github.com/argus-admin/argus/pkg/manifest"
)

var validateManifest string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a policy manifest",
	Long: `Validate a policy manifest without compiling it.

Every role, group, and account reference must resolve to an entity declared
in the manifest. The first broken reference fails the command.`,
	Example: `  # Validate the default manifest
  argus validate

  # Validate a specific manifest
  argus validate --manifest policies/prod.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		manifestPath := resolveString(validateManifest, cfg.Compile.Manifest, cfg.Manifest)
		return runValidate(manifestPath)
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateManifest, "manifest", "", "path to the policy manifest")
}

func runValidate(manifestPath string) error {
	reg, err := manifest.Load(manifestPath)
	if err != nil {
		return cli.PolicyError("loading manifest", err)
	}

	if err := reg.Validate(); err != nil {
		return cli.PolicyError("validating policy", err)
	}

	if !quiet {
		c := reg.Counts()
		fmt.Printf("Policy is valid: %d permissions, %d groups, %d roles, %d accounts, %d settings\n",
			c.Permissions, c.Groups, c.Roles, c.Accounts, c.Settings)
	}
	return nil
}
