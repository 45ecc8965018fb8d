package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Show the database schema version",
	Long: `Show every schema migration, when it was applied and its checksum.

Opening the database applies pending migrations, so a healthy database lists
every migration as applied. A migration edited after it was applied is
reported as an error.

Examples:
  worktime schema
  worktime schema -o json`,
	Args: cobra.NoArgs,
	RunE: runSchema,
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}

func runSchema(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.db.Schema(cmd.Context())
	if err != nil {
		return err
	}

	if ok, err := printStructured(cmd.OutOrStdout(), outputFormat, list); ok {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Database: %s\n\n", a.cfg.Database.Path)
	for _, m := range list {
		fmt.Fprintf(out, "  %03d  %-20s  %-19s  %s\n",
			m.Version, m.Name, formatOptionalTime(m.AppliedAt), m.Checksum[:12])
	}
	return nil
}
