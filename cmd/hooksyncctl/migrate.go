package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"hooksync/internal/platform/database"
)

func (c *cli) migrateCmd() *cobra.Command {
	var (
		down  bool
		steps int
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Open(c.cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if down {
				err = database.MigrateDown(db, steps)
			} else {
				err = database.Migrate(db)
			}
			if err != nil {
				return err
			}

			version, dirty, err := database.Version(db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %v)\n", version, dirty)
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "Roll back instead of applying")
	cmd.Flags().IntVar(&steps, "steps", 1, "Migrations to roll back with --down, 0 for all")
	return cmd
}
