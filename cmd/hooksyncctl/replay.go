package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"hooksync/internal/app"
	"hooksync/internal/pkg/validator"
)

func (c *cli) replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <event_id>",
		Short: "Put a done or error event back on the queue",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			id := args[0]
			if err := validator.EventID(id); err != nil {
				return err
			}
			job, err := a.Replayer.Replay(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %s as %s\n", id, job.ID)
			return nil
		}),
	}
}
