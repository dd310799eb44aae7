package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"hooksync/internal/app"
	"hooksync/internal/pkg/validator"
	"hooksync/internal/platform/models"
)

func (c *cli) quarantineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quarantine",
		Short: "Suppress or release processing of individual events",
	}

	var source, reason string
	add := &cobra.Command{
		Use:   "add <event_id>",
		Short: "Quarantine an event",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			id := args[0]
			if err := validator.EventID(id); err != nil {
				return err
			}
			if err := validator.Source(source); err != nil {
				return err
			}
			note, err := validator.Reason(reason)
			if err != nil {
				return err
			}

			src := source
			if src == "" {
				event, err := a.Events.GetByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				if event == nil {
					return fmt.Errorf("event %s not found; pass --source explicitly", id)
				}
				src = event.Source
			}

			entry := &models.QuarantineEntry{EventID: id, EventSource: src, Reason: note, CreatedAt: time.Now().Unix()}
			if err := a.Quarantine.Add(cmd.Context(), entry); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "quarantined %s (%s)\n", id, src)
			return nil
		}),
	}
	add.Flags().StringVar(&source, "source", "", "Event source; looked up from the event when empty")
	add.Flags().StringVar(&reason, "reason", "", "Why the event is quarantined")

	remove := &cobra.Command{
		Use:   "remove <event_id>",
		Short: "Lift a quarantine",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			id := args[0]
			if err := validator.EventID(id); err != nil {
				return err
			}
			if err := validator.Source(source); err != nil {
				return err
			}
			removed, err := a.Quarantine.Remove(cmd.Context(), id, source)
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("event %s is not quarantined", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released %s\n", id)
			return nil
		}),
	}
	remove.Flags().StringVar(&source, "source", "", "Only lift the entry for this source")

	list := &cobra.Command{
		Use:   "list",
		Short: "List quarantined events",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			entries, err := a.Quarantine.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "EVENT\tSOURCE\tSINCE\tREASON")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.EventID, e.EventSource,
					time.Unix(e.CreatedAt, 0).UTC().Format(time.RFC3339), e.Reason)
			}
			return w.Flush()
		}),
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}
