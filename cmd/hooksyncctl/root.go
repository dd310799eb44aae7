package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"hooksync/internal/app"
	"hooksync/internal/pkg/logger"
	"hooksync/internal/platform/config"
)

type cli struct {
	cfgFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "hooksyncctl",
		Short:        "Operate a hooksync deployment",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger.Init(cfg.Logging)
			c.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.cfgFile, "config", "configs/config.yaml", "Config file path")

	root.AddCommand(
		c.migrateCmd(),
		c.replayCmd(),
		c.quarantineCmd(),
		c.tokenCmd(),
	)
	return root
}

// withApp builds the application for commands that touch the pipeline.
func (c *cli) withApp(run func(cmd *cobra.Command, a *app.App, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := app.New(c.cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		return run(cmd, a, args)
	}
}
