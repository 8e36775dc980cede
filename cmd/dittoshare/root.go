package main

import (
	"github.com/marmos91/dittoshare/internal/logger"
	"github.com/marmos91/dittoshare/pkg/config"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "dittoshare",
		Short: "File storage and sharing with real-time notifications",
		Long: `dittoshare stores files, lets owners share them with other users and
pushes share and revoke notifications to connected clients over websockets.

Usage examples:

1. Generate a configuration with a fresh signing secret:

	dittoshare init

2. Run every enabled service:

	dittoshare serve

3. Mint a development token for a configured user:

	dittoshare token demo
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default: "+config.GetDefaultConfigPath()+")")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if err := applyLogging(cfg.Logging); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	root.AddCommand(
		newServeCommand(load),
		newInitCommand(),
		newTokenCommand(load),
		newVersionCommand(),
	)

	return root
}

type loadFunc func() (*config.Config, error)

func applyLogging(cfg config.LoggingConfig) error {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	return logger.SetOutput(cfg.Output)
}
