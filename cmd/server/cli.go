package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/rpattn/matters/internal/config"
	"github.com/rpattn/matters/internal/logging"
)

// app carries state shared between the root Before hook and subcommands.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	cfg        config.Config
}

func run(ctx context.Context, args []string) error {
	a := &app{}

	cmd := &cli.Command{
		Name:    "matters",
		Usage:   "Matter listing, detail and field update API",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "Directory containing config.yaml",
				Value:       ".",
				Sources:     cli.EnvVars("MATTERS_CONFIG_PATH"),
				Destination: &a.configPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Log level (debug, info, warn, error)",
				Destination: &a.logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "Log format (console, json)",
				Destination: &a.logFormat,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if err := a.configure(); err != nil {
				return ctx, err
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			a.cmdServe(),
			a.cmdMigrate(),
		},
	}

	return cmd.Run(ctx, args)
}

// configure loads config and installs the default logger. Flags win over
// config values.
func (a *app) configure() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return err
	}
	logging.SetDefault(logger)

	a.cfg = cfg
	return nil
}
