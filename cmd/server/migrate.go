package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/rpattn/matters/internal/db"
	"github.com/rpattn/matters/internal/logging"
)

func (a *app) cmdMigrate() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage the database schema",
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Action: func(ctx context.Context, c *cli.Command) error {
					if err := db.RunMigrations(a.cfg.Database); err != nil {
						return err
					}
					logging.Default().Info("migrations applied")
					return nil
				},
			},
			{
				Name:  "down",
				Usage: "Revert the most recent migration",
				Action: func(ctx context.Context, c *cli.Command) error {
					if err := db.RollbackMigration(a.cfg.Database); err != nil {
						return err
					}
					logging.Default().Info("migration rolled back")
					return nil
				},
			},
			{
				Name:  "version",
				Usage: "Print the applied migration version",
				Action: func(ctx context.Context, c *cli.Command) error {
					version, dirty, err := db.MigrationVersion(a.cfg.Database)
					if err != nil {
						return err
					}
					logging.Default().Info("migration version", "version", version, "dirty", dirty)
					return nil
				},
			},
		},
	}
}
