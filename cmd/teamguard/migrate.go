package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/MrEthical07/teamguard/internal/config"
	"github.com/MrEthical07/teamguard/internal/db"
)

func migrateUp(c *cli.Context) error {
	return runMigrations(c, db.Up)
}

func migrateDown(c *cli.Context) error {
	return runMigrations(c, db.Down)
}

func runMigrations(c *cli.Context, direction db.Direction) error {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return err
	}
	if err := db.Migrate(cfg.Postgres.DSN, direction); err != nil {
		return errors.Wrapf(err, "error migrating %s", direction)
	}
	fmt.Printf("Migrations applied (%s).\n", direction)
	return nil
}
