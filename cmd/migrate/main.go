package main

import (
	"database/sql"
	"fmt"
	"os"

	"TaniLedger/internal/config"
	"TaniLedger/internal/observability"
	"TaniLedger/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/urfave/cli/v2"
)

var (
	dbURLFlag = &cli.StringFlag{
		Name:    "db-url",
		Usage:   "Postgres connection string (defaults to the tanild config)",
		EnvVars: []string{"TANI_DB_URL"},
	}
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "tanild config file to read db_url from",
		EnvVars: []string{"TANI_CONFIG"},
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "migrate"
	app.Usage = "apply or roll back the TaniLedger schema"
	app.Flags = []cli.Flag{dbURLFlag, configFlag}
	app.Commands = []*cli.Command{
		{
			Name:  "up",
			Usage: "apply all pending migrations",
			Action: withMigrator(func(m *persistence.Migrator) error {
				return m.Up()
			}),
		},
		{
			Name:  "down",
			Usage: "roll back the last migration",
			Action: withMigrator(func(m *persistence.Migrator) error {
				return m.Down()
			}),
		},
		{
			Name:  "version",
			Usage: "print the current schema version",
			Action: withMigrator(func(m *persistence.Migrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				fmt.Printf("version=%d dirty=%t\n", v, dirty)
				return nil
			}),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger := observability.NewLogger("migrate")
		logger.Fatal().Err(err).Msg("migrate failed")
	}
}

func withMigrator(fn func(*persistence.Migrator) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		url := c.String(dbURLFlag.Name)
		if url == "" {
			cfg, err := config.Load(c.String(configFlag.Name))
			if err != nil {
				return err
			}
			url = cfg.DBURL
		}

		db, err := sql.Open("postgres", url)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		m, err := persistence.NewMigrator(db, observability.NewLogger("migrate"))
		if err != nil {
			db.Close()
			return err
		}
		defer m.Close()
		return fn(m)
	}
}
