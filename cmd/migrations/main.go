package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/robinjoseph08/golib/logger"
	"github.com/tinyopds/tinyopds/pkg/config"
	"github.com/tinyopds/tinyopds/pkg/database"
	"github.com/tinyopds/tinyopds/pkg/migrations"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v2"
)

func main() {
	log := logger.New()

	app := &cli.App{
		Name:  "migrations",
		Usage: "manage the tinyopds store schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "database",
				Usage: "store file path (overrides the configured one)",
			},
		},
		Commands: []*cli.Command{
			initCommand(),
			migrateCommand(),
			rollbackCommand(),
			statusCommand(),
			createCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Err(err).Fatal("app run error")
	}
}

// openMigrator connects to the store named by the config or the --database
// flag. The caller closes the handle.
func openMigrator(c *cli.Context) (*migrate.Migrator, *bun.DB, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}
	if path := c.String("database"); path != "" {
		cfg.DatabaseFilePath = path
	}

	db, err := database.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return migrate.NewMigrator(db, migrations.Migrations), db, nil
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "create the migration bookkeeping tables",
		Action: func(c *cli.Context) error {
			migrator, db, err := openMigrator(c)
			if err != nil {
				return err
			}
			defer db.Close()

			return migrator.Init(c.Context)
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply pending migrations to the store",
		Action: func(c *cli.Context) error {
			migrator, db, err := openMigrator(c)
			if err != nil {
				return err
			}
			defer db.Close()

			// The search migration builds FTS5 tables; fail before touching
			// the schema when the driver lacks them.
			if err := database.CheckFTS5Support(db); err != nil {
				return err
			}

			group, err := migrator.Migrate(c.Context)
			if err != nil {
				return err
			}
			if group.ID == 0 {
				fmt.Println("Store schema is up to date")
				return nil
			}
			fmt.Printf("Applied %s\n", group)
			return nil
		},
	}
}

func rollbackCommand() *cli.Command {
	return &cli.Command{
		Name:  "rollback",
		Usage: "undo the last applied migration group",
		Action: func(c *cli.Context) error {
			migrator, db, err := openMigrator(c)
			if err != nil {
				return err
			}
			defer db.Close()

			group, err := migrator.Rollback(c.Context)
			if err != nil {
				return err
			}
			if group.ID == 0 {
				fmt.Println("Nothing to roll back")
				return nil
			}
			fmt.Printf("Rolled back %s\n", group)
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show applied and pending migrations",
		Action: func(c *cli.Context) error {
			migrator, db, err := openMigrator(c)
			if err != nil {
				return err
			}
			defer db.Close()

			ms, err := migrator.MigrationsWithStatus(c.Context)
			if err != nil {
				return err
			}
			for _, m := range ms {
				state := "pending"
				if m.IsApplied() {
					state = "applied"
				}
				fmt.Printf("%s  %s\n", m.Name, state)
			}
			if unapplied := ms.Unapplied(); len(unapplied) > 0 {
				fmt.Printf("%d pending\n", len(unapplied))
			}
			return nil
		},
	}
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "scaffold a new Go migration file",
		ArgsUsage: "<name words>",
		Action: func(c *cli.Context) error {
			name := strings.Join(c.Args().Slice(), "_")
			if name == "" {
				return cli.Exit("create needs a migration name", 1)
			}

			migrator, db, err := openMigrator(c)
			if err != nil {
				return err
			}
			defer db.Close()

			mf, err := migrator.CreateGoMigration(
				c.Context,
				name,
				migrate.WithGoTemplate(migrationTemplate),
			)
			if err != nil {
				return err
			}
			fmt.Printf("Created %s\n", mf.Path)
			return nil
		},
	}
}

const migrationTemplate = `package %s

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec("")
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec("")
		return errors.WithStack(err)
	}

	Migrations.MustRegister(up, down)
}
`
