package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/vladislavdragonenkov/ordercore/internal/storage/postgres"
)

const defaultTimeout = 30 * time.Second

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "migrate",
		Usage:  "manage the ordercore PostgreSQL schema",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "dsn",
				Usage:    "PostgreSQL DSN",
				EnvVars:  []string{"ORDERCORE_POSTGRES_DSN"},
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "overall timeout for the command",
				Value: defaultTimeout,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply pending migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "steps", Usage: "number of migrations to apply (0 = all)"},
				},
				Action: withStore("migrate up", func(ctx context.Context, c *cli.Context, store *postgres.Store) error {
					return store.MigrateUp(ctx, c.Int("steps"))
				}),
			},
			{
				Name:  "down",
				Usage: "roll back applied migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "steps", Usage: "number of migrations to roll back", Value: 1},
				},
				Action: withStore("migrate down", func(ctx context.Context, c *cli.Context, store *postgres.Store) error {
					return store.MigrateDown(ctx, c.Int("steps"))
				}),
			},
			{
				Name:   "status",
				Usage:  "print the current schema version",
				Action: withStore("migration status", nil),
			},
		},
	}
}

// withStore открывает хранилище, выполняет run и печатает состояние схемы.
func withStore(label string, run func(ctx context.Context, c *cli.Context, store *postgres.Store) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		dsn := strings.TrimSpace(c.String("dsn"))
		if dsn == "" {
			return errors.New("dsn is required (--dsn or ORDERCORE_POSTGRES_DSN)")
		}

		ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
		defer cancel()

		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		defer store.Close()

		if run != nil {
			if err := run(ctx, c, store); err != nil {
				return fmt.Errorf("%s failed: %w", label, err)
			}
		}

		state, err := store.MigrationStatus(ctx)
		if err != nil {
			return fmt.Errorf("migration status failed: %w", err)
		}
		_, err = fmt.Fprintf(c.App.Writer, "%s ok: version=%d applied=%d pending=%d drifted=%d\n",
			label, state.Version, state.Applied, state.Pending, len(state.Drifted))
		return err
	}
}
