package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/example/sessionauth/internal/config"
)

func fatal(msg string, err error) {
	slog.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}

func main() {
	var (
		command = flag.String("command", "up", "Migration command: up, down, version, force")
		steps   = flag.Int("steps", 0, "Number of migration steps (for up/down)")
		version = flag.Uint("version", 0, "Target version (for force command)")
		dir     = flag.String("dir", "", "Migrations directory (default MIGRATIONS_DIR)")
	)
	flag.Parse()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cfg, err := config.New()
	if err != nil {
		fatal("config error", err)
	}
	if cfg.DBAdapter != "postgres" {
		fatal("unsupported adapter", fmt.Errorf("migrations only work with PostgreSQL, got %s", cfg.DBAdapter))
	}

	migrationsDir := cfg.MigrationsDir
	if *dir != "" {
		migrationsDir = *dir
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		fatal("opening database connection", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		fatal("database ping failed", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		fatal("creating migrate driver", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsDir, "postgres", driver)
	if err != nil {
		fatal("creating migrate instance", err)
	}

	switch *command {
	case "up":
		if err := run(m, true, *steps); err != nil {
			fatal("migration up failed", err)
		}
		fmt.Println("migrations applied")
	case "down":
		if err := run(m, false, *steps); err != nil {
			fatal("migration down failed", err)
		}
		fmt.Println("migrations rolled back")
	case "version":
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("no migrations applied")
			return
		}
		if err != nil {
			fatal("failed to get version", err)
		}
		if dirty {
			fmt.Printf("database is in a dirty state (version %d)\n", v)
			os.Exit(1)
		}
		fmt.Printf("current migration version: %d\n", v)
	case "force":
		if *version == 0 {
			fatal("force", errors.New("version required (use -version flag)"))
		}
		if err := m.Force(int(*version)); err != nil {
			fatal("force migration failed", err)
		}
		fmt.Printf("forced database to version %d\n", *version)
	default:
		fatal("usage", fmt.Errorf("unknown command: %s (supported: up, down, version, force)", *command))
	}
}

func run(m *migrate.Migrate, up bool, steps int) error {
	var err error
	switch {
	case steps > 0 && up:
		err = m.Steps(steps)
	case steps > 0:
		err = m.Steps(-steps)
	case up:
		err = m.Up()
	default:
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
