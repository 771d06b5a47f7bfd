// Command migrate applies the SQL files under migrations/ with golang-migrate.
// The applied version is tracked in the schema_migrations table.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/welldanyogia/secure-login/backend/internal/config"
	"github.com/welldanyogia/secure-login/backend/internal/logger"
)

// Version is set at build time
var Version = "dev"

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultMigrationsPath   = "migrations"
)

// Options holds migration settings
type Options struct {
	DSN            string
	MigrationsPath string
	Timeout        time.Duration
	DryRun         bool
}

var log *slog.Logger

func main() {
	log = logger.New(logger.DefaultConfig())

	db := config.Load().Database
	flag.StringVar(&db.Host, "db-host", db.Host, "Database host (DB_HOST)")
	flag.StringVar(&db.Port, "db-port", db.Port, "Database port (DB_PORT)")
	flag.StringVar(&db.User, "db-user", db.User, "Database user (DB_USER)")
	flag.StringVar(&db.Password, "db-password", db.Password, "Database password (DB_PASSWORD)")
	flag.StringVar(&db.DBName, "db-name", db.DBName, "Database name (DB_NAME)")
	flag.StringVar(&db.SSLMode, "db-sslmode", db.SSLMode, "Database SSL mode (DB_SSLMODE)")

	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = defaultMigrationsPath
	}
	migrPath := flag.String("path", migrationsPath, "Path to migrations directory (MIGRATIONS_PATH)")
	timeout := flag.Duration("timeout", defaultMigrationTimeout, "Lock and connect timeout")
	dryRun := flag.Bool("dry-run", false, "Show what would be done without executing")
	version := flag.Bool("version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  up [N]       Apply all or N up migrations\n")
		fmt.Fprintf(os.Stderr, "  down [N]     Roll back all or N migrations\n")
		fmt.Fprintf(os.Stderr, "  goto V       Migrate to version V\n")
		fmt.Fprintf(os.Stderr, "  force V      Set version V without running migrations\n")
		fmt.Fprintf(os.Stderr, "  version      Print current migration version\n")
		fmt.Fprintf(os.Stderr, "  create NAME  Create a new migration file pair\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		fmt.Printf("migrate version %s\n", Version)
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	opts := &Options{
		DSN:            db.DSN(),
		MigrationsPath: *migrPath,
		Timeout:        *timeout,
		DryRun:         *dryRun,
	}

	if err := runCommand(opts, args[0], args[1:]); err != nil {
		log.Error("migration command failed", slog.String("command", args[0]), slog.Any("error", err))
		os.Exit(1)
	}
}

func runCommand(opts *Options, cmd string, args []string) error {
	switch cmd {
	case "create":
		if len(args) < 1 {
			return errors.New("create requires a migration name")
		}
		return createMigration(opts, args[0])
	case "version":
		return showVersion(opts)
	case "up", "down":
		steps := 0
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return fmt.Errorf("invalid number of steps: %s", args[0])
			}
			steps = n
		}
		if cmd == "down" {
			return migrateDown(opts, steps)
		}
		return migrateUp(opts, steps)
	case "goto":
		if len(args) < 1 {
			return errors.New("goto requires a version number")
		}
		v, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version: %s", args[0])
		}
		return withMigrate(opts, fmt.Sprintf("migrate to version %d", v), func(m *migrate.Migrate) error {
			return m.Migrate(uint(v))
		})
	case "force":
		if len(args) < 1 {
			return errors.New("force requires a version number")
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version: %s", args[0])
		}
		return withMigrate(opts, fmt.Sprintf("force version %d", v), func(m *migrate.Migrate) error {
			return m.Force(v)
		})
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// createMigration writes an empty NNN_name.up.sql / .down.sql pair
func createMigration(opts *Options, name string) error {
	next, err := nextMigrationNumber(opts.MigrationsPath)
	if err != nil {
		return fmt.Errorf("failed to determine next migration number: %w", err)
	}

	upFile := filepath.Join(opts.MigrationsPath, fmt.Sprintf("%06d_%s.up.sql", next, name))
	downFile := filepath.Join(opts.MigrationsPath, fmt.Sprintf("%06d_%s.down.sql", next, name))

	if opts.DryRun {
		log.Info("dry run", slog.String("would_create", upFile), slog.String("and", downFile))
		return nil
	}

	if err := os.MkdirAll(opts.MigrationsPath, 0755); err != nil {
		return fmt.Errorf("failed to create migrations directory: %w", err)
	}

	created := time.Now().Format(time.RFC3339)
	if err := os.WriteFile(upFile, []byte(fmt.Sprintf("-- %s\n-- created %s\n", name, created)), 0644); err != nil {
		return fmt.Errorf("failed to create up migration: %w", err)
	}
	if err := os.WriteFile(downFile, []byte(fmt.Sprintf("-- %s (rollback)\n-- created %s\n", name, created)), 0644); err != nil {
		return fmt.Errorf("failed to create down migration: %w", err)
	}

	log.Info("created migration files", slog.String("up", upFile), slog.String("down", downFile))
	return nil
}

func nextMigrationNumber(migrationsPath string) (int, error) {
	entries, err := os.ReadDir(migrationsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}

	maxNum := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var num int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &num); err == nil && num > maxNum {
			maxNum = num
		}
	}
	return maxNum + 1, nil
}

func showVersion(opts *Options) error {
	m, err := newMigrate(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Info("no migrations have been applied yet")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}

	log.Info("current migration version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	return nil
}

func migrateUp(opts *Options, steps int) error {
	return withMigrate(opts, fmt.Sprintf("apply %d up migrations (0 = all)", steps), func(m *migrate.Migrate) error {
		if steps > 0 {
			return m.Steps(steps)
		}
		return m.Up()
	})
}

func migrateDown(opts *Options, steps int) error {
	return withMigrate(opts, fmt.Sprintf("roll back %d migrations (0 = all)", steps), func(m *migrate.Migrate) error {
		if steps > 0 {
			return m.Steps(-steps)
		}
		return m.Down()
	})
}

// withMigrate runs fn against a fresh migrate instance and logs the version
// change. ErrNoChange is not an error.
func withMigrate(opts *Options, description string, fn func(m *migrate.Migrate) error) error {
	if opts.DryRun {
		log.Info("dry run", slog.String("would", description))
		return nil
	}

	m, err := newMigrate(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	from, _, _ := m.Version()
	if err := fn(m); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("no change", slog.Uint64("version", uint64(from)))
			return nil
		}
		return fmt.Errorf("%s: %w", description, err)
	}

	to, _, _ := m.Version()
	log.Info("migration completed", slog.Uint64("from", uint64(from)), slog.Uint64("to", uint64(to)))
	return nil
}

func newMigrate(opts *Options) (*migrate.Migrate, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	db, err := sql.Open("pgx", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	migrationsPath, err := filepath.Abs(opts.MigrationsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migrations path: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.LockTimeout = opts.Timeout

	return m, nil
}
