// Package testdb starts a disposable PostgreSQL container with the steward
// schema applied, for package-level integration tests. It is imported only
// from _test files.
package testdb

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/JaimeStill/steward/migrations"
	"github.com/JaimeStill/steward/pkg/pagination"
)

const (
	image    = "postgres:16-alpine"
	user     = "steward"
	password = "steward"
	database = "steward"
)

// Run is called from TestMain. It starts the container, migrates it, stores the
// connection in *db and runs the tests. With -short, or when Docker is not
// reachable, *db stays nil and integration tests skip through Require.
func Run(m *testing.M, db **sql.DB) int {
	flag.Parse()

	if testing.Short() {
		return m.Run()
	}

	ctx := context.Background()

	container, conn, err := start(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testdb: integration tests disabled: %v\n", err)
		return m.Run()
	}

	*db = conn
	code := m.Run()

	conn.Close()
	_ = container.Terminate(ctx)
	return code
}

// Require skips t when no database is available.
func Require(t *testing.T, db *sql.DB) {
	t.Helper()
	if db == nil {
		t.Skip("integration test requires docker; skipped")
	}
}

// Logger returns a logger that discards all output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Pagination returns a finalized default pagination config.
func Pagination() pagination.Config {
	cfg := pagination.Config{}
	_ = cfg.Finalize(nil)
	return cfg
}

func start(ctx context.Context) (container testcontainers.Container, conn *sql.DB, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("docker provider unavailable: %v", r)
		}
	}()

	req := testcontainers.ContainerRequest{
		Image:        image,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     user,
			"POSTGRES_PASSWORD": password,
			"POSTGRES_DB":       database,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, fmt.Errorf("container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, fmt.Errorf("container port: %w", err)
	}

	url := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port.Port(), database)

	if err := Migrate(url); err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, err
	}

	conn, err = sql.Open("pgx", url)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(20)

	return container, conn, nil
}

// Migrate applies every embedded up migration to the database at url.
func Migrate(url string) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, url)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
