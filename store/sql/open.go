package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/goliatone/go-guardrelay/core"
	"github.com/goliatone/go-guardrelay/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	defaultSQLiteDSN = "file:guardrelay.db?cache=shared&_foreign_keys=on"
	pingTimeout      = 5 * time.Second
)

type persistenceConfig struct {
	driver string
	server string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return pingTimeout }
func (c persistenceConfig) GetOtelIdentifier() string     { return "go-guardrelay" }

// Open connects to the configured database and applies the relay schema migrations.
func Open(ctx context.Context, cfg core.DatabaseConfig) (*persistence.Client, error) {
	dialectName, err := migrations.DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	var (
		driver  string
		dialect schema.Dialect
	)
	dsn := strings.TrimSpace(cfg.DSN)
	switch dialectName {
	case migrations.DialectPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("sqlstore: database.dsn is required for postgres")
		}
		driver, dialect = "postgres", pgdialect.New()
	default:
		if dsn == "" {
			dsn = defaultSQLiteDSN
		}
		driver, dialect = "sqlite3", sqlitedialect.New()
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{driver: driver, server: dsn, debug: cfg.Debug}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}

	_, err = migrations.Register(ctx, func(_ context.Context, _ string, _ string, fsys fs.FS) error {
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithDialects(dialectName))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return client, nil
}
