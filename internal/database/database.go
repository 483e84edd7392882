package database

import (
	"context"
	"fmt"

	"gearhead-backend/internal/config"
	"gearhead-backend/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Database struct {
	Pool *pgxpool.Pool
}

func NewConnection(ctx context.Context, cfg *config.Config) (*Database, error) {
	pool, err := pgxpool.New(ctx, cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	logger.Info().Msg("Successfully connected to database")
	return &Database{Pool: pool}, nil
}

func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Migration is one idempotent schema step.
type Migration struct {
	Name string
	SQL  string
}

// Migrations returns the schema steps in the order they must run.
func Migrations() []Migration {
	return []Migration{
		{"profiles", createProfilesTable},
		{"bids", createBidsTable},
		{"conversations", createConversationsTable},
		{"messages", createMessagesTable},
		{"notifications", createNotificationsTable},
		{"device_tokens", createDeviceTokensTable},
		{"indexes", createIndexes},
		{"unlock_function", createUnlockFunction},
		{"unlock_trigger", createUnlockTrigger},
		{"touch_trigger", createTouchTrigger},
		{"row_level_security", enableRowLevelSecurity},
		{"client_write_grants", restrictClientWrites},
		{"immutable_columns_trigger", createImmutableColumnsTrigger},
		{"realtime_publication", addRealtimePublication},
	}
}

func RunMigrations(ctx context.Context, db *Database) error {
	for _, m := range Migrations() {
		if _, err := db.Pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", m.Name, err)
		}
		logger.Debug().Str("migration", m.Name).Msg("migration applied")
	}

	logger.Info().Msg("Database migrations completed successfully")
	return nil
}

func (db *Database) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return db.Pool.Begin(ctx)
}

func (db *Database) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return db.Pool.QueryRow(ctx, sql, args...)
}

func (db *Database) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return db.Pool.Query(ctx, sql, args...)
}

func (db *Database) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return db.Pool.Exec(ctx, sql, args...)
}
