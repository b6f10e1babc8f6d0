package data

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Supported database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know by default
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// schema is shared by both drivers: TEXT ids, BIGINT unix millis, INTEGER booleans
var schema = []string{
	`CREATE TABLE IF NOT EXISTS message_buffers (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		instance_id TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		agent_id TEXT NOT NULL DEFAULT '',
		messages TEXT NOT NULL,
		first_message_at BIGINT NOT NULL,
		last_message_at BIGINT NOT NULL,
		scheduled_response_at BIGINT NOT NULL,
		status TEXT NOT NULL,
		claimed_at BIGINT NOT NULL DEFAULT 0,
		completed_at BIGINT NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		version BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_buffers_buffering ON message_buffers(conversation_id) WHERE status = 'buffering'`,
	`CREATE INDEX IF NOT EXISTS idx_buffers_due ON message_buffers(status, scheduled_response_at)`,
	`CREATE INDEX IF NOT EXISTS idx_buffers_conversation ON message_buffers(conversation_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS whatsapp_instances (
		id TEXT PRIMARY KEY,
		instance_key TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		token TEXT NOT NULL DEFAULT '',
		default_agent_id TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'webhook',
		webhook_url TEXT NOT NULL DEFAULT '',
		system_prompt TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		response_delay_min INTEGER NOT NULL DEFAULT 0,
		response_delay_max INTEGER NOT NULL DEFAULT 0,
		typing_simulation INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1
	)`,

	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		instance_id TEXT NOT NULL,
		phone TEXT NOT NULL,
		contact_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'open',
		priority TEXT NOT NULL DEFAULT '',
		ai_enabled INTEGER NOT NULL DEFAULT 1,
		assigned_to TEXT NOT NULL DEFAULT '',
		agent_id TEXT NOT NULL DEFAULT '',
		last_message_at BIGINT NOT NULL DEFAULT 0,
		last_message_preview TEXT NOT NULL DEFAULT '',
		unread_count INTEGER NOT NULL DEFAULT 0,
		snoozed_until BIGINT NOT NULL DEFAULT 0,
		inactivity_fired_at BIGINT NOT NULL DEFAULT 0,
		inactivity_fired_minutes INTEGER NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		UNIQUE (instance_id, phone)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_activity ON conversations(status, last_message_at)`,

	`CREATE TABLE IF NOT EXISTS conversation_labels (
		conversation_id TEXT NOT NULL,
		label TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (conversation_id, label)
	)`,

	`CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		sender_type TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		media_url TEXT NOT NULL DEFAULT '',
		media_type TEXT NOT NULL DEFAULT '',
		external_id TEXT NOT NULL DEFAULT '',
		is_private INTEGER NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_conversation ON chat_messages(conversation_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS automation_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		event_type TEXT NOT NULL,
		conditions TEXT NOT NULL DEFAULT '{}',
		actions TEXT NOT NULL DEFAULT '[]',
		is_active INTEGER NOT NULL DEFAULT 1,
		position INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_event ON automation_rules(event_type, position)`,

	`CREATE TABLE IF NOT EXISTS automation_macros (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		actions TEXT NOT NULL DEFAULT '[]'
	)`,
}

// OpenDB opens the database for driver and creates the schema
func OpenDB(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case "", DriverSQLite:
		return openSQLite(ctx, dsn)
	case DriverPostgres, "postgres":
		return openPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func openSQLite(ctx context.Context, path string) (*sqlx.DB, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sqlx.Open(DriverSQLite, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer keeps CAS updates and busy handling simple
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %s: %w", pragma, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("component", "data").Str("driver", DriverSQLite).Str("path", path).Msg("database initialized")
	return db, nil
}

func openPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("component", "data").Str("driver", DriverPostgres).Int("dsn_len", len(dsn)).Msg("database initialized")
	return db, nil
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// toMillis stores zero times as 0
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
