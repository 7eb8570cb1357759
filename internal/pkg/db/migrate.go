package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Execer is satisfied by *pgxpool.Pool, *Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type migration struct {
	name string
	sql  string
}

// migrations are applied in order on every startup, so each one must be
// safe to re-run.
var migrations = []migration{
	{
		name: "guilds table",
		sql: `
		CREATE TABLE IF NOT EXISTS guilds (
			guild_id BIGINT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			prefix VARCHAR(10) NOT NULL DEFAULT '!',
			welcome_channel_id BIGINT,
			welcome_message TEXT NOT NULL DEFAULT '',
			goodbye_message TEXT NOT NULL DEFAULT '',
			auto_role_id BIGINT,
			mod_log_channel_id BIGINT,
			leveling_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			economy_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			auto_mod_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			music_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`,
	},
	{
		name: "members table",
		sql: `
		CREATE TABLE IF NOT EXISTS members (
			user_id BIGINT NOT NULL,
			guild_id BIGINT NOT NULL,
			xp BIGINT NOT NULL DEFAULT 0 CHECK (xp >= 0),
			level INT NOT NULL DEFAULT 1 CHECK (level >= 1),
			coins BIGINT NOT NULL DEFAULT 100,
			last_message_at TIMESTAMPTZ,
			warnings INT NOT NULL DEFAULT 0 CHECK (warnings >= 0),
			reputation INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, guild_id)
		);
		CREATE INDEX IF NOT EXISTS idx_members_guild_xp ON members(guild_id, xp DESC);
	`,
	},
	{
		name: "mod_logs table",
		sql: `
		CREATE TABLE IF NOT EXISTS mod_logs (
			id BIGSERIAL PRIMARY KEY,
			guild_id BIGINT NOT NULL,
			moderator_id BIGINT NOT NULL,
			target_id BIGINT NOT NULL,
			action VARCHAR(16) NOT NULL CHECK (action IN ('kick', 'ban', 'warn', 'mute', 'purge')),
			reason TEXT NOT NULL DEFAULT '',
			duration_seconds BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_mod_logs_target ON mod_logs(guild_id, target_id, created_at DESC);
	`,
	},
	{
		name: "warnings table",
		sql: `
		CREATE TABLE IF NOT EXISTS warnings (
			id BIGSERIAL PRIMARY KEY,
			guild_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			moderator_id BIGINT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			cleared_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_warnings_active ON warnings(guild_id, user_id, created_at) WHERE active;
	`,
	},
	{
		name: "tickets table",
		sql: `
		CREATE TABLE IF NOT EXISTS tickets (
			id BIGSERIAL PRIMARY KEY,
			guild_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			channel_id BIGINT NOT NULL,
			category_id BIGINT NOT NULL,
			status VARCHAR(8) NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'closed')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			closed_at TIMESTAMPTZ
		);
		CREATE UNIQUE INDEX IF NOT EXISTS ux_tickets_open ON tickets(guild_id, user_id) WHERE status = 'open';
		CREATE INDEX IF NOT EXISTS idx_tickets_channel ON tickets(channel_id);
	`,
	},
	{
		name: "bot_status table",
		sql: `
		CREATE TABLE IF NOT EXISTS bot_status (
			id SMALLINT PRIMARY KEY CHECK (id = 1),
			online BOOLEAN NOT NULL DEFAULT FALSE,
			guild_count INT NOT NULL DEFAULT 0,
			user_count INT NOT NULL DEFAULT 0,
			last_heartbeat TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`,
	},
}

// Migrate creates the schema. It is idempotent and runs on every startup.
func Migrate(ctx context.Context, db Execer) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := db.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s): %w", i+1, m.name, err)
		}
		log.Info().Int("migration", i+1).Str("name", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
