package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"discord-guild-bot/internal/model"
)

const guildColumns = `guild_id, name, prefix, welcome_channel_id, welcome_message, goodbye_message,
	auto_role_id, mod_log_channel_id, leveling_enabled, economy_enabled, auto_mod_enabled,
	music_enabled, created_at, updated_at`

// GuildRepository handles guild settings persistence.
type GuildRepository struct {
	pool *pgxpool.Pool
}

// NewGuildRepository creates a new GuildRepository instance.
func NewGuildRepository(pool *pgxpool.Pool) *GuildRepository {
	return &GuildRepository{pool: pool}
}

func scanGuild(row pgx.Row) (*model.GuildConfig, error) {
	var g model.GuildConfig
	err := row.Scan(
		&g.GuildID,
		&g.Name,
		&g.Prefix,
		&g.WelcomeChannelID,
		&g.WelcomeMessage,
		&g.GoodbyeMessage,
		&g.AutoRoleID,
		&g.ModLogChannelID,
		&g.Features.Leveling,
		&g.Features.Economy,
		&g.Features.AutoModeration,
		&g.Features.Music,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Get retrieves the settings of a guild.
// Returns ErrNotFound if the guild has never been seen.
func (r *GuildRepository) Get(ctx context.Context, guildID int64) (*model.GuildConfig, error) {
	query := `SELECT ` + guildColumns + ` FROM guilds WHERE guild_id = $1`

	g, err := scanGuild(r.pool.QueryRow(ctx, query, guildID))
	if err != nil {
		return nil, classify("get guild", err)
	}
	return g, nil
}

// Ensure creates the guild row with the given feature defaults, or refreshes
// only its name if the guild already exists. Settings survive a rejoin.
func (r *GuildRepository) Ensure(ctx context.Context, guildID int64, name string, defaults model.Features) (*model.GuildConfig, error) {
	query := `
		INSERT INTO guilds (guild_id, name, leveling_enabled, economy_enabled, auto_mod_enabled, music_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (guild_id)
		DO UPDATE SET name = EXCLUDED.name, updated_at = GREATEST(NOW(), guilds.updated_at)
		RETURNING ` + guildColumns

	g, err := scanGuild(r.pool.QueryRow(ctx, query,
		guildID, name,
		defaults.Leveling, defaults.Economy, defaults.AutoModeration, defaults.Music,
	))
	if err != nil {
		return nil, classify("ensure guild", err)
	}
	return g, nil
}

// Upsert applies a partial settings update in a single statement.
// Fields left nil in the patch keep their stored value. When the row is
// created by this call, nil toggles take defaults and other fields the column
// default. updated_at never moves backwards.
func (r *GuildRepository) Upsert(ctx context.Context, guildID int64, p model.GuildSettingsPatch, defaults model.Features) (*model.GuildConfig, error) {
	query := `
		INSERT INTO guilds (
			guild_id, name, prefix, welcome_channel_id, welcome_message, goodbye_message,
			auto_role_id, mod_log_channel_id, leveling_enabled, economy_enabled,
			auto_mod_enabled, music_enabled, created_at, updated_at
		)
		VALUES (
			$1, COALESCE($2, ''), COALESCE($3, '!'), $4, COALESCE($5, ''), COALESCE($6, ''),
			$7, $8, COALESCE($9::boolean, $13::boolean), COALESCE($10::boolean, $14::boolean),
			COALESCE($11::boolean, $15::boolean), COALESCE($12::boolean, $16::boolean), NOW(), NOW()
		)
		ON CONFLICT (guild_id) DO UPDATE SET
			name = COALESCE($2, guilds.name),
			prefix = COALESCE($3, guilds.prefix),
			welcome_channel_id = COALESCE($4, guilds.welcome_channel_id),
			welcome_message = COALESCE($5, guilds.welcome_message),
			goodbye_message = COALESCE($6, guilds.goodbye_message),
			auto_role_id = COALESCE($7, guilds.auto_role_id),
			mod_log_channel_id = COALESCE($8, guilds.mod_log_channel_id),
			leveling_enabled = COALESCE($9, guilds.leveling_enabled),
			economy_enabled = COALESCE($10, guilds.economy_enabled),
			auto_mod_enabled = COALESCE($11, guilds.auto_mod_enabled),
			music_enabled = COALESCE($12, guilds.music_enabled),
			updated_at = GREATEST(NOW(), guilds.updated_at)
		RETURNING ` + guildColumns

	g, err := scanGuild(r.pool.QueryRow(ctx, query,
		guildID,
		p.Name,
		p.Prefix,
		p.WelcomeChannelID,
		p.WelcomeMessage,
		p.GoodbyeMessage,
		p.AutoRoleID,
		p.ModLogChannelID,
		p.Leveling,
		p.Economy,
		p.AutoModeration,
		p.Music,
		defaults.Leveling,
		defaults.Economy,
		defaults.AutoModeration,
		defaults.Music,
	))
	if err != nil {
		return nil, classify("upsert guild", err)
	}
	return g, nil
}

// Count returns the number of known guilds.
func (r *GuildRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM guilds`).Scan(&n); err != nil {
		return 0, classify("count guilds", err)
	}
	return n, nil
}
