package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"discord-guild-bot/internal/model"
)

// StatsRepository stores the singleton bot status row.
type StatsRepository struct {
	pool *pgxpool.Pool
}

// NewStatsRepository creates a new StatsRepository instance.
func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{pool: pool}
}

// Save overwrites the status row with s.
func (r *StatsRepository) Save(ctx context.Context, s model.StatsSnapshot) error {
	const query = `
		INSERT INTO bot_status (id, online, guild_count, user_count, last_heartbeat)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			online = EXCLUDED.online,
			guild_count = EXCLUDED.guild_count,
			user_count = EXCLUDED.user_count,
			last_heartbeat = EXCLUDED.last_heartbeat
	`

	if _, err := r.pool.Exec(ctx, query, s.Online, s.GuildCount, s.UserCount, s.LastHeartbeat); err != nil {
		return classify("save stats", err)
	}
	return nil
}

// Get returns the last saved snapshot.
// Returns ErrNotFound before the first Save.
func (r *StatsRepository) Get(ctx context.Context) (*model.StatsSnapshot, error) {
	const query = `SELECT online, guild_count, user_count, last_heartbeat FROM bot_status WHERE id = 1`

	var s model.StatsSnapshot
	if err := r.pool.QueryRow(ctx, query).Scan(&s.Online, &s.GuildCount, &s.UserCount, &s.LastHeartbeat); err != nil {
		return nil, classify("get stats", err)
	}
	return &s, nil
}

// SetOnline sets the online flag and heartbeat, keeping the last counts.
func (r *StatsRepository) SetOnline(ctx context.Context, online bool, heartbeat time.Time) error {
	const query = `
		INSERT INTO bot_status (id, online, last_heartbeat)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET
			online = EXCLUDED.online,
			last_heartbeat = EXCLUDED.last_heartbeat
	`

	if _, err := r.pool.Exec(ctx, query, online, heartbeat); err != nil {
		return classify("set online", err)
	}
	return nil
}
