package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"discord-guild-bot/internal/model"
	"discord-guild-bot/internal/pkg/db"
)

const memberColumns = `user_id, guild_id, xp, level, coins, last_message_at, warnings, reputation, created_at`

// MemberRepository handles per-guild member state persistence.
type MemberRepository struct {
	pool *pgxpool.Pool
}

// NewMemberRepository creates a new MemberRepository instance.
func NewMemberRepository(pool *pgxpool.Pool) *MemberRepository {
	return &MemberRepository{pool: pool}
}

func scanMember(row pgx.Row) (*model.MemberState, error) {
	var m model.MemberState
	err := row.Scan(
		&m.UserID,
		&m.GuildID,
		&m.XP,
		&m.Level,
		&m.Coins,
		&m.LastMessageAt,
		&m.Warnings,
		&m.Reputation,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ensureMember inserts the default row for a member if it is missing.
func ensureMember(ctx context.Context, q db.Execer, guildID, userID int64) error {
	_, err := q.Exec(ctx, `
		INSERT INTO members (user_id, guild_id, xp, level, coins, warnings, reputation, created_at)
		VALUES ($1, $2, 0, $3, $4, 0, 0, NOW())
		ON CONFLICT (user_id, guild_id) DO NOTHING
	`, userID, guildID, model.InitialLevel, model.InitialCoins)
	return err
}

// Get retrieves a member's state.
// Returns ErrNotFound if the member has never been tracked.
func (r *MemberRepository) Get(ctx context.Context, guildID, userID int64) (*model.MemberState, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE guild_id = $1 AND user_id = $2`

	m, err := scanMember(r.pool.QueryRow(ctx, query, guildID, userID))
	if err != nil {
		return nil, classify("get member", err)
	}
	return m, nil
}

// Ensure returns the member's state, creating the default row first if needed.
func (r *MemberRepository) Ensure(ctx context.Context, guildID, userID int64) (*model.MemberState, error) {
	if err := ensureMember(ctx, r.pool, guildID, userID); err != nil {
		return nil, classify("ensure member", err)
	}
	return r.Get(ctx, guildID, userID)
}

// Update runs fn against the member's current state as one atomic
// read-modify-write. The row is created with defaults if it is missing and
// stays locked until the transaction ends, so concurrent updates of the same
// member serialize. fn reports whether it changed anything; when it returns
// false or an error nothing is written.
func (r *MemberRepository) Update(ctx context.Context, guildID, userID int64, fn func(m *model.MemberState) (bool, error)) (*model.MemberState, error) {
	var result *model.MemberState

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := ensureMember(ctx, tx, guildID, userID); err != nil {
			return err
		}

		query := `SELECT ` + memberColumns + ` FROM members WHERE guild_id = $1 AND user_id = $2 FOR UPDATE`
		m, err := scanMember(tx.QueryRow(ctx, query, guildID, userID))
		if err != nil {
			return err
		}

		changed, err := fn(m)
		if err != nil {
			return err
		}
		result = m
		if !changed {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE members
			SET xp = $3, level = $4, coins = $5, last_message_at = $6, reputation = $7
			WHERE guild_id = $1 AND user_id = $2
		`, guildID, userID, m.XP, m.Level, m.Coins, m.LastMessageAt, m.Reputation)
		return err
	})
	if err != nil {
		return nil, classify("update member", err)
	}
	return result, nil
}

// TopByXP returns the members of a guild with the most XP, highest first.
func (r *MemberRepository) TopByXP(ctx context.Context, guildID int64, limit int) ([]*model.MemberState, error) {
	query := `SELECT ` + memberColumns + `
		FROM members
		WHERE guild_id = $1
		ORDER BY xp DESC, user_id ASC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, guildID, limit)
	if err != nil {
		return nil, classify("top members", err)
	}
	defer rows.Close()

	var members []*model.MemberState
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, classify("scan member", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("top members", err)
	}
	return members, nil
}

// RankOf returns the 1-based XP position of a member inside its guild.
// Ties are broken by user id, matching TopByXP.
func (r *MemberRepository) RankOf(ctx context.Context, guildID, userID int64) (int, error) {
	const query = `
		SELECT pos FROM (
			SELECT user_id, ROW_NUMBER() OVER (ORDER BY xp DESC, user_id ASC) AS pos
			FROM members
			WHERE guild_id = $1
		) ranked
		WHERE user_id = $2
	`

	var pos int
	if err := r.pool.QueryRow(ctx, query, guildID, userID).Scan(&pos); err != nil {
		return 0, classify("rank member", err)
	}
	return pos, nil
}

// CountByGuild returns how many members are tracked in a guild.
func (r *MemberRepository) CountByGuild(ctx context.Context, guildID int64) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM members WHERE guild_id = $1`, guildID).Scan(&n); err != nil {
		return 0, classify("count members", err)
	}
	return n, nil
}

// CountDistinctUsers returns how many distinct users are tracked across guilds.
func (r *MemberRepository) CountDistinctUsers(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT user_id) FROM members`).Scan(&n); err != nil {
		return 0, classify("count users", err)
	}
	return n, nil
}
