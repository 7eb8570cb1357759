package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"discord-guild-bot/internal/model"
)

// ModerationRepository persists the moderation journal and member warnings.
type ModerationRepository struct {
	pool *pgxpool.Pool
}

// NewModerationRepository creates a new ModerationRepository instance.
func NewModerationRepository(pool *pgxpool.Pool) *ModerationRepository {
	return &ModerationRepository{pool: pool}
}

// Record appends an entry to the moderation journal and returns it with its
// assigned id. Entries are never updated or deleted.
func (r *ModerationRepository) Record(ctx context.Context, rec model.ModerationRecord) (*model.ModerationRecord, error) {
	const query = `
		INSERT INTO mod_logs (guild_id, moderator_id, target_id, action, reason, duration_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at
	`

	var seconds *int64
	if rec.Duration != nil {
		s := int64(rec.Duration.Seconds())
		seconds = &s
	}

	err := r.pool.QueryRow(ctx, query,
		rec.GuildID, rec.ModeratorID, rec.TargetID, string(rec.Action), rec.Reason, seconds,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return nil, classify("record moderation", err)
	}
	return &rec, nil
}

// ListByTarget returns the journal entries about a member, newest first.
func (r *ModerationRepository) ListByTarget(ctx context.Context, guildID, targetID int64, limit int) ([]*model.ModerationRecord, error) {
	const query = `
		SELECT id, guild_id, moderator_id, target_id, action, reason, duration_seconds, created_at
		FROM mod_logs
		WHERE guild_id = $1 AND target_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, guildID, targetID, limit)
	if err != nil {
		return nil, classify("list moderation", err)
	}
	defer rows.Close()

	var records []*model.ModerationRecord
	for rows.Next() {
		var (
			rec     model.ModerationRecord
			action  string
			seconds *int64
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.GuildID,
			&rec.ModeratorID,
			&rec.TargetID,
			&action,
			&rec.Reason,
			&seconds,
			&rec.CreatedAt,
		); err != nil {
			return nil, classify("scan moderation", err)
		}
		rec.Action = model.ModAction(action)
		if seconds != nil {
			d := time.Duration(*seconds) * time.Second
			rec.Duration = &d
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list moderation", err)
	}
	return records, nil
}

// AddWarning stores an active warning and bumps the member's warning count
// in the same transaction.
func (r *ModerationRepository) AddWarning(ctx context.Context, guildID, userID, moderatorID int64, reason string) (*model.Warning, error) {
	w := model.Warning{
		GuildID:     guildID,
		UserID:      userID,
		ModeratorID: moderatorID,
		Reason:      reason,
		Active:      true,
	}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const insert = `
			INSERT INTO warnings (guild_id, user_id, moderator_id, reason, active, created_at)
			VALUES ($1, $2, $3, $4, TRUE, NOW())
			RETURNING id, created_at
		`
		if err := tx.QueryRow(ctx, insert, guildID, userID, moderatorID, reason).Scan(&w.ID, &w.CreatedAt); err != nil {
			return err
		}

		if err := ensureMember(ctx, tx, guildID, userID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE members SET warnings = warnings + 1 WHERE guild_id = $1 AND user_id = $2`,
			guildID, userID)
		return err
	})
	if err != nil {
		return nil, classify("add warning", err)
	}
	return &w, nil
}

// ClearWarning deactivates an active warning. Clearing is one-way: a warning
// that is unknown or already cleared yields ErrNotFound.
func (r *ModerationRepository) ClearWarning(ctx context.Context, guildID, warningID int64) (*model.Warning, error) {
	var w model.Warning

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const clear = `
			UPDATE warnings
			SET active = FALSE, cleared_at = NOW()
			WHERE id = $1 AND guild_id = $2 AND active
			RETURNING id, guild_id, user_id, moderator_id, reason, active, created_at, cleared_at
		`
		if err := tx.QueryRow(ctx, clear, warningID, guildID).Scan(
			&w.ID,
			&w.GuildID,
			&w.UserID,
			&w.ModeratorID,
			&w.Reason,
			&w.Active,
			&w.CreatedAt,
			&w.ClearedAt,
		); err != nil {
			return err
		}

		_, err := tx.Exec(ctx,
			`UPDATE members SET warnings = GREATEST(warnings - 1, 0) WHERE guild_id = $1 AND user_id = $2`,
			w.GuildID, w.UserID)
		return err
	})
	if err != nil {
		return nil, classify("clear warning", err)
	}
	return &w, nil
}

// ListActiveWarnings returns a member's active warnings, oldest first.
func (r *ModerationRepository) ListActiveWarnings(ctx context.Context, guildID, userID int64) ([]*model.Warning, error) {
	const query = `
		SELECT id, guild_id, user_id, moderator_id, reason, active, created_at, cleared_at
		FROM warnings
		WHERE guild_id = $1 AND user_id = $2 AND active
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, guildID, userID)
	if err != nil {
		return nil, classify("list warnings", err)
	}
	defer rows.Close()

	var warnings []*model.Warning
	for rows.Next() {
		var w model.Warning
		if err := rows.Scan(
			&w.ID,
			&w.GuildID,
			&w.UserID,
			&w.ModeratorID,
			&w.Reason,
			&w.Active,
			&w.CreatedAt,
			&w.ClearedAt,
		); err != nil {
			return nil, classify("scan warning", err)
		}
		warnings = append(warnings, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list warnings", err)
	}
	return warnings, nil
}
