package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"discord-guild-bot/internal/model"
)

const ticketColumns = `id, guild_id, user_id, channel_id, category_id, status, created_at, closed_at`

// TicketRepository handles support ticket persistence.
// At most one open ticket per (guild, user) is enforced by a partial unique
// index, so concurrent opens resolve to a single winner.
type TicketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository creates a new TicketRepository instance.
func NewTicketRepository(pool *pgxpool.Pool) *TicketRepository {
	return &TicketRepository{pool: pool}
}

func scanTicket(row pgx.Row) (*model.Ticket, error) {
	var (
		t      model.Ticket
		status string
	)
	err := row.Scan(
		&t.ID,
		&t.GuildID,
		&t.UserID,
		&t.ChannelID,
		&t.CategoryID,
		&status,
		&t.CreatedAt,
		&t.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = model.TicketStatus(status)
	return &t, nil
}

// Open creates an open ticket bound to channelID.
// Returns ErrConflict if the user already has an open ticket in the guild.
func (r *TicketRepository) Open(ctx context.Context, guildID, userID, channelID, categoryID int64) (*model.Ticket, error) {
	query := `
		INSERT INTO tickets (guild_id, user_id, channel_id, category_id, status, created_at)
		VALUES ($1, $2, $3, $4, 'open', NOW())
		RETURNING ` + ticketColumns

	t, err := scanTicket(r.pool.QueryRow(ctx, query, guildID, userID, channelID, categoryID))
	if err != nil {
		return nil, classify("open ticket", err)
	}
	return t, nil
}

// Close marks an open ticket closed.
// Returns ErrNotFound if the ticket does not exist or is already closed.
func (r *TicketRepository) Close(ctx context.Context, ticketID int64, closedAt time.Time) (*model.Ticket, error) {
	query := `
		UPDATE tickets
		SET status = 'closed', closed_at = $2
		WHERE id = $1 AND status = 'open'
		RETURNING ` + ticketColumns

	t, err := scanTicket(r.pool.QueryRow(ctx, query, ticketID, closedAt))
	if err != nil {
		return nil, classify("close ticket", err)
	}
	return t, nil
}

// GetOpen returns the user's open ticket in a guild.
// Returns ErrNotFound if there is none.
func (r *TicketRepository) GetOpen(ctx context.Context, guildID, userID int64) (*model.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
		FROM tickets
		WHERE guild_id = $1 AND user_id = $2 AND status = 'open'`

	t, err := scanTicket(r.pool.QueryRow(ctx, query, guildID, userID))
	if err != nil {
		return nil, classify("get open ticket", err)
	}
	return t, nil
}

// GetOpenByChannel returns the open ticket bound to a channel.
// Returns ErrNotFound if the channel is not an open ticket channel.
func (r *TicketRepository) GetOpenByChannel(ctx context.Context, guildID, channelID int64) (*model.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
		FROM tickets
		WHERE guild_id = $1 AND channel_id = $2 AND status = 'open'`

	t, err := scanTicket(r.pool.QueryRow(ctx, query, guildID, channelID))
	if err != nil {
		return nil, classify("get ticket by channel", err)
	}
	return t, nil
}

// ListOpen returns all open tickets of a guild, oldest first.
func (r *TicketRepository) ListOpen(ctx context.Context, guildID int64) ([]*model.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
		FROM tickets
		WHERE guild_id = $1 AND status = 'open'
		ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, guildID)
	if err != nil {
		return nil, classify("list open tickets", err)
	}
	defer rows.Close()

	var tickets []*model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, classify("scan ticket", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list open tickets", err)
	}
	return tickets, nil
}
