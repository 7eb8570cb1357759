package service

import (
	"context"
	"fmt"
	"time"

	"discord-guild-bot/internal/model"
	"discord-guild-bot/internal/pkg/db"
)

// TicketStore is the persistence the ticket lifecycle needs.
type TicketStore interface {
	Open(ctx context.Context, guildID, userID, channelID, categoryID int64) (*model.Ticket, error)
	Close(ctx context.Context, ticketID int64, closedAt time.Time) (*model.Ticket, error)
	GetOpen(ctx context.Context, guildID, userID int64) (*model.Ticket, error)
	GetOpenByChannel(ctx context.Context, guildID, channelID int64) (*model.Ticket, error)
	ListOpen(ctx context.Context, guildID int64) ([]*model.Ticket, error)
}

// TicketService manages the open/closed lifecycle of support tickets.
type TicketService struct {
	store  TicketStore
	policy db.Policy
	now    func() time.Time
}

// NewTicketService creates a new TicketService instance.
func NewTicketService(store TicketStore, policy db.Policy) *TicketService {
	return &TicketService{store: store, policy: policy, now: time.Now}
}

// Open opens a ticket bound to channelID.
// Returns repository.ErrConflict if the user already has an open ticket in
// the guild; the check and the insert are a single statement.
func (s *TicketService) Open(ctx context.Context, guildID, userID, channelID, categoryID int64) (*model.Ticket, error) {
	var t *model.Ticket
	err := s.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		t, err = s.store.Open(ctx, guildID, userID, channelID, categoryID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ticket: %w", err)
	}
	return t, nil
}

// Close closes an open ticket at closedAt.
// Returns repository.ErrNotFound if it is unknown or already closed.
func (s *TicketService) Close(ctx context.Context, ticketID int64, closedAt time.Time) (*model.Ticket, error) {
	var t *model.Ticket
	err := s.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		t, err = s.store.Close(ctx, ticketID, closedAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to close ticket: %w", err)
	}
	return t, nil
}

// CloseByChannel closes the open ticket bound to channelID.
// Returns repository.ErrNotFound if the channel holds no open ticket.
func (s *TicketService) CloseByChannel(ctx context.Context, guildID, channelID int64) (*model.Ticket, error) {
	var t *model.Ticket
	err := s.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		t, err = s.store.GetOpenByChannel(ctx, guildID, channelID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find ticket: %w", err)
	}
	return s.Close(ctx, t.ID, s.now())
}

// GetOpen returns the user's open ticket in a guild.
func (s *TicketService) GetOpen(ctx context.Context, guildID, userID int64) (*model.Ticket, error) {
	var t *model.Ticket
	err := s.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		t, err = s.store.GetOpen(ctx, guildID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListOpen returns the open tickets of a guild.
func (s *TicketService) ListOpen(ctx context.Context, guildID int64) ([]*model.Ticket, error) {
	var tickets []*model.Ticket
	err := s.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		tickets, err = s.store.ListOpen(ctx, guildID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	return tickets, nil
}
