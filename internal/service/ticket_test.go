package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-guild-bot/internal/model"
	"discord-guild-bot/internal/repository"
)

func TestTicket_ConcurrentOpenSingleWinner(t *testing.T) {
	store := newFakeTicketStore()
	svc := NewTicketService(store, testPolicy)

	var (
		wins, conflicts atomic.Int32
		wg              sync.WaitGroup
	)
	wg.Add(2)
	for _, channelID := range []int64{10, 11} {
		go func(channelID int64) {
			defer wg.Done()
			_, err := svc.Open(context.Background(), testGuild, testUser, channelID, 99)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, repository.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(channelID)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(1), conflicts.Load())
	assert.Equal(t, 1, store.openCount(testGuild, testUser))
}

func TestTicket_CloseLifecycle(t *testing.T) {
	store := newFakeTicketStore()
	svc := NewTicketService(store, testPolicy)
	ctx := context.Background()

	ticket, err := svc.Open(ctx, testGuild, testUser, 10, 99)
	require.NoError(t, err)

	closedAt := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	closed, err := svc.Close(ctx, ticket.ID, closedAt)
	require.NoError(t, err)
	assert.Equal(t, model.TicketClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	assert.True(t, closed.ClosedAt.Equal(closedAt))

	// Closing twice is rejected and the status stays closed.
	_, err = svc.Close(ctx, ticket.ID, closedAt)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = svc.GetOpen(ctx, testGuild, testUser)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = svc.Close(ctx, 12345, closedAt)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// A closed ticket does not block a new one.
	reopened, err := svc.Open(ctx, testGuild, testUser, 12, 99)
	require.NoError(t, err)
	assert.NotEqual(t, ticket.ID, reopened.ID)
}

func TestTicket_CloseByChannel(t *testing.T) {
	store := newFakeTicketStore()
	svc := NewTicketService(store, testPolicy)
	fixed := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	ctx := context.Background()

	_, err := svc.CloseByChannel(ctx, testGuild, 10)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	ticket, err := svc.Open(ctx, testGuild, testUser, 10, 99)
	require.NoError(t, err)

	closed, err := svc.CloseByChannel(ctx, testGuild, 10)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, closed.ID)
	assert.True(t, closed.ClosedAt.Equal(fixed))

	open, err := svc.ListOpen(ctx, testGuild)
	require.NoError(t, err)
	assert.Empty(t, open)
}
