package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-guild-bot/internal/model"
	"discord-guild-bot/internal/pkg/lock"
	"discord-guild-bot/internal/repository"
)

const (
	testGuild int64 = 1001
	testUser  int64 = 2002
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T, store MemberStore, features model.Features, xp XPRange) *LedgerService {
	t.Helper()
	ledger, err := NewLedgerService(store, staticSettings{features: features}, lock.NewMemberLock(), xp, testPolicy)
	require.NoError(t, err)
	return ledger
}

func TestRequiredXP_KnownValues(t *testing.T) {
	assert.Equal(t, int64(155), RequiredXP(1))
	assert.Equal(t, int64(220), RequiredXP(2))
	assert.Equal(t, int64(295), RequiredXP(3))
}

func TestLevelForXP_Boundaries(t *testing.T) {
	assert.Equal(t, 1, LevelForXP(0))
	assert.Equal(t, 1, LevelForXP(154))
	assert.Equal(t, 2, LevelForXP(155))
	assert.Equal(t, 2, LevelForXP(219))
	assert.Equal(t, 3, LevelForXP(220))
}

func TestXPRange_Validate(t *testing.T) {
	assert.NoError(t, DefaultXPRange.Validate())
	assert.NoError(t, XPRange{Min: 20, Max: 20}.Validate())
	assert.ErrorIs(t, XPRange{Min: 30, Max: 20}.Validate(), ErrInvalidXPRange)
	assert.ErrorIs(t, XPRange{Min: -1, Max: 20}.Validate(), ErrInvalidXPRange)

	_, err := NewLedgerService(newFakeMemberStore(), staticSettings{}, nil, XPRange{Min: 5, Max: 1}, testPolicy)
	assert.ErrorIs(t, err, ErrInvalidXPRange)
}

// Messages at t=0s, 30s and 90s with a fixed award of 20: the 30s message
// falls inside the cooldown.
func TestRecordActivity_CooldownScenario(t *testing.T) {
	store := newFakeMemberStore()
	ledger := newTestLedger(t, store, model.AllFeatures(), XPRange{Min: 20, Max: 20})
	ctx := context.Background()

	for _, offset := range []time.Duration{0, 30 * time.Second, 90 * time.Second} {
		ev, err := ledger.RecordActivity(ctx, testUser, testGuild, t0.Add(offset))
		require.NoError(t, err)
		assert.Nil(t, ev)
	}

	m, err := store.Get(ctx, testGuild, testUser)
	require.NoError(t, err)
	assert.Equal(t, int64(40), m.XP)
	assert.Equal(t, 1, m.Level)
	require.NotNil(t, m.LastMessageAt)
	assert.True(t, m.LastMessageAt.Equal(t0.Add(90*time.Second)))
}

func TestRecordActivity_LevelingDisabled(t *testing.T) {
	store := newFakeMemberStore()
	features := model.AllFeatures()
	features.Leveling = false
	ledger := newTestLedger(t, store, features, DefaultXPRange)

	ev, err := ledger.RecordActivity(context.Background(), testUser, testGuild, t0)
	require.NoError(t, err)
	assert.Nil(t, ev)

	_, err = store.Get(context.Background(), testGuild, testUser)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRecordActivity_MultiLevelJump(t *testing.T) {
	store := newFakeMemberStore()
	ledger := newTestLedger(t, store, model.AllFeatures(), XPRange{Min: 300, Max: 300})

	ev, err := ledger.RecordActivity(context.Background(), testUser, testGuild, t0)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, 1, ev.OldLevel)
	assert.Equal(t, 4, ev.NewLevel)
	assert.Equal(t, LevelForXP(300), ev.NewLevel)
}

func TestRecordActivity_RetriesTransientFailure(t *testing.T) {
	store := newFakeMemberStore()
	store.failNext = 2
	ledger := newTestLedger(t, store, model.AllFeatures(), XPRange{Min: 20, Max: 20})

	_, err := ledger.RecordActivity(context.Background(), testUser, testGuild, t0)
	require.NoError(t, err)

	m, err := store.Get(context.Background(), testGuild, testUser)
	require.NoError(t, err)
	assert.Equal(t, int64(20), m.XP)
	assert.Equal(t, 1, store.writes)
}

func TestRecordActivity_GivesUpAfterBoundedAttempts(t *testing.T) {
	store := newFakeMemberStore()
	store.failNext = 10
	ledger := newTestLedger(t, store, model.AllFeatures(), DefaultXPRange)

	_, err := ledger.RecordActivity(context.Background(), testUser, testGuild, t0)
	assert.ErrorIs(t, err, repository.ErrTransient)
	assert.Equal(t, 10-testPolicy.Attempts, store.failNext)
}

// Overlapping deliveries of the same instant award xp once.
func TestRecordActivity_ConcurrentSameInstant(t *testing.T) {
	store := newFakeMemberStore()
	ledger := newTestLedger(t, store, model.AllFeatures(), XPRange{Min: 20, Max: 20})

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := ledger.RecordActivity(context.Background(), testUser, testGuild, t0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	m, err := store.Get(context.Background(), testGuild, testUser)
	require.NoError(t, err)
	assert.Equal(t, int64(20), m.XP)
	assert.Equal(t, 1, store.writes)
}

func TestSetLevel(t *testing.T) {
	store := newFakeMemberStore()
	ledger := newTestLedger(t, store, model.AllFeatures(), XPRange{Min: 20, Max: 20})
	ctx := context.Background()

	_, err := ledger.SetLevel(ctx, testGuild, testUser, 0)
	assert.ErrorIs(t, err, ErrInvalidLevel)

	for _, level := range []int{model.MaxLevel + 1, 1_500_000_000, 2_000_000_000} {
		_, err = ledger.SetLevel(ctx, testGuild, testUser, level)
		assert.ErrorIs(t, err, ErrInvalidLevel, level)
	}
	assert.Zero(t, store.writes)

	m, err := ledger.SetLevel(ctx, testGuild, testUser, model.MaxLevel)
	require.NoError(t, err)
	assert.Equal(t, model.MaxLevel, m.Level)
	assert.Positive(t, m.XP)
	assert.Equal(t, model.MaxLevel, LevelForXP(m.XP))

	m, err = ledger.SetLevel(ctx, testGuild, testUser, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, m.Level)
	assert.Equal(t, RequiredXP(5)-1, m.XP)

	// The next award crosses the threshold into level 6.
	ev, err := ledger.RecordActivity(ctx, testUser, testGuild, t0)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, 5, ev.OldLevel)
	assert.Equal(t, 6, ev.NewLevel)
}

func TestRankAndLeaderboard(t *testing.T) {
	store := newFakeMemberStore()
	ledger := newTestLedger(t, store, model.AllFeatures(), DefaultXPRange)
	ctx := context.Background()

	_, err := ledger.Rank(ctx, testGuild, testUser)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	for userID, level := range map[int64]int{1: 2, 2: 7, 3: 4} {
		_, err := ledger.SetLevel(ctx, testGuild, userID, level)
		require.NoError(t, err)
	}

	info, err := ledger.Rank(ctx, testGuild, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Position)
	assert.Equal(t, RequiredXP(4), info.RequiredXP)

	top, err := ledger.Leaderboard(ctx, testGuild, 0)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, int64(2), top[0].UserID)

	top, err = ledger.Leaderboard(ctx, testGuild, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)

	n, err := ledger.MemberCount(ctx, testGuild)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestEnsureMember_Idempotent(t *testing.T) {
	store := newFakeMemberStore()
	ledger := newTestLedger(t, store, model.AllFeatures(), DefaultXPRange)
	ctx := context.Background()

	first, err := ledger.EnsureMember(ctx, testGuild, testUser)
	require.NoError(t, err)
	assert.Equal(t, model.InitialLevel, first.Level)

	_, err = ledger.SetLevel(ctx, testGuild, testUser, 3)
	require.NoError(t, err)

	again, err := ledger.EnsureMember(ctx, testGuild, testUser)
	require.NoError(t, err)
	assert.Equal(t, 3, again.Level)
}
