package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"discord-guild-bot/internal/model"
	"discord-guild-bot/internal/pkg/db"
	"discord-guild-bot/internal/pkg/lock"
	"discord-guild-bot/internal/repository"
)

// ActivityCooldown is the minimum gap between two XP-earning messages of a member.
const ActivityCooldown = 60 * time.Second

// Leaderboard bounds.
const (
	DefaultLeaderboardSize = 10
	MaxLeaderboardSize     = 25
)

// Ledger errors.
var (
	ErrInvalidLevel   = errors.New("invalid level: must be between 1 and 100000")
	ErrInvalidXPRange = errors.New("invalid xp range")
)

// XPRange is the inclusive range a single XP award is drawn from.
type XPRange struct {
	Min int64
	Max int64
}

// DefaultXPRange is the award range used when none is configured.
var DefaultXPRange = XPRange{Min: 15, Max: 25}

// Validate checks that the range is non-negative and ordered.
func (r XPRange) Validate() error {
	if r.Min < 0 || r.Min > r.Max {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidXPRange, r.Min, r.Max)
	}
	return nil
}

// RequiredXP returns the xp threshold a member at level has to reach to
// advance to the next level.
func RequiredXP(level int) int64 {
	l := int64(level)
	return 5*l*l + 50*l + 100
}

// LevelForXP returns the level consistent with xp: the smallest level whose
// threshold is still above xp.
func LevelForXP(xp int64) int {
	level := model.InitialLevel
	for xp >= RequiredXP(level) {
		level++
	}
	return level
}

// advanceLevel raises m.Level until it is consistent with m.XP.
// Several levels may be gained at once.
func advanceLevel(m *model.MemberState) {
	if m.Level < model.InitialLevel {
		m.Level = model.InitialLevel
	}
	for m.XP >= RequiredXP(m.Level) {
		m.Level++
	}
}

// MemberStore is the persistence the ledger needs.
type MemberStore interface {
	Get(ctx context.Context, guildID, userID int64) (*model.MemberState, error)
	Ensure(ctx context.Context, guildID, userID int64) (*model.MemberState, error)
	Update(ctx context.Context, guildID, userID int64, fn func(m *model.MemberState) (bool, error)) (*model.MemberState, error)
	TopByXP(ctx context.Context, guildID int64, limit int) ([]*model.MemberState, error)
	RankOf(ctx context.Context, guildID, userID int64) (int, error)
	CountByGuild(ctx context.Context, guildID int64) (int, error)
}

// SettingsResolver resolves a guild's settings, falling back to defaults.
type SettingsResolver interface {
	Resolve(ctx context.Context, guildID int64) (*model.GuildConfig, error)
}

// RankInfo describes a member's position on the guild leaderboard.
type RankInfo struct {
	Member     *model.MemberState
	Position   int
	RequiredXP int64
}

// LedgerService maintains the per-member engagement ledger.
type LedgerService struct {
	members  MemberStore
	settings SettingsResolver
	locks    *lock.MemberLock
	xp       XPRange
	policy   db.Policy
	draw     func(n int64) int64
}

// NewLedgerService creates a new LedgerService instance.
func NewLedgerService(
	members MemberStore,
	settings SettingsResolver,
	locks *lock.MemberLock,
	xp XPRange,
	policy db.Policy,
) (*LedgerService, error) {
	if err := xp.Validate(); err != nil {
		return nil, err
	}
	if locks == nil {
		locks = lock.NewMemberLock()
	}
	return &LedgerService{
		members:  members,
		settings: settings,
		locks:    locks,
		xp:       xp,
		policy:   policy,
		draw:     rand.Int63n,
	}, nil
}

// rollXP draws one award from the configured range.
func (s *LedgerService) rollXP() int64 {
	return s.xp.Min + s.draw(s.xp.Max-s.xp.Min+1)
}

// RecordActivity credits a message sent at now. Messages inside the cooldown
// window leave the member untouched. Returns a LevelUpEvent when the award
// raised the member's level, nil otherwise. Nothing happens when leveling is
// disabled for the guild.
func (s *LedgerService) RecordActivity(ctx context.Context, userID, guildID int64, now time.Time) (*model.LevelUpEvent, error) {
	cfg, err := s.settings.Resolve(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve settings: %w", err)
	}
	if !cfg.Features.Leveling {
		return nil, nil
	}

	var levelUp *model.LevelUpEvent
	err = s.update(ctx, guildID, userID, func(m *model.MemberState) (bool, error) {
		levelUp = nil
		if m.LastMessageAt != nil && now.Sub(*m.LastMessageAt) < ActivityCooldown {
			return false, nil
		}

		oldLevel := m.Level
		m.XP += s.rollXP()
		at := now
		m.LastMessageAt = &at
		advanceLevel(m)

		if m.Level > oldLevel {
			levelUp = &model.LevelUpEvent{
				UserID:   userID,
				GuildID:  guildID,
				OldLevel: oldLevel,
				NewLevel: m.Level,
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record activity: %w", err)
	}
	return levelUp, nil
}

// SetLevel overrides a member's level. XP is moved to one point below the
// next threshold so natural progression continues from level without the
// next award recomputing it away.
func (s *LedgerService) SetLevel(ctx context.Context, guildID, userID int64, level int) (*model.MemberState, error) {
	if level < model.InitialLevel || level > model.MaxLevel {
		return nil, ErrInvalidLevel
	}

	var result model.MemberState
	err := s.update(ctx, guildID, userID, func(m *model.MemberState) (bool, error) {
		m.Level = level
		m.XP = RequiredXP(level) - 1
		result = *m
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set level: %w", err)
	}
	return &result, nil
}

// update runs fn as one atomic read-modify-write on the member. The in-process
// lock keeps handlers of this process from queueing on the row lock, and the
// whole transaction is re-run on transient failures since a failed attempt
// rolls back.
func (s *LedgerService) update(ctx context.Context, guildID, userID int64, fn func(m *model.MemberState) (bool, error)) error {
	key := lock.Key{GuildID: guildID, UserID: userID}
	return s.locks.WithLock(ctx, key, func() error {
		return s.policy.Retry(ctx, repository.IsTransient, func(ctx context.Context) error {
			_, err := s.members.Update(ctx, guildID, userID, fn)
			return err
		})
	})
}

// EnsureMember makes sure a member is tracked.
func (s *LedgerService) EnsureMember(ctx context.Context, guildID, userID int64) (*model.MemberState, error) {
	var m *model.MemberState
	err := s.policy.Retry(ctx, repository.IsTransient, func(ctx context.Context) error {
		var err error
		m, err = s.members.Ensure(ctx, guildID, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure member: %w", err)
	}
	return m, nil
}

// Rank returns a member's state and leaderboard position.
// Returns repository.ErrNotFound for members that were never tracked.
func (s *LedgerService) Rank(ctx context.Context, guildID, userID int64) (*RankInfo, error) {
	var info RankInfo
	err := s.policy.Once(ctx, func(ctx context.Context) error {
		m, err := s.members.Get(ctx, guildID, userID)
		if err != nil {
			return err
		}
		pos, err := s.members.RankOf(ctx, guildID, userID)
		if err != nil {
			return err
		}
		info = RankInfo{Member: m, Position: pos, RequiredXP: RequiredXP(m.Level)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Leaderboard returns the top members of a guild by xp.
// limit is clamped to [1, MaxLeaderboardSize]; zero means the default size.
func (s *LedgerService) Leaderboard(ctx context.Context, guildID int64, limit int) ([]*model.MemberState, error) {
	switch {
	case limit <= 0:
		limit = DefaultLeaderboardSize
	case limit > MaxLeaderboardSize:
		limit = MaxLeaderboardSize
	}

	var top []*model.MemberState
	err := s.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		top, err = s.members.TopByXP(ctx, guildID, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load leaderboard: %w", err)
	}
	return top, nil
}

// MemberCount returns how many members of a guild are tracked.
func (s *LedgerService) MemberCount(ctx context.Context, guildID int64) (int, error) {
	var n int
	err := s.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.members.CountByGuild(ctx, guildID)
		return err
	})
	return n, err
}
