// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"discord-guild-bot/internal/model"
	"discord-guild-bot/internal/pkg/db"
	"discord-guild-bot/internal/repository"
)

// Settings validation errors.
var (
	ErrInvalidPrefix  = errors.New("invalid prefix: must be 1-10 characters without spaces")
	ErrNothingToApply = errors.New("no settings to change")
)

const maxPrefixLen = 10

// GuildStore is the persistence the settings service needs.
type GuildStore interface {
	Get(ctx context.Context, guildID int64) (*model.GuildConfig, error)
	Ensure(ctx context.Context, guildID int64, name string, defaults model.Features) (*model.GuildConfig, error)
	Upsert(ctx context.Context, guildID int64, patch model.GuildSettingsPatch, defaults model.Features) (*model.GuildConfig, error)
}

// SettingsService owns per-guild configuration.
type SettingsService struct {
	store    GuildStore
	defaults model.Features
	prefix   string
	policy   db.Policy
}

// NewSettingsService creates a new SettingsService instance.
// defaults are the feature toggles of a guild seen for the first time and
// prefix is used for guilds that have no row yet.
func NewSettingsService(store GuildStore, defaults model.Features, prefix string, policy db.Policy) *SettingsService {
	if prefix == "" {
		prefix = model.DefaultPrefix
	}
	return &SettingsService{
		store:    store,
		defaults: defaults,
		prefix:   prefix,
		policy:   policy,
	}
}

// Get returns the stored settings of a guild.
// Returns repository.ErrNotFound if the guild has never been seen.
func (s *SettingsService) Get(ctx context.Context, guildID int64) (*model.GuildConfig, error) {
	var cfg *model.GuildConfig
	err := s.policy.Once(ctx, func(ctx context.Context) error {
		var err error
		cfg, err = s.store.Get(ctx, guildID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve returns the guild's settings, or the process defaults when the
// guild has no row yet. Storage failures are still returned.
func (s *SettingsService) Resolve(ctx context.Context, guildID int64) (*model.GuildConfig, error) {
	cfg, err := s.Get(ctx, guildID)
	if errors.Is(err, repository.ErrNotFound) {
		return s.Default(guildID), nil
	}
	return cfg, err
}

// Default returns the settings a guild would get on first contact.
func (s *SettingsService) Default(guildID int64) *model.GuildConfig {
	return &model.GuildConfig{
		GuildID:  guildID,
		Prefix:   s.prefix,
		Features: s.defaults,
	}
}

// Prefix returns the command prefix of a guild. Direct messages (guildID 0)
// and lookup failures fall back to the default prefix.
func (s *SettingsService) Prefix(ctx context.Context, guildID int64) string {
	if guildID == 0 {
		return s.prefix
	}
	cfg, err := s.Resolve(ctx, guildID)
	if err != nil || cfg.Prefix == "" {
		return s.prefix
	}
	return cfg.Prefix
}

// EnsureGuild records first contact with a guild. An existing guild only has
// its name refreshed.
func (s *SettingsService) EnsureGuild(ctx context.Context, guildID int64, name string) (*model.GuildConfig, error) {
	var cfg *model.GuildConfig
	err := s.policy.Retry(ctx, repository.IsTransient, func(ctx context.Context) error {
		var err error
		cfg, err = s.store.Ensure(ctx, guildID, name, s.defaults)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure guild: %w", err)
	}
	return cfg, nil
}

// Upsert applies a partial settings update. The write is idempotent, so
// transient storage failures are retried.
func (s *SettingsService) Upsert(ctx context.Context, guildID int64, patch model.GuildSettingsPatch) (*model.GuildConfig, error) {
	if patch.IsEmpty() {
		return nil, ErrNothingToApply
	}
	if patch.Prefix != nil {
		p := *patch.Prefix
		if p == "" || len(p) > maxPrefixLen || strings.ContainsAny(p, " \t\n") {
			return nil, ErrInvalidPrefix
		}
	}

	var cfg *model.GuildConfig
	err := s.policy.Retry(ctx, repository.IsTransient, func(ctx context.Context) error {
		var err error
		cfg, err = s.store.Upsert(ctx, guildID, patch, s.defaults)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}
	return cfg, nil
}
