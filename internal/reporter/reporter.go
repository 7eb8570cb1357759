// Package reporter periodically persists the bot's liveness snapshot.
package reporter

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"discord-guild-bot/internal/model"
	"discord-guild-bot/internal/pkg/db"
	"discord-guild-bot/internal/repository"
)

// Counter reports live sizes from the platform session.
type Counter interface {
	GuildCount() int
	UserCount() int
}

// Presence updates the bot's visible activity. Optional.
type Presence interface {
	SetWatching(text string) error
}

// Store persists snapshots.
type Store interface {
	Save(ctx context.Context, s model.StatsSnapshot) error
	SetOnline(ctx context.Context, online bool, heartbeat time.Time) error
}

// Reporter writes a snapshot on start and on every tick, and marks the bot
// offline when stopped.
type Reporter struct {
	store    Store
	counter  Counter
	presence Presence
	interval time.Duration
	policy   db.Policy
	now      func() time.Time
}

// New creates a Reporter. presence may be nil.
func New(store Store, counter Counter, presence Presence, interval time.Duration, policy db.Policy) *Reporter {
	return &Reporter{
		store:    store,
		counter:  counter,
		presence: presence,
		interval: interval,
		policy:   policy,
		now:      time.Now,
	}
}

// Run reports until ctx is done. A failed report is logged and the loop
// continues.
func (r *Reporter) Run(ctx context.Context) error {
	log.Info().Dur("interval", r.interval).Msg("Stats reporter started")
	r.report(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.markOffline()
			log.Info().Msg("Stats reporter stopped")
			return nil
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

// Snapshot returns the current live snapshot.
func (r *Reporter) Snapshot() model.StatsSnapshot {
	return model.StatsSnapshot{
		Online:        true,
		GuildCount:    r.counter.GuildCount(),
		UserCount:     r.counter.UserCount(),
		LastHeartbeat: r.now().UTC(),
	}
}

func (r *Reporter) report(ctx context.Context) {
	snap := r.Snapshot()
	err := r.policy.Retry(ctx, repository.IsTransient, func(ctx context.Context) error {
		return r.store.Save(ctx, snap)
	})
	if err != nil {
		log.Error().Err(err).Str("op", "save_stats").Msg("Failed to save stats snapshot")
	} else {
		log.Debug().Int("guilds", snap.GuildCount).Int("users", snap.UserCount).Msg("Stats snapshot saved")
	}

	if r.presence == nil {
		return
	}
	if err := r.presence.SetWatching(PresenceText(snap)); err != nil {
		log.Warn().Err(err).Msg("Failed to update presence")
	}
}

// markOffline runs after the run context is cancelled, so it uses its own.
func (r *Reporter) markOffline() {
	ctx, cancel := context.WithTimeout(context.Background(), r.policy.OpTimeout)
	defer cancel()
	if err := r.store.SetOnline(ctx, false, r.now().UTC()); err != nil {
		log.Error().Err(err).Str("op", "set_offline").Msg("Failed to mark bot offline")
	}
}

// PresenceText renders the "watching" activity.
func PresenceText(s model.StatsSnapshot) string {
	return fmt.Sprintf("%d servers | %d users", s.GuildCount, s.UserCount)
}
