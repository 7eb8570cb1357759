package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"discord-guild-bot/internal/event"
	"discord-guild-bot/internal/model"
	"discord-guild-bot/internal/service"
)

// ErrPermissionDenied is returned when a non-admin submits a privileged interaction.
var ErrPermissionDenied = errors.New("permission denied")

// DefaultWelcomeMessage is sent when a guild has a welcome channel but no template.
const DefaultWelcomeMessage = "Welcome to {server}, {user}! You are member #{member_count}."

// Settings is the guild settings surface the dispatcher uses.
type Settings interface {
	Resolve(ctx context.Context, guildID int64) (*model.GuildConfig, error)
	EnsureGuild(ctx context.Context, guildID int64, name string) (*model.GuildConfig, error)
	Upsert(ctx context.Context, guildID int64, patch model.GuildSettingsPatch) (*model.GuildConfig, error)
}

// Ledger is the engagement ledger surface the dispatcher uses.
type Ledger interface {
	RecordActivity(ctx context.Context, userID, guildID int64, now time.Time) (*model.LevelUpEvent, error)
	SetLevel(ctx context.Context, guildID, userID int64, level int) (*model.MemberState, error)
	EnsureMember(ctx context.Context, guildID, userID int64) (*model.MemberState, error)
	Rank(ctx context.Context, guildID, userID int64) (*service.RankInfo, error)
	Leaderboard(ctx context.Context, guildID int64, limit int) ([]*model.MemberState, error)
	MemberCount(ctx context.Context, guildID int64) (int, error)
}

// Moderation is the moderation journal surface the dispatcher uses.
type Moderation interface {
	Record(ctx context.Context, guildID, moderatorID, targetID int64, action model.ModAction, reason string, duration *time.Duration) (*model.ModerationRecord, error)
	Warn(ctx context.Context, guildID, moderatorID, targetID int64, reason string) (*model.Warning, *model.ModerationRecord, error)
	ClearWarning(ctx context.Context, guildID, warningID int64) (*model.Warning, error)
	ListActive(ctx context.Context, guildID, userID int64) ([]*model.Warning, error)
	History(ctx context.Context, guildID, targetID int64, limit int) ([]*model.ModerationRecord, error)
}

// Tickets is the ticket lifecycle surface the dispatcher uses.
type Tickets interface {
	Open(ctx context.Context, guildID, userID, channelID, categoryID int64) (*model.Ticket, error)
	CloseByChannel(ctx context.Context, guildID, channelID int64) (*model.Ticket, error)
	GetOpen(ctx context.Context, guildID, userID int64) (*model.Ticket, error)
	ListOpen(ctx context.Context, guildID int64) ([]*model.Ticket, error)
}

// Reply is the answer to an interaction, delivered by the adapter.
type Reply struct {
	Content string
	// Ephemeral replies are only shown to the user who submitted the interaction.
	Ephemeral bool
}

// Deps wires a Dispatcher.
type Deps struct {
	Settings   Settings
	Ledger     Ledger
	Moderation Moderation
	Tickets    Tickets
	Gateway    Gateway
	Outbox     *Outbox
	Version    string
}

// Dispatcher handles every inbound event. Each event runs in isolation: a
// failing or panicking handler is logged and never affects other events.
type Dispatcher struct {
	settings   Settings
	ledger     Ledger
	moderation Moderation
	tickets    Tickets
	gateway    Gateway
	outbox     *Outbox
	version    string
	startedAt  time.Time
	now        func() time.Time
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(d Deps) *Dispatcher {
	return &Dispatcher{
		settings:   d.Settings,
		ledger:     d.Ledger,
		moderation: d.Moderation,
		tickets:    d.Tickets,
		gateway:    d.Gateway,
		outbox:     d.Outbox,
		version:    d.Version,
		startedAt:  time.Now(),
		now:        time.Now,
	}
}

// Dispatch handles ev and returns the reply for interactions, nil otherwise.
func (d *Dispatcher) Dispatch(ctx context.Context, ev event.Event) (reply *Reply) {
	logger := log.With().
		Str("event_id", uuid.NewString()).
		Str("event", eventName(ev)).
		Int64("guild_id", ev.GuildKey()).
		Logger()
	ctx = logger.WithContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Recovered from panic in event handler")
			if _, ok := ev.(event.InteractionSubmitted); ok {
				reply = &Reply{Content: msgInternalError, Ephemeral: true}
			}
		}
	}()

	switch e := ev.(type) {
	case event.GuildJoined:
		d.handleGuildJoined(ctx, e)
	case event.MemberJoined:
		d.handleMemberJoined(ctx, e)
	case event.MessageReceived:
		d.handleMessage(ctx, e)
	case event.InteractionSubmitted:
		return d.handleInteraction(ctx, e)
	default:
		logger.Warn().Msg("Ignoring unknown event")
	}
	return nil
}

func eventName(ev event.Event) string {
	switch e := ev.(type) {
	case event.GuildJoined:
		return "guild_joined"
	case event.MemberJoined:
		return "member_joined"
	case event.MessageReceived:
		return "message_received"
	case event.InteractionSubmitted:
		return "interaction:" + string(e.Kind())
	}
	return fmt.Sprintf("%T", ev)
}

func (d *Dispatcher) handleGuildJoined(ctx context.Context, e event.GuildJoined) {
	logger := loggerFrom(ctx)
	if _, err := d.settings.EnsureGuild(ctx, e.GuildID, e.Name); err != nil {
		logger.Error().Err(err).Str("op", "ensure_guild").Msg("Failed to register guild")
		return
	}
	logger.Info().Str("name", e.Name).Msg("Guild registered")
}

func (d *Dispatcher) handleMemberJoined(ctx context.Context, e event.MemberJoined) {
	logger := loggerFrom(ctx).With().Int64("user_id", e.UserID).Logger()
	ctx = logger.WithContext(ctx)

	if _, err := d.ledger.EnsureMember(ctx, e.GuildID, e.UserID); err != nil {
		logger.Error().Err(err).Str("op", "ensure_member").Msg("Failed to track new member")
	}

	cfg, err := d.settings.Resolve(ctx, e.GuildID)
	if err != nil {
		logger.Error().Err(err).Str("op", "resolve_settings").Msg("Failed to load guild settings")
		return
	}

	if cfg.WelcomeChannelID != nil {
		d.outbox.SendMessage(ctx, *cfg.WelcomeChannelID, RenderWelcome(cfg.WelcomeMessage, e))
	}
	if cfg.AutoRoleID != nil {
		d.outbox.AssignRole(ctx, e.GuildID, e.UserID, *cfg.AutoRoleID)
	}
}

// RenderWelcome fills the {user}, {server} and {member_count} placeholders.
// An empty template uses DefaultWelcomeMessage.
func RenderWelcome(template string, e event.MemberJoined) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultWelcomeMessage
	}
	r := strings.NewReplacer(
		"{user}", mention(e.UserID),
		"{server}", e.GuildName,
		"{member_count}", fmt.Sprintf("%d", e.MemberCount),
	)
	return r.Replace(template)
}

func (d *Dispatcher) handleMessage(ctx context.Context, e event.MessageReceived) {
	logger := loggerFrom(ctx).With().Int64("user_id", e.AuthorID).Logger()
	ctx = logger.WithContext(ctx)

	levelUp, err := d.ledger.RecordActivity(ctx, e.AuthorID, e.GuildID, e.Timestamp)
	if err != nil {
		logger.Error().Err(err).Str("op", "record_activity").Msg("Failed to record activity")
		return
	}
	if levelUp == nil {
		return
	}

	logger.Info().Int("old_level", levelUp.OldLevel).Int("new_level", levelUp.NewLevel).Msg("Member leveled up")
	d.outbox.SendMessage(ctx, e.ChannelID,
		fmt.Sprintf("🎉 Congratulations %s! You reached **Level %d**!", mention(e.AuthorID), levelUp.NewLevel))
}

func mention(userID int64) string {
	return fmt.Sprintf("<@%d>", userID)
}

func channelMention(channelID int64) string {
	return fmt.Sprintf("<#%d>", channelID)
}
