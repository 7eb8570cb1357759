package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"discord-guild-bot/internal/event"
	"discord-guild-bot/internal/model"
	"discord-guild-bot/internal/repository"
	"discord-guild-bot/internal/service"
)

// User-facing messages.
const (
	msgPermissionDenied = "❌ You don't have permission to use this command."
	msgInternalError    = "❌ Something went wrong. The error has been logged."
	msgTicketExists     = "❌ You already have an open ticket."
	msgNoOpenTicket     = "❌ No open ticket found in this channel."
	msgGuildOnly        = "❌ This command can only be used in a server."
)

func (d *Dispatcher) handleInteraction(ctx context.Context, e event.InteractionSubmitted) *Reply {
	logger := loggerFrom(ctx).With().Int64("user_id", e.UserID).Str("op", string(e.Kind())).Logger()
	ctx = logger.WithContext(ctx)

	if e.Payload == nil {
		logger.Warn().Msg("Interaction without payload")
		return nil
	}
	if e.GuildID == 0 {
		return &Reply{Content: msgGuildOnly, Ephemeral: true}
	}
	if e.Kind().Privileged() && !e.Admin {
		logger.Warn().Err(ErrPermissionDenied).Msg("Non-admin attempted admin command")
		return &Reply{Content: msgPermissionDenied, Ephemeral: true}
	}

	var (
		reply *Reply
		err   error
	)
	switch p := e.Payload.(type) {
	case event.TicketOpen:
		reply, err = d.openTicket(ctx, e, p)
	case event.TicketClose:
		reply, err = d.closeTicket(ctx, e)
	case event.SetLevel:
		reply, err = d.setLevel(ctx, e, p)
	case event.Warn:
		reply, err = d.warn(ctx, e, p)
	case event.ClearWarning:
		reply, err = d.clearWarning(ctx, e, p)
	case event.ListWarnings:
		reply, err = d.listWarnings(ctx, e, p)
	case event.ModAction:
		reply, err = d.modAction(ctx, e, p)
	case event.Rank:
		reply, err = d.rank(ctx, e, p)
	case event.Leaderboard:
		reply, err = d.leaderboard(ctx, e, p)
	case event.Configure:
		reply, err = d.configure(ctx, e, p)
	case event.ServerStats:
		reply, err = d.serverStats(ctx, e)
	case event.ModHistory:
		reply, err = d.modHistory(ctx, e, p)
	case event.TicketList:
		reply, err = d.listTickets(ctx, e)
	default:
		err = fmt.Errorf("unhandled interaction payload %T", p)
	}

	if err != nil {
		msg, expected := userMessage(err)
		if expected {
			logger.Debug().Err(err).Msg("Interaction rejected")
		} else {
			logger.Error().Err(err).Msg("Interaction failed")
		}
		return &Reply{Content: msg, Ephemeral: true}
	}
	return reply
}

// userMessage maps an error to a short message and reports whether the error
// is an expected outcome rather than a failure.
func userMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return msgPermissionDenied, true
	case errors.Is(err, service.ErrInvalidLevel):
		return "❌ Level must be between 1 and 100000.", true
	case errors.Is(err, service.ErrInvalidAction):
		return "❌ Unknown moderation action.", true
	case errors.Is(err, service.ErrInvalidPrefix):
		return "❌ Prefix must be 1-10 characters without spaces.", true
	case errors.Is(err, service.ErrNothingToApply):
		return "❌ Nothing to change.", true
	case errors.Is(err, repository.ErrConflict):
		return "❌ That conflicts with the current state. Please try again.", true
	case errors.Is(err, repository.ErrNotFound):
		return "❌ Not found.", true
	}
	return msgInternalError, false
}

func (d *Dispatcher) openTicket(ctx context.Context, e event.InteractionSubmitted, p event.TicketOpen) (*Reply, error) {
	logger := loggerFrom(ctx)

	existing, err := d.tickets.GetOpen(ctx, e.GuildID, e.UserID)
	switch {
	case err == nil:
		return &Reply{Content: fmt.Sprintf("%s %s", msgTicketExists, channelMention(existing.ChannelID)), Ephemeral: true}, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	channelID, err := d.gateway.CreateChannel(ctx, e.GuildID, p.CategoryID, fmt.Sprintf("ticket-%d", e.UserID), e.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticket channel: %w", err)
	}

	ticket, err := d.tickets.Open(ctx, e.GuildID, e.UserID, channelID, p.CategoryID)
	if err != nil {
		// The channel is orphaned whatever went wrong.
		d.outbox.DeleteChannel(ctx, channelID)
		if errors.Is(err, repository.ErrConflict) {
			return &Reply{Content: msgTicketExists, Ephemeral: true}, nil
		}
		return nil, err
	}

	logger.Info().Int64("ticket_id", ticket.ID).Int64("channel_id", channelID).Msg("Ticket opened")
	d.outbox.SendMessage(ctx, channelID, fmt.Sprintf(
		"🎫 Hello %s! Support will be with you shortly. Use the close button or `close` command when you are done.",
		mention(e.UserID)))

	return &Reply{Content: fmt.Sprintf("✅ Ticket created: %s", channelMention(channelID)), Ephemeral: true}, nil
}

func (d *Dispatcher) closeTicket(ctx context.Context, e event.InteractionSubmitted) (*Reply, error) {
	ticket, err := d.tickets.CloseByChannel(ctx, e.GuildID, e.ChannelID)
	if errors.Is(err, repository.ErrNotFound) {
		return &Reply{Content: msgNoOpenTicket, Ephemeral: true}, nil
	}
	if err != nil {
		return nil, err
	}

	logger := loggerFrom(ctx)
	logger.Info().Int64("ticket_id", ticket.ID).Msg("Ticket closed")
	d.outbox.DeleteChannel(ctx, ticket.ChannelID)
	return &Reply{Content: "🔒 Ticket closed. This channel will be deleted."}, nil
}

func (d *Dispatcher) listTickets(ctx context.Context, e event.InteractionSubmitted) (*Reply, error) {
	tickets, err := d.tickets.ListOpen(ctx, e.GuildID)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return &Reply{Content: "✅ No open tickets.", Ephemeral: true}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🎫 Open tickets (%d):\n", len(tickets))
	for _, t := range tickets {
		fmt.Fprintf(&b, "#%d · %s · %s · since %s\n",
			t.ID, mention(t.UserID), channelMention(t.ChannelID), t.CreatedAt.UTC().Format("2006-01-02 15:04"))
	}
	return &Reply{Content: strings.TrimRight(b.String(), "\n"), Ephemeral: true}, nil
}

func (d *Dispatcher) setLevel(ctx context.Context, e event.InteractionSubmitted, p event.SetLevel) (*Reply, error) {
	m, err := d.ledger.SetLevel(ctx, e.GuildID, p.TargetID, p.Level)
	if err != nil {
		return nil, err
	}

	logger := loggerFrom(ctx)
	logger.Info().
		Int64("target_id", p.TargetID).
		Int("level", m.Level).
		Msg("Admin operation executed")

	return &Reply{Content: fmt.Sprintf("✅ Set %s to **Level %d** (%d XP).", mention(p.TargetID), m.Level, m.XP)}, nil
}

func (d *Dispatcher) warn(ctx context.Context, e event.InteractionSubmitted, p event.Warn) (*Reply, error) {
	w, rec, err := d.moderation.Warn(ctx, e.GuildID, e.UserID, p.TargetID, p.Reason)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		d.mirrorToModLog(ctx, rec)
	}
	return &Reply{Content: fmt.Sprintf("⚠️ Warned %s (warning #%d): %s", mention(p.TargetID), w.ID, reasonOrDefault(p.Reason))}, nil
}

func (d *Dispatcher) clearWarning(ctx context.Context, e event.InteractionSubmitted, p event.ClearWarning) (*Reply, error) {
	w, err := d.moderation.ClearWarning(ctx, e.GuildID, p.WarningID)
	if errors.Is(err, repository.ErrNotFound) {
		return &Reply{Content: fmt.Sprintf("❌ Warning #%d does not exist or was already cleared.", p.WarningID), Ephemeral: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Reply{Content: fmt.Sprintf("✅ Cleared warning #%d for %s.", w.ID, mention(w.UserID))}, nil
}

func (d *Dispatcher) listWarnings(ctx context.Context, e event.InteractionSubmitted, p event.ListWarnings) (*Reply, error) {
	target := p.TargetID
	if target == 0 {
		target = e.UserID
	}

	warnings, err := d.moderation.ListActive(ctx, e.GuildID, target)
	if err != nil {
		return nil, err
	}
	if len(warnings) == 0 {
		return &Reply{Content: fmt.Sprintf("✅ %s has no active warnings.", mention(target)), Ephemeral: true}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ Active warnings for %s:\n", mention(target))
	for _, w := range warnings {
		fmt.Fprintf(&b, "#%d · %s · by %s · %s\n", w.ID, w.CreatedAt.UTC().Format("2006-01-02"), mention(w.ModeratorID), reasonOrDefault(w.Reason))
	}
	return &Reply{Content: strings.TrimRight(b.String(), "\n"), Ephemeral: true}, nil
}

func (d *Dispatcher) modAction(ctx context.Context, e event.InteractionSubmitted, p event.ModAction) (*Reply, error) {
	rec, err := d.moderation.Record(ctx, e.GuildID, e.UserID, p.TargetID, p.Action, p.Reason, p.Duration)
	if err != nil {
		return nil, err
	}
	d.mirrorToModLog(ctx, rec)
	return &Reply{Content: fmt.Sprintf("✅ Logged %s for %s (case #%d).", rec.Action, mention(rec.TargetID), rec.ID)}, nil
}

func (d *Dispatcher) modHistory(ctx context.Context, e event.InteractionSubmitted, p event.ModHistory) (*Reply, error) {
	records, err := d.moderation.History(ctx, e.GuildID, p.TargetID, p.Limit)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &Reply{Content: fmt.Sprintf("✅ No moderation history for %s.", mention(p.TargetID)), Ephemeral: true}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🛡️ Moderation history for %s:\n", mention(p.TargetID))
	for _, r := range records {
		fmt.Fprintf(&b, "#%d · %s · %s · by %s · %s\n",
			r.ID, r.CreatedAt.UTC().Format("2006-01-02"), r.Action, mention(r.ModeratorID), reasonOrDefault(r.Reason))
	}
	return &Reply{Content: strings.TrimRight(b.String(), "\n"), Ephemeral: true}, nil
}

// mirrorToModLog posts a journal entry to the guild's mod-log channel when one
// is configured. It is best effort.
func (d *Dispatcher) mirrorToModLog(ctx context.Context, rec *model.ModerationRecord) {
	cfg, err := d.settings.Resolve(ctx, rec.GuildID)
	if err != nil {
		logger := loggerFrom(ctx)
		logger.Warn().Err(err).Msg("Failed to resolve mod-log channel")
		return
	}
	if cfg.ModLogChannelID == nil {
		return
	}
	d.outbox.SendMessage(ctx, *cfg.ModLogChannelID, FormatModLog(rec))
}

// FormatModLog renders a journal entry for the mod-log channel.
func FormatModLog(rec *model.ModerationRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🛡️ **Case #%d · %s**\n", rec.ID, strings.ToUpper(string(rec.Action)))
	fmt.Fprintf(&b, "Target: %s\n", mention(rec.TargetID))
	fmt.Fprintf(&b, "Moderator: %s\n", mention(rec.ModeratorID))
	if rec.Duration != nil {
		fmt.Fprintf(&b, "Duration: %s\n", rec.Duration.String())
	}
	fmt.Fprintf(&b, "Reason: %s", reasonOrDefault(rec.Reason))
	return b.String()
}

func reasonOrDefault(reason string) string {
	if strings.TrimSpace(reason) == "" {
		return "No reason provided"
	}
	return reason
}

func (d *Dispatcher) rank(ctx context.Context, e event.InteractionSubmitted, p event.Rank) (*Reply, error) {
	target := p.TargetID
	if target == 0 {
		target = e.UserID
	}

	info, err := d.ledger.Rank(ctx, e.GuildID, target)
	if errors.Is(err, repository.ErrNotFound) {
		return &Reply{Content: fmt.Sprintf("%s has no activity yet.", mention(target)), Ephemeral: true}, nil
	}
	if err != nil {
		return nil, err
	}

	return &Reply{Content: fmt.Sprintf(
		"📊 %s · Rank #%d · Level %d · %d/%d XP",
		mention(target), info.Position, info.Member.Level, info.Member.XP, info.RequiredXP,
	)}, nil
}

func (d *Dispatcher) leaderboard(ctx context.Context, e event.InteractionSubmitted, p event.Leaderboard) (*Reply, error) {
	top, err := d.ledger.Leaderboard(ctx, e.GuildID, p.Limit)
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		return &Reply{Content: "No activity recorded yet."}, nil
	}

	var b strings.Builder
	b.WriteString("🏆 **Leaderboard**\n")
	for i, m := range top {
		fmt.Fprintf(&b, "%d. %s · Level %d · %d XP\n", i+1, mention(m.UserID), m.Level, m.XP)
	}
	return &Reply{Content: strings.TrimRight(b.String(), "\n")}, nil
}

func (d *Dispatcher) configure(ctx context.Context, e event.InteractionSubmitted, p event.Configure) (*Reply, error) {
	cfg, err := d.settings.Upsert(ctx, e.GuildID, p.Patch)
	if err != nil {
		return nil, err
	}

	logger := loggerFrom(ctx)
	logger.Info().Msg("Guild settings updated")
	return &Reply{Content: "✅ Settings updated.\n" + FormatSettings(cfg), Ephemeral: true}, nil
}

// FormatSettings renders a guild's settings.
func FormatSettings(cfg *model.GuildConfig) string {
	optChannel := func(id *int64) string {
		if id == nil {
			return "not set"
		}
		return channelMention(*id)
	}
	optRole := func(id *int64) string {
		if id == nil {
			return "not set"
		}
		return fmt.Sprintf("<@&%d>", *id)
	}
	onOff := func(v bool) string {
		if v {
			return "on"
		}
		return "off"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Prefix: `%s`\n", cfg.Prefix)
	fmt.Fprintf(&b, "Welcome channel: %s\n", optChannel(cfg.WelcomeChannelID))
	fmt.Fprintf(&b, "Mod-log channel: %s\n", optChannel(cfg.ModLogChannelID))
	fmt.Fprintf(&b, "Auto-role: %s\n", optRole(cfg.AutoRoleID))
	fmt.Fprintf(&b, "Leveling: %s · Economy: %s · Auto-moderation: %s · Music: %s",
		onOff(cfg.Features.Leveling), onOff(cfg.Features.Economy),
		onOff(cfg.Features.AutoModeration), onOff(cfg.Features.Music))
	return b.String()
}

func (d *Dispatcher) serverStats(ctx context.Context, e event.InteractionSubmitted) (*Reply, error) {
	members, err := d.ledger.MemberCount(ctx, e.GuildID)
	if err != nil {
		return nil, err
	}

	uptime := d.now().Sub(d.startedAt).Truncate(time.Second)
	return &Reply{Content: fmt.Sprintf(
		"📈 **Server stats**\nTracked members: %d\nBot uptime: %s\nVersion: %s",
		members, uptime, d.version,
	)}, nil
}
