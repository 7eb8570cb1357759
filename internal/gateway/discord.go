// Package gateway connects the engine to Discord. It translates gateway
// events into engine events and implements the outbound platform commands.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"discord-guild-bot/internal/event"
	"discord-guild-bot/internal/handler"
)

// TicketCategoryName is the category used for ticket channels when a ticket
// button does not name one.
const TicketCategoryName = "🎫 TICKETS"

const ticketPanelCommand = "ticketpanel"

// Dispatcher handles translated events.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev event.Event) *handler.Reply
}

// PrefixResolver returns a guild's command prefix.
type PrefixResolver interface {
	Prefix(ctx context.Context, guildID int64) string
}

// Options configures an Adapter.
type Options struct {
	Token string
	// IsOwner reports whether a user is a bot owner with admin rights everywhere.
	IsOwner func(userID int64) bool
	// EventTimeout bounds the handling of a single inbound event.
	EventTimeout time.Duration
}

// Adapter owns the Discord session.
type Adapter struct {
	session      *discordgo.Session
	prefixes     PrefixResolver
	isOwner      func(int64) bool
	eventTimeout time.Duration

	mu         sync.RWMutex
	dispatcher Dispatcher
	base       context.Context
}

// New creates an adapter. Call Bind before Run.
func New(opts Options, prefixes PrefixResolver) (*Adapter, error) {
	if opts.Token == "" {
		return nil, errors.New("discord token is required")
	}
	s, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMembers |
		discordgo.IntentGuildMessages |
		discordgo.IntentMessageContent
	s.StateEnabled = true

	isOwner := opts.IsOwner
	if isOwner == nil {
		isOwner = func(int64) bool { return false }
	}
	timeout := opts.EventTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Adapter{
		session:      s,
		prefixes:     prefixes,
		isOwner:      isOwner,
		eventTimeout: timeout,
		base:         context.Background(),
	}, nil
}

// Bind sets the dispatcher that receives translated events.
func (a *Adapter) Bind(d Dispatcher) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dispatcher = d
}

// Run opens the session and blocks until ctx is done.
func (a *Adapter) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.dispatcher == nil {
		a.mu.Unlock()
		return errors.New("gateway: no dispatcher bound")
	}
	a.base = ctx
	a.mu.Unlock()

	removers := []func(){
		a.session.AddHandler(a.onReady),
		a.session.AddHandler(a.onGuildCreate),
		a.session.AddHandler(a.onGuildMemberAdd),
		a.session.AddHandler(a.onMessageCreate),
		a.session.AddHandler(a.onInteractionCreate),
	}
	defer func() {
		for _, remove := range removers {
			remove()
		}
	}()

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	log.Info().Msg("Discord session opened")

	<-ctx.Done()

	if err := a.session.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close discord session cleanly")
	}
	log.Info().Msg("Discord session closed")
	return nil
}

// dispatch runs ev under a per-event deadline derived from the run context.
func (a *Adapter) dispatch(ev event.Event) *handler.Reply {
	a.mu.RLock()
	d, base := a.dispatcher, a.base
	a.mu.RUnlock()
	if d == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(base, a.eventTimeout)
	defer cancel()
	return d.Dispatch(ctx, ev)
}

func (a *Adapter) onReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Info().
		Str("user", r.User.Username).
		Int("guilds", len(r.Guilds)).
		Msg("Connected to Discord")
}

func (a *Adapter) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Guild == nil || g.Unavailable {
		return
	}
	guildID, err := parseID(g.ID)
	if err != nil {
		log.Warn().Err(err).Msg("Ignoring guild with bad id")
		return
	}
	a.dispatch(event.GuildJoined{GuildID: guildID, Name: g.Name})
}

func (a *Adapter) onGuildMemberAdd(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.Member == nil || m.User == nil || m.User.Bot {
		return
	}
	guildID, err := parseID(m.GuildID)
	if err != nil {
		return
	}
	userID, err := parseID(m.User.ID)
	if err != nil {
		return
	}

	ev := event.MemberJoined{GuildID: guildID, UserID: userID, Username: m.User.Username}
	if g, err := s.State.Guild(m.GuildID); err == nil {
		ev.GuildName = g.Name
		ev.MemberCount = g.MemberCount
	}
	a.dispatch(ev)
}

func (a *Adapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	guildID, err := parseID(m.GuildID)
	if err != nil {
		return
	}
	channelID, err := parseID(m.ChannelID)
	if err != nil {
		return
	}
	authorID, err := parseID(m.Author.ID)
	if err != nil {
		return
	}

	a.dispatch(event.MessageReceived{
		GuildID:   guildID,
		ChannelID: channelID,
		AuthorID:  authorID,
		Timestamp: m.Timestamp,
	})

	prefix := a.prefixFor(guildID)
	cmd, ok := ParseCommand(m.Content, prefix)
	if !ok {
		return
	}

	var content string
	switch cmd.Name {
	case "help":
		content = HelpText(prefix)
	case ticketPanelCommand:
		content = a.postTicketPanel(s, m, authorID)
	default:
		payload, err := cmd.Payload()
		if err != nil {
			if errors.Is(err, ErrUnknownCommand) {
				return
			}
			content = "❌ " + err.Error()
			break
		}
		reply := a.dispatch(event.InteractionSubmitted{
			GuildID:   guildID,
			ChannelID: channelID,
			UserID:    authorID,
			Admin:     a.isAdmin(s, m.GuildID, m.ChannelID, m.Author.ID, 0),
			Payload:   payload,
		})
		if reply != nil {
			content = reply.Content
		}
	}

	if content == "" {
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, content); err != nil {
		log.Warn().Err(err).Str("channel_id", m.ChannelID).Msg("Failed to send command reply")
	}
}

func (a *Adapter) prefixFor(guildID int64) string {
	a.mu.RLock()
	base := a.base
	a.mu.RUnlock()
	ctx, cancel := context.WithTimeout(base, a.eventTimeout)
	defer cancel()
	return a.prefixes.Prefix(ctx, guildID)
}

// postTicketPanel sends a message with the ticket open button.
func (a *Adapter) postTicketPanel(s *discordgo.Session, m *discordgo.MessageCreate, authorID int64) string {
	if !a.isAdmin(s, m.GuildID, m.ChannelID, m.Author.ID, 0) {
		return "❌ You don't have permission to use this command."
	}
	customID := customIDTicketOpen
	if ch, err := s.State.Channel(m.ChannelID); err == nil && ch.ParentID != "" {
		customID += ":" + ch.ParentID
	}

	_, err := s.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
		Content: "🎫 **Support**\nPress the button below to open a private ticket with the staff.",
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Open ticket", Style: discordgo.PrimaryButton, CustomID: customID},
			}},
		},
	})
	if err != nil {
		log.Warn().Err(err).Int64("user_id", authorID).Msg("Failed to post ticket panel")
		return "❌ Could not post the ticket panel."
	}
	return ""
}

func (a *Adapter) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	payload, err := componentPayload(i.MessageComponentData().CustomID)
	if err != nil {
		log.Debug().Err(err).Msg("Ignoring component interaction")
		return
	}

	user := i.User
	var perms int64
	if i.Member != nil {
		user = i.Member.User
		perms = i.Member.Permissions
	}
	if user == nil {
		return
	}
	userID, err := parseID(user.ID)
	if err != nil {
		return
	}
	guildID, _ := parseID(i.GuildID)
	channelID, _ := parseID(i.ChannelID)

	// Ticket handling creates channels, which can exceed the initial
	// response window, so the reply is sent as a followup.
	if err := s.InteractionRespond(i.Interaction, componentAck()); err != nil {
		log.Warn().Err(err).Msg("Failed to acknowledge interaction")
		return
	}

	reply := a.dispatch(event.InteractionSubmitted{
		GuildID:   guildID,
		ChannelID: channelID,
		UserID:    userID,
		Admin:     a.isAdmin(s, i.GuildID, i.ChannelID, user.ID, perms),
		Payload:   payload,
	})
	if reply == nil {
		reply = &handler.Reply{Content: "✅ Done.", Ephemeral: true}
	}

	if _, err := s.FollowupMessageCreate(i.Interaction, true, followupParams(reply)); err != nil {
		log.Warn().Err(err).Msg("Failed to send interaction reply")
	}
}

// componentAck defers a button press without a loading message. A deferred
// channel message would make the first followup inherit its visibility, so
// each followup sets its own instead.
func componentAck() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
}

func followupParams(reply *handler.Reply) *discordgo.WebhookParams {
	params := &discordgo.WebhookParams{Content: reply.Content}
	if reply.Ephemeral {
		params.Flags = discordgo.MessageFlagsEphemeral
	}
	return params
}

// isAdmin reports whether the user is a bot owner, the guild owner or holds
// the administrator permission. perms is used when the platform supplied it.
func (a *Adapter) isAdmin(s *discordgo.Session, guildID, channelID, userID string, perms int64) bool {
	if id, err := parseID(userID); err == nil && a.isOwner(id) {
		return true
	}
	if perms&discordgo.PermissionAdministrator != 0 {
		return true
	}

	guild, err := s.State.Guild(guildID)
	if err != nil {
		guild, err = s.Guild(guildID)
		if err != nil {
			return false
		}
	}
	if guild.OwnerID == userID {
		return true
	}

	p, err := s.State.UserChannelPermissions(userID, channelID)
	if err != nil {
		p, err = s.UserChannelPermissions(userID, channelID)
		if err != nil {
			return false
		}
	}
	return p&discordgo.PermissionAdministrator != 0
}

// GuildCount returns the number of guilds in the session state.
func (a *Adapter) GuildCount() int {
	a.session.State.RLock()
	defer a.session.State.RUnlock()
	return len(a.session.State.Guilds)
}

// UserCount returns the sum of member counts across guilds.
func (a *Adapter) UserCount() int {
	a.session.State.RLock()
	defer a.session.State.RUnlock()
	total := 0
	for _, g := range a.session.State.Guilds {
		total += g.MemberCount
	}
	return total
}

// SetWatching updates the bot's "watching" presence.
func (a *Adapter) SetWatching(text string) error {
	return a.session.UpdateWatchStatus(0, text)
}

// SendMessage implements handler.Gateway.
func (a *Adapter) SendMessage(ctx context.Context, channelID int64, content string) error {
	_, err := a.session.ChannelMessageSend(formatID(channelID), content, discordgo.WithContext(ctx))
	return err
}

// AssignRole implements handler.Gateway.
func (a *Adapter) AssignRole(ctx context.Context, guildID, userID, roleID int64) error {
	return a.session.GuildMemberRoleAdd(formatID(guildID), formatID(userID), formatID(roleID), discordgo.WithContext(ctx))
}

// CreateChannel implements handler.Gateway. The channel is hidden from
// @everyone and visible to ownerID and the bot. A zero categoryID places it
// under TicketCategoryName, which is created if missing.
func (a *Adapter) CreateChannel(ctx context.Context, guildID, categoryID int64, name string, ownerID int64) (int64, error) {
	gid := formatID(guildID)
	parentID := ""
	if categoryID != 0 {
		parentID = formatID(categoryID)
	} else {
		id, err := a.ticketCategory(ctx, gid)
		if err != nil {
			return 0, err
		}
		parentID = id
	}

	const visible = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionReadMessageHistory
	overwrites := []*discordgo.PermissionOverwrite{
		// The @everyone role shares the guild id.
		{ID: gid, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
		{ID: formatID(ownerID), Type: discordgo.PermissionOverwriteTypeMember, Allow: visible},
	}
	if a.session.State.User != nil {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID: a.session.State.User.ID, Type: discordgo.PermissionOverwriteTypeMember, Allow: visible,
		})
	}

	ch, err := a.session.GuildChannelCreateComplex(gid, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildText,
		ParentID:             parentID,
		PermissionOverwrites: overwrites,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return 0, err
	}
	return parseID(ch.ID)
}

func (a *Adapter) ticketCategory(ctx context.Context, guildID string) (string, error) {
	channels, err := a.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to list channels: %w", err)
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildCategory && ch.Name == TicketCategoryName {
			return ch.ID, nil
		}
	}
	ch, err := a.session.GuildChannelCreate(guildID, TicketCategoryName, discordgo.ChannelTypeGuildCategory, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to create ticket category: %w", err)
	}
	return ch.ID, nil
}

// DeleteChannel implements handler.Gateway.
func (a *Adapter) DeleteChannel(ctx context.Context, channelID int64) error {
	_, err := a.session.ChannelDelete(formatID(channelID), discordgo.WithContext(ctx))
	return err
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid snowflake %q: %w", s, err)
	}
	return id, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
