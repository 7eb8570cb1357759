// Package event defines the closed set of inbound platform events the engine
// reacts to. Gateway adapters translate raw platform payloads into these
// types; nothing past the adapter sees loosely typed data.
package event

import (
	"time"

	"discord-guild-bot/internal/model"
)

// Event is implemented only by the types in this package.
type Event interface {
	GuildKey() int64
	isEvent()
}

// MessageReceived is a guild message written by a human member.
type MessageReceived struct {
	GuildID   int64
	ChannelID int64
	AuthorID  int64
	Timestamp time.Time
}

// MemberJoined is a user joining a guild.
type MemberJoined struct {
	GuildID     int64
	UserID      int64
	Username    string
	GuildName   string
	MemberCount int
}

// GuildJoined is the bot becoming available in a guild, either on first
// invite or on reconnect.
type GuildJoined struct {
	GuildID int64
	Name    string
}

// InteractionSubmitted is a command or UI action issued by a user.
type InteractionSubmitted struct {
	GuildID   int64
	ChannelID int64
	UserID    int64
	// Admin is resolved by the adapter from platform permissions or the
	// configured owner ids.
	Admin   bool
	Payload Payload
}

func (e MessageReceived) GuildKey() int64      { return e.GuildID }
func (e MemberJoined) GuildKey() int64         { return e.GuildID }
func (e GuildJoined) GuildKey() int64          { return e.GuildID }
func (e InteractionSubmitted) GuildKey() int64 { return e.GuildID }

func (MessageReceived) isEvent()      {}
func (MemberJoined) isEvent()         {}
func (GuildJoined) isEvent()          {}
func (InteractionSubmitted) isEvent() {}

// Kind returns the kind of the interaction payload.
func (e InteractionSubmitted) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// Kind names an interaction payload.
type Kind string

// Interaction kinds.
const (
	KindTicketOpen   Kind = "ticket_open"
	KindTicketClose  Kind = "ticket_close"
	KindSetLevel     Kind = "set_level"
	KindWarn         Kind = "warn"
	KindClearWarning Kind = "clear_warning"
	KindWarnings     Kind = "warnings"
	KindModAction    Kind = "mod_action"
	KindRank         Kind = "rank"
	KindLeaderboard  Kind = "leaderboard"
	KindConfigure    Kind = "configure"
	KindServerStats  Kind = "server_stats"
	KindModHistory   Kind = "mod_history"
	KindTicketList   Kind = "ticket_list"
)

// Privileged reports whether only admins may submit this kind.
func (k Kind) Privileged() bool {
	switch k {
	case KindSetLevel, KindWarn, KindClearWarning, KindModAction, KindConfigure,
		KindModHistory, KindTicketList:
		return true
	}
	return false
}

// Payload is implemented only by the payload types in this package.
type Payload interface {
	Kind() Kind
	isPayload()
}

// TicketOpen asks for a support ticket in the given channel category.
type TicketOpen struct {
	CategoryID int64
}

// TicketClose closes the ticket bound to the channel the interaction came from.
type TicketClose struct{}

// SetLevel overrides a member's level.
type SetLevel struct {
	TargetID int64
	Level    int
}

// Warn issues a warning to a member.
type Warn struct {
	TargetID int64
	Reason   string
}

// ClearWarning deactivates a warning.
type ClearWarning struct {
	WarningID int64
}

// ListWarnings lists a member's active warnings.
type ListWarnings struct {
	TargetID int64
}

// ModAction journals a kick, ban, mute or purge.
type ModAction struct {
	Action   model.ModAction
	TargetID int64
	Reason   string
	Duration *time.Duration
}

// Rank shows a member's level and position. A zero TargetID means the caller.
type Rank struct {
	TargetID int64
}

// Leaderboard shows the top members by xp.
type Leaderboard struct {
	Limit int
}

// Configure changes guild settings.
type Configure struct {
	Patch model.GuildSettingsPatch
}

// ServerStats shows guild and bot statistics.
type ServerStats struct{}

// ModHistory lists the newest journal entries about a member.
// A zero Limit means the default size.
type ModHistory struct {
	TargetID int64
	Limit    int
}

// TicketList lists the open tickets of the guild.
type TicketList struct{}

func (TicketOpen) Kind() Kind   { return KindTicketOpen }
func (TicketClose) Kind() Kind  { return KindTicketClose }
func (SetLevel) Kind() Kind     { return KindSetLevel }
func (Warn) Kind() Kind         { return KindWarn }
func (ClearWarning) Kind() Kind { return KindClearWarning }
func (ListWarnings) Kind() Kind { return KindWarnings }
func (ModAction) Kind() Kind    { return KindModAction }
func (Rank) Kind() Kind         { return KindRank }
func (Leaderboard) Kind() Kind  { return KindLeaderboard }
func (Configure) Kind() Kind    { return KindConfigure }
func (ServerStats) Kind() Kind  { return KindServerStats }
func (ModHistory) Kind() Kind   { return KindModHistory }
func (TicketList) Kind() Kind   { return KindTicketList }

func (TicketOpen) isPayload()   {}
func (TicketClose) isPayload()  {}
func (SetLevel) isPayload()     {}
func (Warn) isPayload()         {}
func (ClearWarning) isPayload() {}
func (ListWarnings) isPayload() {}
func (ModAction) isPayload()    {}
func (Rank) isPayload()         {}
func (Leaderboard) isPayload()  {}
func (Configure) isPayload()    {}
func (ServerStats) isPayload()  {}
func (ModHistory) isPayload()   {}
func (TicketList) isPayload()   {}
