// Package model defines the persisted entities of the guild state engine.
package model

import "time"

// DefaultPrefix is the command prefix used when a guild has not configured one.
const DefaultPrefix = "!"

// GuildConfig holds per-guild settings.
// A row is created on first contact with a guild and is never hard-deleted,
// so a guild that removes and re-adds the bot keeps its settings.
type GuildConfig struct {
	GuildID          int64     `db:"guild_id"`
	Name             string    `db:"name"`
	Prefix           string    `db:"prefix"`
	WelcomeChannelID *int64    `db:"welcome_channel_id"`
	WelcomeMessage   string    `db:"welcome_message"`
	GoodbyeMessage   string    `db:"goodbye_message"`
	AutoRoleID       *int64    `db:"auto_role_id"`
	ModLogChannelID  *int64    `db:"mod_log_channel_id"`
	Features         Features  `db:"-"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// Features is the set of per-guild feature toggles.
type Features struct {
	Leveling       bool `mapstructure:"leveling"`
	Economy        bool `mapstructure:"economy"`
	AutoModeration bool `mapstructure:"auto_moderation"`
	Music          bool `mapstructure:"music"`
}

// AllFeatures returns a Features value with every toggle enabled.
func AllFeatures() Features {
	return Features{Leveling: true, Economy: true, AutoModeration: true, Music: true}
}

// GuildSettingsPatch describes a partial settings update.
// Nil fields are left unchanged by an upsert.
type GuildSettingsPatch struct {
	Name             *string
	Prefix           *string
	WelcomeChannelID *int64
	WelcomeMessage   *string
	GoodbyeMessage   *string
	AutoRoleID       *int64
	ModLogChannelID  *int64
	Leveling         *bool
	Economy          *bool
	AutoModeration   *bool
	Music            *bool
}

// IsEmpty reports whether the patch changes nothing.
func (p GuildSettingsPatch) IsEmpty() bool {
	return p == GuildSettingsPatch{}
}

// MemberState is the engagement state of one user inside one guild.
type MemberState struct {
	UserID        int64      `db:"user_id"`
	GuildID       int64      `db:"guild_id"`
	XP            int64      `db:"xp"`
	Level         int        `db:"level"`
	Coins         int64      `db:"coins"`
	LastMessageAt *time.Time `db:"last_message_at"`
	Warnings      int        `db:"warnings"`
	Reputation    int        `db:"reputation"`
	CreatedAt     time.Time  `db:"created_at"`
}

// Default values for a newly tracked member.
const (
	InitialLevel = 1
	InitialCoins = 100
)

// MaxLevel is the highest level an override may set. RequiredXP stays well
// inside int64 up to here.
const MaxLevel = 100000

// LevelUpEvent is produced when an activity pushes a member to a higher level.
type LevelUpEvent struct {
	UserID   int64
	GuildID  int64
	OldLevel int
	NewLevel int
}

// ModAction is the kind of a moderation journal entry.
type ModAction string

// Moderation actions.
const (
	ModActionKick  ModAction = "kick"
	ModActionBan   ModAction = "ban"
	ModActionWarn  ModAction = "warn"
	ModActionMute  ModAction = "mute"
	ModActionPurge ModAction = "purge"
)

// Valid reports whether a is one of the known moderation actions.
func (a ModAction) Valid() bool {
	switch a {
	case ModActionKick, ModActionBan, ModActionWarn, ModActionMute, ModActionPurge:
		return true
	}
	return false
}

// ModerationRecord is an immutable journal entry.
type ModerationRecord struct {
	ID          int64          `db:"id"`
	GuildID     int64          `db:"guild_id"`
	ModeratorID int64          `db:"moderator_id"`
	TargetID    int64          `db:"target_id"`
	Action      ModAction      `db:"action"`
	Reason      string         `db:"reason"`
	Duration    *time.Duration `db:"duration_seconds"`
	CreatedAt   time.Time      `db:"created_at"`
}

// Warning is an issued warning. Active flips to false exactly once, on clear.
type Warning struct {
	ID          int64      `db:"id"`
	GuildID     int64      `db:"guild_id"`
	UserID      int64      `db:"user_id"`
	ModeratorID int64      `db:"moderator_id"`
	Reason      string     `db:"reason"`
	Active      bool       `db:"active"`
	CreatedAt   time.Time  `db:"created_at"`
	ClearedAt   *time.Time `db:"cleared_at"`
}

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

// Ticket states. A user has at most one open ticket per guild.
const (
	TicketOpen   TicketStatus = "open"
	TicketClosed TicketStatus = "closed"
)

// Ticket is a support conversation bound to a dedicated channel.
type Ticket struct {
	ID         int64        `db:"id"`
	GuildID    int64        `db:"guild_id"`
	UserID     int64        `db:"user_id"`
	ChannelID  int64        `db:"channel_id"`
	CategoryID int64        `db:"category_id"`
	Status     TicketStatus `db:"status"`
	CreatedAt  time.Time    `db:"created_at"`
	ClosedAt   *time.Time   `db:"closed_at"`
}

// StatsSnapshot is the singleton liveness and size report of the bot.
type StatsSnapshot struct {
	Online        bool      `db:"online" json:"online"`
	GuildCount    int       `db:"guild_count" json:"guild_count"`
	UserCount     int       `db:"user_count" json:"user_count"`
	LastHeartbeat time.Time `db:"last_heartbeat" json:"last_heartbeat"`
}
