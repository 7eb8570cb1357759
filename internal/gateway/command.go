package gateway

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"discord-guild-bot/internal/event"
	"discord-guild-bot/internal/model"
)

// Command parsing errors. Their text is shown to the user.
var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("usage")
)

// Command is a prefix command split into its name and arguments.
type Command struct {
	Name string
	Args []string
}

// ParseCommand splits content into a command if it starts with prefix.
// Names are case-insensitive.
func ParseCommand(content, prefix string) (Command, bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return Command{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}, true
}

// ParseSnowflake extracts an id from a raw id or a user, role or channel mention.
func ParseSnowflake(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") {
		s = strings.TrimSuffix(strings.TrimPrefix(s, "<"), ">")
		s = strings.TrimLeft(s, "@!&#")
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func usage(format string) error {
	return fmt.Errorf("%w: %s", ErrUsage, format)
}

// Payload maps a prefix command onto an interaction payload.
func (c Command) Payload() (event.Payload, error) {
	switch c.Name {
	case "ticket":
		return event.TicketOpen{}, nil
	case "close":
		return event.TicketClose{}, nil
	case "rank":
		if len(c.Args) == 0 {
			return event.Rank{}, nil
		}
		id, err := ParseSnowflake(c.Args[0])
		if err != nil {
			return nil, usage("rank [@user]")
		}
		return event.Rank{TargetID: id}, nil
	case "leaderboard", "top":
		if len(c.Args) == 0 {
			return event.Leaderboard{}, nil
		}
		n, err := strconv.Atoi(c.Args[0])
		if err != nil || n < 1 {
			return nil, usage("leaderboard [size]")
		}
		return event.Leaderboard{Limit: n}, nil
	case "stats", "serverstats":
		return event.ServerStats{}, nil
	case "setlevel":
		if len(c.Args) != 2 {
			return nil, usage("setlevel @user <level 1-100000>")
		}
		id, err := ParseSnowflake(c.Args[0])
		if err != nil {
			return nil, usage("setlevel @user <level 1-100000>")
		}
		level, err := strconv.Atoi(c.Args[1])
		if err != nil || level < model.InitialLevel || level > model.MaxLevel {
			return nil, usage("setlevel @user <level 1-100000>")
		}
		return event.SetLevel{TargetID: id, Level: level}, nil
	case "warn":
		if len(c.Args) < 1 {
			return nil, usage("warn @user [reason]")
		}
		id, err := ParseSnowflake(c.Args[0])
		if err != nil {
			return nil, usage("warn @user [reason]")
		}
		return event.Warn{TargetID: id, Reason: strings.Join(c.Args[1:], " ")}, nil
	case "clearwarn":
		if len(c.Args) != 1 {
			return nil, usage("clearwarn <warning id>")
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(c.Args[0], "#"), 10, 64)
		if err != nil {
			return nil, usage("clearwarn <warning id>")
		}
		return event.ClearWarning{WarningID: id}, nil
	case "warnings":
		if len(c.Args) == 0 {
			return event.ListWarnings{}, nil
		}
		id, err := ParseSnowflake(c.Args[0])
		if err != nil {
			return nil, usage("warnings [@user]")
		}
		return event.ListWarnings{TargetID: id}, nil
	case "modlogs":
		if len(c.Args) < 1 || len(c.Args) > 2 {
			return nil, usage("modlogs @user [size]")
		}
		id, err := ParseSnowflake(c.Args[0])
		if err != nil {
			return nil, usage("modlogs @user [size]")
		}
		p := event.ModHistory{TargetID: id}
		if len(c.Args) == 2 {
			if p.Limit, err = strconv.Atoi(c.Args[1]); err != nil || p.Limit < 1 {
				return nil, usage("modlogs @user [size]")
			}
		}
		return p, nil
	case "tickets":
		return event.TicketList{}, nil
	case "kick", "ban", "mute", "purge":
		return c.modAction()
	case "config":
		return c.configure()
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, c.Name)
}

// modAction parses "<action> @user [duration] [reason]". Only mute takes a
// duration.
func (c Command) modAction() (event.Payload, error) {
	format := c.Name + " @user [reason]"
	if c.Name == "mute" {
		format = "mute @user [duration] [reason]"
	}
	if len(c.Args) < 1 {
		return nil, usage(format)
	}
	id, err := ParseSnowflake(c.Args[0])
	if err != nil {
		return nil, usage(format)
	}

	p := event.ModAction{Action: model.ModAction(c.Name), TargetID: id}
	rest := c.Args[1:]
	if c.Name == "mute" && len(rest) > 0 {
		if d, err := time.ParseDuration(rest[0]); err == nil && d > 0 {
			p.Duration = &d
			rest = rest[1:]
		}
	}
	p.Reason = strings.Join(rest, " ")
	return p, nil
}

const configUsage = "config prefix <p> | welcome #channel [message] | goodbye <message> | autorole @role | modlog #channel | feature <leveling|economy|automod|music> <on|off>"

func (c Command) configure() (event.Payload, error) {
	if len(c.Args) < 2 {
		return nil, usage(configUsage)
	}

	var patch model.GuildSettingsPatch
	key, args := strings.ToLower(c.Args[0]), c.Args[1:]
	switch key {
	case "prefix":
		if len(args) != 1 {
			return nil, usage(configUsage)
		}
		patch.Prefix = &args[0]
	case "welcome":
		id, err := ParseSnowflake(args[0])
		if err != nil {
			return nil, usage(configUsage)
		}
		patch.WelcomeChannelID = &id
		if len(args) > 1 {
			msg := strings.Join(args[1:], " ")
			patch.WelcomeMessage = &msg
		}
	case "goodbye":
		msg := strings.Join(args, " ")
		patch.GoodbyeMessage = &msg
	case "autorole":
		id, err := ParseSnowflake(args[0])
		if err != nil {
			return nil, usage(configUsage)
		}
		patch.AutoRoleID = &id
	case "modlog":
		id, err := ParseSnowflake(args[0])
		if err != nil {
			return nil, usage(configUsage)
		}
		patch.ModLogChannelID = &id
	case "feature":
		if len(args) != 2 {
			return nil, usage(configUsage)
		}
		on, err := parseToggle(args[1])
		if err != nil {
			return nil, usage(configUsage)
		}
		switch strings.ToLower(args[0]) {
		case "leveling":
			patch.Leveling = &on
		case "economy":
			patch.Economy = &on
		case "automod", "auto_moderation":
			patch.AutoModeration = &on
		case "music":
			patch.Music = &on
		default:
			return nil, usage(configUsage)
		}
	default:
		return nil, usage(configUsage)
	}
	return event.Configure{Patch: patch}, nil
}

func parseToggle(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "enable", "enabled", "yes":
		return true, nil
	case "off", "false", "disable", "disabled", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid toggle %q", s)
}

// Component custom ids.
const (
	customIDTicketOpen  = "ticket:open"
	customIDTicketClose = "ticket:close"
)

// componentPayload maps a button custom id onto an interaction payload.
// Ticket open buttons may carry a category id: "ticket:open:<category>".
func componentPayload(customID string) (event.Payload, error) {
	switch {
	case customID == customIDTicketClose:
		return event.TicketClose{}, nil
	case customID == customIDTicketOpen:
		return event.TicketOpen{}, nil
	case strings.HasPrefix(customID, customIDTicketOpen+":"):
		id, err := ParseSnowflake(strings.TrimPrefix(customID, customIDTicketOpen+":"))
		if err != nil {
			return nil, fmt.Errorf("bad ticket button %q: %w", customID, err)
		}
		return event.TicketOpen{CategoryID: id}, nil
	}
	return nil, fmt.Errorf("%w: component %s", ErrUnknownCommand, customID)
}

// HelpText lists the prefix commands.
func HelpText(prefix string) string {
	lines := []string{
		"🤖 **Commands**",
		"📊 Leveling: `%[1]srank [@user]` `%[1]sleaderboard [size]` `%[1]ssetlevel @user <level>`",
		"🛡️ Moderation: `%[1]swarn` `%[1]swarnings` `%[1]sclearwarn` `%[1]smodlogs` `%[1]skick` `%[1]sban` `%[1]smute` `%[1]spurge`",
		"🎫 Tickets: `%[1]sticket` `%[1]sclose` `%[1]stickets` `%[1]sticketpanel`",
		"⚙️ Admin: `%[1]sconfig`",
		"📈 Info: `%[1]sstats` `%[1]shelp`",
	}
	return fmt.Sprintf(strings.Join(lines, "\n"), prefix)
}
