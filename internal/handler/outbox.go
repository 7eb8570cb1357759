// Package handler routes inbound platform events to the engine services and
// turns their results into replies and outbound platform commands.
package handler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Gateway performs side effects on the platform.
type Gateway interface {
	SendMessage(ctx context.Context, channelID int64, content string) error
	AssignRole(ctx context.Context, guildID, userID, roleID int64) error
	// CreateChannel creates a private text channel in categoryID visible to
	// ownerID and returns its id.
	CreateChannel(ctx context.Context, guildID, categoryID int64, name string, ownerID int64) (int64, error)
	DeleteChannel(ctx context.Context, channelID int64) error
}

type command struct {
	op     string
	logger zerolog.Logger
	run    func(ctx context.Context, gw Gateway) error
}

// Outbox queues fire-and-forget platform commands and executes them on a
// single worker. Failures are logged with the context of the event that
// produced them and never reported back to the caller.
type Outbox struct {
	gw      Gateway
	queue   chan command
	timeout time.Duration
	dropped atomic.Int64
}

// NewOutbox creates an outbox holding at most size pending commands.
func NewOutbox(gw Gateway, size int, timeout time.Duration) *Outbox {
	if size < 1 {
		size = 1
	}
	return &Outbox{
		gw:      gw,
		queue:   make(chan command, size),
		timeout: timeout,
	}
}

// loggerFrom returns the event logger stored in ctx, or the global logger.
func loggerFrom(ctx context.Context) zerolog.Logger {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		return log.Logger
	}
	return *l
}

// enqueue never blocks. A full queue drops the command.
func (o *Outbox) enqueue(ctx context.Context, op string, run func(ctx context.Context, gw Gateway) error) bool {
	cmd := command{op: op, logger: loggerFrom(ctx), run: run}
	select {
	case o.queue <- cmd:
		return true
	default:
		o.dropped.Add(1)
		cmd.logger.Warn().Str("op", op).Msg("Outbox full, dropping command")
		return false
	}
}

// SendMessage queues a message to channelID.
func (o *Outbox) SendMessage(ctx context.Context, channelID int64, content string) bool {
	return o.enqueue(ctx, "send_message", func(ctx context.Context, gw Gateway) error {
		return gw.SendMessage(ctx, channelID, content)
	})
}

// AssignRole queues a role assignment.
func (o *Outbox) AssignRole(ctx context.Context, guildID, userID, roleID int64) bool {
	return o.enqueue(ctx, "assign_role", func(ctx context.Context, gw Gateway) error {
		return gw.AssignRole(ctx, guildID, userID, roleID)
	})
}

// DeleteChannel queues a channel deletion.
func (o *Outbox) DeleteChannel(ctx context.Context, channelID int64) bool {
	return o.enqueue(ctx, "delete_channel", func(ctx context.Context, gw Gateway) error {
		return gw.DeleteChannel(ctx, channelID)
	})
}

// Dropped returns how many commands were discarded because the queue was full.
func (o *Outbox) Dropped() int64 {
	return o.dropped.Load()
}

// Pending returns the number of queued commands.
func (o *Outbox) Pending() int {
	return len(o.queue)
}

// Run executes queued commands until ctx is cancelled, then executes what is
// still queued and returns.
func (o *Outbox) Run(ctx context.Context) error {
	log.Info().Int("capacity", cap(o.queue)).Msg("Outbox worker started")
	for {
		select {
		case <-ctx.Done():
			o.drain()
			log.Info().Msg("Outbox worker stopped")
			return nil
		case cmd := <-o.queue:
			o.execute(ctx, cmd)
		}
	}
}

func (o *Outbox) drain() {
	for {
		select {
		case cmd := <-o.queue:
			o.execute(context.Background(), cmd)
		default:
			return
		}
	}
}

func (o *Outbox) execute(ctx context.Context, cmd command) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			cmd.logger.Error().Interface("panic", r).Str("op", cmd.op).Msg("Recovered from panic in outbound command")
		}
	}()

	if err := cmd.run(ctx, o.gw); err != nil {
		cmd.logger.Error().Err(err).Str("op", cmd.op).Msg("Outbound command failed")
		return
	}
	cmd.logger.Debug().Str("op", cmd.op).Msg("Outbound command delivered")
}
