package handler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"discord-guild-bot/internal/model"
	"discord-guild-bot/internal/repository"
	"discord-guild-bot/internal/service"
)

type gatewayCall struct {
	op        string
	channelID int64
	guildID   int64
	userID    int64
	roleID    int64
	content   string
}

type fakeGateway struct {
	mu          sync.Mutex
	calls       []gatewayCall
	nextChannel int64
	createErr   error
	sendErr     error
}

func (g *fakeGateway) record(c gatewayCall) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, c)
}

func (g *fakeGateway) SendMessage(_ context.Context, channelID int64, content string) error {
	g.record(gatewayCall{op: "send", channelID: channelID, content: content})
	return g.sendErr
}

func (g *fakeGateway) AssignRole(_ context.Context, guildID, userID, roleID int64) error {
	g.record(gatewayCall{op: "role", guildID: guildID, userID: userID, roleID: roleID})
	return nil
}

func (g *fakeGateway) CreateChannel(_ context.Context, guildID, _ int64, _ string, ownerID int64) (int64, error) {
	if g.createErr != nil {
		return 0, g.createErr
	}
	g.mu.Lock()
	g.nextChannel++
	id := 9000 + g.nextChannel
	g.mu.Unlock()
	g.record(gatewayCall{op: "create", channelID: id, guildID: guildID, userID: ownerID})
	return id, nil
}

func (g *fakeGateway) DeleteChannel(_ context.Context, channelID int64) error {
	g.record(gatewayCall{op: "delete", channelID: channelID})
	return nil
}

func (g *fakeGateway) ops() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.calls))
	for i, c := range g.calls {
		out[i] = c.op
	}
	return out
}

func (g *fakeGateway) find(op string) (gatewayCall, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.calls {
		if c.op == op {
			return c, true
		}
	}
	return gatewayCall{}, false
}

type fakeSettings struct {
	cfg       model.GuildConfig
	ensured   []string
	upsertErr error
}

func (s *fakeSettings) Resolve(_ context.Context, guildID int64) (*model.GuildConfig, error) {
	c := s.cfg
	c.GuildID = guildID
	return &c, nil
}

func (s *fakeSettings) EnsureGuild(_ context.Context, guildID int64, name string) (*model.GuildConfig, error) {
	s.ensured = append(s.ensured, name)
	c := s.cfg
	c.GuildID = guildID
	c.Name = name
	return &c, nil
}

func (s *fakeSettings) Upsert(_ context.Context, guildID int64, patch model.GuildSettingsPatch) (*model.GuildConfig, error) {
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	if patch.Prefix != nil {
		s.cfg.Prefix = *patch.Prefix
	}
	c := s.cfg
	c.GuildID = guildID
	return &c, nil
}

type fakeLedger struct {
	levelUp  *model.LevelUpEvent
	err      error
	panicMsg string
	ensured  int
	members  int
	rank     *service.RankInfo
}

func (l *fakeLedger) RecordActivity(_ context.Context, userID, guildID int64, _ time.Time) (*model.LevelUpEvent, error) {
	if l.panicMsg != "" {
		panic(l.panicMsg)
	}
	return l.levelUp, l.err
}

func (l *fakeLedger) SetLevel(_ context.Context, guildID, userID int64, level int) (*model.MemberState, error) {
	if level < model.InitialLevel || level > model.MaxLevel {
		return nil, service.ErrInvalidLevel
	}
	return &model.MemberState{GuildID: guildID, UserID: userID, Level: level, XP: service.RequiredXP(level) - 1}, nil
}

func (l *fakeLedger) EnsureMember(_ context.Context, guildID, userID int64) (*model.MemberState, error) {
	l.ensured++
	return &model.MemberState{GuildID: guildID, UserID: userID, Level: 1}, nil
}

func (l *fakeLedger) Rank(_ context.Context, _, _ int64) (*service.RankInfo, error) {
	if l.panicMsg != "" {
		panic(l.panicMsg)
	}
	if l.rank == nil {
		return nil, fmt.Errorf("get member: %w", repository.ErrNotFound)
	}
	return l.rank, nil
}

func (l *fakeLedger) Leaderboard(_ context.Context, _ int64, _ int) ([]*model.MemberState, error) {
	return nil, nil
}

func (l *fakeLedger) MemberCount(_ context.Context, _ int64) (int, error) {
	return l.members, l.err
}

type fakeModeration struct {
	nextID  int64
	cleared map[int64]bool
	history []*model.ModerationRecord
}

func (m *fakeModeration) Record(_ context.Context, guildID, moderatorID, targetID int64, action model.ModAction, reason string, duration *time.Duration) (*model.ModerationRecord, error) {
	if !action.Valid() {
		return nil, service.ErrInvalidAction
	}
	m.nextID++
	return &model.ModerationRecord{
		ID: m.nextID, GuildID: guildID, ModeratorID: moderatorID, TargetID: targetID,
		Action: action, Reason: reason, Duration: duration,
	}, nil
}

func (m *fakeModeration) Warn(ctx context.Context, guildID, moderatorID, targetID int64, reason string) (*model.Warning, *model.ModerationRecord, error) {
	m.nextID++
	w := &model.Warning{ID: m.nextID, GuildID: guildID, UserID: targetID, ModeratorID: moderatorID, Reason: reason, Active: true}
	rec, err := m.Record(ctx, guildID, moderatorID, targetID, model.ModActionWarn, reason, nil)
	return w, rec, err
}

func (m *fakeModeration) ClearWarning(_ context.Context, guildID, warningID int64) (*model.Warning, error) {
	if m.cleared == nil {
		m.cleared = make(map[int64]bool)
	}
	if m.cleared[warningID] {
		return nil, fmt.Errorf("clear warning: %w", repository.ErrNotFound)
	}
	m.cleared[warningID] = true
	return &model.Warning{ID: warningID, GuildID: guildID, UserID: 1}, nil
}

func (m *fakeModeration) ListActive(_ context.Context, _, _ int64) ([]*model.Warning, error) {
	return nil, nil
}

func (m *fakeModeration) History(_ context.Context, guildID, targetID int64, _ int) ([]*model.ModerationRecord, error) {
	return m.history, nil
}

type fakeTickets struct {
	mu       sync.Mutex
	open     map[int64]*model.Ticket // by user
	openErr  error
	nextID   int64
	getCalls int
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{open: make(map[int64]*model.Ticket)}
}

func (f *fakeTickets) Open(_ context.Context, guildID, userID, channelID, categoryID int64) (*model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	if _, ok := f.open[userID]; ok {
		return nil, fmt.Errorf("open ticket: %w", repository.ErrConflict)
	}
	f.nextID++
	t := &model.Ticket{ID: f.nextID, GuildID: guildID, UserID: userID, ChannelID: channelID, CategoryID: categoryID, Status: model.TicketOpen}
	f.open[userID] = t
	return t, nil
}

func (f *fakeTickets) CloseByChannel(_ context.Context, _, channelID int64) (*model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for user, t := range f.open {
		if t.ChannelID == channelID {
			delete(f.open, user)
			c := *t
			c.Status = model.TicketClosed
			return &c, nil
		}
	}
	return nil, fmt.Errorf("get ticket by channel: %w", repository.ErrNotFound)
}

func (f *fakeTickets) GetOpen(_ context.Context, _, userID int64) (*model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if t, ok := f.open[userID]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("get open ticket: %w", repository.ErrNotFound)
}

func (f *fakeTickets) ListOpen(_ context.Context, guildID int64) ([]*model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Ticket, 0, len(f.open))
	for _, t := range f.open {
		if t.GuildID == guildID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
