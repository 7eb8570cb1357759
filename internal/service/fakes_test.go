package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"discord-guild-bot/internal/model"
	"discord-guild-bot/internal/pkg/db"
	"discord-guild-bot/internal/repository"
)

// testPolicy retries fast so tests never sleep for long.
var testPolicy = db.Policy{OpTimeout: time.Second, Attempts: 3, InitialInterval: time.Millisecond}

// ============================================================================
// Guild store
// ============================================================================

type fakeGuildStore struct {
	mu        sync.Mutex
	guilds    map[int64]model.GuildConfig
	failNext  int
	upserts   int
	clockTick time.Duration
	clock     time.Time
}

func newFakeGuildStore() *fakeGuildStore {
	return &fakeGuildStore{
		guilds:    make(map[int64]model.GuildConfig),
		clock:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		clockTick: time.Second,
	}
}

func (f *fakeGuildStore) tick() time.Time {
	f.clock = f.clock.Add(f.clockTick)
	return f.clock
}

func (f *fakeGuildStore) Get(_ context.Context, guildID int64) (*model.GuildConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.guilds[guildID]
	if !ok {
		return nil, fmt.Errorf("get guild: %w", repository.ErrNotFound)
	}
	return &g, nil
}

func (f *fakeGuildStore) Ensure(_ context.Context, guildID int64, name string, defaults model.Features) (*model.GuildConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.tick()
	g, ok := f.guilds[guildID]
	if !ok {
		g = model.GuildConfig{GuildID: guildID, Prefix: model.DefaultPrefix, Features: defaults, CreatedAt: now}
	}
	g.Name = name
	g.UpdatedAt = now
	f.guilds[guildID] = g
	return &g, nil
}

func (f *fakeGuildStore) Upsert(_ context.Context, guildID int64, p model.GuildSettingsPatch, defaults model.Features) (*model.GuildConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.failNext > 0 {
		f.failNext--
		return nil, fmt.Errorf("upsert guild: %w", repository.ErrTransient)
	}

	now := f.tick()
	g, ok := f.guilds[guildID]
	if !ok {
		g = model.GuildConfig{GuildID: guildID, Prefix: model.DefaultPrefix, Features: defaults, CreatedAt: now}
	}
	if p.Name != nil {
		g.Name = *p.Name
	}
	if p.Prefix != nil {
		g.Prefix = *p.Prefix
	}
	if p.WelcomeChannelID != nil {
		g.WelcomeChannelID = p.WelcomeChannelID
	}
	if p.WelcomeMessage != nil {
		g.WelcomeMessage = *p.WelcomeMessage
	}
	if p.GoodbyeMessage != nil {
		g.GoodbyeMessage = *p.GoodbyeMessage
	}
	if p.AutoRoleID != nil {
		g.AutoRoleID = p.AutoRoleID
	}
	if p.ModLogChannelID != nil {
		g.ModLogChannelID = p.ModLogChannelID
	}
	if p.Leveling != nil {
		g.Features.Leveling = *p.Leveling
	}
	if p.Economy != nil {
		g.Features.Economy = *p.Economy
	}
	if p.AutoModeration != nil {
		g.Features.AutoModeration = *p.AutoModeration
	}
	if p.Music != nil {
		g.Features.Music = *p.Music
	}
	g.UpdatedAt = now
	f.guilds[guildID] = g
	return &g, nil
}

// staticSettings resolves every guild to the same settings.
type staticSettings struct {
	features model.Features
}

func (s staticSettings) Resolve(_ context.Context, guildID int64) (*model.GuildConfig, error) {
	return &model.GuildConfig{GuildID: guildID, Prefix: model.DefaultPrefix, Features: s.features}, nil
}

// ============================================================================
// Member store
// ============================================================================

type memberKey struct{ guildID, userID int64 }

type fakeMemberStore struct {
	mu       sync.Mutex
	members  map[memberKey]model.MemberState
	failNext int
	writes   int
}

func newFakeMemberStore() *fakeMemberStore {
	return &fakeMemberStore{members: make(map[memberKey]model.MemberState)}
}

func (f *fakeMemberStore) ensureLocked(guildID, userID int64) model.MemberState {
	k := memberKey{guildID, userID}
	m, ok := f.members[k]
	if !ok {
		m = model.MemberState{
			UserID:  userID,
			GuildID: guildID,
			Level:   model.InitialLevel,
			Coins:   model.InitialCoins,
		}
		f.members[k] = m
	}
	return m
}

func (f *fakeMemberStore) Get(_ context.Context, guildID, userID int64) (*model.MemberState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[memberKey{guildID, userID}]
	if !ok {
		return nil, fmt.Errorf("get member: %w", repository.ErrNotFound)
	}
	return &m, nil
}

func (f *fakeMemberStore) Ensure(_ context.Context, guildID, userID int64) (*model.MemberState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.ensureLocked(guildID, userID)
	return &m, nil
}

// Update mirrors the transactional repository: fn sees a private copy and the
// copy is only stored when fn reports a change without error.
func (f *fakeMemberStore) Update(_ context.Context, guildID, userID int64, fn func(m *model.MemberState) (bool, error)) (*model.MemberState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return nil, fmt.Errorf("update member: %w", repository.ErrTransient)
	}

	m := f.ensureLocked(guildID, userID)
	if m.LastMessageAt != nil {
		at := *m.LastMessageAt
		m.LastMessageAt = &at
	}
	changed, err := fn(&m)
	if err != nil {
		return nil, err
	}
	if changed {
		f.members[memberKey{guildID, userID}] = m
		f.writes++
	}
	return &m, nil
}

func (f *fakeMemberStore) sorted(guildID int64) []*model.MemberState {
	var out []*model.MemberState
	for k, m := range f.members {
		if k.guildID == guildID {
			m := m
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].XP != out[j].XP {
			return out[i].XP > out[j].XP
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (f *fakeMemberStore) TopByXP(_ context.Context, guildID int64, limit int) ([]*model.MemberState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.sorted(guildID)
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (f *fakeMemberStore) RankOf(_ context.Context, guildID, userID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.sorted(guildID) {
		if m.UserID == userID {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("rank member: %w", repository.ErrNotFound)
}

func (f *fakeMemberStore) CountByGuild(_ context.Context, guildID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k := range f.members {
		if k.guildID == guildID {
			n++
		}
	}
	return n, nil
}

// ============================================================================
// Moderation store
// ============================================================================

type fakeModerationStore struct {
	mu       sync.Mutex
	nextID   int64
	records  []model.ModerationRecord
	warnings map[int64]*model.Warning
}

func newFakeModerationStore() *fakeModerationStore {
	return &fakeModerationStore{warnings: make(map[int64]*model.Warning)}
}

func (f *fakeModerationStore) Record(_ context.Context, rec model.ModerationRecord) (*model.ModerationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	rec.ID = f.nextID
	rec.CreatedAt = time.Now()
	f.records = append(f.records, rec)
	return &rec, nil
}

func (f *fakeModerationStore) ListByTarget(_ context.Context, guildID, targetID int64, limit int) ([]*model.ModerationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.ModerationRecord
	for i := len(f.records) - 1; i >= 0 && len(out) < limit; i-- {
		r := f.records[i]
		if r.GuildID == guildID && r.TargetID == targetID {
			out = append(out, &r)
		}
	}
	return out, nil
}

func (f *fakeModerationStore) AddWarning(_ context.Context, guildID, userID, moderatorID int64, reason string) (*model.Warning, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	w := &model.Warning{
		ID: f.nextID, GuildID: guildID, UserID: userID, ModeratorID: moderatorID,
		Reason: reason, Active: true, CreatedAt: time.Now(),
	}
	f.warnings[w.ID] = w
	out := *w
	return &out, nil
}

func (f *fakeModerationStore) ClearWarning(_ context.Context, guildID, warningID int64) (*model.Warning, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.warnings[warningID]
	if !ok || !w.Active || w.GuildID != guildID {
		return nil, fmt.Errorf("clear warning: %w", repository.ErrNotFound)
	}
	now := time.Now()
	w.Active = false
	w.ClearedAt = &now
	out := *w
	return &out, nil
}

func (f *fakeModerationStore) ListActiveWarnings(_ context.Context, guildID, userID int64) ([]*model.Warning, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Warning
	for _, w := range f.warnings {
		if w.GuildID == guildID && w.UserID == userID && w.Active {
			c := *w
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ============================================================================
// Ticket store
// ============================================================================

type fakeTicketStore struct {
	mu      sync.Mutex
	nextID  int64
	tickets map[int64]*model.Ticket
}

func newFakeTicketStore() *fakeTicketStore {
	return &fakeTicketStore{tickets: make(map[int64]*model.Ticket)}
}

func (f *fakeTicketStore) Open(_ context.Context, guildID, userID, channelID, categoryID int64) (*model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tickets {
		if t.GuildID == guildID && t.UserID == userID && t.Status == model.TicketOpen {
			return nil, fmt.Errorf("open ticket: %w: ux_tickets_open", repository.ErrConflict)
		}
	}
	f.nextID++
	t := &model.Ticket{
		ID: f.nextID, GuildID: guildID, UserID: userID, ChannelID: channelID,
		CategoryID: categoryID, Status: model.TicketOpen, CreatedAt: time.Now(),
	}
	f.tickets[t.ID] = t
	out := *t
	return &out, nil
}

func (f *fakeTicketStore) Close(_ context.Context, ticketID int64, closedAt time.Time) (*model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[ticketID]
	if !ok || t.Status != model.TicketOpen {
		return nil, fmt.Errorf("close ticket: %w", repository.ErrNotFound)
	}
	t.Status = model.TicketClosed
	t.ClosedAt = &closedAt
	out := *t
	return &out, nil
}

func (f *fakeTicketStore) find(match func(t *model.Ticket) bool) (*model.Ticket, error) {
	for _, t := range f.tickets {
		if t.Status == model.TicketOpen && match(t) {
			out := *t
			return &out, nil
		}
	}
	return nil, fmt.Errorf("get ticket: %w", repository.ErrNotFound)
}

func (f *fakeTicketStore) GetOpen(_ context.Context, guildID, userID int64) (*model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(func(t *model.Ticket) bool { return t.GuildID == guildID && t.UserID == userID })
}

func (f *fakeTicketStore) GetOpenByChannel(_ context.Context, guildID, channelID int64) (*model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(func(t *model.Ticket) bool { return t.GuildID == guildID && t.ChannelID == channelID })
}

func (f *fakeTicketStore) ListOpen(_ context.Context, guildID int64) ([]*model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Ticket
	for _, t := range f.tickets {
		if t.GuildID == guildID && t.Status == model.TicketOpen {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeTicketStore) openCount(guildID, userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tickets {
		if t.GuildID == guildID && t.UserID == userID && t.Status == model.TicketOpen {
			n++
		}
	}
	return n
}
