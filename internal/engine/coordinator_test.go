package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"pdr-security/internal/exempt"
	"pdr-security/internal/models"
	"pdr-security/internal/modules/antibot"
	"pdr-security/internal/modules/antiinvite"
	"pdr-security/internal/modules/antilink"
	"pdr-security/internal/modules/antimention"
	"pdr-security/internal/modules/antinuke"
	"pdr-security/internal/modules/antirole"
	"pdr-security/internal/modules/antispam"
	"pdr-security/internal/modules/antiwebhook"
	"pdr-security/internal/modules/audit"
	"pdr-security/internal/punish"
	"pdr-security/internal/recovery"
	"pdr-security/internal/settings"
	"pdr-security/internal/storage"
	"pdr-security/internal/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTimer struct {
	stop bool
	fn   func()
}

func (t *fakeTimer) Stop() bool {
	t.stop = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	delays []time.Duration
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) AfterFunc(d time.Duration, fn func()) utils.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{fn: fn}
	f.timers = append(f.timers, t)
	f.delays = append(f.delays, d)
	return t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	pending := append([]*fakeTimer{}, f.timers...)
	f.timers = nil
	f.delays = nil
	f.mu.Unlock()
	for _, timer := range pending {
		if !timer.stop {
			timer.fn()
		}
	}
}

type fakePlatform struct {
	mu      sync.Mutex
	calls   []string
	entries map[models.AuditKind]*models.AuditEntry
	members map[string]models.Actor
	notes   []models.Notification
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		entries: make(map[models.AuditKind]*models.AuditEntry),
		members: make(map[string]models.Actor),
	}
}

func (f *fakePlatform) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakePlatform) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakePlatform) setEntry(entry models.AuditEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[entry.Kind] = &entry
}

func (f *fakePlatform) DeleteMessage(_ context.Context, channelID, messageID string) error {
	f.record("delete %s/%s", channelID, messageID)
	return nil
}

func (f *fakePlatform) PurgeMessages(_ context.Context, channelID, authorID string, limit int) (int, error) {
	f.record("purge %s %s %d", channelID, authorID, limit)
	return limit, nil
}

func (f *fakePlatform) Ban(_ context.Context, _, userID, _ string) error {
	f.record("ban %s", userID)
	return nil
}

func (f *fakePlatform) Kick(_ context.Context, _, userID, _ string) error {
	f.record("kick %s", userID)
	return nil
}

func (f *fakePlatform) Timeout(_ context.Context, _, userID string, d time.Duration, _ string) error {
	f.record("timeout %s %s", userID, d)
	return nil
}

func (f *fakePlatform) RecentAuditEntry(_ context.Context, _ string, kind models.AuditKind, targetID string) (*models.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := f.entries[kind]
	if entry == nil {
		return nil, nil
	}
	if targetID != "" && entry.TargetID != targetID {
		return nil, nil
	}
	copied := *entry
	return &copied, nil
}

func (f *fakePlatform) Member(_ context.Context, _, userID string) (models.Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if actor, ok := f.members[userID]; ok {
		return actor, nil
	}
	return models.Actor{}, &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownMember},
	}
}

func (f *fakePlatform) CreateRole(_ context.Context, _ string, role models.Role) (*models.Role, error) {
	f.record("create_role %s perms=%d color=%d hoist=%t mentionable=%t", role.Name, role.Permissions, role.Color, role.Hoist, role.Mentionable)
	role.ID = "restored"
	return &role, nil
}

func (f *fakePlatform) RemoveRole(_ context.Context, _, userID, roleID string) error {
	f.record("remove_role %s %s", userID, roleID)
	return nil
}

func (f *fakePlatform) SetNickname(_ context.Context, _, userID, nickname string) error {
	f.record("nick %s %s", userID, nickname)
	return nil
}

func (f *fakePlatform) DeleteWebhooksBy(_ context.Context, channelID, creatorID string) (int, error) {
	f.record("delete_webhooks %s %s", channelID, creatorID)
	return 1, nil
}

func (f *fakePlatform) SendNotification(_ context.Context, channelID string, n models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, n)
	return nil
}

type memoryBackups struct {
	mu     sync.Mutex
	latest map[string]models.Snapshot
}

func (m *memoryBackups) SaveBackup(_ context.Context, snapshot models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[snapshot.GuildID] = snapshot
	return nil
}

func (m *memoryBackups) LatestBackup(_ context.Context, guildID string) (*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot, ok := m.latest[guildID]
	if !ok {
		return nil, nil
	}
	return &snapshot, nil
}

type harness struct {
	coordinator *Coordinator
	platform    *fakePlatform
	clock       *fakeClock
	holder      *settings.Holder
	gate        *exempt.Gate
	backups     *memoryBackups
	restorer    *recovery.Service
	community   models.Community
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	client := newFakePlatform()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	holder := settings.NewHolder(nil, settings.Defaults(), logger)
	gate := exempt.New("owner", nil)
	gate.SetSelf("self")
	backups := &memoryBackups{latest: make(map[string]models.Snapshot)}
	restorer := recovery.New(backups, client, logger)

	rules := Rules{
		Spam:    antispam.New(gate, 5, 5*time.Second),
		Nuke:    antinuke.New(gate, 3, 10*time.Second),
		Invite:  antiinvite.New(gate),
		Mention: antimention.New(gate),
		Webhook: antiwebhook.New(gate),
		Bot:     antibot.New(gate),
		Role:    antirole.New(gate),
		Link:    antilink.New(gate),
	}
	coordinator := New(client, holder, rules, punish.New(client, 10*time.Minute, logger), restorer, audit.NewLogger(nil, logger), logger, Options{Clock: clock})
	t.Cleanup(func() { _ = coordinator.Close(context.Background()) })

	return &harness{
		coordinator: coordinator,
		platform:    client,
		clock:       clock,
		holder:      holder,
		gate:        gate,
		backups:     backups,
		restorer:    restorer,
		community:   models.Community{ID: "g1", OwnerID: "guild-owner"},
	}
}

func (h *harness) message(author, content string) MessageEvent {
	return MessageEvent{
		Community: h.community,
		Message: models.Message{
			ID:        fmt.Sprintf("m%d", h.clock.Now().UnixNano()),
			ChannelID: "c1",
			GuildID:   h.community.ID,
			Author:    models.Actor{ID: author},
			Content:   content,
			Time:      h.clock.Now(),
		},
	}
}

func (h *harness) setModule(t *testing.T, name models.ModuleName, action models.Action) {
	t.Helper()
	_, err := h.holder.Update(context.Background(), func(cfg *settings.Configuration) {
		cfg.Modules[name] = settings.ModuleSetting{Enabled: true, Action: action}
	})
	require.NoError(t, err)
}

func TestSpamBurstPunishesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		h.coordinator.HandleMessage(ctx, h.message("u1", "hello"))
		h.clock.now = h.clock.now.Add(800 * time.Millisecond)
	}

	assert.Equal(t, []string{"purge c1 u1 5", "timeout u1 10m0s"}, h.platform.Calls())
	assert.Zero(t, h.coordinator.rules.Spam.Tracked())
}

func TestExemptActorsAreNeverPunished(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gate.Replace([]models.Exemption{{ID: "trusted-role", Kind: models.ExemptRole}})

	for _, author := range []string{"owner", "guild-owner", "self"} {
		for i := 0; i < 10; i++ {
			h.coordinator.HandleMessage(ctx, h.message(author, "discord.gg/raid @everyone"))
		}
	}
	ev := h.message("mod", "discord.gg/raid")
	ev.Message.Author.RoleIDs = []string{"trusted-role"}
	ev.Message.MentionEveryone = true
	h.coordinator.HandleMessage(ctx, ev)

	assert.Empty(t, h.platform.Calls())
}

func TestInviteDeletesThenPunishes(t *testing.T) {
	h := newHarness(t)
	ev := h.message("u1", "join discord.gg/abc")

	h.coordinator.HandleMessage(context.Background(), ev)

	assert.Equal(t, []string{"delete c1/" + ev.Message.ID, "kick u1"}, h.platform.Calls())
}

func TestMassMentionTimesOut(t *testing.T) {
	h := newHarness(t)
	ev := h.message("u1", "@everyone look")
	ev.Message.MentionEveryone = true

	h.coordinator.HandleMessage(context.Background(), ev)

	assert.Equal(t, []string{"delete c1/" + ev.Message.ID, "timeout u1 10m0s"}, h.platform.Calls())
}

func TestMassBanAfterThreeAttributedBans(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.platform.members["mod"] = models.Actor{ID: "mod"}

	for i := 0; i < 3; i++ {
		target := fmt.Sprintf("victim%d", i)
		h.platform.setEntry(models.AuditEntry{ID: fmt.Sprintf("e%d", i), Kind: models.AuditBan, ActorID: "mod", TargetID: target, CreatedAt: h.clock.Now()})
		h.coordinator.HandleBan(ctx, MemberBanEvent{Community: h.community, TargetID: target})
		h.clock.Advance(500 * time.Millisecond)
	}

	assert.Equal(t, []string{"ban mod"}, h.platform.Calls())
}

func TestTwoBansDoNotFire(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.platform.members["mod"] = models.Actor{ID: "mod"}

	for i := 0; i < 2; i++ {
		target := fmt.Sprintf("victim%d", i)
		h.platform.setEntry(models.AuditEntry{ID: fmt.Sprintf("e%d", i), Kind: models.AuditBan, ActorID: "mod", TargetID: target, CreatedAt: h.clock.Now()})
		h.coordinator.HandleBan(ctx, MemberBanEvent{Community: h.community, TargetID: target})
		h.clock.Advance(500 * time.Millisecond)
	}

	assert.Empty(t, h.platform.Calls())
}

func TestAttributionMissDoesNotPunish(t *testing.T) {
	h := newHarness(t)

	h.coordinator.HandleWebhooksUpdate(context.Background(), WebhooksUpdateEvent{Community: h.community, ChannelID: "c1"})
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, h.clock.delays)
	h.clock.Advance(time.Second)

	assert.Empty(t, h.platform.Calls())
}

func TestStaleAuditEntryIgnored(t *testing.T) {
	h := newHarness(t)
	h.platform.setEntry(models.AuditEntry{ID: "old", Kind: models.AuditWebhookCreate, ActorID: "u1", CreatedAt: h.clock.Now().Add(-time.Minute)})

	h.coordinator.HandleWebhooksUpdate(context.Background(), WebhooksUpdateEvent{Community: h.community, ChannelID: "c1"})
	h.clock.Advance(time.Second)

	assert.Empty(t, h.platform.Calls())
}

func TestWebhookEntryJudgedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.platform.setEntry(models.AuditEntry{ID: "w1", Kind: models.AuditWebhookCreate, ActorID: "u1", CreatedAt: h.clock.Now()})

	h.coordinator.HandleWebhooksUpdate(ctx, WebhooksUpdateEvent{Community: h.community, ChannelID: "c1"})
	h.clock.Advance(500 * time.Millisecond)
	h.coordinator.HandleWebhooksUpdate(ctx, WebhooksUpdateEvent{Community: h.community, ChannelID: "c1"})
	h.clock.Advance(500 * time.Millisecond)

	assert.Equal(t, []string{"delete_webhooks c1 u1", "ban u1"}, h.platform.Calls())
}

func TestTimeoutOnAutomationFallsBackToKick(t *testing.T) {
	h := newHarness(t)
	h.setModule(t, models.ModuleWebhook, models.ActionTimeout)
	h.platform.members["b1"] = models.Actor{ID: "b1", Automation: true}
	h.platform.setEntry(models.AuditEntry{ID: "w1", Kind: models.AuditWebhookCreate, ActorID: "b1", CreatedAt: h.clock.Now()})

	h.coordinator.HandleWebhooksUpdate(context.Background(), WebhooksUpdateEvent{Community: h.community, ChannelID: "c1"})
	h.clock.Advance(500 * time.Millisecond)

	assert.Equal(t, []string{"delete_webhooks c1 b1", "kick b1"}, h.platform.Calls())
}

func TestBotAddKicksBotAndPunishesAdder(t *testing.T) {
	h := newHarness(t)
	h.setModule(t, models.ModuleBot, models.ActionBan)
	h.platform.members["u1"] = models.Actor{ID: "u1"}
	h.platform.setEntry(models.AuditEntry{ID: "a1", Kind: models.AuditBotAdd, ActorID: "u1", TargetID: "b1", CreatedAt: h.clock.Now()})

	h.coordinator.HandleMemberJoin(context.Background(), MemberJoinEvent{Community: h.community, Member: models.Actor{ID: "b1", Name: "raider", Automation: true}})
	h.clock.Advance(500 * time.Millisecond)

	assert.Equal(t, []string{"kick b1", "ban u1"}, h.platform.Calls())
}

func TestBotAddedByOwnerIsAllowed(t *testing.T) {
	h := newHarness(t)
	h.platform.members["owner"] = models.Actor{ID: "owner"}
	h.platform.setEntry(models.AuditEntry{ID: "a1", Kind: models.AuditBotAdd, ActorID: "owner", TargetID: "b1", CreatedAt: h.clock.Now()})

	h.coordinator.HandleMemberJoin(context.Background(), MemberJoinEvent{Community: h.community, Member: models.Actor{ID: "b1", Automation: true}})
	h.clock.Advance(500 * time.Millisecond)

	assert.Empty(t, h.platform.Calls())
}

func TestPrivilegeGrantStripsRoleAndPunishesGranter(t *testing.T) {
	h := newHarness(t)
	h.platform.members["mod"] = models.Actor{ID: "mod"}
	h.platform.setEntry(models.AuditEntry{ID: "g1", Kind: models.AuditMemberRoleUpdate, ActorID: "mod", TargetID: "u2", CreatedAt: h.clock.Now()})

	h.coordinator.HandleMemberUpdate(context.Background(), MemberUpdateEvent{
		Community:  h.community,
		Member:     models.Actor{ID: "u2"},
		AddedRoles: []models.Role{{ID: "admin", Name: "Admin", Permissions: discordgo.PermissionAdministrator}},
	})
	h.clock.Advance(500 * time.Millisecond)

	assert.Equal(t, []string{"remove_role u2 admin", "ban mod"}, h.platform.Calls())
}

func TestHarmlessRoleGrantSkipsAuditLookup(t *testing.T) {
	h := newHarness(t)

	h.coordinator.HandleMemberUpdate(context.Background(), MemberUpdateEvent{
		Community:  h.community,
		Member:     models.Actor{ID: "u2"},
		AddedRoles: []models.Role{{ID: "r1", Name: "Member", Permissions: discordgo.PermissionSendMessages}},
	})

	assert.Empty(t, h.clock.timers)
}

func TestDisplayNameLinkRenamesAndKicks(t *testing.T) {
	h := newHarness(t)

	h.coordinator.HandleMemberJoin(context.Background(), MemberJoinEvent{Community: h.community, Member: models.Actor{ID: "123456789", Name: "free nitro discord.gg/x"}})

	assert.Equal(t, []string{"nick 123456789 Moderated-6789", "kick 123456789"}, h.platform.Calls())
}

func TestAutomationJoinChecksDisplayNameBeforeBotAdd(t *testing.T) {
	h := newHarness(t)
	h.setModule(t, models.ModuleBot, models.ActionBan)
	h.platform.members["u1"] = models.Actor{ID: "u1"}
	h.platform.setEntry(models.AuditEntry{ID: "a1", Kind: models.AuditBotAdd, ActorID: "u1", TargetID: "bot123456", CreatedAt: h.clock.Now()})

	h.coordinator.HandleMemberJoin(context.Background(), MemberJoinEvent{Community: h.community, Member: models.Actor{ID: "bot123456", Name: "join discord.gg/spam", Automation: true}})
	assert.Equal(t, []string{"nick bot123456 Moderated-3456", "kick bot123456"}, h.platform.Calls())

	h.clock.Advance(500 * time.Millisecond)
	assert.Equal(t, []string{"nick bot123456 Moderated-3456", "kick bot123456", "kick bot123456", "ban u1"}, h.platform.Calls())
}

func TestRoleDeleteRestoresAndPunishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.restorer.Snapshot(ctx, "g1", []models.Role{{ID: "r1", Name: "Mods", Permissions: 8, Color: 255, Hoist: true, Mentionable: true}})
	require.NoError(t, err)
	h.platform.members["u1"] = models.Actor{ID: "u1"}
	h.platform.setEntry(models.AuditEntry{ID: "d1", Kind: models.AuditRoleDelete, ActorID: "u1", TargetID: "r1", CreatedAt: h.clock.Now()})

	h.coordinator.HandleRoleDelete(ctx, RoleDeleteEvent{Community: h.community, Role: models.Role{ID: "r1", Name: "Mods"}})
	h.clock.Advance(500 * time.Millisecond)

	assert.Equal(t, []string{
		"create_role Mods perms=8 color=255 hoist=true mentionable=true",
		"ban u1",
	}, h.platform.Calls())
}

func TestRoleDeleteByExemptActorStillRestores(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.restorer.Snapshot(ctx, "g1", []models.Role{{ID: "r1", Name: "Mods"}})
	require.NoError(t, err)
	h.platform.members["owner"] = models.Actor{ID: "owner"}
	h.platform.setEntry(models.AuditEntry{ID: "d1", Kind: models.AuditRoleDelete, ActorID: "owner", TargetID: "r1", CreatedAt: h.clock.Now()})

	h.coordinator.HandleRoleDelete(ctx, RoleDeleteEvent{Community: h.community, Role: models.Role{ID: "r1", Name: "Mods"}})
	h.clock.Advance(500 * time.Millisecond)

	assert.Equal(t, []string{"create_role Mods perms=0 color=0 hoist=false mentionable=false"}, h.platform.Calls())
}

func TestRoleDeleteWithoutBackupCreatesNothing(t *testing.T) {
	h := newHarness(t)

	h.coordinator.HandleRoleDelete(context.Background(), RoleDeleteEvent{Community: h.community, Role: models.Role{ID: "r1", Name: "Mods"}})
	h.clock.Advance(500 * time.Millisecond)

	assert.Empty(t, h.platform.Calls())
}

func TestDisabledModuleDoesNothing(t *testing.T) {
	h := newHarness(t)
	_, err := h.holder.Update(context.Background(), func(cfg *settings.Configuration) {
		cfg.Modules[models.ModuleInvite] = settings.ModuleSetting{Enabled: false, Action: models.ActionBan}
	})
	require.NoError(t, err)

	h.coordinator.HandleMessage(context.Background(), h.message("u1", "discord.gg/abc"))

	assert.Empty(t, h.platform.Calls())
}

func TestCloseDropsPendingLookups(t *testing.T) {
	h := newHarness(t)
	h.platform.setEntry(models.AuditEntry{ID: "w1", Kind: models.AuditWebhookCreate, ActorID: "u1", CreatedAt: h.clock.Now()})

	h.coordinator.HandleWebhooksUpdate(context.Background(), WebhooksUpdateEvent{Community: h.community, ChannelID: "c1"})
	require.NoError(t, h.coordinator.Close(context.Background()))
	h.clock.Advance(time.Second)

	assert.Empty(t, h.platform.Calls())
}

func TestNotifyUsesLogChannel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	entry := storage.AuditLog{GuildID: "g1", UserID: "u1", Level: "WARN", Event: "anti_spam", Details: "spam"}

	h.coordinator.Notify(ctx, entry)
	assert.Empty(t, h.platform.notes)

	_, err := h.holder.Update(ctx, func(cfg *settings.Configuration) { cfg.LogChannelID = "log" })
	require.NoError(t, err)
	h.coordinator.Notify(ctx, entry)

	require.Len(t, h.platform.notes, 1)
	assert.Equal(t, "Anti-Spam", h.platform.notes[0].Title)
	assert.Equal(t, models.SeverityWarn, h.platform.notes[0].Severity)
}

func TestSweepForgetsSeenEntries(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.coordinator.markSeen("r", "e1"))
	assert.False(t, h.coordinator.markSeen("r", "e1"))

	h.coordinator.Sweep(h.clock.Now().Add(2 * time.Minute))

	assert.True(t, h.coordinator.markSeen("r", "e1"))
}
