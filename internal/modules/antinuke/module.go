package antinuke

import (
	"fmt"
	"time"

	"pdr-security/internal/models"
	"pdr-security/internal/modules"
	"pdr-security/internal/settings"
	"pdr-security/internal/utils"
)

const (
	RuleMassBan    = "mass_ban"
	RuleRoleDelete = "role_delete"
)

type Module struct {
	gate    modules.Gate
	tracker *utils.Tracker
}

func New(gate modules.Gate, actions int, window time.Duration) *Module {
	if actions <= 0 {
		actions = 3
	}
	if window <= 0 {
		window = 10 * time.Second
	}
	return &Module{gate: gate, tracker: utils.NewTracker(window, actions)}
}

func key(guildID, actorID string, kind models.AuditKind) string {
	return guildID + ":" + actorID + ":" + string(kind)
}

// RecordBan counts a ban attributed to actor. The actor's ban window is
// cleared when the verdict fires.
func (m *Module) RecordBan(community models.Community, actor models.Actor, now time.Time, setting settings.ModuleSetting) (models.Verdict, bool) {
	if !modules.Applies(m.gate, setting, actor, community) {
		return models.Verdict{}, false
	}
	count, fired := m.tracker.Hit(key(community.ID, actor.ID, models.AuditBan), now)
	if !fired {
		return models.Verdict{}, false
	}
	reason := fmt.Sprintf("banned %d members in %s", count, m.tracker.Window())
	return modules.NewVerdict(models.ModuleNuke, RuleMassBan, actor, reason, setting.Action), true
}

// RoleDeleted judges the actor attributed to a role deletion.
func (m *Module) RoleDeleted(community models.Community, actor models.Actor, roleName string, setting settings.ModuleSetting) (models.Verdict, bool) {
	if !modules.Applies(m.gate, setting, actor, community) {
		return models.Verdict{}, false
	}
	reason := fmt.Sprintf("deleted role %q", roleName)
	return modules.NewVerdict(models.ModuleNuke, RuleRoleDelete, actor, reason, setting.Action), true
}

func (m *Module) Count(guildID, actorID string, kind models.AuditKind, now time.Time) int {
	return m.tracker.Count(key(guildID, actorID, kind), now)
}

func (m *Module) Sweep(now time.Time) int {
	return m.tracker.Sweep(now)
}

func (m *Module) Tracked() int {
	return m.tracker.Len()
}
