package antispam

import (
	"fmt"
	"time"

	"pdr-security/internal/models"
	"pdr-security/internal/modules"
	"pdr-security/internal/settings"
	"pdr-security/internal/utils"
)

const Rule = "message_spam"

type Module struct {
	gate    modules.Gate
	tracker *utils.Tracker
}

func New(gate modules.Gate, messages int, window time.Duration) *Module {
	if messages <= 0 {
		messages = 5
	}
	if window <= 0 {
		window = 5 * time.Second
	}
	return &Module{gate: gate, tracker: utils.NewTracker(window, messages)}
}

func key(guildID, userID string) string {
	return guildID + ":" + userID
}

// Evaluate records msg and fires once the author reaches the threshold. The
// author's window is cleared in the same step that fires.
func (m *Module) Evaluate(msg models.Message, community models.Community, setting settings.ModuleSetting) (models.Verdict, bool) {
	if msg.Author.Automation || !modules.Applies(m.gate, setting, msg.Author, community) {
		return models.Verdict{}, false
	}
	count, fired := m.tracker.Hit(key(community.ID, msg.Author.ID), msg.Time)
	if !fired {
		return models.Verdict{}, false
	}
	reason := fmt.Sprintf("sent %d messages in %s", count, m.tracker.Window())
	return modules.NewVerdict(models.ModuleSpam, Rule, msg.Author, reason, setting.Action), true
}

func (m *Module) Count(guildID, userID string, now time.Time) int {
	return m.tracker.Count(key(guildID, userID), now)
}

func (m *Module) Reset(guildID, userID string) {
	m.tracker.Reset(key(guildID, userID))
}

func (m *Module) Threshold() int {
	return m.tracker.Threshold()
}

// Sweep drops idle windows and returns how many were removed.
func (m *Module) Sweep(now time.Time) int {
	return m.tracker.Sweep(now)
}

func (m *Module) Tracked() int {
	return m.tracker.Len()
}
