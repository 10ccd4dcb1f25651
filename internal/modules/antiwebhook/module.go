package antiwebhook

import (
	"pdr-security/internal/models"
	"pdr-security/internal/modules"
	"pdr-security/internal/settings"
)

const Rule = "webhook_create"

type Module struct {
	gate modules.Gate
}

func New(gate modules.Gate) *Module {
	return &Module{gate: gate}
}

func (m *Module) Evaluate(community models.Community, creator models.Actor, channelID string, setting settings.ModuleSetting) (models.Verdict, bool) {
	if !modules.Applies(m.gate, setting, creator, community) {
		return models.Verdict{}, false
	}
	return modules.NewVerdict(models.ModuleWebhook, Rule, creator, "created a webhook in <#"+channelID+">", setting.Action), true
}
