package antibot

import (
	"pdr-security/internal/models"
	"pdr-security/internal/modules"
	"pdr-security/internal/settings"
)

const Rule = "bot_add"

type Module struct {
	gate modules.Gate
}

func New(gate modules.Gate) *Module {
	return &Module{gate: gate}
}

// Evaluate judges adder for bringing the automation account added into the
// community. Non-automation joins never fire.
func (m *Module) Evaluate(community models.Community, adder, added models.Actor, setting settings.ModuleSetting) (models.Verdict, bool) {
	if !added.Automation {
		return models.Verdict{}, false
	}
	if !modules.Applies(m.gate, setting, adder, community) {
		return models.Verdict{}, false
	}
	name := added.Name
	if name == "" {
		name = added.ID
	}
	return modules.NewVerdict(models.ModuleBot, Rule, adder, "added bot "+name, setting.Action), true
}
