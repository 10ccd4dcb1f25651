package antimention

import (
	"pdr-security/internal/models"
	"pdr-security/internal/modules"
	"pdr-security/internal/settings"
)

const Rule = "mass_mention"

type Module struct {
	gate modules.Gate
}

func New(gate modules.Gate) *Module {
	return &Module{gate: gate}
}

func (m *Module) Evaluate(msg models.Message, community models.Community, setting settings.ModuleSetting) (models.Verdict, bool) {
	if !msg.MentionEveryone || msg.Author.Automation {
		return models.Verdict{}, false
	}
	if !modules.Applies(m.gate, setting, msg.Author, community) {
		return models.Verdict{}, false
	}
	return modules.NewVerdict(models.ModuleMention, Rule, msg.Author, "used @everyone or @here", setting.Action), true
}
