package settings

import (
	"maps"

	"pdr-security/internal/models"
)

// ModuleSetting is the stored toggle and punishment for one module.
type ModuleSetting struct {
	Enabled bool          `json:"enable"`
	Action  models.Action `json:"action"`
}

// Configuration is the enforcement document shared by every rule. Values
// handed out by Holder are never mutated; use Clone before changing one.
type Configuration struct {
	Modules      map[models.ModuleName]ModuleSetting `json:"modules"`
	LogChannelID string                              `json:"log_channel,omitempty"`
}

func Defaults() Configuration {
	return Configuration{
		Modules: map[models.ModuleName]ModuleSetting{
			models.ModuleSpam:    {Enabled: true, Action: models.ActionTimeout},
			models.ModuleNuke:    {Enabled: true, Action: models.ActionBan},
			models.ModuleBot:     {Enabled: true, Action: models.ActionKick},
			models.ModuleRole:    {Enabled: true, Action: models.ActionBan},
			models.ModuleInvite:  {Enabled: true, Action: models.ActionKick},
			models.ModuleMention: {Enabled: true, Action: models.ActionTimeout},
			models.ModuleLink:    {Enabled: true, Action: models.ActionKick},
			models.ModuleWebhook: {Enabled: true, Action: models.ActionBan},
		},
	}
}

func (c Configuration) Clone() Configuration {
	out := Configuration{LogChannelID: c.LogChannelID}
	out.Modules = make(map[models.ModuleName]ModuleSetting, len(c.Modules))
	maps.Copy(out.Modules, c.Modules)
	return out
}

// Module returns the setting for name, falling back to the default document.
func (c Configuration) Module(name models.ModuleName) ModuleSetting {
	if setting, ok := c.Modules[name]; ok {
		return setting
	}
	return Defaults().Modules[name]
}

// Merge backfills every module missing from stored with its default value.
// Modules already present are kept as stored; unknown keys are never dropped.
func Merge(stored, defaults Configuration) Configuration {
	out := stored.Clone()
	for name, setting := range defaults.Modules {
		if _, ok := out.Modules[name]; !ok {
			out.Modules[name] = setting
		}
	}
	if out.LogChannelID == "" {
		out.LogChannelID = defaults.LogChannelID
	}
	return out
}
