package antibot

import (
	"testing"

	"pdr-security/internal/models"
	"pdr-security/internal/settings"

	"github.com/stretchr/testify/assert"
)

type exemptIDs map[string]bool

func (e exemptIDs) IsExempt(actor models.Actor, _ models.Community) bool { return e[actor.ID] }

func TestBotAdd(t *testing.T) {
	module := New(exemptIDs{"owner": true})
	setting := settings.ModuleSetting{Enabled: true, Action: models.ActionKick}
	community := models.Community{ID: "g1"}
	bot := models.Actor{ID: "b1", Name: "raidbot", Automation: true}

	verdict, ok := module.Evaluate(community, models.Actor{ID: "u1"}, bot, setting)
	assert.True(t, ok)
	assert.Equal(t, "u1", verdict.Actor.ID)
	assert.Contains(t, verdict.Reason, "raidbot")

	_, ok = module.Evaluate(community, models.Actor{ID: "owner"}, bot, setting)
	assert.False(t, ok)

	_, ok = module.Evaluate(community, models.Actor{ID: "u1"}, models.Actor{ID: "human"}, setting)
	assert.False(t, ok)
}
