package antiinvite

import (
	"testing"

	"pdr-security/internal/models"
	"pdr-security/internal/settings"

	"github.com/stretchr/testify/assert"
)

type noExempt struct{}

func (noExempt) IsExempt(models.Actor, models.Community) bool { return false }

func TestInviteLink(t *testing.T) {
	module := New(noExempt{})
	setting := settings.ModuleSetting{Enabled: true, Action: models.ActionKick}
	community := models.Community{ID: "g1"}

	cases := []struct {
		content string
		want    bool
	}{
		{"join discord.gg/abc123 now", true},
		{"https://discord.com/invite/xyz", true},
		{"see https://example.com", false},
		{"hello there", false},
	}
	for _, tc := range cases {
		verdict, ok := module.Evaluate(models.Message{Author: models.Actor{ID: "u1"}, Content: tc.content}, community, setting)
		assert.Equal(t, tc.want, ok, tc.content)
		if ok {
			assert.Equal(t, models.ModuleInvite, verdict.Module)
			assert.Equal(t, models.ActionKick, verdict.Action)
		}
	}
}
