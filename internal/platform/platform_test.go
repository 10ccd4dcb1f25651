package platform

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"pdr-security/internal/models"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func restError(status, code int) error {
	err := &discordgo.RESTError{Response: &http.Response{StatusCode: status}}
	if code != 0 {
		err.Message = &discordgo.APIErrorMessage{Code: code}
	}
	return err
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want models.OutcomeKind
	}{
		{"nil", nil, models.OutcomeSuccess},
		{"missing permissions code", restError(http.StatusForbidden, discordgo.ErrCodeMissingPermissions), models.OutcomeDenied},
		{"forbidden status", restError(http.StatusForbidden, 0), models.OutcomeDenied},
		{"unknown member", restError(http.StatusNotFound, discordgo.ErrCodeUnknownMember), models.OutcomeNotFound},
		{"not found status", restError(http.StatusNotFound, 0), models.OutcomeNotFound},
		{"wrapped", fmt.Errorf("ban: %w", restError(http.StatusForbidden, 0)), models.OutcomeDenied},
		{"unsupported", fmt.Errorf("timeout bot: %w", ErrUnsupported), models.OutcomeUnsupported},
		{"other", errors.New("boom"), models.OutcomeFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(&discordgo.RateLimitError{RateLimit: &discordgo.RateLimit{URL: "x"}}))
	assert.True(t, IsRateLimited(restError(http.StatusTooManyRequests, 0)))
	assert.False(t, IsRateLimited(restError(http.StatusForbidden, 0)))
	assert.False(t, IsRateLimited(errors.New("boom")))
}

func TestRoleCache(t *testing.T) {
	cache := NewRoleCache()
	cache.Replace("g1", []models.Role{{ID: "r1", Name: "Mods"}, {ID: "r2", Name: "Admin"}})
	cache.Put("g1", models.Role{ID: "r3", Name: "New"})

	assert.Len(t, cache.Lookup("g1", []string{"r1", "r3", "missing"}), 2)

	role, ok := cache.Take("g1", "r1")
	assert.True(t, ok)
	assert.Equal(t, "Mods", role.Name)
	_, ok = cache.Get("g1", "r1")
	assert.False(t, ok)
}

func TestActorFromMember(t *testing.T) {
	actor := ActorFromMember(&discordgo.Member{
		User:  &discordgo.User{ID: "u1", Username: "alice", Bot: true},
		Nick:  "Al",
		Roles: []string{"r1"},
	})
	assert.Equal(t, models.Actor{ID: "u1", Name: "Al", Automation: true, RoleIDs: []string{"r1"}}, actor)
}
