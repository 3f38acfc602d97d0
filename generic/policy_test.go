package generic_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
)

func TestCanAct(t *testing.T) {
	programmer := generic.Actor{ID: "u1", Name: "Pat", Role: generic.RoleProgrammer}
	boss := generic.Actor{ID: "b1", Name: "Bea", Role: generic.RoleBoss}
	manager := generic.Actor{ID: "m1", Role: generic.RoleManager}
	admin := generic.Actor{ID: "a1", Role: generic.RoleAdmin}

	tests := []struct {
		name   string
		actor  generic.Actor
		action generic.Action
		owner  string
		want   bool
	}{
		{"owner views own", programmer, generic.ActionView, "u1", true},
		{"owner creates own", programmer, generic.ActionCreate, "u1", true},
		{"owner updates own", programmer, generic.ActionUpdate, "u1", true},
		{"owner cancels own", programmer, generic.ActionCancel, "u1", true},
		{"owner cannot approve own", programmer, generic.ActionApprove, "u1", false},
		{"owner cannot reject own", programmer, generic.ActionReject, "u1", false},
		{"programmer cannot list all", programmer, generic.ActionListAll, "", false},
		{"programmer cannot view others", programmer, generic.ActionView, "u2", false},
		{"programmer cannot cancel others", programmer, generic.ActionCancel, "u2", false},
		{"boss approves anyone", boss, generic.ActionApprove, "u1", true},
		{"manager rejects anyone", manager, generic.ActionReject, "u1", true},
		{"admin manages users", admin, generic.ActionManageUsers, "", true},
		{"boss cancels others", boss, generic.ActionCancel, "u1", true},
		{"anonymous owns nothing", generic.Actor{}, generic.ActionView, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, generic.CanAct(tt.actor, tt.action, tt.owner))
		})
	}
}

func TestAuthorize_ReportsForbidden(t *testing.T) {
	programmer := generic.Actor{ID: "u1", Role: generic.RoleProgrammer}

	err := generic.Authorize(programmer, generic.ActionApprove, "u1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, generic.ErrForbidden))
	assert.False(t, errors.Is(err, generic.ErrNotFound), "forbidden must stay distinct from not found")
}

func TestIsPrivileged(t *testing.T) {
	assert.True(t, generic.IsPrivileged(generic.RoleBoss))
	assert.True(t, generic.IsPrivileged(generic.RoleManager))
	assert.True(t, generic.IsPrivileged(generic.RoleAdmin))
	assert.False(t, generic.IsPrivileged(generic.RoleProgrammer))
	assert.False(t, generic.IsPrivileged(generic.Role("")))
}

func TestParseRole(t *testing.T) {
	r, err := generic.ParseRole("boss")
	require.NoError(t, err)
	assert.Equal(t, generic.RoleBoss, r)

	r, err = generic.ParseRole("")
	require.NoError(t, err)
	assert.Equal(t, generic.RoleProgrammer, r)

	_, err = generic.ParseRole("ceo")
	assert.True(t, errors.Is(err, generic.ErrValidation))
}

func TestActor_Label(t *testing.T) {
	assert.Equal(t, "Bea", generic.Actor{ID: "b1", Name: "Bea"}.Label())
	assert.Equal(t, "b1", generic.Actor{ID: "b1"}.Label())
	assert.Equal(t, generic.SystemActorName, generic.Actor{}.Label())
	assert.Equal(t, generic.SystemActorName, generic.System.Label())
}
