package authz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorus-dao/kodo/internal/authz"
	"github.com/chorus-dao/kodo/internal/model"
)

func TestGrantAndHas(t *testing.T) {
	reg := authz.NewRegistry()
	require.NoError(t, reg.Grant("govern", model.RoleCharter))
	require.NoError(t, reg.Grant("govern", model.RoleGateOwner))
	require.NoError(t, reg.Grant("sustainability", model.RoleCharter))

	assert.True(t, reg.Has("govern", model.RoleGateOwner))
	assert.True(t, reg.Has("sustainability", model.RoleCharter))
	assert.False(t, reg.Has("sustainability", model.RoleGateOwner))
	assert.False(t, reg.Has("unknown", model.RoleCharter))
}

func TestSingleGateOwner(t *testing.T) {
	reg := authz.NewRegistry()
	require.NoError(t, reg.Grant("govern", model.RoleGateOwner))

	// Idempotent for the same charter.
	require.NoError(t, reg.Grant("govern", model.RoleGateOwner))

	err := reg.Grant("sustainability", model.RoleGateOwner)
	require.ErrorIs(t, err, authz.ErrDuplicateOwner)
	assert.False(t, reg.Has("sustainability", model.RoleGateOwner))

	owner, ok := reg.GateOwner()
	require.True(t, ok)
	assert.Equal(t, "govern", owner)
}

func TestGrantRequiresCharterID(t *testing.T) {
	reg := authz.NewRegistry()
	require.Error(t, reg.Grant("", model.RoleCharter))
}

func TestCharters(t *testing.T) {
	reg := authz.NewRegistry()
	require.NoError(t, reg.Grant("sustainability", model.RoleCharter))
	require.NoError(t, reg.Grant("govern", model.RoleCharter))

	assert.Equal(t, []string{"govern", "sustainability"}, reg.Charters())

	empty := authz.NewRegistry()
	_, ok := empty.GateOwner()
	assert.False(t, ok)
}
