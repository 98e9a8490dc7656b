// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agerrors "agentgov/shared/errors"
	"agentgov/orgs"
	"agentgov/shared/types"
	"agentgov/store"
)

func newTestServices() (*orgs.Service, *Service) {
	backing := store.NewInMemoryStore()
	orgSvc := orgs.New(store.NewInMemoryStore())
	agentSvc := New(backing, orgSvc)
	return orgSvc, agentSvc
}

func TestService_RegisterRequiresExistingOrg(t *testing.T) {
	_, agentSvc := newTestServices()
	_, err := agentSvc.Register(context.Background(), "no-such-org", "a1", types.RoleExecutor, "")
	assert.ErrorIs(t, err, agerrors.ErrOrgNotFound)
}

func TestService_RegisterGetDeactivate(t *testing.T) {
	ctx := context.Background()
	orgSvc, agentSvc := newTestServices()
	org, err := orgSvc.Create(ctx, "o1", nil)
	require.NoError(t, err)

	agent, err := agentSvc.Register(ctx, org.OrgID, "a1", types.RoleExecutor, "user-alice")
	require.NoError(t, err)
	assert.True(t, agent.Active)
	assert.Equal(t, "user-alice", agent.DelegatedUserID)

	got, err := agentSvc.Get(ctx, org.OrgID, agent.AgentID)
	require.NoError(t, err)
	assert.Equal(t, agent.AgentID, got.AgentID)

	require.NoError(t, agentSvc.Deactivate(ctx, org.OrgID, agent.AgentID))

	active, err := agentSvc.IsActive(ctx, org.OrgID, agent.AgentID)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestService_GetByIDFindsAcrossOrgs(t *testing.T) {
	ctx := context.Background()
	orgSvc, agentSvc := newTestServices()
	org, err := orgSvc.Create(ctx, "o1", nil)
	require.NoError(t, err)
	agent, err := agentSvc.Register(ctx, org.OrgID, "a1", types.RoleExecutor, "")
	require.NoError(t, err)

	found, err := agentSvc.GetByID(ctx, agent.AgentID)
	require.NoError(t, err)
	assert.Equal(t, agent.OrgID, found.OrgID)
}

func TestService_ListScopedToOrg(t *testing.T) {
	ctx := context.Background()
	orgSvc, agentSvc := newTestServices()
	org1, _ := orgSvc.Create(ctx, "o1", nil)
	org2, _ := orgSvc.Create(ctx, "o2", nil)
	_, err := agentSvc.Register(ctx, org1.OrgID, "a1", types.RoleExecutor, "")
	require.NoError(t, err)
	_, err = agentSvc.Register(ctx, org2.OrgID, "a2", types.RoleExecutor, "")
	require.NoError(t, err)

	list, err := agentSvc.List(ctx, org1.OrgID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a1", list[0].Name)
}
