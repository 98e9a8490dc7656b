// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orgs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agerrors "agentgov/shared/errors"
	"agentgov/store"
)

func TestService_CreateGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(store.NewInMemoryStore())

	org, err := s.Create(ctx, "o1", map[string]interface{}{"tier": "enterprise"})
	require.NoError(t, err)
	require.NotEmpty(t, org.OrgID)

	got, err := s.Get(ctx, org.OrgID)
	require.NoError(t, err)
	assert.Equal(t, org.Name, got.Name)
	assert.Equal(t, org.OrgID, got.OrgID)
}

func TestService_GetMissingReturnsNotFound(t *testing.T) {
	s := New(store.NewInMemoryStore())
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, agerrors.ErrOrgNotFound)
}

func TestService_DeleteMissingReturnsNotFound(t *testing.T) {
	s := New(store.NewInMemoryStore())
	err := s.Delete(context.Background(), "nope")
	assert.ErrorIs(t, err, agerrors.ErrOrgNotFound)
}

func TestService_ExistsReflectsCreation(t *testing.T) {
	ctx := context.Background()
	s := New(store.NewInMemoryStore())
	org, err := s.Create(ctx, "o1", nil)
	require.NoError(t, err)

	exists, err := s.Exists(ctx, org.OrgID)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.Exists(ctx, "nonexistent")
	require.NoError(t, err)
	assert.False(t, exists)
}
