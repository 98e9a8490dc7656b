// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package budget

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agerrors "agentgov/shared/errors"
	"agentgov/shared/types"
	"agentgov/store"
)

func newTestService() *Service {
	return New(store.NewInMemoryStore(), store.NewInMemoryStore())
}

func TestService_SetBudgetPreservesUsageOnUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestService()

	b, err := s.SetBudget(ctx, "o1", "a1", 100000, 30)
	require.NoError(t, err)

	_, err = s.Report(ctx, "o1", "a1", "e1", 500, 1, 10, "search")
	require.NoError(t, err)

	updated, err := s.SetBudget(ctx, "o1", "a1", 200000, 30)
	require.NoError(t, err)

	assert.Equal(t, b.BudgetID, updated.BudgetID)
	assert.EqualValues(t, 500, updated.TokensUsed)
	assert.EqualValues(t, 1, updated.ToolInvocations)
}

func TestService_CheckNoBudgetConfigured(t *testing.T) {
	s := newTestService()
	allowed, remaining, reason := s.Check(context.Background(), "o1", "a1", 1000)
	assert.True(t, allowed)
	assert.EqualValues(t, 0, remaining)
	assert.Equal(t, "budget_ok", reason)
}

func TestService_CheckAgentExhausted(t *testing.T) {
	ctx := context.Background()
	s := newTestService()
	_, err := s.SetBudget(ctx, "o1", "a1", 100, 30)
	require.NoError(t, err)

	allowed, remaining, reason := s.Check(ctx, "o1", "a1", 200)
	assert.False(t, allowed)
	assert.EqualValues(t, 100, remaining)
	assert.Contains(t, reason, "agent budget exhausted")
}

func TestService_CheckOrgExhaustedEvenWithHealthyAgentBudget(t *testing.T) {
	ctx := context.Background()
	s := newTestService()
	_, err := s.SetBudget(ctx, "o1", "", 50, 30)
	require.NoError(t, err)
	_, err = s.SetBudget(ctx, "o1", "a1", 100000, 30)
	require.NoError(t, err)

	allowed, _, reason := s.Check(ctx, "o1", "a1", 100)
	assert.False(t, allowed)
	assert.Contains(t, reason, "org budget exhausted")
}

func TestService_ReportRejectsNegativeUsage(t *testing.T) {
	s := newTestService()
	_, err := s.Report(context.Background(), "o1", "a1", "e1", -1, 0, 0, "")
	assert.ErrorIs(t, err, agerrors.ErrInvalidUsage)
}

func TestService_ConcurrentReportsNeverLoseUpdates(t *testing.T) {
	ctx := context.Background()
	s := newTestService()
	_, err := s.SetBudget(ctx, "o1", "a1", 100000, 30)
	require.NoError(t, err)

	const goroutines = 2
	const callsEach = 50
	const k = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < callsEach; i++ {
				_, err := s.Report(ctx, "o1", "a1", "exec", k, 1, 1, "tool")
				require.NoError(t, err)
			}
		}(g)
	}
	wg.Wait()

	final, err := s.GetBudget(ctx, "o1", "a1")
	require.NoError(t, err)
	assert.EqualValues(t, goroutines*callsEach*k, final.TokensUsed)
}

func TestService_GetUsageFiltersByAgent(t *testing.T) {
	ctx := context.Background()
	s := newTestService()
	_, err := s.Report(ctx, "o1", "a1", "e1", 10, 1, 5, "search")
	require.NoError(t, err)
	_, err = s.Report(ctx, "o1", "a2", "e2", 20, 1, 5, "search")
	require.NoError(t, err)

	summary, err := s.GetUsage(ctx, types.UsageQuery{OrgID: "o1", AgentID: "a1"})
	require.NoError(t, err)
	assert.EqualValues(t, 10, summary.TotalTokens)
	assert.Equal(t, 1, summary.ReportCount)
}
