// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentgov/shared/types"
)

func entry(org, agent, exec string, action types.AuditAction, result types.AuditResult) types.AuditEntry {
	return types.AuditEntry{OrgID: org, AgentID: agent, ExecutionID: exec, Action: action, Result: result}
}

func TestLog_AppendAssignsIDAndIncrementsCounters(t *testing.T) {
	l := New(10, nil)
	e := l.Append(context.Background(), entry("o1", "a1", "e1", types.ActionToolCall, types.ResultExecuted))
	assert.NotEmpty(t, e.EntryID)
	assert.Equal(t, 1, l.Size())
	assert.Equal(t, uint64(1), l.LifetimeCount())
}

func TestLog_DropsOldestWhenFull(t *testing.T) {
	l := New(2, nil)
	ctx := context.Background()
	l.Append(ctx, entry("o1", "a1", "e1", types.ActionToolCall, types.ResultExecuted))
	l.Append(ctx, entry("o1", "a1", "e2", types.ActionToolCall, types.ResultExecuted))
	l.Append(ctx, entry("o1", "a1", "e3", types.ActionToolCall, types.ResultExecuted))

	assert.Equal(t, 2, l.Size())
	assert.Equal(t, uint64(3), l.LifetimeCount(), "lifetime count never decrements")

	chain := l.DelegationChain("e1")
	assert.Empty(t, chain, "evicted entry should no longer be queryable")
}

func TestLog_QueryIsNewestFirstAndFiltered(t *testing.T) {
	l := New(10, nil)
	ctx := context.Background()
	l.Append(ctx, entry("o1", "a1", "e1", types.ActionToolCall, types.ResultAllowed))
	l.Append(ctx, entry("o1", "a2", "e2", types.ActionToolCall, types.ResultDenied))
	l.Append(ctx, entry("o1", "a1", "e3", types.ActionPolicyCheck, types.ResultAllowed))

	results := l.Query(types.AuditQuery{AgentID: "a1"})
	require.Len(t, results, 2)
	assert.Equal(t, "e3", results[0].ExecutionID, "newest first")
	assert.Equal(t, "e1", results[1].ExecutionID)
}

func TestLog_DelegationChainIsOldestFirst(t *testing.T) {
	l := New(10, nil)
	ctx := context.Background()
	l.Append(ctx, entry("o1", "a1", "exec-1", types.ActionPolicyCheck, types.ResultAllowed))
	l.Append(ctx, entry("o1", "a1", "exec-1", types.ActionToolCall, types.ResultExecuted))
	l.Append(ctx, entry("o1", "a1", "exec-1", types.ActionExecutionComplete, types.ResultAllowed))

	chain := l.DelegationChain("exec-1")
	require.Len(t, chain, 3)
	assert.Equal(t, types.ActionPolicyCheck, chain[0].Action)
	assert.Equal(t, types.ActionExecutionComplete, chain[2].Action)
}

type recordingArchiver struct {
	archived []types.AuditEntry
}

func (r *recordingArchiver) Archive(_ context.Context, entry types.AuditEntry) error {
	r.archived = append(r.archived, entry)
	return nil
}

func TestLog_EvictedEntriesGoToArchiver(t *testing.T) {
	arc := &recordingArchiver{}
	l := New(1, arc)
	ctx := context.Background()
	l.Append(ctx, entry("o1", "a1", "e1", types.ActionToolCall, types.ResultExecuted))
	l.Append(ctx, entry("o1", "a1", "e2", types.ActionToolCall, types.ResultExecuted))

	require.Len(t, arc.archived, 1)
	assert.Equal(t, "e1", arc.archived[0].ExecutionID)
}
