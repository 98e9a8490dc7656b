// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package integration exercises the end-to-end scenarios against the
// wired HTTP control-plane surface, rather than against an individual
// service in isolation.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentgov/audit"
	"agentgov/budget"
	"agentgov/controlplane"
	"agentgov/identity"
	"agentgov/internal/tools"
	"agentgov/llm"
	"agentgov/mcpproxy"
	"agentgov/orgs"
	"agentgov/policy"
	"agentgov/runtime"
	"agentgov/shared/types"
	"agentgov/store"
	"agentgov/token"
)

type harness struct {
	server *controlplane.Server
	tokens *token.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	orgSvc := orgs.New(store.NewInMemoryStore())
	agentSvc := identity.New(store.NewInMemoryStore(), orgSvc)
	policySvc := policy.New(store.NewInMemoryStore(), nil)
	budgetSvc := budget.New(store.NewInMemoryStore(), store.NewInMemoryStore())
	auditLog := audit.New(1000, nil)
	tokenSvc := token.NewHS256([]byte("integration-test-secret"), "agentgov-integration")

	mockTool := tools.NewMockTool("search result")
	proxy := mcpproxy.New(policySvc, budgetSvc, auditLog, map[string]mcpproxy.Handler{
		"search": mockTool.Execute, "calculator": mockTool.Execute,
	})
	provider := llm.NewMockProvider(llm.Completion{Content: "done", TokensUsed: 10})
	rt := runtime.New(agentSvc, policySvc, budgetSvc, provider, proxy, auditLog)

	server := controlplane.New(controlplane.Config{
		Orgs: orgSvc, Agents: agentSvc, Policies: policySvc, Budgets: budgetSvc,
		AuditLog: auditLog, Tokens: tokenSvc, Runtime: rt,
	})
	return &harness{server: server, tokens: tokenSvc}
}

func (h *harness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

// TestScenario1_HierarchicalPolicyAndBudgetEvaluation is spec.md §8's
// first literal end-to-end scenario, driven entirely over HTTP.
func TestScenario1_HierarchicalPolicyAndBudgetEvaluation(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/orgs", map[string]interface{}{"name": "o1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var org types.Organization
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &org))

	rec = h.do(t, http.MethodPost, "/v1/orgs/"+org.OrgID+"/agents", map[string]interface{}{
		"name": "a1", "role": "executor", "delegated_user_id": "user-alice",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var agent types.AgentIdentity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agent))

	rec = h.do(t, http.MethodPut, "/v1/orgs/"+org.OrgID+"/policy", map[string]interface{}{
		"tools": []types.ToolPermission{
			{ToolName: "*", Effect: types.EffectAllow},
			{ToolName: "shell", Effect: types.EffectDeny},
		},
		"token_limit": 200000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPut, "/v1/orgs/"+org.OrgID+"/agents/"+agent.AgentID+"/policy", map[string]interface{}{
		"tools": []types.ToolPermission{
			{ToolName: "search", Effect: types.EffectAllow},
			{ToolName: "calculator", Effect: types.EffectAllow},
		},
		"token_limit": 50000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPut, "/v1/orgs/"+org.OrgID+"/agents/"+agent.AgentID+"/budget", map[string]interface{}{
		"token_limit": 100000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	eval := func(tool string) types.PolicyDecision {
		rec := h.do(t, http.MethodPost, "/v1/orgs/"+org.OrgID+"/agents/"+agent.AgentID+"/policy/evaluate", map[string]interface{}{
			"tool_name": tool, "estimated_tokens": 10,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		var decision types.PolicyDecision
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
		return decision
	}

	assert.True(t, eval("search").Allowed)
	shellDecision := eval("shell")
	assert.False(t, shellDecision.Allowed)
	assert.Contains(t, shellDecision.Reason, "denied")
	emailDecision := eval("email")
	assert.False(t, emailDecision.Allowed)
	assert.Contains(t, emailDecision.Reason, "default deny")

	rec = h.do(t, http.MethodGet, "/v1/orgs/"+org.OrgID+"/agents/"+agent.AgentID+"/policy/effective", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var effective types.Policy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &effective))
	assert.EqualValues(t, 50000, effective.TokenLimit)
}

// TestScenario4_ToolHandlerPanicProducesSingleFailedAuditEntry matches
// spec.md §8 scenario 4, driven through /v1/execute rather than the
// proxy directly.
func TestScenario4_ToolHandlerPanicProducesSingleFailedAuditEntry(t *testing.T) {
	orgSvc := orgs.New(store.NewInMemoryStore())
	agentSvc := identity.New(store.NewInMemoryStore(), orgSvc)
	policySvc := policy.New(store.NewInMemoryStore(), nil)
	budgetSvc := budget.New(store.NewInMemoryStore(), store.NewInMemoryStore())
	auditLog := audit.New(1000, nil)
	proxy := mcpproxy.New(policySvc, budgetSvc, auditLog, map[string]mcpproxy.Handler{
		"boom": func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			panic("boom")
		},
	})
	provider := llm.NewMockProvider(llm.Completion{
		Content: "done", TokensUsed: 5,
		ToolCalls: []llm.ToolCall{{ToolName: "boom"}},
	})
	rt := runtime.New(agentSvc, policySvc, budgetSvc, provider, proxy, auditLog)

	ctx := context.Background()
	org, err := orgSvc.Create(ctx, "o1", nil)
	require.NoError(t, err)
	agent, err := agentSvc.Register(ctx, org.OrgID, "a1", types.RoleExecutor, "")
	require.NoError(t, err)
	_, err = policySvc.SetPolicy(ctx, org.OrgID, "", []types.ToolPermission{{ToolName: "*", Effect: types.EffectAllow}}, 100000, 60)
	require.NoError(t, err)
	_, err = budgetSvc.SetBudget(ctx, org.OrgID, agent.AgentID, 100000, 30)
	require.NoError(t, err)

	resp := rt.Execute(ctx, types.ExecutionRequest{OrgID: org.OrgID, AgentID: agent.AgentID, Task: "anything"})
	require.True(t, resp.Success)
	require.Len(t, resp.ToolCalls, 1)
	assert.False(t, resp.ToolCalls[0].Success)
	assert.Equal(t, "panic", resp.ToolCalls[0].ErrorType)
	assert.Contains(t, resp.ToolCalls[0].Error, "boom")

	entries := auditLog.Query(types.AuditQuery{ExecutionID: resp.ExecutionID})
	var failedToolCalls int
	for _, e := range entries {
		if e.Action == types.ActionToolCall && e.Result == types.ResultFailed {
			failedToolCalls++
		}
	}
	assert.Equal(t, 1, failedToolCalls)

	summary, err := budgetSvc.GetUsage(ctx, types.UsageQuery{OrgID: org.OrgID, AgentID: agent.AgentID})
	require.NoError(t, err)
	assert.Zero(t, summary.TotalToolInvocations, "a crashed tool call must not be reported as usage")
}

// TestScenario5_TokenExchangeValidateRevokeAndZeroTTLExpiry matches
// spec.md §8 scenario 5.
func TestScenario5_TokenExchangeValidateRevokeAndZeroTTLExpiry(t *testing.T) {
	svc := token.NewHS256([]byte("integration-test-secret"), "agentgov-integration")
	ctx := context.Background()

	scoped, err := svc.Exchange(ctx, "parent-1", "agent-1", "org-1", "search", []string{"read"}, 60*time.Second)
	require.NoError(t, err)

	got, err := svc.Validate(ctx, scoped.TokenID)
	require.NoError(t, err)
	assert.Equal(t, scoped.TokenID, got.TokenID)

	require.NoError(t, svc.Revoke(ctx, scoped.TokenID))
	_, err = svc.Validate(ctx, scoped.TokenID)
	assert.Error(t, err)

	expiring, err := svc.Exchange(ctx, "parent-1", "agent-1", "org-1", "search", nil, 0)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = svc.Validate(ctx, expiring.TokenID)
	assert.Error(t, err, "a zero-TTL token must already be expired")
}
