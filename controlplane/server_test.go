// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentgov/audit"
	"agentgov/budget"
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

func newTestServer(t *testing.T, apiKey string) *Server {
	t.Helper()
	orgSvc := orgs.New(store.NewInMemoryStore())
	agentSvc := identity.New(store.NewInMemoryStore(), orgSvc)
	policySvc := policy.New(store.NewInMemoryStore(), nil)
	budgetSvc := budget.New(store.NewInMemoryStore(), store.NewInMemoryStore())
	auditLog := audit.New(100, nil)
	tokenSvc := token.NewHS256([]byte("test-secret-key-for-signing"), "agentgov-test")
	mockTool := tools.NewMockTool("ok")
	proxy := mcpproxy.New(policySvc, budgetSvc, auditLog, map[string]mcpproxy.Handler{"search": mockTool.Execute})
	provider := llm.NewMockProvider(llm.Completion{Content: "done", TokensUsed: 5})
	rt := runtime.New(agentSvc, policySvc, budgetSvc, provider, proxy, auditLog)

	return New(Config{
		Orgs: orgSvc, Agents: agentSvc, Policies: policySvc, Budgets: budgetSvc,
		AuditLog: auditLog, Tokens: tokenSvc, Runtime: rt, APIKey: apiKey,
	})
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_HealthIsAlwaysReachable(t *testing.T) {
	s := newTestServer(t, "secret")
	rec := doRequest(t, s, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RejectsMissingAPIKey(t *testing.T) {
	s := newTestServer(t, "secret")
	rec := doRequest(t, s, http.MethodGet, "/v1/orgs", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_OrgLifecycle(t *testing.T) {
	s := newTestServer(t, "")

	rec := doRequest(t, s, http.MethodPost, "/v1/orgs", map[string]interface{}{"name": "acme"}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var org types.Organization
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &org))
	require.NotEmpty(t, org.OrgID)

	rec = doRequest(t, s, http.MethodGet, "/v1/orgs/"+org.OrgID, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/orgs/nonexistent", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_AgentMustBeRegisteredUnderExistingOrg(t *testing.T) {
	s := newTestServer(t, "")

	rec := doRequest(t, s, http.MethodPost, "/v1/orgs/nonexistent/agents", map[string]interface{}{"name": "a1", "role": "executor"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/v1/orgs", map[string]interface{}{"name": "acme"}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var org types.Organization
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &org))

	rec = doRequest(t, s, http.MethodPost, "/v1/orgs/"+org.OrgID+"/agents", map[string]interface{}{"name": "a1", "role": "executor"}, "")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestServer_ExecutePipelineEndToEnd(t *testing.T) {
	s := newTestServer(t, "")
	ctx := context.Background()

	org, err := s.orgs.Create(ctx, "acme", nil)
	require.NoError(t, err)
	agent, err := s.agents.Register(ctx, org.OrgID, "worker-1", types.RoleExecutor, "")
	require.NoError(t, err)
	_, err = s.policies.SetPolicy(ctx, org.OrgID, "", []types.ToolPermission{{ToolName: "*", Effect: types.EffectAllow}}, 100000, 60)
	require.NoError(t, err)
	_, err = s.budgets.SetBudget(ctx, org.OrgID, agent.AgentID, 100000, 30)
	require.NoError(t, err)

	rec := doRequest(t, s, http.MethodPost, "/v1/execute", map[string]interface{}{
		"org_id": org.OrgID, "agent_id": agent.AgentID, "task": "do the thing",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.ExecutionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "done", resp.Result)
}

func TestServer_TokenExchangeAndRevokeRoundTrip(t *testing.T) {
	s := newTestServer(t, "")

	rec := doRequest(t, s, http.MethodPost, "/v1/tokens/exchange", map[string]interface{}{
		"parent_token_id": "parent-1", "agent_id": "agent-1", "org_id": "org-1",
		"tool_name": "search", "scopes": []string{"read"}, "ttl_seconds": 300,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var tok types.ScopedToken
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	require.NotEmpty(t, tok.TokenID)

	rec = doRequest(t, s, http.MethodGet, "/v1/tokens/"+tok.TokenID+"/validate", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodDelete, "/v1/tokens/"+tok.TokenID, nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/tokens/"+tok.TokenID+"/validate", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestServer_TokenExchangeOmittedTTLAppliesDefault guards against
// conflating a JSON body that omits ttl_seconds with one that sets it to
// the literal 0 — the two must not produce the same token lifetime.
func TestServer_TokenExchangeOmittedTTLAppliesDefault(t *testing.T) {
	s := newTestServer(t, "")

	rec := doRequest(t, s, http.MethodPost, "/v1/tokens/exchange", map[string]interface{}{
		"parent_token_id": "parent-1", "agent_id": "agent-1", "org_id": "org-1",
		"tool_name": "search", "scopes": []string{"read"},
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var tok types.ScopedToken
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))

	rec = doRequest(t, s, http.MethodGet, "/v1/tokens/"+tok.TokenID+"/validate", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code, "omitting ttl_seconds must apply the service default, not expire immediately")
}
