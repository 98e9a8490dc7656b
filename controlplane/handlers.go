// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controlplane

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	agerrors "agentgov/shared/errors"
	"agentgov/shared/types"
)

func isNotFound(err error) bool {
	return errors.Is(err, agerrors.ErrOrgNotFound) ||
		errors.Is(err, agerrors.ErrAgentNotFound) ||
		errors.Is(err, agerrors.ErrPolicyNotFound) ||
		errors.Is(err, agerrors.ErrBudgetNotFound) ||
		errors.Is(err, agerrors.ErrTokenNotFound)
}

func writeServiceError(w http.ResponseWriter, err error) {
	if isNotFound(err) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

// --- organizations ---

func (s *Server) handleCreateOrg(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string                 `json:"name"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	org, err := s.orgs.Create(r.Context(), body.Name, body.Metadata)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

func (s *Server) handleGetOrg(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["org_id"]
	org, err := s.orgs.Get(r.Context(), orgID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (s *Server) handleListOrgs(w http.ResponseWriter, r *http.Request) {
	list, err := s.orgs.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDeleteOrg(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["org_id"]
	if err := s.orgs.Delete(r.Context(), orgID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- agents ---

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["org_id"]
	var body struct {
		Name            string `json:"name"`
		Role            string `json:"role"`
		DelegatedUserID string `json:"delegated_user_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	agent, err := s.agents.Register(r.Context(), orgID, body.Name, types.AgentRole(body.Role), body.DelegatedUserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	agent, err := s.agents.Get(r.Context(), vars["org_id"], vars["agent_id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["org_id"]
	list, err := s.agents.List(r.Context(), orgID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDeactivateAgent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.agents.Deactivate(r.Context(), vars["org_id"], vars["agent_id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- policy ---

type setPolicyBody struct {
	Tools                   []types.ToolPermission `json:"tools"`
	TokenLimit              int64                  `json:"token_limit"`
	ExecutionTimeoutSeconds int                    `json:"execution_timeout_seconds"`
}

func (s *Server) handleSetOrgPolicy(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["org_id"]
	var body setPolicyBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := s.policies.SetPolicy(r.Context(), orgID, "", body.Tools, body.TokenLimit, body.ExecutionTimeoutSeconds)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetOrgPolicy(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["org_id"]
	p, err := s.policies.GetPolicy(r.Context(), orgID, "")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSetAgentPolicy(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var body setPolicyBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := s.policies.SetPolicy(r.Context(), vars["org_id"], vars["agent_id"], body.Tools, body.TokenLimit, body.ExecutionTimeoutSeconds)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetAgentPolicy(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p, err := s.policies.GetPolicy(r.Context(), vars["org_id"], vars["agent_id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetEffectivePolicy(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p, err := s.policies.GetEffectivePolicy(r.Context(), vars["org_id"], vars["agent_id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleEvaluatePolicy(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var body struct {
		ToolName        string `json:"tool_name"`
		EstimatedTokens int64  `json:"estimated_tokens"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	decision := s.policies.EvaluateFor(r.Context(), vars["org_id"], vars["agent_id"], body.ToolName, body.EstimatedTokens, nil)
	writeJSON(w, http.StatusOK, decision)
}

// --- budget ---

type setBudgetBody struct {
	TokenLimit      int64 `json:"token_limit"`
	ResetPeriodDays int   `json:"reset_period_days"`
}

func (s *Server) handleSetOrgBudget(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["org_id"]
	var body setBudgetBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	b, err := s.budgets.SetBudget(r.Context(), orgID, "", body.TokenLimit, body.ResetPeriodDays)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleSetAgentBudget(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var body setBudgetBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	b, err := s.budgets.SetBudget(r.Context(), vars["org_id"], vars["agent_id"], body.TokenLimit, body.ResetPeriodDays)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleGetAgentBudget(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	b, err := s.budgets.GetBudget(r.Context(), vars["org_id"], vars["agent_id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCheckBudget(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var body struct {
		EstimatedTokens int64 `json:"estimated_tokens"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	allowed, remaining, reason := s.budgets.Check(r.Context(), vars["org_id"], vars["agent_id"], body.EstimatedTokens)
	writeJSON(w, http.StatusOK, map[string]interface{}{"allowed": allowed, "remaining": remaining, "reason": reason})
}

// --- usage ---

func (s *Server) handleReportUsage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrgID               string `json:"org_id"`
		AgentID             string `json:"agent_id"`
		ExecutionID         string `json:"execution_id"`
		TokensUsed          int64  `json:"tokens_used"`
		ToolInvocations     int64  `json:"tool_invocations"`
		ExecutionDurationMS int64  `json:"execution_duration_ms"`
		ToolName            string `json:"tool_name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	remaining, err := s.budgets.Report(r.Context(), body.OrgID, body.AgentID, body.ExecutionID, body.TokensUsed, body.ToolInvocations, body.ExecutionDurationMS, body.ToolName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"remaining": remaining})
}

func (s *Server) handleQueryUsage(w http.ResponseWriter, r *http.Request) {
	q := types.UsageQuery{OrgID: r.URL.Query().Get("org_id"), AgentID: r.URL.Query().Get("agent_id")}
	if start := r.URL.Query().Get("start_time"); start != "" {
		if t, err := time.Parse(time.RFC3339, start); err == nil {
			q.StartTime = &t
		}
	}
	if end := r.URL.Query().Get("end_time"); end != "" {
		if t, err := time.Parse(time.RFC3339, end); err == nil {
			q.EndTime = &t
		}
	}
	summary, err := s.budgets.GetUsage(r.Context(), q)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// --- audit ---

func (s *Server) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	q := types.AuditQuery{
		OrgID:       r.URL.Query().Get("org_id"),
		AgentID:     r.URL.Query().Get("agent_id"),
		ExecutionID: r.URL.Query().Get("execution_id"),
		Action:      types.AuditAction(r.URL.Query().Get("action")),
	}
	entries := s.auditLog.Query(q)
	writeJSON(w, http.StatusOK, entries)
}

// --- tokens ---

func (s *Server) handleTokenExchange(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ParentTokenID string   `json:"parent_token_id"`
		AgentID       string   `json:"agent_id"`
		OrgID         string   `json:"org_id"`
		ToolName      string   `json:"tool_name"`
		Scopes        []string `json:"scopes"`
		TTLSeconds    *int64   `json:"ttl_seconds"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// ttl_seconds omitted (nil) means "apply the service default"; an
	// explicit 0 is a real, immediately-expiring TTL — see token.Service.Exchange.
	ttl := time.Duration(-1)
	if body.TTLSeconds != nil {
		ttl = time.Duration(*body.TTLSeconds) * time.Second
	}
	scoped, err := s.tokens.Exchange(r.Context(), body.ParentTokenID, body.AgentID, body.OrgID, body.ToolName, body.Scopes, ttl)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, scoped)
}

func (s *Server) handleTokenValidate(w http.ResponseWriter, r *http.Request) {
	tokenID := mux.Vars(r)["token_id"]
	scoped, err := s.tokens.Validate(r.Context(), tokenID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scoped)
}

func (s *Server) handleTokenRevoke(w http.ResponseWriter, r *http.Request) {
	tokenID := mux.Vars(r)["token_id"]
	if err := s.tokens.Revoke(r.Context(), tokenID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- execution ---

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req types.ExecutionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.CreatedAt = time.Now().UTC()
	resp := s.runtime.Execute(r.Context(), req)
	// An execution-level failure (agent/policy not found, budget
	// exhausted, LLM or tool crash) is carried in the response envelope
	// as success=false; it is not an RPC-level failure, so this always
	// answers 200. Only authentication and request-shape failures, handled
	// above and by authMiddleware, bubble out as non-200 status codes.
	writeJSON(w, http.StatusOK, resp)
}
