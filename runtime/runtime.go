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

// Package runtime implements the per-task execution orchestrator: the
// single entry point that resolves an agent, its effective policy and
// budget, calls the model, and drives every resulting tool call through
// the MCP authorization proxy.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agentgov/llm"
	"agentgov/mcpproxy"
	"agentgov/shared/logger"
	"agentgov/shared/types"
)

// AgentResolver is the capability the runtime needs from identity.Service.
type AgentResolver interface {
	Get(ctx context.Context, orgID, agentID string) (*types.AgentIdentity, error)
	GetByID(ctx context.Context, agentID string) (*types.AgentIdentity, error)
}

// PolicyResolver is the capability the runtime needs from policy.Service.
type PolicyResolver interface {
	GetEffectivePolicy(ctx context.Context, orgID, agentID string) (*types.Policy, error)
}

// BudgetGate is the capability the runtime needs from budget.Service. Its
// Report is called once per execution with the LLM's own token usage;
// per-tool-call invocations are reported by the proxy, never here, to
// avoid double-counting per spec.md §4.7.
type BudgetGate interface {
	Check(ctx context.Context, orgID, agentID string, estimatedTokens int64) (bool, int64, string)
	Report(ctx context.Context, orgID, agentID, executionID string, tokensUsed, toolInvocations, durationMS int64, toolName string) (int64, error)
}

// AuditAppender is the capability the runtime needs from audit.Log.
type AuditAppender interface {
	Append(ctx context.Context, entry types.AuditEntry) types.AuditEntry
}

// Runtime is the ExecutionRuntime. It is stateless aside from its
// collaborators and safe for concurrent use.
type Runtime struct {
	agents  AgentResolver
	policy  PolicyResolver
	budget  BudgetGate
	llm     llm.Provider
	proxy   *mcpproxy.Proxy
	audit   AuditAppender
	log     *logger.Logger
	now     func() time.Time
}

// New wires a Runtime against its collaborators.
func New(agents AgentResolver, policy PolicyResolver, budget BudgetGate, provider llm.Provider, proxy *mcpproxy.Proxy, audit AuditAppender) *Runtime {
	return &Runtime{
		agents: agents, policy: policy, budget: budget, llm: provider, proxy: proxy, audit: audit,
		log: logger.New("runtime"), now: time.Now,
	}
}

// Execute drives a single task through the full governance pipeline:
// resolve agent → resolve policy → pre-flight budget → call model →
// drive each tool call through the proxy → report LLM usage → append a
// terminal audit entry.
func (r *Runtime) Execute(ctx context.Context, req types.ExecutionRequest) types.ExecutionResponse {
	t0 := r.now()
	executionID := req.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}

	resp := r.executeInner(ctx, req, executionID, t0)
	return resp
}

func (r *Runtime) executeInner(ctx context.Context, req types.ExecutionRequest, executionID string, t0 time.Time) (resp types.ExecutionResponse) {
	defer func() {
		if rec := recover(); rec != nil {
			duration := r.now().Sub(t0).Milliseconds()
			r.log.Error(req.OrgID, executionID, "execution panicked", map[string]interface{}{"panic": fmt.Sprintf("%v", rec)})
			resp = types.ExecutionResponse{
				ExecutionID: executionID, AgentID: req.AgentID, OrgID: req.OrgID,
				Success: false, Error: fmt.Sprintf("%v", rec), ErrorType: "PanicError",
				DurationMS: duration, CompletedAt: r.now(),
			}
		}
	}()

	agent, err := r.agents.Get(ctx, req.OrgID, req.AgentID)
	if err != nil {
		agent, _ = r.agents.GetByID(ctx, req.AgentID)
	}
	if agent == nil || !agent.Active {
		return types.ExecutionResponse{
			ExecutionID: executionID, AgentID: req.AgentID, OrgID: req.OrgID,
			Success: false, Error: "agent not found or inactive", ErrorType: "AgentNotFoundError",
			DurationMS: r.now().Sub(t0).Milliseconds(), CompletedAt: r.now(),
		}
	}

	policy, err := r.policy.GetEffectivePolicy(ctx, req.OrgID, req.AgentID)
	if err != nil || policy == nil {
		return types.ExecutionResponse{
			ExecutionID: executionID, AgentID: req.AgentID, OrgID: req.OrgID,
			Success: false, Error: "no policy configured", ErrorType: "PolicyNotFoundError",
			DurationMS: r.now().Sub(t0).Milliseconds(), CompletedAt: r.now(),
		}
	}

	allowed, _, reason := r.budget.Check(ctx, req.OrgID, req.AgentID, policy.TokenLimit)
	if !allowed {
		return types.ExecutionResponse{
			ExecutionID: executionID, AgentID: req.AgentID, OrgID: req.OrgID,
			Success: false, Error: "budget check failed: " + reason, ErrorType: "BudgetExhaustedError",
			DurationMS: r.now().Sub(t0).Milliseconds(), CompletedAt: r.now(),
		}
	}

	completion, err := r.llm.Complete(ctx, req.Task, req.Context)
	if err != nil {
		duration := r.now().Sub(t0).Milliseconds()
		return types.ExecutionResponse{
			ExecutionID: executionID, AgentID: req.AgentID, OrgID: req.OrgID,
			Success: false, Error: err.Error(), ErrorType: "LLMError",
			DurationMS: duration, CompletedAt: r.now(),
		}
	}

	outcomes := make([]types.ToolCallOutcome, 0, len(completion.ToolCalls))
	for _, tc := range completion.ToolCalls {
		result := r.proxy.Execute(ctx, types.ToolCallRequest{
			AgentID: req.AgentID, OrgID: req.OrgID, DelegatedUserID: agent.DelegatedUserID,
			ExecutionID: executionID, ToolName: tc.ToolName, Parameters: tc.Parameters,
		})
		outcome := types.ToolCallOutcome{
			ToolName: tc.ToolName, Success: result.Success, LatencyMS: result.LatencyMS,
			Error: result.Error, ErrorType: result.ErrorType,
		}
		if result.Success {
			outcome.Result = fmt.Sprintf("%v", result.Result)
		}
		outcomes = append(outcomes, outcome)
	}

	duration := r.now().Sub(t0).Milliseconds()

	if _, err := r.budget.Report(ctx, req.OrgID, req.AgentID, executionID, completion.TokensUsed, 0, duration, ""); err != nil {
		r.log.Warn(req.OrgID, executionID, "usage report failed after execution", map[string]interface{}{"error": err.Error()})
	}

	r.audit.Append(ctx, types.AuditEntry{
		OrgID: req.OrgID, AgentID: req.AgentID, DelegatedUserID: agent.DelegatedUserID,
		ExecutionID: executionID, Action: types.ActionExecutionComplete, Result: types.ResultExecuted,
		LatencyMS: duration, TokensUsed: completion.TokensUsed, Timestamp: r.now(),
	})

	r.log.Info(req.OrgID, executionID, "execution complete", map[string]interface{}{
		"tokens_used": completion.TokensUsed, "tool_calls": len(outcomes), "duration_ms": duration,
	})

	return types.ExecutionResponse{
		ExecutionID: executionID, AgentID: req.AgentID, OrgID: req.OrgID,
		Result: completion.Content, TokensUsed: completion.TokensUsed, ToolCalls: outcomes,
		DurationMS: duration, Success: true, CompletedAt: r.now(),
	}
}
