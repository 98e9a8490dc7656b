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

// Package mcpproxy implements the MCP authorization proxy: the per-tool-call
// gate that every tool invocation must pass through, enforcing the strict
// validate → policy → budget → handler → report → audit pipeline.
package mcpproxy

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	agerrors "agentgov/shared/errors"
	"agentgov/shared/logger"
	"agentgov/shared/types"
)

// maxParameters, maxKeyLength, and maxStringValueLength are the parameter
// validation floor applied before any policy or budget check runs.
const (
	maxParameters        = 50
	maxKeyLength         = 256
	maxStringValueLength = 10_000
)

// Handler is a registered tool implementation. It receives the call's
// parameters as a named-argument map and returns a JSON-serializable
// result or an error. A panic recovered by Execute is treated the same
// as a returned error, with "panic" substituted for the error type.
type Handler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// PolicyChecker is the capability the proxy needs from the policy engine.
type PolicyChecker interface {
	EvaluateFor(ctx context.Context, orgID, agentID, toolName string, estimatedTokens int64, reqCtx map[string]interface{}) types.PolicyDecision
}

// BudgetChecker is the capability the proxy needs from the budget engine.
type BudgetChecker interface {
	Check(ctx context.Context, orgID, agentID string, estimatedTokens int64) (bool, int64, string)
	Report(ctx context.Context, orgID, agentID, executionID string, tokensUsed, toolInvocations, durationMS int64, toolName string) (int64, error)
}

// AuditAppender is the capability the proxy needs from the audit log.
type AuditAppender interface {
	Append(ctx context.Context, entry types.AuditEntry) types.AuditEntry
}

var (
	evaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentgov_mcpproxy_evaluations_total",
		Help: "Total tool calls by terminal result.",
	}, []string{"result"})
	handlerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentgov_mcpproxy_handler_latency_ms",
		Help:    "Tool handler latency in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 16),
	}, []string{"tool_name"})
)

func init() {
	prometheus.MustRegister(evaluationsTotal, handlerLatency)
}

// Proxy is the MCPAuthorizationProxy. It is safe for concurrent use; it
// holds no mutable state of its own (the registry is built once at
// construction), delegating all synchronization to its collaborators.
type Proxy struct {
	policy   PolicyChecker
	budget   BudgetChecker
	audit    AuditAppender
	handlers map[string]Handler
	log      *logger.Logger
	now      func() time.Time
}

// New wires a Proxy against its three collaborators and a fixed handler
// registry. Registries are not mutable after construction; callers
// wanting dynamic registration should build a new Proxy.
func New(policy PolicyChecker, budget BudgetChecker, audit AuditAppender, handlers map[string]Handler) *Proxy {
	reg := make(map[string]Handler, len(handlers))
	for k, v := range handlers {
		reg[k] = v
	}
	return &Proxy{policy: policy, budget: budget, audit: audit, handlers: reg, log: logger.New("mcpproxy"), now: time.Now}
}

// Execute runs the full authorization pipeline for a single tool call.
func (p *Proxy) Execute(ctx context.Context, req types.ToolCallRequest) types.ToolCallResult {
	t0 := p.now()
	redacted := types.RedactParameters(req.Parameters)

	if reason := validateParameters(req.Parameters); reason != "" {
		entry := p.audit.Append(ctx, types.AuditEntry{
			OrgID: req.OrgID, AgentID: req.AgentID, DelegatedUserID: req.DelegatedUserID,
			ExecutionID: req.ExecutionID, Action: types.ActionToolCall, ToolName: req.ToolName,
			Parameters: redacted, Result: types.ResultDenied, Reason: reason, Timestamp: p.now(),
		})
		evaluationsTotal.WithLabelValues("parameter_denied").Inc()
		return errResult(string(agerrors.KindToolParameter), reason, &entry)
	}

	decision := p.policy.EvaluateFor(ctx, req.OrgID, req.AgentID, req.ToolName, req.EstimatedTokens, nil)
	if !decision.Allowed {
		entry := p.audit.Append(ctx, types.AuditEntry{
			OrgID: req.OrgID, AgentID: req.AgentID, DelegatedUserID: req.DelegatedUserID,
			ExecutionID: req.ExecutionID, Action: types.ActionToolCall, ToolName: req.ToolName,
			Parameters: redacted, Result: types.ResultDenied, Reason: decision.Reason, Timestamp: p.now(),
		})
		evaluationsTotal.WithLabelValues("policy_denied").Inc()
		return errResult(string(agerrors.KindPolicyViolation), decision.Reason, &entry)
	}

	if reason := checkParameterConstraints(req.Parameters, decision.ParametersConstraint); reason != "" {
		entry := p.audit.Append(ctx, types.AuditEntry{
			OrgID: req.OrgID, AgentID: req.AgentID, DelegatedUserID: req.DelegatedUserID,
			ExecutionID: req.ExecutionID, Action: types.ActionToolCall, ToolName: req.ToolName,
			Parameters: redacted, Result: types.ResultDenied, Reason: reason, Timestamp: p.now(),
		})
		evaluationsTotal.WithLabelValues("parameter_denied").Inc()
		return errResult(string(agerrors.KindToolParameter), reason, &entry)
	}

	allowed, _, reason := p.budget.Check(ctx, req.OrgID, req.AgentID, req.EstimatedTokens)
	if !allowed {
		entry := p.audit.Append(ctx, types.AuditEntry{
			OrgID: req.OrgID, AgentID: req.AgentID, DelegatedUserID: req.DelegatedUserID,
			ExecutionID: req.ExecutionID, Action: types.ActionToolCall, ToolName: req.ToolName,
			Parameters: redacted, Result: types.ResultDenied, Reason: reason, Timestamp: p.now(),
		})
		evaluationsTotal.WithLabelValues("budget_denied").Inc()
		return errResult(string(agerrors.KindBudgetExhausted), reason, &entry)
	}

	handler, found := p.handlers[req.ToolName]
	if !found {
		entry := p.audit.Append(ctx, types.AuditEntry{
			OrgID: req.OrgID, AgentID: req.AgentID, DelegatedUserID: req.DelegatedUserID,
			ExecutionID: req.ExecutionID, Action: types.ActionToolCall, ToolName: req.ToolName,
			Parameters: redacted, Result: types.ResultFailed, Reason: "tool not found", Timestamp: p.now(),
		})
		evaluationsTotal.WithLabelValues("tool_not_found").Inc()
		return errResult("ToolNotFoundError", "tool not found", &entry)
	}

	result, errType, errMsg := p.invoke(ctx, handler, req.Parameters)
	latency := p.now().Sub(t0).Milliseconds()
	handlerLatency.WithLabelValues(req.ToolName).Observe(float64(latency))

	if errMsg != "" {
		entry := p.audit.Append(ctx, types.AuditEntry{
			OrgID: req.OrgID, AgentID: req.AgentID, DelegatedUserID: req.DelegatedUserID,
			ExecutionID: req.ExecutionID, Action: types.ActionToolCall, ToolName: req.ToolName,
			Parameters: redacted, Result: types.ResultFailed, Reason: errMsg, LatencyMS: latency, Timestamp: p.now(),
		})
		evaluationsTotal.WithLabelValues("handler_failed").Inc()
		return errResult(errType, errMsg, &entry)
	}

	if _, err := p.budget.Report(ctx, req.OrgID, req.AgentID, req.ExecutionID, 0, 1, latency, req.ToolName); err != nil {
		p.log.Warn(req.OrgID, req.ExecutionID, "usage report failed after successful tool call", map[string]interface{}{"error": err.Error()})
	}

	entry := p.audit.Append(ctx, types.AuditEntry{
		OrgID: req.OrgID, AgentID: req.AgentID, DelegatedUserID: req.DelegatedUserID,
		ExecutionID: req.ExecutionID, Action: types.ActionToolCall, ToolName: req.ToolName,
		Parameters: redacted, Result: types.ResultExecuted, LatencyMS: latency, Timestamp: p.now(),
	})
	evaluationsTotal.WithLabelValues("executed").Inc()

	return types.ToolCallResult{Success: true, Result: result, LatencyMS: latency, AuditEntry: &entry}
}

// invoke runs handler, recovering a panic into an error result the same
// way a returned error is handled, distinguishing it via errType "panic".
func (p *Proxy) invoke(ctx context.Context, handler Handler, params map[string]interface{}) (result interface{}, errType, errMsg string) {
	defer func() {
		if r := recover(); r != nil {
			errType = "panic"
			errMsg = fmt.Sprintf("%v", r)
		}
	}()
	res, err := handler(ctx, params)
	if err != nil {
		return nil, "ToolExecutionError", err.Error()
	}
	return res, "", ""
}

func validateParameters(params map[string]interface{}) string {
	if len(params) > maxParameters {
		return fmt.Sprintf("too many parameters: %d exceeds limit of %d", len(params), maxParameters)
	}
	for k, v := range params {
		if len(k) > maxKeyLength {
			return fmt.Sprintf("parameter key %q exceeds max length %d", k, maxKeyLength)
		}
		if s, ok := v.(string); ok && len(s) > maxStringValueLength {
			return fmt.Sprintf("parameter %q value exceeds max string length %d", k, maxStringValueLength)
		}
	}
	return ""
}

func errResult(errType, reason string, entry *types.AuditEntry) types.ToolCallResult {
	return types.ToolCallResult{Success: false, Error: reason, ErrorType: errType, AuditEntry: entry}
}

// checkParameterConstraints enforces a matched ToolPermission's
// parameters_constraint against the call's parameters. The only
// recognized constraint shape is {"max_length": N}, applied to string
// parameter values; a non-string value or an unrecognized constraint key
// is left alone rather than rejected, since this is a narrowing floor on
// top of policy, not a general schema validator.
func checkParameterConstraints(params map[string]interface{}, constraints map[string]interface{}) string {
	for paramName, rawConstraint := range constraints {
		constraint, ok := rawConstraint.(map[string]interface{})
		if !ok {
			continue
		}
		maxLenRaw, ok := constraint["max_length"]
		if !ok {
			continue
		}
		maxLen, ok := asInt(maxLenRaw)
		if !ok {
			continue
		}
		val, present := params[paramName]
		if !present {
			continue
		}
		s, ok := val.(string)
		if !ok {
			continue
		}
		if len(s) > maxLen {
			return fmt.Sprintf("parameter %q exceeds max_length %d", paramName, maxLen)
		}
	}
	return ""
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
