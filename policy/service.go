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

// Package policy implements the hierarchical policy engine: organization
// baseline + agent overlay merge, and tool/limit evaluation.
package policy

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	agerrors "agentgov/shared/errors"
	"agentgov/shared/logger"
	"agentgov/shared/types"
	"agentgov/shared/validate"
	"agentgov/store"
)

// ExternalEngine is the optional remote policy evaluator dispatch target
// (for example an OPA adapter). When configured, Service pushes the policy
// just set on every mutation — the org baseline or the agent overlay as
// stored; it is not merged into an effective policy before the push — and
// can forward evaluation requests to it instead of evaluating locally.
type ExternalEngine interface {
	Push(ctx context.Context, policy types.Policy) error
	Evaluate(ctx context.Context, orgID, agentID, toolName string, estimatedTokens int64, reqCtx map[string]interface{}) (types.PolicyDecision, error)
}

// Service owns Policy storage, merge, and evaluation. It holds no data of
// its own; the Store provides synchronization.
type Service struct {
	store    store.Store
	external ExternalEngine
	log      *logger.Logger
}

// New wires a Service against backing, with an optional external engine.
func New(backing store.Store, external ExternalEngine) *Service {
	return &Service{store: backing, external: external, log: logger.New("policy")}
}

func orgKey(orgID string) string { return orgID + ":org" }

func agentKey(orgID, agentID string) string { return orgID + ":agent:" + agentID }

// SetPolicy creates or updates the policy for (org_id, agent_id). When
// agentID is empty this is the organization baseline. Re-setting preserves
// policy_id and created_at while refreshing updated_at.
func (s *Service) SetPolicy(ctx context.Context, orgID, agentID string, tools []types.ToolPermission, tokenLimit int64, timeoutSeconds int) (*types.Policy, error) {
	if err := validate.ID("org_id", orgID); err != nil {
		return nil, err
	}
	if err := validate.TokenLimit(tokenLimit); err != nil {
		return nil, err
	}
	if err := validate.Timeout(timeoutSeconds); err != nil {
		return nil, err
	}
	for _, t := range tools {
		if err := validate.ToolName(t.ToolName); err != nil {
			return nil, err
		}
		if !t.Effect.IsValid() {
			return nil, &agerrors.ConfigurationError{Reason: "invalid tool effect: " + string(t.Effect)}
		}
	}

	key := orgKey(orgID)
	if agentID != "" {
		key = agentKey(orgID, agentID)
	}

	now := time.Now().UTC()
	existing, err := s.getRaw(ctx, key)
	if err != nil && err != agerrors.ErrPolicyNotFound {
		return nil, err
	}

	p := &types.Policy{
		PolicyID:                uuid.NewString(),
		OrgID:                   orgID,
		AgentID:                 agentID,
		Tools:                   tools,
		TokenLimit:              tokenLimit,
		ExecutionTimeoutSeconds: timeoutSeconds,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if existing != nil {
		p.PolicyID = existing.PolicyID
		p.CreatedAt = existing.CreatedAt
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, &agerrors.StoreWriteError{Cause: err}
	}
	if err := s.store.Put(ctx, key, data); err != nil {
		return nil, err
	}

	if s.external != nil {
		if err := s.external.Push(ctx, *p); err != nil {
			s.log.Warn(orgID, "", "external policy push failed", map[string]interface{}{"error": err.Error()})
		}
	}

	s.log.Info(orgID, "", "policy set", map[string]interface{}{"agent_id": agentID, "policy_id": p.PolicyID})
	return p, nil
}

// GetPolicy returns the raw (unmerged) policy stored for (org_id, agent_id).
func (s *Service) GetPolicy(ctx context.Context, orgID, agentID string) (*types.Policy, error) {
	key := orgKey(orgID)
	if agentID != "" {
		key = agentKey(orgID, agentID)
	}
	return s.getRaw(ctx, key)
}

func (s *Service) getRaw(ctx context.Context, key string) (*types.Policy, error) {
	data, found, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, agerrors.ErrPolicyNotFound
	}
	var p types.Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &agerrors.StoreReadError{Cause: err}
	}
	return &p, nil
}

// GetEffectivePolicy returns the policy obtained by merging the
// organization baseline with the agent overlay, per the deny-wins and
// minimum-limits rules. Returns ErrPolicyNotFound if neither exists.
func (s *Service) GetEffectivePolicy(ctx context.Context, orgID, agentID string) (*types.Policy, error) {
	baseline, baselineErr := s.getRaw(ctx, orgKey(orgID))
	if baselineErr != nil && baselineErr != agerrors.ErrPolicyNotFound {
		return nil, baselineErr
	}
	overlay, overlayErr := s.getRaw(ctx, agentKey(orgID, agentID))
	if overlayErr != nil && overlayErr != agerrors.ErrPolicyNotFound {
		return nil, overlayErr
	}

	switch {
	case baseline == nil && overlay == nil:
		return nil, agerrors.ErrPolicyNotFound
	case baseline == nil:
		return overlay, nil
	case overlay == nil:
		return baseline, nil
	default:
		return mergePolicies(baseline, overlay), nil
	}
}

// mergePolicies implements spec.md §4.3's merge rule: start from the
// baseline's tool list; an overlay permission for a tool the baseline
// explicitly denies is dropped (org denies win); otherwise the overlay
// permission replaces any baseline entry for the same tool.
func mergePolicies(baseline, overlay *types.Policy) *types.Policy {
	orgDenied := make(map[string]bool)
	for _, t := range baseline.Tools {
		if t.Effect == types.EffectDeny {
			orgDenied[t.ToolName] = true
		}
	}

	working := make([]types.ToolPermission, len(baseline.Tools))
	copy(working, baseline.Tools)

	for _, q := range overlay.Tools {
		if orgDenied[q.ToolName] {
			continue
		}
		working = removeByToolName(working, q.ToolName)
		working = append(working, q)
	}

	return &types.Policy{
		PolicyID:                overlay.PolicyID,
		OrgID:                   overlay.OrgID,
		AgentID:                 overlay.AgentID,
		Tools:                   working,
		TokenLimit:              minInt64(baseline.TokenLimit, overlay.TokenLimit),
		ExecutionTimeoutSeconds: minInt(baseline.ExecutionTimeoutSeconds, overlay.ExecutionTimeoutSeconds),
		CreatedAt:               overlay.CreatedAt,
		UpdatedAt:               overlay.UpdatedAt,
	}
}

func removeByToolName(perms []types.ToolPermission, name string) []types.ToolPermission {
	out := perms[:0:0]
	for _, p := range perms {
		if p.ToolName != name {
			out = append(out, p)
		}
	}
	return out
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Evaluate checks a requested tool call against an already-resolved
// effective policy. It does not look up the policy itself — callers that
// want lookup+evaluate in one step should call GetEffectivePolicy first,
// or EvaluateFor below. Delegates to the external engine when configured.
func (s *Service) Evaluate(ctx context.Context, orgID, agentID string, effective *types.Policy, toolName string, estimatedTokens int64, reqCtx map[string]interface{}) types.PolicyDecision {
	if s.external != nil {
		decision, err := s.external.Evaluate(ctx, orgID, agentID, toolName, estimatedTokens, reqCtx)
		if err == nil {
			return decision
		}
		s.log.Warn(orgID, agentID, "external policy evaluation failed, falling back to local", map[string]interface{}{"error": err.Error()})
	}
	return evaluateLocal(effective, toolName, estimatedTokens)
}

// EvaluateFor resolves the effective policy and evaluates in one step,
// the shape the control-plane surface and the execution runtime use.
func (s *Service) EvaluateFor(ctx context.Context, orgID, agentID, toolName string, estimatedTokens int64, reqCtx map[string]interface{}) types.PolicyDecision {
	effective, err := s.GetEffectivePolicy(ctx, orgID, agentID)
	if err != nil {
		return types.PolicyDecision{Allowed: false, Reason: "no policy", EvaluatedAt: time.Now().UTC()}
	}
	return s.Evaluate(ctx, orgID, agentID, effective, toolName, estimatedTokens, reqCtx)
}

func evaluateLocal(policy *types.Policy, toolName string, estimatedTokens int64) types.PolicyDecision {
	now := time.Now().UTC()
	if policy == nil {
		return types.PolicyDecision{Allowed: false, Reason: "no policy", EvaluatedAt: now}
	}
	if estimatedTokens > policy.TokenLimit {
		return types.PolicyDecision{
			Allowed:         false,
			Reason:          "estimated tokens exceed policy token_limit",
			MatchedPolicyID: policy.PolicyID,
			EvaluatedAt:     now,
		}
	}

	// Deny-exact takes precedence over everything else at this level: a
	// separate pass so an explicit deny can never be masked by an
	// explicit allow of the same tool earlier in the list.
	for i := range policy.Tools {
		t := &policy.Tools[i]
		if t.ToolName == toolName && t.Effect == types.EffectDeny {
			return types.PolicyDecision{Allowed: false, Reason: "tool " + toolName + " denied", MatchedPolicyID: policy.PolicyID, EvaluatedAt: now}
		}
	}

	// Explicit allow.
	for i := range policy.Tools {
		t := &policy.Tools[i]
		if t.ToolName == toolName && t.Effect == types.EffectAllow {
			return types.PolicyDecision{
				Allowed: true, Reason: "explicit allow", MatchedPolicyID: policy.PolicyID, EvaluatedAt: now,
				ParametersConstraint: t.ParametersConstraint,
			}
		}
	}

	// Wildcard allow.
	for i := range policy.Tools {
		t := &policy.Tools[i]
		if t.ToolName == "*" && t.Effect == types.EffectAllow {
			return types.PolicyDecision{Allowed: true, Reason: "wildcard allow", MatchedPolicyID: policy.PolicyID, EvaluatedAt: now}
		}
	}

	return types.PolicyDecision{Allowed: false, Reason: "default deny", MatchedPolicyID: policy.PolicyID, EvaluatedAt: now}
}
