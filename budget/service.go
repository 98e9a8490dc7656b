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

// Package budget implements the two-scope (agent, organization) token
// budget engine: pre-flight check and post-flight deduction under a
// single mutex so concurrent reports never lose updates.
package budget

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	agerrors "agentgov/shared/errors"
	"agentgov/shared/logger"
	"agentgov/shared/types"
	"agentgov/shared/validate"
	"agentgov/store"
)

// Service owns Budget accounting and the UsageReport ledger. A single
// mutex protects both Check and Report so the read-mutate-write cycle
// that debits both scopes is atomic with respect to other reports; the
// mutex is held across the budget Store reads and writes that make up
// that cycle, and no other outside call is made while it is held.
type Service struct {
	mu      sync.Mutex
	budgets store.Store
	usage   store.Store
	log     *logger.Logger
}

// New wires a Service against one Store for budgets and one for usage
// reports.
func New(budgets, usage store.Store) *Service {
	return &Service{budgets: budgets, usage: usage, log: logger.New("budget")}
}

func orgKey(orgID string) string { return orgID + ":org" }

func agentKey(orgID, agentID string) string { return orgID + ":agent:" + agentID }

// SetBudget creates or updates the budget for (org_id, agent_id). Re-setting
// preserves budget_id, tokens_used, and tool_invocations.
func (s *Service) SetBudget(ctx context.Context, orgID, agentID string, tokenLimit int64, resetPeriodDays int) (*types.Budget, error) {
	if err := validate.ID("org_id", orgID); err != nil {
		return nil, err
	}
	if tokenLimit < 0 {
		return nil, &agerrors.ConfigurationError{Reason: "token_limit must not be negative"}
	}

	key := orgKey(orgID)
	if agentID != "" {
		key = agentKey(orgID, agentID)
	}

	existing, err := s.getRaw(ctx, s.budgets, key)
	if err != nil && err != agerrors.ErrBudgetNotFound {
		return nil, err
	}

	now := time.Now().UTC()
	b := &types.Budget{
		BudgetID:        uuid.NewString(),
		OrgID:           orgID,
		AgentID:         agentID,
		TokenLimit:      tokenLimit,
		ResetPeriodDays: resetPeriodDays,
		CreatedAt:       now,
		LastResetAt:     now,
	}
	if existing != nil {
		b.BudgetID = existing.BudgetID
		b.TokensUsed = existing.TokensUsed
		b.ToolInvocations = existing.ToolInvocations
		b.CreatedAt = existing.CreatedAt
		b.LastResetAt = existing.LastResetAt
	}

	if err := s.putRaw(ctx, s.budgets, key, b); err != nil {
		return nil, err
	}
	s.log.Info(orgID, "", "budget set", map[string]interface{}{"agent_id": agentID, "token_limit": tokenLimit})
	return b, nil
}

// GetBudget returns the raw budget for (org_id, agent_id).
func (s *Service) GetBudget(ctx context.Context, orgID, agentID string) (*types.Budget, error) {
	key := orgKey(orgID)
	if agentID != "" {
		key = agentKey(orgID, agentID)
	}
	return s.getRaw(ctx, s.budgets, key)
}

// Check is the pre-flight budget gate. It returns (allowed, remaining,
// reason). Absence of a budget at either scope is absence of a cap:
// if neither scope has a configured budget, remaining is reported as 0,
// never a sentinel that could overflow downstream arithmetic.
func (s *Service) Check(ctx context.Context, orgID, agentID string, estimatedTokens int64) (bool, int64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agentBudget, _ := s.getRaw(ctx, s.budgets, agentKey(orgID, agentID))
	orgBudget, _ := s.getRaw(ctx, s.budgets, orgKey(orgID))

	if agentBudget != nil && agentBudget.TokensRemaining() < estimatedTokens {
		return false, agentBudget.TokensRemaining(), "agent budget exhausted: requested " + strconv.FormatInt(estimatedTokens, 10) + " exceeds remaining " + strconv.FormatInt(agentBudget.TokensRemaining(), 10)
	}
	if orgBudget != nil && orgBudget.TokensRemaining() < estimatedTokens {
		return false, orgBudget.TokensRemaining(), "org budget exhausted: requested " + strconv.FormatInt(estimatedTokens, 10) + " exceeds remaining " + strconv.FormatInt(orgBudget.TokensRemaining(), 10)
	}

	switch {
	case agentBudget != nil && orgBudget != nil:
		return true, minInt64(agentBudget.TokensRemaining(), orgBudget.TokensRemaining()), "budget_ok"
	case agentBudget != nil:
		return true, agentBudget.TokensRemaining(), "budget_ok"
	case orgBudget != nil:
		return true, orgBudget.TokensRemaining(), "budget_ok"
	default:
		return true, 0, "budget_ok"
	}
}

// Report is the post-flight deduction. tokensUsed must not be negative.
// Both the agent and org budgets (whichever exist) are debited under the
// same critical section that Check uses, so concurrent reports never lose
// updates. Returns the agent budget's remaining tokens, or 0 if absent.
func (s *Service) Report(ctx context.Context, orgID, agentID, executionID string, tokensUsed, toolInvocations, durationMS int64, toolName string) (int64, error) {
	if tokensUsed < 0 {
		return 0, agerrors.ErrInvalidUsage
	}

	report := &types.UsageReport{
		ReportID:            uuid.NewString(),
		OrgID:               orgID,
		AgentID:             agentID,
		ExecutionID:         executionID,
		TokensUsed:          tokensUsed,
		ToolInvocations:     toolInvocations,
		ExecutionDurationMS: durationMS,
		ToolName:            toolName,
		Timestamp:           time.Now().UTC(),
	}
	if err := s.putRaw(ctx, s.usage, report.ReportID, report); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var agentRemaining int64

	agentBudget, _ := s.getRaw(ctx, s.budgets, agentKey(orgID, agentID))
	if agentBudget != nil {
		agentBudget.TokensUsed += tokensUsed
		agentBudget.ToolInvocations += toolInvocations
		if err := s.putRaw(ctx, s.budgets, agentKey(orgID, agentID), agentBudget); err != nil {
			return 0, err
		}
		agentRemaining = agentBudget.TokensRemaining()
	}

	orgBudget, _ := s.getRaw(ctx, s.budgets, orgKey(orgID))
	if orgBudget != nil {
		orgBudget.TokensUsed += tokensUsed
		orgBudget.ToolInvocations += toolInvocations
		if err := s.putRaw(ctx, s.budgets, orgKey(orgID), orgBudget); err != nil {
			return 0, err
		}
	}

	return agentRemaining, nil
}

// GetUsage filters the UsageReport collection with inclusive time bounds
// and returns a summary, resolving spec.md §9 Open Question (c) toward
// inclusive bounds.
func (s *Service) GetUsage(ctx context.Context, q types.UsageQuery) (*types.UsageSummary, error) {
	raw, err := s.usage.List(ctx, "")
	if err != nil {
		return nil, err
	}

	summary := &types.UsageSummary{OrgID: q.OrgID, AgentID: q.AgentID}
	for _, data := range raw {
		var r types.UsageReport
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, &agerrors.StoreReadError{Cause: err}
		}
		if !matchesUsage(r, q) {
			continue
		}
		summary.TotalTokens += r.TokensUsed
		summary.TotalToolInvocations += r.ToolInvocations
		summary.TotalExecutionDurationMS += r.ExecutionDurationMS
		summary.ReportCount++
	}
	return summary, nil
}

func matchesUsage(r types.UsageReport, q types.UsageQuery) bool {
	if q.OrgID != "" && r.OrgID != q.OrgID {
		return false
	}
	if q.AgentID != "" && r.AgentID != q.AgentID {
		return false
	}
	if q.StartTime != nil && r.Timestamp.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && r.Timestamp.After(*q.EndTime) {
		return false
	}
	return true
}

func (s *Service) getRaw(ctx context.Context, st store.Store, key string) (*types.Budget, error) {
	data, found, err := st.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, agerrors.ErrBudgetNotFound
	}
	var b types.Budget
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, &agerrors.StoreReadError{Cause: err}
	}
	return &b, nil
}

func (s *Service) putRaw(ctx context.Context, st store.Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &agerrors.StoreWriteError{Cause: err}
	}
	return st.Put(ctx, key, data)
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
