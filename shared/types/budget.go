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

package types

import "time"

// Budget is a token/invocation cap for an organization (AgentID == "") or
// a single agent within it (AgentID != "").
type Budget struct {
	BudgetID        string    `json:"budget_id"`
	OrgID           string    `json:"org_id"`
	AgentID         string    `json:"agent_id,omitempty"`
	TokenLimit      int64     `json:"token_limit"`
	TokensUsed      int64     `json:"tokens_used"`
	ToolInvocations int64     `json:"tool_invocations"`
	ResetPeriodDays int       `json:"reset_period_days"`
	CreatedAt       time.Time `json:"created_at"`
	LastResetAt     time.Time `json:"last_reset_at"`
}

// TokensRemaining is never negative.
func (b *Budget) TokensRemaining() int64 {
	r := b.TokenLimit - b.TokensUsed
	if r < 0 {
		return 0
	}
	return r
}

// IsExhausted reports whether usage has reached or passed the limit.
func (b *Budget) IsExhausted() bool {
	return b.TokensUsed >= b.TokenLimit
}

// UsageReport is an immutable record of a single execution's consumption.
type UsageReport struct {
	ReportID             string    `json:"report_id"`
	OrgID                string    `json:"org_id"`
	AgentID              string    `json:"agent_id"`
	ExecutionID          string    `json:"execution_id"`
	TokensUsed           int64     `json:"tokens_used"`
	ToolInvocations      int64     `json:"tool_invocations"`
	ExecutionDurationMS  int64     `json:"execution_duration_ms"`
	ToolName             string    `json:"tool_name,omitempty"`
	Timestamp            time.Time `json:"timestamp"`
}

// UsageQuery filters the UsageReport collection. Nil time bounds are
// unconstrained; non-nil bounds are inclusive.
type UsageQuery struct {
	OrgID     string
	AgentID   string
	StartTime *time.Time
	EndTime   *time.Time
}

// UsageSummary aggregates a filtered set of UsageReports.
type UsageSummary struct {
	OrgID                    string `json:"org_id"`
	AgentID                  string `json:"agent_id,omitempty"`
	TotalTokens              int64  `json:"total_tokens"`
	TotalToolInvocations     int64  `json:"total_tool_invocations"`
	TotalExecutionDurationMS int64  `json:"total_execution_duration_ms"`
	ReportCount              int    `json:"report_count"`
}
