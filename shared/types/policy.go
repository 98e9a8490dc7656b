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

// PolicyEffect is the outcome a ToolPermission grants for its tool.
type PolicyEffect string

const (
	EffectAllow PolicyEffect = "allow"
	EffectDeny  PolicyEffect = "deny"
)

// IsValid reports whether e is "allow" or "deny".
func (e PolicyEffect) IsValid() bool {
	return e == EffectAllow || e == EffectDeny
}

// ToolPermission grants or denies a single tool name. ParametersConstraint
// is an optional, string-keyed constraint map checked against a tool call's
// parameters after the allow/deny decision and before handler invocation.
type ToolPermission struct {
	ToolName             string                 `json:"tool_name"`
	Effect               PolicyEffect           `json:"effect"`
	ParametersConstraint map[string]interface{} `json:"parameters_constraint,omitempty"`
}

// Policy is either an organization baseline (AgentID == "") or an
// agent-scoped overlay (AgentID != "").
type Policy struct {
	PolicyID               string           `json:"policy_id"`
	OrgID                  string           `json:"org_id"`
	AgentID                string           `json:"agent_id,omitempty"`
	Tools                  []ToolPermission `json:"tools"`
	TokenLimit             int64            `json:"token_limit"`
	ExecutionTimeoutSeconds int             `json:"execution_timeout_seconds"`
	CreatedAt              time.Time        `json:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at"`
}

// IsOrgBaseline reports whether this policy is the organization-wide
// baseline rather than an agent overlay.
func (p *Policy) IsOrgBaseline() bool {
	return p.AgentID == ""
}

// PolicyDecision is the transient outcome of a single evaluation.
type PolicyDecision struct {
	Allowed         bool      `json:"allowed"`
	Reason          string    `json:"reason"`
	MatchedPolicyID string    `json:"matched_policy_id,omitempty"`
	EvaluatedAt     time.Time `json:"evaluated_at"`

	// ParametersConstraint carries the matched ToolPermission's
	// per-parameter constraint map forward from evaluation to the proxy,
	// which enforces it after the allow decision and before the handler
	// runs. Only populated for an exact tool-name match, not a wildcard.
	ParametersConstraint map[string]interface{} `json:"-"`
}
