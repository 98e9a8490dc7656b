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

// ExecutionRequest is the task envelope handed to the execution runtime.
type ExecutionRequest struct {
	AgentID     string                 `json:"agent_id"`
	OrgID       string                 `json:"org_id"`
	Task        string                 `json:"task"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// ToolCallOutcome records the result of a single tool call made during an
// execution, as reported back to the caller of the runtime.
type ToolCallOutcome struct {
	ToolName  string `json:"tool_name"`
	Success   bool   `json:"success"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// ExecutionResponse is the result of a completed (or failed) execution.
type ExecutionResponse struct {
	ExecutionID string            `json:"execution_id"`
	AgentID     string            `json:"agent_id"`
	OrgID       string            `json:"org_id"`
	Result      string            `json:"result,omitempty"`
	TokensUsed  int64             `json:"tokens_used"`
	ToolCalls   []ToolCallOutcome `json:"tool_calls,omitempty"`
	DurationMS  int64             `json:"duration_ms"`
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
	ErrorType   string            `json:"error_type,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}

// ToolCallRequest is handed to the MCP authorization proxy for a single
// tool invocation.
type ToolCallRequest struct {
	AgentID         string                 `json:"agent_id"`
	OrgID           string                 `json:"org_id"`
	DelegatedUserID string                 `json:"delegated_user_id,omitempty"`
	ExecutionID     string                 `json:"execution_id"`
	ToolName        string                 `json:"tool_name"`
	Parameters      map[string]interface{} `json:"parameters,omitempty"`
	EstimatedTokens int64                  `json:"estimated_tokens,omitempty"`
}

// ToolCallResult is the outcome of MCPAuthorizationProxy.Execute.
type ToolCallResult struct {
	Success     bool        `json:"success"`
	Result      interface{} `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	ErrorType   string      `json:"error_type,omitempty"`
	TokensUsed  int64       `json:"tokens_used"`
	LatencyMS   int64       `json:"latency_ms"`
	AuditEntry  *AuditEntry `json:"audit_entry,omitempty"`
}
