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

// AuditAction classifies what an AuditEntry is recording.
type AuditAction string

const (
	ActionExecutionComplete AuditAction = "execution_complete"
	ActionToolCall          AuditAction = "tool_call"
	ActionPolicyCheck       AuditAction = "policy_check"
)

// AuditResult is the outcome recorded by an AuditEntry.
type AuditResult string

const (
	ResultAllowed  AuditResult = "allowed"
	ResultDenied   AuditResult = "denied"
	ResultExecuted AuditResult = "executed"
	ResultFailed   AuditResult = "failed"
)

// AuditEntry is one immutable record in the append-only audit log.
// Parameters holds type tags only ("string", "int", "bool", ...) keyed
// by parameter name; raw values are never persisted here.
type AuditEntry struct {
	EntryID         string            `json:"entry_id"`
	OrgID           string            `json:"org_id"`
	AgentID         string            `json:"agent_id"`
	DelegatedUserID string            `json:"delegated_user_id,omitempty"`
	ExecutionID     string            `json:"execution_id"`
	Action          AuditAction       `json:"action"`
	ToolName        string            `json:"tool_name,omitempty"`
	Parameters      map[string]string `json:"parameters,omitempty"`
	Result          AuditResult       `json:"result"`
	Reason          string            `json:"reason,omitempty"`
	LatencyMS       int64             `json:"latency_ms"`
	TokensUsed      int64             `json:"tokens_used"`
	Timestamp       time.Time         `json:"timestamp"`
}

// AuditQuery filters the audit log. Zero-value fields are unconstrained.
type AuditQuery struct {
	OrgID       string
	AgentID     string
	ExecutionID string
	Action      AuditAction
	Limit       int
}

// RedactParameters converts a raw parameter map into a type-tag-only map
// suitable for audit storage: values are replaced by a coarse type tag
// ("null", "string", "bool", "int", "float", "array", "object" or
// "unknown").
func RedactParameters(params map[string]interface{}) map[string]string {
	if len(params) == 0 {
		return nil
	}
	tagged := make(map[string]string, len(params))
	for k, v := range params {
		tagged[k] = typeTag(v)
	}
	return tagged
}

func typeTag(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int32, int64:
		return "int"
	case float32, float64:
		return "float"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return "unknown"
	}
}
