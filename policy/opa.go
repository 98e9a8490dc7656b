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

package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	agerrors "agentgov/shared/errors"
	"agentgov/shared/types"
)

// OPAAdapter is the optional external-dispatch ExternalEngine: it
// serializes the effective policy into Rego once per mutation, pushes it
// to a remote OPA-compatible endpoint, and forwards evaluation requests.
// A circuit breaker protects the proxy's hot path from a wedged remote
// engine: after failureThreshold consecutive failures the circuit opens
// and fails fast for resetTimeout; the first call after the timeout is a
// half-open probe.
type OPAAdapter struct {
	baseURL          string
	httpClient       *http.Client
	failureThreshold int
	resetTimeout     time.Duration

	mu              sync.Mutex
	failureCount    int
	circuitOpenUntil time.Time
}

// NewOPAAdapter builds an adapter pointed at baseURL (expected to expose
// PUT /v1/policies/{module} and POST /v1/data/agentgov/allow, matching
// OPA's conventional REST API; module is the name policyModuleName builds
// from the org_id and, for an overlay, the agent_id).
func NewOPAAdapter(baseURL string, failureThreshold int, resetTimeout time.Duration) *OPAAdapter {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &OPAAdapter{
		baseURL:          strings.TrimSuffix(baseURL, "/"),
		httpClient:       &http.Client{Timeout: 5 * time.Second},
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
	}
}

// checkCircuit reports whether a call may proceed, and whether this call
// is the half-open probe.
func (a *OPAAdapter) checkCircuit() (allowed bool, probe bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.circuitOpenUntil.IsZero() {
		return true, false
	}
	if time.Now().Before(a.circuitOpenUntil) {
		return false, false
	}
	// Timeout elapsed: allow exactly one half-open probe through. The open
	// window is re-armed so other callers keep failing fast until the
	// probe's outcome is recorded.
	a.circuitOpenUntil = time.Now().Add(a.resetTimeout)
	return true, true
}

func (a *OPAAdapter) recordFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failureCount++
	if a.failureCount >= a.failureThreshold {
		a.circuitOpenUntil = time.Now().Add(a.resetTimeout)
	}
}

func (a *OPAAdapter) recordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failureCount = 0
	a.circuitOpenUntil = time.Time{}
}

// Push serializes policy to Rego and uploads it to the remote engine.
func (a *OPAAdapter) Push(ctx context.Context, p types.Policy) error {
	if allowed, _ := a.checkCircuit(); !allowed {
		return &agerrors.ServiceUnavailableError{Service: "opa", Reason: "circuit open"}
	}

	rego := PolicyToRego(p)
	url := fmt.Sprintf("%s/v1/policies/%s", a.baseURL, policyModuleName(p))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, strings.NewReader(rego))
	if err != nil {
		a.recordFailure()
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.recordFailure()
		return &agerrors.ServiceUnavailableError{Service: "opa", Reason: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		a.recordFailure()
		return &agerrors.ServiceUnavailableError{Service: "opa", Reason: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}
	a.recordSuccess()
	return nil
}

// opaEvalRequest/opaEvalResponse mirror OPA's data API envelope.
type opaEvalRequest struct {
	Input map[string]interface{} `json:"input"`
}

type opaEvalResponse struct {
	Result bool `json:"result"`
}

// Evaluate forwards an evaluation request to the remote engine.
func (a *OPAAdapter) Evaluate(ctx context.Context, orgID, agentID, toolName string, estimatedTokens int64, reqCtx map[string]interface{}) (types.PolicyDecision, error) {
	allowed, _ := a.checkCircuit()
	if !allowed {
		return types.PolicyDecision{}, &agerrors.ServiceUnavailableError{Service: "opa", Reason: "circuit open"}
	}

	body, _ := json.Marshal(opaEvalRequest{Input: map[string]interface{}{
		"org_id":           orgID,
		"agent_id":         agentID,
		"tool_name":        toolName,
		"estimated_tokens": estimatedTokens,
		"context":          reqCtx,
	}})

	url := fmt.Sprintf("%s/v1/data/agentgov/allow", a.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		a.recordFailure()
		return types.PolicyDecision{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.recordFailure()
		return types.PolicyDecision{}, &agerrors.ServiceUnavailableError{Service: "opa", Reason: err.Error()}
	}
	defer resp.Body.Close()

	var out opaEvalResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		a.recordFailure()
		return types.PolicyDecision{}, &agerrors.ServiceUnavailableError{Service: "opa", Reason: "malformed response"}
	}

	a.recordSuccess()

	reason := "default deny"
	if out.Result {
		reason = "opa allow"
	}
	return types.PolicyDecision{Allowed: out.Result, Reason: reason, EvaluatedAt: time.Now().UTC()}, nil
}

func policyModuleName(p types.Policy) string {
	if p.AgentID == "" {
		return p.OrgID + "_org"
	}
	return p.OrgID + "_agent_" + p.AgentID
}

// PolicyToRego renders a Policy as a standalone Rego module implementing
// the same deny-wins, wildcard-fallback evaluation as evaluateLocal, so a
// remote OPA instance enforces identical semantics to the local engine.
func PolicyToRego(p types.Policy) string {
	var b strings.Builder
	fmt.Fprintf(&b, "package agentgov\n\n")
	fmt.Fprintf(&b, "default allow = false\n\n")
	fmt.Fprintf(&b, "token_limit := %d\n\n", p.TokenLimit)

	for _, t := range p.Tools {
		if t.Effect == types.EffectDeny {
			fmt.Fprintf(&b, "deny_tool[%q]\n", t.ToolName)
		}
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "allow {\n")
	fmt.Fprintf(&b, "    input.estimated_tokens <= token_limit\n")
	fmt.Fprintf(&b, "    not deny_tool[input.tool_name]\n")
	fmt.Fprintf(&b, "    allowed_tool[input.tool_name]\n")
	fmt.Fprintf(&b, "}\n\n")

	for _, t := range p.Tools {
		if t.Effect == types.EffectAllow {
			fmt.Fprintf(&b, "allowed_tool[%q]\n", t.ToolName)
		}
	}
	hasWildcard := false
	for _, t := range p.Tools {
		if t.ToolName == "*" && t.Effect == types.EffectAllow {
			hasWildcard = true
		}
	}
	if hasWildcard {
		fmt.Fprintf(&b, "allowed_tool[input.tool_name] {\n    not deny_tool[input.tool_name]\n}\n")
	}
	return b.String()
}
