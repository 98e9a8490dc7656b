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

// AgentRole classifies the kind of work an agent is registered to perform.
type AgentRole string

const (
	RoleExecutor AgentRole = "executor"
	RolePlanner  AgentRole = "planner"
	RoleReviewer AgentRole = "reviewer"
	RoleAdmin    AgentRole = "admin"
)

// IsValid reports whether r is one of the known roles.
func (r AgentRole) IsValid() bool {
	switch r {
	case RoleExecutor, RolePlanner, RoleReviewer, RoleAdmin:
		return true
	}
	return false
}

// Organization is the top-level owner of agents, policies, and budgets.
type Organization struct {
	OrgID     string                 `json:"org_id"`
	Name      string                 `json:"name"`
	CreatedAt time.Time              `json:"created_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// AgentIdentity is a non-human principal registered under an Organization,
// optionally acting on behalf of a delegated human user.
type AgentIdentity struct {
	AgentID          string                 `json:"agent_id"`
	OrgID            string                 `json:"org_id"`
	Name             string                 `json:"name"`
	Role             AgentRole              `json:"role"`
	DelegatedUserID  string                 `json:"delegated_user_id,omitempty"`
	TokenClaims      map[string]interface{} `json:"token_claims,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	Active           bool                   `json:"active"`
}
