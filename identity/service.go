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

// Package identity implements AgentIdentity registration, lookup, and
// activation-state management.
package identity

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

// OrgChecker is the minimal capability identity needs from orgs.Service:
// confirming an org_id exists before an agent can be registered under it.
type OrgChecker interface {
	Exists(ctx context.Context, orgID string) (bool, error)
}

// Service owns AgentIdentity lifecycle, keyed "<org_id>:<agent_id>".
type Service struct {
	store store.Store
	orgs  OrgChecker
	log   *logger.Logger
}

// New wires a Service against backing and an OrgChecker used to enforce
// the "org must exist before agents are registered under it" invariant.
func New(backing store.Store, orgs OrgChecker) *Service {
	return &Service{store: backing, orgs: orgs, log: logger.New("identity")}
}

func key(orgID, agentID string) string { return orgID + ":" + agentID }

// Register validates and persists a new AgentIdentity. It fails with
// ErrOrgNotFound if org_id does not reference a registered organization.
func (s *Service) Register(ctx context.Context, orgID, name string, role types.AgentRole, delegatedUserID string) (*types.AgentIdentity, error) {
	if err := validate.ID("org_id", orgID); err != nil {
		return nil, err
	}
	if err := validate.Name("name", name); err != nil {
		return nil, err
	}
	if !role.IsValid() {
		return nil, &agerrors.ConfigurationError{Reason: "invalid agent role: " + string(role)}
	}
	exists, err := s.orgs.Exists(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, agerrors.ErrOrgNotFound
	}

	agent := &types.AgentIdentity{
		AgentID:         uuid.NewString(),
		OrgID:           orgID,
		Name:            name,
		Role:            role,
		DelegatedUserID: delegatedUserID,
		CreatedAt:       time.Now().UTC(),
		Active:          true,
	}
	data, err := json.Marshal(agent)
	if err != nil {
		return nil, &agerrors.StoreWriteError{Cause: err}
	}
	if err := s.store.Put(ctx, key(orgID, agent.AgentID), data); err != nil {
		return nil, err
	}
	s.log.Info(orgID, "", "agent registered", map[string]interface{}{"agent_id": agent.AgentID, "role": string(role)})
	return agent, nil
}

// Get returns an agent by (org_id, agent_id).
func (s *Service) Get(ctx context.Context, orgID, agentID string) (*types.AgentIdentity, error) {
	data, found, err := s.store.Get(ctx, key(orgID, agentID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, agerrors.ErrAgentNotFound
	}
	return decode(data)
}

// GetByID performs a cross-org lookup by agent id alone, used by the
// execution runtime as a resilience fallback when the caller's claimed
// org_id cannot immediately be confirmed. Callers that need the ownership
// guarantee must still prefer Get(org_id, agent_id).
func (s *Service) GetByID(ctx context.Context, agentID string) (*types.AgentIdentity, error) {
	all, err := s.store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, data := range all {
		agent, err := decode(data)
		if err != nil {
			return nil, err
		}
		if agent.AgentID == agentID {
			return agent, nil
		}
	}
	return nil, agerrors.ErrAgentNotFound
}

// List returns every agent registered under orgID, in creation order.
func (s *Service) List(ctx context.Context, orgID string) ([]types.AgentIdentity, error) {
	raw, err := s.store.List(ctx, orgID+":")
	if err != nil {
		return nil, err
	}
	out := make([]types.AgentIdentity, 0, len(raw))
	for _, data := range raw {
		agent, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, *agent)
	}
	return out, nil
}

// Deactivate is the one-way active->inactive transition the runtime
// observes on every execution.
func (s *Service) Deactivate(ctx context.Context, orgID, agentID string) error {
	agent, err := s.Get(ctx, orgID, agentID)
	if err != nil {
		return err
	}
	agent.Active = false
	data, err := json.Marshal(agent)
	if err != nil {
		return &agerrors.StoreWriteError{Cause: err}
	}
	if err := s.store.Put(ctx, key(orgID, agentID), data); err != nil {
		return err
	}
	s.log.Info(orgID, "", "agent deactivated", map[string]interface{}{"agent_id": agentID})
	return nil
}

// IsActive reports an agent's current activation state.
func (s *Service) IsActive(ctx context.Context, orgID, agentID string) (bool, error) {
	agent, err := s.Get(ctx, orgID, agentID)
	if err != nil {
		return false, err
	}
	return agent.Active, nil
}

func decode(data []byte) (*types.AgentIdentity, error) {
	var agent types.AgentIdentity
	if err := json.Unmarshal(data, &agent); err != nil {
		return nil, &agerrors.StoreReadError{Cause: err}
	}
	return &agent, nil
}
