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

// Package orgs implements organization CRUD on top of the Store
// abstraction; organizations own agents, policies, and budgets through
// their org_id.
package orgs

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

// Service owns organization lifecycle. It holds no state of its own;
// the injected Store handles synchronization.
type Service struct {
	store store.Store
	log   *logger.Logger
}

// New wires a Service against backing.
func New(backing store.Store) *Service {
	return &Service{store: backing, log: logger.New("orgs")}
}

// Create validates and persists a new Organization under a freshly
// generated org_id.
func (s *Service) Create(ctx context.Context, name string, metadata map[string]interface{}) (*types.Organization, error) {
	if err := validate.Name("name", name); err != nil {
		return nil, err
	}
	org := &types.Organization{
		OrgID:     uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}
	data, err := json.Marshal(org)
	if err != nil {
		return nil, &agerrors.StoreWriteError{Cause: err}
	}
	if err := s.store.Put(ctx, org.OrgID, data); err != nil {
		return nil, err
	}
	s.log.Info(org.OrgID, "", "organization created", map[string]interface{}{"name": name})
	return org, nil
}

// Get returns an Organization by id, or ErrOrgNotFound.
func (s *Service) Get(ctx context.Context, orgID string) (*types.Organization, error) {
	data, found, err := s.store.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, agerrors.ErrOrgNotFound
	}
	var org types.Organization
	if err := json.Unmarshal(data, &org); err != nil {
		return nil, &agerrors.StoreReadError{Cause: err}
	}
	return &org, nil
}

// Exists reports whether orgID is a registered organization. The agent
// registration path (identity.Service.Register) uses this to enforce
// "org must exist before agents are registered under it".
func (s *Service) Exists(ctx context.Context, orgID string) (bool, error) {
	return s.store.Exists(ctx, orgID)
}

// List returns every organization, ordered by creation time (the Store's
// insertion order).
func (s *Service) List(ctx context.Context) ([]types.Organization, error) {
	raw, err := s.store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]types.Organization, 0, len(raw))
	for _, data := range raw {
		var org types.Organization
		if err := json.Unmarshal(data, &org); err != nil {
			return nil, &agerrors.StoreReadError{Cause: err}
		}
		out = append(out, org)
	}
	return out, nil
}

// Delete removes an organization. It does not cascade to agents, policies,
// or budgets scoped under it — those are independent Store collections,
// left to the caller (or an operator CLI) to clean up explicitly.
func (s *Service) Delete(ctx context.Context, orgID string) error {
	deleted, err := s.store.Delete(ctx, orgID)
	if err != nil {
		return err
	}
	if !deleted {
		return agerrors.ErrOrgNotFound
	}
	s.log.Info(orgID, "", "organization deleted", nil)
	return nil
}
