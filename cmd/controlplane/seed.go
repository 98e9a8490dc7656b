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

package main

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"agentgov/budget"
	"agentgov/identity"
	"agentgov/orgs"
	"agentgov/policy"
	"agentgov/shared/types"
)

// seedFile is the optional -seed document shape: a small set of
// organizations, each with an optional baseline policy/budget and a list
// of agents with their own optional overlay policy/budget.
type seedFile struct {
	Organizations []seedOrg `yaml:"organizations"`
}

type seedOrg struct {
	Name   string      `yaml:"name"`
	Policy *seedPolicy `yaml:"policy"`
	Budget *seedBudget `yaml:"budget"`
	Agents []seedAgent `yaml:"agents"`
}

type seedAgent struct {
	Name   string      `yaml:"name"`
	Role   string      `yaml:"role"`
	Policy *seedPolicy `yaml:"policy"`
	Budget *seedBudget `yaml:"budget"`
}

type seedPolicy struct {
	Tools                   []types.ToolPermission `yaml:"tools"`
	TokenLimit              int64                  `yaml:"token_limit"`
	ExecutionTimeoutSeconds int                    `yaml:"execution_timeout_seconds"`
}

type seedBudget struct {
	TokenLimit      int64 `yaml:"token_limit"`
	ResetPeriodDays int   `yaml:"reset_period_days"`
}

// loadSeed reads path as YAML and applies it against the already-wired
// services, in dependency order: org, then org policy/budget, then each
// agent and its overlay policy/budget.
func loadSeed(ctx context.Context, path string, orgSvc *orgs.Service, agentSvc *identity.Service, policySvc *policy.Service, budgetSvc *budget.Service) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var doc seedFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	for _, so := range doc.Organizations {
		org, err := orgSvc.Create(ctx, so.Name, nil)
		if err != nil {
			return fmt.Errorf("seed org %s: %w", so.Name, err)
		}
		if so.Policy != nil {
			if _, err := policySvc.SetPolicy(ctx, org.OrgID, "", so.Policy.Tools, so.Policy.TokenLimit, so.Policy.ExecutionTimeoutSeconds); err != nil {
				return fmt.Errorf("seed org policy %s: %w", so.Name, err)
			}
		}
		if so.Budget != nil {
			if _, err := budgetSvc.SetBudget(ctx, org.OrgID, "", so.Budget.TokenLimit, so.Budget.ResetPeriodDays); err != nil {
				return fmt.Errorf("seed org budget %s: %w", so.Name, err)
			}
		}
		for _, sa := range so.Agents {
			agent, err := agentSvc.Register(ctx, org.OrgID, sa.Name, types.AgentRole(sa.Role), "")
			if err != nil {
				return fmt.Errorf("seed agent %s/%s: %w", so.Name, sa.Name, err)
			}
			if sa.Policy != nil {
				if _, err := policySvc.SetPolicy(ctx, org.OrgID, agent.AgentID, sa.Policy.Tools, sa.Policy.TokenLimit, sa.Policy.ExecutionTimeoutSeconds); err != nil {
					return fmt.Errorf("seed agent policy %s/%s: %w", so.Name, sa.Name, err)
				}
			}
			if sa.Budget != nil {
				if _, err := budgetSvc.SetBudget(ctx, org.OrgID, agent.AgentID, sa.Budget.TokenLimit, sa.Budget.ResetPeriodDays); err != nil {
					return fmt.Errorf("seed agent budget %s/%s: %w", so.Name, sa.Name, err)
				}
			}
		}
	}
	return nil
}
