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

/*
Package types provides the shared data models used across the agent
governance control plane: organizations, agent identities, policies,
budgets, usage reports, scoped tokens, audit entries, and the execution
envelope.

These are plain structs with JSON tags; persistence, validation, and
business rules live in the packages that own each entity (policy,
budget, token, audit, store).
*/
package types
