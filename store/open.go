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

package store

import (
	"context"
	"strings"

	agerrors "agentgov/shared/errors"
)

// Open selects a Store implementation from a DATABASE_URL-style
// connection string, one instance per named logical collection (table).
// An empty databaseURL yields an in-memory Store, matching spec.md §6's
// "absent ⇒ in-memory" rule.
func Open(ctx context.Context, databaseURL, table string) (Store, error) {
	if databaseURL == "" {
		return NewInMemoryStore(), nil
	}
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return NewPostgresStore(ctx, databaseURL, table)
	case strings.HasPrefix(databaseURL, "mysql://"):
		return NewMySQLStore(ctx, strings.TrimPrefix(databaseURL, "mysql://"), table)
	case strings.HasPrefix(databaseURL, "mongodb://"), strings.HasPrefix(databaseURL, "mongodb+srv://"):
		return NewMongoStore(ctx, databaseURL, "agentgov", table)
	default:
		return nil, &agerrors.ConfigurationError{Reason: "unsupported DATABASE_URL scheme"}
	}
}
