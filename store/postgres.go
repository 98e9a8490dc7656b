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
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore persists one logical collection as a single table of
// (key TEXT PRIMARY KEY, data JSONB, created_at, updated_at), the
// relational schema spec.md §6 requires. table must be a fixed,
// non-user-supplied identifier chosen by the caller at wiring time.
type PostgresStore struct {
	db    *sql.DB
	table string
}

// NewPostgresStore opens a connection pool against connURL and ensures the
// named table exists, following the teacher's postgres connector's pool
// sizing convention.
func NewPostgresStore(ctx context.Context, connURL, table string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connURL)
	if err != nil {
		return nil, wrapWrite(err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := db.PingContext(ctx); err != nil {
		return nil, wrapWrite(err)
	}

	s := &PostgresStore{db: db, table: table}
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureTable(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		data JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`, s.table)
	_, err := s.db.ExecContext(ctx, stmt)
	return wrapWrite(err)
}

func (s *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (key, data, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`, s.table)
	_, err := s.db.ExecContext(ctx, stmt, key, value)
	return wrapWrite(err)
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	stmt := fmt.Sprintf(`SELECT data FROM %s WHERE key = $1`, s.table)
	var data []byte
	err := s.db.QueryRowContext(ctx, stmt, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapRead(err)
	}
	return data, true, nil
}

func (s *PostgresStore) List(ctx context.Context, prefix string) ([][]byte, error) {
	stmt := fmt.Sprintf(`SELECT data FROM %s WHERE key LIKE $1 ORDER BY created_at ASC`, s.table)
	rows, err := s.db.QueryContext(ctx, stmt, prefix+"%")
	if err != nil {
		return nil, wrapRead(err)
	}
	defer rows.Close()

	out := make([][]byte, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, wrapRead(err)
		}
		out = append(out, data)
	}
	return out, wrapRead(rows.Err())
}

func (s *PostgresStore) Delete(ctx context.Context, key string) (bool, error) {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table)
	res, err := s.db.ExecContext(ctx, stmt, key)
	if err != nil {
		return false, wrapWrite(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapWrite(err)
	}
	return n > 0, nil
}

func (s *PostgresStore) Exists(ctx context.Context, key string) (bool, error) {
	stmt := fmt.Sprintf(`SELECT 1 FROM %s WHERE key = $1`, s.table)
	var dummy int
	err := s.db.QueryRowContext(ctx, stmt, key).Scan(&dummy)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, wrapRead(err)
	}
	return true, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }
