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

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is the MySQL-backed variant of the same (key, data,
// created_at, updated_at) schema, selected when DATABASE_URL uses the
// mysql:// scheme.
type MySQLStore struct {
	db    *sql.DB
	table string
}

// NewMySQLStore opens a connection pool against dsn (driver-native DSN,
// without the mysql:// scheme prefix) and ensures the named table exists.
func NewMySQLStore(ctx context.Context, dsn, table string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, wrapWrite(err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := db.PingContext(ctx); err != nil {
		return nil, wrapWrite(err)
	}

	s := &MySQLStore{db: db, table: table}
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) ensureTable(ctx context.Context) error {
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s ("+
		"`key` VARCHAR(255) PRIMARY KEY, "+
		"data JSON NOT NULL, "+
		"created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP, "+
		"updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP)", s.table)
	_, err := s.db.ExecContext(ctx, stmt)
	return wrapWrite(err)
}

func (s *MySQLStore) Put(ctx context.Context, key string, value []byte) error {
	stmt := fmt.Sprintf("INSERT INTO %s (`key`, data) VALUES (?, ?) "+
		"ON DUPLICATE KEY UPDATE data = VALUES(data)", s.table)
	_, err := s.db.ExecContext(ctx, stmt, key, value)
	return wrapWrite(err)
}

func (s *MySQLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	stmt := fmt.Sprintf("SELECT data FROM %s WHERE `key` = ?", s.table)
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

func (s *MySQLStore) List(ctx context.Context, prefix string) ([][]byte, error) {
	stmt := fmt.Sprintf("SELECT data FROM %s WHERE `key` LIKE ? ORDER BY created_at ASC", s.table)
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

func (s *MySQLStore) Delete(ctx context.Context, key string) (bool, error) {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE `key` = ?", s.table)
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

func (s *MySQLStore) Exists(ctx context.Context, key string) (bool, error) {
	stmt := fmt.Sprintf("SELECT 1 FROM %s WHERE `key` = ?", s.table)
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
func (s *MySQLStore) Close() error { return s.db.Close() }
