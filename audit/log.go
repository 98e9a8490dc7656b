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

// Package audit implements the bounded, append-only audit log every
// policy/budget decision and tool call is recorded into.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentgov/shared/logger"
	"agentgov/shared/types"
)

// Archiver is an optional best-effort export target for entries evicted
// from the in-memory FIFO. Export failures are logged, never fatal — the
// archiver is not a durability guarantee (spec.md Non-goals).
type Archiver interface {
	Archive(ctx context.Context, entry types.AuditEntry) error
}

// Log is a bounded, thread-safe, append-only FIFO of AuditEntry values.
// When full, appends evict the oldest entry rather than failing.
type Log struct {
	mu       sync.Mutex
	entries  []types.AuditEntry
	maxSize  int
	lifetime uint64
	archiver Archiver
	log      *logger.Logger
}

// New returns an audit Log bounded to maxSize live entries. maxSize <= 0
// is treated as 1 to keep the FIFO meaningful.
func New(maxSize int, archiver Archiver) *Log {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Log{
		maxSize:  maxSize,
		archiver: archiver,
		log:      logger.New("audit"),
	}
}

// Append records entry as given, assigning an EntryID/Timestamp if not
// already set. It performs no redaction itself: entry.Parameters is
// map[string]string, and callers (the mcpproxy pipeline) are expected to
// have already reduced raw parameter values to type tags via
// types.RedactParameters before calling Append. When the log is full the
// oldest entry is evicted and, if an archiver is configured, handed off
// for best-effort export.
func (l *Log) Append(ctx context.Context, entry types.AuditEntry) types.AuditEntry {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	var evicted *types.AuditEntry
	if len(l.entries) >= l.maxSize {
		ev := l.entries[0]
		evicted = &ev
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, entry)
	l.lifetime++
	l.mu.Unlock()

	if evicted != nil && l.archiver != nil {
		if err := l.archiver.Archive(ctx, *evicted); err != nil {
			l.log.Warn(evicted.OrgID, evicted.ExecutionID, "audit entry archive failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	return entry
}

// Size returns the number of entries currently held.
func (l *Log) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// LifetimeCount returns the monotonic count of entries ever appended,
// including those since evicted.
func (l *Log) LifetimeCount() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lifetime
}

// Query returns entries matching every non-zero field of q, newest-first,
// capped at q.Limit (0 means unlimited).
func (l *Log) Query(q types.AuditQuery) []types.AuditEntry {
	l.mu.Lock()
	snapshot := make([]types.AuditEntry, len(l.entries))
	copy(snapshot, l.entries)
	l.mu.Unlock()

	out := make([]types.AuditEntry, 0)
	for i := len(snapshot) - 1; i >= 0; i-- {
		e := snapshot[i]
		if !matches(e, q) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out
}

// DelegationChain returns every entry for executionID in append order
// (oldest-first), preserving causality within a single execution.
func (l *Log) DelegationChain(executionID string) []types.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.AuditEntry, 0)
	for _, e := range l.entries {
		if e.ExecutionID == executionID {
			out = append(out, e)
		}
	}
	return out
}

func matches(e types.AuditEntry, q types.AuditQuery) bool {
	if q.OrgID != "" && e.OrgID != q.OrgID {
		return false
	}
	if q.AgentID != "" && e.AgentID != q.AgentID {
		return false
	}
	if q.ExecutionID != "" && e.ExecutionID != q.ExecutionID {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	return true
}
