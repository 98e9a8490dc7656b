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

// Package validate holds the name/id/tool-name/URL validators shared by
// the control-plane write boundary (orgs, identity, policy).
package validate

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
)

var (
	namePattern     = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9\-_. ]{0,127}$`)
	toolNamePattern = regexp.MustCompile(`^(\*|[A-Za-z][A-Za-z0-9_]{0,63})$`)
)

const maxTokenLimit = 100_000_000

// Error reports which field failed validation and why.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Message) }

func fail(field, message string) error { return &Error{Field: field, Message: message} }

// Name validates a display name (organization or agent name).
func Name(field, value string) error {
	if !namePattern.MatchString(value) {
		return fail(field, "must match "+namePattern.String())
	}
	return nil
}

// ID validates a non-empty opaque identifier.
func ID(field, value string) error {
	if value == "" {
		return fail(field, "must not be empty")
	}
	return nil
}

// ToolName validates a ToolPermission.tool_name: an identifier matching
// [A-Za-z][A-Za-z0-9_]{0,63} or the literal wildcard "*".
func ToolName(value string) error {
	if !toolNamePattern.MatchString(value) {
		return fail("tool_name", "must be \"*\" or match [A-Za-z][A-Za-z0-9_]{0,63}")
	}
	return nil
}

// TokenLimit validates a policy/budget token limit: 0 is rejected,
// 10^8 is the maximum accepted value.
func TokenLimit(value int64) error {
	if value <= 0 {
		return fail("token_limit", "must be greater than 0")
	}
	if value > maxTokenLimit {
		return fail("token_limit", fmt.Sprintf("must not exceed %d", maxTokenLimit))
	}
	return nil
}

// Timeout validates an execution timeout in seconds.
func Timeout(seconds int) error {
	if seconds <= 0 {
		return fail("execution_timeout_seconds", "must be greater than 0")
	}
	return nil
}

// Role validates an AgentRole string against the known enum values.
func Role(value string) error {
	switch value {
	case "executor", "planner", "reviewer", "admin":
		return nil
	default:
		return fail("role", "must be one of executor, planner, reviewer, admin")
	}
}

// Effect validates a PolicyEffect string.
func Effect(value string) error {
	switch value {
	case "allow", "deny":
		return nil
	default:
		return fail("effect", "must be allow or deny")
	}
}

// blockedNetworks mirrors the original platform's SSRF blocklist: loopback,
// RFC1918 private ranges, link-local (including the cloud metadata
// address), and their IPv6 equivalents.
var blockedNetworks = parseNetworks(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func parseNetworks(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("validate: invalid blocklist CIDR " + c)
		}
		nets = append(nets, n)
	}
	return nets
}

// URL validates a tool-call target URL is well-formed, uses http(s), and
// does not resolve (by literal IP in the host) to a blocked range. It does
// not perform DNS resolution; that check belongs to the tool handler at
// dial time, where the resolved address is actually known.
func URL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fail("url", "not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fail("url", "scheme must be http or https")
	}
	if u.Hostname() == "" {
		return fail("url", "missing host")
	}
	if ip := net.ParseIP(u.Hostname()); ip != nil && IsBlockedIP(ip) {
		return fail("url", "target resolves to a blocked address range")
	}
	return nil
}

// IsBlockedIP reports whether ip falls in a blocked private/loopback/
// link-local/metadata range.
func IsBlockedIP(ip net.IP) bool {
	for _, n := range blockedNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
