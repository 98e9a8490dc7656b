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

// Package tools holds sample mcpproxy.Handler implementations: a
// SSRF-protected HTTP tool demonstrating a real handler contract, and a
// MockTool for tests.
package tools

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	agerrors "agentgov/shared/errors"
	"agentgov/shared/validate"
)

const (
	httpToolTimeout      = 30 * time.Second
	httpResponseBodyCap  = 10_000
)

// HTTPTool performs an outbound HTTP request on behalf of an agent, after
// rejecting any URL resolving into a private/loopback/link-local/metadata
// address range.
type HTTPTool struct {
	client *http.Client
}

// NewHTTPTool builds an HTTPTool with redirects disabled, since a redirect
// target bypasses the pre-dial SSRF check.
func NewHTTPTool() *HTTPTool {
	return &HTTPTool{
		client: &http.Client{
			Timeout: httpToolTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Transport: &http.Transport{
				DialContext: ssrfSafeDialContext,
			},
		},
	}
}

// Execute implements mcpproxy.Handler.
func (t *HTTPTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	rawURL, _ := params["url"].(string)
	if rawURL == "" {
		return nil, fmt.Errorf("url parameter is required")
	}
	method, _ := params["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	if err := validate.URL(rawURL); err != nil {
		return nil, &agerrors.SSRFBlockedError{Target: rawURL}
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httpResponseBodyCap))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"body":        string(body),
		"headers":     headers,
	}, nil
}

// ssrfSafeDialContext re-checks the resolved address at dial time, since a
// DNS name that passed the pre-dial literal-IP check can still resolve to
// a blocked range.
func ssrfSafeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if validate.IsBlockedIP(ip) {
			return nil, &agerrors.SSRFBlockedError{Target: addr}
		}
	}
	dialer := &net.Dialer{Timeout: httpToolTimeout}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
}
