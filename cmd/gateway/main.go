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

// Package main is the entry point for the standalone MCP authorization
// gateway: a thin, stateless process that sits in front of tool handlers
// and accepts only calls bearing a scoped token issued by the control
// plane's token exchange. Unlike cmd/controlplane, the gateway never
// mutates organizations, agents, policies, or budgets — it verifies the
// bearer token's signature and audience, then drives the call through
// the same policy → budget → handler → audit pipeline.
//
// Usage:
//
//	./gateway
//
// Environment variables:
//
//	GATEWAY_ADDRESS  - listen address (default: ":8091")
//	DATABASE_URL     - shared store connection string (absent: in-memory)
//	AP_TOKEN_SECRET  - HS256 symmetric key matching the control plane's
//	AP_TOKEN_ISSUER  - token "iss" claim (default: "agentgov")
//	REDIS_URL        - shared revocation cache so revoke()/revoke_all propagate here
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"agentgov/audit"
	"agentgov/budget"
	"agentgov/internal/tools"
	"agentgov/mcpproxy"
	"agentgov/policy"
	"agentgov/shared/types"
	"agentgov/store"
	"agentgov/token"
)

type gatewayServer struct {
	proxy  *mcpproxy.Proxy
	tokens *token.Service
	log    *log.Logger
}

func main() {
	ctx := context.Background()
	log.Println("Starting AxonFlow MCP authorization gateway...")

	databaseURL := os.Getenv("DATABASE_URL")
	policyStore, err := store.Open(ctx, databaseURL, "policies")
	if err != nil {
		log.Fatalf("open policies store: %v", err)
	}
	budgetStore, err := store.Open(ctx, databaseURL, "budgets")
	if err != nil {
		log.Fatalf("open budgets store: %v", err)
	}
	usageStore, err := store.Open(ctx, databaseURL, "usage_reports")
	if err != nil {
		log.Fatalf("open usage_reports store: %v", err)
	}

	policySvc := policy.New(policyStore, nil)
	budgetSvc := budget.New(budgetStore, usageStore)
	auditLog := audit.New(10000, nil)

	handlers := map[string]mcpproxy.Handler{
		"http": tools.NewHTTPTool().Execute,
	}
	proxy := mcpproxy.New(policySvc, budgetSvc, auditLog, handlers)

	secret := os.Getenv("AP_TOKEN_SECRET")
	if secret == "" {
		log.Fatal("AP_TOKEN_SECRET must match the control plane's signing key")
	}
	issuer := os.Getenv("AP_TOKEN_ISSUER")
	if issuer == "" {
		issuer = "agentgov"
	}
	var opts []token.Option
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalf("parse REDIS_URL: %v", err)
		}
		opts = append(opts, token.WithRevocationCache(token.NewRedisRevocationCache(redis.NewClient(opt), "agentgov:revoked:")))
	}
	tokenSvc := token.NewHS256([]byte(secret), issuer, opts...)

	gw := &gatewayServer{proxy: proxy, tokens: tokenSvc, log: log.New(os.Stdout, "[gateway] ", log.LstdFlags)}

	r := mux.NewRouter()
	r.HandleFunc("/health", gw.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/tools/{tool_name}/invoke", gw.handleInvoke).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	addr := os.Getenv("GATEWAY_ADDRESS")
	if addr == "" {
		addr = ":8091"
	}
	log.Printf("gateway listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, c.Handler(r)))
}

func (g *gatewayServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (g *gatewayServer) handleInvoke(w http.ResponseWriter, r *http.Request) {
	toolName := mux.Vars(r)["tool_name"]

	bearer := r.Header.Get("Authorization")
	if !strings.HasPrefix(bearer, "Bearer ") {
		writeGatewayError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	rawToken := strings.TrimPrefix(bearer, "Bearer ")

	claims, ok := g.tokens.ValidateSigned(r.Context(), rawToken, "tool:"+toolName)
	if !ok {
		g.log.Printf("rejected invocation of %s: invalid or revoked token", toolName)
		writeGatewayError(w, http.StatusUnauthorized, "invalid or revoked token")
		return
	}

	orgID, _ := claims["org_id"].(string)
	agentID, _ := claims["sub"].(string)
	executionID, _ := claims["jti"].(string)

	var body struct {
		Parameters map[string]interface{} `json:"parameters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeGatewayError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result := g.proxy.Execute(r.Context(), types.ToolCallRequest{
		AgentID: agentID, OrgID: orgID, ExecutionID: executionID,
		ToolName: toolName, Parameters: body.Parameters,
	})

	// A denied or failed tool call is an execution-level outcome carried
	// as success=false in the body, not an RPC-level failure; only the
	// auth/request-shape checks above return a non-200 status.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

func writeGatewayError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
