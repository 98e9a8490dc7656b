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

// Package controlplane exposes the organization, agent, policy, budget,
// audit, and token-exchange services over an HTTP RPC surface.
package controlplane

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"agentgov/audit"
	"agentgov/budget"
	"agentgov/identity"
	"agentgov/orgs"
	"agentgov/policy"
	"agentgov/runtime"
	"agentgov/shared/logger"
	"agentgov/token"
)

var requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "agentgov_controlplane_requests_total",
	Help: "Control-plane requests by route and outcome.",
}, []string{"route", "status"})

func init() {
	prometheus.MustRegister(requestsTotal)
}

// Server wires every control-plane service into an HTTP handler.
type Server struct {
	orgs     *orgs.Service
	agents   *identity.Service
	policies *policy.Service
	budgets  *budget.Service
	auditLog *audit.Log
	tokens   *token.Service
	runtime  *runtime.Runtime

	apiKey string
	log    *logger.Logger
	router *mux.Router
}

// Config carries the Server's collaborators and optional shared-secret key.
type Config struct {
	Orgs     *orgs.Service
	Agents   *identity.Service
	Policies *policy.Service
	Budgets  *budget.Service
	AuditLog *audit.Log
	Tokens   *token.Service
	Runtime  *runtime.Runtime
	APIKey   string
}

// New builds a Server and registers every route.
func New(cfg Config) *Server {
	s := &Server{
		orgs: cfg.Orgs, agents: cfg.Agents, policies: cfg.Policies, budgets: cfg.Budgets,
		auditLog: cfg.AuditLog, tokens: cfg.Tokens, runtime: cfg.Runtime,
		apiKey: cfg.APIKey, log: logger.New("controlplane"),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the CORS-wrapped http.Handler to pass to http.Server.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.authMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/v1/orgs", s.handleCreateOrg).Methods(http.MethodPost)
	r.HandleFunc("/v1/orgs", s.handleListOrgs).Methods(http.MethodGet)
	r.HandleFunc("/v1/orgs/{org_id}", s.handleGetOrg).Methods(http.MethodGet)
	r.HandleFunc("/v1/orgs/{org_id}", s.handleDeleteOrg).Methods(http.MethodDelete)

	r.HandleFunc("/v1/orgs/{org_id}/agents", s.handleRegisterAgent).Methods(http.MethodPost)
	r.HandleFunc("/v1/orgs/{org_id}/agents", s.handleListAgents).Methods(http.MethodGet)
	r.HandleFunc("/v1/orgs/{org_id}/agents/{agent_id}", s.handleGetAgent).Methods(http.MethodGet)
	r.HandleFunc("/v1/orgs/{org_id}/agents/{agent_id}/deactivate", s.handleDeactivateAgent).Methods(http.MethodPost)

	r.HandleFunc("/v1/orgs/{org_id}/policy", s.handleSetOrgPolicy).Methods(http.MethodPut)
	r.HandleFunc("/v1/orgs/{org_id}/policy", s.handleGetOrgPolicy).Methods(http.MethodGet)
	r.HandleFunc("/v1/orgs/{org_id}/agents/{agent_id}/policy", s.handleSetAgentPolicy).Methods(http.MethodPut)
	r.HandleFunc("/v1/orgs/{org_id}/agents/{agent_id}/policy", s.handleGetAgentPolicy).Methods(http.MethodGet)
	r.HandleFunc("/v1/orgs/{org_id}/agents/{agent_id}/policy/effective", s.handleGetEffectivePolicy).Methods(http.MethodGet)
	r.HandleFunc("/v1/orgs/{org_id}/agents/{agent_id}/policy/evaluate", s.handleEvaluatePolicy).Methods(http.MethodPost)

	r.HandleFunc("/v1/orgs/{org_id}/budget", s.handleSetOrgBudget).Methods(http.MethodPut)
	r.HandleFunc("/v1/orgs/{org_id}/agents/{agent_id}/budget", s.handleSetAgentBudget).Methods(http.MethodPut)
	r.HandleFunc("/v1/orgs/{org_id}/agents/{agent_id}/budget", s.handleGetAgentBudget).Methods(http.MethodGet)
	r.HandleFunc("/v1/orgs/{org_id}/agents/{agent_id}/budget/check", s.handleCheckBudget).Methods(http.MethodPost)

	r.HandleFunc("/v1/usage/report", s.handleReportUsage).Methods(http.MethodPost)
	r.HandleFunc("/v1/usage/query", s.handleQueryUsage).Methods(http.MethodGet)

	r.HandleFunc("/v1/audit/query", s.handleQueryAudit).Methods(http.MethodGet)

	r.HandleFunc("/v1/tokens/exchange", s.handleTokenExchange).Methods(http.MethodPost)
	r.HandleFunc("/v1/tokens/{token_id}/validate", s.handleTokenValidate).Methods(http.MethodGet)
	r.HandleFunc("/v1/tokens/{token_id}", s.handleTokenRevoke).Methods(http.MethodDelete)

	r.HandleFunc("/v1/execute", s.handleExecute).Methods(http.MethodPost)

	return r
}

// authMiddleware implements spec.md §4.8(c): when an API key is configured,
// every request except those to /health must carry it in x-api-key, or
// the request is rejected before reaching any handler.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("x-api-key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "time": time.Now().UTC()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": message})
}

func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
