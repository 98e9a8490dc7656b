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

// Package main is the entry point for the agent governance control
// plane: the RPC surface for organizations, agents, policies, budgets,
// audit queries, and token exchange, plus the execution runtime that
// drives a task through the full governance pipeline.
//
// Usage:
//
//	./controlplane [-seed seed.yaml]
//
// Environment variables:
//
//	CONTROL_PLANE_ADDRESS - listen address (default: ":8090")
//	DATABASE_URL           - Postgres/MySQL/MongoDB connection string (absent: in-memory)
//	AP_API_KEY             - shared-secret interceptor for every route but /health
//	AP_TOKEN_SECRET        - HS256 symmetric key for scoped-token signing
//	AP_TOKEN_SECRET_ARN    - alternative: fetch the signing key from AWS Secrets Manager
//	AP_TOKEN_ISSUER        - token "iss" claim (default: "agentgov")
//	REDIS_URL              - optional shared token-revocation cache
//	OPA_URL                - optional external policy engine base URL
//	BEDROCK_MODEL_ID       - if set, tasks run through Bedrock instead of the mock provider
//	AWS_REGION             - region for Bedrock / Secrets Manager / S3 clients
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/go-redis/redis/v8"

	"agentgov/audit"
	"agentgov/budget"
	"agentgov/controlplane"
	"agentgov/identity"
	"agentgov/internal/tools"
	"agentgov/llm"
	"agentgov/mcpproxy"
	"agentgov/orgs"
	"agentgov/policy"
	"agentgov/runtime"
	"agentgov/store"
	"agentgov/token"
)

func main() {
	seedPath := flag.String("seed", "", "optional YAML seed file of organizations/agents/policies/budgets")
	flag.Parse()

	ctx := context.Background()
	log.Println("Starting AxonFlow agent governance control plane...")

	databaseURL := os.Getenv("DATABASE_URL")

	orgStore, err := store.Open(ctx, databaseURL, "organizations")
	if err != nil {
		log.Fatalf("open organizations store: %v", err)
	}
	agentStore, err := store.Open(ctx, databaseURL, "agents")
	if err != nil {
		log.Fatalf("open agents store: %v", err)
	}
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

	orgSvc := orgs.New(orgStore)
	agentSvc := identity.New(agentStore, orgSvc)

	var externalEngine policy.ExternalEngine
	if opaURL := os.Getenv("OPA_URL"); opaURL != "" {
		externalEngine = policy.NewOPAAdapter(opaURL, 5, 30*time.Second)
		log.Printf("policy evaluation dispatching to external engine at %s", opaURL)
	}
	policySvc := policy.New(policyStore, externalEngine)
	budgetSvc := budget.New(budgetStore, usageStore)
	auditLog := audit.New(10000, nil)

	tokenSvc := buildTokenService(ctx)

	provider := buildLLMProvider(ctx)
	handlers := map[string]mcpproxy.Handler{
		"http": tools.NewHTTPTool().Execute,
	}
	proxy := mcpproxy.New(policySvc, budgetSvc, auditLog, handlers)
	rt := runtime.New(agentSvc, policySvc, budgetSvc, provider, proxy, auditLog)

	if *seedPath != "" {
		if err := loadSeed(ctx, *seedPath, orgSvc, agentSvc, policySvc, budgetSvc); err != nil {
			log.Fatalf("load seed file: %v", err)
		}
		log.Printf("seeded control plane from %s", *seedPath)
	}

	srv := controlplane.New(controlplane.Config{
		Orgs: orgSvc, Agents: agentSvc, Policies: policySvc, Budgets: budgetSvc,
		AuditLog: auditLog, Tokens: tokenSvc, Runtime: rt,
		APIKey: os.Getenv("AP_API_KEY"),
	})

	addr := getEnv("CONTROL_PLANE_ADDRESS", ":8090")
	log.Printf("control plane listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, srv.Handler()))
}

func buildTokenService(ctx context.Context) *token.Service {
	secret := []byte(os.Getenv("AP_TOKEN_SECRET"))
	if arn := os.Getenv("AP_TOKEN_SECRET_ARN"); arn != "" {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			log.Fatalf("load AWS config for token secret: %v", err)
		}
		fetched, err := token.FetchSigningSecret(ctx, secretsmanager.NewFromConfig(cfg), arn)
		if err != nil {
			log.Fatalf("fetch token signing secret: %v", err)
		}
		secret = fetched
	}
	if len(secret) == 0 {
		log.Println("WARNING: no AP_TOKEN_SECRET configured, using a built-in development-only signing key")
		secret = []byte("ephemeral-development-only-signing-key")
	}

	issuer := getEnv("AP_TOKEN_ISSUER", "agentgov")
	opts := []token.Option{}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalf("parse REDIS_URL: %v", err)
		}
		client := redis.NewClient(opt)
		opts = append(opts, token.WithRevocationCache(token.NewRedisRevocationCache(client, "agentgov:revoked:")))
		log.Println("token revocation cache backed by redis")
	}
	return token.NewHS256(secret, issuer, opts...)
}

func buildLLMProvider(ctx context.Context) llm.Provider {
	modelID := os.Getenv("BEDROCK_MODEL_ID")
	if modelID == "" {
		log.Println("BEDROCK_MODEL_ID not set, running with the mock LLM provider")
		return llm.NewMockProvider(llm.Completion{Content: "mock completion", TokensUsed: 0})
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("load AWS config for Bedrock: %v", err)
	}
	client := bedrockruntime.NewFromConfig(cfg)
	log.Printf("LLM provider backed by Bedrock model %s", modelID)
	return llm.NewBedrockProvider(client, modelID, 4096, 0.2)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
