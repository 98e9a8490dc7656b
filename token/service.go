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

// Package token implements RFC 8693-style token exchange: narrowly
// scoped, signed, short-lived tokens bound to a single agent/org/tool
// triple, with an in-memory live-token index for revocation and capacity
// enforcement.
package token

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	agerrors "agentgov/shared/errors"
	"agentgov/shared/logger"
	"agentgov/shared/types"
)

// maxActiveTokens is the issuer's fixed live-token index cap.
const maxActiveTokens = 10_000

// RevocationCache is an optional shared cache (typically Redis-backed) so
// a second process's stateless verifier can be informed of a revocation
// before the token's natural expiry. Service works without one; it is
// only consulted by Service.ValidateSigned, since that path does not
// consult the issuer's own in-memory index.
type RevocationCache interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	MarkRevoked(ctx context.Context, tokenID string, ttl time.Duration) error
}

// Service is the token issuer. Signer/Verifier are injected so HS256
// (symmetric secret) and asymmetric algorithms share one implementation.
type Service struct {
	mu     sync.Mutex
	tokens map[string]types.ScopedToken

	signer    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
	issuer    string

	revocation RevocationCache
	log        *logger.Logger
	now        func() time.Time
}

// Option configures optional Service behavior.
type Option func(*Service)

// WithRevocationCache attaches a shared revocation cache consulted by
// ValidateSigned.
func WithRevocationCache(c RevocationCache) Option {
	return func(s *Service) { s.revocation = c }
}

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewHS256 builds a Service using a symmetric HMAC-SHA256 secret for both
// signing and verification, the "configured secret" path in spec.md §4.6.
func NewHS256(secret []byte, issuer string, opts ...Option) *Service {
	if issuer == "" {
		issuer = "agent-platform"
	}
	s := &Service{
		tokens:    make(map[string]types.ScopedToken),
		signer:    jwt.SigningMethodHS256,
		signKey:   secret,
		verifyKey: secret,
		issuer:    issuer,
		log:       logger.New("token"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewEdDSA builds a Service using an asymmetric Ed25519 keypair, the
// "asymmetric signature over a keypair generated at startup" path.
func NewEdDSA(privateKey, publicKey interface{}, issuer string, opts ...Option) *Service {
	if issuer == "" {
		issuer = "agent-platform"
	}
	s := &Service{
		tokens:    make(map[string]types.ScopedToken),
		signer:    jwt.SigningMethodEdDSA,
		signKey:   privateKey,
		verifyKey: publicKey,
		issuer:    issuer,
		log:       logger.New("token"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Exchange issues a token scoped to (agentID, orgID, toolName), narrowed
// from parentTokenID. A negative ttl defaults to 300 seconds; ttl == 0 is
// a valid, immediately-expiring token, distinct from "unset".
func (s *Service) Exchange(ctx context.Context, parentTokenID, agentID, orgID, toolName string, scopes []string, ttl time.Duration) (*types.ScopedToken, error) {
	if ttl < 0 {
		ttl = 300 * time.Second
	}

	s.mu.Lock()
	if len(s.tokens) >= maxActiveTokens {
		s.cleanupExpiredLocked()
		if len(s.tokens) >= maxActiveTokens {
			s.mu.Unlock()
			return nil, &agerrors.TokenCapacityError{Capacity: maxActiveTokens}
		}
	}
	s.mu.Unlock()

	now := s.now().UTC()
	tokenID := uuid.NewString()
	iat := now.Unix()
	exp := now.Add(ttl).Unix()
	audience := "tool:" + toolName

	claims := jwt.MapClaims{
		"jti":       tokenID,
		"iss":       s.issuer,
		"sub":       agentID,
		"aud":       audience,
		"iat":       iat,
		"exp":       exp,
		"org_id":    orgID,
		"tool_name": toolName,
		"scopes":    scopes,
		"act":       map[string]interface{}{"sub": parentTokenID},
	}

	jwtToken := jwt.NewWithClaims(s.signer, claims)
	signed, err := jwtToken.SignedString(s.signKey)
	if err != nil {
		return nil, &agerrors.ConfigurationError{Reason: "token signing failed: " + err.Error()}
	}

	scoped := types.ScopedToken{
		TokenID:       tokenID,
		ParentTokenID: parentTokenID,
		AgentID:       agentID,
		OrgID:         orgID,
		ToolName:      toolName,
		Scopes:        scopes,
		IssuedAt:      iat,
		ExpiresAt:     exp,
		Claims:        claims,
		SignedBytes:   signed,
	}

	s.mu.Lock()
	s.tokens[tokenID] = scoped
	s.mu.Unlock()

	s.log.Info(orgID, "", "token exchanged", map[string]interface{}{"agent_id": agentID, "tool_name": toolName, "token_id": tokenID})
	return &scoped, nil
}

// Validate looks up a token by id. If expired it is removed and nil is
// returned; otherwise the stored signed representation is cryptographically
// re-verified against the configured key, issuer, and expected audience.
func (s *Service) Validate(ctx context.Context, tokenID string) (*types.ScopedToken, error) {
	s.mu.Lock()
	scoped, found := s.tokens[tokenID]
	if !found {
		s.mu.Unlock()
		return nil, agerrors.ErrTokenNotFound
	}
	if scoped.IsExpired(s.now().Unix()) {
		delete(s.tokens, tokenID)
		s.mu.Unlock()
		return nil, agerrors.ErrTokenExpired
	}
	s.mu.Unlock()

	if _, err := s.verify(scoped.SignedBytes, "tool:"+scoped.ToolName); err != nil {
		s.mu.Lock()
		delete(s.tokens, tokenID)
		s.mu.Unlock()
		return nil, agerrors.ErrTokenNotFound
	}
	return &scoped, nil
}

// ValidateSigned verifies a signed token by signature, issuer, and
// (if supplied) audience alone, without requiring presence in the
// issuer's live index — the stateless-verifier path. It still checks the
// shared revocation cache when one is configured, since that is the only
// way a stateless verifier can learn of a pre-expiry revocation.
func (s *Service) ValidateSigned(ctx context.Context, signed string, audience string) (jwt.MapClaims, bool) {
	claims, err := s.verify(signed, audience)
	if err != nil {
		return nil, false
	}

	if s.revocation != nil {
		if jti, ok := claims["jti"].(string); ok {
			revoked, err := s.revocation.IsRevoked(ctx, jti)
			if err == nil && revoked {
				return nil, false
			}
		}
	}
	return claims, true
}

func (s *Service) verify(signed, audience string) (jwt.MapClaims, error) {
	parsed, err := jwt.Parse(signed, func(t *jwt.Token) (interface{}, error) {
		return s.verifyKey, nil
	}, jwt.WithValidMethods([]string{s.signer.Alg()}), jwt.WithIssuer(s.issuer))
	if err != nil || !parsed.Valid {
		return nil, agerrors.ErrTokenNotFound
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, agerrors.ErrTokenNotFound
	}
	if audience != "" {
		aud, _ := claims["aud"].(string)
		if aud != audience {
			return nil, agerrors.ErrTokenNotFound
		}
	}
	return claims, nil
}

// Revoke removes a single token from the live index. Effective only for
// Validate(tokenID); a stateless verifier using ValidateSigned will not
// see the revocation until the optional RevocationCache is populated
// (which this method does when one is configured) or the token expires.
func (s *Service) Revoke(ctx context.Context, tokenID string) error {
	s.mu.Lock()
	scoped, found := s.tokens[tokenID]
	delete(s.tokens, tokenID)
	s.mu.Unlock()

	if !found {
		return agerrors.ErrTokenNotFound
	}
	if s.revocation != nil {
		ttl := time.Until(time.Unix(scoped.ExpiresAt, 0))
		if ttl > 0 {
			_ = s.revocation.MarkRevoked(ctx, tokenID, ttl)
		}
	}
	return nil
}

// RevokeAllForAgent removes every live token whose AgentID matches.
func (s *Service) RevokeAllForAgent(ctx context.Context, agentID string) int {
	s.mu.Lock()
	toRevoke := make([]types.ScopedToken, 0)
	for id, t := range s.tokens {
		if t.AgentID == agentID {
			toRevoke = append(toRevoke, t)
			delete(s.tokens, id)
		}
	}
	s.mu.Unlock()

	if s.revocation != nil {
		for _, t := range toRevoke {
			ttl := time.Until(time.Unix(t.ExpiresAt, 0))
			if ttl > 0 {
				_ = s.revocation.MarkRevoked(ctx, t.TokenID, ttl)
			}
		}
	}
	return len(toRevoke)
}

// CleanupExpired scans the live index for entries past expiry and removes
// them, returning the count removed.
func (s *Service) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupExpiredLocked()
}

func (s *Service) cleanupExpiredLocked() int {
	now := s.now().Unix()
	removed := 0
	for id, t := range s.tokens {
		if t.IsExpired(now) {
			delete(s.tokens, id)
			removed++
		}
	}
	return removed
}

// Count returns the number of live tokens in the issuer's index.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
