package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/queue-router/internal/domain"
	apperrors "github.com/spec-kit/queue-router/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	Subject string
	Scope   Scope
}

// Actor returns the participant to record in history for this caller.
// Supervisors act as operators; automation callers act as the engine.
func (p *Principal) Actor() *domain.ParticipantRef {
	if p == nil || p.Subject == "" || p.Scope == ScopeAutomation {
		return nil
	}
	return domain.OperatorRef(p.Subject)
}

// Identified reports whether the caller carries a token subject. Anonymous
// callers only exist when authentication is disabled.
func (p *Principal) Identified() bool {
	return p != nil && p.Subject != ""
}

// AuthMiddleware validates bearer tokens. With no token manager every caller
// is treated as an anonymous admin.
type AuthMiddleware struct {
	tokens *TokenManager
}

// NewAuthMiddleware constructs middleware; tokens may be nil to disable checks.
func NewAuthMiddleware(tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	if m.tokens == nil {
		c.Locals(principalKey, &Principal{Scope: ScopeAdmin})
		return c.Next()
	}

	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(strings.TrimSpace(parts[1]))
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	c.Locals(principalKey, &Principal{Subject: claims.Subject, Scope: claims.Scope})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated caller.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
