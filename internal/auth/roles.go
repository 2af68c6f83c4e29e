package auth

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/queue-router/pkg/util/errorutil"
)

// Scope is the privilege level carried by a caller token.
type Scope string

const (
	// ScopeAutomation is the chat-automation front end.
	ScopeAutomation Scope = "automation"
	// ScopeSupervisor may force-cancel sessions and trigger reaps.
	ScopeSupervisor Scope = "supervisor"
	ScopeAdmin      Scope = "admin"
)

var scopeRank = map[Scope]int{
	ScopeAutomation: 1,
	ScopeSupervisor: 2,
	ScopeAdmin:      3,
}

// ParseScope validates a scope name.
func ParseScope(raw string) (Scope, error) {
	scope := Scope(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := scopeRank[scope]; !ok {
		return "", fmt.Errorf("unknown scope %q", raw)
	}
	return scope, nil
}

// Covers reports whether s grants at least the privileges of required.
func (s Scope) Covers(required Scope) bool {
	return scopeRank[s] >= scopeRank[required] && scopeRank[s] > 0
}

// RequireScope ensures the caller holds at least the given scope.
func RequireScope(required Scope) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if !principal.Scope.Covers(required) {
			return apperrors.NewForbidden("insufficient scope")
		}
		return c.Next()
	}
}
