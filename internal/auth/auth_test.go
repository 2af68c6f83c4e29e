package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/queue-router/pkg/util/errorutil"
)

func TestTokenRoundTripCarriesScope(t *testing.T) {
	tm := NewTokenManager("secret", 10)
	token, expiresAt, err := tm.GenerateToken("sup-1", ScopeSupervisor)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatalf("expected future expiry, got %s", expiresAt)
	}
	claims, err := tm.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "sup-1" || claims.Scope != ScopeSupervisor {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseTokenRejectsOtherSecretAndExpired(t *testing.T) {
	issuer := NewTokenManager("secret", 1)
	token, _, err := issuer.GenerateToken("bot", ScopeAutomation)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := NewTokenManager("other", 1).ParseToken(token); err == nil {
		t.Fatal("expected signature failure")
	}

	later := NewTokenManager("secret", 1)
	later.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := later.ParseToken(token); err == nil {
		t.Fatal("expected expiry failure")
	}
}

func TestScopeCovers(t *testing.T) {
	if !ScopeAdmin.Covers(ScopeSupervisor) || !ScopeSupervisor.Covers(ScopeAutomation) {
		t.Fatal("expected higher scopes to cover lower ones")
	}
	if ScopeAutomation.Covers(ScopeSupervisor) {
		t.Fatal("automation must not cover supervisor")
	}
	if Scope("").Covers(ScopeAutomation) {
		t.Fatal("empty scope covers nothing")
	}
	if _, err := ParseScope("Supervisor"); err != nil {
		t.Fatalf("parse scope: %v", err)
	}
	if _, err := ParseScope("root"); err == nil {
		t.Fatal("expected unknown scope error")
	}
}

func newProtectedApp(tokens *TokenManager) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.SendStatus(apperrors.ToDomainError(err).HTTPStatus)
		},
	})
	mw := NewAuthMiddleware(tokens)
	app.Post("/reap", mw.Handle, RequireScope(ScopeSupervisor), func(c *fiber.Ctx) error {
		principal, _ := PrincipalFromContext(c)
		return c.SendString(principal.Subject)
	})
	return app
}

func TestMiddlewareEnforcesScope(t *testing.T) {
	tm := NewTokenManager("secret", 10)
	app := newProtectedApp(tm)

	supervisorToken, _, _ := tm.GenerateToken("sup-1", ScopeSupervisor)
	automationToken, _, _ := tm.GenerateToken("bot", ScopeAutomation)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", fiber.StatusUnauthorized},
		{"malformed", "Token abc", fiber.StatusUnauthorized},
		{"automation", "Bearer " + automationToken, fiber.StatusForbidden},
		{"supervisor", "Bearer " + supervisorToken, fiber.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/reap", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestMiddlewareDisabledAllowsAll(t *testing.T) {
	app := newProtectedApp(nil)
	resp, err := app.Test(httptest.NewRequest("POST", "/reap", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestPrincipalActor(t *testing.T) {
	if (&Principal{Subject: "bot", Scope: ScopeAutomation}).Actor() != nil {
		t.Fatal("automation callers act as the engine")
	}
	actor := (&Principal{Subject: "sup-1", Scope: ScopeSupervisor}).Actor()
	if actor == nil || actor.ID != "sup-1" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestPrincipalIdentified(t *testing.T) {
	var missing *Principal
	if missing.Identified() || (&Principal{Scope: ScopeAdmin}).Identified() {
		t.Fatal("anonymous callers are not identified")
	}
	if !(&Principal{Subject: "bot", Scope: ScopeAutomation}).Identified() {
		t.Fatal("a token subject identifies the caller")
	}
}
