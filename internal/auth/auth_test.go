package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticketdesk/internal/domain"
	apperrors "github.com/spec-kit/ticketdesk/pkg/util/errorutil"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5, "ticketdesk")
	role := domain.StaffRoleAdmin
	token, exp, err := tm.GenerateToken("S1", domain.SubjectTypeStaff, &role, "Sam")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if time.Until(exp) > 5*time.Minute {
		t.Fatalf("unexpected expiry %s", exp)
	}
	claims, err := tm.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.RegisteredClaims.Subject != "S1" || claims.Subject != domain.SubjectTypeStaff || *claims.Role != role || claims.Name != "Sam" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokenManager_RejectsForeignTokens(t *testing.T) {
	tm := NewTokenManager("secret", 5, "ticketdesk")
	other := NewTokenManager("other-secret", 5, "ticketdesk")
	wrongIssuer := NewTokenManager("secret", 5, "someone-else")

	forged, _, _ := other.GenerateToken("S1", domain.SubjectTypeStaff, nil, "")
	if _, err := tm.ParseToken(forged); err == nil {
		t.Fatal("expected signature failure")
	}
	foreign, _, _ := wrongIssuer.GenerateToken("S1", domain.SubjectTypeStaff, nil, "")
	if _, err := tm.ParseToken(foreign); err == nil {
		t.Fatal("expected issuer failure")
	}
}

func TestTokenManager_RejectsExpired(t *testing.T) {
	tm := NewTokenManager("secret", 1, "ticketdesk")
	tm.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := tm.GenerateToken("B1", domain.SubjectTypeBridge, nil, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	tm.now = time.Now
	if _, err := tm.ParseToken(token); err == nil {
		t.Fatal("expected expiry failure")
	}
}

func newApp(tm *TokenManager, guard fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			de := apperrors.ToDomainError(err)
			return c.Status(de.HTTPStatus).SendString(de.Code)
		},
	})
	mw := NewAuthMiddleware(tm)
	app.Get("/", mw.Handle, guard, func(c *fiber.Ctx) error {
		p, _ := PrincipalFromContext(c)
		return c.SendString(p.Actor().ID)
	})
	return app
}

func request(t *testing.T, app *fiber.App, token string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp.StatusCode
}

func TestMiddleware_GuardsByRole(t *testing.T) {
	tm := NewTokenManager("secret", 5, "ticketdesk")
	agent, admin := domain.StaffRoleAgent, domain.StaffRoleAdmin
	bridgeToken, _, _ := tm.GenerateToken("bridge", domain.SubjectTypeBridge, nil, "")
	agentToken, _, _ := tm.GenerateToken("S1", domain.SubjectTypeStaff, &agent, "")
	adminToken, _, _ := tm.GenerateToken("A1", domain.SubjectTypeStaff, &admin, "")
	userToken, _, _ := tm.GenerateToken("U1", domain.SubjectTypeUser, nil, "")

	bridgeApp := newApp(tm, RequireBridge())
	staffApp := newApp(tm, RequireStaffRole())
	adminApp := newApp(tm, RequireStaffRole(domain.StaffRoleAdmin))

	cases := []struct {
		name  string
		app   *fiber.App
		token string
		want  int
	}{
		{"missing token", staffApp, "", http.StatusUnauthorized},
		{"garbage token", staffApp, "nope", http.StatusUnauthorized},
		{"user subject", staffApp, userToken, http.StatusUnauthorized},
		{"bridge on bridge route", bridgeApp, bridgeToken, http.StatusOK},
		{"staff on bridge route", bridgeApp, agentToken, http.StatusForbidden},
		{"bridge on staff route", staffApp, bridgeToken, http.StatusForbidden},
		{"agent on staff route", staffApp, agentToken, http.StatusOK},
		{"agent on admin route", adminApp, agentToken, http.StatusForbidden},
		{"admin on admin route", adminApp, adminToken, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := request(t, tc.app, tc.token); got != tc.want {
				t.Fatalf("status = %d, want %d", got, tc.want)
			}
		})
	}
}
