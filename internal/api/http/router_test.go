package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/queue-router/internal/api/http/handlers"
	"github.com/spec-kit/queue-router/internal/auth"
	"github.com/spec-kit/queue-router/internal/config"
	"github.com/spec-kit/queue-router/internal/domain"
	"github.com/spec-kit/queue-router/internal/events"
	"github.com/spec-kit/queue-router/internal/observability"
	"github.com/spec-kit/queue-router/internal/presence"
	"github.com/spec-kit/queue-router/internal/repository/memory"
	"github.com/spec-kit/queue-router/internal/service"
	"github.com/spec-kit/queue-router/internal/snapshot"
)

type testServer struct {
	app       *fiber.App
	operators *memory.OperatorStore
	oracle    *presence.StaticOracle
	metrics   *observability.Metrics

	mu  sync.Mutex
	now time.Time
}

func (s *testServer) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *testServer) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

func newTestServer(t *testing.T, tokens *auth.TokenManager) *testServer {
	t.Helper()
	srv := &testServer{
		operators: memory.NewOperatorStore(),
		oracle:    presence.NewStaticOracle(),
		metrics:   observability.NewMetrics(),
		now:       time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC),
	}
	logger := zap.NewNop()
	engine := config.EngineConfig{InactivityTimeout: 30 * time.Minute}.WithDefaults()
	sessions := memory.NewSessionStore()
	dispatcher := events.NewInMemoryDispatcher()

	lifecycle := service.NewSessionService(service.SessionDependencies{
		SessionRepo: sessions,
		Dispatcher:  dispatcher,
		Logger:      logger,
		Metrics:     srv.metrics,
		Clock:       srv.clock,
	})
	assignments := service.NewAssignmentService(service.AssignmentDependencies{
		SessionRepo:  sessions,
		OperatorRepo: srv.operators,
		Oracle:       srv.oracle,
		Snapshots:    snapshot.NewMemoryStore(),
		Lifecycle:    lifecycle,
		Dispatcher:   dispatcher,
		Logger:       logger,
		Metrics:      srv.metrics,
		Clock:        srv.clock,
		Config:       engine,
	})
	reaper := service.NewReaper(service.ReaperDependencies{
		SessionRepo: sessions,
		Lifecycle:   lifecycle,
		Logger:      logger,
		Metrics:     srv.metrics,
		Clock:       srv.clock,
		Config:      engine,
	})

	app := fiber.New()
	RegisterMiddlewares(app, logger, srv.metrics, time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("queue-router", "test", nil),
		Sessions:       handlers.NewSessionsHandler(lifecycle, assignments),
		Operators:      handlers.NewOperatorsHandler(assignments),
		Admin:          handlers.NewAdminHandler(reaper, srv.metrics),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})
	srv.app = app
	return srv
}

func (s *testServer) addOperator(id string, dept domain.Department, profile domain.ProfileTier, online bool) {
	s.operators.Put(domain.Operator{
		ID:         id,
		Name:       "Operator " + id,
		Department: dept,
		Profile:    profile,
		Active:     true,
		Listable:   true,
		CreatedAt:  s.clock(),
	})
	s.oracle.Set(id, online)
	s.advance(time.Second)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, raw)
		}
	}
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode data: %v (%s)", err, raw)
	}
	return out
}

type sessionBody struct {
	ID                 string  `json:"id"`
	Status             string  `json:"status"`
	Department         *string `json:"department"`
	AssignedOperatorID *string `json:"assigned_operator_id"`
	SupervisorID       *string `json:"supervisor_id"`
	CancelReason       *string `json:"cancel_reason"`
}

type assignmentBody struct {
	Session  sessionBody `json:"session"`
	Decision struct {
		OperatorID string `json:"operator_id"`
		TargetKind string `json:"target_kind"`
		Reason     string `json:"reason"`
	} `json:"decision"`
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.addOperator("op-1", domain.DepartmentFiscal, domain.ProfileOperator, true)

	status, env := srv.do(t, "POST", "/v1/sessions", map[string]any{"session_id": "s-1", "customer_id": "c-1"}, "")
	if status != fiber.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%+v)", status, env.Error)
	}
	if got := decode[sessionBody](t, env.Data); got.Status != "automated" {
		t.Fatalf("expected automated, got %s", got.Status)
	}

	status, env = srv.do(t, "POST", "/v1/sessions/s-1/automated-completion", map[string]any{"department": "Fiscal"}, "")
	if status != fiber.StatusOK {
		t.Fatalf("automated completion: expected 200, got %d (%+v)", status, env.Error)
	}
	if got := decode[sessionBody](t, env.Data); got.Status != "waiting" || got.Department == nil || *got.Department != "fiscal" {
		t.Fatalf("unexpected session %+v", got)
	}

	status, env = srv.do(t, "POST", "/v1/sessions/s-1/assign", nil, "")
	if status != fiber.StatusOK {
		t.Fatalf("assign: expected 200, got %d (%+v)", status, env.Error)
	}
	assigned := decode[assignmentBody](t, env.Data)
	if assigned.Decision.OperatorID != "op-1" || assigned.Decision.Reason != "first_available" || assigned.Session.Status != "in_service" {
		t.Fatalf("unexpected assignment %+v", assigned)
	}

	status, env = srv.do(t, "POST", "/v1/sessions/s-1/assign", nil, "")
	if status != fiber.StatusConflict || env.Error == nil || env.Error.Code != "ALREADY_ASSIGNED" {
		t.Fatalf("second assign: expected ALREADY_ASSIGNED, got %d %+v", status, env.Error)
	}

	status, env = srv.do(t, "POST", "/v1/sessions/s-1/complete", map[string]any{"tabulation_code": "RESOLVED"}, "")
	if status != fiber.StatusOK || decode[sessionBody](t, env.Data).Status != "completed" {
		t.Fatalf("complete: got %d %+v", status, env.Error)
	}

	status, env = srv.do(t, "GET", "/v1/sessions/s-1/history", nil, "")
	if status != fiber.StatusOK {
		t.Fatalf("history: got %d", status)
	}
	if history := decode[[]map[string]any](t, env.Data); len(history) != 4 {
		t.Fatalf("expected 4 history entries, got %d", len(history))
	}

	status, env = srv.do(t, "GET", "/v1/sessions/s-1/outcome", nil, "")
	if status != fiber.StatusOK {
		t.Fatalf("outcome: got %d", status)
	}
	if outcome := decode[map[string]any](t, env.Data); outcome["outcome"] != "completed" || outcome["tabulation_code"] != "RESOLVED" {
		t.Fatalf("unexpected outcome %v", outcome)
	}

	status, env = srv.do(t, "GET", "/v1/customers/c-1/active-session", nil, "")
	if status != fiber.StatusOK || string(env.Data) != "null" {
		t.Fatalf("expected no active session, got %d %s", status, env.Data)
	}
}

func TestCreateSessionRejectsSecondActiveSession(t *testing.T) {
	srv := newTestServer(t, nil)
	if status, _ := srv.do(t, "POST", "/v1/sessions", map[string]any{"session_id": "s-1", "customer_id": "c-1"}, ""); status != fiber.StatusCreated {
		t.Fatalf("create: got %d", status)
	}
	status, env := srv.do(t, "POST", "/v1/sessions", map[string]any{"session_id": "s-2", "customer_id": "c-1"}, "")
	if status != fiber.StatusConflict || env.Error == nil || env.Error.Code != "DUPLICATE_ACTIVE_SESSION" {
		t.Fatalf("expected DUPLICATE_ACTIVE_SESSION, got %d %+v", status, env.Error)
	}
	if env.Error.Details["session_id"] != "s-1" {
		t.Fatalf("expected existing session in details, got %v", env.Error.Details)
	}
}

func TestAssignWithoutOperatorsReturnsServiceUnavailable(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.do(t, "POST", "/v1/sessions", map[string]any{"session_id": "s-1", "customer_id": "c-1"}, "")
	srv.do(t, "POST", "/v1/sessions/s-1/automated-completion", map[string]any{"department": "personal"}, "")

	status, env := srv.do(t, "POST", "/v1/sessions/s-1/assign", nil, "")
	if status != fiber.StatusServiceUnavailable || env.Error == nil || env.Error.Code != "NO_OPERATOR_AVAILABLE" {
		t.Fatalf("expected NO_OPERATOR_AVAILABLE, got %d %+v", status, env.Error)
	}
	status, env = srv.do(t, "GET", "/v1/sessions/s-1", nil, "")
	if status != fiber.StatusOK || decode[sessionBody](t, env.Data).Status != "waiting" {
		t.Fatalf("session should stay waiting, got %d", status)
	}
}

func TestPresentAndSelectOperatorByPosition(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.addOperator("op-1", domain.DepartmentAccounting, domain.ProfileOperator, true)
	srv.addOperator("op-2", domain.DepartmentAccounting, domain.ProfileOperator, true)
	srv.do(t, "POST", "/v1/sessions", map[string]any{"session_id": "s-1", "customer_id": "c-1"}, "")

	status, env := srv.do(t, "POST", "/v1/sessions/s-1/operator-lists", map[string]any{"department": "contabil"}, "")
	if status != fiber.StatusCreated {
		t.Fatalf("present: got %d %+v", status, env.Error)
	}
	list := decode[domain.CandidateList](t, env.Data)
	if len(list.Entries) != 2 || list.Entries[1].OperatorID != "op-2" {
		t.Fatalf("unexpected list %+v", list)
	}

	status, env = srv.do(t, "POST", "/v1/sessions/s-1/operator-lists/select", map[string]any{"list_id": list.ListID, "position": 2}, "")
	if status != fiber.StatusOK {
		t.Fatalf("select: got %d %+v", status, env.Error)
	}
	assigned := decode[assignmentBody](t, env.Data)
	if assigned.Decision.OperatorID != "op-2" || assigned.Decision.Reason != "preferred_operator" {
		t.Fatalf("unexpected decision %+v", assigned.Decision)
	}

	status, env = srv.do(t, "POST", "/v1/sessions/s-1/operator-lists/select", map[string]any{"position": 0}, "")
	if status != fiber.StatusBadRequest || env.Error.Code != "VALIDATION_FAILED" {
		t.Fatalf("expected validation error, got %d %+v", status, env.Error)
	}
}

func TestDepartmentOperatorsView(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.addOperator("op-1", domain.DepartmentFinancial, domain.ProfileOperator, false)
	srv.addOperator("sup-1", domain.DepartmentFinancial, domain.ProfileSupervisor, true)

	status, env := srv.do(t, "GET", "/v1/departments/financeiro/operators", nil, "")
	if status != fiber.StatusOK {
		t.Fatalf("list operators: got %d %+v", status, env.Error)
	}
	list := decode[domain.CandidateList](t, env.Data)
	if len(list.Entries) != 1 || list.Entries[0].OperatorID != "op-1" || list.Entries[0].Online {
		t.Fatalf("unexpected entries %+v", list.Entries)
	}

	status, env = srv.do(t, "GET", "/v1/departments/legal/operators", nil, "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for unknown department, got %d", status)
	}
}

func TestScopesGuardSupervisorRoutes(t *testing.T) {
	tokens := auth.NewTokenManager("secret", 10)
	srv := newTestServer(t, tokens)
	automation, _, _ := tokens.GenerateToken("typebot", auth.ScopeAutomation)
	supervisor, _, _ := tokens.GenerateToken("sup-9", auth.ScopeSupervisor)

	if status, _ := srv.do(t, "POST", "/v1/sessions", map[string]any{"session_id": "s-1", "customer_id": "c-1"}, ""); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
	if status, _ := srv.do(t, "POST", "/v1/sessions", map[string]any{"session_id": "s-1", "customer_id": "c-1"}, automation); status != fiber.StatusCreated {
		t.Fatalf("expected 201 with automation token, got %d", status)
	}

	status, env := srv.do(t, "POST", "/v1/sessions/s-1/cancel", nil, automation)
	if status != fiber.StatusForbidden || env.Error.Code != "FORBIDDEN" {
		t.Fatalf("expected 403, got %d %+v", status, env.Error)
	}
	status, env = srv.do(t, "POST", "/v1/sessions/s-1/cancel", nil, supervisor)
	if status != fiber.StatusOK {
		t.Fatalf("force cancel: got %d %+v", status, env.Error)
	}
	cancelled := decode[sessionBody](t, env.Data)
	if cancelled.Status != "cancelled" || cancelled.CancelReason == nil || *cancelled.CancelReason != "forced" {
		t.Fatalf("unexpected session %+v", cancelled)
	}

	status, env = srv.do(t, "GET", "/v1/sessions/s-1/history", nil, supervisor)
	if status != fiber.StatusOK {
		t.Fatalf("history: got %d", status)
	}
	history := decode[[]struct {
		ChangedBy *domain.ParticipantRef `json:"changed_by"`
	}](t, env.Data)
	last := history[len(history)-1]
	if last.ChangedBy == nil || last.ChangedBy.ID != "sup-9" {
		t.Fatalf("expected supervisor as actor, got %+v", last.ChangedBy)
	}
}

func TestCompleteChangedByOnlyFromAnonymousCallers(t *testing.T) {
	tokens := auth.NewTokenManager("secret", 10)
	guarded := newTestServer(t, tokens)
	automation, _, _ := tokens.GenerateToken("typebot", auth.ScopeAutomation)
	supervisor, _, _ := tokens.GenerateToken("sup-9", auth.ScopeSupervisor)
	guarded.do(t, "POST", "/v1/sessions", map[string]any{"session_id": "s-1", "customer_id": "c-1"}, automation)

	spoofed := map[string]any{"changed_by": map[string]any{"kind": "operator", "id": "op-7"}}
	for _, token := range []string{automation, supervisor} {
		status, env := guarded.do(t, "POST", "/v1/sessions/s-1/complete", spoofed, token)
		if status != fiber.StatusForbidden || env.Error == nil || env.Error.Code != "FORBIDDEN" {
			t.Fatalf("expected 403 for changed_by from a token holder, got %d %+v", status, env.Error)
		}
	}
	_, env := guarded.do(t, "GET", "/v1/sessions/s-1", nil, supervisor)
	if got := decode[sessionBody](t, env.Data); got.Status != "automated" {
		t.Fatalf("rejected request must not change the session, got %s", got.Status)
	}

	open := newTestServer(t, nil)
	open.addOperator("op-1", domain.DepartmentFiscal, domain.ProfileOperator, true)
	open.do(t, "POST", "/v1/sessions", map[string]any{"session_id": "s-1", "customer_id": "c-1"}, "")
	open.do(t, "POST", "/v1/sessions/s-1/automated-completion", map[string]any{"department": "fiscal"}, "")
	if status, env := open.do(t, "POST", "/v1/sessions/s-1/assign", nil, ""); status != fiber.StatusOK {
		t.Fatalf("assign: got %d %+v", status, env.Error)
	}
	status, env := open.do(t, "POST", "/v1/sessions/s-1/complete", spoofed, "")
	if status != fiber.StatusOK {
		t.Fatalf("complete without auth: got %d %+v", status, env.Error)
	}
	_, env = open.do(t, "GET", "/v1/sessions/s-1/history", nil, "")
	history := decode[[]struct {
		ChangedBy *domain.ParticipantRef `json:"changed_by"`
	}](t, env.Data)
	last := history[len(history)-1]
	if last.ChangedBy == nil || last.ChangedBy.ID != "op-7" {
		t.Fatalf("expected changed_by to be recorded, got %+v", last.ChangedBy)
	}
}

func TestCustomerCancelIsIdempotent(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.do(t, "POST", "/v1/sessions", map[string]any{"session_id": "s-1", "customer_id": "c-1"}, "")
	for i := 0; i < 2; i++ {
		status, env := srv.do(t, "POST", "/v1/sessions/s-1/customer-cancel", nil, "")
		if status != fiber.StatusOK {
			t.Fatalf("cancel %d: got %d %+v", i, status, env.Error)
		}
	}
	status, env := srv.do(t, "POST", "/v1/sessions/s-1/complete", nil, "")
	if status != fiber.StatusConflict || env.Error.Code != "CONFLICT_STATE" {
		t.Fatalf("expected CONFLICT_STATE, got %d %+v", status, env.Error)
	}
}

func TestAdminReapCancelsStaleSessions(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.do(t, "POST", "/v1/sessions", map[string]any{"session_id": "s-1", "customer_id": "c-1"}, "")
	srv.advance(time.Hour)

	status, env := srv.do(t, "POST", "/v1/admin/reap", nil, "")
	if status != fiber.StatusOK {
		t.Fatalf("reap: got %d %+v", status, env.Error)
	}
	if result := decode[service.ReapResult](t, env.Data); result.Reaped != 1 {
		t.Fatalf("expected 1 reaped, got %+v", result)
	}
	_, env = srv.do(t, "GET", "/v1/sessions/s-1", nil, "")
	if got := decode[sessionBody](t, env.Data); got.Status != "cancelled" || *got.CancelReason != "timeout" {
		t.Fatalf("unexpected session %+v", got)
	}
}

func TestUnknownRouteAndMissingSession(t *testing.T) {
	srv := newTestServer(t, nil)
	status, env := srv.do(t, "GET", "/v1/nowhere", nil, "")
	if status != fiber.StatusNotFound || env.Error == nil || env.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %d %+v", status, env.Error)
	}
	status, env = srv.do(t, "GET", "/v1/sessions/missing", nil, "")
	if status != fiber.StatusNotFound || env.Error.Code != "SESSION_NOT_FOUND" {
		t.Fatalf("expected SESSION_NOT_FOUND, got %d %+v", status, env.Error)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, nil)
	if status, _ := srv.do(t, "GET", "/health/ready", nil, ""); status != fiber.StatusOK {
		t.Fatalf("ready: got %d", status)
	}
	srv.do(t, "GET", "/v1/sessions/missing", nil, "")

	req := httptest.NewRequest("GET", "/metrics", nil)
	resp, err := srv.app.Test(req, -1)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	var snap observability.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	var notFound int64
	for key, count := range snap.Errors {
		if strings.HasSuffix(key, "|SESSION_NOT_FOUND") {
			notFound += count
		}
	}
	if notFound != 1 {
		t.Fatalf("expected one SESSION_NOT_FOUND, got %+v", snap.Errors)
	}
}
