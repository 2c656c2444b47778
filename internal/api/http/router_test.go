package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/ticket-tracker/internal/api/http/handlers"
	"github.com/spec-kit/ticket-tracker/internal/auth"
	"github.com/spec-kit/ticket-tracker/internal/events"
	"github.com/spec-kit/ticket-tracker/internal/observability"
	"github.com/spec-kit/ticket-tracker/internal/repository/memory"
	"github.com/spec-kit/ticket-tracker/internal/service"
)

type testServer struct {
	t   *testing.T
	app *fiber.App
}

func newTestServer(t *testing.T, prefix string) *testServer {
	t.Helper()
	store := memory.NewStore()
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	logger := zap.NewNop()

	tokens := auth.NewTokenManager("router-test-secret", time.Hour)
	authService := service.NewAuthService(service.AuthDependencies{
		UserRepo:     store.Users(),
		TokenManager: tokens,
		BcryptCost:   bcrypt.MinCost,
		Metrics:      metrics,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:     store.Tickets(),
		AssignmentRepo: store.Assignments(),
		UserRepo:       store.Users(),
		Transactor:     store,
		Dispatcher:     events.NewInMemoryDispatcher(),
		Metrics:        metrics,
		Logger:         logger,
		StrictUpdate:   true,
	})

	app := NewApp("ticket-tracker-test", logger, metrics, 5*time.Second)
	RegisterRoutes(app, RouteConfig{
		Prefix:         prefix,
		Health:         handlers.NewHealthHandler("ticket-tracker", "test", handlers.DependencyCheck{Name: "redis"}),
		Auth:           handlers.NewAuthHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		AuthMiddleware: auth.NewAuthMiddleware(authService),
		Gatherer:       registry,
	})
	return &testServer{t: t, app: app}
}

func (s *testServer) do(method, path, token string, body any) (int, []byte) {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(s.t, err)
	return resp.StatusCode, raw
}

func (s *testServer) decode(raw []byte, out any) {
	s.t.Helper()
	require.NoError(s.t, json.Unmarshal(raw, out), string(raw))
}

func (s *testServer) message(raw []byte) string {
	s.t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	s.decode(raw, &body)
	return body.Message
}

type userBody struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type ticketBody struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Status    string   `json:"status"`
	CreatedBy string   `json:"created_by"`
	Assignees []string `json:"assignees"`
}

func (s *testServer) register(prefix, email, role string) userBody {
	s.t.Helper()
	status, raw := s.do(fiber.MethodPost, prefix+"/auth/register", "", fiber.Map{"email": email, "password": "pass1", "role": role})
	require.Equal(s.t, fiber.StatusCreated, status, string(raw))
	var user userBody
	s.decode(raw, &user)
	return user
}

func (s *testServer) login(prefix, email string) string {
	s.t.Helper()
	status, raw := s.do(fiber.MethodPost, prefix+"/auth/login", "", fiber.Map{"email": email, "password": "pass1"})
	require.Equal(s.t, fiber.StatusOK, status, string(raw))
	var body struct {
		AccessToken string   `json:"accessToken"`
		User        userBody `json:"user"`
	}
	s.decode(raw, &body)
	require.NotEmpty(s.t, body.AccessToken)
	require.Equal(s.t, email, body.User.Email)
	return body.AccessToken
}

func (s *testServer) createTicket(prefix, token, title string, assignees ...string) string {
	s.t.Helper()
	status, raw := s.do(fiber.MethodPost, prefix+"/tickets", token, fiber.Map{
		"title":           title,
		"deadline":        "2025-01-01T00:00:00Z",
		"assignedUserIds": assignees,
	})
	require.Equal(s.t, fiber.StatusCreated, status, string(raw))
	var body struct {
		TicketID string `json:"ticketId"`
	}
	s.decode(raw, &body)
	require.NotEmpty(s.t, body.TicketID)
	return body.TicketID
}

func TestTicketLifecycleScenario(t *testing.T) {
	const prefix = "/api"
	s := newTestServer(t, prefix)

	s.register(prefix, "admin@x.com", "admin")
	user := s.register(prefix, "user@x.com", "user")
	assert.Equal(t, "user", user.Role)

	adminToken := s.login(prefix, "admin@x.com")
	ticketID := s.createTicket(prefix, adminToken, "T1", user.ID)

	userToken := s.login(prefix, "user@x.com")
	status, raw := s.do(fiber.MethodGet, prefix+"/tickets/my", userToken, nil)
	require.Equal(t, fiber.StatusOK, status)
	var mine []ticketBody
	s.decode(raw, &mine)
	require.Len(t, mine, 1)
	assert.Equal(t, "T1", mine[0].Title)
	assert.Equal(t, "PENDING", mine[0].Status)
	assert.Equal(t, []string{user.ID}, mine[0].Assignees)

	status, raw = s.do(fiber.MethodPatch, prefix+"/tickets/"+ticketID+"/status", userToken, fiber.Map{"status": "IN_PROGRESS"})
	require.Equal(t, fiber.StatusOK, status, string(raw))
	assert.Equal(t, "Status updated", s.message(raw))

	status, raw = s.do(fiber.MethodGet, prefix+"/tickets/"+ticketID, userToken, nil)
	require.Equal(t, fiber.StatusOK, status)
	var ticket ticketBody
	s.decode(raw, &ticket)
	assert.Equal(t, "IN_PROGRESS", ticket.Status)
}

func TestAuthErrors(t *testing.T) {
	s := newTestServer(t, "")
	s.register("", "admin@x.com", "admin")

	status, raw := s.do(fiber.MethodPost, "/auth/register", "", fiber.Map{"email": "admin@x.com", "password": "pass1", "role": "user"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "Email already exists", s.message(raw))

	status, raw = s.do(fiber.MethodPost, "/auth/register", "", fiber.Map{"email": "bad", "password": "x", "role": "root"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	var validation struct {
		Message []struct {
			Field string `json:"field"`
			Rule  string `json:"rule"`
		} `json:"message"`
	}
	s.decode(raw, &validation)
	assert.Len(t, validation.Message, 3)

	for _, creds := range []fiber.Map{
		{"email": "admin@x.com", "password": "wrong"},
		{"email": "ghost@x.com", "password": "pass1"},
	} {
		status, raw = s.do(fiber.MethodPost, "/auth/login", "", creds)
		assert.Equal(t, fiber.StatusUnauthorized, status)
		assert.Equal(t, "Invalid credentials", s.message(raw))
	}

	status, raw = s.do(fiber.MethodGet, "/tickets/my", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "Access denied", s.message(raw))

	status, raw = s.do(fiber.MethodGet, "/tickets/my", "not-a-token", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "Invalid token", s.message(raw))
}

func TestAuthorizationRules(t *testing.T) {
	s := newTestServer(t, "")
	s.register("", "admin@x.com", "admin")
	a := s.register("", "a@x.com", "user")
	b := s.register("", "b@x.com", "user")
	s.register("", "c@x.com", "user")

	adminToken := s.login("", "admin@x.com")
	aToken := s.login("", "a@x.com")
	cToken := s.login("", "c@x.com")

	ticketID := s.createTicket("", adminToken, "T1", a.ID, b.ID)

	for _, route := range []struct{ method, path string }{
		{fiber.MethodGet, "/tickets"},
		{fiber.MethodGet, "/users"},
		{fiber.MethodPost, "/tickets"},
		{fiber.MethodPatch, "/tickets/" + ticketID},
	} {
		status, raw := s.do(route.method, route.path, aToken, fiber.Map{})
		assert.Equal(t, fiber.StatusForbidden, status, route.path)
		assert.Equal(t, "Forbidden", s.message(raw))
	}

	status, _ := s.do(fiber.MethodGet, "/tickets/"+ticketID, cToken, nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, raw := s.do(fiber.MethodGet, "/tickets/"+uuid.NewString(), adminToken, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "Ticket not found", s.message(raw))

	status, _ = s.do(fiber.MethodGet, "/tickets/not-a-uuid", adminToken, nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, raw = s.do(fiber.MethodGet, "/users", adminToken, nil)
	require.Equal(t, fiber.StatusOK, status)
	var users []userBody
	s.decode(raw, &users)
	require.Len(t, users, 4)
	assert.Equal(t, "a@x.com", users[0].Email)
	assert.NotContains(t, string(raw), "password")
}

func TestCompletedLockAndReassignment(t *testing.T) {
	s := newTestServer(t, "")
	s.register("", "admin@x.com", "admin")
	a := s.register("", "a@x.com", "user")
	b := s.register("", "b@x.com", "user")
	c := s.register("", "c@x.com", "user")

	adminToken := s.login("", "admin@x.com")
	aToken := s.login("", "a@x.com")
	cToken := s.login("", "c@x.com")
	ticketID := s.createTicket("", adminToken, "T1", a.ID, b.ID)

	status, raw := s.do(fiber.MethodPatch, "/tickets/"+ticketID+"/status", aToken, fiber.Map{"status": "DONE"})
	assert.Equal(t, fiber.StatusBadRequest, status, string(raw))

	status, _ = s.do(fiber.MethodPatch, "/tickets/"+ticketID+"/status", aToken, fiber.Map{"status": "COMPLETED"})
	require.Equal(t, fiber.StatusOK, status)

	status, raw = s.do(fiber.MethodPatch, "/tickets/"+ticketID+"/status", aToken, fiber.Map{"status": "IN_PROGRESS"})
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "Completed tickets can only be updated by admin", s.message(raw))

	status, _ = s.do(fiber.MethodPatch, "/tickets/"+ticketID+"/status", adminToken, fiber.Map{"status": "IN_PROGRESS"})
	require.Equal(t, fiber.StatusOK, status)

	status, raw = s.do(fiber.MethodPatch, "/tickets/"+ticketID, adminToken, fiber.Map{"assignedUserIds": []string{}})
	assert.Equal(t, fiber.StatusBadRequest, status, string(raw))

	status, raw = s.do(fiber.MethodPatch, "/tickets/"+ticketID, adminToken, fiber.Map{"title": "T1b", "assignedUserIds": []string{c.ID}})
	require.Equal(t, fiber.StatusOK, status, string(raw))
	assert.Equal(t, "Ticket updated", s.message(raw))

	status, raw = s.do(fiber.MethodGet, "/tickets/"+ticketID, cToken, nil)
	require.Equal(t, fiber.StatusOK, status)
	var ticket ticketBody
	s.decode(raw, &ticket)
	assert.Equal(t, "T1b", ticket.Title)
	assert.Equal(t, "IN_PROGRESS", ticket.Status)
	assert.Equal(t, []string{c.ID}, ticket.Assignees)

	status, raw = s.do(fiber.MethodGet, "/tickets/my", aToken, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, "[]", string(raw))

	status, _ = s.do(fiber.MethodPatch, "/tickets/"+uuid.NewString(), adminToken, fiber.Map{"title": "x"})
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestProbesAndMetrics(t *testing.T) {
	s := newTestServer(t, "/api")

	status, raw := s.do(fiber.MethodGet, "/health", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))

	status, raw = s.do(fiber.MethodGet, "/health/ready", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(raw), `"redis":"disabled"`)

	status, _ = s.do(fiber.MethodGet, "/api/nowhere", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, raw = s.do(fiber.MethodGet, "/metrics", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.True(t, strings.Contains(string(raw), "ticket_tracker_http_requests_total"))
}
