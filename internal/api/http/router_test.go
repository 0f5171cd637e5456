package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-tracker/internal/api/dto"
	"github.com/spec-kit/ticket-tracker/internal/api/http/handlers"
	"github.com/spec-kit/ticket-tracker/internal/auth"
	"github.com/spec-kit/ticket-tracker/internal/config"
	"github.com/spec-kit/ticket-tracker/internal/domain"
	"github.com/spec-kit/ticket-tracker/internal/observability"
	"github.com/spec-kit/ticket-tracker/internal/repository"
	"github.com/spec-kit/ticket-tracker/internal/service"
	apperrors "github.com/spec-kit/ticket-tracker/pkg/util/errorutil"
)

var exportDay = time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	cfg := config.Config{
		App:  config.AppConfig{Name: "ticket-tracker", Version: "test"},
		Auth: config.AuthConfig{JWTSecret: "test-secret", AccessTokenTTLMinutes: 15, BcryptCost: 4, VerifyPassword: true},
	}
	users := repository.NewMemoryUserRepository()
	tickets := repository.NewMemoryTicketRepository()
	history := repository.NewMemoryTicketHistoryRepository()
	metrics := observability.NewMetrics()

	authService := service.NewAuthService(cfg, service.AuthDependencies{UserRepo: users})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  tickets,
		HistoryRepo: history,
		Idempotency: repository.NewMemoryIdempotencyStore(nil),
		Metrics:     metrics,
		Policy:      service.DefaultTicketPolicy(),
	})
	assignments := service.NewAssignmentService(service.AssignmentDependencies{
		TicketRepo:  tickets,
		UserRepo:    users,
		HistoryRepo: history,
		Metrics:     metrics,
	})
	views := service.NewViewService(tickets, 3)

	return NewApp(AppOptions{
		Name:    cfg.App.Name,
		Metrics: metrics,
		Routes: RouteConfig{
			Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, nil, nil, metrics),
			Users:          handlers.NewUsersHandler(authService),
			Tickets:        handlers.NewTicketsHandler(ticketService, assignments, views, func() time.Time { return exportDay }),
			Dashboard:      handlers.NewDashboardHandler(views),
			AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), users),
		},
	})
}

func doJSON(t *testing.T, app *fiber.App, method, path, token string, body any, headers ...string) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var env envelope
	if strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	}
	return resp, env
}

func register(t *testing.T, app *fiber.App, name, email string, role domain.Role) string {
	t.Helper()
	resp, env := doJSON(t, app, http.MethodPost, "/auth/register", "", dto.UserRegisterRequest{
		Name:     name,
		Email:    email,
		Password: "secret123",
		Role:     role,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var session dto.SessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &session))
	return session.Auth.Token
}

func createTicket(t *testing.T, app *fiber.App, token, title string) dto.TicketResponse {
	t.Helper()
	resp, env := doJSON(t, app, http.MethodPost, "/tickets", token, dto.CreateTicketRequest{
		Title:       title,
		Description: title + " details",
		Priority:    domain.TicketPriorityHigh,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var ticket dto.TicketResponse
	require.NoError(t, json.Unmarshal(env.Data, &ticket))
	return ticket
}

func TestHealthEndpoints(t *testing.T) {
	app := newTestApp(t)

	resp, _ := doJSON(t, app, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthFlow(t *testing.T) {
	app := newTestApp(t)
	register(t, app, "Admin", "admin@example.com", domain.RoleAdmin)

	resp, env := doJSON(t, app, http.MethodPost, "/auth/register", "", dto.UserRegisterRequest{
		Name: "Again", Email: "ADMIN@example.com", Password: "x",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, apperrors.CodeDuplicateEmail, env.Error.Code)

	resp, env = doJSON(t, app, http.MethodPost, "/auth/login", "", dto.UserLoginRequest{Email: "admin@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, apperrors.CodeInvalidCredentials, env.Error.Code)

	resp, env = doJSON(t, app, http.MethodPost, "/auth/login", "", dto.UserLoginRequest{Email: "nobody@example.com", Password: "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, apperrors.CodeUserNotFound, env.Error.Code)

	resp, env = doJSON(t, app, http.MethodPost, "/auth/login", "", dto.UserLoginRequest{Email: "admin@example.com", Password: "secret123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var session dto.SessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &session))

	resp, env = doJSON(t, app, http.MethodGet, "/me", session.Auth.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me dto.UserResponse
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, domain.RoleAdmin, me.Role)

	resp, env = doJSON(t, app, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, apperrors.CodeUnauthorized, env.Error.Code)
}

func TestTicketLifecycle(t *testing.T) {
	app := newTestApp(t)
	adminToken := register(t, app, "Admin", "admin@example.com", domain.RoleAdmin)
	userToken := register(t, app, "User", "user@example.com", domain.RoleUser)
	otherToken := register(t, app, "Other", "other@example.com", domain.RoleUser)

	ticket := createTicket(t, app, userToken, "Login Issue")
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, "user@example.com", ticket.CreatedBy)

	// admins cannot open tickets under the default policy
	resp, env := doJSON(t, app, http.MethodPost, "/tickets", adminToken, dto.CreateTicketRequest{Title: "t", Description: "d"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, apperrors.CodePermissionDenied, env.Error.Code)

	resp, env = doJSON(t, app, http.MethodPost, "/tickets", userToken, dto.CreateTicketRequest{Title: " ", Description: "d"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, env.Error.Details, "title")

	// users cannot change status
	resp, _ = doJSON(t, app, http.MethodPatch, "/tickets/"+ticket.ID+"/status", userToken, dto.UpdateStatusRequest{Status: domain.TicketStatusResolved})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, env = doJSON(t, app, http.MethodPatch, "/tickets/"+ticket.ID+"/status", adminToken, dto.UpdateStatusRequest{Status: domain.TicketStatusInProgress})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated dto.TicketResponse
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, domain.TicketStatusInProgress, updated.Status)
	assert.Equal(t, int64(2), updated.Version)

	resp, env = doJSON(t, app, http.MethodPatch, "/tickets/missing/status", adminToken, dto.UpdateStatusRequest{Status: domain.TicketStatusResolved})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, apperrors.CodeNotFound, env.Error.Code)

	resp, env = doJSON(t, app, http.MethodPut, "/tickets/"+ticket.ID+"/assignee", adminToken, dto.AssignTicketRequest{AssignedTo: "admin@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var assigned dto.TicketResponse
	require.NoError(t, json.Unmarshal(env.Data, &assigned))
	require.NotNil(t, assigned.AssignedTo)
	assert.Equal(t, "admin@example.com", *assigned.AssignedTo)

	resp, env = doJSON(t, app, http.MethodGet, "/tickets/"+ticket.ID+"/history", userToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []dto.TicketHistoryResponse
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Len(t, history, 2)

	resp, _ = doJSON(t, app, http.MethodGet, "/tickets/"+ticket.ID, otherToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, env = doJSON(t, app, http.MethodGet, "/tickets", otherToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(env.Data))

	resp, env = doJSON(t, app, http.MethodGet, "/tickets", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all []dto.TicketResponse
	require.NoError(t, json.Unmarshal(env.Data, &all))
	assert.Len(t, all, 1)
}

func TestCreateTicketIdempotencyHeader(t *testing.T) {
	app := newTestApp(t)
	userToken := register(t, app, "User", "user@example.com", domain.RoleUser)
	body := dto.CreateTicketRequest{Title: "Printer", Description: "jammed"}

	_, first := doJSON(t, app, http.MethodPost, "/tickets", userToken, body, handlers.HeaderIdempotencyKey, "abc")
	_, second := doJSON(t, app, http.MethodPost, "/tickets", userToken, body, handlers.HeaderIdempotencyKey, "abc")

	var a, b dto.TicketResponse
	require.NoError(t, json.Unmarshal(first.Data, &a))
	require.NoError(t, json.Unmarshal(second.Data, &b))
	assert.Equal(t, a.ID, b.ID)

	_, list := doJSON(t, app, http.MethodGet, "/tickets", userToken, nil)
	var all []dto.TicketResponse
	require.NoError(t, json.Unmarshal(list.Data, &all))
	assert.Len(t, all, 1)
}

func TestDashboard(t *testing.T) {
	app := newTestApp(t)
	adminToken := register(t, app, "Admin", "admin@example.com", domain.RoleAdmin)
	userToken := register(t, app, "User", "user@example.com", domain.RoleUser)
	createTicket(t, app, userToken, "One")
	createTicket(t, app, userToken, "Two")

	resp, env := doJSON(t, app, http.MethodGet, "/dashboard?recent=1", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var dash dto.DashboardResponse
	require.NoError(t, json.Unmarshal(env.Data, &dash))
	assert.Equal(t, 2, dash.Total)
	assert.Equal(t, 2, dash.StatusDistribution["OPEN"])
	assert.Equal(t, 0, dash.StatusDistribution["RESOLVED"])
	assert.Equal(t, 2, dash.PriorityDistribution["HIGH"])
	assert.Len(t, dash.ResolutionTime, 4)
	assert.Len(t, dash.Recent, 1)

	resp, env = doJSON(t, app, http.MethodGet, "/dashboard?recent=zero", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apperrors.CodeValidation, env.Error.Code)
}

func TestExport(t *testing.T) {
	app := newTestApp(t)
	userToken := register(t, app, "User", "user@example.com", domain.RoleUser)
	resp, _ := doJSON(t, app, http.MethodPost, "/tickets", userToken, dto.CreateTicketRequest{
		Title:       "Quote",
		Description: `He said "hi"`,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/tickets/export", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+userToken)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get(fiber.HeaderContentType))
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), "tickets_export_2024-01-20.csv")
	assert.Equal(t, "1", resp.Header.Get("X-Total-Count"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(body), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], `"He said ""hi"""`)
	assert.Contains(t, lines[1], `"MEDIUM"`)
}

func TestListTicketsFilterQuery(t *testing.T) {
	app := newTestApp(t)
	adminToken := register(t, app, "Admin", "admin@example.com", domain.RoleAdmin)
	userToken := register(t, app, "User", "user@example.com", domain.RoleUser)
	first := createTicket(t, app, userToken, "First")
	second := createTicket(t, app, userToken, "Second")
	resp, _ := doJSON(t, app, http.MethodPost, "/tickets", userToken, dto.CreateTicketRequest{
		Title:       "Third",
		Description: "low priority",
		Priority:    domain.TicketPriorityLow,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPatch, "/tickets/"+second.ID+"/status", adminToken,
		dto.UpdateStatusRequest{Status: domain.TicketStatusResolved})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	tests := []struct {
		name   string
		query  string
		titles []string
	}{
		{"no filter", "", []string{"First", "Second", "Third"}},
		{"status", "?status=resolved", []string{"Second"}},
		{"status list", "?status=OPEN,%20RESOLVED", []string{"First", "Second", "Third"}},
		{"priority", "?priority=HIGH", []string{"First", "Second"}},
		{"both", "?status=OPEN&priority=HIGH", []string{"First"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, env := doJSON(t, app, http.MethodGet, "/tickets"+tt.query, userToken, nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			var got []dto.TicketResponse
			require.NoError(t, json.Unmarshal(env.Data, &got))
			titles := make([]string, 0, len(got))
			for _, ticket := range got {
				titles = append(titles, ticket.Title)
			}
			assert.Equal(t, tt.titles, titles)
		})
	}

	resp, env := doJSON(t, app, http.MethodGet, "/tickets?status=CLOSED", userToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apperrors.CodeValidation, env.Error.Code)

	req := httptest.NewRequest(http.MethodGet, "/tickets/export?status=OPEN&priority=HIGH", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+adminToken)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("X-Total-Count"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"`+first.ID+`"`)
}

func TestErrorMiddlewareRecoversPanics(t *testing.T) {
	app := fiber.New()
	RegisterMiddlewares(app, nopLogger(), nil, time.Second)
	app.Get("/boom", func(c *fiber.Ctx) error { panic("boom") })
	app.Get("/slow", func(c *fiber.Ctx) error {
		<-c.UserContext().Done()
		return c.UserContext().Err()
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/nope", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/slow", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestErrorMetricsUseRoutePattern(t *testing.T) {
	metrics := observability.NewMetrics()
	app := fiber.New()
	RegisterMiddlewares(app, nopLogger(), metrics, 0)
	app.Get("/tickets/:id", func(c *fiber.Ctx) error {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": c.Params("id")})
	})

	for _, path := range []string{"/tickets/a", "/tickets/b", "/tickets/c", "/missing/1", "/missing/2"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	}

	errs := metrics.Snapshot().Errors
	assert.Equal(t, int64(3), errs["/tickets/:id|GET|"+apperrors.CodeNotFound])
	for key := range errs {
		assert.NotContains(t, key, "/tickets/a")
		assert.NotContains(t, key, "/missing/")
	}
}

func TestToDomainErrorMapsContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()
	assert.Equal(t, http.StatusGatewayTimeout, toDomainError(ctx.Err()).HTTPStatus)
	assert.Equal(t, apperrors.CodeNotFound, toDomainError(fiber.ErrNotFound).Code)
}
