package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sicet-backend-go/internal/config"
	"sicet-backend-go/internal/models"
	"sicet-backend-go/internal/services"
)

const testProfileID = "7d3f8a52-2c1e-4c55-9a0e-3b1d2f6c9e10"

type emptyOverdueStore struct{}

func (emptyOverdueStore) OpenTodolists(context.Context, time.Time) ([]services.OverdueCandidate, error) {
	return nil, nil
}

func (emptyOverdueStore) Recipients(context.Context, string, string) ([]string, error) {
	return nil, nil
}

func (emptyOverdueStore) ClaimTodolistAlert(context.Context, string, string, []string, time.Time) (string, bool, error) {
	return "", false, nil
}

func (emptyOverdueStore) MarkTodolistAlertSent(context.Context, string, time.Time) error {
	return nil
}

func (emptyOverdueStore) MarkTodolistAlertFailed(context.Context, string, string) error {
	return nil
}

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	cfg := config.Config{
		JWTSecret:          "test-secret",
		JWTIssuer:          "sicet",
		AccessTTLSeconds:   3600,
		RefreshTTLSeconds:  7200,
		CronSecret:         "cron-secret",
		LoginRatePerMinute: 2,
	}
	clock := services.NewClock(time.UTC)
	server := NewServer(sqlx.NewDb(mockDB, "sqlmock"), cfg, clock, Services{
		Overdue: &services.OverdueProcessor{
			Store:   emptyOverdueStore{},
			Locker:  services.NewLocalLocker(),
			Clock:   clock,
			Logger:  zap.NewNop(),
			Workers: 1,
		},
	}, zap.NewNop())
	return server, mock
}

func expectCaller(mock sqlmock.Sqlmock, role string) {
	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM profiles WHERE id = \\$1").
		WithArgs(testProfileID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "role", "status", "auth_id", "password_hash", "created_at", "updated_at", "last_login_at"}).
			AddRow(testProfileID, "user@example.com", role, models.ProfileActivated, nil, nil, now, now, nil))
}

func accessToken(t *testing.T, server *Server, role string) string {
	t.Helper()
	pair, err := server.Tokens.IssuePair(testProfileID, "user@example.com", role)
	require.NoError(t, err)
	return pair.AccessToken
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestExportRejectsInvalidRequestsBeforeQuerying(t *testing.T) {
	server, mock := newTestServer(t)
	router := server.Router()
	token := accessToken(t, server, models.RoleAdmin)

	cases := []struct {
		path    string
		message string
	}{
		{"/api/export/todolists.csv", "startDate and endDate are required"},
		{"/api/export/tasks.json?startDate=2024-02-10&endDate=2024-02-01", "startDate must not be after endDate"},
		{"/api/export/devices.pdf", "Unsupported export format"},
		{"/api/export/reports.csv", "Unsupported export type"},
		{"/api/export/devices.csv?deviceId=nope", "Invalid device id"},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			expectCaller(mock, models.RoleAdmin)
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.message, errorMessage(t, rec))
			assert.Empty(t, rec.Header().Get("Content-Disposition"))
		})
	}
	// Only the caller lookups ran.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExportForbiddenForOperators(t *testing.T) {
	server, mock := newTestServer(t)
	expectCaller(mock, models.RoleOperator)

	req := httptest.NewRequest(http.MethodGet, "/api/export/devices.csv", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken(t, server, models.RoleOperator))
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Not allowed", errorMessage(t, rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProtectedRoutesRejectMissingOrWrongTokens(t *testing.T) {
	server, mock := newTestServer(t)
	router := server.Router()
	pair, err := server.Tokens.IssuePair(testProfileID, "user@example.com", models.RoleAdmin)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":       "",
		"not bearer":    "Basic abc",
		"refresh token": "Bearer " + pair.RefreshToken,
		"garbage":       "Bearer not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCronRequiresSharedSecret(t *testing.T) {
	server, _ := newTestServer(t)
	router := server.Router()

	for _, header := range []string{"", "Bearer wrong", "cron-secret"} {
		req := httptest.NewRequest(http.MethodPost, "/api/cron/overdue-alerts", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/cron/overdue-alerts", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result services.OverdueResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 0, result.Processed)
	assert.Empty(t, result.Details)
}

func TestRequireCronSecretRejectsEverythingWhenUnset(t *testing.T) {
	handler := RequireCronSecret("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginIsRateLimited(t *testing.T) {
	server, _ := newTestServer(t)
	router := server.Router()

	codes := []int{}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader("not json"))
		req.RemoteAddr = "10.0.0.7:5555"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusTooManyRequests}, codes)

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader("not json"))
	req.RemoteAddr = "10.0.0.8:5555"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWithAuthAndRequire(t *testing.T) {
	tokens := NewTokenService(config.Config{JWTSecret: "s", JWTIssuer: "sicet", AccessTTLSeconds: 60, RefreshTTLSeconds: 60})
	resolve := func(_ context.Context, profileID string) (services.Caller, error) {
		if profileID != testProfileID {
			return services.Caller{}, services.ErrUnauthorized("Authentication failed")
		}
		return services.Caller{ID: profileID, Role: models.RoleReferrer, Status: models.ProfileActivated}, nil
	}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"id": CurrentUserID(r)})
	})
	chain := func(resource services.Resource, action services.Action) http.Handler {
		return WithAuth(tokens, resolve)(Require(resource, action)(ok))
	}
	pair, err := tokens.IssuePair(testProfileID, "ref@example.com", models.RoleReferrer)
	require.NoError(t, err)

	call := func(h http.Handler) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := call(chain(services.ResourceTemplates, services.ActionWrite))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), testProfileID)

	assert.Equal(t, http.StatusForbidden, call(chain(services.ResourceUsers, services.ActionRead)).Code)
	assert.Equal(t, http.StatusForbidden, call(chain(services.ResourceTasks, services.ActionWrite)).Code)

	other, err := tokens.IssuePair("00000000-0000-0000-0000-000000000000", "x@example.com", models.RoleAdmin)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+other.AccessToken)
	rec = httptest.NewRecorder()
	chain(services.ResourceDevices, services.ActionRead).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDashboardSocketRequiresToken(t *testing.T) {
	server, mock := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/dashboard", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
