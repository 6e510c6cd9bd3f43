package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"helpdesk-sync/internal/handler"
	"helpdesk-sync/internal/realtime"
	"helpdesk-sync/internal/repository"
	"helpdesk-sync/internal/storage"
	"helpdesk-sync/internal/webhook"
	"helpdesk-sync/pkg/config"
	"helpdesk-sync/pkg/rbac"
	"helpdesk-sync/pkg/util"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestRouter(t *testing.T, db Pinger) *Router {
	t.Helper()
	logger := zap.NewNop()
	store := repository.NewMemoryStore()
	hub := realtime.NewHub(config.RealtimeConfig{}, logger)
	router := webhook.NewRouter(nil, store, nil, config.WebhookConfig{}, logger)

	return NewRouter(Handlers{
		Webhook: handler.NewWebhookHandler(router, logger),
		WS:      handler.NewWSHandler(hub),
		Ticket:  handler.NewTicketHandler(nil, store, logger),
		Deal:    handler.NewDealHandler(store, storage.NewMemoryStore("test"), hub, 0, logger),
		Admin:   handler.NewAdminHandler(store, router, nil, logger),
	}, testSecret, db)
}

func token(t *testing.T, uid int64, role string) string {
	t.Helper()
	tok, err := util.GenerateJWT(uid, role, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func serve(r *Router, method, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	return w
}

func TestHealthAndReadiness(t *testing.T) {
	r := newTestRouter(t, nil)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodHead, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/readyz", "").Code)

	down := newTestRouter(t, pingFunc(func(ctx context.Context) error { return errors.New("connection refused") }))
	w := serve(down, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "db_not_ready")
}

func TestMetricsEndpoint(t *testing.T) {
	w := serve(newTestRouter(t, nil), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestWebhookRoutesAreOpen(t *testing.T) {
	r := newTestRouter(t, nil)
	for _, path := range []string{"/webhook/crm", "/webhook-bitrix24"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("event=ONCRMDEALUPDATE"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		r.Engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "OK", w.Body.String(), path)
	}
}

func TestAuthMiddleware(t *testing.T) {
	r := newTestRouter(t, nil)

	w := serve(r, http.MethodGet, "/deals/1", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "missing token")

	w = serve(r, http.MethodGet, "/deals/1", "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid token")

	other, err := util.GenerateJWT(1, rbac.RoleUser, "another-secret", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/deals/1", other).Code)

	// 认证通过后到达处理器
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/deals/1", token(t, 1, rbac.RoleUser)).Code)

	// websocket 客户端通过查询参数带 token
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/deals/1?token="+token(t, 1, rbac.RoleUser), "").Code)
}

func TestRequirePermission(t *testing.T) {
	r := newTestRouter(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		role   string
		want   int
	}{
		{"user cannot list failures", http.MethodGet, "/admin/failed-events", rbac.RoleUser, http.StatusForbidden},
		{"agent cannot list failures", http.MethodGet, "/admin/failed-events", rbac.RoleAgent, http.StatusForbidden},
		{"admin lists failures", http.MethodGet, "/admin/failed-events", rbac.RoleAdmin, http.StatusOK},
		{"user cannot replay outbox", http.MethodPost, "/admin/outbox/replay?id=1", rbac.RoleUser, http.StatusForbidden},
		{"admin outbox disabled", http.MethodPost, "/admin/outbox/replay?id=1", rbac.RoleAdmin, http.StatusServiceUnavailable},
		{"user cannot open dashboard", http.MethodGet, "/ws/notifications", rbac.RoleUser, http.StatusForbidden},
		{"unknown role acts as user", http.MethodGet, "/admin/failed-events", "guest", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, tt.method, tt.path, token(t, 5, tt.role))
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestRequirePermission_WithoutAuth(t *testing.T) {
	r := gin.New()
	r.GET("/x", RequirePermission(rbac.PermissionTicketRead), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDealRoomRejectsBadID(t *testing.T) {
	w := serve(newTestRouter(t, nil), http.MethodGet, "/ws/abc/-", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTraceIDHeader(t *testing.T) {
	r := newTestRouter(t, nil)

	w := serve(r, http.MethodGet, "/healthz", "")
	assert.Len(t, w.Header().Get("X-Trace-ID"), 32)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Trace-ID", "upstream-trace")
	w = httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	assert.Equal(t, "upstream-trace", w.Header().Get("X-Trace-ID"))
}
