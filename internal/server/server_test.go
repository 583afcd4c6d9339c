package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/smallbiznis/hookrelay/internal/breaker"
	"github.com/smallbiznis/hookrelay/internal/clock"
	"github.com/smallbiznis/hookrelay/internal/config"
	eventrepo "github.com/smallbiznis/hookrelay/internal/event/repository"
	eventservice "github.com/smallbiznis/hookrelay/internal/event/service"
	"github.com/smallbiznis/hookrelay/internal/gateway"
	"github.com/smallbiznis/hookrelay/internal/migration"
	"github.com/smallbiznis/hookrelay/internal/queue"
	recrepo "github.com/smallbiznis/hookrelay/internal/records/repository"
	"github.com/smallbiznis/hookrelay/internal/router"
	"github.com/smallbiznis/hookrelay/internal/session"
	"github.com/smallbiznis/hookrelay/internal/shutdown"
)

const (
	testSecret   = "whsec_test"
	testAdminKey = "admin_test_key"
)

type nopGateway struct{}

func (nopGateway) FetchEntity(ctx context.Context, kind, id string) (map[string]interface{}, error) {
	return nil, gateway.ErrNotFound
}

func newTestServer(t *testing.T) (*Server, *shutdown.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, migration.Run(db))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	registry := breaker.NewRegistry()
	dbBreaker := registry.Register(breaker.New(breaker.Settings{Name: "database", FailureThreshold: 10, ResetTimeout: 15 * time.Second, Expected: []error{gorm.ErrRecordNotFound}}, clk, log))
	redisBreaker := registry.Register(breaker.New(breaker.Settings{Name: "redis", FailureThreshold: 5, ResetTimeout: 10 * time.Second}, clk, log))

	q := queue.New(rdb, redisBreaker, clk, log, config.QueueTunables{
		Concurrency: 1, PollInterval: 10 * time.Millisecond, LeaseDuration: time.Minute,
		SweepInterval: time.Second, MaxAttempts: 3, BackoffBase: time.Second,
		BackoffCap: time.Minute, JobTimeout: 5 * time.Second,
		CompletedRetention: 10, FailedRetention: 10,
	})
	sessions := session.NewStore(rdb, redisBreaker, clk, log, 24*time.Hour)
	rt := router.New(db, recrepo.Provide(), nopGateway{}, sessions, dbBreaker, clk, log)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	eventSvc := eventservice.New(db, eventrepo.Provide(), q, rt, dbBreaker, clk, log, node, testSecret)

	orch := shutdown.New(log, config.ShutdownTunables{CallbackTimeout: time.Second, GlobalTimeout: 5 * time.Second})

	srv := NewServer(Params{
		Engine:   NewEngine(),
		Config:   config.Config{HTTPAddr: ":0", AdminAPIKey: testAdminKey, WebhookSecret: testSecret},
		Log:      log,
		EventSvc: eventSvc,
		Queue:    q,
		Sessions: sessions,
		Breakers: registry,
		Shutdown: orch,
	})
	return srv, orch
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(srv *Server, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewReader(body))
	req.Header.Set(signatureHeader, signature)
	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)
	return w
}

const capturedBody = `{"entity":"event","id":"evt_1","event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1","amount":5000}}}}`

func TestWebhookAcceptedAndDeduped(t *testing.T) {
	srv, _ := newTestServer(t)
	body := []byte(capturedBody)

	w := postWebhook(srv, body, sign(body))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"accepted"}`, w.Body.String())

	w = postWebhook(srv, body, sign(body))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"duplicate"}`, w.Body.String())
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	srv, _ := newTestServer(t)
	body := []byte(capturedBody)

	w := postWebhook(srv, body, "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var resp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_signature", resp.Error.Type)
	// Sanitized: no internal detail leaks.
	assert.NotContains(t, w.Body.String(), "hmac")
}

func TestWebhookRefusedWhileDraining(t *testing.T) {
	srv, orch := newTestServer(t)
	require.NoError(t, orch.Shutdown())

	body := []byte(capturedBody)
	w := postWebhook(srv, body, sign(body))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "draining")
}

func TestAdminRequiresKey(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/queue/stats", nil)
	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/queue/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminQueueStats(t *testing.T) {
	srv, _ := newTestServer(t)
	body := []byte(capturedBody)
	postWebhook(srv, body, sign(body))

	req := httptest.NewRequest(http.MethodGet, "/admin/queue/stats", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminKey)
	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var stats queue.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Waiting)
}

func TestAdminBreakerSnapshots(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/breakers", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminKey)
	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database"`)
	assert.Contains(t, w.Body.String(), `"redis"`)
	assert.Contains(t, w.Body.String(), `"closed"`)
}

func TestAdminReplayUnknownEvent(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/events/evt_missing/replay", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminKey)
	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminInvalidateSessions(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := bytes.NewBufferString(`{"account_id":"acc_1"}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/sessions/invalidate", payload)
	req.Header.Set("Authorization", "Bearer "+testAdminKey)
	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	assert.True(t, srv.sessions.IsAccountInvalidated(context.Background(), "acc_1", time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC)))
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
