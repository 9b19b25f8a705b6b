package upstream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaos-gateway/config"
	"chaos-gateway/gremlin"
	"chaos-gateway/headers"
)

func newService(t *testing.T, cfg config.Fault) *Service {
	t.Helper()
	engine, err := gremlin.New(cfg)
	require.NoError(t, err)
	return New(engine)
}

func TestEchoReportsRequest(t *testing.T) {
	handler := newService(t, config.Fault{}).Handler()

	req := httptest.NewRequest(http.MethodPost, "/orders?limit=5", strings.NewReader(`{"sku":"abc"}`))
	req.Header.Set(headers.RequestID, "req-1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "closed", rr.Header().Get(headers.CircuitState))
	assert.Equal(t, "req-1", rr.Header().Get(headers.RequestID))

	var echo echoResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &echo))
	assert.Equal(t, http.MethodPost, echo.Method)
	assert.Equal(t, "/orders", echo.Path)
	assert.Equal(t, "limit=5", echo.Query)
	assert.Equal(t, `{"sku":"abc"}`, echo.Body)
	assert.Equal(t, "req-1", echo.Headers["X-Request-Id"])
}

func TestHealth(t *testing.T) {
	handler := newService(t, config.Fault{}).Handler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestIdempotencyReplay(t *testing.T) {
	handler := newService(t, config.Fault{}).Handler()

	first := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"sku":"abc"}`))
	first.Header.Set(headers.IdempotencyKey, "key-1")
	firstRec := httptest.NewRecorder()
	handler.ServeHTTP(firstRec, first)

	assert.Empty(t, firstRec.Header().Get("X-Idempotent-Replay"))

	// Same key, different body: the stored response is replayed, the handler
	// does not run again.
	second := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"sku":"changed"}`))
	second.Header.Set(headers.IdempotencyKey, "key-1")
	secondRec := httptest.NewRecorder()
	handler.ServeHTTP(secondRec, second)

	assert.Equal(t, "true", secondRec.Header().Get("X-Idempotent-Replay"))
	assert.Equal(t, firstRec.Body.String(), secondRec.Body.String())
	assert.Equal(t, firstRec.Code, secondRec.Code)
}

func TestIdempotencyDistinctKeys(t *testing.T) {
	handler := newService(t, config.Fault{}).Handler()

	for _, key := range []string{"key-a", "key-b"} {
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{}`))
		req.Header.Set(headers.IdempotencyKey, key)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Empty(t, rr.Header().Get("X-Idempotent-Replay"))
	}
}

func TestRequestsWithoutKeyAreNeverCached(t *testing.T) {
	handler := newService(t, config.Fault{}).Handler()

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{}`)))
		assert.Empty(t, rr.Header().Get("X-Idempotent-Replay"))
	}
}

func TestChaosDelayReportedThroughService(t *testing.T) {
	handler := newService(t, config.Fault{Enabled: true, Frequency: 1, MinDelayMs: 5, MaxDelayMs: 5}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set(headers.RequestID, "req-1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "5", rr.Header().Get(headers.GremlinDelayMs))
}
