package gateway

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
	"chaos-gateway/upstream"
)

// Full chain: client -> gateway -> upstream service with chaos enabled. The
// upstream consults the gremlin engine before answering; the gateway relays
// the chaos evidence without reading the upstream's configuration.
func TestGatewayToUpstreamWithChaos(t *testing.T) {
	engine, err := gremlin.New(config.Fault{Enabled: true, Frequency: 1, MinDelayMs: 5, MaxDelayMs: 15})
	require.NoError(t, err)

	upstreamServer := httptest.NewServer(upstream.New(engine).Handler())
	defer upstreamServer.Close()

	gw, err := New(&config.Proxy{
		Target:       upstreamServer.URL,
		PathRewrites: []config.Rewrite{{Pattern: "^/api", Replacement: ""}},
		TimeoutMs:    2000,
	}, nil)
	require.NoError(t, err)

	gatewayServer := httptest.NewServer(gw)
	defer gatewayServer.Close()

	req, err := http.NewRequest(http.MethodPost, gatewayServer.URL+"/api/orders?limit=5", strings.NewReader(`{"sku":"abc"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headers.RequestID, "req-1")
	req.Header.Set("X-Internal-Secret", "do-not-leak")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Chaos evidence and breaker state pass through the outbound allow-list.
	delay := resp.Header.Get(headers.GremlinDelayMs)
	require.NotEmpty(t, delay, "frequency 1 must delay every identified request")
	assert.Equal(t, "closed", resp.Header.Get(headers.CircuitState))
	assert.Equal(t, "req-1", resp.Header.Get(headers.RequestID))
	assert.NotEmpty(t, resp.Header.Get(headers.GatewayTimeMs))

	var echo struct {
		Method  string            `json:"method"`
		Path    string            `json:"path"`
		Query   string            `json:"query"`
		Headers map[string]string `json:"headers"`
		Body    string            `json:"body"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&echo))

	assert.Equal(t, http.MethodPost, echo.Method)
	assert.Equal(t, "/orders", echo.Path)
	assert.Equal(t, "limit=5", echo.Query)
	assert.JSONEq(t, `{"sku":"abc"}`, echo.Body)

	// The boundary held: the internal header never reached the upstream.
	assert.NotContains(t, echo.Headers, "X-Internal-Secret")
	assert.Equal(t, "req-1", echo.Headers["X-Request-Id"])
	assert.Equal(t, "unknown", echo.Headers["X-Forwarded-For"])
}

// Retries that reuse an idempotency key get the stored response back through
// the gateway, even though deduplication is entirely the upstream's job.
func TestIdempotentRetryThroughGateway(t *testing.T) {
	engine, err := gremlin.New(config.Fault{})
	require.NoError(t, err)

	upstreamServer := httptest.NewServer(upstream.New(engine).Handler())
	defer upstreamServer.Close()

	gw, err := New(&config.Proxy{Target: upstreamServer.URL, TimeoutMs: 2000}, nil)
	require.NoError(t, err)

	gatewayServer := httptest.NewServer(gw)
	defer gatewayServer.Close()

	send := func(body string) string {
		req, err := http.NewRequest(http.MethodPost, gatewayServer.URL+"/orders", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(headers.IdempotencyKey, "order-42")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		var echo struct {
			Body string `json:"body"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&echo))
		return echo.Body
	}

	first := send(`{"sku":"abc"}`)
	second := send(`{"sku":"changed"}`)
	assert.Equal(t, first, second)
}
