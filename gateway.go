// Package gateway provides the inter-service proxy that fronts downstream
// microservices: path rewriting, header allow-listing, timeout enforcement
// and failure classification.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"chaos-gateway/config"
	"chaos-gateway/headers"
	"chaos-gateway/logger"
	"chaos-gateway/metrics"
)

var errNilConfig = errors.New("empty configuration")

// rewriteRule is one compiled path-rewrite entry. Rules run in configuration
// order, each against the output of the previous one.
type rewriteRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Gateway forwards client requests to a single upstream service. It
// implements http.Handler. The configuration is compiled at construction and
// read-only afterwards, so one Gateway may serve concurrent requests without
// locking.
type Gateway struct {
	target   *url.URL
	rewrites []rewriteRule
	timeout  time.Duration
	client   *http.Client
	logger   logger.Logger
	metrics  *metrics.Gateway
}

// New creates a gateway for the given proxy configuration. Invalid targets
// and rewrite patterns are rejected here, never at request time. The metrics
// argument may be nil.
func New(cfg *config.Proxy, m *metrics.Gateway) (*Gateway, error) {
	if cfg == nil {
		return nil, errNilConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid proxy config: %w", err)
	}

	target, err := url.Parse(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL: %w", err)
	}

	rewrites := make([]rewriteRule, 0, len(cfg.PathRewrites))
	for _, r := range cfg.PathRewrites {
		pattern, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pathRewrite pattern %q: %w", r.Pattern, err)
		}
		rewrites = append(rewrites, rewriteRule{pattern: pattern, replacement: r.Replacement})
	}

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if cfg.TimeoutMs <= 0 {
		timeout = config.DefaultTimeoutMs * time.Millisecond
	}

	return &Gateway{
		target:   target,
		rewrites: rewrites,
		timeout:  timeout,
		// The per-request context carries the deadline; the client itself
		// must not impose a second one.
		client:  &http.Client{},
		logger:  logger.NewLogger("gateway"),
		metrics: m,
	}, nil
}

// requestContext is the ephemeral per-request state: built when the request
// arrives, discarded once the response is written. Nothing in it outlives
// the request.
type requestContext struct {
	method     string
	path       string
	header     http.Header
	body       []byte
	receivedAt time.Time
	requestID  string
}

// ServeHTTP implements the http.Handler interface.
func (g *Gateway) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	rc, err := g.newRequestContext(req)
	if err != nil {
		g.logger.Errorf("error reading request body: %v", err)
		http.Error(rw, "Error reading request body", http.StatusBadRequest)
		return
	}
	g.forward(rw, req, rc)
}

// newRequestContext buffers the inbound request and applies the boundary
// rules: path rewriting, the inbound header allow-list and body shaping.
func (g *Gateway) newRequestContext(req *http.Request) (*requestContext, error) {
	rc := &requestContext{
		method:     req.Method,
		path:       g.rewritePath(req.URL.Path),
		header:     headers.FilterInbound(req.Header),
		receivedAt: time.Now(),
	}

	rc.requestID = req.Header.Get(headers.RequestID)
	if rc.requestID == "" {
		rc.requestID = uuid.NewString()
		rc.header.Set(headers.RequestID, rc.requestID)
	}

	if req.Body != nil {
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		rc.body = shapeBody(req.Method, req.Header.Get("Content-Type"), raw)
	}
	return rc, nil
}

// rewritePath applies every configured rewrite in order; the result of one
// substitution feeds the next.
func (g *Gateway) rewritePath(path string) string {
	for _, r := range g.rewrites {
		path = r.pattern.ReplaceAllString(path, r.replacement)
	}
	return path
}

// shapeBody normalizes the body forwarded upstream. JSON bodies are decoded
// and re-encoded; everything else passes through as-is. GET and HEAD carry no
// body. Binary-exact round-trips are not guaranteed for JSON payloads: key
// order and whitespace may change.
func shapeBody(method, contentType string, raw []byte) []byte {
	if method == http.MethodGet || method == http.MethodHead {
		return nil
	}
	if len(raw) == 0 || !strings.Contains(strings.ToLower(contentType), "json") {
		return raw
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		// Malformed JSON under a JSON content type is forwarded untouched;
		// the upstream owns rejecting it.
		return raw
	}
	reencoded, err := json.Marshal(decoded)
	if err != nil {
		return raw
	}
	return reencoded
}

func (g *Gateway) forward(rw http.ResponseWriter, req *http.Request, rc *requestContext) {
	ctx, cancel := context.WithTimeout(req.Context(), g.timeout)
	defer cancel()

	proxyReq, err := g.createProxyRequest(ctx, req, rc)
	if err != nil {
		g.logger.Errorf("error creating proxy request: %v", err)
		http.Error(rw, "Error creating proxy request", http.StatusInternalServerError)
		return
	}

	g.logger.Debugf("forwarding %s %s to %s (request %s)", rc.method, req.URL.Path, proxyReq.URL, rc.requestID)

	resp, err := g.client.Do(proxyReq)
	if err != nil {
		g.writeUpstreamError(rw, rc, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		g.writeUpstreamError(rw, rc, err)
		return
	}

	elapsed := time.Since(rc.receivedAt)
	for key, values := range headers.FilterOutbound(resp.Header) {
		for _, value := range values {
			rw.Header().Add(key, value)
		}
	}
	rw.Header().Set(headers.GatewayTimeMs, strconv.FormatInt(elapsed.Milliseconds(), 10))
	rw.WriteHeader(resp.StatusCode)
	_, _ = rw.Write(respBody)

	g.observe(rc.method, resp.StatusCode, elapsed)
}

// createProxyRequest builds the upstream request: rewritten path on the
// target origin, query string unchanged, allow-listed headers plus the
// injected forwarding headers.
func (g *Gateway) createProxyRequest(ctx context.Context, req *http.Request, rc *requestContext) (*http.Request, error) {
	upstreamURL := g.target.Scheme + "://" + g.target.Host + rc.path
	if req.URL.RawQuery != "" {
		upstreamURL += "?" + req.URL.RawQuery
	}

	var body io.Reader
	if len(rc.body) > 0 {
		body = bytes.NewReader(rc.body)
	}
	proxyReq, err := http.NewRequestWithContext(ctx, rc.method, upstreamURL, body)
	if err != nil {
		return nil, err
	}

	proxyReq.Header = rc.header
	injectForwardingHeaders(proxyReq.Header, req)
	proxyReq.Host = g.target.Host
	return proxyReq, nil
}

// injectForwardingHeaders sets the standard X-Forwarded-* trio on the
// upstream request.
func injectForwardingHeaders(h http.Header, req *http.Request) {
	forwardedFor := req.Header.Get(headers.ForwardedFor)
	if forwardedFor == "" {
		forwardedFor = req.Header.Get("X-Real-Ip")
	}
	if forwardedFor == "" {
		forwardedFor = "unknown"
	}
	h.Set(headers.ForwardedFor, forwardedFor)
	h.Set(headers.ForwardedHost, req.Host)

	proto := req.Header.Get(headers.ForwardedProto)
	if proto == "" {
		proto = "http"
	}
	h.Set(headers.ForwardedProto, proto)
}

// upstreamError is the JSON body returned for gateway-originated failures.
type upstreamError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Service string `json:"service"`
	Elapsed int64  `json:"elapsed"`
}

// writeUpstreamError classifies a forwarding failure and renders the
// structured error response. Timeouts become 504, everything else 502. No
// retry happens here; the caller decides whether to try again. On timeout the
// in-flight upstream call is merely abandoned, the upstream service may keep
// working after the client has its 504.
func (g *Gateway) writeUpstreamError(rw http.ResponseWriter, rc *requestContext, err error) {
	elapsed := time.Since(rc.receivedAt)

	status := http.StatusBadGateway
	title := "Bad Gateway"
	kind := "unreachable"
	if isTimeout(err) {
		status = http.StatusGatewayTimeout
		title = "Gateway Timeout"
		kind = "timeout"
	}

	g.logger.Errorf("upstream %s failed after %dms (%s %s, request %s): %v",
		g.target.Hostname(), elapsed.Milliseconds(), rc.method, rc.path, rc.requestID, err)
	if g.metrics != nil {
		g.metrics.UpstreamErrorsTotal.WithLabelValues(kind).Inc()
	}

	body := upstreamError{
		Error:   title,
		Message: err.Error(),
		Service: g.target.Hostname(),
		Elapsed: elapsed.Milliseconds(),
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.Header().Set(headers.GatewayTimeMs, strconv.FormatInt(elapsed.Milliseconds(), 10))
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(body)

	g.observe(rc.method, status, elapsed)
}

// isTimeout reports whether a forwarding failure was caused by the deadline
// rather than an unreachable upstream.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (g *Gateway) observe(method string, status int, elapsed time.Duration) {
	if g.metrics == nil {
		return
	}
	g.metrics.RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	g.metrics.RequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
