// Package gremlin implements deterministic fault injection for downstream
// services. The inject/no-inject decision is a pure function of the request
// identifier, so a chaos scenario can be replayed; the delay magnitude is
// random jitter drawn fresh on every injection.
package gremlin

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"chaos-gateway/config"
	"chaos-gateway/headers"
	"chaos-gateway/logger"
)

// Engine decides whether and how long to delay a request. The configuration
// is copied at construction and never mutated afterwards; independent engines
// with different configurations can coexist in one process.
type Engine struct {
	cfg    config.Fault
	logger logger.Logger
}

// New creates a fault injection engine. A non-positive frequency on an
// enabled configuration is rejected here; the engine never fails at call
// time.
func New(cfg config.Fault) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fault injection config: %w", err)
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.NewLogger("gremlin"),
	}, nil
}

// ShouldInjectDelay reports whether the request identified by requestID is
// selected for delay injection. The decision is derived from an FNV-1a hash
// of the identifier, selecting roughly one in Frequency requests; calling it
// twice with the same identifier always yields the same answer.
func (e *Engine) ShouldInjectDelay(requestID string) bool {
	if !e.cfg.Enabled {
		return false
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(requestID))
	return h.Sum32()%uint32(e.cfg.Frequency) == 0
}

// DelayMagnitude returns a delay in milliseconds drawn uniformly at random
// from the inclusive range [MinDelayMs, MaxDelayMs]. Deliberately not a
// function of the request identifier: the decision to inject is reproducible,
// the jitter is not.
func (e *Engine) DelayMagnitude() int {
	span := e.cfg.MaxDelayMs - e.cfg.MinDelayMs
	if span <= 0 {
		return e.cfg.MinDelayMs
	}
	return e.cfg.MinDelayMs + rand.Intn(span+1)
}

// Middleware wraps next with the engine's usage contract: decide once per
// request, suspend once, and report the actual delay via X-Gremlin-Delay-Ms
// so observers can verify injected chaos without reading the service
// configuration. Requests without an X-Request-Id are never delayed; the
// gateway always supplies one.
func (e *Engine) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headers.RequestID)
		if requestID != "" && e.ShouldInjectDelay(requestID) {
			delay := e.DelayMagnitude()
			e.logger.Warnf("injecting %dms delay for request %s", delay, requestID)
			time.Sleep(time.Duration(delay) * time.Millisecond)
			w.Header().Set(headers.GremlinDelayMs, strconv.Itoa(delay))
		}
		next.ServeHTTP(w, r)
	})
}
