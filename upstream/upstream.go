// Package upstream provides a demonstration downstream service for the
// gateway: a JSON echo handler wrapped with gremlin fault injection and
// idempotency replay. It exists so the gateway's resilience behavior can be
// exercised end to end against a real HTTP collaborator.
package upstream

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"

	"chaos-gateway/gremlin"
	"chaos-gateway/headers"
	"chaos-gateway/logger"
)

const (
	replayTTL             = 24 * time.Hour
	replayCleanupInterval = 10 * time.Minute
)

// Service is a small echo service that consults the gremlin engine before
// answering and deduplicates requests carrying an idempotency key.
type Service struct {
	engine       *gremlin.Engine
	replays      *cache.Cache
	logger       logger.Logger
	circuitState string
}

// New creates an upstream service backed by the given fault injection engine.
func New(engine *gremlin.Engine) *Service {
	return &Service{
		engine:       engine,
		replays:      cache.New(replayTTL, replayCleanupInterval),
		logger:       logger.NewLogger("upstream"),
		circuitState: "closed",
	}
}

// Handler returns the service's HTTP handler with fault injection and
// idempotency replay applied.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleEcho)
	return s.engine.Middleware(s.withIdempotency(mux))
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// echoResponse reports what the service received, so tests and operators can
// see exactly what crossed the gateway boundary.
type echoResponse struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Query   string            `json:"query,omitempty"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body,omitempty"`
}

func (s *Service) handleEcho(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Errorf("error reading request body: %v", err)
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}

	received := make(map[string]string, len(r.Header))
	for name := range r.Header {
		received[name] = r.Header.Get(name)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(headers.CircuitState, s.circuitState)
	if requestID := r.Header.Get(headers.RequestID); requestID != "" {
		w.Header().Set(headers.RequestID, requestID)
	}
	_ = json.NewEncoder(w).Encode(echoResponse{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.RawQuery,
		Headers: received,
		Body:    string(body),
	})
}

// storedResponse is a buffered response kept for idempotency replay.
type storedResponse struct {
	status int
	header http.Header
	body   []byte
}

// withIdempotency replays the stored response for a previously seen
// X-Idempotency-Key instead of re-running the handler. Requests without a key
// pass straight through.
func (s *Service) withIdempotency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(headers.IdempotencyKey)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		if v, ok := s.replays.Get(key); ok {
			stored := v.(*storedResponse)
			s.logger.Infof("replaying idempotent response for key %s", key)
			writeStored(w, stored, true)
			return
		}

		buf := newCaptureWriter()
		next.ServeHTTP(buf, r)
		stored := buf.stored()
		s.replays.Set(key, stored, cache.DefaultExpiration)
		writeStored(w, stored, false)
	})
}

func writeStored(w http.ResponseWriter, stored *storedResponse, replayed bool) {
	for name, values := range stored.header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	if replayed {
		w.Header().Set("X-Idempotent-Replay", "true")
	}
	w.WriteHeader(stored.status)
	_, _ = w.Write(stored.body)
}

// captureWriter buffers a handler's response so it can be both sent and
// stored for replay.
type captureWriter struct {
	status int
	header http.Header
	body   bytes.Buffer
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{status: http.StatusOK, header: make(http.Header)}
}

func (c *captureWriter) Header() http.Header {
	return c.header
}

func (c *captureWriter) WriteHeader(status int) {
	c.status = status
}

func (c *captureWriter) Write(p []byte) (int, error) {
	return c.body.Write(p)
}

func (c *captureWriter) stored() *storedResponse {
	return &storedResponse{
		status: c.status,
		header: c.header,
		body:   c.body.Bytes(),
	}
}
