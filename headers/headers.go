// Package headers defines the explicit header contract enforced at the
// gateway boundary. Only headers enumerated here may cross the boundary;
// everything else is dropped before a request leaves the gateway or a
// response reaches the client. Adding a header to either direction means
// extending this package and its tests.
package headers

import "net/http"

// Canonical names for the headers the gateway injects or relays.
const (
	RequestID      = "X-Request-Id"
	IdempotencyKey = "X-Idempotency-Key"
	CircuitState   = "X-Circuit-State"
	GremlinDelayMs = "X-Gremlin-Delay-Ms"
	GatewayTimeMs  = "X-Gateway-Time-Ms"
	ForwardedFor   = "X-Forwarded-For"
	ForwardedHost  = "X-Forwarded-Host"
	ForwardedProto = "X-Forwarded-Proto"
)

// inboundAllowed lists the client headers forwarded to the upstream service.
var inboundAllowed = map[string]bool{
	"Content-Type":      true,
	"Authorization":     true,
	"X-Idempotency-Key": true,
	"X-Request-Id":      true,
	"Accept":            true,
}

// outboundAllowed lists the upstream response headers relayed to the client.
var outboundAllowed = map[string]bool{
	"Content-Type":       true,
	"X-Circuit-State":    true,
	"X-Gremlin-Delay-Ms": true,
	"X-Request-Id":       true,
}

// FilterInbound returns a copy of h containing only the headers permitted to
// travel from the client to the upstream service.
func FilterInbound(h http.Header) http.Header {
	return filter(h, inboundAllowed)
}

// FilterOutbound returns a copy of h containing only the headers permitted to
// travel from the upstream service back to the client.
func FilterOutbound(h http.Header) http.Header {
	return filter(h, outboundAllowed)
}

func filter(h http.Header, allowed map[string]bool) http.Header {
	filtered := make(http.Header)
	for name, values := range h {
		if !allowed[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			filtered.Add(name, v)
		}
	}
	return filtered
}

// InboundAllowed reports whether a client header may be forwarded upstream.
func InboundAllowed(name string) bool {
	return inboundAllowed[http.CanonicalHeaderKey(name)]
}

// OutboundAllowed reports whether an upstream response header may be relayed
// to the client.
func OutboundAllowed(name string) bool {
	return outboundAllowed[http.CanonicalHeaderKey(name)]
}
