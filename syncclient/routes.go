package syncclient

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Endpoint names a logical API endpoint.
type Endpoint string

const (
	// InquiriesEndpoint lists inquiries.
	InquiriesEndpoint Endpoint = "inquiries"

	// UnreadCountEndpoint returns the unread count.
	UnreadCountEndpoint Endpoint = "unreadCount"

	// MarkReadEndpoint marks an inquiry as read.
	MarkReadEndpoint Endpoint = "markRead"

	// HealthEndpoint reports the health of the API.
	HealthEndpoint Endpoint = "health"

	// PushEndpoint is the WebSocket push channel.
	PushEndpoint Endpoint = "push"
)

// Endpoints lists every known endpoint.
var Endpoints = []Endpoint{InquiriesEndpoint, UnreadCountEndpoint, MarkReadEndpoint, HealthEndpoint, PushEndpoint}

var endpointPaths = map[Endpoint]string{
	InquiriesEndpoint:   "/inquiries",
	UnreadCountEndpoint: "/inquiries/unread/count",
	MarkReadEndpoint:    "/inquiries/%s/read",
	HealthEndpoint:      "/health",
}

// Routes maps each endpoint to the origin it's served from. Endpoints without an explicit origin use the default.
type Routes struct {
	defaultOrigin string
	origins       map[Endpoint]string
}

func normalizeOrigin(origin string) (string, error) {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", errors.Wrapf(err, "invalid origin: %s", origin)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", errors.Errorf("invalid origin: %s", origin)
	}
	return origin, nil
}

func knownEndpoint(endpoint Endpoint) bool {
	for _, e := range Endpoints {
		if e == endpoint {
			return true
		}
	}
	return false
}

// NewRoutes creates a routing table. The default origin is the base URL of the API, for example
// http://localhost:8080/api.
func NewRoutes(defaultOrigin string, overrides map[Endpoint]string) (*Routes, error) {
	origin, err := normalizeOrigin(defaultOrigin)
	if err != nil {
		return nil, err
	}

	routes := &Routes{defaultOrigin: origin, origins: make(map[Endpoint]string, len(overrides))}
	for endpoint, override := range overrides {
		if !knownEndpoint(endpoint) {
			return nil, errors.Errorf("unknown endpoint: %s", endpoint)
		}
		normalized, err := normalizeOrigin(override)
		if err != nil {
			return nil, err
		}
		routes.origins[endpoint] = normalized
	}
	return routes, nil
}

// Origin returns the origin an endpoint is served from.
func (r *Routes) Origin(endpoint Endpoint) string {
	if origin, ok := r.origins[endpoint]; ok {
		return origin
	}
	return r.defaultOrigin
}

// URL returns the URL of a REST endpoint. The ID is only used by the mark-read endpoint.
func (r *Routes) URL(endpoint Endpoint, id string) string {
	path := endpointPaths[endpoint]
	if endpoint == MarkReadEndpoint {
		path = strings.Replace(path, "%s", url.PathEscape(id), 1)
	}
	return r.Origin(endpoint) + path
}

// PushURL returns the URL of the WebSocket push channel: the push origin with its scheme switched to ws or wss and its
// path replaced by /ws.
func (r *Routes) PushURL() (string, error) {
	parsed, err := url.Parse(r.Origin(PushEndpoint))
	if err != nil {
		return "", errors.Wrap(err, "invalid push origin")
	}
	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported push origin scheme: %s", parsed.Scheme)
	}
	parsed.Path = "/ws"
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String(), nil
}

// ParseRouteOverride parses an override of the form endpoint=origin.
func ParseRouteOverride(value string) (Endpoint, string, error) {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", errors.Errorf("invalid route override %q: expected endpoint=origin", value)
	}
	endpoint := Endpoint(strings.TrimSpace(parts[0]))
	if !knownEndpoint(endpoint) {
		return "", "", errors.Errorf("unknown endpoint in route override: %s", endpoint)
	}
	return endpoint, strings.TrimSpace(parts[1]), nil
}
