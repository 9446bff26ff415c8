package syncclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cyverse-de/inquiry-notifier/model"
	"github.com/pkg/errors"
)

// DefaultTimeout limits the duration of a single REST request.
const DefaultTimeout = 15 * time.Second

// maxResponseSize limits the size of response bodies.
const maxResponseSize = 16 * 1024 * 1024

// API describes the REST operations the client performs.
type API interface {
	ListInquiries(ctx context.Context) ([]model.Inquiry, error)
	UnreadCount(ctx context.Context) (int64, error)
	MarkRead(ctx context.Context, id string) (model.Inquiry, error)
	Health(ctx context.Context) (Health, error)
}

// Health is the response of the health endpoint.
type Health struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Database  string `json:"database"`
	Timestamp string `json:"timestamp"`
}

// HTTPClient calls the inquiry API over HTTP.
type HTTPClient struct {
	routes     *Routes
	tokens     TokenStore
	httpClient *http.Client
}

// NewHTTPClient creates a REST client. If httpClient is nil, a client with DefaultTimeout is used. If tokens is nil,
// no Authorization header is sent.
func NewHTTPClient(routes *Routes, tokens TokenStore, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &HTTPClient{routes: routes, tokens: tokens, httpClient: httpClient}
}

// HTTP returns the underlying HTTP client.
func (c *HTTPClient) HTTP() *http.Client {
	return c.httpClient
}

// Header returns the headers sent with every request.
func (c *HTTPClient) Header() http.Header {
	header := http.Header{}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}
	return header
}

// ListInquiries returns every inquiry, newest first.
func (c *HTTPClient) ListInquiries(ctx context.Context) ([]model.Inquiry, error) {
	var inquiries []model.Inquiry
	if err := c.doJSON(ctx, http.MethodGet, c.routes.URL(InquiriesEndpoint, ""), &inquiries); err != nil {
		return nil, err
	}
	if inquiries == nil {
		inquiries = make([]model.Inquiry, 0)
	}
	return inquiries, nil
}

type unreadCountResponse struct {
	UnreadCount *int64 `json:"unreadCount"`
}

// UnreadCount returns the number of unread inquiries.
func (c *HTTPClient) UnreadCount(ctx context.Context) (int64, error) {
	endpoint := c.routes.URL(UnreadCountEndpoint, "")
	var resp unreadCountResponse
	if err := c.doJSON(ctx, http.MethodGet, endpoint, &resp); err != nil {
		return 0, err
	}
	if resp.UnreadCount == nil {
		return 0, &ProtocolError{URL: endpoint, Err: errors.New("the response has no unreadCount field")}
	}
	return *resp.UnreadCount, nil
}

// MarkRead marks an inquiry as read.
func (c *HTTPClient) MarkRead(ctx context.Context, id string) (model.Inquiry, error) {
	endpoint := c.routes.URL(MarkReadEndpoint, id)
	var inquiry model.Inquiry
	if err := c.doJSON(ctx, http.MethodPut, endpoint, &inquiry); err != nil {
		return model.Inquiry{}, err
	}
	if inquiry.ID == "" {
		return model.Inquiry{}, &ProtocolError{URL: endpoint, Err: errors.New("the response has no inquiry id")}
	}
	return inquiry, nil
}

// Health returns the health of the API.
func (c *HTTPClient) Health(ctx context.Context) (Health, error) {
	var health Health
	err := c.doJSON(ctx, http.MethodGet, c.routes.URL(HealthEndpoint, ""), &health)
	return health, err
}

type errorResponse struct {
	Error string `json:"error"`
}

// doJSON sends a request and decodes a JSON response, classifying any failure.
func (c *HTTPClient) doJSON(ctx context.Context, method, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return errors.Wrapf(err, "unable to build a request for %s", endpoint)
	}
	req.Header = c.Header()
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			abandoned := errors.Wrapf(ctxErr, "request to %s abandoned", endpoint)
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return &TransientError{Err: abandoned}
			}
			return abandoned
		}
		return &TransientError{Err: err}
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	_ = resp.Body.Close()
	if err != nil {
		return &TransientError{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return &ProtocolError{URL: endpoint, Err: err}
		}
		return nil
	}

	message := http.StatusText(resp.StatusCode)
	var errResp errorResponse
	if json.Unmarshal(payload, &errResp) == nil && strings.TrimSpace(errResp.Error) != "" {
		message = errResp.Error
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{URL: endpoint}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &TransientError{StatusCode: resp.StatusCode, Err: errors.New(message)}
	default:
		return &RequestError{StatusCode: resp.StatusCode, Message: message}
	}
}
