// Package api provides the REST endpoints for inquiries along with the WebSocket route of the notification hub.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cyverse-de/inquiry-notifier/common"
	"github.com/cyverse-de/inquiry-notifier/inquiries"
	"github.com/cyverse-de/inquiry-notifier/logging"
	"github.com/cyverse-de/inquiry-notifier/model"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

var log = logging.ForPackage("api")

// maxBodySize limits the size of inquiry submissions.
const maxBodySize = 64 * 1024

// Service describes the inquiry operations the API exposes.
type Service interface {
	Ping(ctx context.Context) error
	List(ctx context.Context) ([]model.Inquiry, error)
	Get(ctx context.Context, id string) (model.Inquiry, error)
	UnreadCount(ctx context.Context) (int64, error)
	Create(ctx context.Context, submitted inquiries.NewInquiry) (model.Inquiry, error)
	MarkRead(ctx context.Context, id string) (model.Inquiry, error)
	Debug(ctx context.Context) (*inquiries.DebugInfo, error)
}

// Hub describes the parts of the notification hub the API uses.
type Hub interface {
	http.Handler
	BroadcastUnreadCount(ctx context.Context)
}

// API holds the dependencies of the HTTP handlers.
type API struct {
	service Service
	hub     Hub
	now     func() time.Time
}

// New creates the API.
func New(service Service, hub Hub) *API {
	return &API{service: service, hub: hub, now: time.Now}
}

// Router returns a router with every route registered.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/ws", a.hub).Methods(http.MethodGet)

	s := r.PathPrefix("/api").Subrouter()
	s.HandleFunc("/health", a.Health).Methods(http.MethodGet)
	s.HandleFunc("/inquiries", a.ListInquiries).Methods(http.MethodGet)
	s.HandleFunc("/inquiries", a.CreateInquiry).Methods(http.MethodPost)
	s.HandleFunc("/inquiries/unread/count", a.UnreadCount).Methods(http.MethodGet)
	s.HandleFunc("/inquiries/{id}", a.GetInquiry).Methods(http.MethodGet)
	s.HandleFunc("/inquiries/{id}/read", a.MarkRead).Methods(http.MethodPut)
	s.HandleFunc("/debug/inquiries", a.DebugInquiries).Methods(http.MethodGet)
	s.HandleFunc("/ws/unread-count", a.BroadcastUnreadCount).Methods(http.MethodGet)

	// Subrouters don't inherit these handlers.
	for _, router := range []*mux.Router{r, s} {
		router.NotFoundHandler = http.HandlerFunc(notFound)
		router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	}
	return r
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "route not found")
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type healthResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Database  string `json:"database"`
	Timestamp string `json:"timestamp"`
}

// Health reports whether the store can be reached.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	timestamp := common.FormatTimestamp(a.now())
	if err := a.service.Ping(r.Context()); err != nil {
		log.Errorf("health check failed: %s", err)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:    "unhealthy",
			Message:   err.Error(),
			Database:  "Disconnected",
			Timestamp: timestamp,
		})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "OK",
		Message:   "inquiry notifier API is running",
		Database:  "Connected",
		Timestamp: timestamp,
	})
}

// ListInquiries returns every inquiry, newest first.
func (a *API) ListInquiries(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.List(r.Context())
	if err != nil {
		log.Errorf("unable to list inquiries: %s", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch inquiries")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CreateInquiry stores a submitted inquiry.
func (a *API) CreateInquiry(w http.ResponseWriter, r *http.Request) {
	var submitted inquiries.NewInquiry
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&submitted); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inquiry, err := a.service.Create(r.Context(), submitted)
	if inquiries.IsValidationError(err) {
		writeError(w, http.StatusBadRequest, errors.Cause(err).Error())
		return
	}
	if err != nil {
		log.Errorf("unable to create an inquiry: %s", err)
		writeError(w, http.StatusInternalServerError, "failed to create inquiry")
		return
	}
	writeJSON(w, http.StatusCreated, inquiry)
}

type unreadCountResponse struct {
	UnreadCount int64 `json:"unreadCount"`
}

// UnreadCount returns the number of unread inquiries.
func (a *API) UnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.service.UnreadCount(r.Context())
	if err != nil {
		log.Errorf("unable to count unread inquiries: %s", err)
		writeError(w, http.StatusInternalServerError, "failed to get unread count")
		return
	}
	writeJSON(w, http.StatusOK, unreadCountResponse{UnreadCount: count})
}

// GetInquiry returns a single inquiry.
func (a *API) GetInquiry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inquiry, err := a.service.Get(r.Context(), id)
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, "inquiry not found")
		return
	}
	if err != nil {
		log.Errorf("unable to get inquiry %s: %s", id, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch inquiry")
		return
	}
	writeJSON(w, http.StatusOK, inquiry)
}

// MarkRead marks an inquiry as read.
func (a *API) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inquiry, err := a.service.MarkRead(r.Context(), id)
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, "inquiry not found")
		return
	}
	if err != nil {
		log.Errorf("unable to mark inquiry %s as read: %s", id, err)
		writeError(w, http.StatusInternalServerError, "failed to mark inquiry as read")
		return
	}
	writeJSON(w, http.StatusOK, inquiry)
}

// DebugInquiries summarizes the contents of the store.
func (a *API) DebugInquiries(w http.ResponseWriter, r *http.Request) {
	info, err := a.service.Debug(r.Context())
	if err != nil {
		log.Errorf("unable to get debug info: %s", err)
		writeError(w, http.StatusInternalServerError, "failed to get debug info")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type messageResponse struct {
	Message string `json:"message"`
}

// BroadcastUnreadCount sends the current unread count to every connected client.
func (a *API) BroadcastUnreadCount(w http.ResponseWriter, r *http.Request) {
	a.hub.BroadcastUnreadCount(r.Context())
	writeJSON(w, http.StatusOK, messageResponse{Message: "unread count update sent to all clients"})
}
