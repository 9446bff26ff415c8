// Package inquiries implements the server side of inquiry creation and read-state changes. Every write goes to the
// store first and is announced to the notification hub afterwards.
package inquiries

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cyverse-de/inquiry-notifier/common"
	"github.com/cyverse-de/inquiry-notifier/logging"
	"github.com/cyverse-de/inquiry-notifier/model"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var log = logging.ForPackage("inquiries")

// Store describes the persistence operations the service needs.
type Store interface {
	Ping(ctx context.Context) error
	SaveInquiry(ctx context.Context, inquiry *model.Inquiry) error
	ListInquiries(ctx context.Context) ([]model.Inquiry, error)
	GetInquiry(ctx context.Context, id string) (model.Inquiry, error)
	MarkRead(ctx context.Context, id string) (model.Inquiry, error)
	CountUnread(ctx context.Context) (int64, error)
	CountInquiries(ctx context.Context) (int64, error)
}

// Notifier is told about changes after they've been stored.
type Notifier interface {
	OnInquiryCreated(ctx context.Context, inquiry model.Inquiry)
	OnInquiryMarkedRead(ctx context.Context, id string)
}

// NewInquiry contains the fields supplied when an inquiry is submitted.
type NewInquiry struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Mobile    string    `json:"mobile"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"-"`
}

// ValidationError indicates that a submitted inquiry was rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidationError returns true if the cause of err is a ValidationError.
func IsValidationError(err error) bool {
	var validationErr ValidationError
	return errors.As(err, &validationErr)
}

// Summary is the abbreviated form of an inquiry listed by Debug.
type Summary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsRead    bool   `json:"isRead"`
	CreatedAt string `json:"createdAt"`
}

// DebugInfo describes the contents of the store.
type DebugInfo struct {
	TotalCount  int64     `json:"totalCount"`
	UnreadCount int64     `json:"unreadCount"`
	Inquiries   []Summary `json:"inquiries"`
}

// Service coordinates the inquiry store and the notification hub.
type Service struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

// NewService creates a service. The notifier may be nil, in which case changes aren't announced.
func NewService(store Store, notifier Notifier) *Service {
	return &Service{store: store, notifier: notifier, now: time.Now}
}

// Ping verifies that the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// List returns every inquiry, newest first.
func (s *Service) List(ctx context.Context) ([]model.Inquiry, error) {
	return s.store.ListInquiries(ctx)
}

// Get returns a single inquiry.
func (s *Service) Get(ctx context.Context, id string) (model.Inquiry, error) {
	return s.store.GetInquiry(ctx, id)
}

// UnreadCount returns the number of inquiries that haven't been read.
func (s *Service) UnreadCount(ctx context.Context) (int64, error) {
	return s.store.CountUnread(ctx)
}

// normalize trims the submitted fields and checks that they're all present.
func normalize(submitted NewInquiry) (NewInquiry, error) {
	result := NewInquiry{
		Name:      strings.TrimSpace(submitted.Name),
		Email:     strings.ToLower(strings.TrimSpace(submitted.Email)),
		Mobile:    strings.TrimSpace(submitted.Mobile),
		Message:   strings.TrimSpace(submitted.Message),
		CreatedAt: submitted.CreatedAt,
	}

	required := []struct {
		field string
		value string
	}{
		{"name", result.Name},
		{"email", result.Email},
		{"mobile", result.Mobile},
		{"message", result.Message},
	}
	for _, r := range required {
		if r.value == "" {
			return result, ValidationError{Field: r.field, Message: "a value is required"}
		}
	}

	if err := common.ValidateEmailAddress(result.Email); err != nil {
		return result, ValidationError{Field: "email", Message: err.Error()}
	}

	return result, nil
}

// Create validates and stores a new inquiry and then announces it.
func (s *Service) Create(ctx context.Context, submitted NewInquiry) (model.Inquiry, error) {
	wrapMsg := "unable to create inquiry"

	fields, err := normalize(submitted)
	if err != nil {
		return model.Inquiry{}, errors.Wrap(err, wrapMsg)
	}

	createdAt := fields.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	inquiry := model.Inquiry{
		ID:        uuid.NewString(),
		Name:      fields.Name,
		Email:     fields.Email,
		Mobile:    fields.Mobile,
		Message:   fields.Message,
		IsRead:    false,
		CreatedAt: createdAt.UTC().Truncate(time.Millisecond),
	}
	if err := s.store.SaveInquiry(ctx, &inquiry); err != nil {
		return model.Inquiry{}, errors.Wrap(err, wrapMsg)
	}
	log.WithField("inquiry", inquiry.ID).Info("inquiry created")

	if s.notifier != nil {
		s.notifier.OnInquiryCreated(ctx, inquiry)
	}
	return inquiry, nil
}

// MarkRead marks an inquiry as read and then announces the new unread count. Marking an inquiry that has already been
// read succeeds and is announced again. Unknown inquiries produce model.ErrNotFound and aren't announced.
func (s *Service) MarkRead(ctx context.Context, id string) (model.Inquiry, error) {
	inquiry, err := s.store.MarkRead(ctx, id)
	if err != nil {
		return model.Inquiry{}, err
	}
	log.WithField("inquiry", id).Debug("inquiry marked as read")

	if s.notifier != nil {
		s.notifier.OnInquiryMarkedRead(ctx, id)
	}
	return inquiry, nil
}

// Debug summarizes the contents of the store.
func (s *Service) Debug(ctx context.Context) (*DebugInfo, error) {
	wrapMsg := "unable to summarize inquiries"

	total, err := s.store.CountInquiries(ctx)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	unread, err := s.store.CountUnread(ctx)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	inquiries, err := s.store.ListInquiries(ctx)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	summaries := make([]Summary, len(inquiries))
	for i, inquiry := range inquiries {
		summaries[i] = Summary{
			ID:        inquiry.ID,
			Name:      inquiry.Name,
			IsRead:    inquiry.IsRead,
			CreatedAt: common.FormatTimestamp(inquiry.CreatedAt),
		}
	}

	return &DebugInfo{TotalCount: total, UnreadCount: unread, Inquiries: summaries}, nil
}
