// Package memstore keeps inquiries in memory. It backs the `memory` database dialect, which is meant for local
// development and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cyverse-de/inquiry-notifier/model"
	"github.com/pkg/errors"
)

// Store is an in-memory inquiry store.
type Store struct {
	mu        sync.RWMutex
	inquiries map[string]model.Inquiry
	failure   error
}

// New creates an empty store.
func New() *Store {
	return &Store{inquiries: make(map[string]model.Inquiry)}
}

// SetFailure makes every subsequent operation fail with err until it's called again with nil.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// Ping reports the configured failure, if any.
func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure
}

// SaveInquiry stores a copy of the inquiry.
func (s *Store) SaveInquiry(_ context.Context, inquiry *model.Inquiry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	if _, ok := s.inquiries[inquiry.ID]; ok {
		return errors.Errorf("duplicate inquiry ID: %s", inquiry.ID)
	}
	s.inquiries[inquiry.ID] = *inquiry
	return nil
}

// sorted returns the matching inquiries ordered by creation time. The caller holds the read lock.
func (s *Store) sorted(match func(model.Inquiry) bool, newestFirst bool) []model.Inquiry {
	result := make([]model.Inquiry, 0, len(s.inquiries))
	for _, inquiry := range s.inquiries {
		if match == nil || match(inquiry) {
			result = append(result, inquiry)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		if newestFirst {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// ListInquiries returns every inquiry, newest first.
func (s *Store) ListInquiries(context.Context) ([]model.Inquiry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return nil, s.failure
	}
	return s.sorted(nil, true), nil
}

// ListInquiriesCreatedSince returns the inquiries created at or after the given time, oldest first.
func (s *Store) ListInquiriesCreatedSince(_ context.Context, since time.Time) ([]model.Inquiry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return nil, s.failure
	}
	return s.sorted(func(inquiry model.Inquiry) bool { return !inquiry.CreatedAt.Before(since) }, false), nil
}

// GetInquiry returns a single inquiry.
func (s *Store) GetInquiry(_ context.Context, id string) (model.Inquiry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return model.Inquiry{}, s.failure
	}
	inquiry, ok := s.inquiries[id]
	if !ok {
		return model.Inquiry{}, errors.Wrapf(model.ErrNotFound, "inquiry `%s`", id)
	}
	return inquiry, nil
}

// MarkRead sets the read flag of an inquiry.
func (s *Store) MarkRead(_ context.Context, id string) (model.Inquiry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return model.Inquiry{}, s.failure
	}
	inquiry, ok := s.inquiries[id]
	if !ok {
		return model.Inquiry{}, errors.Wrapf(model.ErrNotFound, "inquiry `%s`", id)
	}
	inquiry.IsRead = true
	s.inquiries[id] = inquiry
	return inquiry, nil
}

// CountUnread counts the inquiries that haven't been read.
func (s *Store) CountUnread(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return 0, s.failure
	}
	var count int64
	for _, inquiry := range s.inquiries {
		if !inquiry.IsRead {
			count++
		}
	}
	return count, nil
}

// CountInquiries counts all inquiries.
func (s *Store) CountInquiries(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return 0, s.failure
	}
	return int64(len(s.inquiries)), nil
}

// LatestCreatedAt returns the creation time of the newest inquiry.
func (s *Store) LatestCreatedAt(context.Context) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return time.Time{}, false, s.failure
	}
	var latest time.Time
	found := false
	for _, inquiry := range s.inquiries {
		if !found || inquiry.CreatedAt.After(latest) {
			latest = inquiry.CreatedAt
			found = true
		}
	}
	return latest, found, nil
}
