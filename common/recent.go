package common

import "sync"

// RecentSet remembers the most recently added identifiers, forgetting the oldest one once it holds capacity entries.
type RecentSet struct {
	mu       sync.Mutex
	capacity int
	ring     []string
	next     int
	members  map[string]struct{}
}

// NewRecentSet creates a RecentSet. A capacity below one is treated as one.
func NewRecentSet(capacity int) *RecentSet {
	if capacity < 1 {
		capacity = 1
	}
	return &RecentSet{
		capacity: capacity,
		ring:     make([]string, 0, capacity),
		members:  make(map[string]struct{}, capacity),
	}
}

// Add records id and reports whether it was absent.
func (s *RecentSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[id]; ok {
		return false
	}
	if len(s.ring) < s.capacity {
		s.ring = append(s.ring, id)
	} else {
		delete(s.members, s.ring[s.next])
		s.ring[s.next] = id
		s.next = (s.next + 1) % s.capacity
	}
	s.members[id] = struct{}{}
	return true
}

// Contains reports whether id is currently remembered.
func (s *RecentSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[id]
	return ok
}

// Len returns the number of remembered identifiers.
func (s *RecentSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}
