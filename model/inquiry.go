package model

import (
	"encoding/json"
	"time"

	"github.com/cyverse-de/inquiry-notifier/common"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a requested inquiry does not exist.
var ErrNotFound = errors.New("inquiry not found")

// Inquiry represents a single customer inquiry. Only IsRead ever changes after the inquiry is created, and it only
// ever changes from false to true.
type Inquiry struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Mobile    string    `json:"mobile"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// MarshalJSON formats the creation timestamp with millisecond precision in UTC.
func (i Inquiry) MarshalJSON() ([]byte, error) {
	type plain Inquiry
	return json.Marshal(struct {
		plain
		CreatedAt string `json:"createdAt"`
	}{
		plain:     plain(i),
		CreatedAt: common.FormatTimestamp(i.CreatedAt),
	})
}
