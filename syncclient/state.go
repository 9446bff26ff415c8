package syncclient

import (
	"time"

	"github.com/cyverse-de/inquiry-notifier/model"
)

// ConnectionStatus describes the state of the push channel.
type ConnectionStatus string

const (
	// StatusConnecting means a connection attempt is in progress.
	StatusConnecting ConnectionStatus = "connecting"

	// StatusConnected means events are being received.
	StatusConnected ConnectionStatus = "connected"

	// StatusDisconnected means there's no push channel. This is also the status before Run is called.
	StatusDisconnected ConnectionStatus = "disconnected"
)

// State is a snapshot of the client's local view.
type State struct {
	UnreadCount      int64
	LastUpdate       time.Time
	ConnectionStatus ConnectionStatus
	PendingMarkReads []string
	Inquiries        []model.Inquiry
}

// IsPending reports whether a mark-read request for the inquiry is in flight.
func (s State) IsPending(id string) bool {
	for _, pending := range s.PendingMarkReads {
		if pending == id {
			return true
		}
	}
	return false
}
