package hub

import (
	"sync"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// Subscriber is a single client connected to the hub. Frames queued for a subscriber are delivered in the order in
// which they were queued.
type Subscriber struct {
	id        string
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	code   websocket.StatusCode
	reason string
}

func newSubscriber(buffer int) *Subscriber {
	if buffer < 1 {
		buffer = 1
	}
	return &Subscriber{
		id:   uuid.NewString(),
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// ID returns the identifier assigned to the subscriber when it connected.
func (s *Subscriber) ID() string {
	return s.id
}

// Frames returns the channel of outbound frames.
func (s *Subscriber) Frames() <-chan []byte {
	return s.send
}

// Done is closed once the hub has disconnected the subscriber.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// CloseStatus returns the status the hub disconnected the subscriber with. It's only meaningful after Done is closed.
func (s *Subscriber) CloseStatus() (websocket.StatusCode, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code, s.reason
}

// enqueue queues a frame without blocking. It returns false if the queue is full.
func (s *Subscriber) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.code = code
		s.reason = reason
		s.mu.Unlock()
		close(s.done)
	})
}
