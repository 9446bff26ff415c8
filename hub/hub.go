// Package hub relays unread-count changes to every connected client over WebSockets. The store is always the source
// of truth: every count the hub sends is recomputed from the store at the time it's sent.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/cyverse-de/inquiry-notifier/common"
	"github.com/cyverse-de/inquiry-notifier/logging"
	"github.com/cyverse-de/inquiry-notifier/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
)

var log = logging.ForPackage("hub")

// Store describes the read operations the hub performs.
type Store interface {
	CountUnread(ctx context.Context) (int64, error)
	ListInquiriesCreatedSince(ctx context.Context, since time.Time) ([]model.Inquiry, error)
	LatestCreatedAt(ctx context.Context) (time.Time, bool, error)
}

// Options controls the behavior of a Hub. Zero values are replaced by defaults.
type Options struct {
	// SendBuffer is the number of frames that can be queued for a single subscriber.
	SendBuffer int

	// PingInterval is the time between keepalive pings. Pings are disabled if it's negative.
	PingInterval time.Duration

	// WriteTimeout limits the time spent writing a single frame or ping.
	WriteTimeout time.Duration

	// RecentCapacity is the number of announced inquiry IDs remembered to avoid announcing an inquiry twice.
	RecentCapacity int

	// StoreTimeout limits the store reads made for a single broadcast.
	StoreTimeout time.Duration

	// AcceptOptions is passed to websocket.Accept.
	AcceptOptions *websocket.AcceptOptions
}

const (
	defaultSendBuffer     = 16
	defaultPingInterval   = 30 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultRecentCapacity = 1024
	defaultStoreTimeout   = 10 * time.Second
)

func (o Options) withDefaults() Options {
	if o.SendBuffer < 1 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.PingInterval == 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.RecentCapacity < 1 {
		o.RecentCapacity = defaultRecentCapacity
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = defaultStoreTimeout
	}
	return o
}

// Hub keeps track of connected subscribers and broadcasts events to them.
type Hub struct {
	store Store
	opts  Options
	now   func() time.Time

	mu          sync.Mutex
	subscribers map[string]*Subscriber
	closed      bool

	// snapshotMu is held while a count is computed and broadcast so that snapshots reach every subscriber in the order
	// in which they were computed.
	snapshotMu sync.Mutex

	watermarkMu sync.Mutex
	watermark   time.Time
	seeded      bool
	announced   *common.RecentSet
}

// New creates a hub that reads from the given store.
func New(store Store, opts Options) *Hub {
	opts = opts.withDefaults()
	return &Hub{
		store:       store,
		opts:        opts,
		now:         time.Now,
		subscribers: make(map[string]*Subscriber),
		announced:   common.NewRecentSet(opts.RecentCapacity),
	}
}

// NewSubscriber creates a subscriber with the configured queue size. The subscriber receives nothing until it's passed
// to OnClientConnect.
func (h *Hub) NewSubscriber() *Subscriber {
	return newSubscriber(h.opts.SendBuffer)
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// OnClientConnect registers a subscriber and sends it the current unread count. No other subscriber is notified.
func (h *Hub) OnClientConnect(ctx context.Context, sub *Subscriber) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close(websocket.StatusGoingAway, "the server is shutting down")
		return
	}
	h.subscribers[sub.id] = sub
	h.mu.Unlock()
	log.WithField("subscriber", sub.id).Debug("subscriber connected")

	h.snapshotMu.Lock()
	defer h.snapshotMu.Unlock()

	frame, err := h.snapshotFrame(ctx)
	if err != nil {
		log.WithField("subscriber", sub.id).Errorf("unable to send the initial unread count: %s", err)
		return
	}
	h.deliver(sub, frame)
}

// Disconnect removes a subscriber from the hub.
func (h *Hub) Disconnect(sub *Subscriber, code websocket.StatusCode, reason string) {
	h.mu.Lock()
	delete(h.subscribers, sub.id)
	h.mu.Unlock()
	sub.close(code, reason)
}

// OnInquiryCreated announces a new inquiry to every subscriber and then broadcasts the recomputed unread count.
// Inquiries that have already been announced are ignored. The change has already been stored, so the broadcast
// isn't abandoned when ctx is cancelled.
func (h *Hub) OnInquiryCreated(ctx context.Context, inquiry model.Inquiry) {
	ctx = context.WithoutCancel(ctx)
	if !h.announced.Add(inquiry.ID) {
		log.WithField("inquiry", inquiry.ID).Debug("inquiry already announced")
		return
	}

	h.snapshotMu.Lock()
	defer h.snapshotMu.Unlock()

	h.broadcastNewInquiry(inquiry)
	h.broadcastSnapshot(ctx)
}

// OnInquiryMarkedRead broadcasts the recomputed unread count. Like OnInquiryCreated, it ignores the cancellation
// of ctx.
func (h *Hub) OnInquiryMarkedRead(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	log.WithField("inquiry", id).Debug("inquiry marked as read")
	h.BroadcastUnreadCount(ctx)
}

// BroadcastUnreadCount recomputes the unread count and sends it to every subscriber.
func (h *Hub) BroadcastUnreadCount(ctx context.Context) {
	h.snapshotMu.Lock()
	defer h.snapshotMu.Unlock()
	h.broadcastSnapshot(ctx)
}

// CheckForNewInquiries announces inquiries that were added to the store without passing through the hub. The first
// call only records the creation time of the newest inquiry. Each later call announces the unannounced inquiries created
// at or after the newest one seen so far and broadcasts a single unread count if anything was announced.
func (h *Hub) CheckForNewInquiries(ctx context.Context) error {
	h.watermarkMu.Lock()
	defer h.watermarkMu.Unlock()

	if !h.seeded {
		latest, found, err := h.store.LatestCreatedAt(ctx)
		if err != nil {
			return errors.Wrap(err, "unable to seed the new inquiry watermark")
		}
		if found {
			// Inquiries sharing the watermark are listed again by every check, so they're marked as announced.
			existing, err := h.store.ListInquiriesCreatedSince(ctx, latest)
			if err != nil {
				return errors.Wrap(err, "unable to seed the new inquiry watermark")
			}
			for _, inquiry := range existing {
				h.announced.Add(inquiry.ID)
			}
			h.watermark = latest
		}
		h.seeded = true
		return nil
	}

	// The watermark itself is included because another inquiry may have been stored in the same millisecond after
	// the previous check.
	inquiries, err := h.store.ListInquiriesCreatedSince(ctx, h.watermark)
	if err != nil {
		return errors.Wrap(err, "unable to check for new inquiries")
	}
	if len(inquiries) == 0 {
		return nil
	}

	h.snapshotMu.Lock()
	defer h.snapshotMu.Unlock()

	announced := 0
	for _, inquiry := range inquiries {
		if inquiry.CreatedAt.After(h.watermark) {
			h.watermark = inquiry.CreatedAt
		}
		if !h.announced.Add(inquiry.ID) {
			continue
		}
		h.broadcastNewInquiry(inquiry)
		announced++
	}
	if announced > 0 {
		log.Infof("announced %d new inquiries", announced)
		h.broadcastSnapshot(ctx)
	}

	return nil
}

// Watermark returns the creation time of the newest inquiry the poller has seen.
func (h *Hub) Watermark() (time.Time, bool) {
	h.watermarkMu.Lock()
	defer h.watermarkMu.Unlock()
	return h.watermark, h.seeded
}

// Watch calls CheckForNewInquiries at the given interval until the context is done.
func (h *Hub) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		log.Info("new inquiry polling is disabled")
		return
	}

	if err := h.CheckForNewInquiries(ctx); err != nil {
		log.Error(err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.CheckForNewInquiries(ctx); err != nil {
				log.Error(err)
			}
		}
	}
}

// DisconnectAll disconnects every connected subscriber with the given status. Clients are free to reconnect.
func (h *Hub) DisconnectAll(code websocket.StatusCode, reason string) {
	h.mu.Lock()
	subscribers := h.subscribers
	h.subscribers = make(map[string]*Subscriber)
	h.mu.Unlock()

	for _, sub := range subscribers {
		sub.close(code, reason)
	}
}

// Close disconnects every subscriber. Subscribers that connect afterwards are disconnected immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.DisconnectAll(websocket.StatusGoingAway, "the server is shutting down")
}

// snapshotFrame computes the unread count and encodes it as a push frame.
func (h *Hub) snapshotFrame(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.StoreTimeout)
	defer cancel()

	count, err := h.store.CountUnread(ctx)
	if err != nil {
		return nil, err
	}
	return model.EncodeEvent(model.SnapshotEvent{UnreadCount: count, Timestamp: h.now()})
}

// broadcastSnapshot sends the current unread count to every subscriber. The caller holds snapshotMu. Nothing is sent
// if the count can't be computed.
func (h *Hub) broadcastSnapshot(ctx context.Context) {
	frame, err := h.snapshotFrame(ctx)
	if err != nil {
		log.Errorf("skipping the unread count broadcast: %s", err)
		return
	}
	h.broadcast(frame)
}

// broadcastNewInquiry announces an inquiry to every subscriber. The caller holds snapshotMu.
func (h *Hub) broadcastNewInquiry(inquiry model.Inquiry) {
	frame, err := model.EncodeEvent(model.NewInquiryEvent{Inquiry: inquiry, Timestamp: h.now()})
	if err != nil {
		log.WithField("inquiry", inquiry.ID).Errorf("skipping the new inquiry broadcast: %s", err)
		return
	}
	h.broadcast(frame)
}

func (h *Hub) broadcast(frame []byte) {
	h.mu.Lock()
	subscribers := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subscribers = append(subscribers, sub)
	}
	h.mu.Unlock()

	for _, sub := range subscribers {
		h.deliver(sub, frame)
	}
}

// deliver queues a frame for a subscriber, disconnecting the subscriber if its queue is full.
func (h *Hub) deliver(sub *Subscriber, frame []byte) {
	if sub.enqueue(frame) {
		return
	}
	log.WithFields(logrus.Fields{"subscriber": sub.id}).Warn("disconnecting a subscriber that isn't keeping up")
	h.Disconnect(sub, websocket.StatusPolicyViolation, "subscriber is too slow")
}
