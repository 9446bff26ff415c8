// Package syncclient keeps a local view of the unread inquiry count in sync with the server. Push events, REST pulls
// and optimistic local changes are merged idempotently, and every change is published to subscribers.
package syncclient

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cyverse-de/inquiry-notifier/common"
	"github.com/cyverse-de/inquiry-notifier/logging"
	"github.com/cyverse-de/inquiry-notifier/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logging.ForPackage("syncclient")

const (
	defaultRecentCapacity   = 1024
	defaultReconcileTimeout = DefaultTimeout
)

// Options controls the behavior of a Client. Zero values are replaced by defaults.
type Options struct {
	// RecentCapacity is the number of announced inquiry IDs remembered to ignore repeated announcements.
	RecentCapacity int

	// ReconcileTimeout limits the pull that follows a failed mark-read request.
	ReconcileTimeout time.Duration
}

// Client maintains the local notification state.
type Client struct {
	api              API
	now              func() time.Time
	reconcileTimeout time.Duration

	mu          sync.Mutex
	unreadCount int64
	lastUpdate  time.Time
	status      ConnectionStatus
	pending     map[string]struct{}
	inquiries   []model.Inquiry
	applied     *common.RecentSet

	// notifyMu is acquired before mu is released so that subscribers see states in the order they were produced.
	notifyMu       sync.Mutex
	subscribers    map[int]chan State
	nextSubscriber int

	// running counts background goroutines. backgroundDone is signalled whenever it drops to zero.
	backgroundMu   sync.Mutex
	backgroundDone *sync.Cond
	running        int
}

// New creates a client that talks to the given API.
func New(api API, opts Options) *Client {
	if opts.RecentCapacity < 1 {
		opts.RecentCapacity = defaultRecentCapacity
	}
	if opts.ReconcileTimeout <= 0 {
		opts.ReconcileTimeout = defaultReconcileTimeout
	}
	c := &Client{
		api:              api,
		now:              time.Now,
		reconcileTimeout: opts.ReconcileTimeout,
		status:           StatusDisconnected,
		pending:          make(map[string]struct{}),
		inquiries:        make([]model.Inquiry, 0),
		applied:          common.NewRecentSet(opts.RecentCapacity),
		subscribers:      make(map[int]chan State),
	}
	c.backgroundDone = sync.NewCond(&c.backgroundMu)
	return c
}

// stateLocked builds a snapshot of the current state. The caller holds mu.
func (c *Client) stateLocked() State {
	pending := make([]string, 0, len(c.pending))
	for id := range c.pending {
		pending = append(pending, id)
	}
	sort.Strings(pending)

	inquiries := make([]model.Inquiry, len(c.inquiries))
	copy(inquiries, c.inquiries)

	return State{
		UnreadCount:      c.unreadCount,
		LastUpdate:       c.lastUpdate,
		ConnectionStatus: c.status,
		PendingMarkReads: pending,
		Inquiries:        inquiries,
	}
}

// update applies a change to the state and publishes the result if the change function returns true.
func (c *Client) update(change func() bool) {
	c.mu.Lock()
	if !change() {
		c.mu.Unlock()
		return
	}
	state := c.stateLocked()
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	for _, ch := range c.subscribers {
		publish(ch, state)
	}
}

// publish replaces any unread state in a subscriber's channel with the new one.
func publish(ch chan State, state State) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- state:
	default:
	}
}

// Subscribe returns a channel that always holds the newest state along with a function that cancels the
// subscription. The current state is available immediately. Subscribers that fall behind only miss intermediate
// states.
func (c *Client) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	c.mu.Lock()
	state := c.stateLocked()
	c.notifyMu.Lock()
	c.mu.Unlock()
	id := c.nextSubscriber
	c.nextSubscriber++
	c.subscribers[id] = ch
	ch <- state
	c.notifyMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.notifyMu.Lock()
			defer c.notifyMu.Unlock()
			delete(c.subscribers, id)
			close(ch)
		})
	}
	return ch, cancel
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// UnreadCount returns the last known unread count.
func (c *Client) UnreadCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unreadCount
}

// Inquiries returns the local inquiry list, newest first.
func (c *Client) Inquiries() []model.Inquiry {
	c.mu.Lock()
	defer c.mu.Unlock()
	inquiries := make([]model.Inquiry, len(c.inquiries))
	copy(inquiries, c.inquiries)
	return inquiries
}

// Wait blocks until no background pulls are running. It may be called while Run is still active, in which case pulls
// started after it returns aren't waited for.
func (c *Client) Wait() {
	c.backgroundMu.Lock()
	defer c.backgroundMu.Unlock()
	for c.running > 0 {
		c.backgroundDone.Wait()
	}
}

// goBackground runs fn in a goroutine that Wait accounts for.
func (c *Client) goBackground(fn func()) {
	c.backgroundMu.Lock()
	c.running++
	c.backgroundMu.Unlock()

	go func() {
		defer func() {
			c.backgroundMu.Lock()
			c.running--
			if c.running == 0 {
				c.backgroundDone.Broadcast()
			}
			c.backgroundMu.Unlock()
		}()
		fn()
	}()
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.update(func() bool {
		if c.status == status {
			return false
		}
		c.status = status
		return true
	})
}

// indexLocked returns the position of an inquiry in the local list or -1. The caller holds mu.
func (c *Client) indexLocked(id string) int {
	for i := range c.inquiries {
		if c.inquiries[i].ID == id {
			return i
		}
	}
	return -1
}

// insertLocked adds an inquiry to the local list, keeping it sorted newest first. The caller holds mu.
func (c *Client) insertLocked(inquiry model.Inquiry) {
	position := sort.Search(len(c.inquiries), func(i int) bool {
		return !c.inquiries[i].CreatedAt.After(inquiry.CreatedAt)
	})
	c.inquiries = append(c.inquiries, model.Inquiry{})
	copy(c.inquiries[position+1:], c.inquiries[position:])
	c.inquiries[position] = inquiry
}

// ApplyEvent merges a push event into the local state. Applying the same event more than once has the same effect as
// applying it once.
func (c *Client) ApplyEvent(event model.Event) {
	switch e := event.(type) {
	case model.SnapshotEvent:
		c.update(func() bool {
			c.unreadCount = e.UnreadCount
			c.lastUpdate = e.Timestamp
			return true
		})

	case model.NewInquiryEvent:
		c.update(func() bool {
			id := e.Inquiry.ID
			if c.indexLocked(id) >= 0 || c.applied.Contains(id) {
				return false
			}
			c.applied.Add(id)
			c.insertLocked(e.Inquiry)
			if !e.Inquiry.IsRead {
				c.unreadCount++
			}
			c.lastUpdate = e.Timestamp
			return true
		})

	default:
		log.Warnf("ignoring an event of unsupported type %T", event)
	}
}

// RefreshUnreadCount pulls the unread count from the server and overwrites the local count with it.
func (c *Client) RefreshUnreadCount(ctx context.Context) error {
	count, err := c.api.UnreadCount(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to refresh the unread count")
	}
	c.update(func() bool {
		c.unreadCount = count
		c.lastUpdate = c.now()
		return true
	})
	return nil
}

// Refresh pulls both the inquiry list and the unread count from the server and replaces the local state with them.
// Inquiries with a mark-read request in flight stay marked as read.
func (c *Client) Refresh(ctx context.Context) error {
	wrapMsg := "unable to refresh inquiries"

	inquiries, err := c.api.ListInquiries(ctx)
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	count, err := c.api.UnreadCount(ctx)
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}

	sorted := make([]model.Inquiry, len(inquiries))
	copy(sorted, inquiries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	c.update(func() bool {
		for i := range sorted {
			if _, ok := c.pending[sorted[i].ID]; ok {
				sorted[i].IsRead = true
			}
		}
		c.inquiries = sorted
		c.unreadCount = count
		c.lastUpdate = c.now()
		return true
	})
	return nil
}

// MarkAsRead marks an inquiry as read locally and on the server. The local change is made before the request is
// sent. Calls for an inquiry that already has a request in flight return immediately. If the request fails for any
// reason other than the inquiry not existing, a background refresh restores the server's view.
func (c *Client) MarkAsRead(ctx context.Context, id string) error {
	logger := log.WithFields(logrus.Fields{"inquiry": id})

	started := false
	c.update(func() bool {
		if _, ok := c.pending[id]; ok {
			return false
		}
		started = true
		c.pending[id] = struct{}{}
		if i := c.indexLocked(id); i >= 0 && !c.inquiries[i].IsRead {
			c.inquiries[i].IsRead = true
			if c.unreadCount > 0 {
				c.unreadCount--
			}
		}
		c.lastUpdate = c.now()
		return true
	})
	if !started {
		logger.Debug("mark-read request already in flight")
		return nil
	}

	_, err := c.api.MarkRead(ctx, id)

	c.update(func() bool {
		delete(c.pending, id)
		return true
	})

	if err != nil {
		logger.Errorf("unable to mark the inquiry as read: %s", err)
		if !IsNotFound(err) {
			c.reconcile()
		}
		return errors.Wrapf(err, "unable to mark inquiry %s as read", id)
	}
	return nil
}

// reconcile refreshes the local state in the background.
func (c *Client) reconcile() {
	c.goBackground(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.reconcileTimeout)
		defer cancel()
		if err := c.Refresh(ctx); err != nil {
			log.Errorf("reconciliation failed: %s", err)
		}
	})
}
