package hub

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cyverse-de/inquiry-notifier/memstore"
	"github.com/cyverse-de/inquiry-notifier/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

var baseTime = time.Date(2024, time.March, 9, 14, 30, 5, 0, time.UTC)

func newTestHub(opts Options) (*Hub, *memstore.Store) {
	store := memstore.New()
	h := New(store, opts)
	h.now = func() time.Time { return baseTime }
	return h, store
}

func addInquiry(t *testing.T, store *memstore.Store, id string, offset time.Duration, isRead bool) model.Inquiry {
	inquiry := model.Inquiry{ID: id, Name: "name-" + id, IsRead: isRead, CreatedAt: baseTime.Add(offset)}
	require.NoError(t, store.SaveInquiry(context.Background(), &inquiry))
	return inquiry
}

// nextEvent decodes the next frame queued for a subscriber.
func nextEvent(t *testing.T, sub *Subscriber) model.Event {
	t.Helper()
	select {
	case frame := <-sub.Frames():
		event, err := model.DecodeEvent(frame)
		require.NoError(t, err)
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func requireSnapshot(t *testing.T, sub *Subscriber, expected int64) {
	t.Helper()
	event := nextEvent(t, sub)
	snapshot, ok := event.(model.SnapshotEvent)
	require.True(t, ok, "expected a snapshot, got %T", event)
	assert.Equal(t, expected, snapshot.UnreadCount)
}

func requireNewInquiry(t *testing.T, sub *Subscriber, expectedID string) {
	t.Helper()
	event := nextEvent(t, sub)
	newInquiry, ok := event.(model.NewInquiryEvent)
	require.True(t, ok, "expected a new inquiry event, got %T", event)
	assert.Equal(t, expectedID, newInquiry.Inquiry.ID)
}

func connect(t *testing.T, h *Hub) *Subscriber {
	sub := h.NewSubscriber()
	h.OnClientConnect(context.Background(), sub)
	return sub
}

func TestOnClientConnectSendsSnapshotToNewClientOnly(t *testing.T) {
	h, store := newTestHub(Options{})
	addInquiry(t, store, "a", 0, false)
	addInquiry(t, store, "b", time.Minute, false)
	addInquiry(t, store, "c", 2*time.Minute, true)

	first := connect(t, h)
	requireSnapshot(t, first, 2)

	second := connect(t, h)
	requireSnapshot(t, second, 2)
	assert.Len(t, first.Frames(), 0, "existing subscribers aren't notified when another one connects")
	assert.Equal(t, 2, h.SubscriberCount())
}

func TestSnapshotsTrackTheStore(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHub(Options{SendBuffer: 32})
	sub := connect(t, h)
	requireSnapshot(t, sub, 0)

	ids := []string{"a", "b", "c", "d", "e"}
	for i, id := range ids {
		inquiry := addInquiry(t, store, id, time.Duration(i)*time.Second, false)
		h.OnInquiryCreated(ctx, inquiry)

		// The new inquiry is always announced before the count that includes it.
		requireNewInquiry(t, sub, id)
		requireSnapshot(t, sub, int64(i+1))
	}

	for i, id := range ids[:3] {
		_, err := store.MarkRead(ctx, id)
		require.NoError(t, err)
		h.OnInquiryMarkedRead(ctx, id)
		requireSnapshot(t, sub, int64(len(ids)-i-1))
	}
}

func TestMarkedReadTwiceSendsTheSameCount(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHub(Options{})
	addInquiry(t, store, "a", 0, false)
	addInquiry(t, store, "b", time.Second, false)
	sub := connect(t, h)
	requireSnapshot(t, sub, 2)

	for i := 0; i < 2; i++ {
		_, err := store.MarkRead(ctx, "a")
		require.NoError(t, err)
		h.OnInquiryMarkedRead(ctx, "a")
		requireSnapshot(t, sub, 1)
	}
}

func TestStoreFailureSkipsBroadcast(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHub(Options{})
	addInquiry(t, store, "a", 0, false)
	sub := connect(t, h)
	requireSnapshot(t, sub, 1)

	store.SetFailure(errors.New("store unavailable"))
	h.BroadcastUnreadCount(ctx)
	h.OnInquiryMarkedRead(ctx, "a")
	assert.Len(t, sub.Frames(), 0)

	late := connect(t, h)
	assert.Len(t, late.Frames(), 0, "no initial snapshot is sent when the count can't be computed")
	assert.Equal(t, 2, h.SubscriberCount())

	store.SetFailure(nil)
	h.BroadcastUnreadCount(ctx)
	requireSnapshot(t, sub, 1)
	requireSnapshot(t, late, 1)
}

// contextStore fails reads on a done context, the way database/sql does.
type contextStore struct {
	*memstore.Store
	block bool
}

func (s *contextStore) CountUnread(ctx context.Context) (int64, error) {
	if s.block {
		<-ctx.Done()
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.Store.CountUnread(ctx)
}

func TestEventsOutliveTheCallerContext(t *testing.T) {
	store := &contextStore{Store: memstore.New()}
	h := New(store, Options{})
	h.now = func() time.Time { return baseTime }
	addInquiry(t, store.Store, "a", 0, false)
	addInquiry(t, store.Store, "b", time.Second, false)
	sub := connect(t, h)
	requireSnapshot(t, sub, 2)

	// The caller goes away after the change is stored.
	ctx, cancel := context.WithCancel(context.Background())
	_, err := store.MarkRead(ctx, "a")
	require.NoError(t, err)
	cancel()

	h.OnInquiryMarkedRead(ctx, "a")
	requireSnapshot(t, sub, 1)

	inquiry := addInquiry(t, store.Store, "c", 2*time.Second, false)
	h.OnInquiryCreated(ctx, inquiry)
	requireNewInquiry(t, sub, "c")
	requireSnapshot(t, sub, 2)
}

func TestStoreTimeoutBoundsBroadcasts(t *testing.T) {
	store := &contextStore{Store: memstore.New()}
	h := New(store, Options{StoreTimeout: 20 * time.Millisecond})
	sub := h.NewSubscriber()
	store.block = true
	h.OnClientConnect(context.Background(), sub)

	finished := make(chan struct{})
	go func() {
		h.OnInquiryMarkedRead(context.Background(), "a")
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("the broadcast wasn't abandoned after the store timeout")
	}
	assert.Len(t, sub.Frames(), 0)
}

func TestOnInquiryCreatedIgnoresDuplicates(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHub(Options{})
	sub := connect(t, h)
	requireSnapshot(t, sub, 0)

	inquiry := addInquiry(t, store, "a", 0, false)
	h.OnInquiryCreated(ctx, inquiry)
	h.OnInquiryCreated(ctx, inquiry)

	requireNewInquiry(t, sub, "a")
	requireSnapshot(t, sub, 1)
	assert.Len(t, sub.Frames(), 0)
}

func TestCheckForNewInquiries(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	h, store := newTestHub(Options{SendBuffer: 32})
	addInquiry(t, store, "existing", 0, false)

	sub := connect(t, h)
	requireSnapshot(t, sub, 1)

	// The first check only seeds the watermark.
	require.NoError(t, h.CheckForNewInquiries(ctx))
	assert.Len(sub.Frames(), 0)
	watermark, seeded := h.Watermark()
	assert.True(seeded)
	assert.True(baseTime.Equal(watermark))

	// Inquiries written straight to the store are announced once.
	addInquiry(t, store, "direct-1", time.Minute, false)
	addInquiry(t, store, "direct-2", 2*time.Minute, false)
	require.NoError(t, h.CheckForNewInquiries(ctx))
	requireNewInquiry(t, sub, "direct-1")
	requireNewInquiry(t, sub, "direct-2")
	requireSnapshot(t, sub, 3)

	watermark, _ = h.Watermark()
	assert.True(baseTime.Add(2 * time.Minute).Equal(watermark))

	require.NoError(t, h.CheckForNewInquiries(ctx))
	assert.Len(sub.Frames(), 0)

	// Inquiries that the hub was told about aren't announced again by the poller.
	created := addInquiry(t, store, "via-service", 3*time.Minute, false)
	h.OnInquiryCreated(ctx, created)
	requireNewInquiry(t, sub, "via-service")
	requireSnapshot(t, sub, 4)

	require.NoError(t, h.CheckForNewInquiries(ctx))
	assert.Len(sub.Frames(), 0)
	watermark, _ = h.Watermark()
	assert.True(baseTime.Add(3 * time.Minute).Equal(watermark))
}

func TestCheckForNewInquiriesSameMillisecond(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHub(Options{})
	addInquiry(t, store, "existing", 0, false)
	sub := connect(t, h)
	requireSnapshot(t, sub, 1)
	require.NoError(t, h.CheckForNewInquiries(ctx))

	// Stored after the seeding check, in the same millisecond as the watermark.
	addInquiry(t, store, "same-millisecond", 0, false)
	require.NoError(t, h.CheckForNewInquiries(ctx))
	requireNewInquiry(t, sub, "same-millisecond")
	requireSnapshot(t, sub, 2)

	require.NoError(t, h.CheckForNewInquiries(ctx))
	assert.Len(t, sub.Frames(), 0, "inquiries at the watermark are announced once")
}

func TestCheckForNewInquiriesEmptyStore(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHub(Options{})
	sub := connect(t, h)
	requireSnapshot(t, sub, 0)

	require.NoError(t, h.CheckForNewInquiries(ctx))
	addInquiry(t, store, "first", 0, false)
	require.NoError(t, h.CheckForNewInquiries(ctx))

	requireNewInquiry(t, sub, "first")
	requireSnapshot(t, sub, 1)
}

func TestCheckForNewInquiriesStoreFailure(t *testing.T) {
	h, store := newTestHub(Options{})
	store.SetFailure(errors.New("store unavailable"))

	assert.Error(t, h.CheckForNewInquiries(context.Background()))
	_, seeded := h.Watermark()
	assert.False(t, seeded)
}

func TestSlowSubscriberIsDisconnected(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHub(Options{SendBuffer: 1})
	fast := connect(t, h)
	slow := connect(t, h)

	// Drain the fast subscriber; the slow one's queue stays full.
	requireSnapshot(t, fast, 0)
	inquiry := addInquiry(t, store, "a", 0, false)
	h.OnInquiryCreated(ctx, inquiry)

	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("the slow subscriber was not disconnected")
	}
	code, _ := slow.CloseStatus()
	assert.Equal(t, websocket.StatusPolicyViolation, code)
	assert.Equal(t, 0, h.SubscriberCount(), "the fast subscriber also overflows a one-frame queue")
}

func TestClose(t *testing.T) {
	h, _ := newTestHub(Options{})
	sub := connect(t, h)
	h.Close()

	<-sub.Done()
	code, _ := sub.CloseStatus()
	assert.Equal(t, websocket.StatusGoingAway, code)
	assert.Equal(t, 0, h.SubscriberCount())

	late := connect(t, h)
	<-late.Done()
	assert.Equal(t, 0, h.SubscriberCount())
}

func TestWatchStopsWithContext(t *testing.T) {
	h, store := newTestHub(Options{})
	ctx, cancel := context.WithCancel(context.Background())

	finished := make(chan struct{})
	go func() {
		h.Watch(ctx, 10*time.Millisecond)
		close(finished)
	}()

	assert.Eventually(t, func() bool {
		_, seeded := h.Watermark()
		return seeded
	}, time.Second, 5*time.Millisecond)

	sub := connect(t, h)
	requireSnapshot(t, sub, 0)
	addInquiry(t, store, "polled", time.Minute, false)
	requireNewInquiry(t, sub, "polled")
	requireSnapshot(t, sub, 1)

	cancel()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Watch didn't return after the context was cancelled")
	}
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) model.Event {
	t.Helper()
	messageType, frame, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, messageType)
	event, err := model.DecodeEvent(frame)
	require.NoError(t, err)
	return event
}

func TestServeHTTP(t *testing.T) {
	assert := assert.New(t)
	h, store := newTestHub(Options{PingInterval: -1})
	addInquiry(t, store, "a", 0, false)

	server := httptest.NewServer(h)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	snapshot, ok := readEvent(t, ctx, conn).(model.SnapshotEvent)
	require.True(t, ok)
	assert.Equal(int64(1), snapshot.UnreadCount)
	assert.True(baseTime.Equal(snapshot.Timestamp))

	inquiry := addInquiry(t, store, "b", time.Minute, false)
	h.OnInquiryCreated(ctx, inquiry)

	newInquiry, ok := readEvent(t, ctx, conn).(model.NewInquiryEvent)
	require.True(t, ok)
	assert.Equal("b", newInquiry.Inquiry.ID)
	assert.Equal("name-b", newInquiry.Inquiry.Name)

	snapshot, ok = readEvent(t, ctx, conn).(model.SnapshotEvent)
	require.True(t, ok)
	assert.Equal(int64(2), snapshot.UnreadCount)

	h.Close()
	_, _, err = conn.Read(ctx)
	assert.Equal(websocket.StatusGoingAway, websocket.CloseStatus(err))
	assert.Eventually(func() bool { return h.SubscriberCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServeHTTPClientClose(t *testing.T) {
	h, _ := newTestHub(Options{PingInterval: -1})
	server := httptest.NewServer(h)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	readEvent(t, ctx, conn)
	require.Equal(t, 1, h.SubscriberCount())

	conn.Close(websocket.StatusNormalClosure, "bye")
	assert.Eventually(t, func() bool { return h.SubscriberCount() == 0 }, time.Second, 10*time.Millisecond)
}
