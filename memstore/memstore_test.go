package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/cyverse-de/inquiry-notifier/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, store *Store, base time.Time, ids ...string) {
	for i, id := range ids {
		inquiry := &model.Inquiry{ID: id, Name: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, store.SaveInquiry(context.Background(), inquiry))
	}
}

func TestListOrdering(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	base := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	store := New()
	seed(t, store, base, "a", "b", "c")

	newestFirst, err := store.ListInquiries(ctx)
	require.NoError(t, err)
	assert.Equal([]string{"c", "b", "a"}, ids(newestFirst))

	since, err := store.ListInquiriesCreatedSince(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal([]string{"b", "c"}, ids(since), "the boundary is inclusive and the order ascending")

	latest, ok, err := store.LatestCreatedAt(ctx)
	require.NoError(t, err)
	assert.True(ok)
	assert.True(base.Add(2 * time.Minute).Equal(latest))
}

func TestMarkReadIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	store := New()
	seed(t, store, time.Now(), "a", "b")

	count, _ := store.CountUnread(ctx)
	assert.Equal(int64(2), count)

	for i := 0; i < 2; i++ {
		inquiry, err := store.MarkRead(ctx, "a")
		assert.NoError(err)
		assert.True(inquiry.IsRead)
	}

	count, _ = store.CountUnread(ctx)
	assert.Equal(int64(1), count)

	_, err := store.MarkRead(ctx, "missing")
	assert.True(errors.Is(err, model.ErrNotFound))
}

func TestSetFailure(t *testing.T) {
	ctx := context.Background()
	store := New()
	failure := errors.New("store unavailable")

	store.SetFailure(failure)
	_, err := store.CountUnread(ctx)
	assert.Equal(t, failure, err)
	assert.Equal(t, failure, store.Ping(ctx))

	store.SetFailure(nil)
	_, err = store.CountUnread(ctx)
	assert.NoError(t, err)
}

func TestDuplicateID(t *testing.T) {
	store := New()
	seed(t, store, time.Now(), "a")
	assert.Error(t, store.SaveInquiry(context.Background(), &model.Inquiry{ID: "a"}))
}

func ids(inquiries []model.Inquiry) []string {
	result := make([]string, len(inquiries))
	for i, inquiry := range inquiries {
		result[i] = inquiry.ID
	}
	return result
}
