package channel

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetbridge/sheetbridge/internal/drive"
	"github.com/sheetbridge/sheetbridge/internal/store"
)

type fakeWatch struct {
	grants         []*drive.Grant
	subscribeErr   error
	unsubscribeErr error

	subscribes   int
	unsubscribed []string
}

func (f *fakeWatch) Subscribe(_ context.Context, _, _ string, _ time.Time) (*drive.Grant, error) {
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	if f.subscribes >= len(f.grants) {
		return nil, fmt.Errorf("unexpected subscribe call %d", f.subscribes+1)
	}
	g := f.grants[f.subscribes]
	f.subscribes++
	return g, nil
}

func (f *fakeWatch) Unsubscribe(_ context.Context, channelID, _ string) error {
	f.unsubscribed = append(f.unsubscribed, channelID)
	return f.unsubscribeErr
}

type fakeArmer struct {
	armed []time.Time
}

func (f *fakeArmer) Arm(runAt time.Time) {
	f.armed = append(f.armed, runAt)
}

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestReconciler(t *testing.T, st store.ChannelStore, watch drive.WatchService, armer Armer) *Reconciler {
	t.Helper()
	r, err := NewReconciler(st, watch, armer, "file-123", "https://example.com/webhook",
		WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return r
}

func TestReconcileEmptyStoreSubscribes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	grantExpiry := testNow.Add(time.Hour)
	watch := &fakeWatch{grants: []*drive.Grant{
		{ChannelID: "ch-new", ResourceRef: "res-new", ExpiresAt: grantExpiry},
	}}
	st := store.NewMemoryStore()
	armer := &fakeArmer{}

	r := newTestReconciler(t, st, watch, armer)
	expiry, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, grantExpiry, expiry)

	assert.Equal(t, 1, watch.subscribes)
	assert.Empty(t, watch.unsubscribed)

	records, err := st.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ch-new", records[0].ChannelID)
	assert.Equal(t, "res-new", records[0].ResourceRef)
	assert.Equal(t, grantExpiry, records[0].ExpiresAt)

	require.Len(t, armer.armed, 1)
	assert.Equal(t, grantExpiry, armer.armed[0])
}

func TestReconcileLiveChannelKept(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	expiry := testNow.Add(time.Hour)
	st := store.NewMemoryStore()
	require.NoError(t, st.CreateChannel(ctx, store.ChannelRecord{
		ChannelID: "ch-live", ResourceRef: "res-live", ExpiresAt: expiry, CreatedAt: testNow.Add(-time.Hour),
	}))
	watch := &fakeWatch{}
	armer := &fakeArmer{}

	r := newTestReconciler(t, st, watch, armer)
	got, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, expiry, got)

	// No remote calls for a healthy channel.
	assert.Equal(t, 0, watch.subscribes)
	assert.Empty(t, watch.unsubscribed)
	require.Len(t, armer.armed, 1)
	assert.Equal(t, expiry, armer.armed[0])
}

func TestReconcileExpiredChannelReplaced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := store.NewMemoryStore()
	require.NoError(t, st.CreateChannel(ctx, store.ChannelRecord{
		ChannelID:   "ch-old",
		ResourceRef: "res-old",
		ExpiresAt:   testNow.Add(-time.Minute),
		CreatedAt:   testNow.Add(-2 * time.Hour),
	}))

	grantExpiry := testNow.Add(time.Hour)
	watch := &fakeWatch{grants: []*drive.Grant{
		{ChannelID: "ch-new", ResourceRef: "res-new", ExpiresAt: grantExpiry},
	}}
	armer := &fakeArmer{}

	r := newTestReconciler(t, st, watch, armer)
	expiry, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, grantExpiry, expiry)

	assert.Equal(t, []string{"ch-old"}, watch.unsubscribed)
	assert.Equal(t, 1, watch.subscribes)

	records, err := st.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ch-new", records[0].ChannelID)
}

func TestReconcileDuplicatesKeepMostRecent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := store.NewMemoryStore()
	keepExpiry := testNow.Add(2 * time.Hour)
	require.NoError(t, st.CreateChannel(ctx, store.ChannelRecord{
		ChannelID: "ch-1", ResourceRef: "res-1", ExpiresAt: testNow.Add(time.Hour), CreatedAt: testNow.Add(-3 * time.Hour),
	}))
	require.NoError(t, st.CreateChannel(ctx, store.ChannelRecord{
		ChannelID: "ch-2", ResourceRef: "res-2", ExpiresAt: testNow.Add(90 * time.Minute), CreatedAt: testNow.Add(-2 * time.Hour),
	}))
	require.NoError(t, st.CreateChannel(ctx, store.ChannelRecord{
		ChannelID: "ch-3", ResourceRef: "res-3", ExpiresAt: keepExpiry, CreatedAt: testNow.Add(-time.Hour),
	}))

	watch := &fakeWatch{}
	armer := &fakeArmer{}

	r := newTestReconciler(t, st, watch, armer)
	expiry, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, keepExpiry, expiry)

	// The two older channels are stopped, no new subscription is made.
	assert.ElementsMatch(t, []string{"ch-1", "ch-2"}, watch.unsubscribed)
	assert.Equal(t, 0, watch.subscribes)

	records, err := st.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ch-3", records[0].ChannelID)
}

func TestReconcileToleratesGoneChannel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := store.NewMemoryStore()
	require.NoError(t, st.CreateChannel(ctx, store.ChannelRecord{
		ChannelID: "ch-gone", ResourceRef: "res-gone", ExpiresAt: testNow.Add(-time.Minute), CreatedAt: testNow.Add(-2 * time.Hour),
	}))

	grantExpiry := testNow.Add(time.Hour)
	watch := &fakeWatch{
		grants:         []*drive.Grant{{ChannelID: "ch-new", ResourceRef: "res-new", ExpiresAt: grantExpiry}},
		unsubscribeErr: fmt.Errorf("channel ch-gone: %w", drive.ErrChannelGone),
	}
	armer := &fakeArmer{}

	r := newTestReconciler(t, st, watch, armer)
	expiry, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, grantExpiry, expiry)

	// The stale record is gone locally even though the remote stop 404'd.
	records, err := st.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ch-new", records[0].ChannelID)
}

func TestReconcileSubscribeFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := store.NewMemoryStore()
	watch := &fakeWatch{subscribeErr: fmt.Errorf("watch request failed")}
	armer := &fakeArmer{}

	r := newTestReconciler(t, st, watch, armer)
	_, err := r.Reconcile(ctx)
	require.Error(t, err)

	// Nothing persisted, nothing armed.
	records, listErr := st.ListChannels(ctx)
	require.NoError(t, listErr)
	assert.Empty(t, records)
	assert.Empty(t, armer.armed)
}

func TestNewReconcilerValidation(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	watch := &fakeWatch{}

	_, err := NewReconciler(nil, watch, nil, "file-123", "https://example.com/webhook")
	assert.Error(t, err)

	_, err = NewReconciler(st, nil, nil, "file-123", "https://example.com/webhook")
	assert.Error(t, err)

	_, err = NewReconciler(st, watch, nil, "", "https://example.com/webhook")
	assert.Error(t, err)

	_, err = NewReconciler(st, watch, nil, "file-123", "")
	assert.Error(t, err)
}
