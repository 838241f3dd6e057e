package sync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync/internal/domain"
	"pos-sync/internal/logger"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestDispatcher_RoutesChangesIntoLocalPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := NewDispatcher(f.feed, f.svc, logger.New("test"), domain.CollectionOrders)
	require.NoError(t, d.StartAll(ctx))
	defer d.StopAll()

	ro := domain.Order{
		ID: "ord-feed", Number: "ORD_20250828_900", Status: domain.StatusPreparing,
		Items:     []domain.OrderItem{{ID: "it-1", OrderID: "ord-feed", MenuItemID: "m", Quantity: 1, UnitPrice: 7}},
		CreatedAt: time.Now().UTC().Add(-time.Hour), UpdatedAt: time.Now().UTC().Add(-time.Hour),
	}
	ro.Recalculate()
	doc, err := json.Marshal(ro)
	require.NoError(t, err)

	f.feed.inject(domain.CollectionOrders, domain.ChangeNotification{
		Kind: domain.ChangeCreated, Collection: domain.CollectionOrders,
		ID: ro.ID, Document: doc, DeviceID: "device-b",
	})

	waitFor(t, func() bool {
		_, err := f.st.GetOrder(ctx, ro.ID)
		return err == nil
	})

	got, err := f.st.GetOrder(ctx, ro.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPreparing, got.Status)
}

func TestDispatcher_StartAllIsIdempotentAndRestartable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := NewDispatcher(f.feed, f.svc, logger.New("test"), domain.CollectionOrders)
	require.NoError(t, d.StartAll(ctx))
	require.NoError(t, d.StartAll(ctx)) // already running: no-op

	d.StopAll()
	d.StopAll() // already stopped: no-op

	// Stop-all then start-all works without a process restart.
	require.NoError(t, d.StartAll(ctx))
	d.StopAll()
}

func TestDispatcher_RemovedChangeDeletesLocally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.mgr.CreateOrder(ctx, twoItemSpec())
	require.NoError(t, err)
	f.svc.Wait()

	d := NewDispatcher(f.feed, f.svc, logger.New("test"), domain.CollectionOrders)
	require.NoError(t, d.StartAll(ctx))
	defer d.StopAll()

	f.feed.inject(domain.CollectionOrders, domain.ChangeNotification{
		Kind: domain.ChangeDeleted, Collection: domain.CollectionOrders,
		ID: o.ID, DeviceID: "device-b",
	})

	waitFor(t, func() bool {
		_, err := f.st.GetOrder(ctx, o.ID)
		return err != nil
	})
	assert.Empty(t, f.mgr.ActiveOrders())
}
