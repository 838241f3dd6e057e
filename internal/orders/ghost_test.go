package orders

import (
	"context"
	"fmt"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync/internal/domain"
	"pos-sync/internal/logger"
	"pos-sync/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "pos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

type fakeSyncer struct {
	mu      gosync.Mutex
	pushed  []domain.Order
	deleted []string
}

func (f *fakeSyncer) PushOrder(o domain.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, o)
}

func (f *fakeSyncer) PushDelete(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

func (f *fakeSyncer) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeSyncer) pushedOrders() []domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Order(nil), f.pushed...)
}

func testReconciler(t *testing.T, policy GhostPolicy) (*Reconciler, *store.Store, *fakeSyncer) {
	t.Helper()
	st := testStore(t)
	syn := &fakeSyncer{}
	rec := NewReconciler(st, syn, NewNumberGenerator(st), policy, logger.New("test"))
	return rec, st, syn
}

func ghostOrder(id string, status domain.Status, items int) domain.Order {
	now := time.Date(2025, 8, 28, 10, 0, 0, 0, time.UTC)
	o := domain.Order{
		ID:        id,
		Number:    "ORD_20250828_" + id,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i := 0; i < items; i++ {
		o.Items = append(o.Items, domain.OrderItem{
			ID: fmt.Sprintf("%s-i%d", id, i), OrderID: id, MenuItemID: "m", Quantity: 1, UnitPrice: 5,
		})
	}
	o.Recalculate()
	return o
}

func TestSweep_KeepsOrdersWithItems(t *testing.T) {
	rec, st, syn := testReconciler(t, GhostDelete)
	ctx := context.Background()

	o := ghostOrder("kept", domain.StatusCompleted, 1)
	require.NoError(t, st.SaveOrder(ctx, o))

	out, err := rec.Sweep(ctx, []domain.Order{o})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Empty(t, syn.deletedIDs())
}

func TestSweep_KeepsNonTerminalGhosts(t *testing.T) {
	rec, st, syn := testReconciler(t, GhostDelete)
	ctx := context.Background()

	// A draft may legitimately have zero items while it is being built.
	o := ghostOrder("draft", domain.StatusPending, 0)
	require.NoError(t, st.SaveOrder(ctx, o))

	out, err := rec.Sweep(ctx, []domain.Order{o})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Empty(t, syn.deletedIDs())

	_, err = st.GetOrder(ctx, "draft")
	assert.NoError(t, err)
}

func TestSweep_DeletePolicyRemovesTerminalGhost(t *testing.T) {
	rec, st, syn := testReconciler(t, GhostDelete)
	ctx := context.Background()

	o := ghostOrder("ghost", domain.StatusCompleted, 0)
	require.NoError(t, st.SaveOrder(ctx, o))

	out, err := rec.Sweep(ctx, []domain.Order{o})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, []string{"ghost"}, syn.deletedIDs())

	_, err = st.GetOrder(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSweep_CancelPolicyReclassifiesThenRemoves(t *testing.T) {
	rec, st, syn := testReconciler(t, GhostCancel)
	ctx := context.Background()

	o := ghostOrder("ghost", domain.StatusCompleted, 0)
	require.NoError(t, st.SaveOrder(ctx, o))

	out, err := rec.Sweep(ctx, []domain.Order{o})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.StatusCancelled, out[0].Status)
	assert.Empty(t, syn.deletedIDs())

	got, err := st.GetOrder(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)

	// The following pass sees a cancelled ghost and deletes it.
	out, err = rec.Sweep(ctx, out)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, []string{"ghost"}, syn.deletedIDs())
}

func TestRebuildFromOrphans(t *testing.T) {
	rec, st, syn := testReconciler(t, GhostDelete)
	ctx := context.Background()

	_, err := st.DB().Exec(`
		INSERT INTO order_items (id, order_id, menu_item_id, quantity, unit_price, total_price, sent_to_kitchen, instructions)
		VALUES ('lost-1', 'vanished', 'm1', 2, 5.0, 10.0, 0, ''),
		       ('lost-2', 'vanished', 'm2', 1, 4.0, 4.0, 0, '')
	`)
	require.NoError(t, err)

	recovered, err := rec.RebuildFromOrphans(ctx)
	require.NoError(t, err)
	require.Len(t, recovered, 1)

	o := recovered[0]
	assert.Equal(t, "vanished", o.ID)
	assert.Equal(t, domain.StatusPending, o.Status)
	assert.Equal(t, "true", o.Metadata["recovered"])
	assert.Len(t, o.Items, 2)
	assert.InDelta(t, 14.0, o.TotalAmount, 0.001)
	assert.True(t, ValidNumber(o.Number) || len(o.Number) == 36)

	got, err := st.GetOrder(ctx, "vanished")
	require.NoError(t, err)
	assert.Len(t, got.Items, 2)

	require.Len(t, syn.pushedOrders(), 1)
	assert.Equal(t, "vanished", syn.pushedOrders()[0].ID)
}

func TestRebuildFromOrphans_SynthesizesParentForBlankReference(t *testing.T) {
	rec, st, _ := testReconciler(t, GhostDelete)
	ctx := context.Background()

	_, err := st.DB().Exec(`
		INSERT INTO order_items (id, order_id, menu_item_id, quantity, unit_price, total_price, sent_to_kitchen, instructions)
		VALUES ('stray-1', '', 'm1', 1, 2.0, 2.0, 0, '')
	`)
	require.NoError(t, err)

	recovered, err := rec.RebuildFromOrphans(ctx)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Contains(t, recovered[0].ID, "recovered_")

	got, err := st.GetOrder(ctx, recovered[0].ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, recovered[0].ID, got.Items[0].OrderID)

	// The stray row is gone, so a second pass finds nothing.
	again, err := rec.RebuildFromOrphans(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestRebuildFromOrphans_NoOrphansIsNoOp(t *testing.T) {
	rec, _, syn := testReconciler(t, GhostDelete)

	recovered, err := rec.RebuildFromOrphans(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recovered)
	assert.Empty(t, syn.pushedOrders())
}
