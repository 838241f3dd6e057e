package orders

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pos-sync/internal/domain"
	"pos-sync/internal/logger"
	"pos-sync/internal/store"
)

// GhostPolicy decides what happens to a terminal-status order whose line
// items are gone. delete removes it locally and remotely; cancel
// reclassifies it to cancelled so the following pass deletes it.
type GhostPolicy string

const (
	GhostDelete GhostPolicy = "delete"
	GhostCancel GhostPolicy = "cancel"
)

// Reconciler detects and repairs ghost orders: records whose child items
// disappeared from storage due to partial writes.
type Reconciler struct {
	store  *store.Store
	syncer RemoteSyncer
	gen    *NumberGenerator
	policy GhostPolicy
	log    *logger.Logger
	now    func() time.Time
}

func NewReconciler(st *store.Store, syncer RemoteSyncer, gen *NumberGenerator, policy GhostPolicy, log *logger.Logger) *Reconciler {
	if policy == "" {
		policy = GhostDelete
	}
	return &Reconciler{store: st, syncer: syncer, gen: gen, policy: policy, log: log, now: time.Now}
}

// Sweep runs ghost detection over a freshly loaded order set and returns
// the survivors. Non-terminal ghosts are left alone: an in-progress order
// may legitimately have zero items transiently.
func (r *Reconciler) Sweep(ctx context.Context, loaded []domain.Order) ([]domain.Order, error) {
	out := make([]domain.Order, 0, len(loaded))
	for _, o := range loaded {
		if len(o.Items) > 0 {
			out = append(out, o)
			continue
		}
		if !o.Status.Terminal() {
			r.log.Debug("ghost_transient", map[string]any{"order_id": o.ID, "status": o.Status.String()})
			out = append(out, o)
			continue
		}

		if r.policy == GhostCancel && o.Status != domain.StatusCancelled {
			// Reclassify first; the next pass performs the terminal delete.
			now := r.now().UTC()
			o.Status = domain.StatusCancelled
			o.Touch(now)
			if err := r.store.UpdateOrderStatus(ctx, o.ID, o.Status, o.UpdatedAt, o.CompletedAt); err != nil {
				return nil, err
			}
			r.log.Warn("ghost_reclassified", map[string]any{"order_id": o.ID})
			out = append(out, o)
			continue
		}

		if err := r.store.DeleteOrder(ctx, o.ID); err != nil {
			return nil, err
		}
		r.syncer.PushDelete(o.ID)
		r.log.Warn("ghost_removed", map[string]any{"order_id": o.ID, "order_number": o.Number, "status": o.Status.String()})
	}
	return out, nil
}

// RebuildFromOrphans reconstructs orders from line items whose parent no
// longer resolves, grouping them by their shared order reference. Invoked
// explicitly, never as part of a routine load.
func (r *Reconciler) RebuildFromOrphans(ctx context.Context) ([]domain.Order, error) {
	orphans, err := r.store.OrphanItems(ctx)
	if err != nil {
		return nil, err
	}
	if len(orphans) == 0 {
		return nil, nil
	}

	groups := make(map[string][]domain.OrderItem)
	for _, it := range orphans {
		key := it.OrderID
		if key == "" {
			key = "recovered_" + uuid.NewString()
		}
		groups[key] = append(groups[key], it)
	}

	// Clear the stray rows first: SaveOrder only replaces items under the
	// order's own id, and synthesized groups keep their original item ids.
	ids := make([]string, 0, len(orphans))
	for _, it := range orphans {
		ids = append(ids, it.ID)
	}
	if err := r.store.DeleteOrphanItems(ctx, ids); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	var recovered []domain.Order
	for orderID, items := range groups {
		o := domain.Order{
			ID:        orderID,
			Number:    r.gen.Next(ctx),
			Status:    domain.StatusPending,
			Items:     items,
			Metadata:  map[string]string{"recovered": "true"},
			CreatedAt: now,
			UpdatedAt: now,
		}
		for i := range o.Items {
			o.Items[i].OrderID = o.ID
		}
		o.Recalculate()
		if err := r.store.SaveOrder(ctx, o); err != nil {
			return nil, err
		}
		r.syncer.PushOrder(o)
		r.log.Info("order_recovered", map[string]any{"order_id": o.ID, "items": len(o.Items)})
		recovered = append(recovered, o)
	}
	return recovered, nil
}
