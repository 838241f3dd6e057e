// Package orders is the public-facing order lifecycle component: it owns
// the in-memory indices, validates and persists mutations, and hands them
// to the sync layer without ever letting remote failures surface locally.
package orders

import (
	"context"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"pos-sync/internal/collab"
	"pos-sync/internal/domain"
	"pos-sync/internal/logger"
	"pos-sync/internal/store"
)

// RemoteSyncer is the detached remote-push path. Calls never block and
// never fail the local operation.
type RemoteSyncer interface {
	PushOrder(o domain.Order)
	PushDelete(id string)
}

// Manager orchestrates the order lifecycle. All mutations — local operations
// and the remote apply-path alike — serialize end to end on one mutex, so
// store commit order and index order never diverge (single-writer
// discipline).
type Manager struct {
	store     *store.Store
	syncer    RemoteSyncer
	inventory collab.Inventory
	printer   collab.Printer
	log       *logger.Logger
	gen       *NumberGenerator
	rec       *Reconciler

	// ops serializes whole mutations (validate, store commit, index update)
	// so the store's commit order always equals the index order. mu guards
	// only the maps and may be taken by readers while an op is in flight.
	// Lock order: ops before mu, never the reverse.
	ops gosync.Mutex

	mu        gosync.Mutex
	active    map[string]*domain.Order
	completed map[string]*domain.Order
	all       map[string]*domain.Order

	observers *observerSet
	loading   atomic.Bool
	now       func() time.Time
}

func NewManager(st *store.Store, syncer RemoteSyncer, inv collab.Inventory, prn collab.Printer, policy GhostPolicy, log *logger.Logger) *Manager {
	gen := NewNumberGenerator(st)
	return &Manager{
		store:     st,
		syncer:    syncer,
		inventory: inv,
		printer:   prn,
		log:       log,
		gen:       gen,
		rec:       NewReconciler(st, syncer, gen, policy, log),
		active:    make(map[string]*domain.Order),
		completed: make(map[string]*domain.Order),
		all:       make(map[string]*domain.Order),
		observers: newObserverSet(),
		now:       time.Now,
	}
}

// Subscribe registers an observer for domain events.
func (m *Manager) Subscribe(fn Observer) Handle { return m.observers.add(fn) }

// Unsubscribe removes a previously registered observer.
func (m *Manager) Unsubscribe(h Handle) { m.observers.remove(h) }

// Load bulk-loads the record store, runs ghost reconciliation, and builds
// the indices. Concurrent re-entry is a no-op.
func (m *Manager) Load(ctx context.Context) error {
	if !m.loading.CompareAndSwap(false, true) {
		return nil
	}
	defer m.loading.Store(false)

	m.ops.Lock()
	defer m.ops.Unlock()

	loaded, err := m.store.ListOrders(ctx)
	if err != nil {
		return err
	}
	survivors, err := m.rec.Sweep(ctx, loaded)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.active = make(map[string]*domain.Order, len(survivors))
	m.completed = make(map[string]*domain.Order)
	m.all = make(map[string]*domain.Order, len(survivors))
	for i := range survivors {
		m.indexLocked(&survivors[i])
	}
	m.mu.Unlock()

	m.log.Info("orders_loaded", map[string]any{"count": len(survivors), "ghosts": len(loaded) - len(survivors)})
	return nil
}

// RebuildFromOrphans reconstructs orders from orphaned line items and
// indexes the recovered ones.
func (m *Manager) RebuildFromOrphans(ctx context.Context) ([]domain.Order, error) {
	m.ops.Lock()
	defer m.ops.Unlock()

	recovered, err := m.rec.RebuildFromOrphans(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	for i := range recovered {
		m.indexLocked(&recovered[i])
	}
	m.mu.Unlock()
	for i := range recovered {
		m.observers.emit(domain.Event{Kind: domain.EventCreated, OrderID: recovered[i].ID, Order: &recovered[i]})
	}
	return recovered, nil
}

// ItemSpec describes one line item at creation time.
type ItemSpec struct {
	MenuItemID    string
	Quantity      int
	UnitPrice     float64
	Instructions  string
	SentToKitchen bool
}

// CreateSpec describes a new order. Draft orders may start without items;
// everything else requires at least one.
type CreateSpec struct {
	Items      []ItemSpec
	Tax        float64
	Tip        float64
	Discount   float64
	Gratuity   float64
	AssignedTo string
	TableID    string
	Metadata   map[string]string
	Draft      bool
}

// CreateOrder validates, allocates identity, persists order and items in
// one transaction, indexes, notifies, and triggers the detached remote
// push. A local write failure aborts atomically.
func (m *Manager) CreateOrder(ctx context.Context, spec CreateSpec) (domain.Order, error) {
	m.ops.Lock()
	defer m.ops.Unlock()

	if len(spec.Items) == 0 && !spec.Draft {
		return domain.Order{}, &domain.ValidationError{Field: "items", Reason: "at least one line item is required"}
	}
	for _, it := range spec.Items {
		if it.Quantity <= 0 {
			return domain.Order{}, &domain.ValidationError{Field: "quantity", Reason: "must be positive"}
		}
		if it.UnitPrice < 0 {
			return domain.Order{}, &domain.ValidationError{Field: "unit_price", Reason: "must not be negative"}
		}
	}

	now := m.now().UTC()
	o := domain.Order{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Number:     m.gen.Next(ctx),
		Status:     domain.StatusPending,
		Tax:        spec.Tax,
		Tip:        spec.Tip,
		Discount:   spec.Discount,
		Gratuity:   spec.Gratuity,
		AssignedTo: spec.AssignedTo,
		TableID:    spec.TableID,
		Metadata:   spec.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	o.Items = make([]domain.OrderItem, len(spec.Items))
	for i, it := range spec.Items {
		o.Items[i] = domain.OrderItem{
			ID:            uuid.Must(uuid.NewV7()).String(),
			OrderID:       o.ID,
			MenuItemID:    it.MenuItemID,
			Quantity:      it.Quantity,
			UnitPrice:     it.UnitPrice,
			SentToKitchen: it.SentToKitchen,
			Instructions:  it.Instructions,
		}
	}
	o.Recalculate()

	if err := m.store.SaveOrder(ctx, o); err != nil {
		return domain.Order{}, err
	}

	m.mu.Lock()
	m.indexLocked(&o)
	m.mu.Unlock()

	m.observers.emit(domain.Event{Kind: domain.EventCreated, OrderID: o.ID, Order: &o})
	m.pushIfSyncable(o)
	m.log.Info("order_created", map[string]any{"order_id": o.ID, "order_number": o.Number, "total": o.TotalAmount})
	return o.Clone(), nil
}

// UpdateOrder re-persists an order with a fresh updated timestamp. The
// order number is never overwritten, whatever the caller passed in.
func (m *Manager) UpdateOrder(ctx context.Context, o domain.Order) (domain.Order, error) {
	m.ops.Lock()
	defer m.ops.Unlock()

	existing, err := m.GetOrderByID(ctx, o.ID)
	if err != nil {
		return domain.Order{}, err
	}
	if len(o.Items) == 0 && existing.Status != domain.StatusPending {
		return domain.Order{}, &domain.ValidationError{Field: "items", Reason: "cannot empty a finalized order"}
	}
	for _, it := range o.Items {
		if it.Quantity <= 0 {
			return domain.Order{}, &domain.ValidationError{Field: "quantity", Reason: "must be positive"}
		}
		if it.UnitPrice < 0 {
			return domain.Order{}, &domain.ValidationError{Field: "unit_price", Reason: "must not be negative"}
		}
	}

	o.Number = existing.Number
	o.CreatedAt = existing.CreatedAt
	for i := range o.Items {
		o.Items[i].OrderID = o.ID
		if o.Items[i].ID == "" {
			o.Items[i].ID = uuid.Must(uuid.NewV7()).String()
		}
	}
	o.Recalculate()
	o.UpdatedAt = existing.UpdatedAt
	o.Touch(m.now().UTC())

	if err := m.store.SaveOrder(ctx, o); err != nil {
		return domain.Order{}, err
	}

	m.mu.Lock()
	m.indexLocked(&o)
	m.mu.Unlock()

	m.observers.emit(domain.Event{Kind: domain.EventUpdated, OrderID: o.ID, Order: &o})
	m.pushIfSyncable(o)
	return o.Clone(), nil
}

// UpdateStatus performs the transactional status transition. Entering
// completed stamps the completion time and invokes the inventory
// collaborator; its failure is logged, never rolled back. Entering
// preparing hands the order to the kitchen printer, fire-and-forget.
func (m *Manager) UpdateStatus(ctx context.Context, id string, next domain.Status) (domain.Order, error) {
	m.ops.Lock()
	defer m.ops.Unlock()

	o, err := m.GetOrderByID(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	if o.Status.Terminal() && o.Protected {
		return domain.Order{}, domain.ErrProtectedOrder
	}
	if !o.Status.CanTransitionTo(next) {
		return domain.Order{}, &domain.InvalidTransitionError{From: o.Status, To: next}
	}

	o.Status = next
	o.Touch(m.now().UTC())
	if next == domain.StatusCompleted {
		t := o.UpdatedAt
		o.CompletedAt = &t
	}

	if err := m.store.UpdateOrderStatus(ctx, o.ID, o.Status, o.UpdatedAt, o.CompletedAt); err != nil {
		return domain.Order{}, err
	}

	m.mu.Lock()
	m.indexLocked(&o)
	m.mu.Unlock()

	m.observers.emit(domain.Event{Kind: domain.EventStatusChanged, OrderID: o.ID, Order: &o})

	if next == domain.StatusCompleted {
		if err := m.inventory.OnOrderCompleted(ctx, o.Clone()); err != nil {
			m.log.Error("inventory_decrement_failed", err, map[string]any{"order_id": o.ID})
		}
	}
	if next == domain.StatusPreparing {
		snapshot := o.Clone()
		go m.printer.OnOrderReadyForKitchen(snapshot)
	}

	m.pushIfSyncable(o)
	m.log.Info("status_changed", map[string]any{"order_id": o.ID, "status": next.String()})
	return o.Clone(), nil
}

// DeleteOrder removes the order and its items locally in one transaction,
// then propagates the delete remotely, best effort.
func (m *Manager) DeleteOrder(ctx context.Context, id string) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	if _, err := m.GetOrderByID(ctx, id); err != nil {
		return err
	}
	if err := m.store.DeleteOrder(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	m.deindexLocked(id)
	m.mu.Unlock()

	m.observers.emit(domain.Event{Kind: domain.EventDeleted, OrderID: id})
	m.syncer.PushDelete(id)
	m.log.Info("order_deleted", map[string]any{"order_id": id})
	return nil
}

// GetOrderByID reads from the index, falling back to the record store on a
// miss (and caching the result).
func (m *Manager) GetOrderByID(ctx context.Context, id string) (domain.Order, error) {
	m.mu.Lock()
	if o, ok := m.all[id]; ok {
		c := o.Clone()
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	o, err := m.store.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	m.mu.Lock()
	m.indexLocked(&o)
	m.mu.Unlock()
	return o.Clone(), nil
}

// GetOrdersByStatus returns every indexed order in the given status.
func (m *Manager) GetOrdersByStatus(st domain.Status) []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.all {
		if o.Status == st {
			out = append(out, o.Clone())
		}
	}
	return out
}

// GetOrdersAssignedTo returns the active orders whose assignment matches
// the server, using the layered matching policy.
func (m *Manager) GetOrdersAssignedTo(serverID string) []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.active {
		if MatchesAssignment(o.AssignedTo, serverID) {
			out = append(out, o.Clone())
		}
	}
	return out
}

// ActiveOrders returns every non-terminal order.
func (m *Manager) ActiveOrders() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Order, 0, len(m.active))
	for _, o := range m.active {
		out = append(out, o.Clone())
	}
	return out
}

// CompletedOrders returns every terminal order.
func (m *Manager) CompletedOrders() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Order, 0, len(m.completed))
	for _, o := range m.completed {
		out = append(out, o.Clone())
	}
	return out
}

// ApplyRemote installs a winning remote version: store write, index,
// observer notification. Called by the sync layer; idempotent.
func (m *Manager) ApplyRemote(ctx context.Context, o domain.Order) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	if err := m.store.SaveOrder(ctx, o); err != nil {
		return err
	}
	m.mu.Lock()
	m.indexLocked(&o)
	m.mu.Unlock()
	m.observers.emit(domain.Event{Kind: domain.EventSynced, OrderID: o.ID, Order: &o})
	m.log.Debug("remote_applied", map[string]any{"order_id": o.ID})
	return nil
}

// RemoveLocal applies a remote deletion. Removing an order that is already
// gone is a no-op, so replays are safe.
func (m *Manager) RemoveLocal(ctx context.Context, id string) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	m.mu.Lock()
	_, known := m.all[id]
	m.deindexLocked(id)
	m.mu.Unlock()

	if err := m.store.DeleteOrder(ctx, id); err != nil {
		return err
	}
	if known {
		m.observers.emit(domain.Event{Kind: domain.EventSynced, OrderID: id})
	}
	return nil
}

// indexLocked installs o into the maps; callers hold m.mu. Terminal orders
// live in the completed index, everything else in active.
func (m *Manager) indexLocked(o *domain.Order) {
	c := o.Clone()
	m.all[c.ID] = &c
	if c.Status.Terminal() {
		delete(m.active, c.ID)
		m.completed[c.ID] = &c
	} else {
		delete(m.completed, c.ID)
		m.active[c.ID] = &c
	}
}

func (m *Manager) deindexLocked(id string) {
	delete(m.all, id)
	delete(m.active, id)
	delete(m.completed, id)
}

// pushIfSyncable triggers the detached remote push. Zero-item drafts stay
// local: they would fail the structural gate on every other device anyway,
// and the ghost rule keeps them out of the remote store.
func (m *Manager) pushIfSyncable(o domain.Order) {
	if len(o.Items) == 0 {
		return
	}
	m.syncer.PushOrder(o)
}
