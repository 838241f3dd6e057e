package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"pos-sync/internal/domain"
	"pos-sync/internal/logger"
	"pos-sync/internal/remote"
	"pos-sync/internal/store"
)

// Config tunes the sync service. Values come from configuration, not
// constants: the grace window in particular is a deployment decision.
type Config struct {
	DeviceID     string
	GraceWindow  time.Duration
	PushAttempts int
	PushBackoff  time.Duration
}

// Applier is the hand-back into the order lifecycle manager for winning
// remote versions: store write, index update, observer notification.
type Applier interface {
	ApplyRemote(ctx context.Context, o domain.Order) error
	RemoveLocal(ctx context.Context, id string) error
}

// Service owns the remote side of the pipeline. It is an explicitly
// constructed instance — construction wires dependencies, Bind attaches the
// applier, and the owner decides its lifetime. No process-wide state.
type Service struct {
	cfg    Config
	local  *store.Store
	remote remote.Store
	feed   remote.Feed
	log    *logger.Logger

	applier Applier

	mu      gosync.Mutex
	pushers map[string]*pushState
	wg      gosync.WaitGroup

	resyncing atomic.Bool
}

// pushState coalesces detached pushes per order id: only the newest
// snapshot is sent, so a delayed earlier round-trip can never overwrite a
// later local write.
type pushState struct {
	next    *pushWork
	running bool
}

type pushWork struct {
	order  *domain.Order // nil for deletes
	delete bool
}

func New(cfg Config, local *store.Store, rs remote.Store, feed remote.Feed, log *logger.Logger) *Service {
	if cfg.PushAttempts <= 0 {
		cfg.PushAttempts = 3
	}
	if cfg.PushBackoff <= 0 {
		cfg.PushBackoff = 500 * time.Millisecond
	}
	return &Service{
		cfg:     cfg,
		local:   local,
		remote:  rs,
		feed:    feed,
		log:     log,
		pushers: make(map[string]*pushState),
	}
}

// Bind attaches the applier. Must be called before StartAll/Resync.
func (s *Service) Bind(a Applier) { s.applier = a }

// Wait blocks until every detached push worker has drained. Teardown only.
func (s *Service) Wait() { s.wg.Wait() }

// PushOrder hands a local mutation to the detached remote-push path. It
// never blocks the caller and never returns an error: failures end up in
// the pending queue.
func (s *Service) PushOrder(o domain.Order) {
	c := o.Clone()
	s.enqueue(o.ID, &pushWork{order: &c})
}

// PushDelete propagates a local delete remotely, best effort.
func (s *Service) PushDelete(id string) {
	s.enqueue(id, &pushWork{delete: true})
}

func (s *Service) enqueue(id string, w *pushWork) {
	s.mu.Lock()
	st, ok := s.pushers[id]
	if !ok {
		st = &pushState{}
		s.pushers[id] = st
	}
	st.next = w
	if !st.running {
		st.running = true
		s.wg.Add(1)
		go s.runPusher(id, st)
	}
	s.mu.Unlock()
}

func (s *Service) runPusher(id string, st *pushState) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		w := st.next
		st.next = nil
		if w == nil {
			st.running = false
			delete(s.pushers, id)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		ctx := context.Background()
		if w.delete {
			s.deleteRemote(ctx, id)
		} else {
			s.pushRemote(ctx, *w.order)
		}
	}
}

// pushRemote writes the order document plus the per-item documents, then
// publishes the change notification. Bounded attempts with exponential
// backoff; exhaustion defers to the pending queue. Never fatal.
func (s *Service) pushRemote(ctx context.Context, o domain.Order) {
	doc, err := json.Marshal(o)
	if err != nil {
		s.log.Error("order_marshal_failed", err, map[string]any{"order_id": o.ID})
		return
	}

	err = s.withBackoff(ctx, func() error {
		if err := s.remote.Set(ctx, domain.CollectionOrders, o.ID, doc, false); err != nil {
			return err
		}
		if err := s.pushItemDocs(ctx, o.Items); err != nil {
			return err
		}
		return s.feed.Publish(ctx, domain.ChangeNotification{
			Kind:       domain.ChangeUpdated,
			Collection: domain.CollectionOrders,
			ID:         o.ID,
			Document:   doc,
		})
	})
	if err != nil {
		s.deferToQueue(ctx, domain.PendingChange{
			Collection: domain.CollectionOrders,
			Action:     domain.ChangeUpdated,
			TargetID:   o.ID,
			Payload:    doc,
		}, err)
		return
	}
	s.log.Debug("remote_push_ok", map[string]any{"order_id": o.ID})
}

// pushItemDocs writes the authoritative per-item documents alongside the
// order document. Shared by the direct push path and the pending replay.
func (s *Service) pushItemDocs(ctx context.Context, items []domain.OrderItem) error {
	for _, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("failed to marshal item %s: %w", it.ID, err)
		}
		if err := s.remote.Set(ctx, domain.CollectionOrderItems, it.ID, b, false); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) deleteRemote(ctx context.Context, id string) {
	err := s.withBackoff(ctx, func() error {
		if err := s.remote.Delete(ctx, domain.CollectionOrders, id); err != nil {
			return err
		}
		if err := s.deleteRemoteItems(ctx, id); err != nil {
			return err
		}
		return s.feed.Publish(ctx, domain.ChangeNotification{
			Kind:       domain.ChangeDeleted,
			Collection: domain.CollectionOrders,
			ID:         id,
		})
	})
	if err != nil {
		s.deferToQueue(ctx, domain.PendingChange{
			Collection: domain.CollectionOrders,
			Action:     domain.ChangeDeleted,
			TargetID:   id,
		}, err)
		return
	}
	s.log.Debug("remote_delete_ok", map[string]any{"order_id": id})
}

// deleteRemoteItems drops per-item documents that reference the deleted
// order. Listing is acceptable here: deletes are rare next to pushes.
func (s *Service) deleteRemoteItems(ctx context.Context, orderID string) error {
	docs, err := s.remote.List(ctx, domain.CollectionOrderItems)
	if err != nil {
		return err
	}
	for id, body := range docs {
		var it domain.OrderItem
		if err := json.Unmarshal(body, &it); err != nil {
			continue
		}
		if it.OrderID != orderID {
			continue
		}
		if err := s.remote.Delete(ctx, domain.CollectionOrderItems, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) withBackoff(ctx context.Context, fn func() error) error {
	var err error
	delay := s.cfg.PushBackoff
	for attempt := 1; attempt <= s.cfg.PushAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == s.cfg.PushAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}

// deferToQueue hands a failed remote mutation to the durable queue. A failure to
// enqueue is the one case that is loud: the mutation must never be
// silently dropped.
func (s *Service) deferToQueue(ctx context.Context, c domain.PendingChange, cause error) {
	s.log.Warn("remote_push_failed", map[string]any{
		"collection": c.Collection, "target_id": c.TargetID, "change_action": string(c.Action), "cause": cause.Error(),
	})
	if err := s.local.EnqueueChange(ctx, c); err != nil {
		s.log.Error("pending_enqueue_failed", err, map[string]any{"target_id": c.TargetID})
		return
	}
	s.log.Info("pending_enqueued", map[string]any{"collection": c.Collection, "target_id": c.TargetID})
}

// Drain replays the pending queue in enqueue order. A failed entry stays
// put for the next drain and does not block the rest of the pass.
func (s *Service) Drain(ctx context.Context) error {
	changes, err := s.local.PendingChanges(ctx)
	if err != nil {
		return err
	}
	replayed, left := 0, 0
	for _, c := range changes {
		if err := s.replay(ctx, c); err != nil {
			left++
			s.log.Warn("pending_replay_failed", map[string]any{
				"seq": c.Seq, "target_id": c.TargetID, "cause": err.Error(),
			})
			continue
		}
		if err := s.local.DeletePending(ctx, c.Seq); err != nil {
			return err
		}
		replayed++
	}
	s.log.Info("drain_complete", map[string]any{"replayed": replayed, "remaining": left})
	return nil
}

func (s *Service) replay(ctx context.Context, c domain.PendingChange) error {
	switch c.Action {
	case domain.ChangeDeleted:
		if err := s.remote.Delete(ctx, c.Collection, c.TargetID); err != nil {
			return err
		}
		if c.Collection == domain.CollectionOrders {
			if err := s.deleteRemoteItems(ctx, c.TargetID); err != nil {
				return err
			}
		}
		return s.feed.Publish(ctx, domain.ChangeNotification{
			Kind: domain.ChangeDeleted, Collection: c.Collection, ID: c.TargetID,
		})
	default:
		if err := s.remote.Set(ctx, c.Collection, c.TargetID, c.Payload, false); err != nil {
			return err
		}
		if c.Collection == domain.CollectionOrders {
			var o domain.Order
			if err := json.Unmarshal(c.Payload, &o); err != nil {
				return fmt.Errorf("failed to decode queued order %s: %w", c.TargetID, err)
			}
			if err := s.pushItemDocs(ctx, o.Items); err != nil {
				return err
			}
		}
		return s.feed.Publish(ctx, domain.ChangeNotification{
			Kind: domain.ChangeUpdated, Collection: c.Collection, ID: c.TargetID, Document: c.Payload,
		})
	}
}

// Resync runs one full bidirectional pass over the union of local and
// remote order ids. A second request while one is in flight is a no-op.
func (s *Service) Resync(ctx context.Context) error {
	if !s.resyncing.CompareAndSwap(false, true) {
		return domain.ErrResyncInFlight
	}
	defer s.resyncing.Store(false)

	locals, err := s.local.ListOrders(ctx)
	if err != nil {
		return err
	}
	remotes, err := s.remote.List(ctx, domain.CollectionOrders)
	if err != nil {
		return err
	}

	localByID := make(map[string]domain.Order, len(locals))
	for _, o := range locals {
		localByID[o.ID] = o
	}

	ids := make(map[string]struct{}, len(localByID)+len(remotes))
	for id := range localByID {
		ids[id] = struct{}{}
	}
	for id := range remotes {
		ids[id] = struct{}{}
	}

	pushed, pulled := 0, 0
	for id := range ids {
		lo, hasLocal := localByID[id]
		doc, hasRemote := remotes[id]

		local := Version{Exists: hasLocal, UpdatedAt: lo.UpdatedAt}
		rv := Version{Exists: hasRemote}
		var ro domain.Order
		if hasRemote {
			var derr error
			ro, derr = DecodeRemoteOrder(doc)
			if derr == nil {
				rv.Valid = true
				rv.UpdatedAt = ro.UpdatedAt
			} else {
				rv.UpdatedAt = RemoteTimestamp(doc)
				s.log.Warn("remote_order_invalid", map[string]any{"order_id": id, "cause": derr.Error()})
			}
		}

		switch Resolve(local, rv, s.cfg.GraceWindow) {
		case DecisionPushLocal:
			// Zero-item drafts never leave the device (ghost rule); they
			// would fail the structural gate everywhere else anyway.
			if len(lo.Items) == 0 {
				continue
			}
			s.pushRemote(ctx, lo)
			pushed++
		case DecisionPullRemote:
			if err := s.applier.ApplyRemote(ctx, ro); err != nil {
				s.log.Error("remote_apply_failed", err, map[string]any{"order_id": id})
				continue
			}
			pulled++
		}
	}

	s.log.Info("resync_complete", map[string]any{
		"local": len(localByID), "remote": len(remotes), "pushed": pushed, "pulled": pulled,
	})
	return nil
}

// ApplyChange routes one feed notification into the local pipeline. It is
// idempotent: replaying the same notification after a reconnect converges
// to the same state.
func (s *Service) ApplyChange(ctx context.Context, n domain.ChangeNotification) error {
	if n.DeviceID == s.cfg.DeviceID {
		// Our own echo; applying it would be a no-op anyway.
		return nil
	}
	switch n.Collection {
	case domain.CollectionOrders:
		return s.applyOrderChange(ctx, n)
	case domain.CollectionOrderItems:
		return s.applyItemChange(ctx, n)
	default:
		s.log.Debug("change_ignored", map[string]any{"collection": n.Collection, "id": n.ID})
		return nil
	}
}

func (s *Service) applyOrderChange(ctx context.Context, n domain.ChangeNotification) error {
	if n.Kind == domain.ChangeDeleted {
		return s.applier.RemoveLocal(ctx, n.ID)
	}

	doc := n.Document
	if len(doc) == 0 {
		var err error
		doc, err = s.remote.Get(ctx, domain.CollectionOrders, n.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil // already gone remotely; the delete will follow
		}
		if err != nil {
			return err
		}
	}

	ro, derr := DecodeRemoteOrder(doc)
	rv := Version{Exists: true, Valid: derr == nil, UpdatedAt: ro.UpdatedAt}
	if derr != nil {
		rv.UpdatedAt = RemoteTimestamp(doc)
		s.log.Warn("remote_order_invalid", map[string]any{"order_id": n.ID, "cause": derr.Error()})
	}

	local := Version{}
	lo, err := s.local.GetOrder(ctx, n.ID)
	switch {
	case err == nil:
		local = Version{Exists: true, UpdatedAt: lo.UpdatedAt}
	case errors.Is(err, domain.ErrNotFound):
	default:
		return err
	}

	switch Resolve(local, rv, s.cfg.GraceWindow) {
	case DecisionPullRemote:
		return s.applier.ApplyRemote(ctx, ro)
	case DecisionPushLocal:
		// Local is newer: reassert it so the other devices converge.
		s.PushOrder(lo)
	}
	return nil
}

// applyItemChange resolves the parent order instead of the single item:
// items never travel without their owner, so the order document is the
// authoritative unit of convergence.
func (s *Service) applyItemChange(ctx context.Context, n domain.ChangeNotification) error {
	var orderID string
	if len(n.Document) > 0 {
		var it domain.OrderItem
		if err := json.Unmarshal(n.Document, &it); err != nil {
			s.log.Warn("item_change_invalid", map[string]any{"id": n.ID, "cause": err.Error()})
			return nil
		}
		orderID = it.OrderID
	}
	if orderID == "" {
		return nil // removed-item notifications ride on the order update
	}
	return s.applyOrderChange(ctx, domain.ChangeNotification{
		Kind:       domain.ChangeUpdated,
		Collection: domain.CollectionOrders,
		ID:         orderID,
		DeviceID:   n.DeviceID,
	})
}
