package sync

import (
	"context"
	"fmt"
	gosync "sync"

	"pos-sync/internal/domain"
	"pos-sync/internal/logger"
	"pos-sync/internal/remote"
)

// Dispatcher owns the long-lived change-feed subscriptions: one per watched
// collection, each on its own goroutine. The set restarts cleanly —
// StopAll then StartAll — without a device restart.
type Dispatcher struct {
	feed        remote.Feed
	svc         *Service
	log         *logger.Logger
	collections []string

	mu      gosync.Mutex
	cancel  context.CancelFunc
	wg      gosync.WaitGroup
	running bool
}

func NewDispatcher(feed remote.Feed, svc *Service, log *logger.Logger, collections ...string) *Dispatcher {
	if len(collections) == 0 {
		collections = []string{domain.CollectionOrders, domain.CollectionOrderItems}
	}
	return &Dispatcher{feed: feed, svc: svc, log: log, collections: collections}
}

// StartAll opens every subscription. Already running is a no-op. If any
// subscription fails to open, the ones already opened are torn down and the
// dispatcher stays stopped.
func (d *Dispatcher) StartAll(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	for _, collection := range d.collections {
		ch, err := d.feed.Subscribe(subCtx, collection)
		if err != nil {
			cancel()
			d.wg.Wait()
			return fmt.Errorf("failed to subscribe to %s: %w", collection, err)
		}
		d.wg.Add(1)
		go d.consume(subCtx, collection, ch)
	}

	d.cancel = cancel
	d.running = true
	d.log.Info("listeners_started", map[string]any{"collections": d.collections})
	return nil
}

// StopAll cancels every subscription and waits for the consumer goroutines
// to drain. In-flight remote pushes are left to finish on their own.
func (d *Dispatcher) StopAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.cancel()
	d.wg.Wait()
	d.cancel = nil
	d.running = false
	d.log.Info("listeners_stopped", nil)
}

// Restart is StopAll then StartAll as one operation.
func (d *Dispatcher) Restart(ctx context.Context) error {
	d.StopAll()
	return d.StartAll(ctx)
}

func (d *Dispatcher) consume(ctx context.Context, collection string, ch <-chan domain.ChangeNotification) {
	defer d.wg.Done()
	for n := range ch {
		if err := d.svc.ApplyChange(ctx, n); err != nil {
			d.log.Error("change_apply_failed", err, map[string]any{
				"collection": collection, "id": n.ID, "kind": string(n.Kind),
			})
		}
	}
}
