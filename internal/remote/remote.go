// Package remote talks to the shared per-tenant document store and its
// change feed. The rest of the core only sees the two small interfaces
// below; the pgx and AMQP implementations live behind them.
package remote

import (
	"context"
	"encoding/json"

	"pos-sync/internal/domain"
)

// Store is the remote document store contract: per-document get/set/delete
// plus a full listing used by resync passes. All paths are tenant-scoped by
// the implementation.
type Store interface {
	Get(ctx context.Context, collection, id string) (json.RawMessage, error)
	// Set writes a document. With merge true the document is shallow-merged
	// into the existing body instead of replacing it.
	Set(ctx context.Context, collection, id string, doc json.RawMessage, merge bool) error
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection string) (map[string]json.RawMessage, error)
}

// Feed propagates change notifications between devices. Subscribe delivers
// until ctx is cancelled; the returned channel is closed afterwards.
type Feed interface {
	Publish(ctx context.Context, n domain.ChangeNotification) error
	Subscribe(ctx context.Context, collection string) (<-chan domain.ChangeNotification, error)
}
