package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Synchronized collection names. These match the remote document layout:
// one document per order plus authoritative per-item documents.
const (
	CollectionOrders     = "orders"
	CollectionOrderItems = "order_items"
)

// ChangeAction is the mutation kind carried by the change feed and the
// pending queue.
type ChangeAction string

const (
	ChangeCreated ChangeAction = "created"
	ChangeUpdated ChangeAction = "updated"
	ChangeDeleted ChangeAction = "deleted"
)

func ParseChangeAction(s string) (ChangeAction, error) {
	switch ChangeAction(s) {
	case ChangeCreated, ChangeUpdated, ChangeDeleted:
		return ChangeAction(s), nil
	}
	return "", fmt.Errorf("unknown change action %q", s)
}

// PendingChange is a queued mutation awaiting successful delivery to the
// remote store. Created on push failure or while offline, destroyed on
// successful replay, never silently dropped.
type PendingChange struct {
	Seq        int64           `json:"seq"`
	Collection string          `json:"collection"`
	Action     ChangeAction    `json:"action"`
	TargetID   string          `json:"target_id"`
	Payload    json.RawMessage `json:"payload,omitempty"` // snapshot at enqueue time; empty for deletes
	QueuedAt   time.Time       `json:"queued_at"`
}

// ChangeNotification is one entry of the remote change feed.
type ChangeNotification struct {
	Kind       ChangeAction    `json:"kind"` // created|updated map to added/modified
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Document   json.RawMessage `json:"document,omitempty"` // absent for deletes
	DeviceID   string          `json:"device_id"`          // originating device
	SentAt     time.Time       `json:"sent_at"`
}
