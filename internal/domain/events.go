package domain

// EventKind classifies domain events emitted to observers.
type EventKind string

const (
	EventCreated       EventKind = "created"
	EventUpdated       EventKind = "updated"
	EventStatusChanged EventKind = "status_changed"
	EventDeleted       EventKind = "deleted"
	// EventSynced means a remote version won a conflict and replaced the
	// local copy, or a remote delete was applied.
	EventSynced EventKind = "synced"
)

// Event is what the core emits; it carries domain state, not any UI
// framework's change notification.
type Event struct {
	Kind    EventKind
	OrderID string
	Order   *Order // nil for deletes
}
