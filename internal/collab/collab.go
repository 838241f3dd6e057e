// Package collab declares the narrow interfaces this core consumes from the
// rest of the platform. Implementations live outside the sync core.
package collab

import (
	"context"

	"pos-sync/internal/domain"
)

// Inventory is invoked when an order transitions into completed. A failure
// is logged by the caller but never rolls back the status change.
type Inventory interface {
	OnOrderCompleted(ctx context.Context, order domain.Order) error
}

// Printer receives kitchen hand-offs. Fire-and-forget: failures never affect
// order state.
type Printer interface {
	OnOrderReadyForKitchen(order domain.Order)
}

// Auth resolves the tenant the device is signed into. An empty id means
// signed out, which the sync layer treats the same as no connectivity.
type Auth interface {
	CurrentTenantID() string
}

// NoopInventory satisfies Inventory for deployments without stock tracking.
type NoopInventory struct{}

func (NoopInventory) OnOrderCompleted(context.Context, domain.Order) error { return nil }

// NoopPrinter satisfies Printer when no kitchen printer is configured.
type NoopPrinter struct{}

func (NoopPrinter) OnOrderReadyForKitchen(domain.Order) {}

// StaticAuth returns a fixed tenant id, used by the daemon where the tenant
// comes from configuration rather than an interactive login.
type StaticAuth struct{ TenantID string }

func (a StaticAuth) CurrentTenantID() string { return a.TenantID }
