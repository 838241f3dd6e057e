package sync

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync/internal/domain"
)

func validOrderDoc(t *testing.T) json.RawMessage {
	t.Helper()
	o := domain.Order{
		ID:     "ord-1",
		Number: "ORD_20250828_001",
		Status: domain.StatusPreparing,
		Items: []domain.OrderItem{
			{ID: "it-1", OrderID: "ord-1", MenuItemID: "menu-9", Quantity: 2, UnitPrice: 5, TotalPrice: 10},
		},
	}
	o.Recalculate()
	b, err := json.Marshal(o)
	require.NoError(t, err)
	return b
}

func TestDecodeRemoteOrder_Valid(t *testing.T) {
	o, err := DecodeRemoteOrder(validOrderDoc(t))
	require.NoError(t, err)
	assert.Equal(t, "ord-1", o.ID)
	assert.Equal(t, domain.StatusPreparing, o.Status)
	assert.Len(t, o.Items, 1)
}

func TestDecodeRemoteOrder_EmptyItemsRejected(t *testing.T) {
	doc := []byte(`{"id":"x","order_number":"ORD_1","status":"completed","items":[],"total_amount":10,"updated_at":"2025-08-28T10:00:00Z","created_at":"2025-08-28T10:00:00Z"}`)
	_, err := DecodeRemoteOrder(doc)
	var cde *domain.ConflictDataError
	require.ErrorAs(t, err, &cde)
}

func TestDecodeRemoteOrder_NonPositiveTotalRejected(t *testing.T) {
	doc := []byte(`{"id":"x","order_number":"ORD_1","status":"completed","items":[{"id":"i"}],"total_amount":0,"updated_at":"2025-08-28T10:00:00Z","created_at":"2025-08-28T10:00:00Z"}`)
	_, err := DecodeRemoteOrder(doc)
	var cde *domain.ConflictDataError
	require.ErrorAs(t, err, &cde)
}

func TestDecodeRemoteOrder_UnknownStatusRejected(t *testing.T) {
	doc := []byte(`{"id":"x","order_number":"ORD_1","status":"cooking","items":[{"id":"i"}],"total_amount":10,"updated_at":"2025-08-28T10:00:00Z","created_at":"2025-08-28T10:00:00Z"}`)
	_, err := DecodeRemoteOrder(doc)
	var cde *domain.ConflictDataError
	require.ErrorAs(t, err, &cde)
}

func TestDecodeRemoteOrder_Garbage(t *testing.T) {
	_, err := DecodeRemoteOrder([]byte(`{not json`))
	var cde *domain.ConflictDataError
	require.ErrorAs(t, err, &cde)
}
