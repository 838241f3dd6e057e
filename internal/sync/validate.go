package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"pos-sync/internal/domain"
)

// Structural validation gate for remote pulls: a candidate document must be
// well-formed enough to trust as a sync source before it may replace local
// state. Cheap and local — no network.
const orderSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["id", "order_number", "status", "items", "total_amount", "updated_at"],
	"properties": {
		"id":           {"type": "string", "minLength": 1},
		"order_number": {"type": "string", "minLength": 1},
		"status":       {"enum": ["pending", "preparing", "ready", "served", "completed", "cancelled", "refunded"]},
		"items":        {"type": "array", "minItems": 1},
		"total_amount": {"type": "number", "exclusiveMinimum": 0}
	}
}`

var orderSchema = func() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(orderSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("order schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("order.schema.json", doc); err != nil {
		panic(fmt.Sprintf("order schema: %v", err))
	}
	return c.MustCompile("order.schema.json")
}()

// DecodeRemoteOrder validates a remote order document structurally and
// decodes it. A failure means the remote version is discarded and local
// state retained (ConflictDataError).
func DecodeRemoteOrder(doc json.RawMessage) (domain.Order, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return domain.Order{}, &domain.ConflictDataError{Reason: fmt.Sprintf("not valid JSON: %v", err)}
	}
	if err := orderSchema.Validate(inst); err != nil {
		return domain.Order{}, &domain.ConflictDataError{Reason: err.Error()}
	}
	var o domain.Order
	if err := json.Unmarshal(doc, &o); err != nil {
		return domain.Order{}, &domain.ConflictDataError{ID: o.ID, Reason: fmt.Sprintf("decode: %v", err)}
	}
	return o, nil
}

// RemoteTimestamp extracts updated_at from a document regardless of whether
// the rest of it passes the structural gate. The resolver compares real
// timestamps even for invalid documents: an invalid-but-newer remote must
// resolve to a no-op, not to a push of the older local version.
func RemoteTimestamp(doc json.RawMessage) time.Time {
	var head struct {
		UpdatedAt time.Time `json:"updated_at"`
	}
	_ = json.Unmarshal(doc, &head)
	return head.UpdatedAt
}
