package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pos-sync/internal/domain"
)

// SaveOrder writes the order and all of its items in one transaction.
// Existing items for the order are replaced wholesale; a failure anywhere
// rolls the whole write back so no order-without-items state is persisted.
func (s *Store) SaveOrder(ctx context.Context, o domain.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StorageError{Op: "begin", Err: err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	meta := "{}"
	if len(o.Metadata) > 0 {
		b, merr := json.Marshal(o.Metadata)
		if merr != nil {
			err = merr
			return &domain.StorageError{Op: "encode metadata", Err: merr}
		}
		meta = string(b)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO orders
		    (id, order_number, status, subtotal, tax, tip, discount, gratuity, total_amount,
		     assigned_to, table_id, protected, metadata, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID, o.Number, o.Status.String(),
		o.Subtotal, o.Tax, o.Tip, o.Discount, o.Gratuity, o.TotalAmount,
		o.AssignedTo, o.TableID, boolInt(o.Protected), meta,
		formatTime(o.CreatedAt), formatTime(o.UpdatedAt), formatTimePtr(o.CompletedAt),
	)
	if err != nil {
		return &domain.StorageError{Op: "insert order", Err: err}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = ?`, o.ID); err != nil {
		return &domain.StorageError{Op: "clear items", Err: err}
	}
	for _, it := range o.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, menu_item_id, quantity, unit_price, total_price, sent_to_kitchen, instructions)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, it.ID, o.ID, it.MenuItemID, it.Quantity, it.UnitPrice, it.TotalPrice, boolInt(it.SentToKitchen), it.Instructions)
		if err != nil {
			return &domain.StorageError{Op: fmt.Sprintf("insert item %s", it.ID), Err: err}
		}
	}

	if err = tx.Commit(); err != nil {
		return &domain.StorageError{Op: "commit", Err: err}
	}
	return nil
}

// UpdateOrderStatus is the narrow transactional write used by status
// transitions: status plus timestamps only, items untouched.
func (s *Store) UpdateOrderStatus(ctx context.Context, id string, st domain.Status, updatedAt time.Time, completedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = ?, completed_at = ? WHERE id = ?
	`, st.String(), formatTime(updatedAt), formatTimePtr(completedAt), id)
	if err != nil {
		return &domain.StorageError{Op: "update status", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetOrder loads one order with its items.
func (s *Store) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	row := s.db.QueryRowContext(ctx, selectOrders+` WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, &domain.StorageError{Op: "get order", Err: err}
	}
	items, err := s.itemsFor(ctx, []string{id})
	if err != nil {
		return domain.Order{}, err
	}
	o.Items = items[id]
	if o.Items == nil {
		o.Items = []domain.OrderItem{}
	}
	return o, nil
}

// ListOrders loads every order with its items (bulk-load path).
func (s *Store) ListOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, selectOrders+` ORDER BY created_at`)
	if err != nil {
		return nil, &domain.StorageError{Op: "list orders", Err: err}
	}
	defer rows.Close()

	var out []domain.Order
	var ids []string
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, &domain.StorageError{Op: "scan order", Err: err}
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list orders", Err: err}
	}

	items, err := s.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
		if out[i].Items == nil {
			out[i].Items = []domain.OrderItem{}
		}
	}
	return out, nil
}

// DeleteOrder removes the order and its items in one transaction.
func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StorageError{Op: "begin", Err: err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = ?`, id); err != nil {
		return &domain.StorageError{Op: "delete items", Err: err}
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id); err != nil {
		return &domain.StorageError{Op: "delete order", Err: err}
	}
	if err = tx.Commit(); err != nil {
		return &domain.StorageError{Op: "commit", Err: err}
	}
	return nil
}

// OrderNumbers returns every assigned order number. The generator loads
// this once per generation call.
func (s *Store) OrderNumbers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT order_number FROM orders`)
	if err != nil {
		return nil, &domain.StorageError{Op: "order numbers", Err: err}
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, &domain.StorageError{Op: "order numbers", Err: err}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// OrphanItems returns line items whose parent order no longer resolves.
func (s *Store) OrphanItems(ctx context.Context) ([]domain.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.order_id, i.menu_item_id, i.quantity, i.unit_price, i.total_price, i.sent_to_kitchen, i.instructions
		FROM order_items i LEFT JOIN orders o ON o.id = i.order_id
		WHERE o.id IS NULL
		ORDER BY i.order_id, i.id
	`)
	if err != nil {
		return nil, &domain.StorageError{Op: "orphan items", Err: err}
	}
	defer rows.Close()
	var out []domain.OrderItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, &domain.StorageError{Op: "scan item", Err: err}
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// DeleteOrphanItems removes the given orphaned item rows after recovery.
func (s *Store) DeleteOrphanItems(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StorageError{Op: "begin", Err: err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, id := range ids {
		if _, err = tx.ExecContext(ctx, `DELETE FROM order_items WHERE id = ?`, id); err != nil {
			return &domain.StorageError{Op: "delete orphan item", Err: err}
		}
	}
	if err = tx.Commit(); err != nil {
		return &domain.StorageError{Op: "commit", Err: err}
	}
	return nil
}

const selectOrders = `
	SELECT id, order_number, status, subtotal, tax, tip, discount, gratuity, total_amount,
	       assigned_to, table_id, protected, metadata, created_at, updated_at, completed_at
	FROM orders`

type rowScanner interface{ Scan(dest ...any) error }

func scanOrder(r rowScanner) (domain.Order, error) {
	var (
		o                    domain.Order
		status, meta         string
		created, updated     string
		completed            sql.NullString
		protected            int
	)
	err := r.Scan(&o.ID, &o.Number, &status,
		&o.Subtotal, &o.Tax, &o.Tip, &o.Discount, &o.Gratuity, &o.TotalAmount,
		&o.AssignedTo, &o.TableID, &protected, &meta, &created, &updated, &completed)
	if err != nil {
		return domain.Order{}, err
	}
	if o.Status, err = domain.ParseStatus(status); err != nil {
		return domain.Order{}, err
	}
	o.Protected = protected != 0
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &o.Metadata); err != nil {
			return domain.Order{}, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	if o.CreatedAt, err = parseTime(created); err != nil {
		return domain.Order{}, err
	}
	if o.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.Order{}, err
	}
	if completed.Valid && completed.String != "" {
		t, err := parseTime(completed.String)
		if err != nil {
			return domain.Order{}, err
		}
		o.CompletedAt = &t
	}
	return o, nil
}

func scanItem(r rowScanner) (domain.OrderItem, error) {
	var it domain.OrderItem
	var sent int
	err := r.Scan(&it.ID, &it.OrderID, &it.MenuItemID, &it.Quantity, &it.UnitPrice, &it.TotalPrice, &sent, &it.Instructions)
	if err != nil {
		return domain.OrderItem{}, err
	}
	it.SentToKitchen = sent != 0
	return it, nil
}

func (s *Store) itemsFor(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	out := make(map[string][]domain.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	// Single-writer sqlite: per-order queries are cheap and keep the SQL
	// free of dynamic IN-lists.
	for _, id := range orderIDs {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, order_id, menu_item_id, quantity, unit_price, total_price, sent_to_kitchen, instructions
			FROM order_items WHERE order_id = ? ORDER BY id
		`, id)
		if err != nil {
			return nil, &domain.StorageError{Op: "list items", Err: err}
		}
		for rows.Next() {
			it, err := scanItem(rows)
			if err != nil {
				rows.Close()
				return nil, &domain.StorageError{Op: "scan item", Err: err}
			}
			out[it.OrderID] = append(out[it.OrderID], it)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, &domain.StorageError{Op: "list items", Err: err}
		}
		rows.Close()
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
