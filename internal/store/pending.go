package store

import (
	"context"
	"time"

	"pos-sync/internal/domain"
)

// EnqueueChange records a mutation that could not reach the remote store.
// The queue is keyed by (collection, target_id): re-enqueueing the same
// target replaces the snapshot in place, so a target appears exactly once
// while keeping its original position in replay order.
func (s *Store) EnqueueChange(ctx context.Context, c domain.PendingChange) error {
	if c.QueuedAt.IsZero() {
		c.QueuedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_changes (collection, action, target_id, payload, queued_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, target_id) DO UPDATE SET
		    action    = excluded.action,
		    payload   = excluded.payload,
		    queued_at = excluded.queued_at
	`, c.Collection, string(c.Action), c.TargetID, []byte(c.Payload), formatTime(c.QueuedAt))
	if err != nil {
		return &domain.StorageError{Op: "enqueue change", Err: err}
	}
	return nil
}

// PendingChanges returns the queue in enqueue order.
func (s *Store) PendingChanges(ctx context.Context) ([]domain.PendingChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, collection, action, target_id, payload, queued_at
		FROM pending_changes ORDER BY seq
	`)
	if err != nil {
		return nil, &domain.StorageError{Op: "list pending", Err: err}
	}
	defer rows.Close()

	var out []domain.PendingChange
	for rows.Next() {
		var (
			c       domain.PendingChange
			action  string
			queued  string
			payload []byte
		)
		if err := rows.Scan(&c.Seq, &c.Collection, &action, &c.TargetID, &payload, &queued); err != nil {
			return nil, &domain.StorageError{Op: "scan pending", Err: err}
		}
		c.Payload = payload
		if c.Action, err = domain.ParseChangeAction(action); err != nil {
			return nil, &domain.StorageError{Op: "scan pending", Err: err}
		}
		if c.QueuedAt, err = parseTime(queued); err != nil {
			return nil, &domain.StorageError{Op: "scan pending", Err: err}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeletePending removes one replayed entry.
func (s *Store) DeletePending(ctx context.Context, seq int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_changes WHERE seq = ?`, seq); err != nil {
		return &domain.StorageError{Op: "delete pending", Err: err}
	}
	return nil
}

// PendingCount reports the queue depth, exposed as a sync-health signal.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_changes`).Scan(&n); err != nil {
		return 0, &domain.StorageError{Op: "count pending", Err: err}
	}
	return n, nil
}
