package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pos-sync/internal/collab"
	"pos-sync/internal/config"
	"pos-sync/internal/domain"
)

// Postgres stores one JSONB document per (tenant, collection, id), modelling
// the tenants/{tenantId}/{collection}/{docId} layout. The tenant comes from
// the auth collaborator on every call; a signed-out device behaves like a
// disconnected one.
type Postgres struct {
	pool *pgxpool.Pool
	auth collab.Auth
}

const opTimeout = 5 * time.Second

// ConnectPostgres dials the remote store with a bounded retry loop.
func ConnectPostgres(ctx context.Context, cfg config.DB, auth collab.Auth) (*Postgres, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		cfg.User, cfg.Pass, cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode, cfg.MaxConns)

	const (
		maxRetries = 10
		retryDelay = 2 * time.Second
	)

	var lastErr error
	for i := 1; i <= maxRetries; i++ {
		pool, err := pgxpool.New(ctx, dsn)
		if err == nil {
			pctx, cancel := context.WithTimeout(ctx, opTimeout)
			err = pool.Ping(pctx)
			cancel()
			if err == nil {
				p := &Postgres{pool: pool, auth: auth}
				if err := p.ensureSchema(ctx); err != nil {
					pool.Close()
					return nil, err
				}
				return p, nil
			}
			pool.Close()
		}
		lastErr = err
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, fmt.Errorf("remote connect canceled: %w", ctx.Err())
		}
	}
	return nil, fmt.Errorf("remote store unreachable after %d attempts: %w", maxRetries, lastErr)
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) ensureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
		    tenant_id  text NOT NULL,
		    collection text NOT NULL,
		    doc_id     text NOT NULL,
		    body       jsonb NOT NULL,
		    updated_at timestamptz NOT NULL DEFAULT now(),
		    PRIMARY KEY (tenant_id, collection, doc_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure documents table: %w", err)
	}
	return nil
}

func (p *Postgres) tenant() (string, error) {
	t := p.auth.CurrentTenantID()
	if t == "" {
		return "", fmt.Errorf("%w: no tenant (signed out)", domain.ErrRemoteUnavailable)
	}
	return t, nil
}

func (p *Postgres) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	tenant, err := p.tenant()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var body []byte
	err = p.pool.QueryRow(ctx, `
		SELECT body FROM documents WHERE tenant_id = $1 AND collection = $2 AND doc_id = $3
	`, tenant, collection, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s/%s: %v", domain.ErrRemoteUnavailable, collection, id, err)
	}
	return body, nil
}

func (p *Postgres) Set(ctx context.Context, collection, id string, doc json.RawMessage, merge bool) error {
	tenant, err := p.tenant()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := `
		INSERT INTO documents (tenant_id, collection, doc_id, body, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (tenant_id, collection, doc_id) DO UPDATE SET
		    body = excluded.body, updated_at = now()`
	if merge {
		q = `
		INSERT INTO documents (tenant_id, collection, doc_id, body, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (tenant_id, collection, doc_id) DO UPDATE SET
		    body = documents.body || excluded.body, updated_at = now()`
	}
	if _, err := p.pool.Exec(ctx, q, tenant, collection, id, []byte(doc)); err != nil {
		return fmt.Errorf("%w: set %s/%s: %v", domain.ErrRemoteUnavailable, collection, id, err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	tenant, err := p.tenant()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := p.pool.Exec(ctx, `
		DELETE FROM documents WHERE tenant_id = $1 AND collection = $2 AND doc_id = $3
	`, tenant, collection, id); err != nil {
		return fmt.Errorf("%w: delete %s/%s: %v", domain.ErrRemoteUnavailable, collection, id, err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, collection string) (map[string]json.RawMessage, error) {
	tenant, err := p.tenant()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := p.pool.Query(ctx, `
		SELECT doc_id, body FROM documents WHERE tenant_id = $1 AND collection = $2
	`, tenant, collection)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", domain.ErrRemoteUnavailable, collection, err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", domain.ErrRemoteUnavailable, collection, err)
		}
		out[id] = body
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", domain.ErrRemoteUnavailable, collection, err)
	}
	return out, nil
}
