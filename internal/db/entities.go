package db

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/jonathan/commute-matcher/internal/types"
)

// -----------------------------------------------------------------------------
// Entity Methods (read-only)
// -----------------------------------------------------------------------------

// ListCandidates returns a tenant's candidates in a stable order
func (db *DB) ListCandidates(ctx context.Context, tenantID string) ([]types.Entity, error) {
	return db.listEntities(ctx,
		`SELECT id, postcode, role FROM candidates WHERE tenant_id = $1 ORDER BY created_at, id`,
		tenantID, "candidates")
}

// ListClients returns a tenant's clients in a stable order
func (db *DB) ListClients(ctx context.Context, tenantID string) ([]types.Entity, error) {
	return db.listEntities(ctx,
		`SELECT id, postcode, role FROM clients WHERE tenant_id = $1 ORDER BY created_at, id`,
		tenantID, "clients")
}

func (db *DB) listEntities(ctx context.Context, query, tenantID, kind string) ([]types.Entity, error) {
	rows, err := db.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", kind)
	}
	defer rows.Close()

	entities := []types.Entity{}
	for rows.Next() {
		var e types.Entity
		if err := rows.Scan(&e.ID, &e.Postcode, &e.Role); err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s", kind)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to iterate %s", kind)
	}
	return entities, nil
}
