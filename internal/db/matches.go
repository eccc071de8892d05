package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/commute-matcher/internal/types"
)

// -----------------------------------------------------------------------------
// Match and Ban Methods
// -----------------------------------------------------------------------------

// ListBannedPairs returns a tenant's banned pairs
func (db *DB) ListBannedPairs(ctx context.Context, tenantID string) (types.PairSet, error) {
	return db.listPairs(ctx,
		`SELECT candidate_id, client_id FROM banned_pairs WHERE tenant_id = $1`,
		tenantID, "banned pairs")
}

// ListMatchedPairs returns the keys of a tenant's existing matches
func (db *DB) ListMatchedPairs(ctx context.Context, tenantID string) (types.PairSet, error) {
	return db.listPairs(ctx,
		`SELECT candidate_id, client_id FROM matches WHERE tenant_id = $1`,
		tenantID, "matched pairs")
}

func (db *DB) listPairs(ctx context.Context, query, tenantID, kind string) (types.PairSet, error) {
	rows, err := db.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", kind)
	}
	defer rows.Close()

	set := types.NewPairSet()
	for rows.Next() {
		var k types.PairKey
		if err := rows.Scan(&k.CandidateID, &k.ClientID); err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s", kind)
		}
		set.Add(k)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to iterate %s", kind)
	}
	return set, nil
}

// DeleteMatches removes a tenant's non-banned matches while runID owns the
// tenant's job row. The job row is share-locked so a concurrent restart
// waits for the delete.
func (db *DB) DeleteMatches(ctx context.Context, tenantID string, runID uuid.UUID) (int64, bool, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var owner uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT run_id FROM job_states WHERE tenant_id = $1 FOR SHARE`,
		tenantID,
	).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(err, "failed to read job owner")
	}
	if owner != runID {
		return 0, false, nil
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM matches m
		 WHERE m.tenant_id = $1
		   AND NOT EXISTS (
		       SELECT 1 FROM banned_pairs b
		       WHERE b.tenant_id = m.tenant_id
		         AND b.candidate_id = m.candidate_id
		         AND b.client_id = m.client_id)`,
		tenantID,
	)
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to delete matches")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, errors.Wrap(err, "failed to commit match deletion")
	}
	return tag.RowsAffected(), true, nil
}

// tenantLock and tenantLockShared take a transaction-scoped advisory lock on
// the tenant. Bans hold it exclusively; match inserts share it.
const (
	tenantLock       = `SELECT pg_advisory_xact_lock(hashtext($1))`
	tenantLockShared = `SELECT pg_advisory_xact_lock_shared(hashtext($1))`
)

// InsertMatch writes a match guarded by the job row's run id and the ban
// table. Existing matches are left untouched. The ban check runs after the
// shared tenant lock is held, so it sees every committed BanPair and a
// concurrent BanPair waits for the insert.
func (db *DB) InsertMatch(ctx context.Context, runID uuid.UUID, m types.Match) (types.InsertResult, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, tenantLockShared, m.TenantID); err != nil {
		return 0, errors.Wrap(err, "failed to lock tenant")
	}

	var owned, banned, inserted bool
	err = tx.QueryRow(ctx,
		`WITH owner AS (
		     SELECT 1 FROM job_states WHERE tenant_id = $1 AND run_id = $2 FOR SHARE
		 ), ban AS (
		     SELECT 1 FROM banned_pairs WHERE tenant_id = $1 AND candidate_id = $3 AND client_id = $4
		 ), ins AS (
		     INSERT INTO matches (tenant_id, candidate_id, client_id, commute_minutes,
		                          commute_band, role_match, distance_meters, run_id)
		     SELECT $1, $3, $4, $5, $6, $7, $8, $2
		     WHERE EXISTS (SELECT 1 FROM owner) AND NOT EXISTS (SELECT 1 FROM ban)
		     ON CONFLICT (tenant_id, candidate_id, client_id) DO NOTHING
		     RETURNING 1
		 )
		 SELECT EXISTS (SELECT 1 FROM owner), EXISTS (SELECT 1 FROM ban), EXISTS (SELECT 1 FROM ins)`,
		m.TenantID, runID, m.CandidateID, m.ClientID, m.CommuteMinutes,
		string(m.CommuteBand), m.RoleMatch, m.DistanceMeters,
	).Scan(&owned, &banned, &inserted)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to insert match %s/%s", m.CandidateID, m.ClientID)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "failed to commit match insert")
	}

	switch {
	case !owned:
		return types.InsertStale, nil
	case banned:
		return types.InsertBanned, nil
	case inserted:
		return types.InsertApplied, nil
	default:
		return types.InsertDuplicate, nil
	}
}

// ListMatches returns a tenant's matches ordered by candidate then client
func (db *DB) ListMatches(ctx context.Context, tenantID string, filter types.MatchFilter) ([]types.Match, error) {
	query, args := buildMatchQuery(tenantID, filter)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list matches")
	}
	defer rows.Close()

	matches := []types.Match{}
	for rows.Next() {
		var m types.Match
		var band string
		if err := rows.Scan(&m.TenantID, &m.CandidateID, &m.ClientID, &m.CommuteMinutes,
			&band, &m.RoleMatch, &m.DistanceMeters, &m.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan match")
		}
		m.CommuteBand = types.CommuteBand(band)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate matches")
	}
	return matches, nil
}

func buildMatchQuery(tenantID string, filter types.MatchFilter) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT tenant_id, candidate_id, client_id, commute_minutes, commute_band,
	                       role_match, distance_meters, created_at
	                FROM matches WHERE tenant_id = $1`)
	args := []any{tenantID}

	add := func(clause string, v any) {
		args = append(args, v)
		fmt.Fprintf(&sb, " AND %s = $%d", clause, len(args))
	}
	if filter.CandidateID != "" {
		add("candidate_id", filter.CandidateID)
	}
	if filter.ClientID != "" {
		add("client_id", filter.ClientID)
	}
	if filter.Band != "" {
		add("commute_band", string(filter.Band))
	}
	if filter.RoleMatch != nil {
		add("role_match", *filter.RoleMatch)
	}

	sb.WriteString(" ORDER BY candidate_id, client_id")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	return sb.String(), args
}

// BanPair bans a pair and removes any match for it in one transaction. It
// holds the tenant lock exclusively so no match insert is in flight.
func (db *DB) BanPair(ctx context.Context, tenantID string, key types.PairKey) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, tenantLock, tenantID); err != nil {
		return errors.Wrap(err, "failed to lock tenant")
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO banned_pairs (tenant_id, candidate_id, client_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id, candidate_id, client_id) DO NOTHING`,
		tenantID, key.CandidateID, key.ClientID,
	); err != nil {
		return errors.Wrap(err, "failed to ban pair")
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM matches WHERE tenant_id = $1 AND candidate_id = $2 AND client_id = $3`,
		tenantID, key.CandidateID, key.ClientID,
	); err != nil {
		return errors.Wrap(err, "failed to delete banned match")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit ban")
	}
	return nil
}
