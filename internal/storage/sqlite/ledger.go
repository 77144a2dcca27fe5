package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/untoldecay/kira/internal/types"
)

// LedgerKey namespaces a raw remote ID by its source system, so two remote
// systems claiming the same id cannot collide in the ledger.
func LedgerKey(source types.SyncSource, remoteID string) string {
	return string(source) + ":" + remoteID
}

// RecordSync stores the last-observed remote state for a remote ID.
func (s *Store) RecordSync(ctx context.Context, remoteID string, versionSeen int, etag, entityID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_ledger (remote_id, version_seen, etag_seen, last_sync_ts, entity_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(remote_id) DO UPDATE SET
			version_seen = excluded.version_seen,
			etag_seen = excluded.etag_seen,
			last_sync_ts = excluded.last_sync_ts,
			entity_id = excluded.entity_id
	`, remoteID, versionSeen, etag, now, entityID)
	if err != nil {
		return fmt.Errorf("%w: recording sync: %v", types.ErrIO, err)
	}
	return nil
}

// GetLedgerEntry returns the ledger row for a remote ID, or nil when the
// remote has never been seen.
func (s *Store) GetLedgerEntry(ctx context.Context, remoteID string) (*types.LedgerEntry, error) {
	var entry types.LedgerEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT remote_id, version_seen, etag_seen, last_sync_ts, entity_id
		FROM sync_ledger WHERE remote_id = ?
	`, remoteID).Scan(&entry.RemoteID, &entry.VersionSeen, &entry.ETagSeen,
		&entry.LastSyncTS, &entry.EntityID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading ledger entry: %v", types.ErrIO, err)
	}
	return &entry, nil
}

// ShouldImport decides whether a remote update carries new state. A remote
// version equal to the last-recorded one is an echo of our own push and is
// dropped.
func (s *Store) ShouldImport(ctx context.Context, remoteID string, remoteVersion int, etag string) (bool, error) {
	entry, err := s.GetLedgerEntry(ctx, remoteID)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return true, nil
	}
	if remoteVersion == entry.VersionSeen {
		return false, nil
	}
	return true, nil
}

// EntryForEntity returns the ledger row mapped to a vault entity, or nil.
func (s *Store) EntryForEntity(ctx context.Context, entityID string) (*types.LedgerEntry, error) {
	var entry types.LedgerEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT remote_id, version_seen, etag_seen, last_sync_ts, entity_id
		FROM sync_ledger WHERE entity_id = ? ORDER BY last_sync_ts DESC LIMIT 1
	`, entityID).Scan(&entry.RemoteID, &entry.VersionSeen, &entry.ETagSeen,
		&entry.LastSyncTS, &entry.EntityID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading ledger entry: %v", types.ErrIO, err)
	}
	return &entry, nil
}
