package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/untoldecay/kira/internal/types"
)

// DedupeStats summarizes the seen-set.
type DedupeStats struct {
	TotalUnique          int            `json:"total_unique"`
	EventsWithDuplicates int            `json:"events_with_duplicates"`
	TotalSeen            int            `json:"total_seen"`
	DuplicateRate        float64        `json:"duplicate_rate"`
	BySource             map[string]int `json:"by_source"`
}

// IsDuplicate reports whether the event ID has been seen before.
func (s *Store) IsDuplicate(ctx context.Context, eventID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seen_events WHERE event_id = ?`, eventID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%w: dedupe lookup: %v", types.ErrIO, err)
	}
	return n > 0, nil
}

// MarkSeen records an observation of the event. Returns true when this is
// the first time; duplicates bump seen_count and last_seen_ts instead.
func (s *Store) MarkSeen(ctx context.Context, eventID, source, externalID string, metadata map[string]any) (bool, error) {
	meta := "{}"
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return false, fmt.Errorf("%w: marshaling dedupe metadata: %v", types.ErrIO, err)
		}
		meta = string(raw)
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seen_events (event_id, first_seen_ts, last_seen_ts, seen_count, source, external_id, metadata)
		VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			last_seen_ts = excluded.last_seen_ts,
			seen_count = seen_count + 1
	`, eventID, now, now, source, externalID, meta)
	if err != nil {
		return false, fmt.Errorf("%w: marking event seen: %v", types.ErrIO, err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT seen_count FROM seen_events WHERE event_id = ?`, eventID).Scan(&count); err != nil {
		return false, fmt.Errorf("%w: reading seen_count: %v", types.ErrIO, err)
	}
	return count == 1, nil
}

// GetEventInfo returns the dedupe record, or nil when unknown.
func (s *Store) GetEventInfo(ctx context.Context, eventID string) (*types.DedupeRecord, error) {
	var rec types.DedupeRecord
	var meta string
	err := s.db.QueryRowContext(ctx, `
		SELECT event_id, first_seen_ts, last_seen_ts, seen_count, source, external_id, metadata
		FROM seen_events WHERE event_id = ?
	`, eventID).Scan(&rec.EventID, &rec.FirstSeenTS, &rec.LastSeenTS, &rec.SeenCount,
		&rec.Source, &rec.ExternalID, &meta)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading dedupe record: %v", types.ErrIO, err)
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("%w: parsing dedupe metadata: %v", types.ErrIO, err)
		}
	}
	return &rec, nil
}

// CleanupOldEvents deletes records first seen more than ttlDays ago and
// returns the number removed.
func (s *Store) CleanupOldEvents(ctx context.Context, ttlDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -ttlDays)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM seen_events WHERE first_seen_ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: dedupe cleanup: %v", types.ErrIO, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: dedupe cleanup count: %v", types.ErrIO, err)
	}
	return int(n), nil
}

// GetStats summarizes the seen-set for diagnostics.
func (s *Store) GetStats(ctx context.Context) (*DedupeStats, error) {
	stats := &DedupeStats{BySource: make(map[string]int)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN seen_count > 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(seen_count), 0)
		FROM seen_events
	`).Scan(&stats.TotalUnique, &stats.EventsWithDuplicates, &stats.TotalSeen)
	if err != nil {
		return nil, fmt.Errorf("%w: dedupe stats: %v", types.ErrIO, err)
	}
	if stats.TotalSeen > 0 {
		stats.DuplicateRate = float64(stats.TotalSeen-stats.TotalUnique) / float64(stats.TotalSeen)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source, COUNT(*) FROM seen_events GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("%w: dedupe stats by source: %v", types.ErrIO, err)
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("%w: scanning dedupe stats: %v", types.ErrIO, err)
		}
		stats.BySource[source] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating dedupe stats: %v", types.ErrIO, err)
	}
	return stats, nil
}
