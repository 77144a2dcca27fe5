package sqlite

const schema = `
-- Dedupe seen-set: one row per unique event_id ever observed
CREATE TABLE IF NOT EXISTS seen_events (
    event_id TEXT PRIMARY KEY,
    first_seen_ts DATETIME NOT NULL,
    last_seen_ts DATETIME NOT NULL,
    seen_count INTEGER NOT NULL DEFAULT 1,
    source TEXT DEFAULT '',
    external_id TEXT DEFAULT '',
    metadata TEXT DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_seen_events_first_seen ON seen_events(first_seen_ts);
CREATE INDEX IF NOT EXISTS idx_seen_events_source ON seen_events(source);

-- Sync ledger: last-observed remote state per remote_id
-- remote_id is namespaced by source ("gcal:abc123") so two remote systems
-- claiming the same raw id cannot collide
CREATE TABLE IF NOT EXISTS sync_ledger (
    remote_id TEXT PRIMARY KEY,
    version_seen INTEGER NOT NULL,
    etag_seen TEXT DEFAULT '',
    last_sync_ts DATETIME NOT NULL,
    entity_id TEXT DEFAULT '',
    metadata TEXT DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_sync_ledger_entity ON sync_ledger(entity_id);
`
