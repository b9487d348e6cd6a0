package db

// SchemaVersion is the current database schema version
const SchemaVersion = 3

const schema = `
-- Assets table
CREATE TABLE IF NOT EXISTS assets (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT DEFAULT '',
    category TEXT DEFAULT '',
    status TEXT NOT NULL DEFAULT 'available',
    location TEXT DEFAULT '',
    assignee TEXT DEFAULT '',
    serial TEXT DEFAULT '',
    version INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at DATETIME
);

-- Asset history table (append-only)
CREATE TABLE IF NOT EXISTS asset_history (
    id TEXT PRIMARY KEY,
    asset_id TEXT NOT NULL,
    event TEXT NOT NULL,
    actor TEXT DEFAULT '',
    note TEXT DEFAULT '',
    occurred_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (asset_id) REFERENCES assets(id)
);

-- Outbox table: captured local mutations awaiting remote confirmation
CREATE TABLE IF NOT EXISTS outbox (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    op TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    retry_count INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending',
    last_error TEXT DEFAULT '',
    next_attempt_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Per-installation sync cursor row
CREATE TABLE IF NOT EXISTS sync_state (
    device_id TEXT PRIMARY KEY,
    sync_cursor TEXT NOT NULL DEFAULT '',
    last_sync_at DATETIME
);

-- Schema info table for version tracking
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_assets_status ON assets(status);
CREATE INDEX IF NOT EXISTS idx_assets_deleted ON assets(deleted_at);
CREATE INDEX IF NOT EXISTS idx_history_asset ON asset_history(asset_id);
CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox(status);
CREATE INDEX IF NOT EXISTS idx_outbox_entity ON outbox(entity_type, entity_id);
`

// Migration defines a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the list of all database migrations in order
var Migrations = []Migration{
	// Version 1 is the initial schema - no migration needed
	{
		Version:     2,
		Description: "Add last_error and next_attempt_at to outbox",
		SQL: `
ALTER TABLE outbox ADD COLUMN last_error TEXT DEFAULT '';
ALTER TABLE outbox ADD COLUMN next_attempt_at DATETIME NOT NULL DEFAULT '1970-01-01 00:00:00';
`,
	},
	{
		Version:     3,
		Description: "Add serial column and index to assets",
		SQL: `
ALTER TABLE assets ADD COLUMN serial TEXT DEFAULT '';
CREATE INDEX IF NOT EXISTS idx_assets_serial ON assets(serial);
`,
	},
}
