package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
// Timestamps are stored as fixed-width UTC RFC 3339 text so that string
// comparison orders them chronologically.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS service_configs (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	service_type TEXT NOT NULL,
	auth_type    TEXT NOT NULL,
	auth_config  TEXT NOT NULL,
	endpoints    TEXT NOT NULL DEFAULT '{}',
	enabled      INTEGER NOT NULL DEFAULT 1,
	needs_reauth INTEGER NOT NULL DEFAULT 0,
	metadata     TEXT NOT NULL DEFAULT '{}',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	last_sync    TEXT
);

CREATE TABLE IF NOT EXISTS notifications (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	content         TEXT NOT NULL DEFAULT '',
	priority        TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'New',
	source          TEXT NOT NULL,
	external_id     TEXT,
	url             TEXT,
	tags            TEXT NOT NULL DEFAULT '[]',
	custom_data     TEXT,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	read_at         TEXT,
	action_taken_at TEXT,
	version         INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS notification_tags (
	notification_id TEXT NOT NULL REFERENCES notifications(id) ON DELETE CASCADE,
	tag             TEXT NOT NULL,
	PRIMARY KEY (notification_id, tag)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_external
	ON notifications(source, external_id) WHERE external_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications(status);
CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications(created_at);
CREATE INDEX IF NOT EXISTS idx_notification_tags_tag ON notification_tags(tag);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS cache_entries (
	key         TEXT PRIMARY KEY,
	value       BLOB NOT NULL,
	ttl_class   TEXT NOT NULL,
	inserted_at TEXT NOT NULL,
	expires_at  TEXT NOT NULL,
	seq         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_seq ON cache_entries(seq);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
	{
		version: 3,
		sql: `
ALTER TABLE service_configs ADD COLUMN last_fetch TEXT;

INSERT INTO schema_version (version) VALUES (3);
`,
	},
}
