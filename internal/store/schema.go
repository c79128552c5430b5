package store

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	row_id INTEGER PRIMARY KEY AUTOINCREMENT,
	content_hash TEXT NOT NULL,
	content TEXT NOT NULL,
	tags_json TEXT NOT NULL DEFAULT '[]',
	metadata_json TEXT NOT NULL DEFAULT '{}',
	memory_type TEXT NOT NULL DEFAULT 'note',
	created_at_us INTEGER NOT NULL,
	updated_at_us INTEGER NOT NULL,
	last_accessed_at_us INTEGER NOT NULL,
	relevance_score REAL NOT NULL DEFAULT 1.0,
	archived INTEGER NOT NULL DEFAULT 0
);

-- content_hash is unique only among live (non-archived) rows; spec
-- invariant 1 explicitly allows an archived row and a freshly
-- reinserted live row to share a hash, so this can't be a plain
-- UNIQUE column constraint.
CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_hash_live
	ON memories(content_hash) WHERE archived = 0;

CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at_us);
CREATE INDEX IF NOT EXISTS idx_memories_last_accessed_at ON memories(last_accessed_at_us);

CREATE TABLE IF NOT EXISTS embeddings (
	row_id INTEGER PRIMARY KEY,
	vector BLOB NOT NULL,
	FOREIGN KEY (row_id) REFERENCES memories(row_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS tags (
	tag TEXT NOT NULL,
	row_id INTEGER NOT NULL,
	FOREIGN KEY (row_id) REFERENCES memories(row_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_tags_covering ON tags(tag, row_id);
CREATE INDEX IF NOT EXISTS idx_tags_row_id ON tags(row_id);

CREATE TABLE IF NOT EXISTS associations (
	id TEXT PRIMARY KEY,
	a_hash TEXT NOT NULL,
	b_hash TEXT NOT NULL,
	similarity REAL NOT NULL,
	kind TEXT NOT NULL,
	discovered_at_us INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_associations_a ON associations(a_hash);
CREATE INDEX IF NOT EXISTS idx_associations_b ON associations(b_hash);

CREATE TABLE IF NOT EXISTS clusters (
	id TEXT PRIMARY KEY,
	centroid BLOB NOT NULL,
	created_at_us INTEGER NOT NULL,
	last_rebuilt_at_us INTEGER NOT NULL,
	superseded INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cluster_members (
	cluster_id TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	FOREIGN KEY (cluster_id) REFERENCES clusters(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_cluster_members_cluster ON cluster_members(cluster_id);

CREATE TABLE IF NOT EXISTS schedule_state (
	horizon TEXT PRIMARY KEY,
	last_run_us INTEGER NOT NULL
);

-- access_log backs the daily decay pass's access_bonus term (spec
-- §4.C8); one row per read that refreshes last_accessed_at.
CREATE TABLE IF NOT EXISTS access_log (
	row_id INTEGER NOT NULL,
	accessed_at_us INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_access_log_row_id ON access_log(row_id, accessed_at_us);
`
