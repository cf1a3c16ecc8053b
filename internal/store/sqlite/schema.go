package sqlite

// schemaStatements is the deterministic, ordered list of DDL applied at
// startup (spec §4.A). Unlike the teacher's file-based migration manager
// (internal/storage/migrations.go, NNN_name.up.sql pairs on disk), this
// daemon ships as a single binary with no migrations directory, so the
// statements are embedded directly and tracked the same way: a
// schema_migrations table recording which versions have run.
var schemaStatements = []migration{
	{
		version: 1,
		name:    "base_schema",
		sql: `
CREATE TABLE IF NOT EXISTS memories (
	id                 TEXT PRIMARY KEY,
	content            TEXT NOT NULL,
	normalized_content TEXT NOT NULL,
	content_hash       TEXT NOT NULL,
	type               TEXT NOT NULL DEFAULT 'fact',
	tags               TEXT NOT NULL DEFAULT '',
	importance         REAL NOT NULL DEFAULT 0.5,
	pinned             INTEGER NOT NULL DEFAULT 0,
	is_deleted         INTEGER NOT NULL DEFAULT 0,
	deleted_at         TEXT,
	version            INTEGER NOT NULL DEFAULT 1,
	access_count       INTEGER NOT NULL DEFAULT 0,
	last_accessed      TEXT,
	who                TEXT,
	why                TEXT,
	project             TEXT,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
	updated_by         TEXT,
	source_type        TEXT,
	source_id          TEXT,
	embedding_model    TEXT,
	extraction_status  TEXT NOT NULL DEFAULT 'none',
	extraction_model   TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_content_hash_active
	ON memories(content_hash) WHERE is_deleted = 0;
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type);
CREATE INDEX IF NOT EXISTS idx_memories_pinned ON memories(pinned);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
CREATE INDEX IF NOT EXISTS idx_memories_tags ON memories(tags);
CREATE INDEX IF NOT EXISTS idx_memories_updated_at ON memories(updated_at);

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	content, tags, content=memories, content_rowid=rowid
);

CREATE TRIGGER IF NOT EXISTS memories_fts_ai AFTER INSERT ON memories BEGIN
	INSERT INTO memories_fts(rowid, content, tags) VALUES (new.rowid, new.content, new.tags);
END;
CREATE TRIGGER IF NOT EXISTS memories_fts_ad AFTER DELETE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content, tags) VALUES ('delete', old.rowid, old.content, old.tags);
END;
CREATE TRIGGER IF NOT EXISTS memories_fts_au AFTER UPDATE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content, tags) VALUES ('delete', old.rowid, old.content, old.tags);
	INSERT INTO memories_fts(rowid, content, tags) VALUES (new.rowid, new.content, new.tags);
END;

CREATE TABLE IF NOT EXISTS embeddings (
	id           TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL UNIQUE,
	vector       BLOB NOT NULL,
	dimensions   INTEGER NOT NULL,
	source_type  TEXT NOT NULL DEFAULT 'memory',
	source_id    TEXT NOT NULL,
	chunk_text   TEXT,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_source ON embeddings(source_type, source_id);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING fts5(
	id UNINDEXED, embedding UNINDEXED, tokenize='unicode61'
);

CREATE TABLE IF NOT EXISTS memory_history (
	id          TEXT PRIMARY KEY,
	memory_id   TEXT NOT NULL,
	event       TEXT NOT NULL,
	old_content TEXT,
	new_content TEXT,
	changed_by  TEXT,
	reason      TEXT,
	metadata    TEXT,
	actor_type  TEXT NOT NULL DEFAULT 'operator',
	session_id  TEXT,
	request_id  TEXT,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_history_memory_id ON memory_history(memory_id);
CREATE INDEX IF NOT EXISTS idx_memory_history_created_at ON memory_history(created_at);

CREATE TABLE IF NOT EXISTS memory_jobs (
	id         TEXT PRIMARY KEY,
	memory_id  TEXT NOT NULL,
	job_type   TEXT NOT NULL DEFAULT 'extract',
	status     TEXT NOT NULL DEFAULT 'pending',
	attempts   INTEGER NOT NULL DEFAULT 0,
	leased_at  TEXT,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_jobs_status ON memory_jobs(status);

CREATE TABLE IF NOT EXISTS entities (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_name ON entities(name);

CREATE TABLE IF NOT EXISTS entity_mentions (
	id        TEXT PRIMARY KEY,
	memory_id TEXT NOT NULL,
	entity_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entity_mentions_memory ON entity_mentions(memory_id);
CREATE INDEX IF NOT EXISTS idx_entity_mentions_entity ON entity_mentions(entity_id);

CREATE TABLE IF NOT EXISTS session_candidates (
	id          TEXT PRIMARY KEY,
	session_key TEXT NOT NULL,
	memory_id   TEXT NOT NULL,
	score       REAL NOT NULL,
	source      TEXT NOT NULL,
	injected    INTEGER NOT NULL DEFAULT 0,
	fts_hit     INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_candidates_key ON session_candidates(session_key);
`,
	},
	{
		// Additive column for legacy databases that predate extraction
		// tracking — mirrors the teacher's "missing columns on legacy
		// databases are additively added" migration style.
		version: 2,
		name:    "extraction_columns",
		sql: `
ALTER TABLE memories ADD COLUMN extraction_status TEXT NOT NULL DEFAULT 'none';
`,
		optional: true,
	},
}
