package postgres

const schema = `
CREATE TABLE IF NOT EXISTS crawl_jobs (
	id                TEXT PRIMARY KEY,
	status            TEXT NOT NULL,
	scope_source      TEXT NOT NULL DEFAULT '',
	scope_distinction TEXT NOT NULL DEFAULT '',
	scope_entity_id   TEXT NOT NULL DEFAULT '',
	seen              INTEGER NOT NULL DEFAULT 0,
	succeeded         INTEGER NOT NULL DEFAULT 0,
	failed            INTEGER NOT NULL DEFAULT 0,
	skipped           INTEGER NOT NULL DEFAULT 0,
	not_found         INTEGER NOT NULL DEFAULT 0,
	error_text        TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL,
	started_at        TIMESTAMPTZ,
	finished_at       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS crawl_checkpoints (
	job_id     TEXT PRIMARY KEY REFERENCES crawl_jobs (id) ON DELETE CASCADE,
	payload    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS entities (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	source_url      TEXT NOT NULL DEFAULT '',
	site_url        TEXT NOT NULL DEFAULT '',
	distinction     TEXT NOT NULL DEFAULT '',
	city            TEXT NOT NULL DEFAULT '',
	state           TEXT NOT NULL DEFAULT '',
	country         TEXT NOT NULL DEFAULT '',
	artifact_url    TEXT NOT NULL DEFAULT '',
	artifact_hash   TEXT NOT NULL DEFAULT '',
	artifact_uri    TEXT NOT NULL DEFAULT '',
	text_uri        TEXT NOT NULL DEFAULT '',
	mime_type       TEXT NOT NULL DEFAULT '',
	crawl_status    TEXT NOT NULL DEFAULT 'NOT_STARTED',
	pages_visited   INTEGER NOT NULL DEFAULT 0,
	last_crawled_at TIMESTAMPTZ,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS entities_name_idx ON entities (lower(name));
`
