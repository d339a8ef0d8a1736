package store

// schemaSQL creates the three tables squadbot persists. Rows are never
// physically deleted; terminal statuses are the audit trail.
//
// Timestamps are unix seconds. source_timestamp is transport-assigned and
// orders the drain; created_at/updated_at are local bookkeeping.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS message_queue (
	id TEXT PRIMARY KEY,
	source_message_id TEXT NOT NULL UNIQUE,
	group_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	sender_name TEXT NOT NULL,
	message_text TEXT NOT NULL,
	source_timestamp INTEGER NOT NULL,
	status TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	processed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_queue_status_created ON message_queue(status, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_source_id ON message_queue(source_message_id);

CREATE TABLE IF NOT EXISTS conversations (
	message_id TEXT PRIMARY KEY,
	group_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	sender_name TEXT NOT NULL,
	message_text TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	workflow_id TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_workflow ON conversations(workflow_id);

CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	group_id TEXT NOT NULL,
	squad_id TEXT,
	initiating_user_id TEXT NOT NULL,
	workflow_type TEXT NOT NULL,
	status TEXT NOT NULL,
	step_state TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflows_squad_status ON workflows(squad_id, status);
`
