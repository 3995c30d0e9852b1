package sqlite

// CreateEventsTableSQL creates the append-only event log.
// Timestamps are UTC Unix nanoseconds; properties are snappy-compressed
// protobuf documents, NULL when empty.
const CreateEventsTableSQL = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_name TEXT NOT NULL CHECK (event_name <> ''),
    user_id TEXT,
    session_id TEXT,
    properties BLOB,
    user_properties BLOB,
    timestamp INTEGER NOT NULL,
    ip_address TEXT,
    user_agent TEXT,
    created_at INTEGER NOT NULL,
    project_id TEXT
)`

// CreateEventsIndexesSQL creates the indexes behind recency scans and grouping.
var CreateEventsIndexesSQL = []string{
	// Paginated retrieval and date range per project
	`CREATE INDEX IF NOT EXISTS idx_events_project_recency ON events(project_id, timestamp DESC, id DESC)`,

	// Events-by-type and top-N per project
	`CREATE INDEX IF NOT EXISTS idx_events_project_name ON events(project_id, event_name)`,
}

// CreateProjectsTableSQL creates the project table. Slugs are unique and
// rows are never deleted.
const CreateProjectsTableSQL = `
CREATE TABLE IF NOT EXISTS projects (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    slug TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    event_retention_days INTEGER NOT NULL,
    monthly_event_limit INTEGER NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
)`

// AllSchemaSQL returns every statement needed to initialize a database, in order.
func AllSchemaSQL() []string {
	stmts := []string{CreateEventsTableSQL}
	stmts = append(stmts, CreateEventsIndexesSQL...)
	stmts = append(stmts, CreateProjectsTableSQL)
	return stmts
}
