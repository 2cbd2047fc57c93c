package store

// The schema is portable between SQLite and PostgreSQL. Records are stored as
// JSON documents next to the columns they are keyed and ordered by.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS file_verdicts (
		file_id      TEXT NOT NULL,
		scan_pass_id TEXT NOT NULL,
		path         TEXT NOT NULL,
		action       TEXT NOT NULL,
		risk_score   INTEGER NOT NULL,
		decided_at   TEXT NOT NULL,
		doc          TEXT NOT NULL,
		PRIMARY KEY (file_id, scan_pass_id)
	)`,
	`CREATE INDEX IF NOT EXISTS file_verdicts_pass ON file_verdicts (scan_pass_id)`,
	`CREATE TABLE IF NOT EXISTS alert_events (
		subject TEXT NOT NULL,
		ts      TEXT NOT NULL,
		kind    TEXT NOT NULL,
		doc     TEXT NOT NULL,
		PRIMARY KEY (subject, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS batch_verdicts (
		batch_id     TEXT PRIMARY KEY,
		scan_pass_id TEXT NOT NULL,
		worst_action TEXT NOT NULL,
		doc          TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS backups (
		name       TEXT PRIMARY KEY,
		status     TEXT NOT NULL,
		created_at TEXT NOT NULL,
		doc        TEXT NOT NULL
	)`,
}
