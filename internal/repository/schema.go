package repository

// Schema is the idempotent DDL applied at startup, in order.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS tickets (
		id                TEXT PRIMARY KEY,
		feedback_id       TEXT NOT NULL,
		domain_id         TEXT NOT NULL,
		title             TEXT NOT NULL,
		category          TEXT NOT NULL DEFAULT '',
		question          TEXT NOT NULL,
		original_response TEXT NOT NULL DEFAULT '',
		reviewer_notes    TEXT NOT NULL DEFAULT '',
		priority          TEXT NOT NULL,
		status            TEXT NOT NULL,
		version           INTEGER NOT NULL DEFAULT 1,
		proposal          TEXT,
		impact            TEXT,
		assignment        TEXT,
		approvals         TEXT,
		implementation    TEXT,
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_domain_status ON tickets (domain_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_created_at ON tickets (created_at)`,

	`CREATE TABLE IF NOT EXISTS review_history (
		ticket_id       TEXT NOT NULL REFERENCES tickets (id),
		seq             INTEGER NOT NULL,
		from_status     TEXT NOT NULL,
		to_status       TEXT NOT NULL,
		changed_by      TEXT NOT NULL,
		changed_by_role TEXT NOT NULL,
		changed_at      TEXT NOT NULL,
		notes           TEXT NOT NULL DEFAULT '',
		automated       INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (ticket_id, seq)
	)`,
	`CREATE TRIGGER IF NOT EXISTS review_history_no_update
		BEFORE UPDATE ON review_history
		BEGIN SELECT RAISE(ABORT, 'review history is append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS review_history_no_delete
		BEFORE DELETE ON review_history
		BEGIN SELECT RAISE(ABORT, 'review history is append-only'); END`,

	`CREATE TABLE IF NOT EXISTS audit_entries (
		seq            INTEGER PRIMARY KEY,
		id             TEXT NOT NULL UNIQUE,
		recorded_at    TEXT NOT NULL,
		subject_type   TEXT NOT NULL,
		subject_id     TEXT NOT NULL,
		subject_domain TEXT NOT NULL DEFAULT '',
		action_type    TEXT NOT NULL,
		body           TEXT NOT NULL,
		prev_hash      TEXT NOT NULL,
		hash           TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_entries (subject_type, subject_id, seq)`,
	`CREATE TRIGGER IF NOT EXISTS audit_entries_no_update
		BEFORE UPDATE ON audit_entries
		BEGIN SELECT RAISE(ABORT, 'audit entries are append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS audit_entries_no_delete
		BEFORE DELETE ON audit_entries
		BEGIN SELECT RAISE(ABORT, 'audit entries are append-only'); END`,

	`CREATE TABLE IF NOT EXISTS specialists (
		id                  TEXT PRIMARY KEY,
		domain_id           TEXT NOT NULL,
		name                TEXT NOT NULL,
		email               TEXT NOT NULL DEFAULT '',
		specialty           TEXT NOT NULL DEFAULT '',
		domains             TEXT NOT NULL DEFAULT '[]',
		max_assignments     INTEGER NOT NULL DEFAULT 0,
		current_assignments INTEGER NOT NULL DEFAULT 0 CHECK (current_assignments >= 0)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_specialists_domain ON specialists (domain_id)`,

	`CREATE TABLE IF NOT EXISTS specialist_assignments (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		specialist_id TEXT NOT NULL REFERENCES specialists (id),
		ticket_id     TEXT NOT NULL,
		assigned_at   TEXT NOT NULL,
		completed_at  TEXT,
		outcome       TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assignments_specialist ON specialist_assignments (specialist_id, completed_at)`,

	`CREATE TABLE IF NOT EXISTS agents (
		id                TEXT PRIMARY KEY,
		domain_id         TEXT NOT NULL,
		name              TEXT NOT NULL DEFAULT '',
		knowledge_sources TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_domain ON agents (domain_id)`,

	`CREATE TABLE IF NOT EXISTS interactions (
		id         TEXT PRIMARY KEY,
		domain_id  TEXT NOT NULL,
		user_id    TEXT NOT NULL DEFAULT '',
		agent_id   TEXT NOT NULL DEFAULT '',
		question   TEXT NOT NULL,
		rating     REAL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_interactions_domain_created ON interactions (domain_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS feedback (
		id            TEXT PRIMARY KEY,
		domain_id     TEXT NOT NULL,
		csat          REAL CHECK (csat IS NULL OR (csat >= 1 AND csat <= 5)),
		nps           INTEGER CHECK (nps IS NULL OR (nps >= 0 AND nps <= 10)),
		expert_rating TEXT CHECK (expert_rating IS NULL OR expert_rating IN ('unacceptable', 'acceptable', 'outstanding')),
		resolved      INTEGER,
		accurate      INTEGER,
		created_at    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_feedback_domain_created ON feedback (domain_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS org_strategies (
		domain_id  TEXT PRIMARY KEY,
		mission    TEXT NOT NULL DEFAULT '',
		objectives TEXT NOT NULL DEFAULT '[]',
		kpis       TEXT NOT NULL DEFAULT '[]'
	)`,

	`CREATE TABLE IF NOT EXISTS quality_snapshots (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		domain_id      TEXT NOT NULL,
		period_start   TEXT NOT NULL,
		period_end     TEXT NOT NULL,
		csat_score     REAL NOT NULL,
		nps_score      REAL NOT NULL,
		expert_score   REAL NOT NULL,
		resolution     REAL NOT NULL,
		accuracy       REAL NOT NULL,
		dqs            REAL NOT NULL,
		trend          TEXT NOT NULL,
		previous_dqs   REAL,
		change         REAL NOT NULL DEFAULT 0,
		band           TEXT NOT NULL,
		policy_version TEXT NOT NULL,
		defaulted      TEXT NOT NULL DEFAULT '[]',
		computed_at    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_domain ON quality_snapshots (domain_id, computed_at)`,
}
