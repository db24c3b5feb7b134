package audit

const (
	tableSchema = `
		CREATE TABLE IF NOT EXISTS ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL UNIQUE,
			received_at TEXT NOT NULL,
			source TEXT NOT NULL,
			source_label TEXT NOT NULL,
			raw_text TEXT NOT NULL,
			model_output TEXT NOT NULL,
			command TEXT NOT NULL,
			ambiguous INTEGER NOT NULL DEFAULT 0,
			classification TEXT NOT NULL,
			matched_rule TEXT NOT NULL,
			flags TEXT NOT NULL,
			mode TEXT NOT NULL,
			action TEXT NOT NULL CHECK(action IN ('execute', 'simulate', 'skip_logged', 'rejected')),
			approved_by TEXT NOT NULL,
			reason TEXT NOT NULL,
			decided_at TEXT NOT NULL,
			exit_code INTEGER,
			stdout TEXT NOT NULL DEFAULT '',
			stderr TEXT NOT NULL DEFAULT '',
			started_at TEXT,
			finished_at TEXT,
			timed_out INTEGER NOT NULL DEFAULT 0,
			truncated INTEGER NOT NULL DEFAULT 0,
			outcome_state TEXT NOT NULL CHECK(outcome_state IN ('unknown', 'succeeded', 'failed', 'timed_out', 'simulated', 'not_run'))
		)`

	// The only legal update is the one-time result attach: the row must
	// still be awaiting its outcome, the new outcome must be terminal,
	// and every column written at append time must be untouched.
	triggerPreventRewrite = `
		CREATE TRIGGER IF NOT EXISTS prevent_rewrite
		BEFORE UPDATE ON ledger
		FOR EACH ROW
		WHEN OLD.outcome_state IS NOT 'unknown'
			OR NEW.outcome_state NOT IN ('succeeded', 'failed', 'timed_out')
			OR NEW.request_id IS NOT OLD.request_id
			OR NEW.received_at IS NOT OLD.received_at
			OR NEW.source IS NOT OLD.source
			OR NEW.source_label IS NOT OLD.source_label
			OR NEW.raw_text IS NOT OLD.raw_text
			OR NEW.model_output IS NOT OLD.model_output
			OR NEW.command IS NOT OLD.command
			OR NEW.ambiguous IS NOT OLD.ambiguous
			OR NEW.classification IS NOT OLD.classification
			OR NEW.matched_rule IS NOT OLD.matched_rule
			OR NEW.flags IS NOT OLD.flags
			OR NEW.mode IS NOT OLD.mode
			OR NEW.action IS NOT OLD.action
			OR NEW.approved_by IS NOT OLD.approved_by
			OR NEW.reason IS NOT OLD.reason
			OR NEW.decided_at IS NOT OLD.decided_at
		BEGIN
			SELECT RAISE(FAIL, 'Ledger rows are append-only');
		END`

	triggerPreventDelete = `
		CREATE TRIGGER IF NOT EXISTS prevent_delete
		BEFORE DELETE ON ledger
		FOR EACH ROW
		BEGIN
			SELECT RAISE(FAIL, 'Deletes not allowed on ledger');
		END`

	indexDecidedAt = `
		CREATE INDEX IF NOT EXISTS idx_decided_at ON ledger(decided_at DESC)`

	indexAction = `
		CREATE INDEX IF NOT EXISTS idx_action ON ledger(action)`
)

func schemaStatements() []string {
	return []string{
		tableSchema,
		triggerPreventRewrite,
		triggerPreventDelete,
		indexDecidedAt,
		indexAction,
	}
}
