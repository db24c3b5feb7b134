package audit

const (
	queryInsertRecord = `
		INSERT INTO ledger (
			request_id, received_at, source, source_label, raw_text,
			model_output, command, ambiguous, classification, matched_rule,
			flags, mode, action, approved_by, reason, decided_at,
			exit_code, stdout, stderr, started_at, finished_at,
			timed_out, truncated, outcome_state
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryAttachResult = `
		UPDATE ledger
		SET exit_code = ?, stdout = ?, stderr = ?, started_at = ?,
			finished_at = ?, timed_out = ?, truncated = ?, outcome_state = ?
		WHERE request_id = ? AND outcome_state = 'unknown'`

	querySelectRecord = `
		SELECT request_id, received_at, source, source_label, raw_text,
			model_output, command, ambiguous, classification, matched_rule,
			flags, mode, action, approved_by, reason, decided_at,
			exit_code, stdout, stderr, started_at, finished_at,
			timed_out, truncated, outcome_state
		FROM ledger`

	queryByRequest = querySelectRecord + `
		WHERE request_id = ?`

	queryRecent = querySelectRecord + `
		ORDER BY id DESC LIMIT ?`

	queryStats = `
		SELECT COUNT(*),
			COUNT(CASE WHEN action = 'execute' THEN 1 END),
			COUNT(CASE WHEN action = 'simulate' THEN 1 END),
			COUNT(CASE WHEN action = 'skip_logged' THEN 1 END),
			COUNT(CASE WHEN action = 'rejected' THEN 1 END),
			COUNT(CASE WHEN outcome_state = 'succeeded' THEN 1 END),
			COUNT(CASE WHEN outcome_state = 'failed' THEN 1 END),
			COUNT(CASE WHEN outcome_state = 'timed_out' THEN 1 END),
			COUNT(CASE WHEN outcome_state = 'unknown' THEN 1 END)
		FROM ledger`

	// Fixed-width nanoseconds keep stored timestamps lexicographically
	// ordered, so range filters compare strings directly.
	timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

	defaultFilterLimit = 100
)
