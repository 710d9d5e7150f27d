package postgres

// SQL statements for the ledger tables. Row locks (FOR UPDATE) serialize
// same-account transactions; version predicates on the UPDATE statements
// close the remaining check-then-act window.

const (
	queryGetToken = `
		SELECT id, account_id, created_at, expires_at, used, version
		FROM redeem_tokens
		WHERE id = $1
	`

	queryGetTokenForUpdate = queryGetToken + ` FOR UPDATE`

	// queryLiveToken finds the account's current valid token. Expiry is
	// evaluated against the caller-supplied instant, never swept.
	queryLiveToken = `
		SELECT id, account_id, created_at, expires_at, used, version
		FROM redeem_tokens
		WHERE account_id = $1 AND NOT used AND expires_at > $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	queryLiveTokenForUpdate = queryLiveToken + ` FOR UPDATE`

	queryInsertToken = `
		INSERT INTO redeem_tokens (id, account_id, created_at, expires_at, used, version)
		VALUES ($1, $2, $3, $4, $5, 1)
	`

	queryUpdateToken = `
		UPDATE redeem_tokens
		SET used = $2, expires_at = $3, version = version + 1
		WHERE id = $1 AND version = $4
	`

	queryGetAccount = `
		SELECT id, zone, balance, lifetime_weight, lifetime_events, tier,
		       last_activity_at, version
		FROM accounts
		WHERE id = $1
	`

	queryGetAccountForUpdate = queryGetAccount + ` FOR UPDATE`

	queryInsertAccount = `
		INSERT INTO accounts (
			id, zone, balance, lifetime_weight, lifetime_events, tier,
			last_activity_at, version, updated_seq
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, nextval('account_updated_seq'))
		ON CONFLICT (id) DO NOTHING
	`

	queryUpdateAccount = `
		UPDATE accounts
		SET zone = $2, balance = $3, lifetime_weight = $4,
		    lifetime_events = $5, tier = $6, last_activity_at = $7,
		    version = version + 1, updated_seq = nextval('account_updated_seq')
		WHERE id = $1 AND version = $8
	`

	// queryBumpAccountVersion claims the account's token-validity slot when
	// a new token is inserted, so concurrent issuance conflicts.
	queryBumpAccountVersion = `
		UPDATE accounts
		SET version = version + 1, updated_seq = nextval('account_updated_seq')
		WHERE id = $1
	`

	// queryLockEventAppend takes the event-append advisory lock, held until
	// the transaction commits. Sequences assigned under the lock become
	// visible in assignment order, so a feed poll can never observe a higher
	// ingest_seq while a lower one is still uncommitted and then advance the
	// cursor past the gap.
	queryLockEventAppend = `SELECT pg_advisory_xact_lock($1)`

	// queryAppendEvent inserts one immutable collection event.
	// RETURNING retrieves the auto-generated ingest_seq; the unique index
	// on token_id enforces at most one event per token.
	queryAppendEvent = `
		INSERT INTO collection_events (
			id, account_id, category, weight, points, occurred_at,
			token_id, geo_lat, geo_lng, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ingest_seq
	`

	queryEventsSince = `
		SELECT id, account_id, category, weight, points, occurred_at,
		       token_id, geo_lat, geo_lng, status, ingest_seq
		FROM collection_events
		WHERE occurred_at >= $1
		ORDER BY ingest_seq ASC
	`

	queryMaxIngestSeq = `
		SELECT COALESCE(MAX(ingest_seq), 0) FROM collection_events
	`

	// queryEventsAfterCursor drives the change feed: events after a cursor
	// in strict commit order, so per-account ordering is preserved.
	queryEventsAfterCursor = `
		SELECT id, account_id, category, weight, points, occurred_at,
		       token_id, geo_lat, geo_lng, status, ingest_seq
		FROM collection_events
		WHERE ingest_seq > $1
		ORDER BY ingest_seq ASC
		LIMIT $2
	`

	queryAccountsAfterCursor = `
		SELECT id, zone, balance, lifetime_weight, lifetime_events, tier,
		       last_activity_at, version, updated_seq
		FROM accounts
		WHERE updated_seq > $1
		ORDER BY updated_seq ASC
		LIMIT $2
	`
)
