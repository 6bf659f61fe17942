package store

// schema is kept to the subset of DDL that sqlite and postgres both accept.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            email TEXT NOT NULL,
            name TEXT NOT NULL DEFAULT '',
            role TEXT NOT NULL,
            created_at BIGINT NOT NULL,
            last_seen_at BIGINT NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS inbox_state (
            inbox_id TEXT PRIMARY KEY,
            sync_cursor TEXT NOT NULL DEFAULT '',
            last_synced_at BIGINT NOT NULL DEFAULT 0,
            last_status TEXT NOT NULL DEFAULT '',
            last_error TEXT NOT NULL DEFAULT '',
            updated_at BIGINT NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS threads (
            id TEXT PRIMARY KEY,
            inbox_id TEXT NOT NULL,
            user_id TEXT NOT NULL DEFAULT '',
            booking_id TEXT NOT NULL DEFAULT '',
            subject TEXT NOT NULL DEFAULT '',
            counterpart TEXT NOT NULL,
            last_message_at BIGINT NOT NULL,
            created_at BIGINT NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            inbox_id TEXT NOT NULL,
            thread_id TEXT NOT NULL,
            external_id TEXT NOT NULL,
            rfc_message_id TEXT NOT NULL DEFAULT '',
            in_reply_to TEXT NOT NULL DEFAULT '',
            reference_ids TEXT NOT NULL DEFAULT '',
            direction TEXT NOT NULL,
            from_email TEXT NOT NULL,
            to_email TEXT NOT NULL DEFAULT '',
            subject TEXT NOT NULL DEFAULT '',
            body TEXT NOT NULL DEFAULT '',
            received_at BIGINT NOT NULL,
            created_at BIGINT NOT NULL,
            UNIQUE(inbox_id, external_id),
            FOREIGN KEY(thread_id) REFERENCES threads(id) ON DELETE CASCADE
        );`,
	`CREATE TABLE IF NOT EXISTS bookings (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL DEFAULT '',
            name TEXT NOT NULL,
            email TEXT NOT NULL,
            phone TEXT NOT NULL DEFAULT '',
            venue TEXT NOT NULL DEFAULT '',
            event_type TEXT NOT NULL DEFAULT '',
            event_date TEXT NOT NULL,
            start_time TEXT NOT NULL DEFAULT '',
            duration_minutes INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL,
            notes TEXT NOT NULL DEFAULT '',
            created_at BIGINT NOT NULL,
            updated_at BIGINT NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS spool (
            id TEXT PRIMARY KEY,
            inbox_address TEXT NOT NULL,
            envelope_from TEXT NOT NULL,
            raw TEXT NOT NULL,
            received_at BIGINT NOT NULL
        );`,
	`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);`,
	`CREATE INDEX IF NOT EXISTS idx_threads_counterpart ON threads(inbox_id, counterpart, user_id);`,
	`CREATE INDEX IF NOT EXISTS idx_threads_last_message ON threads(last_message_at);`,
	`CREATE INDEX IF NOT EXISTS idx_threads_user ON threads(user_id);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_rfc ON messages(inbox_id, rfc_message_id);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, received_at);`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_email ON bookings(email);`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings(user_id);`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status);`,
	`CREATE INDEX IF NOT EXISTS idx_spool_address ON spool(inbox_address, received_at);`,
}
