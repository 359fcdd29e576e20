package db

import (
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// Migrate creates or updates the database schema
func (db *DB) Migrate() error {
	migrations := []string{
		// User database connection descriptors. Credentials stay in the
		// browser; the server only stores what it needs to label and
		// describe a connection.
		`CREATE TABLE IF NOT EXISTS connections (
			id VARCHAR PRIMARY KEY,
			user_id VARCHAR NOT NULL,
			name VARCHAR NOT NULL,
			driver VARCHAR NOT NULL,
			host VARCHAR,
			port INTEGER,
			database_name VARCHAR,
			username VARCHAR,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// Chat transcript per chat session, the source of the bounded
		// history window interpolated into planning prompts.
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id VARCHAR PRIMARY KEY,
			chat_session_id VARCHAR NOT NULL,
			role VARCHAR NOT NULL,
			content VARCHAR NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_session
			ON chat_messages(chat_session_id, created_at)`,

		// Schema metadata pushed by the browser after it introspects the
		// user's database. Rendered into the schema-context string.
		`CREATE TABLE IF NOT EXISTS schema_tables (
			connection_id VARCHAR NOT NULL,
			schema_name VARCHAR NOT NULL,
			table_name VARCHAR NOT NULL,
			columns VARCHAR NOT NULL,
			cached_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (connection_id, schema_name, table_name)
		)`,
	}

	for _, migration := range migrations {
		if _, err := db.conn.Exec(migration); err != nil {
			return serr.Wrap(err, "migration failed", "sql", migration)
		}
	}

	logger.Info("Database migrations complete")
	return nil
}
